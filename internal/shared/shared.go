// package shared defines shared helpers
package shared

import (
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/mozillazg/go-unidecode"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a new [log.Logger] instance with the specified [io.Writer], with timestamps and caller reporting enabled.
//
// The writer defaults to [os.Stderr]
func NewLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := log.Options{ReportTimestamp: true, ReportCaller: true}
	return log.NewWithOptions(w, opts)
}

// NewFileLogger returns a logger writing to stderr and, when cfg.File is set, to a size-rotated file.
//
// The returned closer releases the file and is a no-op otherwise.
func NewFileLogger(cfg LoggingConfig) (*log.Logger, io.Closer) {
	if cfg.File == "" {
		logger := NewLogger(nil)
		SetLogLevel(logger, ParseLogLevel(cfg.Level))
		return logger, nopCloser{}
	}

	rotating := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}

	logger := NewLogger(io.MultiWriter(os.Stderr, rotating))
	SetLogLevel(logger, ParseLogLevel(cfg.Level))
	return logger, rotating
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// WithLogger creates a child [log.Logger] with the specified key-value pairs added to all log entries.
func WithLogger(l *log.Logger, kv ...any) *log.Logger {
	return l.With(kv...)
}

// SetLogLevel sets the [log.Level] for the given [log.Logger].
func SetLogLevel(l *log.Logger, ll log.Level) {
	l.SetLevel(ll)
}

// ParseLogLevel maps a config string to a [log.Level], defaulting to info.
func ParseLogLevel(level string) log.Level {
	parsed, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return log.InfoLevel
	}
	return parsed
}

// GenerateID generates a new v4 [uuid.UUID] as a string
func GenerateID() string {
	return uuid.New().String()
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeTitleKey folds a title to ASCII lowercase words joined by single dashes.
//
// "Amélie" and "amelie" produce the same key.
func NormalizeTitleKey(title string) string {
	folded := strings.ToLower(unidecode.Unidecode(title))
	return strings.Trim(nonAlnum.ReplaceAllString(folded, "-"), "-")
}
