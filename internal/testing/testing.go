// package testing contains shared testing utilities
package testing

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/lumarr/internal/models"
	"github.com/desertthunder/lumarr/internal/services"
)

// MockSource is a test double for [services.Source]
type MockSource struct {
	SourceName string
	Items      []models.WatchItem
	Partial    bool
	Err        error
	// FetchFunc replaces the canned response when set.
	FetchFunc func(ctx context.Context) (*services.FetchResult, error)

	mu    sync.Mutex
	calls int
}

func (m *MockSource) Name() string { return m.SourceName }

func (m *MockSource) Fetch(ctx context.Context, _ services.FetchOptions) (*services.FetchResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.FetchFunc != nil {
		return m.FetchFunc(ctx)
	}
	if m.Err != nil {
		return nil, m.Err
	}

	result := &services.FetchResult{Items: append([]models.WatchItem(nil), m.Items...), Partial: m.Partial}
	if m.Partial {
		result.Failures = []error{errors.New("page failed")}
	}
	return result, nil
}

// Calls returns how many times Fetch ran.
func (m *MockSource) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockTarget is a test double for [services.MovieTarget] and [services.SeriesTarget].
//
// It answers with Outcome unless Errs holds an error for the item key. Delay slows each call down,
// which widens race windows in concurrency tests.
type MockTarget struct {
	TargetName string
	Outcome    services.AddOutcome
	Errs       map[string]error
	Delay      time.Duration

	mu    sync.Mutex
	calls map[string]int
}

func (m *MockTarget) Name() string { return m.TargetName }

func (m *MockTarget) AddMovie(ctx context.Context, item models.WatchItem) (services.AddOutcome, error) {
	return m.add(item)
}

func (m *MockTarget) AddSeries(ctx context.Context, item models.WatchItem) (services.AddOutcome, error) {
	return m.add(item)
}

func (m *MockTarget) add(item models.WatchItem) (services.AddOutcome, error) {
	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[item.Key()]++

	if err, ok := m.Errs[item.Key()]; ok {
		return 0, err
	}
	return m.Outcome, nil
}

// CallsFor returns how many times key was sent to the target.
func (m *MockTarget) CallsFor(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[key]
}

// TotalCalls returns the number of target calls across all items.
func (m *MockTarget) TotalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		n += c
	}
	return n
}

// MockEnricher is a test double for [services.Enricher] that answers by title.
type MockEnricher struct {
	IDs map[string]models.ProviderIDs
	Err error

	mu    sync.Mutex
	calls int
}

func (m *MockEnricher) Enrich(ctx context.Context, item models.WatchItem) (models.ProviderIDs, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.Err != nil {
		return models.ProviderIDs{}, m.Err
	}
	return m.IDs[item.Title], nil
}

// Calls returns how many lookups reached the enricher.
func (m *MockEnricher) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}
