package shared

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Database   DatabaseConfig   `toml:"database"`
	Logging    LoggingConfig    `toml:"logging"`
	Server     ServerConfig     `toml:"server"`
	Sync       SyncConfig       `toml:"sync"`
	Retry      RetryConfig      `toml:"retry"`
	Plex       PlexConfig       `toml:"plex"`
	Letterboxd LetterboxdConfig `toml:"letterboxd"`
	Trakt      TraktConfig      `toml:"trakt"`
	TMDB       TMDBConfig       `toml:"tmdb"`
	Radarr     RadarrConfig     `toml:"radarr"`
	Sonarr     SonarrConfig     `toml:"sonarr"`
}

// Duration is a [time.Duration] that decodes from strings such as "30s" or "168h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: bad duration %q", ErrInvalidConfig, text)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// LoggingConfig controls log level and optional rotating file output.
type LoggingConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSize    int    `toml:"max_size"`
	MaxBackups int    `toml:"max_backups"`
	MaxAge     int    `toml:"max_age"`
	Compress   bool   `toml:"compress"`
}

// ServerConfig contains status server settings used in follow mode.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SyncConfig holds the engine knobs shared by every source.
type SyncConfig struct {
	DryRun         bool     `toml:"dry_run"`
	ForceRefresh   bool     `toml:"force_refresh"`
	IgnoreExisting bool     `toml:"ignore_existing"`
	MinRating      float64  `toml:"min_rating"`
	Concurrency    int      `toml:"concurrency"`
	MaxRejections  int      `toml:"max_rejections"`
	CacheTTL       Duration `toml:"cache_ttl"`
}

// RetryConfig is the on-disk form of [RetryPolicy].
type RetryConfig struct {
	MaxAttempts int      `toml:"max_attempts"`
	BaseDelay   Duration `toml:"base_delay"`
	MaxDelay    Duration `toml:"max_delay"`
	MaxJitter   Duration `toml:"max_jitter"`
}

// Policy converts the config into a [RetryPolicy], falling back to [DefaultRetryPolicy] when unset.
func (r RetryConfig) Policy() RetryPolicy {
	if r.MaxAttempts <= 0 {
		return DefaultRetryPolicy()
	}
	return RetryPolicy{
		MaxAttempts: uint(r.MaxAttempts),
		BaseDelay:   r.BaseDelay.Duration,
		MaxDelay:    r.MaxDelay.Duration,
		MaxJitter:   r.MaxJitter.Duration,
	}
}

// PlexConfig selects between the watchlist API and the RSS feed.
type PlexConfig struct {
	Enabled     bool     `toml:"enabled"`
	Token       string   `toml:"token"`
	ClientID    string   `toml:"client_id"`
	RSSID       string   `toml:"rss_id"`
	BaseURL     string   `toml:"base_url"`
	RSSURL      string   `toml:"rss_url"`
	PageSize    int      `toml:"page_size"`
	MaxPages    int      `toml:"max_pages"`
	Interval    Duration `toml:"interval"`
	CacheMaxAge Duration `toml:"cache_max_age"`
}

// UsesRSS reports whether the RSS variant should be used.
func (p PlexConfig) UsesRSS() bool {
	return p.RSSID != ""
}

// LetterboxdConfig covers both the diary feed and the watchlist scrape.
type LetterboxdConfig struct {
	Enabled   bool     `toml:"enabled"`
	Usernames []string `toml:"usernames"`
	Feed      bool     `toml:"feed"`
	Watchlist bool     `toml:"watchlist"`
	BaseURL   string   `toml:"base_url"`
	MaxPages  int      `toml:"max_pages"`
	PageDelay Duration `toml:"page_delay"`
	Interval  Duration `toml:"interval"`
}

// TraktConfig holds a pre-authorised bearer token for the watchlist endpoint.
type TraktConfig struct {
	Enabled     bool     `toml:"enabled"`
	ClientID    string   `toml:"client_id"`
	AccessToken string   `toml:"access_token"`
	BaseURL     string   `toml:"base_url"`
	Interval    Duration `toml:"interval"`
}

// TMDBConfig enables identifier enrichment when APIKey is set.
type TMDBConfig struct {
	APIKey     string   `toml:"api_key"`
	BaseURL    string   `toml:"base_url"`
	IDCacheTTL Duration `toml:"id_cache_ttl"`
}

// RadarrConfig describes the movie target.
type RadarrConfig struct {
	Enabled          bool    `toml:"enabled"`
	URL              string  `toml:"url"`
	APIKey           string  `toml:"api_key"`
	QualityProfileID int     `toml:"quality_profile_id"`
	RootFolderPath   string  `toml:"root_folder_path"`
	Monitored        bool    `toml:"monitored"`
	SearchOnAdd      bool    `toml:"search_on_add"`
	RateLimit        float64 `toml:"rate_limit"`
}

// SonarrConfig describes the series target.
type SonarrConfig struct {
	Enabled          bool    `toml:"enabled"`
	URL              string  `toml:"url"`
	APIKey           string  `toml:"api_key"`
	QualityProfileID int     `toml:"quality_profile_id"`
	RootFolderPath   string  `toml:"root_folder_path"`
	Monitored        bool    `toml:"monitored"`
	SearchOnAdd      bool    `toml:"search_on_add"`
	Monitor          string  `toml:"monitor"`
	SeriesType       string  `toml:"series_type"`
	SeasonFolder     bool    `toml:"season_folder"`
	RateLimit        float64 `toml:"rate_limit"`
}

// LoadConfig reads a TOML configuration file and decodes it over [DefaultConfig],
// so keys missing from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if _, err := toml.Decode(string(data), config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge applies non-zero fields of overrides on top of c.
//
// Used for command line flags, which can switch behaviour on but not off.
func (c *Config) Merge(overrides Config) error {
	if err := mergo.Merge(c, overrides, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge config overrides: %w", err)
	}
	return nil
}

// PlexActive reports whether the Plex source has enough configuration to run.
func (c *Config) PlexActive() bool {
	return c.Plex.Enabled && (c.Plex.Token != "" || c.Plex.RSSID != "")
}

// LetterboxdActive reports whether the Letterboxd source has enough configuration to run.
func (c *Config) LetterboxdActive() bool {
	return c.Letterboxd.Enabled && len(c.Letterboxd.Usernames) > 0 && (c.Letterboxd.Feed || c.Letterboxd.Watchlist)
}

// TraktActive reports whether the Trakt source has enough configuration to run.
func (c *Config) TraktActive() bool {
	return c.Trakt.Enabled && c.Trakt.ClientID != "" && c.Trakt.AccessToken != ""
}

// Validate checks the settings a sync needs. All problems are reported together.
func (c *Config) Validate() error {
	var problems []string

	if !c.PlexActive() && !c.LetterboxdActive() && !c.TraktActive() {
		problems = append(problems, "no source is enabled and configured")
	}
	if !c.Radarr.Enabled && !c.Sonarr.Enabled {
		problems = append(problems, "neither radarr nor sonarr is enabled")
	}

	if c.Radarr.Enabled {
		problems = append(problems, checkTarget("radarr", c.Radarr.URL, c.Radarr.APIKey, c.Radarr.QualityProfileID, c.Radarr.RootFolderPath)...)
	}
	if c.Sonarr.Enabled {
		problems = append(problems, checkTarget("sonarr", c.Sonarr.URL, c.Sonarr.APIKey, c.Sonarr.QualityProfileID, c.Sonarr.RootFolderPath)...)
		switch c.Sonarr.Monitor {
		case "all", "future", "missing", "existing", "none":
		default:
			problems = append(problems, fmt.Sprintf("sonarr.monitor %q is not one of all, future, missing, existing, none", c.Sonarr.Monitor))
		}
	}

	if c.PlexActive() && c.Plex.Interval.Duration <= 0 {
		problems = append(problems, "plex.interval must be positive")
	}
	if c.LetterboxdActive() && c.Letterboxd.Interval.Duration <= 0 {
		problems = append(problems, "letterboxd.interval must be positive")
	}
	if c.TraktActive() && c.Trakt.Interval.Duration <= 0 {
		problems = append(problems, "trakt.interval must be positive")
	}
	if c.Sync.Concurrency < 1 {
		problems = append(problems, "sync.concurrency must be at least 1")
	}
	if c.Sync.MinRating < 0 || c.Sync.MinRating > 5 {
		problems = append(problems, "sync.min_rating must be between 0 and 5")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

func checkTarget(name, url, key string, profile int, root string) []string {
	var problems []string
	if url == "" {
		problems = append(problems, name+".url is required")
	}
	if key == "" {
		problems = append(problems, name+".api_key is required")
	}
	if profile <= 0 {
		problems = append(problems, name+".quality_profile_id is required")
	}
	if root == "" {
		problems = append(problems, name+".root_folder_path is required")
	}
	return problems
}
