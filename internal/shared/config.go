package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Database      DatabaseConfig      `toml:"database"`
	Tidal         TidalConfig         `toml:"tidal"`
	Downloader    DownloaderConfig    `toml:"downloader"`
	Scheduler     SchedulerConfig     `toml:"scheduler"`
	Notifications NotificationsConfig `toml:"notifications"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// TidalConfig contains TIDAL API settings.
//
// The token file is produced externally (e.g. by tidal-dl-ng login);
// obtaining credentials is out of scope here.
type TidalConfig struct {
	BaseURL      string `toml:"base_url"`
	TokenPath    string `toml:"token_path"`
	CountryCode  string `toml:"country_code"`
	PageSize     int    `toml:"page_size"`
	FetchTimeout int    `toml:"fetch_timeout_seconds"`
}

// DownloaderConfig contains settings for the external download tool.
type DownloaderConfig struct {
	Command        string `toml:"command"`
	Quality        string `toml:"quality"`
	MaxRetries     int    `toml:"max_retries"`
	RetryDelay     int    `toml:"retry_delay_seconds"`
	MaxRetryDelay  int    `toml:"max_retry_delay_seconds"`
	DownloadDelay  int    `toml:"delay_between_downloads_seconds"`
	Timeout        int    `toml:"timeout_seconds"`
	MaxErrorLength int    `toml:"max_error_length"`
}

// SchedulerConfig contains check-cycle scheduling settings.
type SchedulerConfig struct {
	IntervalMinutes int  `toml:"check_interval_minutes"`
	ShutdownGrace   int  `toml:"shutdown_grace_seconds"`
	StaleAfterMin   int  `toml:"stale_in_progress_minutes"`
	InitialCheck    bool `toml:"initial_check"`
}

// NotificationsConfig toggles notification delivery per event kind.
type NotificationsConfig struct {
	Enabled            bool   `toml:"enabled"`
	WebhookURL         string `toml:"webhook_url"`
	OnNewTracks        bool   `toml:"on_new_tracks"`
	OnDownloadComplete bool   `toml:"on_download_complete"`
	OnError            bool   `toml:"on_error"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	config.normalize()
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	// Check if file already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: config file already exists at %s", ErrInvalidConfig, path)
	}

	// Write the embedded example config to the file
	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects settings that would make retry or scheduling behavior nonsensical.
func (c *Config) Validate() error {
	if c.Scheduler.IntervalMinutes < 1 {
		return fmt.Errorf("%w: check_interval_minutes must be >= 1", ErrInvalidConfig)
	}
	if c.Downloader.MaxRetries < 0 || c.Downloader.MaxRetries > 10 {
		return fmt.Errorf("%w: max_retries must be between 0 and 10", ErrInvalidConfig)
	}
	if c.Downloader.RetryDelay < 1 {
		return fmt.Errorf("%w: retry_delay_seconds must be >= 1", ErrInvalidConfig)
	}
	if c.Downloader.MaxRetryDelay < c.Downloader.RetryDelay {
		return fmt.Errorf("%w: max_retry_delay_seconds must be >= retry_delay_seconds", ErrInvalidConfig)
	}
	switch c.Downloader.Quality {
	case "low_96k", "low_320k", "high_lossless", "hi_res", "hi_res_lossless":
	default:
		return fmt.Errorf("%w: quality must be one of low_96k, low_320k, high_lossless, hi_res, hi_res_lossless", ErrInvalidConfig)
	}
	return nil
}

// normalize resolves defaults that TOML's zero values cannot express.
func (c *Config) normalize() {
	if c.Tidal.PageSize <= 0 {
		c.Tidal.PageSize = 100
	}
	if c.Downloader.Quality == "" {
		c.Downloader.Quality = "hi_res"
	}
	if c.Downloader.MaxErrorLength <= 0 {
		c.Downloader.MaxErrorLength = 500
	}
}

// FetchTimeoutDuration returns the playlist fetch timeout as a [time.Duration].
func (c *TidalConfig) FetchTimeoutDuration() time.Duration {
	if c.FetchTimeout <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.FetchTimeout) * time.Second
}

// TimeoutDuration returns the per-track download timeout as a [time.Duration].
func (c *DownloaderConfig) TimeoutDuration() time.Duration {
	if c.Timeout <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Timeout) * time.Second
}

// Interval returns the check interval as a [time.Duration].
func (c *SchedulerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// ShutdownGraceDuration returns how long Stop waits for an in-flight cycle.
func (c *SchedulerConfig) ShutdownGraceDuration() time.Duration {
	if c.ShutdownGrace <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.ShutdownGrace) * time.Second
}

// StaleAfter returns the age past which an in_progress item is considered abandoned.
func (c *SchedulerConfig) StaleAfter() time.Duration {
	if c.StaleAfterMin <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.StaleAfterMin) * time.Minute
}
