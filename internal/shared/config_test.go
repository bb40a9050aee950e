package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./tidewatch.db" {
			t.Errorf("expected database path ./tidewatch.db, got %s", config.Database.Path)
		}

		if config.Tidal.BaseURL != "https://api.tidal.com/v1" {
			t.Errorf("expected tidal base URL https://api.tidal.com/v1, got %s", config.Tidal.BaseURL)
		}

		if config.Downloader.Command != "tidal-dl-ng" {
			t.Errorf("expected downloader command tidal-dl-ng, got %s", config.Downloader.Command)
		}

		if config.Downloader.Quality != "hi_res" {
			t.Errorf("expected default quality hi_res, got %s", config.Downloader.Quality)
		}

		if config.Scheduler.IntervalMinutes != 30 {
			t.Errorf("expected check interval 30 minutes, got %d", config.Scheduler.IntervalMinutes)
		}

		if !config.Scheduler.InitialCheck {
			t.Error("expected initial_check enabled by default")
		}

		if !config.Notifications.OnNewTracks {
			t.Error("expected on_new_tracks enabled by default")
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		defaultConfig := DefaultConfig()
		if config.Database.Path != defaultConfig.Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("creating config file again should fail with ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[database]
path = "/custom/path.db"
max_open_conns = 20
max_idle_conns = 10

[tidal]
base_url = "https://api.example.com/v1"
token_path = "/custom/token.json"
country_code = "DE"

[downloader]
command = "custom-dl"
max_retries = 5
retry_delay_seconds = 30
max_retry_delay_seconds = 600

[scheduler]
check_interval_minutes = 10
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}

		if config.Tidal.CountryCode != "DE" {
			t.Errorf("expected country code DE, got %s", config.Tidal.CountryCode)
		}

		if config.Downloader.MaxRetries != 5 {
			t.Errorf("expected max_retries 5, got %d", config.Downloader.MaxRetries)
		}

		// unset values fall back to defaults via normalize
		if config.Tidal.PageSize != 100 {
			t.Errorf("expected default page size 100, got %d", config.Tidal.PageSize)
		}

		if config.Downloader.MaxErrorLength != 500 {
			t.Errorf("expected default max_error_length 500, got %d", config.Downloader.MaxErrorLength)
		}

		if config.Downloader.Quality != "hi_res" {
			t.Errorf("expected unset quality to default to hi_res, got %s", config.Downloader.Quality)
		}
	})

	t.Run("LoadConfigMissingFile", func(t *testing.T) {
		if _, err := LoadConfig("/nonexistent/config.toml"); err == nil {
			t.Error("loading missing config should fail")
		}
	})

	t.Run("Validate", func(t *testing.T) {
		cases := []struct {
			name   string
			mutate func(*Config)
		}{
			{"zero interval", func(c *Config) { c.Scheduler.IntervalMinutes = 0 }},
			{"negative retries", func(c *Config) { c.Downloader.MaxRetries = -1 }},
			{"excessive retries", func(c *Config) { c.Downloader.MaxRetries = 11 }},
			{"zero retry delay", func(c *Config) { c.Downloader.RetryDelay = 0 }},
			{"cap below base", func(c *Config) {
				c.Downloader.RetryDelay = 120
				c.Downloader.MaxRetryDelay = 60
			}},
			{"unknown quality", func(c *Config) { c.Downloader.Quality = "ultra" }},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				config := DefaultConfig()
				tc.mutate(config)
				err := config.Validate()
				if err == nil {
					t.Fatal("expected validation error")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
			})
		}

		if err := DefaultConfig().Validate(); err != nil {
			t.Errorf("default config should validate: %v", err)
		}
	})

	t.Run("Durations", func(t *testing.T) {
		config := DefaultConfig()

		if got := config.Scheduler.Interval(); got != 30*time.Minute {
			t.Errorf("expected 30m interval, got %v", got)
		}

		if got := config.Downloader.TimeoutDuration(); got != 10*time.Minute {
			t.Errorf("expected 10m download timeout, got %v", got)
		}

		config.Scheduler.ShutdownGrace = 0
		if got := config.Scheduler.ShutdownGraceDuration(); got != 30*time.Second {
			t.Errorf("expected 30s default grace, got %v", got)
		}

		config.Scheduler.StaleAfterMin = 0
		if got := config.Scheduler.StaleAfter(); got != 30*time.Minute {
			t.Errorf("expected 30m default stale cutoff, got %v", got)
		}
	})
}
