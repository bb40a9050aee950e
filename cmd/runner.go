package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tidewatch/internal/repositories"
	"github.com/desertthunder/tidewatch/internal/services"
	"github.com/desertthunder/tidewatch/internal/shared"
	"github.com/desertthunder/tidewatch/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config     *shared.Config
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	monitor    *tasks.Monitor
}

// RunnerOpts contains configuration options for creating a Runner.
//
// Monitor is optional; when set it is used directly instead of building
// one from the config, which lets tests inject in-memory dependencies.
type RunnerOpts struct {
	Config     *shared.Config
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
	Monitor    *tasks.Monitor
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
		monitor:    opts.Monitor,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, playlistCommand, checkCommand, statusCommand, serveCommand, watchCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger replaces the runner's logger for subsequent operations.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// bootstrap opens the database and assembles the monitor from the config
// at configPath. The returned cleanup closes the database; it is a no-op
// when a pre-built monitor was injected.
func (r *Runner) bootstrap(configPath string) (*tasks.Monitor, func(), error) {
	if r.monitor != nil {
		return r.monitor, func() {}, nil
	}

	config, err := r.loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	source, err := services.NewTidalSource(config.Tidal, r.httpClient)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize TIDAL client (run tidal-dl-ng login first): %w", err)
	}

	executor := services.NewCommandExecutor(
		config.Downloader.Command,
		config.Downloader.Quality,
		config.Downloader.TimeoutDuration(),
		r.logger,
	)

	monitor := tasks.NewMonitor(tasks.MonitorOpts{
		Playlists: repositories.NewPlaylistRepository(db),
		Snapshots: repositories.NewSnapshotRepository(db),
		Downloads: repositories.NewDownloadRepository(db),
		Source:    source,
		Executor:  executor,
		Sink:      buildSink(config, r.httpClient, r.logger),
		Orchestrator: tasks.OrchestratorOpts{
			MaxRetries:     config.Downloader.MaxRetries,
			RetryDelay:     time.Duration(config.Downloader.RetryDelay) * time.Second,
			MaxRetryDelay:  time.Duration(config.Downloader.MaxRetryDelay) * time.Second,
			DownloadDelay:  time.Duration(config.Downloader.DownloadDelay) * time.Second,
			MaxErrorLength: config.Downloader.MaxErrorLength,
		},
		StaleAfter: config.Scheduler.StaleAfter(),
		Logger:     r.logger,
	})

	r.config = config
	return monitor, func() { db.Close() }, nil
}

// loadConfig reads the config file at path, falling back to defaults when
// the file does not exist.
func (r *Runner) loadConfig(path string) (*shared.Config, error) {
	if _, err := os.Stat(path); err != nil {
		r.logger.Warn("config file not found, using defaults", "path", path)
		return shared.DefaultConfig(), nil
	}

	config, err := shared.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return config, nil
}

// buildSink assembles the notification chain: log sink always, webhook
// when configured, both behind the per-kind config filter.
func buildSink(config *shared.Config, client *http.Client, logger *log.Logger) services.NotificationSink {
	var inner services.NotificationSink = services.NewLogSink(logger)
	if config.Notifications.WebhookURL != "" {
		inner = services.NewMultiSink(inner, services.NewWebhookSink(config.Notifications.WebhookURL, client))
	}
	return services.NewFilterSink(inner, config.Notifications)
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
