package main

import (
	"context"
	"errors"
	"os"

	"github.com/desertthunder/tidewatch/internal/shared"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := shared.NewLogger(nil)

	config := shared.DefaultConfig()
	if _, err := os.Stat("config.toml"); err == nil {
		if loadedConfig, err := shared.LoadConfig("config.toml"); err == nil {
			config = loadedConfig
		}
	}

	runner := NewRunner(RunnerOpts{
		Config: config,
		Logger: logger,
	})

	app := &cli.Command{
		Name:     "tidewatch",
		Usage:    "Monitor TIDAL playlists and download newly added tracks",
		Version:  "0.3.0",
		Commands: runner.register(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		if errors.Is(err, shared.ErrCheckRunning) {
			logger.Warn("a check cycle is already running")
			os.Exit(1)
		}
		logger.Fatalf("application error: %v", err)
	}
}
