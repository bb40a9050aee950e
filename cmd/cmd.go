// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

// setupCommand handles database and config initialization.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Initialize config file, database, and migrations",
		Flags:  []cli.Flag{configFlag()},
		Action: r.Setup,
	}
}

// playlistCommand manages the set of monitored playlists.
func playlistCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "playlist",
		Aliases: []string{"pl"},
		Usage:   "Manage monitored playlists",
		Commands: []*cli.Command{
			{
				Name:  "add",
				Usage: "Start monitoring a TIDAL playlist by ID or share URL",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags:  []cli.Flag{configFlag()},
				Action: r.PlaylistAdd,
			},
			{
				Name:    "remove",
				Aliases: []string{"rm"},
				Usage:   "Stop monitoring a playlist (snapshot and history are kept)",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags:  []cli.Flag{configFlag()},
				Action: r.PlaylistRemove,
			},
			{
				Name:  "enable",
				Usage: "Resume checks for a paused playlist",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags:  []cli.Flag{configFlag()},
				Action: r.PlaylistEnable,
			},
			{
				Name:  "disable",
				Usage: "Pause checks for a playlist without forgetting its snapshot",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "id"},
				},
				Flags:  []cli.Flag{configFlag()},
				Action: r.PlaylistDisable,
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List monitored playlists",
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output JSON",
					},
					&cli.BoolFlag{
						Name:  "csv",
						Usage: "Output CSV",
					},
				},
				Action: r.PlaylistList,
			},
		},
	}
}

// checkCommand runs one check cycle immediately.
func checkCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "check",
		Usage:  "Run a single check cycle now and report the results",
		Flags:  []cli.Flag{configFlag()},
		Action: r.Check,
	}
}

// statusCommand reports engine state.
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show monitored playlists, queue depth, and the last cycle summary",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output JSON",
			},
		},
		Action: r.Status,
	}
}

// serveCommand runs the scheduler loop in the foreground.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run periodic checks until interrupted",
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "no-initial-check",
				Usage: "Skip the immediate check on startup",
			},
		},
		Action: r.Serve,
	}
}

// watchCommand launches the live dashboard.
func watchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "watch",
		Usage:  "Run periodic checks with a live terminal dashboard",
		Flags:  []cli.Flag{configFlag()},
		Action: r.Watch,
	}
}
