package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/tidewatch/internal/formatter"
	"github.com/desertthunder/tidewatch/internal/shared"
	"github.com/urfave/cli/v3"
)

// parsePlaylistID accepts either a bare playlist ID or a share URL of
// the form https://tidal.com/browse/playlist/<id> and returns the ID.
func parsePlaylistID(urlOrID string) (string, error) {
	if !strings.HasPrefix(urlOrID, "http") {
		return urlOrID, nil
	}

	parts := strings.Split(strings.TrimRight(urlOrID, "/"), "/")
	for i, part := range parts {
		if part == "playlist" && i+1 < len(parts) {
			return parts[i+1], nil
		}
	}
	return "", fmt.Errorf("%w: unrecognized playlist URL %q", shared.ErrInvalidInput, urlOrID)
}

// PlaylistAdd registers a playlist for monitoring.
func (r *Runner) PlaylistAdd(ctx context.Context, cmd *cli.Command) error {
	playlistID, err := parsePlaylistID(cmd.StringArg("id"))
	if err != nil {
		return err
	}
	if playlistID == "" {
		return fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}

	monitor, cleanup, err := r.bootstrap(cmd.String("config"))
	if err != nil {
		return err
	}
	defer cleanup()

	playlist, err := monitor.AddPlaylist(ctx, playlistID)
	if err != nil {
		return err
	}

	r.logger.Info("playlist added", "id", playlist.PlaylistID(), "name", playlist.Name())
	r.writePlain("Monitoring %q (%s)\n", playlist.Name(), playlist.PlaylistID())
	r.writePlain("The first check treats every current track as new and downloads it.\n")
	return nil
}

// PlaylistRemove stops monitoring a playlist. Its snapshot and download
// history stay in the database.
func (r *Runner) PlaylistRemove(ctx context.Context, cmd *cli.Command) error {
	playlistID := cmd.StringArg("id")
	if playlistID == "" {
		return fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}

	monitor, cleanup, err := r.bootstrap(cmd.String("config"))
	if err != nil {
		return err
	}
	defer cleanup()

	if err := monitor.RemovePlaylist(playlistID); err != nil {
		return err
	}

	r.writePlain("No longer monitoring %s\n", playlistID)
	return nil
}

// PlaylistEnable resumes checks for a paused playlist.
func (r *Runner) PlaylistEnable(ctx context.Context, cmd *cli.Command) error {
	return r.setPlaylistEnabled(cmd, true)
}

// PlaylistDisable pauses checks for a playlist.
func (r *Runner) PlaylistDisable(ctx context.Context, cmd *cli.Command) error {
	return r.setPlaylistEnabled(cmd, false)
}

func (r *Runner) setPlaylistEnabled(cmd *cli.Command, enabled bool) error {
	playlistID := cmd.StringArg("id")
	if playlistID == "" {
		return fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}

	monitor, cleanup, err := r.bootstrap(cmd.String("config"))
	if err != nil {
		return err
	}
	defer cleanup()

	if err := monitor.SetEnabled(playlistID, enabled); err != nil {
		return err
	}

	if enabled {
		r.writePlain("Enabled %s\n", playlistID)
	} else {
		r.writePlain("Disabled %s\n", playlistID)
	}
	return nil
}

// PlaylistList prints the monitored playlists as a table, JSON, or CSV.
func (r *Runner) PlaylistList(ctx context.Context, cmd *cli.Command) error {
	monitor, cleanup, err := r.bootstrap(cmd.String("config"))
	if err != nil {
		return err
	}
	defer cleanup()

	playlists, err := monitor.Playlists(false)
	if err != nil {
		return err
	}

	var out []byte
	switch {
	case cmd.Bool("json"):
		out, err = formatter.PlaylistsToJSON(playlists)
	case cmd.Bool("csv"):
		out, err = formatter.PlaylistsToCSV(playlists)
	default:
		out, err = formatter.PlaylistsToTable(playlists)
	}
	if err != nil {
		return err
	}

	return r.writePlain("%s", out)
}
