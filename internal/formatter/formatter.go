// package formatter renders playlists, download queues, and cycle reports
// for terminal output and export (table, CSV, JSON)
package formatter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/desertthunder/tidewatch/internal/models"
	"github.com/desertthunder/tidewatch/internal/tasks"
)

// PlaylistsToTable renders monitored playlists as an aligned text table
func PlaylistsToTable(playlists []*models.MonitoredPlaylist) ([]byte, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "#\tPLAYLIST ID\tNAME\tENABLED\tLAST CHECKED")
	for _, p := range playlists {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			p.Sequence(),
			p.PlaylistID(),
			p.Name(),
			enabledString(p.Enabled()),
			timeString(p.LastChecked()),
		)
	}

	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("failed to render table: %w", err)
	}
	return buf.Bytes(), nil
}

// PlaylistsToCSV converts monitored playlists to CSV with columns:
// Sequence, PlaylistID, Name, Enabled, LastChecked
func PlaylistsToCSV(playlists []*models.MonitoredPlaylist) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Sequence", "PlaylistID", "Name", "Enabled", "LastChecked"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, p := range playlists {
		record := []string{
			strconv.Itoa(p.Sequence()),
			p.PlaylistID(),
			p.Name(),
			strconv.FormatBool(p.Enabled()),
			timeString(p.LastChecked()),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// PlaylistsToJSON converts monitored playlists to indented JSON
func PlaylistsToJSON(playlists []*models.MonitoredPlaylist) ([]byte, error) {
	type playlistJSON struct {
		Sequence    int        `json:"sequence"`
		PlaylistID  string     `json:"playlist_id"`
		Name        string     `json:"name"`
		Enabled     bool       `json:"enabled"`
		LastChecked *time.Time `json:"last_checked,omitempty"`
	}

	out := make([]playlistJSON, len(playlists))
	for i, p := range playlists {
		out[i] = playlistJSON{
			Sequence:    p.Sequence(),
			PlaylistID:  p.PlaylistID(),
			Name:        p.Name(),
			Enabled:     p.Enabled(),
			LastChecked: p.LastChecked(),
		}
	}

	return json.MarshalIndent(out, "", "  ")
}

// DownloadsToTable renders work items as an aligned text table
func DownloadsToTable(downloads []*models.Download) ([]byte, error) {
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, "TRACK ID\tTITLE\tARTIST\tSTATUS\tATTEMPTS\tNEXT ATTEMPT\tLAST ERROR")
	for _, d := range downloads {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			d.TrackID(),
			d.Title(),
			d.Artist(),
			d.Status(),
			d.Attempts(),
			timeString(d.NextAttemptAt()),
			d.LastError(),
		)
	}

	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("failed to render table: %w", err)
	}
	return buf.Bytes(), nil
}

// StatusToText renders engine status as readable plain text
func StatusToText(status *tasks.Status) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "Playlists: %d (%d enabled)\n", status.PlaylistCount, status.EnabledCount)
	fmt.Fprintf(&buf, "Pending work items: %d\n", status.PendingWorkItems)

	if len(status.DownloadCounts) > 0 {
		buf.WriteString("Downloads by status:\n")
		for _, s := range []models.DownloadStatus{
			models.StatusPending,
			models.StatusInProgress,
			models.StatusSucceeded,
			models.StatusFailedRetryable,
			models.StatusFailedTerminal,
		} {
			if count, ok := status.DownloadCounts[s]; ok && count > 0 {
				fmt.Fprintf(&buf, "  %s: %d\n", s, count)
			}
		}
	}

	if status.LastCycleAt != nil {
		fmt.Fprintf(&buf, "Last check: %s\n", status.LastCycleAt.Format(time.RFC3339))
	} else {
		buf.WriteString("Last check: never\n")
	}

	if status.LastReport != nil {
		buf.WriteString("\n")
		buf.Write(ReportToText(status.LastReport))
	}

	return buf.Bytes()
}

// StatusToJSON renders engine status as indented JSON
func StatusToJSON(status *tasks.Status) ([]byte, error) {
	return json.MarshalIndent(status, "", "  ")
}

// ReportToText renders a cycle report as readable plain text
func ReportToText(report *tasks.CycleReport) []byte {
	var buf bytes.Buffer

	elapsed := report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond)
	fmt.Fprintf(&buf, "Cycle finished %s (%s)\n", report.FinishedAt.Format(time.RFC3339), elapsed)
	fmt.Fprintf(&buf, "  Playlists checked: %d\n", report.PlaylistsChecked)
	fmt.Fprintf(&buf, "  New tracks: %d\n", report.TracksAdded)
	fmt.Fprintf(&buf, "  Downloads: %d succeeded, %d failed, %d awaiting retry\n",
		report.DownloadsSucceeded, report.DownloadsFailed, report.DownloadsRetried)

	if report.ItemsRecovered > 0 {
		fmt.Fprintf(&buf, "  Recovered stale items: %d\n", report.ItemsRecovered)
	}

	if report.DownloadErrors > 0 {
		fmt.Fprintf(&buf, "  Storage errors while recording downloads: %d\n", report.DownloadErrors)
	}

	if report.DrainError != "" {
		fmt.Fprintf(&buf, "  Drain interrupted: %s\n", report.DrainError)
	}

	if len(report.PlaylistErrors) > 0 {
		buf.WriteString("  Playlist errors:\n")
		for playlistID, msg := range report.PlaylistErrors {
			fmt.Fprintf(&buf, "    %s: %s\n", playlistID, msg)
		}
	}

	return buf.Bytes()
}

func enabledString(enabled bool) string {
	if enabled {
		return "yes"
	}
	return "no"
}

func timeString(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
