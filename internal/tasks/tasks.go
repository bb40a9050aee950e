// package tasks implements the playlist check cycle.
//
// The core abstraction is Monitor, which orchestrates change detection
// and download processing per playlist. A cycle fetches each enabled
// playlist's tracks, diffs them against the stored snapshot, durably
// enqueues downloads for the additions, commits the snapshot, then
// drains the work queue. Failures in one playlist or one work item are
// isolated and aggregated into the cycle report.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tidewatch/internal/models"
	"github.com/desertthunder/tidewatch/internal/repositories"
	"github.com/desertthunder/tidewatch/internal/services"
	"github.com/desertthunder/tidewatch/internal/shared"
)

// CycleReport summarizes one check cycle.
type CycleReport struct {
	StartedAt          time.Time         `json:"started_at"`
	FinishedAt         time.Time         `json:"finished_at"`
	PlaylistsChecked   int               `json:"playlists_checked"`
	TracksAdded        int               `json:"tracks_added"`
	DownloadsSucceeded int               `json:"downloads_succeeded"`
	DownloadsFailed    int               `json:"downloads_failed"`
	DownloadsRetried   int               `json:"downloads_retried"`
	DownloadErrors     int               `json:"download_errors,omitempty"` // Storage failures while recording outcomes
	ItemsRecovered     int               `json:"items_recovered"`
	PlaylistErrors     map[string]string `json:"playlist_errors,omitempty"`
	DrainError         string            `json:"drain_error,omitempty"`
}

// HasErrors reports whether any failure was recorded during the cycle.
func (r *CycleReport) HasErrors() bool {
	return len(r.PlaylistErrors) > 0 || r.DownloadErrors > 0 || r.DrainError != ""
}

// Status is a point-in-time snapshot of the monitor's state.
type Status struct {
	PlaylistCount    int                           `json:"playlist_count"`
	EnabledCount     int                           `json:"enabled_count"`
	PendingWorkItems int                           `json:"pending_work_items"`
	DownloadCounts   map[models.DownloadStatus]int `json:"download_counts"`
	LastCycleAt      *time.Time                    `json:"last_cycle_at,omitempty"`
	LastReport       *CycleReport                  `json:"last_report,omitempty"`
}

// Monitor owns the check cycle and the playlist management operations
// exposed to the CLI layer.
type Monitor struct {
	playlists    *repositories.PlaylistRepository
	snapshots    *repositories.SnapshotRepository
	downloads    *repositories.DownloadRepository
	source       services.PlaylistSource
	detector     *Detector
	orchestrator *Orchestrator
	sink         services.NotificationSink
	staleAfter   time.Duration
	logger       *log.Logger

	// running enforces single-flight: a CheckNow while a cycle is in
	// flight returns shared.ErrCheckRunning instead of racing on state.
	running atomic.Bool

	mu         sync.Mutex
	lastReport *CycleReport
}

// MonitorOpts contains dependencies and settings for creating a Monitor.
type MonitorOpts struct {
	Playlists    *repositories.PlaylistRepository
	Snapshots    *repositories.SnapshotRepository
	Downloads    *repositories.DownloadRepository
	Source       services.PlaylistSource
	Executor     services.DownloadExecutor
	Sink         services.NotificationSink
	Orchestrator OrchestratorOpts
	StaleAfter   time.Duration
	Logger       *log.Logger
}

// NewMonitor creates a Monitor from the provided dependencies.
func NewMonitor(opts MonitorOpts) *Monitor {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 30 * time.Minute
	}

	detector := NewDetector(opts.Snapshots, opts.Logger)
	orchestrator := NewOrchestrator(opts.Downloads, opts.Executor, opts.Sink, opts.Orchestrator, opts.Logger)

	return &Monitor{
		playlists:    opts.Playlists,
		snapshots:    opts.Snapshots,
		downloads:    opts.Downloads,
		source:       opts.Source,
		detector:     detector,
		orchestrator: orchestrator,
		sink:         opts.Sink,
		staleAfter:   opts.StaleAfter,
		logger:       opts.Logger,
	}
}

// CheckNow runs one full check cycle: recover stale items, check each
// enabled playlist, then drain the download queue. Returns
// [shared.ErrCheckRunning] if a cycle is already in flight.
func (m *Monitor) CheckNow(ctx context.Context) (*CycleReport, error) {
	if !m.running.CompareAndSwap(false, true) {
		return nil, shared.ErrCheckRunning
	}
	defer m.running.Store(false)

	report := &CycleReport{
		StartedAt:      time.Now(),
		PlaylistErrors: make(map[string]string),
	}

	if recovered, err := m.orchestrator.RecoverStale(m.staleAfter); err != nil {
		m.logger.Error("stale item recovery failed", "error", err)
	} else {
		report.ItemsRecovered = recovered
	}

	playlists, err := m.playlists.List(map[string]any{"enabled": true})
	if err != nil {
		return nil, fmt.Errorf("failed to list playlists: %w", err)
	}

	m.logger.Info("starting check cycle", "playlists", len(playlists))

	for _, playlist := range playlists {
		select {
		case <-ctx.Done():
			report.PlaylistErrors[playlist.PlaylistID()] = ctx.Err().Error()
			m.finish(report)
			return report, ctx.Err()
		default:
		}

		added, err := m.checkPlaylist(ctx, playlist)
		if err != nil {
			m.logger.Error("playlist check failed",
				"playlist", playlist.PlaylistID(), "name", playlist.Name(), "error", err)
			report.PlaylistErrors[playlist.PlaylistID()] = err.Error()
			m.notify(ctx, services.EventCycleError, map[string]any{
				"playlist_id": playlist.PlaylistID(),
				"playlist":    playlist.Name(),
				"error":       err.Error(),
			})
			continue
		}

		report.PlaylistsChecked++
		report.TracksAdded += added

		if added > 0 {
			m.notify(ctx, services.EventNewTracks, map[string]any{
				"playlist_id": playlist.PlaylistID(),
				"playlist":    playlist.Name(),
				"count":       added,
			})
		}
	}

	drain, err := m.orchestrator.Drain(ctx)
	report.DownloadsSucceeded = drain.Succeeded
	report.DownloadsFailed = drain.Failed
	report.DownloadsRetried = drain.Retried
	report.DownloadErrors = drain.Errors
	if err != nil {
		report.DrainError = err.Error()
		m.logger.Warn("drain interrupted", "error", err)
	}

	if drain.Succeeded+drain.Failed > 0 {
		m.notify(ctx, services.EventDownloadsComplete, map[string]any{
			"succeeded": drain.Succeeded,
			"failed":    drain.Failed,
		})
	}

	m.finish(report)
	m.logger.Info("check cycle complete",
		"checked", report.PlaylistsChecked,
		"added", report.TracksAdded,
		"succeeded", report.DownloadsSucceeded,
		"failed", report.DownloadsFailed,
		"errors", len(report.PlaylistErrors))

	return report, nil
}

// checkPlaylist runs detection and enqueueing for one playlist.
//
// Ordering is load-bearing: work items are durably created before the
// snapshot commit, so a crash between the two re-detects the same
// additions next cycle instead of losing them.
func (m *Monitor) checkPlaylist(ctx context.Context, playlist *models.MonitoredPlaylist) (int, error) {
	tracks, err := m.source.FetchTracks(ctx, playlist.PlaylistID())
	if err != nil {
		return 0, asFetchError(err)
	}

	added, err := m.detector.Detect(playlist.PlaylistID(), tracks)
	if err != nil {
		return 0, err
	}

	if len(added) > 0 {
		if _, err := m.orchestrator.Enqueue(ctx, playlist.PlaylistID(), added); err != nil {
			return 0, err
		}
	}

	if err := m.detector.Commit(playlist.PlaylistID(), tracks); err != nil {
		return 0, err
	}

	return len(added), nil
}

// AddPlaylist registers a playlist for monitoring, fetching its display
// name from the content provider.
func (m *Monitor) AddPlaylist(ctx context.Context, playlistID string) (*models.MonitoredPlaylist, error) {
	if playlistID == "" {
		return nil, fmt.Errorf("%w: playlist id", shared.ErrMissingArgument)
	}

	if existing, err := m.playlists.GetByPlaylistID(playlistID); err == nil {
		return nil, fmt.Errorf("%w: playlist %q already monitored", shared.ErrInvalidInput, existing.PlaylistID())
	}

	meta, err := m.source.GetPlaylist(ctx, playlistID)
	if err != nil {
		return nil, asFetchError(err)
	}

	playlist := models.NewMonitoredPlaylist(0, playlistID, meta.Name)
	if err := m.playlists.Create(playlist); err != nil {
		return nil, err
	}

	m.logger.Info("playlist added", "playlist", playlistID, "name", meta.Name, "tracks", meta.TrackCount)
	return playlist, nil
}

// RemovePlaylist soft-deletes a playlist. History and pending work items
// are retained; the drain simply stops selecting them.
func (m *Monitor) RemovePlaylist(playlistID string) error {
	if err := m.playlists.DeleteByPlaylistID(playlistID); err != nil {
		return err
	}
	m.logger.Info("playlist removed", "playlist", playlistID)
	return nil
}

// SetEnabled toggles monitoring for a playlist without touching history.
func (m *Monitor) SetEnabled(playlistID string, enabled bool) error {
	if err := m.playlists.SetEnabled(playlistID, enabled); err != nil {
		return err
	}
	m.logger.Info("playlist toggled", "playlist", playlistID, "enabled", enabled)
	return nil
}

// Playlists lists monitored playlists, optionally only enabled ones.
func (m *Monitor) Playlists(enabledOnly bool) ([]*models.MonitoredPlaylist, error) {
	criteria := map[string]any{}
	if enabledOnly {
		criteria["enabled"] = true
	}
	return m.playlists.List(criteria)
}

// Status reports current playlist and work queue state.
func (m *Monitor) Status() (*Status, error) {
	all, err := m.playlists.List(map[string]any{})
	if err != nil {
		return nil, err
	}

	enabled := 0
	for _, p := range all {
		if p.Enabled() {
			enabled++
		}
	}

	live, err := m.downloads.CountLive()
	if err != nil {
		return nil, err
	}

	counts, err := m.downloads.CountByStatus()
	if err != nil {
		return nil, err
	}

	status := &Status{
		PlaylistCount:    len(all),
		EnabledCount:     enabled,
		PendingWorkItems: live,
		DownloadCounts:   counts,
	}

	m.mu.Lock()
	if m.lastReport != nil {
		report := *m.lastReport
		status.LastReport = &report
		status.LastCycleAt = &report.FinishedAt
	}
	m.mu.Unlock()

	return status, nil
}

// RecoverStale exposes the startup crash-recovery sweep.
func (m *Monitor) RecoverStale() (int, error) {
	return m.orchestrator.RecoverStale(m.staleAfter)
}

func (m *Monitor) finish(report *CycleReport) {
	report.FinishedAt = time.Now()
	m.mu.Lock()
	m.lastReport = report
	m.mu.Unlock()
}

// asFetchError classifies a content provider failure, preserving
// already-classified errors.
func asFetchError(err error) error {
	if errors.Is(err, shared.ErrFetch) || errors.Is(err, shared.ErrTimeout) || errors.Is(err, shared.ErrPlaylistNotFound) {
		return err
	}
	return fmt.Errorf("%w: %v", shared.ErrFetch, err)
}

// notify delivers a cycle-level event, best-effort.
func (m *Monitor) notify(ctx context.Context, kind services.EventKind, payload map[string]any) {
	if m.sink == nil {
		return
	}
	if err := m.sink.Notify(ctx, services.NewEvent(kind, payload)); err != nil {
		m.logger.Warn("notification delivery failed", "kind", kind, "error", err)
	}
}
