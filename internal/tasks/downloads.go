package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/tidewatch/internal/models"
	"github.com/desertthunder/tidewatch/internal/repositories"
	"github.com/desertthunder/tidewatch/internal/services"
	"github.com/desertthunder/tidewatch/internal/shared"
	"golang.org/x/time/rate"
)

// OrchestratorOpts contains retry and pacing configuration for the work queue.
type OrchestratorOpts struct {
	MaxRetries     int           // Attempts before a retryable failure becomes terminal
	RetryDelay     time.Duration // Backoff base delay
	MaxRetryDelay  time.Duration // Backoff cap
	DownloadDelay  time.Duration // Minimum spacing between download attempts
	MaxErrorLength int           // Stored last-error truncation (bytes)
}

// DrainResult summarizes one pass over the due work items.
type DrainResult struct {
	Attempted int
	Succeeded int
	Failed    int // Terminal failures
	Retried   int // Retryable failures rescheduled with backoff
	Errors    int // Storage errors while recording transitions
}

// Orchestrator drives download work items through their state machine.
//
// Each item moves pending → in_progress → succeeded, failed_retryable or
// failed_terminal. Terminal transitions emit one notification event;
// storage and executor failures on one item never abort the rest of the
// batch. Attempts are paced by a rate limiter so the external tool is
// never hammered.
type Orchestrator struct {
	downloads *repositories.DownloadRepository
	executor  services.DownloadExecutor
	sink      services.NotificationSink
	limiter   *rate.Limiter
	opts      OrchestratorOpts
	logger    *log.Logger
	now       func() time.Time
}

// NewOrchestrator creates an Orchestrator with the given dependencies.
func NewOrchestrator(
	downloads *repositories.DownloadRepository,
	executor services.DownloadExecutor,
	sink services.NotificationSink,
	opts OrchestratorOpts,
	logger *log.Logger,
) *Orchestrator {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Minute
	}
	if opts.MaxRetryDelay < opts.RetryDelay {
		opts.MaxRetryDelay = 15 * time.Minute
	}
	if opts.MaxErrorLength <= 0 {
		opts.MaxErrorLength = 500
	}

	limit := rate.Inf
	if opts.DownloadDelay > 0 {
		limit = rate.Every(opts.DownloadDelay)
	}

	return &Orchestrator{
		downloads: downloads,
		executor:  executor,
		sink:      sink,
		limiter:   rate.NewLimiter(limit, 1),
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// Enqueue creates one pending work item per added track, skipping tracks
// that already succeeded for this playlist or already have a live item.
// Calling it twice with the same added set is a no-op the second time.
func (o *Orchestrator) Enqueue(ctx context.Context, playlistID string, added []services.Track) (int, error) {
	created := 0

	for _, track := range added {
		succeeded, err := o.downloads.HasSucceeded(playlistID, track.ID)
		if err != nil {
			return created, err
		}
		if succeeded {
			o.logger.Debug("track already downloaded, skipping", "playlist", playlistID, "track", track.ID)
			continue
		}

		if _, err := o.downloads.GetLive(playlistID, track.ID); err == nil {
			o.logger.Debug("live work item exists, skipping", "playlist", playlistID, "track", track.ID)
			continue
		} else if !errors.Is(err, shared.ErrTrackNotFound) {
			return created, err
		}

		item := models.NewDownload(playlistID, track.ID, track.Title, track.Artist)
		if err := o.downloads.Create(item); err != nil {
			return created, err
		}
		created++
	}

	return created, nil
}

// Drain processes every due work item once: all pending items plus
// retryable failures whose backoff has elapsed. Returns early only on
// context cancellation; per-item failures are counted, not propagated.
func (o *Orchestrator) Drain(ctx context.Context) (DrainResult, error) {
	var res DrainResult

	due, err := o.downloads.ListDue(o.now())
	if err != nil {
		return res, err
	}

	if len(due) == 0 {
		return res, nil
	}

	o.logger.Info("draining download queue", "due", len(due))

	for _, item := range due {
		if err := o.limiter.Wait(ctx); err != nil {
			return res, fmt.Errorf("drain interrupted: %w", err)
		}

		o.attempt(ctx, item, &res)
	}

	return res, nil
}

// attempt runs one download attempt for a work item and records the outcome.
func (o *Orchestrator) attempt(ctx context.Context, item *models.Download, res *DrainResult) {
	now := o.now()

	item.SetStatus(models.StatusInProgress)
	item.SetAttempts(item.Attempts() + 1)
	item.SetLastAttemptAt(&now)

	if err := o.downloads.Update(item); err != nil {
		o.logger.Error("failed to mark item in progress", "track", item.TrackID(), "error", err)
		res.Errors++
		return
	}

	res.Attempted++
	o.logger.Info("downloading track",
		"track", item.TrackID(), "title", item.Title(), "artist", item.Artist(), "attempt", item.Attempts())

	err := o.executor.Download(ctx, item.TrackID())

	switch {
	case err == nil:
		item.SetStatus(models.StatusSucceeded)
		item.SetLastError("")
		item.SetNextAttemptAt(nil)
		res.Succeeded++
		o.logger.Info("download succeeded", "track", item.TrackID(), "title", item.Title())
		o.notifyTerminal(ctx, item, nil)

	case errors.Is(err, shared.ErrDownloadTerminal):
		item.SetStatus(models.StatusFailedTerminal)
		item.SetLastError(shared.TruncateError(err.Error(), o.opts.MaxErrorLength))
		item.SetNextAttemptAt(nil)
		res.Failed++
		o.logger.Error("download permanently failed", "track", item.TrackID(), "error", err)
		o.notifyTerminal(ctx, item, err)

	case item.Attempts() >= o.opts.MaxRetries:
		item.SetStatus(models.StatusFailedTerminal)
		item.SetLastError(shared.TruncateError(err.Error(), o.opts.MaxErrorLength))
		item.SetNextAttemptAt(nil)
		res.Failed++
		o.logger.Error("download failed, retries exhausted",
			"track", item.TrackID(), "attempts", item.Attempts(), "error", err)
		o.notifyTerminal(ctx, item, err)

	default:
		delay := o.backoff(item.Attempts())
		next := now.Add(delay)
		item.SetStatus(models.StatusFailedRetryable)
		item.SetLastError(shared.TruncateError(err.Error(), o.opts.MaxErrorLength))
		item.SetNextAttemptAt(&next)
		res.Retried++
		o.logger.Warn("download failed, will retry",
			"track", item.TrackID(), "attempt", item.Attempts(), "next_attempt_in", shared.FormatDuration(delay), "error", err)
	}

	if err := o.downloads.Update(item); err != nil {
		o.logger.Error("failed to record download outcome", "track", item.TrackID(), "error", err)
		res.Errors++
	}
}

// backoff computes the delay before the next attempt after failure n:
// base × 2^(n−1), capped at the configured maximum.
func (o *Orchestrator) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := o.opts.RetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= o.opts.MaxRetryDelay {
			return o.opts.MaxRetryDelay
		}
	}

	if delay > o.opts.MaxRetryDelay {
		return o.opts.MaxRetryDelay
	}
	return delay
}

// RecoverStale returns in_progress items older than the threshold to the
// retryable pool. Run at startup and before each cycle so attempts
// abandoned by a crash or forced shutdown are not stuck forever.
func (o *Orchestrator) RecoverStale(olderThan time.Duration) (int, error) {
	cutoff := o.now().Add(-olderThan)

	n, err := o.downloads.RecoverStale(cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		o.logger.Warn("recovered stale in-progress downloads", "count", n)
	}
	return n, nil
}

// notifyTerminal emits the one notification a terminal transition owes.
// Delivery is best-effort; failures are logged and ignored.
func (o *Orchestrator) notifyTerminal(ctx context.Context, item *models.Download, cause error) {
	if o.sink == nil {
		return
	}

	kind := services.EventTrackDownloaded
	payload := map[string]any{
		"playlist_id": item.PlaylistID(),
		"track_id":    item.TrackID(),
		"title":       item.Title(),
		"artist":      item.Artist(),
	}
	if cause != nil {
		kind = services.EventTrackDownloadFailed
		payload["error"] = shared.TruncateError(cause.Error(), o.opts.MaxErrorLength)
		payload["attempts"] = item.Attempts()
	}

	if err := o.sink.Notify(ctx, services.NewEvent(kind, payload)); err != nil {
		o.logger.Warn("notification delivery failed", "kind", kind, "error", err)
	}
}
