package tasks

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/tidewatch/internal/models"
	"github.com/desertthunder/tidewatch/internal/repositories"
	"github.com/desertthunder/tidewatch/internal/services"
	"github.com/desertthunder/tidewatch/internal/shared"
	th "github.com/desertthunder/tidewatch/internal/testing"
)

type monitorFixture struct {
	monitor   *Monitor
	source    *th.MockSource
	executor  *th.MockExecutor
	sink      *th.MockSink
	playlists *repositories.PlaylistRepository
	downloads *repositories.DownloadRepository
	snapshots *repositories.SnapshotRepository
	db        *sql.DB
}

func setupMonitor(t *testing.T) *monitorFixture {
	t.Helper()

	db := th.NewTestDB(t)

	f := &monitorFixture{
		source:    th.NewMockSource(),
		executor:  th.NewMockExecutor(),
		sink:      &th.MockSink{},
		playlists: repositories.NewPlaylistRepository(db),
		downloads: repositories.NewDownloadRepository(db),
		snapshots: repositories.NewSnapshotRepository(db),
		db:        db,
	}

	f.monitor = NewMonitor(MonitorOpts{
		Playlists: f.playlists,
		Snapshots: f.snapshots,
		Downloads: f.downloads,
		Source:    f.source,
		Executor:  f.executor,
		Sink:      f.sink,
	})

	return f
}

func (f *monitorFixture) addPlaylist(t *testing.T, playlistID, name string) {
	t.Helper()

	f.source.Playlists[playlistID] = services.Playlist{ID: playlistID, Name: name}
	if _, err := f.monitor.AddPlaylist(context.Background(), playlistID); err != nil {
		t.Fatalf("failed to add playlist %s: %v", playlistID, err)
	}
}

func hasKind(kinds []services.EventKind, want services.EventKind) bool {
	for _, k := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

func TestMonitorCheckNow(t *testing.T) {
	ctx := context.Background()

	t.Run("FullCycle", func(t *testing.T) {
		f := setupMonitor(t)
		f.addPlaylist(t, "pl-1", "Daily Mix")
		f.source.SetTracks("pl-1", tracks("t1", "t2"))

		report, err := f.monitor.CheckNow(ctx)
		if err != nil {
			t.Fatalf("check failed: %v", err)
		}

		if report.PlaylistsChecked != 1 || report.TracksAdded != 2 {
			t.Errorf("expected 1 playlist and 2 additions, got %+v", report)
		}
		if report.DownloadsSucceeded != 2 || report.DownloadsFailed != 0 {
			t.Errorf("expected 2 successful downloads, got %+v", report)
		}
		if report.HasErrors() {
			t.Errorf("unexpected playlist errors: %v", report.PlaylistErrors)
		}

		kinds := f.sink.Kinds()
		if !hasKind(kinds, services.EventNewTracks) {
			t.Errorf("expected a new-tracks event, got %v", kinds)
		}
		if !hasKind(kinds, services.EventDownloadsComplete) {
			t.Errorf("expected a downloads-complete event, got %v", kinds)
		}
	})

	t.Run("SecondCycleNoChanges", func(t *testing.T) {
		f := setupMonitor(t)
		f.addPlaylist(t, "pl-1", "Daily Mix")
		f.source.SetTracks("pl-1", tracks("t1", "t2"))

		if _, err := f.monitor.CheckNow(ctx); err != nil {
			t.Fatalf("first check failed: %v", err)
		}

		report, err := f.monitor.CheckNow(ctx)
		if err != nil {
			t.Fatalf("second check failed: %v", err)
		}

		if report.TracksAdded != 0 || report.DownloadsSucceeded != 0 {
			t.Errorf("unchanged playlist should produce no work, got %+v", report)
		}
		if f.executor.CallCount("t1") != 1 {
			t.Errorf("expected one download of t1, got %d", f.executor.CallCount("t1"))
		}
	})

	t.Run("PlaylistErrorIsolation", func(t *testing.T) {
		f := setupMonitor(t)
		f.addPlaylist(t, "pl-1", "Broken")
		f.addPlaylist(t, "pl-2", "Working")
		f.source.FetchErr["pl-1"] = errors.New("upstream 503")
		f.source.SetTracks("pl-2", tracks("t1"))

		report, err := f.monitor.CheckNow(ctx)
		if err != nil {
			t.Fatalf("check failed: %v", err)
		}

		if !report.HasErrors() {
			t.Fatal("expected a playlist error")
		}
		if _, ok := report.PlaylistErrors["pl-1"]; !ok {
			t.Errorf("expected error recorded for pl-1, got %v", report.PlaylistErrors)
		}
		if report.PlaylistsChecked != 1 || report.DownloadsSucceeded != 1 {
			t.Errorf("failure in one playlist should not stop the other, got %+v", report)
		}
		if !hasKind(f.sink.Kinds(), services.EventCycleError) {
			t.Errorf("expected a cycle-error event, got %v", f.sink.Kinds())
		}
	})

	t.Run("FailedPlaylistSnapshotUntouched", func(t *testing.T) {
		f := setupMonitor(t)
		f.addPlaylist(t, "pl-1", "Flaky")
		f.source.FetchErr["pl-1"] = errors.New("timeout")

		if _, err := f.monitor.CheckNow(ctx); err != nil {
			t.Fatalf("check failed: %v", err)
		}

		count, err := f.snapshots.Count("pl-1")
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if count != 0 {
			t.Errorf("failed fetch must not commit a snapshot, got %d entries", count)
		}

		// once the source recovers the same tracks are detected as additions
		delete(f.source.FetchErr, "pl-1")
		f.source.SetTracks("pl-1", tracks("t1"))

		report, err := f.monitor.CheckNow(ctx)
		if err != nil {
			t.Fatalf("check failed: %v", err)
		}
		if report.TracksAdded != 1 {
			t.Errorf("expected the addition on the recovered cycle, got %+v", report)
		}
	})

	t.Run("ReAddedTrackNotRedownloaded", func(t *testing.T) {
		f := setupMonitor(t)
		f.addPlaylist(t, "pl-1", "Daily Mix")
		f.source.SetTracks("pl-1", tracks("t1", "t2"))

		if _, err := f.monitor.CheckNow(ctx); err != nil {
			t.Fatalf("check failed: %v", err)
		}

		// t1 removed upstream, then restored
		f.source.SetTracks("pl-1", tracks("t2"))
		if _, err := f.monitor.CheckNow(ctx); err != nil {
			t.Fatalf("check failed: %v", err)
		}

		f.source.SetTracks("pl-1", tracks("t1", "t2"))
		report, err := f.monitor.CheckNow(ctx)
		if err != nil {
			t.Fatalf("check failed: %v", err)
		}

		if report.TracksAdded != 0 {
			t.Errorf("a re-added observed track is not new, got %+v", report)
		}
		if f.executor.CallCount("t1") != 1 {
			t.Errorf("expected a single download of t1, got %d", f.executor.CallCount("t1"))
		}
	})

	t.Run("DisabledPlaylistSkipped", func(t *testing.T) {
		f := setupMonitor(t)
		f.addPlaylist(t, "pl-1", "Paused")
		f.source.SetTracks("pl-1", tracks("t1"))

		if err := f.monitor.SetEnabled("pl-1", false); err != nil {
			t.Fatalf("disable failed: %v", err)
		}

		report, err := f.monitor.CheckNow(ctx)
		if err != nil {
			t.Fatalf("check failed: %v", err)
		}
		if report.PlaylistsChecked != 0 || f.source.FetchCalls != 0 {
			t.Errorf("disabled playlist should not be fetched, got %+v", report)
		}
	})

	t.Run("ResumesInterruptedCycle", func(t *testing.T) {
		f := setupMonitor(t)
		f.addPlaylist(t, "pl-1", "Daily Mix")
		f.source.SetTracks("pl-1", tracks("t1", "t2"))

		// simulate a crash after work items were enqueued but before the
		// snapshot commit: live items exist, the snapshot does not
		fetched, err := f.source.FetchTracks(ctx, "pl-1")
		if err != nil {
			t.Fatalf("fetch failed: %v", err)
		}
		added, err := f.monitor.detector.Detect("pl-1", fetched)
		if err != nil {
			t.Fatalf("detect failed: %v", err)
		}
		if _, err := f.monitor.orchestrator.Enqueue(ctx, "pl-1", added); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}

		report, err := f.monitor.CheckNow(ctx)
		if err != nil {
			t.Fatalf("check failed: %v", err)
		}

		// the same additions are re-detected and the existing live items
		// are reused instead of duplicated
		if report.TracksAdded != 2 {
			t.Errorf("expected both tracks re-detected, got %+v", report)
		}
		if report.DownloadsSucceeded != 2 {
			t.Errorf("expected both items drained, got %+v", report)
		}
		if f.executor.CallCount("t1") != 1 || f.executor.CallCount("t2") != 1 {
			t.Errorf("each track should be downloaded exactly once, got t1=%d t2=%d",
				f.executor.CallCount("t1"), f.executor.CallCount("t2"))
		}

		count, err := f.snapshots.Count("pl-1")
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if count != 2 {
			t.Errorf("resumed cycle should commit the snapshot, got %d entries", count)
		}

		live, err := f.downloads.CountLive()
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if live != 0 {
			t.Errorf("expected no live items left, got %d", live)
		}
	})

	t.Run("OutcomeRecordingFailureReported", func(t *testing.T) {
		f := setupMonitor(t)
		f.addPlaylist(t, "pl-1", "Daily Mix")
		f.source.SetTracks("pl-1", tracks("t1"))
		f.monitor.orchestrator.executor = &brokenStoreExecutor{db: f.db}

		report, err := f.monitor.CheckNow(ctx)
		if err != nil {
			t.Fatalf("check failed: %v", err)
		}

		if report.DownloadErrors != 1 {
			t.Errorf("expected the storage failure surfaced in the report, got %+v", report)
		}
		if !report.HasErrors() {
			t.Error("a cycle with storage failures must report errors")
		}
	})

	t.Run("RecoversStaleItems", func(t *testing.T) {
		f := setupMonitor(t)
		f.addPlaylist(t, "pl-1", "Daily Mix")

		item := models.NewDownload("pl-1", "t1", "Track t1", "Artist")
		if err := f.downloads.Create(item); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		old := time.Now().Add(-2 * time.Hour)
		item.SetStatus(models.StatusInProgress)
		item.SetLastAttemptAt(&old)
		if err := f.downloads.Update(item); err != nil {
			t.Fatalf("update failed: %v", err)
		}

		report, err := f.monitor.CheckNow(ctx)
		if err != nil {
			t.Fatalf("check failed: %v", err)
		}

		if report.ItemsRecovered != 1 {
			t.Errorf("expected 1 recovered item, got %+v", report)
		}
		if report.DownloadsSucceeded != 1 {
			t.Errorf("recovered item should be retried in the same cycle, got %+v", report)
		}
	})
}

// brokenStoreExecutor drops the downloads table during the attempt so
// that recording the outcome afterwards fails.
type brokenStoreExecutor struct {
	db *sql.DB
}

func (e *brokenStoreExecutor) Download(context.Context, string) error {
	_, err := e.db.Exec("DROP TABLE downloads")
	return err
}

func (e *brokenStoreExecutor) Name() string { return "broken-store" }

// blockingSource parks FetchTracks until released, for overlap tests.
type blockingSource struct {
	*th.MockSource
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSource) FetchTracks(ctx context.Context, playlistID string) ([]services.Track, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.MockSource.FetchTracks(ctx, playlistID)
}

func TestMonitorSingleFlight(t *testing.T) {
	ctx := context.Background()

	f := setupMonitor(t)
	f.addPlaylist(t, "pl-1", "Daily Mix")

	blocking := &blockingSource{
		MockSource: f.source,
		entered:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	f.monitor.source = blocking

	errs := make(chan error, 1)
	go func() {
		_, err := f.monitor.CheckNow(ctx)
		errs <- err
	}()

	<-blocking.entered

	if _, err := f.monitor.CheckNow(ctx); !errors.Is(err, shared.ErrCheckRunning) {
		t.Errorf("expected ErrCheckRunning for an overlapping check, got %v", err)
	}

	close(blocking.release)
	if err := <-errs; err != nil {
		t.Fatalf("blocked check failed: %v", err)
	}

	// the flight flag is released once the cycle finishes
	f.monitor.source = f.source
	if _, err := f.monitor.CheckNow(ctx); err != nil {
		t.Errorf("follow-up check should run, got %v", err)
	}
}

func TestMonitorPlaylistManagement(t *testing.T) {
	ctx := context.Background()

	t.Run("AddFetchesName", func(t *testing.T) {
		f := setupMonitor(t)
		f.source.Playlists["pl-1"] = services.Playlist{ID: "pl-1", Name: "Deep Focus", TrackCount: 40}

		playlist, err := f.monitor.AddPlaylist(ctx, "pl-1")
		if err != nil {
			t.Fatalf("add failed: %v", err)
		}
		if playlist.Name() != "Deep Focus" {
			t.Errorf("expected provider name, got %q", playlist.Name())
		}
	})

	t.Run("AddDuplicate", func(t *testing.T) {
		f := setupMonitor(t)
		f.addPlaylist(t, "pl-1", "Daily Mix")

		if _, err := f.monitor.AddPlaylist(ctx, "pl-1"); !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for duplicate, got %v", err)
		}
	})

	t.Run("AddUnknownPlaylist", func(t *testing.T) {
		f := setupMonitor(t)

		if _, err := f.monitor.AddPlaylist(ctx, "missing"); !errors.Is(err, shared.ErrPlaylistNotFound) {
			t.Errorf("expected ErrPlaylistNotFound, got %v", err)
		}
	})

	t.Run("AddEmptyID", func(t *testing.T) {
		f := setupMonitor(t)

		if _, err := f.monitor.AddPlaylist(ctx, ""); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})

	t.Run("RemoveRetainsHistory", func(t *testing.T) {
		f := setupMonitor(t)
		f.addPlaylist(t, "pl-1", "Daily Mix")
		f.source.SetTracks("pl-1", tracks("t1"))

		if _, err := f.monitor.CheckNow(ctx); err != nil {
			t.Fatalf("check failed: %v", err)
		}
		if err := f.monitor.RemovePlaylist("pl-1"); err != nil {
			t.Fatalf("remove failed: %v", err)
		}

		playlists, err := f.monitor.Playlists(false)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(playlists) != 0 {
			t.Errorf("removed playlist should not be listed, got %d", len(playlists))
		}

		succeeded, err := f.downloads.HasSucceeded("pl-1", "t1")
		if err != nil {
			t.Fatalf("lookup failed: %v", err)
		}
		if !succeeded {
			t.Error("download history should survive playlist removal")
		}
	})

	t.Run("RemoveUnknown", func(t *testing.T) {
		f := setupMonitor(t)

		if err := f.monitor.RemovePlaylist("missing"); !errors.Is(err, shared.ErrPlaylistNotFound) {
			t.Errorf("expected ErrPlaylistNotFound, got %v", err)
		}
	})
}

func TestMonitorStatus(t *testing.T) {
	ctx := context.Background()

	f := setupMonitor(t)
	f.addPlaylist(t, "pl-1", "Daily Mix")
	f.addPlaylist(t, "pl-2", "Paused")
	if err := f.monitor.SetEnabled("pl-2", false); err != nil {
		t.Fatalf("disable failed: %v", err)
	}

	f.source.SetTracks("pl-1", tracks("t1", "t2"))
	f.executor.Outcomes["t2"] = []error{terminalErr("unavailable")}

	if _, err := f.monitor.CheckNow(ctx); err != nil {
		t.Fatalf("check failed: %v", err)
	}

	status, err := f.monitor.Status()
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}

	if status.PlaylistCount != 2 || status.EnabledCount != 1 {
		t.Errorf("expected 2 playlists with 1 enabled, got %+v", status)
	}
	if status.DownloadCounts[models.StatusSucceeded] != 1 {
		t.Errorf("expected 1 succeeded download, got %v", status.DownloadCounts)
	}
	if status.DownloadCounts[models.StatusFailedTerminal] != 1 {
		t.Errorf("expected 1 terminal failure, got %v", status.DownloadCounts)
	}
	if status.LastReport == nil || status.LastCycleAt == nil {
		t.Error("expected a last cycle report after a check")
	}
}
