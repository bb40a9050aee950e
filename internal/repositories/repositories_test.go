package repositories

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/tidewatch/internal/models"
	"github.com/desertthunder/tidewatch/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	return db
}

func createTestPlaylist(t *testing.T, db *sql.DB, playlistID, name string) *models.MonitoredPlaylist {
	t.Helper()

	repo := NewPlaylistRepository(db)
	playlist := models.NewMonitoredPlaylist(0, playlistID, name)
	if err := repo.Create(playlist); err != nil {
		t.Fatalf("failed to create playlist: %v", err)
	}
	return playlist
}

func TestPlaylistRepository(t *testing.T) {
	t.Run("Create", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewPlaylistRepository(db)
		playlist := models.NewMonitoredPlaylist(0, "pl-123", "Morning Mix")

		if err := repo.Create(playlist); err != nil {
			t.Fatalf("failed to create playlist: %v", err)
		}

		if playlist.ID() == "" {
			t.Error("playlist ID should be set after creation")
		}

		if playlist.Sequence() != 1 {
			t.Errorf("expected sequence 1, got %d", playlist.Sequence())
		}

		second := models.NewMonitoredPlaylist(0, "pl-456", "Evening Mix")
		if err := repo.Create(second); err != nil {
			t.Fatalf("failed to create second playlist: %v", err)
		}

		if second.Sequence() != 2 {
			t.Errorf("expected sequence 2, got %d", second.Sequence())
		}
	})

	t.Run("CreateDuplicatePlaylistID", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewPlaylistRepository(db)
		createTestPlaylist(t, db, "pl-123", "Morning Mix")

		dup := models.NewMonitoredPlaylist(0, "pl-123", "Same Playlist")
		if err := repo.Create(dup); err == nil {
			t.Error("creating a duplicate playlist_id should fail")
		}
	})

	t.Run("GetByPlaylistID", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewPlaylistRepository(db)
		created := createTestPlaylist(t, db, "pl-123", "Morning Mix")

		got, err := repo.GetByPlaylistID("pl-123")
		if err != nil {
			t.Fatalf("failed to get playlist: %v", err)
		}

		if got.ID() != created.ID() {
			t.Errorf("expected ID %s, got %s", created.ID(), got.ID())
		}

		if got.Name() != "Morning Mix" {
			t.Errorf("expected name Morning Mix, got %s", got.Name())
		}

		if _, err := repo.GetByPlaylistID("missing"); !errors.Is(err, shared.ErrPlaylistNotFound) {
			t.Errorf("expected ErrPlaylistNotFound, got %v", err)
		}
	})

	t.Run("SetEnabled", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewPlaylistRepository(db)
		createTestPlaylist(t, db, "pl-123", "Morning Mix")

		if err := repo.SetEnabled("pl-123", false); err != nil {
			t.Fatalf("failed to disable playlist: %v", err)
		}

		got, err := repo.GetByPlaylistID("pl-123")
		if err != nil {
			t.Fatalf("failed to get playlist: %v", err)
		}
		if got.Enabled() {
			t.Error("playlist should be disabled")
		}

		if err := repo.SetEnabled("missing", true); !errors.Is(err, shared.ErrPlaylistNotFound) {
			t.Errorf("expected ErrPlaylistNotFound, got %v", err)
		}
	})

	t.Run("TouchLastChecked", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewPlaylistRepository(db)
		createTestPlaylist(t, db, "pl-123", "Morning Mix")

		checked := time.Now().Round(time.Second)
		if err := repo.TouchLastChecked("pl-123", checked); err != nil {
			t.Fatalf("failed to touch last checked: %v", err)
		}

		got, err := repo.GetByPlaylistID("pl-123")
		if err != nil {
			t.Fatalf("failed to get playlist: %v", err)
		}

		if got.LastChecked() == nil {
			t.Fatal("last checked should be set")
		}
		if !got.LastChecked().Equal(checked) {
			t.Errorf("expected last checked %v, got %v", checked, got.LastChecked())
		}
	})

	t.Run("SoftDelete", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewPlaylistRepository(db)
		createTestPlaylist(t, db, "pl-123", "Morning Mix")

		if err := repo.DeleteByPlaylistID("pl-123"); err != nil {
			t.Fatalf("failed to delete playlist: %v", err)
		}

		if _, err := repo.GetByPlaylistID("pl-123"); !errors.Is(err, shared.ErrPlaylistNotFound) {
			t.Errorf("deleted playlist should not be found, got %v", err)
		}

		// row is retained for history
		var count int
		if err := db.QueryRow("SELECT COUNT(*) FROM playlists WHERE playlist_id = ?", "pl-123").Scan(&count); err != nil {
			t.Fatalf("failed to count rows: %v", err)
		}
		if count != 1 {
			t.Errorf("expected soft-deleted row to remain, got %d rows", count)
		}
	})

	t.Run("List", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewPlaylistRepository(db)
		createTestPlaylist(t, db, "pl-1", "First")
		createTestPlaylist(t, db, "pl-2", "Second")
		createTestPlaylist(t, db, "pl-3", "Third")

		if err := repo.SetEnabled("pl-2", false); err != nil {
			t.Fatalf("failed to disable playlist: %v", err)
		}

		all, err := repo.List(map[string]any{})
		if err != nil {
			t.Fatalf("failed to list playlists: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("expected 3 playlists, got %d", len(all))
		}

		// sequence order
		if all[0].PlaylistID() != "pl-1" || all[2].PlaylistID() != "pl-3" {
			t.Error("playlists should be ordered by sequence")
		}

		enabled, err := repo.List(map[string]any{"enabled": true})
		if err != nil {
			t.Fatalf("failed to list enabled playlists: %v", err)
		}
		if len(enabled) != 2 {
			t.Errorf("expected 2 enabled playlists, got %d", len(enabled))
		}
	})
}

func TestSnapshotRepository(t *testing.T) {
	entries := func(ids ...string) []models.SnapshotEntry {
		out := make([]models.SnapshotEntry, len(ids))
		for i, id := range ids {
			out[i] = models.SnapshotEntry{
				PlaylistID: "pl-123",
				TrackID:    id,
				Position:   i,
				Title:      "Track " + id,
				Artist:     "Artist",
			}
		}
		return out
	}

	t.Run("CommitAndTrackIDs", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSnapshotRepository(db)
		createTestPlaylist(t, db, "pl-123", "Morning Mix")

		if err := repo.Commit("pl-123", entries("t1", "t2", "t3")); err != nil {
			t.Fatalf("failed to commit snapshot: %v", err)
		}

		ids, err := repo.TrackIDs("pl-123")
		if err != nil {
			t.Fatalf("failed to read track IDs: %v", err)
		}
		if len(ids) != 3 {
			t.Errorf("expected 3 tracks, got %d", len(ids))
		}
		if _, ok := ids["t2"]; !ok {
			t.Error("expected t2 in snapshot")
		}
	})

	t.Run("CommitIsInsertOnly", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSnapshotRepository(db)
		createTestPlaylist(t, db, "pl-123", "Morning Mix")

		if err := repo.Commit("pl-123", entries("t1", "t2")); err != nil {
			t.Fatalf("failed to commit first snapshot: %v", err)
		}

		// t1 removed upstream, t3 added: t1 must survive the second commit
		if err := repo.Commit("pl-123", entries("t2", "t3")); err != nil {
			t.Fatalf("failed to commit second snapshot: %v", err)
		}

		ids, err := repo.TrackIDs("pl-123")
		if err != nil {
			t.Fatalf("failed to read track IDs: %v", err)
		}
		if len(ids) != 3 {
			t.Errorf("expected union of 3 tracks, got %d", len(ids))
		}
		if _, ok := ids["t1"]; !ok {
			t.Error("removed track t1 should remain in the snapshot")
		}
	})

	t.Run("CommitUpdatesLastChecked", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSnapshotRepository(db)
		playlists := NewPlaylistRepository(db)
		createTestPlaylist(t, db, "pl-123", "Morning Mix")

		if err := repo.Commit("pl-123", entries("t1")); err != nil {
			t.Fatalf("failed to commit snapshot: %v", err)
		}

		got, err := playlists.GetByPlaylistID("pl-123")
		if err != nil {
			t.Fatalf("failed to get playlist: %v", err)
		}
		if got.LastChecked() == nil {
			t.Error("commit should update last checked")
		}
	})

	t.Run("Count", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewSnapshotRepository(db)
		createTestPlaylist(t, db, "pl-123", "Morning Mix")

		count, err := repo.Count("pl-123")
		if err != nil {
			t.Fatalf("failed to count: %v", err)
		}
		if count != 0 {
			t.Errorf("expected empty snapshot, got %d", count)
		}

		if err := repo.Commit("pl-123", entries("t1", "t2")); err != nil {
			t.Fatalf("failed to commit snapshot: %v", err)
		}

		count, err = repo.Count("pl-123")
		if err != nil {
			t.Fatalf("failed to count: %v", err)
		}
		if count != 2 {
			t.Errorf("expected 2 entries, got %d", count)
		}
	})
}

func TestDownloadRepository(t *testing.T) {
	newDownload := func(t *testing.T, db *sql.DB, trackID string) *models.Download {
		t.Helper()
		repo := NewDownloadRepository(db)
		d := models.NewDownload("pl-123", trackID, "Track "+trackID, "Artist")
		if err := repo.Create(d); err != nil {
			t.Fatalf("failed to create download: %v", err)
		}
		return d
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewDownloadRepository(db)
		createTestPlaylist(t, db, "pl-123", "Morning Mix")
		created := newDownload(t, db, "t1")

		got, err := repo.Get(created.ID())
		if err != nil {
			t.Fatalf("failed to get download: %v", err)
		}

		if got.TrackID() != "t1" {
			t.Errorf("expected track t1, got %s", got.TrackID())
		}
		if got.Status() != models.StatusPending {
			t.Errorf("expected pending, got %s", got.Status())
		}
	})

	t.Run("UniqueLiveItem", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewDownloadRepository(db)
		createTestPlaylist(t, db, "pl-123", "Morning Mix")
		first := newDownload(t, db, "t1")

		dup := models.NewDownload("pl-123", "t1", "Track t1", "Artist")
		if err := repo.Create(dup); err == nil {
			t.Error("second live item for the same track should fail")
		}

		// terminal history does not block a new live item
		first.SetStatus(models.StatusFailedTerminal)
		if err := repo.Update(first); err != nil {
			t.Fatalf("failed to update download: %v", err)
		}

		again := models.NewDownload("pl-123", "t1", "Track t1", "Artist")
		if err := repo.Create(again); err != nil {
			t.Errorf("live item after terminal history should be allowed: %v", err)
		}
	})

	t.Run("GetLive", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewDownloadRepository(db)
		createTestPlaylist(t, db, "pl-123", "Morning Mix")
		created := newDownload(t, db, "t1")

		got, err := repo.GetLive("pl-123", "t1")
		if err != nil {
			t.Fatalf("failed to get live item: %v", err)
		}
		if got.ID() != created.ID() {
			t.Errorf("expected ID %s, got %s", created.ID(), got.ID())
		}

		created.SetStatus(models.StatusSucceeded)
		if err := repo.Update(created); err != nil {
			t.Fatalf("failed to update download: %v", err)
		}

		if _, err := repo.GetLive("pl-123", "t1"); !errors.Is(err, shared.ErrTrackNotFound) {
			t.Errorf("expected ErrTrackNotFound for terminal item, got %v", err)
		}
	})

	t.Run("HasSucceeded", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewDownloadRepository(db)
		createTestPlaylist(t, db, "pl-123", "Morning Mix")
		created := newDownload(t, db, "t1")

		succeeded, err := repo.HasSucceeded("pl-123", "t1")
		if err != nil {
			t.Fatalf("failed to check history: %v", err)
		}
		if succeeded {
			t.Error("pending item should not count as succeeded")
		}

		created.SetStatus(models.StatusSucceeded)
		if err := repo.Update(created); err != nil {
			t.Fatalf("failed to update download: %v", err)
		}

		succeeded, err = repo.HasSucceeded("pl-123", "t1")
		if err != nil {
			t.Fatalf("failed to check history: %v", err)
		}
		if !succeeded {
			t.Error("succeeded item should be recorded in history")
		}
	})

	t.Run("ListDue", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewDownloadRepository(db)
		createTestPlaylist(t, db, "pl-123", "Morning Mix")

		pending := newDownload(t, db, "t1")
		backedOff := newDownload(t, db, "t2")
		inProgress := newDownload(t, db, "t3")

		now := time.Now()
		future := now.Add(10 * time.Minute)

		backedOff.SetStatus(models.StatusFailedRetryable)
		backedOff.SetNextAttemptAt(&future)
		if err := repo.Update(backedOff); err != nil {
			t.Fatalf("failed to update download: %v", err)
		}

		inProgress.SetStatus(models.StatusInProgress)
		if err := repo.Update(inProgress); err != nil {
			t.Fatalf("failed to update download: %v", err)
		}

		due, err := repo.ListDue(now)
		if err != nil {
			t.Fatalf("failed to list due items: %v", err)
		}
		if len(due) != 1 {
			t.Fatalf("expected 1 due item, got %d", len(due))
		}
		if due[0].ID() != pending.ID() {
			t.Errorf("expected pending item to be due, got %s", due[0].TrackID())
		}

		// after the backoff elapses the retryable item is due too
		due, err = repo.ListDue(future.Add(time.Second))
		if err != nil {
			t.Fatalf("failed to list due items: %v", err)
		}
		if len(due) != 2 {
			t.Errorf("expected 2 due items after backoff, got %d", len(due))
		}
	})

	t.Run("ListDueSkipsDisabledPlaylists", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewDownloadRepository(db)
		playlists := NewPlaylistRepository(db)
		createTestPlaylist(t, db, "pl-123", "Morning Mix")
		newDownload(t, db, "t1")

		if err := playlists.SetEnabled("pl-123", false); err != nil {
			t.Fatalf("failed to disable playlist: %v", err)
		}

		due, err := repo.ListDue(time.Now())
		if err != nil {
			t.Fatalf("failed to list due items: %v", err)
		}
		if len(due) != 0 {
			t.Errorf("disabled playlist items should not be due, got %d", len(due))
		}
	})

	t.Run("RecoverStale", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewDownloadRepository(db)
		createTestPlaylist(t, db, "pl-123", "Morning Mix")

		stale := newDownload(t, db, "t1")
		fresh := newDownload(t, db, "t2")

		old := time.Now().Add(-time.Hour)
		stale.SetStatus(models.StatusInProgress)
		stale.SetLastAttemptAt(&old)
		if err := repo.Update(stale); err != nil {
			t.Fatalf("failed to update download: %v", err)
		}

		recent := time.Now()
		fresh.SetStatus(models.StatusInProgress)
		fresh.SetLastAttemptAt(&recent)
		if err := repo.Update(fresh); err != nil {
			t.Fatalf("failed to update download: %v", err)
		}

		recovered, err := repo.RecoverStale(time.Now().Add(-30 * time.Minute))
		if err != nil {
			t.Fatalf("failed to recover stale items: %v", err)
		}
		if recovered != 1 {
			t.Errorf("expected 1 recovered item, got %d", recovered)
		}

		got, err := repo.Get(stale.ID())
		if err != nil {
			t.Fatalf("failed to get download: %v", err)
		}
		if got.Status() != models.StatusFailedRetryable {
			t.Errorf("expected failed_retryable, got %s", got.Status())
		}
		if got.NextAttemptAt() != nil {
			t.Error("recovered item should be immediately due")
		}

		stillRunning, err := repo.Get(fresh.ID())
		if err != nil {
			t.Fatalf("failed to get download: %v", err)
		}
		if stillRunning.Status() != models.StatusInProgress {
			t.Errorf("fresh in-progress item should be untouched, got %s", stillRunning.Status())
		}
	})

	t.Run("CountByStatus", func(t *testing.T) {
		db := setupTestDB(t)
		defer db.Close()

		repo := NewDownloadRepository(db)
		createTestPlaylist(t, db, "pl-123", "Morning Mix")

		newDownload(t, db, "t1")
		done := newDownload(t, db, "t2")

		done.SetStatus(models.StatusSucceeded)
		if err := repo.Update(done); err != nil {
			t.Fatalf("failed to update download: %v", err)
		}

		counts, err := repo.CountByStatus()
		if err != nil {
			t.Fatalf("failed to count by status: %v", err)
		}
		if counts[models.StatusPending] != 1 {
			t.Errorf("expected 1 pending, got %d", counts[models.StatusPending])
		}
		if counts[models.StatusSucceeded] != 1 {
			t.Errorf("expected 1 succeeded, got %d", counts[models.StatusSucceeded])
		}

		live, err := repo.CountLive()
		if err != nil {
			t.Fatalf("failed to count live: %v", err)
		}
		if live != 1 {
			t.Errorf("expected 1 live item, got %d", live)
		}
	})
}

func TestNextSequence(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	for want := 1; want <= 3; want++ {
		got, err := NextSequence(db, "playlists")
		if err != nil {
			t.Fatalf("failed to get next sequence: %v", err)
		}
		if got != want {
			t.Errorf("expected sequence %d, got %d", want, got)
		}
	}
}
