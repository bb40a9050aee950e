package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/tidewatch/internal/models"
	"github.com/desertthunder/tidewatch/internal/shared"
)

// SnapshotRepository stores the set of track ids known for each playlist.
//
// The snapshot is additive: Commit inserts entries that are not yet
// present and never deletes, so a track temporarily missing from a fetch
// is never misread as removed. A commit is a single transaction; readers
// never observe a partially written snapshot.
type SnapshotRepository struct {
	db *sql.DB
}

// NewSnapshotRepository creates a new SnapshotRepository with the given database connection
func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// TrackIDs returns the set of track ids in the stored snapshot for a playlist.
// An empty set means the playlist has never been successfully checked.
func (r *SnapshotRepository) TrackIDs(playlistID string) (map[string]struct{}, error) {
	rows, err := r.db.Query("SELECT track_id FROM playlist_tracks WHERE playlist_id = ?", playlistID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query snapshot: %v", shared.ErrStorage, err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var trackID string
		if err := rows.Scan(&trackID); err != nil {
			return nil, fmt.Errorf("%w: failed to scan track id: %v", shared.ErrStorage, err)
		}
		ids[trackID] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: row iteration error: %v", shared.ErrStorage, err)
	}

	return ids, nil
}

// Commit merges the given entries into the stored snapshot and records
// the check time, all in one transaction. Existing (playlist, track)
// pairs are left untouched.
func (r *SnapshotRepository) Commit(playlistID string, entries []models.SnapshotEntry) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", shared.ErrStorage, err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO playlist_tracks (id, playlist_id, track_id, position, title, artist, first_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("%w: failed to prepare insert: %v", shared.ErrStorage, err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, entry := range entries {
		firstSeen := entry.FirstSeen
		if firstSeen.IsZero() {
			firstSeen = now
		}
		_, err := stmt.Exec(shared.GenerateID(), playlistID, entry.TrackID, entry.Position, entry.Title, entry.Artist, firstSeen)
		if err != nil {
			return fmt.Errorf("%w: failed to insert snapshot entry: %v", shared.ErrStorage, err)
		}
	}

	_, err = tx.Exec(
		"UPDATE playlists SET last_checked = ?, updated_at = ? WHERE playlist_id = ? AND deleted_at IS NULL",
		now, now, playlistID,
	)
	if err != nil {
		return fmt.Errorf("%w: failed to update last checked: %v", shared.ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit snapshot: %v", shared.ErrStorage, err)
	}

	return nil
}

// Count returns the number of snapshot entries stored for a playlist.
func (r *SnapshotRepository) Count(playlistID string) (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM playlist_tracks WHERE playlist_id = ?", playlistID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count snapshot entries: %v", shared.ErrStorage, err)
	}
	return count, nil
}

// List retrieves all snapshot entries for a playlist ordered by position.
func (r *SnapshotRepository) List(playlistID string) ([]models.SnapshotEntry, error) {
	query := `
		SELECT id, playlist_id, track_id, position, title, artist, first_seen
		FROM playlist_tracks
		WHERE playlist_id = ?
		ORDER BY position ASC, first_seen ASC
	`

	rows, err := r.db.Query(query, playlistID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query snapshot entries: %v", shared.ErrStorage, err)
	}
	defer rows.Close()

	var entries []models.SnapshotEntry
	for rows.Next() {
		var entry models.SnapshotEntry
		err := rows.Scan(&entry.ID, &entry.PlaylistID, &entry.TrackID, &entry.Position, &entry.Title, &entry.Artist, &entry.FirstSeen)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to scan snapshot entry: %v", shared.ErrStorage, err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: row iteration error: %v", shared.ErrStorage, err)
	}

	return entries, nil
}
