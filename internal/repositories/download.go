package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/tidewatch/internal/models"
	"github.com/desertthunder/tidewatch/internal/shared"
)

// DownloadRepository implements models.Repository[*models.Download] for
// the durable work item queue.
//
// A partial unique index on (playlist_id, track_id) over live statuses
// enforces at most one non-terminal item per track; terminal rows are
// retained indefinitely for the skip-existing check and audit.
type DownloadRepository struct {
	db *sql.DB
}

// NewDownloadRepository creates a new DownloadRepository with the given database connection
func NewDownloadRepository(db *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: db}
}

const downloadColumns = "id, playlist_id, track_id, title, artist, status, attempts, last_error, last_attempt_at, next_attempt_at, created_at, updated_at"

// Create inserts a new work item with a generated ID.
// Inserting a second live item for the same (playlist, track) pair fails
// on the partial unique index.
func (r *DownloadRepository) Create(d *models.Download) error {
	id := shared.GenerateID()
	d.SetID(id)

	if err := d.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO downloads (` + downloadColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		id,
		d.PlaylistID(),
		d.TrackID(),
		d.Title(),
		d.Artist(),
		string(d.Status()),
		d.Attempts(),
		d.LastError(),
		d.LastAttemptAt(),
		d.NextAttemptAt(),
		d.CreatedAt(),
		d.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to insert download: %v", shared.ErrStorage, err)
	}

	return nil
}

// Get retrieves a work item by internal ID
func (r *DownloadRepository) Get(id string) (*models.Download, error) {
	query := "SELECT " + downloadColumns + " FROM downloads WHERE id = ?"
	return r.scan(r.db.QueryRow(query, id))
}

// GetLive retrieves the live (non-terminal) work item for a (playlist, track) pair, if any.
func (r *DownloadRepository) GetLive(playlistID, trackID string) (*models.Download, error) {
	query := "SELECT " + downloadColumns + ` FROM downloads
		WHERE playlist_id = ? AND track_id = ?
		AND status IN ('pending', 'in_progress', 'failed_retryable')
	`
	return r.scan(r.db.QueryRow(query, playlistID, trackID))
}

// HasSucceeded reports whether a (playlist, track) pair has a recorded
// successful download. This is the skip-existing check: a track that was
// removed and re-added never produces a second download.
func (r *DownloadRepository) HasSucceeded(playlistID, trackID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(
		"SELECT EXISTS(SELECT 1 FROM downloads WHERE playlist_id = ? AND track_id = ? AND status = ?)",
		playlistID, trackID, string(models.StatusSucceeded),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("%w: failed to check download history: %v", shared.ErrStorage, err)
	}
	return exists, nil
}

// Update persists status, attempt bookkeeping and error details for a work item.
func (r *DownloadRepository) Update(d *models.Download) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	d.SetUpdatedAt(now)

	query := `
		UPDATE downloads
		SET status = ?, attempts = ?, last_error = ?, last_attempt_at = ?, next_attempt_at = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.Exec(query,
		string(d.Status()),
		d.Attempts(),
		d.LastError(),
		d.LastAttemptAt(),
		d.NextAttemptAt(),
		now,
		d.ID(),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to update download: %v", shared.ErrStorage, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to get affected rows: %v", shared.ErrStorage, err)
	}
	if rows == 0 {
		return fmt.Errorf("download not found: %s", d.ID())
	}

	return nil
}

// Delete removes a work item by ID. Used only in tests and manual cleanup;
// normal operation never deletes download history.
func (r *DownloadRepository) Delete(id string) error {
	result, err := r.db.Exec("DELETE FROM downloads WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("%w: failed to delete download: %v", shared.ErrStorage, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to get affected rows: %v", shared.ErrStorage, err)
	}
	if rows == 0 {
		return fmt.Errorf("download not found: %s", id)
	}

	return nil
}

// List retrieves work items matching the given criteria.
//
// Supported criteria: "status" (models.DownloadStatus or string),
// "playlist_id" (string).
func (r *DownloadRepository) List(criteria map[string]any) ([]*models.Download, error) {
	query := "SELECT " + downloadColumns + " FROM downloads WHERE 1 = 1"
	args := []any{}

	switch status := criteria["status"].(type) {
	case models.DownloadStatus:
		query += " AND status = ?"
		args = append(args, string(status))
	case string:
		if status != "" {
			query += " AND status = ?"
			args = append(args, status)
		}
	}

	if playlistID, ok := criteria["playlist_id"].(string); ok && playlistID != "" {
		query += " AND playlist_id = ?"
		args = append(args, playlistID)
	}

	query += " ORDER BY created_at ASC"

	return r.queryMany(query, args...)
}

// ListDue returns pending items plus retryable failures whose backoff
// has elapsed, for playlists that are still enabled and not removed.
func (r *DownloadRepository) ListDue(now time.Time) ([]*models.Download, error) {
	query := `
		SELECT d.id, d.playlist_id, d.track_id, d.title, d.artist, d.status, d.attempts, d.last_error,
		       d.last_attempt_at, d.next_attempt_at, d.created_at, d.updated_at
		FROM downloads d
		JOIN playlists p ON p.playlist_id = d.playlist_id
		WHERE p.deleted_at IS NULL AND p.enabled = 1
		AND (
			d.status = 'pending'
			OR (d.status = 'failed_retryable' AND (d.next_attempt_at IS NULL OR d.next_attempt_at <= ?))
		)
		ORDER BY d.created_at ASC
	`

	return r.queryMany(query, now)
}

// RecoverStale flips in_progress items whose last attempt is older than
// the cutoff back to failed_retryable. These are attempts abandoned by a
// crash or a forced shutdown; they become immediately due again.
func (r *DownloadRepository) RecoverStale(cutoff time.Time) (int, error) {
	query := `
		UPDATE downloads
		SET status = 'failed_retryable', next_attempt_at = NULL, updated_at = ?
		WHERE status = 'in_progress' AND (last_attempt_at IS NULL OR last_attempt_at < ?)
	`

	result, err := r.db.Exec(query, time.Now(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to recover stale downloads: %v", shared.ErrStorage, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get affected rows: %v", shared.ErrStorage, err)
	}

	return int(rows), nil
}

// CountByStatus returns work item counts grouped by status.
func (r *DownloadRepository) CountByStatus() (map[models.DownloadStatus]int, error) {
	rows, err := r.db.Query("SELECT status, COUNT(*) FROM downloads GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to count downloads: %v", shared.ErrStorage, err)
	}
	defer rows.Close()

	counts := make(map[models.DownloadStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("%w: failed to scan count: %v", shared.ErrStorage, err)
		}
		counts[models.DownloadStatus(status)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: row iteration error: %v", shared.ErrStorage, err)
	}

	return counts, nil
}

// CountLive returns the number of non-terminal work items.
func (r *DownloadRepository) CountLive() (int, error) {
	var count int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM downloads WHERE status IN ('pending', 'in_progress', 'failed_retryable')",
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to count live downloads: %v", shared.ErrStorage, err)
	}
	return count, nil
}

func (r *DownloadRepository) queryMany(query string, args ...any) ([]*models.Download, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query downloads: %v", shared.ErrStorage, err)
	}
	defer rows.Close()

	var downloads []*models.Download
	for rows.Next() {
		d, err := r.scanRows(rows)
		if err != nil {
			return nil, err
		}
		downloads = append(downloads, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: row iteration error: %v", shared.ErrStorage, err)
	}

	return downloads, nil
}

type downloadScanner interface {
	Scan(dest ...any) error
}

func (r *DownloadRepository) scanInto(row downloadScanner) (*models.Download, error) {
	var (
		id            string
		playlistID    string
		trackID       string
		title         string
		artist        string
		status        string
		attempts      int
		lastError     string
		lastAttemptAt sql.NullTime
		nextAttemptAt sql.NullTime
		createdAt     time.Time
		updatedAt     time.Time
	)

	err := row.Scan(&id, &playlistID, &trackID, &title, &artist, &status, &attempts, &lastError, &lastAttemptAt, &nextAttemptAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, shared.ErrTrackNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to scan download: %v", shared.ErrStorage, err)
	}

	d := models.NewDownload(playlistID, trackID, title, artist)
	d.SetID(id)
	d.SetStatus(models.DownloadStatus(status))
	d.SetAttempts(attempts)
	d.SetLastError(lastError)
	d.SetCreatedAt(createdAt)
	d.SetUpdatedAt(updatedAt)
	if lastAttemptAt.Valid {
		d.SetLastAttemptAt(&lastAttemptAt.Time)
	}
	if nextAttemptAt.Valid {
		d.SetNextAttemptAt(&nextAttemptAt.Time)
	}

	return d, nil
}

func (r *DownloadRepository) scan(row *sql.Row) (*models.Download, error) {
	return r.scanInto(row)
}

func (r *DownloadRepository) scanRows(rows *sql.Rows) (*models.Download, error) {
	return r.scanInto(rows)
}
