package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/tidewatch/internal/models"
	"github.com/desertthunder/tidewatch/internal/shared"
)

// PlaylistRepository implements models.Repository[*models.MonitoredPlaylist].
//
// Playlists are soft-deleted so snapshot and download history for a
// removed playlist stays referenceable.
type PlaylistRepository struct {
	db *sql.DB
}

// NewPlaylistRepository creates a new PlaylistRepository with the given database connection
func NewPlaylistRepository(db *sql.DB) *PlaylistRepository {
	return &PlaylistRepository{db: db}
}

// Create inserts a new playlist into the database with generated ID and sequence
func (r *PlaylistRepository) Create(playlist *models.MonitoredPlaylist) error {
	sequence, err := NextSequence(r.db, "playlists")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()
	playlist.SetID(id)
	playlist.SetSequence(sequence)

	if err := playlist.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	query := `
		INSERT INTO playlists (id, sequence, playlist_id, name, enabled, last_checked, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.Exec(query,
		id,
		sequence,
		playlist.PlaylistID(),
		playlist.Name(),
		playlist.Enabled(),
		playlist.LastChecked(),
		playlist.CreatedAt(),
		playlist.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to insert playlist: %v", shared.ErrStorage, err)
	}

	return nil
}

// Get retrieves a playlist by internal ID, excluding soft-deleted playlists
func (r *PlaylistRepository) Get(id string) (*models.MonitoredPlaylist, error) {
	query := `
		SELECT id, sequence, playlist_id, name, enabled, last_checked, created_at, updated_at, deleted_at
		FROM playlists
		WHERE id = ? AND deleted_at IS NULL
	`

	return r.scanOne(r.db.QueryRow(query, id))
}

// GetByPlaylistID retrieves a playlist by its external identifier
func (r *PlaylistRepository) GetByPlaylistID(playlistID string) (*models.MonitoredPlaylist, error) {
	query := `
		SELECT id, sequence, playlist_id, name, enabled, last_checked, created_at, updated_at, deleted_at
		FROM playlists
		WHERE playlist_id = ? AND deleted_at IS NULL
	`

	return r.scanOne(r.db.QueryRow(query, playlistID))
}

// Update modifies an existing playlist in the database
func (r *PlaylistRepository) Update(playlist *models.MonitoredPlaylist) error {
	if err := playlist.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	playlist.SetUpdatedAt(now)

	query := `
		UPDATE playlists
		SET name = ?, enabled = ?, last_checked = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query,
		playlist.Name(),
		playlist.Enabled(),
		playlist.LastChecked(),
		now,
		playlist.ID(),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to update playlist: %v", shared.ErrStorage, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to get affected rows: %v", shared.ErrStorage, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, playlist.ID())
	}

	return nil
}

// SetEnabled flips the enabled flag for a playlist by external identifier
func (r *PlaylistRepository) SetEnabled(playlistID string, enabled bool) error {
	query := `
		UPDATE playlists
		SET enabled = ?, updated_at = ?
		WHERE playlist_id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query, enabled, time.Now(), playlistID)
	if err != nil {
		return fmt.Errorf("%w: failed to set enabled: %v", shared.ErrStorage, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to get affected rows: %v", shared.ErrStorage, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, playlistID)
	}

	return nil
}

// TouchLastChecked records a successful check time for a playlist
func (r *PlaylistRepository) TouchLastChecked(playlistID string, t time.Time) error {
	query := `
		UPDATE playlists
		SET last_checked = ?, updated_at = ?
		WHERE playlist_id = ? AND deleted_at IS NULL
	`

	if _, err := r.db.Exec(query, t, time.Now(), playlistID); err != nil {
		return fmt.Errorf("%w: failed to update last checked: %v", shared.ErrStorage, err)
	}

	return nil
}

// Delete soft-deletes a playlist by internal ID
func (r *PlaylistRepository) Delete(id string) error {
	now := time.Now()

	query := `
		UPDATE playlists
		SET deleted_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`

	result, err := r.db.Exec(query, now, id)
	if err != nil {
		return fmt.Errorf("%w: failed to delete playlist: %v", shared.ErrStorage, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: failed to get affected rows: %v", shared.ErrStorage, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", shared.ErrPlaylistNotFound, id)
	}

	return nil
}

// DeleteByPlaylistID soft-deletes a playlist by external identifier
func (r *PlaylistRepository) DeleteByPlaylistID(playlistID string) error {
	playlist, err := r.GetByPlaylistID(playlistID)
	if err != nil {
		return err
	}
	return r.Delete(playlist.ID())
}

// List retrieves all playlists matching the given criteria, excluding soft-deleted playlists.
//
// Supported criteria: "enabled" (bool).
func (r *PlaylistRepository) List(criteria map[string]any) ([]*models.MonitoredPlaylist, error) {
	query := `
		SELECT id, sequence, playlist_id, name, enabled, last_checked, created_at, updated_at, deleted_at
		FROM playlists
		WHERE deleted_at IS NULL
	`

	args := []any{}

	if enabled, ok := criteria["enabled"].(bool); ok {
		query += " AND enabled = ?"
		args = append(args, enabled)
	}

	query += " ORDER BY sequence ASC"

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query playlists: %v", shared.ErrStorage, err)
	}
	defer rows.Close()

	var playlists []*models.MonitoredPlaylist
	for rows.Next() {
		playlist, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		playlists = append(playlists, playlist)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: row iteration error: %v", shared.ErrStorage, err)
	}

	return playlists, nil
}

type playlistScanner interface {
	Scan(dest ...any) error
}

// scan reads one playlist row from either [sql.Row] or [sql.Rows]
func (r *PlaylistRepository) scan(row playlistScanner) (*models.MonitoredPlaylist, error) {
	var (
		id          string
		sequence    int
		playlistID  string
		name        string
		enabled     bool
		lastChecked sql.NullTime
		createdAt   time.Time
		updatedAt   time.Time
		deletedAt   sql.NullTime
	)

	err := row.Scan(&id, &sequence, &playlistID, &name, &enabled, &lastChecked, &createdAt, &updatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, shared.ErrPlaylistNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to scan playlist: %v", shared.ErrStorage, err)
	}

	playlist := models.NewMonitoredPlaylist(sequence, playlistID, name)
	playlist.SetID(id)
	playlist.SetEnabled(enabled)
	playlist.SetCreatedAt(createdAt)
	playlist.SetUpdatedAt(updatedAt)
	if lastChecked.Valid {
		playlist.SetLastChecked(&lastChecked.Time)
	}
	if deletedAt.Valid {
		playlist.SetDeletedAt(&deletedAt.Time)
	}

	return playlist, nil
}

func (r *PlaylistRepository) scanOne(row *sql.Row) (*models.MonitoredPlaylist, error) {
	return r.scan(row)
}

func (r *PlaylistRepository) scanRow(rows *sql.Rows) (*models.MonitoredPlaylist, error) {
	return r.scan(rows)
}
