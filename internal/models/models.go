package models

import (
	"fmt"
	"time"
)

// Model defines the base interface for all persistent models in the playlist monitor.
// Implementations include MonitoredPlaylist and Download.
type Model interface {
	ID() string           // ID returns the unique identifier for this model
	CreatedAt() time.Time // CreatedAt returns when this model was created
	UpdatedAt() time.Time // UpdatedAt returns when this model was last updated
	Validate() error      // Validate checks if the model's data is valid and returns an error if not
}

// Repository defines the interface for data access operations.
// Implementations handle database interactions for specific model types.
type Repository[T Model] interface {
	Create(model T) error                      // Create inserts a new model into the database
	Get(id string) (T, error)                  // Get retrieves a model by its ID
	Update(model T) error                      // Update modifies an existing model in the database
	Delete(id string) error                    // Delete removes a model from the database by its ID
	List(criteria map[string]any) ([]T, error) // List retrieves all models matching the given criteria
}

// DownloadStatus enumerates the lifecycle states of a download work item.
type DownloadStatus string

const (
	StatusPending         DownloadStatus = "pending"
	StatusInProgress      DownloadStatus = "in_progress"
	StatusSucceeded       DownloadStatus = "succeeded"
	StatusFailedRetryable DownloadStatus = "failed_retryable"
	StatusFailedTerminal  DownloadStatus = "failed_terminal"
)

// Terminal reports whether the status is final. Terminal items never
// transition again and are retained for the skip-existing check.
func (s DownloadStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailedTerminal
}

// Valid reports whether s is a known status value.
func (s DownloadStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusSucceeded, StatusFailedRetryable, StatusFailedTerminal:
		return true
	}
	return false
}

// LiveStatuses returns the non-terminal statuses in dequeue order.
func LiveStatuses() []DownloadStatus {
	return []DownloadStatus{StatusPending, StatusInProgress, StatusFailedRetryable}
}

// MonitoredPlaylist is a playlist registered for periodic checking.
//
// The external playlist identifier is stable; display name and the
// enabled flag are mutable. Removal is a soft delete so that historical
// snapshot and download rows stay referenceable.
type MonitoredPlaylist struct {
	id          string
	sequence    int
	playlistID  string
	name        string
	enabled     bool
	lastChecked *time.Time
	createdAt   time.Time
	updatedAt   time.Time
	deletedAt   *time.Time
}

// NewMonitoredPlaylist creates a playlist record for the given external id and display name.
func NewMonitoredPlaylist(sequence int, playlistID, name string) *MonitoredPlaylist {
	now := time.Now()
	return &MonitoredPlaylist{
		sequence:   sequence,
		playlistID: playlistID,
		name:       name,
		enabled:    true,
		createdAt:  now,
		updatedAt:  now,
	}
}

func (p *MonitoredPlaylist) ID() string { return p.id }
func (p *MonitoredPlaylist) Sequence() int { return p.sequence }
func (p *MonitoredPlaylist) PlaylistID() string { return p.playlistID }
func (p *MonitoredPlaylist) Name() string { return p.name }
func (p *MonitoredPlaylist) Enabled() bool { return p.enabled }
func (p *MonitoredPlaylist) LastChecked() *time.Time { return p.lastChecked }
func (p *MonitoredPlaylist) CreatedAt() time.Time { return p.createdAt }
func (p *MonitoredPlaylist) UpdatedAt() time.Time { return p.updatedAt }
func (p *MonitoredPlaylist) DeletedAt() *time.Time { return p.deletedAt }

func (p *MonitoredPlaylist) SetID(id string) { p.id = id }
func (p *MonitoredPlaylist) SetName(name string) { p.name = name }
func (p *MonitoredPlaylist) SetEnabled(enabled bool) { p.enabled = enabled }
func (p *MonitoredPlaylist) SetLastChecked(t *time.Time) { p.lastChecked = t }
func (p *MonitoredPlaylist) SetCreatedAt(t time.Time) { p.createdAt = t }
func (p *MonitoredPlaylist) SetUpdatedAt(t time.Time) { p.updatedAt = t }
func (p *MonitoredPlaylist) SetDeletedAt(t *time.Time) { p.deletedAt = t }
func (p *MonitoredPlaylist) SetSequence(sequence int) { p.sequence = sequence }
func (p *MonitoredPlaylist) SetPlaylistID(playlist string) { p.playlistID = playlist }

// Validate checks required fields.
func (p *MonitoredPlaylist) Validate() error {
	if p.playlistID == "" {
		return fmt.Errorf("playlist id is required")
	}
	if p.name == "" {
		return fmt.Errorf("playlist name is required")
	}
	return nil
}

// SnapshotEntry is one (playlist, track) pair known to have existed in a
// playlist as of some successful check. Entries are never mutated once
// written; the position and display metadata reflect the first sighting.
type SnapshotEntry struct {
	ID         string
	PlaylistID string
	TrackID    string
	Position   int
	Title      string
	Artist     string
	FirstSeen  time.Time
}

// Download is a durable work item for one track's download lifecycle.
//
// Identity is (playlist id, track id); at most one live item exists per
// pair, enforced by a partial unique index in storage.
type Download struct {
	id            string
	playlistID    string
	trackID       string
	title         string
	artist        string
	status        DownloadStatus
	attempts      int
	lastError     string
	lastAttemptAt *time.Time
	nextAttemptAt *time.Time
	createdAt     time.Time
	updatedAt     time.Time
}

// NewDownload creates a pending work item for the given track.
func NewDownload(playlistID, trackID, title, artist string) *Download {
	now := time.Now()
	return &Download{
		playlistID: playlistID,
		trackID:    trackID,
		title:      title,
		artist:     artist,
		status:     StatusPending,
		createdAt:  now,
		updatedAt:  now,
	}
}

func (d *Download) ID() string { return d.id }
func (d *Download) PlaylistID() string { return d.playlistID }
func (d *Download) TrackID() string { return d.trackID }
func (d *Download) Title() string { return d.title }
func (d *Download) Artist() string { return d.artist }
func (d *Download) Status() DownloadStatus { return d.status }
func (d *Download) Attempts() int { return d.attempts }
func (d *Download) LastError() string { return d.lastError }
func (d *Download) LastAttemptAt() *time.Time { return d.lastAttemptAt }
func (d *Download) NextAttemptAt() *time.Time { return d.nextAttemptAt }
func (d *Download) CreatedAt() time.Time { return d.createdAt }
func (d *Download) UpdatedAt() time.Time { return d.updatedAt }

func (d *Download) SetID(id string) { d.id = id }
func (d *Download) SetStatus(s DownloadStatus) { d.status = s }
func (d *Download) SetAttempts(n int) { d.attempts = n }
func (d *Download) SetLastError(msg string) { d.lastError = msg }
func (d *Download) SetLastAttemptAt(t *time.Time) { d.lastAttemptAt = t }
func (d *Download) SetNextAttemptAt(t *time.Time) { d.nextAttemptAt = t }
func (d *Download) SetCreatedAt(t time.Time) { d.createdAt = t }
func (d *Download) SetUpdatedAt(t time.Time) { d.updatedAt = t }
func (d *Download) SetTrack(title, artist string) { d.title, d.artist = title, artist }
func (d *Download) SetPlaylistID(playlistID string) { d.playlistID = playlistID }
func (d *Download) SetTrackID(trackID string) { d.trackID = trackID }

// Due reports whether the item is eligible for an attempt at the given time.
// Pending items are always due; retryable failures wait out their backoff.
func (d *Download) Due(now time.Time) bool {
	switch d.status {
	case StatusPending:
		return true
	case StatusFailedRetryable:
		return d.nextAttemptAt == nil || !now.Before(*d.nextAttemptAt)
	}
	return false
}

// Validate checks required fields and status consistency.
func (d *Download) Validate() error {
	if d.playlistID == "" {
		return fmt.Errorf("playlist id is required")
	}
	if d.trackID == "" {
		return fmt.Errorf("track id is required")
	}
	if !d.status.Valid() {
		return fmt.Errorf("invalid download status: %q", d.status)
	}
	if d.attempts < 0 {
		return fmt.Errorf("attempts cannot be negative")
	}
	return nil
}
