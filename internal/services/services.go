// package services defines the external collaborators consumed by the
// monitoring engine
//
// TIDAL (playlist content), tidal-dl-ng (downloads), notification sinks
package services

import (
	"context"
	"time"
)

// PlaylistSource provides read access to externally-owned playlists.
type PlaylistSource interface {
	// GetPlaylist retrieves playlist metadata by external ID.
	GetPlaylist(ctx context.Context, playlistID string) (*Playlist, error)

	// FetchTracks returns the complete ordered track list for a playlist.
	// Pagination is handled internally; the result is either complete and
	// consistent or an error, never a silently truncated list.
	FetchTracks(ctx context.Context, playlistID string) ([]Track, error)

	// Name returns the name of the source (e.g., "TIDAL")
	Name() string
}

// DownloadExecutor drives the external download tool for a single track.
//
// A nil return means success. Failures are classified by wrapping one of
// [shared.ErrDownloadRetryable], [shared.ErrDownloadTerminal] or
// [shared.ErrTimeout]; a timeout counts as a retryable failure.
type DownloadExecutor interface {
	Download(ctx context.Context, trackID string) error
	Name() string
}

// NotificationSink consumes engine events. Delivery is best-effort and
// fire-and-forget; a delivery failure never affects recorded state.
type NotificationSink interface {
	Notify(ctx context.Context, event Event) error
}

// Playlist represents playlist metadata from the content provider
type Playlist struct {
	ID          string
	Name        string
	Description string
	TrackCount  int
}

// Track represents a single playlist entry from the content provider
type Track struct {
	ID       string
	Title    string
	Artist   string
	Album    string
	Duration int // Duration in seconds
	Position int // Ordinal within the playlist at fetch time
}

// EventKind enumerates notification event types.
type EventKind string

const (
	EventNewTracks           EventKind = "new_tracks"
	EventTrackDownloaded     EventKind = "track_downloaded"
	EventTrackDownloadFailed EventKind = "track_download_failed"
	EventDownloadsComplete   EventKind = "downloads_complete"
	EventCycleError          EventKind = "cycle_error"
)

// Event is a notification payload emitted by the engine.
type Event struct {
	Kind    EventKind      `json:"kind"`
	At      time.Time      `json:"at"`
	Payload map[string]any `json:"payload,omitempty"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(kind EventKind, payload map[string]any) Event {
	return Event{Kind: kind, At: time.Now(), Payload: payload}
}
