package tasks

import (
	"github.com/charmbracelet/log"
	"github.com/desertthunder/tidewatch/internal/models"
	"github.com/desertthunder/tidewatch/internal/repositories"
	"github.com/desertthunder/tidewatch/internal/services"
	"github.com/desertthunder/tidewatch/internal/shared"
)

// Detector computes the added set for a playlist by set-difference
// against the stored snapshot.
//
// Detection is additions-only: the new snapshot is the union of the old
// snapshot and the current fetch, so a track absent from one fetch is
// never treated as removed. Detect and Commit are split so the caller
// can durably enqueue work for the added set before the snapshot commit;
// a crash in between re-detects the same additions next cycle, which is
// harmless because enqueueing is idempotent.
type Detector struct {
	snapshots *repositories.SnapshotRepository
	logger    *log.Logger
}

// NewDetector creates a Detector over the given snapshot store.
func NewDetector(snapshots *repositories.SnapshotRepository, logger *log.Logger) *Detector {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Detector{snapshots: snapshots, logger: logger}
}

// Detect returns the tracks present in the current fetch but absent from
// the stored snapshot, preserving fetch order. Stored state is not
// modified. An empty prior snapshot means first observation: every track
// is reported as added (baseline seeding).
func (d *Detector) Detect(playlistID string, current []services.Track) ([]services.Track, error) {
	prev, err := d.snapshots.TrackIDs(playlistID)
	if err != nil {
		return nil, err
	}

	var added []services.Track
	seen := make(map[string]struct{}, len(current))

	for _, track := range current {
		if _, dup := seen[track.ID]; dup {
			continue
		}
		seen[track.ID] = struct{}{}

		if _, known := prev[track.ID]; !known {
			added = append(added, track)
		}
	}

	if len(added) > 0 {
		d.logger.Info("new tracks detected", "playlist", playlistID, "count", len(added))
	} else {
		d.logger.Debug("no new tracks", "playlist", playlistID)
	}

	return added, nil
}

// Commit merges the current fetch into the stored snapshot. Call only
// after the added set has been durably enqueued.
func (d *Detector) Commit(playlistID string, current []services.Track) error {
	entries := make([]models.SnapshotEntry, 0, len(current))
	for _, track := range current {
		entries = append(entries, models.SnapshotEntry{
			PlaylistID: playlistID,
			TrackID:    track.ID,
			Position:   track.Position,
			Title:      track.Title,
			Artist:     track.Artist,
		})
	}

	return d.snapshots.Commit(playlistID, entries)
}
