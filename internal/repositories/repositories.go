// package repositories provides persistence layer implementations for all model types.
//
// Each repository wraps raw SQL against the shared SQLite handle. Every
// operation is atomic at the row or transaction level; driver failures
// surface wrapped in [shared.ErrStorage] so callers can treat them as
// non-retryable within the current check cycle.
package repositories

import (
	"database/sql"
	"fmt"

	"github.com/desertthunder/tidewatch/internal/shared"
)

// NextSequence atomically increments and returns the next sequence number for the given table.
//
// Sequence numbers provide human-readable ordering for entities. They are
// not exposed in CLI output but used internally for sorting.
func NextSequence(db *sql.DB, table string) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("%w: failed to begin transaction: %v", shared.ErrStorage, err)
	}
	defer tx.Rollback()

	sequenceTable := table + "_sequence"

	_, err = tx.Exec(fmt.Sprintf("UPDATE %s SET value = value + 1 WHERE id = 1", sequenceTable))
	if err != nil {
		return 0, fmt.Errorf("%w: failed to increment sequence: %v", shared.ErrStorage, err)
	}

	var sequence int
	err = tx.QueryRow(fmt.Sprintf("SELECT value FROM %s WHERE id = 1", sequenceTable)).Scan(&sequence)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to get sequence value: %v", shared.ErrStorage, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: failed to commit sequence transaction: %v", shared.ErrStorage, err)
	}

	return sequence, nil
}
