package store

import (
	"context"
	"database/sql"
	"fmt"
)

// HasEvent checks whether an event with the given event_id already
// exists. The write paths do not call it; duplicates are skipped by
// the insert itself.
func HasEvent(ctx context.Context, db *DB, eventID string) (bool, error) {
	var exists int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM events WHERE event_id = ? LIMIT 1`, eventID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check event existence: %w", err)
	}
	return true, nil
}
