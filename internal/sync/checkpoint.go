package sync

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/leonletto/grit/internal/store"
)

// walCursorKey is the checkpoint row tracking how far the local WAL ref
// chain has been folded into the store, so a pull only reads commits it
// has not seen. Per-remote-actor branches get their own rows keyed by
// the actor's hex id.
const walCursorKey = "wal"

// GetCheckpoint returns the last ingested commit SHA for key, or ""
// when nothing has been recorded yet.
func GetCheckpoint(ctx context.Context, db *store.DB, key string) (string, error) {
	var sha string
	err := db.QueryRowContext(ctx,
		`SELECT last_merged_sha FROM sync_checkpoints WHERE actor_id = ?`, key,
	).Scan(&sha)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get sync checkpoint %s: %w", key, err)
	}
	return sha, nil
}

// SetCheckpoint records that every commit up to and including sha has
// been ingested for key. Idempotent.
func SetCheckpoint(ctx context.Context, db *store.DB, key, sha string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO sync_checkpoints (actor_id, last_merged_sha, last_synced_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (actor_id) DO UPDATE SET
			last_merged_sha = excluded.last_merged_sha,
			last_synced_at = excluded.last_synced_at`,
		key, sha, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("set sync checkpoint %s: %w", key, err)
	}
	return nil
}
