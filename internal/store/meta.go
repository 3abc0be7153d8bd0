package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// Meta keys. actor_seq is suffixed with the actor's hex id since one
// store can hold events from many actors after a sync.
const (
	MetaWalHead       = "wal_head"
	MetaLamport       = "lamport"
	MetaLastRebuildTS = "last_rebuild_ts"
)

// ActorSeqKey returns the per-actor seq meta key name. Nothing in the
// store writes this key; NextSeq derives an actor's next seq from the
// events table instead.
func ActorSeqKey(actorIDHex string) string {
	return "actor_seq/" + actorIDHex
}

// GetMeta reads one meta value, returning "" (not an error) for a key
// that has never been written.
func GetMeta(ctx context.Context, db *DB, key string) (string, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta upserts one meta value.
func SetMeta(ctx context.Context, db *DB, key, value string) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// GetMetaUint reads a meta value as a uint64, defaulting to 0 when the
// key is absent.
func GetMetaUint(ctx context.Context, db *DB, key string) (uint64, error) {
	s, err := GetMeta(ctx, db, key)
	if err != nil || s == "" {
		return 0, err
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("meta %s is not a number: %w", key, err)
	}
	return n, nil
}

// SetMetaUint writes a uint64 meta value.
func SetMetaUint(ctx context.Context, db *DB, key string, n uint64) error {
	return SetMeta(ctx, db, key, strconv.FormatUint(n, 10))
}
