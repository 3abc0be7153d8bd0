package store

import (
	"context"
	"fmt"
	"os"
)

// Stats is the LocalStore health report surfaced by `grit db stats`.
type Stats struct {
	SizeBytes     int64  `json:"size_bytes"`
	EventCount    int64  `json:"event_count"`
	IssueCount    int64  `json:"issue_count"`
	LastRebuildTS int64  `json:"last_rebuild_ts,omitempty"`
	Path          string `json:"path"`
}

// CollectStats gathers Stats for the store backed by the database file
// at path.
func CollectStats(ctx context.Context, db *DB, path string) (Stats, error) {
	s := Stats{Path: path}

	if info, err := os.Stat(path); err == nil {
		s.SizeBytes = info.Size()
	}

	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&s.EventCount); err != nil {
		return s, fmt.Errorf("count events: %w", err)
	}
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM issues`).Scan(&s.IssueCount); err != nil {
		return s, fmt.Errorf("count issues: %w", err)
	}

	ts, err := GetMetaUint(ctx, db, MetaLastRebuildTS)
	if err != nil {
		return s, err
	}
	s.LastRebuildTS = int64(ts)
	return s, nil
}
