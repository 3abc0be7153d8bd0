package store

import (
	"context"
	"fmt"
)

// StoredEvent is one row of the events table: the raw canonical-encoded
// envelope plus its indexing columns.
type StoredEvent struct {
	ActorID string
	Seq     uint64
	EventID string
	Kind    string
	Blob    []byte
}

// EventsSince returns events for actorID with seq > afterSeq, ordered by
// seq, up to limit rows — the resume cursor for anything replaying one
// actor's stream.
func EventsSince(ctx context.Context, db *DB, actorID string, afterSeq uint64, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.QueryContext(ctx,
		`SELECT actor_id, seq, event_id, kind, blob FROM events
		 WHERE actor_id = ? AND seq > ? ORDER BY seq LIMIT ?`,
		actorID, afterSeq, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query events since: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []StoredEvent
	for rows.Next() {
		var e StoredEvent
		if err := rows.Scan(&e.ActorID, &e.Seq, &e.EventID, &e.Kind, &e.Blob); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// MaxSeq returns the highest seq recorded for actorID, or 0 if the actor
// has no events yet. The worker assigns seqs through NextSeq, which
// separates "no events" from "highest seq is 0".
func MaxSeq(ctx context.Context, db *DB, actorID string) (uint64, error) {
	var seq *uint64
	err := db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events WHERE actor_id = ?`, actorID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query max seq: %w", err)
	}
	if seq == nil {
		return 0, nil
	}
	return *seq, nil
}

// NextSeq returns the next unused seq for actorID: 0 for a fresh actor,
// MAX(seq)+1 otherwise, keeping the per-actor gapless numbering.
func NextSeq(ctx context.Context, db *DB, actorID string) (uint64, error) {
	var next uint64
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq) + 1, 0) FROM events WHERE actor_id = ?`, actorID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("query next seq: %w", err)
	}
	return next, nil
}

// InsertEvent records a raw event row. Duplicate event_id values are
// silently ignored (ON CONFLICT DO NOTHING), reported back via the
// returned inserted flag so callers can count materializer no-ops.
func InsertEvent(ctx context.Context, db *DB, e StoredEvent) (inserted bool, err error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO events (actor_id, seq, event_id, kind, blob) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (event_id) DO NOTHING`,
		e.ActorID, e.Seq, e.EventID, e.Kind, e.Blob,
	)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
