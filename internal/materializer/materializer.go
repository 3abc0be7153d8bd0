// Package materializer folds the event stream into the LocalStore's
// projection tables. The fold is a pure function of the *set* of events
// observed: delivery order never changes the outcome, because every
// mutable field is guarded by a Version comparison and labels are an
// observed-remove set.
package materializer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/leonletto/grit/internal/canonical"
	"github.com/leonletto/grit/internal/giterrors"
	"github.com/leonletto/grit/internal/identity"
	"github.com/leonletto/grit/internal/store"
	"github.com/leonletto/grit/internal/types"
)

// Materializer applies events to one LocalStore. It is not safe for
// concurrent use by multiple writers; the owning worker serializes all
// calls (readers go straight to the store and never pass through here).
type Materializer struct {
	db *store.DB
}

// New binds a Materializer to db.
func New(db *store.DB) *Materializer {
	return &Materializer{db: db}
}

// ApplyStats accumulates counters over one Insert/Rebuild run.
type ApplyStats struct {
	Applied    int `json:"applied"`
	Duplicates int `json:"duplicates"`
	Malformed  int `json:"malformed"`
}

func (s *ApplyStats) add(other ApplyStats) {
	s.Applied += other.Applied
	s.Duplicates += other.Duplicates
	s.Malformed += other.Malformed
}

// Insert records one event — raw row plus projection — in a single
// transaction. A duplicate event_id is a no-op counted in Duplicates.
// A decodable envelope with a malformed or unknown payload still lands
// in the event log (it is part of the stream other peers will see) but
// is counted in Malformed and skipped by the projection.
func (m *Materializer) Insert(ctx context.Context, env types.Envelope, raw []byte) (ApplyStats, error) {
	var stats ApplyStats
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, fmt.Errorf("begin insert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (actor_id, seq, event_id, kind, blob) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (event_id) DO NOTHING`,
		env.ActorID.String(), env.Seq, env.EventID.String(), string(env.Kind), raw,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			// A different event already holds this (actor_id, seq) slot:
			// the per-actor sequence invariant is broken, which callers
			// treat as a trigger for a full rebuild.
			return stats, giterrors.Wrap(giterrors.ErrDuplicateEvent, err)
		}
		return stats, fmt.Errorf("insert event row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return stats, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		stats.Duplicates++
		return stats, tx.Commit()
	}

	if err := advanceLamport(ctx, tx, env.Lamport); err != nil {
		return stats, err
	}

	if err := m.project(ctx, tx, env); err != nil {
		if errors.Is(err, errMalformed) {
			stats.Malformed++
		} else {
			return stats, err
		}
	} else {
		stats.Applied++
	}
	return stats, tx.Commit()
}

// RebuildResult reports one Rebuild run, including whether it started
// from a snapshot (FromSnapshot is the snapshot ref, or empty) and how
// many events were replayed (the delta only, when snapshotted).
type RebuildResult struct {
	EventCount   int    `json:"event_count"`
	Malformed    int    `json:"malformed"`
	FromSnapshot string `json:"from_snapshot,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
}

// Rebuild clears every projection table and replays the full event log
// into it, in (lamport, actor_id, seq) order, inside one transaction so
// readers see either the old projection or the new one, never a partial
// rewrite.
func (m *Materializer) Rebuild(ctx context.Context) (RebuildResult, error) {
	start := time.Now()
	var result RebuildResult

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin rebuild tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := clearProjections(ctx, tx); err != nil {
		return result, err
	}

	envs, err := loadEnvelopes(ctx, tx)
	if err != nil {
		return result, err
	}
	sortEnvelopes(envs)

	for _, env := range envs {
		if err := m.project(ctx, tx, env); err != nil {
			if errors.Is(err, errMalformed) {
				result.Malformed++
				continue
			}
			return result, err
		}
	}
	result.EventCount = len(envs)

	if err := setMetaTx(ctx, tx, store.MetaLastRebuildTS, fmt.Sprintf("%d", time.Now().UnixMilli())); err != nil {
		return result, err
	}
	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("commit rebuild: %w", err)
	}
	result.DurationMS = time.Since(start).Milliseconds()
	return result, nil
}

// ReplayDelta projects the already-stored event rows whose event ids are
// in eventIDs (all rows when eventIDs is nil), in the same order Rebuild
// uses, without clearing anything. Used by the
// snapshot-accelerated rebuild path: restore the snapshot's projection,
// then replay only the events the snapshot had not seen.
func (m *Materializer) ReplayDelta(ctx context.Context, eventIDs map[string]bool) (RebuildResult, error) {
	start := time.Now()
	var result RebuildResult

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("begin replay tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	envs, err := loadEnvelopes(ctx, tx)
	if err != nil {
		return result, err
	}
	sortEnvelopes(envs)

	for _, env := range envs {
		if eventIDs != nil && !eventIDs[env.EventID.String()] {
			continue
		}
		if err := m.project(ctx, tx, env); err != nil {
			if errors.Is(err, errMalformed) {
				result.Malformed++
				continue
			}
			return result, err
		}
		result.EventCount++
	}

	if err := setMetaTx(ctx, tx, store.MetaLastRebuildTS, fmt.Sprintf("%d", time.Now().UnixMilli())); err != nil {
		return result, err
	}
	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("commit replay: %w", err)
	}
	result.DurationMS = time.Since(start).Milliseconds()
	return result, nil
}

func loadEnvelopes(ctx context.Context, tx *sql.Tx) ([]types.Envelope, error) {
	rows, err := tx.QueryContext(ctx, `SELECT blob FROM events`)
	if err != nil {
		return nil, fmt.Errorf("scan event log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var envs []types.Envelope
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan event blob: %w", err)
		}
		var env types.Envelope
		if err := canonical.Unmarshal(blob, &env); err != nil {
			// A row that can't even decode its envelope is dropped from
			// the replay; the raw bytes stay in the log untouched.
			continue
		}
		envs = append(envs, env)
	}
	return envs, rows.Err()
}

func sortEnvelopes(envs []types.Envelope) {
	sort.Slice(envs, func(i, j int) bool {
		if envs[i].Lamport != envs[j].Lamport {
			return envs[i].Lamport < envs[j].Lamport
		}
		if envs[i].ActorID != envs[j].ActorID {
			return envs[i].ActorID.Less(envs[j].ActorID)
		}
		return envs[i].Seq < envs[j].Seq
	})
}

func clearProjections(ctx context.Context, tx *sql.Tx) error {
	for _, table := range []string{
		"issues", "issue_labels_add", "issue_labels_tombstone",
		"issue_comments", "context_file", "context_project",
	} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

func advanceLamport(ctx context.Context, tx *sql.Tx, observed uint64) error {
	var current uint64
	err := tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, store.MetaLamport).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read lamport: %w", err)
	}
	if observed > current {
		return setMetaTx(ctx, tx, store.MetaLamport, fmt.Sprintf("%d", observed))
	}
	return nil
}

func setMetaTx(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// errMalformed marks an event whose payload could not be projected.
// Callers count it; they never fail on it.
var errMalformed = errors.New("malformed event payload")

func (m *Materializer) project(ctx context.Context, tx *sql.Tx, env types.Envelope) error {
	payload, err := types.DecodePayload(env)
	if err != nil {
		return errMalformed
	}

	switch p := payload.(type) {
	case types.IssueCreate:
		return applyIssueCreate(ctx, tx, env, p)
	case types.IssueFieldSet:
		return applyIssueFieldSet(ctx, tx, env, p)
	case types.IssueClose:
		return applyStateChange(ctx, tx, env, p.Version, "closed", &env.TS)
	case types.IssueReopen:
		return applyStateChange(ctx, tx, env, p.Version, "open", nil)
	case types.LabelAdd:
		return applyLabelAdd(ctx, tx, env, p)
	case types.LabelRemove:
		return applyLabelRemove(ctx, tx, env, p)
	case types.CommentAdd:
		return applyCommentAdd(ctx, tx, env, p)
	case types.CommentEdit:
		return applyCommentEdit(ctx, tx, env, p)
	case types.FileContextSet:
		return applyFileContextSet(ctx, tx, p)
	case types.ProjectContextSet:
		return applyProjectContextSet(ctx, tx, p)
	default:
		return errMalformed
	}
}

func versionOf(env types.Envelope) types.Version {
	return types.Version{Lamport: env.Lamport, ActorID: env.ActorID}
}

func parseActor(hex string) (identity.ID, error) {
	id, err := identity.ParseID(hex)
	if err != nil {
		return identity.ID{}, fmt.Errorf("stored actor id: %w", err)
	}
	return id, nil
}

// storedVersion reads a projected field's current Version. A zero
// Version (lamport 0, empty actor) loses to any real write.
func storedVersion(ctx context.Context, tx *sql.Tx, query string, args ...any) (exists bool, v types.Version, err error) {
	var lamport uint64
	var actorHex string
	err = tx.QueryRowContext(ctx, query, args...).Scan(&lamport, &actorHex)
	if err == sql.ErrNoRows {
		return false, types.Version{}, nil
	}
	if err != nil {
		return false, types.Version{}, fmt.Errorf("read stored version: %w", err)
	}
	v.Lamport = lamport
	if actorHex != "" {
		if v.ActorID, err = parseActor(actorHex); err != nil {
			return false, types.Version{}, err
		}
	}
	return true, v, nil
}

func applyIssueCreate(ctx context.Context, tx *sql.Tx, env types.Envelope, p types.IssueCreate) error {
	id := env.IssueID.String()
	ver := versionOf(env)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO issues (issue_id, created_by, created_at, created_lamport, created_actor,
			title, title_lamport, title_actor,
			body, body_lamport, body_actor,
			state, state_lamport, state_actor)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 'open', ?, ?)
		 ON CONFLICT (issue_id) DO NOTHING`,
		id, env.ActorID.String(), env.TS, ver.Lamport, ver.ActorID.String(),
		p.Title, ver.Lamport, ver.ActorID.String(),
		p.Body, ver.Lamport, ver.ActorID.String(),
		ver.Lamport, ver.ActorID.String(),
	)
	if err != nil {
		return fmt.Errorf("create issue %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if n > 0 {
		return nil
	}

	// Concurrent create for the same issue id: the recorded identity
	// converges on the create with the smallest Version (the causally
	// first creator), and the provided fields (title, body, and the
	// initial open state) merge under field LWW.
	_, created, err := storedVersion(ctx, tx,
		`SELECT created_lamport, created_actor FROM issues WHERE issue_id = ?`, id)
	if err != nil {
		return err
	}
	if ver.Less(created) {
		if _, err := tx.ExecContext(ctx,
			`UPDATE issues SET created_by = ?, created_at = ?, created_lamport = ?, created_actor = ? WHERE issue_id = ?`,
			env.ActorID.String(), env.TS, ver.Lamport, ver.ActorID.String(), id,
		); err != nil {
			return fmt.Errorf("merge issue identity: %w", err)
		}
	}
	if err := lwwSetIssueField(ctx, tx, id, "title", p.Title, ver); err != nil {
		return err
	}
	if err := lwwSetIssueField(ctx, tx, id, "body", p.Body, ver); err != nil {
		return err
	}
	return applyStateChange(ctx, tx, env, ver, "open", nil)
}

// issueFields whitelists the LWW scalar columns IssueFieldSet may touch.
var issueFields = map[string]bool{
	"title": true, "body": true, "priority": true, "issue_type": true, "assignee": true,
}

func applyIssueFieldSet(ctx context.Context, tx *sql.Tx, env types.Envelope, p types.IssueFieldSet) error {
	if !issueFields[p.Field] {
		return errMalformed
	}
	if err := ensureIssueStub(ctx, tx, env); err != nil {
		return err
	}
	return lwwSetIssueField(ctx, tx, env.IssueID.String(), p.Field, p.Value, p.Version)
}

func applyStateChange(ctx context.Context, tx *sql.Tx, env types.Envelope, ver types.Version, state string, closedAt *int64) error {
	if err := ensureIssueStub(ctx, tx, env); err != nil {
		return err
	}
	id := env.IssueID.String()
	_, stored, err := storedVersion(ctx, tx,
		`SELECT state_lamport, state_actor FROM issues WHERE issue_id = ?`, id)
	if err != nil {
		return err
	}
	if !stored.Less(ver) {
		return nil
	}
	var closed any
	if closedAt != nil {
		closed = *closedAt
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE issues SET state = ?, state_lamport = ?, state_actor = ?, closed_at = ? WHERE issue_id = ?`,
		state, ver.Lamport, ver.ActorID.String(), closed, id,
	); err != nil {
		return fmt.Errorf("set state on %s: %w", id, err)
	}
	return nil
}

func lwwSetIssueField(ctx context.Context, tx *sql.Tx, issueID, field, value string, ver types.Version) error {
	_, stored, err := storedVersion(ctx, tx,
		`SELECT `+field+`_lamport, `+field+`_actor FROM issues WHERE issue_id = ?`, issueID)
	if err != nil {
		return err
	}
	if !stored.Less(ver) {
		return nil
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE issues SET `+field+` = ?, `+field+`_lamport = ?, `+field+`_actor = ? WHERE issue_id = ?`,
		value, ver.Lamport, ver.ActorID.String(), issueID,
	)
	if err != nil {
		return fmt.Errorf("set %s on %s: %w", field, issueID, err)
	}
	return nil
}

// ensureIssueStub guarantees an issues row exists before a field-level
// event lands, so events arriving ahead of their IssueCreate (a normal
// outcome of merging histories) still have somewhere to project. The
// stub's identity columns carry the maximum Version so the real
// IssueCreate, whenever it arrives, always wins the identity merge.
func ensureIssueStub(ctx context.Context, tx *sql.Tx, env types.Envelope) error {
	const maxLamport = ^uint64(0) >> 1 // fits SQLite's signed 64-bit INTEGER
	_, err := tx.ExecContext(ctx,
		`INSERT INTO issues (issue_id, created_by, created_at, created_lamport, created_actor)
		 VALUES (?, '', 0, ?, 'ffffffffffffffffffffffffffffffff')
		 ON CONFLICT (issue_id) DO NOTHING`,
		env.IssueID.String(), int64(maxLamport),
	)
	if err != nil {
		return fmt.Errorf("ensure issue stub: %w", err)
	}
	return nil
}

func applyLabelAdd(ctx context.Context, tx *sql.Tx, env types.Envelope, p types.LabelAdd) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO issue_labels_add (issue_id, label, tag_event_id) VALUES (?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		env.IssueID.String(), p.Label, env.EventID.String(),
	)
	if err != nil {
		return fmt.Errorf("label add: %w", err)
	}
	return nil
}

func applyLabelRemove(ctx context.Context, tx *sql.Tx, _ types.Envelope, p types.LabelRemove) error {
	for _, tag := range p.ObservedTags {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO issue_labels_tombstone (tag_event_id) VALUES (?) ON CONFLICT DO NOTHING`,
			tag.String(),
		); err != nil {
			return fmt.Errorf("label remove tombstone: %w", err)
		}
	}
	return nil
}

func applyCommentAdd(ctx context.Context, tx *sql.Tx, env types.Envelope, p types.CommentAdd) error {
	ver := versionOf(env)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO issue_comments (issue_id, comment_id, body, body_lamport, body_actor, lamport, actor_id, event_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (comment_id) DO NOTHING`,
		env.IssueID.String(), env.EventID.String(),
		p.Body, ver.Lamport, ver.ActorID.String(),
		env.Lamport, env.ActorID.String(), env.EventID.String(),
	)
	if err != nil {
		return fmt.Errorf("comment add: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if n > 0 {
		return nil
	}

	// The row already exists because a CommentEdit arrived first and
	// left a placeholder. Fill in the sort keys (owned by the add) and
	// merge the body under LWW.
	if _, err := tx.ExecContext(ctx,
		`UPDATE issue_comments SET lamport = ?, actor_id = ? WHERE comment_id = ?`,
		env.Lamport, env.ActorID.String(), env.EventID.String(),
	); err != nil {
		return fmt.Errorf("fill comment sort keys: %w", err)
	}
	return lwwSetCommentBody(ctx, tx, env.EventID.String(), p.Body, ver)
}

func applyCommentEdit(ctx context.Context, tx *sql.Tx, env types.Envelope, p types.CommentEdit) error {
	commentID := p.CommentID.String()
	var exists int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM issue_comments WHERE comment_id = ?`, commentID).Scan(&exists)
	if err == sql.ErrNoRows {
		// Edit delivered before its CommentAdd: keep a placeholder so
		// the body LWW state survives; the add fills the sort keys.
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO issue_comments (issue_id, comment_id, body, body_lamport, body_actor, lamport, actor_id, event_id)
			 VALUES (?, ?, ?, ?, ?, 0, '', ?)`,
			env.IssueID.String(), commentID,
			p.Body, p.Version.Lamport, p.Version.ActorID.String(), commentID,
		); err != nil {
			return fmt.Errorf("comment edit placeholder: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("check comment: %w", err)
	}
	return lwwSetCommentBody(ctx, tx, commentID, p.Body, p.Version)
}

func lwwSetCommentBody(ctx context.Context, tx *sql.Tx, commentID, body string, ver types.Version) error {
	_, stored, err := storedVersion(ctx, tx,
		`SELECT body_lamport, body_actor FROM issue_comments WHERE comment_id = ?`, commentID)
	if err != nil {
		return err
	}
	if !stored.Less(ver) {
		return nil
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE issue_comments SET body = ?, body_lamport = ?, body_actor = ? WHERE comment_id = ?`,
		body, ver.Lamport, ver.ActorID.String(), commentID,
	)
	if err != nil {
		return fmt.Errorf("set comment body: %w", err)
	}
	return nil
}

func applyFileContextSet(ctx context.Context, tx *sql.Tx, p types.FileContextSet) error {
	_, stored, err := storedVersion(ctx, tx,
		`SELECT version_lamport, version_actor FROM context_file WHERE path = ?`, p.Path)
	if err != nil {
		return err
	}
	if !stored.Less(p.Version) {
		return nil
	}
	symbols, err := json.Marshal(p.Symbols)
	if err != nil {
		return errMalformed
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO context_file (path, language, symbols_json, summary, content_hash, version_lamport, version_actor)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (path) DO UPDATE SET
			language = excluded.language, symbols_json = excluded.symbols_json,
			summary = excluded.summary, content_hash = excluded.content_hash,
			version_lamport = excluded.version_lamport, version_actor = excluded.version_actor`,
		p.Path, p.Language, string(symbols), p.Summary, p.ContentHash[:],
		p.Version.Lamport, p.Version.ActorID.String(),
	)
	if err != nil {
		return fmt.Errorf("set file context %s: %w", p.Path, err)
	}
	return nil
}

func applyProjectContextSet(ctx context.Context, tx *sql.Tx, p types.ProjectContextSet) error {
	_, stored, err := storedVersion(ctx, tx,
		`SELECT version_lamport, version_actor FROM context_project WHERE key = ?`, p.Key)
	if err != nil {
		return err
	}
	if !stored.Less(p.Version) {
		return nil
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO context_project (key, value, version_lamport, version_actor)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			version_lamport = excluded.version_lamport, version_actor = excluded.version_actor`,
		p.Key, p.Value, p.Version.Lamport, p.Version.ActorID.String(),
	)
	if err != nil {
		return fmt.Errorf("set project context %s: %w", p.Key, err)
	}
	return nil
}
