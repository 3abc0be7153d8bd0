// Package snapshot writes and restores compacted views of the
// materialized state under refs/grit/snapshots/<unix_ms>, so a rebuild
// can start from a known-good projection and replay only the WAL delta.
// Snapshot commits are built with the same no-working-tree plumbing as
// the WAL (hash-object, mktree, commit-tree).
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/leonletto/grit/internal/gitplumb"
	"github.com/leonletto/grit/internal/giterrors"
	"github.com/leonletto/grit/internal/identity"
	"github.com/leonletto/grit/internal/store"
	"github.com/leonletto/grit/internal/wal"
)

// Meta is the snapshot's meta.json: which WAL position the snapshot
// reflects and who wrote it.
type Meta struct {
	WalHead    string `json:"wal_head"`
	EventCount int64  `json:"event_count"`
	CreatedAt  int64  `json:"created_at"`
	ActorID    string `json:"actor_id"`
}

// Info pairs a snapshot ref with its parsed meta.
type Info struct {
	Ref       string
	SHA       string
	CreatedMS int64
	Meta      Meta
}

// table row shapes serialized into the snapshot tree, one JSON file per
// projection table. These mirror the LocalStore schema columns exactly
// so Restore is a plain row-for-row reload.

type issueRow struct {
	IssueID          string `json:"issue_id"`
	CreatedBy        string `json:"created_by"`
	CreatedAt        int64  `json:"created_at"`
	CreatedLamport   uint64 `json:"created_lamport"`
	CreatedActor     string `json:"created_actor"`
	Title            string `json:"title"`
	TitleLamport     uint64 `json:"title_lamport"`
	TitleActor       string `json:"title_actor"`
	Body             string `json:"body"`
	BodyLamport      uint64 `json:"body_lamport"`
	BodyActor        string `json:"body_actor"`
	State            string `json:"state"`
	StateLamport     uint64 `json:"state_lamport"`
	StateActor       string `json:"state_actor"`
	Priority         string `json:"priority"`
	PriorityLamport  uint64 `json:"priority_lamport"`
	PriorityActor    string `json:"priority_actor"`
	IssueType        string `json:"issue_type"`
	IssueTypeLamport uint64 `json:"issue_type_lamport"`
	IssueTypeActor   string `json:"issue_type_actor"`
	Assignee         string `json:"assignee"`
	AssigneeLamport  uint64 `json:"assignee_lamport"`
	AssigneeActor    string `json:"assignee_actor"`
	ClosedAt         *int64 `json:"closed_at,omitempty"`
}

type labelAddRow struct {
	IssueID    string `json:"issue_id"`
	Label      string `json:"label"`
	TagEventID string `json:"tag_event_id"`
}

type commentRow struct {
	IssueID     string `json:"issue_id"`
	CommentID   string `json:"comment_id"`
	Body        string `json:"body"`
	BodyLamport uint64 `json:"body_lamport"`
	BodyActor   string `json:"body_actor"`
	Lamport     uint64 `json:"lamport"`
	ActorID     string `json:"actor_id"`
	EventID     string `json:"event_id"`
}

type fileContextRow struct {
	Path           string `json:"path"`
	Language       string `json:"language"`
	SymbolsJSON    string `json:"symbols_json"`
	Summary        string `json:"summary"`
	ContentHash    []byte `json:"content_hash"`
	VersionLamport uint64 `json:"version_lamport"`
	VersionActor   string `json:"version_actor"`
}

type projectRow struct {
	Key            string `json:"key"`
	Value          string `json:"value"`
	VersionLamport uint64 `json:"version_lamport"`
	VersionActor   string `json:"version_actor"`
}

type state struct {
	Issues     []issueRow
	LabelAdds  []labelAddRow
	Tombstones []string
	Comments   []commentRow
	Files      []fileContextRow
	Project    []projectRow
}

// Write captures the store's current projection as a snapshot commit and
// returns the created ref name. walHead is the WAL tip the projection
// reflects; it is recorded in meta.json and later compared with
// merge-base --is-ancestor during rebuild.
func Write(ctx context.Context, repoRoot string, db *store.DB, actor identity.ID, walHead string) (string, error) {
	st, err := dump(ctx, db)
	if err != nil {
		return "", err
	}

	var eventCount int64
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&eventCount); err != nil {
		return "", fmt.Errorf("snapshot: count events: %w", err)
	}

	now := time.Now().UTC()
	meta := Meta{
		WalHead:    walHead,
		EventCount: eventCount,
		CreatedAt:  now.UnixMilli(),
		ActorID:    actor.String(),
	}

	files := map[string]any{
		"issues.json":           st.Issues,
		"labels_add.json":       st.LabelAdds,
		"labels_tombstone.json": st.Tombstones,
		"comments.json":         st.Comments,
		"context_file.json":     st.Files,
		"context_project.json":  st.Project,
		"meta.json":             meta,
	}

	var entries []string
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := json.MarshalIndent(files[name], "", "  ")
		if err != nil {
			return "", giterrors.Serde("snapshot "+name, err)
		}
		blobOut, err := gitplumb.GitStdin(ctx, repoRoot, data, "hash-object", "-w", "--stdin")
		if err != nil {
			return "", giterrors.Git("hash-object", err)
		}
		entries = append(entries, fmt.Sprintf("100644 blob %s\t%s", strings.TrimSpace(string(blobOut)), name))
	}

	treeOut, err := gitplumb.GitStdin(ctx, repoRoot, []byte(strings.Join(entries, "\n")+"\n"), "mktree")
	if err != nil {
		return "", giterrors.Git("mktree", err)
	}
	treeSHA := strings.TrimSpace(string(treeOut))

	msg := fmt.Sprintf("grit-snapshot v1 actor=%s events=%d", actor.String(), eventCount)
	commitOut, err := gitplumb.Git(ctx, repoRoot, "commit-tree", treeSHA, "-m", msg)
	if err != nil {
		return "", giterrors.Git("commit-tree", err)
	}
	sha := strings.TrimSpace(string(commitOut))

	ref := wal.SnapshotRefPrefix + strconv.FormatInt(now.UnixMilli(), 10)
	if _, err := gitplumb.Git(ctx, repoRoot, "update-ref", ref, sha); err != nil {
		return "", giterrors.Git("update-ref", err)
	}
	return ref, nil
}

func dump(ctx context.Context, db *store.DB) (state, error) {
	var st state

	err := scanRows(ctx, db, `SELECT issue_id, created_by, created_at, created_lamport, created_actor,
			title, title_lamport, title_actor, body, body_lamport, body_actor,
			state, state_lamport, state_actor, priority, priority_lamport, priority_actor,
			issue_type, issue_type_lamport, issue_type_actor, assignee, assignee_lamport, assignee_actor,
			closed_at FROM issues`,
		func(rows *sql.Rows) error {
			var r issueRow
			var closedAt sql.NullInt64
			if err := rows.Scan(&r.IssueID, &r.CreatedBy, &r.CreatedAt, &r.CreatedLamport, &r.CreatedActor,
				&r.Title, &r.TitleLamport, &r.TitleActor, &r.Body, &r.BodyLamport, &r.BodyActor,
				&r.State, &r.StateLamport, &r.StateActor, &r.Priority, &r.PriorityLamport, &r.PriorityActor,
				&r.IssueType, &r.IssueTypeLamport, &r.IssueTypeActor, &r.Assignee, &r.AssigneeLamport, &r.AssigneeActor,
				&closedAt); err != nil {
				return err
			}
			if closedAt.Valid {
				r.ClosedAt = &closedAt.Int64
			}
			st.Issues = append(st.Issues, r)
			return nil
		})
	if err != nil {
		return st, fmt.Errorf("snapshot issues: %w", err)
	}

	err = scanRows(ctx, db, `SELECT issue_id, label, tag_event_id FROM issue_labels_add`,
		func(rows *sql.Rows) error {
			var r labelAddRow
			if err := rows.Scan(&r.IssueID, &r.Label, &r.TagEventID); err != nil {
				return err
			}
			st.LabelAdds = append(st.LabelAdds, r)
			return nil
		})
	if err != nil {
		return st, fmt.Errorf("snapshot label adds: %w", err)
	}

	err = scanRows(ctx, db, `SELECT tag_event_id FROM issue_labels_tombstone`,
		func(rows *sql.Rows) error {
			var tag string
			if err := rows.Scan(&tag); err != nil {
				return err
			}
			st.Tombstones = append(st.Tombstones, tag)
			return nil
		})
	if err != nil {
		return st, fmt.Errorf("snapshot tombstones: %w", err)
	}

	err = scanRows(ctx, db, `SELECT issue_id, comment_id, body, body_lamport, body_actor, lamport, actor_id, event_id FROM issue_comments`,
		func(rows *sql.Rows) error {
			var r commentRow
			if err := rows.Scan(&r.IssueID, &r.CommentID, &r.Body, &r.BodyLamport, &r.BodyActor, &r.Lamport, &r.ActorID, &r.EventID); err != nil {
				return err
			}
			st.Comments = append(st.Comments, r)
			return nil
		})
	if err != nil {
		return st, fmt.Errorf("snapshot comments: %w", err)
	}

	err = scanRows(ctx, db, `SELECT path, language, symbols_json, summary, content_hash, version_lamport, version_actor FROM context_file`,
		func(rows *sql.Rows) error {
			var r fileContextRow
			if err := rows.Scan(&r.Path, &r.Language, &r.SymbolsJSON, &r.Summary, &r.ContentHash, &r.VersionLamport, &r.VersionActor); err != nil {
				return err
			}
			st.Files = append(st.Files, r)
			return nil
		})
	if err != nil {
		return st, fmt.Errorf("snapshot file context: %w", err)
	}

	err = scanRows(ctx, db, `SELECT key, value, version_lamport, version_actor FROM context_project`,
		func(rows *sql.Rows) error {
			var r projectRow
			if err := rows.Scan(&r.Key, &r.Value, &r.VersionLamport, &r.VersionActor); err != nil {
				return err
			}
			st.Project = append(st.Project, r)
			return nil
		})
	if err != nil {
		return st, fmt.Errorf("snapshot project context: %w", err)
	}

	return st, nil
}

func scanRows(ctx context.Context, db *store.DB, query string, scan func(*sql.Rows) error) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// List returns every snapshot, newest first.
func List(ctx context.Context, repoRoot string) ([]Info, error) {
	out, err := gitplumb.Git(ctx, repoRoot, "for-each-ref", "--format=%(refname) %(objectname)", wal.SnapshotRefPrefix)
	if err != nil {
		return nil, giterrors.Git("for-each-ref", err)
	}

	var infos []Info
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			continue
		}
		ms, err := strconv.ParseInt(strings.TrimPrefix(parts[0], wal.SnapshotRefPrefix), 10, 64)
		if err != nil {
			continue
		}
		infos = append(infos, Info{Ref: parts[0], SHA: parts[1], CreatedMS: ms})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedMS > infos[j].CreatedMS })

	for i := range infos {
		meta, err := readMeta(ctx, repoRoot, infos[i].SHA)
		if err != nil {
			continue
		}
		infos[i].Meta = meta
	}
	return infos, nil
}

func readMeta(ctx context.Context, repoRoot, sha string) (Meta, error) {
	out, err := gitplumb.Git(ctx, repoRoot, "show", sha+":meta.json")
	if err != nil {
		return Meta{}, giterrors.Git("show meta.json", err)
	}
	var meta Meta
	if err := json.Unmarshal(out, &meta); err != nil {
		return Meta{}, giterrors.Serde("snapshot meta.json", err)
	}
	return meta, nil
}

// NewestUsable returns the newest snapshot whose recorded wal_head is an
// ancestor of (or equal to) walTip, or nil when no snapshot qualifies.
func NewestUsable(ctx context.Context, repoRoot, walTip string) (*Info, error) {
	infos, err := List(ctx, repoRoot)
	if err != nil {
		return nil, err
	}
	for i := range infos {
		if infos[i].Meta.WalHead == "" {
			continue
		}
		ok, err := wal.IsAncestor(ctx, repoRoot, infos[i].Meta.WalHead, walTip)
		if err != nil {
			return nil, err
		}
		if ok {
			return &infos[i], nil
		}
	}
	return nil, nil
}

// Restore replaces the store's projection tables with the state captured
// in the snapshot commit sha, inside one transaction.
func Restore(ctx context.Context, repoRoot string, db *store.DB, sha string) error {
	read := func(name string, v any) error {
		out, err := gitplumb.Git(ctx, repoRoot, "show", sha+":"+name)
		if err != nil {
			return giterrors.Git("show "+name, err)
		}
		if err := json.Unmarshal(out, v); err != nil {
			return giterrors.Serde("snapshot "+name, err)
		}
		return nil
	}

	var issues []issueRow
	var labelAdds []labelAddRow
	var tombstones []string
	var comments []commentRow
	var files []fileContextRow
	var project []projectRow
	for name, v := range map[string]any{
		"issues.json":           &issues,
		"labels_add.json":       &labelAdds,
		"labels_tombstone.json": &tombstones,
		"comments.json":         &comments,
		"context_file.json":     &files,
		"context_project.json":  &project,
	} {
		if err := read(name, v); err != nil {
			return err
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin restore tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{
		"issues", "issue_labels_add", "issue_labels_tombstone",
		"issue_comments", "context_file", "context_project",
	} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, r := range issues {
		var closedAt any
		if r.ClosedAt != nil {
			closedAt = *r.ClosedAt
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO issues (issue_id, created_by, created_at, created_lamport, created_actor,
				title, title_lamport, title_actor, body, body_lamport, body_actor,
				state, state_lamport, state_actor, priority, priority_lamport, priority_actor,
				issue_type, issue_type_lamport, issue_type_actor, assignee, assignee_lamport, assignee_actor, closed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.IssueID, r.CreatedBy, r.CreatedAt, r.CreatedLamport, r.CreatedActor,
			r.Title, r.TitleLamport, r.TitleActor, r.Body, r.BodyLamport, r.BodyActor,
			r.State, r.StateLamport, r.StateActor, r.Priority, r.PriorityLamport, r.PriorityActor,
			r.IssueType, r.IssueTypeLamport, r.IssueTypeActor, r.Assignee, r.AssigneeLamport, r.AssigneeActor, closedAt,
		); err != nil {
			return fmt.Errorf("restore issue %s: %w", r.IssueID, err)
		}
	}
	for _, r := range labelAdds {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO issue_labels_add (issue_id, label, tag_event_id) VALUES (?, ?, ?)`,
			r.IssueID, r.Label, r.TagEventID); err != nil {
			return fmt.Errorf("restore label add: %w", err)
		}
	}
	for _, tag := range tombstones {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO issue_labels_tombstone (tag_event_id) VALUES (?)`, tag); err != nil {
			return fmt.Errorf("restore tombstone: %w", err)
		}
	}
	for _, r := range comments {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO issue_comments (issue_id, comment_id, body, body_lamport, body_actor, lamport, actor_id, event_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.IssueID, r.CommentID, r.Body, r.BodyLamport, r.BodyActor, r.Lamport, r.ActorID, r.EventID); err != nil {
			return fmt.Errorf("restore comment: %w", err)
		}
	}
	for _, r := range files {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO context_file (path, language, symbols_json, summary, content_hash, version_lamport, version_actor)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.Path, r.Language, r.SymbolsJSON, r.Summary, r.ContentHash, r.VersionLamport, r.VersionActor); err != nil {
			return fmt.Errorf("restore file context: %w", err)
		}
	}
	for _, r := range project {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO context_project (key, value, version_lamport, version_actor) VALUES (?, ?, ?, ?)`,
			r.Key, r.Value, r.VersionLamport, r.VersionActor); err != nil {
			return fmt.Errorf("restore project context: %w", err)
		}
	}

	return tx.Commit()
}

// GC deletes all but the newest keep snapshots. Retention is a flat
// newest-K policy.
func GC(ctx context.Context, repoRoot string, keep int) (deleted int, err error) {
	infos, err := List(ctx, repoRoot)
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	for i := keep; i < len(infos); i++ {
		if _, err := gitplumb.Git(ctx, repoRoot, "update-ref", "-d", infos[i].Ref); err != nil {
			return deleted, giterrors.Git("update-ref -d", err)
		}
		deleted++
	}
	return deleted, nil
}
