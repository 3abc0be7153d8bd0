package store

import (
	"context"
	"database/sql"
	"fmt"
)

// FieldVersion is a stored LWW write key: the lamport counter and actor
// hex id of the write that currently owns a field.
type FieldVersion struct {
	Lamport uint64 `json:"lamport"`
	Actor   string `json:"actor_id"`
}

// Less reports whether v is strictly ordered before other: lower lamport
// first, then lower actor id on a tie.
func (v FieldVersion) Less(other FieldVersion) bool {
	if v.Lamport != other.Lamport {
		return v.Lamport < other.Lamport
	}
	return v.Actor < other.Actor
}

// Issue is the projected read model for one issue aggregate.
type Issue struct {
	ID        string `json:"id"`
	CreatedBy string `json:"created_by"`
	CreatedAt int64  `json:"created_at"`

	Title            string       `json:"title"`
	TitleVersion     FieldVersion `json:"title_version"`
	Body             string       `json:"body"`
	BodyVersion      FieldVersion `json:"body_version"`
	State            string       `json:"state"`
	StateVersion     FieldVersion `json:"state_version"`
	Priority         string       `json:"priority,omitempty"`
	PriorityVersion  FieldVersion `json:"priority_version"`
	IssueType        string       `json:"issue_type,omitempty"`
	IssueTypeVersion FieldVersion `json:"issue_type_version"`
	Assignee         string       `json:"assignee,omitempty"`
	AssigneeVersion  FieldVersion `json:"assignee_version"`

	Labels   []string  `json:"labels"`
	Comments []Comment `json:"comments,omitempty"`
	ClosedAt *int64    `json:"closed_at,omitempty"`
}

// Comment is one projected comment, ordered within its issue by
// (lamport, actor_id, event_id).
type Comment struct {
	ID          string       `json:"id"`
	IssueID     string       `json:"issue_id"`
	Body        string       `json:"body"`
	BodyVersion FieldVersion `json:"body_version"`
	Lamport     uint64       `json:"lamport"`
	ActorID     string       `json:"actor_id"`
	EventID     string       `json:"event_id"`
}

// FileContext is the projected per-path context record.
type FileContext struct {
	Path        string       `json:"path"`
	Language    string       `json:"language,omitempty"`
	SymbolsJSON string       `json:"symbols,omitempty"`
	Summary     string       `json:"summary,omitempty"`
	ContentHash []byte       `json:"content_hash,omitempty"`
	Version     FieldVersion `json:"version"`
}

// ProjectEntry is one key of the project-wide LWW map.
type ProjectEntry struct {
	Key     string       `json:"key"`
	Value   string       `json:"value"`
	Version FieldVersion `json:"version"`
}

const issueColumns = `issue_id, created_by, created_at,
	title, title_lamport, title_actor,
	body, body_lamport, body_actor,
	state, state_lamport, state_actor,
	priority, priority_lamport, priority_actor,
	issue_type, issue_type_lamport, issue_type_actor,
	assignee, assignee_lamport, assignee_actor,
	closed_at`

func scanIssue(scan func(...any) error) (Issue, error) {
	var is Issue
	var closedAt sql.NullInt64
	err := scan(
		&is.ID, &is.CreatedBy, &is.CreatedAt,
		&is.Title, &is.TitleVersion.Lamport, &is.TitleVersion.Actor,
		&is.Body, &is.BodyVersion.Lamport, &is.BodyVersion.Actor,
		&is.State, &is.StateVersion.Lamport, &is.StateVersion.Actor,
		&is.Priority, &is.PriorityVersion.Lamport, &is.PriorityVersion.Actor,
		&is.IssueType, &is.IssueTypeVersion.Lamport, &is.IssueTypeVersion.Actor,
		&is.Assignee, &is.AssigneeVersion.Lamport, &is.AssigneeVersion.Actor,
		&closedAt,
	)
	if err != nil {
		return Issue{}, err
	}
	if closedAt.Valid {
		is.ClosedAt = &closedAt.Int64
	}
	return is, nil
}

// GetIssue loads one issue with its live labels and ordered comments.
// Returns (nil, nil) when the issue doesn't exist.
func GetIssue(ctx context.Context, db *DB, issueID string) (*Issue, error) {
	row := db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE issue_id = ?`, issueID)
	is, err := scanIssue(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get issue %s: %w", issueID, err)
	}
	if is.Labels, err = IssueLabels(ctx, db, issueID); err != nil {
		return nil, err
	}
	if is.Comments, err = IssueComments(ctx, db, issueID); err != nil {
		return nil, err
	}
	return &is, nil
}

// IssueLabels computes the OR-Set read state for one issue: every label
// with at least one add-tag that has not been tombstoned.
func IssueLabels(ctx context.Context, db *DB, issueID string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT DISTINCT a.label FROM issue_labels_add a
		 WHERE a.issue_id = ?
		   AND NOT EXISTS (SELECT 1 FROM issue_labels_tombstone t WHERE t.tag_event_id = a.tag_event_id)
		 ORDER BY a.label`,
		issueID,
	)
	if err != nil {
		return nil, fmt.Errorf("query labels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	labels := []string{}
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}

// LiveLabelTags returns the non-tombstoned add-tags currently backing a
// label on an issue — the observed-tags set a LabelRemove event must
// carry to take effect.
func LiveLabelTags(ctx context.Context, db *DB, issueID, label string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT a.tag_event_id FROM issue_labels_add a
		 WHERE a.issue_id = ? AND a.label = ?
		   AND NOT EXISTS (SELECT 1 FROM issue_labels_tombstone t WHERE t.tag_event_id = a.tag_event_id)`,
		issueID, label,
	)
	if err != nil {
		return nil, fmt.Errorf("query label tags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan label tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// IssueComments returns an issue's comments in their CRDT display order.
func IssueComments(ctx context.Context, db *DB, issueID string) ([]Comment, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT comment_id, issue_id, body, body_lamport, body_actor, lamport, actor_id, event_id
		 FROM issue_comments WHERE issue_id = ?
		 ORDER BY lamport, actor_id, event_id`,
		issueID,
	)
	if err != nil {
		return nil, fmt.Errorf("query comments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var comments []Comment
	for rows.Next() {
		var c Comment
		if err := rows.Scan(&c.ID, &c.IssueID, &c.Body, &c.BodyVersion.Lamport, &c.BodyVersion.Actor, &c.Lamport, &c.ActorID, &c.EventID); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// ListFilters narrows ListIssues. Zero values mean "no filter".
type ListFilters struct {
	State string
	Label string
}

// ListIssues returns issues matching filters, newest first, with labels
// populated (comments are omitted from list views; use GetIssue).
func ListIssues(ctx context.Context, db *DB, f ListFilters) ([]Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues`
	var args []any
	var where []string
	if f.State != "" {
		where = append(where, `state = ?`)
		args = append(args, f.State)
	}
	if f.Label != "" {
		where = append(where, `issue_id IN (
			SELECT a.issue_id FROM issue_labels_add a
			WHERE a.label = ?
			  AND NOT EXISTS (SELECT 1 FROM issue_labels_tombstone t WHERE t.tag_event_id = a.tag_event_id))`)
		args = append(args, f.Label)
	}
	for i, w := range where {
		if i == 0 {
			query += ` WHERE ` + w
		} else {
			query += ` AND ` + w
		}
	}
	query += ` ORDER BY created_at DESC, issue_id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []Issue
	for rows.Next() {
		is, err := scanIssue(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, is)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues: %w", err)
	}
	for i := range issues {
		if issues[i].Labels, err = IssueLabels(ctx, db, issues[i].ID); err != nil {
			return nil, err
		}
	}
	return issues, nil
}

// GetFileContext loads one path's context record, (nil, nil) if unset.
func GetFileContext(ctx context.Context, db *DB, path string) (*FileContext, error) {
	var fc FileContext
	err := db.QueryRowContext(ctx,
		`SELECT path, language, symbols_json, summary, content_hash, version_lamport, version_actor
		 FROM context_file WHERE path = ?`, path,
	).Scan(&fc.Path, &fc.Language, &fc.SymbolsJSON, &fc.Summary, &fc.ContentHash, &fc.Version.Lamport, &fc.Version.Actor)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get file context %s: %w", path, err)
	}
	return &fc, nil
}

// ListFileContexts returns every file context record, ordered by path.
func ListFileContexts(ctx context.Context, db *DB) ([]FileContext, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT path, language, symbols_json, summary, content_hash, version_lamport, version_actor
		 FROM context_file ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("list file contexts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []FileContext
	for rows.Next() {
		var fc FileContext
		if err := rows.Scan(&fc.Path, &fc.Language, &fc.SymbolsJSON, &fc.Summary, &fc.ContentHash, &fc.Version.Lamport, &fc.Version.Actor); err != nil {
			return nil, fmt.Errorf("scan file context: %w", err)
		}
		out = append(out, fc)
	}
	return out, rows.Err()
}

// GetProjectEntry loads one project-context key, (nil, nil) if unset.
func GetProjectEntry(ctx context.Context, db *DB, key string) (*ProjectEntry, error) {
	var e ProjectEntry
	err := db.QueryRowContext(ctx,
		`SELECT key, value, version_lamport, version_actor FROM context_project WHERE key = ?`, key,
	).Scan(&e.Key, &e.Value, &e.Version.Lamport, &e.Version.Actor)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project entry %s: %w", key, err)
	}
	return &e, nil
}

// ListProjectEntries returns the whole project-context map, ordered by key.
func ListProjectEntries(ctx context.Context, db *DB) ([]ProjectEntry, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT key, value, version_lamport, version_actor FROM context_project ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list project entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ProjectEntry
	for rows.Next() {
		var e ProjectEntry
		if err := rows.Scan(&e.Key, &e.Value, &e.Version.Lamport, &e.Version.Actor); err != nil {
			return nil, fmt.Errorf("scan project entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
