package worker

import (
	"context"
	"fmt"

	"github.com/leonletto/grit/internal/identity"
	"github.com/leonletto/grit/internal/store"
	"github.com/leonletto/grit/internal/types"
)

// CreateIssue appends an IssueCreate event with a freshly generated
// issue id and returns the projected issue.
func (w *Worker) CreateIssue(ctx context.Context, title, body string) (*store.Issue, error) {
	issueID, err := identity.NewRandomID()
	if err != nil {
		return nil, err
	}
	_, err = w.append(ctx, issueID, types.KindIssueCreate, func(types.Version) any {
		return types.IssueCreate{Title: title, Body: body}
	})
	if err != nil {
		return nil, err
	}
	return store.GetIssue(ctx, w.db, issueID.String())
}

// SetField writes one LWW scalar field ("title", "body", "priority",
// "issue_type", "assignee") on an issue.
func (w *Worker) SetField(ctx context.Context, issueID identity.ID, field, value string) error {
	_, err := w.append(ctx, issueID, types.KindIssueFieldSet, func(ver types.Version) any {
		return types.IssueFieldSet{Field: field, Value: value, Version: ver}
	})
	return err
}

// CloseIssue transitions an issue to closed under state LWW.
func (w *Worker) CloseIssue(ctx context.Context, issueID identity.ID) error {
	_, err := w.append(ctx, issueID, types.KindIssueClose, func(ver types.Version) any {
		return types.IssueClose{Version: ver}
	})
	return err
}

// ReopenIssue transitions an issue back to open under state LWW.
func (w *Worker) ReopenIssue(ctx context.Context, issueID identity.ID) error {
	_, err := w.append(ctx, issueID, types.KindIssueReopen, func(ver types.Version) any {
		return types.IssueReopen{Version: ver}
	})
	return err
}

// AddLabel adds a label to an issue; the event's own id becomes the
// OR-Set add-tag.
func (w *Worker) AddLabel(ctx context.Context, issueID identity.ID, label string) error {
	_, err := w.append(ctx, issueID, types.KindLabelAdd, func(types.Version) any {
		return types.LabelAdd{Label: label}
	})
	return err
}

// RemoveLabel removes a label, tombstoning exactly the add-tags this
// worker has observed; a concurrent add it has not seen survives.
func (w *Worker) RemoveLabel(ctx context.Context, issueID identity.ID, label string) error {
	tags, err := store.LiveLabelTags(ctx, w.db, issueID.String(), label)
	if err != nil {
		return err
	}
	if len(tags) == 0 {
		return fmt.Errorf("label %q not set on issue %s", label, issueID)
	}
	observed := make([]identity.ID, 0, len(tags))
	for _, tag := range tags {
		id, err := identity.ParseID(tag)
		if err != nil {
			return err
		}
		observed = append(observed, id)
	}
	_, err = w.append(ctx, issueID, types.KindLabelRemove, func(types.Version) any {
		return types.LabelRemove{Label: label, ObservedTags: observed}
	})
	return err
}

// Comment appends a comment; the comment's id is the event's id.
func (w *Worker) Comment(ctx context.Context, issueID identity.ID, body string) (identity.ID, error) {
	env, err := w.append(ctx, issueID, types.KindCommentAdd, func(types.Version) any {
		return types.CommentAdd{Body: body}
	})
	if err != nil {
		return identity.ID{}, err
	}
	return env.EventID, nil
}

// EditComment rewrites a comment's body under its own LWW Version.
func (w *Worker) EditComment(ctx context.Context, issueID, commentID identity.ID, body string) error {
	_, err := w.append(ctx, issueID, types.KindCommentEdit, func(ver types.Version) any {
		return types.CommentEdit{CommentID: commentID, Body: body, Version: ver}
	})
	return err
}

// SetFileContext records a file's context metadata, keyed by its derived
// context id.
func (w *Worker) SetFileContext(ctx context.Context, path, language string, symbols []string, summary string, contentHash [32]byte) error {
	_, err := w.append(ctx, identity.FileContextID(path), types.KindFileContextSet, func(ver types.Version) any {
		return types.FileContextSet{
			Path:        path,
			Language:    language,
			Symbols:     symbols,
			Summary:     summary,
			ContentHash: contentHash,
			Version:     ver,
		}
	})
	return err
}

// SetProjectContext writes one key of the project-wide LWW map, targeting
// the sentinel project-context aggregate.
func (w *Worker) SetProjectContext(ctx context.Context, key, value string) error {
	_, err := w.append(ctx, identity.ProjectContext, types.KindProjectContextSet, func(ver types.Version) any {
		return types.ProjectContextSet{Key: key, Value: value, Version: ver}
	})
	return err
}

// ListIssues reads matching issues directly from the store.
func (w *Worker) ListIssues(ctx context.Context, f store.ListFilters) ([]store.Issue, error) {
	return store.ListIssues(ctx, w.db, f)
}

// GetIssue reads one issue (with labels and comments) from the store.
func (w *Worker) GetIssue(ctx context.Context, issueID identity.ID) (*store.Issue, error) {
	return store.GetIssue(ctx, w.db, issueID.String())
}
