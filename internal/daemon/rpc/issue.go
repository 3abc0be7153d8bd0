package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/leonletto/grit/internal/identity"
	"github.com/leonletto/grit/internal/store"
)

type issueCreateRequest struct {
	Target
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels,omitempty"`
}

// IssueCreate appends an IssueCreate event (plus a LabelAdd per initial
// label) and returns the projected issue.
func (h *Handlers) IssueCreate(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[issueCreateRequest](params)
	if err != nil {
		return respond(nil, err)
	}
	if req.Title == "" {
		return respond(nil, fmt.Errorf("title is required"))
	}
	w, err := h.resolve(ctx, req.Target)
	if err != nil {
		return respond(nil, err)
	}

	issue, err := w.CreateIssue(ctx, req.Title, req.Body)
	if err != nil {
		return respond(nil, err)
	}
	issueID, err := identity.ParseID(issue.ID)
	if err != nil {
		return respond(nil, err)
	}
	for _, label := range req.Labels {
		if err := w.AddLabel(ctx, issueID, label); err != nil {
			return respond(nil, err)
		}
	}
	issue, err = w.GetIssue(ctx, issueID)
	return respond(issue, err)
}

type issueCommentRequest struct {
	Target
	IssueID   string `json:"issue_id"`
	Body      string `json:"body"`
	CommentID string `json:"comment_id,omitempty"` // set for edits
}

// IssueComment adds a comment, or edits one when comment_id is given.
func (h *Handlers) IssueComment(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[issueCommentRequest](params)
	if err != nil {
		return respond(nil, err)
	}
	w, err := h.resolve(ctx, req.Target)
	if err != nil {
		return respond(nil, err)
	}
	issueID, err := identity.ParseID(req.IssueID)
	if err != nil {
		return respond(nil, fmt.Errorf("bad issue_id: %w", err))
	}

	if req.CommentID != "" {
		commentID, err := identity.ParseID(req.CommentID)
		if err != nil {
			return respond(nil, fmt.Errorf("bad comment_id: %w", err))
		}
		err = w.EditComment(ctx, issueID, commentID, req.Body)
		return respond(map[string]string{"comment_id": req.CommentID}, err)
	}

	commentID, err := w.Comment(ctx, issueID, req.Body)
	if err != nil {
		return respond(nil, err)
	}
	return respond(map[string]string{"comment_id": commentID.String()}, nil)
}

type issueSetFieldRequest struct {
	Target
	IssueID string `json:"issue_id"`
	Field   string `json:"field"`
	Value   string `json:"value"`
}

// IssueSetField writes one LWW scalar field (title, body, priority,
// issue_type, assignee) and returns the updated issue.
func (h *Handlers) IssueSetField(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[issueSetFieldRequest](params)
	if err != nil {
		return respond(nil, err)
	}
	w, err := h.resolve(ctx, req.Target)
	if err != nil {
		return respond(nil, err)
	}
	issueID, err := identity.ParseID(req.IssueID)
	if err != nil {
		return respond(nil, fmt.Errorf("bad issue_id: %w", err))
	}
	if err := w.SetField(ctx, issueID, req.Field, req.Value); err != nil {
		return respond(nil, err)
	}
	issue, err := w.GetIssue(ctx, issueID)
	return respond(issue, err)
}

type issueIDRequest struct {
	Target
	IssueID string `json:"issue_id"`
}

// IssueClose closes an issue.
func (h *Handlers) IssueClose(ctx context.Context, params json.RawMessage) (any, error) {
	return h.issueStateChange(ctx, params, func(ctx context.Context, w issueStateChanger, id identity.ID) error {
		return w.CloseIssue(ctx, id)
	})
}

// IssueReopen reopens a closed issue.
func (h *Handlers) IssueReopen(ctx context.Context, params json.RawMessage) (any, error) {
	return h.issueStateChange(ctx, params, func(ctx context.Context, w issueStateChanger, id identity.ID) error {
		return w.ReopenIssue(ctx, id)
	})
}

type issueStateChanger interface {
	CloseIssue(ctx context.Context, id identity.ID) error
	ReopenIssue(ctx context.Context, id identity.ID) error
	GetIssue(ctx context.Context, id identity.ID) (*store.Issue, error)
}

func (h *Handlers) issueStateChange(ctx context.Context, params json.RawMessage, apply func(context.Context, issueStateChanger, identity.ID) error) (any, error) {
	req, err := decode[issueIDRequest](params)
	if err != nil {
		return respond(nil, err)
	}
	w, err := h.resolve(ctx, req.Target)
	if err != nil {
		return respond(nil, err)
	}
	issueID, err := identity.ParseID(req.IssueID)
	if err != nil {
		return respond(nil, fmt.Errorf("bad issue_id: %w", err))
	}
	if err := apply(ctx, w, issueID); err != nil {
		return respond(nil, err)
	}
	issue, err := w.GetIssue(ctx, issueID)
	return respond(issue, err)
}

type issueListRequest struct {
	Target
	State string `json:"state,omitempty"`
	Label string `json:"label,omitempty"`
}

// IssueList lists issues matching the filters.
func (h *Handlers) IssueList(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[issueListRequest](params)
	if err != nil {
		return respond(nil, err)
	}
	w, err := h.resolve(ctx, req.Target)
	if err != nil {
		return respond(nil, err)
	}
	issues, err := w.ListIssues(ctx, store.ListFilters{State: req.State, Label: req.Label})
	if issues == nil {
		issues = []store.Issue{}
	}
	return respond(issues, err)
}

// IssueGet returns one issue with comments and labels.
func (h *Handlers) IssueGet(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[issueIDRequest](params)
	if err != nil {
		return respond(nil, err)
	}
	w, err := h.resolve(ctx, req.Target)
	if err != nil {
		return respond(nil, err)
	}
	issueID, err := identity.ParseID(req.IssueID)
	if err != nil {
		return respond(nil, fmt.Errorf("bad issue_id: %w", err))
	}
	issue, err := w.GetIssue(ctx, issueID)
	if err != nil {
		return respond(nil, err)
	}
	if issue == nil {
		return respond(nil, fmt.Errorf("issue %s not found", req.IssueID))
	}
	return respond(issue, nil)
}
