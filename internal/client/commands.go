package client

import (
	"encoding/json"
	"fmt"

	"github.com/leonletto/grit/internal/daemon/rpc"
	"github.com/leonletto/grit/internal/materializer"
	"github.com/leonletto/grit/internal/store"
	gritsync "github.com/leonletto/grit/internal/sync"
)

func call[T any](c *Client, method string, params any) (T, error) {
	var out T
	data, err := c.Call(method, params)
	if err != nil {
		return out, err
	}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %s response: %w", method, err)
	}
	return out, nil
}

// IssueCreate creates an issue and returns its projection.
func (c *Client) IssueCreate(title, body string, labels []string) (store.Issue, error) {
	type req struct {
		rpc.Target
		Title  string   `json:"title"`
		Body   string   `json:"body"`
		Labels []string `json:"labels,omitempty"`
	}
	return call[store.Issue](c, "issue_create", req{Target: c.target(), Title: title, Body: body, Labels: labels})
}

// IssueList lists issues, optionally filtered by state and/or label.
func (c *Client) IssueList(state, label string) ([]store.Issue, error) {
	type req struct {
		rpc.Target
		State string `json:"state,omitempty"`
		Label string `json:"label,omitempty"`
	}
	return call[[]store.Issue](c, "issue_list", req{Target: c.target(), State: state, Label: label})
}

// IssueGet fetches one issue with labels and comments.
func (c *Client) IssueGet(issueID string) (store.Issue, error) {
	type req struct {
		rpc.Target
		IssueID string `json:"issue_id"`
	}
	return call[store.Issue](c, "issue_get", req{Target: c.target(), IssueID: issueID})
}

// IssueComment adds a comment and returns its id.
func (c *Client) IssueComment(issueID, body string) (string, error) {
	type req struct {
		rpc.Target
		IssueID string `json:"issue_id"`
		Body    string `json:"body"`
	}
	out, err := call[map[string]string](c, "issue_comment", req{Target: c.target(), IssueID: issueID, Body: body})
	return out["comment_id"], err
}

// IssueSetField writes one LWW scalar field on an issue.
func (c *Client) IssueSetField(issueID, field, value string) (store.Issue, error) {
	type req struct {
		rpc.Target
		IssueID string `json:"issue_id"`
		Field   string `json:"field"`
		Value   string `json:"value"`
	}
	return call[store.Issue](c, "issue_set_field", req{Target: c.target(), IssueID: issueID, Field: field, Value: value})
}

// IssueClose closes an issue and returns its updated projection.
func (c *Client) IssueClose(issueID string) (store.Issue, error) {
	type req struct {
		rpc.Target
		IssueID string `json:"issue_id"`
	}
	return call[store.Issue](c, "issue_close", req{Target: c.target(), IssueID: issueID})
}

// IssueReopen reopens an issue and returns its updated projection.
func (c *Client) IssueReopen(issueID string) (store.Issue, error) {
	type req struct {
		rpc.Target
		IssueID string `json:"issue_id"`
	}
	return call[store.Issue](c, "issue_reopen", req{Target: c.target(), IssueID: issueID})
}

// Rebuild replays the event log into fresh projections.
func (c *Client) Rebuild() (materializer.RebuildResult, error) {
	return call[materializer.RebuildResult](c, "rebuild", c.target())
}

// DbStats reports LocalStore statistics.
func (c *Client) DbStats() (store.Stats, error) {
	return call[store.Stats](c, "db_stats", c.target())
}

// SyncPull pulls and merges remote WAL/snapshot refs.
func (c *Client) SyncPull() (gritsync.Result, error) {
	return call[gritsync.Result](c, "sync_pull", c.target())
}

// SyncPush publishes the local WAL and newest snapshot.
func (c *Client) SyncPush() (gritsync.Result, error) {
	return call[gritsync.Result](c, "sync_push", c.target())
}

// ContextSetFile writes a file context record.
func (c *Client) ContextSetFile(path, language string, symbols []string, summary string, contentHash []byte) error {
	type req struct {
		rpc.Target
		Path        string   `json:"path"`
		Language    string   `json:"language,omitempty"`
		Symbols     []string `json:"symbols,omitempty"`
		Summary     string   `json:"summary,omitempty"`
		ContentHash []byte   `json:"content_hash,omitempty"`
	}
	_, err := c.Call("context_set", req{Target: c.target(), Path: path, Language: language, Symbols: symbols, Summary: summary, ContentHash: contentHash})
	return err
}

// ContextSetProject writes one project-context key.
func (c *Client) ContextSetProject(key, value string) error {
	type req struct {
		rpc.Target
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	_, err := c.Call("context_set", req{Target: c.target(), Key: key, Value: value})
	return err
}

// ContextGetFile reads one file context record.
func (c *Client) ContextGetFile(path string) (store.FileContext, error) {
	type req struct {
		rpc.Target
		Path string `json:"path"`
	}
	return call[store.FileContext](c, "context_get", req{Target: c.target(), Path: path})
}

// ContextGetProject reads one project-context key.
func (c *Client) ContextGetProject(key string) (store.ProjectEntry, error) {
	type req struct {
		rpc.Target
		Key string `json:"key"`
	}
	return call[store.ProjectEntry](c, "context_get", req{Target: c.target(), Key: key})
}

// ContextListResult mirrors the daemon's context_list payload.
type ContextListResult struct {
	Files   []store.FileContext  `json:"files"`
	Project []store.ProjectEntry `json:"project"`
}

// ContextList returns all file and project context records.
func (c *Client) ContextList() (ContextListResult, error) {
	return call[ContextListResult](c, "context_list", c.target())
}

// Shutdown asks the daemon to exit gracefully.
func (c *Client) Shutdown() error {
	_, err := c.Call("shutdown", struct{}{})
	return err
}
