// Package rpc implements the daemon's command surface: one handler per
// command, registered on the Unix-socket JSON-RPC server, each routing
// to the worker pool by (repo_root, actor_id) and answering with the
// schema-versioned {ok, data, error} envelope the CLI and clients share.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/leonletto/grit/internal/daemon"
	"github.com/leonletto/grit/internal/giterrors"
	"github.com/leonletto/grit/internal/identity"
	"github.com/leonletto/grit/internal/worker"
)

// SchemaVersion is the envelope version every request and response
// carries.
const SchemaVersion = 1

// Envelope is the shared response wrapper.
type Envelope struct {
	SchemaVersion int             `json:"schema_version"`
	OK            bool            `json:"ok"`
	Data          json.RawMessage `json:"data,omitempty"`
	Error         *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody carries the stable error code from the giterrors taxonomy.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Target identifies which worker a request is for. Every command except
// discover/subscribe/shutdown embeds one.
type Target struct {
	RepoRoot string `json:"repo_root"`
	ActorID  string `json:"actor_id"`
}

// Handlers owns the worker pool and whatever the admin commands need.
type Handlers struct {
	Pool     *worker.Pool
	Registry *daemon.ClientRegistry
	Shutdown func() // triggers daemon shutdown; wired by the daemon command
}

// DefaultTimeout bounds every worker-bound request; a worker whose
// queue cannot take the request within it answers with the Timeout
// code.
const DefaultTimeout = 10 * time.Second

// withDeadline applies the per-request IPC deadline to a handler.
func withDeadline(fn daemon.Handler) daemon.Handler {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
		return fn(ctx, params)
	}
}

// Register attaches every command to the server.
func (h *Handlers) Register(s *daemon.Server) {
	s.RegisterHandler("discover", h.Discover)
	s.RegisterHandler("issue_create", withDeadline(h.IssueCreate))
	s.RegisterHandler("issue_comment", withDeadline(h.IssueComment))
	s.RegisterHandler("issue_set_field", withDeadline(h.IssueSetField))
	s.RegisterHandler("issue_close", withDeadline(h.IssueClose))
	s.RegisterHandler("issue_reopen", withDeadline(h.IssueReopen))
	s.RegisterHandler("issue_list", withDeadline(h.IssueList))
	s.RegisterHandler("issue_get", withDeadline(h.IssueGet))
	s.RegisterHandler("rebuild", withDeadline(h.Rebuild))
	s.RegisterHandler("db_stats", withDeadline(h.DbStats))
	s.RegisterHandler("sync_pull", withDeadline(h.SyncPull))
	s.RegisterHandler("sync_push", withDeadline(h.SyncPush))
	s.RegisterHandler("context_set", withDeadline(h.ContextSet))
	s.RegisterHandler("context_get", withDeadline(h.ContextGet))
	s.RegisterHandler("context_list", withDeadline(h.ContextList))
	s.RegisterHandler("shutdown", h.ShutdownCmd)
	s.RegisterConnHandler("subscribe", h.Subscribe)
}

// respond builds the envelope for a handler outcome. Handler-level
// failures travel inside the envelope (with their taxonomy code), not as
// JSON-RPC transport errors, so clients always get a parseable body.
func respond(data any, err error) (any, error) {
	if err != nil {
		return Envelope{
			SchemaVersion: SchemaVersion,
			OK:            false,
			Error:         &ErrorBody{Code: giterrors.CodeOf(err), Message: err.Error()},
		}, nil
	}
	var raw json.RawMessage
	if data != nil {
		b, merr := json.Marshal(data)
		if merr != nil {
			return Envelope{
				SchemaVersion: SchemaVersion,
				OK:            false,
				Error:         &ErrorBody{Code: "Serde", Message: merr.Error()},
			}, nil
		}
		raw = b
	}
	return Envelope{SchemaVersion: SchemaVersion, OK: true, Data: raw}, nil
}

// resolve parses a Target and returns its worker, creating it on first
// use.
func (h *Handlers) resolve(ctx context.Context, t Target) (*worker.Worker, error) {
	if t.RepoRoot == "" {
		return nil, fmt.Errorf("missing repo_root")
	}
	actor, err := identity.ParseID(t.ActorID)
	if err != nil {
		return nil, fmt.Errorf("bad actor_id: %w", err)
	}
	return h.Pool.GetOrCreate(ctx, t.RepoRoot, actor)
}

func decode[T any](params json.RawMessage) (T, error) {
	var req T
	if len(params) == 0 {
		return req, fmt.Errorf("missing params")
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return req, giterrors.Serde("request params", err)
	}
	return req, nil
}
