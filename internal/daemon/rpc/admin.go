package rpc

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"time"

	"github.com/leonletto/grit/internal/identity"
)

// discoverResponse describes the daemon to a connecting client.
type discoverResponse struct {
	PID       int   `json:"pid"`
	StartedAt int64 `json:"started_at"`
}

var processStart = time.Now()

// Discover answers the liveness/identity probe clients send after
// reading the PID file.
func (h *Handlers) Discover(_ context.Context, _ json.RawMessage) (any, error) {
	return respond(discoverResponse{PID: os.Getpid(), StartedAt: processStart.UnixMilli()}, nil)
}

// Rebuild replays the event log into fresh projections.
func (h *Handlers) Rebuild(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[Target](params)
	if err != nil {
		return respond(nil, err)
	}
	w, err := h.resolve(ctx, req)
	if err != nil {
		return respond(nil, err)
	}
	result, err := w.Rebuild(ctx)
	return respond(result, err)
}

// DbStats reports the LocalStore's size and counters.
func (h *Handlers) DbStats(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[Target](params)
	if err != nil {
		return respond(nil, err)
	}
	w, err := h.resolve(ctx, req)
	if err != nil {
		return respond(nil, err)
	}
	stats, err := w.Stats(ctx)
	return respond(stats, err)
}

// SyncPull fetches and merges remote WAL/snapshot refs.
func (h *Handlers) SyncPull(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[Target](params)
	if err != nil {
		return respond(nil, err)
	}
	w, err := h.resolve(ctx, req)
	if err != nil {
		return respond(nil, err)
	}
	result, err := w.SyncPull(ctx)
	return respond(result, err)
}

// SyncPush publishes the WAL and newest snapshot to the remote.
func (h *Handlers) SyncPush(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[Target](params)
	if err != nil {
		return respond(nil, err)
	}
	w, err := h.resolve(ctx, req)
	if err != nil {
		return respond(nil, err)
	}
	result, err := w.SyncPush(ctx)
	return respond(result, err)
}

type subscribeRequest struct {
	Topics []string `json:"topics,omitempty"`
}

type subscribeResponse struct {
	SessionID string `json:"session_id"`
}

// Subscribe registers the calling connection for notification delivery
// on the given topics (empty means all). Notifications arrive as
// out-of-band newline-framed JSON objects on the same connection.
func (h *Handlers) Subscribe(_ context.Context, conn net.Conn, params json.RawMessage) (any, error) {
	var req subscribeRequest
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return respond(nil, err)
		}
	}
	sessionID := identity.NewRefULID(time.Now())
	h.Registry.Register(sessionID, conn, req.Topics)
	return respond(subscribeResponse{SessionID: sessionID}, nil)
}

// ShutdownCmd asks the daemon to exit gracefully.
func (h *Handlers) ShutdownCmd(_ context.Context, _ json.RawMessage) (any, error) {
	if h.Shutdown != nil {
		// Defer past the response write so the caller hears the ack.
		go func() {
			time.Sleep(100 * time.Millisecond)
			h.Shutdown()
		}()
	}
	return respond(map[string]bool{"shutting_down": true}, nil)
}
