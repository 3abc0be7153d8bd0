package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/leonletto/grit/internal/store"
)

type contextSetRequest struct {
	Target
	// File context (when Path is set).
	Path        string   `json:"path,omitempty"`
	Language    string   `json:"language,omitempty"`
	Symbols     []string `json:"symbols,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	ContentHash []byte   `json:"content_hash,omitempty"`
	// Project context (when Key is set).
	Key   string `json:"key,omitempty"`
	Value string `json:"value,omitempty"`
}

// ContextSet writes either a file context record (path given) or one
// project-context key (key given).
func (h *Handlers) ContextSet(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[contextSetRequest](params)
	if err != nil {
		return respond(nil, err)
	}
	w, err := h.resolve(ctx, req.Target)
	if err != nil {
		return respond(nil, err)
	}

	switch {
	case req.Path != "":
		var hash [32]byte
		copy(hash[:], req.ContentHash)
		err := w.SetFileContext(ctx, req.Path, req.Language, req.Symbols, req.Summary, hash)
		return respond(map[string]string{"path": req.Path}, err)
	case req.Key != "":
		err := w.SetProjectContext(ctx, req.Key, req.Value)
		return respond(map[string]string{"key": req.Key}, err)
	default:
		return respond(nil, fmt.Errorf("context_set needs a path or a key"))
	}
}

type contextGetRequest struct {
	Target
	Path string `json:"path,omitempty"`
	Key  string `json:"key,omitempty"`
}

// ContextGet reads one file context record or one project-context key.
func (h *Handlers) ContextGet(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[contextGetRequest](params)
	if err != nil {
		return respond(nil, err)
	}
	w, err := h.resolve(ctx, req.Target)
	if err != nil {
		return respond(nil, err)
	}

	switch {
	case req.Path != "":
		fc, err := store.GetFileContext(ctx, w.DB(), req.Path)
		if err == nil && fc == nil {
			err = fmt.Errorf("no context for path %q", req.Path)
		}
		return respond(fc, err)
	case req.Key != "":
		entry, err := store.GetProjectEntry(ctx, w.DB(), req.Key)
		if err == nil && entry == nil {
			err = fmt.Errorf("no project context for key %q", req.Key)
		}
		return respond(entry, err)
	default:
		return respond(nil, fmt.Errorf("context_get needs a path or a key"))
	}
}

type contextListResponse struct {
	Files   []store.FileContext  `json:"files"`
	Project []store.ProjectEntry `json:"project"`
}

// ContextList returns every file context record and the whole project
// map.
func (h *Handlers) ContextList(ctx context.Context, params json.RawMessage) (any, error) {
	req, err := decode[Target](params)
	if err != nil {
		return respond(nil, err)
	}
	w, err := h.resolve(ctx, req)
	if err != nil {
		return respond(nil, err)
	}

	files, err := store.ListFileContexts(ctx, w.DB())
	if err != nil {
		return respond(nil, err)
	}
	project, err := store.ListProjectEntries(ctx, w.DB())
	if err != nil {
		return respond(nil, err)
	}
	if files == nil {
		files = []store.FileContext{}
	}
	if project == nil {
		project = []store.ProjectEntry{}
	}
	return respond(contextListResponse{Files: files, Project: project}, nil)
}
