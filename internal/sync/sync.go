// Package sync moves the WAL and snapshot refs between the local
// repository and its configured Git remote, and folds newly arrived
// events into the LocalStore. Pushes retry through a pull-and-merge
// cycle when the remote is ahead; fetches are best-effort so an offline
// remote degrades to local-only operation instead of failing writes.
package sync

import (
	"context"
	"fmt"
	"strings"

	"github.com/leonletto/grit/internal/gitplumb"
	"github.com/leonletto/grit/internal/materializer"
	"github.com/leonletto/grit/internal/store"
)

// DefaultRemote is the remote grit syncs against.
const DefaultRemote = "origin"

// Manager coordinates pull and push for one (repo, store) pair. Writes
// into the store go through the materializer and must be serialized by
// the owning worker, exactly like local appends.
type Manager struct {
	repoRoot string
	remote   string
	db       *store.DB
	mat      *materializer.Materializer
}

// NewManager creates a Manager syncing repoRoot against DefaultRemote.
func NewManager(repoRoot string, db *store.DB, mat *materializer.Materializer) *Manager {
	return &Manager{repoRoot: repoRoot, remote: DefaultRemote, db: db, mat: mat}
}

// Result reports what one sync pass moved.
type Result struct {
	EventsPulled    int `json:"events_pulled"`
	EventsPushed    int `json:"events_pushed"`
	ConflictsMerged int `json:"conflicts_merged"`
}

func (r *Result) add(other Result) {
	r.EventsPulled += other.EventsPulled
	r.EventsPushed += other.EventsPushed
	r.ConflictsMerged += other.ConflictsMerged
}

// hasRemote reports whether the repo has any remote configured; without
// one, pull and push are silent no-ops (local-only mode).
func (m *Manager) hasRemote(ctx context.Context) (bool, error) {
	out, err := gitplumb.Git(ctx, m.repoRoot, "remote")
	if err != nil {
		return false, fmt.Errorf("list remotes: %w", err)
	}
	return strings.TrimSpace(string(out)) != "", nil
}

// pushError wraps a rejected/failed push with git's combined output so
// the retry loop can distinguish rejection from other failures.
type pushError struct {
	err    error
	output string
}

func (e *pushError) Error() string {
	return fmt.Sprintf("push failed: %v (output: %s)", e.err, e.output)
}

func (e *pushError) Unwrap() error { return e.err }

func isPushRejected(err error) bool {
	pe, ok := err.(*pushError)
	if !ok {
		return false
	}
	out := strings.ToLower(pe.output)
	return strings.Contains(out, "rejected") ||
		strings.Contains(out, "non-fast-forward") ||
		strings.Contains(out, "fetch first") ||
		strings.Contains(out, "updates were rejected")
}
