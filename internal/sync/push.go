package sync

import (
	"context"
	"strings"

	"github.com/leonletto/grit/internal/giterrors"
	"github.com/leonletto/grit/internal/gitplumb"
	"github.com/leonletto/grit/internal/snapshot"
	"github.com/leonletto/grit/internal/wal"
)

// maxPushRetries bounds the pull-and-retry loop on a rejected push.
const maxPushRetries = 3

// Push publishes refs/grit/wal and the newest snapshot ref to the
// remote. A non-fast-forward rejection triggers a pull (which merges the
// divergent histories) and a retry; persistent rejection surfaces
// ErrSyncConflict.
func (m *Manager) Push(ctx context.Context) (Result, error) {
	var result Result

	hasRemote, err := m.hasRemote(ctx)
	if err != nil {
		return result, err
	}
	if !hasRemote {
		return result, nil
	}

	_, ok, err := wal.Head(ctx, m.repoRoot, wal.LocalRef)
	if err != nil {
		return result, err
	}
	if !ok {
		return result, nil
	}

	for attempt := 1; attempt <= maxPushRetries; attempt++ {
		pushed, err := m.countUnpushed(ctx)
		if err != nil {
			return result, err
		}

		err = m.pushRefs(ctx)
		if err == nil {
			result.EventsPushed = pushed
			return result, nil
		}
		if !isPushRejected(err) {
			return result, giterrors.Git("push", err)
		}
		if attempt == maxPushRetries {
			return result, giterrors.Wrap(giterrors.ErrSyncConflict, err)
		}

		// Pull merges the divergent histories and moves the local tip,
		// so the next attempt pushes a fast-forward.
		pullResult, err := m.Pull(ctx)
		if err != nil {
			return result, err
		}
		result.add(pullResult)
	}
	return result, giterrors.Wrap(giterrors.ErrSyncConflict, nil)
}

func (m *Manager) pushRefs(ctx context.Context) error {
	refspecs := []string{wal.LocalRef + ":" + wal.LocalRef}
	if newest, err := snapshot.List(ctx, m.repoRoot); err == nil && len(newest) > 0 {
		refspecs = append(refspecs, newest[0].Ref+":"+newest[0].Ref)
	}

	args := append([]string{"push", m.remote}, refspecs...)
	out, err := gitplumb.GitLong(ctx, m.repoRoot, args...)
	if err != nil {
		return &pushError{err: err, output: string(out)}
	}
	return nil
}

// countUnpushed sums the event counts of local WAL commits the remote
// does not have yet, by walking from the remote's last known tip.
func (m *Manager) countUnpushed(ctx context.Context) (int, error) {
	remoteTip := m.remoteWalTip(ctx)
	since := ""
	if remoteTip != "" {
		if ok, err := m.hasObject(ctx, remoteTip); err == nil && ok {
			since = remoteTip
		}
	}
	metas, err := wal.Walk(ctx, m.repoRoot, wal.LocalRef, since)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, meta := range metas {
		total += int(meta.Count)
	}
	return total, nil
}

// remoteWalTip asks the remote for its refs/grit/wal tip; "" when the
// remote has none or is unreachable.
func (m *Manager) remoteWalTip(ctx context.Context) string {
	out, err := gitplumb.GitLong(ctx, m.repoRoot, "ls-remote", m.remote, wal.LocalRef)
	if err != nil {
		return ""
	}
	fields := strings.Fields(strings.TrimSpace(string(out)))
	if len(fields) < 1 {
		return ""
	}
	return fields[0]
}

func (m *Manager) hasObject(ctx context.Context, sha string) (bool, error) {
	_, err := gitplumb.Git(ctx, m.repoRoot, "cat-file", "-e", sha)
	if err != nil {
		return false, nil //nolint:nilerr // missing object is the answer, not a failure
	}
	return true, nil
}
