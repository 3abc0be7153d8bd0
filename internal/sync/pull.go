package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/leonletto/grit/internal/chunk"
	"github.com/leonletto/grit/internal/giterrors"
	"github.com/leonletto/grit/internal/gitplumb"
	"github.com/leonletto/grit/internal/wal"
)

// fetchedRefPrefix is a scratch namespace remote tips land in before the
// merge decision moves them into refs/grit/wal and the per-actor
// tracking refs.
const fetchedRefPrefix = "refs/grit/fetched/"

// Pull fetches the remote WAL and snapshot refs, reconciles each remote
// tip with the local WAL (fast-forward, no-op, or two-parent merge
// commit), and folds any commits the store has not yet ingested into the
// projections.
func (m *Manager) Pull(ctx context.Context) (Result, error) {
	var result Result

	hasRemote, err := m.hasRemote(ctx)
	if err != nil {
		return result, err
	}
	if hasRemote {
		// Best-effort fetch: an unreachable remote degrades to
		// local-only operation rather than failing the pull. The scratch
		// names keep "head" and "actors/*" as sibling directories so the
		// two refspecs can never collide in the loose-ref store.
		_, _ = gitplumb.GitLong(ctx, m.repoRoot, "fetch", m.remote,
			"+refs/grit/wal:"+fetchedRefPrefix+"head",
			"+refs/grit/wal/*:"+fetchedRefPrefix+"actors/*",
			"+refs/grit/snapshots/*:refs/grit/snapshots/*",
		)

		tips, err := m.fetchedTips(ctx)
		if err != nil {
			return result, err
		}
		for _, tip := range tips {
			merged, err := m.mergeTip(ctx, tip)
			if err != nil {
				return result, err
			}
			if merged {
				result.ConflictsMerged++
			}
		}
	}

	ingested, err := m.ingestLocalWal(ctx)
	if err != nil {
		return result, err
	}
	result.EventsPulled = ingested
	return result, nil
}

type fetchedTip struct {
	ref string
	sha string
}

func (m *Manager) fetchedTips(ctx context.Context) ([]fetchedTip, error) {
	out, err := gitplumb.Git(ctx, m.repoRoot, "for-each-ref", "--format=%(refname) %(objectname)", fetchedRefPrefix)
	if err != nil {
		return nil, giterrors.Git("for-each-ref", err)
	}
	var tips []fetchedTip
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			continue
		}
		tips = append(tips, fetchedTip{ref: parts[0], sha: parts[1]})
	}
	return tips, nil
}

// mergeTip reconciles one fetched remote tip with the local WAL ref.
// Returns true when a merge commit had to be created (divergent
// histories), false for fast-forward/no-op.
func (m *Manager) mergeTip(ctx context.Context, tip fetchedTip) (bool, error) {
	defer func() {
		_, _ = gitplumb.Git(ctx, m.repoRoot, "update-ref", "-d", tip.ref)
	}()
	// Tracking-ref bookkeeping runs after the merge decision so it can
	// never shadow the main ref's update.
	defer m.trackActorTip(ctx, tip.sha)

	local, ok, err := wal.Head(ctx, m.repoRoot, wal.LocalRef)
	if err != nil {
		return false, err
	}
	if !ok {
		// Nothing local yet (fresh clone): adopt the remote chain.
		if _, err := gitplumb.Git(ctx, m.repoRoot, "update-ref", wal.LocalRef, tip.sha); err != nil {
			return false, giterrors.Git("update-ref", err)
		}
		return false, nil
	}
	if local == tip.sha {
		return false, nil
	}

	localIsAncestor, err := wal.IsAncestor(ctx, m.repoRoot, local, tip.sha)
	if err != nil {
		return false, err
	}
	if localIsAncestor {
		if _, err := gitplumb.Git(ctx, m.repoRoot, "update-ref", wal.LocalRef, tip.sha); err != nil {
			return false, giterrors.Git("update-ref", err)
		}
		return false, nil
	}

	remoteIsAncestor, err := wal.IsAncestor(ctx, m.repoRoot, tip.sha, local)
	if err != nil {
		return false, err
	}
	if remoteIsAncestor {
		return false, nil
	}

	if _, err := wal.AppendMerge(ctx, m.repoRoot, wal.LocalRef, local, tip.sha); err != nil {
		return false, err
	}
	return true, nil
}

// trackActorTip records the fetched tip under refs/grit/wal/<actor_hex>
// when the tip commit names a single actor (merge commits don't). The
// update is best-effort: once refs/grit/wal itself exists, git's
// loose-ref store rejects names nested under it (directory/file
// conflict), and the merge logic works from the scratch refs anyway.
func (m *Manager) trackActorTip(ctx context.Context, sha string) {
	out, err := gitplumb.Git(ctx, m.repoRoot, "log", "-1", "--format=%s", sha)
	if err != nil {
		return
	}
	meta, err := wal.ParseMessage(sha, strings.TrimSpace(string(out)))
	if err != nil || meta.IsMerge {
		return
	}
	_, _ = gitplumb.Git(ctx, m.repoRoot, "update-ref", wal.RemoteActorRef(meta.Actor.String()), sha)
}

// ingestLocalWal folds every WAL commit after the stored checkpoint into
// the LocalStore. Chunk reads fan out in parallel; the materializer
// applies serially in commit order. An invalid chunk fails only itself:
// it is skipped and the walk continues.
func (m *Manager) ingestLocalWal(ctx context.Context) (int, error) {
	tip, ok, err := wal.Head(ctx, m.repoRoot, wal.LocalRef)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}

	since, err := GetCheckpoint(ctx, m.db, walCursorKey)
	if err != nil {
		return 0, err
	}
	if since == tip {
		return 0, nil
	}

	metas, err := wal.Walk(ctx, m.repoRoot, wal.LocalRef, since)
	if err != nil {
		return 0, err
	}

	chunks := make([][]chunk.Event, len(metas))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, meta := range metas {
		g.Go(func() error {
			if meta.IsMerge || meta.Count == 0 {
				return nil
			}
			events, err := wal.ReadChunk(gctx, m.repoRoot, meta.SHA)
			if err != nil {
				if errors.Is(err, giterrors.ErrInvalidChunk) {
					return nil
				}
				return err
			}
			chunks[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("read wal chunks: %w", err)
	}

	applied := 0
	for _, events := range chunks {
		for _, ev := range events {
			stats, err := m.mat.Insert(ctx, ev.Envelope, ev.Raw)
			if err != nil {
				return applied, fmt.Errorf("apply pulled event %s: %w", ev.Envelope.EventID, err)
			}
			applied += stats.Applied
		}
	}

	if err := SetCheckpoint(ctx, m.db, walCursorKey, tip); err != nil {
		return applied, err
	}
	return applied, nil
}
