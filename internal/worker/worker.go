// Package worker implements the single-writer concurrency layer: one
// Worker per (repoRoot, actorID) process-wide, owning that pair's
// LocalStore and WAL. Every write funnels through the worker's bounded
// inbox and executes on one goroutine, so seq assignment, the store
// insert, and the WAL append never race. Readers bypass the inbox and
// hit the store directly (SQLite WAL mode keeps them consistent under
// the concurrent writer).
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/leonletto/grit/internal/canonical"
	"github.com/leonletto/grit/internal/daemon"
	"github.com/leonletto/grit/internal/giterrors"
	"github.com/leonletto/grit/internal/identity"
	"github.com/leonletto/grit/internal/materializer"
	"github.com/leonletto/grit/internal/snapshot"
	"github.com/leonletto/grit/internal/store"
	gritsync "github.com/leonletto/grit/internal/sync"
	"github.com/leonletto/grit/internal/types"
	"github.com/leonletto/grit/internal/wal"
)

// inboxSize bounds the writer queue; a full inbox makes submitters wait
// until their deadline rather than growing without bound.
const inboxSize = 256

// snapshotEvery is how many locally appended events trigger an automatic
// snapshot.
const snapshotEvery = 1000

// Worker is the single writer for one (repo, actor) pair.
type Worker struct {
	RepoRoot  string
	Actor     identity.ID
	StorePath string

	db   *store.DB
	mat  *materializer.Materializer
	sync *gritsync.Manager
	loop *gritsync.Loop
	bc   *daemon.Broadcaster

	inbox chan func()
	quit  chan struct{}
	done  chan struct{}

	// Owned exclusively by the worker goroutine.
	nextSeq       uint64
	sinceSnapshot int
}

// New opens the store at storePath and starts the worker goroutine.
// bc may be nil (no daemon, e.g. direct CLI fallback or tests).
func New(repoRoot string, actor identity.ID, storePath string, bc *daemon.Broadcaster) (*Worker, error) {
	db, err := store.Open(storePath)
	if err != nil {
		return nil, fmt.Errorf("open worker store: %w", err)
	}
	mat := materializer.New(db)

	w := &Worker{
		RepoRoot:  repoRoot,
		Actor:     actor,
		StorePath: storePath,
		db:        db,
		mat:       mat,
		sync:      gritsync.NewManager(repoRoot, db, mat),
		bc:        bc,
		inbox:     make(chan func(), inboxSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	next, err := store.NextSeq(ctx, db, actor.String())
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	w.nextSeq = next

	go w.run()
	return w, nil
}

// StartSyncLoop attaches a background sync loop with the given interval.
// Sync cycles are dispatched through the inbox like any other write.
func (w *Worker) StartSyncLoop(ctx context.Context, interval time.Duration) {
	w.loop = gritsync.NewLoop(interval, func(ctx context.Context) (gritsync.Result, error) {
		pull, err := w.SyncPull(ctx)
		if err != nil {
			return pull, err
		}
		push, err := w.SyncPush(ctx)
		pull.EventsPushed = push.EventsPushed
		pull.ConflictsMerged += push.ConflictsMerged
		return pull, err
	})
	w.loop.Start(ctx)
}

// Close stops the worker goroutine, the sync loop, and the store.
func (w *Worker) Close() error {
	if w.loop != nil {
		w.loop.Stop()
	}
	close(w.quit)
	<-w.done
	return w.db.Close()
}

// DB exposes the store for read paths (list/get); writers must go
// through the worker's methods.
func (w *Worker) DB() *store.DB { return w.db }

func (w *Worker) run() {
	defer close(w.done)
	for {
		select {
		case <-w.quit:
			return
		case fn := <-w.inbox:
			fn()
		}
	}
}

// do runs fn on the worker goroutine and waits for it, honoring ctx's
// deadline both while queueing and while waiting, per the IPC timeout
// contract.
func (w *Worker) do(ctx context.Context, fn func() error) error {
	errCh := make(chan error, 1)
	select {
	case w.inbox <- func() { errCh <- fn() }:
	case <-ctx.Done():
		return giterrors.Wrap(giterrors.ErrTimeout, ctx.Err())
	case <-w.quit:
		return giterrors.WorkerNotFound(w.RepoRoot, w.Actor.String())
	}
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return giterrors.Wrap(giterrors.ErrTimeout, ctx.Err())
	}
}

// append constructs, stores, and WAL-appends one event on the worker
// goroutine. mkPayload receives the Version the event will carry so
// LWW payloads can embed it. The store insert is the source of local
// visibility; a WAL failure is logged and never rolled back, and the
// event is not re-appended later, so it stays in the store only.
func (w *Worker) append(ctx context.Context, issueID identity.ID, kind types.Kind, mkPayload func(ver types.Version) any) (types.Envelope, error) {
	var env types.Envelope
	err := w.do(ctx, func() error {
		lamport, err := store.GetMetaUint(ctx, w.db, store.MetaLamport)
		if err != nil {
			return err
		}
		ver := types.Version{Lamport: lamport + 1, ActorID: w.Actor}

		payload, err := json.Marshal(mkPayload(ver))
		if err != nil {
			return giterrors.Serde("event payload", err)
		}
		env = types.Envelope{
			ActorID: w.Actor,
			IssueID: issueID,
			Seq:     w.nextSeq,
			TS:      time.Now().UnixMilli(),
			Lamport: ver.Lamport,
			Kind:    kind,
			Payload: payload,
		}
		raw, err := canonical.FinalizeEvent(&env)
		if err != nil {
			return giterrors.Serde("event envelope", err)
		}

		if _, err := w.mat.Insert(ctx, env, raw); err != nil {
			return err
		}
		w.nextSeq++

		if sha, err := wal.Append(ctx, w.RepoRoot, wal.LocalRef, w.Actor, env.Seq, env.Seq, env.Lamport, []types.Envelope{env}); err != nil {
			log.Printf("wal append failed (durability degraded): %v", err)
		} else {
			if err := store.SetMeta(ctx, w.db, store.MetaWalHead, sha); err != nil {
				log.Printf("record wal head: %v", err)
			}
		}

		w.sinceSnapshot++
		if w.sinceSnapshot >= snapshotEvery {
			w.sinceSnapshot = 0
			if _, err := w.writeSnapshotLocked(ctx); err != nil {
				log.Printf("periodic snapshot failed: %v", err)
			}
		}
		return nil
	})
	if err != nil {
		return types.Envelope{}, err
	}

	w.notify(daemon.KindEventApplied, map[string]string{
		"issue_id": env.IssueID.String(),
		"event_id": env.EventID.String(),
	})
	if w.loop != nil {
		w.loop.Trigger()
	}
	return env, nil
}

func (w *Worker) notify(kind daemon.NotificationKind, payload any) {
	if w.bc == nil {
		return
	}
	data, err := daemon.EncodeNotificationPayload(payload)
	if err != nil {
		return
	}
	w.bc.Publish(daemon.Notification{Topic: w.Actor.String(), Kind: kind, Payload: data})
}

// writeSnapshotLocked must run on the worker goroutine.
func (w *Worker) writeSnapshotLocked(ctx context.Context) (string, error) {
	head, ok, err := wal.Head(ctx, w.RepoRoot, wal.LocalRef)
	if err != nil || !ok {
		return "", err
	}
	return snapshot.Write(ctx, w.RepoRoot, w.db, w.Actor, head)
}

// Snapshot writes a snapshot now, regardless of the event counter.
func (w *Worker) Snapshot(ctx context.Context) (string, error) {
	var ref string
	err := w.do(ctx, func() error {
		var err error
		ref, err = w.writeSnapshotLocked(ctx)
		return err
	})
	return ref, err
}

// Rebuild rebuilds the projections, starting from the newest usable
// snapshot when one exists and replaying only the WAL delta after it.
func (w *Worker) Rebuild(ctx context.Context) (materializer.RebuildResult, error) {
	var result materializer.RebuildResult
	err := w.do(ctx, func() error {
		tip, ok, err := wal.Head(ctx, w.RepoRoot, wal.LocalRef)
		if err != nil {
			return err
		}
		if ok {
			info, err := snapshot.NewestUsable(ctx, w.RepoRoot, tip)
			if err != nil {
				return err
			}
			if info != nil {
				return w.rebuildFromSnapshot(ctx, info, &result)
			}
		}
		result, err = w.mat.Rebuild(ctx)
		return err
	})
	if err == nil {
		w.notify(daemon.KindRebuildCompleted, result)
	}
	return result, err
}

func (w *Worker) rebuildFromSnapshot(ctx context.Context, info *snapshot.Info, result *materializer.RebuildResult) error {
	if err := snapshot.Restore(ctx, w.RepoRoot, w.db, info.SHA); err != nil {
		return err
	}

	metas, err := wal.Walk(ctx, w.RepoRoot, wal.LocalRef, info.Meta.WalHead)
	if err != nil {
		return err
	}
	delta := make(map[string]bool)
	badChunks := 0
	for _, meta := range metas {
		if meta.IsMerge || meta.Count == 0 {
			continue
		}
		events, err := wal.ReadChunk(ctx, w.RepoRoot, meta.SHA)
		if err != nil {
			badChunks++
			continue
		}
		for _, ev := range events {
			delta[ev.Envelope.EventID.String()] = true
		}
	}

	replay, err := w.mat.ReplayDelta(ctx, delta)
	if err != nil {
		return err
	}
	*result = replay
	result.Malformed += badChunks
	result.FromSnapshot = info.Ref
	return nil
}

// SyncPull runs the sync manager's pull on the worker goroutine.
func (w *Worker) SyncPull(ctx context.Context) (gritsync.Result, error) {
	var result gritsync.Result
	err := w.do(ctx, func() error {
		var err error
		result, err = w.sync.Pull(ctx)
		return err
	})
	if err == nil && (result.EventsPulled > 0 || result.ConflictsMerged > 0) {
		w.notify(daemon.KindWalSynced, result)
	}
	return result, err
}

// SyncPush runs the sync manager's push on the worker goroutine.
func (w *Worker) SyncPush(ctx context.Context) (gritsync.Result, error) {
	var result gritsync.Result
	err := w.do(ctx, func() error {
		var err error
		result, err = w.sync.Push(ctx)
		return err
	})
	if err == nil && result.EventsPushed > 0 {
		w.notify(daemon.KindWalSynced, result)
	}
	return result, err
}

// Stats collects store statistics without entering the write queue.
func (w *Worker) Stats(ctx context.Context) (store.Stats, error) {
	return store.CollectStats(ctx, w.db, w.StorePath)
}
