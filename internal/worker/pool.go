package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/leonletto/grit/internal/daemon"
	"github.com/leonletto/grit/internal/giterrors"
	"github.com/leonletto/grit/internal/identity"
	"github.com/leonletto/grit/internal/paths"
)

// Pool holds the process-wide worker set, keyed by (repoRoot, actorID).
// At most one Worker ever exists per key, which is what makes the
// single-writer guarantee process-wide rather than per-call.
type Pool struct {
	mu      sync.Mutex
	workers map[poolKey]*Worker
	bc      *daemon.Broadcaster

	syncInterval time.Duration
	startLoops   bool
}

type poolKey struct {
	repoRoot string
	actor    identity.ID
}

// NewPool creates an empty pool. bc may be nil when no daemon pub/sub
// surface exists (tests, direct CLI fallback). When startLoops is true,
// every created worker gets a background sync loop at syncInterval.
func NewPool(bc *daemon.Broadcaster, syncInterval time.Duration, startLoops bool) *Pool {
	return &Pool{
		workers:      make(map[poolKey]*Worker),
		bc:           bc,
		syncInterval: syncInterval,
		startLoops:   startLoops,
	}
}

// Get returns the existing worker for (repoRoot, actor), or
// ErrWorkerNotFound.
func (p *Pool) Get(repoRoot string, actor identity.ID) (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[poolKey{repoRoot: repoRoot, actor: actor}]
	if !ok {
		return nil, giterrors.WorkerNotFound(repoRoot, actor.String())
	}
	return w, nil
}

// GetOrCreate returns the worker for (repoRoot, actor), creating and
// starting one on first use.
func (p *Pool) GetOrCreate(ctx context.Context, repoRoot string, actor identity.ID) (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := poolKey{repoRoot: repoRoot, actor: actor}
	if w, ok := p.workers[key]; ok {
		return w, nil
	}

	gritDir, err := paths.GritDir(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve grit dir: %w", err)
	}
	w, err := New(repoRoot, actor, paths.ActorStorePath(gritDir, actor.String()), p.bc)
	if err != nil {
		return nil, err
	}
	if p.startLoops {
		w.StartSyncLoop(ctx, p.syncInterval)
	}
	p.workers[key] = w
	return w, nil
}

// CloseAll shuts every worker down, used at daemon shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	workers := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		workers = append(workers, w)
	}
	p.workers = make(map[poolKey]*Worker)
	p.mu.Unlock()

	for _, w := range workers {
		_ = w.Close()
	}
}
