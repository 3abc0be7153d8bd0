package sync_test

import (
	"context"
	"encoding/json"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/leonletto/grit/internal/canonical"
	"github.com/leonletto/grit/internal/identity"
	"github.com/leonletto/grit/internal/materializer"
	"github.com/leonletto/grit/internal/store"
	gritsync "github.com/leonletto/grit/internal/sync"
	"github.com/leonletto/grit/internal/types"
	"github.com/leonletto/grit/internal/wal"
)

func git(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v\n%s", args, err, out)
	}
	return strings.TrimSpace(string(out))
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	git(t, dir, "init")
	git(t, dir, "config", "user.email", "test@example.com")
	git(t, dir, "config", "user.name", "test")
	return dir
}

// peer is one side of a replicated pair: a git clone plus its own
// LocalStore, actor, and sync manager.
type peer struct {
	repo  string
	actor identity.ID
	db    *store.DB
	mat   *materializer.Materializer
	mgr   *gritsync.Manager
	seq   uint64
}

func newPeer(t *testing.T, remote string, actorByte byte) *peer {
	t.Helper()
	dir := t.TempDir()
	git(t, dir, "init")
	git(t, dir, "config", "user.email", "test@example.com")
	git(t, dir, "config", "user.name", "test")
	git(t, dir, "remote", "add", "origin", remote)

	db, err := store.Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mat := materializer.New(db)
	return &peer{
		repo:  dir,
		actor: identity.ID{actorByte},
		db:    db,
		mat:   mat,
		mgr:   gritsync.NewManager(dir, db, mat),
	}
}

// appendEvent writes one event through the peer's store and WAL, the way
// a worker would.
func (p *peer) appendEvent(t *testing.T, issue identity.ID, kind types.Kind, payload any) {
	t.Helper()
	ctx := context.Background()

	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	lamport, err := store.GetMetaUint(ctx, p.db, store.MetaLamport)
	if err != nil {
		t.Fatal(err)
	}
	env := types.Envelope{
		ActorID: p.actor,
		IssueID: issue,
		Seq:     p.seq,
		TS:      1700000000000 + int64(p.seq),
		Lamport: lamport + 1,
		Kind:    kind,
		Payload: body,
	}
	raw, err := canonical.FinalizeEvent(&env)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := p.mat.Insert(ctx, env, raw); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := wal.Append(ctx, p.repo, wal.LocalRef, p.actor, env.Seq, env.Seq, env.Lamport, []types.Envelope{env}); err != nil {
		t.Fatalf("wal.Append: %v", err)
	}
	p.seq++
}

func eventCount(t *testing.T, db *store.DB) int {
	t.Helper()
	var n int
	if err := db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	return n
}

func TestPushPullIdleRemote_NoChange(t *testing.T) {
	remote := t.TempDir()
	git(t, remote, "init", "--bare", ".")

	p := newPeer(t, remote, 0x0A)
	issue := identity.ID{0x42}
	p.appendEvent(t, issue, types.KindIssueCreate, types.IssueCreate{Title: "t"})

	ctx := context.Background()
	if _, err := p.mgr.Push(ctx); err != nil {
		t.Fatalf("Push: %v", err)
	}

	before, err := store.GetIssue(ctx, p.db, issue.String())
	if err != nil {
		t.Fatal(err)
	}
	beforeCount := eventCount(t, p.db)

	result, err := p.mgr.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if result.EventsPulled != 0 || result.ConflictsMerged != 0 {
		t.Errorf("pull from idle remote moved data: %+v", result)
	}

	after, err := store.GetIssue(ctx, p.db, issue.String())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("state changed after push+pull on idle remote:\n%s", diff)
	}
	if got := eventCount(t, p.db); got != beforeCount {
		t.Errorf("event count changed: %d -> %d", beforeCount, got)
	}
}

func TestWalMerge_DivergentPeersConverge(t *testing.T) {
	remote := t.TempDir()
	git(t, remote, "init", "--bare", ".")

	a := newPeer(t, remote, 0x0A)
	b := newPeer(t, remote, 0x0B)
	issue := identity.ID{0x42}
	ctx := context.Background()

	// A creates the issue and publishes it; B starts from that state.
	a.appendEvent(t, issue, types.KindIssueCreate, types.IssueCreate{Title: "shared"})
	if _, err := a.mgr.Push(ctx); err != nil {
		t.Fatalf("A push: %v", err)
	}
	if _, err := b.mgr.Pull(ctx); err != nil {
		t.Fatalf("B pull: %v", err)
	}

	// Both sides now append 3 events without talking to each other.
	for i := 0; i < 3; i++ {
		a.appendEvent(t, issue, types.KindCommentAdd, types.CommentAdd{Body: "from A"})
		b.appendEvent(t, issue, types.KindCommentAdd, types.CommentAdd{Body: "from B"})
	}

	// A publishes first; B's push is rejected, pulls, merges, retries.
	if _, err := a.mgr.Push(ctx); err != nil {
		t.Fatalf("A push: %v", err)
	}
	pushResult, err := b.mgr.Push(ctx)
	if err != nil {
		t.Fatalf("B push (with merge): %v", err)
	}
	if pushResult.ConflictsMerged == 0 {
		t.Error("expected B's push to record a history merge")
	}

	// B's tip must now be a two-parent merge commit.
	tip, ok, err := wal.Head(ctx, b.repo, wal.LocalRef)
	if err != nil || !ok {
		t.Fatalf("B head: %v ok=%v", err, ok)
	}
	parents := strings.Fields(git(t, b.repo, "log", "-1", "--format=%P", tip))
	if len(parents) != 2 {
		t.Errorf("B tip has %d parents, want 2 (merge commit)", len(parents))
	}

	// A pulls B's merged history; both sides converge.
	if _, err := a.mgr.Pull(ctx); err != nil {
		t.Fatalf("A pull: %v", err)
	}

	const wantEvents = 7 // 1 create + 3 from each side
	if got := eventCount(t, a.db); got != wantEvents {
		t.Errorf("A event count = %d, want %d", got, wantEvents)
	}
	if got := eventCount(t, b.db); got != wantEvents {
		t.Errorf("B event count = %d, want %d", got, wantEvents)
	}

	issueA, err := store.GetIssue(ctx, a.db, issue.String())
	if err != nil {
		t.Fatal(err)
	}
	issueB, err := store.GetIssue(ctx, b.db, issue.String())
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(issueA, issueB); diff != "" {
		t.Errorf("peers diverge after merge (-A +B):\n%s", diff)
	}
}

func TestPullWithoutRemote_IngestsLocalWal(t *testing.T) {
	// A repo with WAL refs but no remote (e.g. a fresh clone seeded by
	// someone else's push) still folds its WAL into the store.
	repo := initRepo(t)
	actor := identity.ID{0x0C}
	issue := identity.ID{0x42}

	env := types.Envelope{
		ActorID: actor, IssueID: issue, Seq: 0, TS: 1, Lamport: 1,
		Kind: types.KindIssueCreate, Payload: []byte(`{"title":"t","body":""}`),
	}
	if _, err := canonical.FinalizeEvent(&env); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := wal.Append(ctx, repo, wal.LocalRef, actor, 0, 0, 1, []types.Envelope{env}); err != nil {
		t.Fatal(err)
	}

	db, err := store.Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	mgr := gritsync.NewManager(repo, db, materializer.New(db))
	result, err := mgr.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if result.EventsPulled != 1 {
		t.Errorf("EventsPulled = %d, want 1", result.EventsPulled)
	}

	got, err := store.GetIssue(ctx, db, issue.String())
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Title != "t" {
		t.Errorf("issue = %+v, want title %q", got, "t")
	}

	// Second pull is a checkpointed no-op.
	result, err = mgr.Pull(ctx)
	if err != nil {
		t.Fatalf("second Pull: %v", err)
	}
	if result.EventsPulled != 0 {
		t.Errorf("second pull re-ingested %d events", result.EventsPulled)
	}
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	ctx := context.Background()

	sha, err := gritsync.GetCheckpoint(ctx, db, "wal")
	if err != nil || sha != "" {
		t.Errorf("fresh checkpoint = (%q, %v), want empty", sha, err)
	}

	if err := gritsync.SetCheckpoint(ctx, db, "wal", "abc123"); err != nil {
		t.Fatalf("SetCheckpoint: %v", err)
	}
	if err := gritsync.SetCheckpoint(ctx, db, "wal", "def456"); err != nil {
		t.Fatalf("SetCheckpoint update: %v", err)
	}

	sha, err = gritsync.GetCheckpoint(ctx, db, "wal")
	if err != nil || sha != "def456" {
		t.Errorf("checkpoint = (%q, %v), want def456", sha, err)
	}
}
