package materializer_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/leonletto/grit/internal/canonical"
	"github.com/leonletto/grit/internal/identity"
	"github.com/leonletto/grit/internal/materializer"
	"github.com/leonletto/grit/internal/store"
	"github.com/leonletto/grit/internal/types"
)

func openStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// mkEvent builds a finalized envelope plus its canonical bytes.
func mkEvent(t *testing.T, actor, issue identity.ID, seq, lamport uint64, kind types.Kind, payload any) (types.Envelope, []byte) {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env := types.Envelope{
		ActorID: actor,
		IssueID: issue,
		Seq:     seq,
		TS:      1700000000000 + int64(seq),
		Lamport: lamport,
		Kind:    kind,
		Payload: body,
	}
	raw, err := canonical.FinalizeEvent(&env)
	if err != nil {
		t.Fatalf("FinalizeEvent: %v", err)
	}
	return env, raw
}

type rawEvent struct {
	env types.Envelope
	raw []byte
}

func applyAll(t *testing.T, db *store.DB, events []rawEvent) {
	t.Helper()
	mat := materializer.New(db)
	ctx := context.Background()
	for _, ev := range events {
		if _, err := mat.Insert(ctx, ev.env, ev.raw); err != nil {
			t.Fatalf("Insert %s: %v", ev.env.EventID, err)
		}
	}
}

func actorPair(t *testing.T) (identity.ID, identity.ID) {
	t.Helper()
	// Fixed actors with a known order: B > A byte-lexicographically.
	a := identity.ID{0x0A}
	b := identity.ID{0x0B}
	if !a.Less(b) {
		t.Fatal("fixture actors out of order")
	}
	return a, b
}

func TestConcurrentTitleEdit_HigherVersionWins(t *testing.T) {
	actorA, actorB := actorPair(t)
	issue := identity.ID{0x42}

	create, createRaw := mkEvent(t, actorA, issue, 0, 1, types.KindIssueCreate,
		types.IssueCreate{Title: "orig", Body: "b"})
	setA, setARaw := mkEvent(t, actorA, issue, 1, 5, types.KindIssueFieldSet,
		types.IssueFieldSet{Field: "title", Value: "from A", Version: types.Version{Lamport: 5, ActorID: actorA}})
	setB, setBRaw := mkEvent(t, actorB, issue, 0, 7, types.KindIssueFieldSet,
		types.IssueFieldSet{Field: "title", Value: "from B", Version: types.Version{Lamport: 7, ActorID: actorB}})

	orders := [][]rawEvent{
		{{create, createRaw}, {setA, setARaw}, {setB, setBRaw}},
		{{create, createRaw}, {setB, setBRaw}, {setA, setARaw}},
	}
	for i, order := range orders {
		db := openStore(t)
		applyAll(t, db, order)

		got, err := store.GetIssue(context.Background(), db, issue.String())
		if err != nil {
			t.Fatalf("order %d: GetIssue: %v", i, err)
		}
		if got.Title != "from B" {
			t.Errorf("order %d: title = %q, want %q", i, got.Title, "from B")
		}
		if got.TitleVersion.Lamport != 7 || got.TitleVersion.Actor != actorB.String() {
			t.Errorf("order %d: title version = %+v, want (7, %s)", i, got.TitleVersion, actorB)
		}
	}
}

func TestORSetLabel_UnobservedAddSurvivesRemove(t *testing.T) {
	actorA, actorB := actorPair(t)
	issue := identity.ID{0x42}

	create, createRaw := mkEvent(t, actorA, issue, 0, 1, types.KindIssueCreate,
		types.IssueCreate{Title: "t"})
	addA, addARaw := mkEvent(t, actorA, issue, 1, 2, types.KindLabelAdd,
		types.LabelAdd{Label: "bug"})
	addB, addBRaw := mkEvent(t, actorB, issue, 0, 2, types.KindLabelAdd,
		types.LabelAdd{Label: "bug"})
	// A removes "bug" having observed only its own add tag.
	remove, removeRaw := mkEvent(t, actorA, issue, 2, 3, types.KindLabelRemove,
		types.LabelRemove{Label: "bug", ObservedTags: []identity.ID{addA.EventID}})

	db := openStore(t)
	applyAll(t, db, []rawEvent{{create, createRaw}, {addA, addARaw}, {addB, addBRaw}, {remove, removeRaw}})

	labels, err := store.IssueLabels(context.Background(), db, issue.String())
	if err != nil {
		t.Fatalf("IssueLabels: %v", err)
	}
	if len(labels) != 1 || labels[0] != "bug" {
		t.Errorf("labels = %v, want [bug] (B's unobserved add must survive)", labels)
	}

	// A second remove observing B's tag clears the label entirely.
	remove2, remove2Raw := mkEvent(t, actorA, issue, 3, 4, types.KindLabelRemove,
		types.LabelRemove{Label: "bug", ObservedTags: []identity.ID{addB.EventID}})
	applyAll(t, db, []rawEvent{{remove2, remove2Raw}})

	labels, err = store.IssueLabels(context.Background(), db, issue.String())
	if err != nil {
		t.Fatalf("IssueLabels: %v", err)
	}
	if len(labels) != 0 {
		t.Errorf("labels = %v, want empty after all tags tombstoned", labels)
	}
}

func buildEventSet(t *testing.T) []rawEvent {
	t.Helper()
	actorA, actorB := actorPair(t)
	issue := identity.ID{0x42}

	var events []rawEvent
	add := func(env types.Envelope, raw []byte) { events = append(events, rawEvent{env, raw}) }

	add(mkEvent(t, actorA, issue, 0, 1, types.KindIssueCreate, types.IssueCreate{Title: "t", Body: "b"}))
	add(mkEvent(t, actorB, issue, 0, 1, types.KindIssueFieldSet,
		types.IssueFieldSet{Field: "body", Value: "updated", Version: types.Version{Lamport: 1, ActorID: actorB}}))
	add(mkEvent(t, actorA, issue, 1, 2, types.KindLabelAdd, types.LabelAdd{Label: "bug"}))
	add(mkEvent(t, actorB, issue, 1, 3, types.KindCommentAdd, types.CommentAdd{Body: "first"}))
	add(mkEvent(t, actorA, issue, 2, 4, types.KindCommentAdd, types.CommentAdd{Body: "second"}))
	add(mkEvent(t, actorB, issue, 2, 5, types.KindIssueClose,
		types.IssueClose{Version: types.Version{Lamport: 5, ActorID: actorB}}))
	add(mkEvent(t, actorA, issue, 3, 6, types.KindIssueReopen,
		types.IssueReopen{Version: types.Version{Lamport: 6, ActorID: actorA}}))
	add(mkEvent(t, actorA, issue, 4, 7, types.KindProjectContextSet,
		types.ProjectContextSet{Key: "build", Value: "make", Version: types.Version{Lamport: 7, ActorID: actorA}}))
	return events
}

func TestPermutationInvariance(t *testing.T) {
	events := buildEventSet(t)
	issueHex := identity.ID{0x42}.String()
	ctx := context.Background()

	// Forward order.
	db1 := openStore(t)
	applyAll(t, db1, events)

	// Reversed order.
	reversed := make([]rawEvent, len(events))
	for i, ev := range events {
		reversed[len(events)-1-i] = ev
	}
	db2 := openStore(t)
	applyAll(t, db2, reversed)

	issue1, err := store.GetIssue(ctx, db1, issueHex)
	if err != nil {
		t.Fatalf("GetIssue db1: %v", err)
	}
	issue2, err := store.GetIssue(ctx, db2, issueHex)
	if err != nil {
		t.Fatalf("GetIssue db2: %v", err)
	}
	if diff := cmp.Diff(issue1, issue2); diff != "" {
		t.Errorf("projections diverge across delivery orders (-forward +reversed):\n%s", diff)
	}

	project1, _ := store.ListProjectEntries(ctx, db1)
	project2, _ := store.ListProjectEntries(ctx, db2)
	if diff := cmp.Diff(project1, project2); diff != "" {
		t.Errorf("project context diverges (-forward +reversed):\n%s", diff)
	}
}

func TestDuplicateEventIsNoOp(t *testing.T) {
	actorA, _ := actorPair(t)
	issue := identity.ID{0x42}
	env, raw := mkEvent(t, actorA, issue, 0, 1, types.KindIssueCreate, types.IssueCreate{Title: "t"})

	db := openStore(t)
	mat := materializer.New(db)
	ctx := context.Background()

	first, err := mat.Insert(ctx, env, raw)
	if err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	if first.Applied != 1 {
		t.Errorf("first insert Applied = %d, want 1", first.Applied)
	}

	second, err := mat.Insert(ctx, env, raw)
	if err != nil {
		t.Fatalf("second Insert: %v", err)
	}
	if second.Duplicates != 1 || second.Applied != 0 {
		t.Errorf("second insert = %+v, want one duplicate, nothing applied", second)
	}

	var count int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("event rows = %d, want 1", count)
	}
}

func TestUnknownKindCountedNotFatal(t *testing.T) {
	actorA, _ := actorPair(t)
	issue := identity.ID{0x42}
	env, raw := mkEvent(t, actorA, issue, 0, 1, types.Kind("time_travel"), map[string]string{"to": "1985"})

	db := openStore(t)
	mat := materializer.New(db)

	stats, err := mat.Insert(context.Background(), env, raw)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if stats.Malformed != 1 {
		t.Errorf("stats = %+v, want Malformed=1", stats)
	}

	// Rebuild also counts rather than failing.
	result, err := mat.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if result.Malformed != 1 {
		t.Errorf("rebuild result = %+v, want Malformed=1", result)
	}
}

func TestRebuildMatchesIncremental(t *testing.T) {
	events := buildEventSet(t)
	issueHex := identity.ID{0x42}.String()
	ctx := context.Background()

	db := openStore(t)
	applyAll(t, db, events)

	before, err := store.GetIssue(ctx, db, issueHex)
	if err != nil {
		t.Fatalf("GetIssue before: %v", err)
	}

	result, err := materializer.New(db).Rebuild(ctx)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if result.EventCount != len(events) {
		t.Errorf("rebuild replayed %d events, want %d", result.EventCount, len(events))
	}

	after, err := store.GetIssue(ctx, db, issueHex)
	if err != nil {
		t.Fatalf("GetIssue after: %v", err)
	}
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("rebuild changed the projection (-incremental +rebuilt):\n%s", diff)
	}
}

func TestConcurrentCreate_IdentityConverges(t *testing.T) {
	actorA, actorB := actorPair(t)
	issue := identity.ID{0x42}

	createA, createARaw := mkEvent(t, actorA, issue, 0, 3, types.KindIssueCreate,
		types.IssueCreate{Title: "A's title", Body: "a"})
	createB, createBRaw := mkEvent(t, actorB, issue, 0, 5, types.KindIssueCreate,
		types.IssueCreate{Title: "B's title", Body: "b"})

	orders := [][]rawEvent{
		{{createA, createARaw}, {createB, createBRaw}},
		{{createB, createBRaw}, {createA, createARaw}},
	}
	var results []*store.Issue
	for _, order := range orders {
		db := openStore(t)
		applyAll(t, db, order)
		got, err := store.GetIssue(context.Background(), db, issue.String())
		if err != nil {
			t.Fatalf("GetIssue: %v", err)
		}
		results = append(results, got)
	}

	if diff := cmp.Diff(results[0], results[1]); diff != "" {
		t.Fatalf("concurrent creates diverge by order:\n%s", diff)
	}
	// The causally-first create (lamport 3) owns identity; the later one
	// (lamport 5) wins the field LWW.
	if results[0].CreatedBy != actorA.String() {
		t.Errorf("created_by = %s, want first creator %s", results[0].CreatedBy, actorA)
	}
	if results[0].Title != "B's title" {
		t.Errorf("title = %q, want later writer's %q", results[0].Title, "B's title")
	}
}

func TestCommentOrderingAndEdit(t *testing.T) {
	actorA, actorB := actorPair(t)
	issue := identity.ID{0x42}

	create, createRaw := mkEvent(t, actorA, issue, 0, 1, types.KindIssueCreate, types.IssueCreate{Title: "t"})
	c1, c1Raw := mkEvent(t, actorB, issue, 0, 2, types.KindCommentAdd, types.CommentAdd{Body: "one"})
	c2, c2Raw := mkEvent(t, actorA, issue, 1, 3, types.KindCommentAdd, types.CommentAdd{Body: "two"})
	edit, editRaw := mkEvent(t, actorA, issue, 2, 4, types.KindCommentEdit,
		types.CommentEdit{CommentID: c1.EventID, Body: "one (edited)", Version: types.Version{Lamport: 4, ActorID: actorA}})

	// Deliver the edit before the comment it edits: convergence must not
	// depend on causal delivery.
	db := openStore(t)
	applyAll(t, db, []rawEvent{{create, createRaw}, {edit, editRaw}, {c2, c2Raw}, {c1, c1Raw}})

	comments, err := store.IssueComments(context.Background(), db, issue.String())
	if err != nil {
		t.Fatalf("IssueComments: %v", err)
	}
	if len(comments) != 2 {
		t.Fatalf("got %d comments, want 2", len(comments))
	}
	if comments[0].Body != "one (edited)" || comments[1].Body != "two" {
		t.Errorf("comments = [%q, %q], want [one (edited), two]", comments[0].Body, comments[1].Body)
	}
	if comments[0].Lamport != 2 {
		t.Errorf("first comment sort lamport = %d, want 2 (owned by the add)", comments[0].Lamport)
	}
}

func TestFileContextLWW(t *testing.T) {
	actorA, actorB := actorPair(t)

	fcID := identity.FileContextID("src/main.go")
	set1, set1Raw := mkEvent(t, actorA, fcID, 0, 2, types.KindFileContextSet,
		types.FileContextSet{Path: "src/main.go", Language: "go", Summary: "old",
			Version: types.Version{Lamport: 2, ActorID: actorA}})
	set2, set2Raw := mkEvent(t, actorB, fcID, 0, 4, types.KindFileContextSet,
		types.FileContextSet{Path: "src/main.go", Language: "go", Summary: "new",
			Version: types.Version{Lamport: 4, ActorID: actorB}})

	// Stale write delivered last must not win.
	db := openStore(t)
	applyAll(t, db, []rawEvent{{set2, set2Raw}, {set1, set1Raw}})

	fc, err := store.GetFileContext(context.Background(), db, "src/main.go")
	if err != nil {
		t.Fatalf("GetFileContext: %v", err)
	}
	if fc == nil || fc.Summary != "new" {
		t.Errorf("file context = %+v, want summary %q", fc, "new")
	}
}
