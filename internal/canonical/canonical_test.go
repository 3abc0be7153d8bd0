package canonical

import (
	"testing"

	"github.com/leonletto/grit/internal/types"
)

func TestMarshalDeterministic(t *testing.T) {
	ev := types.IssueCreate{Title: "fix bug", Body: "steps to reproduce"}
	a, err := Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	b, err := Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(a) != string(b) {
		t.Fatal("same value encoded to different bytes")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	want := types.IssueCreate{Title: "t", Body: "b"}
	data, err := Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got types.IssueCreate
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestEventIDStableAndSensitive(t *testing.T) {
	a, err := Marshal(types.IssueCreate{Title: "x"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	b, err := Marshal(types.IssueCreate{Title: "y"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	idA1, err := EventID(a)
	if err != nil {
		t.Fatalf("EventID: %v", err)
	}
	idA2, err := EventID(a)
	if err != nil {
		t.Fatalf("EventID: %v", err)
	}
	if idA1 != idA2 {
		t.Fatal("EventID not deterministic for identical input")
	}
	idB, err := EventID(b)
	if err != nil {
		t.Fatalf("EventID: %v", err)
	}
	if idA1 == idB {
		t.Fatal("different payloads hashed to the same event id")
	}
}

func TestHash256Sensitive(t *testing.T) {
	if Hash256([]byte("a")) == Hash256([]byte("b")) {
		t.Fatal("different inputs hashed to the same digest")
	}
}
