package identity

import (
	"testing"
	"time"
)

func TestNewRandomIDUnique(t *testing.T) {
	a, err := NewRandomID()
	if err != nil {
		t.Fatalf("NewRandomID: %v", err)
	}
	b, err := NewRandomID()
	if err != nil {
		t.Fatalf("NewRandomID: %v", err)
	}
	if a == b {
		t.Fatalf("two random ids collided: %s", a)
	}
	if a.IsZero() || b.IsZero() {
		t.Fatalf("random id was zero")
	}
}

func TestParseIDRoundTrip(t *testing.T) {
	id, err := NewRandomID()
	if err != nil {
		t.Fatalf("NewRandomID: %v", err)
	}
	parsed, err := ParseID(id.String())
	if err != nil {
		t.Fatalf("ParseID: %v", err)
	}
	if parsed != id {
		t.Fatalf("round trip mismatch: got %s, want %s", parsed, id)
	}
}

func TestParseIDInvalid(t *testing.T) {
	if _, err := ParseID("not-hex"); err == nil {
		t.Fatal("expected error for non-hex input")
	}
	if _, err := ParseID("aabb"); err == nil {
		t.Fatal("expected error for short input")
	}
}

func TestFileContextIDDeterministic(t *testing.T) {
	a := FileContextID("src/main.go")
	b := FileContextID("src/main.go")
	if a != b {
		t.Fatalf("FileContextID not deterministic: %s vs %s", a, b)
	}
	c := FileContextID("src/other.go")
	if a == c {
		t.Fatal("different paths produced the same id")
	}
	if a == ProjectContext {
		t.Fatal("file context id collided with the project sentinel")
	}
}

func TestIDLessTotalOrder(t *testing.T) {
	a := ID{0x01}
	b := ID{0x02}
	if !a.Less(b) || b.Less(a) {
		t.Fatal("Less is not a consistent total order")
	}
	if a.Less(a) {
		t.Fatal("Less must be irreflexive")
	}
}

func TestNewRefULIDMonotonic(t *testing.T) {
	now := time.Now()
	a := NewRefULID(now)
	b := NewRefULID(now)
	if a >= b {
		t.Fatalf("expected monotonically increasing ULIDs, got %s then %s", a, b)
	}
}

func TestValidateActorName(t *testing.T) {
	cases := []struct {
		name    string
		wantErr bool
	}{
		{"alice", false},
		{"agent_7", false},
		{"a", true},
		{"Alice", true},
		{"daemon", true},
		{"has space", true},
	}
	for _, c := range cases {
		err := ValidateActorName(c.name)
		if (err != nil) != c.wantErr {
			t.Errorf("ValidateActorName(%q) error=%v, wantErr=%v", c.name, err, c.wantErr)
		}
	}
}
