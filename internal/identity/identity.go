// Package identity generates and validates the identifiers used
// throughout grit: 128-bit actor and issue ids, content-derived context
// ids, monotonic ULID tokens, and actor display names.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/blake2b"
)

// ID is a 128-bit identifier, used for ActorId, IssueId, EventId and
// FileContext ids alike. It is hex-encoded at every external boundary.
type ID [16]byte

// ProjectContext is the sentinel id naming the single project-wide
// context record, distinct from any possible file context id.
var ProjectContext = ID{
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
	0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF,
}

// String renders the id as lowercase hex.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Less gives ID a total byte-lexicographic order, used as the actor_id
// tie-break half of a Version comparison.
func (id ID) Less(other ID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// ParseID parses a hex-encoded id produced by String.
func ParseID(s string) (ID, error) {
	var id ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("parse id %q: %w", s, err)
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("parse id %q: want %d bytes, got %d", s, len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}

// NewRandomID generates a new random 128-bit id, used for ActorId and
// user-created IssueId values. It never returns an error in practice
// (crypto/rand.Read only fails if the OS entropy source is broken) but
// the signature keeps that failure explicit rather than panicking.
func NewRandomID() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("generate random id: %w", err)
	}
	return id, nil
}

// FileContextID derives the stable id for a file's context record from
// its repo-relative path, so repeated FileContextSet events for the same
// path always target the same record.
func FileContextID(path string) ID {
	h, _ := blake2b.New(16, nil) //nolint:errcheck // fixed 16-byte size is always valid
	_, _ = h.Write([]byte("grit:context:file:"))
	_, _ = h.Write([]byte(path))
	var id ID
	copy(id[:], h.Sum(nil))
	return id
}

var (
	ulidMu      sync.Mutex
	ulidEntropy = ulid.Monotonic(rand.Reader, 0)
)

// NewRefULID returns a new monotonically-increasing ULID, so that
// lexicographic order of the returned strings matches creation order
// even within the same millisecond. The daemon uses it for subscription
// session ids; snapshot ref names use a plain unix-millisecond stamp.
func NewRefULID(now time.Time) string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), ulidEntropy).String()
}

// ShortHex returns the first n hex characters of id, for compact
// human-facing display (CLI tables, log lines).
func ShortHex(id ID, n int) string {
	s := id.String()
	if n > len(s) {
		n = len(s)
	}
	return s[:n]
}

// ValidateActorName checks the human-chosen actor display name used in
// config.toml: lowercase letters, digits, underscore, 2-64 chars.
func ValidateActorName(name string) error {
	if len(name) < 2 || len(name) > 64 {
		return fmt.Errorf("actor name must be 2-64 characters, got %d", len(name))
	}
	for _, r := range name {
		isLower := r >= 'a' && r <= 'z'
		isDigit := r >= '0' && r <= '9'
		if !isLower && !isDigit && r != '_' {
			return fmt.Errorf("actor name %q: invalid character %q", name, r)
		}
	}
	reserved := map[string]bool{"daemon": true, "system": true, "grit": true, "all": true, "broadcast": true}
	if reserved[strings.ToLower(name)] {
		return fmt.Errorf("actor name %q is reserved", name)
	}
	return nil
}
