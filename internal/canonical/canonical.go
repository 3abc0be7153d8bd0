// Package canonical produces the deterministic byte encoding used to
// content-address events: the same logical event always encodes to the
// same bytes regardless of which actor or process produced it, which is
// what makes event_id a valid deduplication key across peers.
//
// Encoding uses canonical CBOR (github.com/fxamacker/cbor/v2), whose
// sorted map keys and fixed integer widths provide the determinism a
// hand-rolled binary format would otherwise have to reimplement.
package canonical

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/leonletto/grit/internal/identity"
	"github.com/leonletto/grit/internal/types"
)

var encMode cbor.EncMode

func init() {
	opts := cbor.CanonicalEncOptions()
	m, err := opts.EncMode()
	if err != nil {
		// EncMode only fails on invalid static options; this is a
		// programming error, not a runtime condition.
		panic(fmt.Sprintf("canonical: build cbor encode mode: %v", err))
	}
	encMode = m
}

// Marshal encodes v deterministically. v must be a value whose field
// order and types are stable across processes (i.e. a concrete struct,
// not a map with non-canonical key types — cbor's canonical mode already
// sorts map keys, but struct field order is the primary determinism
// guarantee grit relies on).
func Marshal(v any) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	return b, nil
}

// Unmarshal decodes canonical CBOR bytes into v.
func Unmarshal(data []byte, v any) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("canonical unmarshal: %w", err)
	}
	return nil
}

// EventID computes the content-addressed 128-bit id of a canonically
// encoded event payload via unkeyed BLAKE2b-128.
func EventID(canonicalBytes []byte) (identity.ID, error) {
	h, err := blake2b.New(16, nil)
	if err != nil {
		return identity.ID{}, fmt.Errorf("canonical: new blake2b-128: %w", err)
	}
	if _, err := h.Write(canonicalBytes); err != nil {
		return identity.ID{}, fmt.Errorf("canonical: hash payload: %w", err)
	}
	var id identity.ID
	copy(id[:], h.Sum(nil))
	return id, nil
}

// Hash256 computes a full BLAKE2b-256 digest, used for chunk integrity
// hashes and FileContext.ContentHash.
func Hash256(data []byte) [32]byte {
	return blake2b.Sum256(data)
}

// FinalizeEvent stamps env.EventID from the canonical encoding of the
// envelope with a zeroed EventID (the id is derived from the payload,
// never an input to itself), then returns the canonical bytes of the
// completed envelope — the form the chunk codec stores and the store
// indexes.
func FinalizeEvent(env *types.Envelope) ([]byte, error) {
	unstamped := *env
	unstamped.EventID = identity.ID{}
	hashInput, err := Marshal(unstamped)
	if err != nil {
		return nil, err
	}
	id, err := EventID(hashInput)
	if err != nil {
		return nil, err
	}
	env.EventID = id
	return Marshal(*env)
}
