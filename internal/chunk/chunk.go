// Package chunk implements the framed binary container a WAL commit's
// blob holds: a fixed header (magic/version/codec/count), a run of
// canonically encoded events, and a trailing BLAKE2b-256 integrity
// hash over header plus payload.
package chunk

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/leonletto/grit/internal/canonical"
	"github.com/leonletto/grit/internal/giterrors"
	"github.com/leonletto/grit/internal/types"
)

const (
	Magic        = "GRCH"
	Version byte = 1

	// CodecCanonical stores events as a run of canonical CBOR values,
	// each preceded by its byte length as a u32 LE. CodecGzip
	// additionally gzips that run, for large chunks
	// (e.g. snapshot-backing chunks) where the payload compresses well.
	CodecCanonical byte = 1
	CodecGzip      byte = 2
)

// Event pairs a decoded envelope with the canonical bytes it was stored
// as (event_id included), so callers can store or forward it without
// re-encoding. The event_id itself is computed over the encoding with
// event_id zeroed, not over Raw.
type Event struct {
	Envelope types.Envelope
	Raw      []byte
}

// Encode frames events into a chunk using codec (CodecCanonical or
// CodecGzip) and returns the full byte stream including the trailing
// hash.
func Encode(codec byte, events []types.Envelope) ([]byte, error) {
	var body bytes.Buffer
	for _, ev := range events {
		raw, err := canonical.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("chunk: encode event %s: %w", ev.EventID, err)
		}
		if err := binary.Write(&body, binary.LittleEndian, uint32(len(raw))); err != nil {
			return nil, fmt.Errorf("chunk: write length prefix: %w", err)
		}
		body.Write(raw)
	}

	payload := body.Bytes()
	if codec == CodecGzip {
		var gz bytes.Buffer
		w := gzip.NewWriter(&gz)
		if _, err := w.Write(payload); err != nil {
			return nil, fmt.Errorf("chunk: gzip payload: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("chunk: close gzip writer: %w", err)
		}
		payload = gz.Bytes()
	}

	var header bytes.Buffer
	header.WriteString(Magic)
	header.WriteByte(Version)
	header.WriteByte(codec)
	header.Write([]byte{0, 0}) // reserved
	_ = binary.Write(&header, binary.LittleEndian, uint32(len(events)))

	hashInput := append(append([]byte{}, header.Bytes()...), payload...)
	sum := canonical.Hash256(hashInput)

	out := append(header.Bytes(), payload...)
	out = append(out, sum[:]...)
	return out, nil
}

// Decode verifies and unframes a chunk. On success it returns the
// decoded events; on a structurally invalid chunk it returns
// giterrors.ErrInvalidChunk so a caller merging many chunks can skip and
// count this one rather than aborting the whole operation.
func Decode(data []byte) ([]Event, error) {
	const headerLen = 4 + 1 + 1 + 2 + 4
	const hashLen = 32
	if len(data) < headerLen+hashLen {
		return nil, giterrors.Wrap(giterrors.ErrInvalidChunk, fmt.Errorf("chunk too short: %d bytes", len(data)))
	}
	if string(data[0:4]) != Magic {
		return nil, giterrors.Wrap(giterrors.ErrInvalidChunk, fmt.Errorf("bad magic %q", data[0:4]))
	}
	version := data[4]
	codec := data[5]
	count := binary.LittleEndian.Uint32(data[8:12])
	if version != Version {
		return nil, giterrors.Wrap(giterrors.ErrInvalidChunk, fmt.Errorf("unsupported chunk version %d", version))
	}

	// The hash occupies the fixed 32-byte tail; everything between the
	// header and it is payload.
	header := data[:headerLen]
	payload := data[headerLen : len(data)-hashLen]
	wantHash := data[len(data)-hashLen:]

	gotHash := canonical.Hash256(append(append([]byte{}, header...), payload...))
	if !bytes.Equal(gotHash[:], wantHash) {
		return nil, giterrors.Wrap(giterrors.ErrInvalidChunk, fmt.Errorf("hash mismatch"))
	}

	switch codec {
	case CodecCanonical:
		// payload already holds the length-prefixed event run.
	case CodecGzip:
		r, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, giterrors.Wrap(giterrors.ErrInvalidChunk, fmt.Errorf("open gzip reader: %w", err))
		}
		decompressed, err := io.ReadAll(r)
		if err != nil {
			return nil, giterrors.Wrap(giterrors.ErrInvalidChunk, fmt.Errorf("read gzip payload: %w", err))
		}
		payload = decompressed
	default:
		return nil, giterrors.Wrap(giterrors.ErrInvalidChunk, fmt.Errorf("unsupported codec %d", codec))
	}

	events := make([]Event, 0, count)
	r := bytes.NewReader(payload)
	for i := uint32(0); i < count; i++ {
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, giterrors.Wrap(giterrors.ErrInvalidChunk, fmt.Errorf("read event %d length: %w", i, err))
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, giterrors.Wrap(giterrors.ErrInvalidChunk, fmt.Errorf("read event %d body: %w", i, err))
		}
		var env types.Envelope
		if err := canonical.Unmarshal(raw, &env); err != nil {
			return nil, giterrors.Wrap(giterrors.ErrInvalidChunk, fmt.Errorf("decode event %d: %w", i, err))
		}
		events = append(events, Event{Envelope: env, Raw: raw})
	}
	return events, nil
}
