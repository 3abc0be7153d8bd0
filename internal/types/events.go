// Package types defines grit's event envelope and the tagged union of
// event kinds that make up the append-only log: one struct per kind and
// a shared envelope carrying the writer, target aggregate, sequencing,
// and clock fields.
package types

import (
	"encoding/json"
	"fmt"

	"github.com/leonletto/grit/internal/identity"
)

// Kind names one of the event payload shapes below.
type Kind string

const (
	KindIssueCreate       Kind = "issue_create"
	KindIssueFieldSet     Kind = "issue_field_set"
	KindIssueClose        Kind = "issue_close"
	KindIssueReopen       Kind = "issue_reopen"
	KindLabelAdd          Kind = "label_add"
	KindLabelRemove       Kind = "label_remove"
	KindCommentAdd        Kind = "comment_add"
	KindCommentEdit       Kind = "comment_edit"
	KindFileContextSet    Kind = "file_context_set"
	KindProjectContextSet Kind = "project_context_set"
)

// Version is the CRDT write-ordering key: a Lamport counter paired with
// the writing actor, giving a total order used to decide which of two
// concurrent writes to a field wins.
type Version struct {
	Lamport uint64      `json:"lamport"`
	ActorID identity.ID `json:"actor_id"`
}

// Less reports whether v happened-before other under the Version total
// order: lower lamport sorts first; on a tie, the smaller actor id sorts
// first. Under LWW the greater Version wins, so on a lamport tie the
// lexicographically greater actor id wins.
func (v Version) Less(other Version) bool {
	if v.Lamport != other.Lamport {
		return v.Lamport < other.Lamport
	}
	return v.ActorID.Less(other.ActorID)
}

// Envelope is the common, content-hashed wrapper around every event.
// EventID is never transmitted as part of the canonical payload used to
// compute it — it is derived, not stored input.
type Envelope struct {
	EventID identity.ID     `json:"event_id"`
	ActorID identity.ID     `json:"actor_id"`
	IssueID identity.ID     `json:"issue_id"`
	Seq     uint64          `json:"seq"`
	TS      int64           `json:"ts"` // advisory wall-clock, milliseconds since epoch
	Lamport uint64          `json:"lamport"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// IssueCreate payload. Title is a plain initial value; later changes to
// title go through IssueFieldSet like any other field.
type IssueCreate struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// IssueFieldSet overwrites a single scalar field on the issue under LWW,
// keyed by Version. Field is one of "title", "body", "priority",
// "issue_type", "assignee".
type IssueFieldSet struct {
	Field   string  `json:"field"`
	Value   string  `json:"value"`
	Version Version `json:"version"`
}

// IssueClose and IssueReopen are LWW-guarded state transitions, compared
// against the issue's "state" field Version exactly like IssueFieldSet.
type IssueClose struct {
	Version Version `json:"version"`
}

type IssueReopen struct {
	Version Version `json:"version"`
}

// LabelAdd/LabelRemove implement an observed-remove set: adding a label
// stamps a fresh tag (the event's own EventID); removing a label
// tombstones every add-tag the remover had observed, so a concurrent add
// the remover never saw survives.
type LabelAdd struct {
	Label string `json:"label"`
}

type LabelRemove struct {
	Label        string        `json:"label"`
	ObservedTags []identity.ID `json:"observed_tags"`
}

// CommentAdd appends a new, immutable-until-edited comment. The comment
// id is the event id of the CommentAdd event itself.
type CommentAdd struct {
	Body string `json:"body"`
}

// CommentEdit rewrites a comment's body under LWW, regardless of the
// original comment author.
type CommentEdit struct {
	CommentID identity.ID `json:"comment_id"`
	Body      string      `json:"body"`
	Version   Version     `json:"version"`
}

// FileContextSet replaces the metadata for a file, keyed by path via
// identity.FileContextID(path).
type FileContextSet struct {
	Path        string   `json:"path"`
	Language    string   `json:"language,omitempty"`
	Symbols     []string `json:"symbols,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	ContentHash [32]byte `json:"content_hash"`
	Version     Version  `json:"version"`
}

// ProjectContextSet writes one key in the project-wide LWW map.
type ProjectContextSet struct {
	Key     string  `json:"key"`
	Value   string  `json:"value"`
	Version Version `json:"version"`
}

// DecodePayload unmarshals env.Payload into the Go struct matching
// env.Kind, returning ErrUnknownKind for anything not in the Kind list
// above so callers (the materializer) can count it as malformed instead
// of failing the whole rebuild.
func DecodePayload(env Envelope) (any, error) {
	switch env.Kind {
	case KindIssueCreate:
		var p IssueCreate
		return p, json.Unmarshal(env.Payload, &p)
	case KindIssueFieldSet:
		var p IssueFieldSet
		return p, json.Unmarshal(env.Payload, &p)
	case KindIssueClose:
		var p IssueClose
		return p, json.Unmarshal(env.Payload, &p)
	case KindIssueReopen:
		var p IssueReopen
		return p, json.Unmarshal(env.Payload, &p)
	case KindLabelAdd:
		var p LabelAdd
		return p, json.Unmarshal(env.Payload, &p)
	case KindLabelRemove:
		var p LabelRemove
		return p, json.Unmarshal(env.Payload, &p)
	case KindCommentAdd:
		var p CommentAdd
		return p, json.Unmarshal(env.Payload, &p)
	case KindCommentEdit:
		var p CommentEdit
		return p, json.Unmarshal(env.Payload, &p)
	case KindFileContextSet:
		var p FileContextSet
		return p, json.Unmarshal(env.Payload, &p)
	case KindProjectContextSet:
		var p ProjectContextSet
		return p, json.Unmarshal(env.Payload, &p)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
}

// ErrUnknownKind is returned by DecodePayload for any Kind not in the
// union above, including kinds from a future, newer chunk codec version.
var ErrUnknownKind = fmt.Errorf("unknown event kind")
