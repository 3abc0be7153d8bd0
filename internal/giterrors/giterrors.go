// Package giterrors defines grit's error taxonomy: one Go error value
// per failure mode, each carrying a stable Code for the IPC/CLI JSON
// envelope's error.code field. The variant set mirrors the Rust
// DaemonError enum this system was distilled from, translated to Go's
// sentinel-error idiom (errors.Is/errors.As) instead of enum matching.
package giterrors

import (
	"errors"
	"fmt"
)

// Error is a grit-specific error carrying a stable machine-readable
// code alongside the usual human message.
type Error struct {
	code    string
	message string
	wrapped error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

func (e *Error) Unwrap() error { return e.wrapped }

// Is matches two taxonomy errors by code, so
// errors.Is(Wrap(ErrInvalidChunk, cause), ErrInvalidChunk) holds even
// though the wrap chain carries the cause rather than the sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code returns the stable error code used in the JSON envelope.
func (e *Error) Code() string { return e.code }

func newErr(code, message string) *Error {
	return &Error{code: code, message: message}
}

// Sentinel values, one per row of the error taxonomy. Compare with
// errors.Is, e.g. errors.Is(err, ErrNotARepo).
var (
	ErrNotARepo       = newErr("NotARepo", "not a grit repository")
	ErrDuplicateEvent = newErr("DuplicateEvent", "duplicate event")
	ErrInvalidChunk   = newErr("InvalidChunk", "invalid chunk")
	ErrSyncConflict   = newErr("SyncConflict", "sync conflict")
	ErrLockConflict   = newErr("LockConflict", "lock conflict")
	ErrWorkerNotFound = newErr("WorkerNotFound", "worker not found")
	ErrTimeout        = newErr("Timeout", "operation timed out")
)

// WorkerNotFound builds a worker-not-found error carrying the repo and
// actor that couldn't be located, matching the Rust
// WorkerNotFound{repo_root, actor_id} variant's shape.
func WorkerNotFound(repoRoot, actorID string) error {
	return &Error{
		code:    ErrWorkerNotFound.code,
		message: fmt.Sprintf("no worker for repo %q actor %q", repoRoot, actorID),
		wrapped: ErrWorkerNotFound,
	}
}

// Io wraps an *os/io* failure with the "Io" code.
func Io(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{code: "Io", message: fmt.Sprintf("io: %s", op), wrapped: err}
}

// Git wraps a git-plumbing failure with the "Git" code.
func Git(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{code: "Git", message: fmt.Sprintf("git: %s", op), wrapped: err}
}

// Serde wraps a (de)serialization failure with the "Serde" code.
func Serde(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{code: "Serde", message: fmt.Sprintf("serde: %s", op), wrapped: err}
}

// Wrap attaches code/message to an underlying error, for call sites that
// need a custom message around one of the sentinels above.
func Wrap(sentinel *Error, err error) error {
	return &Error{code: sentinel.code, message: sentinel.message, wrapped: err}
}

// CodeOf extracts the stable error code from err, defaulting to "Io" for
// errors outside this taxonomy (matching the Rust enum's io::Error
// fallback arm).
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return "Io"
}
