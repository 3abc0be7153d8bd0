package giterrors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/leonletto/grit/internal/giterrors"
)

func TestWrap_MatchesSentinelByCode(t *testing.T) {
	cause := fmt.Errorf("hash mismatch")
	err := giterrors.Wrap(giterrors.ErrInvalidChunk, cause)

	if !errors.Is(err, giterrors.ErrInvalidChunk) {
		t.Error("wrapped error does not match its sentinel")
	}
	if errors.Is(err, giterrors.ErrSyncConflict) {
		t.Error("wrapped error matches an unrelated sentinel")
	}
	if !errors.Is(err, cause) {
		t.Error("wrapped error lost its cause")
	}
}

func TestCodeOf(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{giterrors.ErrNotARepo, "NotARepo"},
		{giterrors.Wrap(giterrors.ErrSyncConflict, fmt.Errorf("x")), "SyncConflict"},
		{giterrors.Git("push", fmt.Errorf("x")), "Git"},
		{giterrors.Io("read", fmt.Errorf("x")), "Io"},
		{giterrors.Serde("decode", fmt.Errorf("x")), "Serde"},
		{fmt.Errorf("plain"), "Io"},
		{fmt.Errorf("wrapped: %w", giterrors.ErrTimeout), "Timeout"},
	}
	for _, tc := range cases {
		if got := giterrors.CodeOf(tc.err); got != tc.want {
			t.Errorf("CodeOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestWorkerNotFound_CarriesContext(t *testing.T) {
	err := giterrors.WorkerNotFound("/repo", "deadbeef")
	if !errors.Is(err, giterrors.ErrWorkerNotFound) {
		t.Error("WorkerNotFound does not match its sentinel")
	}
	if giterrors.CodeOf(err) != "WorkerNotFound" {
		t.Errorf("code = %q", giterrors.CodeOf(err))
	}
}

func TestNilCausesReturnNil(t *testing.T) {
	if giterrors.Git("op", nil) != nil || giterrors.Io("op", nil) != nil || giterrors.Serde("op", nil) != nil {
		t.Error("wrapping a nil error should yield nil")
	}
}
