// Package gitplumb runs git as a subprocess with bounded timeouts.
// Every WAL, snapshot, and sync operation in grit shells out to git
// plumbing commands (hash-object, mktree, commit-tree, update-ref,
// for-each-ref) rather than touching a working tree or index.
package gitplumb

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Git runs a git command with a 5-second timeout. All local,
// non-network plumbing (hash-object, mktree, commit-tree, update-ref,
// for-each-ref, merge-base) goes through this.
func Git(ctx context.Context, dir string, args ...string) ([]byte, error) {
	return run(ctx, 5*time.Second, dir, nil, args...)
}

// GitLong runs git commands that involve network I/O (push, fetch) with
// a 10-second timeout, matching spec's DEFAULT_TIMEOUT_MS.
func GitLong(ctx context.Context, dir string, args ...string) ([]byte, error) {
	return run(ctx, 10*time.Second, dir, nil, args...)
}

// GitStdin runs a git command with a 5-second timeout, feeding stdin
// bytes to it — used for `git hash-object -w --stdin` when writing a
// chunk blob and `git mktree` when building the WAL commit's tree.
func GitStdin(ctx context.Context, dir string, stdin []byte, args ...string) ([]byte, error) {
	return run(ctx, 5*time.Second, dir, stdin, args...)
}

func run(ctx context.Context, timeout time.Duration, dir string, stdin []byte, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("git %v in %s: %w (output: %s)", args, dir, err, out)
	}
	return out, nil
}
