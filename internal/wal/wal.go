// Package wal manages the Git-ref-backed write-ahead log: one chunk
// blob per commit, chained by parent, moved forward with
// `git update-ref`. Everything is built from plumbing commands
// (hash-object, mktree, commit-tree) — no working tree or index is ever
// touched, so the WAL never interferes with the user's checkout.
package wal

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/leonletto/grit/internal/chunk"
	"github.com/leonletto/grit/internal/giterrors"
	"github.com/leonletto/grit/internal/gitplumb"
	"github.com/leonletto/grit/internal/identity"
	"github.com/leonletto/grit/internal/types"
)

// LocalRef is the ref a repo's own actor appends to.
const LocalRef = "refs/grit/wal"

// SnapshotRefPrefix is the namespace snapshot commits live under.
const SnapshotRefPrefix = "refs/grit/snapshots/"

// RemoteActorRef is the local tracking ref for a remote actor's WAL
// chain, updated best-effort by Manager.Pull; git refuses the name
// once refs/grit/wal itself exists, so it is usually absent.
func RemoteActorRef(actorIDHex string) string {
	return "refs/grit/wal/" + actorIDHex
}

var commitMsgPattern = regexp.MustCompile(`^grit-wal v1 actor=([0-9a-f]{32}) seq_range=(\d+)\.\.(\d+) lamport=(\d+) count=(\d+)$`)

const mergeCommitMsg = "grit-wal-merge v1"

// CommitMeta describes one WAL commit, parsed from its message (for
// normal commits) or recognized as a merge commit.
type CommitMeta struct {
	SHA     string
	IsMerge bool
	Actor   identity.ID
	SeqLo   uint64
	SeqHi   uint64
	Lamport uint64
	Count   uint64
}

// FormatMessage renders the commit message for a normal WAL commit.
// The format is part of the wire contract: peers parse it back with
// ParseMessage.
func FormatMessage(actor identity.ID, seqLo, seqHi, lamport, count uint64) string {
	return fmt.Sprintf("grit-wal v1 actor=%s seq_range=%d..%d lamport=%d count=%d", actor.String(), seqLo, seqHi, lamport, count)
}

// ParseMessage parses a commit message produced by FormatMessage or the
// fixed merge-commit message.
func ParseMessage(sha, msg string) (CommitMeta, error) {
	msg = strings.TrimSpace(msg)
	if msg == mergeCommitMsg {
		return CommitMeta{SHA: sha, IsMerge: true}, nil
	}
	m := commitMsgPattern.FindStringSubmatch(msg)
	if m == nil {
		return CommitMeta{}, fmt.Errorf("wal: unrecognized commit message %q", msg)
	}
	actor, err := identity.ParseID(m[1])
	if err != nil {
		return CommitMeta{}, fmt.Errorf("wal: parse actor in commit message: %w", err)
	}
	seqLo, _ := strconv.ParseUint(m[2], 10, 64)
	seqHi, _ := strconv.ParseUint(m[3], 10, 64)
	lamport, _ := strconv.ParseUint(m[4], 10, 64)
	count, _ := strconv.ParseUint(m[5], 10, 64)
	return CommitMeta{SHA: sha, Actor: actor, SeqLo: seqLo, SeqHi: seqHi, Lamport: lamport, Count: count}, nil
}

// Head returns the commit SHA refName currently points at, and false if
// the ref doesn't exist yet.
func Head(ctx context.Context, repoRoot, refName string) (string, bool, error) {
	out, err := gitplumb.Git(ctx, repoRoot, "rev-parse", "--verify", refName)
	if err != nil {
		return "", false, nil //nolint:nilerr // ref absence is a normal, expected state
	}
	return strings.TrimSpace(string(out)), true, nil
}

// Append writes events as a new chunk blob, builds a tree containing it,
// and commits it onto refName with the current tip (if any) as sole
// parent, then advances refName to the new commit. Called only from the
// single writer goroutine that owns (repoRoot, actor) — see
// internal/worker — so no compare-and-swap is needed on the ref update.
func Append(ctx context.Context, repoRoot, refName string, actor identity.ID, seqLo, seqHi, lamport uint64, events []types.Envelope) (string, error) {
	data, err := chunk.Encode(chunk.CodecCanonical, events)
	if err != nil {
		return "", fmt.Errorf("wal: encode chunk: %w", err)
	}
	msg := FormatMessage(actor, seqLo, seqHi, lamport, uint64(len(events)))
	return commitChunk(ctx, repoRoot, refName, data, msg)
}

// AppendMerge records that two divergent WAL tips have been observed
// together, without introducing any new events: an empty chunk, a
// two-parent commit, message `grit-wal-merge v1`.
func AppendMerge(ctx context.Context, repoRoot, refName, parent1, parent2 string) (string, error) {
	data, err := chunk.Encode(chunk.CodecCanonical, nil)
	if err != nil {
		return "", fmt.Errorf("wal: encode empty merge chunk: %w", err)
	}
	treeSHA, err := writeChunkTree(ctx, repoRoot, data)
	if err != nil {
		return "", err
	}
	out, err := gitplumb.Git(ctx, repoRoot, "commit-tree", treeSHA, "-p", parent1, "-p", parent2, "-m", mergeCommitMsg)
	if err != nil {
		return "", giterrors.Git("commit-tree (merge)", err)
	}
	sha := strings.TrimSpace(string(out))
	if _, err := gitplumb.Git(ctx, repoRoot, "update-ref", refName, sha); err != nil {
		return "", giterrors.Git("update-ref", err)
	}
	return sha, nil
}

func commitChunk(ctx context.Context, repoRoot, refName string, data []byte, message string) (string, error) {
	treeSHA, err := writeChunkTree(ctx, repoRoot, data)
	if err != nil {
		return "", err
	}

	args := []string{"commit-tree", treeSHA, "-m", message}
	if parent, ok, err := Head(ctx, repoRoot, refName); err != nil {
		return "", err
	} else if ok {
		args = append(args, "-p", parent)
	}
	out, err := gitplumb.Git(ctx, repoRoot, args...)
	if err != nil {
		return "", giterrors.Git("commit-tree", err)
	}
	sha := strings.TrimSpace(string(out))

	if _, err := gitplumb.Git(ctx, repoRoot, "update-ref", refName, sha); err != nil {
		return "", giterrors.Git("update-ref", err)
	}
	return sha, nil
}

func writeChunkTree(ctx context.Context, repoRoot string, data []byte) (string, error) {
	blobOut, err := gitplumb.GitStdin(ctx, repoRoot, data, "hash-object", "-w", "--stdin")
	if err != nil {
		return "", giterrors.Git("hash-object", err)
	}
	blobSHA := strings.TrimSpace(string(blobOut))

	treeEntry := fmt.Sprintf("100644 blob %s\tchunk.bin\n", blobSHA)
	treeOut, err := gitplumb.GitStdin(ctx, repoRoot, []byte(treeEntry), "mktree")
	if err != nil {
		return "", giterrors.Git("mktree", err)
	}
	return strings.TrimSpace(string(treeOut)), nil
}

// ReadChunk reads and decodes the chunk.bin blob stored in commit sha's
// tree. An invalid chunk is reported via giterrors.ErrInvalidChunk so a
// caller walking a whole chain can skip and count it rather than abort.
func ReadChunk(ctx context.Context, repoRoot, sha string) ([]chunk.Event, error) {
	out, err := gitplumb.Git(ctx, repoRoot, "show", sha+":chunk.bin")
	if err != nil {
		// A WAL commit without a readable chunk.bin is corrupt in the
		// same way a bad hash is: the chunk fails, the walk continues.
		return nil, giterrors.Wrap(giterrors.ErrInvalidChunk, err)
	}
	return chunk.Decode(out)
}

// Walk lists commits reachable from refName, oldest first, stopping
// before "since" if since is a non-empty commit SHA already seen
// (`git rev-list --reverse since..refName`; with since empty, the whole
// chain is listed).
func Walk(ctx context.Context, repoRoot, refName, since string) ([]CommitMeta, error) {
	rangeArg := refName
	if since != "" {
		rangeArg = since + ".." + refName
	}
	out, err := gitplumb.Git(ctx, repoRoot, "log", "--reverse", "--format=%H%x01%s", rangeArg)
	if err != nil {
		return nil, giterrors.Git("log", err)
	}

	var metas []CommitMeta
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\x01", 2)
		if len(parts) != 2 {
			continue
		}
		meta, err := ParseMessage(parts[0], parts[1])
		if err != nil {
			continue
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// IsAncestor reports whether ancestorSHA is an ancestor of (or equal to)
// descendantSHA, using `git merge-base --is-ancestor`.
func IsAncestor(ctx context.Context, repoRoot, ancestorSHA, descendantSHA string) (bool, error) {
	_, err := gitplumb.Git(ctx, repoRoot, "merge-base", "--is-ancestor", ancestorSHA, descendantSHA)
	if err == nil {
		return true, nil
	}
	return false, nil //nolint:nilerr // a non-zero exit from --is-ancestor means "not an ancestor", not a failure
}
