// Package gitctx derives file-context records from the working tree:
// language from the extension, content hash from the bytes, and a
// change summary from git diff. Symbol extraction is intentionally not
// implemented here; callers supply symbols when they have a parser for
// the language.
package gitctx

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// extensionLanguages maps common file extensions to a coarse language
// label. Anything not listed here is reported as "" (unknown).
var extensionLanguages = map[string]string{
	".go":     "go",
	".rs":     "rust",
	".py":     "python",
	".js":     "javascript",
	".jsx":    "javascript",
	".ts":     "typescript",
	".tsx":    "typescript",
	".java":   "java",
	".c":      "c",
	".h":      "c",
	".cpp":    "cpp",
	".cc":     "cpp",
	".hpp":    "cpp",
	".rb":     "ruby",
	".sh":     "shell",
	".md":     "markdown",
	".toml":   "toml",
	".yaml":   "yaml",
	".yml":    "yaml",
	".json":   "json",
	".sql":    "sql",
}

// LanguageForPath returns the coarse language label for path's extension,
// or "" if the extension is unrecognized.
func LanguageForPath(path string) string {
	return extensionLanguages[strings.ToLower(filepath.Ext(path))]
}

// FileSnapshot is the input to a FileContextSet: everything gitctx can
// derive from a file's current on-disk state and its diff against a base
// revision, before a Worker stamps it with a Version and writes the event.
type FileSnapshot struct {
	Path        string
	Language    string
	Summary     string
	ContentHash [32]byte
}

// Snapshot reads path (relative to repoRoot) off disk and derives its
// language and content hash. Summary is left to SummarizeDiff, called
// separately against a base revision, since a single file read has no
// notion of "what changed".
func Snapshot(repoRoot, path string) (FileSnapshot, error) {
	full := filepath.Join(repoRoot, path)
	data, err := os.ReadFile(full) //nolint:gosec // G304 - path is repo-relative, caller-controlled
	if err != nil {
		return FileSnapshot{}, fmt.Errorf("read %s: %w", path, err)
	}
	return FileSnapshot{
		Path:        path,
		Language:    LanguageForPath(path),
		ContentHash: blake2b.Sum256(data),
	}, nil
}

// ChangedFiles returns the repo-relative paths that differ between
// baseRevision and the working tree (HEAD if baseRevision is "HEAD"),
// using `git diff --name-only`.
func ChangedFiles(repoRoot, baseRevision string) ([]string, error) {
	out, err := runGit(repoRoot, "diff", "--name-only", baseRevision)
	if err != nil {
		return nil, fmt.Errorf("git diff --name-only: %w", err)
	}
	return parseLines(out), nil
}

// SummarizeDiff produces a one-line human-readable summary of path's
// change against baseRevision, e.g. "+12 -3 lines changed", derived from
// `git diff --numstat`.
func SummarizeDiff(repoRoot, baseRevision, path string) (string, error) {
	out, err := runGit(repoRoot, "diff", "--numstat", baseRevision, "--", path)
	if err != nil {
		return "", fmt.Errorf("git diff --numstat %s: %w", path, err)
	}
	line := strings.TrimSpace(out)
	if line == "" {
		return "", nil
	}
	parts := strings.Split(line, "\t")
	if len(parts) < 2 {
		return "", nil
	}
	if parts[0] == "-" || parts[1] == "-" {
		return "binary file changed", nil
	}
	return fmt.Sprintf("+%s -%s lines changed", parts[0], parts[1]), nil
}

func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...) //nolint:gosec // G204 - args are fixed subcommands plus caller-supplied revisions/paths
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w (stderr: %s)", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String(), nil
}

func parseLines(output string) []string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	result := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			result = append(result, line)
		}
	}
	return result
}
