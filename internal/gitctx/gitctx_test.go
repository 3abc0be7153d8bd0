package gitctx_test

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/leonletto/grit/internal/gitctx"
)

func setupGitRepo(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	runGit(t, tmpDir, "init")
	runGit(t, tmpDir, "config", "user.name", "Test User")
	runGit(t, tmpDir, "config", "user.email", "test@example.com")
	writeFile(t, tmpDir, "main.go", "package main\n")
	runGit(t, tmpDir, "add", "main.go")
	runGit(t, tmpDir, "commit", "-m", "initial")
	return tmpDir
}

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...) //nolint:gosec // test-controlled args
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git %s failed: %v\noutput: %s", strings.Join(args, " "), err, out)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLanguageForPath(t *testing.T) {
	cases := map[string]string{
		"main.go":     "go",
		"lib.rs":      "rust",
		"script.py":   "python",
		"README.md":   "markdown",
		"unknown.zzz": "",
		"noext":       "",
	}
	for path, want := range cases {
		if got := gitctx.LanguageForPath(path); got != want {
			t.Errorf("LanguageForPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestSnapshot(t *testing.T) {
	repo := setupGitRepo(t)

	snap, err := gitctx.Snapshot(repo, "main.go")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Path != "main.go" {
		t.Errorf("Path = %q, want main.go", snap.Path)
	}
	if snap.Language != "go" {
		t.Errorf("Language = %q, want go", snap.Language)
	}
	var zero [32]byte
	if snap.ContentHash == zero {
		t.Error("expected non-zero content hash")
	}
}

func TestSnapshot_SameContentSameHash(t *testing.T) {
	repo := setupGitRepo(t)
	writeFile(t, repo, "other.go", "package main\n")

	a, err := gitctx.Snapshot(repo, "main.go")
	if err != nil {
		t.Fatalf("Snapshot main.go: %v", err)
	}
	b, err := gitctx.Snapshot(repo, "other.go")
	if err != nil {
		t.Fatalf("Snapshot other.go: %v", err)
	}
	if a.ContentHash != b.ContentHash {
		t.Error("expected identical content to hash identically")
	}
}

func TestSnapshot_MissingFile(t *testing.T) {
	repo := setupGitRepo(t)
	if _, err := gitctx.Snapshot(repo, "does-not-exist.go"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestChangedFiles(t *testing.T) {
	repo := setupGitRepo(t)
	writeFile(t, repo, "new.go", "package main\n\nfunc f() {}\n")
	runGit(t, repo, "add", "new.go")
	runGit(t, repo, "commit", "-m", "add new.go")

	changed, err := gitctx.ChangedFiles(repo, "HEAD~1")
	if err != nil {
		t.Fatalf("ChangedFiles: %v", err)
	}
	found := false
	for _, f := range changed {
		if f == "new.go" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected new.go in changed files, got %v", changed)
	}
}

func TestSummarizeDiff(t *testing.T) {
	repo := setupGitRepo(t)
	writeFile(t, repo, "main.go", "package main\n\nfunc main() {}\n")
	runGit(t, repo, "add", "main.go")
	runGit(t, repo, "commit", "-m", "add main func")

	summary, err := gitctx.SummarizeDiff(repo, "HEAD~1", "main.go")
	if err != nil {
		t.Fatalf("SummarizeDiff: %v", err)
	}
	if !strings.Contains(summary, "lines changed") {
		t.Errorf("expected a diffstat summary, got %q", summary)
	}
}

func TestSummarizeDiff_NoChange(t *testing.T) {
	repo := setupGitRepo(t)
	writeFile(t, repo, "untouched.go", "package main\n")
	runGit(t, repo, "add", "untouched.go")
	runGit(t, repo, "commit", "-m", "add untouched")

	summary, err := gitctx.SummarizeDiff(repo, "HEAD", "untouched.go")
	if err != nil {
		t.Fatalf("SummarizeDiff: %v", err)
	}
	if summary != "" {
		t.Errorf("expected empty summary for no change, got %q", summary)
	}
}
