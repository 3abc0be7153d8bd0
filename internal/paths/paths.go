// Package paths resolves grit's on-disk layout under <repo>/.git/grit/:
// repo and actor config files, the per-actor store, the daemon's socket,
// and the discovery lock, with GRIT_DIR and GRIT_SOCKET environment
// overrides.
package paths

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// GritDirName is the directory name under a repo's .git/ that holds all
// of grit's local state.
const GritDirName = "grit"

// FindRepoRoot walks up from startPath looking for a .git directory or
// file (the latter for worktrees/submodules), mirroring how git itself
// resolves the working tree root.
func FindRepoRoot(startPath string) (string, error) {
	absPath, err := filepath.Abs(startPath)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path: %w", err)
	}

	dir := absPath
	for {
		gitPath := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			_ = info
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a git repository (searched from %s to /)", absPath)
		}
		dir = parent
	}
}

// GitCommonDir returns the shared .git directory for repoPath, resolving
// worktrees to their common git dir so grit's refs/state are visible from
// every worktree of the same repository.
func GitCommonDir(repoPath string) (string, error) {
	cmd := exec.Command("git", "-C", repoPath, "rev-parse", "--git-common-dir") //nolint:gosec // G204: constant args
	out, err := cmd.Output()
	if err != nil {
		return filepath.Join(repoPath, ".git"), nil //nolint:nilerr // fallback for non-git contexts used only by tests
	}
	dir := strings.TrimSpace(string(out))
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(repoPath, dir)
	}
	return dir, nil
}

// GritDir returns <repo>/.git/grit, honoring a GRIT_DIR environment
// override.
func GritDir(repoPath string) (string, error) {
	if override := os.Getenv("GRIT_DIR"); override != "" {
		return override, nil
	}
	commonDir, err := GitCommonDir(repoPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(commonDir, GritDirName), nil
}

// RepoConfigPath returns <gritDir>/config.toml.
func RepoConfigPath(gritDir string) string {
	return filepath.Join(gritDir, "config.toml")
}

// ActorDir returns <gritDir>/actors/<actor_id_hex>.
func ActorDir(gritDir, actorIDHex string) string {
	return filepath.Join(gritDir, "actors", actorIDHex)
}

// ActorConfigPath returns <gritDir>/actors/<actor_id_hex>/config.toml.
func ActorConfigPath(gritDir, actorIDHex string) string {
	return filepath.Join(ActorDir(gritDir, actorIDHex), "config.toml")
}

// ActorStorePath returns <gritDir>/actors/<actor_id_hex>/sled/events.db,
// the LocalStore's SQLite file. The "sled" directory name predates the
// SQLite backing and is kept so existing layouts stay valid.
func ActorStorePath(gritDir, actorIDHex string) string {
	return filepath.Join(ActorDir(gritDir, actorIDHex), "sled", "events.db")
}

// DaemonLockPath returns <gritDir>/daemon.lock, the flock target backing
// daemon discovery.
func DaemonLockPath(gritDir string) string {
	return filepath.Join(gritDir, "daemon.lock")
}

// DaemonPIDPath returns <gritDir>/daemon.pid.
func DaemonPIDPath(gritDir string) string {
	return filepath.Join(gritDir, "daemon.pid")
}

// SocketPath returns the Unix-socket path the daemon listens on,
// honoring a GRIT_SOCKET environment override.
func SocketPath(gritDir string) string {
	if override := os.Getenv("GRIT_SOCKET"); override != "" {
		return override
	}
	return filepath.Join(gritDir, "daemon.sock")
}
