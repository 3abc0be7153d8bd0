package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// PIDInfo is the daemon's discovery record: which process serves which
// repo on which socket, and until when its lease is valid. Clients read
// it to find the daemon; a dead PID or an expired lease means the
// record is stale and the next client may start a replacement.
type PIDInfo struct {
	PID            int       `json:"pid"`
	RepoPath       string    `json:"repo_path,omitempty"`
	SocketPath     string    `json:"socket_path,omitempty"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	LeaseExpiresAt time.Time `json:"lease_expires_at,omitempty"`
}

// LeaseValid reports whether the record's lease has not yet expired.
// Records written before the lease field existed (zero expiry) are
// treated as expired, forcing the PID liveness check to decide.
func (p PIDInfo) LeaseValid() bool {
	return !p.LeaseExpiresAt.IsZero() && time.Now().Before(p.LeaseExpiresAt)
}

// WritePIDFile writes the discovery record as JSON.
func WritePIDFile(path string, info PIDInfo) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal PID info: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	return nil
}

// ReadPIDFile reads the discovery record.
func ReadPIDFile(path string) (PIDInfo, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304 - path from internal var directory
	if err != nil {
		// Return error without wrapping to preserve os.IsNotExist check
		return PIDInfo{}, err
	}

	var info PIDInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return PIDInfo{}, fmt.Errorf("invalid PID file format: %w", err)
	}
	return info, nil
}

// CheckPIDFile reads the discovery record and reports whether the
// recorded process is running.
// Returns: (running bool, PIDInfo, error)
// - running: true if process is running, false if stale or doesn't exist
// - PIDInfo: process metadata from the file (PID=0 if file doesn't exist)
// - error: any error reading the file (nil if file doesn't exist).
func CheckPIDFile(path string) (bool, PIDInfo, error) {
	info, err := ReadPIDFile(path)
	if err != nil {
		// A missing record is the normal daemon-not-running case.
		if os.IsNotExist(err) {
			return false, PIDInfo{}, nil
		}
		return false, PIDInfo{}, err
	}

	return isProcessRunning(info.PID), info, nil
}

// ValidatePIDRepo checks if the record's repo path matches the expected
// repo path. Records without a repo path return false — the flock is
// the arbiter when repo affinity cannot be confirmed.
func ValidatePIDRepo(info PIDInfo, expectedRepoPath string) bool {
	if info.RepoPath == "" {
		return false
	}
	return filepath.Clean(info.RepoPath) == filepath.Clean(expectedRepoPath)
}

// RemovePIDFile removes the PID file.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// isProcessRunning checks if a process with the given PID is running.
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		// On Unix, FindProcess always succeeds
		// On Windows, it may fail if process doesn't exist
		return false
	}

	// Signal 0 checks existence and permission without delivering anything.
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	if err == syscall.ESRCH {
		return false
	}
	if err == syscall.EPERM {
		// Process exists but belongs to someone else; still running.
		return true
	}
	return false
}
