package daemon

import (
	"errors"
	"os"
	"time"

	"github.com/leonletto/grit/internal/giterrors"
)

// FileLock holds an exclusive file lock that auto-releases on process death.
// The OS releases the lock automatically when the process exits (even SIGKILL).
type FileLock struct {
	path string
	file *os.File
}

// LockPath returns the path to the lock file.
func (l *FileLock) LockPath() string {
	return l.path
}

// AcquireLockRetry attempts the daemon lock up to attempts times,
// sleeping delay between tries. Contention (a live peer holding the
// lock) is the only retried condition; any other failure surfaces
// immediately. After the last attempt the LockConflict error is
// returned to the caller to surface.
func AcquireLockRetry(path string, attempts int, delay time.Duration) (*FileLock, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		lock, err := AcquireLock(path)
		if err == nil {
			return lock, nil
		}
		if !errors.Is(err, giterrors.ErrLockConflict) {
			return nil, err
		}
		lastErr = err
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return nil, lastErr
}
