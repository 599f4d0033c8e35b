// Package lock implements the single-instance PID-file guard `saltctl cmd
// --lock-file` uses to stop a cron-triggered invocation from overlapping
// itself against the same target/function pair.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mattjoyce/saltctl/internal/log"
)

// PIDLock is a single-instance lock implemented via a PID file + flock(2).
// Keep the lock alive by keeping the file descriptor open. Owner records
// what this invocation was publishing (its target/function description),
// written alongside the PID so a stuck lock file tells an operator which
// call is still holding it.
type PIDLock struct {
	path  string
	owner string
	f     *os.File
}

// AcquirePIDLock acquires an exclusive non-blocking lock at lockPath, writes
// the current PID and owner into the file, and returns a handle that must
// be released. owner is a short description of the call this lock guards
// (e.g. "web* test.ping"), surfaced in logs and in the lock file itself so
// a stuck lock is diagnosable without attaching a debugger to the PID.
func AcquirePIDLock(lockPath, owner string) (*PIDLock, error) {
	logger := log.WithComponent("lock")

	if lockPath == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		held := readOwner(f)
		_ = f.Close()
		logger.Warn("lock held by another invocation", "path", lockPath, "held_by", held, "error", err)
		return nil, fmt.Errorf("acquire lock held by %q: %w", held, err)
	}

	if err := f.Truncate(0); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n%s\n", os.Getpid(), owner); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, fmt.Errorf("write pid: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, fmt.Errorf("sync lock file: %w", err)
	}

	logger.Info("acquired lock", "path", lockPath, "owner", owner, "pid", os.Getpid())
	return &PIDLock{path: lockPath, owner: owner, f: f}, nil
}

// readOwner best-effort reads the owner line a previous holder wrote, for
// the "lock held by" diagnostic.
func readOwner(f *os.File) string {
	data, err := os.ReadFile(f.Name())
	if err != nil {
		return "unknown"
	}
	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	if len(lines) < 2 || strings.TrimSpace(lines[1]) == "" {
		return "unknown"
	}
	return strings.TrimSpace(lines[1])
}

// Path returns the lock file path.
func (l *PIDLock) Path() string { return l.path }

// Owner returns the description this lock was acquired under.
func (l *PIDLock) Owner() string { return l.owner }

// Release unlocks and closes the underlying file. Safe to call on a nil
// receiver or an already-released lock.
func (l *PIDLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	logger := log.WithComponent("lock")
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	logger.Info("released lock", "path", l.path, "owner", l.owner)
	return err
}
