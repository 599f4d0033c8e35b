package lock

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquirePIDLockWritesPIDAndOwner(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "saltctl.lock")
	l, err := AcquirePIDLock(lockPath, "web* test.ping")
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	if l.Owner() != "web* test.ping" {
		t.Fatalf("Owner() = %q, want %q", l.Owner(), "web* test.ping")
	}

	b, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.SplitN(strings.TrimSpace(string(b)), "\n", 2)
	if len(lines) < 1 || strings.TrimSpace(lines[0]) == "" {
		t.Fatalf("expected PID in lock file, got %q", string(b))
	}
	if len(lines) < 2 || strings.TrimSpace(lines[1]) != "web* test.ping" {
		t.Fatalf("expected owner line in lock file, got %q", string(b))
	}
}

func TestAcquirePIDLockSecondAcquireReportsHolder(t *testing.T) {
	t.Parallel()

	lockPath := filepath.Join(t.TempDir(), "saltctl.lock")
	l, err := AcquirePIDLock(lockPath, "web* test.ping")
	if err != nil {
		t.Fatalf("AcquirePIDLock: %v", err)
	}
	t.Cleanup(func() { _ = l.Release() })

	_, err = AcquirePIDLock(lockPath, "db* state.apply")
	if err == nil {
		t.Fatalf("expected second AcquirePIDLock to fail while first is held")
	}
	if !strings.Contains(err.Error(), "web* test.ping") {
		t.Fatalf("expected error to name the holding owner, got %v", err)
	}
}
