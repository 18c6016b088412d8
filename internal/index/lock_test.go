//go:build !windows

package index

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	kgerrors "kgindex/internal/errors"
)

func TestAcquireAndReleaseLock(t *testing.T) {
	tmpDir := t.TempDir()

	lock, err := AcquireLock(tmpDir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if lock == nil {
		t.Fatal("expected non-nil lock")
	}

	// Verify lock file exists and contains PID
	lockPath := filepath.Join(tmpDir, lockFile)
	content, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("failed to read lock file: %v", err)
	}
	pid, err := strconv.Atoi(string(content))
	if err != nil {
		t.Fatalf("lock file should contain PID: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("PID: got %d, want %d", pid, os.Getpid())
	}
	if holder, ok := HolderPID(tmpDir); !ok || holder != os.Getpid() {
		t.Errorf("HolderPID() = %d, %v", holder, ok)
	}

	lock.Release()

	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Error("lock file should be removed after release")
	}
	if _, ok := HolderPID(tmpDir); ok {
		t.Error("HolderPID should report nothing after release")
	}

	// releasing twice is harmless
	lock.Release()
}

func TestAcquireLock_AlreadyLocked(t *testing.T) {
	tmpDir := t.TempDir()

	lock1, err := AcquireLock(tmpDir)
	if err != nil {
		t.Fatalf("first AcquireLock failed: %v", err)
	}
	defer lock1.Release()

	lock2, err := AcquireLock(tmpDir)
	if err == nil {
		lock2.Release()
		t.Fatal("second AcquireLock should fail when already locked")
	}
	if !kgerrors.HasCode(err, kgerrors.IndexLocked) {
		t.Errorf("error code = %s, want %s", kgerrors.CodeOf(err), kgerrors.IndexLocked)
	}
}

func TestAcquireLock_AfterRelease(t *testing.T) {
	tmpDir := t.TempDir()

	lock1, err := AcquireLock(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	lock1.Release()

	lock2, err := AcquireLock(tmpDir)
	if err != nil {
		t.Fatalf("AcquireLock after release failed: %v", err)
	}
	lock2.Release()
}

func TestAcquireLock_CreatesDirectory(t *testing.T) {
	stateDir := filepath.Join(t.TempDir(), ".kgindex")

	if _, err := os.Stat(stateDir); !os.IsNotExist(err) {
		t.Fatal("stateDir should not exist yet")
	}

	lock, err := AcquireLock(stateDir)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(stateDir); os.IsNotExist(err) {
		t.Error("stateDir should be created by AcquireLock")
	}
}

func TestReleaseLock_NilSafe(t *testing.T) {
	// Should not panic
	var lock *Lock
	lock.Release()
}
