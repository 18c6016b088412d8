//go:build !windows

package index

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	kgerrors "kgindex/internal/errors"
)

const lockFile = "index.lock"

// Lock represents an exclusive lock on the state directory.
type Lock struct {
	path string
	file *os.File
}

// AcquireLock attempts to acquire an exclusive lock on the state directory.
// Returns an INDEX_LOCKED error if another process holds the lock.
func AcquireLock(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	path := filepath.Join(stateDir, lockFile)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	// Try to acquire exclusive lock (non-blocking)
	err = syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		_ = file.Close()

		if pid, ok := HolderPID(stateDir); ok {
			return nil, kgerrors.New(kgerrors.IndexLocked,
				fmt.Sprintf("index is locked by another process (PID %d); another kgindex rebuild may be running", pid), err).
				WithDetails(map[string]int{"pid": pid})
		}
		return nil, kgerrors.New(kgerrors.IndexLocked,
			"index is locked by another process; another kgindex rebuild may be running", err)
	}

	// Write our PID to the lock file
	if err := file.Truncate(0); err != nil {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		_ = file.Close()
		return nil, fmt.Errorf("truncating lock file: %w", err)
	}

	if _, err := file.Seek(0, 0); err != nil {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		_ = file.Close()
		return nil, fmt.Errorf("seeking lock file: %w", err)
	}

	if _, err := file.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		_ = file.Close()
		return nil, fmt.Errorf("writing PID to lock file: %w", err)
	}

	return &Lock{path: path, file: file}, nil
}

// Release releases the lock and removes the lock file.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}

	// Remove before unlocking so a waiting process never locks a file
	// that is about to disappear.
	_ = os.Remove(l.path)
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}

// HolderPID reads the PID recorded in the lock file, if any.
func HolderPID(stateDir string) (int, bool) {
	content, err := os.ReadFile(filepath.Join(stateDir, lockFile))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
