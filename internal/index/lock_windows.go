//go:build windows

package index

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	kgerrors "kgindex/internal/errors"
)

const lockFile = "index.lock"

// Lock represents an exclusive lock on the state directory.
// Windows has no flock; O_EXCL creation of the lock file is used instead.
type Lock struct {
	path string
	file *os.File
}

// AcquireLock attempts to acquire an exclusive lock on the state directory.
func AcquireLock(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	path := filepath.Join(stateDir, lockFile)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, kgerrors.New(kgerrors.IndexLocked,
				"index is locked by another process; another kgindex rebuild may be running", err)
		}
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if _, err := file.WriteString(strconv.Itoa(os.Getpid())); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return nil, fmt.Errorf("writing PID to lock file: %w", err)
	}

	return &Lock{path: path, file: file}, nil
}

// Release releases the lock and removes the lock file.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}

	_ = l.file.Close()
	_ = os.Remove(l.path)
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
