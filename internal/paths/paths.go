// Package paths resolves the on-disk layout of a kgindex state directory and
// normalizes corpus-relative paths.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultStateDir is the state directory name used when none is configured.
	DefaultStateDir = ".kgindex"

	liveSnapshotFile = "graph.db"
	backupsDir       = "backups"
	stagingDir       = "staging"
	logsDir          = "logs"
)

// Layout describes where the live snapshot, backups, staging area and logs live.
type Layout struct {
	Root string
}

// NewLayout returns the layout for stateDir, resolved to an absolute path.
func NewLayout(stateDir string) (Layout, error) {
	if stateDir == "" {
		stateDir = DefaultStateDir
	}
	abs, err := filepath.Abs(stateDir)
	if err != nil {
		return Layout{}, fmt.Errorf("resolving state dir %q: %w", stateDir, err)
	}
	return Layout{Root: abs}, nil
}

// LiveSnapshot is the path of the committed snapshot served to readers.
func (l Layout) LiveSnapshot() string {
	return filepath.Join(l.Root, liveSnapshotFile)
}

// BackupsDir holds timestamped copies of previously committed snapshots.
func (l Layout) BackupsDir() string {
	return filepath.Join(l.Root, backupsDir)
}

// StagingDir holds snapshots under construction.
func (l Layout) StagingDir() string {
	return filepath.Join(l.Root, stagingDir)
}

// LogsDir holds component log files.
func (l Layout) LogsDir() string {
	return filepath.Join(l.Root, logsDir)
}

// LogPath returns the log file for a component (e.g. "watch", "api").
func (l Layout) LogPath(component string) string {
	return filepath.Join(l.LogsDir(), component+".log")
}

// Ensure creates the state directory and its subdirectories.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.Root, l.BackupsDir(), l.StagingDir(), l.LogsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}

// CanonicalizePath converts an absolute path to a root-relative canonical path
// - Resolves symlinks to real paths
// - Makes path relative to root
// - Converts backslashes to forward slashes
func CanonicalizePath(absolutePath string, root string) (string, error) {
	resolved, err := filepath.EvalSymlinks(absolutePath)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		resolved = absolutePath
	}

	rootResolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		rootResolved = root
	}

	rel, err := filepath.Rel(rootResolved, resolved)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// IsWithin reports whether path lies inside root.
func IsWithin(path string, root string) bool {
	canonical, err := CanonicalizePath(path, root)
	if err != nil {
		return false
	}
	return canonical != ".." && !strings.HasPrefix(canonical, "../")
}

// NormalizePath converts backslashes to forward slashes.
func NormalizePath(path string) string {
	return strings.ReplaceAll(filepath.ToSlash(path), "\\", "/")
}
