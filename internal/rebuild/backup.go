package rebuild

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	backupPrefix = "graph-"
	backupSuffix = ".db.zst"
	// backupStamp sorts lexicographically in time order.
	backupStamp = "20060102T150405.000000000Z"
)

// Backup describes one compressed snapshot copy under the backups directory.
type Backup struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// backupName returns the file name for a backup taken at t.
func backupName(t time.Time) string {
	return backupPrefix + t.UTC().Format(backupStamp) + backupSuffix
}

// parseBackupName reports the timestamp encoded in name.
func parseBackupName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, backupPrefix) || !strings.HasSuffix(name, backupSuffix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, backupPrefix), backupSuffix)
	t, err := time.Parse(backupStamp, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// compressFile writes a zstd copy of src to dst through a temporary file,
// so a partial backup never carries the final name.
func compressFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".backup-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	enc, err := zstd.NewWriter(tmp, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, err
	}
	if _, err := io.Copy(enc, in); err != nil {
		_ = enc.Close()
		return 0, fmt.Errorf("compressing %s: %w", src, err)
	}
	if err := enc.Close(); err != nil {
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		return 0, err
	}
	info, err := tmp.Stat()
	if err != nil {
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return 0, err
	}
	ok = true
	return info.Size(), nil
}

// decompressFile expands the zstd file src into dst, replacing dst.
func decompressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	dec, err := zstd.NewReader(in)
	if err != nil {
		return err
	}
	defer dec.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, dec); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("decompressing %s: %w", src, err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// listBackups returns the backups in dir, newest first. A missing directory
// yields an empty list.
func listBackups(dir string) ([]Backup, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var backups []Backup
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		created, ok := parseBackupName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Backup{Name: e.Name(), Size: info.Size(), CreatedAt: created})
	}
	sort.Slice(backups, func(i, j int) bool { return backups[i].Name > backups[j].Name })
	return backups, nil
}

// pruneBackups keeps the newest retain backups and deletes the rest,
// returning the names removed.
func pruneBackups(dir string, retain int) ([]string, error) {
	backups, err := listBackups(dir)
	if err != nil {
		return nil, err
	}
	if retain < 1 || len(backups) <= retain {
		return nil, nil
	}
	var removed []string
	for _, b := range backups[retain:] {
		if err := os.Remove(filepath.Join(dir, b.Name)); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed = append(removed, b.Name)
	}
	return removed, nil
}
