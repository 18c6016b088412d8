// Package corpus enumerates the files of one or more corpus roots and
// fingerprints their contents.
package corpus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"kgindex/internal/paths"
)

// skipDirs are never descended into, in addition to hidden directories.
var skipDirs = map[string]bool{
	".git":         true,
	".kgindex":     true,
	".cache":       true,
	"vendor":       true,
	"node_modules": true,
}

// Root is a corpus tree tagged with the provenance label its entities carry.
type Root struct {
	Path       string
	Provenance string
}

// Options controls which files a scan reports.
type Options struct {
	// Suffixes lists recognized file suffixes (".md", ".sol"), matched case-insensitively.
	Suffixes []string
	// Exclude holds doublestar globs matched against root-relative paths.
	Exclude []string
	// SkipPaths are absolute paths (such as the state directory) never scanned.
	SkipPaths []string
	// MaxFileBytes skips larger files with a warning; 0 means unlimited.
	MaxFileBytes int64
}

// File is one scanned corpus file.
type File struct {
	Provenance string `json:"provenance"`
	RelPath    string `json:"relPath"`
	AbsPath    string `json:"-"`
	Hash       string `json:"hash"`
	Size       int64  `json:"size"`
}

// Key is the provenance-qualified path used for ordering and fingerprinting.
func (f File) Key() string {
	return f.Provenance + "/" + f.RelPath
}

// Warning records a file the scan had to skip.
type Warning struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// Result is the outcome of a scan.
type Result struct {
	Files       []File
	Fingerprint string
	Warnings    []Warning
}

// Scanner walks corpus roots.
type Scanner struct {
	opts   Options
	logger *slog.Logger
}

// NewScanner creates a scanner with the given options.
func NewScanner(opts Options, logger *slog.Logger) *Scanner {
	return &Scanner{opts: opts, logger: logger}
}

// ValidateRoots rejects empty, duplicate or missing roots.
func ValidateRoots(roots []Root) error {
	if len(roots) == 0 {
		return fmt.Errorf("no corpus roots configured")
	}
	seen := make(map[string]bool, len(roots))
	for _, r := range roots {
		if r.Provenance == "" {
			return fmt.Errorf("corpus root %s has no provenance label", r.Path)
		}
		if seen[r.Provenance] {
			return fmt.Errorf("duplicate provenance label %q", r.Provenance)
		}
		seen[r.Provenance] = true

		info, err := os.Stat(r.Path)
		if err != nil {
			return fmt.Errorf("corpus root %s: %w", r.Path, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("corpus root %s is not a directory", r.Path)
		}
	}
	return nil
}

// Scan walks every root and hashes each recognized file. Unreadable entries
// are skipped and reported as warnings; only invalid roots and context
// cancellation return an error.
func (s *Scanner) Scan(ctx context.Context, roots []Root) (*Result, error) {
	if err := ValidateRoots(roots); err != nil {
		return nil, err
	}

	res := &Result{}
	for _, root := range roots {
		if err := s.scanRoot(ctx, root, res); err != nil {
			return nil, err
		}
	}

	sort.Slice(res.Files, func(i, j int) bool { return res.Files[i].Key() < res.Files[j].Key() })
	res.Fingerprint = Fingerprint(res.Files)

	s.logger.Debug("Corpus scanned",
		"roots", len(roots),
		"files", len(res.Files),
		"warnings", len(res.Warnings),
		"fingerprint", res.Fingerprint,
	)
	return res, nil
}

func (s *Scanner) scanRoot(ctx context.Context, root Root, res *Result) error {
	absRoot, err := filepath.Abs(root.Path)
	if err != nil {
		return fmt.Errorf("resolving root %s: %w", root.Path, err)
	}

	warn := func(path string, err error) {
		s.logger.Warn("Skipping unreadable corpus entry", "path", path, "error", err)
		res.Warnings = append(res.Warnings, Warning{Path: path, Err: err.Error()})
	}

	return filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == absRoot {
				return fmt.Errorf("reading root %s: %w", absRoot, walkErr)
			}
			warn(path, walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		relPath, err := paths.CanonicalizePath(path, absRoot)
		if err != nil {
			warn(path, err)
			return nil
		}

		if d.IsDir() {
			if path != absRoot && (skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") || s.skipped(path) || s.excluded(relPath)) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !s.recognized(relPath) || s.excluded(relPath) || s.skipped(path) {
			return nil
		}

		hash, size, err := s.hashFile(path)
		if err != nil {
			warn(path, err)
			return nil
		}
		res.Files = append(res.Files, File{
			Provenance: root.Provenance,
			RelPath:    relPath,
			AbsPath:    path,
			Hash:       hash,
			Size:       size,
		})
		return nil
	})
}

func (s *Scanner) recognized(relPath string) bool {
	ext := strings.ToLower(filepath.Ext(relPath))
	for _, suffix := range s.opts.Suffixes {
		if strings.ToLower(suffix) == ext {
			return true
		}
	}
	return false
}

func (s *Scanner) excluded(relPath string) bool {
	for _, pattern := range s.opts.Exclude {
		if ok, _ := doublestar.Match(pattern, relPath); ok {
			return true
		}
		// "drafts" also excludes everything below drafts/
		dir := strings.TrimSuffix(pattern, "/")
		if relPath == dir || strings.HasPrefix(relPath, dir+"/") {
			return true
		}
	}
	return false
}

func (s *Scanner) skipped(absPath string) bool {
	for _, p := range s.opts.SkipPaths {
		if p != "" && paths.IsWithin(absPath, p) {
			return true
		}
	}
	return false
}

func (s *Scanner) hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close() //nolint:errcheck // read-only

	if s.opts.MaxFileBytes > 0 {
		info, err := f.Stat()
		if err != nil {
			return "", 0, err
		}
		if info.Size() > s.opts.MaxFileBytes {
			return "", 0, fmt.Errorf("file size %d exceeds limit %d", info.Size(), s.opts.MaxFileBytes)
		}
	}

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// HashBytes returns the content hash used for scanned files.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
