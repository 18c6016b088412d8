// Package testutil builds throwaway corpora for package tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"kgindex/internal/corpus"
)

// Provenance labels used by the fixture corpora.
const (
	Curated  = "curated"
	Research = "research"
)

// Corpus is a temporary directory holding one subdirectory per corpus root.
type Corpus struct {
	t     testing.TB
	Dir   string
	order []string
}

// NewCorpus creates an empty corpus with a root per provenance label. With no
// labels it creates the curated and research roots.
func NewCorpus(t testing.TB, provenances ...string) *Corpus {
	t.Helper()
	if len(provenances) == 0 {
		provenances = []string{Curated, Research}
	}
	c := &Corpus{t: t, Dir: t.TempDir(), order: provenances}
	for _, p := range provenances {
		if err := os.MkdirAll(c.Root(p), 0o755); err != nil {
			t.Fatalf("creating root %s: %v", p, err)
		}
	}
	return c
}

// Root returns the directory of the root labelled provenance.
func (c *Corpus) Root(provenance string) string {
	return filepath.Join(c.Dir, "kb-"+provenance)
}

// Roots returns the scanner roots in creation order.
func (c *Corpus) Roots() []corpus.Root {
	roots := make([]corpus.Root, 0, len(c.order))
	for _, p := range c.order {
		roots = append(roots, corpus.Root{Path: c.Root(p), Provenance: p})
	}
	return roots
}

// StateDir is a state directory next to the roots.
func (c *Corpus) StateDir() string {
	return filepath.Join(c.Dir, ".kgindex")
}

// Write creates or replaces a corpus file and returns its absolute path.
func (c *Corpus) Write(provenance, rel, content string) string {
	c.t.Helper()
	path := filepath.Join(c.Root(provenance), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		c.t.Fatalf("mkdir for %s: %v", rel, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		c.t.Fatalf("write %s: %v", rel, err)
	}
	return path
}

// Remove deletes a corpus file.
func (c *Corpus) Remove(provenance, rel string) {
	c.t.Helper()
	path := filepath.Join(c.Root(provenance), filepath.FromSlash(rel))
	if err := os.Remove(path); err != nil {
		c.t.Fatalf("remove %s: %v", rel, err)
	}
}
