package paths

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLayout(t *testing.T) {
	tmpDir := t.TempDir()
	l, err := NewLayout(filepath.Join(tmpDir, "state"))
	if err != nil {
		t.Fatalf("NewLayout failed: %v", err)
	}

	if err := l.Ensure(); err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}

	for _, dir := range []string{l.BackupsDir(), l.StagingDir(), l.LogsDir()} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected directory %s to exist", dir)
		}
	}

	if got := l.LiveSnapshot(); filepath.Base(got) != "graph.db" {
		t.Errorf("LiveSnapshot() = %s", got)
	}
	if got := l.LogPath("watch"); !strings.HasSuffix(got, filepath.Join("logs", "watch.log")) {
		t.Errorf("LogPath() = %s", got)
	}
}

func TestNewLayout_Default(t *testing.T) {
	l, err := NewLayout("")
	if err != nil {
		t.Fatalf("NewLayout failed: %v", err)
	}
	if filepath.Base(l.Root) != DefaultStateDir {
		t.Errorf("Root = %s, want suffix %s", l.Root, DefaultStateDir)
	}
}

func TestCanonicalizePath(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "guides", "reentrancy.md")
	if err := os.MkdirAll(filepath.Dir(nested), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(nested, []byte("# Reentrancy\n"), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := CanonicalizePath(nested, root)
	if err != nil {
		t.Fatalf("CanonicalizePath failed: %v", err)
	}
	if got != "guides/reentrancy.md" {
		t.Errorf("got %q, want guides/reentrancy.md", got)
	}

	if !IsWithin(nested, root) {
		t.Error("expected nested file to be within root")
	}
	if IsWithin(filepath.Dir(root), root) {
		t.Error("parent directory should not be within root")
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a/b/c.md", "a/b/c.md"},
		{`a\b\c.md`, "a/b/c.md"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizePath(tt.in); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
