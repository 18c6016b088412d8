package rebuild

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"kgindex/internal/corpus"
	kgerrors "kgindex/internal/errors"
	"kgindex/internal/graph"
	"kgindex/internal/index"
	"kgindex/internal/slogutil"
	"kgindex/internal/storage"
	"kgindex/internal/testutil"
)

func newOrchestrator(t *testing.T, c *testutil.Corpus, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(Config{
		Roots:    c.Roots(),
		Scan:     corpus.Options{Suffixes: []string{".md", ".sol", ".html"}},
		StateDir: c.StateDir(),
		Workers:  2,
		Retain:   5,
	}, slogutil.NewDiscardLogger(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o
}

func liveHash(t *testing.T, o *Orchestrator) string {
	t.Helper()
	data, err := os.ReadFile(o.Layout().LiveSnapshot())
	if err != nil {
		t.Fatalf("reading live snapshot: %v", err)
	}
	return corpus.HashBytes(data)
}

func loadLive(t *testing.T, o *Orchestrator) *graph.Snapshot {
	t.Helper()
	r, err := storage.OpenSnapshot(o.Layout().LiveSnapshot(), slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatalf("OpenSnapshot: %v", err)
	}
	defer r.Close()
	snap, err := r.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	return snap
}

func stagingEntries(t *testing.T, o *Orchestrator) []string {
	t.Helper()
	entries, err := os.ReadDir(o.Layout().StagingDir())
	if err != nil && !os.IsNotExist(err) {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRunCommitsThenSkipsUnchangedCorpus(t *testing.T) {
	c := testutil.NewCorpus(t)
	testutil.WriteReentrancy(c)
	o := newOrchestrator(t, c)
	ctx := context.Background()

	first, err := o.Run(ctx, ModeQuick)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Skipped {
		t.Fatal("first run must build")
	}
	if first.GraphVersion != graph.InitialVersion {
		t.Errorf("GraphVersion = %q, want %q", first.GraphVersion, graph.InitialVersion)
	}
	if first.Entities != 5 || first.Edges != 4 {
		t.Errorf("entities/edges = %d/%d, want 5/4", first.Entities, first.Edges)
	}
	if first.Backup != "" {
		t.Errorf("no backup expected before the first commit, got %s", first.Backup)
	}

	second, err := o.Run(ctx, ModeQuick)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !second.Skipped {
		t.Fatal("quick run over an unchanged corpus must skip")
	}
	if second.Fingerprint != first.Fingerprint || second.GraphVersion != first.GraphVersion {
		t.Errorf("skipped run reported %s/%s, want %s/%s",
			second.Fingerprint, second.GraphVersion, first.Fingerprint, first.GraphVersion)
	}

	third, err := o.Run(ctx, ModeFull)
	if err != nil {
		t.Fatalf("full run: %v", err)
	}
	if third.Skipped {
		t.Fatal("full run must build")
	}
	if third.GraphVersion != "1.0.1" {
		t.Errorf("GraphVersion = %q, want 1.0.1", third.GraphVersion)
	}
	if third.Backup == "" {
		t.Error("full run over an existing snapshot must take a backup")
	}

	meta, err := index.LoadMeta(o.Layout().Root)
	if err != nil || meta == nil {
		t.Fatalf("LoadMeta: %v, %v", meta, err)
	}
	if meta.Fingerprint != third.Fingerprint || meta.GraphVersion != "1.0.1" || meta.RunID != third.RunID {
		t.Errorf("sidecar = %+v", meta)
	}
	if o.State() != StateIdle {
		t.Errorf("State() = %s after run", o.State())
	}
	if names := stagingEntries(t, o); len(names) != 0 {
		t.Errorf("staging not empty: %v", names)
	}
}

func TestRunDetectsCorpusChange(t *testing.T) {
	c := testutil.NewCorpus(t)
	testutil.WriteReentrancy(c)
	o := newOrchestrator(t, c)
	ctx := context.Background()

	first, err := o.Run(ctx, ModeQuick)
	if err != nil {
		t.Fatal(err)
	}
	testutil.WriteUniswap(c)

	second, err := o.Run(ctx, ModeQuick)
	if err != nil {
		t.Fatal(err)
	}
	if second.Skipped {
		t.Fatal("changed corpus must rebuild in quick mode")
	}
	if second.PreviousFingerprint != first.Fingerprint {
		t.Errorf("PreviousFingerprint = %s, want %s", second.PreviousFingerprint, first.Fingerprint)
	}
	// 3 versions, a deep-dive and an integration guide: 2 SUPERSEDES,
	// 2 PAIRS_WITH and 1 EXPLAINS on top of the reentrancy edges.
	if second.Entities != 10 || second.Edges != 9 {
		t.Errorf("entities/edges = %d/%d, want 10/9", second.Entities, second.Edges)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	c := testutil.NewCorpus(t)
	testutil.WriteReentrancy(c)
	testutil.WriteUniswap(c)
	o := newOrchestrator(t, c)
	ctx := context.Background()

	if _, err := o.Run(ctx, ModeFull); err != nil {
		t.Fatal(err)
	}
	first := loadLive(t, o)
	if _, err := o.Run(ctx, ModeFull); err != nil {
		t.Fatal(err)
	}
	second := loadLive(t, o)

	if diff := cmp.Diff(first.Entities, second.Entities); diff != "" {
		t.Errorf("entities differ (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.Edges, second.Edges); diff != "" {
		t.Errorf("edges differ (-first +second):\n%s", diff)
	}
	if first.Fingerprint != second.Fingerprint {
		t.Error("fingerprint changed over an unchanged corpus")
	}
}

func TestInjectedFailureLeavesLiveSnapshotUntouched(t *testing.T) {
	injected := errors.New("injected")
	tests := []struct {
		name   string
		inject func(o *Orchestrator)
	}{
		{"after backup", func(o *Orchestrator) { o.hooks.afterBackup = func() error { return injected } }},
		{"before swap", func(o *Orchestrator) { o.hooks.beforeSwap = func() error { return injected } }},
		{"sidecar write", func(o *Orchestrator) {
			o.hooks.saveMeta = func(string, *index.IndexMeta) error { return injected }
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := testutil.NewCorpus(t)
			testutil.WriteReentrancy(c)
			o := newOrchestrator(t, c)
			ctx := context.Background()

			committed, err := o.Run(ctx, ModeFull)
			if err != nil {
				t.Fatal(err)
			}
			before := liveHash(t, o)

			testutil.WriteUniswap(c)
			tc.inject(o)
			_, err = o.Run(ctx, ModeFull)
			if err == nil {
				t.Fatal("expected failure")
			}
			if !kgerrors.HasCode(err, kgerrors.RebuildFailed) {
				t.Errorf("error code = %s, want REBUILD_FAILED", kgerrors.CodeOf(err))
			}
			if !errors.Is(err, injected) {
				t.Errorf("error %v does not wrap the injected cause", err)
			}

			if after := liveHash(t, o); after != before {
				t.Error("live snapshot changed after a failed rebuild")
			}
			if o.State() != StateIdle {
				t.Errorf("State() = %s, want IDLE", o.State())
			}
			if names := stagingEntries(t, o); len(names) != 0 {
				t.Errorf("staging not cleaned: %v", names)
			}
			status := o.Status()
			if status.LastError == "" || status.LastRun == nil || status.LastRun.RunID != committed.RunID {
				t.Errorf("Status() = %+v", status)
			}
			if _, ok := index.HolderPID(o.Layout().Root); ok {
				t.Error("lock still held after failure")
			}
		})
	}
}

func TestSidecarFailureOnFirstCommitRemovesLive(t *testing.T) {
	c := testutil.NewCorpus(t)
	testutil.WriteReentrancy(c)
	o := newOrchestrator(t, c)
	o.hooks.saveMeta = func(string, *index.IndexMeta) error { return errors.New("disk full") }

	if _, err := o.Run(context.Background(), ModeFull); err == nil {
		t.Fatal("expected failure")
	}
	if _, err := os.Stat(o.Layout().LiveSnapshot()); !os.IsNotExist(err) {
		t.Error("a snapshot without metadata must not stay live")
	}
}

func TestInferenceErrorFailsRebuild(t *testing.T) {
	c := testutil.NewCorpus(t)
	testutil.WriteReentrancy(c)
	o := newOrchestrator(t, c)
	ctx := context.Background()
	if _, err := o.Run(ctx, ModeFull); err != nil {
		t.Fatal(err)
	}
	before := liveHash(t, o)

	// two members of one family with the same ordinal
	c.Write(testutil.Curated, "protocols/aave/v2.md", "# Aave V2\n")
	c.Write(testutil.Curated, "protocols/aave/aave-two.md", "---\nversion: 2\n---\n# Aave Two\n")

	_, err := o.Run(ctx, ModeQuick)
	if !kgerrors.HasCode(err, kgerrors.RebuildFailed) {
		t.Fatalf("err = %v, want REBUILD_FAILED", err)
	}
	if !strings.Contains(err.Error(), "same version key") {
		t.Errorf("error should name the duplicate key: %v", err)
	}
	if liveHash(t, o) != before {
		t.Error("live snapshot changed")
	}
}

func TestRunFailsWhenStateDirLocked(t *testing.T) {
	c := testutil.NewCorpus(t)
	testutil.WriteReentrancy(c)
	o := newOrchestrator(t, c)

	lock, err := index.AcquireLock(o.Layout().Root)
	if err != nil {
		t.Fatal(err)
	}
	defer lock.Release()

	_, err = o.Run(context.Background(), ModeFull)
	if !kgerrors.HasCode(err, kgerrors.RebuildFailed) || !kgerrors.HasCode(err, kgerrors.IndexLocked) {
		t.Fatalf("err = %v, want REBUILD_FAILED wrapping INDEX_LOCKED", err)
	}
}

func TestRunFailsOnMissingRoot(t *testing.T) {
	c := testutil.NewCorpus(t)
	o, err := New(Config{
		Roots:    []corpus.Root{{Path: filepath.Join(c.Dir, "absent"), Provenance: "curated"}},
		Scan:     corpus.Options{Suffixes: []string{".md"}},
		StateDir: c.StateDir(),
	}, slogutil.NewDiscardLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Run(context.Background(), ModeQuick); !kgerrors.HasCode(err, kgerrors.RebuildFailed) {
		t.Fatalf("err = %v, want REBUILD_FAILED", err)
	}
	if o.State() != StateIdle {
		t.Errorf("State() = %s", o.State())
	}
}

func TestBackupRetention(t *testing.T) {
	c := testutil.NewCorpus(t)
	testutil.WriteReentrancy(c)
	o := newOrchestrator(t, c)
	o.cfg.Retain = 2
	ctx := context.Background()

	var lastBackup string
	for i := 0; i < 4; i++ {
		out, err := o.Run(ctx, ModeFull)
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		lastBackup = out.Backup
	}

	backups, err := o.Backups()
	if err != nil {
		t.Fatal(err)
	}
	if len(backups) != 2 {
		t.Fatalf("got %d backups, want 2", len(backups))
	}
	if backups[0].Name != lastBackup {
		t.Errorf("newest backup = %s, want %s", backups[0].Name, lastBackup)
	}
	if !backups[0].CreatedAt.After(backups[1].CreatedAt) {
		t.Error("backups not listed newest first")
	}
}

func TestRestore(t *testing.T) {
	c := testutil.NewCorpus(t)
	testutil.WriteReentrancy(c)

	var commits []*Outcome
	o := newOrchestrator(t, c, WithCommitHook(func(out *Outcome) { commits = append(commits, out) }))
	ctx := context.Background()

	v1, err := o.Run(ctx, ModeFull)
	if err != nil {
		t.Fatal(err)
	}
	testutil.WriteUniswap(c)
	v2, err := o.Run(ctx, ModeQuick)
	if err != nil {
		t.Fatal(err)
	}

	restored, err := o.Restore(ctx, v2.Backup)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Fingerprint != v1.Fingerprint || restored.GraphVersion != v1.GraphVersion {
		t.Errorf("restored %s/%s, want %s/%s", restored.Fingerprint, restored.GraphVersion, v1.Fingerprint, v1.GraphVersion)
	}
	if restored.Entities != 5 {
		t.Errorf("restored entities = %d, want 5", restored.Entities)
	}
	if got := loadLive(t, o); len(got.Entities) != 5 {
		t.Errorf("live snapshot has %d entities after restore", len(got.Entities))
	}
	meta, _ := index.LoadMeta(o.Layout().Root)
	if meta == nil || meta.Fingerprint != v1.Fingerprint || meta.Mode != string(ModeRestore) {
		t.Errorf("sidecar after restore = %+v", meta)
	}
	if len(commits) != 3 {
		t.Errorf("commit hook called %d times, want 3", len(commits))
	}

	// the corpus still differs from the restored snapshot
	again, err := o.Run(ctx, ModeQuick)
	if err != nil {
		t.Fatal(err)
	}
	if again.Skipped {
		t.Error("quick run after restoring an older snapshot must rebuild")
	}
}

func TestRestoreRejectsBadNames(t *testing.T) {
	c := testutil.NewCorpus(t)
	o := newOrchestrator(t, c)

	for _, name := range []string{"", "../graph.db", "graph-20260101T000000.000000000Z.db.zst", "notes.txt"} {
		_, err := o.Restore(context.Background(), name)
		if !kgerrors.HasCode(err, kgerrors.QueryInvalid) {
			t.Errorf("Restore(%q) err = %v, want QUERY_INVALID", name, err)
		}
	}
}

func TestMetricsCountRuns(t *testing.T) {
	c := testutil.NewCorpus(t)
	testutil.WriteReentrancy(c)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	o := newOrchestrator(t, c, WithMetrics(metrics))
	ctx := context.Background()

	if _, err := o.Run(ctx, ModeQuick); err != nil {
		t.Fatal(err)
	}
	if _, err := o.Run(ctx, ModeQuick); err != nil {
		t.Fatal(err)
	}

	if got := promtest.ToFloat64(metrics.runs.WithLabelValues(resultCommitted)); got != 1 {
		t.Errorf("committed runs = %v, want 1", got)
	}
	if got := promtest.ToFloat64(metrics.runs.WithLabelValues(resultSkipped)); got != 1 {
		t.Errorf("skipped runs = %v, want 1", got)
	}
	if got := promtest.ToFloat64(metrics.entities); got != 5 {
		t.Errorf("entities gauge = %v, want 5", got)
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		ok   bool
	}{
		{"", ModeQuick, true},
		{"quick", ModeQuick, true},
		{"FULL", ModeFull, true},
		{"restore", "", false},
		{"fast", "", false},
	}
	for _, tc := range tests {
		got, ok := ParseMode(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParseMode(%q) = %q, %v; want %q, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestStateTransitions(t *testing.T) {
	legal := [][2]State{
		{StateIdle, StateChecking},
		{StateChecking, StateIdle},
		{StateChecking, StateBuilding},
		{StateBuilding, StateCommitting},
		{StateBuilding, StateFailed},
		{StateCommitting, StateIdle},
		{StateCommitting, StateFailed},
		{StateFailed, StateIdle},
	}
	for _, tr := range legal {
		if !validTransition(tr[0], tr[1]) {
			t.Errorf("%s -> %s should be legal", tr[0], tr[1])
		}
	}
	illegal := [][2]State{
		{StateIdle, StateBuilding},
		{StateChecking, StateCommitting},
		{StateChecking, StateFailed},
		{StateFailed, StateBuilding},
	}
	for _, tr := range illegal {
		if validTransition(tr[0], tr[1]) {
			t.Errorf("%s -> %s should be illegal", tr[0], tr[1])
		}
	}
}
