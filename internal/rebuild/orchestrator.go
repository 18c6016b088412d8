// Package rebuild drives the scan, extract, infer and store pipeline and
// commits each new snapshot with an atomic rename.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"kgindex/internal/corpus"
	kgerrors "kgindex/internal/errors"
	"kgindex/internal/extract"
	"kgindex/internal/graph"
	"kgindex/internal/index"
	"kgindex/internal/infer"
	"kgindex/internal/paths"
	"kgindex/internal/storage"
)

// DefaultRetain is the number of backups kept when Config.Retain is unset.
const DefaultRetain = 5

// State is a stage of the rebuild state machine.
type State string

const (
	StateIdle       State = "IDLE"
	StateChecking   State = "CHECKING"
	StateBuilding   State = "BUILDING"
	StateCommitting State = "COMMITTING"
	StateFailed     State = "FAILED"
)

// transitions lists the legal successor states.
var transitions = map[State][]State{
	StateIdle:       {StateChecking},
	StateChecking:   {StateIdle, StateBuilding},
	StateBuilding:   {StateCommitting, StateFailed},
	StateCommitting: {StateIdle, StateFailed},
	StateFailed:     {StateIdle},
}

func validTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Mode selects how a run treats an unchanged corpus.
type Mode string

const (
	// ModeQuick skips the rebuild when the corpus fingerprint is unchanged.
	ModeQuick Mode = "quick"
	// ModeFull always rebuilds.
	ModeFull Mode = "full"
	// ModeRestore marks outcomes produced by Restore.
	ModeRestore Mode = "restore"
)

// ParseMode parses "quick" (the default for an empty string) or "full".
func ParseMode(s string) (Mode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeQuick):
		return ModeQuick, true
	case string(ModeFull):
		return ModeFull, true
	}
	return "", false
}

// Warning is a file-level problem that did not abort the run.
type Warning struct {
	Stage string `json:"stage"`
	Path  string `json:"path"`
	Err   string `json:"error"`
}

// Outcome summarizes one run.
type Outcome struct {
	RunID               string        `json:"runId"`
	Mode                Mode          `json:"mode"`
	Skipped             bool          `json:"skipped"`
	Fingerprint         string        `json:"fingerprint"`
	PreviousFingerprint string        `json:"previousFingerprint,omitempty"`
	GraphVersion        string        `json:"graphVersion,omitempty"`
	Files               int           `json:"files"`
	Entities            int           `json:"entities"`
	Edges               int           `json:"edges"`
	SkippedFiles        int           `json:"skippedFiles,omitempty"`
	Backup              string        `json:"backup,omitempty"`
	Warnings            []Warning     `json:"warnings,omitempty"`
	Duration            time.Duration `json:"duration"`
	FinishedAt          time.Time     `json:"finishedAt"`
}

// Status is a point-in-time view of the orchestrator.
type Status struct {
	State     State    `json:"state"`
	LastRun   *Outcome `json:"lastRun,omitempty"`
	LastError string   `json:"lastError,omitempty"`
}

// Config configures an Orchestrator.
type Config struct {
	Roots      []corpus.Root
	Scan       corpus.Options
	StateDir   string
	Rules      extract.RuleTable // nil means extract.DefaultRules
	InferRules []infer.Rule      // nil means infer.DefaultRules
	Workers    int
	Retain     int
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records runs in m.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithCommitHook calls fn after every committed snapshot, including restores.
func WithCommitHook(fn func(*Outcome)) Option {
	return func(o *Orchestrator) { o.onCommit = append(o.onCommit, fn) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithReadFunc replaces the function used to read corpus files.
func WithReadFunc(read extract.ReadFunc) Option {
	return func(o *Orchestrator) { o.read = read }
}

// hooks inject failures between stages.
type hooks struct {
	afterBackup func() error
	beforeSwap  func() error
	saveMeta    func(stateDir string, m *index.IndexMeta) error
}

// Orchestrator runs the pipeline. Runs are serialized in-process; the state
// directory lock serializes them across processes.
type Orchestrator struct {
	cfg        Config
	layout     paths.Layout
	logger     *slog.Logger
	scanner    *corpus.Scanner
	extractor  *extract.Extractor
	inferencer *infer.Inferencer
	read       extract.ReadFunc
	metrics    *Metrics
	onCommit   []func(*Outcome)
	now        func() time.Time
	hooks      hooks

	runMu sync.Mutex

	mu        sync.RWMutex
	state     State
	lastRun   *Outcome
	lastError string
}

// New creates an orchestrator. Roots are checked for existence at run time,
// so a server can start before its corpus is present.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if len(cfg.Roots) == 0 {
		return nil, fmt.Errorf("no corpus roots configured")
	}
	layout, err := paths.NewLayout(cfg.StateDir)
	if err != nil {
		return nil, err
	}
	if cfg.Rules != nil {
		if err := cfg.Rules.Validate(); err != nil {
			return nil, fmt.Errorf("invalid classification rules: %w", err)
		}
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Retain < 1 {
		cfg.Retain = DefaultRetain
	}

	scanOpts := cfg.Scan
	scanOpts.SkipPaths = append(append([]string(nil), cfg.Scan.SkipPaths...), layout.Root)

	o := &Orchestrator{
		cfg:        cfg,
		layout:     layout,
		logger:     logger,
		scanner:    corpus.NewScanner(scanOpts, logger),
		extractor:  extract.New(cfg.Rules, logger),
		inferencer: infer.New(cfg.InferRules, logger),
		read:       extract.ReadFromDisk,
		now:        time.Now,
		state:      StateIdle,
		hooks: hooks{
			saveMeta: func(stateDir string, m *index.IndexMeta) error { return m.Save(stateDir) },
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Layout returns the state directory layout.
func (o *Orchestrator) Layout() paths.Layout {
	return o.layout
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Status returns the current state and the result of the last run.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Status{State: o.state, LastRun: o.lastRun, LastError: o.lastError}
}

// Backups lists the snapshot backups, newest first.
func (o *Orchestrator) Backups() ([]Backup, error) {
	return listBackups(o.layout.BackupsDir())
}

func (o *Orchestrator) setState(logger *slog.Logger, to State) {
	o.mu.Lock()
	from := o.state
	o.state = to
	o.mu.Unlock()

	if !validTransition(from, to) {
		logger.Error("Unexpected rebuild state transition", "from", from, "to", to)
		return
	}
	logger.Info("Rebuild state", "from", from, "to", to)
}

func (o *Orchestrator) record(out *Outcome, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if out != nil {
		o.lastRun = out
	}
	if err != nil {
		o.lastError = err.Error()
	} else {
		o.lastError = ""
	}
}

// run carries the per-run resources released on every exit path.
type run struct {
	o       *Orchestrator
	out     *Outcome
	logger  *slog.Logger
	start   time.Time
	lock    *index.Lock
	staging string
	backup  string
}

func (o *Orchestrator) newRun(mode Mode) *run {
	out := &Outcome{RunID: uuid.NewString(), Mode: mode}
	return &run{
		o:      o,
		out:    out,
		logger: o.logger.With("run_id", out.RunID, "mode", string(mode)),
		start:  o.now(),
	}
}

func (r *run) release() {
	if r.staging != "" {
		removeSnapshotFiles(r.staging)
		r.staging = ""
	}
	if r.lock != nil {
		r.lock.Release()
		r.lock = nil
	}
}

// fail rolls back and returns the REBUILD_FAILED error for cause.
func (r *run) fail(cause error) error {
	o := r.o
	failedIn := o.State()
	if failedIn == StateBuilding || failedIn == StateCommitting {
		o.setState(r.logger, StateFailed)
	}
	r.release()
	o.setState(r.logger, StateIdle)
	o.metrics.observeFailure(o.now().Sub(r.start))

	kerr := kgerrors.New(kgerrors.RebuildFailed,
		fmt.Sprintf("rebuild failed while %s", strings.ToLower(string(failedIn))), cause).
		WithDetails(map[string]string{"runId": r.out.RunID, "state": string(failedIn)})
	o.record(nil, kerr)
	r.logger.Error("Rebuild failed", "state", failedIn, "error", cause)
	return kerr
}

// finish completes a successful run.
func (r *run) finish(result string) *Outcome {
	o := r.o
	r.release()
	r.out.FinishedAt = o.now().UTC()
	r.out.Duration = r.out.FinishedAt.Sub(r.start)
	o.setState(r.logger, StateIdle)
	o.record(r.out, nil)
	o.metrics.observe(result, r.out)
	if result == resultCommitted {
		for _, fn := range o.onCommit {
			fn(r.out)
		}
	}
	return r.out
}

// Run executes one pipeline pass. In quick mode an unchanged corpus is
// reported as skipped without touching the live snapshot.
func (o *Orchestrator) Run(ctx context.Context, mode Mode) (*Outcome, error) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	r := o.newRun(mode)
	out := r.out

	o.setState(r.logger, StateChecking)
	scan, err := o.scanner.Scan(ctx, o.cfg.Roots)
	if err != nil {
		return nil, r.fail(fmt.Errorf("scanning corpus: %w", err))
	}
	out.Fingerprint = scan.Fingerprint
	out.Files = len(scan.Files)
	for _, w := range scan.Warnings {
		out.Warnings = append(out.Warnings, Warning{Stage: "scan", Path: w.Path, Err: w.Err})
	}

	live := o.liveMeta(ctx, r.logger)
	sidecar, err := index.LoadMeta(o.layout.Root)
	if err != nil {
		r.logger.Warn("Ignoring unreadable index metadata", "error", err)
		sidecar = nil
	}
	prevVersion := ""
	if live != nil {
		out.PreviousFingerprint = live.Fingerprint
		prevVersion = live.GraphVersion
	} else if sidecar != nil {
		prevVersion = sidecar.GraphVersion
	}

	fresh := live != nil && live.Fingerprint == scan.Fingerprint && sidecar.CheckFreshness(scan.Fingerprint).Fresh
	if mode == ModeQuick && fresh {
		out.Skipped = true
		out.GraphVersion = live.GraphVersion
		out.Entities = live.EntityCount
		out.Edges = live.EdgeCount
		r.logger.Info("Corpus unchanged, rebuild skipped", "fingerprint", scan.Fingerprint)
		return r.finish(resultSkipped), nil
	}

	o.setState(r.logger, StateBuilding)
	if r.lock, err = index.AcquireLock(o.layout.Root); err != nil {
		return nil, r.fail(err)
	}
	if err := o.layout.Ensure(); err != nil {
		return nil, r.fail(err)
	}
	o.clearStaging(r.logger)

	if err := r.backupLive(); err != nil {
		return nil, r.fail(fmt.Errorf("backing up live snapshot: %w", err))
	}
	if o.hooks.afterBackup != nil {
		if err := o.hooks.afterBackup(); err != nil {
			return nil, r.fail(err)
		}
	}

	batch, err := o.extractor.ExtractAll(ctx, scan.Files, o.read, o.cfg.Workers)
	if err != nil {
		return nil, r.fail(fmt.Errorf("extracting entities: %w", err))
	}
	for _, w := range batch.Warnings {
		out.Warnings = append(out.Warnings, Warning{Stage: "extract", Path: w.Path, Err: w.Err})
	}
	out.SkippedFiles = batch.Skipped

	edges, err := o.inferencer.Run(batch.Entities)
	if err != nil {
		return nil, r.fail(fmt.Errorf("inferring relationships: %w", err))
	}

	snap := &graph.Snapshot{
		Fingerprint: scan.Fingerprint,
		BuiltAt:     o.now().UTC(),
		Version:     graph.NextVersion(prevVersion),
		SourceFiles: len(scan.Files),
		Entities:    batch.Entities,
		Edges:       edges,
	}
	r.staging = filepath.Join(o.layout.StagingDir(), "graph-"+out.RunID+".db")
	if err := storage.WriteSnapshot(ctx, r.staging, snap, r.logger); err != nil {
		return nil, r.fail(fmt.Errorf("writing snapshot: %w", err))
	}
	if o.hooks.beforeSwap != nil {
		if err := o.hooks.beforeSwap(); err != nil {
			return nil, r.fail(err)
		}
	}

	o.setState(r.logger, StateCommitting)
	if err := os.Rename(r.staging, o.layout.LiveSnapshot()); err != nil {
		return nil, r.fail(fmt.Errorf("committing snapshot: %w", err))
	}
	r.staging = ""

	meta := &index.IndexMeta{
		BuiltAt:      snap.BuiltAt,
		Fingerprint:  snap.Fingerprint,
		GraphVersion: snap.Version,
		FileCount:    snap.SourceFiles,
		EntityCount:  len(snap.Entities),
		EdgeCount:    len(snap.Edges),
		Duration:     o.now().Sub(r.start).Round(time.Millisecond).String(),
		RunID:        out.RunID,
		Mode:         string(mode),
	}
	if err := o.hooks.saveMeta(o.layout.Root, meta); err != nil {
		if rerr := r.rollbackLive(); rerr != nil {
			r.logger.Error("Restoring live snapshot failed", "error", rerr)
			err = errors.Join(err, rerr)
		}
		return nil, r.fail(fmt.Errorf("recording index metadata: %w", err))
	}

	if removed, err := pruneBackups(o.layout.BackupsDir(), o.cfg.Retain); err != nil {
		r.logger.Warn("Pruning backups failed", "error", err)
	} else if len(removed) > 0 {
		r.logger.Debug("Pruned backups", "removed", removed)
	}

	out.GraphVersion = snap.Version
	out.Entities = len(snap.Entities)
	out.Edges = len(snap.Edges)
	r.logger.Info("Snapshot committed",
		"version", out.GraphVersion,
		"fingerprint", out.Fingerprint,
		"entities", out.Entities,
		"edges", out.Edges,
		"warnings", len(out.Warnings),
	)
	return r.finish(resultCommitted), nil
}

// Restore replaces the live snapshot with the named backup. The current
// live snapshot is backed up first, so a restore can itself be undone.
func (o *Orchestrator) Restore(ctx context.Context, name string) (*Outcome, error) {
	if _, ok := parseBackupName(name); !ok || filepath.Base(name) != name {
		return nil, kgerrors.Newf(kgerrors.QueryInvalid, "invalid backup name %q", name)
	}
	src := filepath.Join(o.layout.BackupsDir(), name)
	if _, err := os.Stat(src); err != nil {
		return nil, kgerrors.New(kgerrors.QueryInvalid, "backup not found: "+name, err)
	}

	o.runMu.Lock()
	defer o.runMu.Unlock()

	r := o.newRun(ModeRestore)
	out := r.out
	o.setState(r.logger, StateChecking)
	o.setState(r.logger, StateBuilding)

	var err error
	if r.lock, err = index.AcquireLock(o.layout.Root); err != nil {
		return nil, r.fail(err)
	}
	if err := o.layout.Ensure(); err != nil {
		return nil, r.fail(err)
	}

	r.staging = filepath.Join(o.layout.StagingDir(), "restore-"+out.RunID+".db")
	if err := decompressFile(src, r.staging); err != nil {
		return nil, r.fail(err)
	}
	meta, err := readMeta(ctx, r.staging, r.logger)
	if err != nil {
		return nil, r.fail(fmt.Errorf("backup %s is not a valid snapshot: %w", name, err))
	}
	if err := r.backupLive(); err != nil {
		return nil, r.fail(fmt.Errorf("backing up live snapshot: %w", err))
	}

	o.setState(r.logger, StateCommitting)
	if err := os.Rename(r.staging, o.layout.LiveSnapshot()); err != nil {
		return nil, r.fail(fmt.Errorf("committing restored snapshot: %w", err))
	}
	r.staging = ""

	sidecar := &index.IndexMeta{
		BuiltAt:      meta.BuiltAt,
		Fingerprint:  meta.Fingerprint,
		GraphVersion: meta.GraphVersion,
		FileCount:    meta.SourceFiles,
		EntityCount:  meta.EntityCount,
		EdgeCount:    meta.EdgeCount,
		Duration:     o.now().Sub(r.start).Round(time.Millisecond).String(),
		RunID:        out.RunID,
		Mode:         string(ModeRestore),
	}
	if err := o.hooks.saveMeta(o.layout.Root, sidecar); err != nil {
		if rerr := r.rollbackLive(); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return nil, r.fail(fmt.Errorf("recording index metadata: %w", err))
	}

	out.Fingerprint = meta.Fingerprint
	out.GraphVersion = meta.GraphVersion
	out.Files = meta.SourceFiles
	out.Entities = meta.EntityCount
	out.Edges = meta.EdgeCount
	r.logger.Info("Backup restored", "backup", name, "version", meta.GraphVersion)
	return r.finish(resultCommitted), nil
}

// backupLive compresses the live snapshot, if any, into the backups directory.
func (r *run) backupLive() error {
	o := r.o
	live := o.layout.LiveSnapshot()
	if _, err := os.Stat(live); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	at := o.now()
	dst := filepath.Join(o.layout.BackupsDir(), backupName(at))
	for {
		if _, err := os.Stat(dst); os.IsNotExist(err) {
			break
		}
		at = at.Add(time.Nanosecond)
		dst = filepath.Join(o.layout.BackupsDir(), backupName(at))
	}

	size, err := compressFile(live, dst)
	if err != nil {
		return err
	}
	r.backup = dst
	r.out.Backup = filepath.Base(dst)
	r.logger.Debug("Live snapshot backed up", "backup", r.out.Backup, "bytes", size)
	return nil
}

// rollbackLive puts the pre-run live snapshot back after a failed commit.
func (r *run) rollbackLive() error {
	o := r.o
	live := o.layout.LiveSnapshot()
	if r.backup == "" {
		if err := os.Remove(live); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	tmp := filepath.Join(o.layout.StagingDir(), "rollback-"+r.out.RunID+".db")
	if err := decompressFile(r.backup, tmp); err != nil {
		return err
	}
	if err := os.Rename(tmp, live); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	r.logger.Warn("Live snapshot restored from backup", "backup", filepath.Base(r.backup))
	return nil
}

// liveMeta returns the metadata of the live snapshot, or nil when there is
// none or it cannot be read.
func (o *Orchestrator) liveMeta(ctx context.Context, logger *slog.Logger) *storage.Meta {
	meta, err := readMeta(ctx, o.layout.LiveSnapshot(), logger)
	if err != nil {
		if !errors.Is(err, storage.ErrNoSnapshot) {
			logger.Warn("Live snapshot unreadable, rebuilding", "error", err)
		}
		return nil
	}
	return meta
}

func readMeta(ctx context.Context, path string, logger *slog.Logger) (*storage.Meta, error) {
	reader, err := storage.OpenSnapshot(path, logger)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return reader.Meta(ctx)
}

// clearStaging removes files left by an interrupted run. Callers hold the lock.
func (o *Orchestrator) clearStaging(logger *slog.Logger) {
	entries, err := os.ReadDir(o.layout.StagingDir())
	if err != nil {
		return
	}
	for _, e := range entries {
		path := filepath.Join(o.layout.StagingDir(), e.Name())
		if err := os.RemoveAll(path); err != nil {
			logger.Warn("Could not clear staging entry", "path", path, "error", err)
		}
	}
}

func removeSnapshotFiles(path string) {
	for _, suffix := range []string{"", "-journal", "-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}
}
