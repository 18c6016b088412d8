// Package query serves read operations against the live graph snapshot.
// It never blocks on the rebuild pipeline: the committed snapshot is held
// behind an atomic pointer and swapped by Reload.
package query

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	kgerrors "kgindex/internal/errors"
	"kgindex/internal/graph"
	"kgindex/internal/storage"
)

// DefaultLimit is applied when a caller passes a non-positive limit.
const DefaultLimit = 20

// Engine is the central query coordinator for kgindex.
type Engine struct {
	path    string
	logger  *slog.Logger
	weights graph.RelationWeights

	semantic        SemanticSearcher
	semanticTimeout time.Duration

	current  atomic.Pointer[snapshotHandle]
	reloadMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithSemantic sets the semantic-similarity collaborator and the timeout
// applied to each call.
func WithSemantic(s SemanticSearcher, timeout time.Duration) Option {
	return func(e *Engine) {
		e.semantic = s
		if timeout > 0 {
			e.semanticTimeout = timeout
		}
	}
}

// WithRelationWeights overrides the edge weights used by Related.
func WithRelationWeights(w graph.RelationWeights) Option {
	return func(e *Engine) { e.weights = w }
}

// NewEngine creates a query engine for the snapshot at path. No snapshot is
// loaded until Reload is called.
func NewEngine(path string, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		path:            path,
		logger:          logger,
		weights:         graph.DefaultRelationWeights(),
		semanticTimeout: 3 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open creates an engine and loads the live snapshot. A missing snapshot is
// not an error: the engine starts empty and serves empty results until a
// later Reload finds one.
func Open(ctx context.Context, path string, logger *slog.Logger, opts ...Option) (*Engine, error) {
	e := NewEngine(path, logger, opts...)
	if _, err := e.Reload(ctx); err != nil && !kgerrors.HasCode(err, kgerrors.SnapshotMissing) {
		return nil, err
	}
	return e, nil
}

// snapshotHandle is one opened snapshot plus its in-memory indexes. refs
// counts the engine's own reference and every in-flight reader; the file is
// closed when it drops to zero.
type snapshotHandle struct {
	reader *storage.Reader
	meta   *storage.Meta
	snap   *graph.Snapshot
	byID   map[string]*graph.Entity
	out    map[string][]graph.Edge
	in     map[string][]graph.Edge
	docs   map[string]searchDoc
	rank   *graph.RankGraph
	refs   atomic.Int64
	logger *slog.Logger
}

func newHandle(r *storage.Reader, meta *storage.Meta, snap *graph.Snapshot, weights graph.RelationWeights, logger *slog.Logger) *snapshotHandle {
	h := &snapshotHandle{
		reader: r,
		meta:   meta,
		snap:   snap,
		byID:   make(map[string]*graph.Entity, len(snap.Entities)),
		out:    make(map[string][]graph.Edge),
		in:     make(map[string][]graph.Edge),
		docs:   make(map[string]searchDoc, len(snap.Entities)),
		rank:   graph.NewRankGraph(snap, weights),
		logger: logger,
	}
	for i := range snap.Entities {
		e := &snap.Entities[i]
		h.byID[e.ID] = e
		h.docs[e.ID] = newSearchDoc(e)
	}
	for _, edge := range snap.Edges {
		h.out[edge.Source] = append(h.out[edge.Source], edge)
		h.in[edge.Target] = append(h.in[edge.Target], edge)
	}
	h.refs.Store(1)
	return h
}

func (h *snapshotHandle) retain() bool {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return false
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (h *snapshotHandle) release() {
	if h.refs.Add(-1) != 0 {
		return
	}
	if err := h.reader.Close(); err != nil {
		h.logger.Warn("Closing retired snapshot failed", "path", h.reader.Path(), "error", err)
	}
}

// acquire returns the current handle with an extra reference, or nil when
// no snapshot is loaded. The caller must release it.
func (e *Engine) acquire() *snapshotHandle {
	for {
		h := e.current.Load()
		if h == nil {
			return nil
		}
		if h.retain() {
			return h
		}
	}
}

// Reload opens the live snapshot and swaps it in when its fingerprint or
// graph version differs from the one being served. It reports whether a
// swap happened.
func (e *Engine) Reload(ctx context.Context) (bool, error) {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	r, err := storage.OpenSnapshot(e.path, e.logger)
	if err != nil {
		if errors.Is(err, storage.ErrNoSnapshot) {
			return false, kgerrors.New(kgerrors.SnapshotMissing, "no committed snapshot at "+e.path, err)
		}
		return false, kgerrors.New(kgerrors.InternalError, "opening snapshot", err)
	}

	meta, err := r.Meta(ctx)
	if err != nil {
		_ = r.Close()
		return false, kgerrors.New(kgerrors.InternalError, "reading snapshot metadata", err)
	}
	if cur := e.current.Load(); cur != nil &&
		cur.meta.Fingerprint == meta.Fingerprint && cur.meta.GraphVersion == meta.GraphVersion {
		_ = r.Close()
		return false, nil
	}

	snap, err := r.LoadSnapshot(ctx)
	if err != nil {
		_ = r.Close()
		return false, kgerrors.New(kgerrors.InternalError, "loading snapshot", err)
	}

	h := newHandle(r, meta, snap, e.weights, e.logger)
	if old := e.current.Swap(h); old != nil {
		old.release()
	}
	e.logger.Info("Snapshot loaded",
		"version", meta.GraphVersion,
		"entities", len(snap.Entities),
		"edges", len(snap.Edges),
	)
	return true, nil
}

// Loaded reports whether a snapshot is being served.
func (e *Engine) Loaded() bool {
	return e.current.Load() != nil
}

// Info describes the snapshot being served.
type Info struct {
	Loaded       bool      `json:"loaded"`
	Path         string    `json:"path"`
	GraphVersion string    `json:"graphVersion,omitempty"`
	Fingerprint  string    `json:"fingerprint,omitempty"`
	BuiltAt      time.Time `json:"builtAt,omitempty"`
}

// Info returns the identity of the snapshot being served.
func (e *Engine) Info() Info {
	info := Info{Path: e.path}
	h := e.acquire()
	if h == nil {
		return info
	}
	defer h.release()
	info.Loaded = true
	info.GraphVersion = h.meta.GraphVersion
	info.Fingerprint = h.meta.Fingerprint
	info.BuiltAt = h.meta.BuiltAt
	return info
}

// Close stops serving the current snapshot. In-flight readers finish
// against it before the file is closed.
func (e *Engine) Close() error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()
	if old := e.current.Swap(nil); old != nil {
		old.release()
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

// queryFailed logs a store failure that is reported to callers as an empty
// result.
func (e *Engine) queryFailed(op string, err error) {
	e.logger.Warn("Query failed", "op", op, "error", err)
}
