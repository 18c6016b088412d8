// Package watcher keeps the graph current by rebuilding on a ticker, nudged
// early by file system events under the corpus roots.
package watcher

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"kgindex/internal/paths"
	"kgindex/internal/rebuild"
)

// Interval bounds for the poll ticker.
const (
	MinInterval     = time.Second
	MaxInterval     = time.Hour
	DefaultInterval = 30 * time.Second
)

// EventType represents the type of file system event
type EventType int

const (
	EventCreate EventType = iota
	EventModify
	EventDelete
	EventRename
)

// Event represents a file system event
type Event struct {
	Type      EventType
	Path      string
	Timestamp time.Time
}

// String returns a string representation of the event type
func (e EventType) String() string {
	switch e {
	case EventCreate:
		return "create"
	case EventModify:
		return "modify"
	case EventDelete:
		return "delete"
	case EventRename:
		return "rename"
	default:
		return "unknown"
	}
}

func eventFromOp(op fsnotify.Op) (EventType, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return EventCreate, true
	case op.Has(fsnotify.Write):
		return EventModify, true
	case op.Has(fsnotify.Remove):
		return EventDelete, true
	case op.Has(fsnotify.Rename):
		return EventRename, true
	}
	return 0, false
}

// Rebuilder runs one rebuild pass.
type Rebuilder interface {
	Run(ctx context.Context, mode rebuild.Mode) (*rebuild.Outcome, error)
}

// Config contains watch loop configuration
type Config struct {
	Interval time.Duration
	FSNotify bool
	Debounce time.Duration
	// Roots are the directories watched for nudges.
	Roots []string
	// IgnorePatterns are doublestar globs matched against root-relative paths.
	IgnorePatterns []string
}

// DefaultIgnorePatterns skips editor and tool noise.
var DefaultIgnorePatterns = []string{
	"**/*.swp",
	"**/*.tmp",
	"**/*~",
	"**/node_modules/**",
}

// ClampInterval bounds d to [MinInterval, MaxInterval]; zero or negative
// means DefaultInterval.
func ClampInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultInterval
	case d < MinInterval:
		return MinInterval
	case d > MaxInterval:
		return MaxInterval
	}
	return d
}

// Loop runs quick rebuilds until its context is cancelled.
type Loop struct {
	config    Config
	rebuilder Rebuilder
	logger    *slog.Logger
	nudge     chan struct{}
	batch     *BatchDebouncer
	fw        *fsnotify.Watcher // owned by the Run goroutine
	runs      atomic.Int64
	failures  atomic.Int64
}

// New creates a watch loop.
func New(config Config, rebuilder Rebuilder, logger *slog.Logger) *Loop {
	config.Interval = ClampInterval(config.Interval)
	if config.Debounce <= 0 {
		config.Debounce = 2 * time.Second
	}
	if config.IgnorePatterns == nil {
		config.IgnorePatterns = DefaultIgnorePatterns
	}
	l := &Loop{
		config:    config,
		rebuilder: rebuilder,
		logger:    logger,
		nudge:     make(chan struct{}, 1),
	}
	l.batch = NewBatchDebouncer(config.Debounce, l.onBatch)
	return l
}

// Interval is the effective ticker period.
func (l *Loop) Interval() time.Duration {
	return l.config.Interval
}

// Nudge requests a rebuild at the next iteration boundary.
func (l *Loop) Nudge() {
	select {
	case l.nudge <- struct{}{}:
	default:
	}
}

// Stats returns loop counters.
func (l *Loop) Stats() map[string]interface{} {
	return map[string]interface{}{
		"intervalMs": l.config.Interval.Milliseconds(),
		"fsnotify":   l.config.FSNotify,
		"debounceMs": l.config.Debounce.Milliseconds(),
		"runs":       l.runs.Load(),
		"failures":   l.failures.Load(),
	}
}

func (l *Loop) onBatch(events []Event) {
	l.logger.Debug("Corpus changes detected", "events", len(events), "first", events[0].Path)
	l.Nudge()
}

// Run rebuilds once immediately and then on every tick or nudge. It returns
// nil when ctx is cancelled. Cancellation is observed between rebuilds; a
// rebuild in progress runs to completion.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()
	defer l.batch.Cancel()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if l.config.FSNotify {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			l.logger.Warn("fsnotify unavailable, polling only", "error", err)
		} else {
			defer fw.Close()
			l.fw = fw
			defer func() { l.fw = nil }()
			for _, root := range l.config.Roots {
				l.watchTree(fw, root)
			}
			events, errs = fw.Events, fw.Errors
		}
	}

	l.logger.Info("Watch loop started",
		"interval", l.config.Interval.String(),
		"fsnotify", events != nil,
	)
	l.runOnce(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Watch loop stopped", "runs", l.runs.Load())
			return nil
		case <-ticker.C:
			l.runOnce(ctx, "tick")
		case <-l.nudge:
			l.runOnce(ctx, "change")
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			l.handleEvent(ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			l.logger.Warn("fsnotify error", "error", err)
		}
	}
}

func (l *Loop) runOnce(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}
	l.runs.Add(1)
	out, err := l.rebuilder.Run(context.WithoutCancel(ctx), rebuild.ModeQuick)
	if err != nil {
		l.failures.Add(1)
		l.logger.Error("Rebuild failed", "trigger", trigger, "error", err)
		return
	}
	if out.Skipped {
		l.logger.Debug("Corpus unchanged", "trigger", trigger)
		return
	}
	l.logger.Info("Graph rebuilt",
		"trigger", trigger,
		"version", out.GraphVersion,
		"entities", out.Entities,
		"edges", out.Edges,
	)
}

func (l *Loop) handleEvent(ev fsnotify.Event) {
	typ, ok := eventFromOp(ev.Op)
	if !ok || l.IsIgnored(ev.Name) {
		return
	}
	if typ == EventCreate && l.fw != nil {
		// new directories are not covered by the existing watches
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			l.watchTree(l.fw, ev.Name)
		}
	}
	l.batch.Add(Event{Type: typ, Path: ev.Name, Timestamp: time.Now()})
}

// IsIgnored checks if a path matches ignore patterns
func (l *Loop) IsIgnored(path string) bool {
	for _, root := range l.config.Roots {
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		rel = paths.NormalizePath(rel)
		for _, part := range strings.Split(rel, "/") {
			if strings.HasPrefix(part, ".") {
				return true
			}
		}
		for _, pattern := range l.config.IgnorePatterns {
			if ok, _ := doublestar.Match(pattern, rel); ok {
				return true
			}
		}
		return false
	}
	return false
}

// watchTree adds root and every non-hidden directory below it.
func (l *Loop) watchTree(fw *fsnotify.Watcher, root string) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && (strings.HasPrefix(d.Name(), ".") || d.Name() == "node_modules") {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			l.logger.Warn("Cannot watch directory", "path", path, "error", err)
		}
		return nil
	})
	if err != nil {
		l.logger.Warn("Cannot walk corpus root", "root", root, "error", err)
	}
}
