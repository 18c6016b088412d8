package watcher

import (
	"sync"
	"time"
)

// BatchDebouncer collects events and emits them as one batch once no new
// event has arrived for the delay. Repeated events for one path collapse
// into the latest.
type BatchDebouncer struct {
	delay  time.Duration
	timer  *time.Timer
	mu     sync.Mutex
	events []Event
	index  map[string]int // path -> position in events
	emit   func([]Event)
}

// NewBatchDebouncer creates a new batch debouncer
func NewBatchDebouncer(delay time.Duration, emit func([]Event)) *BatchDebouncer {
	return &BatchDebouncer{
		delay: delay,
		index: make(map[string]int),
		emit:  emit,
	}
}

// Add records an event and restarts the quiet period.
func (b *BatchDebouncer) Add(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if i, ok := b.index[event.Path]; ok {
		b.events[i] = event
	} else {
		b.index[event.Path] = len(b.events)
		b.events = append(b.events, event)
	}

	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.delay, b.flush)
}

// take empties the batch and returns what it held.
func (b *BatchDebouncer) take() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	events := b.events
	b.events = nil
	b.index = make(map[string]int)
	return events
}

func (b *BatchDebouncer) flush() {
	events := b.take()
	if len(events) > 0 && b.emit != nil {
		b.emit(events)
	}
}

// Cancel drops pending events without emitting them.
func (b *BatchDebouncer) Cancel() {
	b.take()
}

// Flush emits pending events immediately.
func (b *BatchDebouncer) Flush() {
	b.flush()
}

// EventCount returns the number of pending events
func (b *BatchDebouncer) EventCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
