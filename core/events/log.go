package events

import (
	"sync"

	"escrowd/core/types"
)

// payloader is satisfied by events that expose a canonical attribute payload.
type payloader interface {
	Event() *types.Event
}

// Log is a capped in-memory emitter retaining the most recent events for the
// RPC query surface. Older entries are dropped once the limit is reached.
type Log struct {
	mu      sync.Mutex
	limit   int
	entries []*types.Event
}

// NewLog creates a log retaining at most limit events. Non-positive limits
// fall back to a small default.
func NewLog(limit int) *Log {
	if limit <= 0 {
		limit = 128
	}
	return &Log{limit: limit}
}

// Emit implements the Emitter interface.
func (l *Log) Emit(evt Event) {
	if l == nil || evt == nil {
		return
	}
	withPayload, ok := evt.(payloader)
	if !ok {
		return
	}
	payload := withPayload.Event()
	if payload == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, payload)
	if len(l.entries) > l.limit {
		l.entries = l.entries[len(l.entries)-l.limit:]
	}
}

// List returns a copy of the retained events, oldest first.
func (l *Log) List() []*types.Event {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*types.Event, len(l.entries))
	copy(out, l.entries)
	return out
}

// Fan broadcasts each event to every wrapped emitter in order.
type Fan []Emitter

// Emit implements the Emitter interface.
func (f Fan) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
