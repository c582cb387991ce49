// Package progress implements the per-operation completed/total counter
// published to a non-blocking consumer channel, used by the client
// orchestrator's create and restore operations.
package progress

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time view of a Progress counter.
type Snapshot struct {
	Completed int
	Total     int
	Elapsed   time.Duration
}

// ETR estimates the remaining duration as total*elapsed/completed - elapsed
// in integer seconds (elapsed is truncated to whole seconds first). It is
// undefined (returns 0) before the first completion.
func (s Snapshot) ETR() time.Duration {
	if s.Completed == 0 {
		return 0
	}
	elapsedSeconds := int64(s.Elapsed / time.Second)
	totalSeconds := int64(s.Total) * elapsedSeconds / int64(s.Completed)
	remaining := totalSeconds - elapsedSeconds
	if remaining < 0 {
		remaining = 0
	}
	return time.Duration(remaining) * time.Second
}

// Progress holds {started_at, completed, total, sink}. Increment is safe
// for concurrent use, though the orchestrator only ever calls it from its
// single cooperative driver goroutine.
type Progress struct {
	mu        sync.Mutex
	startedAt time.Time
	completed int
	total     int
	sink      chan<- Snapshot
}

// New creates a Progress for an operation expected to perform total steps.
// sink may be nil if nobody is consuming snapshots.
func New(total int, sink chan<- Snapshot) *Progress {
	return &Progress{
		startedAt: time.Now(),
		total:     total,
		sink:      sink,
	}
}

// Increment bumps completed by one and publishes a snapshot to the sink
// without blocking: a full or absent channel simply drops the update.
func (p *Progress) Increment() {
	p.mu.Lock()
	p.completed++
	snap := Snapshot{Completed: p.completed, Total: p.total, Elapsed: time.Since(p.startedAt)}
	p.mu.Unlock()

	if p.sink == nil {
		return
	}
	select {
	case p.sink <- snap:
	default:
	}
}

// Snapshot returns the current counter state.
func (p *Progress) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Snapshot{Completed: p.completed, Total: p.total, Elapsed: time.Since(p.startedAt)}
}
