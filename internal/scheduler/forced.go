package scheduler

import (
	"slices"
	"sync"
	"time"

	"github.com/watzon/dockd/internal/metrics"
	"github.com/watzon/dockd/internal/schedule"
)

// ForcedEntry is a "run now" request waiting in the forced queue.
type ForcedEntry struct {
	Schedule     *schedule.Schedule
	HighPriority bool
	QueuedAt     time.Time
}

// ForcedQueue is a double-ended list of forced requests. High-priority entries are
// stacked at the front, everything else is queued at the back, and Pop always takes
// from the front. It is safe for concurrent use.
type ForcedQueue struct {
	mu      sync.Mutex
	entries []ForcedEntry
}

// NewForcedQueue creates an empty queue.
func NewForcedQueue() *ForcedQueue {
	return &ForcedQueue{}
}

// Stack pushes an entry to the front so it runs before anything already waiting.
func (q *ForcedQueue) Stack(e ForcedEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = slices.Insert(q.entries, 0, e)
	metrics.SetForcedQueueDepth(len(q.entries))
}

// Queue appends an entry to the back.
func (q *ForcedQueue) Queue(e ForcedEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append(q.entries, e)
	metrics.SetForcedQueueDepth(len(q.entries))
}

// QueueUnique appends an entry unless one for the same event code and serial
// numbers is already waiting. It reports whether the entry was added.
func (q *ForcedQueue) QueueUnique(e ForcedEntry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, w := range q.entries {
		if w.Schedule.EventCode.Code == e.Schedule.EventCode.Code &&
			slices.Equal(w.Schedule.SerialNumbers, e.Schedule.SerialNumbers) {
			return false
		}
	}
	q.entries = append(q.entries, e)
	metrics.SetForcedQueueDepth(len(q.entries))
	return true
}

// Pop removes and returns the front entry.
func (q *ForcedQueue) Pop() (ForcedEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return ForcedEntry{}, false
	}
	e := q.entries[0]
	q.entries[0] = ForcedEntry{}
	q.entries = q.entries[1:]
	metrics.SetForcedQueueDepth(len(q.entries))
	return e, true
}

// Clear drops every entry and returns how many were removed.
func (q *ForcedQueue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.entries)
	q.entries = nil
	metrics.SetForcedQueueDepth(0)
	return n
}

// Len returns the number of waiting entries.
func (q *ForcedQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Contains reports whether an entry for the event code targeting serial is waiting.
func (q *ForcedQueue) Contains(code, serial string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if e.Schedule.EventCode.Code != code {
			continue
		}
		if serial == "" || e.Schedule.AssignedTo(serial) {
			return true
		}
	}
	return false
}

// Entries returns a copy of the waiting entries, front first.
func (q *ForcedQueue) Entries() []ForcedEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.entries)
}
