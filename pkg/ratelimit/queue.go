package ratelimit

import (
	"container/heap"
	"time"

	"github.com/google/uuid"
)

// Priority orders waiting requests. Higher priorities are admitted first;
// within a priority band admission is FIFO by enqueue time.
type Priority int

const (
	// PriorityLow is for background work (prefetching, warmup).
	PriorityLow Priority = iota

	// PriorityMedium is the conventional default for interactive requests.
	PriorityMedium

	// PriorityHigh is for latency-critical requests that may cut ahead.
	PriorityHigh
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParsePriority converts a priority name to a Priority.
// Unknown names map to PriorityMedium.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

// waiter is a request suspended until a token becomes available.
// Its outcome is delivered exactly once on admit; index == -1 means the
// waiter has been removed from the queue and its outcome is decided.
type waiter struct {
	id         uuid.UUID
	endpoint   string
	priority   Priority
	enqueuedAt time.Time
	deadline   time.Time
	seq        uint64

	admit chan error // buffered, capacity 1
	index int
}

// waitQueue is a priority-major, enqueue-order-minor queue of waiters.
// It implements heap.Interface; use the push/pop/remove helpers.
type waitQueue []*waiter

func (q waitQueue) Len() int { return len(q) }

func (q waitQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q waitQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *waitQueue) Push(x any) {
	w := x.(*waiter)
	w.index = len(*q)
	*q = append(*q, w)
}

func (q *waitQueue) Pop() any {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*q = old[:n-1]
	return w
}

// push enqueues a waiter.
func (q *waitQueue) push(w *waiter) {
	heap.Push(q, w)
}

// pop removes and returns the highest-priority waiter, or nil when empty.
func (q *waitQueue) pop() *waiter {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*waiter)
}

// remove takes a specific waiter out of the queue. It is a no-op if the
// waiter has already been removed.
func (q *waitQueue) remove(w *waiter) {
	if w.index >= 0 {
		heap.Remove(q, w.index)
	}
}

// expired returns all waiters whose deadline has passed, removing them
// from the queue. Collect first, then remove: heap.Remove reshuffles
// indices, so removal during the scan could skip entries.
func (q *waitQueue) expired(now time.Time) []*waiter {
	var out []*waiter
	for _, w := range *q {
		if !now.Before(w.deadline) {
			out = append(out, w)
		}
	}
	for _, w := range out {
		q.remove(w)
	}
	return out
}
