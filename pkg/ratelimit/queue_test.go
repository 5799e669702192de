package ratelimit

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func newTestWaiter(priority Priority, seq uint64) *waiter {
	return &waiter{
		id:       uuid.New(),
		priority: priority,
		seq:      seq,
		admit:    make(chan error, 1),
	}
}

func TestWaitQueue_PriorityOrder(t *testing.T) {
	var q waitQueue

	low := newTestWaiter(PriorityLow, 1)
	med := newTestWaiter(PriorityMedium, 2)
	high := newTestWaiter(PriorityHigh, 3)

	q.push(low)
	q.push(med)
	q.push(high)

	assert.Same(t, high, q.pop(), "high priority admitted first")
	assert.Same(t, med, q.pop())
	assert.Same(t, low, q.pop())
	assert.Nil(t, q.pop())
}

func TestWaitQueue_FIFOWithinBand(t *testing.T) {
	var q waitQueue

	first := newTestWaiter(PriorityMedium, 1)
	second := newTestWaiter(PriorityMedium, 2)
	third := newTestWaiter(PriorityMedium, 3)

	// Push out of order; seq decides within a band.
	q.push(second)
	q.push(third)
	q.push(first)

	assert.Same(t, first, q.pop())
	assert.Same(t, second, q.pop())
	assert.Same(t, third, q.pop())
}

func TestWaitQueue_Remove(t *testing.T) {
	var q waitQueue

	a := newTestWaiter(PriorityMedium, 1)
	b := newTestWaiter(PriorityMedium, 2)
	c := newTestWaiter(PriorityMedium, 3)
	q.push(a)
	q.push(b)
	q.push(c)

	q.remove(b)
	assert.Equal(t, -1, b.index)

	// Removing again is a no-op.
	q.remove(b)

	assert.Same(t, a, q.pop())
	assert.Same(t, c, q.pop())
	assert.Nil(t, q.pop())
}

func TestWaitQueue_Expired(t *testing.T) {
	var q waitQueue
	now := time.Now()

	fresh := newTestWaiter(PriorityHigh, 1)
	fresh.deadline = now.Add(time.Minute)
	stale := newTestWaiter(PriorityLow, 2)
	stale.deadline = now.Add(-time.Second)
	staler := newTestWaiter(PriorityMedium, 3)
	staler.deadline = now.Add(-time.Minute)

	q.push(fresh)
	q.push(stale)
	q.push(staler)

	expired := q.expired(now)
	assert.Len(t, expired, 2)
	assert.NotContains(t, expired, fresh)

	assert.Equal(t, 1, q.Len())
	assert.Same(t, fresh, q.pop())
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		input string
		want  Priority
	}{
		{"low", PriorityLow},
		{"medium", PriorityMedium},
		{"high", PriorityHigh},
		{"", PriorityMedium},
		{"urgent", PriorityMedium},
	}

	for _, tt := range tests {
		t.Run("input_"+tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParsePriority(tt.input))
		})
	}
}

func TestPriority_String(t *testing.T) {
	assert.Equal(t, "low", PriorityLow.String())
	assert.Equal(t, "medium", PriorityMedium.String())
	assert.Equal(t, "high", PriorityHigh.String())
	assert.Equal(t, "unknown", Priority(42).String())
}
