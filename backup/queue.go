// Package backup mirrors completed local files to a remote archive. The
// dispatch goroutine enqueues paths as files come into existence; a single
// worker drains the queue whenever a run-completion trigger fires. A task
// leaves the queue only after a confirmed transfer or when its source file
// no longer exists.
package backup

import (
	"sync/atomic"

	"github.com/eapache/channels"
)

// Queue is the unbounded FIFO of file paths awaiting remote mirroring.
// Single producer (the dispatch goroutine), single consumer (the worker);
// Add never blocks the producer. Pending tasks are counted explicitly
// because the channel's own length trails In() by a goroutine hop, and the
// drain loop's emptiness check must see a task the moment it is added.
type Queue struct {
	ch      *channels.InfiniteChannel
	trigger chan struct{}
	pending int64
}

// NewQueue returns an empty queue with its trigger unset.
func NewQueue() *Queue {
	return &Queue{
		ch:      channels.NewInfiniteChannel(),
		trigger: make(chan struct{}, 1),
	}
}

// Add enqueues a file path for backup.
func (q *Queue) Add(path string) {
	atomic.AddInt64(&q.pending, 1)
	q.ch.In() <- path
}

// take removes the next task. Only the worker calls this, and only after
// seeing Len() > 0, so the receive always completes.
func (q *Queue) take() string {
	task := (<-q.ch.Out()).(string)
	atomic.AddInt64(&q.pending, -1)
	return task
}

// Len reports the number of tasks not yet confirmed done or dropped.
func (q *Queue) Len() int {
	return int(atomic.LoadInt64(&q.pending))
}

// Trigger wakes the worker. Firing an already-set trigger is a no-op, so
// callers may fire freely.
func (q *Queue) Trigger() {
	select {
	case q.trigger <- struct{}{}:
	default:
	}
}
