// Package queue implements the Intake Queue: a FIFO of pending operations
// feeding the processor loop's single consumer. The queue has no capacity
// limit; Add only fails once the queue is closed. Producers call
// Add from arbitrarily many goroutines; Take/Poll are meant for exactly
// one consumer at a time.
package queue

import (
	"context"
	"sync"

	"segmentstore/pkg/operation"
	"segmentstore/pkg/opserrors"
)

// Queue is the Intake Queue. Grounded on the teacher's skiplist's use of
// sync.Cond-free, channel-based waiting being absent; here a condition
// variable is the natural fit because Take must wake on either a new Add
// or a Close, and a single buffered channel cannot express "wake up and
// re-check both conditions" as directly as sync.Cond does.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*operation.Pending
	closed bool
}

// New returns an empty, open Queue.
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Add enqueues p. Fails with opserrors.Closed if the queue has been
// closed.
func (q *Queue) Add(p *operation.Pending) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return opserrors.Closed
	}
	q.items = append(q.items, p)
	q.cond.Signal()
	return nil
}

// Take blocks until at least one item is available or ctx is done, then
// returns up to max items in FIFO order. Exactly one goroutine should call
// Take (or Poll) at a time; concurrent calls are not coordinated against
// each other beyond correctly dividing up whatever is enqueued.
func (q *Queue) Take(ctx context.Context, max int) ([]*operation.Pending, error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		q.cond.Wait()
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return q.takeLocked(max), nil
}

// Poll returns up to max items immediately available, without blocking.
func (q *Queue) Poll(max int) []*operation.Pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.takeLocked(max)
}

func (q *Queue) takeLocked(max int) []*operation.Pending {
	if max > len(q.items) {
		max = len(q.items)
	}
	batch := q.items[:max]
	q.items = q.items[max:]
	return batch
}

// Closed reports whether Close has been called.
func (q *Queue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close idempotently closes the queue: subsequent Add calls fail, and
// returns every item still queued so the caller can fail them. Any
// blocked Take wakes and observes the close.
func (q *Queue) Close() []*operation.Pending {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	remaining := q.items
	q.items = nil
	q.cond.Broadcast()
	return remaining
}
