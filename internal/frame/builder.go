// Package frame implements the Frame Builder: it serializes operations
// into fixed-capacity data frames, writes sealed frames to a durable log
// with bounded concurrency, and resequences the log's completion
// callbacks back into strictly increasing frame order before delivering
// them to the commit tracker.
package frame

import (
	"fmt"
	"sync"

	"segmentstore/internal/durablelog"
	"segmentstore/pkg/operation"
	"segmentstore/pkg/opserrors"
)

type completion struct {
	args *Args
	err  error
}

// Builder is the Frame Builder. Append and Flush are safe to call from a
// single logical caller at a time (the processor loop); Commit/Fail
// callbacks fire concurrently from the durable log's completion context
// and are internally synchronized against the in-progress frame state.
type Builder struct {
	log       durablelog.DurableLog
	capacity  uint
	callbacks Callbacks
	sem       chan struct{}

	mu            sync.Mutex
	cur           *dataFrame
	lastCompleted uint64

	deliveryMu sync.Mutex
	dispatched uint64
	nextDeliver uint64
	pending    map[uint64]completion

	failureMu sync.Mutex
	failure   error
	closed    bool

	inFlight sync.WaitGroup
}

// New returns a Builder writing frames of the given capacity to log, with
// up to maxConcurrentWrites writes outstanding at once.
func New(log durablelog.DurableLog, capacity uint, maxConcurrentWrites int, callbacks Callbacks) *Builder {
	if maxConcurrentWrites < 1 {
		maxConcurrentWrites = 1
	}
	return &Builder{
		log:       log,
		capacity:  capacity,
		callbacks: callbacks,
		sem:       make(chan struct{}, maxConcurrentWrites),
		pending:   make(map[uint64]completion),
	}
}

// FailureCause returns the latched cause of the builder's first write
// failure, or nil if the builder has not failed.
func (b *Builder) FailureCause() error {
	b.failureMu.Lock()
	defer b.failureMu.Unlock()
	return b.failure
}

func (b *Builder) setFailure(err error) {
	b.failureMu.Lock()
	defer b.failureMu.Unlock()
	if b.failure == nil {
		b.failure = err
	}
}

// Append serializes op into the current in-progress frame. If the frame
// fills, it is sealed and dispatched to the durable log, and a fresh frame
// is started; op's remaining bytes continue into it. An operation may
// span any number of frames.
func (b *Builder) Append(op operation.Operation) error {
	if cause := b.FailureCause(); cause != nil {
		return fmt.Errorf("%w: %v", opserrors.BuilderClosed, cause)
	}

	data, err := op.Serialize()
	if err != nil {
		return err
	}
	seq := op.SequenceNumber()

	for offset := 0; offset < len(data); {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return opserrors.BuilderClosed
		}
		if b.cur == nil {
			f, ferr := newDataFrame(b.capacity)
			if ferr != nil {
				b.mu.Unlock()
				return fmt.Errorf("%w: %v", opserrors.IoError, ferr)
			}
			b.cur = f
		}
		b.cur.LastStartedSequenceNumber = seq

		n := b.cur.Write(data[offset:])
		offset += n

		var sealed *dataFrame
		var args *Args
		if b.cur.Remaining() == 0 {
			if offset >= len(data) {
				// op's last byte exactly fills the frame: it is fully
				// serialized as of this seal, not merely started.
				b.cur.LastFullySerializedSequenceNumber = seq
			} else {
				b.cur.LastFullySerializedSequenceNumber = b.lastCompleted
			}
			sealed = b.cur
			args = &Args{
				LastStartedSequenceNumber:         sealed.LastStartedSequenceNumber,
				LastFullySerializedSequenceNumber: sealed.LastFullySerializedSequenceNumber,
				Length:                            int(sealed.Len()),
				Checksum:                          sealed.Checksum(),
			}
			b.cur = nil
		}
		b.mu.Unlock()

		if sealed != nil {
			b.dispatch(sealed, args)
			if cause := b.FailureCause(); cause != nil {
				return fmt.Errorf("%w: %v", opserrors.BuilderClosed, cause)
			}
		}
	}

	b.mu.Lock()
	b.lastCompleted = seq
	b.mu.Unlock()
	return nil
}

// Flush seals the current in-progress frame, if non-empty, and initiates
// its write.
func (b *Builder) Flush() error {
	if cause := b.FailureCause(); cause != nil {
		return fmt.Errorf("%w: %v", opserrors.BuilderClosed, cause)
	}

	b.mu.Lock()
	if b.cur == nil || b.cur.Len() == 0 {
		b.mu.Unlock()
		return nil
	}
	b.cur.LastFullySerializedSequenceNumber = b.lastCompleted
	sealed := b.cur
	args := &Args{
		LastStartedSequenceNumber:         sealed.LastStartedSequenceNumber,
		LastFullySerializedSequenceNumber: sealed.LastFullySerializedSequenceNumber,
		Length:                            int(sealed.Len()),
		Checksum:                          sealed.Checksum(),
	}
	b.cur = nil
	b.mu.Unlock()

	b.dispatch(sealed, args)
	return nil
}

// Close flushes and awaits durable completion of all in-flight writes.
// Must be called on clean shutdown; after Close, Append fails with
// opserrors.BuilderClosed, and Flush, with no frame left to seal, returns
// nil.
func (b *Builder) Close() error {
	_ = b.Flush()

	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	b.inFlight.Wait()
	return nil
}

// dispatch invokes the checkpoint callback synchronously, then hands the
// sealed frame to the durable log. The commit/fail callback is delivered
// later, resequenced into dispatch order.
func (b *Builder) dispatch(sealed *dataFrame, args *Args) {
	if b.callbacks.Checkpoint != nil {
		b.callbacks.Checkpoint(args)
	}

	b.sem <- struct{}{}

	b.deliveryMu.Lock()
	idx := b.dispatched
	b.dispatched++
	b.deliveryMu.Unlock()

	b.inFlight.Add(1)
	b.log.Append(sealed.Bytes(), func(addr durablelog.LogAddress, err error) {
		defer b.inFlight.Done()
		defer func() { <-b.sem }()
		defer sealed.Close()

		if err != nil {
			b.setFailure(err)
			b.deliver(idx, completion{args: args, err: err})
			return
		}

		args.LogAddress = addr
		args.HasLogAddress = true
		b.deliver(idx, completion{args: args})
	})
}

// deliver resequences completions into strictly increasing dispatch order
// before invoking Commit/Fail, so callbacks always fire in the order their
// frames were dispatched regardless of which write finishes first.
func (b *Builder) deliver(idx uint64, c completion) {
	b.deliveryMu.Lock()
	b.pending[idx] = c
	var ready []completion
	for {
		next, ok := b.pending[b.nextDeliver]
		if !ok {
			break
		}
		ready = append(ready, next)
		delete(b.pending, b.nextDeliver)
		b.nextDeliver++
	}
	b.deliveryMu.Unlock()

	for _, r := range ready {
		if r.err != nil {
			if b.callbacks.Fail != nil {
				b.callbacks.Fail(r.err, r.args)
			}
			continue
		}
		if b.callbacks.Commit != nil {
			b.callbacks.Commit(r.args)
		}
	}
}
