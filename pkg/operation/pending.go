package operation

import (
	"context"
	"sync"
)

// Pending is an operation that has been (or is about to be) admitted to
// the processor, paired with the completion handle returned to its caller.
// Complete and Fail are idempotent: only the first call has any effect,
// which makes it safe for both the commit tracker's success path and a
// concurrent shutdown-triggered failure path to race to resolve the same
// Pending.
type Pending struct {
	Op Operation

	once   sync.Once
	done   chan struct{}
	result uint64
	err    error
}

// NewPending wraps op in a Pending with a fresh, unresolved Future.
func NewPending(op Operation) *Pending {
	return &Pending{Op: op, done: make(chan struct{})}
}

// Complete resolves the operation's future successfully with seqNo.
func (p *Pending) Complete(seqNo uint64) {
	p.once.Do(func() {
		p.result = seqNo
		close(p.done)
	})
}

// Fail resolves the operation's future with err.
func (p *Pending) Fail(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Future returns the caller-facing handle for this operation's eventual
// result.
func (p *Pending) Future() *Future {
	return &Future{p: p}
}

// Future is the public handle returned by Processor.Process. It resolves
// exactly once, to either a sequence number or an error.
type Future struct {
	p *Pending
}

// Wait blocks until the operation resolves or ctx is done, whichever comes
// first. Cancelling ctx does not affect the operation itself; per the
// spec's cancellation policy, the operation continues processing
// regardless of whether anyone is still waiting on its Future.
func (f *Future) Wait(ctx context.Context) (uint64, error) {
	select {
	case <-f.p.done:
		return f.p.result, f.p.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Done returns a channel that is closed once the operation resolves, for
// callers that want to select on it directly.
func (f *Future) Done() <-chan struct{} {
	return f.p.done
}
