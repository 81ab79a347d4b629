// Package batch provides the small FIFO value the processor loop drains
// from the intake queue and feeds to the frame builder one operation at a
// time.
package batch

import "segmentstore/pkg/operation"

// Batch is an ordered run of pending operations taken from the intake
// queue in one Take/Poll call.
type Batch struct {
	items []*operation.Pending
}

// New wraps items as a Batch. Ownership of the slice passes to the Batch.
func New(items []*operation.Pending) *Batch {
	return &Batch{items: items}
}

// Empty reports whether no operations remain.
func (b *Batch) Empty() bool {
	return b == nil || len(b.items) == 0
}

// PopFront removes and returns the first remaining operation. Panics if
// the batch is empty; callers must check Empty first, matching the
// spec's process_batch loop shape.
func (b *Batch) PopFront() *operation.Pending {
	op := b.items[0]
	b.items = b.items[1:]
	return op
}

// Len returns the number of operations remaining in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.items)
}
