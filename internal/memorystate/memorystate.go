// Package memorystate implements the default MemoryStateUpdater: a
// skiplist-backed sorted index of segment byte ranges, adapted from the
// teacher's skiplist-backed MemTable. Where the teacher's table held
// in-memory user key/value writes awaiting flush to an SSTable, this index
// holds durably-committed operations' byte ranges, keyed by
// (segment, offset) instead of a user key.
package memorystate

import (
	"errors"
	"fmt"
	"sync"

	"segmentstore/internal/base"
	"segmentstore/internal/skiplist"
	"segmentstore/pkg/operation"
	"segmentstore/pkg/opserrors"
)

// defaultSize is the backing arena size used by New. The index does not
// grow: once the arena fills, Process fails with opserrors.DataCorruption.
const defaultSize = 4 << 20 // 4 MiB

// Updater is the default MemoryStateUpdater: Process durably records an
// append's byte range; Flush publishes a batch boundary to readers.
type Updater struct {
	mu  sync.Mutex
	skl *skiplist.Skiplist

	// Fail, if set, is consulted before each Process call and, if it
	// returns a non-nil error, fails that call instead of touching the
	// index. Tests use this to simulate opserrors.DataCorruption without
	// needing to actually corrupt the index.
	Fail func(op operation.Operation) error
}

// New returns an empty index with the default backing arena size.
func New() *Updater {
	return &Updater{skl: skiplist.New(defaultSize, compareLogicalKeys)}
}

// NewWithSize returns an empty index with a caller-chosen backing arena
// size, mainly for tests that want to exercise the "index is full" path
// without allocating megabytes.
func NewWithSize(size uint) *Updater {
	return &Updater{skl: skiplist.New(size, compareLogicalKeys)}
}

// Process applies a durably-committed operation to the index. Only
// Append operations produce an index entry; everything else is pure
// container-metadata bookkeeping and has nothing for the read index to
// record. Process may only fail with opserrors.DataCorruption, per the
// external-interface contract: a failure here means the in-memory index
// itself can no longer be trusted.
func (u *Updater) Process(op operation.Operation) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.Fail != nil {
		if err := u.Fail(op); err != nil {
			return err
		}
	}

	appendOp, ok := op.(*operation.Append)
	if !ok {
		return nil
	}

	key := base.MakeIndexKey(logicalKey(appendOp.SegmentName, appendOp.Offset), base.SeqNum(appendOp.SequenceNumber()), base.IndexKindData)
	if err := u.skl.Add(key, appendOp.Data); err != nil {
		switch {
		case errors.Is(err, skiplist.ErrBufferFull):
			return fmt.Errorf("%w: memory state index arena is full", opserrors.DataCorruption)
		case errors.Is(err, skiplist.ErrRecordExists):
			return fmt.Errorf("%w: duplicate (segment, offset, seq) in memory state index", opserrors.DataCorruption)
		default:
			return fmt.Errorf("%w: %v", opserrors.DataCorruption, err)
		}
	}
	return nil
}

// Flush publishes the batch of updates applied since the last Flush to
// readers. The skiplist is lock-free for readers already, so there is no
// buffered state to drain; Flush exists as the hook internal/tracker calls
// per its contract, and is where a future block-cache invalidation or
// metrics emission would plug in.
func (u *Updater) Flush() {}

// Get returns the most recent bytes recorded for (segmentName, offset), if
// any, along with the sequence number under which they were written.
func (u *Updater) Get(segmentName string, offset int64) ([]byte, base.SeqNum, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()

	it := u.skl.Iterator(nil)
	defer it.Close()

	target := logicalKey(segmentName, offset)
	var best *base.IndexEntry
	for e := it.First(); e != nil; e = it.Next() {
		if compareLogicalKeys(e.K.LogicalKey, target) != 0 {
			continue
		}
		if best == nil || e.SeqNum() > best.SeqNum() {
			entry := *e
			best = &entry
		}
	}
	if best == nil || best.Kind() == base.IndexKindInvalidate {
		return nil, 0, false
	}
	return best.V, best.SeqNum(), true
}

// Len returns the number of bytes consumed in the index's backing arena.
func (u *Updater) Len() uint {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.skl.Len()
}
