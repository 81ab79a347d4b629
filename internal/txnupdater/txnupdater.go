// Package txnupdater implements the metadata updater: a stack of
// speculative delta layers ("update transactions") over a base
// containermetadata.Metadata. Every exported method assumes the caller
// holds the processor's single shared state lock; nothing here does its
// own locking.
package txnupdater

import (
	"fmt"

	"segmentstore/internal/base"
	"segmentstore/internal/containermetadata"
	"segmentstore/pkg/operation"
	"segmentstore/pkg/opserrors"
)

// transaction is one layer of speculative segment-metadata mutations. A
// transaction is sealed when the frame builder checkpoints it (no further
// operations may accept into it) and, later, either committed into base or
// discarded by rollback.
type transaction struct {
	id       uint64
	sealed   bool
	segments map[string]*containermetadata.SegmentMetadata
}

// Updater is the Metadata Updater. It owns the sequence-number source for
// the whole container and the transaction stack; txns[0] is the oldest
// still-uncommitted transaction and the last element is always the
// current, open (unsealed) one.
type Updater struct {
	base      *containermetadata.Metadata
	seqNo     base.AtomicSeqNum
	nextTxnID uint64
	txns      []*transaction
}

// New returns an Updater layered over base, with a single fresh open
// transaction (id 0).
func New(baseMeta *containermetadata.Metadata) *Updater {
	u := &Updater{base: baseMeta}
	u.openTransaction()
	return u
}

func (u *Updater) openTransaction() *transaction {
	txn := &transaction{id: u.nextTxnID, segments: make(map[string]*containermetadata.SegmentMetadata)}
	u.nextTxnID++
	u.txns = append(u.txns, txn)
	return txn
}

func (u *Updater) current() *transaction {
	return u.txns[len(u.txns)-1]
}

// effective returns the segment's state as seen by the current open
// transaction: the nearest layer (newest to oldest) that has touched it,
// falling back to base. Returns nil if the segment has never been
// observed anywhere in the stack.
func (u *Updater) effective(name string) *containermetadata.SegmentMetadata {
	for i := len(u.txns) - 1; i >= 0; i-- {
		if s, ok := u.txns[i].segments[name]; ok {
			return s
		}
	}
	return u.base.Segment(name)
}

// NextOperationSequenceNumber returns the next sequence number for this
// container. Strictly increasing, never reused, independent of any
// transaction's fate.
func (u *Updater) NextOperationSequenceNumber() uint64 {
	return uint64(u.seqNo.Add(1))
}

// PreProcess validates op against the current effective view and assigns
// any fields that depend on that view (offsets, lengths). It does not
// mutate any transaction; Accept does that. Returns opserrors.BadOperation
// for a logical rejection (segment missing, sealed, wrong merge state).
func (u *Updater) PreProcess(op operation.Operation) error {
	switch o := op.(type) {
	case *operation.Map:
		if u.effective(o.SegmentName) != nil {
			return fmt.Errorf("%w: segment %q already exists", opserrors.BadOperation, o.SegmentName)
		}
	case *operation.Append:
		seg := u.effective(o.SegmentName)
		if seg == nil {
			return fmt.Errorf("%w: segment %q does not exist", opserrors.BadOperation, o.SegmentName)
		}
		if seg.Sealed {
			return fmt.Errorf("%w: segment %q is sealed", opserrors.BadOperation, o.SegmentName)
		}
		o.Offset = seg.Length
	case *operation.Seal:
		seg := u.effective(o.SegmentName)
		if seg == nil {
			return fmt.Errorf("%w: segment %q does not exist", opserrors.BadOperation, o.SegmentName)
		}
		if seg.Sealed {
			return fmt.Errorf("%w: segment %q is already sealed", opserrors.BadOperation, o.SegmentName)
		}
		o.SealedLength = seg.Length
	case *operation.Merge:
		src := u.effective(o.SourceSegment)
		tgt := u.effective(o.TargetSegment)
		if src == nil || tgt == nil {
			return fmt.Errorf("%w: merge references a segment that does not exist", opserrors.BadOperation)
		}
		if !src.Sealed {
			return fmt.Errorf("%w: source segment %q must be sealed before merging", opserrors.BadOperation, o.SourceSegment)
		}
		if tgt.Sealed {
			return fmt.Errorf("%w: target segment %q is sealed", opserrors.BadOperation, o.TargetSegment)
		}
		o.SourceLength = src.Length
	case *operation.UpdateAttributes:
		if u.effective(o.SegmentName) == nil {
			return fmt.Errorf("%w: segment %q does not exist", opserrors.BadOperation, o.SegmentName)
		}
	case *operation.Checkpoint:
		// No metadata precondition.
	default:
		return fmt.Errorf("%w: unrecognized operation type %T", opserrors.BadOperation, op)
	}
	return nil
}

// Accept applies op's mutation into the current open transaction's delta
// layer. Must be called after PreProcess, though possibly in a different
// (newer) transaction if a checkpoint sealed the original one in between —
// that is intended, see the processor loop's ordering note.
func (u *Updater) Accept(op operation.Operation) error {
	txn := u.current()

	switch o := op.(type) {
	case *operation.Map:
		seg := &containermetadata.SegmentMetadata{Name: o.SegmentName, Attributes: make(map[string]int64)}
		txn.segments[o.SegmentName] = seg
	case *operation.Append:
		seg := u.effective(o.SegmentName)
		if seg == nil {
			return fmt.Errorf("%w: segment %q vanished between pre-process and accept", opserrors.DataCorruption, o.SegmentName)
		}
		seg = seg.Clone()
		seg.Length = o.Offset + int64(len(o.Data))
		txn.segments[o.SegmentName] = seg
	case *operation.Seal:
		seg := u.effective(o.SegmentName)
		if seg == nil {
			return fmt.Errorf("%w: segment %q vanished between pre-process and accept", opserrors.DataCorruption, o.SegmentName)
		}
		seg = seg.Clone()
		seg.Sealed = true
		txn.segments[o.SegmentName] = seg
	case *operation.Merge:
		src := u.effective(o.SourceSegment)
		tgt := u.effective(o.TargetSegment)
		if src == nil || tgt == nil {
			return fmt.Errorf("%w: merge segment vanished between pre-process and accept", opserrors.DataCorruption)
		}
		src = src.Clone()
		src.MergedInto = o.TargetSegment
		tgt = tgt.Clone()
		tgt.Length += o.SourceLength
		txn.segments[o.SourceSegment] = src
		txn.segments[o.TargetSegment] = tgt
	case *operation.UpdateAttributes:
		seg := u.effective(o.SegmentName)
		if seg == nil {
			return fmt.Errorf("%w: segment %q vanished between pre-process and accept", opserrors.DataCorruption, o.SegmentName)
		}
		seg = seg.Clone()
		for k, v := range o.Updates {
			seg.Attributes[k] = v
		}
		txn.segments[o.SegmentName] = seg
	case *operation.Checkpoint:
		// No metadata mutation; the checkpoint's only effect is sealing a
		// transaction, which happens via SealTransaction, not Accept.
	default:
		return fmt.Errorf("%w: unrecognized operation type %T", opserrors.BadOperation, op)
	}
	return nil
}

// SealTransaction seals the current open transaction and opens a fresh
// one. Returns the id of the transaction just sealed. Ids are assigned
// densely and monotonically at transaction-creation time, so even an
// empty transaction returns a fresh, unique id: repeated calls with no
// intervening operations return 0, 1, 2, ...
func (u *Updater) SealTransaction() uint64 {
	txn := u.current()
	txn.sealed = true
	id := txn.id
	u.openTransaction()
	return id
}

// Commit merges every sealed transaction with id <= upToID into base, in
// oldest-to-newest order, and drops them from the stack. Stops at the
// first unsealed (i.e. still-open) transaction regardless of id.
func (u *Updater) Commit(upToID uint64) error {
	i := 0
	for i < len(u.txns) {
		txn := u.txns[i]
		if !txn.sealed || txn.id > upToID {
			break
		}
		for _, seg := range txn.segments {
			u.base.PutSegment(seg)
		}
		i++
	}
	if i == 0 {
		return nil
	}
	u.txns = u.txns[i:]
	return nil
}

// Rollback discards the transaction with id fromID and every transaction
// after it (including the current open one), replacing them with a fresh
// open transaction. Base metadata is left exactly as it was before
// fromID's transaction began.
func (u *Updater) Rollback(fromID uint64) error {
	idx := -1
	for i, txn := range u.txns {
		if txn.id == fromID {
			idx = i
			break
		}
	}
	if idx < 0 {
		// fromID already committed or never existed: the tracker and
		// updater have disagreed about transaction lifetime.
		return fmt.Errorf("%w: rollback target transaction %d not found", opserrors.DataCorruption, fromID)
	}

	u.txns = u.txns[:idx]
	u.openTransaction()
	return nil
}

// RecordTruncationMarker records a durable truncation point directly
// against base metadata. Idempotent and non-transactional: it applies
// immediately regardless of any open or sealed transaction's fate.
func (u *Updater) RecordTruncationMarker(upToSeqNo uint64, addr containermetadata.LogAddress) {
	u.base.RecordTruncationMarker(upToSeqNo, addr)
}

// Base returns the underlying base metadata, for read-only inspection
// (e.g. tests comparing against a direct replay).
func (u *Updater) Base() *containermetadata.Metadata {
	return u.base
}

// CurrentTransactionID returns the id of the current open (unsealed)
// transaction. internal/tracker uses this to know what to roll back when a
// failure precedes any frame checkpoint, so it discards the transaction
// actually open at the time of failure rather than guessing id 0 (which,
// once earlier transactions have committed and dropped off the stack, no
// longer exists).
func (u *Updater) CurrentTransactionID() uint64 {
	return u.current().id
}
