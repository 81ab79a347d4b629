// Package tracker implements the Commit Tracker: it keeps the FIFO of
// in-flight-but-not-yet-durable operations, correlates frame-builder
// acknowledgments with metadata-updater transaction ids, commits or rolls
// back metadata, and completes operation futures in sequence.
//
// Every exported method assumes the caller holds the processor's single
// shared state lock (the same lock guarding internal/txnupdater); nothing
// here does its own locking, matching the teacher's convention elsewhere
// of pushing synchronization up to the owning caller rather than each
// collaborator guarding itself.
package tracker

import (
	"container/list"
	"fmt"

	"segmentstore/internal/containermetadata"
	"segmentstore/internal/durablelog"
	"segmentstore/internal/frame"
	"segmentstore/pkg/operation"
	"segmentstore/pkg/opserrors"
)

// MetadataUpdater is the subset of internal/txnupdater.Updater the
// tracker drives directly. Declared here (rather than importing
// txnupdater's concrete type) so the tracker can be unit-tested against a
// fake updater without dragging in the full transaction-stack machinery.
type MetadataUpdater interface {
	SealTransaction() uint64
	CurrentTransactionID() uint64
	Commit(upToID uint64) error
	Rollback(fromID uint64) error
	RecordTruncationMarker(upToSeqNo uint64, addr containermetadata.LogAddress)
}

// MemoryStateUpdater is the subset of internal/memorystate.Updater the
// tracker drives on commit.
type MemoryStateUpdater interface {
	Process(op operation.Operation) error
	Flush()
}

// CheckpointPolicy is the subset of internal/checkpoint.Policy the
// tracker notifies as bytes become durable.
type CheckpointPolicy interface {
	RecordCommit(bytes int)
}

// Tracker is the Commit Tracker.
type Tracker struct {
	updater       MetadataUpdater
	memoryState   MemoryStateUpdater
	checkpoint    CheckpointPolicy
	onFatal       func(err error)

	pending                     *list.List // of *operation.Pending, oldest (lowest seq) at front
	txnByFrame                  map[*frame.Args]uint64
	highestCommittedFrameSeq    int64
	fatalInvoked                bool
}

// New returns an empty Tracker driving updater/memoryState/checkpoint.
// onFatal is invoked at most once, the first time a fatal error is
// observed via Fail.
func New(updater MetadataUpdater, memoryState MemoryStateUpdater, checkpointPolicy CheckpointPolicy, onFatal func(err error)) *Tracker {
	return &Tracker{
		updater:                  updater,
		memoryState:              memoryState,
		checkpoint:               checkpointPolicy,
		onFatal:                  onFatal,
		pending:                  list.New(),
		txnByFrame:               make(map[*frame.Args]uint64),
		highestCommittedFrameSeq: -1,
	}
}

// AddPending pushes op onto the tail of the pending queue, then
// opportunistically auto-completes any leading run of non-serializable
// operations.
func (t *Tracker) AddPending(op *operation.Pending) {
	t.pending.PushBack(op)
	t.AutoCompletePrefix()
}

// AutoCompletePrefix completes, in order, every operation at the head of
// the pending queue that produces no frame entry: such an operation will
// never receive a commit acknowledgment, so it is complete the instant
// every operation admitted before it is.
func (t *Tracker) AutoCompletePrefix() {
	for e := t.pending.Front(); e != nil; e = t.pending.Front() {
		p := e.Value.(*operation.Pending)
		if p.Op.CanSerialize() {
			return
		}
		t.pending.Remove(e)
		p.Complete(p.Op.SequenceNumber())
	}
}

// Checkpoint is the frame builder's synchronous checkpoint callback: it
// seals the updater's current transaction and records which transaction
// this frame's operations landed in.
func (t *Tracker) Checkpoint(args *frame.Args) {
	txnID := t.updater.SealTransaction()
	t.txnByFrame[args] = txnID
}

// Commit is the frame builder's commit callback, fired once the frame
// identified by args is durable.
func (t *Tracker) Commit(args *frame.Args) {
	t.updater.RecordTruncationMarker(args.LastStartedSequenceNumber, toContainerAddress(args.LogAddress))

	seq := int64(args.LogAddress.Sequence)
	if seq <= t.highestCommittedFrameSeq {
		// Late or duplicate acknowledgment: still account for the bytes,
		// but metadata and operation futures were already resolved by an
		// earlier, newer commit.
		t.checkpoint.RecordCommit(args.Length)
		return
	}

	txnID, ok := t.txnByFrame[args]
	if !ok {
		t.Fail(fmt.Errorf("%w: commit for unrecognized frame", opserrors.DataCorruption), args)
		return
	}
	delete(t.txnByFrame, args)
	for frameArgs, id := range t.txnByFrame {
		if id <= txnID {
			delete(t.txnByFrame, frameArgs)
		}
	}

	if err := t.updater.Commit(txnID); err != nil {
		t.Fail(err, args)
		return
	}

	for e := t.pending.Front(); e != nil; e = t.pending.Front() {
		p := e.Value.(*operation.Pending)
		if p.Op.SequenceNumber() > args.LastFullySerializedSequenceNumber {
			break
		}
		t.pending.Remove(e)
		if err := t.memoryState.Process(p.Op); err != nil {
			p.Fail(err)
			t.Fail(err, args)
			return
		}
		p.Complete(p.Op.SequenceNumber())
	}

	t.memoryState.Flush()
	t.checkpoint.RecordCommit(args.Length)
	t.highestCommittedFrameSeq = seq

	t.AutoCompletePrefix()
}

// Fail is the frame builder's fail callback, fired when a frame's write
// to the durable log failed, or invoked directly by Commit when a
// downstream step fails. args may be nil if the failure precedes any
// frame (e.g. a builder rebuild failure with nothing yet checkpointed).
func (t *Tracker) Fail(err error, args *frame.Args) {
	fromID := t.updater.CurrentTransactionID()
	if args != nil {
		if id, ok := t.txnByFrame[args]; ok {
			fromID = id
			delete(t.txnByFrame, args)
		}
	}
	for frameArgs, id := range t.txnByFrame {
		if id >= fromID {
			delete(t.txnByFrame, frameArgs)
		}
	}

	fatalErr := err
	fatal := opserrors.IsFatal(err)
	if rollbackErr := t.updater.Rollback(fromID); rollbackErr != nil {
		// Rollback itself failing means base metadata can no longer be
		// trusted to reflect fromID's predecessor state, regardless of
		// whether the triggering error was fatal on its own.
		fatal = true
		fatalErr = fmt.Errorf("%w (while handling: %v)", rollbackErr, err)
	}

	for e := t.pending.Back(); e != nil; e = t.pending.Back() {
		p := e.Value.(*operation.Pending)
		t.pending.Remove(e)
		p.Fail(err)
	}

	if fatal && !t.fatalInvoked {
		t.fatalInvoked = true
		if t.onFatal != nil {
			t.onFatal(fatalErr)
		}
	}

	t.AutoCompletePrefix()
}

func toContainerAddress(addr durablelog.LogAddress) containermetadata.LogAddress {
	return containermetadata.LogAddress{Sequence: addr.Sequence, Physical: addr.Physical}
}
