package tracker_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"segmentstore/internal/containermetadata"
	"segmentstore/internal/durablelog"
	"segmentstore/internal/frame"
	"segmentstore/internal/tracker"
	"segmentstore/pkg/operation"
	"segmentstore/pkg/opserrors"
)

type fakeUpdater struct {
	sealed      []uint64
	nextTxnID   uint64
	committed   []uint64
	rolledBack  []uint64
	markers     []uint64
	RollbackErr error
}

func (f *fakeUpdater) SealTransaction() uint64 {
	id := f.nextTxnID
	f.nextTxnID++
	f.sealed = append(f.sealed, id)
	return id
}
func (f *fakeUpdater) CurrentTransactionID() uint64 {
	return f.nextTxnID
}
func (f *fakeUpdater) Commit(upToID uint64) error {
	f.committed = append(f.committed, upToID)
	return nil
}
func (f *fakeUpdater) Rollback(fromID uint64) error {
	f.rolledBack = append(f.rolledBack, fromID)
	if f.RollbackErr != nil {
		return f.RollbackErr
	}
	return nil
}
func (f *fakeUpdater) RecordTruncationMarker(upToSeqNo uint64, addr containermetadata.LogAddress) {
	f.markers = append(f.markers, upToSeqNo)
}

type fakeMemState struct {
	processed []uint64
	flushes   int
	Fail      func(op operation.Operation) error
}

func (f *fakeMemState) Process(op operation.Operation) error {
	if f.Fail != nil {
		if err := f.Fail(op); err != nil {
			return err
		}
	}
	f.processed = append(f.processed, op.SequenceNumber())
	return nil
}
func (f *fakeMemState) Flush() { f.flushes++ }

type fakeCheckpointPolicy struct {
	bytes int
}

func (f *fakeCheckpointPolicy) RecordCommit(n int) { f.bytes += n }

func appendOp(seq uint64) *operation.Append {
	op := &operation.Append{SegmentName: "seg-1"}
	op.SetSequenceNumber(seq)
	return op
}

func TestAutoCompletePrefixSkipsNonSerializableOperations(t *testing.T) {
	u := &fakeUpdater{}
	ms := &fakeMemState{}
	cp := &fakeCheckpointPolicy{}
	tr := tracker.New(u, ms, cp, nil)

	probe := &operation.Probe{}
	probe.SetSequenceNumber(1)
	p := operation.NewPending(probe)
	tr.AddPending(p)

	seq, err := p.Future().Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), seq)
}

func TestCommitCompletesOperationsUpToLastFullySerialized(t *testing.T) {
	u := &fakeUpdater{}
	ms := &fakeMemState{}
	cp := &fakeCheckpointPolicy{}
	tr := tracker.New(u, ms, cp, nil)

	op1 := operation.NewPending(appendOp(1))
	op2 := operation.NewPending(appendOp(2))
	tr.AddPending(op1)
	tr.AddPending(op2)

	args := &frame.Args{LastStartedSequenceNumber: 2, LastFullySerializedSequenceNumber: 2, Length: 10, LogAddress: durablelog.LogAddress{Sequence: 1}}
	tr.Checkpoint(args)
	tr.Commit(args)

	seq1, err1 := op1.Future().Wait(context.Background())
	require.NoError(t, err1)
	require.Equal(t, uint64(1), seq1)

	seq2, err2 := op2.Future().Wait(context.Background())
	require.NoError(t, err2)
	require.Equal(t, uint64(2), seq2)

	require.Equal(t, []uint64{0}, u.committed)
	require.Equal(t, 1, ms.flushes)
	require.Equal(t, 10, cp.bytes)
}

func TestCommitIgnoresLateDuplicateAcknowledgment(t *testing.T) {
	u := &fakeUpdater{}
	ms := &fakeMemState{}
	cp := &fakeCheckpointPolicy{}
	tr := tracker.New(u, ms, cp, nil)

	args1 := &frame.Args{LastFullySerializedSequenceNumber: 1, Length: 5, LogAddress: durablelog.LogAddress{Sequence: 5}}
	tr.Checkpoint(args1)
	tr.Commit(args1)
	require.Equal(t, 1, len(u.committed))

	stale := &frame.Args{LastFullySerializedSequenceNumber: 1, Length: 3, LogAddress: durablelog.LogAddress{Sequence: 5}}
	tr.Commit(stale)
	require.Equal(t, 1, len(u.committed), "duplicate ack must not commit metadata again")
	require.Equal(t, 8, cp.bytes, "duplicate ack still accounts for bytes")
}

func TestFailRollsBackAndFailsAllPending(t *testing.T) {
	u := &fakeUpdater{}
	ms := &fakeMemState{}
	cp := &fakeCheckpointPolicy{}
	var fatalErr error
	tr := tracker.New(u, ms, cp, func(err error) { fatalErr = err })

	op1 := operation.NewPending(appendOp(1))
	tr.AddPending(op1)

	args := &frame.Args{LastStartedSequenceNumber: 1}
	tr.Checkpoint(args)
	tr.Fail(opserrors.DataCorruption, args)

	_, err := op1.Future().Wait(context.Background())
	require.ErrorIs(t, err, opserrors.DataCorruption)
	require.Equal(t, []uint64{0}, u.rolledBack)
	require.ErrorIs(t, fatalErr, opserrors.DataCorruption)
}

func TestFailWithNoFrameRollsBackCurrentOpenTransactionNotZero(t *testing.T) {
	u := &fakeUpdater{}
	ms := &fakeMemState{}
	cp := &fakeCheckpointPolicy{}
	tr := tracker.New(u, ms, cp, nil)

	args := &frame.Args{LastFullySerializedSequenceNumber: 1, Length: 5}
	tr.Checkpoint(args)
	tr.Commit(args)
	require.Equal(t, []uint64{0}, u.committed, "transaction 0 committed and dropped off the stack")

	tr.Fail(opserrors.DataCorruption, nil)
	require.Equal(t, []uint64{1}, u.rolledBack, "must roll back the currently open transaction, not the already-committed id 0")
}

func TestFailTreatsRollbackFailureAsFatalEvenForNonFatalCause(t *testing.T) {
	u := &fakeUpdater{RollbackErr: fmt.Errorf("%w: transaction not found", opserrors.DataCorruption)}
	ms := &fakeMemState{}
	cp := &fakeCheckpointPolicy{}
	var fatalErr error
	tr := tracker.New(u, ms, cp, func(err error) { fatalErr = err })

	// opserrors.IoError on its own is not fatal, but a Rollback failure
	// means base metadata can no longer be trusted either way.
	tr.Fail(opserrors.IoError, nil)

	require.Error(t, fatalErr)
	require.ErrorIs(t, fatalErr, opserrors.DataCorruption)
}

func TestFailInvokesFatalCallbackAtMostOnce(t *testing.T) {
	u := &fakeUpdater{}
	ms := &fakeMemState{}
	cp := &fakeCheckpointPolicy{}
	calls := 0
	tr := tracker.New(u, ms, cp, func(err error) { calls++ })

	tr.Fail(opserrors.NotPrimary, nil)
	tr.Fail(opserrors.NotPrimary, nil)
	require.Equal(t, 1, calls)
}
