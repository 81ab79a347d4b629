package operation_test

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"segmentstore/pkg/operation"
)

func TestAppendSerializeRoundTripsKindAndSeqNo(t *testing.T) {
	op := &operation.Append{SegmentName: "seg-1", Data: []byte("hello"), Offset: 10}
	require.True(t, op.CanSerialize())
	op.SetSequenceNumber(42)

	buf, err := op.Serialize()
	require.NoError(t, err)
	require.Equal(t, byte(operation.KindAppend), buf[0])
	require.Equal(t, uint64(42), binary.BigEndian.Uint64(buf[1:9]))
}

func TestProbeCannotSerialize(t *testing.T) {
	op := &operation.Probe{}
	require.False(t, op.CanSerialize())
	_, err := op.Serialize()
	require.Error(t, err)
}

func TestPendingCompleteResolvesFutureOnce(t *testing.T) {
	p := operation.NewPending(&operation.Probe{})
	f := p.Future()

	p.Complete(7)
	p.Complete(8) // second call must be a no-op

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	seq, err := f.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(7), seq)
}

func TestPendingFailResolvesFutureWithError(t *testing.T) {
	p := operation.NewPending(&operation.Append{})
	f := p.Future()

	boom := context.Canceled
	p.Fail(boom)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := f.Wait(ctx)
	require.ErrorIs(t, err, boom)
}

func TestFutureWaitRespectsContextCancellation(t *testing.T) {
	p := operation.NewPending(&operation.Probe{})
	f := p.Future()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
