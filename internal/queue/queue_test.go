package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"segmentstore/internal/queue"
	"segmentstore/pkg/operation"
	"segmentstore/pkg/opserrors"
)

func pendingProbe(seq uint64) *operation.Pending {
	op := &operation.Probe{}
	op.SetSequenceNumber(seq)
	return operation.NewPending(op)
}

func TestTakeBlocksUntilItemAvailable(t *testing.T) {
	q := queue.New()

	var got []*operation.Pending
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		batch, err := q.Take(context.Background(), 10)
		require.NoError(t, err)
		got = batch
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, q.Add(pendingProbe(1)))
	wg.Wait()

	require.Len(t, got, 1)
}

func TestTakeRespectsMaxAndFIFOOrder(t *testing.T) {
	q := queue.New()
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, q.Add(pendingProbe(i)))
	}

	batch, err := q.Take(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	require.Equal(t, uint64(1), batch[0].Op.SequenceNumber())
	require.Equal(t, uint64(3), batch[2].Op.SequenceNumber())

	rest := q.Poll(10)
	require.Len(t, rest, 2)
}

func TestPollReturnsEmptyWhenNothingQueued(t *testing.T) {
	q := queue.New()
	require.Empty(t, q.Poll(10))
}

func TestCloseFailsFutureAddsAndReturnsRemainder(t *testing.T) {
	q := queue.New()
	require.NoError(t, q.Add(pendingProbe(1)))

	remaining := q.Close()
	require.Len(t, remaining, 1)

	err := q.Add(pendingProbe(2))
	require.ErrorIs(t, err, opserrors.Closed)

	again := q.Close()
	require.Empty(t, again, "close is idempotent")
}

func TestTakeWakesOnClose(t *testing.T) {
	q := queue.New()

	done := make(chan error, 1)
	go func() {
		_, err := q.Take(context.Background(), 10)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Take did not wake on Close")
	}
}

func TestTakeRespectsContextCancellation(t *testing.T) {
	q := queue.New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := q.Take(ctx, 10)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Take did not wake on context cancellation")
	}
}
