package frame_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"segmentstore/internal/durablelog"
	"segmentstore/internal/frame"
	"segmentstore/pkg/operation"
	"segmentstore/pkg/opserrors"
)

func appendOp(segment string, seq uint64, data []byte) *operation.Append {
	op := &operation.Append{SegmentName: segment, Data: data}
	op.SetSequenceNumber(seq)
	return op
}

func TestAppendFitsInSingleFrameCommitsOnce(t *testing.T) {
	log := durablelog.NewMemoryLog()
	defer log.Close()

	var mu sync.Mutex
	var commits []*frame.Args
	b := frame.New(log, 4096, 1, frame.Callbacks{
		Commit: func(args *frame.Args) {
			mu.Lock()
			defer mu.Unlock()
			commits = append(commits, args)
		},
	})

	op := appendOp("seg-1", 1, []byte("hello world"))
	require.NoError(t, b.Append(op))
	require.NoError(t, b.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, commits, 1)
	require.Equal(t, uint64(1), commits[0].LastStartedSequenceNumber)
	require.True(t, commits[0].HasLogAddress)
}

// TestOperationSpanningTwoFrames reproduces the scenario where a single
// operation's bytes straddle a frame boundary: both frames must report the
// same LastStartedSequenceNumber (the op's own sequence number, even though
// the op has not finished serializing as of the first frame's seal), while
// only the second frame's LastFullySerializedSequenceNumber advances past
// the previous operation.
func TestOperationSpanningTwoFrames(t *testing.T) {
	log := durablelog.NewMemoryLog()
	defer log.Close()

	var mu sync.Mutex
	var commits []*frame.Args
	// op #1 serializes to 40 bytes and op #2 to 56: with a 64-byte capacity
	// op #1 fits in frame 1, but op #2 cannot fit in the 24 bytes left
	// after it, forcing it to span into frame 2.
	b := frame.New(log, 64, 1, frame.Callbacks{
		Commit: func(args *frame.Args) {
			mu.Lock()
			defer mu.Unlock()
			commits = append(commits, args)
		},
	})

	op1 := appendOp("seg-1", 1, []byte("0123456789"))
	require.NoError(t, b.Append(op1))

	op2 := appendOp("seg-1", 2, []byte("abcdefghijklmnopqrstuvwxyz"))
	require.NoError(t, b.Append(op2))
	require.NoError(t, b.Close())

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(commits), 2)
	for _, c := range commits[:len(commits)-1] {
		require.Equal(t, uint64(2), c.LastStartedSequenceNumber)
	}
	last := commits[len(commits)-1]
	require.Equal(t, uint64(2), last.LastStartedSequenceNumber)
	require.Equal(t, uint64(2), last.LastFullySerializedSequenceNumber)
}

// TestOperationExactlyFillsFrameMarksItFullySerialized reproduces the
// boundary case where an operation's last byte exactly consumes a frame's
// remaining capacity: the sealed frame must report
// LastFullySerializedSequenceNumber == LastStartedSequenceNumber == the
// op's own seq, not the previous op's, since the op is complete as of this
// seal and nothing later will ever carry its seq forward.
func TestOperationExactlyFillsFrameMarksItFullySerialized(t *testing.T) {
	log := durablelog.NewMemoryLog()
	defer log.Close()

	op := appendOp("seg-1", 1, []byte("hello"))
	data, err := op.Serialize()
	require.NoError(t, err)

	var mu sync.Mutex
	var commits []*frame.Args
	b := frame.New(log, uint(len(data)), 1, frame.Callbacks{
		Commit: func(args *frame.Args) {
			mu.Lock()
			defer mu.Unlock()
			commits = append(commits, args)
		},
	})

	require.NoError(t, b.Append(op))
	require.NoError(t, b.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, commits, 1)
	require.Equal(t, uint64(1), commits[0].LastStartedSequenceNumber)
	require.Equal(t, uint64(1), commits[0].LastFullySerializedSequenceNumber,
		"an op whose bytes exactly fill the frame must be reported as fully serialized in that same frame")
}

func TestOutOfOrderLogCompletionsDeliverInDispatchOrder(t *testing.T) {
	log := durablelog.NewMemoryLog()
	defer log.Close()

	// Delay the first write inside the log. The Fail hook runs synchronously
	// within MemoryLog.Append, so this holds up the first dispatch itself;
	// completions still run on their own goroutines, so the order in which
	// they finish is left to the scheduler.
	first := true
	var once sync.Once
	log.Fail = func(seq uint64) error {
		once.Do(func() {
			if first {
				time.Sleep(20 * time.Millisecond)
			}
		})
		first = false
		return nil
	}

	var mu sync.Mutex
	var order []uint64
	b := frame.New(log, 8, 4, frame.Callbacks{
		Commit: func(args *frame.Args) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, args.LastStartedSequenceNumber)
		},
	})

	for i := uint64(1); i <= 4; i++ {
		require.NoError(t, b.Append(appendOp("seg-1", i, []byte("12345678"))))
	}
	require.NoError(t, b.Close())

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(order); i++ {
		require.LessOrEqual(t, order[i-1], order[i], "commit callbacks must arrive in non-decreasing dispatch order")
	}
}

func TestWriteFailureLatchesBuilderClosed(t *testing.T) {
	log := durablelog.NewMemoryLog()
	defer log.Close()
	log.Fail = func(seq uint64) error { return opserrors.IoError }

	var failed bool
	b := frame.New(log, 4096, 1, frame.Callbacks{
		Fail: func(err error, args *frame.Args) { failed = true },
	})

	require.NoError(t, b.Append(appendOp("seg-1", 1, []byte("x"))))
	require.NoError(t, b.Flush())
	require.Eventually(t, func() bool { return failed }, time.Second, time.Millisecond)

	err := b.Append(appendOp("seg-1", 2, []byte("y")))
	require.Error(t, err)
}

func TestBoundedConcurrencyNeverExceedsMax(t *testing.T) {
	log := durablelog.NewMemoryLog()
	defer log.Close()

	const maxConcurrent = 2
	var mu sync.Mutex
	var inFlight, maxSeen int
	log.Fail = func(seq uint64) error {
		mu.Lock()
		inFlight++
		if inFlight > maxSeen {
			maxSeen = inFlight
		}
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}

	b := frame.New(log, 8, maxConcurrent, frame.Callbacks{})
	for i := uint64(1); i <= 10; i++ {
		require.NoError(t, b.Append(appendOp("seg-1", i, []byte("12345678"))))
	}
	require.NoError(t, b.Close())

	mu.Lock()
	defer mu.Unlock()
	require.LessOrEqual(t, maxSeen, maxConcurrent)
}
