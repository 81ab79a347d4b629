package durablelog

import (
	"sync"

	"segmentstore/internal/base"
	"segmentstore/pkg/opserrors"
)

// MemoryLog is an in-process DurableLog backed by a plain slice, intended
// for unit tests that exercise the frame builder and commit tracker without
// touching disk. Completions are dispatched on their own goroutine so tests
// can observe the same out-of-order-callback behavior a real log exhibits.
type MemoryLog struct {
	mu      sync.Mutex
	frames  [][]byte
	nextSeq base.AtomicSeqNum

	// Fail, if set, is consulted before each Append is recorded. It
	// receives the sequence number that would be assigned and returns a
	// non-nil error to fail that specific write instead of recording it.
	// Tests use it to simulate opserrors.IoError/NotPrimary from the
	// durable log without needing a real failing disk.
	Fail func(seq uint64) error

	closed bool
}

// NewMemoryLog returns an empty MemoryLog. Sequence numbers start at 1.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (m *MemoryLog) Append(data []byte, done func(LogAddress, error)) {
	seq := uint64(m.nextSeq.Add(1))

	m.mu.Lock()
	closed := m.closed
	var failErr error
	if m.Fail != nil {
		failErr = m.Fail(seq)
	}
	if !closed && failErr == nil {
		m.frames = append(m.frames, data)
	}
	m.mu.Unlock()

	go func() {
		if closed {
			done(LogAddress{}, opserrors.Closed)
			return
		}
		if failErr != nil {
			done(LogAddress{}, failErr)
			return
		}
		done(LogAddress{Sequence: seq, Physical: []byte(nil)}, nil)
	}()
}

func (m *MemoryLog) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Frames returns a copy of the data recorded so far, in append order. It is
// a test helper, not part of the DurableLog contract.
func (m *MemoryLog) Frames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.frames))
	copy(out, m.frames)
	return out
}

var _ DurableLog = (*MemoryLog)(nil)
