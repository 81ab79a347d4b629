package frame

import (
	"github.com/cespare/xxhash/v2"

	"segmentstore/internal/arena"
)

// dataFrame is a fixed-capacity byte container aggregating one or more
// serialized operations for a single append to the durable log. Its
// backing storage is one arena.Arena checked out for the frame's entire
// lifetime: filled while the frame is in progress, read once while sealed
// and in flight to the durable log, then closed.
type dataFrame struct {
	arena *arena.Arena
	buf   []byte
	used  uint

	LastStartedSequenceNumber         uint64
	LastFullySerializedSequenceNumber uint64
}

// arenaOverhead covers the arena's reserved nil-offset (position starts at
// 1, not 0) plus the small alignment slack Arena.Allocate leaves; a plain
// arena.New(capacity) allocation of exactly capacity bytes always reports
// ErrArenaFull because of that reserved offset, so the backing arena must
// be sized a little larger than the frame it holds.
const arenaOverhead = 16

func newDataFrame(capacity uint) (*dataFrame, error) {
	a := arena.New(capacity + arenaOverhead)
	offset, err := a.Allocate(capacity, 1)
	if err != nil {
		a.Close()
		return nil, err
	}
	return &dataFrame{arena: a, buf: a.GetBytes(offset, capacity)}, nil
}

// Remaining reports how many unwritten bytes are left in the frame.
func (f *dataFrame) Remaining() uint {
	return uint(len(f.buf)) - f.used
}

// Write copies as much of p as fits and returns the number of bytes
// consumed. Callers must keep calling Write (after sealing and starting a
// fresh frame) until all of p has been consumed.
func (f *dataFrame) Write(p []byte) int {
	n := copy(f.buf[f.used:], p)
	f.used += uint(n)
	return n
}

// Bytes returns the frame's sealed content. Only meaningful once no more
// writes will occur.
func (f *dataFrame) Bytes() []byte {
	return f.buf[:f.used]
}

// Len returns the number of content bytes written so far.
func (f *dataFrame) Len() uint {
	return f.used
}

// Checksum returns a content hash of the frame's sealed bytes, a
// content-addressed sanity check written alongside the frame the way
// length-prefixed wire protocols commonly attach one.
func (f *dataFrame) Checksum() uint64 {
	return xxhash.Sum64(f.Bytes())
}

func (f *dataFrame) Close() {
	_ = f.arena.Close()
}
