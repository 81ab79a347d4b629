// Package durablelog defines the append-only, monotonically addressed log
// the frame builder writes sealed data frames to, plus two implementations:
// MemoryLog, an in-process fake for tests, and FileLog, a block-aligned
// O_DIRECT file log for real use.
package durablelog

import "fmt"

// LogAddress identifies a durably written frame: a strictly increasing
// sequence number plus an opaque physical location meaningful only to the
// DurableLog implementation that produced it.
type LogAddress struct {
	Sequence uint64
	Physical []byte
}

func (a LogAddress) String() string {
	return fmt.Sprintf("LogAddress{seq=%d, physical=%d bytes}", a.Sequence, len(a.Physical))
}

// DurableLog is the frame builder's only persistence dependency. Append
// hands off data and returns immediately; the result is reported
// asynchronously through done, which may run on an arbitrary goroutine and
// must not block. Completions are not guaranteed to arrive in the order
// Append was called; callers that need ordering must resequence
// completions themselves (the frame builder does so by the order in which
// it dispatched its writes).
//
// Append fails (via done) with opserrors.IoError for a transient write
// failure, or opserrors.NotPrimary if another writer has taken ownership of
// the log.
type DurableLog interface {
	Append(data []byte, done func(LogAddress, error))
	Close() error
}
