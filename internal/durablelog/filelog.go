package durablelog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"

	"segmentstore/internal/base"
	"segmentstore/pkg/opserrors"
)

const lockFileName = "durablelog.lock"

// FileLog is a real DurableLog backed by a single append-only, O_DIRECT
// file. Writes are serialized (append order on disk must match the order
// physical offsets are handed out) but completions are reported
// asynchronously, same as MemoryLog, so callers never rely on FileLog
// itself for frame resequencing.
//
// An exclusive, non-blocking flock on a sibling lock file stands in for
// leader election: only the process holding the lock may append. A second
// OpenFileLog on the same directory fails with opserrors.NotPrimary while
// the lock is held. Once the lock is marked lost (SimulateLostPrimary),
// further writes fail with opserrors.NotPrimary; Append does not re-check
// the flock itself.
type FileLog struct {
	mu        sync.Mutex
	writer    *blockWriter
	lockFile  *os.File
	nextSeq   base.AtomicSeqNum
	nextBlock uint64
	lost      atomic.Bool
	closed    atomic.Bool
}

// OpenFileLog opens (creating if absent) a durable log rooted at dir,
// acquiring the directory's exclusive lock. It returns opserrors.NotPrimary
// if another process already holds the lock.
func OpenFileLog(dir string) (*FileLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create durable log directory: %w", err)
	}

	lockFile, err := os.OpenFile(filepath.Join(dir, lockFileName), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open durable log lock file: %w", err)
	}
	if err = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = lockFile.Close()
		return nil, fmt.Errorf("%w: durable log directory already held by another writer", opserrors.NotPrimary)
	}

	w, err := newBlockWriter(filepath.Join(dir, "log.data"), os.O_CREATE|os.O_RDWR|os.O_APPEND)
	if err != nil {
		_ = lockFile.Close()
		return nil, fmt.Errorf("open durable log data file: %w", err)
	}

	return &FileLog{writer: w, lockFile: lockFile}, nil
}

// SimulateLostPrimary marks the log as having lost its exclusive claim on
// the directory, without requiring a second OS process. Used by tests that
// exercise the NotPrimary fatal path.
func (f *FileLog) SimulateLostPrimary() {
	f.lost.Store(true)
}

func (f *FileLog) Append(data []byte, done func(LogAddress, error)) {
	if f.closed.Load() {
		go done(LogAddress{}, opserrors.Closed)
		return
	}
	if f.lost.Load() {
		go done(LogAddress{}, fmt.Errorf("%w: lost exclusive lock on durable log directory", opserrors.NotPrimary))
		return
	}

	seq := uint64(f.nextSeq.Add(1))

	f.mu.Lock()
	startBlock := f.nextBlock
	blocks, err := f.writer.Write(data)
	if err == nil {
		f.nextBlock += uint64(blocks)
	}
	f.mu.Unlock()

	go func() {
		if err != nil {
			done(LogAddress{}, fmt.Errorf("%w: %v", opserrors.IoError, err))
			return
		}
		physical := make([]byte, 8)
		for i := 0; i < 8; i++ {
			physical[i] = byte(startBlock >> (8 * i))
		}
		done(LogAddress{Sequence: seq, Physical: physical}, nil)
	}()
}

func (f *FileLog) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	writerErr := f.writer.Close()
	_ = syscall.Flock(int(f.lockFile.Fd()), syscall.LOCK_UN)
	lockErr := f.lockFile.Close()

	if writerErr != nil {
		return fmt.Errorf("close durable log writer: %w", writerErr)
	}
	if lockErr != nil {
		return fmt.Errorf("close durable log lock file: %w", lockErr)
	}
	return nil
}

var _ DurableLog = (*FileLog)(nil)
