// Package segmentstore is the module's public facade: Open wires the
// default in-memory/on-disk collaborators (durable log, container
// metadata, memory-state index) into a running Processor with one call,
// the way the teacher's own top-level package wired its storage engine's
// collaborators behind a single Open/DB entry point.
package segmentstore

import (
	"fmt"
	"path/filepath"

	"github.com/hashicorp/go-multierror"

	"segmentstore/internal/containermetadata"
	"segmentstore/internal/durablelog"
	"segmentstore/internal/memorystate"
	"segmentstore/pkg/operation"
	"segmentstore/pkg/processor"
)

// Store is the running Operation Processor plus the collaborators Open
// created for it. Close stops the processor and releases the durable log.
type Store struct {
	*processor.Processor
	log durablelog.DurableLog
}

// Options configures Open.
type Options struct {
	// Directory, if non-empty, selects a real on-disk FileLog rooted
	// there. Empty uses an in-process MemoryLog, suitable for tests and
	// ephemeral use.
	Directory string
	// ProcessorOptions are forwarded to processor.New.
	ProcessorOptions []processor.Option
}

// Open constructs and starts a Store. With opts.Directory set, it takes
// an exclusive lock on that directory (opserrors.NotPrimary if another
// process already holds it); otherwise it runs entirely in memory.
func Open(opts Options) (*Store, error) {
	var log durablelog.DurableLog
	processorOpts := opts.ProcessorOptions
	if opts.Directory != "" {
		fl, err := durablelog.OpenFileLog(opts.Directory)
		if err != nil {
			return nil, fmt.Errorf("segmentstore: open durable log: %w", err)
		}
		log = fl
		processorOpts = append(processorOpts, processor.WithCheckpointDir(filepath.Join(opts.Directory, "checkpoints")))
	} else {
		log = durablelog.NewMemoryLog()
	}

	meta := containermetadata.New()
	memState := memorystate.New()

	p := processor.New(log, meta, memState, processorOpts...)
	p.Start()

	return &Store{Processor: p, log: log}, nil
}

// Close stops the processor (draining in-flight writes, per
// Config.ShutdownTimeout) and closes the durable log. Both are attempted
// even if the first fails, and their errors (if any) are aggregated
// rather than the second being swallowed.
func (s *Store) Close() error {
	var result *multierror.Error
	if err := s.Processor.Stop(); err != nil {
		result = multierror.Append(result, fmt.Errorf("stop processor: %w", err))
	}
	if err := s.log.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close durable log: %w", err))
	}
	return result.ErrorOrNil()
}

// CreateSegment is a convenience wrapper around Process(&operation.Map{...}).
func (s *Store) CreateSegment(name string) (*operation.Future, error) {
	return s.Process(&operation.Map{SegmentName: name})
}

// Append is a convenience wrapper around Process(&operation.Append{...}).
func (s *Store) Append(segmentName string, data []byte) (*operation.Future, error) {
	return s.Process(&operation.Append{SegmentName: segmentName, Data: data})
}

// SealSegment is a convenience wrapper around Process(&operation.Seal{...}).
func (s *Store) SealSegment(name string) (*operation.Future, error) {
	return s.Process(&operation.Seal{SegmentName: name})
}
