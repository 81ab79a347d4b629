// Package checkpoint implements the MetadataCheckpointPolicy and the
// point-in-time snapshot writer it triggers: together they bound how much
// of the durable log must be replayed to reconstruct container metadata,
// by periodically emitting a checkpoint operation once enough bytes have
// been durably written since the last one.
package checkpoint

import (
	"sync"

	"segmentstore/internal/containermetadata"
	"segmentstore/pkg/operation"
)

// defaultThresholdBytes is how many durably-committed bytes accumulate
// before a checkpoint operation is synthesized, absent an explicit
// Option.
const defaultThresholdBytes = 4 << 20 // 4 MiB

// Submitter accepts a synthesized checkpoint operation back into the
// processor, the same path any producer's operation takes. Satisfied by
// pkg/processor.Processor.Process, boiled down to its shape so this
// package does not import the processor (which will in turn import this
// package).
type Submitter interface {
	Process(op operation.Operation) (*operation.Future, error)
}

// Policy is the MetadataCheckpointPolicy: RecordCommit accumulates bytes
// and, once the threshold is crossed, submits a *operation.Checkpoint
// back through Submitter. Safe for concurrent use; multiple frames can
// commit concurrently from the builder's resequenced callback delivery
// in principle, though the tracker currently only calls RecordCommit
// under its own single state lock.
type Policy struct {
	mu        sync.Mutex
	threshold int
	since     int
	submit    Submitter

	snapshotWriter *SnapshotWriter
	metaSource     func() *containermetadata.Metadata
}

// Option configures a Policy at construction time.
type Option func(*Policy)

// WithThresholdBytes overrides the default 4 MiB checkpoint threshold.
func WithThresholdBytes(n int) Option {
	return func(p *Policy) { p.threshold = n }
}

// WithSnapshotWriter arranges for every threshold crossing to also trigger
// a point-in-time metadata snapshot through w, in addition to the
// synthesized checkpoint operation. source is consulted at fire time
// (while the caller, internal/tracker, still holds the processor's shared
// state lock) to take a consistent copy before the slower disk write is
// handed off to a goroutine.
func WithSnapshotWriter(w *SnapshotWriter, source func() *containermetadata.Metadata) Option {
	return func(p *Policy) {
		p.snapshotWriter = w
		p.metaSource = source
	}
}

// New returns a Policy that submits checkpoint operations through submit.
func New(submit Submitter, opts ...Option) *Policy {
	p := &Policy{threshold: defaultThresholdBytes, submit: submit}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RecordCommit accounts for n more durably-written bytes. Once the
// accumulated total since the last checkpoint reaches the threshold, it
// resets the counter, submits a fresh checkpoint operation, and (if a
// SnapshotWriter was configured) writes a point-in-time metadata snapshot
// to disk off the caller's goroutine. Submission failure (e.g. the
// processor has since stopped) is swallowed: a missed checkpoint only
// costs replay time on restart, it does not corrupt anything.
func (p *Policy) RecordCommit(n int) {
	p.mu.Lock()
	p.since += n
	fire := p.since >= p.threshold
	if fire {
		p.since = 0
	}
	p.mu.Unlock()

	if !fire {
		return
	}

	_, _ = p.submit.Process(&operation.Checkpoint{})

	if p.snapshotWriter != nil && p.metaSource != nil {
		snap := p.metaSource().Snapshot()
		go func() {
			_, _ = p.snapshotWriter.Write(snap)
		}()
	}
}

// Pending returns the number of bytes accumulated since the last
// checkpoint, for tests and diagnostics.
func (p *Policy) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.since
}
