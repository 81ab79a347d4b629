// Package processor implements the Processor Loop: the single-consumer
// loop that drains the intake queue, drives the frame builder, and
// orchestrates the metadata updater and commit tracker.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"segmentstore/internal/checkpoint"
	"segmentstore/internal/containermetadata"
	"segmentstore/internal/durablelog"
	"segmentstore/internal/frame"
	"segmentstore/internal/memorystate"
	"segmentstore/internal/queue"
	"segmentstore/internal/tracker"
	"segmentstore/internal/txnupdater"
	"segmentstore/pkg/batch"
	"segmentstore/pkg/operation"
	"segmentstore/pkg/opserrors"
)

// State is the Processor's lifecycle state.
type State int

const (
	StateRunning State = iota
	StateStopping
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Processor is the Processor Loop. New returns it in the Running state
// once Start is called; producers call Process concurrently from any
// goroutine.
type Processor struct {
	cfg Config
	log durablelog.DurableLog

	q          *queue.Queue
	updater    *txnupdater.Updater
	tracker    *tracker.Tracker
	checkpoint *checkpoint.Policy

	// stateLock guards both the metadata updater and the tracker, per the
	// single shared-lock design: it is held during pre_process/next_seq/
	// accept in the loop, and during checkpoint/commit/rollback inside
	// the builder's resequenced callbacks.
	stateLock sync.Mutex

	builderMu sync.Mutex
	builder   *frame.Builder

	stateMu sync.Mutex
	state   State
	failErr error

	ctx        context.Context
	cancel     context.CancelFunc
	loopDone   chan struct{}
	terminated chan struct{}
}

// New wires a Processor over log (the durable log), meta (the base
// container metadata) and memoryState (the read index), applying opts
// over DefaultConfig.
func New(log durablelog.DurableLog, meta *containermetadata.Metadata, memoryState *memorystate.Updater, opts ...Option) *Processor {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &Processor{
		cfg:        cfg,
		log:        log,
		q:          queue.New(),
		updater:    txnupdater.New(meta),
		loopDone:   make(chan struct{}),
		terminated: make(chan struct{}),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	checkpointOpts := []checkpoint.Option{checkpoint.WithThresholdBytes(int(cfg.FrameCapacity) * 4)}
	if cfg.CheckpointDir != "" {
		if w, err := checkpoint.NewSnapshotWriter(cfg.CheckpointDir); err != nil {
			cfg.Logger.Warn("checkpoint snapshots disabled: could not create snapshot writer", slog.Any("err", err))
		} else {
			checkpointOpts = append(checkpointOpts, checkpoint.WithSnapshotWriter(w, p.updater.Base))
		}
	}
	p.checkpoint = checkpoint.New(p, checkpointOpts...)

	p.tracker = tracker.New(p.updater, memoryState, p.checkpoint, p.onFatal)
	return p
}

// Process is the module's only public producer API: it admits op and
// returns a future resolving to its assigned sequence number, or an
// error if the processor is no longer accepting work.
func (p *Processor) Process(op operation.Operation) (*operation.Future, error) {
	pending := operation.NewPending(op)
	if err := p.q.Add(pending); err != nil {
		return nil, err
	}
	return pending.Future(), nil
}

// Start transitions the processor to Running and spawns the loop
// goroutine. Must be called at most once.
func (p *Processor) Start() {
	p.stateMu.Lock()
	p.state = StateRunning
	p.stateMu.Unlock()
	p.cfg.Logger.Info("processor starting", slog.Uint64("maxConcurrentWrites", uint64(p.cfg.MaxConcurrentWrites)))
	go p.loop()
}

// State returns the processor's current lifecycle state and, if Failed,
// the error that caused it.
func (p *Processor) State() (State, error) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.state, p.failErr
}

// AwaitTerminated blocks until the processor has fully stopped (cleanly
// or due to a fatal error), or ctx is done.
func (p *Processor) AwaitTerminated(ctx context.Context) error {
	select {
	case <-p.terminated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the intake queue, fails whatever was left queued, waits for
// the loop to drain, and closes the frame builder (bounded by
// Config.ShutdownTimeout). Idempotent.
func (p *Processor) Stop() error {
	p.stateMu.Lock()
	if p.state == StateStopped || p.state == StateFailed {
		p.stateMu.Unlock()
		return nil
	}
	p.state = StateStopping
	p.stateMu.Unlock()

	remaining := p.q.Close()
	for _, r := range remaining {
		r.Fail(opserrors.Closed)
	}

	p.cancel()
	<-p.loopDone

	p.builderMu.Lock()
	b := p.builder
	p.builderMu.Unlock()
	if b != nil {
		done := make(chan struct{})
		go func() { _ = b.Close(); close(done) }()
		timeout, cancel := context.WithTimeout(context.Background(), p.cfg.ShutdownTimeout)
		defer cancel()
		select {
		case <-done:
		case <-timeout.Done():
			p.cfg.Logger.Warn("processor stop timed out waiting for builder to drain")
		}
	}

	p.stateMu.Lock()
	if p.state != StateFailed {
		p.state = StateStopped
	}
	p.stateMu.Unlock()
	close(p.terminated)
	return nil
}

func (p *Processor) onFatal(err error) {
	p.stateMu.Lock()
	if p.state != StateFailed {
		p.state = StateFailed
		p.failErr = err
	}
	p.stateMu.Unlock()
	p.cfg.Logger.Error("processor stopping on fatal error", slog.Any("err", err))
	p.cancel()
}

func (p *Processor) ensureBuilder() *frame.Builder {
	p.builderMu.Lock()
	defer p.builderMu.Unlock()
	if p.builder == nil || p.builder.FailureCause() != nil {
		p.builder = frame.New(p.log, p.cfg.FrameCapacity, p.cfg.MaxConcurrentWrites, frame.Callbacks{
			Checkpoint: func(args *frame.Args) {
				p.stateLock.Lock()
				defer p.stateLock.Unlock()
				p.tracker.Checkpoint(args)
			},
			Commit: func(args *frame.Args) {
				p.stateLock.Lock()
				defer p.stateLock.Unlock()
				p.tracker.Commit(args)
				p.cfg.Logger.Debug("frame committed", slog.Uint64("lastFullySerialized", args.LastFullySerializedSequenceNumber))
			},
			Fail: func(err error, args *frame.Args) {
				p.stateLock.Lock()
				defer p.stateLock.Unlock()
				p.tracker.Fail(err, args)
				p.cfg.Logger.Warn("frame write failed", slog.Any("err", err))
			},
		})
	}
	return p.builder
}

func (p *Processor) loop() {
	defer close(p.loopDone)
	for {
		items, err := p.q.Take(p.ctx, p.cfg.MaxReadAtOnce)
		if err != nil {
			return
		}
		if len(items) == 0 {
			if p.q.Closed() {
				return
			}
			continue
		}
		p.processBatch(batch.New(items))
		if p.ctx.Err() != nil {
			return
		}
	}
}

func (p *Processor) processBatch(b *batch.Batch) {
	for !b.Empty() {
		builder := p.ensureBuilder()

		var propagate error
		for !b.Empty() {
			op := b.PopFront()
			addPending, err := p.processOne(op, builder)
			if err != nil {
				propagate = err
				break
			}
			if addPending {
				p.stateLock.Lock()
				p.tracker.AddPending(op)
				p.stateLock.Unlock()
			}
		}

		if propagate != nil {
			p.stateLock.Lock()
			p.tracker.Fail(propagate, nil)
			p.stateLock.Unlock()

			if opserrors.IsFatal(propagate) {
				cancelIncomplete(b, propagate)
				return
			}
			// Non-fatal: loop back around, ensureBuilder rebuilds a fresh
			// builder since the old one is latched closed.
			continue
		}

		more := p.q.Poll(p.cfg.MaxReadAtOnce)
		b = batch.New(more)
		if b.Empty() {
			_ = builder.Flush()
		}
	}
}

func cancelIncomplete(b *batch.Batch, err error) {
	for !b.Empty() {
		b.PopFront().Fail(err)
	}
}

// processOne implements the spec's process_one: it returns whether op
// should be handed to the tracker's pending queue, and a non-nil error
// only when the failure must propagate out of process_batch (BuilderClosed
// or DataCorruption).
func (p *Processor) processOne(op *operation.Pending, builder *frame.Builder) (bool, error) {
	if !op.Op.CanSerialize() {
		return true, nil
	}

	p.stateLock.Lock()
	err := p.updater.PreProcess(op.Op)
	if err == nil {
		op.Op.SetSequenceNumber(p.updater.NextOperationSequenceNumber())
	}
	p.stateLock.Unlock()
	if err != nil {
		op.Fail(err)
		if errors.Is(err, opserrors.DataCorruption) {
			return false, err
		}
		return false, nil
	}

	if err := builder.Append(op.Op); err != nil {
		op.Fail(err)
		if errors.Is(err, opserrors.BuilderClosed) {
			return false, fmt.Errorf("%w: %v", opserrors.BuilderClosed, builder.FailureCause())
		}
		if errors.Is(err, opserrors.DataCorruption) {
			return false, err
		}
		return false, nil
	}

	p.stateLock.Lock()
	err = p.updater.Accept(op.Op)
	p.stateLock.Unlock()
	if err != nil {
		op.Fail(err)
		if errors.Is(err, opserrors.DataCorruption) {
			return false, err
		}
		return false, nil
	}

	return true, nil
}
