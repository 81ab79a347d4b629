// Package opserrors defines the sentinel errors exchanged between the
// intake queue, metadata updater, frame builder, commit tracker, and
// processor loop, plus the fatal/non-fatal classification that drives
// shutdown behavior.
package opserrors

import "errors"

var (
	// BadOperation is a logical rejection raised by the metadata updater's
	// pre-process step (e.g. append to a sealed segment). Fails the single
	// operation; the processor continues.
	BadOperation = errors.New("opserrors: bad operation")

	// BuilderClosed means the frame builder has already latched a prior
	// failure. The current operation fails; the loop rebuilds the builder
	// on its next iteration.
	BuilderClosed = errors.New("opserrors: builder closed")

	// IoError is a transient durable-log failure. All currently pending
	// operations are failed; the processor continues with a fresh builder.
	IoError = errors.New("opserrors: durable log io error")

	// NotPrimary is fatal: another writer has taken ownership of the
	// durable log and this processor must stop.
	NotPrimary = errors.New("opserrors: not primary")

	// DataCorruption is fatal: an in-memory or on-disk invariant was
	// violated. The processor stops to preserve evidence rather than risk
	// compounding the damage.
	DataCorruption = errors.New("opserrors: data corruption")

	// Closed is returned to operations that arrive, or are still
	// in-flight, once shutdown has begun.
	Closed = errors.New("opserrors: closed")
)

// IsFatal reports whether err (or anything it wraps) is one of the two
// errors that must stop the processor: DataCorruption or NotPrimary.
func IsFatal(err error) bool {
	return errors.Is(err, DataCorruption) || errors.Is(err, NotPrimary)
}
