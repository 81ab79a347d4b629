package frame

import "segmentstore/internal/durablelog"

// Args describes one sealed data frame as it moves through the builder's
// callbacks. The same pointer is passed to Checkpoint (before the write is
// dispatched, with no LogAddress yet) and later to Commit or Fail (after
// the durable log resolves the write) — callers that key a map on frame
// identity (internal/tracker's txn_by_frame) use this pointer itself as
// the key, matching how the teacher's code treats identity-keyed maps
// elsewhere (internal/db's pointer-keyed tracking of open directories).
type Args struct {
	LastStartedSequenceNumber         uint64
	LastFullySerializedSequenceNumber uint64
	Length                            int
	Checksum                          uint64

	LogAddress    durablelog.LogAddress
	HasLogAddress bool
}

// Callbacks are invoked by the Builder as each frame progresses from
// checkpoint through commit or fail. Checkpoint is always called
// synchronously from the goroutine calling Append/Flush; Commit and Fail
// are called from the durable log's completion context, resequenced into
// strictly increasing dispatch order.
type Callbacks struct {
	Checkpoint func(args *Args)
	Commit     func(args *Args)
	Fail       func(err error, args *Args)
}
