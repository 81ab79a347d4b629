package checkpoint_test

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"segmentstore/internal/checkpoint"
	"segmentstore/internal/containermetadata"
	"segmentstore/pkg/operation"
)

type fakeSubmitter struct {
	submitted []operation.Operation
}

func (f *fakeSubmitter) Process(op operation.Operation) (*operation.Future, error) {
	f.submitted = append(f.submitted, op)
	p := operation.NewPending(op)
	p.Complete(0)
	return p.Future(), nil
}

func TestRecordCommitFiresCheckpointAtThreshold(t *testing.T) {
	sub := &fakeSubmitter{}
	p := checkpoint.New(sub, checkpoint.WithThresholdBytes(100))

	p.RecordCommit(40)
	require.Empty(t, sub.submitted)

	p.RecordCommit(40)
	require.Empty(t, sub.submitted)

	p.RecordCommit(30)
	require.Len(t, sub.submitted, 1)
	require.Equal(t, 0, p.Pending())
}

func TestRecordCommitAccumulatesAcrossCalls(t *testing.T) {
	sub := &fakeSubmitter{}
	p := checkpoint.New(sub, checkpoint.WithThresholdBytes(1000))

	for i := 0; i < 5; i++ {
		p.RecordCommit(50)
	}
	require.Equal(t, 250, p.Pending())
	require.Empty(t, sub.submitted)
}

func TestSnapshotWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := checkpoint.NewSnapshotWriter(dir)
	require.NoError(t, err)

	meta := containermetadata.New()
	meta.EnsureSegment("seg-1").Length = 42

	path, err := w.Write(meta)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Greater(t, info.Size(), int64(0))

	got, release := w.Acquire()
	defer release()
	require.Equal(t, path, got)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	bodyLen := binary.BigEndian.Uint64(raw[:8])
	var decoded struct {
		Segments map[string]*containermetadata.SegmentMetadata
	}
	require.NoError(t, json.Unmarshal(raw[8:8+bodyLen], &decoded))
	require.Equal(t, int64(42), decoded.Segments["seg-1"].Length)
}

func TestRecordCommitAtThresholdAlsoWritesSnapshot(t *testing.T) {
	dir := t.TempDir()
	w, err := checkpoint.NewSnapshotWriter(dir)
	require.NoError(t, err)

	meta := containermetadata.New()
	meta.EnsureSegment("seg-1").Length = 7

	sub := &fakeSubmitter{}
	p := checkpoint.New(sub, checkpoint.WithThresholdBytes(100), checkpoint.WithSnapshotWriter(w, func() *containermetadata.Metadata { return meta }))

	p.RecordCommit(100)
	require.Len(t, sub.submitted, 1, "threshold crossing must still submit a checkpoint operation")

	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(dir)
		return err == nil && len(entries) > 0
	}, time.Second, 5*time.Millisecond, "threshold crossing must also write a metadata snapshot to disk")
}
