package operation

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Append writes Data to the end of SegmentName. Offset is assigned by the
// metadata updater's pre_process step to the segment's length at the time
// the operation was admitted.
type Append struct {
	base
	SegmentName string
	Data        []byte
	Offset      int64
}

func (a *Append) Kind() Kind          { return KindAppend }
func (a *Append) CanSerialize() bool  { return true }
func (a *Append) Serialize() ([]byte, error) {
	return encode(KindAppend, a.seqNo, func(buf *bytes.Buffer) {
		writeString(buf, a.SegmentName)
		writeInt64(buf, a.Offset)
		writeBytes(buf, a.Data)
	})
}

// Seal marks SegmentName as sealed. SealedLength is assigned by pre_process
// to the segment's length at the moment of sealing.
type Seal struct {
	base
	SegmentName  string
	SealedLength int64
}

func (s *Seal) Kind() Kind         { return KindSeal }
func (s *Seal) CanSerialize() bool { return true }
func (s *Seal) Serialize() ([]byte, error) {
	return encode(KindSeal, s.seqNo, func(buf *bytes.Buffer) {
		writeString(buf, s.SegmentName)
		writeInt64(buf, s.SealedLength)
	})
}

// Map registers a new segment in the catalog.
type Map struct {
	base
	SegmentName string
}

func (m *Map) Kind() Kind         { return KindMap }
func (m *Map) CanSerialize() bool { return true }
func (m *Map) Serialize() ([]byte, error) {
	return encode(KindMap, m.seqNo, func(buf *bytes.Buffer) {
		writeString(buf, m.SegmentName)
	})
}

// Merge appends SourceSegment's content onto TargetSegment and retires
// SourceSegment. SourceLength is assigned by pre_process.
type Merge struct {
	base
	SourceSegment string
	TargetSegment string
	SourceLength  int64
}

func (m *Merge) Kind() Kind         { return KindMerge }
func (m *Merge) CanSerialize() bool { return true }
func (m *Merge) Serialize() ([]byte, error) {
	return encode(KindMerge, m.seqNo, func(buf *bytes.Buffer) {
		writeString(buf, m.SourceSegment)
		writeString(buf, m.TargetSegment)
		writeInt64(buf, m.SourceLength)
	})
}

// UpdateAttributes applies a set of attribute-value changes to SegmentName.
type UpdateAttributes struct {
	base
	SegmentName string
	Updates     map[string]int64
}

func (u *UpdateAttributes) Kind() Kind         { return KindUpdateAttributes }
func (u *UpdateAttributes) CanSerialize() bool { return true }
func (u *UpdateAttributes) Serialize() ([]byte, error) {
	return encode(KindUpdateAttributes, u.seqNo, func(buf *bytes.Buffer) {
		writeString(buf, u.SegmentName)
		writeUint32(buf, uint32(len(u.Updates)))
		for k, v := range u.Updates {
			writeString(buf, k)
			writeInt64(buf, v)
		}
	})
}

// Checkpoint is synthesized by internal/checkpoint's MetadataCheckpointPolicy
// once enough bytes have been durably written. It carries no payload of its
// own: its presence in the log marks a point a recovery reader could later
// resynchronize from, which is out of this module's scope.
type Checkpoint struct {
	base
}

func (c *Checkpoint) Kind() Kind         { return KindCheckpoint }
func (c *Checkpoint) CanSerialize() bool { return true }
func (c *Checkpoint) Serialize() ([]byte, error) {
	return encode(KindCheckpoint, c.seqNo, func(*bytes.Buffer) {})
}

// Probe is a non-serializable operation used to verify the processor is
// alive without writing anything to the durable log. It auto-completes as
// soon as every strictly-earlier serializable operation has committed.
type Probe struct {
	base
}

func (p *Probe) Kind() Kind                      { return KindProbe }
func (p *Probe) CanSerialize() bool              { return false }
func (p *Probe) Serialize() ([]byte, error) {
	return nil, fmt.Errorf("operation: Probe cannot be serialized")
}

func encode(kind Kind, seqNo uint64, body func(*bytes.Buffer)) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(kind))
	writeUint64(buf, seqNo)
	body(buf)
	return buf.Bytes(), nil
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeInt64(buf *bytes.Buffer, v int64) {
	writeUint64(buf, uint64(v))
}

func writeBytes(buf *bytes.Buffer, v []byte) {
	writeUint32(buf, uint32(len(v)))
	buf.Write(v)
}

func writeString(buf *bytes.Buffer, v string) {
	writeBytes(buf, []byte(v))
}
