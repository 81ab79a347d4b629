// Package containermetadata implements the mutable segment catalog the
// metadata updater stacks its transactions on top of: per-segment length,
// seal/merge state, attributes, and the durable-log truncation markers
// recorded as frames commit.
//
// Nothing in this package is safe for concurrent use on its own; callers
// (internal/txnupdater) are responsible for serializing access under their
// own lock, per the single shared-lock design.
package containermetadata

import (
	"encoding/json"
	"fmt"
)

// TruncationMarker records that the durable log up to Address covers every
// operation up to UpToSeqNo.
type TruncationMarker struct {
	UpToSeqNo uint64
	Address   LogAddress
}

// LogAddress mirrors internal/durablelog.LogAddress without importing it,
// so this package stays free of a dependency on the durable log's chosen
// wire representation. internal/txnupdater converts at the boundary.
type LogAddress struct {
	Sequence uint64
	Physical []byte
}

// SegmentMetadata is the catalog entry for one segment.
type SegmentMetadata struct {
	Name       string
	Length     int64
	Sealed     bool
	MergedInto string // non-empty once this segment has been merged away
	Attributes map[string]int64
}

func newSegmentMetadata(name string) *SegmentMetadata {
	return &SegmentMetadata{Name: name, Attributes: make(map[string]int64)}
}

// Clone returns a deep copy of s, safe to mutate independently.
func (s *SegmentMetadata) Clone() *SegmentMetadata {
	return s.clone()
}

func (s *SegmentMetadata) clone() *SegmentMetadata {
	c := *s
	c.Attributes = make(map[string]int64, len(s.Attributes))
	for k, v := range s.Attributes {
		c.Attributes[k] = v
	}
	return &c
}

// Metadata is the base (non-transactional) segment catalog. Update
// transactions (internal/txnupdater) read through to this when a key is
// absent from their own delta layer, and commit their deltas into it.
type Metadata struct {
	segments           map[string]*SegmentMetadata
	truncationMarkers  []TruncationMarker
	highestTruncSeqNo  uint64
	haveTruncationMark bool
}

// New returns an empty catalog.
func New() *Metadata {
	return &Metadata{segments: make(map[string]*SegmentMetadata)}
}

// Segment returns the catalog entry for name, or nil if the segment has
// never been observed.
func (m *Metadata) Segment(name string) *SegmentMetadata {
	return m.segments[name]
}

// EnsureSegment returns the existing entry for name, creating an empty one
// (length 0, unsealed, no attributes) if this is the first reference.
func (m *Metadata) EnsureSegment(name string) *SegmentMetadata {
	s, ok := m.segments[name]
	if !ok {
		s = newSegmentMetadata(name)
		m.segments[name] = s
	}
	return s
}

// PutSegment installs s as the catalog entry for its name, overwriting
// whatever was there. Used by internal/txnupdater when committing a
// transaction's delta layer into the base.
func (m *Metadata) PutSegment(s *SegmentMetadata) {
	m.segments[s.Name] = s
}

// RecordTruncationMarker records that the durable log now covers every
// operation up to upToSeqNo at addr. Out-of-order or repeated calls are
// all recorded, but never move highestTruncSeqNo backwards.
func (m *Metadata) RecordTruncationMarker(upToSeqNo uint64, addr LogAddress) {
	m.truncationMarkers = append(m.truncationMarkers, TruncationMarker{UpToSeqNo: upToSeqNo, Address: addr})
	if !m.haveTruncationMark || upToSeqNo > m.highestTruncSeqNo {
		m.highestTruncSeqNo = upToSeqNo
		m.haveTruncationMark = true
	}
}

// TruncationMarkers returns every truncation marker recorded so far, in
// call order.
func (m *Metadata) TruncationMarkers() []TruncationMarker {
	out := make([]TruncationMarker, len(m.truncationMarkers))
	copy(out, m.truncationMarkers)
	return out
}

// Snapshot returns a deep copy of the catalog, suitable for byte-for-byte
// equality checks (go-cmp) in rollback/commit round-trip tests, and for
// internal/checkpoint's point-in-time snapshot writer.
func (m *Metadata) Snapshot() *Metadata {
	clone := &Metadata{
		segments:           make(map[string]*SegmentMetadata, len(m.segments)),
		truncationMarkers:  append([]TruncationMarker(nil), m.truncationMarkers...),
		highestTruncSeqNo:  m.highestTruncSeqNo,
		haveTruncationMark: m.haveTruncationMark,
	}
	for k, v := range m.segments {
		clone.segments[k] = v.clone()
	}
	return clone
}

func (m *Metadata) String() string {
	return fmt.Sprintf("Metadata{segments=%d, truncationMarkers=%d}", len(m.segments), len(m.truncationMarkers))
}

// metadataWireFormat mirrors Metadata's fields for JSON encoding. Metadata
// itself exposes none of its fields, so a point-in-time snapshot (see
// internal/checkpoint's SnapshotWriter) needs this to round-trip through
// json.Marshal instead of silently encoding to "{}".
type metadataWireFormat struct {
	Segments          map[string]*SegmentMetadata
	TruncationMarkers []TruncationMarker
}

// MarshalJSON implements json.Marshaler by exposing the catalog's segments
// and truncation markers, none of which are otherwise exported fields.
func (m *Metadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(metadataWireFormat{
		Segments:          m.segments,
		TruncationMarkers: m.truncationMarkers,
	})
}
