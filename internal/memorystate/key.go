package memorystate

import (
	"bytes"
	"encoding/binary"
)

// logicalKey encodes (segmentName, offset) into a byte string that orders
// correctly under bytes.Compare: first by segment name, then, within a
// segment, by offset. A NUL separator works because segment names in this
// module never contain one; the offset is fixed-width big-endian so
// lexicographic and numeric order agree.
func logicalKey(segmentName string, offset int64) []byte {
	buf := make([]byte, 0, len(segmentName)+1+8)
	buf = append(buf, segmentName...)
	buf = append(buf, 0)
	var off [8]byte
	binary.BigEndian.PutUint64(off[:], uint64(offset))
	buf = append(buf, off[:]...)
	return buf
}

func compareLogicalKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}
