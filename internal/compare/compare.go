package compare

import (
	"bytes"
)

// Compare orders two logical keys. The memory-state index uses this to order
// (segment id, offset) logical keys independently of the sequence-number
// trailer appended by base.IndexKey.
type Compare func(a, b []byte) int

// SuffixCompare compares only the 7-byte sequence-number part of the 8-byte
// trailers ending a and b, using bytes.Compare. The logical-key prefix is
// not compared, and neither is the kind field in the last byte of the
// trailer.
func SuffixCompare(a, b []byte) int {
	seqA := a[len(a)-8 : len(a)-1]
	seqB := b[len(b)-8 : len(b)-1]
	return bytes.Compare(seqA, seqB)
}
