package iterator

import (
	"io"

	"segmentstore/internal/base"
)

// Iterator walks the entries of a memory-state index in logical-key order.
// skiplist.Iterator has this method set; no package in this module
// currently refers to this interface.
type Iterator interface {
	First() *base.IndexEntry
	Last() *base.IndexEntry
	Next() *base.IndexEntry
	Prev() *base.IndexEntry
	io.Closer
}
