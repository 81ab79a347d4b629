package skiplist

import (
	"segmentstore/internal/base"
)

// Iterator is an iterator over a Skiplist. Use Skiplist.Iterator to
// construct one. The current state of the iterator can be cloned by value
// copying the struct. All iterator methods are safe to call concurrently
// with Skiplist.Add.
type Iterator struct {
	list  *Skiplist
	nd    *node
	entry base.IndexEntry

	// close, if non-nil, is invoked by Close. It lets the owner of the
	// skiplist release a reference when the iterator is closed;
	// internal/memorystate passes nil.
	close func() error
}

// Iterator returns a new Iterator over the skiplist. close is invoked when
// the iterator is closed; it may be nil.
func (s *Skiplist) Iterator(close func() error) *Iterator {
	return &Iterator{list: s, close: close}
}

func (it *Iterator) First() *base.IndexEntry {
	it.nd = it.list.getNext(it.list.head, 0)
	if it.nd == it.list.tail {
		return nil
	}
	it.decodeEntry()
	return &it.entry
}

func (it *Iterator) Last() *base.IndexEntry {
	it.nd = it.list.getPrev(it.list.tail, 0)
	if it.nd == it.list.head {
		return nil
	}
	it.decodeEntry()
	return &it.entry
}

func (it *Iterator) Next() *base.IndexEntry {
	if it.nd == nil {
		return it.First()
	}
	it.nd = it.list.getNext(it.nd, 0)
	if it.nd == it.list.tail {
		return nil
	}
	it.decodeEntry()
	return &it.entry
}

func (it *Iterator) Prev() *base.IndexEntry {
	if it.nd == nil {
		return it.Last()
	}
	it.nd = it.list.getPrev(it.nd, 0)
	if it.nd == it.list.head {
		return nil
	}
	it.decodeEntry()
	return &it.entry
}

func (it *Iterator) decodeEntry() {
	it.entry.K.LogicalKey = it.list.arena.GetBytes(it.nd.keyOffset, it.nd.keySize)
	it.entry.K.Trailer = it.nd.keyTrailer
	it.entry.V = it.nd.getValue(it.list.arena)
}

func (it *Iterator) Close() error {
	var err error
	if it.close != nil {
		err = it.close()
	}
	*it = Iterator{}
	return err
}
