package skiplist

import (
	"errors"
	"math"
	"unsafe"

	"segmentstore/internal/arch"
	"segmentstore/internal/arena"
	"segmentstore/internal/base"
	"segmentstore/internal/compare"
	"segmentstore/internal/fastrand"
)

const (
	NodeAlignment = uint(unsafe.Sizeof(arch.UintToArchSize(0)))
	NodeSize      = uint(unsafe.Sizeof(node{}))
	LinkSize      = uint(unsafe.Sizeof(links{}))
	MaxHeight     = uint(20)
	pValue        = 1 / math.E
)

var probabilities [MaxHeight]uint32

func init() {
	// Precompute the skiplist probabilities so that only a single random
	// number needs to be generated and so that the optimal pvalue can be
	// used (inverse of Euler's number).
	p := 1.0
	for i := uint(0); i < MaxHeight; i++ {
		probabilities[i] = uint32(float64(math.MaxUint32) * p)
		p *= pValue
	}
}

var (
	ErrNoBuffer     = errors.New("skiplist does not have an arena")
	ErrBufferFull   = arena.ErrArenaFull
	ErrRecordExists = errors.New("record with this key already exists")
)

// Skiplist is a fast, concurrent skiplist implementation that supports
// forward and backward iteration. Keys and values are immutable once added
// to the skiplist and deletion is not supported. Instead, higher-level code
// can add new entries with higher sequence numbers that shadow existing
// ones, such as base.IndexKindInvalidate tombstones. It is up to the caller
// to process these shadow entries appropriately during retrieval
// (internal/memorystate's Get honours tombstones; its Process adds only
// data entries).
type Skiplist struct {
	arena   *arena.Arena
	head    *node
	tail    *node
	height  arch.AtomicUint // Current height. 1 <= height <= MaxHeight. CAS.
	compare compare.Compare
}

// New allocates a new skiplist with its own arena of the given size. If the
// arena is too small to hold the head and tail nodes, every Add returns
// ErrBufferFull.
func New(size uint, cmp compare.Compare) *Skiplist {
	skl := &Skiplist{
		compare: cmp,
		arena:   arena.WithOverflow(size, NodeSize),
	}
	_ = skl.Reset()

	return skl
}

// NewFromArena builds a skiplist over an arena supplied by the caller, e.g.
// one recycled from a retired memory-state index.
func NewFromArena(a *arena.Arena, cmp compare.Compare) (*Skiplist, error) {
	skl := &Skiplist{
		compare: cmp,
		arena:   a,
	}

	if err := skl.Reset(); err != nil {
		return nil, err
	}

	return skl, nil
}

// Reset clears the skiplist, discarding all entries and reinitializing the
// backing arena. Returns ErrBufferFull if the arena cannot hold the head
// and tail nodes.
func (s *Skiplist) Reset() error {
	if s.arena == nil {
		return ErrNoBuffer
	}
	s.arena.Reset()

	head, err := s.newEmptyNode()
	if err != nil {
		return err
	}
	tail, err := s.newEmptyNode()
	if err != nil {
		return err
	}

	// Link all head/tail levels together.
	headOffset := s.arena.GetPointerOffset(unsafe.Pointer(head))
	tailOffset := s.arena.GetPointerOffset(unsafe.Pointer(tail))
	for i := uint(0); i < MaxHeight; i++ {
		head.tower[i].next.Store(arch.UintToArchSize(tailOffset))
		tail.tower[i].prev.Store(arch.UintToArchSize(headOffset))
	}

	s.head = head
	s.tail = tail
	s.height.Store(1)

	return nil
}

// Add adds a new key if it does not yet exist. If the key already exists,
// Add returns ErrRecordExists. If there isn't enough room in the arena, Add
// returns ErrBufferFull.
func (s *Skiplist) Add(key base.IndexKey, value []byte) error {
	var ins inserter
	if s.findSplice(key, &ins) {
		// Found a matching node.
		return ErrRecordExists
	}

	nd, height, err := s.newNode(key, value)
	if err != nil {
		return err
	}

	ndOffset := s.arena.GetPointerOffset(unsafe.Pointer(nd))

	// We always insert from the base level and up. After a node is added at
	// the base level, a node cannot be created at a level above it, because
	// it would have discovered the node already present at the base level.
	var found bool
	var invalidateSplice bool
	for i := 0; i < int(height); i++ {
		prev := ins.splices[i].prev
		next := ins.splices[i].next

		if prev == nil {
			// New node increased the height of the skiplist, so the new
			// level has not yet been populated.
			if next != nil {
				panic("next is expected to be nil, since prev is nil")
			}

			prev = s.head
			next = s.tail
		}

		for {
			prevOffset := s.arena.GetPointerOffset(unsafe.Pointer(prev))
			nextOffset := s.arena.GetPointerOffset(unsafe.Pointer(next))
			nd.tower[i].prev.Store(arch.UintToArchSize(prevOffset))
			nd.tower[i].next.Store(arch.UintToArchSize(nextOffset))

			// Check whether next has an updated link to prev. If not, either
			// another thread hasn't finished linking prev yet, or another
			// node was inserted between prev and next.
			nextPrevOffset := next.prevOffset(i)
			if nextPrevOffset != prevOffset {
				prevNextOffset := prev.nextOffset(i)
				if prevNextOffset == nextOffset {
					next.prevOffsetCAS(i, nextPrevOffset, prevOffset)
				}
			}

			if prev.nextOffsetCAS(i, nextOffset, ndOffset) {
				next.prevOffsetCAS(i, prevOffset, ndOffset)
				break
			}

			// CAS failed; recompute prev and next for this level.
			prev, next, found = s.findSpliceForLevel(key, i, prev)
			if found {
				if i != 0 {
					panic("how can another thread have inserted a node at a non-base level?")
				}

				return ErrRecordExists
			}
			invalidateSplice = true
		}
	}

	if invalidateSplice {
		ins.height = 0
	} else {
		for i := uint(0); i < height; i++ {
			ins.splices[i].prev = nd
		}
	}

	return nil
}

// Height returns the height of the highest tower within any of the nodes
// that have ever been allocated as part of this skiplist.
func (s *Skiplist) Height() uint {
	return uint(s.height.Load())
}

// Len returns the number of bytes that have been allocated from the arena.
func (s *Skiplist) Len() uint {
	return s.arena.Len()
}

// Arena returns the arena backing this skiplist.
func (s *Skiplist) Arena() *arena.Arena {
	return s.arena
}

func (s *Skiplist) newEmptyNode() (*node, error) {
	nodeOffset, err := s.arena.Allocate(NodeSize, NodeAlignment)
	if err != nil {
		return nil, ErrBufferFull
	}

	nd := (*node)(s.arena.GetPointer(nodeOffset))
	nd.keyTrailer = 0
	nd.keyOffset = 0
	nd.keySize = 0
	nd.valSize = 0

	return nd, nil
}

func (s *Skiplist) newNode(key base.IndexKey, value []byte) (nd *node, height uint, err error) {
	rnd := fastrand.Uint32()

	// Consult the probability table to determine the height of this node.
	height = uint(1)
	for height < MaxHeight && rnd <= probabilities[height] {
		height++
	}

	keySize := uint(len(key.LogicalKey))
	valueSize := uint(len(value))
	truncated := NodeSize - (MaxHeight-height)*LinkSize
	totalSize := truncated + keySize + valueSize

	nodeOffset, err := s.arena.Allocate(totalSize, NodeAlignment)
	if err != nil {
		return nil, 0, ErrBufferFull
	}

	nd = (*node)(s.arena.GetPointer(nodeOffset))
	nd.keyOffset = nodeOffset + truncated
	nd.keySize = keySize
	nd.valSize = valueSize

	nd.keyTrailer = key.Trailer
	copy(nd.getKey(s.arena), key.LogicalKey)
	copy(nd.getValue(s.arena), value)

	// Try to increase s.height via CAS.
	listHeight := s.Height()
	for height > listHeight {
		if s.height.CompareAndSwap(
			arch.UintToArchSize(listHeight),
			arch.UintToArchSize(height),
		) {
			break
		}

		listHeight = s.Height()
	}

	return
}

func (s *Skiplist) findSplice(key base.IndexKey, ins *inserter) (found bool) {
	listHeight := s.Height()
	var level int

	prev := s.head
	if ins.height < listHeight {
		// Our cached height is less than the list height: inserts have
		// increased the height of the list, so recompute from scratch.
		ins.height = listHeight
		level = int(ins.height)
	} else {
		for ; level < int(listHeight); level++ {
			spl := &ins.splices[level]
			if s.getNext(spl.prev, level) != spl.next {
				continue
			}
			if spl.prev != s.head && !s.keyIsAfterNode(spl.prev, key) {
				level = int(listHeight)
				break
			}
			if spl.next != s.tail && s.keyIsAfterNode(spl.next, key) {
				level = int(listHeight)
				break
			}
			prev = spl.prev
			break
		}
	}

	for level = level - 1; level >= 0; level-- {
		var next *node
		prev, next, found = s.findSpliceForLevel(key, level, prev)
		if next == nil {
			next = s.tail
		}
		ins.splices[level].prev = prev
		ins.splices[level].next = next
	}

	return
}

func (s *Skiplist) findSpliceForLevel(
	key base.IndexKey, level int, start *node,
) (prev, next *node, found bool) {
	prev = start

	for {
		next = s.getNext(prev, level)
		if next == s.tail {
			break
		}

		offset, size := next.keyOffset, next.keySize
		nextKey := s.arena.GetBytes(offset, size)
		cmp := s.compare(key.LogicalKey, nextKey)
		if cmp < 0 {
			break
		}
		if cmp == 0 {
			if key.Trailer == next.keyTrailer {
				found = true
				break
			}
			if key.Trailer > next.keyTrailer {
				break
			}
		}

		prev = next
	}

	return
}

func (s *Skiplist) keyIsAfterNode(nd *node, key base.IndexKey) bool {
	ndKey := s.arena.GetBytes(nd.keyOffset, nd.keySize)
	cmp := s.compare(ndKey, key.LogicalKey)
	if cmp < 0 {
		return true
	}
	if cmp > 0 {
		return false
	}
	if key.Trailer == nd.keyTrailer {
		return false
	}
	return key.Trailer < nd.keyTrailer
}

func (s *Skiplist) getNext(nd *node, h int) *node {
	offset := nd.tower[h].next.Load()
	return (*node)(s.arena.GetPointer(uint(offset)))
}

func (s *Skiplist) getPrev(nd *node, h int) *node {
	offset := nd.tower[h].prev.Load()
	return (*node)(s.arena.GetPointer(uint(offset)))
}
