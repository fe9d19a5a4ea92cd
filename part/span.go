package part

import "github.com/joshuapare/partkit/internal/layout"

// SlotSpan is the per-span bookkeeping record. It lives in its super page's
// fixed metadata table and is never individually freed; decommitting a span
// only resets its counters.
//
// Exactly one of four states holds at any time, derived from the counters:
//
//	active:      numAllocated > 0 and there is a free or unprovisioned slot
//	full:        numAllocated == slots per span
//	empty:       numAllocated == 0, slots still provisioned (freelist intact)
//	decommitted: numAllocated == 0, nothing provisioned, pages returned
type SlotSpan struct {
	bucket *Bucket
	sp     *superPage
	next   *SlotSpan

	// start is the offset of the span's first slot within the super page.
	start uint32

	// freelistHead is the in-arena offset of the first free slot, or 0.
	// Offset 0 is inside the front guard page and never a valid slot, so
	// it doubles as the empty marker.
	freelistHead uint32

	numAllocated     uint16
	numUnprovisioned uint16
	numFree          uint16

	// markedFull records that the span was unlinked from the active list
	// when it filled up, so a later free knows to reinsert it.
	markedFull bool
}

// sentinelSpan is the shared, immutable "bucket exhausted" marker. A bucket
// with nothing usable points its active head here instead of at nil, so the
// fast path never needs a nil check. It has no capacity: zero free slots,
// zero unprovisioned slots, so any allocation against it takes the slow path
// before anything tries to write through it.
var sentinelSpan SlotSpan

func sentinel() *SlotSpan { return &sentinelSpan }

func (s *SlotSpan) isActive() bool {
	return s.numAllocated > 0 && (s.freelistHead != 0 || s.numUnprovisioned > 0)
}

func (s *SlotSpan) isFull() bool {
	return uint32(s.numAllocated) == uint32(s.bucket.slotsPerSpan)
}

func (s *SlotSpan) isEmpty() bool {
	return s.numAllocated == 0 && s.freelistHead != 0
}

func (s *SlotSpan) isDecommitted() bool {
	return s.numAllocated == 0 && s.freelistHead == 0 && s.numUnprovisioned == 0
}

// spanBytes returns the reserved length of the span.
func (s *SlotSpan) spanBytes() uint32 {
	return uint32(s.bucket.partitionPagesPerSpan) * layout.PartitionPageSize
}

// pushFreelist threads a freed slot onto the span's intrusive free list. The
// next-pointer is stored bitwise-inverted in the slot's first word so that a
// stray in-bounds heap write is unlikely to forge a plausible entry.
func (s *SlotSpan) pushFreelist(slotStart uint32) {
	layout.PutWord(s.sp.bytes(), int(slotStart), ^uint64(s.freelistHead))
	s.freelistHead = slotStart
	s.numFree++
}

// popFreelist removes and returns the head slot. The caller guarantees
// freelistHead != 0. The decoded next entry is validated before it becomes
// the new head; a free-list word pointing outside the span or between slot
// boundaries means the heap has been corrupted, which is fatal.
func (s *SlotSpan) popFreelist() uint32 {
	slotStart := s.freelistHead
	next := ^layout.GetWord(s.sp.bytes(), int(slotStart))
	if next != 0 {
		spanEnd := uint64(s.start) + uint64(s.spanBytes())
		if next < uint64(s.start) || next >= spanEnd ||
			(uint32(next)-s.start)%s.bucket.slotSize != 0 {
			fatal(ErrCorruption, uintptr(s.bucket.slotSize), "free-list entry points outside its slot span")
		}
	}
	s.freelistHead = uint32(next)
	s.numFree--
	return slotStart
}
