package part

import (
	"sort"

	"github.com/joshuapare/partkit/internal/layout"
)

// Bucket serves one size class: it owns the active/empty/decommitted span
// lists and grows into new slot spans (and super pages) when exhausted. All
// Bucket methods run under the owning Root's lock.
type Bucket struct {
	slotSize           uint32
	slotSizeReciprocal uint64

	partitionPagesPerSpan uint8
	slotsPerSpan          uint16

	activeHead      *SlotSpan
	emptyHead       *SlotSpan
	decommittedHead *SlotSpan

	// Full spans are not tracked in a list, only counted; a free against a
	// full span reinserts it at the active head.
	numFullSpans uint32
}

func (b *Bucket) init(slotSize uint32) {
	b.slotSize = slotSize
	b.slotSizeReciprocal = layout.SlotSizeReciprocal(slotSize)
	b.partitionPagesPerSpan, b.slotsPerSpan = spanGeometry(slotSize)
	b.activeHead = sentinel()
}

// spanGeometry picks how many partition pages a span of the given slot size
// covers. Small classes use the fewest pages that keep the tail waste under
// 2% of the span; classes too large to pack several slots into the biggest
// regular span get single-slot spans sized to the slot.
func spanGeometry(slotSize uint32) (numPages uint8, slots uint16) {
	const maxRegular = layout.MaxPartitionPagesPerRegularSlotSpan * layout.PartitionPageSize
	if slotSize > maxRegular {
		pages := layout.AlignUpPartitionPage(slotSize) / layout.PartitionPageSize
		return uint8(pages), 1
	}
	bestPages := uint32(1)
	bestWaste := uint32(layout.PartitionPageSize)
	for pages := uint32(1); pages <= layout.MaxPartitionPagesPerRegularSlotSpan; pages++ {
		spanBytes := pages * layout.PartitionPageSize
		waste := spanBytes % slotSize
		if waste*50 < spanBytes { // under 2%
			bestPages = pages
			break
		}
		if waste < bestWaste {
			bestWaste = waste
			bestPages = pages
		}
	}
	spanBytes := bestPages * layout.PartitionPageSize
	return uint8(bestPages), uint16(spanBytes / slotSize)
}

// slotNumber computes offsetInSpan / slotSize via reciprocal multiplication.
// Exact for the bucketed domain; the debug build cross-checks against true
// division.
func (b *Bucket) slotNumber(offsetInSpan uint32) uint32 {
	n := uint32((uint64(offsetInSpan) * b.slotSizeReciprocal) >> layout.ReciprocalShift)
	if debugAsserts {
		if want := offsetInSpan / b.slotSize; n != want {
			fatal(ErrCorruption, uintptr(b.slotSize), "reciprocal slot number diverged from division")
		}
	}
	return n
}

// provisionSlot hands out the next never-used slot of the span.
func (b *Bucket) provisionSlot(span *SlotSpan) uint32 {
	index := uint32(b.slotsPerSpan - span.numUnprovisioned)
	span.numUnprovisioned--
	span.numAllocated++
	return span.start + index*b.slotSize
}

// takeSlot serves one slot from a span known to have capacity.
func (b *Bucket) takeSlot(span *SlotSpan) uint32 {
	if span.freelistHead != 0 {
		off := span.popFreelist()
		span.numAllocated++
		return off
	}
	return b.provisionSlot(span)
}

// pushActive inserts a span at the head of the active list. The sentinel is
// only ever the head, never an interior node, so inserting over it drops it.
func (b *Bucket) pushActive(span *SlotSpan) {
	if b.activeHead == sentinel() {
		span.next = nil
	} else {
		span.next = b.activeHead
	}
	b.activeHead = span
}

// setNewActiveSlotSpan scans the active list for a usable span, performing
// list maintenance along the way. Usable spans either have free-list entries
// (preferred: no new memory touched) or unprovisioned slots. Skipped spans
// are dispatched to their long-lived lists: empty and decommitted spans move
// to their respective lists, full spans are unlinked and counted. Spans with
// only unprovisioned capacity are kept, in order, on a temporary list that is
// reattached behind the chosen head.
//
// Returns false with the head set to the sentinel when nothing is usable.
func (b *Bucket) setNewActiveSlotSpan() bool {
	span := b.activeHead
	if span == sentinel() {
		return false
	}

	var toProvisionHead, toProvisionTail *SlotSpan
	var next *SlotSpan

	for ; span != nil; span = next {
		next = span.next
		if span.isActive() {
			if span.freelistHead != 0 {
				// Will use this span; stop scanning here.
				break
			}
			// Only unprovisioned capacity. Keep head and tail so the
			// sublist is not reversed.
			if toProvisionHead == nil {
				toProvisionHead = span
			}
			if toProvisionTail != nil {
				toProvisionTail.next = span
			}
			toProvisionTail = span
			span.next = nil
		} else if span.isEmpty() {
			span.next = b.emptyHead
			b.emptyHead = span
		} else if span.isDecommitted() {
			span.next = b.decommittedHead
			b.decommittedHead = span
		} else {
			// Full. Mark it so a later free knows to reinsert it.
			span.markedFull = true
			b.numFullSpans++
			span.next = nil
		}
	}

	switch {
	case span != nil:
		// Found a span with free-list entries; reattach the
		// to-provision sublist behind it.
		if toProvisionHead != nil {
			toProvisionTail.next = span.next
			span.next = toProvisionHead
		}
		b.activeHead = span
		return true
	case toProvisionHead != nil:
		b.activeHead = toProvisionHead
		return true
	default:
		b.activeHead = sentinel()
		return false
	}
}

// maintainActiveList rebuilds the active list in one pass: active spans keep
// their order, empty and decommitted spans move to their lists (LIFO - the
// most recently touched memory is reused first), full spans are unlinked and
// counted.
func (b *Bucket) maintainActiveList() {
	span := b.activeHead
	if span == sentinel() {
		return
	}

	var newHead, newTail *SlotSpan
	var next *SlotSpan
	for ; span != nil; span = next {
		next = span.next
		if span.isActive() {
			if newHead == nil {
				newHead = span
			}
			if newTail != nil {
				newTail.next = span
			}
			newTail = span
			span.next = nil
		} else if span.isEmpty() {
			span.next = b.emptyHead
			b.emptyHead = span
		} else if span.isDecommitted() {
			span.next = b.decommittedHead
			b.decommittedHead = span
		} else {
			span.markedFull = true
			b.numFullSpans++
			span.next = nil
		}
	}

	if newHead == nil {
		b.activeHead = sentinel()
		return
	}
	b.activeHead = newHead
}

// sortActiveSlotSpans reorders up to cap spans of the active list so that
// allocations are preferably serviced from the fullest spans: fewest
// free-list entries first, spans with no free-list entries last (they would
// be skipped anyway), ties broken by fewest unprovisioned slots. Keeping
// mostly-full spans full and almost-empty spans empty reduces external
// fragmentation and gives the reclaimer whole empty spans to take back.
//
// The cap bounds the work per pass; spans beyond it keep their order.
func (b *Bucket) sortActiveSlotSpans(limit int) {
	if b.activeHead == sentinel() || limit <= 0 {
		return
	}

	spans := make([]*SlotSpan, 0, limit)
	span := b.activeHead
	for span != nil && len(spans) < limit {
		spans = append(spans, span)
		span = span.next
	}
	overflow := span

	sort.SliceStable(spans, func(i, j int) bool {
		x, y := spans[i], spans[j]
		if (x.numFree == 0) != (y.numFree == 0) {
			return y.numFree == 0
		}
		if x.numFree != y.numFree {
			return x.numFree < y.numFree
		}
		return x.numUnprovisioned < y.numUnprovisioned
	})

	for i := len(spans) - 1; i >= 0; i-- {
		if i == len(spans)-1 {
			spans[i].next = overflow
		} else {
			spans[i].next = spans[i+1]
		}
	}
	b.activeHead = spans[0]
}
