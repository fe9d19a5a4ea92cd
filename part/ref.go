package part

import "github.com/joshuapare/partkit/internal/layout"

// Ref identifies one allocation: the owning arena's id in the high bits and
// the offset of the slot start within that arena in the low SuperPageShift
// bits. The zero Ref means "no allocation"; arena ids start at 1, so no valid
// allocation packs to zero.
//
// Packing refs into a single word is what lets the scan pass treat any
// word-sized value found in scannable memory as a candidate reference.
type Ref uint64

func makeRef(arenaID, off uint32) Ref {
	return Ref(uint64(arenaID)<<layout.SuperPageShift | uint64(off))
}

// Arena returns the id of the arena this Ref points into.
func (r Ref) Arena() uint32 {
	return uint32(uint64(r) >> layout.SuperPageShift)
}

// Offset returns the offset of the slot start within its arena.
func (r Ref) Offset() uint32 {
	return uint32(uint64(r) & layout.SuperPageOffsetMask)
}
