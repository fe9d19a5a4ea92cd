package part

import (
	"github.com/joshuapare/partkit/internal/arena"
	"github.com/joshuapare/partkit/internal/layout"
)

// directMapEntry tracks one allocation too large for any bucket. The
// reservation holds a partition page of never-committed guard space in
// front of the payload and a system page of it behind, so stray accesses
// just past either edge fault instead of landing in a neighbour.
type directMapEntry struct {
	res         *arena.Reservation
	payloadSize uint32
}

func (e *directMapEntry) payload() []byte {
	return e.res.Bytes()[layout.PartitionPageSize : layout.PartitionPageSize+e.payloadSize]
}

func (r *Root) allocDirect(size uintptr, flags AllocFlags) (Ref, []byte) {
	payloadSize := layout.AlignUpSystemPage(uint32(size))
	reserved := int(layout.PartitionPageSize) + int(payloadSize) + int(layout.SystemPageSize())

	res, err := arena.Reserve(reserved)
	if err != nil {
		debugLogf("direct-map reserve of %d bytes failed: %v", reserved, err)
		return r.oom(size, flags)
	}
	sub, zeroed, err := res.Commit(layout.PartitionPageSize, int(payloadSize))
	if err != nil {
		debugLogf("direct-map commit of %d bytes failed: %v", payloadSize, err)
		_ = res.Release()
		return r.oom(size, flags)
	}

	r.mu.Lock()
	r.directMaps[res.ID()] = &directMapEntry{res: res, payloadSize: payloadSize}
	r.totalCommitted += uint64(payloadSize)
	r.totalAllocated += uint64(payloadSize)
	r.directMapped += uint64(payloadSize)
	r.mu.Unlock()

	if flags&AllocZeroFill != 0 && !zeroed {
		clear(sub)
	}
	return makeRef(res.ID(), layout.PartitionPageSize), sub
}

// Direct mappings are released immediately on free; they never see the
// quarantine, matching their exclusion from scanning.
func (r *Root) freeDirectLocked(arenaID uint32, entry *directMapEntry) {
	delete(r.directMaps, arenaID)
	r.totalCommitted -= uint64(entry.payloadSize)
	r.totalAllocated -= uint64(entry.payloadSize)
	r.directMapped -= uint64(entry.payloadSize)
	if err := entry.res.Release(); err != nil {
		debugLogf("direct-map release failed: %v", err)
	}
}
