package part

import (
	"math/bits"
	"sync/atomic"

	"github.com/joshuapare/partkit/internal/layout"
)

// QuarantineSink receives freed-slot notifications when quarantine is
// enabled on a Root. The scan driver implements it.
type QuarantineSink interface {
	// AccountFreed records bytes entering the quarantine. Called outside
	// the Root lock.
	AccountFreed(bytes uintptr)

	// Epoch returns the current scan epoch. Its low bit selects which of
	// the two per-super-page bitmaps a freed slot is recorded in, which is
	// how frees racing a scan stay out of that scan's working set.
	Epoch() uint64

	// Safepoint gives the driver a chance to steal scan work from this
	// goroutine. Called at the top of Alloc and Free, never with the Root
	// lock held.
	Safepoint()
}

// EnableQuarantine routes this Root's frees through sink instead of the
// free lists. scannable marks whether the Root's payloads may themselves
// contain Refs and so must be visited during scans. Call once, before the
// Root is shared between goroutines.
func (r *Root) EnableQuarantine(sink QuarantineSink, scannable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
	r.scannable = scannable
	for sp := r.firstSuper; sp != nil; sp = sp.next {
		sp.ensureQuarantineBitmaps()
	}
}

// QuarantinedBytes reports how many bytes currently sit in quarantine,
// counting both epoch parities.
func (r *Root) QuarantinedBytes() uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total uintptr
	for sp := r.firstSuper; sp != nil; sp = sp.next {
		for parity := 0; parity < 2; parity++ {
			bm := sp.quarantine[parity]
			if bm == nil {
				continue
			}
			bm.forEachSet(func(off uint32) {
				if span := sp.spanOf(off); span != nil {
					total += uintptr(span.bucket.slotSize)
				}
			})
		}
	}
	return total
}

// CommittedBytes reports the bytes of committed address space held by this
// Root, including direct mappings.
func (r *Root) CommittedBytes() uintptr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uintptr(r.totalCommitted)
}

// quarantineBitmap records quarantined slot starts for one super page at
// slot-alignment granularity. All bit operations are atomic so mutators can
// quarantine concurrently with a running scan.
type quarantineBitmap struct {
	words []atomic.Uint64
}

func newQuarantineBitmap() *quarantineBitmap {
	const numBits = layout.SuperPageSize / layout.SlotAlignment
	return &quarantineBitmap{words: make([]atomic.Uint64, numBits/64)}
}

func (b *quarantineBitmap) locate(off uint32) (word *atomic.Uint64, mask uint64) {
	bit := off / layout.SlotAlignment
	return &b.words[bit>>6], 1 << (bit & 63)
}

// set marks off, returning false if it was already marked. A false return
// on the free path means a double free.
func (b *quarantineBitmap) set(off uint32) bool {
	w, mask := b.locate(off)
	for {
		old := w.Load()
		if old&mask != 0 {
			return false
		}
		if w.CompareAndSwap(old, old|mask) {
			return true
		}
	}
}

// clearIfSet clears off, reporting whether it was set. The scanner uses it
// to claim a slot exactly once during marking.
func (b *quarantineBitmap) clearIfSet(off uint32) bool {
	w, mask := b.locate(off)
	for {
		old := w.Load()
		if old&mask == 0 {
			return false
		}
		if w.CompareAndSwap(old, old&^mask) {
			return true
		}
	}
}

func (b *quarantineBitmap) clear(off uint32) {
	w, mask := b.locate(off)
	w.And(^mask)
}

func (b *quarantineBitmap) test(off uint32) bool {
	w, mask := b.locate(off)
	return w.Load()&mask != 0
}

// forEachSet calls fn for every marked offset. Each word is snapshotted
// before iteration, so bits set concurrently may or may not be seen; bits
// cleared by fn itself are fine.
func (b *quarantineBitmap) forEachSet(fn func(off uint32)) {
	for wi := range b.words {
		word := b.words[wi].Load()
		for word != 0 {
			bit := uint32(bits.TrailingZeros64(word))
			word &^= 1 << bit
			fn((uint32(wi)*64 + bit) * layout.SlotAlignment)
		}
	}
}

// ScanView is a scan-duration snapshot of one Root handed to the scan
// driver: the set of super pages that existed when the scan started, plus
// the epoch fixing which bitmap parity belongs to the scanner.
//
// Slots freed after the snapshot land in the mutator-parity bitmap and are
// left for the next scan.
type ScanView struct {
	root      *Root
	scanEpoch uint64
	sps       []*superPage
	byArena   map[uint32]*superPage
}

// NewScanView snapshots the Root's super pages. scanEpoch is the epoch
// already advanced for this scan, so the scanner works on the previous
// parity while mutators keep marking the current one.
func (r *Root) NewScanView(scanEpoch uint64) *ScanView {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := &ScanView{
		root:      r,
		scanEpoch: scanEpoch,
		sps:       make([]*superPage, 0, r.numSuperPages),
		byArena:   make(map[uint32]*superPage, r.numSuperPages),
	}
	for sp := r.firstSuper; sp != nil; sp = sp.next {
		if sp.quarantine[0] == nil {
			continue
		}
		v.sps = append(v.sps, sp)
		v.byArena[sp.id()] = sp
	}
	return v
}

func (v *ScanView) scannerParity() int { return int((v.scanEpoch + 1) & 1) }
func (v *ScanView) mutatorParity() int { return int(v.scanEpoch & 1) }

// Scannable reports whether this Root's payloads must be visited as scan
// roots.
func (v *ScanView) Scannable() bool { return v.root.scannable }

// Arenas lists the arena ids covered by this view, letting the driver route
// candidate words to the owning view.
func (v *ScanView) Arenas() []uint32 {
	ids := make([]uint32, 0, len(v.sps))
	for _, sp := range v.sps {
		ids = append(ids, sp.id())
	}
	return ids
}

// ClearQuarantined zeroes the payloads of every scanner-parity quarantined
// slot, so a dead object's stale contents cannot keep other quarantined
// objects alive through the scan. No lock is needed: scanner-parity bits
// only change under the scanning state, and span metadata for quarantined
// slots is pinned (they still count as allocated).
func (v *ScanView) ClearQuarantined() uintptr {
	var cleared uintptr
	for _, sp := range v.sps {
		bm := sp.quarantine[v.scannerParity()]
		bm.forEachSet(func(off uint32) {
			span := sp.spanOf(off)
			if span == nil {
				return
			}
			size := span.bucket.slotSize
			clear(sp.bytes()[off : off+size])
			cleared += uintptr(size)
		})
	}
	return cleared
}

// VisitScannable calls fn with every provisioned payload range of the view,
// one super page's spans at a time under the Root lock. fn typically scans
// the range for Ref-shaped words and marks them; it must not call back into
// this Root.
func (v *ScanView) VisitScannable(fn func(payload []byte)) {
	for _, sp := range v.sps {
		v.root.mu.Lock()
		for pi := range sp.pages {
			span := sp.pages[pi].span
			if span == nil {
				continue
			}
			if span.isDecommitted() {
				continue
			}
			b := span.bucket
			provisioned := uint32(b.slotsPerSpan-span.numUnprovisioned) * b.slotSize
			if provisioned == 0 {
				continue
			}
			fn(sp.bytes()[span.start : span.start+provisioned])
		}
		v.root.mu.Unlock()
	}
}

// MarkIfQuarantined interprets word as a potential Ref into this view. If
// it lands inside a scanner-parity quarantined slot, the slot is promoted
// to the mutator parity (it survives this scan) and its size is returned.
// Returns 0 for words that are not Refs into quarantined slots here,
// including interior values, which are rounded down to the slot start
// before the bitmap check.
func (v *ScanView) MarkIfQuarantined(word uint64) uintptr {
	arenaID := uint32(word >> layout.SuperPageShift)
	sp := v.byArena[arenaID]
	if sp == nil {
		return 0
	}
	off := uint32(word & layout.SuperPageOffsetMask)
	if off < payloadBegin() || off >= payloadEnd() {
		return 0
	}
	span := sp.spanOf(off)
	if span == nil {
		return 0
	}
	b := span.bucket
	slotStart := span.start + b.slotNumber(off-span.start)*b.slotSize
	if !sp.quarantine[v.scannerParity()].clearIfSet(slotStart) {
		return 0
	}
	sp.quarantine[v.mutatorParity()].set(slotStart)
	return uintptr(b.slotSize)
}

// SweepUnmarked frees every slot still marked in the scanner parity. Runs
// under the Root lock; by this point mutators can no longer resurrect
// scanner-parity bits, so a single pass suffices. Returns the bytes freed.
func (v *ScanView) SweepUnmarked() uintptr {
	v.root.mu.Lock()
	defer v.root.mu.Unlock()
	var swept uintptr
	for _, sp := range v.sps {
		bm := sp.quarantine[v.scannerParity()]
		bm.forEachSet(func(off uint32) {
			span := sp.spanOf(off)
			if span == nil {
				return
			}
			bm.clear(off)
			v.root.freeSlotLocked(span, off)
			swept += uintptr(span.bucket.slotSize)
		})
	}
	return swept
}
