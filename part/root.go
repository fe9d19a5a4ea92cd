package part

import (
	"math/bits"
	"sync"

	"github.com/joshuapare/partkit/internal/layout"
)

// Options configures a Root. The zero value gets sensible defaults.
type Options struct {
	// SortSpanCap caps how many active spans one housekeeping pass will
	// sort. Defaults to 200. Tuned for the original deployment's workload;
	// re-tune before trusting it elsewhere.
	SortSpanCap int

	// OnOOM, if set, is invoked with the failed allocation size before the
	// fatal out-of-memory panic, for crash-report annotation. It must not
	// allocate from this Root.
	OnOOM func(size uintptr)
}

const defaultSortSpanCap = 200

// Root is one allocator instance: the unit of locking and configuration.
// All bucket and slot-span mutation for a Root happens under its lock, so
// two concurrent allocations on the same Root are strictly ordered while
// independent Roots never contend.
type Root struct {
	mu   sync.Mutex
	opts Options

	classes *sizeClassTable
	buckets []Bucket

	// Super-page bookkeeping: id lookup plus reservation-order linkage.
	superPages    map[uint32]*superPage
	firstSuper    *superPage
	lastSuper     *superPage
	numSuperPages uint32

	// Carve cursor into the super page currently being populated. Shared
	// by all buckets of this root.
	curSuper             *superPage
	nextPartitionPage    uint32
	nextPartitionPageEnd uint32

	directMaps map[uint32]*directMapEntry

	totalCommitted uint64
	totalAllocated uint64
	directMapped   uint64

	// Quarantine hand-off. Set once via EnableQuarantine before the Root
	// is shared; nil means freed slots go straight back to the free list.
	sink      QuarantineSink
	scannable bool
}

// NewRoot creates an empty partition. No address space is reserved until the
// first allocation.
func NewRoot(opts Options) *Root {
	if opts.SortSpanCap == 0 {
		opts.SortSpanCap = defaultSortSpanCap
	}
	table := classTable()
	r := &Root{
		opts:       opts,
		classes:    table,
		buckets:    make([]Bucket, table.numClasses()),
		superPages: make(map[uint32]*superPage),
		directMaps: make(map[uint32]*directMapEntry),
	}
	for i := range r.buckets {
		r.buckets[i].init(table.slotSizes[i])
	}
	return r
}

// Alloc returns a Ref for a slot of at least size bytes plus the slot's
// payload slice. Out of memory is fatal unless AllocReturnNull is passed, in
// which case the payload is nil and the Ref zero.
func (r *Root) Alloc(size uintptr, flags AllocFlags) (Ref, []byte) {
	if size > layout.MaxAllocationSize {
		fatal(ErrExcessiveSize, size, "")
	}
	if size == 0 {
		size = 1
	}
	if r.sink != nil {
		r.sink.Safepoint()
	}
	if size > layout.MaxBucketedSize {
		return r.allocDirect(size, flags)
	}

	b := &r.buckets[r.classes.classIndex(size)]

	r.mu.Lock()
	span := b.activeHead
	var sp *superPage
	var off uint32
	zeroed := false
	if span.freelistHead != 0 || span.numUnprovisioned > 0 {
		off = b.takeSlot(span)
		sp = span.sp
	} else {
		var ok bool
		sp, off, zeroed, ok = r.slowPathAlloc(b)
		if !ok {
			r.mu.Unlock()
			return r.oom(size, flags)
		}
	}
	r.totalAllocated += uint64(b.slotSize)
	r.mu.Unlock()

	payload := sp.bytes()[off : off+b.slotSize]
	if flags&AllocZeroFill != 0 && !zeroed {
		clear(payload)
	}
	return makeRef(sp.id(), off), payload
}

// AllocAligned is Alloc with an alignment requirement on the payload's
// position within its arena. alignment must be a power of two no larger than
// the partition page size.
func (r *Root) AllocAligned(size, alignment uintptr, flags AllocFlags) (Ref, []byte) {
	if alignment == 0 || alignment&(alignment-1) != 0 || alignment > layout.PartitionPageSize {
		fatal(ErrExcessiveSize, alignment, "unsupported alignment")
	}
	if alignment > layout.SlotAlignment {
		// Slot starts are start + index*slotSize with partition-page
		// aligned starts, so a power-of-two slot size at least as large
		// as the alignment guarantees the requested alignment.
		need := size
		if need < alignment {
			need = alignment
		}
		size = uintptr(1) << bits.Len(uint(need-1))
	}
	return r.Alloc(size, flags)
}

// slowPathAlloc is taken when the active head has neither free-list entries
// nor unprovisioned slots. In order: rescan the active list, reuse an empty
// span, recommit a decommitted span, carve a brand new span (reserving a new
// super page when the current one is exhausted).
func (r *Root) slowPathAlloc(b *Bucket) (sp *superPage, off uint32, zeroed, ok bool) {
	if b.setNewActiveSlotSpan() {
		span := b.activeHead
		return span.sp, b.takeSlot(span), false, true
	}

	if span := b.emptyHead; span != nil {
		b.emptyHead = span.next
		b.pushActive(span)
		return span.sp, b.takeSlot(span), false, true
	}

	if span := b.decommittedHead; span != nil {
		b.decommittedHead = span.next
		_, z, err := span.sp.res.Commit(int(span.start), int(span.spanBytes()))
		if err != nil {
			debugLogf("recommit of span at %d failed: %v", span.start, err)
			span.next = b.decommittedHead
			b.decommittedHead = span
			return nil, 0, false, false
		}
		span.sp.committed += span.spanBytes()
		r.totalCommitted += uint64(span.spanBytes())
		span.freelistHead = 0
		span.numFree = 0
		span.numAllocated = 0
		span.numUnprovisioned = b.slotsPerSpan
		b.pushActive(span)
		return span.sp, b.provisionSlot(span), z, true
	}

	span, z, err := r.allocNewSlotSpan(b)
	if err != nil {
		debugLogf("new slot span for class %d failed: %v", b.slotSize, err)
		return nil, 0, false, false
	}
	b.pushActive(span)
	return span.sp, b.provisionSlot(span), z, true
}

// allocNewSlotSpan carves the next span out of the current super page,
// reserving a new super page first if the remaining room is too small.
func (r *Root) allocNewSlotSpan(b *Bucket) (*SlotSpan, bool, error) {
	spanBytes := uint32(b.partitionPagesPerSpan) * layout.PartitionPageSize
	if r.curSuper == nil || r.nextPartitionPage+spanBytes > r.nextPartitionPageEnd {
		if err := r.allocNewSuperPage(); err != nil {
			return nil, false, err
		}
	}
	sp := r.curSuper
	start := r.nextPartitionPage
	r.nextPartitionPage += spanBytes

	_, zeroed, err := sp.res.Commit(int(start), int(spanBytes))
	if err != nil {
		return nil, false, err
	}
	sp.committed += spanBytes
	r.totalCommitted += uint64(spanBytes)

	span := &SlotSpan{
		bucket:           b,
		sp:               sp,
		start:            start,
		numUnprovisioned: b.slotsPerSpan,
	}
	sp.registerSpan(span, b.partitionPagesPerSpan)
	return span, zeroed, nil
}

func (r *Root) allocNewSuperPage() error {
	sp, err := newSuperPage()
	if err != nil {
		return err
	}
	if r.sink != nil {
		sp.ensureQuarantineBitmaps()
	}
	r.superPages[sp.id()] = sp
	if r.lastSuper != nil {
		r.lastSuper.next = sp
	} else {
		r.firstSuper = sp
	}
	r.lastSuper = sp
	r.numSuperPages++
	r.curSuper = sp
	r.nextPartitionPage = payloadBegin()
	r.nextPartitionPageEnd = payloadEnd()
	debugLogf("reserved super page arena=%d (total %d)", sp.id(), r.numSuperPages)
	return nil
}

func (r *Root) oom(size uintptr, flags AllocFlags) (Ref, []byte) {
	if flags&AllocReturnNull != 0 {
		return 0, nil
	}
	if r.opts.OnOOM != nil {
		r.opts.OnOOM(size)
	}
	fatal(ErrOutOfMemory, size, "")
	return 0, nil
}

// Free returns a slot to its span's free list, or hands it to the quarantine
// when a sink is installed. Free(0) is a no-op. A Ref that does not resolve
// to a slot start is treated as corruption and is fatal.
func (r *Root) Free(ref Ref) {
	if ref == 0 {
		return
	}
	if r.sink != nil {
		r.sink.Safepoint()
	}
	arenaID := ref.Arena()

	r.mu.Lock()
	if entry, ok := r.directMaps[arenaID]; ok {
		r.freeDirectLocked(arenaID, entry)
		r.mu.Unlock()
		return
	}
	sp := r.superPages[arenaID]
	if sp == nil {
		r.mu.Unlock()
		fatal(ErrCorruption, 0, "free of pointer into unknown arena")
	}
	span := sp.spanOf(ref.Offset())
	if span == nil {
		r.mu.Unlock()
		fatal(ErrCorruption, 0, "free does not resolve to a slot span")
	}
	b := span.bucket
	slotStart := span.start + b.slotNumber(ref.Offset()-span.start)*b.slotSize
	if slotStart != ref.Offset() {
		r.mu.Unlock()
		fatal(ErrCorruption, uintptr(b.slotSize), "free of interior pointer")
	}

	if r.sink != nil {
		bm := sp.quarantine[r.sink.Epoch()&1]
		r.mu.Unlock()
		if !bm.set(slotStart) {
			fatal(ErrDoubleFree, uintptr(b.slotSize), "slot already quarantined")
		}
		r.sink.AccountFreed(uintptr(b.slotSize))
		return
	}

	r.freeSlotLocked(span, slotStart)
	r.mu.Unlock()
}

// freeSlotLocked is the actual free: free-list push plus span state
// transitions. Also the sweep entry point for quarantined slots proven
// unreachable.
func (r *Root) freeSlotLocked(span *SlotSpan, slotStart uint32) {
	b := span.bucket
	if span.freelistHead == slotStart {
		fatal(ErrDoubleFree, uintptr(b.slotSize), "slot is already the free-list head")
	}
	span.pushFreelist(slotStart)
	span.numAllocated--
	r.totalAllocated -= uint64(b.slotSize)
	if span.markedFull {
		span.markedFull = false
		b.numFullSpans--
		b.pushActive(span)
	}
}

// Realloc resizes an allocation. Staying within the same size class returns
// the same Ref; otherwise the contents are copied into a fresh allocation
// and the old slot is freed. Realloc(0, n) allocates, Realloc(ref, 0) frees.
func (r *Root) Realloc(ref Ref, newSize uintptr, flags AllocFlags) (Ref, []byte) {
	if ref == 0 {
		return r.Alloc(newSize, flags)
	}
	if newSize == 0 {
		r.Free(ref)
		return 0, nil
	}
	if newSize > layout.MaxAllocationSize {
		fatal(ErrExcessiveSize, newSize, "")
	}

	r.mu.Lock()
	var old []byte
	if entry, ok := r.directMaps[ref.Arena()]; ok {
		if newSize > layout.MaxBucketedSize &&
			layout.AlignUpSystemPage(uint32(newSize)) == entry.payloadSize {
			r.mu.Unlock()
			return ref, entry.payload()
		}
		old = entry.payload()
	} else {
		sp := r.superPages[ref.Arena()]
		if sp == nil {
			r.mu.Unlock()
			fatal(ErrCorruption, 0, "realloc of pointer into unknown arena")
		}
		span := sp.spanOf(ref.Offset())
		if span == nil {
			r.mu.Unlock()
			fatal(ErrCorruption, 0, "realloc does not resolve to a slot span")
		}
		b := span.bucket
		if newSize <= layout.MaxBucketedSize &&
			r.classes.slotSizes[r.classes.classIndex(newSize)] == b.slotSize {
			r.mu.Unlock()
			return ref, sp.bytes()[ref.Offset() : ref.Offset()+b.slotSize]
		}
		old = sp.bytes()[ref.Offset() : ref.Offset()+b.slotSize]
	}
	r.mu.Unlock()

	newRef, fresh := r.Alloc(newSize, flags)
	if fresh == nil {
		return 0, nil
	}
	copy(fresh, old)
	r.Free(ref)
	return newRef, fresh
}

// UsableSize returns the number of bytes actually usable behind ref, which
// is at least the requested size (size-class or page rounding).
func (r *Root) UsableSize(ref Ref) uintptr {
	if ref == 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.directMaps[ref.Arena()]; ok {
		return uintptr(entry.payloadSize)
	}
	sp := r.superPages[ref.Arena()]
	if sp == nil {
		fatal(ErrCorruption, 0, "usable-size of pointer into unknown arena")
	}
	span := sp.spanOf(ref.Offset())
	if span == nil {
		fatal(ErrCorruption, 0, "usable-size does not resolve to a slot span")
	}
	return uintptr(span.bucket.slotSize)
}
