package part

// PurgeFlags selects how aggressively PurgeMemory returns memory.
type PurgeFlags uint32

const (
	// PurgeDecommitEmptySpans decommits the payload of every empty slot
	// span, moving it to the bucket's decommitted list.
	PurgeDecommitEmptySpans PurgeFlags = 1 << iota

	// PurgeReleaseEmptySuperPages releases whole super pages whose every
	// span has been decommitted, returning the reservation to the OS.
	PurgeReleaseEmptySuperPages
)

// PurgeMemory runs bucket housekeeping (active-list maintenance and the
// bounded sort) and then returns memory per flags. Called periodically by
// the reclaimer and explicitly under memory pressure.
func (r *Root) PurgeMemory(flags PurgeFlags) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.buckets {
		b := &r.buckets[i]
		b.maintainActiveList()
		b.sortActiveSlotSpans(r.opts.SortSpanCap)
	}
	if flags&PurgeDecommitEmptySpans != 0 {
		for i := range r.buckets {
			r.decommitEmptySpansLocked(&r.buckets[i])
		}
	}
	if flags&PurgeReleaseEmptySuperPages != 0 {
		r.releaseEmptySuperPagesLocked()
	}
}

func (r *Root) decommitEmptySpansLocked(b *Bucket) {
	var stillEmpty *SlotSpan
	var next *SlotSpan
	for span := b.emptyHead; span != nil; span = next {
		next = span.next
		if err := span.sp.res.Decommit(int(span.start), int(span.spanBytes())); err != nil {
			debugLogf("decommit of span at %d failed: %v", span.start, err)
			span.next = stillEmpty
			stillEmpty = span
			continue
		}
		span.sp.committed -= span.spanBytes()
		r.totalCommitted -= uint64(span.spanBytes())
		span.freelistHead = 0
		span.numFree = 0
		span.numUnprovisioned = 0
		span.next = b.decommittedHead
		b.decommittedHead = span
	}
	b.emptyHead = stillEmpty
}

// releaseEmptySuperPagesLocked unmaps super pages with no committed payload
// left. Their spans sit on bucket decommitted lists and must be unlinked
// first; the carve cursor is dropped if it pointed into a released page.
func (r *Root) releaseEmptySuperPagesLocked() {
	released := make(map[*superPage]bool)
	var prev *superPage
	for sp := r.firstSuper; sp != nil; {
		next := sp.next
		if sp.committed != 0 {
			prev = sp
			sp = next
			continue
		}
		if prev != nil {
			prev.next = next
		} else {
			r.firstSuper = next
		}
		if r.lastSuper == sp {
			r.lastSuper = prev
		}
		delete(r.superPages, sp.id())
		r.numSuperPages--
		released[sp] = true
		if r.curSuper == sp {
			r.curSuper = nil
		}
		if err := sp.res.Release(); err != nil {
			debugLogf("super page release failed: %v", err)
		}
		sp = next
	}
	if len(released) == 0 {
		return
	}
	for i := range r.buckets {
		b := &r.buckets[i]
		var keep *SlotSpan
		for span := b.decommittedHead; span != nil; {
			next := span.next
			if !released[span.sp] {
				span.next = keep
				keep = span
			}
			span = next
		}
		b.decommittedHead = keep
	}
}
