package part

// BucketStats describes one size class's spans at the time of a dump.
type BucketStats struct {
	SlotSize            uint32
	NumActiveSpans      uint32
	NumFullSpans        uint32
	NumEmptySpans       uint32
	NumDecommittedSpans uint32
	ActiveBytes         uint64
	ResidentBytes       uint64
}

// PartitionStats aggregates a Root's memory footprint.
type PartitionStats struct {
	TotalCommittedBytes uint64
	TotalActiveBytes    uint64
	DirectMapBytes      uint64
	QuarantinedBytes    uint64
	NumSuperPages       uint32
	NumDirectMaps       uint32
}

// StatsDumper receives the results of DumpStats. DumpTotals is called once,
// then DumpBucket once per size class that has any spans.
type StatsDumper interface {
	DumpTotals(stats PartitionStats)
	DumpBucket(stats BucketStats)
}

// DumpStats walks all span metadata under the Root lock and reports it
// through d. Callbacks run with the lock held and must not call back into
// the Root.
func (r *Root) DumpStats(d StatsDumper) {
	r.mu.Lock()
	defer r.mu.Unlock()

	perBucket := make([]BucketStats, len(r.buckets))
	for i := range r.buckets {
		perBucket[i].SlotSize = r.buckets[i].slotSize
	}
	var quarantined uint64
	for sp := r.firstSuper; sp != nil; sp = sp.next {
		for pi := range sp.pages {
			span := sp.pages[pi].span
			if span == nil {
				continue
			}
			b := span.bucket
			bs := &perBucket[r.classes.classIndex(uintptr(b.slotSize))]
			switch {
			case span.isDecommitted():
				bs.NumDecommittedSpans++
			case span.isEmpty():
				bs.NumEmptySpans++
				bs.ResidentBytes += uint64(span.spanBytes())
			case span.isFull():
				bs.NumFullSpans++
				bs.ActiveBytes += uint64(span.numAllocated) * uint64(b.slotSize)
				bs.ResidentBytes += uint64(span.spanBytes())
			default:
				bs.NumActiveSpans++
				bs.ActiveBytes += uint64(span.numAllocated) * uint64(b.slotSize)
				bs.ResidentBytes += uint64(span.spanBytes())
			}
		}
		for parity := 0; parity < 2; parity++ {
			bm := sp.quarantine[parity]
			if bm == nil {
				continue
			}
			bm.forEachSet(func(off uint32) {
				if span := sp.spanOf(off); span != nil {
					quarantined += uint64(span.bucket.slotSize)
				}
			})
		}
	}

	d.DumpTotals(PartitionStats{
		TotalCommittedBytes: r.totalCommitted,
		TotalActiveBytes:    r.totalAllocated,
		DirectMapBytes:      r.directMapped,
		QuarantinedBytes:    quarantined,
		NumSuperPages:       r.numSuperPages,
		NumDirectMaps:       uint32(len(r.directMaps)),
	})
	for i := range perBucket {
		bs := &perBucket[i]
		if bs.NumActiveSpans|bs.NumFullSpans|bs.NumEmptySpans|bs.NumDecommittedSpans == 0 {
			continue
		}
		d.DumpBucket(*bs)
	}
}
