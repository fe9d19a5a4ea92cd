package layout

// Geometry of the reserved address space managed by the allocator.
//
// A super page is the unit of reservation: 2 MiB, always 2 MiB-aligned in
// offset arithmetic. It is subdivided into partition pages (16 KiB), which are
// themselves runs of system pages (the OS commit granularity, probed at
// startup). The first and last partition page of every super page are never
// handed out: the first holds the guard region in front of the payload, the
// last is a tail guard.
const (
	// SuperPageShift is log2 of the super page size.
	SuperPageShift = 21

	// SuperPageSize is the unit of address-space reservation (2 MiB).
	SuperPageSize = 1 << SuperPageShift

	// SuperPageOffsetMask extracts the offset of an address within its
	// super page.
	SuperPageOffsetMask = SuperPageSize - 1

	// SuperPageBaseMask extracts the super page base of an address.
	SuperPageBaseMask = ^uint64(SuperPageOffsetMask)

	// PartitionPageShift is log2 of the partition page size.
	PartitionPageShift = 14

	// PartitionPageSize is the granularity at which slot spans are carved
	// out of a super page (16 KiB).
	PartitionPageSize = 1 << PartitionPageShift

	// NumPartitionPagesPerSuperPage is 128 for the 2 MiB / 16 KiB split.
	NumPartitionPagesPerSuperPage = SuperPageSize / PartitionPageSize

	// MaxPartitionPagesPerRegularSlotSpan bounds the size of a multi-slot
	// span. Buckets whose slot size exceeds this span capacity fall back to
	// single-slot spans.
	MaxPartitionPagesPerRegularSlotSpan = 4

	// SlotAlignment is the minimum alignment of every slot size and every
	// slot start offset. It is also the granularity of the quarantine
	// bitmaps.
	SlotAlignment = 16

	// MinBucketedSize is the smallest slot size. Requests below it round up.
	MinBucketedSize = 16

	// MaxBucketedSize is the largest slot size served from buckets (1 MiB).
	// Larger requests are direct-mapped. Keeping this at 2^20 together with
	// the 2^21 super page offset domain is what makes the reciprocal
	// multiplication in slot-number computation provably exact.
	MaxBucketedSize = 1 << 20

	// MaxAllocationSize is an absolute sanity ceiling (1 GiB), independent
	// of available memory. Requests above it indicate a corrupted or
	// hostile size computation and are fatal.
	MaxAllocationSize = 1 << 30
)

// Reciprocal-multiplication constants. Dividing an in-span offset by the slot
// size is replaced by ((offset * reciprocal) >> ReciprocalShift), where
// reciprocal = ReciprocalMask/slotSize + 1. Exact for
// offset < 2^21 and slotSize <= 2^20, i.e. everything bucketed.
const (
	ReciprocalShift = 42
	ReciprocalMask  = (uint64(1) << ReciprocalShift) - 1
)

// SlotSizeReciprocal returns the multiplier used to replace division by
// slotSize on the free path.
func SlotSizeReciprocal(slotSize uint32) uint64 {
	return ReciprocalMask/uint64(slotSize) + 1
}
