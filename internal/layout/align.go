package layout

// Alignment utilities. Slot sizes and in-span offsets are 16-byte aligned,
// span reservations are partition-page aligned, and commit ranges are
// system-page aligned.

// AlignUpSlot returns n aligned up to the next SlotAlignment boundary.
func AlignUpSlot(n uint32) uint32 {
	return (n + SlotAlignment - 1) &^ (SlotAlignment - 1)
}

// AlignUpSystemPage returns n aligned up to the next system page boundary.
func AlignUpSystemPage(n uint32) uint32 {
	page := SystemPageSize()
	return (n + page - 1) &^ (page - 1)
}

// AlignUpPartitionPage returns n aligned up to the next partition page
// boundary.
func AlignUpPartitionPage(n uint32) uint32 {
	return (n + PartitionPageSize - 1) &^ (PartitionPageSize - 1)
}

// AlignUpSuperPage returns n aligned up to the next super page boundary.
// uint64 so direct-map reservation sizing cannot overflow.
func AlignUpSuperPage(n uint64) uint64 {
	return (n + SuperPageSize - 1) &^ uint64(SuperPageSize-1)
}
