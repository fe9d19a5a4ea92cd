package layout

import "testing"

func TestAlignUpSlot(t *testing.T) {
	cases := []struct{ in, want uint32 }{
		{0, 0},
		{1, 16},
		{16, 16},
		{17, 32},
		{4095, 4096},
	}
	for _, c := range cases {
		if got := AlignUpSlot(c.in); got != c.want {
			t.Errorf("AlignUpSlot(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestAlignUpPartitionPage(t *testing.T) {
	if got := AlignUpPartitionPage(1); got != PartitionPageSize {
		t.Errorf("AlignUpPartitionPage(1) = %d, want %d", got, PartitionPageSize)
	}
	if got := AlignUpPartitionPage(PartitionPageSize); got != PartitionPageSize {
		t.Errorf("AlignUpPartitionPage(page) = %d, want %d", got, PartitionPageSize)
	}
}

func TestAlignUpSuperPage(t *testing.T) {
	if got := AlignUpSuperPage(SuperPageSize + 1); got != 2*SuperPageSize {
		t.Errorf("AlignUpSuperPage(super+1) = %d, want %d", got, 2*SuperPageSize)
	}
}

func TestSystemPageSizeSane(t *testing.T) {
	size := SystemPageSize()
	if size < 4096 || size > PartitionPageSize {
		t.Fatalf("SystemPageSize() = %d out of range", size)
	}
	if size&(size-1) != 0 {
		t.Fatalf("SystemPageSize() = %d not a power of two", size)
	}
	if NumSystemPagesPerPartitionPage()*size != PartitionPageSize {
		t.Fatalf("partition page not a whole number of system pages")
	}
}

// TestReciprocalExactness verifies the multiply-and-shift replacement for
// division over the full bucketed domain boundaries: every 16-byte aligned
// slot size up to MaxBucketedSize, against offsets spread over the super page
// offset range.
func TestReciprocalExactness(t *testing.T) {
	for slotSize := uint32(MinBucketedSize); slotSize <= MaxBucketedSize; slotSize *= 2 {
		for _, step := range []uint32{0, SlotAlignment, slotSize / 2, slotSize - SlotAlignment} {
			size := slotSize + step
			if size > MaxBucketedSize {
				continue
			}
			recip := SlotSizeReciprocal(size)
			for off := uint64(0); off < SuperPageSize; off += uint64(size) {
				got := (off * recip) >> ReciprocalShift
				want := off / uint64(size)
				if got != want {
					t.Fatalf("reciprocal mismatch: off=%d size=%d got=%d want=%d", off, size, got, want)
				}
				// Interior offsets must floor the same way.
				mid := off + uint64(size)/2
				if mid < SuperPageSize {
					got = (mid * recip) >> ReciprocalShift
					if got != want {
						t.Fatalf("reciprocal interior mismatch: off=%d size=%d got=%d want=%d", mid, size, got, want)
					}
				}
			}
		}
	}
}

func TestWordRoundTrip(t *testing.T) {
	buf := make([]byte, 16)
	PutWord(buf, 8, 0xdeadbeefcafef00d)
	if got := GetWord(buf, 8); got != 0xdeadbeefcafef00d {
		t.Fatalf("GetWord = %#x", got)
	}
	if got := GetWord(buf, 0); got != 0 {
		t.Fatalf("GetWord(0) = %#x, want 0", got)
	}
}
