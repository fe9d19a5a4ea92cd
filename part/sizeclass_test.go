package part

import (
	"testing"

	"github.com/joshuapare/partkit/internal/layout"
)

func TestSizeClassTableShape(t *testing.T) {
	table := classTable()
	if table.numClasses() == 0 {
		t.Fatal("empty size class table")
	}
	if table.slotSizes[0] != layout.MinBucketedSize {
		t.Fatalf("first class = %d, want %d", table.slotSizes[0], layout.MinBucketedSize)
	}
	if last := table.slotSizes[table.numClasses()-1]; last != layout.MaxBucketedSize {
		t.Fatalf("last class = %d, want %d", last, layout.MaxBucketedSize)
	}
	for i := 1; i < table.numClasses(); i++ {
		if table.slotSizes[i] <= table.slotSizes[i-1] {
			t.Fatalf("classes not strictly ascending at %d: %d then %d",
				i, table.slotSizes[i-1], table.slotSizes[i])
		}
	}
	for i, size := range table.slotSizes {
		if size%layout.SlotAlignment != 0 {
			t.Errorf("class %d size %d not slot aligned", i, size)
		}
	}
}

func TestClassIndexCoversRequest(t *testing.T) {
	table := classTable()
	for size := uintptr(1); size <= layout.MaxBucketedSize; size += 97 {
		i := table.classIndex(size)
		if got := uintptr(table.slotSizes[i]); got < size {
			t.Fatalf("classIndex(%d) -> slot size %d, smaller than request", size, got)
		}
		if i > 0 && uintptr(table.slotSizes[i-1]) >= size {
			t.Fatalf("classIndex(%d) = %d, but class %d already fits", size, i, i-1)
		}
	}
}

func TestClassIndexExactSizes(t *testing.T) {
	table := classTable()
	for i, size := range table.slotSizes {
		if got := table.classIndex(uintptr(size)); got != i {
			t.Fatalf("classIndex(%d) = %d, want %d", size, got, i)
		}
	}
}

func TestSpanGeometryWaste(t *testing.T) {
	for i := 0; i < NumBuckets(); i++ {
		size := BucketSlotSize(i)
		pages, slots := spanGeometry(size)
		if pages == 0 {
			t.Fatalf("class %d: zero pages per span", size)
		}
		if pages > layout.MaxPartitionPagesPerRegularSlotSpan && slots != 1 {
			t.Fatalf("class %d: %d pages with %d slots", size, pages, slots)
		}
		spanBytes := uint32(pages) * layout.PartitionPageSize
		if uint32(slots)*size > spanBytes {
			t.Fatalf("class %d: %d slots overflow %d span bytes", size, slots, spanBytes)
		}
		if slots == 0 {
			t.Fatalf("class %d: zero slots per span", size)
		}
	}
}

func TestSlotNumberMatchesDivision(t *testing.T) {
	for i := 0; i < NumBuckets(); i++ {
		var b Bucket
		b.init(BucketSlotSize(i))
		spanBytes := uint32(b.partitionPagesPerSpan) * layout.PartitionPageSize
		for off := uint32(0); off < spanBytes; off += b.slotSize/2 + 1 {
			if got, want := b.slotNumber(off), off/b.slotSize; got != want {
				t.Fatalf("class %d: slotNumber(%d) = %d, want %d", b.slotSize, off, got, want)
			}
		}
	}
}
