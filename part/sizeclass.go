package part

import (
	"sort"
	"sync"

	"github.com/joshuapare/partkit/internal/layout"
)

// Size classes follow a near-geometric progression: every power of two from
// MinBucketedSize up to MaxBucketedSize, with up to three evenly spaced
// intermediate classes per octave. This bounds internal fragmentation to a
// small constant factor of the request while keeping the bucket count modest.
//
// The table is process-wide and immutable; every Root shares it, mirroring
// the fact that size classes are an arithmetic property, not a per-partition
// policy.

const classesPerOctave = 4

type sizeClassTable struct {
	// slotSizes is ascending; slotSizes[i] is bucket i's slot size.
	slotSizes []uint32
}

var classTable = sync.OnceValue(buildSizeClassTable)

func buildSizeClassTable() *sizeClassTable {
	t := &sizeClassTable{slotSizes: make([]uint32, 0, 96)}
	for base := uint32(layout.MinBucketedSize); base < layout.MaxBucketedSize; base *= 2 {
		step := base / classesPerOctave
		if step < layout.SlotAlignment {
			step = layout.SlotAlignment
		}
		for size := base; size < base*2 && size <= layout.MaxBucketedSize; size += step {
			aligned := layout.AlignUpSlot(size)
			n := len(t.slotSizes)
			if n == 0 || t.slotSizes[n-1] < aligned {
				t.slotSizes = append(t.slotSizes, aligned)
			}
		}
	}
	n := len(t.slotSizes)
	if n == 0 || t.slotSizes[n-1] != layout.MaxBucketedSize {
		t.slotSizes = append(t.slotSizes, layout.MaxBucketedSize)
	}
	return t
}

func (t *sizeClassTable) numClasses() int { return len(t.slotSizes) }

// classIndex returns the bucket index for a request of the given size.
// The caller guarantees size <= MaxBucketedSize.
func (t *sizeClassTable) classIndex(size uintptr) int {
	return sort.Search(len(t.slotSizes), func(i int) bool {
		return uintptr(t.slotSizes[i]) >= size
	})
}

// NumBuckets returns the number of size classes a Root maintains.
func NumBuckets() int { return classTable().numClasses() }

// BucketSlotSize returns the slot size of bucket i. Useful for tests and
// statistics consumers that want to iterate the class space.
func BucketSlotSize(i int) uint32 { return classTable().slotSizes[i] }
