package acceptance

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/partkit/part"
)

// newRoot creates a fresh partition root for one test.
func newRoot(t *testing.T) *part.Root {
	t.Helper()
	return part.NewRoot(part.Options{})
}

// allocAll allocates count objects of the given size and returns their refs.
func allocAll(t *testing.T, root *part.Root, count int, size uintptr) []part.Ref {
	t.Helper()
	refs := make([]part.Ref, count)
	for i := range refs {
		ref, payload := root.Alloc(size, 0)
		require.NotZero(t, ref, "allocation %d returned nil ref", i)
		require.GreaterOrEqual(t, uintptr(len(payload)), size,
			"allocation %d payload too small", i)
		refs[i] = ref
	}
	return refs
}

// freeAll frees refs in order.
func freeAll(root *part.Root, refs []part.Ref) {
	for _, ref := range refs {
		root.Free(ref)
	}
}
