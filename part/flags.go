package part

// AllocFlags adjust the behavior of a single allocation.
type AllocFlags uint32

const (
	// AllocZeroFill requests zeroed memory. Skipped internally when the OS
	// is known to have handed back zero-filled pages.
	AllocZeroFill AllocFlags = 1 << iota

	// AllocReturnNull converts the fatal out-of-memory path into a nil
	// return. The caller must check the returned payload.
	AllocReturnNull
)
