//go:build !unix

package arena

// Fallback for platforms without the unix mmap surface: a plain byte slice.
// There is no real reserve/commit distinction, so decommit zeroes the range
// to preserve the "committed pages arrive zeroed" contract.

func reserve(size int) ([]byte, func() error, error) {
	data := make([]byte, size)
	return data, func() error { return nil }, nil
}

func commit(sub []byte) (bool, error) {
	return true, nil
}

func decommit(sub []byte) error {
	clear(sub)
	return nil
}
