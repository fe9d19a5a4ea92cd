//go:build unix && !linux

package arena

import (
	"golang.org/x/sys/unix"
)

// reserve maps an inaccessible anonymous range. Placement randomization is
// left to the kernel's own mmap ASLR on these platforms.
func reserve(size int) ([]byte, func() error, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error {
		return unix.Munmap(data)
	}
	return data, cleanup, nil
}

func commit(sub []byte) (bool, error) {
	if err := unix.Mprotect(sub, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return false, err
	}
	// Fresh anonymous pages are zero-filled on every unix we support.
	return true, nil
}

func decommit(sub []byte) error {
	if err := unix.Madvise(sub, unix.MADV_DONTNEED); err != nil {
		return err
	}
	return unix.Mprotect(sub, unix.PROT_NONE)
}
