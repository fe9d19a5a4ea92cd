//go:build linux

package arena

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// reserve maps an inaccessible anonymous range at a randomized hint address.
// The hint is advisory (no MAP_FIXED), so the kernel may place the mapping
// elsewhere; either way the range comes back PROT_NONE and must be committed
// before use.
func reserve(size int) ([]byte, func() error, error) {
	hint := randomPlacementHint()
	p, err := unix.MmapPtr(-1, 0, unsafe.Pointer(hint), uintptr(size),
		unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, nil, err
	}
	data := unsafe.Slice((*byte)(p), size)
	cleanup := func() error {
		return unix.MunmapPtr(p, uintptr(size))
	}
	return data, cleanup, nil
}

// commit makes the range accessible. Anonymous pages fault in zero-filled on
// linux, including pages previously MADV_DONTNEED'd, so committed memory is
// always known-zero here.
func commit(sub []byte) (bool, error) {
	if err := unix.Mprotect(sub, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return false, err
	}
	return true, nil
}

// decommit drops the backing pages and makes the range inaccessible again.
func decommit(sub []byte) error {
	if err := unix.Madvise(sub, unix.MADV_DONTNEED); err != nil {
		return err
	}
	return unix.Mprotect(sub, unix.PROT_NONE)
}
