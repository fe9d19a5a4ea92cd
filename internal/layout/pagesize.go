package layout

import (
	"os"
	"sync"
)

// The system page size is the OS commit granularity. It is 4 KiB almost
// everywhere we run, but 16 KiB on some arm64 systems, so it is probed once
// and cached rather than hard-coded.

var systemPageSize = sync.OnceValue(func() int {
	size := os.Getpagesize()
	if size < 4096 {
		size = 4096
	}
	// A system page larger than a partition page would break span carving;
	// treat the partition page as the commit granularity in that case.
	if size > PartitionPageSize {
		size = PartitionPageSize
	}
	return size
})

// SystemPageSize returns the cached OS commit granularity.
func SystemPageSize() uint32 {
	return uint32(systemPageSize())
}

// NumSystemPagesPerPartitionPage returns how many system pages make up one
// partition page.
func NumSystemPagesPerPartitionPage() uint32 {
	return PartitionPageSize / SystemPageSize()
}
