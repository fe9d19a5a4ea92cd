package arena

import (
	"math/rand/v2"
	"runtime"

	"github.com/joshuapare/partkit/internal/layout"
)

// Randomized placement bias. Reservations are requested at a randomized,
// super-page-aligned base so that heap layout is not predictable across runs.
// The usable entropy depends on the virtual address width of the
// architecture; the kernel is free to ignore the hint, so this biases
// placement rather than guaranteeing it.

// aslrMask returns the address mask bounding randomized placement hints for
// the current architecture.
func aslrMask() uint64 {
	switch runtime.GOARCH {
	case "amd64":
		// 47-bit user VA on x86-64; stay below the canonical boundary.
		return (1 << 46) - 1
	case "arm64":
		// 39-bit VA is the common kernel default on arm64.
		return (1 << 38) - 1
	case "ppc64", "ppc64le", "s390x", "riscv64", "loong64", "mips64", "mips64le":
		return (1 << 40) - 1
	default:
		// 32-bit targets: keep hints inside the low 2 GiB.
		return (1 << 30) - 1
	}
}

// randomPlacementHint returns a super-page-aligned address hint for the next
// reservation.
func randomPlacementHint() uintptr {
	base := rand.Uint64() & aslrMask()
	return uintptr(base &^ uint64(layout.SuperPageSize-1))
}
