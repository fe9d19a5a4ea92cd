// Package arena reserves and manages the raw address ranges backing the
// allocator: super pages and direct-map regions.
//
// A reservation is exposed as a byte slice ("arena") plus a process-unique id.
// Callers address memory as (arena id, offset) pairs instead of raw pointers,
// which keeps the bit-packed reference scheme of the allocator memory-safe.
// On unix the range is mapped inaccessible at reserve time and committed and
// decommitted at system-page granularity; elsewhere a plain byte slice stands
// in, with the same contract (decommitted contents are undefined, committed
// pages arrive zeroed).
package arena

import (
	"fmt"
	"sync/atomic"

	"github.com/joshuapare/partkit/internal/layout"
)

// nextID hands out process-unique arena ids. Id 0 is never used, so a zero
// reference can mean "no allocation".
var nextID atomic.Uint32

// Reservation is one contiguous reserved address range.
type Reservation struct {
	id      uint32
	data    []byte
	release func() error
}

// Reserve reserves size bytes of address space without committing it.
// size must be a multiple of the system page size.
func Reserve(size int) (*Reservation, error) {
	if size <= 0 || size%int(layout.SystemPageSize()) != 0 {
		return nil, fmt.Errorf("arena: reserve size %d not system-page aligned", size)
	}
	data, release, err := reserve(size)
	if err != nil {
		return nil, fmt.Errorf("arena: reserve %d bytes: %w", size, err)
	}
	return &Reservation{
		id:      nextID.Add(1),
		data:    data,
		release: release,
	}, nil
}

// ID returns the process-unique id of this reservation.
func (r *Reservation) ID() uint32 { return r.id }

// Size returns the reserved length in bytes.
func (r *Reservation) Size() int { return len(r.data) }

// Bytes returns the full reserved range. Only committed subranges may be
// touched; on unix, reading or writing a decommitted page faults.
func (r *Reservation) Bytes() []byte { return r.data }

// Commit makes [off, off+length) readable and writable. Both bounds must be
// system-page aligned. The second return value reports whether the committed
// pages are known to be zero-filled, letting callers skip an explicit clear.
func (r *Reservation) Commit(off, length int) ([]byte, bool, error) {
	if err := r.checkRange(off, length); err != nil {
		return nil, false, err
	}
	sub := r.data[off : off+length]
	zeroed, err := commit(sub)
	if err != nil {
		return nil, false, fmt.Errorf("arena: commit [%d,%d): %w", off, off+length, err)
	}
	return sub, zeroed, nil
}

// Decommit returns [off, off+length) to the OS. The range stays reserved and
// its contents become undefined; it must be committed again before use.
func (r *Reservation) Decommit(off, length int) error {
	if err := r.checkRange(off, length); err != nil {
		return err
	}
	if err := decommit(r.data[off : off+length]); err != nil {
		return fmt.Errorf("arena: decommit [%d,%d): %w", off, off+length, err)
	}
	return nil
}

// Release unmaps the whole reservation. The Reservation must not be used
// afterwards.
func (r *Reservation) Release() error {
	if r.release == nil {
		return nil
	}
	rel := r.release
	r.release = nil
	r.data = nil
	return rel()
}

func (r *Reservation) checkRange(off, length int) error {
	page := int(layout.SystemPageSize())
	if off < 0 || length <= 0 || off+length > len(r.data) {
		return fmt.Errorf("arena: range [%d,%d) outside reservation of %d bytes", off, off+length, len(r.data))
	}
	if off%page != 0 || length%page != 0 {
		return fmt.Errorf("arena: range [%d,%d) not system-page aligned", off, off+length)
	}
	return nil
}
