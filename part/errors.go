package part

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfMemory indicates address-space exhaustion or a commit failure.
	ErrOutOfMemory = errors.New("part: out of memory")

	// ErrCorruption indicates a corrupted free-list entry or metadata that
	// does not resolve to a valid slot. Always fatal.
	ErrCorruption = errors.New("part: heap corruption detected")

	// ErrDoubleFree indicates a slot was quarantined twice. Always fatal.
	ErrDoubleFree = errors.New("part: double free detected")

	// ErrExcessiveSize indicates a request above the absolute sanity
	// ceiling, independent of available memory. Distinguished from
	// ErrOutOfMemory for crash triage.
	ErrExcessiveSize = errors.New("part: allocation size exceeds sanity limit")
)

// FatalError is the value carried by panics raised on unrecoverable
// conditions. The wrapped sentinel tells crash tooling whether the process
// died of OOM or of corruption.
type FatalError struct {
	Err    error
	Size   uintptr
	Detail string
}

func (e *FatalError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%v (size=%d): %s", e.Err, e.Size, e.Detail)
	}
	return fmt.Sprintf("%v (size=%d)", e.Err, e.Size)
}

func (e *FatalError) Unwrap() error { return e.Err }

// fatal terminates the process by panicking with a FatalError. There is no
// recovery path: callers rely on allocator state being consistent, and these
// conditions mean it is not.
func fatal(err error, size uintptr, detail string) {
	panic(&FatalError{Err: err, Size: size, Detail: detail})
}
