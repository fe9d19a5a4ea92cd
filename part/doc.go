// Package part implements a partitioned slab allocator: raw address space is
// reserved in 2 MiB super pages, carved into size-classed slot spans, and
// handed out as individually sized slots with O(1) free-list operations.
//
// # Overview
//
// A Root is one allocator instance (a partition). It owns one bucket per
// supported size class, the super pages it has reserved, and a single lock
// guarding all bucket and slot-span mutation. Requests above the largest
// bucketed class bypass the span machinery entirely and are direct-mapped.
//
// # Addressing
//
// Memory is addressed as (arena id, offset) pairs packed into a Ref. A super
// page is an arena; recovering the owning slot span from a Ref is a lookup
// against the super page's fixed metadata table, not pointer arithmetic. The
// payload of an allocation is returned as a byte slice into the committed
// region of its arena.
//
// # Buckets and slot spans
//
// Each bucket keeps three slot-span lists:
//
//   - active: spans currently serving allocations, head never nil (a shared
//     zero-capacity sentinel stands in when the bucket is exhausted)
//   - empty: spans with no live slots, pages still committed
//   - decommitted: spans whose pages have been returned to the OS
//
// Full spans are unlinked from the active list and only counted; a free
// against a full span reinserts it at the active head. The slot index of an
// offset is computed with a reciprocal multiplication instead of a division
// on the hot free path; see SlotSizeReciprocal in internal/layout.
//
// # Quarantine
//
// When a quarantine sink is installed (see part/pcscan), Free does not push
// the slot back onto its span's free list. Instead the slot is marked in a
// per-super-page bitmap and the sink is told how many bytes entered
// quarantine; the real free happens when a scan proves the slot unreachable.
// Quarantining a slot that is already quarantined is a double free and is
// fatal.
//
// # Error handling
//
// The allocator never returns errors from the hot paths. Out-of-memory is
// fatal by default (after invoking the root's OOM hook), unless the caller
// passes AllocReturnNull. Corruption - a bad free-list entry, a Ref that
// resolves to no span, a double free - is always fatal: it indicates a
// memory-safety violation, and recovery would be unsound. Fatal paths panic
// with a *FatalError wrapping one of the sentinel errors in this package.
//
// # Thread safety
//
// All exported Root methods are safe for concurrent use. Mutating operations
// on a Root's buckets are linearized by the Root's lock; independent Roots
// never contend. EnableQuarantine must be called before the Root is shared
// across goroutines.
package part
