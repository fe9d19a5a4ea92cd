// Package reclaim periodically returns unused partition memory to the OS.
package reclaim

import (
	"context"
	"sync"
	"time"

	"github.com/joshuapare/partkit/part"
)

// DefaultInterval between background reclaim passes.
const DefaultInterval = 4 * time.Second

// Reclaimer runs purge passes over a set of registered roots. Roots
// register at creation and unregister before teardown.
type Reclaimer struct {
	mu    sync.Mutex
	roots map[*part.Root]struct{}
}

func New() *Reclaimer {
	return &Reclaimer{roots: make(map[*part.Root]struct{})}
}

func (c *Reclaimer) Register(root *part.Root) {
	c.mu.Lock()
	c.roots[root] = struct{}{}
	c.mu.Unlock()
}

func (c *Reclaimer) Unregister(root *part.Root) {
	c.mu.Lock()
	delete(c.roots, root)
	c.mu.Unlock()
}

func (c *Reclaimer) snapshot() []*part.Root {
	c.mu.Lock()
	defer c.mu.Unlock()
	roots := make([]*part.Root, 0, len(c.roots))
	for root := range c.roots {
		roots = append(roots, root)
	}
	return roots
}

// ReclaimNormal decommits empty slot spans on every registered root. Cheap
// enough for a periodic timer.
func (c *Reclaimer) ReclaimNormal() {
	for _, root := range c.snapshot() {
		root.PurgeMemory(part.PurgeDecommitEmptySpans)
	}
}

// ReclaimAll additionally releases fully empty super pages. Used on memory
// pressure and before process snapshots.
func (c *Reclaimer) ReclaimAll() {
	for _, root := range c.snapshot() {
		root.PurgeMemory(part.PurgeDecommitEmptySpans | part.PurgeReleaseEmptySuperPages)
	}
}

// Start runs ReclaimNormal every interval until ctx is done. Blocks; run it
// on its own goroutine.
func (c *Reclaimer) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.ReclaimNormal()
		}
	}
}
