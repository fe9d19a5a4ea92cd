package pcscan

import (
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joshuapare/partkit/internal/layout"
	"github.com/joshuapare/partkit/part"
)

// scanJob is one scan cycle's shared work state. Scan units are closures in
// a pre-filled, closed channel; the scan goroutine and any mutators joining
// at a safepoint pull from it until empty. Marking is bitmap-CAS based, so
// units are safe to run concurrently.
type scanJob struct {
	units    chan func()
	wg       sync.WaitGroup
	survived atomic.Uint64
	done     chan struct{}
}

func (j *scanJob) drain() {
	for fn := range j.units {
		fn()
		j.wg.Done()
	}
}

// runScan executes one full cycle: snapshot, clear, scan, sweep.
func (p *PCScan) runScan() {
	start := time.Now()

	// Advance the epoch first: from here on, frees mark the other bitmap
	// parity and belong to the next cycle.
	data := p.backend.Quarantine()
	data.Reset()
	scanEpoch := data.Epoch()

	p.mu.Lock()
	roots := make([]*part.Root, len(p.roots))
	copy(roots, p.roots)
	extra := make([][]byte, len(p.extraRoots))
	copy(extra, p.extraRoots)
	name := p.processName
	p.mu.Unlock()

	views := make([]*part.ScanView, 0, len(roots))
	byArena := make(map[uint32]*part.ScanView)
	for _, r := range roots {
		v := r.NewScanView(scanEpoch)
		views = append(views, v)
		for _, id := range v.Arenas() {
			byArena[id] = v
		}
	}

	// Dead quarantined objects must not keep other quarantined objects
	// alive through their stale payloads.
	for _, v := range views {
		v.ClearQuarantined()
	}

	p.state.Store(int32(StateScanning))

	job := &scanJob{
		units: make(chan func(), len(views)+len(extra)),
		done:  make(chan struct{}),
	}
	mark := func(payload []byte) {
		var found uint64
		for off := 0; off+8 <= len(payload); off += 8 {
			word := binary.LittleEndian.Uint64(payload[off:])
			if word == 0 {
				continue
			}
			owner := byArena[uint32(word>>layout.SuperPageShift)]
			if owner == nil {
				continue
			}
			found += uint64(owner.MarkIfQuarantined(word))
		}
		if found != 0 {
			job.survived.Add(found)
		}
	}
	for _, v := range views {
		if !v.Scannable() {
			continue
		}
		v := v
		job.wg.Add(1)
		job.units <- func() { v.VisitScannable(mark) }
	}
	for _, region := range extra {
		region := region
		job.wg.Add(1)
		job.units <- func() { mark(region) }
	}
	close(job.units)
	p.job.Store(job)

	job.drain()
	job.wg.Wait()

	p.state.Store(int32(StateSweeping))
	var swept uint64
	for _, v := range views {
		swept += uint64(v.SweepUnmarked())
	}

	var heapSize uint64
	for _, r := range roots {
		heapSize += uint64(r.CommittedBytes())
	}
	survived := job.survived.Load()
	p.backend.UpdateAfterScan(survived, time.Since(start), heapSize)

	p.job.Store(nil)
	p.state.Store(int32(StateNotRunning))
	close(job.done)

	if p.logScans {
		logScanf("[%s] scan done in %v: survived=%d swept=%d heap=%d",
			name, time.Since(start), survived, swept, heapSize)
	}
}
