package pcscan

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joshuapare/partkit/part"
)

// State of the scan driver. Transitions are CAS-guarded so overlapping
// triggers collapse into one scan.
type State int32

const (
	StateNotRunning State = iota
	StateScheduled
	StateScanning
	StateSweeping
)

// InvocationMode selects whether the caller of PerformScan waits for the
// scan to finish.
type InvocationMode int

const (
	NonBlocking InvocationMode = iota
	Blocking
)

// Config configures a scan driver. The zero value uses the
// mutator-utilization-aware backend with default tuning.
type Config struct {
	// Backend overrides the scheduling backend.
	Backend SchedulingBackend

	// MUAware tunes the default backend; ignored when Backend is set.
	MUAware MUAwareConfig

	// ScheduleDelayed runs fn after d. Defaults to time.AfterFunc. Tests
	// substitute a manual clock.
	ScheduleDelayed func(d time.Duration, fn func())
}

// PCScan owns the scan state machine for a set of partition roots. It is
// the QuarantineSink those roots free into.
//
// Scannable roots both quarantine their frees and have their live payloads
// visited for references; non-scannable roots only quarantine.
type PCScan struct {
	backend         SchedulingBackend
	scheduleDelayed func(d time.Duration, fn func())

	mu         sync.Mutex
	roots      []*part.Root
	extraRoots [][]byte

	state      atomic.Int32
	safepoints atomic.Bool
	job        atomic.Pointer[scanJob]

	processName string

	logScans bool
}

func New(cfg Config) *PCScan {
	backend := cfg.Backend
	if backend == nil {
		backend = NewMUAwareTaskBasedBackend(cfg.MUAware)
	}
	sched := cfg.ScheduleDelayed
	if sched == nil {
		sched = func(d time.Duration, fn func()) { time.AfterFunc(d, fn) }
	}
	return &PCScan{
		backend:         backend,
		scheduleDelayed: sched,
		logScans:        os.Getenv("PARTKIT_LOG_SCAN") != "",
	}
}

// RegisterScannableRoot wires a root whose payloads may hold references and
// must therefore be visited during scans.
func (p *PCScan) RegisterScannableRoot(r *part.Root) {
	r.EnableQuarantine(p, true)
	p.mu.Lock()
	p.roots = append(p.roots, r)
	p.mu.Unlock()
}

// RegisterNonScannableRoot wires a root that quarantines its frees but is
// known to never store references, so its payloads are skipped when
// scanning.
func (p *PCScan) RegisterNonScannableRoot(r *part.Root) {
	r.EnableQuarantine(p, false)
	p.mu.Lock()
	p.roots = append(p.roots, r)
	p.mu.Unlock()
}

// RegisterExtraRoot adds a memory region outside any partition (globals, a
// pinned stack copy) that is scanned for references each cycle.
func (p *PCScan) RegisterExtraRoot(region []byte) {
	p.mu.Lock()
	p.extraRoots = append(p.extraRoots, region)
	p.mu.Unlock()
}

// EnableSafepoints lets mutator threads join a running scan from the
// allocator's Safepoint hook instead of merely continuing past it.
func (p *PCScan) EnableSafepoints() { p.safepoints.Store(true) }

// SetProcessName annotates scan log lines.
func (p *PCScan) SetProcessName(name string) {
	p.mu.Lock()
	p.processName = name
	p.mu.Unlock()
}

// State returns the driver's current state.
func (p *PCScan) State() State { return State(p.state.Load()) }

// AccountFreed implements part.QuarantineSink.
func (p *PCScan) AccountFreed(bytes uintptr) {
	size := p.backend.Quarantine().AccountFreed(uint64(bytes))
	switch p.backend.AfterFree(size) {
	case DecisionScheduleImmediate:
		p.PerformScan(NonBlocking)
	case DecisionScheduleDelayed:
		p.scheduleDelayed(p.backend.DelayBeforeScan(), func() {
			p.PerformScanIfNeeded(NonBlocking)
		})
	}
}

// Epoch implements part.QuarantineSink.
func (p *PCScan) Epoch() uint64 { return p.backend.Quarantine().Epoch() }

// Safepoint implements part.QuarantineSink. When safepoints are enabled and
// a scan is in its scanning phase, the calling goroutine steals scan work
// before returning to the allocator.
func (p *PCScan) Safepoint() {
	if !p.safepoints.Load() || p.State() != StateScanning {
		return
	}
	if job := p.job.Load(); job != nil {
		job.drain()
	}
}

// PerformScan starts a scan if none is in flight. With Blocking the call
// returns after sweeping completes; with NonBlocking the scan runs on its
// own goroutine. Returns false if a scan was already running or scheduled.
func (p *PCScan) PerformScan(mode InvocationMode) bool {
	if !p.state.CompareAndSwap(int32(StateNotRunning), int32(StateScheduled)) {
		return false
	}
	if mode == Blocking {
		p.runScan()
	} else {
		go p.runScan()
	}
	return true
}

// PerformScanIfNeeded starts a scan only when quarantined bytes are
// pending. The delayed-scan timer lands here, so a timer firing after an
// immediate scan already emptied the quarantine is a no-op.
func (p *PCScan) PerformScanIfNeeded(mode InvocationMode) bool {
	if p.backend.Quarantine().Size() == 0 {
		return false
	}
	return p.PerformScan(mode)
}

// JoinScanIfNeeded lets the caller contribute to a running scan and then
// waits for the whole cycle, sweep included, to finish. A no-op when no
// scan is in flight.
func (p *PCScan) JoinScanIfNeeded() {
	job := p.job.Load()
	if job == nil {
		return
	}
	job.drain()
	<-job.done
}
