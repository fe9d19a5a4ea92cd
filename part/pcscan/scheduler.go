// Package pcscan drives delayed reclamation of quarantined partition slots.
//
// Frees on a quarantine-enabled partition do not return slots to the free
// lists; they accumulate in per-super-page bitmaps until a scan proves no
// reachable reference into them exists. The scheduler in this file decides
// when a scan is worth running; the driver in pcscan.go runs it.
package pcscan

import (
	"sync"
	"sync/atomic"
	"time"
)

// MinQuarantineLimit is the floor for any computed quarantine limit, so
// tiny heaps are not scanned constantly.
const MinQuarantineLimit = 1 << 20

// QuarantineData tracks quarantine fill between scans. All fields are
// atomics: frees account concurrently from many goroutines.
type QuarantineData struct {
	current  atomic.Uint64
	limit    atomic.Uint64
	epoch    atomic.Uint64
	lastSize atomic.Uint64
}

func newQuarantineData() *QuarantineData {
	d := &QuarantineData{}
	d.limit.Store(MinQuarantineLimit)
	return d
}

// AccountFreed adds bytes to the quarantine and returns the new size.
func (d *QuarantineData) AccountFreed(bytes uint64) uint64 {
	return d.current.Add(bytes)
}

// Epoch returns the scan epoch. Incremented once per scan start; its low
// bit selects the bitmap parity freed slots are recorded under.
func (d *QuarantineData) Epoch() uint64 { return d.epoch.Load() }

// Size returns the bytes currently accounted as quarantined.
func (d *QuarantineData) Size() uint64 { return d.current.Load() }

// Limit returns the current scan-trigger limit.
func (d *QuarantineData) Limit() uint64 { return d.limit.Load() }

// LastSize returns the quarantine size captured by the latest Reset.
func (d *QuarantineData) LastSize() uint64 { return d.lastSize.Load() }

// Reset marks the start of a scan: the accumulated size is captured and
// zeroed (the scan owns those bytes now) and the epoch advances so
// concurrent frees land in the other bitmap parity.
func (d *QuarantineData) Reset() {
	d.lastSize.Store(d.current.Swap(0))
	d.epoch.Add(1)
}

// AccountSurvived re-adds bytes for quarantined objects a scan proved
// reachable; they stay quarantined for the next cycle.
func (d *QuarantineData) AccountSurvived(bytes uint64) {
	if bytes != 0 {
		d.current.Add(bytes)
	}
}

func (d *QuarantineData) growLimit(heapSize uint64, fraction float64) {
	limit := uint64(float64(heapSize) * fraction)
	if limit < MinQuarantineLimit {
		limit = MinQuarantineLimit
	}
	d.limit.Store(limit)
}

// Decision is a backend's verdict after one quarantined free.
type Decision uint8

const (
	// DecisionNone: keep accumulating.
	DecisionNone Decision = iota

	// DecisionScheduleImmediate: start a scan now.
	DecisionScheduleImmediate

	// DecisionScheduleDelayed: start a scan after DelayBeforeScan.
	DecisionScheduleDelayed
)

// SchedulingBackend decides when quarantine growth warrants a scan.
type SchedulingBackend interface {
	Quarantine() *QuarantineData

	// AfterFree is called with the quarantine size right after a free was
	// accounted.
	AfterFree(size uint64) Decision

	// DelayBeforeScan returns how long a DecisionScheduleDelayed scan
	// should wait before starting.
	DelayBeforeScan() time.Duration

	// UpdateAfterScan feeds the completed scan's results back: bytes that
	// survived in quarantine, wall time spent scanning, and the heap size
	// the next limits should be derived from.
	UpdateAfterScan(survived uint64, scanDuration time.Duration, heapSize uint64)
}

// DefaultQuarantineFraction is the quarantine limit as a fraction of
// committed heap used by the simple limit backend and as the soft limit of
// the utilization-aware one.
const DefaultQuarantineFraction = 0.1

// LimitBackend triggers a scan the moment the quarantine exceeds a fixed
// fraction of the heap. Simple and synchronous; the scan cost lands on
// whichever free crosses the limit.
type LimitBackend struct {
	data *QuarantineData
}

func NewLimitBackend() *LimitBackend {
	return &LimitBackend{data: newQuarantineData()}
}

func (b *LimitBackend) Quarantine() *QuarantineData { return b.data }

func (b *LimitBackend) AfterFree(size uint64) Decision {
	if size >= b.data.Limit() {
		return DecisionScheduleImmediate
	}
	return DecisionNone
}

func (b *LimitBackend) DelayBeforeScan() time.Duration { return 0 }

func (b *LimitBackend) UpdateAfterScan(survived uint64, scanDuration time.Duration, heapSize uint64) {
	b.data.AccountSurvived(survived)
	b.data.growLimit(heapSize, DefaultQuarantineFraction)
}

// MUAwareConfig holds the utilization-aware backend's tuning knobs. Zero
// values select the defaults. These constants shipped tuned for a browser
// renderer workload; treat them as starting points.
type MUAwareConfig struct {
	// SoftLimitFraction of the heap at which a delayed scan is scheduled.
	// Default 0.1.
	SoftLimitFraction float64

	// HardLimitFraction of the heap at which a scan starts immediately,
	// overriding any mutator-utilization delay. Default 0.5.
	HardLimitFraction float64

	// TargetMutatorUtilization is the minimum share of wall time the
	// mutator should keep; scans are pushed out far enough to honor it.
	// Default 0.9.
	TargetMutatorUtilization float64
}

func (c *MUAwareConfig) applyDefaults() {
	if c.SoftLimitFraction == 0 {
		c.SoftLimitFraction = DefaultQuarantineFraction
	}
	if c.HardLimitFraction == 0 {
		c.HardLimitFraction = 0.5
	}
	if c.TargetMutatorUtilization == 0 {
		c.TargetMutatorUtilization = 0.9
	}
}

// MUAwareTaskBasedBackend schedules scans off the free path. Crossing the
// soft limit books one delayed scan, timed so that scanning consumes at
// most 1-target of recent wall time; crossing the hard limit starts a scan
// immediately regardless.
type MUAwareTaskBasedBackend struct {
	data *QuarantineData
	cfg  MUAwareConfig

	mu               sync.Mutex
	hardLimit        uint64
	delayedScheduled bool
	lastScanDuration time.Duration
	lastScanEnd      time.Time

	now func() time.Time
}

// defaultScanDelay is used before the first scan establishes a history.
const defaultScanDelay = 10 * time.Millisecond

func NewMUAwareTaskBasedBackend(cfg MUAwareConfig) *MUAwareTaskBasedBackend {
	cfg.applyDefaults()
	b := &MUAwareTaskBasedBackend{
		data: newQuarantineData(),
		cfg:  cfg,
		now:  time.Now,
	}
	b.hardLimit = MinQuarantineLimit * 2
	return b
}

func (b *MUAwareTaskBasedBackend) Quarantine() *QuarantineData { return b.data }

func (b *MUAwareTaskBasedBackend) AfterFree(size uint64) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()
	if size >= b.hardLimit {
		return DecisionScheduleImmediate
	}
	if size >= b.data.Limit() && !b.delayedScheduled {
		b.delayedScheduled = true
		return DecisionScheduleDelayed
	}
	return DecisionNone
}

// DelayBeforeScan computes how long to hold off so the mutator keeps its
// target utilization: if the last scan took s, the mutator must run at
// least s*target/(1-target) before the next one.
func (b *MUAwareTaskBasedBackend) DelayBeforeScan() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastScanDuration == 0 {
		return defaultScanDelay
	}
	target := b.cfg.TargetMutatorUtilization
	needed := time.Duration(float64(b.lastScanDuration) * target / (1 - target))
	earliest := b.lastScanEnd.Add(needed)
	delay := earliest.Sub(b.now())
	if delay < 0 {
		return 0
	}
	return delay
}

func (b *MUAwareTaskBasedBackend) UpdateAfterScan(survived uint64, scanDuration time.Duration, heapSize uint64) {
	b.data.AccountSurvived(survived)
	b.data.growLimit(heapSize, b.cfg.SoftLimitFraction)

	b.mu.Lock()
	defer b.mu.Unlock()
	hard := uint64(float64(heapSize) * b.cfg.HardLimitFraction)
	if hard < 2*MinQuarantineLimit {
		hard = 2 * MinQuarantineLimit
	}
	b.hardLimit = hard
	b.lastScanDuration = scanDuration
	b.lastScanEnd = b.now()
	b.delayedScheduled = false
}

// HardLimit is exposed for stats and tests.
func (b *MUAwareTaskBasedBackend) HardLimit() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hardLimit
}
