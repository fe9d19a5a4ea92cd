package pcscan

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/joshuapare/partkit/part"
)

// thresholdBackend is a deterministic scheduling backend for driver tests:
// fixed soft and hard thresholds, no timers of its own.
type thresholdBackend struct {
	data *QuarantineData
	soft uint64
	hard uint64

	delayedBooked bool
	updates       int
}

func newThresholdBackend(soft, hard uint64) *thresholdBackend {
	return &thresholdBackend{data: newQuarantineData(), soft: soft, hard: hard}
}

func (b *thresholdBackend) Quarantine() *QuarantineData { return b.data }

func (b *thresholdBackend) AfterFree(size uint64) Decision {
	if size >= b.hard {
		return DecisionScheduleImmediate
	}
	if size >= b.soft && !b.delayedBooked {
		b.delayedBooked = true
		return DecisionScheduleDelayed
	}
	return DecisionNone
}

func (b *thresholdBackend) DelayBeforeScan() time.Duration { return time.Millisecond }

func (b *thresholdBackend) UpdateAfterScan(survived uint64, d time.Duration, heap uint64) {
	b.data.AccountSurvived(survived)
	b.delayedBooked = false
	b.updates++
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestScanSweepsUnreachable(t *testing.T) {
	backend := newThresholdBackend(1<<40, 1<<40) // never self-trigger
	p := New(Config{Backend: backend})
	r := part.NewRoot(part.Options{})
	p.RegisterScannableRoot(r)

	refA, _ := r.Alloc(64, 0)
	refB, _ := r.Alloc(64, 0)
	r.Free(refA)
	r.Free(refB)
	if backend.data.Size() != 128 {
		t.Fatalf("quarantine size %d, want 128", backend.data.Size())
	}

	if !p.PerformScan(Blocking) {
		t.Fatal("scan did not start")
	}
	if p.State() != StateNotRunning {
		t.Fatalf("state %d after blocking scan", p.State())
	}
	if got := r.QuarantinedBytes(); got != 0 {
		t.Fatalf("%d bytes still quarantined after scan with no references", got)
	}
	if backend.updates != 1 {
		t.Fatalf("backend saw %d scan updates, want 1", backend.updates)
	}
}

func TestScanKeepsReferencedObjects(t *testing.T) {
	backend := newThresholdBackend(1<<40, 1<<40)
	p := New(Config{Backend: backend})
	r := part.NewRoot(part.Options{})
	p.RegisterScannableRoot(r)

	// A live object holds the only reference to a freed one.
	holder, holderPayload := r.Alloc(64, 0)
	victim, _ := r.Alloc(64, 0)
	binary.LittleEndian.PutUint64(holderPayload, uint64(victim))
	r.Free(victim)

	p.PerformScan(Blocking)

	if got := r.QuarantinedBytes(); got != 64 {
		t.Fatalf("referenced object not retained: QuarantinedBytes = %d, want 64", got)
	}
	if backend.data.Size() != 64 {
		t.Fatalf("survivor not re-accounted: size %d, want 64", backend.data.Size())
	}

	// Dropping the reference lets the next scan reclaim it.
	binary.LittleEndian.PutUint64(holderPayload, 0)
	p.PerformScan(Blocking)
	if got := r.QuarantinedBytes(); got != 0 {
		t.Fatalf("object retained after reference dropped: %d bytes", got)
	}
	r.Free(holder)
}

func TestExtraRootRetainsObjects(t *testing.T) {
	backend := newThresholdBackend(1<<40, 1<<40)
	p := New(Config{Backend: backend})
	r := part.NewRoot(part.Options{})
	p.RegisterScannableRoot(r)

	region := make([]byte, 64)
	p.RegisterExtraRoot(region)

	ref, _ := r.Alloc(128, 0)
	binary.LittleEndian.PutUint64(region[16:], uint64(ref))
	r.Free(ref)

	p.PerformScan(Blocking)
	if got := r.QuarantinedBytes(); got != 128 {
		t.Fatalf("extra-root reference ignored: QuarantinedBytes = %d, want 128", got)
	}
}

func TestNonScannableRootQuarantinesButIsNotScanned(t *testing.T) {
	backend := newThresholdBackend(1<<40, 1<<40)
	p := New(Config{Backend: backend})
	data := part.NewRoot(part.Options{})
	p.RegisterNonScannableRoot(data)

	// A reference stored in a non-scannable payload must not retain.
	holder, holderPayload := data.Alloc(64, 0)
	victim, _ := data.Alloc(64, 0)
	binary.LittleEndian.PutUint64(holderPayload, uint64(victim))
	r := data
	r.Free(victim)

	p.PerformScan(Blocking)
	if got := r.QuarantinedBytes(); got != 0 {
		t.Fatalf("non-scannable payload retained an object: %d bytes", got)
	}
	r.Free(holder)
}

func TestHardLimitTriggersImmediateScan(t *testing.T) {
	backend := newThresholdBackend(1<<40, 256)
	var delayed int
	p := New(Config{
		Backend:         backend,
		ScheduleDelayed: func(d time.Duration, fn func()) { delayed++ },
	})
	r := part.NewRoot(part.Options{})
	p.RegisterScannableRoot(r)

	refs := make([]part.Ref, 4)
	for i := range refs {
		refs[i], _ = r.Alloc(64, 0)
	}
	for _, ref := range refs {
		r.Free(ref)
	}

	// The 4th free crossed 256 bytes and kicked off a scan.
	waitFor(t, func() bool {
		return p.State() == StateNotRunning && r.QuarantinedBytes() == 0
	})
	if delayed != 0 {
		t.Fatalf("%d delayed scans booked on the immediate path", delayed)
	}
	if backend.updates == 0 {
		t.Fatal("no scan ran after crossing the hard limit")
	}
}

func TestSoftLimitBooksDelayedScan(t *testing.T) {
	backend := newThresholdBackend(100, 1<<40)
	var booked []func()
	p := New(Config{
		Backend:         backend,
		ScheduleDelayed: func(d time.Duration, fn func()) { booked = append(booked, fn) },
	})
	r := part.NewRoot(part.Options{})
	p.RegisterScannableRoot(r)

	ref, _ := r.Alloc(128, 0)
	r.Free(ref)
	if len(booked) != 1 {
		t.Fatalf("%d delayed scans booked, want 1", len(booked))
	}

	// Firing the timer runs the scan.
	booked[0]()
	waitFor(t, func() bool {
		return p.State() == StateNotRunning && r.QuarantinedBytes() == 0
	})
}

func TestDelayedScanIsNoopWhenNothingPending(t *testing.T) {
	backend := newThresholdBackend(100, 1<<40)
	p := New(Config{Backend: backend})
	if p.PerformScanIfNeeded(Blocking) {
		t.Fatal("scan started with an empty quarantine")
	}
}

func TestOverlappingScansCollapse(t *testing.T) {
	backend := newThresholdBackend(1<<40, 1<<40)
	p := New(Config{Backend: backend})
	if !p.state.CompareAndSwap(int32(StateNotRunning), int32(StateScanning)) {
		t.Fatal("setup failed")
	}
	if p.PerformScan(NonBlocking) {
		t.Fatal("second scan started while one was running")
	}
	p.state.Store(int32(StateNotRunning))
}

func TestSafepointJoinsScan(t *testing.T) {
	backend := newThresholdBackend(1<<40, 1<<40)
	p := New(Config{Backend: backend})
	p.EnableSafepoints()
	r := part.NewRoot(part.Options{})
	p.RegisterScannableRoot(r)

	ref, _ := r.Alloc(64, 0)
	r.Free(ref)
	// Allocating during a scan must at worst help it, never deadlock.
	p.PerformScan(Blocking)
	ref2, _ := r.Alloc(64, 0)
	if ref2 == 0 {
		t.Fatal("allocation failed after scan")
	}
}
