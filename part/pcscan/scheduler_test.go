package pcscan

import (
	"testing"
	"time"
)

func TestQuarantineDataAccounting(t *testing.T) {
	d := newQuarantineData()
	if d.Size() != 0 || d.Epoch() != 0 {
		t.Fatal("fresh quarantine data not zeroed")
	}
	if got := d.AccountFreed(100); got != 100 {
		t.Fatalf("AccountFreed = %d, want 100", got)
	}
	d.AccountFreed(50)
	d.Reset()
	if d.Size() != 0 {
		t.Fatalf("size %d after reset", d.Size())
	}
	if d.LastSize() != 150 {
		t.Fatalf("last size %d, want 150", d.LastSize())
	}
	if d.Epoch() != 1 {
		t.Fatalf("epoch %d after one reset", d.Epoch())
	}
	d.AccountSurvived(40)
	if d.Size() != 40 {
		t.Fatalf("size %d after survivors re-accounted", d.Size())
	}
}

func TestQuarantineLimitFloor(t *testing.T) {
	d := newQuarantineData()
	d.growLimit(100, DefaultQuarantineFraction)
	if d.Limit() != MinQuarantineLimit {
		t.Fatalf("limit %d below floor for tiny heap", d.Limit())
	}
	d.growLimit(1<<30, DefaultQuarantineFraction)
	if want := uint64(1 << 30 / 10); d.Limit() != want {
		t.Fatalf("limit %d, want %d", d.Limit(), want)
	}
}

func TestLimitBackendDecisions(t *testing.T) {
	b := NewLimitBackend()
	if got := b.AfterFree(MinQuarantineLimit - 1); got != DecisionNone {
		t.Fatalf("below limit: %v, want none", got)
	}
	if got := b.AfterFree(MinQuarantineLimit); got != DecisionScheduleImmediate {
		t.Fatalf("at limit: %v, want immediate", got)
	}
	b.UpdateAfterScan(0, time.Millisecond, 1<<30)
	if b.Quarantine().Limit() != 1<<30/10 {
		t.Fatalf("limit not rescaled to heap: %d", b.Quarantine().Limit())
	}
}

func TestMUAwareBackendSoftAndHardLimits(t *testing.T) {
	b := NewMUAwareTaskBasedBackend(MUAwareConfig{})
	// Establish limits from a known heap size.
	heap := uint64(100 << 20)
	b.UpdateAfterScan(0, time.Millisecond, heap)
	soft := b.Quarantine().Limit()
	hard := b.HardLimit()
	if soft != heap/10 {
		t.Fatalf("soft limit %d, want %d", soft, heap/10)
	}
	if hard != heap/2 {
		t.Fatalf("hard limit %d, want %d", hard, heap/2)
	}

	if got := b.AfterFree(soft - 1); got != DecisionNone {
		t.Fatalf("below soft: %v, want none", got)
	}
	if got := b.AfterFree(soft); got != DecisionScheduleDelayed {
		t.Fatalf("at soft: %v, want delayed", got)
	}
	// A delayed scan is booked; further soft-limit frees stay quiet.
	if got := b.AfterFree(soft + 1); got != DecisionNone {
		t.Fatalf("second soft crossing: %v, want none", got)
	}
	if got := b.AfterFree(hard); got != DecisionScheduleImmediate {
		t.Fatalf("at hard: %v, want immediate", got)
	}

	// The scan completing rearms the delayed trigger.
	b.UpdateAfterScan(0, time.Millisecond, heap)
	if got := b.AfterFree(soft); got != DecisionScheduleDelayed {
		t.Fatalf("after scan, at soft: %v, want delayed", got)
	}
}

func TestMUAwareDelayHonorsMutatorUtilization(t *testing.T) {
	b := NewMUAwareTaskBasedBackend(MUAwareConfig{TargetMutatorUtilization: 0.9})
	if got := b.DelayBeforeScan(); got != defaultScanDelay {
		t.Fatalf("delay with no history = %v, want %v", got, defaultScanDelay)
	}

	base := time.Unix(1000, 0)
	now := base
	b.now = func() time.Time { return now }
	b.UpdateAfterScan(0, 10*time.Millisecond, 1<<30)

	// A 10ms scan at 90% target utilization demands 90ms of mutator time.
	now = base.Add(30 * time.Millisecond)
	if got := b.DelayBeforeScan(); got != 60*time.Millisecond {
		t.Fatalf("delay = %v, want 60ms", got)
	}
	now = base.Add(2 * time.Second)
	if got := b.DelayBeforeScan(); got != 0 {
		t.Fatalf("delay = %v long after scan, want 0", got)
	}
}
