package arena

import (
	"testing"

	"github.com/joshuapare/partkit/internal/layout"
)

func TestReserveCommitRoundTrip(t *testing.T) {
	res, err := Reserve(layout.SuperPageSize)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Release()

	if res.Size() != layout.SuperPageSize {
		t.Fatalf("Size() = %d, want %d", res.Size(), layout.SuperPageSize)
	}
	if res.ID() == 0 {
		t.Fatal("ID() = 0, ids must start at 1")
	}

	page := int(layout.SystemPageSize())
	sub, zeroed, err := res.Commit(page, 4*page)
	if err != nil {
		t.Fatal(err)
	}
	if len(sub) != 4*page {
		t.Fatalf("committed slice len = %d, want %d", len(sub), 4*page)
	}
	if zeroed {
		for i, b := range sub {
			if b != 0 {
				t.Fatalf("byte %d nonzero in known-zero committed range", i)
				break
			}
		}
	}

	// Committed memory must be writable and hold values.
	sub[0] = 0xAB
	sub[len(sub)-1] = 0xCD
	if res.Bytes()[page] != 0xAB || res.Bytes()[page+4*page-1] != 0xCD {
		t.Fatal("writes not visible through Bytes()")
	}

	if err := res.Decommit(page, 4*page); err != nil {
		t.Fatal(err)
	}

	// After recommit the contents are undefined but must be accessible; on
	// every supported platform they also come back zeroed.
	sub, zeroed, err = res.Commit(page, 4*page)
	if err != nil {
		t.Fatal(err)
	}
	if zeroed && sub[0] != 0 {
		t.Fatal("recommitted range not zeroed despite zeroed=true")
	}
}

func TestCommitRejectsMisaligned(t *testing.T) {
	res, err := Reserve(layout.SuperPageSize)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Release()

	if _, _, err := res.Commit(1, int(layout.SystemPageSize())); err == nil {
		t.Fatal("expected error for misaligned offset")
	}
	if _, _, err := res.Commit(0, 100); err == nil {
		t.Fatal("expected error for misaligned length")
	}
	if _, _, err := res.Commit(0, res.Size()+int(layout.SystemPageSize())); err == nil {
		t.Fatal("expected error for out-of-range commit")
	}
}

func TestReserveRejectsMisalignedSize(t *testing.T) {
	if _, err := Reserve(100); err == nil {
		t.Fatal("expected error for misaligned reserve size")
	}
	if _, err := Reserve(0); err == nil {
		t.Fatal("expected error for zero reserve size")
	}
}

func TestIDsUnique(t *testing.T) {
	a, err := Reserve(layout.SuperPageSize)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Release()
	b, err := Reserve(layout.SuperPageSize)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Release()
	if a.ID() == b.ID() {
		t.Fatalf("duplicate arena ids: %d", a.ID())
	}
}

func TestRandomPlacementHintAligned(t *testing.T) {
	for range 64 {
		hint := randomPlacementHint()
		if uint64(hint)&(layout.SuperPageSize-1) != 0 {
			t.Fatalf("hint %#x not super-page aligned", hint)
		}
		if uint64(hint) > aslrMask() {
			t.Fatalf("hint %#x above ASLR mask %#x", hint, aslrMask())
		}
	}
}
