package part

import (
	"github.com/joshuapare/partkit/internal/arena"
	"github.com/joshuapare/partkit/internal/layout"
)

// superPage is one 2 MiB reserved arena plus its fixed metadata. The first
// and last partition pages are guard regions and never handed out; the
// payload in between is carved into slot spans at partition-page granularity.
//
// pages is the metadata table: entry i describes partition page i. Entries of
// pages inside a span point back at the span's head page, which is where the
// SlotSpan record lives. This is the "recover the owner from an address"
// lookup: Ref offset -> partition page index -> head -> span.
type superPage struct {
	res  *arena.Reservation
	next *superPage

	pages [layout.NumPartitionPagesPerSuperPage]partitionPage

	// quarantine holds the two epoch-parity bitmaps. Allocated lazily when
	// the owning root enables quarantine; nil otherwise.
	quarantine [2]*quarantineBitmap

	// committed counts payload bytes currently committed.
	committed uint32
}

type partitionPage struct {
	// span is non-nil only on a span's head page.
	span *SlotSpan

	// head is the index of the partition page holding this page's span
	// metadata, or -1 if the page is not part of any span.
	head int16
}

func newSuperPage() (*superPage, error) {
	res, err := arena.Reserve(layout.SuperPageSize)
	if err != nil {
		return nil, err
	}
	sp := &superPage{res: res}
	for i := range sp.pages {
		sp.pages[i].head = -1
	}
	return sp, nil
}

func (sp *superPage) id() uint32    { return sp.res.ID() }
func (sp *superPage) bytes() []byte { return sp.res.Bytes() }

// payload bounds: everything between the guard partition pages.
func payloadBegin() uint32 { return layout.PartitionPageSize }
func payloadEnd() uint32   { return layout.SuperPageSize - layout.PartitionPageSize }

// spanOf resolves an in-arena offset to the owning slot span, or nil if the
// offset does not land inside any carved span.
func (sp *superPage) spanOf(off uint32) *SlotSpan {
	if off < payloadBegin() || off >= payloadEnd() {
		return nil
	}
	pageIndex := off >> layout.PartitionPageShift
	head := sp.pages[pageIndex].head
	if head < 0 {
		return nil
	}
	return sp.pages[head].span
}

// registerSpan installs span metadata for a newly carved span.
func (sp *superPage) registerSpan(span *SlotSpan, numPages uint8) {
	headIndex := span.start >> layout.PartitionPageShift
	for i := uint32(0); i < uint32(numPages); i++ {
		sp.pages[headIndex+i].head = int16(headIndex)
	}
	sp.pages[headIndex].span = span
}

func (sp *superPage) ensureQuarantineBitmaps() {
	if sp.quarantine[0] == nil {
		sp.quarantine[0] = newQuarantineBitmap()
		sp.quarantine[1] = newQuarantineBitmap()
	}
}
