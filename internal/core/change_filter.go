package core

import (
	"container/list"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"MarginMirror/internal/margin"
)

// ChangeFilter remembers the last published fingerprint per account so an
// unchanged health report is not republished every scan. Bounded LRU; an
// evicted account simply publishes again. Not safe for concurrent use: only
// the scan loop touches it.
type ChangeFilter struct {
	capacity int
	entries  map[solana.PublicKey]*list.Element
	order    *list.List

	evictions int64
}

type filterEntry struct {
	account     solana.PublicKey
	fingerprint string
}

func NewChangeFilter(capacity int) *ChangeFilter {
	return &ChangeFilter{
		capacity: capacity,
		entries:  make(map[solana.PublicKey]*list.Element, capacity),
		order:    list.New(),
	}
}

// Fingerprint is what has to differ for a report to count as changed. Ratios
// and leverage follow from these, and prices alone move liquidation levels
// every scan.
func Fingerprint(r *margin.Report) string {
	return fmt.Sprintf("%s|%s|%s|%t|%t",
		r.Status, r.InitHealth.Bits(), r.MaintHealth.Bits(), r.BeingLiquidated, r.Bankrupt)
}

// Changed records r and reports whether it differs from the last report seen
// for the same account.
func (f *ChangeFilter) Changed(r *margin.Report) bool {
	fp := Fingerprint(r)
	if elem, ok := f.entries[r.Account]; ok {
		f.order.MoveToFront(elem)
		e := elem.Value.(*filterEntry)
		if e.fingerprint == fp {
			return false
		}
		e.fingerprint = fp
		return true
	}

	f.entries[r.Account] = f.order.PushFront(&filterEntry{account: r.Account, fingerprint: fp})
	if f.order.Len() > f.capacity {
		f.evictOldest()
	}
	return true
}

// Forget drops the account so its next report is published.
func (f *ChangeFilter) Forget(account solana.PublicKey) {
	if elem, ok := f.entries[account]; ok {
		f.order.Remove(elem)
		delete(f.entries, account)
	}
}

func (f *ChangeFilter) evictOldest() {
	elem := f.order.Back()
	if elem == nil {
		return
	}
	f.order.Remove(elem)
	delete(f.entries, elem.Value.(*filterEntry).account)
	f.evictions++
}

func (f *ChangeFilter) Size() int        { return f.order.Len() }
func (f *ChangeFilter) Evictions() int64 { return f.evictions }
