package budget

import (
	"fmt"
	"sync"

	"sdstore/internal/catalog"
)

// Usage is one row of a ledger snapshot.
type Usage struct {
	Kind    catalog.Kind
	Running int
	Max     int
}

// Ledger tracks how many instances of each filter kind are running. All
// mutation goes through TryReserve and Release, which are atomic against each
// other and against Snapshot.
type Ledger struct {
	mu      sync.Mutex
	limits  map[catalog.Kind]int
	running map[catalog.Kind]int
}

// NewLedger builds a ledger with the catalog's limits and zero usage.
func NewLedger(cat *catalog.Catalog) *Ledger {
	limits := make(map[catalog.Kind]int, len(catalog.Kinds()))
	running := make(map[catalog.Kind]int, len(catalog.Kinds()))
	for _, kind := range catalog.Kinds() {
		limits[kind] = cat.MaxConcurrent(kind)
		running[kind] = 0
	}
	return &Ledger{limits: limits, running: running}
}

// TryReserve reserves the whole demand if every kind fits, and reserves
// nothing otherwise. On failure it reports the kinds that did not fit, which
// the scheduler's head-of-line policy marks as blocked.
func (l *Ledger) TryReserve(demand Demand) (bool, []catalog.Kind) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var blocked []catalog.Kind
	for _, kind := range catalog.Kinds() {
		count := demand[kind]
		if count == 0 {
			continue
		}
		if l.running[kind]+count > l.limits[kind] {
			blocked = append(blocked, kind)
		}
	}
	for kind, count := range demand {
		if _, known := l.limits[kind]; !known && count > 0 {
			blocked = append(blocked, kind)
		}
	}
	if len(blocked) > 0 {
		return false, blocked
	}
	for kind, count := range demand {
		l.running[kind] += count
	}
	return true, nil
}

// Release returns a previously reserved demand. Releasing more than is
// running is a programming fault: the accounting invariant is broken and the
// daemon must not keep scheduling on top of it.
func (l *Ledger) Release(demand Demand) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for kind, count := range demand {
		next := l.running[kind] - count
		if next < 0 {
			panic(fmt.Sprintf("budget: release of %d %s slots drops running count below zero", count, kind))
		}
		l.running[kind] = next
	}
}

// Snapshot returns a consistent copy of the ledger in catalog order.
func (l *Ledger) Snapshot() []Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	usage := make([]Usage, 0, len(l.limits))
	for _, kind := range catalog.Kinds() {
		usage = append(usage, Usage{Kind: kind, Running: l.running[kind], Max: l.limits[kind]})
	}
	return usage
}
