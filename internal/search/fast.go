package search

import (
	"cubeopt/internal/domain"
)

// newFastPlan tries each free dimension at the two boundary positions only.
// With no pins that is 2(n-1) candidates. With two dimensions both moves give
// the same ordering; the plan keeps the count and the controller measures the
// repeat only once.
func newFastPlan(l *layout) *slicePlan {
	last := len(l.original) - 1
	var items []domain.Ordering
	for _, slot := range l.free {
		if slot != 0 {
			items = append(items, moveTo(l.original, slot, 0))
		}
		if slot != last {
			items = append(items, moveTo(l.original, slot, last))
		}
	}
	return &slicePlan{items: items}
}

// moveTo removes the element at from and reinserts it at to, shifting the
// elements in between. Relative order of everything else is preserved.
func moveTo(o domain.Ordering, from, to int) domain.Ordering {
	name := o[from]
	rest := make(domain.Ordering, 0, len(o)-1)
	rest = append(rest, o[:from]...)
	rest = append(rest, o[from+1:]...)

	out := make(domain.Ordering, 0, len(o))
	out = append(out, rest[:to]...)
	out = append(out, name)
	out = append(out, rest[to:]...)
	return out
}
