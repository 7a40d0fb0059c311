package search

import (
	"cubeopt/internal/domain"
)

// exhaustivePlan walks every permutation of the free dimensions in
// lexicographic order of their original positions. The identity permutation
// comes first, so the original ordering is always a candidate.
type exhaustivePlan struct {
	l       *layout
	names   []string
	idx     []int
	started bool
	done    bool
}

func newExhaustivePlan(l *layout, limit int) (*exhaustivePlan, error) {
	k := len(l.free)
	if exceedsFactorial(k, limit) {
		return nil, domain.ErrConfiguration(
			"exhaustive search over %d unpinned dimensions exceeds %d permutations; pin dimensions or use greedy/fast", k, limit)
	}
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	return &exhaustivePlan{l: l, names: l.freeNames(), idx: idx}, nil
}

func (p *exhaustivePlan) Next() (domain.Ordering, bool) {
	if p.done {
		return nil, false
	}
	if p.started && !nextPermutation(p.idx) {
		p.done = true
		return nil, false
	}
	p.started = true

	names := make([]string, len(p.idx))
	for i, j := range p.idx {
		names[i] = p.names[j]
	}
	return p.l.fill(names), true
}

func (p *exhaustivePlan) Observe(domain.Ordering, *domain.MeasurementRecord) {}

// nextPermutation advances idx to its lexicographic successor in place and
// reports false once idx is the last permutation.
func nextPermutation(idx []int) bool {
	i := len(idx) - 2
	for i >= 0 && idx[i] >= idx[i+1] {
		i--
	}
	if i < 0 {
		return false
	}
	j := len(idx) - 1
	for idx[j] <= idx[i] {
		j--
	}
	idx[i], idx[j] = idx[j], idx[i]
	for l, r := i+1, len(idx)-1; l < r; l, r = l+1, r-1 {
		idx[l], idx[r] = idx[r], idx[l]
	}
	return true
}

// exceedsFactorial reports whether k! > limit without overflowing.
func exceedsFactorial(k, limit int) bool {
	f := 1
	for i := 2; i <= k; i++ {
		f *= i
		if f > limit {
			return true
		}
	}
	return f > limit
}
