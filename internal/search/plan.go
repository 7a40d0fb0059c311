// Package search generates candidate dimension orderings for each strategy.
//
// Generation is pure planning over the dimension list: a Plan never talks to
// the cube. Adaptive strategies (greedy) learn from the records fed back
// through Observe.
package search

import (
	"cubeopt/internal/domain"
)

// Plan is a lazy, finite, single-use sequence of candidate orderings.
type Plan interface {
	// Next returns the next candidate, or false when the plan is exhausted.
	Next() (domain.Ordering, bool)
	// Observe feeds back the measurement of a candidate returned by Next.
	// rec is nil when the candidate could not be measured.
	Observe(ordering domain.Ordering, rec *domain.MeasurementRecord)
}

// Converger is implemented by adaptive plans that end on a single ordering.
type Converger interface {
	Result() domain.Ordering
}

// Input is everything a strategy needs to plan.
type Input struct {
	Dimensions      []domain.Dimension // in the cube's original order
	Pinned          []string
	Strategy        domain.Strategy
	MaxPermutations int
	DefaultMembers  map[string]string
	Priority        []string
	Profiles        map[string]domain.DimensionProfile
	Baseline        *domain.MeasurementRecord // greedy starts from this record when known
}

// NewPlan validates in and returns the plan for in.Strategy.
func NewPlan(in Input) (Plan, error) {
	l, err := newLayout(in.Dimensions, in.Pinned)
	if err != nil {
		return nil, err
	}

	switch in.Strategy {
	case domain.StrategyExhaustive:
		limit := in.MaxPermutations
		if limit == 0 {
			limit = domain.DefaultMaxPermutations
		}
		return newExhaustivePlan(l, limit)
	case domain.StrategyGreedy:
		return newGreedyPlan(l, in.Baseline), nil
	case domain.StrategyOneShot:
		return newOneShotPlan(l, in.Dimensions, in.DefaultMembers, in.Priority, in.Profiles)
	case domain.StrategyFast:
		return newFastPlan(l), nil
	case domain.StrategyAll:
		return newAllPlan(l, in)
	default:
		return nil, domain.ErrConfiguration("unknown strategy %q", in.Strategy)
	}
}

// newAllPlan chains every strategy that applies to in: one_shot first when
// default members are given, exhaustive while the unpinned dimensions stay
// within the permutation bound, then greedy and fast.
func newAllPlan(l *layout, in Input) (*chainPlan, error) {
	limit := in.MaxPermutations
	if limit == 0 {
		limit = domain.DefaultMaxPermutations
	}

	var plans []Plan
	if len(in.DefaultMembers) > 0 {
		p, err := newOneShotPlan(l, in.Dimensions, in.DefaultMembers, in.Priority, in.Profiles)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	if !exceedsFactorial(len(l.free), limit) {
		p, err := newExhaustivePlan(l, limit)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	plans = append(plans, newGreedyPlan(l, in.Baseline), newFastPlan(l))
	return &chainPlan{plans: plans}, nil
}

// chainPlan serves its plans one after the other. Feedback goes to the plan
// that produced the candidate.
type chainPlan struct {
	plans []Plan
	cur   int
}

func (p *chainPlan) Next() (domain.Ordering, bool) {
	for p.cur < len(p.plans) {
		if o, ok := p.plans[p.cur].Next(); ok {
			return o, true
		}
		p.cur++
	}
	return nil, false
}

func (p *chainPlan) Observe(ordering domain.Ordering, rec *domain.MeasurementRecord) {
	if p.cur < len(p.plans) {
		p.plans[p.cur].Observe(ordering, rec)
	}
}

// Collect drains p without feedback. Used for dry runs and tests.
func Collect(p Plan) []domain.Ordering {
	var out []domain.Ordering
	for {
		o, ok := p.Next()
		if !ok {
			return out
		}
		out = append(out, o)
		p.Observe(o, nil)
	}
}

// layout splits the original ordering into pinned and free slots.
type layout struct {
	original domain.Ordering
	pinned   map[string]bool
	free     []int // slot indexes holding unpinned dimensions, ascending
}

func newLayout(dims []domain.Dimension, pinned []string) (*layout, error) {
	if len(dims) == 0 {
		return nil, domain.ErrConfiguration("cube has no dimensions")
	}
	original := domain.DimensionNames(dims)
	seen := make(map[string]bool, len(original))
	for _, n := range original {
		if seen[n] {
			return nil, domain.ErrConfiguration("cube lists dimension %q twice", n)
		}
		seen[n] = true
	}

	l := &layout{original: original, pinned: make(map[string]bool, len(pinned))}
	for _, p := range pinned {
		if !seen[p] {
			return nil, domain.ErrConfiguration("pinned dimension %q is not part of the cube", p)
		}
		l.pinned[p] = true
	}
	for i, n := range original {
		if !l.pinned[n] {
			l.free = append(l.free, i)
		}
	}
	return l, nil
}

// freeNames returns the unpinned dimensions in original order.
func (l *layout) freeNames() []string {
	names := make([]string, len(l.free))
	for i, slot := range l.free {
		names[i] = l.original[slot]
	}
	return names
}

// fill places names into the free slots, keeping pinned dimensions where they are.
func (l *layout) fill(names []string) domain.Ordering {
	o := l.original.Clone()
	for i, slot := range l.free {
		o[slot] = names[i]
	}
	return o
}

// slicePlan serves a precomputed list. Used by strategies whose output does
// not depend on feedback.
type slicePlan struct {
	items []domain.Ordering
	pos   int
}

func (p *slicePlan) Next() (domain.Ordering, bool) {
	if p.pos >= len(p.items) {
		return nil, false
	}
	o := p.items[p.pos]
	p.pos++
	return o.Clone(), true
}

func (p *slicePlan) Observe(domain.Ordering, *domain.MeasurementRecord) {}
