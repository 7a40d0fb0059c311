package search

import (
	"cubeopt/internal/domain"
)

// greedyPlan fixes the free slots left to right. For each slot it swaps every
// dimension not yet fixed into the slot, one candidate each, then keeps the
// best of the current ordering and the tried ones. The last free slot is
// forced, so a plan over k free dimensions issues at most k(k-1)/2 candidates.
type greedyPlan struct {
	l          *layout
	current    domain.Ordering
	currentRec *domain.MeasurementRecord

	step     int // index into l.free of the slot being fixed
	next     int // index into l.free of the next dimension to swap in
	issued   []domain.Ordering
	observed map[string]*domain.MeasurementRecord
}

func newGreedyPlan(l *layout, baseline *domain.MeasurementRecord) *greedyPlan {
	return &greedyPlan{
		l:          l,
		current:    l.original.Clone(),
		currentRec: baseline,
		next:       1,
		observed:   make(map[string]*domain.MeasurementRecord),
	}
}

func (p *greedyPlan) Next() (domain.Ordering, bool) {
	for p.step < len(p.l.free)-1 {
		if p.next < len(p.l.free) {
			slot, other := p.l.free[p.step], p.l.free[p.next]
			p.next++

			cand := p.current.Clone()
			cand[slot], cand[other] = cand[other], cand[slot]
			p.issued = append(p.issued, cand)
			return cand.Clone(), true
		}
		p.settle()
		p.step++
		p.next = p.step + 1
	}
	return nil, false
}

func (p *greedyPlan) Observe(ordering domain.Ordering, rec *domain.MeasurementRecord) {
	if rec == nil {
		return
	}
	p.observed[ordering.Key()] = rec
}

// settle moves the plan to the best ordering seen in the current step.
func (p *greedyPlan) settle() {
	for _, cand := range p.issued {
		rec, ok := p.observed[cand.Key()]
		if !ok {
			continue
		}
		if p.currentRec == nil || rec.Beats(p.currentRec) {
			p.current = cand
			p.currentRec = rec
		}
	}
	p.issued = nil
	p.observed = make(map[string]*domain.MeasurementRecord)
}

// Result returns the ordering the plan converged to. Before the plan is
// exhausted it is the best ordering fixed so far.
func (p *greedyPlan) Result() domain.Ordering {
	return p.current.Clone()
}
