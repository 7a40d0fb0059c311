package search

import (
	"sort"
	"strings"

	"cubeopt/internal/domain"
)

// newOneShotPlan builds the single heuristic candidate. Free dimensions named
// in priority come first, in that order. The rest are sorted by descending
// sparsity ratio when every one of them has a profile, otherwise by
// descending cardinality. Ties keep the original order.
func newOneShotPlan(
	l *layout,
	dims []domain.Dimension,
	defaults map[string]string,
	priority []string,
	profiles map[string]domain.DimensionProfile,
) (*slicePlan, error) {
	free := l.freeNames()

	var missing []string
	for _, n := range free {
		if defaults[n] == "" {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return nil, domain.ErrConfiguration("one_shot strategy needs a default member for: %s", strings.Join(missing, ", "))
	}

	rank := make(map[string]int, len(priority))
	for i, n := range priority {
		if l.original.Index(n) < 0 {
			return nil, domain.ErrConfiguration("priority dimension %q is not part of the cube", n)
		}
		if l.pinned[n] {
			return nil, domain.ErrConfiguration("priority dimension %q is pinned", n)
		}
		if _, dup := rank[n]; dup {
			return nil, domain.ErrConfiguration("priority lists %q twice", n)
		}
		rank[n] = i
	}

	cardinality := make(map[string]int64, len(dims))
	for _, d := range dims {
		cardinality[d.Name] = d.Cardinality
	}
	useProfiles := len(profiles) > 0
	for _, n := range free {
		if _, ok := profiles[n]; !ok {
			useProfiles = false
		}
	}

	sort.SliceStable(free, func(i, j int) bool {
		a, b := free[i], free[j]
		ra, aok := rank[a]
		rb, bok := rank[b]
		switch {
		case aok && bok:
			return ra < rb
		case aok != bok:
			return aok
		}
		if useProfiles {
			return profiles[a].SparsityRatio() > profiles[b].SparsityRatio()
		}
		return cardinality[a] > cardinality[b]
	})

	return &slicePlan{items: []domain.Ordering{l.fill(free)}}, nil
}
