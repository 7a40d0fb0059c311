package domain

import (
	"strings"
	"time"
)

// Dimension is one axis of a cube as discovered on the server.
type Dimension struct {
	Name        string
	Position    int   // 0-based storage position at discovery time
	Cardinality int64 // leaf element count, 0 when unknown
}

// DimensionNames returns the names of dims in their given order.
func DimensionNames(dims []Dimension) Ordering {
	names := make(Ordering, len(dims))
	for i, d := range dims {
		names[i] = d.Name
	}
	return names
}

// Ordering is a full storage order of a cube's dimensions, by name.
type Ordering []string

// Clone returns an independent copy of o.
func (o Ordering) Clone() Ordering {
	if o == nil {
		return nil
	}
	c := make(Ordering, len(o))
	copy(c, o)
	return c
}

// Equal reports whether o and other list the same dimensions in the same order.
func (o Ordering) Equal(other Ordering) bool {
	if len(o) != len(other) {
		return false
	}
	for i := range o {
		if o[i] != other[i] {
			return false
		}
	}
	return true
}

// Index returns the position of name in o, or -1.
func (o Ordering) Index(name string) int {
	for i, n := range o {
		if n == name {
			return i
		}
	}
	return -1
}

// Key returns a stable string form of o usable as a map key.
func (o Ordering) Key() string {
	return strings.Join(o, "\x1f")
}

func (o Ordering) String() string {
	return "[" + strings.Join(o, ", ") + "]"
}

// ValidateAgainst checks that o is a permutation of want: same length, every
// dimension exactly once.
func (o Ordering) ValidateAgainst(want Ordering) error {
	if len(o) != len(want) {
		return ErrInvalidOrdering(o, "has %d dimensions, cube has %d", len(o), len(want))
	}
	known := make(map[string]bool, len(want))
	for _, n := range want {
		known[n] = true
	}
	seen := make(map[string]bool, len(o))
	for _, n := range o {
		if !known[n] {
			return ErrInvalidOrdering(o, "unknown dimension %q", n)
		}
		if seen[n] {
			return ErrInvalidOrdering(o, "dimension %q appears more than once", n)
		}
		seen[n] = true
	}
	return nil
}

// DimensionProfile holds statistics used by the one-shot heuristic.
type DimensionProfile struct {
	Dimension   string
	Cardinality int64 // leaf elements
	Populated   int64 // populated leaf cells with every other dimension at its default member
}

// SparsityRatio is Populated / Cardinality, 0 when the cardinality is unknown.
func (p DimensionProfile) SparsityRatio() float64 {
	if p.Cardinality <= 0 {
		return 0
	}
	return float64(p.Populated) / float64(p.Cardinality)
}

// ViewResult is what a view execution reports back.
type ViewResult struct {
	Cells   int64
	Elapsed time.Duration
}
