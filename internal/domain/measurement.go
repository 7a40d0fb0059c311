package domain

import (
	"fmt"
	"strings"
	"time"
)

// Mode tells whether a record measures the untouched original order or a candidate.
type Mode int

const (
	ModeOriginalOrder Mode = iota
	ModeCandidate
)

func (m Mode) String() string {
	switch m {
	case ModeOriginalOrder:
		return "Original Order"
	case ModeCandidate:
		return "Candidate"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// MeasurementRecord is the outcome of measuring one ordering.
type MeasurementRecord struct {
	ID              int
	Ordering        Ordering
	Mode            Mode
	Samples         []time.Duration
	MeanQueryTime   time.Duration
	MedianQueryTime time.Duration
	ViewMeans       map[string]time.Duration // per-view mean when extra views are timed, nil otherwise
	RAMBytes        int64
	RAMChangePct    float64 // filled in when the result set is finalized
	MeasuredAt      time.Time
}

// FailedCandidate records an ordering that could not be measured.
type FailedCandidate struct {
	Ordering Ordering
	Err      error
}

// Strategy selects how candidate orderings are generated.
type Strategy string

const (
	StrategyExhaustive Strategy = "exhaustive"
	StrategyGreedy     Strategy = "greedy"
	StrategyOneShot    Strategy = "one_shot"
	StrategyFast       Strategy = "fast"
	StrategyAll        Strategy = "all" // every applicable strategy against one baseline
)

// Strategies lists the supported strategies in display order.
var Strategies = []Strategy{StrategyExhaustive, StrategyGreedy, StrategyOneShot, StrategyFast, StrategyAll}

// ParseStrategy maps user input, including the legacy names, to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "exhaustive", "brute_force", "bruteforce":
		return StrategyExhaustive, nil
	case "greedy", "iterative", "smart":
		return StrategyGreedy, nil
	case "one_shot", "oneshot":
		return StrategyOneShot, nil
	case "fast", "boundary", "boundary_only":
		return StrategyFast, nil
	case "all":
		return StrategyAll, nil
	default:
		return "", ErrConfiguration("unknown strategy %q: use one of exhaustive, greedy, one_shot, fast, all", s)
	}
}

// Selection picks how the best record is chosen from a ranked result set.
type Selection string

const (
	SelectionFastest  Selection = "fastest"
	SelectionBalanced Selection = "balanced"
)

// ParseSelection validates a selection policy name.
func ParseSelection(s string) (Selection, error) {
	switch Selection(strings.ToLower(strings.TrimSpace(s))) {
	case "", SelectionFastest:
		return SelectionFastest, nil
	case SelectionBalanced:
		return SelectionBalanced, nil
	default:
		return "", ErrConfiguration("unknown selection %q: use fastest or balanced", s)
	}
}

// Beats reports whether r is strictly better than other: lower mean query
// time, or equal time and lower RAM.
func (r *MeasurementRecord) Beats(other *MeasurementRecord) bool {
	if r.MeanQueryTime != other.MeanQueryTime {
		return r.MeanQueryTime < other.MeanQueryTime
	}
	return r.RAMBytes < other.RAMBytes
}
