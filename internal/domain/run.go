package domain

import "time"

// DefaultMaxPermutations bounds exhaustive search to 8! candidates unless the
// caller raises it.
const DefaultMaxPermutations = 40320

// RunOptions configures the evaluation of one cube.
type RunOptions struct {
	Cube        string
	View        string
	ExtraViews  []string // timed after View on every execution; ranking uses View only
	ProcessName string   // when set, the process runtime is measured instead of the view

	Strategy       Strategy
	ExecutionCount int
	Pinned         []string
	MeasureRAM     bool

	UpdateOriginalOrder  bool
	RestoreOriginalOrder bool

	MaxPermutations int               // exhaustive only; 0 means DefaultMaxPermutations
	DefaultMembers  map[string]string // one_shot: representative member per dimension
	Priority        []string          // one_shot: explicit order overriding the heuristic
	Selection       Selection
}

// Validate checks the options that can be checked without talking to the server.
func (o *RunOptions) Validate() error {
	if o.Cube == "" {
		return ErrConfiguration("cube is required")
	}
	if o.View == "" && o.ProcessName == "" {
		return ErrConfiguration("a view or a process name is required")
	}
	if len(o.ExtraViews) > 0 {
		if o.ProcessName != "" {
			return ErrConfiguration("extra views cannot be combined with a process")
		}
		seen := map[string]bool{o.View: true}
		for _, v := range o.ExtraViews {
			if v == "" {
				return ErrConfiguration("extra view names must not be empty")
			}
			if seen[v] {
				return ErrConfiguration("view %q is listed twice", v)
			}
			seen[v] = true
		}
	}
	if o.ExecutionCount <= 0 {
		return ErrConfiguration("execution count must be positive, got %d", o.ExecutionCount)
	}
	switch o.Strategy {
	case StrategyExhaustive, StrategyGreedy, StrategyOneShot, StrategyFast, StrategyAll:
	default:
		return ErrConfiguration("unknown strategy %q", o.Strategy)
	}
	if o.MaxPermutations < 0 {
		return ErrConfiguration("max permutations must not be negative")
	}
	if o.Strategy == StrategyOneShot && len(o.DefaultMembers) == 0 {
		return ErrConfiguration("one_shot strategy requires default members")
	}
	if _, err := ParseSelection(string(o.Selection)); err != nil {
		return err
	}
	return nil
}

// PermutationLimit returns the effective exhaustive bound.
func (o *RunOptions) PermutationLimit() int {
	if o.MaxPermutations == 0 {
		return DefaultMaxPermutations
	}
	return o.MaxPermutations
}

// RunSummary describes a finished (or aborted) run for the history store.
type RunSummary struct {
	ID             string
	Cube           string
	View           string
	ProcessName    string
	Strategy       Strategy
	ExecutionCount int
	OriginalOrder  Ordering
	BestOrder      Ordering // nil when no record qualified
	BestImproves   bool
	Applied        bool
	Candidates     int
	FailedCount    int
	Aborted        bool
	AbortReason    string
	StartedAt      time.Time
	FinishedAt     time.Time
}
