// Package results accumulates the measurement records of one cube run and
// derives the ranked and tabular views that reporting consumes.
package results

import (
	"fmt"
	"sort"
	"time"

	"cubeopt/internal/domain"
)

// balancedThresholds is the ladder of fractions of the min-max range tried,
// in order, by the balanced selection policy.
var balancedThresholds = []float64{0.01, 0.025, 0.05, 0.075, 0.1, 0.125, 0.15, 0.2, 0.25}

// ResultSet holds the records of one cube run. It is owned by a single
// controller and is not safe for concurrent mutation; once finalized it is
// read-only and may be shared by report writers.
type ResultSet struct {
	Cube       string
	View       string
	ExtraViews []string // timed alongside View, never ranked
	Strategy   domain.Strategy
	Selection  domain.Selection

	// Set by the controller.
	Original   domain.Ordering
	Applied    domain.Ordering // ordering written back after the search, nil if none
	StartedAt  time.Time
	FinishedAt time.Time

	records   []*domain.MeasurementRecord
	baseline  *domain.MeasurementRecord
	failed    []domain.FailedCandidate
	ranked    []*domain.MeasurementRecord
	best      *domain.MeasurementRecord
	abortErr  error
	finalized bool
}

// New creates an empty ResultSet.
func New(cube, view string, strategy domain.Strategy, selection domain.Selection) *ResultSet {
	if selection == "" {
		selection = domain.SelectionFastest
	}
	return &ResultSet{Cube: cube, View: view, Strategy: strategy, Selection: selection}
}

// Append adds rec and assigns its ID, starting at 1 in measurement order.
// The first OriginalOrder record becomes the baseline.
func (s *ResultSet) Append(rec *domain.MeasurementRecord) error {
	if s.finalized {
		return fmt.Errorf("append to finalized result set for cube %q", s.Cube)
	}
	rec.ID = len(s.records) + 1
	s.records = append(s.records, rec)
	if rec.Mode == domain.ModeOriginalOrder && s.baseline == nil {
		s.baseline = rec
	}
	return nil
}

// Fail records a candidate that could not be measured.
func (s *ResultSet) Fail(ordering domain.Ordering, err error) {
	s.failed = append(s.failed, domain.FailedCandidate{Ordering: ordering.Clone(), Err: err})
}

// Abort records the reason the search stopped early.
func (s *ResultSet) Abort(err error) {
	s.abortErr = err
}

// Finalize computes RAM deltas, ranks the records and selects the best one.
// Calling it more than once is a no-op.
func (s *ResultSet) Finalize() {
	if s.finalized {
		return
	}
	s.finalized = true

	for _, r := range s.records {
		r.RAMChangePct = 0
		if s.baseline == nil || r == s.baseline || s.baseline.RAMBytes == 0 {
			continue
		}
		r.RAMChangePct = float64(r.RAMBytes-s.baseline.RAMBytes) / float64(s.baseline.RAMBytes) * 100
	}

	s.ranked = make([]*domain.MeasurementRecord, len(s.records))
	copy(s.ranked, s.records)
	sort.SliceStable(s.ranked, func(i, j int) bool {
		a, b := s.ranked[i], s.ranked[j]
		if a.MeanQueryTime != b.MeanQueryTime {
			return a.MeanQueryTime < b.MeanQueryTime
		}
		if a.RAMBytes != b.RAMBytes {
			return a.RAMBytes < b.RAMBytes
		}
		return a.ID < b.ID
	})

	switch s.Selection {
	case domain.SelectionBalanced:
		s.best = s.selectBalanced()
	default:
		for _, r := range s.ranked {
			if r != s.baseline {
				s.best = r
				break
			}
		}
	}
}

// selectBalanced walks the threshold ladder and returns the first ranked
// candidate within both the RAM and the median time threshold.
func (s *ResultSet) selectBalanced() *domain.MeasurementRecord {
	if len(s.records) == 0 {
		return nil
	}
	minRAM, maxRAM := s.records[0].RAMBytes, s.records[0].RAMBytes
	minT, maxT := s.records[0].MedianQueryTime, s.records[0].MedianQueryTime
	for _, r := range s.records[1:] {
		minRAM, maxRAM = min(minRAM, r.RAMBytes), max(maxRAM, r.RAMBytes)
		minT, maxT = min(minT, r.MedianQueryTime), max(maxT, r.MedianQueryTime)
	}
	for _, f := range balancedThresholds {
		ramLimit := float64(minRAM) + f*float64(maxRAM-minRAM)
		timeLimit := float64(minT) + f*float64(maxT-minT)
		for _, r := range s.ranked {
			if r == s.baseline {
				continue
			}
			if float64(r.RAMBytes) <= ramLimit && float64(r.MedianQueryTime) <= timeLimit {
				return r
			}
		}
	}
	return nil
}

// Finalized reports whether Finalize has run.
func (s *ResultSet) Finalized() bool { return s.finalized }

// Len returns the number of measured records, baseline included.
func (s *ResultSet) Len() int { return len(s.records) }

// Records returns the records in measurement order.
func (s *ResultSet) Records() []*domain.MeasurementRecord {
	out := make([]*domain.MeasurementRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Ranked returns the records best first. Nil before Finalize.
func (s *ResultSet) Ranked() []*domain.MeasurementRecord {
	out := make([]*domain.MeasurementRecord, len(s.ranked))
	copy(out, s.ranked)
	return out
}

// Baseline returns the original-order record, or nil.
func (s *ResultSet) Baseline() *domain.MeasurementRecord { return s.baseline }

// Best returns the selected candidate, or nil when none qualified.
func (s *ResultSet) Best() *domain.MeasurementRecord { return s.best }

// BestImproves reports whether the best candidate strictly beats the baseline.
func (s *ResultSet) BestImproves() bool {
	return s.best != nil && s.baseline != nil && s.best.Beats(s.baseline)
}

// Failed returns the candidates that could not be measured.
func (s *ResultSet) Failed() []domain.FailedCandidate {
	out := make([]domain.FailedCandidate, len(s.failed))
	copy(out, s.failed)
	return out
}

// AbortErr returns the error that stopped the search early, or nil.
func (s *ResultSet) AbortErr() error { return s.abortErr }

// QueryRatio is the record's median time relative to the baseline median,
// minus one: -0.25 means 25% faster. 0 without a usable baseline.
func (s *ResultSet) QueryRatio(r *domain.MeasurementRecord) float64 {
	if s.baseline == nil || s.baseline.MedianQueryTime == 0 {
		return 0
	}
	return float64(r.MedianQueryTime)/float64(s.baseline.MedianQueryTime) - 1
}

// Row is one line of the tabular projection.
type Row struct {
	ID              int
	Mode            string
	IsBest          bool
	MeanQueryTime   time.Duration
	MedianQueryTime time.Duration
	QueryRatio      float64
	RAMBytes        int64
	RAMGB           float64
	RAMChangePct    float64
	ViewMeans       []time.Duration // one per ResultSet.ExtraViews
	Dimensions      []string
}

// Header returns the column names of Table for a cube with n dimensions.
func Header(n int) []string {
	return header(n, nil)
}

// Columns returns the column names of Table, including one mean column per
// extra view. The dimension columns always come last.
func (s *ResultSet) Columns() []string {
	return header(len(s.Original), s.ExtraViews)
}

func header(n int, views []string) []string {
	h := []string{"ID", "Mode", "Is Best", "Mean Query Time", "Median Query Time", "Query Ratio", "RAM", "RAM in GB", "RAM Change %"}
	for _, v := range views {
		h = append(h, "Mean "+v)
	}
	for i := 1; i <= n; i++ {
		h = append(h, fmt.Sprintf("Dimension%d", i))
	}
	return h
}

// Table projects the finalized set: baseline first, then the candidates in
// rank order.
func (s *ResultSet) Table() []Row {
	rows := make([]Row, 0, len(s.ranked))
	if s.baseline != nil {
		rows = append(rows, s.row(s.baseline))
	}
	for _, r := range s.ranked {
		if r != s.baseline {
			rows = append(rows, s.row(r))
		}
	}
	return rows
}

func (s *ResultSet) row(r *domain.MeasurementRecord) Row {
	var means []time.Duration
	for _, v := range s.ExtraViews {
		means = append(means, r.ViewMeans[v])
	}
	return Row{
		ID:              r.ID,
		Mode:            r.Mode.String(),
		IsBest:          r == s.best,
		MeanQueryTime:   r.MeanQueryTime,
		MedianQueryTime: r.MedianQueryTime,
		QueryRatio:      s.QueryRatio(r),
		RAMBytes:        r.RAMBytes,
		RAMGB:           float64(r.RAMBytes) / (1 << 30),
		RAMChangePct:    r.RAMChangePct,
		ViewMeans:       means,
		Dimensions:      r.Ordering.Clone(),
	}
}

// Strings renders a row for CSV and terminal output. Durations are seconds.
func (r Row) Strings() []string {
	out := []string{
		fmt.Sprint(r.ID),
		r.Mode,
		fmt.Sprint(r.IsBest),
		fmt.Sprintf("%.6f", r.MeanQueryTime.Seconds()),
		fmt.Sprintf("%.6f", r.MedianQueryTime.Seconds()),
		fmt.Sprintf("%.4f", r.QueryRatio),
		fmt.Sprint(r.RAMBytes),
		fmt.Sprintf("%.6f", r.RAMGB),
		fmt.Sprintf("%.2f", r.RAMChangePct),
	}
	for _, m := range r.ViewMeans {
		out = append(out, fmt.Sprintf("%.6f", m.Seconds()))
	}
	return append(out, r.Dimensions...)
}
