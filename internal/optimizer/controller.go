// Package optimizer drives one evaluation run: baseline, candidate search,
// result finalization and the optional write-back of the winning order.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cubeopt/internal/domain"
	"cubeopt/internal/measure"
	"cubeopt/internal/results"
	"cubeopt/internal/search"
)

// State is the controller's position in a run.
type State int

const (
	StateIdle State = iota
	StateBaselineCaptured
	StateSearching
	StateFinalizing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBaselineCaptured:
		return "baseline_captured"
	case StateSearching:
		return "searching"
	case StateFinalizing:
		return "finalizing"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Settings tunes measurement behaviour that is not part of RunOptions.
type Settings struct {
	RAMRetries  int
	RAMInterval time.Duration
}

// Controller runs evaluations against one cube server. A Controller runs one
// cube at a time; the live dimension order is a shared external resource.
type Controller struct {
	cube     domain.CubeHandle
	settings Settings
	logger   *slog.Logger
	now      func() time.Time

	state   State
	current domain.Ordering // live order on the server as far as the controller knows
}

// New creates a Controller.
func New(cube domain.CubeHandle, settings Settings, logger *slog.Logger) *Controller {
	return &Controller{
		cube:     cube,
		settings: settings,
		logger:   logger,
		now:      time.Now,
	}
}

// State returns the controller's current state.
func (c *Controller) State() State { return c.state }

// Current returns the ordering the controller last applied to the server.
func (c *Controller) Current() domain.Ordering { return c.current.Clone() }

// Run evaluates opts.Cube. On a connectivity failure or cancellation the
// partial results are finalized and returned together with the error.
func (c *Controller) Run(ctx context.Context, opts domain.RunOptions) (*results.ResultSet, error) {
	c.state = StateIdle
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	selection, _ := domain.ParseSelection(string(opts.Selection))
	started := c.now()

	dims, in, err := c.prepare(ctx, opts)
	if err != nil {
		return nil, err
	}
	original := domain.DimensionNames(dims)
	c.current = original.Clone()

	exec, err := measure.NewExecutor(c.cube, measure.Config{
		Cube:           opts.Cube,
		View:           opts.View,
		ExtraViews:     opts.ExtraViews,
		ProcessName:    opts.ProcessName,
		ExecutionCount: opts.ExecutionCount,
		MeasureRAM:     opts.MeasureRAM,
		RAMRetries:     c.settings.RAMRetries,
		RAMInterval:    c.settings.RAMInterval,
	}, original, c.logger)
	if err != nil {
		return nil, err
	}

	set := results.New(opts.Cube, opts.View, opts.Strategy, selection)
	set.ExtraViews = opts.ExtraViews
	set.Original = original.Clone()
	set.StartedAt = started

	c.logger.Info("measuring original order", "cube", opts.Cube, "ordering", original.String())
	baseline, err := exec.Measure(ctx, original, domain.ModeOriginalOrder)
	if err != nil {
		return nil, fmt.Errorf("measure original order of cube %q: %w", opts.Cube, err)
	}
	if err := set.Append(baseline); err != nil {
		return nil, err
	}
	c.state = StateBaselineCaptured

	in.Baseline = baseline
	plan, err := search.NewPlan(in)
	if err != nil {
		return nil, err
	}

	c.state = StateSearching
	abortErr, err := c.measureCandidates(ctx, opts, exec, plan, set)
	if err != nil {
		return nil, err
	}

	c.state = StateFinalizing
	if abortErr != nil {
		set.Abort(abortErr)
	}
	set.Finalize()

	if conv, ok := plan.(search.Converger); ok {
		c.logger.Info("greedy search converged", "cube", opts.Cube, "ordering", conv.Result().String())
	}

	var applyErr error
	switch {
	case abortErr == nil:
		applyErr = c.writeBack(ctx, opts, set)
	case cancelled(abortErr):
		applyErr = c.restoreAfterCancel(ctx, opts, set)
	}
	set.FinishedAt = c.now()
	c.state = StateDone

	best := set.Best()
	if best != nil {
		c.logger.Info("run finished",
			"cube", opts.Cube,
			"records", set.Len(),
			"failed", len(set.Failed()),
			"best", best.Ordering.String(),
			"best_improves", set.BestImproves(),
		)
	}

	switch {
	case abortErr != nil:
		return set, errors.Join(
			fmt.Errorf("search of cube %q aborted after %d records: %w", opts.Cube, set.Len(), abortErr),
			applyErr,
		)
	case applyErr != nil:
		return set, applyErr
	}
	return set, nil
}

// Plan returns the candidates opts.Strategy would measure, without measuring.
// Greedy candidates after the first step depend on measurements, so a dry run
// lists every step's swaps against the original order.
func (c *Controller) Plan(ctx context.Context, opts domain.RunOptions) ([]domain.Ordering, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	_, in, err := c.prepare(ctx, opts)
	if err != nil {
		return nil, err
	}
	plan, err := search.NewPlan(in)
	if err != nil {
		return nil, err
	}
	return search.Collect(plan), nil
}

// prepare discovers the dimensions and checks the plan can be built, so that
// configuration errors surface before anything is measured.
func (c *Controller) prepare(ctx context.Context, opts domain.RunOptions) ([]domain.Dimension, search.Input, error) {
	dims, err := c.cube.ListDimensions(ctx, opts.Cube)
	if err != nil {
		return nil, search.Input{}, fmt.Errorf("list dimensions of cube %q: %w", opts.Cube, err)
	}

	in := search.Input{
		Dimensions:      dims,
		Pinned:          opts.Pinned,
		Strategy:        opts.Strategy,
		MaxPermutations: opts.MaxPermutations,
		DefaultMembers:  opts.DefaultMembers,
		Priority:        opts.Priority,
	}

	if opts.Strategy == domain.StrategyOneShot || (opts.Strategy == domain.StrategyAll && len(opts.DefaultMembers) > 0) {
		profiles, err := c.profiles(ctx, opts, dims)
		if err != nil {
			return nil, search.Input{}, err
		}
		in.Profiles = profiles
	}

	if _, err := search.NewPlan(in); err != nil {
		return nil, search.Input{}, err
	}
	return dims, in, nil
}

// profiles gathers sparsity statistics for the unpinned dimensions when the
// handle supports it. Without a profiler the one-shot plan falls back to
// cardinality.
func (c *Controller) profiles(ctx context.Context, opts domain.RunOptions, dims []domain.Dimension) (map[string]domain.DimensionProfile, error) {
	profiler, ok := c.cube.(domain.DimensionProfiler)
	if !ok || len(opts.Priority) > 0 {
		return nil, nil
	}
	pinned := make(map[string]bool, len(opts.Pinned))
	for _, p := range opts.Pinned {
		pinned[p] = true
	}

	out := make(map[string]domain.DimensionProfile, len(dims))
	for _, d := range dims {
		if pinned[d.Name] {
			continue
		}
		if _, ok := opts.DefaultMembers[d.Name]; !ok {
			// reported by the plan with the full list of missing members
			return nil, nil
		}
		p, err := profiler.ProfileDimension(ctx, opts.Cube, d.Name, opts.DefaultMembers)
		if err != nil {
			return nil, fmt.Errorf("profile dimension %q of cube %q: %w", d.Name, opts.Cube, err)
		}
		c.logger.Info("dimension profiled",
			"cube", opts.Cube,
			"dimension", d.Name,
			"sparsity_ratio", fmt.Sprintf("%.2f", p.SparsityRatio()),
		)
		out[d.Name] = p
	}
	return out, nil
}

// measureCandidates measures every candidate of plan. It returns abort when
// the run must stop but the partial results are still valid, and fatal when
// they are not.
func (c *Controller) measureCandidates(
	ctx context.Context,
	opts domain.RunOptions,
	exec *measure.Executor,
	plan search.Plan,
	set *results.ResultSet,
) (abort, fatal error) {
	n := 0
	measured := make(map[string]*domain.MeasurementRecord)
	for {
		if err := ctx.Err(); err != nil {
			return err, nil
		}
		ordering, ok := plan.Next()
		if !ok {
			return nil, nil
		}
		n++

		// Fast plans over two dimensions and chained plans repeat orderings.
		if prev, ok := measured[ordering.Key()]; ok {
			c.logger.Info("candidate repeats an earlier one, reusing its measurement",
				"cube", opts.Cube, "candidate", n, "ordering", ordering.String(), "record", prev.ID)
			plan.Observe(ordering, prev)
			continue
		}

		rec, err := exec.Measure(ctx, ordering, domain.ModeCandidate)
		c.track(ordering, err)

		var invalid *domain.InvalidOrderingError
		var failed *domain.MeasurementError
		switch {
		case err == nil:
			plan.Observe(ordering, rec)
			if err := set.Append(rec); err != nil {
				return nil, err
			}
			measured[ordering.Key()] = rec
			c.logger.Info("candidate measured",
				"cube", opts.Cube,
				"candidate", n,
				"ordering", ordering.String(),
				"mean", rec.MeanQueryTime,
			)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err, nil
		case domain.IsConnectivity(err):
			c.logger.Error("cube server unreachable, stopping search", "cube", opts.Cube, "error", err)
			return err, nil
		case errors.As(err, &invalid):
			return nil, fmt.Errorf("candidate %d of cube %q: %w", n, opts.Cube, err)
		case errors.As(err, &failed):
			c.logger.Warn("candidate skipped", "cube", opts.Cube, "ordering", ordering.String(), "error", err)
			set.Fail(ordering, err)
			plan.Observe(ordering, nil)
		default:
			return nil, fmt.Errorf("candidate %d of cube %q: %w", n, opts.Cube, err)
		}
	}
}

// track keeps c.current in line with the server after a Measure call.
func (c *Controller) track(ordering domain.Ordering, err error) {
	var failed *domain.MeasurementError
	switch {
	case err == nil:
		c.current = ordering.Clone()
	case errors.As(err, &failed) && failed.Op != measure.OpSetOrder:
		c.current = ordering.Clone()
	}
}

// writeBack applies the winning ordering, or restores the original one, with
// exactly one SetDimensionOrder call.
func (c *Controller) writeBack(ctx context.Context, opts domain.RunOptions, set *results.ResultSet) error {
	var target domain.Ordering
	switch {
	case opts.UpdateOriginalOrder && set.BestImproves():
		target = set.Best().Ordering
		c.logger.Info("applying best ordering", "cube", opts.Cube, "ordering", target.String())
	case opts.RestoreOriginalOrder:
		target = set.Original
		c.logger.Info("restoring original ordering", "cube", opts.Cube, "ordering", target.String())
	default:
		return nil
	}
	if err := c.cube.SetDimensionOrder(ctx, opts.Cube, target); err != nil {
		return fmt.Errorf("apply ordering to cube %q: %w", opts.Cube, err)
	}
	c.current = target.Clone()
	set.Applied = target.Clone()
	return nil
}

// restoreTimeout bounds the restore issued after a cancelled run.
const restoreTimeout = 30 * time.Second

func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// restoreAfterCancel puts the original ordering back after a cancelled run.
// The call is issued even when c.current already matches: a reorder cut off
// by the cancellation may still have reached the server. A partial search
// never applies its best ordering.
func (c *Controller) restoreAfterCancel(ctx context.Context, opts domain.RunOptions, set *results.ResultSet) error {
	if !opts.RestoreOriginalOrder {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
	defer cancel()

	c.logger.Info("run cancelled, restoring original ordering", "cube", opts.Cube, "ordering", set.Original.String())
	if err := c.cube.SetDimensionOrder(ctx, opts.Cube, set.Original); err != nil {
		return fmt.Errorf("restore ordering of cube %q: %w", opts.Cube, err)
	}
	c.current = set.Original.Clone()
	set.Applied = set.Original.Clone()
	return nil
}

// Summarize builds the history entry for a finished run.
func Summarize(set *results.ResultSet, opts domain.RunOptions) *domain.RunSummary {
	s := &domain.RunSummary{
		Cube:           set.Cube,
		View:           set.View,
		ProcessName:    opts.ProcessName,
		Strategy:       set.Strategy,
		ExecutionCount: opts.ExecutionCount,
		OriginalOrder:  set.Original.Clone(),
		BestImproves:   set.BestImproves(),
		Applied:        set.Applied != nil && !set.Applied.Equal(set.Original),
		Candidates:     set.Len(),
		FailedCount:    len(set.Failed()),
		StartedAt:      set.StartedAt,
		FinishedAt:     set.FinishedAt,
	}
	if set.Baseline() != nil {
		s.Candidates--
	}
	if best := set.Best(); best != nil {
		s.BestOrder = best.Ordering.Clone()
	}
	if err := set.AbortErr(); err != nil {
		s.Aborted = true
		s.AbortReason = err.Error()
	}
	return s
}
