// Package measure applies one ordering to a live cube and times the workload against it.
package measure

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"cubeopt/internal/domain"
)

// Default RAM polling: the server publishes memory statistics on an interval,
// so a fresh reorder can read 0 for a while.
const (
	DefaultRAMRetries  = 4
	DefaultRAMInterval = 15 * time.Second
)

// OpSetOrder is the MeasurementError.Op of a failed reorder. Any other Op
// means the ordering did reach the server.
const OpSetOrder = "set dimension order"

// Config controls how one ordering is measured.
type Config struct {
	Cube           string
	View           string
	ExtraViews     []string // timed after View on each execution, not ranked
	ProcessName    string   // measured instead of View when set
	ExecutionCount int
	MeasureRAM     bool
	RAMRetries     int
	RAMInterval    time.Duration
}

// Executor measures orderings against one cube. It is not safe for
// concurrent use; measurements on a shared cube must be sequential.
type Executor struct {
	cube       domain.CubeHandle
	cfg        Config
	dimensions domain.Ordering
	logger     *slog.Logger
	now        func() time.Time
}

// NewExecutor creates an Executor for the cube whose full dimension set is dimensions.
func NewExecutor(cube domain.CubeHandle, cfg Config, dimensions domain.Ordering, logger *slog.Logger) (*Executor, error) {
	if cfg.ExecutionCount <= 0 {
		return nil, domain.ErrConfiguration("execution count must be positive, got %d", cfg.ExecutionCount)
	}
	if cfg.View == "" && cfg.ProcessName == "" {
		return nil, domain.ErrConfiguration("a view or a process name is required")
	}
	if cfg.RAMRetries <= 0 {
		cfg.RAMRetries = DefaultRAMRetries
	}
	if cfg.RAMInterval <= 0 {
		cfg.RAMInterval = DefaultRAMInterval
	}
	return &Executor{
		cube:       cube,
		cfg:        cfg,
		dimensions: dimensions.Clone(),
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Measure applies ordering to the live cube and times the workload
// ExecutionCount times. The cube is left in ordering afterwards.
//
// Errors: *domain.InvalidOrderingError when ordering is not a permutation of
// the cube's dimensions, *domain.ConnectivityError when the server is gone,
// *domain.MeasurementError for anything else.
func (e *Executor) Measure(ctx context.Context, ordering domain.Ordering, mode domain.Mode) (*domain.MeasurementRecord, error) {
	if err := ordering.ValidateAgainst(e.dimensions); err != nil {
		return nil, err
	}

	if err := e.cube.SetDimensionOrder(ctx, e.cfg.Cube, ordering); err != nil {
		return nil, classify(ordering, OpSetOrder, err)
	}

	var ram int64
	if e.cfg.MeasureRAM {
		var err error
		ram, err = e.memoryUsage(ctx, ordering)
		if err != nil {
			return nil, err
		}
	}

	samples := make([]time.Duration, 0, e.cfg.ExecutionCount)
	extra := make(map[string][]time.Duration, len(e.cfg.ExtraViews))
	for i := 0; i < e.cfg.ExecutionCount; i++ {
		elapsed, err := e.runWorkload(ctx)
		if err != nil {
			return nil, classify(ordering, e.workloadName(), err)
		}
		samples = append(samples, elapsed)

		for _, view := range e.cfg.ExtraViews {
			res, err := e.cube.ExecuteView(ctx, e.cfg.Cube, view)
			if err != nil {
				return nil, classify(ordering, "execute view "+view, err)
			}
			extra[view] = append(extra[view], res.Elapsed)
		}
	}

	rec := &domain.MeasurementRecord{
		Ordering:        ordering.Clone(),
		Mode:            mode,
		Samples:         samples,
		MeanQueryTime:   Mean(samples),
		MedianQueryTime: Median(samples),
		RAMBytes:        ram,
		MeasuredAt:      e.now(),
	}
	if len(extra) > 0 {
		rec.ViewMeans = make(map[string]time.Duration, len(extra)+1)
		rec.ViewMeans[e.cfg.View] = rec.MeanQueryTime
		for view, s := range extra {
			rec.ViewMeans[view] = Mean(s)
		}
	}

	e.logger.Debug("measured ordering",
		"cube", e.cfg.Cube,
		"ordering", ordering.String(),
		"mode", mode.String(),
		"mean", rec.MeanQueryTime,
		"ram_bytes", ram,
	)
	return rec, nil
}

func (e *Executor) runWorkload(ctx context.Context) (time.Duration, error) {
	if e.cfg.ProcessName != "" {
		return e.cube.RunProcess(ctx, e.cfg.ProcessName)
	}
	res, err := e.cube.ExecuteView(ctx, e.cfg.Cube, e.cfg.View)
	if err != nil {
		return 0, err
	}
	return res.Elapsed, nil
}

func (e *Executor) workloadName() string {
	if e.cfg.ProcessName != "" {
		return "run process " + e.cfg.ProcessName
	}
	return "execute view " + e.cfg.View
}

// memoryUsage reads the cube's memory once it is published. A reading of 0
// means the statistics are not there yet; attempts are spaced by RAMInterval.
func (e *Executor) memoryUsage(ctx context.Context, ordering domain.Ordering) (int64, error) {
	limiter := rate.NewLimiter(rate.Every(e.cfg.RAMInterval), 1)
	for attempt := 1; attempt <= e.cfg.RAMRetries; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			return 0, &domain.MeasurementError{Ordering: ordering.Clone(), Op: "memory usage", Err: err}
		}
		ram, err := e.cube.MemoryUsage(ctx, e.cfg.Cube)
		if err != nil {
			return 0, classify(ordering, "memory usage", err)
		}
		if ram > 0 {
			return ram, nil
		}
		e.logger.Info("memory usage not yet available, waiting before retry",
			"cube", e.cfg.Cube,
			"attempt", attempt,
			"wait", e.cfg.RAMInterval,
		)
	}
	return 0, &domain.MeasurementError{
		Ordering: ordering.Clone(),
		Op:       "memory usage",
		Err:      errors.New("server reports no memory usage; the performance monitor must be active"),
	}
}

// classify keeps connectivity failures fatal and turns everything else into a
// per-candidate MeasurementError.
func classify(ordering domain.Ordering, op string, err error) error {
	if domain.IsConnectivity(err) {
		return err
	}
	return &domain.MeasurementError{Ordering: ordering.Clone(), Op: op, Err: err}
}

// Mean is the arithmetic mean of samples, 0 for none.
func Mean(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, s := range samples {
		sum += s
	}
	return sum / time.Duration(len(samples))
}

// Median is the middle sample, or the mean of the two middle samples.
func Median(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
