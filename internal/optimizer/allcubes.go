package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"cubeopt/internal/domain"
	"cubeopt/internal/results"
)

// CubeRun is the outcome of evaluating one cube in all-cubes mode.
type CubeRun struct {
	Cube string
	Set  *results.ResultSet // nil when the run failed before the baseline was measured
	Err  error
}

// ControlCubePrefix marks server-internal cubes, which are never evaluated.
const ControlCubePrefix = "}"

// EligibleCubes lists the cubes that carry view and every extra view,
// skipping control cubes.
func EligibleCubes(ctx context.Context, lister domain.CubeLister, view string, extra ...string) ([]string, error) {
	cubes, err := lister.ListCubes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cubes: %w", err)
	}
	sort.Strings(cubes)
	views := append([]string{view}, extra...)

	var out []string
	for _, cube := range cubes {
		if strings.HasPrefix(cube, ControlCubePrefix) {
			continue
		}
		ok, err := hasViews(ctx, lister, cube, views)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, cube)
		}
	}
	return out, nil
}

func hasViews(ctx context.Context, lister domain.CubeLister, cube string, views []string) (bool, error) {
	for _, view := range views {
		ok, err := lister.ViewExists(ctx, cube, view)
		if err != nil {
			return false, fmt.Errorf("check view %q in cube %q: %w", view, cube, err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// RunAll evaluates every eligible cube with the same options, one after the
// other. A cube that fails is recorded and skipped; a connectivity failure or
// cancellation stops the remaining cubes.
func (c *Controller) RunAll(ctx context.Context, opts domain.RunOptions) ([]CubeRun, error) {
	lister, ok := c.cube.(domain.CubeLister)
	if !ok {
		return nil, domain.ErrConfiguration("the cube backend cannot list cubes")
	}
	if opts.View == "" {
		return nil, domain.ErrConfiguration("all-cubes mode needs a view")
	}
	cubes, err := EligibleCubes(ctx, lister, opts.View, opts.ExtraViews...)
	if err != nil {
		return nil, err
	}
	c.logger.Info("evaluating cubes", "count", len(cubes), "view", opts.View)

	runs := make([]CubeRun, 0, len(cubes))
	for _, cube := range cubes {
		o := opts
		o.Cube = cube
		set, err := c.Run(ctx, o)
		runs = append(runs, CubeRun{Cube: cube, Set: set, Err: err})
		if err == nil {
			continue
		}
		if domain.IsConnectivity(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return runs, err
		}
		c.logger.Warn("cube evaluation failed, continuing", "cube", cube, "error", err)
	}
	return runs, nil
}
