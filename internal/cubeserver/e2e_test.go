package cubeserver

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cubeopt/internal/cube/duckcube"
	"cubeopt/internal/cube/rest"
	"cubeopt/internal/domain"
	"cubeopt/internal/optimizer"
	"cubeopt/internal/testutil"
)

// A full run over HTTP: the optimiser drives a REST client against the
// simulator backed by a generated DuckDB cube.
func TestEndToEnd_ExhaustiveOverHTTP(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	backend, err := duckcube.Open(ctx, "", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	require.NoError(t, backend.CreateCube(ctx, duckcube.CubeDef{
		Name: "Sales",
		Dimensions: []duckcube.DimensionDef{
			{Name: "Year", Members: 4},
			{Name: "Region", Members: 12, Skew: 2},
			{Name: "Product", Members: 50, Skew: 3},
		},
		Cells: 5000,
		Seed:  0.5,
	}))
	require.NoError(t, backend.DefineView(ctx, "Sales", duckcube.ViewDef{
		Name:    "Default",
		Rows:    []string{"Product"},
		Filters: map[string]string{"Region": "Region_0"},
	}))

	srv := httptest.NewServer(New(backend, Options{APIKey: "k", StatsWarmup: 1}, logger).Handler())
	t.Cleanup(srv.Close)
	client := rest.NewClient(srv.URL, "k", 30*time.Second, logger)

	ctrl := optimizer.New(client, optimizer.Settings{RAMRetries: 3, RAMInterval: time.Millisecond}, logger)
	set, err := ctrl.Run(ctx, domain.RunOptions{
		Cube:                 "Sales",
		View:                 "Default",
		Strategy:             domain.StrategyExhaustive,
		ExecutionCount:       2,
		MeasureRAM:           true,
		RestoreOriginalOrder: true,
	})
	require.NoError(t, err)

	// Baseline plus all 3! orderings.
	assert.Equal(t, 7, set.Len())
	assert.Empty(t, set.Failed())
	require.NotNil(t, set.Best())
	for _, rec := range set.Records() {
		assert.Positive(t, rec.RAMBytes, "memory read should succeed after the warm-up retry")
		assert.Len(t, rec.Samples, 2)
	}

	dims, err := client.ListDimensions(ctx, "Sales")
	require.NoError(t, err)
	assert.Equal(t, domain.Ordering{"Year", "Region", "Product"}, domain.DimensionNames(dims),
		"the original order is restored after the run")
}

// A candidate whose view outlasts the client timeout is skipped; the search
// goes on with the remaining candidates.
func TestEndToEnd_SlowCandidateIsSkipped(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	slow := domain.Ordering{"B", "A", "C"}
	mock := testutil.NewMockCube("A", "B", "C")
	mock.ExecuteViewFn = func(ctx context.Context, _, _ string, current domain.Ordering) (domain.ViewResult, error) {
		if current.Equal(slow) {
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
		}
		return domain.ViewResult{Cells: 1, Elapsed: time.Millisecond}, nil
	}
	srv := httptest.NewServer(New(mock, Options{}, logger).Handler())
	t.Cleanup(srv.Close)
	client := rest.NewClient(srv.URL, "", 200*time.Millisecond, logger)

	ctrl := optimizer.New(client, optimizer.Settings{}, logger)
	set, err := ctrl.Run(ctx, domain.RunOptions{
		Cube:                 "Sales",
		View:                 "Default",
		Strategy:             domain.StrategyExhaustive,
		ExecutionCount:       1,
		RestoreOriginalOrder: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 6, set.Len(), "baseline plus five candidates")
	require.Len(t, set.Failed(), 1)
	assert.Equal(t, slow, set.Failed()[0].Ordering)
	var me *domain.MeasurementError
	assert.ErrorAs(t, set.Failed()[0].Err, &me)
	assert.Nil(t, set.AbortErr())
	assert.Equal(t, domain.Ordering{"A", "B", "C"}, set.Applied)
}
