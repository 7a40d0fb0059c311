package cubeserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cubeopt/internal/cube/rest"
	"cubeopt/internal/domain"
	"cubeopt/internal/testutil"
)

func newTestServer(t *testing.T, backend Backend, opts Options) (*httptest.Server, *rest.Client) {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	srv := httptest.NewServer(New(backend, opts, logger).Handler())
	t.Cleanup(srv.Close)
	return srv, rest.NewClient(srv.URL, opts.APIKey, 5*time.Second, logger)
}

func TestServer_RoundTrip(t *testing.T) {
	mock := testutil.NewMockCube("Year", "Region", "Product")
	mock.ListCubesFn = func(context.Context) ([]string, error) { return []string{"Sales"}, nil }
	mock.ExecuteViewFn = func(_ context.Context, _, view string, _ domain.Ordering) (domain.ViewResult, error) {
		return domain.ViewResult{Cells: 42, Elapsed: 3 * time.Millisecond}, nil
	}
	_, client := newTestServer(t, mock, Options{APIKey: "k"})
	ctx := context.Background()

	cubes, err := client.ListCubes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Sales"}, cubes)

	dims, err := client.ListDimensions(ctx, "Sales")
	require.NoError(t, err)
	assert.Equal(t, domain.Ordering{"Year", "Region", "Product"}, domain.DimensionNames(dims))
	assert.Equal(t, int64(20), dims[1].Cardinality)

	require.NoError(t, client.SetDimensionOrder(ctx, "Sales", domain.Ordering{"Product", "Year", "Region"}))
	assert.Equal(t, []domain.Ordering{{"Product", "Year", "Region"}}, mock.Applied())

	res, err := client.ExecuteView(ctx, "Sales", "Default")
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.Cells)

	n, err := client.MemoryUsage(ctx, "Sales")
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), n)

	_, err = client.RunProcess(ctx, "nightly/load")
	require.NoError(t, err)
	assert.Equal(t, 1, mock.ProcessCalls)

	p, err := client.ProfileDimension(ctx, "Sales", "Product", map[string]string{"Year": "2024", "Region": "All"})
	require.NoError(t, err)
	assert.Equal(t, domain.DimensionProfile{Dimension: "Product", Cardinality: 30, Populated: 15}, p)

	ok, err := client.ViewExists(ctx, "Sales", "Default")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestServer_ProcessNameIsUnescaped(t *testing.T) {
	mock := testutil.NewMockCube("A")
	var got string
	mock.RunProcessFn = func(_ context.Context, process string, _ domain.Ordering) (time.Duration, error) {
		got = process
		return time.Millisecond, nil
	}
	_, client := newTestServer(t, mock, Options{})

	_, err := client.RunProcess(context.Background(), "nightly/load")
	require.NoError(t, err)
	assert.Equal(t, "nightly/load", got)
}

func TestServer_ErrorMapping(t *testing.T) {
	mock := testutil.NewMockCube("A", "B")
	mock.ListDimensionsFn = func(_ context.Context, cube string) ([]domain.Dimension, error) {
		return nil, domain.ErrNotFound("cube %q not found", cube)
	}
	mock.SetDimensionOrderFn = func(_ context.Context, _ string, o domain.Ordering) error {
		return domain.ErrInvalidOrdering(o, "unknown dimension")
	}
	mock.ExecuteViewFn = func(context.Context, string, string, domain.Ordering) (domain.ViewResult, error) {
		return domain.ViewResult{}, assert.AnError
	}
	mock.ViewExistsFn = func(context.Context, string, string) (bool, error) { return false, nil }
	_, client := newTestServer(t, mock, Options{})
	ctx := context.Background()

	_, err := client.ListDimensions(ctx, "Nope")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Contains(t, nf.Message, "Nope")

	err = client.SetDimensionOrder(ctx, "Sales", domain.Ordering{"A", "X"})
	var apiErr *rest.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	_, err = client.ExecuteView(ctx, "Sales", "Default")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)

	ok, err := client.ViewExists(ctx, "Sales", "Missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestServer_StatsWarmup(t *testing.T) {
	mock := testutil.NewMockCube("A", "B")
	_, client := newTestServer(t, mock, Options{StatsWarmup: 2})
	ctx := context.Background()

	n, err := client.MemoryUsage(ctx, "Sales")
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), n, "no reorder yet")

	require.NoError(t, client.SetDimensionOrder(ctx, "Sales", domain.Ordering{"B", "A"}))
	for i := 0; i < 2; i++ {
		n, err = client.MemoryUsage(ctx, "Sales")
		require.NoError(t, err)
		assert.Zero(t, n)
	}
	n, err = client.MemoryUsage(ctx, "Sales")
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), n)
}

func TestServer_APIKeyRequired(t *testing.T) {
	srv, _ := newTestServer(t, testutil.NewMockCube("A"), Options{APIKey: "k"})

	resp, err := http.Get(srv.URL + "/v1/cubes/Sales/dimensions")
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	health, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer health.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestServer_BadRequestBody(t *testing.T) {
	srv, _ := newTestServer(t, testutil.NewMockCube("A"), Options{})

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/v1/cubes/Sales/dimension-order", strings.NewReader("{not json"))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusBadRequest, body.Error.Code)
	assert.Contains(t, body.Error.Message, "invalid request body")
}

func TestServer_CORSPreflight(t *testing.T) {
	srv, _ := newTestServer(t, testutil.NewMockCube("A"), Options{AllowedOrigins: []string{"https://dash.example.com"}})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/v1/cubes", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dash.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, "https://dash.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}
