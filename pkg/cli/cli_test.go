package cli

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cubeopt/internal/cube/duckcube"
	"cubeopt/internal/cubeserver"
	"cubeopt/internal/domain"
	"cubeopt/internal/testutil"
)

const testAPIKey = "test-key-0123456789"

// isolate points HOME, the history database and the report directory at
// temporary paths and clears every CUBEOPT_* variable the CLI reads.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{
		"CUBEOPT_SERVER_URL", "CUBEOPT_TOKEN", "CUBEOPT_BACKEND", "CUBEOPT_DUCKDB_PATH",
		"CUBEOPT_OUTPUT", "CUBEOPT_SCHEDULE", "CUBEOPT_ARCHIVE_URL", "CUBEOPT_REPORT_FORMATS",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("CUBEOPT_HISTORY_DB", filepath.Join(home, "history.sqlite"))
	t.Setenv("CUBEOPT_RESULT_DIR", filepath.Join(home, "results"))
	t.Setenv("CUBEOPT_LOG_LEVEL", "error")
	t.Setenv("CUBEOPT_RAM_INTERVAL", "1ms")
	return home
}

// newCubeServer serves mock over the cube server HTTP API.
func newCubeServer(t *testing.T, mock *testutil.MockCube) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(cubeserver.New(mock, cubeserver.Options{APIKey: testAPIKey}, slog.New(slog.DiscardHandler)).Handler())
	t.Cleanup(srv.Close)
	return srv
}

// slowUnlessProductFirst makes every ordering that does not start with
// Product measurably slower.
func slowUnlessProductFirst(_ context.Context, _, _ string, current domain.Ordering) (domain.ViewResult, error) {
	if current[0] != "Product" {
		time.Sleep(20 * time.Millisecond)
	}
	return domain.ViewResult{Cells: 10}, nil
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(args)
	restore := captureStdout(t)
	err := cmd.Execute()
	return restore(), err
}

func decodeOutcomes(t *testing.T, out string) []outcome {
	t.Helper()
	var outcomes []outcome
	require.NoError(t, json.Unmarshal([]byte(out), &outcomes), "output: %s", out)
	return outcomes
}

func TestRunCmd_ExhaustiveWithHistory(t *testing.T) {
	home := isolate(t)
	mock := testutil.NewMockCube("Year", "Region", "Product")
	mock.ExecuteViewFn = slowUnlessProductFirst
	srv := newCubeServer(t, mock)

	out, err := runCLI(t, "--server", srv.URL, "--api-key", testAPIKey, "-o", "json",
		"run", "Sales", "--view", "Default", "-e", "1", "--formats", "csv,json")
	require.NoError(t, err)

	outcomes := decodeOutcomes(t, out)
	require.Len(t, outcomes, 1)
	o := outcomes[0]
	assert.Equal(t, "Sales", o.Cube)
	assert.Equal(t, "exhaustive", o.Strategy)
	assert.Equal(t, 6, o.Candidates, "3! orderings")
	assert.Equal(t, 7, o.Records, "baseline plus 3! orderings")
	assert.Zero(t, o.Failed)
	require.NotEmpty(t, o.Best)
	assert.Equal(t, "Product", o.Best[0])
	assert.True(t, o.BestImproves)
	assert.Equal(t, []string{"Year", "Region", "Product"}, o.Applied, "original order restored")
	dims, err := mock.ListDimensions(context.Background(), "Sales")
	require.NoError(t, err)
	assert.Equal(t, domain.Ordering{"Year", "Region", "Product"}, domain.DimensionNames(dims))

	require.Len(t, o.Reports, 2)
	for _, p := range o.Reports {
		assert.Equal(t, filepath.Join(home, "results"), filepath.Dir(p))
		_, err := os.Stat(p)
		assert.NoError(t, err)
	}
	require.NotEmpty(t, o.RunID)

	out, err = runCLI(t, "-o", "json", "history", "Sales")
	require.NoError(t, err)
	var runs []domain.RunSummary
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, o.RunID, runs[0].ID)
	assert.Equal(t, o.Candidates, runs[0].Candidates, "output and history agree")

	out, err = runCLI(t, "-o", "json", "history", "show", o.RunID)
	require.NoError(t, err)
	var shown struct {
		Run     domain.RunSummary          `json:"run"`
		Records []domain.MeasurementRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Len(t, shown.Records, 7)

	out, err = runCLI(t, "history")
	require.NoError(t, err)
	assert.Contains(t, out, o.RunID)
	assert.Contains(t, out, "STRATEGY")

	_, err = runCLI(t, "history", "show", "nope")
	var nf *domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestRunCmd_UpdateAppliesBest(t *testing.T) {
	isolate(t)
	mock := testutil.NewMockCube("Year", "Region", "Product")
	mock.ExecuteViewFn = slowUnlessProductFirst
	srv := newCubeServer(t, mock)

	out, err := runCLI(t, "--server", srv.URL, "--api-key", testAPIKey,
		"run", "Sales", "--view", "Default", "-e", "1", "--ram=false", "--update", "--no-history")
	require.NoError(t, err)

	dims, err := mock.ListDimensions(context.Background(), "Sales")
	require.NoError(t, err)
	assert.Equal(t, "Product", dims[0].Name)
	assert.Contains(t, out, "Cube Sales, view Default (exhaustive)")
	assert.Contains(t, out, "beats the original")
	assert.Contains(t, out, "Report: ")
	assert.NotContains(t, out, "Run ID:")
}

func TestRunCmd_AllStrategyWithExtraView(t *testing.T) {
	isolate(t)
	mock := testutil.NewMockCube("Year", "Region", "Product")
	mock.ExecuteViewFn = slowUnlessProductFirst
	srv := newCubeServer(t, mock)

	out, err := runCLI(t, "--server", srv.URL, "--api-key", testAPIKey, "-o", "json",
		"run", "Sales", "--view", "Default", "--also-view", "Detail", "--strategy", "all",
		"-e", "1", "--ram=false", "--formats", "json", "--no-history")
	require.NoError(t, err)

	outcomes := decodeOutcomes(t, out)
	require.Len(t, outcomes, 1)
	o := outcomes[0]
	assert.Equal(t, "all", o.Strategy)
	assert.Equal(t, 7, o.Records, "repeated orderings across strategies are measured once")
	require.NotEmpty(t, o.Best)
	assert.Equal(t, "Product", o.Best[0])

	require.Len(t, o.Reports, 1)
	data, err := os.ReadFile(o.Reports[0])
	require.NoError(t, err)
	var doc struct {
		ExtraViews []string `json:"extra_views"`
		Records    []struct {
			ViewMeans map[string]float64 `json:"view_mean_seconds"`
		} `json:"records"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, []string{"Detail"}, doc.ExtraViews)
	require.Len(t, doc.Records, 7)
	for _, r := range doc.Records {
		assert.Contains(t, r.ViewMeans, "Detail")
		assert.Contains(t, r.ViewMeans, "Default")
	}
}

func TestRunCmd_AllCubes(t *testing.T) {
	isolate(t)
	mock := testutil.NewMockCube("Year", "Product")
	mock.ListCubesFn = func(context.Context) ([]string, error) {
		return []string{"Sales", "}Stats", "Budget"}, nil
	}
	mock.ViewExistsFn = func(_ context.Context, cube, _ string) (bool, error) {
		return cube != "Budget", nil
	}
	srv := newCubeServer(t, mock)

	out, err := runCLI(t, "--server", srv.URL, "--api-key", testAPIKey, "-o", "json",
		"run", "all", "--view", "Default", "-e", "1", "--strategy", "fast", "--no-history")
	require.NoError(t, err)

	outcomes := decodeOutcomes(t, out)
	require.Len(t, outcomes, 1, "control cubes and cubes without the view are skipped")
	assert.Equal(t, "Sales", outcomes[0].Cube)
	assert.Equal(t, "fast", outcomes[0].Strategy)
}

func TestRunCmd_Rejects(t *testing.T) {
	isolate(t)
	srv := newCubeServer(t, testutil.NewMockCube("A", "B"))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown strategy", []string{"run", "Sales", "--view", "V", "--strategy", "random"}, "unknown strategy"},
		{"unknown selection", []string{"run", "Sales", "--view", "V", "--selection", "cheapest"}, "unknown selection"},
		{"unknown format", []string{"run", "Sales", "--view", "V", "--formats", "xlsx"}, "unknown report format"},
		{"no view", []string{"run", "Sales"}, "a view or a process name is required"},
		{"one_shot without members", []string{"run", "Sales", "--view", "V", "--strategy", "one-shot"}, "requires default members"},
		{"no executions", []string{"run", "Sales", "--view", "V", "-e", "0"}, "execution count must be positive"},
		{"extra view with process", []string{"run", "Sales", "--process", "Load", "--also-view", "V"}, "cannot be combined with a process"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--server", srv.URL, "--api-key", testAPIKey}, tt.args...)
			_, err := runCLI(t, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRunCmd_WrongAPIKey(t *testing.T) {
	isolate(t)
	srv := newCubeServer(t, testutil.NewMockCube("A", "B"))

	_, err := runCLI(t, "--server", srv.URL, "--api-key", "wrong", "run", "Sales", "--view", "V", "--no-history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")
}

func TestRunCmd_DuckDBBackend(t *testing.T) {
	home := isolate(t)
	path := filepath.Join(home, "cubes.duckdb")

	ctx := context.Background()
	backend, err := duckcube.Open(ctx, path, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	require.NoError(t, backend.Apply(ctx, &duckcube.Seed{Cubes: []duckcube.SeedCube{{
		Name:  "Sales",
		Cells: 500,
		Dimensions: []duckcube.SeedDimension{
			{Name: "Year", Members: 3},
			{Name: "Region", Members: 6},
			{Name: "Product", Members: 12, Skew: 2},
		},
		Views: []duckcube.SeedView{{Name: "Default", Rows: []string{"Product"}}},
	}}}))
	require.NoError(t, backend.Close())

	out, err := runCLI(t, "--backend", "duckdb", "--duckdb", path, "-o", "json",
		"run", "Sales", "--view", "Default", "-e", "2", "--strategy", "greedy", "--pin", "Year")
	require.NoError(t, err)

	outcomes := decodeOutcomes(t, out)
	require.Len(t, outcomes, 1)
	assert.Empty(t, outcomes[0].Error)
	assert.Zero(t, outcomes[0].Failed)
	require.NotEmpty(t, outcomes[0].Best)
	assert.Equal(t, "Year", outcomes[0].Best[0], "pinned dimension stays first")
}

func TestPlanCmd(t *testing.T) {
	isolate(t)
	mock := testutil.NewMockCube("Year", "Region", "Product")
	srv := newCubeServer(t, mock)

	out, err := runCLI(t, "--server", srv.URL, "--api-key", testAPIKey, "-o", "json",
		"plan", "Sales", "--view", "Default", "--strategy", "brute_force")
	require.NoError(t, err)

	var plan struct {
		Strategy   string            `json:"strategy"`
		Candidates []domain.Ordering `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	assert.Equal(t, "exhaustive", plan.Strategy)
	assert.Len(t, plan.Candidates, 6)
	assert.Empty(t, mock.Applied(), "planning never reorders the cube")

	out, err = runCLI(t, "--server", srv.URL, "--api-key", testAPIKey,
		"plan", "Sales", "--view", "Default", "--pin", "Product")
	require.NoError(t, err)
	assert.Contains(t, out, "2 candidates (exhaustive)")
	assert.Contains(t, out, "[Product, Year, Region]")
}

func TestCubesCmd(t *testing.T) {
	isolate(t)
	mock := testutil.NewMockCube("Year", "Product")
	mock.ListCubesFn = func(context.Context) ([]string, error) {
		return []string{"Sales", "}Stats", "Budget"}, nil
	}
	srv := newCubeServer(t, mock)

	out, err := runCLI(t, "--server", srv.URL, "--api-key", testAPIKey, "-o", "json", "cubes", "--view", "Default")
	require.NoError(t, err)
	var cubes []string
	require.NoError(t, json.Unmarshal([]byte(out), &cubes))
	assert.Equal(t, []string{"Budget", "Sales"}, cubes)

	out, err = runCLI(t, "--server", srv.URL, "--api-key", testAPIKey, "cubes")
	require.NoError(t, err)
	assert.Contains(t, out, "CUBE")
	assert.Contains(t, out, "[Year, Product]")
}

func TestSettingsPrecedence(t *testing.T) {
	isolate(t)
	mock := testutil.NewMockCube("A")
	mock.ListCubesFn = func(context.Context) ([]string, error) { return []string{"Sales"}, nil }
	srv := newCubeServer(t, mock)

	require.NoError(t, SaveUserConfig(&UserConfig{
		CurrentProfile: "default",
		Profiles: map[string]Profile{
			"default": {Server: srv.URL, APIKey: testAPIKey},
			"broken":  {Server: "http://127.0.0.1:1", APIKey: testAPIKey},
		},
	}))

	_, err := runCLI(t, "cubes", "-o", "json")
	require.NoError(t, err, "profile supplies server and key")

	_, err = runCLI(t, "cubes", "-o", "json", "--profile", "broken")
	var conn *domain.ConnectivityError
	require.ErrorAs(t, err, &conn)

	t.Setenv("CUBEOPT_SERVER_URL", "http://127.0.0.1:1")
	_, err = runCLI(t, "cubes", "-o", "json")
	require.ErrorAs(t, err, &conn, "environment beats profile")

	_, err = runCLI(t, "cubes", "-o", "json", "--server", srv.URL)
	require.NoError(t, err, "flag beats environment")

	_, err = runCLI(t, "cubes", "--profile", "missing")
	require.EqualError(t, err, `profile "missing" not found`)
}

func TestScheduleCmd_NeedsSchedule(t *testing.T) {
	isolate(t)

	_, err := runCLI(t, "schedule", "Sales", "--view", "Default")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no schedule")

	_, err = runCLI(t, "schedule", "Sales", "--view", "Default", "--cron", "every day")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron schedule")
}

func TestCLI_InvalidOutputFormat(t *testing.T) {
	isolate(t)

	_, err := runCLI(t, "-o", "xml", "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format")
}

func TestCLI_InvalidServerURL(t *testing.T) {
	isolate(t)

	_, err := runCLI(t, "--server", "localhost:8090", "cubes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheme must be http or https")
}

func TestCLI_VersionCommand_JSONOutput(t *testing.T) {
	isolate(t)

	out, err := runCLI(t, "--output", "json", "version")
	require.NoError(t, err)

	var result map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &result), "version --output json should produce valid JSON: %s", out)
	assert.Contains(t, result, "version")
	assert.Contains(t, result, "commit")
}

func TestCLI_CommandTree(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"run", "plan", "cubes", "history", "schedule", "config", "version", "completion"} {
		assert.Contains(t, names, want)
	}
}
