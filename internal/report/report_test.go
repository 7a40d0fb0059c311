package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cubeopt/internal/domain"
	"cubeopt/internal/results"
	"cubeopt/internal/testutil"
)

func finalizedSet(t *testing.T) *results.ResultSet {
	t.Helper()
	set := results.New("Sales Plan", "Default", domain.StrategyExhaustive, domain.SelectionFastest)
	set.Original = domain.Ordering{"Year", "Region"}
	set.StartedAt = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	set.FinishedAt = set.StartedAt.Add(90 * time.Second)

	add := func(mode domain.Mode, ms int, ram int64, dims ...string) {
		d := time.Duration(ms) * time.Millisecond
		require.NoError(t, set.Append(&domain.MeasurementRecord{
			Ordering: dims, Mode: mode, Samples: []time.Duration{d},
			MeanQueryTime: d, MedianQueryTime: d, RAMBytes: ram,
		}))
	}
	add(domain.ModeOriginalOrder, 200, 2000, "Year", "Region")
	add(domain.ModeCandidate, 100, 1000, "Region", "Year")
	set.Fail(domain.Ordering{"Year", "Region"}, errors.New("view timed out"))
	set.Finalize()
	return set
}

func TestParseFormats(t *testing.T) {
	got, err := ParseFormats("csv, HTML,csv,,prom")
	require.NoError(t, err)
	assert.Equal(t, []Format{FormatCSV, FormatHTML, FormatProm}, got)

	_, err = ParseFormats("csv,xlsx")
	var cfgErr *domain.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestBaseName(t *testing.T) {
	set := finalizedSet(t)
	at := time.Date(2026, 3, 1, 9, 5, 7, 0, time.UTC)
	assert.Equal(t, "Sales_Plan_Default_2026-03-01_09-05-07", BaseName(set, at))

	set.View = ""
	assert.Equal(t, "Sales_Plan_process_2026-03-01_09-05-07", BaseName(set, at))
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, finalizedSet(t)))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"ID", "Mode", "Is Best"}, rows[0][:3])
	assert.Equal(t, "Dimension2", rows[0][len(rows[0])-1])
	assert.Equal(t, []string{"1", "Original Order", "false"}, rows[1][:3])
	assert.Equal(t, []string{"2", "Candidate", "true"}, rows[2][:3])
	assert.Equal(t, "-0.5000", rows[2][5])
	assert.Equal(t, []string{"Region", "Year"}, rows[2][len(rows[2])-2:])
}

func TestWriteCSV_ExtraViewColumns(t *testing.T) {
	set := results.New("Sales", "Default", domain.StrategyFast, domain.SelectionFastest)
	set.ExtraViews = []string{"Detail"}
	set.Original = domain.Ordering{"Year", "Region"}
	for i, o := range []domain.Ordering{{"Year", "Region"}, {"Region", "Year"}} {
		mode := domain.ModeCandidate
		if i == 0 {
			mode = domain.ModeOriginalOrder
		}
		require.NoError(t, set.Append(&domain.MeasurementRecord{
			Ordering: o, Mode: mode, MeanQueryTime: 10 * time.Millisecond,
			ViewMeans: map[string]time.Duration{"Default": 10 * time.Millisecond, "Detail": 50 * time.Millisecond},
		}))
	}
	set.Finalize()

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, set))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Mean Detail", "Dimension1", "Dimension2"}, rows[0][9:])
	assert.Equal(t, "0.050000", rows[1][9])
	assert.Equal(t, []string{"Year", "Region"}, rows[1][10:])

	buf.Reset()
	require.NoError(t, WriteJSON(&buf, set))
	assert.Contains(t, buf.String(), `"extra_views": [`)
	assert.Contains(t, buf.String(), `"Detail": 0.05`)
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, finalizedSet(t)))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "Sales Plan", doc["cube"])
	assert.Equal(t, true, doc["best_improves"])
	assert.Equal(t, []any{"Region", "Year"}, doc["best_order"])
	assert.Len(t, doc["records"], 2)
	assert.Len(t, doc["failed"], 1)
}

func TestWriteHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, finalizedSet(t)))

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "<!doctype html>"))
	assert.Contains(t, out, "<title>Dimension order: Sales Plan</title>")
	assert.Contains(t, out, `<tr class="best">`)
	assert.Contains(t, out, "Skipped candidates")
	assert.Contains(t, out, "view timed out")
}

func TestWriteMetrics(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMetrics(&buf, finalizedSet(t)))

	out := buf.String()
	assert.Contains(t, out, `cubeopt_query_seconds{cube="Sales Plan",order="best"} 0.1`)
	assert.Contains(t, out, `cubeopt_ram_bytes{cube="Sales Plan",order="original"} 2000`)
	assert.Contains(t, out, `cubeopt_candidates_measured{cube="Sales Plan"} 1`)
	assert.Contains(t, out, `cubeopt_candidates_failed{cube="Sales Plan"} 1`)
	assert.Contains(t, out, `cubeopt_best_improves{cube="Sales Plan"} 1`)
	assert.Contains(t, out, `cubeopt_run_duration_seconds{cube="Sales Plan"} 90`)
}

func TestWriter_WritesAllFormatsAndArchives(t *testing.T) {
	dir := t.TempDir()
	archiver := &testutil.MockArchiver{}
	w := &Writer{
		Dir:      filepath.Join(dir, "out"),
		Formats:  AllFormats,
		Archiver: archiver,
		Logger:   slog.New(slog.DiscardHandler),
		Now:      func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) },
	}

	paths, err := w.Write(context.Background(), finalizedSet(t), "runs/2026")
	require.NoError(t, err)
	require.Len(t, paths, 4)
	for _, p := range paths {
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
	assert.Equal(t, ".prom", filepath.Ext(paths[3]))

	require.Len(t, archiver.Objects, 4)
	assert.Contains(t, archiver.Objects, "runs/2026/Sales_Plan_Default_2026-03-01_09-00-00.csv")
}

func TestWriter_ArchiveFailure(t *testing.T) {
	w := &Writer{
		Dir:     t.TempDir(),
		Formats: []Format{FormatCSV},
		Archiver: &testutil.MockArchiver{UploadFn: func(context.Context, string, io.Reader) error {
			return errors.New("access denied")
		}},
	}
	paths, err := w.Write(context.Background(), finalizedSet(t), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.Len(t, paths, 1)
}

func TestWriter_RequiresFinalizedSet(t *testing.T) {
	w := &Writer{Dir: t.TempDir(), Formats: []Format{FormatCSV}}
	_, err := w.Write(context.Background(), results.New("Sales", "Default", domain.StrategyFast, ""), "")
	assert.Error(t, err)
}
