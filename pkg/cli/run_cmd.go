package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cubeopt/internal/archive"
	"cubeopt/internal/config"
	"cubeopt/internal/db"
	"cubeopt/internal/db/repository"
	"cubeopt/internal/domain"
	"cubeopt/internal/optimizer"
	"cubeopt/internal/report"
	"cubeopt/internal/results"
)

// allCubes is the run target that evaluates every cube carrying the view.
const allCubes = "all"

// measureFlags are the run flags that the plan command does not need.
type measureFlags struct {
	executions int
	ram        bool
	update     bool
	restore    bool
	selection  selectionValue
	formats    string
	resultDir  string
	noHistory  bool
}

func (f *measureFlags) register(cmd *cobra.Command) {
	f.selection = selectionValue(domain.SelectionFastest)
	fs := cmd.Flags()
	fs.IntVarP(&f.executions, "executions", "e", 15, "Executions per candidate")
	fs.BoolVar(&f.ram, "ram", true, "Measure cube memory after each reorder")
	fs.BoolVar(&f.update, "update", false, "Apply the best ordering when it beats the original")
	fs.BoolVar(&f.restore, "restore", true, "Restore the original ordering after the run unless updating")
	fs.Var(&f.selection, "selection", "Best-record policy (fastest, balanced)")
	fs.StringVar(&f.formats, "formats", "", "Report formats, comma separated (csv, json, html, prom)")
	fs.StringVar(&f.resultDir, "result-dir", "", "Report output directory")
	fs.BoolVar(&f.noHistory, "no-history", false, "Do not record the run in the history database")
}

func (f *measureFlags) apply(opts *domain.RunOptions) {
	opts.ExecutionCount = f.executions
	opts.MeasureRAM = f.ram
	opts.UpdateOriginalOrder = f.update
	opts.RestoreOriginalOrder = f.restore
	opts.Selection = domain.Selection(f.selection)
}

func newRunCmd(s *session) *cobra.Command {
	var (
		search  searchFlags
		measure measureFlags
	)

	cmd := &cobra.Command{
		Use:   "run <cube|all>",
		Short: "Measure dimension orderings of a cube and report the best",
		Long: "Measures the view (or process) under every candidate ordering the strategy generates.\n" +
			"With \"all\" every cube that carries the view is evaluated in turn.",
		Example: "  cubeopt run Sales --view Default --strategy greedy -e 5\n" +
			"  cubeopt run all --view Default --strategy fast --update",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := s.config()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := search.options(args[0])
			measure.apply(&opts)

			r, err := newRunner(ctx, cfg, logger, &measure)
			if err != nil {
				return err
			}
			defer r.Close() //nolint:errcheck

			outcomes, err := r.execute(ctx, args[0], opts)
			if getOutputFormat(cmd) == "json" {
				if perr := printJSON(os.Stdout, outcomes); perr != nil {
					return perr
				}
			} else {
				wide := wideResults()
				for _, o := range outcomes {
					printOutcome(os.Stdout, o, wide)
				}
			}
			return err
		},
	}

	search.register(cmd)
	measure.register(cmd)
	return cmd
}

// outcome is what the run command reports for one cube.
type outcome struct {
	Cube         string   `json:"cube"`
	View         string   `json:"view,omitempty"`
	Process      string   `json:"process,omitempty"`
	Strategy     string   `json:"strategy,omitempty"`
	RunID        string   `json:"run_id,omitempty"`
	Original     []string `json:"original_order,omitempty"`
	Best         []string `json:"best_order,omitempty"`
	BestImproves bool     `json:"best_improves"`
	Applied      []string `json:"applied_order,omitempty"`
	Candidates   int      `json:"candidates"` // measured candidates, baseline excluded
	Records      int      `json:"records"`
	Failed       int      `json:"failed"`
	Reports      []string `json:"reports,omitempty"`
	Error        string   `json:"error,omitempty"`

	set *results.ResultSet
}

// runner runs evaluations and takes care of everything that follows a
// finished result set: report files, archiving and the run history.
type runner struct {
	ctrl    *optimizer.Controller
	writer  *report.Writer
	history *repository.RunRepo // nil when disabled
	logger  *slog.Logger

	closers []func() error
}

func newRunner(ctx context.Context, cfg *config.Config, logger *slog.Logger, f *measureFlags) (*runner, error) {
	formats := f.formats
	if formats == "" {
		formats = strings.Join(cfg.ReportFormats, ",")
	}
	parsed, err := report.ParseFormats(formats)
	if err != nil {
		return nil, err
	}
	dir := f.resultDir
	if dir == "" {
		dir = cfg.ResultDir
	}

	r := &runner{
		writer: &report.Writer{Dir: dir, Formats: parsed, Logger: logger},
		logger: logger,
	}
	if cfg.Archive.Enabled() {
		a, err := archive.New(ctx, &cfg.Archive)
		if err != nil {
			return nil, fmt.Errorf("configure report archive: %w", err)
		}
		r.writer.Archiver = a
	}

	handle, closeCube, err := openCube(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, closeCube)

	if !f.noHistory {
		writeDB, readDB, err := db.OpenHistory(cfg.HistoryDBPath)
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("open run history: %w", err)
		}
		r.history = repository.NewRunRepo(writeDB)
		r.closers = append(r.closers, writeDB.Close, readDB.Close)
	}

	r.ctrl = optimizer.New(handle, optimizer.Settings{
		RAMRetries:  cfg.RAMRetries,
		RAMInterval: cfg.RAMInterval,
	}, logger)
	return r, nil
}

// Close releases the cube connection and the history database.
func (r *runner) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// execute evaluates target, a cube name or "all". Every result set that
// exists is finished, even when the run stopped early.
func (r *runner) execute(ctx context.Context, target string, opts domain.RunOptions) ([]outcome, error) {
	if target != allCubes {
		opts.Cube = target
		set, err := r.ctrl.Run(ctx, opts)
		out := []outcome{}
		if set != nil {
			o := r.finish(ctx, set, opts)
			if err != nil {
				o.Error = err.Error()
			}
			out = append(out, o)
		}
		return out, err
	}

	runs, err := r.ctrl.RunAll(ctx, opts)
	out := make([]outcome, 0, len(runs))
	failed := 0
	for _, run := range runs {
		o := outcome{Cube: run.Cube, View: opts.View}
		if run.Set != nil {
			cubeOpts := opts
			cubeOpts.Cube = run.Cube
			o = r.finish(ctx, run.Set, cubeOpts)
		}
		if run.Err != nil {
			o.Error = run.Err.Error()
			failed++
		}
		out = append(out, o)
	}
	if err == nil && failed > 0 {
		err = fmt.Errorf("%d of %d cubes failed", failed, len(runs))
	}
	return out, err
}

// finish writes reports and records history for set. Failures here are
// logged and never hide the measurement itself.
func (r *runner) finish(ctx context.Context, set *results.ResultSet, opts domain.RunOptions) outcome {
	// Reports are written even when the run was cancelled.
	ctx = context.WithoutCancel(ctx)

	summary := optimizer.Summarize(set, opts)
	o := outcome{
		Cube:         set.Cube,
		View:         set.View,
		Process:      opts.ProcessName,
		Strategy:     string(set.Strategy),
		Original:     set.Original.Clone(),
		BestImproves: set.BestImproves(),
		Candidates:   summary.Candidates,
		Records:      set.Len(),
		Failed:       summary.FailedCount,
		set:          set,
	}
	if best := set.Best(); best != nil {
		o.Best = best.Ordering.Clone()
	}
	if set.Applied != nil {
		o.Applied = set.Applied.Clone()
	}

	paths, err := r.writer.Write(ctx, set, set.Cube)
	if err != nil {
		r.logger.Error("writing reports failed", "cube", set.Cube, "error", err)
	}
	o.Reports = paths

	if r.history != nil {
		records := make([]domain.MeasurementRecord, 0, set.Len())
		for _, rec := range set.Records() {
			records = append(records, *rec)
		}
		if err := r.history.SaveRun(ctx, summary, records); err != nil {
			r.logger.Error("saving run history failed", "cube", set.Cube, "error", err)
		} else {
			o.RunID = summary.ID
		}
	}
	return o
}

func printOutcome(w io.Writer, o outcome, wide bool) {
	target := "view " + o.View
	if o.Process != "" {
		target = "process " + o.Process
	}
	_, _ = fmt.Fprintf(w, "Cube %s, %s (%s)\n", o.Cube, target, o.Strategy)
	if o.set != nil && o.set.Len() > 0 {
		printResults(w, o.set, wide)
	}
	switch {
	case o.Best == nil:
		_, _ = fmt.Fprintln(w, "No ordering qualified as best.")
	case o.BestImproves:
		_, _ = fmt.Fprintf(w, "Best ordering %s beats the original %s.\n", domain.Ordering(o.Best), domain.Ordering(o.Original))
	default:
		_, _ = fmt.Fprintf(w, "The original ordering %s is already the best.\n", domain.Ordering(o.Original))
	}
	if o.Applied != nil {
		_, _ = fmt.Fprintf(w, "Cube left in ordering %s.\n", domain.Ordering(o.Applied))
	}
	if o.Failed > 0 {
		_, _ = fmt.Fprintf(w, "%d candidates failed and were skipped.\n", o.Failed)
	}
	for _, p := range o.Reports {
		_, _ = fmt.Fprintf(w, "Report: %s\n", p)
	}
	if o.RunID != "" {
		_, _ = fmt.Fprintf(w, "Run ID: %s\n", o.RunID)
	}
	if o.Error != "" {
		_, _ = fmt.Fprintf(w, "Error: %s\n", o.Error)
	}
	_, _ = fmt.Fprintln(w)
}

// elapsed formats a duration in seconds for tables.
func elapsed(d time.Duration) string {
	return fmt.Sprintf("%.3fs", d.Seconds())
}
