package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"cubeopt/internal/db"
	"cubeopt/internal/db/repository"
	"cubeopt/internal/domain"
)

func newHistoryCmd(s *session) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [cube]",
		Short: "List past runs from the history database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeRepo, err := openHistoryRepo(s)
			if err != nil {
				return err
			}
			defer closeRepo() //nolint:errcheck

			cube := ""
			if len(args) == 1 {
				cube = args[0]
			}
			runs, err := repo.read.ListRuns(cmd.Context(), cube, limit)
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				if runs == nil {
					runs = []domain.RunSummary{}
				}
				return printJSON(os.Stdout, runs)
			}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				target := r.View
				if r.ProcessName != "" {
					target = "process " + r.ProcessName
				}
				best := "-"
				if r.BestOrder != nil {
					best = r.BestOrder.String()
				}
				status := "done"
				if r.Aborted {
					status = "aborted"
				}
				rows[i] = []string{
					r.ID, r.Cube, target, string(r.Strategy), best,
					fmt.Sprint(r.BestImproves), fmt.Sprint(r.Applied),
					fmt.Sprint(r.Candidates), fmt.Sprint(r.FailedCount), status,
					r.StartedAt.Local().Format(time.DateTime),
				}
			}
			printTable(os.Stdout, []string{"ID", "Cube", "Target", "Strategy", "Best", "Improves", "Applied", "Candidates", "Failed", "Status", "Started"}, rows)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs (0 for all)")
	cmd.AddCommand(newHistoryShowCmd(s))
	cmd.AddCommand(newHistoryPruneCmd(s))
	return cmd
}

func newHistoryShowCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the measurements of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closeRepo, err := openHistoryRepo(s)
			if err != nil {
				return err
			}
			defer closeRepo() //nolint:errcheck

			ctx := cmd.Context()
			run, err := repo.read.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			records, err := repo.read.GetRecords(ctx, run.ID)
			if err != nil {
				return err
			}

			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, map[string]any{"run": run, "records": records})
			}
			_, _ = fmt.Fprintf(os.Stdout, "Run %s: cube %s, %s, %d executions\n", run.ID, run.Cube, run.Strategy, run.ExecutionCount)
			if run.Aborted {
				_, _ = fmt.Fprintf(os.Stdout, "Aborted: %s\n", run.AbortReason)
			}
			rows := make([][]string, len(records))
			for i, rec := range records {
				best := ""
				if run.BestOrder != nil && rec.Ordering.Equal(run.BestOrder) {
					best = "*"
				}
				rows[i] = []string{
					fmt.Sprint(rec.ID), rec.Mode.String(), best,
					elapsed(rec.MeanQueryTime), elapsed(rec.MedianQueryTime),
					fmt.Sprint(rec.RAMBytes), fmt.Sprintf("%.2f", rec.RAMChangePct),
					rec.Ordering.String(),
				}
			}
			printTable(os.Stdout, []string{"ID", "Mode", "Best", "Mean", "Median", "RAM", "RAM Change %", "Ordering"}, rows)
			return nil
		},
	}
}

func newHistoryPruneCmd(s *session) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete runs older than a given age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			repo, closeRepo, err := openHistoryRepo(s)
			if err != nil {
				return err
			}
			defer closeRepo() //nolint:errcheck

			n, err := repo.write.DeleteBefore(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, map[string]int64{"deleted": n})
			}
			_, _ = fmt.Fprintf(os.Stdout, "Deleted %d runs\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "Age of the oldest run to keep")
	return cmd
}

// historyRepos are the run repositories on the history database's reader
// and writer pools.
type historyRepos struct {
	read, write *repository.RunRepo
}

func openHistoryRepo(s *session) (historyRepos, func() error, error) {
	cfg, _, err := s.config()
	if err != nil {
		return historyRepos{}, nil, err
	}
	writeDB, readDB, err := db.OpenHistory(cfg.HistoryDBPath)
	if err != nil {
		return historyRepos{}, nil, fmt.Errorf("open run history: %w", err)
	}
	closeAll := func() error {
		_ = readDB.Close()
		return writeDB.Close()
	}
	return historyRepos{
		read:  repository.NewRunRepo(readDB),
		write: repository.NewRunRepo(writeDB),
	}, closeAll, nil
}
