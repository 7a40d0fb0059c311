package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cubeopt/internal/schedule"
)

func newScheduleCmd(s *session) *cobra.Command {
	var (
		search  searchFlags
		measure measureFlags
		expr    string
	)

	cmd := &cobra.Command{
		Use:   "schedule <cube|all>",
		Short: "Run evaluations on a cron schedule until interrupted",
		Long: "Runs the same evaluation as \"run\" every time the cron schedule fires.\n" +
			"The schedule comes from --cron or CUBEOPT_SCHEDULE. A run still in progress\n" +
			"when the next activation comes round makes that activation skip.",
		Example: "  cubeopt schedule all --view Default --strategy fast --cron \"0 2 * * *\"",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := s.config()
			if err != nil {
				return err
			}
			if expr == "" {
				expr = cfg.Schedule
			}
			if expr == "" {
				return fmt.Errorf("no schedule: pass --cron or set CUBEOPT_SCHEDULE")
			}
			if err := schedule.Validate(expr); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			opts := search.options(args[0])
			measure.apply(&opts)
			if err := opts.Validate(); err != nil {
				return err
			}

			r, err := newRunner(ctx, cfg, logger, &measure)
			if err != nil {
				return err
			}
			defer r.Close() //nolint:errcheck

			sched := schedule.NewScheduler(logger)
			name := "evaluate " + args[0]
			err = sched.Add(schedule.Job{
				Name:     name,
				Schedule: expr,
				Run: func(ctx context.Context) error {
					_, err := r.execute(ctx, args[0], opts)
					return err
				},
			})
			if err != nil {
				return err
			}

			sched.Start(ctx)
			if next, ok := sched.Next(name); ok {
				_, _ = fmt.Fprintf(os.Stdout, "Next run of %q at %s\n", name, next.Local().Format(time.DateTime))
			}
			<-ctx.Done()

			stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			sched.Stop(stopCtx)
			return nil
		},
	}

	search.register(cmd)
	measure.register(cmd)
	cmd.Flags().StringVar(&expr, "cron", "", "Cron schedule (5 fields or a descriptor such as @daily)")
	return cmd
}
