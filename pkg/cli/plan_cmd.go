package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cubeopt/internal/optimizer"
)

func newPlanCmd(s *session) *cobra.Command {
	var search searchFlags

	cmd := &cobra.Command{
		Use:   "plan <cube>",
		Short: "List the candidate orderings a strategy would measure",
		Long: "Dry run: discovers the cube's dimensions and prints the candidates without measuring them.\n" +
			"Greedy candidates depend on measurements, so every step's swaps are listed against the original order.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := s.config()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			handle, closeCube, err := openCube(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeCube() //nolint:errcheck

			opts := search.options(args[0])
			opts.ExecutionCount = 1
			candidates, err := optimizer.New(handle, optimizer.Settings{}, logger).Plan(ctx, opts)
			if err != nil {
				return err
			}

			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, map[string]any{
					"cube":       args[0],
					"strategy":   opts.Strategy,
					"candidates": candidates,
				})
			}
			rows := make([][]string, len(candidates))
			for i, c := range candidates {
				rows[i] = []string{fmt.Sprint(i + 1), c.String()}
			}
			printTable(os.Stdout, []string{"#", "Ordering"}, rows)
			_, _ = fmt.Fprintf(os.Stdout, "\n%d candidates (%s)\n", len(candidates), opts.Strategy)
			return nil
		},
	}

	search.register(cmd)
	return cmd
}
