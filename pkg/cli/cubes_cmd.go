package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cubeopt/internal/domain"
	"cubeopt/internal/optimizer"
)

func newCubesCmd(s *session) *cobra.Command {
	var view string

	cmd := &cobra.Command{
		Use:   "cubes",
		Short: "List the cubes a run over all cubes would evaluate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			lister, ok := handle.(domain.CubeLister)
			if !ok {
				return domain.ErrConfiguration("the %s backend cannot list cubes", cfg.Backend)
			}
			var cubes []string
			if view == "" {
				cubes, err = lister.ListCubes(ctx)
			} else {
				cubes, err = optimizer.EligibleCubes(ctx, lister, view)
			}
			if err != nil {
				return err
			}
			if cubes == nil {
				cubes = []string{}
			}

			if getOutputFormat(cmd) == "json" {
				return printJSON(os.Stdout, cubes)
			}
			rows := make([][]string, 0, len(cubes))
			for _, c := range cubes {
				dims, err := handle.ListDimensions(ctx, c)
				if err != nil {
					return fmt.Errorf("list dimensions of cube %q: %w", c, err)
				}
				rows = append(rows, []string{c, fmt.Sprint(len(dims)), domain.DimensionNames(dims).String()})
			}
			printTable(os.Stdout, []string{"Cube", "Dimensions", "Ordering"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&view, "view", "", "Only cubes that carry this view, skipping control cubes")
	return cmd
}
