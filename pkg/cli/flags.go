package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"cubeopt/internal/domain"
)

// strategyValue is a pflag.Value accepting every strategy name
// domain.ParseStrategy knows, including the legacy aliases.
type strategyValue domain.Strategy

var _ pflag.Value = (*strategyValue)(nil)

func (v *strategyValue) String() string { return string(*v) }

func (v *strategyValue) Set(s string) error {
	st, err := domain.ParseStrategy(s)
	if err != nil {
		return err
	}
	*v = strategyValue(st)
	return nil
}

func (v *strategyValue) Type() string { return "strategy" }

// selectionValue is a pflag.Value for the best-record policy.
type selectionValue domain.Selection

var _ pflag.Value = (*selectionValue)(nil)

func (v *selectionValue) String() string { return string(*v) }

func (v *selectionValue) Set(s string) error {
	sel, err := domain.ParseSelection(s)
	if err != nil {
		return err
	}
	*v = selectionValue(sel)
	return nil
}

func (v *selectionValue) Type() string { return "selection" }

// searchFlags are the flags shared by run, plan and schedule.
type searchFlags struct {
	view            string
	extraViews      []string
	process         string
	strategy        strategyValue
	pinned          []string
	maxPermutations int
	defaultMembers  map[string]string
	priority        []string
}

func (f *searchFlags) register(cmd *cobra.Command) {
	f.strategy = strategyValue(domain.StrategyExhaustive)
	fs := cmd.Flags()
	fs.StringVar(&f.view, "view", "", "View to measure")
	fs.StringSliceVar(&f.extraViews, "also-view", nil, "Further views timed on every execution and reported, but not ranked")
	fs.StringVar(&f.process, "process", "", "Process to measure instead of a view")
	fs.Var(&f.strategy, "strategy", "Search strategy (exhaustive, greedy, one_shot, fast, all)")
	fs.StringSliceVar(&f.pinned, "pin", nil, "Dimensions kept at the front in the given order")
	fs.IntVar(&f.maxPermutations, "max-permutations", 0, "Exhaustive candidate bound (0 means 40320)")
	fs.StringToStringVar(&f.defaultMembers, "default-member", nil, "Representative member per dimension for one_shot (dim=member)")
	fs.StringSliceVar(&f.priority, "priority", nil, "Explicit one_shot order, overriding the sparsity heuristic")

	_ = cmd.RegisterFlagCompletionFunc("strategy", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		out := make([]string, len(domain.Strategies))
		for i, s := range domain.Strategies {
			out[i] = string(s)
		}
		return out, cobra.ShellCompDirectiveNoFileComp
	})
}

func (f *searchFlags) options(cube string) domain.RunOptions {
	return domain.RunOptions{
		Cube:            cube,
		View:            f.view,
		ExtraViews:      f.extraViews,
		ProcessName:     f.process,
		Strategy:        domain.Strategy(f.strategy),
		Pinned:          f.pinned,
		MaxPermutations: f.maxPermutations,
		DefaultMembers:  f.defaultMembers,
		Priority:        f.priority,
	}
}
