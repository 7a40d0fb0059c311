// Package cli implements the cubeopt command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"cubeopt/internal/config"
	"cubeopt/internal/cube/duckcube"
	"cubeopt/internal/cube/rest"
	"cubeopt/internal/domain"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			errObj := map[string]any{
				"error": err.Error(),
			}
			var apiErr *rest.APIError
			if errors.As(err, &apiErr) {
				errObj["http_status"] = apiErr.Status
				errObj["code"] = apiErr.Code
			}
			_ = printJSON(os.Stdout, errObj)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// session holds the connection settings resolved from flags, environment and
// the active profile.
type session struct {
	server   string
	apiKey   string
	backend  string
	duckdb   string
	output   string
	profile  string
	logLevel string
}

// resolve applies precedence flag > env > profile for every setting the
// profile can carry.
func (s *session) resolve(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := LoadUserConfig()
	if err != nil {
		// Config file is optional
		cfg = &UserConfig{
			CurrentProfile: "default",
			Profiles:       map[string]Profile{},
		}
	}
	p, err := cfg.ActiveProfile(s.profile)
	if err != nil {
		return err
	}

	pick := func(flag, env string, dst *string, fromProfile string) {
		if cmd.Flags().Changed(flag) {
			return
		}
		if v := os.Getenv(env); v != "" {
			*dst = v
		} else if fromProfile != "" {
			*dst = fromProfile
		}
	}
	pick("server", "CUBEOPT_SERVER_URL", &s.server, p.Server)
	pick("api-key", "CUBEOPT_TOKEN", &s.apiKey, p.APIKey)
	pick("backend", "CUBEOPT_BACKEND", &s.backend, p.Backend)
	pick("duckdb", "CUBEOPT_DUCKDB_PATH", &s.duckdb, p.DuckDB)
	pick("output", "CUBEOPT_OUTPUT", &s.output, p.Output)

	return validateOutputFormat(s.output)
}

// config loads the environment configuration with the resolved session
// settings on top, and builds the logger.
func (s *session) config() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, err
	}
	if s.server != "" {
		cfg.ServerURL = s.server
		cfg.Warnings = slices.DeleteFunc(cfg.Warnings, func(w string) bool {
			return strings.HasPrefix(w, "CUBEOPT_SERVER_URL")
		})
	}
	if s.apiKey != "" {
		cfg.ServerToken = s.apiKey
	}
	if s.backend != "" {
		cfg.Backend = strings.ToLower(s.backend)
	}
	if s.duckdb != "" {
		cfg.DuckDBPath = s.duckdb
	}
	if s.logLevel != "" {
		cfg.LogLevel = s.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if cfg.Backend == config.BackendREST {
		if err := validateServerURL(cfg.ServerURL); err != nil {
			return nil, nil, err
		}
	}

	logger := cfg.NewLogger()
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}
	return cfg, logger, nil
}

// openCube connects to the configured backend. The returned close function
// is never nil.
func openCube(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.CubeHandle, func() error, error) {
	switch cfg.Backend {
	case config.BackendDuckDB:
		c, err := duckcube.Open(ctx, cfg.DuckDBPath, logger)
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil
	default:
		return rest.NewClient(cfg.ServerURL, cfg.ServerToken, cfg.RequestTimeout, logger), func() error { return nil }, nil
	}
}

func newRootCmd() *cobra.Command {
	s := &session{}

	rootCmd := &cobra.Command{
		Use:           "cubeopt",
		Short:         "Cube dimension order optimiser",
		Long:          "Searches dimension orderings of a cube, measures view or process time and memory for each, and reports the best one.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return s.resolve(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&s.server, "server", "", "Cube server URL (rest backend)")
	rootCmd.PersistentFlags().StringVar(&s.apiKey, "api-key", "", "Cube server API key")
	rootCmd.PersistentFlags().StringVar(&s.backend, "backend", "", "Cube backend (rest, duckdb)")
	rootCmd.PersistentFlags().StringVar(&s.duckdb, "duckdb", "", "DuckDB database file (duckdb backend)")
	rootCmd.PersistentFlags().StringVarP(&s.output, "output", "o", "table", "Output format (table, json)")
	rootCmd.PersistentFlags().StringVarP(&s.profile, "profile", "p", "", "Config profile to use")
	rootCmd.PersistentFlags().StringVar(&s.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCmd(s))
	rootCmd.AddCommand(newPlanCmd(s))
	rootCmd.AddCommand(newCubesCmd(s))
	rootCmd.AddCommand(newHistoryCmd(s))
	rootCmd.AddCommand(newScheduleCmd(s))

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
