// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Cube backends.
const (
	BackendREST   = "rest"
	BackendDuckDB = "duckdb"
)

// ArchiveConfig holds object storage credentials for report archiving. All
// fields are optional; only the ones matching the archive URL scheme are used.
type ArchiveConfig struct {
	URL string // s3://bucket/prefix, gs://bucket/prefix or az://container/prefix

	// S3 fields are nil when not configured.
	S3KeyID    *string
	S3Secret   *string
	S3Endpoint *string
	S3Region   *string

	GCSKeyFile string // service account JSON key

	AzureAccountName string
	AzureAccountKey  string
}

// Enabled returns true when an archive destination is configured.
func (a *ArchiveConfig) Enabled() bool { return a.URL != "" }

// HasS3Config returns true if all required S3 fields are set.
func (a *ArchiveConfig) HasS3Config() bool {
	return a.S3KeyID != nil && a.S3Secret != nil &&
		a.S3Endpoint != nil && a.S3Region != nil
}

// Config holds the configuration shared by the optimiser CLI and the cube simulator.
type Config struct {
	Backend        string        // "rest" (default) or "duckdb"
	ServerURL      string        // cube server base URL for the rest backend
	ServerToken    string        // API key sent as X-API-Key; the simulator requires it when set
	RequestTimeout time.Duration // per-request timeout; view executions can be slow (default 10m)
	DuckDBPath     string        // database file for the duckdb backend

	HistoryDBPath string   // path to the SQLite run history (default "cubeopt_history.sqlite")
	ResultDir     string   // report output directory (default "results")
	ReportFormats []string // default report formats (default ["csv"])

	RAMRetries  int           // memory polling attempts (default 4)
	RAMInterval time.Duration // spacing between memory polls (default 15s)

	LogLevel  string // log level: debug, info, warn, error (default "info")
	LogFormat string // "text" (default) or "json"

	ListenAddr         string   // cube simulator listen address (default ":8090")
	CORSAllowedOrigins []string // cube simulator CORS origins (default: ["*"])

	Schedule string // cron expression for unattended runs (optional)

	Archive ArchiveConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process logger on stderr from LogLevel and LogFormat.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendREST:
		if c.ServerURL == "" {
			return fmt.Errorf("CUBEOPT_SERVER_URL is required for the rest backend")
		}
	case BackendDuckDB:
		if c.DuckDBPath == "" {
			return fmt.Errorf("CUBEOPT_DUCKDB_PATH is required for the duckdb backend")
		}
	default:
		return fmt.Errorf("unknown backend %q: use rest or duckdb", c.Backend)
	}
	if c.RAMRetries < 1 {
		return fmt.Errorf("CUBEOPT_RAM_RETRIES must be at least 1")
	}
	if c.RAMInterval <= 0 {
		return fmt.Errorf("CUBEOPT_RAM_INTERVAL must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("CUBEOPT_REQUEST_TIMEOUT must be positive")
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q: use text or json", c.LogFormat)
	}
	if c.Archive.Enabled() && strings.HasPrefix(c.Archive.URL, "s3://") && !c.Archive.HasS3Config() {
		return fmt.Errorf("S3 archive needs CUBEOPT_S3_KEY_ID, CUBEOPT_S3_SECRET, CUBEOPT_S3_ENDPOINT and CUBEOPT_S3_REGION")
	}
	return nil
}

// LoadFromEnv loads configuration from CUBEOPT_* environment variables and
// applies defaults. Archive variables are optional.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Backend:       strings.ToLower(os.Getenv("CUBEOPT_BACKEND")),
		ServerURL:     os.Getenv("CUBEOPT_SERVER_URL"),
		ServerToken:   os.Getenv("CUBEOPT_TOKEN"),
		DuckDBPath:    os.Getenv("CUBEOPT_DUCKDB_PATH"),
		HistoryDBPath: os.Getenv("CUBEOPT_HISTORY_DB"),
		ResultDir:     os.Getenv("CUBEOPT_RESULT_DIR"),
		LogLevel:      os.Getenv("CUBEOPT_LOG_LEVEL"),
		LogFormat:     os.Getenv("CUBEOPT_LOG_FORMAT"),
		ListenAddr:    os.Getenv("CUBEOPT_LISTEN_ADDR"),
		Schedule:      os.Getenv("CUBEOPT_SCHEDULE"),
	}

	if v := os.Getenv("CUBEOPT_RAM_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse CUBEOPT_RAM_RETRIES: %w", err)
		}
		cfg.RAMRetries = n
	}
	if v := os.Getenv("CUBEOPT_RAM_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parse CUBEOPT_RAM_INTERVAL: %w", err)
		}
		cfg.RAMInterval = d
	}
	if v := os.Getenv("CUBEOPT_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parse CUBEOPT_REQUEST_TIMEOUT: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if v := os.Getenv("CUBEOPT_REPORT_FORMATS"); v != "" {
		cfg.ReportFormats = splitList(v)
	}
	if v := os.Getenv("CUBEOPT_CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitList(v)
	}

	// Archive
	cfg.Archive = ArchiveConfig{
		URL:              os.Getenv("CUBEOPT_ARCHIVE_URL"),
		GCSKeyFile:       os.Getenv("CUBEOPT_GCS_KEY_FILE"),
		AzureAccountName: os.Getenv("CUBEOPT_AZURE_ACCOUNT_NAME"),
		AzureAccountKey:  os.Getenv("CUBEOPT_AZURE_ACCOUNT_KEY"),
	}
	if v := os.Getenv("CUBEOPT_S3_KEY_ID"); v != "" {
		cfg.Archive.S3KeyID = &v
	}
	if v := os.Getenv("CUBEOPT_S3_SECRET"); v != "" {
		cfg.Archive.S3Secret = &v
	}
	if v := os.Getenv("CUBEOPT_S3_ENDPOINT"); v != "" {
		cfg.Archive.S3Endpoint = &v
	}
	if v := os.Getenv("CUBEOPT_S3_REGION"); v != "" {
		cfg.Archive.S3Region = &v
	}

	// Defaults
	if cfg.Backend == "" {
		cfg.Backend = BackendREST
	}
	if cfg.ServerURL == "" && cfg.Backend == BackendREST {
		cfg.ServerURL = "http://localhost:8090"
		cfg.Warnings = append(cfg.Warnings, "CUBEOPT_SERVER_URL not set, using http://localhost:8090")
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Minute
	}
	if cfg.HistoryDBPath == "" {
		cfg.HistoryDBPath = "cubeopt_history.sqlite"
	}
	if cfg.ResultDir == "" {
		cfg.ResultDir = "results"
	}
	if len(cfg.ReportFormats) == 0 {
		cfg.ReportFormats = []string{"csv"}
	}
	if cfg.RAMRetries == 0 {
		cfg.RAMRetries = 4
	}
	if cfg.RAMInterval == 0 {
		cfg.RAMInterval = 15 * time.Second
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8090"
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	return cfg, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
