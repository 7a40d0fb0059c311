// Package main is the entry point for the cube simulator. It serves the cube
// server HTTP API over a DuckDB database so the optimiser can be run without
// a production cube server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"cubeopt/internal/config"
	"cubeopt/internal/cube/duckcube"
	"cubeopt/internal/cubeserver"
)

var (
	seedFlag   = flag.String("seed", "", "YAML file describing cubes, views and processes (default: built-in demo cube)")
	warmupFlag = flag.Int("stats-warmup", 0, "memory reads after each reorder that report 0")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := cfg.NewLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	backend, err := duckcube.Open(ctx, cfg.DuckDBPath, logger)
	if err != nil {
		return err
	}
	defer backend.Close() //nolint:errcheck

	cubes, err := backend.ListCubes(ctx)
	if err != nil {
		return err
	}
	if *seedFlag != "" || len(cubes) == 0 {
		seed := duckcube.DemoSeed()
		if *seedFlag != "" {
			if seed, err = duckcube.LoadSeed(*seedFlag); err != nil {
				return err
			}
		}
		start := time.Now()
		if err := backend.Apply(ctx, seed); err != nil {
			return fmt.Errorf("seed cubes: %w", err)
		}
		logger.Info("cubes seeded", "cubes", len(seed.Cubes), "duration", time.Since(start))
	}

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: cubeserver.New(backend, cubeserver.Options{
			APIKey:         cfg.ServerToken,
			AllowedOrigins: cfg.CORSAllowedOrigins,
			StatsWarmup:    *warmupFlag,
		}, logger).Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down cube simulator")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("cube simulator listening", "addr", cfg.ListenAddr, "database", cfg.DuckDBPath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
