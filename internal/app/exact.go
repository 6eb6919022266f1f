package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/corpusdedup/internal/cli"
	"horse.fit/corpusdedup/internal/config"
	"horse.fit/corpusdedup/internal/exactdedup"
	"horse.fit/corpusdedup/internal/globaltime"
	"horse.fit/corpusdedup/internal/logging"
	"horse.fit/corpusdedup/internal/manifest"
)

func runExact(args []string) int {
	fs := flag.NewFlagSet("exact", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 0, "Command timeout (0 disables)")
	var manifests manifestList
	fs.Var(&manifests, "manifest", "Manifest file or directory of *.manifest/*.json files (repeatable)")
	outDir := fs.String("out", "", "Directory for line-deduplicated documents (required)")
	workers := fs.Int("workers", config.DefaultWorkers(), "Parallel workers")
	reportPath := fs.String("report", "", "Write a JSON run report to this path")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if strings.TrimSpace(*outDir) == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		return 2
	}
	if *workers < 1 {
		fmt.Fprintln(os.Stderr, "--workers must be >= 1")
		return 2
	}

	paths, err := manifest.Collect(manifests, fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid input: %v\n", err)
		return 2
	}
	if err := manifest.CheckBaseNames(paths); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid input: %v\n", err)
		return 2
	}

	cfg, logger, err := loadEnvironment(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, cancel := commandContext(*timeout)
	defer cancel()

	runID := newRunID()
	coord, err := openCoordination(ctx, cfg, runID)
	if err != nil {
		logger.Error().Err(err).Str("store", cfg.Store).Msg("coordination store unavailable")
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer coord.Release(logger)

	startedAt := globaltime.UTC()
	summary, err := runExactPass(ctx, coord, cfg, logger, *workers, paths, *outDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Exact dedup failed: %v\n", err)
		return 1
	}

	report := runReport{
		Command:    "exact",
		RunID:      runID,
		Store:      coord.backend,
		StartedAt:  startedAt,
		FinishedAt: globaltime.UTC(),
		Exact:      &summary,
	}
	if err := writeReport(*reportPath, report); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write report: %v\n", err)
		return 1
	}

	printExactSummary(summary)
	return 0
}

func runExactPass(ctx context.Context, coord *coordination, cfg *config.Config, logger zerolog.Logger, workers int, paths []string, outDir string) (exactdedup.Summary, error) {
	logger = logging.ForPass(logger, "exact", coord.runID)
	logger.Info().Int("documents", len(paths)).Str("out", outDir).Str("store", coord.backend).Msg("exact dedup started")

	deduplicator := exactdedup.New(coord.store, logger, exactdedup.Options{
		Workers:     workers,
		Retry:       retryPolicy(cfg),
		LookupBatch: cfg.ReadBatch,
	})
	summary, err := deduplicator.Run(ctx, paths, outDir)
	if err != nil {
		logger.Error().Err(err).Msg("exact dedup failed")
		return summary, err
	}

	logger.Info().
		Int("processed", summary.Processed).
		Int("kept", summary.Succeeded).
		Int("failed", summary.Failed).
		Int64("lines_read", summary.LinesRead).
		Int64("lines_kept", summary.LinesKept).
		Msg("exact dedup completed")
	return summary, nil
}

func printExactSummary(summary exactdedup.Summary) {
	fmt.Printf("exact processed=%d kept=%d failed=%d lines_read=%d lines_kept=%d\n",
		summary.Processed, summary.Succeeded, summary.Failed, summary.LinesRead, summary.LinesKept)
	printFailures(summary.Failures)
}
