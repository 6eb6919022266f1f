package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"horse.fit/corpusdedup/internal/cli"
	"horse.fit/corpusdedup/internal/config"
	"horse.fit/corpusdedup/internal/fuzzy"
	"horse.fit/corpusdedup/internal/globaltime"
	"horse.fit/corpusdedup/internal/logging"
	"horse.fit/corpusdedup/internal/manifest"
	"horse.fit/corpusdedup/internal/output"
)

func runFuzzy(args []string) int {
	fs := flag.NewFlagSet("fuzzy", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 0, "Command timeout (0 disables)")
	var manifests manifestList
	fs.Var(&manifests, "manifest", "Manifest file or directory of *.manifest/*.json files (repeatable)")
	outPath := fs.String("out", "", "Compressed output stream path (required)")
	copyDir := fs.String("copy-dir", "", "Also copy every kept document, unmodified, into this directory")
	reportPath := fs.String("report", "", "Write a JSON run report to this path")
	paramFlags := addParamFlags(fs)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if strings.TrimSpace(*outPath) == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		return 2
	}
	params := paramFlags.params()
	if err := params.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid parameters: %v\n", err)
		return 2
	}

	paths, err := manifest.Collect(manifests, fs.Args())
	if err != nil {
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
	summary, err := runFuzzyPass(ctx, coord, cfg, logger, params, paths, *outPath, *copyDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fuzzy dedup failed: %v\n", err)
		return 1
	}

	report := runReport{
		Command:    "fuzzy",
		RunID:      runID,
		Store:      coord.backend,
		StartedAt:  startedAt,
		FinishedAt: globaltime.UTC(),
		Params:     &params,
		Fuzzy:      &summary,
	}
	if err := writeReport(*reportPath, report); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write report: %v\n", err)
		return 1
	}

	printFuzzySummary(summary)
	return 0
}

// runFuzzyPass writes the output stream to a temporary sibling of outPath
// and renames it into place only when the pass succeeds.
func runFuzzyPass(ctx context.Context, coord *coordination, cfg *config.Config, logger zerolog.Logger, params config.Params, paths []string, outPath, copyDir string) (fuzzy.Summary, error) {
	logger = logging.ForPass(logger, "fuzzy", coord.runID)
	logger.Info().
		Int("documents", len(paths)).
		Int("num_hashes", params.NumHashes).
		Int("num_bands", params.NumBands).
		Int("ngram", params.NGram).
		Float64("threshold", params.Threshold).
		Int64("seed", params.Seed).
		Str("store", coord.backend).
		Msg("fuzzy dedup started")

	tmpPath := filepath.Join(filepath.Dir(outPath), "."+filepath.Base(outPath)+".tmp")
	writer, err := output.Create(tmpPath, params.Compression)
	if err != nil {
		return fuzzy.Summary{}, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = writer.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	deduplicator := fuzzy.New(coord.store, logger, fuzzy.Options{
		Params:     params,
		Retry:      retryPolicy(cfg),
		WriteBatch: cfg.WriteBatch,
		ReadBatch:  cfg.ReadBatch,
		CopyDir:    copyDir,
	})
	summary, err := deduplicator.Run(ctx, paths, writer)
	if err != nil {
		logger.Error().Err(err).Msg("fuzzy dedup failed")
		return summary, err
	}
	if err := writer.Close(); err != nil {
		return summary, err
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return summary, fmt.Errorf("rename output stream: %w", err)
	}
	committed = true

	logger.Info().
		Int("processed", summary.Processed).
		Int("kept", summary.Kept).
		Int("written", writer.Count()).
		Int("failed", summary.Failed).
		Int("candidates", summary.Candidates).
		Int("confirmed", summary.Confirmed).
		Int("clusters", summary.Clusters).
		Str("out", outPath).
		Msg("fuzzy dedup completed")
	return summary, nil
}

func printFuzzySummary(summary fuzzy.Summary) {
	fmt.Printf("fuzzy processed=%d kept=%d failed=%d candidates=%d confirmed=%d clusters=%d duplicates=%d skipped_empty=%d\n",
		summary.Processed, summary.Kept, summary.Failed, summary.Candidates, summary.Confirmed,
		summary.Clusters, summary.Duplicates, summary.SkippedEmpty)
	printFailures(summary.Failures)
	printFailures(summary.PairFailures)
}
