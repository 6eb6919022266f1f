package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"horse.fit/corpusdedup/internal/cli"
	"horse.fit/corpusdedup/internal/globaltime"
	"horse.fit/corpusdedup/internal/manifest"
)

func runPipeline(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 0, "Command timeout (0 disables)")
	var manifests manifestList
	fs.Var(&manifests, "manifest", "Manifest file or directory of *.manifest/*.json files (repeatable)")
	outPath := fs.String("out", "", "Compressed output stream path (required)")
	exactDir := fs.String("exact-dir", "", "Keep line-deduplicated documents in this directory instead of a scratch directory")
	keepScratch := fs.Bool("keep-scratch", false, "Do not remove the scratch directory holding line-deduplicated documents")
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

	intermediate := strings.TrimSpace(*exactDir)
	if intermediate == "" {
		scratch, err := os.MkdirTemp(cfg.ScratchRoot(), "corpusdedup-exact-")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create scratch directory: %v\n", err)
			return 1
		}
		intermediate = scratch
		if *keepScratch {
			logger.Info().Str("dir", scratch).Msg("keeping line-deduplicated documents")
		} else {
			defer func() {
				if err := os.RemoveAll(scratch); err != nil {
					logger.Warn().Err(err).Str("dir", scratch).Msg("remove scratch directory failed")
				}
			}()
		}
	}

	coord, err := openCoordination(ctx, cfg, runID)
	if err != nil {
		logger.Error().Err(err).Str("store", cfg.Store).Msg("coordination store unavailable")
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer coord.Release(logger)

	startedAt := globaltime.UTC()
	exactSummary, err := runExactPass(ctx, coord, cfg, logger, params.Workers, paths, intermediate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Exact dedup failed: %v\n", err)
		return 1
	}

	fuzzySummary, err := runFuzzyPass(ctx, coord, cfg, logger, params, exactSummary.Outputs, *outPath, *copyDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Fuzzy dedup failed: %v\n", err)
		return 1
	}

	report := runReport{
		Command:    "run",
		RunID:      runID,
		Store:      coord.backend,
		StartedAt:  startedAt,
		FinishedAt: globaltime.UTC(),
		Params:     &params,
		Exact:      &exactSummary,
		Fuzzy:      &fuzzySummary,
	}
	if err := writeReport(*reportPath, report); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write report: %v\n", err)
		return 1
	}

	printExactSummary(exactSummary)
	printFuzzySummary(fuzzySummary)
	return 0
}
