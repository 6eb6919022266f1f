package app

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/corpusdedup/internal/cli"
	"horse.fit/corpusdedup/internal/store"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "health does not accept positional arguments")
		return 2
	}

	cfg, logger, err := loadEnvironment(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	ctx, cancel := commandContext(*timeout)
	defer cancel()

	coord, err := openCoordination(ctx, cfg, "health-"+newRunID())
	if err != nil {
		logger.Error().Err(err).Str("store", cfg.Store).Msg("health check failed")
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer coord.Release(logger)

	probe := store.HashLine([]byte("corpusdedup health probe"))
	if err := coord.store.IncrementLineCounts(ctx, []store.LineCount{{Hash: probe, Count: 1}}); err != nil {
		logger.Error().Err(err).Msg("health write failed")
		fmt.Fprintf(os.Stderr, "Store write failed: %v\n", err)
		return 1
	}
	counts, err := coord.store.LineCounts(ctx, []store.LineHash{probe})
	if err != nil || len(counts) != 1 || counts[0] != 1 {
		logger.Error().Err(err).Msg("health read failed")
		fmt.Fprintf(os.Stderr, "Store read-after-write check failed: %v\n", err)
		return 1
	}

	logger.Info().Str("store", coord.backend).Msg("health check passed")
	fmt.Printf("store=%s status=ok\n", coord.backend)
	return 0
}
