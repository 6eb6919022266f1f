package app

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/corpusdedup/internal/cli"
	"horse.fit/corpusdedup/internal/config"
	"horse.fit/corpusdedup/internal/db"
	"horse.fit/corpusdedup/internal/exactdedup"
	"horse.fit/corpusdedup/internal/fuzzy"
	"horse.fit/corpusdedup/internal/globaltime"
	"horse.fit/corpusdedup/internal/logging"
	"horse.fit/corpusdedup/internal/store"
	"horse.fit/corpusdedup/internal/workpool"
)

const releaseTimeout = 30 * time.Second

// manifestList collects repeated --manifest flags.
type manifestList []string

func (m *manifestList) String() string {
	if m == nil {
		return ""
	}
	return strings.Join(*m, ",")
}

func (m *manifestList) Set(value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("manifest path must not be empty")
	}
	*m = append(*m, trimmed)
	return nil
}

func loadEnvironment(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, error) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, zerolog.Logger{}, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger, nil
}

// commandContext is cancelled on SIGINT/SIGTERM and, when timeout > 0,
// after timeout.
func commandContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	timed, cancel := context.WithTimeout(ctx, timeout)
	return timed, func() {
		cancel()
		stop()
	}
}

func retryPolicy(cfg *config.Config) store.RetryPolicy {
	return store.RetryPolicy{MaxRetries: cfg.StoreRetries, Backoff: cfg.StoreBackoff}
}

func newRunID() string {
	return fmt.Sprintf("%s-%08x", globaltime.UTC().Format("20060102t150405"), rand.Uint32())
}

// coordination is an opened per-run store plus how to dispose of it.
type coordination struct {
	runID    string
	store    store.Store
	backend  string
	location string
	release  func(ctx context.Context) error
}

// Release drops the run's scratch state. It uses its own deadline so it
// still runs after the command context has ended.
func (c *coordination) Release(logger zerolog.Logger) {
	if c == nil || c.release == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := c.release(ctx); err != nil {
		logger.Warn().Err(err).Str("store", c.backend).Str("location", c.location).Msg("release coordination store failed")
	}
}

func openCoordination(ctx context.Context, cfg *config.Config, runID string) (*coordination, error) {
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		scoped := pool.Scope(runID)
		return &coordination{
			runID:    runID,
			store:    scoped,
			backend:  config.StorePostgres,
			location: "run_id=" + scoped.RunID(),
			release: func(ctx context.Context) error {
				defer pool.Close()
				return scoped.Discard(ctx)
			},
		}, nil
	default:
		path := filepath.Join(cfg.ScratchRoot(), "corpusdedup-"+runID+".db")
		bolt, err := store.OpenBolt(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open coordination store: %w", err)
		}
		return &coordination{
			runID:    runID,
			store:    bolt,
			backend:  config.StoreBolt,
			location: bolt.Path(),
			release: func(context.Context) error {
				return bolt.Remove()
			},
		}, nil
	}
}

type runReport struct {
	Command    string              `json:"command"`
	RunID      string              `json:"run_id"`
	Store      string              `json:"store"`
	StartedAt  time.Time           `json:"started_at"`
	FinishedAt time.Time           `json:"finished_at"`
	Params     *config.Params      `json:"params,omitempty"`
	Exact      *exactdedup.Summary `json:"exact,omitempty"`
	Fuzzy      *fuzzy.Summary      `json:"fuzzy,omitempty"`
}

func writeReport(path string, report runReport) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	encoded, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}
	if err := os.WriteFile(path, append(encoded, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func printFailures(failures []workpool.Failure) {
	for _, failure := range failures {
		fmt.Fprintf(os.Stderr, "failed key=%s reason=%q\n", failure.Key, failure.Reason)
	}
}
