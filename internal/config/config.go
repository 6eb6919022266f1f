package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	StoreBolt     = "bolt"
	StorePostgres = "postgres"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Store      string `envconfig:"DEDUP_STORE" default:"bolt"`
	ScratchDir string `envconfig:"DEDUP_SCRATCH_DIR" default:""`

	DatabaseURL string `envconfig:"DATABASE_URL" default:""`
	DBMinConns  int32  `envconfig:"DEDUP_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"DEDUP_DB_MAX_CONNS" default:"8"`

	StoreRetries int           `envconfig:"DEDUP_STORE_RETRIES" default:"3"`
	StoreBackoff time.Duration `envconfig:"DEDUP_STORE_BACKOFF" default:"100ms"`
	WriteBatch   int           `envconfig:"DEDUP_WRITE_BATCH" default:"1000"`
	ReadBatch    int           `envconfig:"DEDUP_READ_BATCH" default:"1000"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Store {
	case StoreBolt:
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required when DEDUP_STORE=postgres")
		}
	default:
		return fmt.Errorf("DEDUP_STORE must be %q or %q, got %q", StoreBolt, StorePostgres, c.Store)
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("DEDUP_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("DEDUP_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DEDUP_DB_MIN_CONNS (%d) cannot exceed DEDUP_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.StoreRetries < 0 {
		return fmt.Errorf("DEDUP_STORE_RETRIES must be >= 0")
	}
	if c.StoreBackoff < 0 {
		return fmt.Errorf("DEDUP_STORE_BACKOFF must be >= 0")
	}
	if c.WriteBatch < 1 {
		return fmt.Errorf("DEDUP_WRITE_BATCH must be >= 1")
	}
	if c.ReadBatch < 1 {
		return fmt.Errorf("DEDUP_READ_BATCH must be >= 1")
	}
	return nil
}

// ScratchRoot returns the directory under which per-run scratch state lives.
func (c *Config) ScratchRoot() string {
	if c == nil || strings.TrimSpace(c.ScratchDir) == "" {
		return os.TempDir()
	}
	return strings.TrimSpace(c.ScratchDir)
}
