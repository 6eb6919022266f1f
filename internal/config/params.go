package config

import (
	"errors"
	"fmt"
	"math"
	"runtime"
	"strings"
)

const (
	DefaultNumHashes = 128
	DefaultNumBands  = 16
	DefaultNGram     = 3
	DefaultThreshold = 0.8
	DefaultSeed      = 2025

	RepresentativeRandom   = "random"
	RepresentativeSmallest = "smallest"

	CompressionGzip   = "gzip"
	CompressionSnappy = "snappy"
)

// ErrInvalidParams marks dedup parameter combinations that must stop a run
// before any work starts.
var ErrInvalidParams = errors.New("invalid dedup parameters")

// Params are the algorithm knobs shared by the exact and fuzzy passes.
type Params struct {
	NumHashes      int     `json:"num_hashes"`
	NumBands       int     `json:"num_bands"`
	NGram          int     `json:"ngram"`
	Threshold      float64 `json:"threshold"`
	Workers        int     `json:"workers"`
	Seed           int64   `json:"seed"`
	Representative string  `json:"representative"`
	Compression    string  `json:"compression"`
}

func DefaultParams() Params {
	return Params{
		NumHashes:      DefaultNumHashes,
		NumBands:       DefaultNumBands,
		NGram:          DefaultNGram,
		Threshold:      DefaultThreshold,
		Workers:        DefaultWorkers(),
		Seed:           DefaultSeed,
		Representative: RepresentativeRandom,
		Compression:    CompressionGzip,
	}
}

func DefaultWorkers() int {
	return max(1, runtime.NumCPU())
}

// Validate rejects configurations that cannot produce a meaningful run.
// A band count that does not divide the signature length is accepted; the
// trailing signature values are left out of banding.
func (p Params) Validate() error {
	if p.NumHashes < 1 {
		return fmt.Errorf("%w: num-hashes must be >= 1, got %d", ErrInvalidParams, p.NumHashes)
	}
	if p.NumBands < 1 {
		return fmt.Errorf("%w: num-bands must be >= 1, got %d", ErrInvalidParams, p.NumBands)
	}
	if p.NumBands > p.NumHashes {
		return fmt.Errorf("%w: num-bands (%d) cannot exceed num-hashes (%d)", ErrInvalidParams, p.NumBands, p.NumHashes)
	}
	if p.NGram < 1 {
		return fmt.Errorf("%w: ngram must be >= 1, got %d", ErrInvalidParams, p.NGram)
	}
	if math.IsNaN(p.Threshold) || p.Threshold < 0 || p.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be within [0,1], got %g", ErrInvalidParams, p.Threshold)
	}
	if p.Workers < 1 {
		return fmt.Errorf("%w: workers must be >= 1, got %d", ErrInvalidParams, p.Workers)
	}
	switch strings.ToLower(strings.TrimSpace(p.Representative)) {
	case RepresentativeRandom, RepresentativeSmallest:
	default:
		return fmt.Errorf("%w: representative must be %q or %q, got %q", ErrInvalidParams, RepresentativeRandom, RepresentativeSmallest, p.Representative)
	}
	switch strings.ToLower(strings.TrimSpace(p.Compression)) {
	case CompressionGzip, CompressionSnappy:
	default:
		return fmt.Errorf("%w: compression must be %q or %q, got %q", ErrInvalidParams, CompressionGzip, CompressionSnappy, p.Compression)
	}
	return nil
}

// Truncated reports how many trailing signature values banding leaves unused.
func (p Params) Truncated() int {
	if p.NumBands < 1 || p.NumHashes < p.NumBands {
		return 0
	}
	return p.NumHashes % p.NumBands
}
