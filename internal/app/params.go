package app

import (
	"flag"
	"strings"

	"horse.fit/corpusdedup/internal/config"
)

type paramFlags struct {
	numHashes      *int
	numBands       *int
	ngram          *int
	threshold      *float64
	workers        *int
	seed           *int64
	representative *string
	compression    *string
}

func addParamFlags(fs *flag.FlagSet) *paramFlags {
	defaults := config.DefaultParams()
	return &paramFlags{
		numHashes:      fs.Int("num-hashes", defaults.NumHashes, "MinHash signature length"),
		numBands:       fs.Int("num-bands", defaults.NumBands, "LSH bands; trailing num-hashes mod num-bands values are unused"),
		ngram:          fs.Int("ngram", defaults.NGram, "Words per shingle"),
		threshold:      fs.Float64("threshold", defaults.Threshold, "Jaccard similarity at or above which a candidate pair is a duplicate"),
		workers:        fs.Int("workers", defaults.Workers, "Parallel workers"),
		seed:           fs.Int64("seed", defaults.Seed, "Seed for representative selection"),
		representative: fs.String("representative", defaults.Representative, "Cluster representative policy: random or smallest"),
		compression:    fs.String("compression", defaults.Compression, "Output stream compression: gzip or snappy"),
	}
}

func (f *paramFlags) params() config.Params {
	return config.Params{
		NumHashes:      *f.numHashes,
		NumBands:       *f.numBands,
		NGram:          *f.ngram,
		Threshold:      *f.threshold,
		Workers:        *f.workers,
		Seed:           *f.seed,
		Representative: strings.ToLower(strings.TrimSpace(*f.representative)),
		Compression:    strings.ToLower(strings.TrimSpace(*f.compression)),
	}
}
