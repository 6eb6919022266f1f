// Package fuzzy removes near-duplicate documents using MinHash signatures,
// LSH banding and exact Jaccard confirmation.
package fuzzy

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"horse.fit/corpusdedup/internal/cluster"
	"horse.fit/corpusdedup/internal/config"
	"horse.fit/corpusdedup/internal/lsh"
	"horse.fit/corpusdedup/internal/manifest"
	"horse.fit/corpusdedup/internal/minhash"
	"horse.fit/corpusdedup/internal/normalize"
	"horse.fit/corpusdedup/internal/runstate"
	"horse.fit/corpusdedup/internal/store"
	"horse.fit/corpusdedup/internal/workpool"
)

const defaultBatch = 1000

// Store is the part of the coordination store the fuzzy pass needs.
type Store interface {
	PutSignatures(ctx context.Context, records []store.SignatureRecord) error
	lsh.BandStore
}

// Sink receives the surviving documents, one line each.
type Sink interface {
	WriteDocument(text string) error
}

type Options struct {
	Params config.Params
	Retry  store.RetryPolicy
	// WriteBatch is how many signatures are computed before they are
	// written in one store transaction.
	WriteBatch int
	// ReadBatch is how many signatures banding reads per store round trip.
	ReadBatch int
	// CopyDir, when set, also receives an unmodified copy of every kept
	// document.
	CopyDir string
}

// Summary reports a fuzzy pass. The embedded counters are per document.
type Summary struct {
	workpool.Summary
	Signed       int                `json:"signed"`
	Unsigned     int                `json:"unsigned"`
	Candidates   int                `json:"candidates"`
	Confirmed    int                `json:"confirmed"`
	PairFailures []workpool.Failure `json:"pair_failures,omitempty"`
	Clusters     int                `json:"clusters"`
	Duplicates   int                `json:"duplicates"`
	Kept         int                `json:"kept"`
	SkippedEmpty int                `json:"skipped_empty"`
	Phases       []runstate.Timing  `json:"phases,omitempty"`
}

type Deduplicator struct {
	store  Store
	logger zerolog.Logger
	opts   Options
	signer *minhash.Signer
}

func New(s Store, logger zerolog.Logger, opts Options) *Deduplicator {
	if opts.Params.Workers < 1 {
		opts.Params.Workers = 1
	}
	if opts.WriteBatch < 1 {
		opts.WriteBatch = defaultBatch
	}
	if opts.ReadBatch < 1 {
		opts.ReadBatch = defaultBatch
	}
	return &Deduplicator{
		store:  s,
		logger: logger,
		opts:   opts,
		signer: minhash.NewSigner(opts.Params.NumHashes),
	}
}

// Run deduplicates paths and writes every survivor to sink in path order.
// Per-document and per-pair failures are reported in the summary; the error
// is non-nil only for invalid parameters, a failed banding step, a broken
// sink or an ended context.
func (d *Deduplicator) Run(ctx context.Context, paths []string, sink Sink) (Summary, error) {
	var summary Summary
	params := d.opts.Params
	if err := params.Validate(); err != nil {
		return summary, err
	}
	if d.opts.CopyDir != "" {
		if err := manifest.CheckBaseNames(paths); err != nil {
			return summary, err
		}
		if err := os.MkdirAll(d.opts.CopyDir, 0o755); err != nil {
			return summary, fmt.Errorf("create copy dir: %w", err)
		}
	}
	if truncated := params.Truncated(); truncated > 0 {
		d.logger.Info().Int("num_hashes", params.NumHashes).Int("num_bands", params.NumBands).Int("unused_values", truncated).Msg("signature tail left out of banding")
	}

	machine := runstate.NewFuzzy()
	machine.OnTransition(func(from, to runstate.Phase) {
		d.logger.Info().Str("run", machine.Name()).Str("from", string(from)).Str("to", string(to)).Msg("phase transition")
	})

	if err := machine.Advance(runstate.Signing); err != nil {
		return summary, err
	}
	if err := d.sign(ctx, paths, &summary); err != nil {
		return summary, fmt.Errorf("%s interrupted: %w", machine.Current(), err)
	}

	if err := machine.Advance(runstate.Banding); err != nil {
		return summary, err
	}
	indexer := lsh.NewIndexer(d.store, params.NumBands, d.opts.Retry)
	indexed, err := indexer.Index(ctx, d.opts.ReadBatch)
	if err != nil {
		return summary, fmt.Errorf("banding: %w", err)
	}
	d.logger.Debug().Int("documents", indexed).Msg("band memberships recorded")

	if err := machine.Advance(runstate.CandidatesReady); err != nil {
		return summary, err
	}
	candidates, err := indexer.Candidates(ctx)
	if err != nil {
		return summary, fmt.Errorf("candidates: %w", err)
	}
	pairs := candidates.Sorted()
	summary.Candidates = len(pairs)

	if err := machine.Advance(runstate.Confirming); err != nil {
		return summary, err
	}
	confirmed := d.confirm(ctx, pairs, &summary)
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("%s interrupted: %w", machine.Current(), err)
	}

	if err := machine.Advance(runstate.Clustering); err != nil {
		return summary, err
	}
	clusters := cluster.Build(confirmed)
	reps, err := cluster.Select(clusters, params.Representative, params.Seed)
	if err != nil {
		return summary, err
	}
	summary.Clusters = len(clusters)
	for _, members := range clusters {
		summary.Duplicates += len(members) - 1
	}

	failed := summary.FailedKeys()
	eligible := make([]string, 0, len(paths))
	for _, path := range paths {
		if !failed[path] {
			eligible = append(eligible, path)
		}
	}
	survivors := cluster.Survivors(eligible, clusters, reps)
	if err := d.emit(ctx, survivors, sink, &summary); err != nil {
		return summary, err
	}

	if err := machine.Advance(runstate.Done); err != nil {
		return summary, err
	}
	summary.Phases = machine.Timings()
	return summary, nil
}

// sign computes signatures in waves of WriteBatch documents. Each wave is
// written in one transaction; when that fails the wave is written record by
// record so one bad record only fails its own document.
func (d *Deduplicator) sign(ctx context.Context, paths []string, summary *Summary) error {
	for start := 0; start < len(paths); start += d.opts.WriteBatch {
		chunk := paths[start:min(start+d.opts.WriteBatch, len(paths))]
		tasks := make([]workpool.Task[string], 0, len(chunk))
		for _, path := range chunk {
			tasks = append(tasks, workpool.Task[string]{Key: path, Input: path})
		}

		results := workpool.Run(ctx, d.opts.Params.Workers, tasks, d.signDocument)
		summary.Merge(workpool.Summarize(results))
		records := make([]store.SignatureRecord, 0, len(results))
		for _, result := range results {
			switch {
			case !result.OK():
				d.logger.Warn().Err(result.Err).Str("path", result.Key).Msg("sign document failed")
			case result.Value == nil:
				summary.Unsigned++
				d.logger.Debug().Str("path", result.Key).Msg("document has no shingles, left out of banding")
			default:
				records = append(records, store.SignatureRecord{DocID: result.Key, Signature: result.Value})
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		summary.Signed += d.putSignatures(ctx, records, summary)
	}
	return ctx.Err()
}

// signDocument returns nil for documents with no shingles.
func (d *Deduplicator) signDocument(_ context.Context, path string) ([]uint64, error) {
	shingles, err := minhash.DocumentShingles(path, d.opts.Params.NGram)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	return d.signer.Sign(shingles), nil
}

func (d *Deduplicator) putSignatures(ctx context.Context, records []store.SignatureRecord, summary *Summary) int {
	if len(records) == 0 {
		return 0
	}
	err := store.Retry(ctx, d.opts.Retry, func(ctx context.Context) error {
		return d.store.PutSignatures(ctx, records)
	})
	if err == nil {
		return len(records)
	}
	d.logger.Warn().Err(err).Int("records", len(records)).Msg("signature batch failed, writing records individually")

	written := 0
	for _, record := range records {
		err := store.Retry(ctx, d.opts.Retry, func(ctx context.Context) error {
			return d.store.PutSignatures(ctx, []store.SignatureRecord{record})
		})
		if err != nil {
			summary.Fail(record.DocID, "store signature: "+err.Error())
			d.logger.Warn().Err(err).Str("path", record.DocID).Msg("store signature failed")
			continue
		}
		written++
	}
	return written
}

// confirm keeps the candidate pairs whose exact Jaccard similarity reaches
// the threshold. A pair that cannot be evaluated is dropped.
func (d *Deduplicator) confirm(ctx context.Context, pairs []lsh.Pair, summary *Summary) []lsh.Pair {
	tasks := make([]workpool.Task[lsh.Pair], 0, len(pairs))
	for _, pair := range pairs {
		tasks = append(tasks, workpool.Task[lsh.Pair]{Key: pair.String(), Input: pair})
	}

	ngram := d.opts.Params.NGram
	threshold := d.opts.Params.Threshold
	results := workpool.Run(ctx, d.opts.Params.Workers, tasks, func(_ context.Context, pair lsh.Pair) (bool, error) {
		a, err := minhash.DocumentShingles(pair.A, ngram)
		if err != nil {
			return false, err
		}
		b, err := minhash.DocumentShingles(pair.B, ngram)
		if err != nil {
			return false, err
		}
		return minhash.Jaccard(a, b) >= threshold, nil
	})

	confirmed := make([]lsh.Pair, 0, len(results))
	for i, result := range results {
		if !result.OK() {
			summary.PairFailures = append(summary.PairFailures, workpool.Failure{Key: result.Key, Reason: result.Err.Error()})
			d.logger.Warn().Err(result.Err).Str("pair", result.Key).Msg("confirm pair failed")
			continue
		}
		if result.Value {
			confirmed = append(confirmed, pairs[i])
		}
	}
	summary.Confirmed = len(confirmed)
	return confirmed
}

// emit writes each survivor with its whitespace collapsed. Documents that
// collapse to nothing are left out of the stream but still copied to
// CopyDir.
func (d *Deduplicator) emit(ctx context.Context, survivors []string, sink Sink, summary *Summary) error {
	for _, path := range survivors {
		if err := ctx.Err(); err != nil {
			return err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			summary.Fail(path, "output: "+err.Error())
			d.logger.Warn().Err(err).Str("path", path).Msg("read survivor failed")
			continue
		}
		if d.opts.CopyDir != "" {
			if err := copyFile(path, filepath.Join(d.opts.CopyDir, filepath.Base(path))); err != nil {
				d.logger.Warn().Err(err).Str("path", path).Msg("copy kept document failed")
			}
		}

		text := normalize.CollapseWhitespace(string(raw))
		if text == "" {
			summary.SkippedEmpty++
			continue
		}
		if err := sink.WriteDocument(text); err != nil {
			return fmt.Errorf("write output stream: %w", err)
		}
		summary.Kept++
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
