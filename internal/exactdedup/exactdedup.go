// Package exactdedup removes every line that occurs more than once across a
// set of documents.
//
// The pass is two-phase. Counting hashes every line of every document into
// the coordination store. Filtering starts only after every counting task
// has returned, re-reads each document and keeps the lines whose global
// count is exactly one.
package exactdedup

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"horse.fit/corpusdedup/internal/manifest"
	"horse.fit/corpusdedup/internal/runstate"
	"horse.fit/corpusdedup/internal/store"
	"horse.fit/corpusdedup/internal/workpool"
)

const defaultLookupBatch = 1000

// CountStore is the part of the coordination store the exact pass needs.
type CountStore interface {
	IncrementLineCounts(ctx context.Context, counts []store.LineCount) error
	LineCounts(ctx context.Context, hashes []store.LineHash) ([]int64, error)
}

type Options struct {
	Workers int
	Retry   store.RetryPolicy
	// LookupBatch is how many line hashes one filter lookup resolves.
	LookupBatch int
}

// Summary reports an exact pass. Processed, Succeeded and Failed count
// documents; Succeeded documents have an output file.
type Summary struct {
	workpool.Summary
	LinesRead int64             `json:"lines_read"`
	LinesKept int64             `json:"lines_kept"`
	Outputs   []string          `json:"outputs,omitempty"`
	Phases    []runstate.Timing `json:"phases,omitempty"`
}

type Deduplicator struct {
	store  CountStore
	logger zerolog.Logger
	opts   Options
}

func New(s CountStore, logger zerolog.Logger, opts Options) *Deduplicator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.LookupBatch < 1 {
		opts.LookupBatch = defaultLookupBatch
	}
	return &Deduplicator{store: s, logger: logger, opts: opts}
}

type filterResult struct {
	output string
	read   int64
	kept   int64
}

// Run deduplicates paths into outDir, one output per input under the same
// base name. Per-document failures are reported in the summary. The error
// is non-nil only when the run could not start or the context ended.
func (d *Deduplicator) Run(ctx context.Context, paths []string, outDir string) (Summary, error) {
	var summary Summary
	if err := manifest.CheckBaseNames(paths); err != nil {
		return summary, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return summary, fmt.Errorf("create output dir: %w", err)
	}

	machine := runstate.NewExact()
	machine.OnTransition(func(from, to runstate.Phase) {
		d.logger.Info().Str("run", machine.Name()).Str("from", string(from)).Str("to", string(to)).Msg("phase transition")
	})

	if err := machine.Advance(runstate.Counting); err != nil {
		return summary, err
	}
	countTasks := make([]workpool.Task[string], 0, len(paths))
	for _, path := range paths {
		countTasks = append(countTasks, workpool.Task[string]{Key: path, Input: path})
	}
	counted := workpool.Run(ctx, d.opts.Workers, countTasks, func(ctx context.Context, path string) (int64, error) {
		lines, err := d.count(ctx, path)
		if err != nil {
			return 0, fmt.Errorf("count: %w", err)
		}
		return lines, nil
	})
	summary.Summary = workpool.Summarize(counted)

	filterTasks := make([]workpool.Task[string], 0, len(counted))
	for _, result := range counted {
		if !result.OK() {
			d.logger.Warn().Err(result.Err).Str("path", result.Key).Msg("count document failed")
			continue
		}
		filterTasks = append(filterTasks, workpool.Task[string]{Key: result.Key, Input: result.Key})
	}
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("%s interrupted: %w", machine.Current(), err)
	}

	if err := machine.Advance(runstate.CountComplete); err != nil {
		return summary, err
	}
	if err := machine.Advance(runstate.Filtering); err != nil {
		return summary, err
	}
	filtered := workpool.Run(ctx, d.opts.Workers, filterTasks, func(ctx context.Context, path string) (filterResult, error) {
		return d.filter(ctx, path, outDir)
	})
	for _, result := range filtered {
		if !result.OK() {
			summary.Fail(result.Key, "filter: "+result.Err.Error())
			d.logger.Warn().Err(result.Err).Str("path", result.Key).Msg("filter document failed")
			continue
		}
		summary.LinesRead += result.Value.read
		summary.LinesKept += result.Value.kept
		summary.Outputs = append(summary.Outputs, result.Value.output)
	}
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("%s interrupted: %w", machine.Current(), err)
	}

	if err := machine.Advance(runstate.Done); err != nil {
		return summary, err
	}
	summary.Phases = machine.Timings()
	return summary, nil
}

// count hashes every line of path locally and flushes the totals in one
// store transaction, so a document either contributes all of its lines or
// none.
func (d *Deduplicator) count(ctx context.Context, path string) (int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open: %w", err)
	}
	defer file.Close()

	local := map[store.LineHash]int64{}
	var lines int64
	err = eachLine(file, func(line []byte) error {
		local[store.HashLine(trimLineEnding(line))]++
		lines++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("read: %w", err)
	}
	if len(local) == 0 {
		return 0, nil
	}

	counts := make([]store.LineCount, 0, len(local))
	for hash, n := range local {
		counts = append(counts, store.LineCount{Hash: hash, Count: n})
	}
	err = store.Retry(ctx, d.opts.Retry, func(ctx context.Context) error {
		return d.store.IncrementLineCounts(ctx, counts)
	})
	if err != nil {
		return 0, fmt.Errorf("increment line counts: %w", err)
	}

	d.logger.Debug().Str("path", path).Int64("lines", lines).Int("distinct", len(local)).Msg("document counted")
	return lines, nil
}

// filter writes the globally unique lines of path to a temporary file in
// outDir and renames it into place once complete.
func (d *Deduplicator) filter(ctx context.Context, path, outDir string) (filterResult, error) {
	in, err := os.Open(path)
	if err != nil {
		return filterResult{}, fmt.Errorf("open: %w", err)
	}
	defer in.Close()

	target := filepath.Join(outDir, filepath.Base(path))
	tmp, err := os.CreateTemp(outDir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return filterResult{}, fmt.Errorf("create temp output: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	out := bufio.NewWriter(tmp)
	result := filterResult{output: target}
	pending := make([][]byte, 0, d.opts.LookupBatch)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		hashes := make([]store.LineHash, len(pending))
		for i, line := range pending {
			hashes[i] = store.HashLine(trimLineEnding(line))
		}
		var counts []int64
		err := store.Retry(ctx, d.opts.Retry, func(ctx context.Context) error {
			var lookupErr error
			counts, lookupErr = d.store.LineCounts(ctx, hashes)
			return lookupErr
		})
		if err != nil {
			return fmt.Errorf("lookup line counts: %w", err)
		}
		for i, line := range pending {
			if counts[i] != 1 {
				continue
			}
			if _, err := out.Write(line); err != nil {
				return fmt.Errorf("write: %w", err)
			}
			result.kept++
		}
		pending = pending[:0]
		return nil
	}

	err = eachLine(in, func(line []byte) error {
		result.read++
		pending = append(pending, bytes.Clone(line))
		if len(pending) >= d.opts.LookupBatch {
			return flush()
		}
		return nil
	})
	if err == nil {
		err = flush()
	}
	if err != nil {
		return filterResult{}, err
	}

	if err := out.Flush(); err != nil {
		return filterResult{}, fmt.Errorf("flush: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return filterResult{}, fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return filterResult{}, fmt.Errorf("rename output: %w", err)
	}
	committed = true

	d.logger.Debug().Str("path", path).Int64("lines", result.read).Int64("kept", result.kept).Msg("document filtered")
	return result, nil
}

// eachLine calls fn with every line of r, line ending included. The slice
// is only valid until fn returns.
func eachLine(r io.Reader, fn func([]byte) error) error {
	reader := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			long := bytes.Clone(line)
			for errors.Is(err, bufio.ErrBufferFull) {
				line, err = reader.ReadSlice('\n')
				long = append(long, line...)
			}
			line = long
		}
		if len(line) > 0 {
			if fnErr := fn(line); fnErr != nil {
				return fnErr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func trimLineEnding(line []byte) []byte {
	return bytes.TrimRight(line, "\r\n")
}
