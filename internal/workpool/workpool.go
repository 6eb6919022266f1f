// Package workpool runs independent tasks on a bounded number of
// goroutines and waits for all of them before returning.
package workpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Result is the outcome of one task. Err is nil on success.
type Result[T any] struct {
	Key   string
	Value T
	Err   error
}

func (r Result[T]) OK() bool {
	return r.Err == nil
}

// Task is one unit of work identified by Key in diagnostics.
type Task[In any] struct {
	Key   string
	Input In
}

// Run executes fn for every task with at most workers in flight and returns
// one result per task, in task order. A failing or panicking task only
// fails its own result. Tasks not yet started when ctx is done fail with the
// context error. Run returns only after every started task has finished.
func Run[In, Out any](ctx context.Context, workers int, tasks []Task[In], fn func(context.Context, In) (Out, error)) []Result[Out] {
	results := make([]Result[Out], len(tasks))
	if workers < 1 {
		workers = 1
	}

	var group errgroup.Group
	group.SetLimit(workers)
	for i, task := range tasks {
		results[i].Key = task.Key
		if err := ctx.Err(); err != nil {
			results[i].Err = err
			continue
		}
		group.Go(func() error {
			results[i].Value, results[i].Err = runIsolated(ctx, task.Input, fn)
			return nil
		})
	}
	_ = group.Wait()
	return results
}

func runIsolated[In, Out any](ctx context.Context, input In, fn func(context.Context, In) (Out, error)) (out Out, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("task panicked: %v\n%s", recovered, debug.Stack())
		}
	}()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	return fn(ctx, input)
}

// Failure names a failed task and why it failed.
type Failure struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// Summary aggregates a phase's results.
type Summary struct {
	Processed int       `json:"processed"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Failures  []Failure `json:"failures,omitempty"`
}

func Summarize[T any](results []Result[T]) Summary {
	summary := Summary{Processed: len(results)}
	for _, result := range results {
		if result.Err == nil {
			summary.Succeeded++
			continue
		}
		summary.Failed++
		summary.Failures = append(summary.Failures, Failure{Key: result.Key, Reason: result.Err.Error()})
	}
	sortFailures(summary.Failures)
	return summary
}

// Merge adds other's counters and failures to s.
func (s *Summary) Merge(other Summary) {
	s.Processed += other.Processed
	s.Succeeded += other.Succeeded
	s.Failed += other.Failed
	s.Failures = append(s.Failures, other.Failures...)
	sortFailures(s.Failures)
}

// Fail records that key, previously counted as succeeded, failed in a later
// step.
func (s *Summary) Fail(key, reason string) {
	s.Succeeded--
	s.Failed++
	s.Failures = append(s.Failures, Failure{Key: key, Reason: reason})
	sortFailures(s.Failures)
}

// FailedKeys returns the keys of every recorded failure.
func (s Summary) FailedKeys() map[string]bool {
	keys := make(map[string]bool, len(s.Failures))
	for _, failure := range s.Failures {
		keys[failure.Key] = true
	}
	return keys
}

func sortFailures(failures []Failure) {
	sort.SliceStable(failures, func(i, j int) bool {
		return failures[i].Key < failures[j].Key
	})
}
