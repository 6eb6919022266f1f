package workpool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func makeTasks(n int) []Task[int] {
	tasks := make([]Task[int], n)
	for i := range tasks {
		tasks[i] = Task[int]{Key: fmt.Sprintf("task-%02d", i), Input: i}
	}
	return tasks
}

func TestRunPreservesTaskOrder(t *testing.T) {
	t.Parallel()

	results := Run(context.Background(), 4, makeTasks(20), func(_ context.Context, n int) (int, error) {
		time.Sleep(time.Duration(20-n) * time.Millisecond / 4)
		return n * n, nil
	})
	if len(results) != 20 {
		t.Fatalf("unexpected result count: %d", len(results))
	}
	for i, result := range results {
		if !result.OK() {
			t.Fatalf("unexpected failure for %s: %v", result.Key, result.Err)
		}
		if result.Value != i*i || result.Key != fmt.Sprintf("task-%02d", i) {
			t.Fatalf("unexpected result at %d: %+v", i, result)
		}
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	Run(context.Background(), 3, makeTasks(30), func(_ context.Context, _ int) (struct{}, error) {
		now := inFlight.Add(1)
		for {
			seen := peak.Load()
			if now <= seen || peak.CompareAndSwap(seen, now) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return struct{}{}, nil
	})
	if got := peak.Load(); got > 3 {
		t.Fatalf("expected at most 3 concurrent tasks, saw %d", got)
	}
}

func TestRunIsolatesFailuresAndPanics(t *testing.T) {
	t.Parallel()

	results := Run(context.Background(), 2, makeTasks(6), func(_ context.Context, n int) (int, error) {
		switch n {
		case 1:
			return 0, errors.New("unreadable file")
		case 4:
			panic("boom")
		}
		return n, nil
	})

	summary := Summarize(results)
	if summary.Processed != 6 || summary.Succeeded != 4 || summary.Failed != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if summary.Failures[0].Key != "task-01" || summary.Failures[0].Reason != "unreadable file" {
		t.Fatalf("unexpected first failure: %+v", summary.Failures[0])
	}
	if summary.Failures[1].Key != "task-04" || !strings.Contains(summary.Failures[1].Reason, "boom") {
		t.Fatalf("unexpected panic failure: %+v", summary.Failures[1])
	}
}

func TestRunCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls atomic.Int32
	results := Run(ctx, 2, makeTasks(5), func(_ context.Context, n int) (int, error) {
		calls.Add(1)
		return n, nil
	})
	if calls.Load() != 0 {
		t.Fatalf("did not expect tasks to run, got %d calls", calls.Load())
	}
	for _, result := range results {
		if !errors.Is(result.Err, context.Canceled) {
			t.Fatalf("expected canceled result, got %+v", result)
		}
	}
}

func TestRunEmpty(t *testing.T) {
	t.Parallel()

	results := Run(context.Background(), 0, []Task[int]{}, func(_ context.Context, n int) (int, error) {
		return n, nil
	})
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
	if summary := Summarize(results); summary.Processed != 0 || summary.Failed != 0 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestSummaryMerge(t *testing.T) {
	t.Parallel()

	total := Summary{Processed: 2, Succeeded: 2}
	total.Merge(Summary{Processed: 3, Succeeded: 1, Failed: 2, Failures: []Failure{{Key: "x", Reason: "y"}}})
	if total.Processed != 5 || total.Succeeded != 3 || total.Failed != 2 || len(total.Failures) != 1 {
		t.Fatalf("unexpected merged summary: %+v", total)
	}
}

func TestSummaryFailKeepsFailuresSorted(t *testing.T) {
	t.Parallel()

	summary := Summary{Processed: 3, Succeeded: 2, Failed: 1, Failures: []Failure{{Key: "b", Reason: "sign"}}}
	summary.Fail("a", "output")
	if summary.Succeeded != 1 || summary.Failed != 2 {
		t.Fatalf("unexpected counters: %+v", summary)
	}
	if summary.Failures[0].Key != "a" || summary.Failures[1].Key != "b" {
		t.Fatalf("unexpected failure order: %+v", summary.Failures)
	}
	keys := summary.FailedKeys()
	if len(keys) != 2 || !keys["a"] || !keys["b"] || keys["c"] {
		t.Fatalf("unexpected failed keys: %v", keys)
	}
}
