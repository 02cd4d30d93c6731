// Package parallel runs stage iterations concurrently under a bounded
// worker pool with an optional token-bucket rate limit.
//
// Saves produced by parallel iterations have no ordering guarantee; the
// executor reports completion order and the runner merges saves
// last-completion-wins.
package parallel

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Task is one iteration of a parallel block. It returns the values the
// iteration saved.
type Task func(ctx context.Context, index int) (map[string]any, error)

// Result is the outcome of one iteration.
type Result struct {
	Index    int
	Saved    map[string]any
	Err      error
	Duration time.Duration

	// Started distinguishes iterations cancelled before dispatch from
	// ones that failed in flight.
	Started bool

	// CompletionOrder numbers finished iterations in the order they
	// completed, starting at 0. Cancelled-before-start iterations get -1.
	CompletionOrder int
}

// Executor dispatches iterations with bounded concurrency. A zero
// CallsPerSec disables rate limiting.
type Executor struct {
	MaxConcurrency int
	CallsPerSec    float64
}

// Run executes n iterations of task. Cancelling ctx stops dispatching new
// iterations; in-flight ones run to completion under their own deadline
// (the per-request timeout inside the task), implementing the grace
// window.
func (e *Executor) Run(ctx context.Context, n int, task Task) ([]Result, *Metrics) {
	concurrency := e.MaxConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	var limiter *rate.Limiter
	if e.CallsPerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(e.CallsPerSec), 1)
	}

	metrics := NewMetrics()
	results := make([]Result, n)
	sem := make(chan struct{}, concurrency)

	var wg sync.WaitGroup
	var mu sync.Mutex
	completed := 0

	// Iterations started before cancellation finish on an inherited but
	// uncancellable context; their own timeouts bound the grace window.
	graceCtx := context.WithoutCancel(ctx)

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			results[i] = Result{Index: i, Err: ctx.Err(), CompletionOrder: -1}
			metrics.RecordSkipped()
			continue
		}

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i] = Result{Index: i, Err: ctx.Err(), CompletionOrder: -1}
			metrics.RecordSkipped()
			continue
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				<-sem
				results[i] = Result{Index: i, Err: err, CompletionOrder: -1}
				metrics.RecordSkipped()
				continue
			}
		}

		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()

			start := time.Now()
			saved, err := task(graceCtx, idx)
			duration := time.Since(start)

			mu.Lock()
			order := completed
			completed++
			mu.Unlock()

			results[idx] = Result{
				Index:           idx,
				Saved:           saved,
				Err:             err,
				Duration:        duration,
				Started:         true,
				CompletionOrder: order,
			}
			metrics.Record(duration, err == nil)
		}(i)
	}

	wg.Wait()
	metrics.Finish()
	return results, metrics
}

// MergeSaves folds iteration saves into a single map in completion order:
// the last-completed write wins.
func MergeSaves(results []Result) map[string]any {
	byOrder := make([]*Result, 0, len(results))
	for i := range results {
		r := &results[i]
		if r.Started && r.Err == nil && len(r.Saved) > 0 {
			byOrder = append(byOrder, r)
		}
	}
	// completion orders are unique; simple insertion sort keeps this
	// dependency-free
	for i := 1; i < len(byOrder); i++ {
		for j := i; j > 0 && byOrder[j].CompletionOrder < byOrder[j-1].CompletionOrder; j-- {
			byOrder[j], byOrder[j-1] = byOrder[j-1], byOrder[j]
		}
	}

	merged := make(map[string]any)
	for _, r := range byOrder {
		for k, v := range r.Saved {
			merged[k] = v
		}
	}
	return merged
}
