// Package scheduler drives every page of one document through a
// domain.PageInvoker under a concurrency bound.
package scheduler

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/spherical/pdf2html/internal/domain"
	"github.com/spherical/pdf2html/internal/metrics"
	"github.com/spherical/pdf2html/internal/observability"
)

// OutcomeFunc observes each outcome as it arrives, in completion order.
// It runs on the collecting goroutine and must not block for long.
type OutcomeFunc func(domain.PageOutcome)

// Scheduler dispatches page tasks with a sliding-window admission policy:
// as soon as one page finishes, the next undispatched page starts.
type Scheduler struct {
	invoker domain.PageInvoker
	logger  *observability.Logger
	metrics *metrics.Recorder
}

// New creates a Scheduler.
func New(invoker domain.PageInvoker, logger *observability.Logger, m *metrics.Recorder) *Scheduler {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Scheduler{invoker: invoker, logger: logger, metrics: m}
}

// Run processes tasks with at most opts.Concurrency invocations in flight
// and returns one outcome per task in completion order. Page failures never
// stop other pages. If ctx is done, no further pages are dispatched, the
// in-flight ones are awaited, and Run returns a cancelled error with no
// outcomes.
func (s *Scheduler) Run(ctx context.Context, tasks []domain.PageTask, opts domain.Options, onOutcome OutcomeFunc) ([]domain.PageOutcome, error) {
	log := s.logger.WithContext(ctx).WithOperation("schedule")

	limit := opts.Concurrency
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(int64(limit))

	// Buffered to len(tasks) so a finishing page never waits on the collector
	// while holding its slot.
	results := make(chan domain.PageOutcome, len(tasks))
	var wg sync.WaitGroup

	dispatched := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		// Acquire may succeed even when ctx is already done.
		if ctx.Err() != nil {
			sem.Release(1)
			break
		}

		dispatched++
		wg.Add(1)
		go func(task domain.PageTask) {
			defer wg.Done()
			defer sem.Release(1)

			s.metrics.PageStarted()
			out := s.invoker.Invoke(ctx, task.Image, opts)
			out.Index = task.Index
			s.metrics.PageFinished(string(out.State), out.Attempts)

			results <- out
		}(task)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	outcomes := make([]domain.PageOutcome, 0, dispatched)
	for out := range results {
		outcomes = append(outcomes, out)

		if out.Succeeded() {
			log.Debug().Int("page", out.Index+1).Int("attempts", out.Attempts).Bool("cached", out.Cached).Msg("Page succeeded")
		} else if !domain.IsCancelled(out.Err) {
			log.Warn().Int("page", out.Index+1).Int("attempts", out.Attempts).Str("kind", string(out.Err.Type)).Msg("Page failed")
		}

		if onOutcome != nil && ctx.Err() == nil {
			onOutcome(out)
		}
	}

	if err := ctx.Err(); err != nil {
		log.Warn().
			Int("pages", len(tasks)).
			Int("dispatched", dispatched).
			Int("finished", len(outcomes)).
			Msg("Job cancelled")
		return nil, domain.CancelledError("conversion job cancelled", err)
	}

	return outcomes, nil
}
