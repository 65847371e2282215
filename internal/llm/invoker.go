package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/spherical/pdf2html/internal/domain"
	"github.com/spherical/pdf2html/internal/metrics"
	"github.com/spherical/pdf2html/internal/observability"
)

// invokeState is a node of the per-page state machine:
// pending -> in-flight -> (succeeded | retrying -> in-flight | failed).
type invokeState int

const (
	statePending invokeState = iota
	stateInFlight
	stateRetrying
	stateSucceeded
	stateFailed
)

func (s invokeState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateInFlight:
		return "in-flight"
	case stateRetrying:
		return "retrying"
	case stateSucceeded:
		return "succeeded"
	default:
		return "failed"
	}
}

// pageRun is the mutable state of one page while it moves through the
// machine. It never escapes Invoke.
type pageRun struct {
	state         invokeState
	attempts      int
	shapeFailures int
	delay         time.Duration
	fragment      string
	lastErr       *domain.DomainError
}

// Invoker implements domain.PageInvoker on top of a Completer.
type Invoker struct {
	completer Completer
	logger    *observability.Logger
	metrics   *metrics.Recorder
	sleep     SleepFunc
	jitter    JitterFunc
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithSleep replaces the backoff sleep.
func WithSleep(fn SleepFunc) InvokerOption {
	return func(inv *Invoker) {
		inv.sleep = fn
	}
}

// WithJitter replaces the backoff jitter.
func WithJitter(fn JitterFunc) InvokerOption {
	return func(inv *Invoker) {
		inv.jitter = fn
	}
}

// WithMetrics records model call results.
func WithMetrics(m *metrics.Recorder) InvokerOption {
	return func(inv *Invoker) {
		inv.metrics = m
	}
}

// NewInvoker creates a page invoker.
func NewInvoker(completer Completer, logger *observability.Logger, opts ...InvokerOption) *Invoker {
	if logger == nil {
		logger = observability.Nop()
	}
	inv := &Invoker{
		completer: completer,
		logger:    logger,
		sleep:     sleepContext,
		jitter:    EqualJitter,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke converts one page image into an outcome. Every error path ends in a
// failed outcome; nothing is returned as an error or panic.
func (inv *Invoker) Invoke(ctx context.Context, image domain.PageImage, opts domain.Options) domain.PageOutcome {
	start := time.Now()
	log := inv.logger.WithContext(ctx).WithPage(image.PageNumber())
	run := &pageRun{state: statePending}

	var req *Request

	for {
		switch run.state {
		case statePending:
			if err := validatePage(image, opts); err != nil {
				// The rejected request counts as the one attempt made.
				run.attempts = 1
				run.lastErr = err
				run.state = stateFailed
				continue
			}
			req = BuildPageRequest(image, opts)
			run.state = stateInFlight

		case stateInFlight:
			if err := ctx.Err(); err != nil {
				run.lastErr = domain.CancelledError("job cancelled before model call", err)
				run.state = stateFailed
				continue
			}
			run.attempts++

			fragment, err := inv.attempt(ctx, req, opts)
			if err == nil {
				run.fragment = fragment
				run.state = stateSucceeded
				continue
			}
			run.lastErr = err
			run.state = inv.afterFailure(ctx, run, opts.Retry)

			evt := log.Warn().
				Int("attempt", run.attempts).
				Int("max_attempts", opts.Retry.MaxAttempts).
				Str("kind", string(err.Type)).
				Err(err)
			if run.state == stateRetrying {
				evt.Dur("next_delay", run.delay).Msg("Model call failed, retrying")
			} else {
				evt.Msg("Model call failed")
			}

		case stateRetrying:
			if err := inv.sleep(ctx, run.delay); err != nil {
				run.lastErr = domain.CancelledError("job cancelled during backoff", err)
				run.state = stateFailed
				continue
			}
			run.state = stateInFlight

		case stateSucceeded:
			outcome := domain.SucceededOutcome(image.Index, run.fragment, run.attempts)
			outcome.Duration = time.Since(start)
			log.Debug().Int("attempts", run.attempts).Dur("elapsed", outcome.Duration).Msg("Page converted")
			return outcome

		case stateFailed:
			// attempts counts remote calls; a page cancelled before its
			// first call still reports one.
			outcome := domain.FailedOutcome(image.Index, run.lastErr, max(run.attempts, 1))
			outcome.Duration = time.Since(start)
			return outcome
		}
	}
}

// attempt performs one remote call and validates its result.
func (inv *Invoker) attempt(ctx context.Context, req *Request, opts domain.Options) (string, *domain.DomainError) {
	completion, err := inv.completer.Complete(ctx, req)
	if err != nil {
		de := domain.AsDomainError(err, domain.ErrorTypeTransport)
		inv.metrics.ModelCall(string(de.Type))
		return "", de
	}

	fragment, err := ParseCompletion(completion, opts.MaxFragmentBytes)
	if err != nil {
		inv.metrics.ModelCall(string(domain.ErrorTypeResponseShape))
		return "", domain.AsDomainError(err, domain.ErrorTypeResponseShape)
	}

	inv.metrics.ModelCall("ok")
	return fragment, nil
}

// afterFailure decides between retrying and failing, and computes the next
// delay when retrying.
func (inv *Invoker) afterFailure(ctx context.Context, run *pageRun, policy domain.RetryPolicy) invokeState {
	err := run.lastErr

	if ctx.Err() != nil || err.Type == domain.ErrorTypeCancelled {
		if err.Type != domain.ErrorTypeCancelled {
			run.lastErr = domain.CancelledError("job cancelled during model call", ctx.Err())
		}
		return stateFailed
	}
	if !err.Retryable() {
		return stateFailed
	}
	if run.attempts >= policy.MaxAttempts {
		return stateFailed
	}
	if err.Type == domain.ErrorTypeResponseShape {
		run.shapeFailures++
		if run.shapeFailures > policy.ShapeRetries {
			return stateFailed
		}
	}

	run.delay = inv.jitter(calculateBackoff(run.attempts-1, policy))

	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < run.delay {
		run.lastErr = domain.NewError(err.Type,
			fmt.Sprintf("%s (no time left for retry before job deadline)", err.Message), err.Err)
		return stateFailed
	}

	return stateRetrying
}

func validatePage(image domain.PageImage, opts domain.Options) *domain.DomainError {
	if len(image.Data) == 0 {
		return domain.ValidationError(fmt.Sprintf("page %d has no image data", image.PageNumber()), nil)
	}
	if err := opts.Validate(); err != nil {
		return domain.AsDomainError(err, domain.ErrorTypeValidation)
	}
	return nil
}
