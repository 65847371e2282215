package llm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdf2html/internal/domain"
	"github.com/spherical/pdf2html/internal/metrics"
)

const cleanFragment = `<section class="page"><p>ok</p></section>`

// scriptedCompleter replays one step per call; the last step repeats.
type scriptedCompleter struct {
	mu    sync.Mutex
	steps []step
	calls int
}

type step struct {
	content      string
	finishReason string
	err          error
}

func (s *scriptedCompleter) Complete(ctx context.Context, req *Request) (*Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.calls
	if i >= len(s.steps) {
		i = len(s.steps) - 1
	}
	s.calls++

	st := s.steps[i]
	if st.err != nil {
		return nil, st.err
	}
	return &Completion{Content: st.content, FinishReason: st.finishReason}, nil
}

func (s *scriptedCompleter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// recordingSleep records requested delays without waiting.
type recordingSleep struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleep) Sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func newTestInvoker(c Completer, sleeper *recordingSleep) *Invoker {
	return NewInvoker(c, nil, WithSleep(sleeper.Sleep), WithJitter(NoJitter))
}

func TestInvoker_SucceedsFirstAttempt(t *testing.T) {
	c := &scriptedCompleter{steps: []step{{content: "```html\n" + cleanFragment + "\n```", finishReason: "stop"}}}
	sleeper := &recordingSleep{}

	out := newTestInvoker(c, sleeper).Invoke(context.Background(), testImage(4), testOptions())

	require.True(t, out.Succeeded())
	assert.Equal(t, 4, out.Index)
	assert.Equal(t, cleanFragment, out.Fragment)
	assert.Equal(t, 1, out.Attempts)
	assert.Nil(t, out.Err)
	assert.Empty(t, sleeper.delays)
}

func TestInvoker_ExhaustsAttemptCeiling(t *testing.T) {
	for _, ceiling := range []int{1, 2, 3, 5} {
		c := &scriptedCompleter{steps: []step{{err: domain.TransportError("connection reset", nil)}}}
		sleeper := &recordingSleep{}
		opts := testOptions()
		opts.Retry.MaxAttempts = ceiling

		out := newTestInvoker(c, sleeper).Invoke(context.Background(), testImage(0), opts)

		require.False(t, out.Succeeded())
		assert.Equal(t, ceiling, out.Attempts)
		assert.Equal(t, ceiling, c.Calls())
		assert.Equal(t, domain.ErrorTypeTransport, out.Err.Type)
		assert.Empty(t, out.Fragment)
		assert.Len(t, sleeper.delays, ceiling-1)
	}
}

func TestInvoker_SucceedsOnKthAttempt(t *testing.T) {
	for k := 1; k <= 3; k++ {
		steps := make([]step, 0, k)
		for i := 1; i < k; i++ {
			steps = append(steps, step{err: domain.ServerError("HTTP 503", nil)})
		}
		steps = append(steps, step{content: cleanFragment, finishReason: "stop"})

		c := &scriptedCompleter{steps: steps}
		out := newTestInvoker(c, &recordingSleep{}).Invoke(context.Background(), testImage(0), testOptions())

		require.True(t, out.Succeeded(), "k=%d", k)
		assert.Equal(t, k, out.Attempts, "k=%d", k)
	}
}

func TestInvoker_BackoffDoublesAndCaps(t *testing.T) {
	c := &scriptedCompleter{steps: []step{{err: domain.RateLimitError("429", nil)}}}
	sleeper := &recordingSleep{}
	opts := testOptions()
	opts.Retry.MaxAttempts = 6
	opts.Retry.BaseDelay = time.Second
	opts.Retry.MaxDelay = 5 * time.Second

	newTestInvoker(c, sleeper).Invoke(context.Background(), testImage(0), opts)

	assert.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		5 * time.Second,
		5 * time.Second,
	}, sleeper.delays)
}

func TestInvoker_UnretryableFailsImmediately(t *testing.T) {
	c := &scriptedCompleter{steps: []step{{err: domain.ValidationError("model API returned status 400", nil)}}}
	sleeper := &recordingSleep{}

	out := newTestInvoker(c, sleeper).Invoke(context.Background(), testImage(0), testOptions())

	require.False(t, out.Succeeded())
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 1, c.Calls())
	assert.Equal(t, domain.ErrorTypeValidation, out.Err.Type)
	assert.Empty(t, sleeper.delays)
}

func TestInvoker_InvalidPageRejectedLocally(t *testing.T) {
	c := &scriptedCompleter{steps: []step{{content: cleanFragment}}}

	image := testImage(0)
	image.Data = nil
	out := newTestInvoker(c, &recordingSleep{}).Invoke(context.Background(), image, testOptions())

	require.False(t, out.Succeeded())
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 0, c.Calls())
	assert.Equal(t, domain.ErrorTypeValidation, out.Err.Type)

	opts := testOptions()
	opts.DPI = 10
	out = newTestInvoker(c, &recordingSleep{}).Invoke(context.Background(), testImage(0), opts)
	assert.Equal(t, domain.ErrorTypeValidation, out.Err.Type)
	assert.Equal(t, 0, c.Calls())
}

func TestInvoker_ShapeRetryBudget(t *testing.T) {
	c := &scriptedCompleter{steps: []step{{content: "Sorry, I can't help with that.", finishReason: "stop"}}}
	opts := testOptions()
	opts.Retry.MaxAttempts = 10
	opts.Retry.ShapeRetries = 2

	out := newTestInvoker(c, &recordingSleep{}).Invoke(context.Background(), testImage(0), opts)

	require.False(t, out.Succeeded())
	assert.Equal(t, domain.ErrorTypeResponseShape, out.Err.Type)
	// one initial call plus two shape retries
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 3, c.Calls())
}

func TestInvoker_TruncatedThenRecovered(t *testing.T) {
	c := &scriptedCompleter{steps: []step{
		{content: "<section class=\"page\"><p>cut", finishReason: "length"},
		{content: cleanFragment, finishReason: "stop"},
	}}

	out := newTestInvoker(c, &recordingSleep{}).Invoke(context.Background(), testImage(0), testOptions())

	require.True(t, out.Succeeded())
	assert.Equal(t, 2, out.Attempts)
}

func TestInvoker_UnbalancedThenRecovered(t *testing.T) {
	c := &scriptedCompleter{steps: []step{
		{content: "<div><p>cut off", finishReason: "stop"},
		{content: cleanFragment, finishReason: "stop"},
	}}

	out := newTestInvoker(c, &recordingSleep{}).Invoke(context.Background(), testImage(0), testOptions())

	require.True(t, out.Succeeded())
	assert.Equal(t, cleanFragment, out.Fragment)
	assert.Equal(t, 2, out.Attempts)
}

func TestInvoker_OversizedFragment(t *testing.T) {
	c := &scriptedCompleter{steps: []step{{content: cleanFragment, finishReason: "stop"}}}
	opts := testOptions()
	opts.MaxFragmentBytes = 10
	opts.Retry.ShapeRetries = 0

	out := newTestInvoker(c, &recordingSleep{}).Invoke(context.Background(), testImage(0), opts)

	require.False(t, out.Succeeded())
	assert.Equal(t, domain.ErrorTypeResponseShape, out.Err.Type)
	assert.Equal(t, 1, out.Attempts)
}

func TestInvoker_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &scriptedCompleter{steps: []step{{err: domain.ServerError("HTTP 500", nil)}}}

	inv := NewInvoker(c, nil, WithJitter(NoJitter), WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	out := inv.Invoke(ctx, testImage(0), testOptions())

	require.False(t, out.Succeeded())
	assert.Equal(t, domain.ErrorTypeCancelled, out.Err.Type)
	assert.Equal(t, 1, c.Calls())
	assert.GreaterOrEqual(t, out.Attempts, 1)
}

func TestInvoker_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &scriptedCompleter{steps: []step{{content: cleanFragment}}}

	out := newTestInvoker(c, &recordingSleep{}).Invoke(ctx, testImage(0), testOptions())

	assert.Equal(t, domain.ErrorTypeCancelled, out.Err.Type)
	assert.Equal(t, 0, c.Calls())
	assert.Equal(t, 1, out.Attempts)
}

func TestInvoker_CancelledAfterBackoffCountsOnlyCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &scriptedCompleter{steps: []step{{err: domain.ServerError("HTTP 503", nil)}}}

	// the sleep completes, but the job is cancelled before the next call
	inv := NewInvoker(c, nil, WithJitter(NoJitter), WithSleep(func(ctx context.Context, d time.Duration) error {
		cancel()
		return nil
	}))

	out := inv.Invoke(ctx, testImage(0), testOptions())

	require.False(t, out.Succeeded())
	assert.Equal(t, domain.ErrorTypeCancelled, out.Err.Type)
	assert.Equal(t, 1, c.Calls())
	assert.Equal(t, c.Calls(), out.Attempts)
}

func TestInvoker_DeadlineTooCloseForRetry(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	c := &scriptedCompleter{steps: []step{{err: domain.ServerError("HTTP 502", nil)}}}
	sleeper := &recordingSleep{}
	opts := testOptions()
	opts.Retry.BaseDelay = 5 * time.Second
	opts.Retry.MaxDelay = 5 * time.Second

	out := newTestInvoker(c, sleeper).Invoke(ctx, testImage(0), opts)

	require.False(t, out.Succeeded())
	assert.Equal(t, domain.ErrorTypeServer, out.Err.Type)
	assert.Contains(t, out.Err.Message, "job deadline")
	assert.Equal(t, 1, c.Calls())
	assert.Empty(t, sleeper.delays)
}

func TestInvoker_RecordsModelCalls(t *testing.T) {
	rec := metrics.New()
	c := &scriptedCompleter{steps: []step{
		{err: domain.RateLimitError("429", nil)},
		{content: cleanFragment, finishReason: "stop"},
	}}

	inv := NewInvoker(c, nil, WithSleep((&recordingSleep{}).Sleep), WithJitter(NoJitter), WithMetrics(rec))
	out := inv.Invoke(context.Background(), testImage(0), testOptions())

	require.True(t, out.Succeeded())
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.ModelCallsTotal.WithLabelValues("rate_limit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.ModelCallsTotal.WithLabelValues("ok")))
}

func TestInvokeState_String(t *testing.T) {
	assert.Equal(t, "pending", statePending.String())
	assert.Equal(t, "in-flight", stateInFlight.String())
	assert.Equal(t, "retrying", stateRetrying.String())
	assert.Equal(t, "succeeded", stateSucceeded.String())
	assert.Equal(t, "failed", stateFailed.String())
}
