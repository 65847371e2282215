package llm

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/pdf2html/internal/cache"
	"github.com/spherical/pdf2html/internal/domain"
)

type countingInvoker struct {
	calls   atomic.Int32
	outcome func(image domain.PageImage) domain.PageOutcome
}

func (c *countingInvoker) Invoke(ctx context.Context, image domain.PageImage, opts domain.Options) domain.PageOutcome {
	c.calls.Add(1)
	return c.outcome(image)
}

type brokenCache struct{}

func (brokenCache) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("connection refused")
}
func (brokenCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("connection refused")
}
func (brokenCache) Delete(ctx context.Context, key string) error { return nil }
func (brokenCache) Close() error                                 { return nil }

func TestCachedInvoker_HitAfterSuccess(t *testing.T) {
	next := &countingInvoker{outcome: func(image domain.PageImage) domain.PageOutcome {
		return domain.SucceededOutcome(image.Index, cleanFragment, 2)
	}}
	mem := cache.NewMemoryClient(10)
	defer mem.Close()

	ci := NewCachedInvoker(next, mem, time.Hour, nil, nil)
	ctx := context.Background()

	first := ci.Invoke(ctx, testImage(0), testOptions())
	require.True(t, first.Succeeded())
	assert.False(t, first.Cached)

	// same image bytes at a different position
	image := testImage(0)
	image.Index = 7
	second := ci.Invoke(ctx, image, testOptions())
	require.True(t, second.Succeeded())
	assert.True(t, second.Cached)
	assert.Equal(t, 7, second.Index)
	assert.Equal(t, cleanFragment, second.Fragment)
	assert.Equal(t, 2, second.Attempts)

	assert.Equal(t, int32(1), next.calls.Load())
}

func TestCachedInvoker_FailuresNotStored(t *testing.T) {
	next := &countingInvoker{outcome: func(image domain.PageImage) domain.PageOutcome {
		return domain.FailedOutcome(image.Index, domain.ServerError("HTTP 500", nil), 3)
	}}
	mem := cache.NewMemoryClient(10)
	defer mem.Close()

	ci := NewCachedInvoker(next, mem, time.Hour, nil, nil)
	ci.Invoke(context.Background(), testImage(0), testOptions())
	out := ci.Invoke(context.Background(), testImage(0), testOptions())

	assert.False(t, out.Succeeded())
	assert.Equal(t, int32(2), next.calls.Load())
	assert.Equal(t, 0, mem.Len())
}

func TestCachedInvoker_CacheErrorsAreMisses(t *testing.T) {
	next := &countingInvoker{outcome: func(image domain.PageImage) domain.PageOutcome {
		return domain.SucceededOutcome(image.Index, cleanFragment, 1)
	}}

	ci := NewCachedInvoker(next, brokenCache{}, time.Hour, nil, nil)
	out := ci.Invoke(context.Background(), testImage(0), testOptions())

	assert.True(t, out.Succeeded())
	assert.False(t, out.Cached)
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestFragmentKey(t *testing.T) {
	opts := testOptions()
	base := FragmentKey(testImage(0), opts)

	assert.Equal(t, base, FragmentKey(testImage(0), opts))
	assert.NotEqual(t, base, FragmentKey(testImage(1), opts))

	other := opts
	other.Layout = domain.LayoutSingle
	assert.NotEqual(t, base, FragmentKey(testImage(0), other))

	other = opts
	other.Temperature = 0.5
	assert.NotEqual(t, base, FragmentKey(testImage(0), other))

	other = opts
	other.Model = "gpt-4o"
	assert.NotEqual(t, base, FragmentKey(testImage(0), other))

	// concurrency does not change model output
	other = opts
	other.Concurrency = 9
	assert.Equal(t, base, FragmentKey(testImage(0), other))
}
