package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/spherical/pdf2html/internal/cache"
	"github.com/spherical/pdf2html/internal/domain"
	"github.com/spherical/pdf2html/internal/metrics"
	"github.com/spherical/pdf2html/internal/observability"
)

// cachedFragment is the stored form of a succeeded page.
type cachedFragment struct {
	Fragment string `json:"fragment"`
	Attempts int    `json:"attempts"`
}

// CachedInvoker serves repeated pages from a fragment cache and delegates
// misses to the wrapped invoker. Only succeeded outcomes are stored.
type CachedInvoker struct {
	next    domain.PageInvoker
	cache   cache.Client
	ttl     time.Duration
	logger  *observability.Logger
	metrics *metrics.Recorder
}

// NewCachedInvoker wraps next with a fragment cache.
func NewCachedInvoker(next domain.PageInvoker, c cache.Client, ttl time.Duration, logger *observability.Logger, m *metrics.Recorder) *CachedInvoker {
	if logger == nil {
		logger = observability.Nop()
	}
	return &CachedInvoker{next: next, cache: c, ttl: ttl, logger: logger, metrics: m}
}

// Invoke implements domain.PageInvoker.
func (ci *CachedInvoker) Invoke(ctx context.Context, image domain.PageImage, opts domain.Options) domain.PageOutcome {
	start := time.Now()
	key := FragmentKey(image, opts)
	log := ci.logger.WithContext(ctx).WithPage(image.PageNumber())

	raw, err := ci.cache.Get(ctx, key)
	switch {
	case err == nil:
		var entry cachedFragment
		if jerr := json.Unmarshal(raw, &entry); jerr == nil && entry.Fragment != "" {
			ci.metrics.CacheLookup("hit")
			attempts := entry.Attempts
			if attempts < 1 {
				attempts = 1
			}
			outcome := domain.SucceededOutcome(image.Index, entry.Fragment, attempts)
			outcome.Cached = true
			outcome.Duration = time.Since(start)
			log.Debug().Msg("Fragment cache hit")
			return outcome
		}
		ci.metrics.CacheLookup("error")
		log.Warn().Msg("Discarding unreadable cache entry")
	case errors.Is(err, cache.ErrCacheMiss):
		ci.metrics.CacheLookup("miss")
	default:
		ci.metrics.CacheLookup("error")
		log.Warn().Err(err).Msg("Fragment cache lookup failed")
	}

	outcome := ci.next.Invoke(ctx, image, opts)
	if !outcome.Succeeded() {
		return outcome
	}

	data, err := json.Marshal(cachedFragment{Fragment: outcome.Fragment, Attempts: outcome.Attempts})
	if err == nil {
		err = ci.cache.Set(ctx, key, data, ci.ttl)
	}
	if err != nil {
		log.Warn().Err(err).Msg("Fragment cache store failed")
	}
	return outcome
}

// FragmentKey identifies a page result by image content and every option
// that can change the model output.
func FragmentKey(image domain.PageImage, opts domain.Options) string {
	sum := sha256.Sum256(image.Data)
	return cache.CacheKey(
		"frag",
		hex.EncodeToString(sum[:]),
		opts.Model,
		string(opts.Layout),
		strconv.Itoa(opts.MaxTokens),
		strconv.FormatFloat(opts.Temperature, 'f', -1, 64),
	)
}
