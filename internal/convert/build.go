package convert

import (
	"context"
	"fmt"
	"strings"

	"github.com/spherical/pdf2html/internal/cache"
	"github.com/spherical/pdf2html/internal/config"
	"github.com/spherical/pdf2html/internal/domain"
	"github.com/spherical/pdf2html/internal/fetch"
	"github.com/spherical/pdf2html/internal/llm"
	"github.com/spherical/pdf2html/internal/metrics"
	"github.com/spherical/pdf2html/internal/observability"
	"github.com/spherical/pdf2html/internal/pdf"
	"github.com/spherical/pdf2html/internal/variables"
)

// NewFromConfig wires a Service from configuration. The caller owns the
// returned Service and must Close it.
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *observability.Logger, m *metrics.Recorder) (*Service, error) {
	if logger == nil {
		logger = observability.Nop()
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return nil, err
	}

	client := llm.NewClient(llm.ClientConfig{
		Endpoint:       cfg.LLM.Endpoint,
		APIKey:         cfg.LLM.APIKey,
		RequestTimeout: cfg.LLM.RequestTimeout,
		Stream:         cfg.LLM.Stream,
	}, logger)

	var invoker domain.PageInvoker = llm.NewInvoker(client, logger, llm.WithMetrics(m))

	fragCache, err := newCache(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	if fragCache != nil {
		invoker = llm.NewCachedInvoker(invoker, fragCache, cfg.Cache.TTL, logger, m)
		logger.Info().Str("driver", cfg.Cache.Driver).Dur("ttl", cfg.Cache.TTL).Msg("Fragment cache enabled")
	}

	return NewService(Deps{
		Fetcher: fetch.NewDownloader(cfg.Download.Timeout,
			fetch.WithMaxBytes(cfg.Download.MaxBytes),
			fetch.WithLogger(logger),
		),
		Rasterizer: pdf.NewConverter(pdf.ConverterConfig{
			Format:      cfg.Render.ImageFormat,
			JPEGQuality: cfg.Render.JPEGQuality,
			MaxPages:    cfg.Render.MaxPages,
		}, logger),
		Invoker:   invoker,
		Variables: variables.NewExtractor(client, cfg.LLM.Model, cfg.LLM.MaxTokens, cfg.LLM.Temperature, logger),
		Cache:     fragCache,
		Defaults:  cfg.JobOptions(),
		Logger:    logger,
		Metrics:   m,
	}), nil
}

// newCache returns nil when caching is disabled.
func newCache(ctx context.Context, cfg config.CacheConfig) (cache.Client, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "none":
		return nil, nil
	case "memory":
		return cache.NewMemoryClient(cfg.MaxEntries), nil
	case "redis":
		rc, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, domain.ConfigError("failed to connect to redis cache", err)
		}
		return rc, nil
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown cache driver %q", cfg.Driver), nil)
	}
}
