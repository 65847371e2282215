// Package config provides configuration loading for pdf2html.
// Supports YAML files, environment variables, and programmatic overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/spherical/pdf2html/internal/domain"
)

// Config holds all configuration for pdf2html.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	LLM           LLMConfig           `yaml:"llm"`
	Render        RenderConfig        `yaml:"render"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Retry         RetryConfig         `yaml:"retry"`
	Download      DownloadConfig      `yaml:"download"`
	Cache         CacheConfig         `yaml:"cache"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
}

// LLMConfig holds the vision model endpoint settings.
type LLMConfig struct {
	Endpoint       string        `yaml:"endpoint"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	MaxTokens      int           `yaml:"max_tokens"`
	Temperature    float64       `yaml:"temperature"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Stream         bool          `yaml:"stream"`
}

// RenderConfig holds page rasterization settings.
type RenderConfig struct {
	DPI         int    `yaml:"dpi"`
	ImageFormat string `yaml:"image_format"` // png or jpeg
	JPEGQuality int    `yaml:"jpeg_quality"`
	MaxPages    int    `yaml:"max_pages"` // 0 means unlimited
}

// PipelineConfig holds page scheduling and assembly settings.
type PipelineConfig struct {
	Layout           string        `yaml:"layout"`
	Concurrency      int           `yaml:"concurrency"`
	JobTimeout       time.Duration `yaml:"job_timeout"`
	MaxFragmentBytes int           `yaml:"max_fragment_bytes"`
}

// RetryConfig holds per-page retry settings.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	BaseDelay    time.Duration `yaml:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	ShapeRetries int           `yaml:"shape_retries"`
}

// DownloadConfig holds remote PDF fetch settings.
type DownloadConfig struct {
	Timeout  time.Duration `yaml:"timeout"`
	MaxBytes int64         `yaml:"max_bytes"`
}

// CacheConfig holds fragment cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // none, memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	ServiceName    string `yaml:"service_name"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8000,
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     11 * time.Minute,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 15 * time.Second,
		},
		LLM: LLMConfig{
			Endpoint:       "https://api.openai.com/v1/chat/completions",
			Model:          "gpt-4o-mini",
			MaxTokens:      4000,
			Temperature:    0.0,
			RequestTimeout: 3 * time.Minute,
		},
		Render: RenderConfig{
			DPI:         200,
			ImageFormat: "png",
			JPEGQuality: 85,
		},
		Pipeline: PipelineConfig{
			Layout:           string(domain.LayoutGrid),
			Concurrency:      3,
			JobTimeout:       10 * time.Minute,
			MaxFragmentBytes: 512 * 1024,
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			BaseDelay:    1 * time.Second,
			MaxDelay:     10 * time.Second,
			ShapeRetries: 2,
		},
		Download: DownloadConfig{
			Timeout:  120 * time.Second,
			MaxBytes: 100 * 1024 * 1024,
		},
		Cache: CacheConfig{
			Driver:     "none",
			TTL:        24 * time.Hour,
			MaxEntries: 1000,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
				Prefix:   "pdf2html:",
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			LogFormat:      "json",
			ServiceName:    "pdf2html-api",
			MetricsEnabled: true,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Render.ImageFormat != "png" && c.Render.ImageFormat != "jpeg" {
		return fmt.Errorf("invalid image format: %s", c.Render.ImageFormat)
	}

	if c.Render.JPEGQuality < 1 || c.Render.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100")
	}

	if c.Render.MaxPages < 0 {
		return fmt.Errorf("max_pages must not be negative")
	}

	if c.Cache.Driver != "none" && c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache ttl must not be negative")
	}

	if c.Download.MaxBytes <= 0 {
		return fmt.Errorf("download max_bytes must be positive")
	}

	if c.Pipeline.JobTimeout <= 0 {
		return fmt.Errorf("job_timeout must be positive")
	}

	if err := c.JobOptions().Validate(); err != nil {
		return err
	}

	return nil
}

// RequireAPIKey reports a config error when no model API key is configured.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return domain.ConfigError("model API key not found; set OPENAI_API_KEY in the environment or .env file", nil)
	}
	return nil
}

// JobOptions returns the immutable per-job options snapshot.
func (c *Config) JobOptions() domain.Options {
	return domain.Options{
		Model:            c.LLM.Model,
		DPI:              c.Render.DPI,
		MaxTokens:        c.LLM.MaxTokens,
		Temperature:      c.LLM.Temperature,
		Layout:           domain.LayoutMode(strings.ToLower(c.Pipeline.Layout)),
		Concurrency:      c.Pipeline.Concurrency,
		MaxFragmentBytes: c.Pipeline.MaxFragmentBytes,
		Timeout:          c.Pipeline.JobTimeout,
		Retry: domain.RetryPolicy{
			MaxAttempts:  c.Retry.MaxAttempts,
			BaseDelay:    c.Retry.BaseDelay,
			MaxDelay:     c.Retry.MaxDelay,
			ShapeRetries: c.Retry.ShapeRetries,
		},
	}
}

// Addr returns the host:port the API server listens on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && v != "sk-your-api-key-here" {
		cfg.LLM.APIKey = v
	} else if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}

	if v := os.Getenv("LLM_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}

	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		cfg.LLM.Model = v
	} else if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}

	if v, ok := envInt("SERVER_PORT"); ok {
		cfg.Server.Port = v
	}

	if v, ok := envInt("PDF2HTML_DPI"); ok {
		cfg.Render.DPI = v
	}

	if v := os.Getenv("PDF2HTML_CSS_MODE"); v != "" {
		cfg.Pipeline.Layout = v
	}

	if v, ok := envInt("PDF2HTML_MAX_PARALLEL_WORKERS"); ok {
		cfg.Pipeline.Concurrency = v
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
