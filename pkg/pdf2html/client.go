// Package pdf2html is the library entry point for converting PDFs to HTML.
package pdf2html

import (
	"context"
	"time"

	"github.com/joho/godotenv"

	"github.com/spherical/pdf2html/internal/config"
	"github.com/spherical/pdf2html/internal/convert"
	"github.com/spherical/pdf2html/internal/domain"
	"github.com/spherical/pdf2html/internal/observability"
	"github.com/spherical/pdf2html/internal/pdf"
)

// Re-export domain types for public API
type (
	StreamEvent    = domain.StreamEvent
	EventType      = domain.EventType
	LayoutMode     = domain.LayoutMode
	MergedDocument = domain.MergedDocument
	PageFailure    = domain.PageFailure
	DomainError    = domain.DomainError
	ErrorType      = domain.ErrorType
	Result         = convert.Result
)

// Event type constants
const (
	EventStart        = domain.EventStart
	EventRasterized   = domain.EventRasterized
	EventPageComplete = domain.EventPageComplete
	EventPageFailed   = domain.EventPageFailed
	EventError        = domain.EventError
	EventComplete     = domain.EventComplete
)

// Layout modes
const (
	LayoutGrid    = domain.LayoutGrid
	LayoutColumns = domain.LayoutColumns
	LayoutSingle  = domain.LayoutSingle
)

// Client is the main entry point for the library.
type Client struct {
	service *convert.Service
}

// Config holds configuration options for the client. Zero values keep the
// built-in defaults.
type Config struct {
	APIKey   string
	Endpoint string
	Model    string
	Layout   string // grid, columns or single
	DPI      int
	Workers  int
	Timeout  time.Duration
	Logger   *observability.Logger
}

// NewClient creates a client from the environment (.env is honoured).
func NewClient() (*Client, error) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	cfg, err := config.Load("")
	if err != nil {
		return nil, domain.ConfigError("invalid configuration", err)
	}
	return newClient(cfg, nil)
}

// NewClientWithConfig creates a client with custom configuration.
func NewClientWithConfig(c *Config) (*Client, error) {
	cfg := config.DefaultConfig()
	if c.APIKey != "" {
		cfg.LLM.APIKey = c.APIKey
	}
	if c.Endpoint != "" {
		cfg.LLM.Endpoint = c.Endpoint
	}
	if c.Model != "" {
		cfg.LLM.Model = c.Model
	}
	if c.Layout != "" {
		cfg.Pipeline.Layout = c.Layout
	}
	if c.DPI != 0 {
		cfg.Render.DPI = c.DPI
	}
	if c.Workers != 0 {
		cfg.Pipeline.Concurrency = c.Workers
	}
	if c.Timeout != 0 {
		cfg.Pipeline.JobTimeout = c.Timeout
	}

	if err := cfg.Validate(); err != nil {
		return nil, domain.AsDomainError(err, domain.ErrorTypeValidation)
	}
	return newClient(cfg, c.Logger)
}

func newClient(cfg *config.Config, logger *observability.Logger) (*Client, error) {
	svc, err := convert.NewFromConfig(context.Background(), cfg, logger, nil)
	if err != nil {
		return nil, err
	}
	return &Client{service: svc}, nil
}

// ConvertFile converts a local PDF file. eventCh may be nil.
func (c *Client) ConvertFile(ctx context.Context, pdfPath string, eventCh chan<- StreamEvent) (*Result, error) {
	data, err := pdf.NewValidator().ReadPDFFile(pdfPath)
	if err != nil {
		return nil, err
	}
	return c.service.Convert(ctx, domain.ConversionJob{Source: data, Options: c.service.Defaults()}, eventCh)
}

// ConvertBytes converts an in-memory PDF. eventCh may be nil.
func (c *Client) ConvertBytes(ctx context.Context, data []byte, eventCh chan<- StreamEvent) (*Result, error) {
	return c.service.Convert(ctx, domain.ConversionJob{Source: data, Options: c.service.Defaults()}, eventCh)
}

// ConvertURL downloads and converts a remote PDF. eventCh may be nil.
func (c *Client) ConvertURL(ctx context.Context, pdfURL string, eventCh chan<- StreamEvent) (*Result, error) {
	return c.service.ConvertURL(ctx, pdfURL, c.service.Defaults(), eventCh)
}

// Close cleans up resources
func (c *Client) Close() error {
	return c.service.Close()
}
