// Package fetch downloads source PDF documents from remote URLs.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spherical/pdf2html/internal/domain"
	"github.com/spherical/pdf2html/internal/observability"
)

const (
	defaultTimeout  = 120 * time.Second
	defaultMaxBytes = 100 * 1024 * 1024
)

// Downloader fetches PDF bytes over HTTP(S).
type Downloader struct {
	httpClient *http.Client
	maxBytes   int64
	logger     *observability.Logger
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) {
		d.httpClient = c
	}
}

// WithMaxBytes caps the accepted response body size.
func WithMaxBytes(n int64) Option {
	return func(d *Downloader) {
		if n > 0 {
			d.maxBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(d *Downloader) {
		if l != nil {
			d.logger = l
		}
	}
}

// NewDownloader creates a Downloader with the given request timeout.
func NewDownloader(timeout time.Duration, opts ...Option) *Downloader {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	d := &Downloader{
		httpClient: &http.Client{Timeout: timeout},
		maxBytes:   defaultMaxBytes,
		logger:     observability.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Fetch downloads the document at rawURL. The response must either declare a
// PDF content type or come from a URL whose path ends in .pdf.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, domain.ValidationError(fmt.Sprintf("invalid PDF URL: %q", rawURL), err)
	}

	start := time.Now()
	d.logger.Info().Str("url", u.String()).Msg("Downloading PDF")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, domain.ValidationError("failed to build download request", err)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.CancelledError("download cancelled", ctx.Err())
		}
		return nil, domain.TransportError(fmt.Sprintf("failed to download PDF: %v", err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.logger.Error().Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("PDF download failed")
		return nil, domain.ValidationError(fmt.Sprintf("failed to download PDF: HTTP %d", resp.StatusCode), nil)
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "pdf") && !strings.HasSuffix(strings.ToLower(u.Path), ".pdf") {
		return nil, domain.ValidationError("URL does not point to a PDF file", nil)
	}

	if resp.ContentLength > d.maxBytes {
		return nil, tooLarge(d.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.CancelledError("download cancelled", err)
		}
		return nil, domain.TransportError("failed to read PDF body", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, tooLarge(d.maxBytes)
	}

	d.logger.Info().
		Int("bytes", len(data)).
		Str("content_type", contentType).
		Dur("elapsed", time.Since(start)).
		Msg("PDF downloaded")

	return data, nil
}

func tooLarge(limit int64) error {
	return domain.ValidationError(fmt.Sprintf("PDF exceeds the %d MB download limit", limit/(1024*1024)), nil)
}
