// Package convert orchestrates one conversion job end to end:
// fetch, rasterize, schedule pages, assemble, and optionally template.
package convert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spherical/pdf2html/internal/assemble"
	"github.com/spherical/pdf2html/internal/cache"
	"github.com/spherical/pdf2html/internal/domain"
	"github.com/spherical/pdf2html/internal/metrics"
	"github.com/spherical/pdf2html/internal/observability"
	"github.com/spherical/pdf2html/internal/scheduler"
	"github.com/spherical/pdf2html/internal/variables"
)

// VariableExtractor proposes sample values for a merged document.
type VariableExtractor interface {
	Extract(ctx context.Context, htmlDoc string) (map[string]any, error)
}

// Result is what a caller receives for a finished job.
type Result struct {
	RequestID  string                `json:"request_id"`
	Document   domain.MergedDocument `json:"document"`
	Model      string                `json:"model_used"`
	Layout     domain.LayoutMode     `json:"css_mode"`
	SampleJSON map[string]any        `json:"sample_json,omitempty"`
	Duration   time.Duration         `json:"duration"`
}

// Service orchestrates the conversion workflow
type Service struct {
	fetcher    domain.Fetcher
	rasterizer domain.Rasterizer
	scheduler  *scheduler.Scheduler
	assembler  *assemble.Assembler
	variables  VariableExtractor
	cache      cache.Client
	defaults   domain.Options
	logger     *observability.Logger
	metrics    *metrics.Recorder
}

// Deps holds the collaborators of a Service.
type Deps struct {
	Fetcher    domain.Fetcher
	Rasterizer domain.Rasterizer
	Invoker    domain.PageInvoker
	Variables  VariableExtractor // optional
	Cache      cache.Client      // optional, closed by Close
	Defaults   domain.Options
	Logger     *observability.Logger
	Metrics    *metrics.Recorder
}

// NewService creates a new conversion service
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = observability.Nop()
	}
	return &Service{
		fetcher:    d.Fetcher,
		rasterizer: d.Rasterizer,
		scheduler:  scheduler.New(d.Invoker, logger, d.Metrics),
		assembler:  assemble.New(""),
		variables:  d.Variables,
		cache:      d.Cache,
		defaults:   d.Defaults,
		logger:     logger.WithOperation("convert"),
		metrics:    d.Metrics,
	}
}

// Defaults returns the base options requests are resolved against.
func (s *Service) Defaults() domain.Options {
	return s.defaults
}

// ConvertURL downloads the PDF at rawURL and converts it. The job deadline
// covers the download.
func (s *Service) ConvertURL(ctx context.Context, rawURL string, opts domain.Options, eventCh chan<- domain.StreamEvent) (*Result, error) {
	if s.fetcher == nil {
		return nil, domain.ConfigError("no fetcher configured", nil)
	}
	job := domain.ConversionJob{ID: uuid.NewString(), Options: opts}
	return s.run(ctx, job, eventCh, func(ctx context.Context) ([]byte, error) {
		return s.fetcher.Fetch(ctx, rawURL)
	})
}

// Convert converts already-fetched PDF bytes.
func (s *Service) Convert(ctx context.Context, job domain.ConversionJob, eventCh chan<- domain.StreamEvent) (*Result, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	return s.run(ctx, job, eventCh, func(context.Context) ([]byte, error) {
		return job.Source, nil
	})
}

func (s *Service) run(ctx context.Context, job domain.ConversionJob, eventCh chan<- domain.StreamEvent, source func(context.Context) ([]byte, error)) (*Result, error) {
	startTime := time.Now()
	opts := job.Options

	ctx = observability.ContextWithRequestID(ctx, job.ID)
	log := s.logger.WithRequest(job.ID)

	if err := opts.Validate(); err != nil {
		return nil, s.fail(log, eventCh, startTime, err)
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	s.emitEvent(log, eventCh, domain.StreamEvent{
		Type:      domain.EventStart,
		Payload:   fmt.Sprintf("Starting conversion %s", job.ID),
		Timestamp: time.Now(),
	})

	log.Info().
		Str("model", opts.Model).
		Str("layout", string(opts.Layout)).
		Int("dpi", opts.DPI).
		Int("workers", opts.Concurrency).
		Msg("Conversion started")

	data, err := source(ctx)
	if err != nil {
		return nil, s.fail(log, eventCh, startTime, err)
	}

	images, err := s.rasterizer.Rasterize(ctx, data, opts.DPI)
	if err != nil {
		return nil, s.fail(log, eventCh, startTime, err)
	}
	tasks := domain.NewPageTasks(images)
	images = nil

	s.emitEvent(log, eventCh, domain.StreamEvent{
		Type:      domain.EventRasterized,
		Payload:   len(tasks),
		Timestamp: time.Now(),
	})

	outcomes, err := s.scheduler.Run(ctx, tasks, opts, func(out domain.PageOutcome) {
		evt := domain.StreamEvent{
			Type:       domain.EventPageComplete,
			PageNumber: out.Index + 1,
			Payload:    out.Attempts,
			Timestamp:  time.Now(),
		}
		if !out.Succeeded() {
			evt.Type = domain.EventPageFailed
			evt.Payload = out.Err.Message
		}
		s.emitEvent(log, eventCh, evt)
	})
	if err != nil {
		return nil, s.fail(log, eventCh, startTime, err)
	}

	doc := s.assembler.Assemble(outcomes, opts.Layout)

	result := &Result{
		RequestID: job.ID,
		Model:     opts.Model,
		Layout:    opts.Layout,
	}

	if opts.ExtractVariables && s.variables != nil {
		s.applyVariables(ctx, log, &doc, result)
	}

	// Cancellation after assembly still voids the job.
	if err := ctx.Err(); err != nil {
		return nil, s.fail(log, eventCh, startTime, domain.CancelledError("conversion job cancelled", err))
	}

	result.Document = doc
	result.Duration = time.Since(startTime)
	s.metrics.ConversionFinished("ok", result.Duration)

	s.emitEvent(log, eventCh, domain.StreamEvent{
		Type: domain.EventComplete,
		Payload: fmt.Sprintf("Conversion complete: %d/%d pages successful in %v",
			doc.SucceededCount, doc.PageCount, result.Duration.Round(time.Millisecond)),
		Timestamp: time.Now(),
	})

	log.Info().
		Int("pages", doc.PageCount).
		Int("succeeded", doc.SucceededCount).
		Int("failed", doc.FailedCount).
		Dur("duration", result.Duration).
		Msg("Conversion complete")

	return result, nil
}

// applyVariables templates the document in place. Failures keep the
// un-templated HTML.
func (s *Service) applyVariables(ctx context.Context, log *observability.Logger, doc *domain.MergedDocument, result *Result) {
	sample, err := s.variables.Extract(ctx, doc.HTML)
	if err != nil {
		log.Warn().Err(err).Msg("Variable extraction failed, keeping original HTML")
		return
	}

	templated, replaced, err := variables.Apply(doc.HTML, sample)
	if err != nil {
		log.Warn().Err(err).Msg("Applying variables failed, keeping original HTML")
		return
	}

	if replaced == 0 {
		log.Warn().Msg("No template variables matched the document")
	}
	doc.HTML = templated
	result.SampleJSON = sample
}

// fail records and reports a job-level failure.
func (s *Service) fail(log *observability.Logger, eventCh chan<- domain.StreamEvent, start time.Time, err error) error {
	de := domain.AsDomainError(err, domain.ErrorTypeConversion)

	status := "error"
	if de.Type == domain.ErrorTypeCancelled {
		status = "cancelled"
		reason := "cancelled"
		if errors.Is(de, context.DeadlineExceeded) {
			reason = "deadline exceeded"
		}
		log.Warn().Str("reason", reason).Dur("elapsed", time.Since(start)).Msg("Conversion cancelled")
	} else {
		log.Error().Err(de).Str("kind", string(de.Type)).Msg("Conversion failed")
	}
	s.metrics.ConversionFinished(status, time.Since(start))

	s.emitEvent(log, eventCh, domain.StreamEvent{
		Type:      domain.EventError,
		Payload:   de.Error(),
		Timestamp: time.Now(),
	})
	return de
}

// emitEvent safely emits an event to the channel
func (s *Service) emitEvent(log *observability.Logger, eventCh chan<- domain.StreamEvent, event domain.StreamEvent) {
	if eventCh == nil {
		return
	}
	select {
	case eventCh <- event:
	default:
		log.Warn().Str("event", string(event.Type)).Msg("Event channel full, dropping event")
	}
}

// Close releases the fragment cache, if any.
func (s *Service) Close() error {
	if s.cache != nil {
		return s.cache.Close()
	}
	return nil
}
