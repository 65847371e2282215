package domain

import (
	"fmt"
	"strings"
	"time"
)

// LayoutMode selects the column strategy of the generated stylesheet and the
// layout hint sent to the model.
type LayoutMode string

const (
	LayoutGrid    LayoutMode = "grid"
	LayoutColumns LayoutMode = "columns"
	LayoutSingle  LayoutMode = "single"
)

// LayoutModes lists every supported layout mode.
var LayoutModes = []LayoutMode{LayoutGrid, LayoutColumns, LayoutSingle}

// ParseLayoutMode validates a layout mode string.
func ParseLayoutMode(s string) (LayoutMode, error) {
	mode := LayoutMode(strings.ToLower(strings.TrimSpace(s)))
	for _, m := range LayoutModes {
		if m == mode {
			return mode, nil
		}
	}
	return "", ValidationError(fmt.Sprintf("css mode must be one of [columns grid single], got '%s'", s), nil)
}

// Option bounds.
const (
	MinDPI         = 72
	MaxDPI         = 600
	MinMaxTokens   = 100
	MaxMaxTokens   = 8000
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MinConcurrency = 1
	MaxConcurrency = 10
)

// RetryPolicy bounds the remote calls made for one page.
type RetryPolicy struct {
	MaxAttempts  int           `json:"max_attempts"`
	BaseDelay    time.Duration `json:"base_delay"`
	MaxDelay     time.Duration `json:"max_delay"`
	ShapeRetries int           `json:"shape_retries"` // retries allowed for malformed model output
}

// Options is the immutable configuration snapshot of one conversion job.
// It is passed by value; With returns a modified copy.
type Options struct {
	Model            string        `json:"model"`
	DPI              int           `json:"dpi"`
	MaxTokens        int           `json:"max_tokens"`
	Temperature      float64       `json:"temperature"`
	Layout           LayoutMode    `json:"css_mode"`
	Concurrency      int           `json:"max_parallel_workers"`
	MaxFragmentBytes int           `json:"max_fragment_bytes"`
	Timeout          time.Duration `json:"timeout"`
	ExtractVariables bool          `json:"extract_variables"`
	Retry            RetryPolicy   `json:"retry"`
}

// Validate checks every option against its bounds.
func (o Options) Validate() error {
	if strings.TrimSpace(o.Model) == "" {
		return ValidationError("model is required", nil)
	}
	if o.DPI < MinDPI || o.DPI > MaxDPI {
		return ValidationError(fmt.Sprintf("dpi must be between %d and %d, got %d", MinDPI, MaxDPI, o.DPI), nil)
	}
	if o.MaxTokens < MinMaxTokens || o.MaxTokens > MaxMaxTokens {
		return ValidationError(fmt.Sprintf("max_tokens must be between %d and %d, got %d", MinMaxTokens, MaxMaxTokens, o.MaxTokens), nil)
	}
	if o.Temperature < MinTemperature || o.Temperature > MaxTemperature {
		return ValidationError(fmt.Sprintf("temperature must be between %.1f and %.1f, got %.2f", MinTemperature, MaxTemperature, o.Temperature), nil)
	}
	if _, err := ParseLayoutMode(string(o.Layout)); err != nil {
		return err
	}
	if o.Concurrency < MinConcurrency || o.Concurrency > MaxConcurrency {
		return ValidationError(fmt.Sprintf("max_parallel_workers must be between %d and %d, got %d", MinConcurrency, MaxConcurrency, o.Concurrency), nil)
	}
	if o.MaxFragmentBytes <= 0 {
		return ValidationError("max_fragment_bytes must be positive", nil)
	}
	if o.Retry.MaxAttempts < 1 {
		return ValidationError("retry max_attempts must be at least 1", nil)
	}
	if o.Retry.BaseDelay < 0 || o.Retry.MaxDelay < o.Retry.BaseDelay {
		return ValidationError("retry delays must satisfy 0 <= base_delay <= max_delay", nil)
	}
	if o.Retry.ShapeRetries < 0 {
		return ValidationError("retry shape_retries must not be negative", nil)
	}
	return nil
}

// Overrides carries optional per-request changes to a base Options value.
type Overrides struct {
	Model            *string
	DPI              *int
	MaxTokens        *int
	Temperature      *float64
	Layout           *string
	Concurrency      *int
	ExtractVariables *bool
}

// With applies the non-nil overrides to a copy of o and validates the result.
func (o Options) With(ov Overrides) (Options, error) {
	if ov.Model != nil && strings.TrimSpace(*ov.Model) != "" {
		o.Model = strings.TrimSpace(*ov.Model)
	}
	if ov.DPI != nil {
		o.DPI = *ov.DPI
	}
	if ov.MaxTokens != nil {
		o.MaxTokens = *ov.MaxTokens
	}
	if ov.Temperature != nil {
		o.Temperature = *ov.Temperature
	}
	if ov.Layout != nil {
		mode, err := ParseLayoutMode(*ov.Layout)
		if err != nil {
			return Options{}, err
		}
		o.Layout = mode
	}
	if ov.Concurrency != nil {
		o.Concurrency = *ov.Concurrency
	}
	if ov.ExtractVariables != nil {
		o.ExtractVariables = *ov.ExtractVariables
	}
	if err := o.Validate(); err != nil {
		return Options{}, err
	}
	return o, nil
}

// ConversionJob threads a single end-to-end request through the pipeline.
// It lives exactly as long as the request and is never persisted.
type ConversionJob struct {
	ID      string
	Source  []byte // already-fetched PDF bytes
	Options Options
}

// PageImage represents a single rasterized PDF page.
type PageImage struct {
	Index    int // zero-based position in the source document
	Data     []byte
	MIMEType string
	Width    int
	Height   int
}

// PageNumber returns the one-based page number.
func (p PageImage) PageNumber() int {
	return p.Index + 1
}

// PageTask is one page's unit of work. It is never mutated after creation.
type PageTask struct {
	Index int
	Image PageImage
}

// NewPageTasks builds one task per image, keyed by the image index.
func NewPageTasks(images []PageImage) []PageTask {
	tasks := make([]PageTask, len(images))
	for i, img := range images {
		tasks[i] = PageTask{Index: img.Index, Image: img}
	}
	return tasks
}

// PageState is the terminal state of a page.
type PageState string

const (
	PageSucceeded PageState = "succeeded"
	PageFailed    PageState = "failed"
)

// PageOutcome is the result of processing one PageTask. Exactly one of
// Fragment and Err is populated, according to State.
type PageOutcome struct {
	Index    int           `json:"index"`
	State    PageState     `json:"state"`
	Fragment string        `json:"fragment,omitempty"`
	Err      *DomainError  `json:"error,omitempty"`
	Attempts int           `json:"attempts"`
	Cached   bool          `json:"cached,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SucceededOutcome builds a succeeded outcome.
func SucceededOutcome(index int, fragment string, attempts int) PageOutcome {
	return PageOutcome{Index: index, State: PageSucceeded, Fragment: fragment, Attempts: attempts}
}

// FailedOutcome builds a failed outcome.
func FailedOutcome(index int, err *DomainError, attempts int) PageOutcome {
	if err == nil {
		err = ConversionError("page failed without a recorded error", nil)
	}
	return PageOutcome{Index: index, State: PageFailed, Err: err, Attempts: attempts}
}

// Succeeded reports whether the page produced a fragment.
func (o PageOutcome) Succeeded() bool {
	return o.State == PageSucceeded
}

// PageFailure summarizes one failed page of a MergedDocument.
type PageFailure struct {
	Page     int       `json:"page"`
	Kind     ErrorType `json:"kind"`
	Message  string    `json:"message"`
	Attempts int       `json:"attempts"`
}

// MergedDocument is the final artifact of a conversion job.
type MergedDocument struct {
	PageCount      int           `json:"page_count"`
	SucceededCount int           `json:"succeeded_count"`
	FailedCount    int           `json:"failed_count"`
	HTML           string        `json:"html"`
	Failures       []PageFailure `json:"failures,omitempty"`
}

// AllFailed reports whether every attempted page failed.
func (d MergedDocument) AllFailed() bool {
	return d.PageCount > 0 && d.FailedCount == d.PageCount
}

// EventType represents the type of stream event
type EventType string

const (
	EventStart        EventType = "start"
	EventRasterized   EventType = "rasterized"
	EventPageComplete EventType = "page_complete"
	EventPageFailed   EventType = "page_failed"
	EventError        EventType = "error"
	EventComplete     EventType = "complete"
)

// StreamEvent represents an event emitted during processing
type StreamEvent struct {
	Type       EventType   `json:"type"`
	PageNumber int         `json:"page_number,omitempty"`
	Payload    interface{} `json:"payload,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}
