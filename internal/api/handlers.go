package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/spherical/pdf2html/internal/convert"
	"github.com/spherical/pdf2html/internal/domain"
	"github.com/spherical/pdf2html/internal/observability"
)

// StatusClientClosedRequest is reported when the caller went away mid-job.
const StatusClientClosedRequest = 499

const maxRequestBody = 1 << 20

// Converter runs conversion jobs for the API.
type Converter interface {
	ConvertURL(ctx context.Context, rawURL string, opts domain.Options, eventCh chan<- domain.StreamEvent) (*convert.Result, error)
	Defaults() domain.Options
}

// Handler serves the conversion endpoints.
type Handler struct {
	logger *observability.Logger
	conv   Converter
}

// NewHandler creates a new conversion handler.
func NewHandler(logger *observability.Logger, conv Converter) *Handler {
	return &Handler{
		logger: logger.WithOperation("api"),
		conv:   conv,
	}
}

// ConvertRequest is the body of POST /convert and POST /convert/html.
type ConvertRequest struct {
	PDFURL             string   `json:"pdf_url"`
	Model              *string  `json:"model,omitempty"`
	DPI                *int     `json:"dpi,omitempty"`
	MaxTokens          *int     `json:"max_tokens,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
	CSSMode            *string  `json:"css_mode,omitempty"`
	MaxParallelWorkers *int     `json:"max_parallel_workers,omitempty"`
	ExtractVariables   *bool    `json:"extract_variables,omitempty"`
}

// ConvertResponse is the JSON result of POST /convert.
type ConvertResponse struct {
	RequestID      string               `json:"request_id"`
	HTML           string               `json:"html"`
	PagesProcessed int                  `json:"pages_processed"`
	PagesSucceeded int                  `json:"pages_succeeded"`
	PagesFailed    int                  `json:"pages_failed"`
	Failures       []domain.PageFailure `json:"failures"`
	ModelUsed      string               `json:"model_used"`
	CSSMode        string               `json:"css_mode"`
	SampleJSON     map[string]any       `json:"sample_json,omitempty"`
}

// Convert handles POST /convert.
func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
	res, ok := h.run(w, r)
	if !ok {
		return
	}

	failures := res.Document.Failures
	if failures == nil {
		failures = []domain.PageFailure{}
	}

	writeJSON(w, http.StatusOK, ConvertResponse{
		RequestID:      res.RequestID,
		HTML:           res.Document.HTML,
		PagesProcessed: res.Document.PageCount,
		PagesSucceeded: res.Document.SucceededCount,
		PagesFailed:    res.Document.FailedCount,
		Failures:       failures,
		ModelUsed:      res.Model,
		CSSMode:        string(res.Layout),
		SampleJSON:     res.SampleJSON,
	})
}

// ConvertHTML handles POST /convert/html.
func (h *Handler) ConvertHTML(w http.ResponseWriter, r *http.Request) {
	res, ok := h.run(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Request-ID", res.RequestID)
	w.Header().Set("X-Pages-Processed", strconv.Itoa(res.Document.PageCount))
	w.Header().Set("X-Pages-Failed", strconv.Itoa(res.Document.FailedCount))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(res.Document.HTML))
}

// run decodes the request and executes the job, writing the error response
// itself when the job cannot produce a document.
func (h *Handler) run(w http.ResponseWriter, r *http.Request) (*convert.Result, bool) {
	ctx := r.Context()
	log := h.logger.WithContext(ctx)

	var req ConvertRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return nil, false
	}

	req.PDFURL = strings.TrimSpace(req.PDFURL)
	if req.PDFURL == "" {
		writeError(w, http.StatusBadRequest, "pdf_url is required", "")
		return nil, false
	}

	opts, err := h.conv.Defaults().With(domain.Overrides{
		Model:            req.Model,
		DPI:              req.DPI,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		Layout:           req.CSSMode,
		Concurrency:      req.MaxParallelWorkers,
		ExtractVariables: req.ExtractVariables,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid options", err.Error())
		return nil, false
	}

	log.Info().
		Str("pdf_url", req.PDFURL).
		Str("model", opts.Model).
		Str("css_mode", string(opts.Layout)).
		Msg("Conversion requested")

	res, err := h.conv.ConvertURL(ctx, req.PDFURL, opts, nil)
	if err != nil {
		status := statusFor(ctx, err)
		if status == StatusClientClosedRequest {
			log.Warn().Msg("Client closed request before conversion finished")
		}
		de := domain.AsDomainError(err, domain.ErrorTypeConversion)
		detail := ""
		if de.Err != nil {
			detail = de.Err.Error()
		}
		writeError(w, status, de.Message, detail)
		return nil, false
	}

	return res, true
}

// statusFor maps a job error onto an HTTP status.
func statusFor(reqCtx context.Context, err error) int {
	switch domain.KindOf(err) {
	case domain.ErrorTypeValidation:
		return http.StatusBadRequest
	case domain.ErrorTypeCancelled:
		if reqCtx.Err() != nil && !errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return StatusClientClosedRequest
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return StatusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	resp := map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	}
	if status == StatusClientClosedRequest {
		resp["error"] = "Client Closed Request"
	}
	if detail != "" {
		resp["detail"] = detail
	}
	writeJSON(w, status, resp)
}
