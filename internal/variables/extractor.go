// Package variables turns a converted document into a template by asking the
// model for sample values and replacing matching text with {{key}} markers.
package variables

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spherical/pdf2html/internal/domain"
	"github.com/spherical/pdf2html/internal/llm"
	"github.com/spherical/pdf2html/internal/observability"
)

const systemPrompt = `You identify the variable data in an HTML document so it can be reused as a template.

Return ONLY a flat JSON object. Each key is a short snake_case name for one piece of
document-specific data (names, dates, amounts, identifiers, addresses, totals). Each value
is the exact text as it appears in a single HTML text node, copied character for character.

Rules:
- Do not include static labels, headings or boilerplate.
- Do not nest objects or arrays.
- Do not wrap the JSON in code fences or add commentary.`

// Extractor asks the model for the sample values of a document.
type Extractor struct {
	completer   llm.Completer
	model       string
	maxTokens   int
	temperature float64
	logger      *observability.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor(completer llm.Completer, model string, maxTokens int, temperature float64, logger *observability.Logger) *Extractor {
	if logger == nil {
		logger = observability.Nop()
	}
	return &Extractor{
		completer:   completer,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

// Extract returns a flat key/value sample object for the document.
func (e *Extractor) Extract(ctx context.Context, htmlDoc string) (map[string]any, error) {
	req := llm.BuildTextRequest(e.model, systemPrompt, "HTML:\n"+htmlDoc, e.maxTokens, e.temperature)

	completion, err := e.completer.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	return ParseSampleJSON(completion.Content)
}

// ParseSampleJSON decodes a model reply into a flat object, tolerating a
// surrounding ```json fence.
func ParseSampleJSON(content string) (map[string]any, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		if nl := strings.IndexByte(content, '\n'); nl >= 0 {
			content = content[nl+1:]
		} else {
			content = strings.TrimPrefix(content, "```")
		}
		if end := strings.LastIndex(content, "```"); end >= 0 {
			content = content[:end]
		}
		content = strings.TrimSpace(content)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(content)))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, domain.ResponseShapeError("model returned invalid JSON", err)
	}

	data, ok := raw.(map[string]any)
	if !ok {
		return nil, domain.ResponseShapeError(fmt.Sprintf("sample JSON must be an object, got %T", raw), nil)
	}
	return data, nil
}
