// Package llm talks to a vision-capable chat-completions service and turns
// one page image into a validated HTML fragment.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spherical/pdf2html/internal/domain"
	"github.com/spherical/pdf2html/internal/observability"
)

const (
	defaultEndpoint = "https://api.openai.com/v1/chat/completions"
	maxErrorBody    = 2048
)

// Completer performs a single chat-completion call. It does not retry.
type Completer interface {
	Complete(ctx context.Context, req *Request) (*Completion, error)
}

// Completion is the text payload of one successful call.
type Completion struct {
	Content      string
	FinishReason string
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Endpoint       string
	APIKey         string
	RequestTimeout time.Duration
	Stream         bool
	HTTPClient     *http.Client
}

// Client handles communication with an OpenAI-compatible chat-completions API
type Client struct {
	endpoint   string
	apiKey     string
	stream     bool
	httpClient *http.Client
	logger     *observability.Logger
}

// Message represents a chat message
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart represents a part of message content (text or image)
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL represents an image URL in the message
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// Request represents the API request structure
type Request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature"`
	Stream      bool      `json:"stream"`
}

// Response represents the API response structure
type Response struct {
	ID      string         `json:"id"`
	Choices []Choice       `json:"choices"`
	Error   *ResponseError `json:"error,omitempty"`
}

// ResponseError is the error object some providers embed in a 200 body.
type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Choice represents a single completion choice
type Choice struct {
	Delta        Delta  `json:"delta"`
	Message      Delta  `json:"message"`
	FinishReason string `json:"finish_reason"`
}

// Delta represents a message delta in streaming response
type Delta struct {
	Content string `json:"content"`
	Role    string `json:"role"`
}

// NewClient creates a new LLM client
func NewClient(cfg ClientConfig, logger *observability.Logger) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	if logger == nil {
		logger = observability.Nop()
	}

	return &Client{
		endpoint:   endpoint,
		apiKey:     cfg.APIKey,
		stream:     cfg.Stream,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Complete sends one request and classifies any failure into a DomainError.
func (c *Client) Complete(ctx context.Context, req *Request) (*Completion, error) {
	call := *req
	call.Stream = c.stream

	body, err := json.Marshal(call)
	if err != nil {
		return nil, domain.ValidationError("failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, domain.ValidationError("failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.CancelledError("model call cancelled", ctx.Err())
		}
		return nil, domain.TransportError("model request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, classifyStatus(resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if c.stream {
		return c.parseStream(ctx, resp.Body)
	}

	var parsed Response
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		if ctx.Err() != nil {
			return nil, domain.CancelledError("model call cancelled", ctx.Err())
		}
		return nil, domain.ResponseShapeError("failed to decode model response", err)
	}
	if parsed.Error != nil {
		return nil, domain.ServerError(fmt.Sprintf("model service error: %s", parsed.Error.Message), nil)
	}
	if len(parsed.Choices) == 0 {
		return nil, domain.ResponseShapeError("model response has no choices", nil)
	}

	choice := parsed.Choices[0]
	return &Completion{Content: choice.Message.Content, FinishReason: choice.FinishReason}, nil
}

// parseStream collects a Server-Sent Events response into one completion
func (c *Client) parseStream(ctx context.Context, body io.Reader) (*Completion, error) {
	content, finishReason, err := NewStreamParser(body).Collect()
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.CancelledError("model call cancelled", ctx.Err())
		}
		return nil, domain.TransportError("failed to read model stream", err)
	}
	return &Completion{Content: content, FinishReason: finishReason}, nil
}

// BuildPageRequest constructs the vision request for one page image.
func BuildPageRequest(image domain.PageImage, opts domain.Options) *Request {
	mimeType := image.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	imageURL := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image.Data)

	return &Request{
		Model: opts.Model,
		Messages: []Message{
			{
				Role:    "system",
				Content: []ContentPart{{Type: "text", Text: SystemInstruction}},
			},
			{
				Role: "user",
				Content: []ContentPart{
					{Type: "text", Text: UserPrompt(opts.Layout, image.PageNumber())},
					{Type: "image_url", ImageURL: &ImageURL{URL: imageURL, Detail: "high"}},
				},
			},
		},
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
}

// BuildTextRequest constructs a text-only request.
func BuildTextRequest(model, system, user string, maxTokens int, temperature float64) *Request {
	return &Request{
		Model: model,
		Messages: []Message{
			{Role: "system", Content: []ContentPart{{Type: "text", Text: system}}},
			{Role: "user", Content: []ContentPart{{Type: "text", Text: user}}},
		},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}
