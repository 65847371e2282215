package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spherical/pdf2html/internal/domain"
)

func testOptions() domain.Options {
	return domain.Options{
		Model:            "gpt-4o-mini",
		DPI:              200,
		MaxTokens:        4000,
		Temperature:      0,
		Layout:           domain.LayoutGrid,
		Concurrency:      3,
		MaxFragmentBytes: 64 * 1024,
		Retry: domain.RetryPolicy{
			MaxAttempts:  3,
			BaseDelay:    time.Second,
			MaxDelay:     10 * time.Second,
			ShapeRetries: 2,
		},
	}
}

func testImage(index int) domain.PageImage {
	return domain.PageImage{Index: index, Data: []byte{0x89, 'P', 'N', 'G', byte(index)}, MIMEType: "image/png", Width: 10, Height: 10}
}

func TestNewClient(t *testing.T) {
	client := NewClient(ClientConfig{APIKey: "sk-test"}, nil)

	if client.endpoint != defaultEndpoint {
		t.Errorf("Expected default endpoint %s, got %s", defaultEndpoint, client.endpoint)
	}
	if client.httpClient == nil {
		t.Error("Expected an HTTP client")
	}
	if client.logger == nil {
		t.Error("Expected a logger")
	}
}

func TestBuildPageRequest(t *testing.T) {
	opts := testOptions()
	opts.Layout = domain.LayoutColumns
	opts.Temperature = 0.3

	req := BuildPageRequest(testImage(1), opts)

	if req.Model != "gpt-4o-mini" || req.MaxTokens != 4000 || req.Temperature != 0.3 {
		t.Errorf("unexpected request parameters: %+v", req)
	}
	if len(req.Messages) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(req.Messages))
	}
	if req.Messages[0].Role != "system" || req.Messages[0].Content[0].Text != SystemInstruction {
		t.Error("first message should carry the system instruction")
	}

	user := req.Messages[1]
	if user.Role != "user" || len(user.Content) != 2 {
		t.Fatalf("unexpected user message: %+v", user)
	}
	if !strings.Contains(user.Content[0].Text, "page 2") || !strings.Contains(user.Content[0].Text, "columns") {
		t.Errorf("user prompt missing page number or layout hint: %q", user.Content[0].Text)
	}
	if user.Content[1].ImageURL == nil || !strings.HasPrefix(user.Content[1].ImageURL.URL, "data:image/png;base64,") {
		t.Error("image should be sent as a base64 data URI")
	}

	// temperature 0 must still be serialized
	body, err := json.Marshal(BuildPageRequest(testImage(0), testOptions()))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `"temperature":0`) {
		t.Errorf("temperature missing from body: %s", body)
	}
}

func TestSystemInstruction(t *testing.T) {
	requiredTerms := []string{`<section class="page">`, "<html>", "<head>", "<body>", "code fences"}

	for _, term := range requiredTerms {
		if !strings.Contains(SystemInstruction, term) {
			t.Errorf("System instruction missing required term: %s", term)
		}
	}
}

func TestClient_Complete(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","choices":[{"message":{"role":"assistant","content":"<section class=\"page\"><p>hi</p></section>"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{Endpoint: srv.URL, APIKey: "sk-test"}, nil)
	completion, err := client.Complete(context.Background(), BuildPageRequest(testImage(0), testOptions()))
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if completion.Content != `<section class="page"><p>hi</p></section>` || completion.FinishReason != "stop" {
		t.Errorf("unexpected completion: %+v", completion)
	}
	if got.Stream {
		t.Error("stream should be off unless configured")
	}
}

func TestClient_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   domain.ErrorType
	}{
		{http.StatusTooManyRequests, domain.ErrorTypeRateLimit},
		{http.StatusInternalServerError, domain.ErrorTypeServer},
		{http.StatusBadGateway, domain.ErrorTypeServer},
		{http.StatusServiceUnavailable, domain.ErrorTypeServer},
		{http.StatusRequestTimeout, domain.ErrorTypeTransport},
		{http.StatusBadRequest, domain.ErrorTypeValidation},
		{http.StatusUnauthorized, domain.ErrorTypeValidation},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"error":{"message":"nope"}}`, tt.status)
			}))
			defer srv.Close()

			client := NewClient(ClientConfig{Endpoint: srv.URL}, nil)
			_, err := client.Complete(context.Background(), BuildPageRequest(testImage(0), testOptions()))
			if got := domain.KindOf(err); got != tt.want {
				t.Errorf("status %d classified as %s, want %s", tt.status, got, tt.want)
			}
			if !strings.Contains(err.Error(), fmt.Sprintf("status %d", tt.status)) {
				t.Errorf("error should mention the status: %v", err)
			}
		})
	}
}

func TestClient_MalformedBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
		want domain.ErrorType
	}{
		{"not json", "<html>", domain.ErrorTypeResponseShape},
		{"no choices", `{"choices":[]}`, domain.ErrorTypeResponseShape},
		{"embedded error", `{"error":{"message":"overloaded"}}`, domain.ErrorTypeServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			client := NewClient(ClientConfig{Endpoint: srv.URL}, nil)
			_, err := client.Complete(context.Background(), BuildPageRequest(testImage(0), testOptions()))
			if got := domain.KindOf(err); got != tt.want {
				t.Errorf("got %s, want %s (%v)", got, tt.want, err)
			}
		})
	}
}

func TestClient_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("expected stream=true")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"<section class=\\\"page\\\">\"}}]}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"<p>x</p></section>\"},\"finish_reason\":\"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{Endpoint: srv.URL, Stream: true}, nil)
	completion, err := client.Complete(context.Background(), BuildPageRequest(testImage(0), testOptions()))
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if completion.Content != `<section class="page"><p>x</p></section>` {
		t.Errorf("unexpected content: %q", completion.Content)
	}
	if completion.FinishReason != "stop" {
		t.Errorf("unexpected finish reason: %q", completion.FinishReason)
	}
}

func TestClient_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(ClientConfig{Endpoint: srv.URL}, nil)
	_, err := client.Complete(ctx, BuildPageRequest(testImage(0), testOptions()))
	if !domain.IsCancelled(err) {
		t.Errorf("expected cancelled error, got %v", err)
	}
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	client := NewClient(ClientConfig{Endpoint: endpoint}, nil)
	_, err := client.Complete(context.Background(), BuildPageRequest(testImage(0), testOptions()))
	if domain.KindOf(err) != domain.ErrorTypeTransport {
		t.Errorf("expected transport error, got %v", err)
	}
}
