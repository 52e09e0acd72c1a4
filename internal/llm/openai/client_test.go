package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"habitat-backend/internal/llm"
)

func testRequest() llm.Request {
	return llm.Request{
		SystemPrompt: "system",
		Instructions: "classify",
		Comment:      "wet meadow",
		Images: []llm.ImageBlock{
			{Ref: "a.jpg", URL: "https://img.example/a.jpg"},
			{Ref: "b.jpg", URL: "https://img.example/b.jpg"},
		},
		ResponseSchema: map[string]any{"type": "object"},
	}
}

func newTestClient(t *testing.T, url string, maxBody int64) *Client {
	t.Helper()
	client, err := NewClient(Options{
		Model:            "gpt-4o-mini",
		BaseURL:          url,
		TokenSource:      StaticKey("test-key"),
		MaxResponseBytes: maxBody,
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestIsGPT5(t *testing.T) {
	tests := []struct {
		name  string
		model string
		want  bool
	}{
		{name: "gpt5", model: "gpt-5", want: true},
		{name: "gpt5 variant", model: "gpt-5-mini", want: true},
		{name: "gpt5 uppercase", model: " GPT-5o ", want: true},
		{name: "gpt4", model: "gpt-4o", want: false},
		{name: "empty", model: "", want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := isGPT5(tt.model); got != tt.want {
				t.Fatalf("isGPT5(%q) = %v, want %v", tt.model, got, tt.want)
			}
		})
	}
}

func TestNewClientRequiresKeyAndModel(t *testing.T) {
	if _, err := NewClient(Options{Model: "gpt-4o", TokenSource: StaticKey("")}); err == nil {
		t.Fatalf("expected error for missing key")
	}
	if _, err := NewClient(Options{TokenSource: StaticKey("k")}); err == nil {
		t.Fatalf("expected error for missing model")
	}
}

func TestAnalyzeSendsImagesAndSchema(t *testing.T) {
	var mu sync.Mutex
	var lastBody map[string]any
	var auth string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		mu.Lock()
		lastBody = payload
		auth = r.Header.Get("Authorization")
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-4o-mini-2024","choices":[{"message":{"content":"{\"habitatType\":\"Feuchtwiese\"}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 0)
	resp, err := client.Analyze(context.Background(), testRequest())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if string(resp.Raw) != `{"habitatType":"Feuchtwiese"}` {
		t.Fatalf("unexpected raw: %s", resp.Raw)
	}
	if resp.Info.TotalTokens != 15 || resp.Info.Model != "gpt-4o-mini-2024" || resp.Info.FinishReason != "stop" {
		t.Fatalf("unexpected info: %+v", resp.Info)
	}

	mu.Lock()
	defer mu.Unlock()
	if auth != "Bearer test-key" {
		t.Fatalf("unexpected authorization header %q", auth)
	}
	format, _ := lastBody["response_format"].(map[string]any)
	if format["type"] != "json_schema" {
		t.Fatalf("expected json_schema response format, got %v", format)
	}
	messages, _ := lastBody["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	user, _ := messages[1].(map[string]any)
	parts, _ := user["content"].([]any)
	if len(parts) != 3 {
		t.Fatalf("expected text plus 2 image parts, got %d", len(parts))
	}
	second, _ := parts[2].(map[string]any)
	img, _ := second["image_url"].(map[string]any)
	if img["url"] != "https://img.example/b.jpg" {
		t.Fatalf("expected images in submission order, got %v", img)
	}
}

func TestAnalyzeMapsStatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{name: "bad request", status: http.StatusBadRequest, want: llm.ErrUpstreamRejected},
		{name: "server error", status: http.StatusBadGateway, want: llm.ErrUpstreamUnavailable},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error"}}`))
			}))
			defer server.Close()

			_, err := newTestClient(t, server.URL, 0).Analyze(context.Background(), testRequest())
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			var statusErr *llm.StatusError
			if !errors.As(err, &statusErr) || statusErr.Body != "nope" {
				t.Fatalf("expected status error with body, got %v", err)
			}
		})
	}
}

func TestAnalyzeRejectsOversizedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"` + strings.Repeat("x", 256) + `"}}]}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, 64).Analyze(context.Background(), testRequest())
	if !errors.Is(err, llm.ErrMalformedResponse) {
		t.Fatalf("expected malformed response error, got %v", err)
	}
}

func TestAnalyzeEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"  "}}]}`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server.URL, 0).Analyze(context.Background(), testRequest())
	if !errors.Is(err, llm.ErrMalformedResponse) {
		t.Fatalf("expected malformed response error, got %v", err)
	}
}
