package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"habitat-backend/internal/llm"
	"habitat-backend/internal/shared/telemetry"
)

const (
	providerName     = "openai"
	defaultBaseURL   = "https://api.openai.com/v1"
	defaultMaxBody   = 1 << 20
	responseSchemaID = "habitat_analysis"
)

// Options configures a Client.
type Options struct {
	Model            string
	BaseURL          string
	TokenSource      oauth2.TokenSource
	MaxResponseBytes int64
	// HTTPClient overrides the transport; the token source is still applied.
	HTTPClient *http.Client
}

// Client implements llm.Client using OpenAI Chat Completions with image inputs.
type Client struct {
	model      string
	endpoint   string
	maxBody    int64
	httpClient *http.Client
}

// NewClient constructs a new OpenAI client.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return nil, fmt.Errorf("LLM_MODEL is required for OpenAI")
	}
	if opts.TokenSource == nil {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	maxBody := opts.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}

	ctx := context.Background()
	if opts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, opts.HTTPClient)
	}
	// No client-level timeout: the caller's context carries the deadline.
	return &Client{
		model:      opts.Model,
		endpoint:   base + "/chat/completions",
		maxBody:    maxBody,
		httpClient: oauth2.NewClient(ctx, opts.TokenSource),
	}, nil
}

// StaticKey wraps an API key as a token source.
func StaticKey(apiKey string) oauth2.TokenSource {
	if strings.TrimSpace(apiKey) == "" {
		return nil
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: strings.TrimSpace(apiKey), TokenType: "Bearer"})
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    *float32        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Analyze sends one chat completion and returns the raw JSON content.
func (c *Client) Analyze(ctx context.Context, req llm.Request) (llm.Response, error) {
	info := llm.Info{Provider: providerName, Model: c.model}
	messages := BuildMessages(req)
	info.PromptHash = hashPromptString(promptStringFromMessages(messages))

	temp := float32(0)
	reqBody := chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: &temp,
	}
	if isGPT5(c.model) {
		reqBody.Temperature = nil
	}
	if len(req.ResponseSchema) > 0 {
		reqBody.ResponseFormat = &responseFormat{
			Type:       "json_schema",
			JSONSchema: &jsonSchema{Name: responseSchemaID, Schema: req.ResponseSchema},
		}
	} else {
		reqBody.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return llm.Response{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return llm.Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return llm.Response{}, fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return llm.Response{Info: info}, fmt.Errorf("openai read body: %w", err)
	}
	if int64(len(body)) > c.maxBody {
		return llm.Response{Info: info}, fmt.Errorf("%w: response exceeds %d bytes", llm.ErrMalformedResponse, c.maxBody)
	}
	if resp.StatusCode >= 400 {
		return llm.Response{Info: info}, &llm.StatusError{Provider: providerName, StatusCode: resp.StatusCode, Body: errorBody(body)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return llm.Response{Info: info}, fmt.Errorf("%w: openai response parse: %w", llm.ErrMalformedResponse, err)
	}
	if parsed.Error != nil {
		return llm.Response{Info: info}, fmt.Errorf("%w: openai error: %s (%s)", llm.ErrUpstreamRejected, parsed.Error.Message, parsed.Error.Type)
	}
	if parsed.Model != "" {
		info.Model = parsed.Model
	}
	if parsed.Usage != nil {
		info.PromptTokens = parsed.Usage.PromptTokens
		info.CompletionTokens = parsed.Usage.CompletionTokens
		info.TotalTokens = parsed.Usage.TotalTokens
	}
	if len(parsed.Choices) == 0 {
		return llm.Response{Info: info}, fmt.Errorf("%w: openai response missing choices", llm.ErrMalformedResponse)
	}
	info.FinishReason = parsed.Choices[0].FinishReason

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return llm.Response{Info: info}, fmt.Errorf("%w: openai response empty content", llm.ErrMalformedResponse)
	}
	logUsage(info)
	return llm.Response{Raw: json.RawMessage(content), Info: info}, nil
}

func errorBody(body []byte) string {
	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(body))
}

func logUsage(info llm.Info) {
	telemetry.Info("llm.response", map[string]any{
		"provider":          info.Provider,
		"model":             info.Model,
		"prompt_tokens":     info.PromptTokens,
		"completion_tokens": info.CompletionTokens,
		"total_tokens":      info.TotalTokens,
		"finish_reason":     info.FinishReason,
	})
}

func isGPT5(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "gpt-5")
}

var _ llm.Client = (*Client)(nil)
