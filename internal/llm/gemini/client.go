package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"habitat-backend/internal/llm"
	"habitat-backend/internal/shared/telemetry"
)

const (
	providerName       = "gemini"
	defaultMaxImage    = 10 << 20
	defaultMaxResponse = 1 << 20
)

// Options configures a Client. Exactly one of APIKey or TokenSource is used;
// TokenSource wins when both are set.
type Options struct {
	Model            string
	APIKey           string
	TokenSource      oauth2.TokenSource
	MaxResponseBytes int64
	MaxImageBytes    int64
	// ImageHTTPClient fetches image bytes from their content handles.
	ImageHTTPClient *http.Client
	// ClientOptions are appended to the generated client options, mostly for tests.
	ClientOptions []option.ClientOption
}

// Client implements llm.Client using the Gemini generative API.
type Client struct {
	model        string
	opts         []option.ClientOption
	maxResponse  int64
	maxImage     int64
	imageFetcher *http.Client
}

// NewClient constructs a Gemini client. The underlying genai client is
// created per call and closed afterwards.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.Model) == "" {
		return nil, fmt.Errorf("LLM_MODEL is required for Gemini")
	}
	var clientOpts []option.ClientOption
	switch {
	case opts.TokenSource != nil:
		clientOpts = append(clientOpts, option.WithTokenSource(opts.TokenSource))
	case strings.TrimSpace(opts.APIKey) != "":
		clientOpts = append(clientOpts, option.WithAPIKey(strings.TrimSpace(opts.APIKey)))
	default:
		return nil, fmt.Errorf("GEMINI_API_KEY is required")
	}
	clientOpts = append(clientOpts, opts.ClientOptions...)

	maxResponse := opts.MaxResponseBytes
	if maxResponse <= 0 {
		maxResponse = defaultMaxResponse
	}
	maxImage := opts.MaxImageBytes
	if maxImage <= 0 {
		maxImage = defaultMaxImage
	}
	fetcher := opts.ImageHTTPClient
	if fetcher == nil {
		fetcher = http.DefaultClient
	}
	return &Client{
		model:        strings.TrimSpace(opts.Model),
		opts:         clientOpts,
		maxResponse:  maxResponse,
		maxImage:     maxImage,
		imageFetcher: fetcher,
	}, nil
}

// Analyze sends the system prompt, instructions and images in one GenerateContent call.
func (c *Client) Analyze(ctx context.Context, req llm.Request) (llm.Response, error) {
	info := llm.Info{Provider: providerName, Model: c.model}

	parts := make([]genai.Part, 0, len(req.Images)+1)
	parts = append(parts, genai.Text(req.UserText()))
	for _, img := range req.Images {
		blob, err := c.fetchImage(ctx, img)
		if err != nil {
			return llm.Response{}, err
		}
		parts = append(parts, blob)
	}

	cl, err := genai.NewClient(ctx, c.opts...)
	if err != nil {
		return llm.Response{}, fmt.Errorf("gemini client: %w", err)
	}
	defer cl.Close()

	m := cl.GenerativeModel(c.model)
	if m == nil {
		return llm.Response{}, fmt.Errorf("gemini: model is nil")
	}
	temp := float32(0)
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      &temp,
		ResponseMIMEType: "application/json",
	}
	if schema := toGenaiSchema(req.ResponseSchema); schema != nil {
		m.GenerationConfig.ResponseSchema = schema
	}
	m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.SystemPrompt)}}

	resp, err := m.GenerateContent(ctx, parts...)
	return c.decode(info, resp, err)
}

// decode maps a GenerateContent outcome to a Response. Info is returned on
// every path once the call was made, including upstream errors.
func (c *Client) decode(info llm.Info, resp *genai.GenerateContentResponse, err error) (llm.Response, error) {
	if err != nil {
		return llm.Response{Info: info}, mapError(err)
	}
	if resp == nil {
		return llm.Response{Info: info}, fmt.Errorf("%w: gemini nil response", llm.ErrMalformedResponse)
	}
	if resp.UsageMetadata != nil {
		info.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		info.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		info.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	if len(resp.Candidates) > 0 {
		info.FinishReason = strings.ToLower(resp.Candidates[0].FinishReason.String())
	}

	txt := stripCodeFences(strings.TrimSpace(firstText(resp)))
	if txt == "" {
		return llm.Response{Info: info}, fmt.Errorf("%w: gemini empty response", llm.ErrMalformedResponse)
	}
	if int64(len(txt)) > c.maxResponse {
		return llm.Response{Info: info}, fmt.Errorf("%w: response exceeds %d bytes", llm.ErrMalformedResponse, c.maxResponse)
	}
	telemetry.Info("llm.response", map[string]any{
		"provider":          info.Provider,
		"model":             info.Model,
		"prompt_tokens":     info.PromptTokens,
		"completion_tokens": info.CompletionTokens,
		"total_tokens":      info.TotalTokens,
		"finish_reason":     info.FinishReason,
	})
	return llm.Response{Raw: json.RawMessage(txt), Info: info}, nil
}

func (c *Client) fetchImage(ctx context.Context, img llm.ImageBlock) (*genai.Blob, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, img.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: image %s: %w", llm.ErrUpstreamRejected, img.Ref, err)
	}
	resp, err := c.imageFetcher.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch image %s: %w", img.Ref, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: image %s returned status %d", llm.ErrUpstreamRejected, img.Ref, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxImage+1))
	if err != nil {
		return nil, fmt.Errorf("read image %s: %w", img.Ref, err)
	}
	if int64(len(data)) > c.maxImage {
		return nil, fmt.Errorf("%w: image %s exceeds %d bytes", llm.ErrUpstreamRejected, img.Ref, c.maxImage)
	}
	mime := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(data)
	}
	return &genai.Blob{MIMEType: mime, Data: data}, nil
}

// mapError converts googleapi and gRPC errors into llm.StatusError.
func mapError(err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return &llm.StatusError{Provider: providerName, StatusCode: gErr.Code, Body: gErr.Message}
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		if st.Code() == codes.DeadlineExceeded {
			return fmt.Errorf("%w: %w", llm.ErrUpstreamTimeout, err)
		}
		if code := httpStatusFromCode(st.Code()); code > 0 {
			return &llm.StatusError{Provider: providerName, StatusCode: code, Body: st.Message()}
		}
	}
	return fmt.Errorf("gemini: %w", err)
}

func httpStatusFromCode(code codes.Code) int {
	switch code {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.Internal, codes.Unknown, codes.DataLoss:
		return http.StatusInternalServerError
	}
	return 0
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		var b strings.Builder
		for _, p := range cand.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	return ""
}

func stripCodeFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var _ llm.Client = (*Client)(nil)
