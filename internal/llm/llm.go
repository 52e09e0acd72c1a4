package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// Client abstracts vision-capable LLM providers for habitat analysis.
// Implementations return the Info they observed alongside an error whenever
// the upstream endpoint answered, so callers can keep diagnostics.
type Client interface {
	Analyze(ctx context.Context, req Request) (Response, error)
}

// ImageBlock is one photograph attached to a request.
type ImageBlock struct {
	Ref string `json:"ref"`
	URL string `json:"url"`
}

// Request is the rendered, provider-neutral analysis request.
type Request struct {
	SystemPrompt    string
	Instructions    string
	Comment         string
	Images          []ImageBlock
	ImagesTruncated bool
	DroppedImages   int
	ResponseSchema  map[string]any
	SchemaVersion   string
}

// UserText joins the field instructions and the user comment.
func (r Request) UserText() string {
	var b strings.Builder
	b.WriteString(r.Instructions)
	b.WriteString("\n\nField notes from the surveyor:\n")
	if strings.TrimSpace(r.Comment) == "" {
		b.WriteString("N/A")
	} else {
		b.WriteString(r.Comment)
	}
	return b.String()
}

// Size approximates the outbound payload size in bytes.
func (r Request) Size() int {
	n := len(r.SystemPrompt) + len(r.Instructions) + len(r.Comment)
	for _, img := range r.Images {
		n += len(img.URL)
	}
	if r.ResponseSchema != nil {
		if b, err := json.Marshal(r.ResponseSchema); err == nil {
			n += len(b)
		}
	}
	return n
}

// Hash fingerprints the prompt text and image references.
func (r Request) Hash() string {
	h := sha256.New()
	h.Write([]byte(r.SystemPrompt))
	h.Write([]byte{0})
	h.Write([]byte(r.UserText()))
	for _, img := range r.Images {
		h.Write([]byte{0})
		h.Write([]byte(img.Ref))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Info carries diagnostics about a single upstream call.
type Info struct {
	Provider         string `json:"provider"`
	Model            string `json:"model"`
	LatencyMs        int64  `json:"latencyMs"`
	Attempts         int    `json:"attempts"`
	PromptTokens     int    `json:"promptTokens,omitempty"`
	CompletionTokens int    `json:"completionTokens,omitempty"`
	TotalTokens      int    `json:"totalTokens,omitempty"`
	FinishReason     string `json:"finishReason,omitempty"`
	PromptHash       string `json:"promptHash,omitempty"`
	ImagesSent       int    `json:"imagesSent"`
	ImagesTruncated  bool   `json:"imagesTruncated,omitempty"`
}

// Responded reports whether the upstream endpoint answered the call.
func (i Info) Responded() bool {
	return i.Model != "" || i.Provider != ""
}

// Response is the raw, unvalidated model output plus diagnostics.
type Response struct {
	Raw  json.RawMessage
	Info Info
}

// PlaceholderClient is used when no provider is configured.
type PlaceholderClient struct{}

// Analyze returns ErrNotConfigured.
func (PlaceholderClient) Analyze(ctx context.Context, req Request) (Response, error) {
	_ = ctx
	_ = req
	return Response{}, ErrNotConfigured
}
