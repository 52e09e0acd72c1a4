package openai

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"habitat-backend/internal/llm"
)

// Message represents an OpenAI chat message with multi-part content.
type Message struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is a text or image_url content part.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// BuildMessages creates the chat messages for a habitat analysis request.
// Images follow the text part in submission order.
func BuildMessages(req llm.Request) []Message {
	user := make([]ContentPart, 0, len(req.Images)+1)
	user = append(user, ContentPart{Type: "text", Text: req.UserText()})
	for _, img := range req.Images {
		user = append(user, ContentPart{
			Type:     "image_url",
			ImageURL: &imageURL{URL: img.URL, Detail: "auto"},
		})
	}
	return []Message{
		{Role: "system", Content: []ContentPart{{Type: "text", Text: req.SystemPrompt}}},
		{Role: "user", Content: user},
	}
}

func promptStringFromMessages(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		for _, part := range m.Content {
			switch part.Type {
			case "text":
				b.WriteString(part.Text)
			case "image_url":
				b.WriteString("[image]")
			}
		}
	}
	return b.String()
}

func hashPromptString(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}
