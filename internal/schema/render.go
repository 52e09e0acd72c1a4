package schema

import (
	"fmt"
	"strconv"
	"strings"

	"habitat-backend/internal/llm"
	"habitat-backend/internal/shared/util"
)

// MaxImages is the number of image blocks forwarded per request.
const MaxImages = 5

// Render builds the provider-neutral request for one job. Images beyond
// MaxImages are dropped and flagged. Image URLs equal their references until
// linked.
func Render(s *ClassificationSchema, images []string, comment string) llm.Request {
	kept := images
	dropped := 0
	if len(kept) > MaxImages {
		dropped = len(kept) - MaxImages
		kept = kept[:MaxImages]
	}
	blocks := make([]llm.ImageBlock, 0, len(kept))
	for _, ref := range kept {
		blocks = append(blocks, llm.ImageBlock{Ref: ref, URL: ref})
	}

	system := strings.NewReplacer(
		"{{SCHEMA_VERSION}}", s.Version,
		"{{PROMPT_VERSION}}", s.Prompt.Version,
	).Replace(s.Prompt.System)
	instructions := strings.NewReplacer(
		"{{IMAGE_COUNT}}", strconv.Itoa(len(blocks)),
		"{{FIELDS}}", DescribeFields(s),
		"{{SCHEMA_VERSION}}", s.Version,
	).Replace(s.Prompt.Instructions)

	return llm.Request{
		SystemPrompt:    strings.TrimSpace(system),
		Instructions:    strings.TrimSpace(instructions),
		Comment:         util.SanitizeComment(comment),
		Images:          blocks,
		ImagesTruncated: dropped > 0,
		DroppedImages:   dropped,
		ResponseSchema:  s.ResponseSchema(),
		SchemaVersion:   s.Version,
	}
}

// DescribeFields renders one line per field, in schema order, followed by
// the confidence and rationale keys.
func DescribeFields(s *ClassificationSchema) string {
	var b strings.Builder
	for _, f := range s.Fields {
		b.WriteString("- ")
		b.WriteString(f.Name)
		b.WriteString(" (")
		if f.Required {
			b.WriteString("required")
		} else {
			b.WriteString("optional")
		}
		switch f.Kind {
		case KindEnum:
			fmt.Fprintf(&b, ", one of: %s", strings.Join(f.Values, ", "))
		case KindList:
			if len(f.Values) > 0 {
				fmt.Fprintf(&b, ", list of: %s", strings.Join(f.Values, ", "))
			} else {
				b.WriteString(", list of strings")
			}
		default:
			b.WriteString(", free text")
		}
		b.WriteString(")")
		if f.Description != "" {
			b.WriteString(": ")
			b.WriteString(f.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString("- confidence (required, number between 0 and 1)\n")
	b.WriteString("- rationale (optional, free text)")
	return b.String()
}
