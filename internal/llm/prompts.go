package llm

import (
	_ "embed"
	"strings"
)

var (
	//go:embed prompts/system_v1.txt
	systemPromptV1 string
	//go:embed prompts/instructions_v1.txt
	instructionsV1 string
)

// DefaultPromptVersion is used when no template store is configured.
const DefaultPromptVersion = "v1"

// PromptTemplate returns the system and instruction templates and whether the version was recognized.
func PromptTemplate(version string) (system, instructions string, ok bool) {
	switch strings.TrimSpace(version) {
	case "v1", "":
		return systemPromptV1, instructionsV1, true
	default:
		return systemPromptV1, instructionsV1, false
	}
}
