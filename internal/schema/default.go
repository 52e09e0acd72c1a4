package schema

import "habitat-backend/internal/llm"

// DefaultHabitatTypes is the built-in habitat type domain used without a taxonomy store.
var DefaultHabitatTypes = []string{
	"Feuchtwiese",
	"Fettwiese",
	"Magerrasen",
	"Trockenrasen",
	"Streuobstwiese",
	"Hochmoor",
	"Niedermoor",
	"Röhricht",
	"Buchenwald",
	"Auwald",
	"Nadelforst",
	"Heide",
	"Stillgewässer",
	"Fließgewässer",
	"Acker",
	"Siedlung",
}

// DefaultHabitatGroups is the built-in habitat group domain.
var DefaultHabitatGroups = []string{
	"Grünland",
	"Moore",
	"Wälder",
	"Heiden",
	"Gewässer",
	"Agrar- und Siedlungsflächen",
}

// DefaultFields returns the built-in field definitions.
func DefaultFields() []Field {
	return []Field{
		{
			Name:        "habitatType",
			Description: "The habitat type that best matches the photographs.",
			Kind:        KindEnum,
			Values:      append([]string(nil), DefaultHabitatTypes...),
			Required:    true,
			Weight:      1,
		},
		{
			Name:        "habitatGroup",
			Description: "The broader habitat group of the chosen habitat type.",
			Kind:        KindEnum,
			Values:      append([]string(nil), DefaultHabitatGroups...),
			Required:    false,
			Weight:      0.5,
		},
		{
			Name:        "indicatorSpecies",
			Description: "Plant or animal species visible in the photographs that indicate the habitat.",
			Kind:        KindList,
			Required:    true,
			Weight:      0.8,
		},
		{
			Name:        "plausibilityNotes",
			Description: "Observations that support or contradict the classification, including the surveyor's comment.",
			Kind:        KindText,
			Required:    false,
			Weight:      0.3,
		},
	}
}

// DefaultPrompt returns the embedded prompt templates.
func DefaultPrompt() Prompt {
	system, instructions, _ := llm.PromptTemplate(llm.DefaultPromptVersion)
	return Prompt{Version: llm.DefaultPromptVersion, System: system, Instructions: instructions}
}

// Default returns the built-in habitat schema.
func Default() *ClassificationSchema {
	s, err := New(DefaultFields(), DefaultPrompt())
	if err != nil {
		panic(err)
	}
	return s
}
