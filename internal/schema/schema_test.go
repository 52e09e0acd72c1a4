package schema

import (
	"strings"
	"testing"
)

func TestNewRejectsInvalidFields(t *testing.T) {
	prompt := DefaultPrompt()
	tests := []struct {
		name   string
		fields []Field
	}{
		{name: "empty", fields: nil},
		{name: "unnamed", fields: []Field{{Kind: KindText}}},
		{name: "reserved", fields: []Field{{Name: "confidence", Kind: KindText}}},
		{name: "duplicate", fields: []Field{{Name: "a", Kind: KindText}, {Name: "a", Kind: KindText}}},
		{name: "enum without values", fields: []Field{{Name: "a", Kind: KindEnum}}},
		{name: "unknown kind", fields: []Field{{Name: "a", Kind: "number"}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.fields, prompt); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestVersionTracksContent(t *testing.T) {
	a := Default()
	b := Default()
	if a.Version != b.Version {
		t.Fatalf("expected stable version, got %s and %s", a.Version, b.Version)
	}

	fields := DefaultFields()
	fields[0].Values = append(fields[0].Values, "Salzwiese")
	c, err := New(fields, DefaultPrompt())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Version == a.Version {
		t.Fatalf("expected version to change with the value domain")
	}
}

func TestFieldAllows(t *testing.T) {
	enum := Field{Name: "t", Kind: KindEnum, Values: []string{"A", "B"}}
	if !enum.Allows("A") || enum.Allows("C") {
		t.Fatalf("unexpected enum domain check")
	}
	text := Field{Name: "n", Kind: KindText}
	if !text.Allows("anything") {
		t.Fatalf("text fields accept any value")
	}
}

func TestResponseSchemaListsRequired(t *testing.T) {
	rs := Default().ResponseSchema()
	required, _ := rs["required"].([]any)
	var names []string
	for _, r := range required {
		names = append(names, r.(string))
	}
	joined := strings.Join(names, ",")
	if joined != "habitatType,indicatorSpecies,confidence" {
		t.Fatalf("unexpected required list %q", joined)
	}
	props := rs["properties"].(map[string]any)
	ht := props["habitatType"].(map[string]any)
	if enum, _ := ht["enum"].([]any); len(enum) != len(DefaultHabitatTypes) {
		t.Fatalf("expected habitatType enum with %d values, got %d", len(DefaultHabitatTypes), len(enum))
	}
}

func TestTypeSchemaChecksTypes(t *testing.T) {
	s := Default()
	ts, err := s.TypeSchema()
	if err != nil {
		t.Fatalf("TypeSchema: %v", err)
	}
	ok := map[string]any{"habitatType": "Unbekannt", "indicatorSpecies": []any{"Carex"}, "confidence": 0.5}
	if err := ts.Validate(ok); err != nil {
		t.Fatalf("expected enum-free type check to pass, got %v", err)
	}
	bad := map[string]any{"indicatorSpecies": "Carex"}
	if err := ts.Validate(bad); err == nil {
		t.Fatalf("expected type error for string list")
	}
}
