package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"habitat-backend/internal/shared/util"
)

// FieldKind is the value domain of a classification field.
type FieldKind string

const (
	KindEnum FieldKind = "enum"
	KindText FieldKind = "text"
	KindList FieldKind = "list"
)

// Reserved result keys every analysis carries in addition to the schema fields.
const (
	ConfidenceKey = "confidence"
	RationaleKey  = "rationale"
)

var ErrSchemaUnavailable = errors.New("classification schema unavailable")

// Field describes one value the model must populate.
type Field struct {
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Kind        FieldKind `json:"kind" yaml:"kind"`
	Values      []string  `json:"values,omitempty" yaml:"values,omitempty"`
	Required    bool      `json:"required" yaml:"required"`
	Weight      float64   `json:"weight,omitempty" yaml:"weight,omitempty"`
}

// Allows reports whether v is inside the field's value domain. Text fields
// and lists without declared values accept anything.
func (f Field) Allows(v string) bool {
	if len(f.Values) == 0 {
		return f.Kind != KindEnum
	}
	for _, allowed := range f.Values {
		if allowed == v {
			return true
		}
	}
	return false
}

// Prompt holds the prompt templates active for a schema.
type Prompt struct {
	Version      string `json:"version" yaml:"version"`
	System       string `json:"system" yaml:"system"`
	Instructions string `json:"instructions" yaml:"instructions"`
}

// ClassificationSchema is an immutable snapshot of the recognized fields.
type ClassificationSchema struct {
	Fields   []Field   `json:"fields"`
	Prompt   Prompt    `json:"prompt"`
	Version  string    `json:"version"`
	LoadedAt time.Time `json:"loadedAt"`

	typesOnce sync.Once
	types     *jsonschema.Schema
	typesErr  error
}

// New checks fields and computes the content fingerprint used as version.
func New(fields []Field, prompt Prompt) (*ClassificationSchema, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("schema has no fields")
	}
	seen := make(map[string]struct{}, len(fields))
	out := make([]Field, 0, len(fields))
	for i, f := range fields {
		f.Name = strings.TrimSpace(f.Name)
		if f.Name == "" {
			return nil, fmt.Errorf("field %d has no name", i)
		}
		if f.Name == ConfidenceKey || f.Name == RationaleKey {
			return nil, fmt.Errorf("field name %q is reserved", f.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return nil, fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		if f.Kind == "" {
			f.Kind = KindText
		}
		switch f.Kind {
		case KindEnum:
			if len(f.Values) == 0 {
				return nil, fmt.Errorf("enum field %q has no values", f.Name)
			}
		case KindText, KindList:
		default:
			return nil, fmt.Errorf("field %q has unknown kind %q", f.Name, f.Kind)
		}
		f.Values = append([]string(nil), f.Values...)
		out = append(out, f)
	}
	if strings.TrimSpace(prompt.System) == "" || strings.TrimSpace(prompt.Instructions) == "" {
		return nil, fmt.Errorf("schema prompt templates are empty")
	}

	s := &ClassificationSchema{Fields: out, Prompt: prompt, LoadedAt: time.Now().UTC()}
	s.Version = s.fingerprint()
	return s, nil
}

func (s *ClassificationSchema) fingerprint() string {
	payload, _ := json.Marshal(struct {
		Fields []Field `json:"fields"`
		Prompt Prompt  `json:"prompt"`
	}{s.Fields, s.Prompt})
	return util.Fingerprint(payload)
}

// Field returns the named field definition.
func (s *ClassificationSchema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// ResponseSchema returns the JSON Schema describing the desired model output.
func (s *ClassificationSchema) ResponseSchema() map[string]any {
	props := make(map[string]any, len(s.Fields)+2)
	required := make([]any, 0, len(s.Fields)+1)
	for _, f := range s.Fields {
		props[f.Name] = fieldSchema(f, true)
		if f.Required {
			required = append(required, f.Name)
		}
	}
	props[ConfidenceKey] = map[string]any{"type": "number", "description": "Overall confidence between 0 and 1."}
	props[RationaleKey] = map[string]any{"type": "string", "description": "Short justification of the classification."}
	required = append(required, ConfidenceKey)
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func fieldSchema(f Field, withDomain bool) map[string]any {
	out := map[string]any{}
	if f.Description != "" {
		out["description"] = f.Description
	}
	var enum []any
	if withDomain && len(f.Values) > 0 {
		enum = make([]any, len(f.Values))
		for i, v := range f.Values {
			enum[i] = v
		}
	}
	switch f.Kind {
	case KindList:
		items := map[string]any{"type": "string"}
		if enum != nil {
			items["enum"] = enum
		}
		out["type"] = "array"
		out["items"] = items
	default:
		out["type"] = "string"
		if enum != nil && f.Kind == KindEnum {
			out["enum"] = enum
		}
	}
	return out
}

// TypeSchema returns a compiled JSON Schema that checks value types only.
// Presence and value domains are checked field by field by the caller.
func (s *ClassificationSchema) TypeSchema() (*jsonschema.Schema, error) {
	s.typesOnce.Do(func() {
		props := make(map[string]any, len(s.Fields)+2)
		for _, f := range s.Fields {
			props[f.Name] = fieldSchema(f, false)
		}
		props[ConfidenceKey] = map[string]any{"type": "number"}
		props[RationaleKey] = map[string]any{"type": "string"}
		doc, err := json.Marshal(map[string]any{"type": "object", "properties": props})
		if err != nil {
			s.typesErr = err
			return
		}
		url := "mem://habitat/types/" + s.Version + ".json"
		c := jsonschema.NewCompiler()
		if err := c.AddResource(url, bytes.NewReader(doc)); err != nil {
			s.typesErr = err
			return
		}
		s.types, s.typesErr = c.Compile(url)
	})
	return s.types, s.typesErr
}
