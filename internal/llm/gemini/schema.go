package gemini

import "github.com/google/generative-ai-go/genai"

// toGenaiSchema converts the JSON Schema subset used for habitat results
// (object, string, number, integer, boolean, array, enum, required).
func toGenaiSchema(raw map[string]any) *genai.Schema {
	if len(raw) == 0 {
		return nil
	}
	s := &genai.Schema{}
	switch raw["type"] {
	case "object":
		s.Type = genai.TypeObject
	case "string":
		s.Type = genai.TypeString
	case "number":
		s.Type = genai.TypeNumber
	case "integer":
		s.Type = genai.TypeInteger
	case "boolean":
		s.Type = genai.TypeBoolean
	case "array":
		s.Type = genai.TypeArray
	default:
		return nil
	}
	if desc, ok := raw["description"].(string); ok {
		s.Description = desc
	}
	if enum, ok := raw["enum"].([]any); ok {
		for _, v := range enum {
			if str, ok := v.(string); ok {
				s.Enum = append(s.Enum, str)
			}
		}
	}
	if enum, ok := raw["enum"].([]string); ok {
		s.Enum = append(s.Enum, enum...)
	}
	if items, ok := raw["items"].(map[string]any); ok {
		s.Items = toGenaiSchema(items)
	}
	if props, ok := raw["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, v := range props {
			child, ok := v.(map[string]any)
			if !ok {
				continue
			}
			if cs := toGenaiSchema(child); cs != nil {
				s.Properties[name] = cs
			}
		}
	}
	switch req := raw["required"].(type) {
	case []any:
		for _, v := range req {
			if str, ok := v.(string); ok {
				s.Required = append(s.Required, str)
			}
		}
	case []string:
		s.Required = append(s.Required, req...)
	}
	return s
}
