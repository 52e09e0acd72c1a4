package analyses

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"habitat-backend/internal/schema"
)

const maxActualLen = 200

// Validate checks a raw model payload against s. Fields are walked in schema
// order and the first hard defect is returned as *ValidationFailure; no
// partial result is produced. Unknown keys are ignored and confidence is
// clamped to [0,1].
func Validate(raw []byte, s *schema.ClassificationSchema) (Result, error) {
	if s == nil {
		return Result{}, errors.New("validate: nil schema")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return Result{}, &ValidationFailure{Field: "$", Expected: "JSON object", Actual: truncate(string(raw))}
	}
	doc, ok := decoded.(map[string]any)
	if !ok {
		return Result{}, &ValidationFailure{Field: "$", Expected: "JSON object", Actual: describeValue(decoded)}
	}

	typeErrs, err := typeErrors(s, doc)
	if err != nil {
		return Result{}, err
	}

	fields := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		v, present := doc[f.Name]
		if !present || v == nil {
			if f.Required {
				return Result{}, &ValidationFailure{Field: f.Name, Expected: "required " + describeField(f), Actual: "missing"}
			}
			continue
		}
		if _, bad := typeErrs[f.Name]; bad {
			return Result{}, &ValidationFailure{Field: f.Name, Expected: describeField(f), Actual: describeValue(v)}
		}
		normalized, failure := checkDomain(f, v)
		if failure != nil {
			return Result{}, failure
		}
		fields[f.Name] = normalized
	}

	confidence, present := doc[schema.ConfidenceKey]
	if !present || confidence == nil {
		return Result{}, &ValidationFailure{Field: schema.ConfidenceKey, Expected: "number between 0 and 1", Actual: "missing"}
	}
	if _, bad := typeErrs[schema.ConfidenceKey]; bad {
		return Result{}, &ValidationFailure{Field: schema.ConfidenceKey, Expected: "number between 0 and 1", Actual: describeValue(confidence)}
	}
	num, err := confidence.(json.Number).Float64()
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return Result{}, &ValidationFailure{Field: schema.ConfidenceKey, Expected: "number between 0 and 1", Actual: describeValue(confidence)}
	}

	var rationale string
	if v, ok := doc[schema.RationaleKey]; ok && v != nil {
		if _, bad := typeErrs[schema.RationaleKey]; bad {
			return Result{}, &ValidationFailure{Field: schema.RationaleKey, Expected: "string", Actual: describeValue(v)}
		}
		rationale = strings.TrimSpace(v.(string))
	}

	return Result{
		Fields:        fields,
		Confidence:    clamp01(num),
		Rationale:     rationale,
		SchemaVersion: s.Version,
	}, nil
}

// typeErrors runs the compiled type-only schema and indexes failures by
// top-level key.
func typeErrors(s *schema.ClassificationSchema, doc map[string]any) (map[string]string, error) {
	ts, err := s.TypeSchema()
	if err != nil {
		return nil, fmt.Errorf("compile type schema: %w", err)
	}
	out := map[string]string{}
	err = ts.Validate(doc)
	if err == nil {
		return out, nil
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return nil, err
	}
	collectLeaves(verr, out)
	return out, nil
}

func collectLeaves(verr *jsonschema.ValidationError, out map[string]string) {
	if len(verr.Causes) == 0 {
		key := topLevelKey(verr.InstanceLocation)
		if key != "" {
			if _, seen := out[key]; !seen {
				out[key] = verr.Message
			}
		}
		return
	}
	for _, cause := range verr.Causes {
		collectLeaves(cause, out)
	}
}

func topLevelKey(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return ""
	}
	key, _, _ := strings.Cut(pointer, "/")
	key = strings.ReplaceAll(key, "~1", "/")
	return strings.ReplaceAll(key, "~0", "~")
}

func checkDomain(f schema.Field, v any) (any, *ValidationFailure) {
	switch f.Kind {
	case schema.KindList:
		items, _ := v.([]any)
		out := make([]string, 0, len(items))
		for i, item := range items {
			str := strings.TrimSpace(item.(string))
			if str == "" {
				continue
			}
			if len(f.Values) > 0 && !f.Allows(str) {
				return nil, &ValidationFailure{
					Field:    fmt.Sprintf("%s[%d]", f.Name, i),
					Expected: describeField(f),
					Actual:   truncate(str),
				}
			}
			out = append(out, str)
		}
		return out, nil
	default:
		str := strings.TrimSpace(v.(string))
		if f.Kind == schema.KindEnum && !f.Allows(str) {
			return nil, &ValidationFailure{Field: f.Name, Expected: describeField(f), Actual: truncate(str)}
		}
		return str, nil
	}
}

func describeField(f schema.Field) string {
	switch f.Kind {
	case schema.KindEnum:
		return truncate("one of: " + strings.Join(f.Values, ", "))
	case schema.KindList:
		if len(f.Values) > 0 {
			return truncate("list of: " + strings.Join(f.Values, ", "))
		}
		return "list of strings"
	default:
		return "string"
	}
}

func describeValue(v any) string {
	switch val := v.(type) {
	case string:
		return truncate(val)
	case nil:
		return "null"
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%T", v)
		}
		return truncate(string(b))
	}
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxActualLen {
		return s
	}
	return string(r[:maxActualLen]) + "…"
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
