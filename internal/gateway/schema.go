package gateway

import (
	"fmt"
	"strings"
)

// FieldKind is the expected JSON type of a response field.
type FieldKind int

const (
	FieldString FieldKind = iota
	FieldNumber
	FieldBool
)

// FieldSpec describes one required (or optional) field of a response
// element, with optional enum and range constraints.
type FieldSpec struct {
	Name     string
	Kind     FieldKind
	Enum     []string // allowed values for FieldString, nil = any
	Min      float64  // numeric range, honored when HasRange
	Max      float64
	HasRange bool
	Optional bool
}

// ResponseSchema validates a single response element. Unknown extra
// fields are tolerated; missing or out-of-domain values are not.
type ResponseSchema struct {
	Fields []FieldSpec
}

// Validate checks one response element against the schema.
func (s *ResponseSchema) Validate(item map[string]interface{}) error {
	for _, f := range s.Fields {
		raw, ok := item[f.Name]
		if !ok || raw == nil {
			if f.Optional {
				continue
			}
			return fmt.Errorf("missing field %q", f.Name)
		}

		switch f.Kind {
		case FieldString:
			str, ok := raw.(string)
			if !ok {
				return fmt.Errorf("field %q: expected string, got %T", f.Name, raw)
			}
			if len(f.Enum) > 0 && !containsFold(f.Enum, str) {
				return fmt.Errorf("field %q: value %q not in allowed set", f.Name, str)
			}
		case FieldNumber:
			num, ok := toFloat(raw)
			if !ok {
				return fmt.Errorf("field %q: expected number, got %T", f.Name, raw)
			}
			if f.HasRange && (num < f.Min || num > f.Max) {
				return fmt.Errorf("field %q: value %v outside [%v, %v]", f.Name, num, f.Min, f.Max)
			}
		case FieldBool:
			if _, ok := raw.(bool); !ok {
				return fmt.Errorf("field %q: expected bool, got %T", f.Name, raw)
			}
		}
	}
	return nil
}

// String returns a compact description used in prompts and logs.
func (s *ResponseSchema) String() string {
	parts := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		desc := f.Name
		switch {
		case len(f.Enum) > 0:
			desc += " (one of: " + strings.Join(f.Enum, ", ") + ")"
		case f.HasRange:
			desc += fmt.Sprintf(" (number in [%v, %v])", f.Min, f.Max)
		case f.Kind == FieldNumber:
			desc += " (number)"
		case f.Kind == FieldBool:
			desc += " (bool)"
		}
		if f.Optional {
			desc += " [optional]"
		}
		parts = append(parts, desc)
	}
	return strings.Join(parts, "; ")
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// toFloat accepts the numeric shapes json.Unmarshal can produce.
func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// GetString reads a string field, case-normalized to lower.
func GetString(item map[string]interface{}, key string) string {
	if v, ok := item[key].(string); ok {
		return strings.ToLower(strings.TrimSpace(v))
	}
	return ""
}

// GetRawString reads a string field without normalization.
func GetRawString(item map[string]interface{}, key string) string {
	if v, ok := item[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// GetFloat reads a numeric field.
func GetFloat(item map[string]interface{}, key string) float64 {
	if v, ok := toFloat(item[key]); ok {
		return v
	}
	return 0
}
