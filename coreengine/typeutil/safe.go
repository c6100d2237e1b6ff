// Package typeutil coerces loosely typed values, such as decoded model
// output or tool arguments, into the concrete types the workflow expects.
// Every helper uses the comma-ok idiom and never panics.
package typeutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoJSONObject is returned when text carries no decodable JSON object.
var ErrNoJSONObject = errors.New("no valid JSON object found in response")

// FieldError reports a field of a decoded object with an unusable value.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field '%s' %s", e.Field, e.Reason)
}

// =============================================================================
// SCALARS
// =============================================================================

// SafeString asserts value to string.
func SafeString(value any) (string, bool) {
	if value == nil {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

// SafeFloat64 asserts value to float64. Integer kinds and numeric strings
// are accepted; models often quote numbers.
func SafeFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Stringify renders any decoded JSON value as text. Strings pass through,
// numbers and booleans use their literal form, and composite values are
// re-encoded as JSON.
func Stringify(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case float64, bool, int, int64:
		return fmt.Sprint(v), true
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", false
		}
		return string(b), true
	}
}

// =============================================================================
// SLICES
// =============================================================================

// SafeStringSlice asserts value to []string. Also handles []any containing
// only strings, the shape encoding/json produces.
func SafeStringSlice(value any) ([]string, bool) {
	if value == nil {
		return nil, false
	}
	if s, ok := value.([]string); ok {
		return s, true
	}
	anySlice, ok := value.([]any)
	if !ok {
		return nil, false
	}
	result := make([]string, 0, len(anySlice))
	for _, item := range anySlice {
		str, ok := item.(string)
		if !ok {
			return nil, false
		}
		result = append(result, str)
	}
	return result, true
}

// =============================================================================
// OBJECT FIELDS
// =============================================================================

// StringField reads key from a decoded object as text.
func StringField(raw map[string]any, key string) (string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		return "", &FieldError{Field: key, Reason: "is missing"}
	}
	s, ok := Stringify(v)
	if !ok {
		return "", &FieldError{Field: key, Reason: "is not a string"}
	}
	return s, nil
}

// StringListField reads key from a decoded object as a list of strings. An
// absent optional key yields an empty list.
func StringListField(raw map[string]any, key string, optional bool) ([]string, error) {
	v, ok := raw[key]
	if !ok || v == nil {
		if optional {
			return []string{}, nil
		}
		return nil, &FieldError{Field: key, Reason: "is missing"}
	}
	if _, isList := v.([]any); !isList {
		if _, isStrings := v.([]string); !isStrings {
			return nil, &FieldError{Field: key, Reason: "must be a list"}
		}
	}
	out, ok := SafeStringSlice(v)
	if !ok {
		return nil, &FieldError{Field: key, Reason: "must contain only strings"}
	}
	return out, nil
}

// =============================================================================
// JSON EXTRACTION
// =============================================================================

// ExtractJSONObject decodes the first JSON object found in text. The whole
// text is tried first; otherwise balanced brace spans are tried left to
// right, which tolerates code fences and surrounding prose.
func ExtractJSONObject(text string) (map[string]any, error) {
	var result map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &result); err == nil && result != nil {
		return result, nil
	}

	start := -1
	depth := 0
	for i, c := range text {
		switch c {
		case '{':
			if start == -1 {
				start = i
			}
			depth++
		case '}':
			if start == -1 {
				continue
			}
			depth--
			if depth == 0 {
				result = nil
				if err := json.Unmarshal([]byte(text[start:i+1]), &result); err == nil {
					return result, nil
				}
				start = -1
			}
		}
	}
	return nil, ErrNoJSONObject
}
