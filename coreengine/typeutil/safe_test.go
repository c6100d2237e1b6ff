package typeutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// SCALAR TESTS
// =============================================================================

func TestSafeString(t *testing.T) {
	s, ok := SafeString("hello")
	assert.True(t, ok)
	assert.Equal(t, "hello", s)

	_, ok = SafeString(nil)
	assert.False(t, ok)

	_, ok = SafeString(42)
	assert.False(t, ok)
}

func TestSafeFloat64(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   float64
		wantOK bool
	}{
		{"float64", 3.5, 3.5, true},
		{"float32", float32(1.5), 1.5, true},
		{"int", 7, 7, true},
		{"int64", int64(-2), -2, true},
		{"int32", int32(9), 9, true},
		{"json number", json.Number("12.25"), 12.25, true},
		{"numeric string", " 4.5 ", 4.5, true},
		{"word", "five", 0, false},
		{"bool", true, 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SafeFloat64(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestStringify(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   string
		wantOK bool
	}{
		{"string", "Paris", "Paris", true},
		{"integral float", float64(42), "42", true},
		{"fraction", 0.5, "0.5", true},
		{"bool", false, "false", true},
		{"list", []any{"a", float64(1)}, `["a",1]`, true},
		{"object", map[string]any{"k": "v"}, `{"k":"v"}`, true},
		{"nil", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Stringify(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// SLICE TESTS
// =============================================================================

func TestSafeStringSlice(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   []string
		wantOK bool
	}{
		{"string slice", []string{"a", "b"}, []string{"a", "b"}, true},
		{"any of strings", []any{"a", "b"}, []string{"a", "b"}, true},
		{"empty any", []any{}, []string{}, true},
		{"mixed", []any{"a", 1}, nil, false},
		{"not a slice", "a", nil, false},
		{"nil", nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SafeStringSlice(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// FIELD TESTS
// =============================================================================

func TestStringField(t *testing.T) {
	raw := map[string]any{"answer": "42", "count": float64(3), "empty": nil}

	got, err := StringField(raw, "answer")
	require.NoError(t, err)
	assert.Equal(t, "42", got)

	got, err = StringField(raw, "count")
	require.NoError(t, err)
	assert.Equal(t, "3", got)

	for _, key := range []string{"missing", "empty"} {
		_, err = StringField(raw, key)
		var fe *FieldError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, key, fe.Field)
		assert.Equal(t, "is missing", fe.Reason)
	}
}

func TestStringListField(t *testing.T) {
	tests := []struct {
		name       string
		raw        map[string]any
		optional   bool
		want       []string
		wantReason string
	}{
		{"list", map[string]any{"steps": []any{"a", "b"}}, false, []string{"a", "b"}, ""},
		{"absent optional", map[string]any{}, true, []string{}, ""},
		{"null optional", map[string]any{"steps": nil}, true, []string{}, ""},
		{"absent required", map[string]any{}, false, nil, "is missing"},
		{"scalar", map[string]any{"steps": "a"}, false, nil, "must be a list"},
		{"numbers", map[string]any{"steps": []any{float64(1)}}, false, nil, "must contain only strings"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := StringListField(tt.raw, "steps", tt.optional)
			if tt.wantReason != "" {
				var fe *FieldError
				require.ErrorAs(t, err, &fe)
				assert.Equal(t, "steps", fe.Field)
				assert.Equal(t, tt.wantReason, fe.Reason)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// JSON EXTRACTION TESTS
// =============================================================================

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    map[string]any
		wantErr bool
	}{
		{"plain", `{"a": "b"}`, map[string]any{"a": "b"}, false},
		{"padded", "  \n{\"a\": 1}\n", map[string]any{"a": float64(1)}, false},
		{"fenced", "```json\n{\"a\": {\"b\": 2}}\n```", map[string]any{"a": map[string]any{"b": float64(2)}}, false},
		{"prose around", `Sure! {"a": true} Hope that helps.`, map[string]any{"a": true}, false},
		{"skips invalid first object", `{oops} then {"a": "b"}`, map[string]any{"a": "b"}, false},
		{"stray closing brace", `} {"a": "b"}`, map[string]any{"a": "b"}, false},
		{"no object", "no json here", nil, true},
		{"array only", `["a"]`, nil, true},
		{"null", `null`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONObject(tt.text)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoJSONObject)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
