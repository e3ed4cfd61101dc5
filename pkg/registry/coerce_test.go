package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jivan-ai/nexus/pkg/domain"
)

func TestCoerceValue(t *testing.T) {
	cases := []struct {
		name     string
		value    any
		expected domain.ArgType
		want     any
	}{
		{"string passthrough", "hello", domain.ArgString, "hello"},
		{"number to string", 42, domain.ArgString, "42"},
		{"bool to string", true, domain.ArgString, "true"},

		{"bool passthrough", true, domain.ArgBoolean, true},
		{"number to bool", float64(0), domain.ArgBoolean, false},
		{"int to bool", 3, domain.ArgBoolean, true},
		{"yes to bool", "yes", domain.ArgBoolean, true},
		{"off to bool", "OFF", domain.ArgBoolean, false},
		{"unparseable bool unchanged", "maybe", domain.ArgBoolean, "maybe"},

		{"float passthrough", 3.5, domain.ArgNumber, 3.5},
		{"int passthrough", 7, domain.ArgNumber, 7},
		{"string to int", "12", domain.ArgNumber, 12},
		{"string to float", "2.25", domain.ArgNumber, 2.25},
		{"unparseable number unchanged", "twelve", domain.ArgNumber, "twelve"},

		{"object passthrough", map[string]any{"a": 1}, domain.ArgObject, map[string]any{"a": 1}},
		{"json string to object", `{"a": 1}`, domain.ArgObject, map[string]any{"a": float64(1)}},
		{"non-json string unchanged", "plain", domain.ArgObject, "plain"},

		{"array passthrough", []any{"x"}, domain.ArgArray, []any{"x"}},
		{"json string to array", `["x", "y"]`, domain.ArgArray, []any{"x", "y"}},
		{"non-json array unchanged", "x,y", domain.ArgArray, "x,y"},

		{"unknown type unchanged", "x", domain.ArgType("blob"), "x"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, coerceValue(tc.value, tc.expected))
		})
	}
}

func TestSanitizeArgs(t *testing.T) {
	spec := domain.ToolSpec{
		Name: "send_message",
		Args: map[string]domain.ArgType{
			"message": domain.ArgString,
			"chat_id": domain.ArgNumber,
			"silent":  domain.ArgBoolean,
		},
		Required: []string{"message", "chat_id"},
	}

	t.Run("keeps declared coerced args only", func(t *testing.T) {
		clean, missing := sanitizeArgs(spec, map[string]any{
			"message": "hi",
			"chat_id": "42",
			"silent":  "yes",
			"stray":   "ignored",
		})
		assert.Empty(t, missing)
		assert.Equal(t, map[string]any{"message": "hi", "chat_id": 42, "silent": true}, clean)
	})

	t.Run("reports absent and blank required args", func(t *testing.T) {
		_, missing := sanitizeArgs(spec, map[string]any{"message": "  "})
		assert.Equal(t, []string{"message", "chat_id"}, missing)
	})

	t.Run("nil required value is missing", func(t *testing.T) {
		_, missing := sanitizeArgs(spec, map[string]any{"message": "hi", "chat_id": nil})
		assert.Equal(t, []string{"chat_id"}, missing)
	})
}
