package registry

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jivan-ai/nexus/pkg/domain"
)

// sanitizeArgs keeps only declared arguments, coerces each toward its
// declared type, and reports required arguments that end up absent, nil,
// or blank. Values that cannot be coerced pass through unchanged.
func sanitizeArgs(spec domain.ToolSpec, in map[string]any) (map[string]any, []string) {
	clean := make(map[string]any, len(spec.Args))
	for key, typ := range spec.Args {
		v, ok := in[key]
		if !ok {
			continue
		}
		clean[key] = coerceValue(v, typ)
	}

	var missing []string
	for _, key := range spec.Required {
		v, ok := clean[key]
		if !ok || v == nil {
			missing = append(missing, key)
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			missing = append(missing, key)
		}
	}
	return clean, missing
}

// coerceValue converts value toward the expected type on a best-effort
// basis. Unparseable input is returned as-is rather than rejected.
func coerceValue(value any, expected domain.ArgType) any {
	switch expected {
	case domain.ArgString:
		if s, ok := value.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", value)

	case domain.ArgBoolean:
		switch v := value.(type) {
		case bool:
			return v
		case float64:
			return v != 0
		case int:
			return v != 0
		}
		switch strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", value))) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
		return value

	case domain.ArgNumber:
		switch value.(type) {
		case float64, int, int64:
			return value
		}
		s := strings.TrimSpace(fmt.Sprintf("%v", value))
		if strings.Contains(s, ".") {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f
			}
			return value
		}
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		return value

	case domain.ArgObject:
		if _, ok := value.(map[string]any); ok {
			return value
		}
		if s, ok := value.(string); ok {
			s = strings.TrimSpace(s)
			if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
				var parsed map[string]any
				if err := json.Unmarshal([]byte(s), &parsed); err == nil {
					return parsed
				}
			}
		}
		return value

	case domain.ArgArray:
		if _, ok := value.([]any); ok {
			return value
		}
		if s, ok := value.(string); ok {
			s = strings.TrimSpace(s)
			if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
				var parsed []any
				if err := json.Unmarshal([]byte(s), &parsed); err == nil {
					return parsed
				}
			}
		}
		return value
	}
	return value
}
