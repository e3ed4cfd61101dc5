package gateway

import (
	"context"
	"sort"
	"strings"

	"github.com/jivan-ai/nexus/pkg/domain"
)

// symbolicPrefix marks tool names resolved at call time against the remote
// catalog: AUTO:<capability>.
const symbolicPrefix = "AUTO:"

// capabilityAliases maps a capability name to the upstream name patterns it
// may appear under.
var capabilityAliases = map[string][]string{
	"codeinterpreter": {"CODEINTERPRETER", "CODE_INTERPRETER"},
	"composio_search": {"COMPOSIO_SEARCH"},
	"composio":        {"COMPOSIO_"},
	"browser_tool":    {"BROWSER_TOOL", "BROWSER"},
	"hackernews":      {"HACKERNEWS", "HACKER_NEWS"},
	"weathermap":      {"WEATHERMAP", "OPENWEATHER", "OPEN_WEATHER"},
	"text_to_pdf":     {"TEXT_TO_PDF", "PDF"},
	"entelligence":    {"ENTELLIGENCE"},
	"gemini":          {"GEMINI"},
	"yelp":            {"YELP"},
	"seat_geek":       {"SEAT_GEEK", "SEATGEEK"},
	"giphy":           {"GIPHY"},
}

func capabilityPatterns(capability string) []string {
	key := strings.ToLower(strings.TrimSpace(capability))
	if patterns, ok := capabilityAliases[key]; ok {
		return patterns
	}
	if key == "" {
		return nil
	}
	return []string{strings.ToUpper(key)}
}

// routerNativeTools are invoked directly on the routing service rather than
// through the batched execute wrapper.
var routerNativeTools = map[string]bool{
	"COMPOSIO_MANAGE_CONNECTIONS": true,
	"COMPOSIO_MULTI_EXECUTE_TOOL": true,
	"COMPOSIO_REMOTE_BASH_TOOL":   true,
	"COMPOSIO_REMOTE_WORKBENCH":   true,
	"COMPOSIO_SEARCH_TOOLS":       true,
	"COMPOSIO_GET_TOOL_SCHEMAS":   true,
}

func isTelegramTool(name string) bool {
	return strings.HasPrefix(strings.ToUpper(name), "TELEGRAM_")
}

// isAllowed checks a concrete tool name against the allow-list: exact
// entries, trailing-* prefix rules, and the implicitly allowed zero-auth
// capability patterns. An empty allow-list allows everything.
func (g *Gateway) isAllowed(name string) bool {
	name = strings.TrimSpace(name)
	if len(g.cfg.Allowlist) == 0 {
		return true
	}
	if name == "" {
		return false
	}
	upper := strings.ToUpper(name)
	for _, rule := range g.cfg.Allowlist {
		rule = strings.TrimSpace(rule)
		if rule == "" {
			continue
		}
		if rule == name {
			return true
		}
		if strings.HasSuffix(rule, "*") && strings.HasPrefix(upper, strings.ToUpper(rule[:len(rule)-1])) {
			return true
		}
	}
	for _, toolkit := range g.cfg.NoauthToolkits {
		for _, pattern := range capabilityPatterns(toolkit) {
			if pattern != "" && strings.Contains(upper, pattern) {
				return true
			}
		}
	}
	return false
}

// resolveToolName maps a symbolic AUTO:<capability> name to a concrete
// catalog entry. Concrete names pass through untouched. Candidates matching
// the capability's patterns are narrowed by an optional _action_hint
// argument; the lexicographically first survivor wins, keeping resolution
// deterministic across runs.
func (g *Gateway) resolveToolName(ctx context.Context, toolName string, toolInput map[string]any) (string, *TransportError) {
	if !strings.HasPrefix(toolName, symbolicPrefix) {
		return toolName, nil
	}
	capability := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(toolName, symbolicPrefix)))
	if capability == "" {
		return "", &TransportError{Code: domain.CodeMissingCapability}
	}

	listed := g.ListTools(ctx)
	tools := listed.Tools
	if len(tools) == 0 {
		// Partial or unavailable listing: fall back to the explicit
		// allow-list names.
		for _, rule := range g.cfg.Allowlist {
			if rule = strings.TrimSpace(rule); rule != "" {
				tools = append(tools, rule)
			}
		}
	}
	if len(tools) == 0 {
		details := listed.ErrorCode
		if details == "" {
			details = domain.CodeNoToolsAvailable
		}
		return "", &TransportError{Code: domain.CodeToolListUnavailable, Details: details}
	}

	patterns := capabilityPatterns(capability)
	var candidates []string
	for _, tool := range tools {
		upper := strings.ToUpper(tool)
		for _, pattern := range patterns {
			if strings.Contains(upper, pattern) {
				candidates = append(candidates, tool)
				break
			}
		}
	}
	if len(candidates) == 0 {
		return "", &TransportError{Code: domain.CodeCapabilityToolUnfit, Details: capability}
	}

	hint := strings.ToUpper(strings.TrimSpace(stringArg(toolInput, "_action_hint")))
	if hint != "" {
		var hinted []string
		for _, c := range candidates {
			if strings.Contains(strings.ToUpper(c), hint) {
				hinted = append(hinted, c)
			}
		}
		if len(hinted) > 0 {
			candidates = hinted
		}
	}
	sort.Strings(candidates)
	return candidates[0], nil
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	if s, ok := args[key].(string); ok {
		return s
	}
	return ""
}

// extractToolNames pulls tool names out of a catalog listing whose entries
// may be plain strings or objects under several historical key names.
func extractToolNames(items []any) []string {
	var names []string
	for _, item := range items {
		name := normalizeToolName(item)
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

func normalizeToolName(item any) string {
	switch v := item.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if fn, ok := v["function"].(map[string]any); ok {
			if name, ok := fn["name"].(string); ok && name != "" {
				return strings.TrimSpace(name)
			}
		}
		for _, key := range []string{"tool_name", "name", "slug", "id"} {
			if name, ok := v[key].(string); ok && name != "" {
				return strings.TrimSpace(name)
			}
		}
	}
	return ""
}
