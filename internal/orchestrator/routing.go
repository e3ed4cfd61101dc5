package orchestrator

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jivan-ai/nexus/pkg/domain"
)

// requiredToolPlan applies the deterministic routes, in priority order,
// before any reasoning call: continuity-aware telegram commands, zero-auth
// capability commands, protocol phrasing, then keyword tools.
func requiredToolPlan(userText string, recent []domain.Message) *domain.ToolCall {
	text := strings.TrimSpace(userText)
	lowered := strings.ToLower(text)
	if lowered == "" {
		return nil
	}

	if plan := telegramPlan(text, recent); plan != nil {
		return plan
	}
	if plan := noauthCapabilityPlan(text); plan != nil {
		return plan
	}

	if strings.Contains(lowered, "protocol") || lowered == "monday" || lowered == "monday morning" {
		if strings.Contains(lowered, "monday morning") {
			return &domain.ToolCall{Name: "run_protocol", Args: map[string]any{"name": "monday_morning", "confirm": true}}
		}
		if strings.Contains(lowered, "monday") {
			return &domain.ToolCall{Name: "run_protocol", Args: map[string]any{"name": "monday", "confirm": true}}
		}
	}

	if strings.Contains(lowered, "joke") || strings.Contains(lowered, "make me laugh") || strings.Contains(lowered, "funny") {
		return &domain.ToolCall{Name: "joke", Args: map[string]any{"language": jokeLanguage(text)}}
	}

	if strings.HasPrefix(lowered, "meme ") || strings.HasPrefix(lowered, "make meme ") || strings.HasPrefix(lowered, "generate meme ") {
		top, bottom := extractMemeText(text)
		return &domain.ToolCall{Name: "imgflip_meme", Args: map[string]any{"top_text": top, "bottom_text": bottom}}
	}

	if strings.Contains(lowered, "calculate") || arithmeticRe.MatchString(lowered) {
		return &domain.ToolCall{Name: "wolframalpha", Args: map[string]any{"query": text}}
	}

	if strings.HasPrefix(lowered, "who is ") || strings.HasPrefix(lowered, "tell me about ") {
		if topic := extractTopic(text); topic != "" {
			return &domain.ToolCall{Name: "wikipedia", Args: map[string]any{"topic": topic}}
		}
	}

	if strings.HasPrefix(lowered, "what is ") {
		if topic := extractTopic(text); topic != "" {
			if looksMathematical(topic) {
				return &domain.ToolCall{Name: "wolframalpha", Args: map[string]any{"query": text}}
			}
			return &domain.ToolCall{Name: "wikipedia", Args: map[string]any{"topic": topic}}
		}
	}

	if strings.Contains(lowered, "weather") {
		if city := extractWeatherCity(text); city != "" {
			return &domain.ToolCall{Name: "weather", Args: map[string]any{"city": city}}
		}
	}

	if strings.Contains(lowered, "news") || strings.Contains(lowered, "headlines") {
		return &domain.ToolCall{Name: "news", Args: map[string]any{}}
	}

	if strings.Contains(lowered, "ip address") {
		return &domain.ToolCall{Name: "ip_address", Args: map[string]any{}}
	}

	if strings.Contains(lowered, "time") && !strings.Contains(lowered, "timer") {
		return &domain.ToolCall{Name: "get_time", Args: map[string]any{}}
	}

	if dateRe.MatchString(lowered) {
		return &domain.ToolCall{Name: "get_date", Args: map[string]any{}}
	}

	return nil
}

var (
	arithmeticRe = regexp.MustCompile(`\d+\s*[\+\-\*/^%]\s*\d+`)
	dateRe       = regexp.MustCompile(`\bdate\b`)
	hnRe         = regexp.MustCompile(`\bhn\b`)
	digitRe      = regexp.MustCompile(`\d`)
)

func looksMathematical(topic string) bool {
	if digitRe.MatchString(topic) {
		return true
	}
	return strings.ContainsAny(topic, "+-*/^%")
}

func extractTopic(userText string) string {
	text := strings.TrimSpace(userText)
	lowered := strings.ToLower(text)
	for _, prefix := range []string{"tell me about ", "who is ", "what is "} {
		if strings.HasPrefix(lowered, prefix) {
			return strings.TrimSpace(text[len(prefix):])
		}
	}
	return ""
}

var weatherCityRe = regexp.MustCompile(`\bweather(?:\s+in)?\s+(.+)$`)

func extractWeatherCity(userText string) string {
	lowered := strings.ToLower(strings.TrimSpace(userText))
	m := weatherCityRe.FindStringSubmatch(lowered)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func extractMemeText(userText string) (string, string) {
	text := strings.TrimSpace(userText)
	lowered := strings.ToLower(text)
	for _, prefix := range []string{"meme ", "make meme ", "generate meme "} {
		if strings.HasPrefix(lowered, prefix) {
			body := strings.TrimSpace(text[len(prefix):])
			if top, bottom, found := strings.Cut(body, "|"); found {
				return strings.TrimSpace(top), strings.TrimSpace(bottom)
			}
			return body, ""
		}
	}
	return "", ""
}

// extractAfterKeyword returns the text following the first occurrence of
// keyword, with leading separators trimmed. Case-insensitive.
func extractAfterKeyword(text, keyword string) string {
	idx := strings.Index(strings.ToLower(text), strings.ToLower(keyword))
	if idx == -1 {
		return ""
	}
	return strings.Trim(text[idx+len(keyword):], " :,-")
}

func splitFirstToken(text string) (string, string) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return "", ""
	}
	if len(fields) == 1 {
		return fields[0], ""
	}
	return fields[0], strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), fields[0]))
}

func mcpCall(toolName string, input map[string]any) *domain.ToolCall {
	return &domain.ToolCall{Name: "mcp_execute", Args: map[string]any{
		"tool_name":  toolName,
		"tool_input": input,
	}}
}

// noauthCapabilityPlan routes explicit capability commands to symbolic
// remote tool names resolved later by the gateway.
func noauthCapabilityPlan(userText string) *domain.ToolCall {
	text := strings.TrimSpace(userText)
	lowered := strings.ToLower(text)
	if lowered == "" {
		return nil
	}

	if strings.Contains(lowered, "code interpreter") || strings.Contains(lowered, "codeinterpreter") {
		code := firstNonEmpty(
			extractAfterKeyword(text, "code interpreter"),
			extractAfterKeyword(text, "codeinterpreter"),
			text,
		)
		return mcpCall("AUTO:codeinterpreter", map[string]any{"code": code, "_action_hint": "EXECUTE"})
	}
	if strings.Contains(lowered, "composio search") {
		query := firstNonEmpty(extractAfterKeyword(text, "composio search"), text)
		return mcpCall("AUTO:composio_search", map[string]any{"query": query, "_action_hint": "SEARCH"})
	}
	if strings.Contains(lowered, "browser tool") {
		target := firstNonEmpty(extractAfterKeyword(text, "browser tool"), text)
		return mcpCall("AUTO:browser_tool", map[string]any{"query": target, "_action_hint": "BROWSER"})
	}
	if strings.Contains(lowered, "hacker news") || hnRe.MatchString(lowered) {
		query := firstNonEmpty(extractAfterKeyword(text, "hacker news"), "top stories")
		return mcpCall("AUTO:hackernews", map[string]any{"query": query, "_action_hint": "TOP"})
	}
	if strings.Contains(lowered, "openweathermap") || strings.Contains(lowered, "weathermap") {
		city := firstNonEmpty(extractWeatherCity(text), extractAfterKeyword(text, "openweathermap"), text)
		return mcpCall("AUTO:weathermap", map[string]any{"city": city, "_action_hint": "WEATHER"})
	}
	if strings.Contains(lowered, "text to pdf") {
		body := firstNonEmpty(extractAfterKeyword(text, "text to pdf"), text)
		return mcpCall("AUTO:text_to_pdf", map[string]any{"text": body, "filename": "nexus_output.pdf", "_action_hint": "PDF"})
	}
	if strings.Contains(lowered, "entelligence") {
		prompt := firstNonEmpty(extractAfterKeyword(text, "entelligence"), text)
		return mcpCall("AUTO:entelligence", map[string]any{"prompt": prompt, "_action_hint": "ANALYZE"})
	}
	if strings.Contains(lowered, "use gemini") || strings.Contains(lowered, "with gemini") || strings.HasPrefix(lowered, "gemini ") {
		prompt := firstNonEmpty(
			extractAfterKeyword(text, "use gemini"),
			extractAfterKeyword(text, "with gemini"),
			extractAfterKeyword(text, "gemini"),
			text,
		)
		return mcpCall("AUTO:gemini", map[string]any{"prompt": prompt, "_action_hint": "GENERATE"})
	}
	if strings.Contains(lowered, "on yelp") || strings.Contains(lowered, "use yelp") || strings.HasPrefix(lowered, "yelp ") {
		query := firstNonEmpty(
			extractAfterKeyword(text, "on yelp"),
			extractAfterKeyword(text, "use yelp"),
			extractAfterKeyword(text, "yelp"),
			text,
		)
		return mcpCall("AUTO:yelp", map[string]any{"query": query, "_action_hint": "SEARCH"})
	}
	if strings.Contains(lowered, "seat geek") || strings.Contains(lowered, "seatgeek") {
		query := firstNonEmpty(extractAfterKeyword(text, "seat geek"), extractAfterKeyword(text, "seatgeek"), text)
		return mcpCall("AUTO:seat_geek", map[string]any{"query": query, "_action_hint": "EVENT"})
	}
	if strings.Contains(lowered, "giphy") || strings.Contains(lowered, "gif") {
		query := firstNonEmpty(extractAfterKeyword(text, "giphy"), extractAfterKeyword(text, "gif"), text)
		return mcpCall("AUTO:giphy", map[string]any{"query": query, "_action_hint": "SEARCH"})
	}
	if strings.HasPrefix(lowered, "composio ") {
		prompt := firstNonEmpty(extractAfterKeyword(text, "composio"), text)
		return mcpCall("AUTO:composio", map[string]any{"prompt": prompt, "_action_hint": "RUN"})
	}
	return nil
}

// assistantAskedForTelegramMessage reports whether a recent assistant turn
// asked the user what to send, so a bare "say ..." answer can be treated as
// message content.
func assistantAskedForTelegramMessage(recent []domain.Message) bool {
	start := len(recent) - 8
	if start < 0 {
		start = 0
	}
	for i := len(recent) - 1; i >= start; i-- {
		if recent[i].Role != domain.RoleAssistant {
			continue
		}
		text := strings.ToLower(recent[i].Content)
		if !strings.Contains(text, "telegram") {
			continue
		}
		for _, marker := range []string{
			"what would you like the message to say",
			"what would you like me to send",
			"what message should i send",
			"need two details",
		} {
			if strings.Contains(text, marker) {
				return true
			}
		}
	}
	return false
}

var sendToTelegramRe = regexp.MustCompile(`(?i)^\s*send\s+(.+?)\s+to\s+telegram\s*$`)
var telegramWordRe = regexp.MustCompile(`(?i)\b(to\s+)?(telegram|telly)\b`)

// telegramPlan routes explicit telegram commands, including fuzzy
// speech-recognition variants and continuation turns.
func telegramPlan(userText string, recent []domain.Message) *domain.ToolCall {
	text := strings.TrimSpace(userText)
	lowered := strings.ToLower(text)
	if lowered == "" {
		return nil
	}

	if strings.HasPrefix(lowered, "telegram send ") {
		if body := extractAfterKeyword(text, "telegram send"); body != "" {
			return mcpCall("TELEGRAM_SEND_MESSAGE", map[string]any{"text": body})
		}
	}

	// Speech recognition often garbles "telegram" to "telly".
	if strings.Contains(lowered, "send") &&
		(strings.Contains(" "+lowered, " telegram") || strings.Contains(" "+lowered, " telly")) {
		msg := extractAfterKeyword(text, "send")
		msg = strings.Trim(telegramWordRe.ReplaceAllString(msg, ""), " :,-")
		if msg != "" {
			return mcpCall("TELEGRAM_SEND_MESSAGE", map[string]any{"text": msg})
		}
	}

	if m := sendToTelegramRe.FindStringSubmatch(text); m != nil {
		if body := strings.TrimSpace(m[1]); body != "" {
			return mcpCall("TELEGRAM_SEND_MESSAGE", map[string]any{"text": body})
		}
	}
	if strings.HasPrefix(lowered, "send to telegram ") {
		if body := extractAfterKeyword(text, "send to telegram"); body != "" {
			return mcpCall("TELEGRAM_SEND_MESSAGE", map[string]any{"text": body})
		}
	}

	if strings.HasPrefix(lowered, "telegram reply ") {
		if body := extractAfterKeyword(text, "telegram reply"); body != "" {
			return mcpCall("TELEGRAM_SEND_MESSAGE", map[string]any{"text": body, "_reply_to_last": true})
		}
	}

	if strings.HasPrefix(lowered, "telegram poll ") {
		body := extractAfterKeyword(text, "telegram poll")
		var segments []string
		for _, seg := range strings.Split(body, "|") {
			if seg = strings.TrimSpace(seg); seg != "" {
				segments = append(segments, seg)
			}
		}
		if len(segments) >= 3 {
			options := make([]any, 0, len(segments)-1)
			for _, opt := range segments[1:] {
				options = append(options, opt)
			}
			return mcpCall("TELEGRAM_SEND_POLL", map[string]any{"question": segments[0], "options": options})
		}
	}

	if strings.HasPrefix(lowered, "telegram photo ") {
		if target, caption := splitFirstToken(extractAfterKeyword(text, "telegram photo")); target != "" {
			return mcpCall("TELEGRAM_SEND_PHOTO", map[string]any{"photo": target, "caption": caption})
		}
	}

	if strings.HasPrefix(lowered, "telegram document ") {
		if target, caption := splitFirstToken(extractAfterKeyword(text, "telegram document")); target != "" {
			return mcpCall("TELEGRAM_SEND_DOCUMENT", map[string]any{"document": target, "caption": caption})
		}
	}

	if strings.HasPrefix(lowered, "telegram edit ") {
		body := extractAfterKeyword(text, "telegram edit")
		rawID, newText, found := strings.Cut(body, "::")
		if !found {
			rawID, newText = "", body
		}
		rawID = strings.TrimSpace(rawID)
		newText = strings.TrimSpace(newText)
		if newText != "" {
			input := map[string]any{"text": newText, "_use_last_message_id": true}
			if id, err := strconv.Atoi(rawID); err == nil {
				input["message_id"] = id
			}
			return mcpCall("TELEGRAM_EDIT_MESSAGE", input)
		}
	}

	if strings.HasPrefix(lowered, "telegram delete") {
		body := extractAfterKeyword(text, "telegram delete")
		input := map[string]any{"_use_last_message_id": true}
		if id, err := strconv.Atoi(body); err == nil {
			input["message_id"] = id
		}
		return mcpCall("TELEGRAM_DELETE_MESSAGE", input)
	}

	if strings.HasPrefix(lowered, "telegram updates") {
		return mcpCall("TELEGRAM_GET_UPDATES", map[string]any{"limit": 20})
	}

	if assistantAskedForTelegramMessage(recent) {
		for _, prefix := range []string{"just say ", "say "} {
			if strings.HasPrefix(lowered, prefix) {
				if body := extractAfterKeyword(text, strings.TrimSpace(prefix)); body != "" {
					return mcpCall("TELEGRAM_SEND_MESSAGE", map[string]any{"text": body})
				}
			}
		}
	}

	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
