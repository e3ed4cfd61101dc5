package orchestrator

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/jivan-ai/nexus/pkg/domain"
	"github.com/jivan-ai/nexus/pkg/ports"
)

const baseInstructions = `Strict output contract (IMPORTANT):
- Respond with EXACTLY ONE JSON object and nothing else.
- Reply: {"action":"reply","reply":"..."}
- Tool call: {"action":"tool","tool_name":"...","tool_args":{...}}
- Use at most ONE tool call per turn.
- Never fabricate tool/protocol results.

Tool & protocol policy:
- Tool-first policy: if any available tool can answer the request, you MUST call a tool and MUST NOT answer from memory.
- Use action=reply only for pure small-talk/opinion/chitchat with no matching tool.
- Prefer info-only tools when possible.
- Side-effect tools (opening apps/websites, sending email, screenshots, hiding files, shutdown) must only be used when the user explicitly asked.
- Protocols are named command bundles; use ` + "`run_protocol`" + ` to execute them.
- Telegram default DM target is preconfigured for the owner. For telegram send/reply requests, use Telegram tools directly and do not ask for chat_id unless a tool call explicitly fails for missing chat_id.

Routing hints:
- If the user says "open <app>" (e.g. Excel, Word, Chrome), prefer the ` + "`launch_app`" + ` tool.
- If the user says "open <domain/url>" (e.g. github.com), use ` + "`open_website`" + `.
- If the user says "search" / "look up", use ` + "`web_search`" + ` or ` + "`google_search`" + `.`

// inferTone picks the per-turn voice from utterance markers and the last
// tool outcome.
func inferTone(userText string, res *domain.ToolResult) string {
	text := strings.ToLower(strings.TrimSpace(userText))
	if text == "" {
		return "neutral"
	}
	for _, m := range []string{"urgent", "asap", "right now", "immediately", "now"} {
		if strings.Contains(text, m) {
			return "decisive"
		}
	}
	for _, m := range []string{"danger", "risky", "careful", "are you sure", "double check", "confirm"} {
		if strings.Contains(text, m) {
			return "cautious"
		}
	}
	for _, m := range []string{"great", "awesome", "nice", "perfect", "thanks", "thank you"} {
		if strings.Contains(text, m) {
			return "warm"
		}
	}
	if strings.HasSuffix(text, "?") {
		return "explanatory"
	}
	for _, p := range []string{"how", "why", "what", "can you", "could you"} {
		if strings.HasPrefix(text, p) {
			return "explanatory"
		}
	}
	if res != nil && !res.OK {
		return "supportive"
	}
	return "neutral"
}

// personaBlock renders the per-turn persona guidance appended to prompts.
func personaBlock(userText string, res *domain.ToolResult) string {
	lang := "en"
	for _, ch := range userText {
		if ch >= 0x0530 && ch <= 0x058F {
			lang = "hy"
			break
		}
		if ch >= 0x0400 && ch <= 0x04FF {
			lang = "ru"
			break
		}
	}
	tone := inferTone(userText, res)
	style := "concise, clear, action-first"
	maxSentences := 2
	switch tone {
	case "explanatory":
		maxSentences = 3
	case "decisive":
		style = "direct, efficient, no filler"
	case "cautious":
		style = "risk-aware, explicit tradeoffs"
	case "warm":
		style = "professional with light warmth"
	case "supportive":
		style = "calm recovery guidance"
	}
	return "Turn persona guidance:\n" +
		"- Language: " + lang + "\n" +
		"- Tone: " + tone + "\n" +
		"- Style: " + style + "\n" +
		"- Max sentences: " + strconv.Itoa(maxSentences) + "\n" +
		"- Be context-aware and consistent with the persona charter."
}

// buildSystemPrompt assembles the persona charter, the tool and protocol
// catalogs, and the per-turn directives into one system message.
func (o *Orchestrator) buildSystemPrompt(userText, lang, persona string) string {
	var b strings.Builder
	b.WriteString("You are NEXUS, a desktop voice assistant.\n\nPersonality & operating principles:\nBEGIN CHARTER\n")
	b.WriteString(persona)
	b.WriteString("\nEND CHARTER\n\n\n")
	b.WriteString(baseInstructions)
	b.WriteString("\nAvailable tools JSON:\n")
	b.WriteString(o.toolsPrompt)
	b.WriteString("\n\nAvailable protocols JSON:\n")
	b.WriteString(o.protocolsPrompt)
	b.WriteString("\n\n")
	b.WriteString(languageInstruction(lang))
	if hint := o.ownerHint; hint != "" {
		b.WriteString("\n\n")
		b.WriteString(hint)
	}
	b.WriteString("\n\n")
	b.WriteString(personaBlock(userText, nil))
	return b.String()
}

// memoryBlock renders retrieved long-term memory as a numbered prompt
// section, "" when nothing matched.
func (o *Orchestrator) memoryBlock(snippets []ports.Snippet) string {
	var b strings.Builder
	n := 0
	for _, s := range snippets {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		n++
		b.WriteString("\n")
		b.WriteString(strconv.Itoa(n))
		b.WriteString(". ")
		b.WriteString(text)
	}
	if n == 0 {
		return ""
	}
	return "Known user memory (use when relevant, do not invent):" + b.String()
}

// applyPromptBudget keeps the most recent messages whose combined length
// fits the character budget, walking newest-first.
func applyPromptBudget(messages []domain.Message, budget int) []domain.Message {
	if budget <= 0 {
		return messages
	}
	total := 0
	var kept []domain.Message
	for i := len(messages) - 1; i >= 0; i-- {
		piece := len(messages[i].Content)
		if total+piece > budget && len(kept) > 0 {
			continue
		}
		kept = append(kept, messages[i])
		total += piece
		if total >= budget {
			break
		}
	}
	out := make([]domain.Message, 0, len(kept))
	for i := len(kept) - 1; i >= 0; i-- {
		out = append(out, kept[i])
	}
	return out
}

// extractJSONObject parses the single JSON object between the first "{" and
// the last "}" of text, returning nil when none parses.
func extractJSONObject(text string) map[string]any {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &obj); err != nil {
		return nil
	}
	return obj
}

// fallbackReply bounds raw model text used verbatim as a reply.
func fallbackReply(text string) string {
	t := strings.TrimSpace(text)
	if t == "" {
		return ""
	}
	if len(t) > 1200 {
		t = t[:1200]
	}
	return t
}
