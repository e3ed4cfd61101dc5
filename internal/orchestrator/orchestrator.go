// Package orchestrator implements the per-turn pipeline: deterministic
// routing first, bounded caches, capped history, and only then a reasoning
// call whose single JSON action is executed and formatted.
package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jivan-ai/nexus/internal/logging"
	"github.com/jivan-ai/nexus/internal/metrics"
	"github.com/jivan-ai/nexus/pkg/domain"
	"github.com/jivan-ai/nexus/pkg/ports"
	"github.com/jivan-ai/nexus/pkg/registry"
)

// Config carries the turn-level tunables. Zero values get sensible defaults
// in New.
type Config struct {
	MainModel string
	FastModel string

	MainTimeout time.Duration
	FillTimeout time.Duration
	FastTimeout time.Duration

	PromptBudget int
	SemanticTTL  time.Duration
	ToolTTL      time.Duration

	// LowLatency forces the fast model and clamps the main timeout to the
	// fast timeout.
	LowLatency bool
	// Offline refuses remote integrations and reasoning calls; deterministic
	// local routes still work.
	Offline bool
	// NoReasoner disables reasoning calls only.
	NoReasoner bool

	// PersonaPath points at the persona charter file. When set, the file is
	// reloaded on modification; when unreadable the turn returns a recovery
	// notice instead of answering out of character.
	PersonaPath string

	OwnerChatID   string
	OwnerUsername string
}

// Orchestrator resolves one utterance per call. It is safe for concurrent
// use across independent conversations.
type Orchestrator struct {
	registry *registry.Registry
	reasoner ports.Reasoner
	access   ports.AccessPolicy
	buffer   ports.ConversationBuffer
	memory   ports.LongTermMemory
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	sleep    func(time.Duration)
	cfg      Config

	toolsPrompt     string
	protocolsPrompt string
	ownerHint       string

	personaMu    sync.Mutex
	personaText  string
	personaMtime time.Time

	histMu  sync.Mutex
	history []domain.Message

	semCache  *ttlCache[string]
	toolCache *ttlCache[domain.ToolResult]
}

type Option func(*Orchestrator)

// WithReasoner attaches the external reasoning function.
func WithReasoner(r ports.Reasoner) Option {
	return func(o *Orchestrator) { o.reasoner = r }
}

// WithAccessPolicy sets the per-turn source check.
func WithAccessPolicy(p ports.AccessPolicy) Option {
	return func(o *Orchestrator) { o.access = p }
}

// WithBuffer attaches the durable conversation buffer.
func WithBuffer(b ports.ConversationBuffer) Option {
	return func(o *Orchestrator) { o.buffer = b }
}

// WithMemory attaches the long-term memory collaborator.
func WithMemory(m ports.LongTermMemory) Option {
	return func(o *Orchestrator) { o.memory = m }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithProtocols embeds the protocol catalog in reasoning prompts.
func WithProtocols(specs []domain.ProtocolSpec) Option {
	return func(o *Orchestrator) {
		raw, err := json.MarshalIndent(specs, "", "  ")
		if err != nil {
			return
		}
		o.protocolsPrompt = string(raw)
	}
}

// WithPersona sets the persona charter text directly, bypassing PersonaPath.
func WithPersona(text string) Option {
	return func(o *Orchestrator) { o.personaText = strings.TrimSpace(text) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

const defaultPersona = `Be direct, competent, and calm. Answer in the user's language.
Prefer doing over describing. Never invent tool results.`

// New creates an orchestrator over the given tool registry.
func New(reg *registry.Registry, cfg Config, opts ...Option) *Orchestrator {
	if cfg.MainTimeout <= 0 {
		cfg.MainTimeout = 18 * time.Second
	}
	if cfg.FillTimeout <= 0 {
		cfg.FillTimeout = 10 * time.Second
	}
	if cfg.FastTimeout <= 0 {
		cfg.FastTimeout = 7 * time.Second
	}
	if cfg.PromptBudget == 0 {
		cfg.PromptBudget = 12000
	}
	if cfg.SemanticTTL <= 0 {
		cfg.SemanticTTL = 45 * time.Second
	}
	if cfg.ToolTTL <= 0 {
		cfg.ToolTTL = 60 * time.Second
	}
	o := &Orchestrator{
		registry:        reg,
		logger:          logging.NewNop(),
		now:             time.Now,
		sleep:           time.Sleep,
		cfg:             cfg,
		toolsPrompt:     reg.ForPrompt(),
		protocolsPrompt: "[]",
	}
	if cfg.OwnerChatID != "" || cfg.OwnerUsername != "" {
		id := cfg.OwnerChatID
		if id == "" {
			id = "unknown"
		}
		name := strings.TrimPrefix(cfg.OwnerUsername, "@")
		if name == "" {
			name = "unknown"
		}
		o.ownerHint = "Telegram owner context: default owner chat_id/user_id=" + id + ", username=" + name + "."
	}
	for _, opt := range opts {
		opt(o)
	}
	o.semCache = newTTLCache[string](o.cfg.SemanticTTL, 200, o.now)
	o.toolCache = newTTLCache[domain.ToolResult](o.cfg.ToolTTL, 200, o.now)
	return o
}

var cacheableTools = map[string]bool{
	"weather":    true,
	"news":       true,
	"ip_address": true,
	"get_time":   true,
	"get_date":   true,
	"wikipedia":  true,
}

var complexMarkers = []string{"analyze", "compare", "plan", "strategy", "why", "architecture", "security audit"}

// routeModel sends long or analysis-flavored utterances to the main model
// and everything else to the fast model.
func (o *Orchestrator) routeModel(userText string) string {
	if o.cfg.LowLatency && o.cfg.FastModel != "" {
		return o.cfg.FastModel
	}
	lowered := strings.ToLower(userText)
	if len(userText) > 220 {
		return o.cfg.MainModel
	}
	for _, m := range complexMarkers {
		if strings.Contains(lowered, m) {
			return o.cfg.MainModel
		}
	}
	if o.cfg.FastModel != "" {
		return o.cfg.FastModel
	}
	return o.cfg.MainModel
}

func (o *Orchestrator) mainTimeout() time.Duration {
	if o.cfg.LowLatency && o.cfg.FastTimeout < o.cfg.MainTimeout {
		return o.cfg.FastTimeout
	}
	return o.cfg.MainTimeout
}

// loadPersona returns the charter text, reloading PersonaPath when its
// modification time changed. The second return is a user-facing recovery
// notice when the file is required but unreadable.
func (o *Orchestrator) loadPersona() (string, string) {
	o.personaMu.Lock()
	defer o.personaMu.Unlock()
	if o.cfg.PersonaPath == "" {
		if o.personaText != "" {
			return o.personaText, ""
		}
		return defaultPersona, ""
	}
	info, err := os.Stat(o.cfg.PersonaPath)
	if err != nil {
		return "", "The persona charter could not be read. Restore it so I can respond in the correct personality."
	}
	if o.personaText != "" && info.ModTime().Equal(o.personaMtime) {
		return o.personaText, ""
	}
	raw, err := os.ReadFile(o.cfg.PersonaPath)
	if err != nil {
		return "", "The persona charter could not be read. Restore it so I can respond in the correct personality."
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", "The persona charter is empty. Add the personality rules so I can respond correctly."
	}
	o.personaText = text
	o.personaMtime = info.ModTime()
	return text, ""
}

func (o *Orchestrator) learnTurn(ctx context.Context, userText, reply string, res *domain.ToolResult) {
	if o.memory == nil {
		return
	}
	if err := o.memory.LearnTurn(ctx, userText, reply, res); err != nil {
		o.logger.Debug("memory learn failed", "err", err)
	}
}

// Respond handles one turn. Every outcome, including failures, is a
// user-facing sentence.
func (o *Orchestrator) Respond(ctx context.Context, userText string, src domain.SourceContext) string {
	started := o.now()
	defer func() {
		o.metrics.ObserveTurn(o.now().Sub(started).Seconds())
	}()

	if o.access != nil {
		if allowed, reason := o.access.Allowed(src); !allowed {
			return "Command rejected by access policy: " + reason + "."
		}
	}
	lang := detectLanguage(userText, src)

	if reply := smalltalkReply(userText, lang); reply != "" {
		o.recordTurn(ctx, domain.RoleAssistant, reply)
		return reply
	}

	persona, personaErr := o.loadPersona()
	if personaErr != "" {
		return personaErr
	}

	cacheKey := lang + ":" + normalizeQuery(userText)
	if reply, ok := o.semCache.Get(cacheKey); ok {
		o.metrics.CacheHit("semantic")
		return reply
	}

	history := o.historyForQuery(ctx, userText)
	system := o.buildSystemPrompt(userText, lang, persona)
	if o.memory != nil {
		if snippets, err := o.memory.RetrieveContext(ctx, userText); err == nil {
			if block := o.memoryBlock(snippets); block != "" {
				system += "\n\n" + block
			}
		}
	}
	o.recordTurn(ctx, domain.RoleUser, userText)
	messages := append([]domain.Message{{Role: domain.RoleSystem, Content: system}}, history...)
	messages = applyPromptBudget(messages, o.cfg.PromptBudget)

	// A chaining conjunction takes the utterance out of single-route
	// matching entirely: either every clause resolves and the chain runs,
	// or processing falls through to the reasoning path.
	reply, chained := o.runChain(ctx, userText, src, lang)
	if reply != "" {
		return reply
	}
	if !chained {
		if plan := requiredToolPlan(userText, history); plan != nil {
			if o.cfg.Offline && plan.Name == "mcp_execute" {
				return localized(lang,
					"Offline mode is enabled, remote integrations are disabled.",
					"Включен офлайн-режим, удаленные интеграции отключены.",
					"Offline-Modus ist aktiv, entfernte Integrationen sind deaktiviert.")
			}
			return o.runToolAndFormat(ctx, turnState{
				messages: messages,
				userText: userText,
				lang:     lang,
				src:      src,
			}, *plan)
		}
	}

	if o.cfg.NoReasoner || o.cfg.Offline || o.reasoner == nil {
		return localized(lang,
			"No direct tool route found for that request.",
			"Для этого запроса не найден прямой маршрут через инструмент.",
			"Für diese Anfrage wurde kein direkter Tool-Pfad gefunden.")
	}

	o.metrics.ReasonerCall()
	content, err := o.reasoner.Complete(ctx, ports.CompletionRequest{
		Model:    o.routeModel(userText),
		Messages: messages,
		Timeout:  o.mainTimeout(),
	})
	if err != nil {
		o.logger.Warn("reasoning call failed", "err", err)
		return "AI brain is unavailable right now."
	}

	obj := extractJSONObject(content)
	if obj == nil {
		// The model broke the JSON-only contract. Allow a plain reply but
		// never attempt a tool call from free text.
		fallback := fallbackReply(content)
		if fallback == "" {
			fallback = "Sorry, I couldn't process that."
		}
		o.recordTurn(ctx, domain.RoleAssistant, fallback)
		o.learnTurn(ctx, userText, fallback, nil)
		o.semCache.Set(cacheKey, fallback)
		return fallback
	}

	action, _ := obj["action"].(string)
	switch action {
	case "reply":
		// Re-check routing so the model cannot free-answer where a tool
		// clearly applies.
		if plan := requiredToolPlan(userText, o.mergedHistory(ctx)); plan != nil {
			return o.runToolAndFormat(ctx, turnState{
				messages: messages,
				userText: userText,
				lang:     lang,
				src:      src,
			}, *plan)
		}
		reply, _ := obj["reply"].(string)
		o.recordTurn(ctx, domain.RoleAssistant, reply)
		o.learnTurn(ctx, userText, reply, nil)
		o.semCache.Set(cacheKey, reply)
		return reply

	case "tool":
		toolName, _ := obj["tool_name"].(string)
		toolArgs, _ := obj["tool_args"].(map[string]any)
		call := domain.ToolCall{Name: toolName, Args: toolArgs}
		call.Args = o.deterministicFill(ctx, call.Name, userText, call.Args)
		call.Args = o.reasonerFill(ctx, call, userText)
		return o.runToolAndFormat(ctx, turnState{
			messages: messages,
			userText: userText,
			lang:     lang,
			src:      src,
		}, call)
	}
	return "AI brain returned an unsupported action."
}

// turnState carries the per-turn context shared by execution and formatting.
type turnState struct {
	messages []domain.Message
	userText string
	lang     string
	src      domain.SourceContext
}

// deterministicFill back-fills missing required arguments from the utterance
// without ever changing the tool name.
func (o *Orchestrator) deterministicFill(ctx context.Context, toolName, userText string, args map[string]any) map[string]any {
	filled := make(map[string]any, len(args))
	for k, v := range args {
		filled[k] = v
	}
	switch toolName {
	case "weather":
		if isBlank(filled["city"]) {
			if city := extractWeatherCity(userText); city != "" {
				filled["city"] = city
			}
		}
	case "wikipedia":
		if isBlank(filled["topic"]) {
			if topic := extractTopic(userText); topic != "" {
				filled["topic"] = topic
			}
		}
	case "wolframalpha":
		if isBlank(filled["query"]) {
			filled["query"] = userText
		}
	case "mcp_execute":
		if isBlank(filled["tool_name"]) {
			plan := requiredToolPlan(userText, o.mergedHistory(ctx))
			if plan != nil && plan.Name == "mcp_execute" {
				if name, ok := plan.Args["tool_name"].(string); ok && name != "" {
					filled["tool_name"] = name
					if _, has := filled["tool_input"].(map[string]any); !has {
						if input, ok := plan.Args["tool_input"].(map[string]any); ok {
							filled["tool_input"] = input
						}
					}
				}
			}
		}
	}
	return filled
}

// reasonerFill asks the model to fill still-missing required arguments with
// a narrow prompt under the shorter fill timeout. The tool name is never
// changed; fill failures leave the arguments as they were.
func (o *Orchestrator) reasonerFill(ctx context.Context, call domain.ToolCall, userText string) map[string]any {
	if o.reasoner == nil || o.cfg.Offline || o.cfg.NoReasoner {
		return call.Args
	}
	spec, ok := o.registry.Spec(call.Name)
	if !ok {
		return call.Args
	}
	required := spec.Required
	if required == nil {
		for k := range spec.Args {
			required = append(required, k)
		}
	}
	var missing []string
	for _, k := range required {
		if isBlank(call.Args[k]) {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return call.Args
	}

	payload, err := json.Marshal(map[string]any{
		"user_text":         userText,
		"tool_name":         call.Name,
		"tool_spec":         spec,
		"current_tool_args": call.Args,
	})
	if err != nil {
		return call.Args
	}
	o.metrics.ReasonerCall()
	content, err := o.reasoner.Complete(ctx, ports.CompletionRequest{
		Model: o.routeModel(userText),
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "Return ONLY a JSON object for tool_args. Do not include any extra keys. If an arg is unknown, set it to an empty string."},
			{Role: domain.RoleUser, Content: string(payload)},
		},
		Timeout: o.cfg.FillTimeout,
	})
	if err != nil {
		o.logger.Warn("argument fill call failed", "tool", call.Name, "err", err)
		return call.Args
	}
	filled := extractJSONObject(content)
	if filled == nil {
		return call.Args
	}
	merged := make(map[string]any, len(call.Args)+len(filled))
	for k, v := range call.Args {
		merged[k] = v
	}
	for k, v := range filled {
		merged[k] = v
	}
	return merged
}

var chainRe = regexp.MustCompile(`(?i)\band then\b`)

// runChain splits an " and then " utterance into clauses and, when every
// clause resolves deterministically, executes them in order and joins the
// first three replies. The second return reports whether the utterance was a
// chain at all; an unresolvable clause abandons chaining with no tool run.
func (o *Orchestrator) runChain(ctx context.Context, userText string, src domain.SourceContext, lang string) (string, bool) {
	if !strings.Contains(strings.ToLower(userText), " and then ") {
		return "", false
	}
	var parts []string
	for _, part := range chainRe.Split(userText, -1) {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) < 2 || len(parts) > 4 {
		return "", false
	}
	recent := o.mergedHistory(ctx)
	type clause struct {
		text string
		call domain.ToolCall
	}
	plans := make([]clause, 0, len(parts))
	for _, part := range parts {
		plan := requiredToolPlan(part, recent)
		if plan == nil {
			return "", true
		}
		plans = append(plans, clause{text: part, call: *plan})
	}
	var replies []string
	for _, c := range plans {
		rep := o.runToolAndFormat(ctx, turnState{
			messages: applyPromptBudget([]domain.Message{{Role: domain.RoleSystem, Content: languageInstruction(lang)}}, o.cfg.PromptBudget),
			userText: c.text,
			lang:     lang,
			src:      src,
		}, c.call)
		if rep != "" {
			replies = append(replies, rep)
		}
	}
	if len(replies) == 0 {
		return "", true
	}
	if len(replies) > 3 {
		replies = replies[:3]
	}
	return strings.Join(replies, " "), true
}

// runToolAndFormat executes one tool call (with the tool-result cache and a
// single retry) and produces the final user-facing reply.
func (o *Orchestrator) runToolAndFormat(ctx context.Context, turn turnState, call domain.ToolCall) string {
	var res domain.ToolResult
	cached := false
	if cacheableTools[call.Name] {
		if row, ok := o.toolCache.Get(toolCacheKey(call.Name, call.Args)); ok {
			o.metrics.CacheHit("tool")
			res = row
			cached = true
		}
	}

	if !cached {
		o.metrics.ToolCall(call.Name)
		res = o.registry.Run(ctx, call, turn.userText, turn.src)
		if res.ErrorCode == domain.CodeToolException {
			o.sleep(100 * time.Millisecond)
			o.metrics.ToolCall(call.Name)
			res = o.registry.Run(ctx, call, turn.userText, turn.src)
			if res.ErrorCode == domain.CodeToolException {
				return localized(turn.lang,
					"Sorry, I couldn't run that tool.",
					"Извините, не удалось запустить этот инструмент.",
					"Entschuldigung, dieses Tool konnte nicht ausgeführt werden.")
			}
		}
		if cacheableTools[call.Name] && res.OK {
			o.toolCache.Set(toolCacheKey(call.Name, call.Args), res)
		}
	}

	if fast := fastToolReply(call.Name, res, turn.lang); fast != "" {
		o.recordTurn(ctx, domain.RoleAssistant, fast)
		o.learnTurn(ctx, turn.userText, fast, &res)
		return fast
	}

	if !res.OK {
		o.metrics.ToolFailure(res.ErrorCode)
		msg := humanize(turn.lang, res.ErrorCode, res.Details)
		o.recordTurn(ctx, domain.RoleAssistant, msg)
		o.learnTurn(ctx, turn.userText, msg, &res)
		return msg
	}

	reply := o.formatWithReasoner(ctx, turn, call, res)
	o.recordTurn(ctx, domain.RoleAssistant, reply)
	o.learnTurn(ctx, turn.userText, reply, &res)
	return reply
}

// formatWithReasoner asks the model to phrase a successful tool outcome.
// Without a reasoner, or when the call fails, the raw result JSON stands in.
func (o *Orchestrator) formatWithReasoner(ctx context.Context, turn turnState, call domain.ToolCall, res domain.ToolResult) string {
	rawResult := resultJSON(call, res)
	if o.reasoner == nil || o.cfg.NoReasoner || o.cfg.Offline {
		return rawResult
	}

	followup := "You just called a tool. Write the final user-facing response in NEXUS voice and charter style.\n" +
		"Rules:\n" +
		"- Do not dump raw JSON unless the user asked for it.\n" +
		"- If tool_result.ok is false, explain what you need from the user.\n" +
		"- If confirmation is required, ask for confirmation.\n" +
		"- Be concise.\n" +
		languageInstruction(turn.lang) + "\n" +
		personaBlock(turn.userText, &res) + "\n" +
		"DATA:\n" + rawResult + "\n" +
		`Return ONLY JSON: {"action":"reply","reply":"..."}`

	o.metrics.ReasonerCall()
	content, err := o.reasoner.Complete(ctx, ports.CompletionRequest{
		Model:    o.routeModel(turn.userText),
		Messages: append(append([]domain.Message{}, turn.messages...), domain.Message{Role: domain.RoleUser, Content: followup}),
		Timeout:  o.mainTimeout(),
	})
	if err != nil {
		o.logger.Warn("formatting call failed", "tool", call.Name, "err", err)
		return rawResult
	}
	if obj := extractJSONObject(content); obj != nil {
		if action, _ := obj["action"].(string); action == "reply" {
			reply, _ := obj["reply"].(string)
			return reply
		}
	}
	if fallback := fallbackReply(content); fallback != "" {
		return fallback
	}
	return rawResult
}

func resultJSON(call domain.ToolCall, res domain.ToolResult) string {
	raw, err := json.Marshal(map[string]any{
		"tool_name":   call.Name,
		"tool_args":   call.Args,
		"tool_result": res,
	})
	if err != nil {
		return res.ErrorCode
	}
	return string(raw)
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}
