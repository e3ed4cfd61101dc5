// Package memory provides the best-effort long-term memory layer: a local
// JSONL mirror that always works, plus an optional remote store consulted
// under a strict read budget so a slow backend can never stall a turn.
package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jivan-ai/nexus/internal/logging"
	"github.com/jivan-ai/nexus/pkg/domain"
	"github.com/jivan-ai/nexus/pkg/ports"
)

// Manager implements ports.LongTermMemory. All operations are best-effort:
// retrieval falls back to the local mirror, learning failures are logged and
// swallowed.
type Manager struct {
	remote     ports.LongTermMemory
	path       string
	userID     string
	maxItems   int
	readBudget time.Duration
	redact     bool
	logger     *slog.Logger
	now        func() time.Time

	// readGen fences remote reads: a read that outlives its budget belongs
	// to a stale generation and its result is discarded, never delivered to
	// a later call.
	readGen atomic.Uint64

	fileMu sync.Mutex

	writeCh   chan learnItem
	writeWG   sync.WaitGroup
	closeOnce sync.Once
}

type learnItem struct {
	userText string
	reply    string
	tool     *domain.ToolResult
}

type record struct {
	ID        string   `json:"id"`
	Text      string   `json:"text"`
	Category  string   `json:"category,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	UserID    string   `json:"user_id"`
	CreatedAt string   `json:"created_at"`
}

type Option func(*Manager)

// WithRemote attaches the remote memory backend.
func WithRemote(remote ports.LongTermMemory) Option {
	return func(m *Manager) { m.remote = remote }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMaxItems caps how many snippets a retrieval returns.
func WithMaxItems(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxItems = n
		}
	}
}

// WithReadBudget bounds how long a remote retrieval may take before the
// manager falls back to local results only.
func WithReadBudget(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.readBudget = d
		}
	}
}

// WithRedaction toggles suppression of credential-looking text.
func WithRedaction(on bool) Option {
	return func(m *Manager) { m.redact = on }
}

// WithAsyncWrites runs LearnTurn persistence on a background worker. Close
// drains pending writes.
func WithAsyncWrites() Option {
	return func(m *Manager) { m.writeCh = make(chan learnItem, 64) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// New creates a manager mirroring memories to the JSONL file at path.
func New(path, userID string, opts ...Option) *Manager {
	m := &Manager{
		path:       path,
		userID:     userID,
		maxItems:   4,
		readBudget: 350 * time.Millisecond,
		redact:     true,
		logger:     logging.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.writeCh != nil {
		m.writeWG.Add(1)
		go m.writeLoop()
	}
	return m
}

// RetrieveContext merges remote and local matches, deduplicates by text, and
// returns the highest-scoring snippets. The remote read is abandoned once the
// budget elapses.
func (m *Manager) RetrieveContext(ctx context.Context, query string) ([]ports.Snippet, error) {
	remote := m.retrieveRemote(ctx, query)
	local := m.retrieveLocal(query)

	type scored struct {
		score float64
		row   ports.Snippet
	}
	merged := make([]scored, 0, len(remote)+len(local))
	seen := make(map[string]struct{})
	for _, row := range append(remote, local...) {
		text := strings.TrimSpace(row.Text)
		if text == "" {
			continue
		}
		key := strings.ToLower(text)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		row.Text = text
		merged = append(merged, scored{score: overlapRatio(query, text), row: row})
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].score > merged[j].score })
	if len(merged) > m.maxItems {
		merged = merged[:m.maxItems]
	}
	out := make([]ports.Snippet, 0, len(merged))
	for _, s := range merged {
		out = append(out, s.row)
	}
	return out, nil
}

func (m *Manager) retrieveRemote(ctx context.Context, query string) []ports.Snippet {
	if m.remote == nil {
		return nil
	}
	gen := m.readGen.Add(1)
	ch := make(chan []ports.Snippet, 1)
	go func() {
		rows, err := m.remote.RetrieveContext(ctx, query)
		if err != nil {
			m.logger.Debug("remote memory read failed", "err", err)
			rows = nil
		}
		if m.readGen.Load() != gen {
			return
		}
		ch <- rows
	}()
	timer := time.NewTimer(m.readBudget)
	defer timer.Stop()
	select {
	case rows := <-ch:
		return rows
	case <-timer.C:
		m.logger.Debug("remote memory read exceeded budget", "budget", m.readBudget)
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (m *Manager) retrieveLocal(query string) []ports.Snippet {
	m.fileMu.Lock()
	defer m.fileMu.Unlock()

	data, err := os.ReadFile(m.path)
	if err != nil {
		return nil
	}
	qTokens := tokenSet(query)

	type scored struct {
		score float64
		row   ports.Snippet
	}
	var rows []scored
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.UserID != m.userID {
			continue
		}
		score := float64(overlapCount(qTokens, rec.Text))
		if rec.CreatedAt != "" {
			score += 0.2
		}
		rows = append(rows, scored{score: score, row: ports.Snippet{
			Text:     rec.Text,
			Category: rec.Category,
			Tags:     rec.Tags,
		}})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].score > rows[j].score })

	// With no token overlap at all, fall back to the newest few memories.
	if len(rows) > 0 && rows[0].score <= 0.2 && len(qTokens) > 0 && overlapCount(qTokens, rows[0].row.Text) == 0 {
		n := len(rows)
		start := n - m.maxItems
		if start < 0 {
			start = 0
		}
		out := make([]ports.Snippet, 0, n-start)
		for i := n - 1; i >= start; i-- {
			out = append(out, rows[i].row)
		}
		return out
	}
	if len(rows) > m.maxItems {
		rows = rows[:m.maxItems]
	}
	out := make([]ports.Snippet, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.row)
	}
	return out
}

// ContextBlock renders retrieved snippets as a numbered prompt section, or
// "" when nothing matched.
func (m *Manager) ContextBlock(ctx context.Context, query string) string {
	rows, _ := m.RetrieveContext(ctx, query)
	if len(rows) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Known user memory (use when relevant, do not invent):")
	n := 0
	for _, row := range rows {
		text := strings.TrimSpace(row.Text)
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
	return b.String()
}

// LearnTurn extracts durable facts from the turn and persists them. With
// async writes enabled it only enqueues; a full queue drops the turn rather
// than blocking.
func (m *Manager) LearnTurn(ctx context.Context, userText, reply string, toolResult *domain.ToolResult) error {
	if m.writeCh != nil {
		select {
		case m.writeCh <- learnItem{userText: userText, reply: reply, tool: toolResult}:
		default:
			m.logger.Debug("memory write queue full, dropping turn")
		}
		return nil
	}
	m.learnSync(ctx, learnItem{userText: userText, reply: reply, tool: toolResult})
	return nil
}

func (m *Manager) writeLoop() {
	defer m.writeWG.Done()
	for item := range m.writeCh {
		m.learnSync(context.Background(), item)
	}
}

// Close stops the async worker after draining queued writes.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		if m.writeCh != nil {
			close(m.writeCh)
			m.writeWG.Wait()
		}
	})
}

func (m *Manager) learnSync(ctx context.Context, item learnItem) {
	candidates := extractCandidates(item.userText, item.tool)
	for _, c := range candidates {
		if m.redact && isSensitive(c.Text) {
			continue
		}
		m.saveLocal(c)
	}
	if m.remote == nil {
		return
	}
	userText := item.userText
	reply := item.reply
	if m.redact {
		if isSensitive(userText) {
			userText = ""
		}
		if isSensitive(reply) {
			reply = ""
		}
	}
	if userText == "" && reply == "" {
		return
	}
	if err := m.remote.LearnTurn(ctx, userText, reply, item.tool); err != nil {
		m.logger.Debug("remote memory write failed", "err", err)
	}
}

func (m *Manager) saveLocal(snip ports.Snippet) {
	m.fileMu.Lock()
	defer m.fileMu.Unlock()

	if dir := filepath.Dir(m.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			m.logger.Warn("memory mirror dir unavailable", "err", err)
			return
		}
	}
	rec := record{
		ID:        uuid.NewString(),
		Text:      strings.TrimSpace(snip.Text),
		Category:  snip.Category,
		Tags:      snip.Tags,
		UserID:    m.userID,
		CreatedAt: m.now().Format(time.RFC3339),
	}
	row, err := json.Marshal(rec)
	if err != nil {
		return
	}
	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		m.logger.Warn("memory mirror append failed", "err", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(row, '\n')); err != nil {
		m.logger.Warn("memory mirror append failed", "err", err)
	}
}

var candidatePatterns = []struct {
	re       *regexp.Regexp
	category string
	tags     []string
	render   func(capture string) string
}{
	{
		re:       regexp.MustCompile(`\bmy name is ([a-zA-Z][a-zA-Z\-\s]{1,40})`),
		category: "profile", tags: []string{"identity"},
		render: func(c string) string { return "User name is " + titleCase(c) + "." },
	},
	{
		re:       regexp.MustCompile(`\bi am ([a-zA-Z][a-zA-Z\-\s]{1,40})`),
		category: "profile", tags: []string{"identity"},
		render: func(c string) string { return "User identity note: " + c + "." },
	},
	{
		re:       regexp.MustCompile(`\bi work as ([a-zA-Z][a-zA-Z\-\s]{1,60})`),
		category: "profile", tags: []string{"work"},
		render: func(c string) string { return "User works as " + c + "." },
	},
	{
		re:       regexp.MustCompile(`\bi prefer ([^.,;]{2,80})`),
		category: "preference", tags: []string{"preference"},
		render: func(c string) string { return "User prefers " + c + "." },
	},
	{
		re:       regexp.MustCompile(`\bi like ([^.,;]{2,80})`),
		category: "preference", tags: []string{"preference"},
		render: func(c string) string { return "User likes " + c + "." },
	},
	{
		re:       regexp.MustCompile(`\bremember that ([^.,;]{2,120})`),
		category: "long_term", tags: []string{"explicit_memory"},
		render: func(c string) string { return "User asked to remember: " + c + "." },
	},
}

func extractCandidates(userText string, tool *domain.ToolResult) []ports.Snippet {
	lowered := strings.ToLower(strings.TrimSpace(userText))
	var out []ports.Snippet
	for _, p := range candidatePatterns {
		m := p.re.FindStringSubmatch(lowered)
		if m == nil {
			continue
		}
		capture := strings.TrimSpace(m[1])
		if len(capture) < 2 {
			continue
		}
		out = append(out, ports.Snippet{Text: p.render(capture), Category: p.category, Tags: p.tags})
	}
	if tool != nil && tool.OK && tool.ToolName == "run_protocol" {
		if data, ok := tool.Data.(map[string]any); ok {
			if proto, _ := data["protocol"].(string); proto != "" {
				out = append(out, ports.Snippet{
					Text:     "User executed protocol " + proto + ".",
					Category: "operational",
					Tags:     []string{"protocol_usage"},
				})
			}
		}
	}
	return out
}

var sensitiveMarkers = []string{
	"password", "passcode", "secret", "private key", "api key",
	"token", "credit card", "ssn", "otp",
}

func isSensitive(text string) bool {
	t := strings.ToLower(text)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}

var tokenSplit = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

func tokenSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range tokenSplit.Split(strings.ToLower(text), -1) {
		if len(tok) > 1 {
			out[tok] = struct{}{}
		}
	}
	return out
}

func overlapCount(qTokens map[string]struct{}, text string) int {
	n := 0
	for tok := range tokenSet(text) {
		if _, ok := qTokens[tok]; ok {
			n++
		}
	}
	return n
}

func overlapRatio(query, text string) float64 {
	qTokens := tokenSet(query)
	if len(qTokens) == 0 {
		return 0
	}
	return float64(overlapCount(qTokens, text)) / float64(len(qTokens))
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
