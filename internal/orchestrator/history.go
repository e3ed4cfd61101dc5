package orchestrator

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/jivan-ai/nexus/pkg/domain"
)

const (
	historyMax  = 12
	historyTopK = 8
)

var tokenSplitRe = regexp.MustCompile(`[^a-zA-Z0-9_]+`)

func tokenize(text string) []string {
	var out []string
	for _, tok := range tokenSplitRe.Split(strings.ToLower(text), -1) {
		if len(tok) > 1 {
			out = append(out, tok)
		}
	}
	return out
}

func tokenSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, tok := range tokenize(text) {
		out[tok] = struct{}{}
	}
	return out
}

// normalizeQuery produces the semantic-cache key material: the token set in
// order of first appearance, lowercased, separators stripped.
func normalizeQuery(text string) string {
	return strings.Join(tokenize(text), " ")
}

// recordTurn appends to the in-process window and, best-effort, to the
// durable buffer.
func (o *Orchestrator) recordTurn(ctx context.Context, role domain.Role, content string) {
	o.histMu.Lock()
	o.history = append(o.history, domain.Message{Role: role, Content: content})
	if len(o.history) > historyMax {
		o.history = o.history[len(o.history)-historyMax:]
	}
	o.histMu.Unlock()
	if o.buffer != nil {
		if err := o.buffer.Append(ctx, domain.Message{Role: role, Content: content}); err != nil {
			o.logger.Debug("history buffer append failed", "err", err)
		}
	}
}

// mergedHistory reads from the durable buffer when available, falling back to
// the in-process window, then normalizes: known roles only, no empty turns,
// first non-system turn must be from the user.
func (o *Orchestrator) mergedHistory(ctx context.Context) []domain.Message {
	var rows []domain.Message
	if o.buffer != nil {
		if fetched, err := o.buffer.Read(ctx, historyMax); err == nil && len(fetched) > 0 {
			rows = fetched
		}
	}
	if rows == nil {
		o.histMu.Lock()
		rows = append(rows, o.history...)
		o.histMu.Unlock()
	}

	normalized := make([]domain.Message, 0, len(rows))
	for _, row := range rows {
		role := domain.Role(strings.ToLower(strings.TrimSpace(string(row.Role))))
		if role != domain.RoleUser && role != domain.RoleAssistant && role != domain.RoleSystem {
			continue
		}
		if strings.TrimSpace(row.Content) == "" {
			continue
		}
		normalized = append(normalized, domain.Message{Role: role, Content: row.Content})
	}
	for len(normalized) > 0 && normalized[0].Role == domain.RoleAssistant {
		normalized = normalized[1:]
	}
	if len(normalized) > historyMax {
		normalized = normalized[len(normalized)-historyMax:]
	}
	return normalized
}

// historyForQuery keeps the turns most relevant to the utterance by token
// overlap, preserving chronological order. With no query tokens it keeps the
// most recent turns.
func (o *Orchestrator) historyForQuery(ctx context.Context, userText string) []domain.Message {
	rows := o.mergedHistory(ctx)
	q := tokenSet(userText)
	if len(q) == 0 {
		if len(rows) > historyTopK {
			rows = rows[len(rows)-historyTopK:]
		}
		return rows
	}

	type scored struct {
		score int
		index int
	}
	ranked := make([]scored, 0, len(rows))
	for i, row := range rows {
		overlap := 0
		for tok := range tokenSet(row.Content) {
			if _, ok := q[tok]; ok {
				overlap++
			}
		}
		ranked = append(ranked, scored{score: overlap, index: i})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > historyTopK {
		ranked = ranked[:historyTopK]
	}
	picked := make(map[int]bool, len(ranked))
	for _, r := range ranked {
		picked[r.index] = true
	}
	out := make([]domain.Message, 0, len(ranked))
	for i, row := range rows {
		if picked[i] {
			out = append(out, row)
		}
	}
	if len(out) > historyTopK {
		out = out[len(out)-historyTopK:]
	}
	return out
}
