// Package protocol implements the multi-step automation engine: a read-only
// catalog of protocol definitions and an interpreter that runs them under
// confirmation, cooldown, and idempotency policy.
package protocol

import (
	"regexp"
	"strings"

	"github.com/jivan-ai/nexus/pkg/domain"
)

// Protocol pairs a spec with optional hooks. BuildSteps, when set, produces
// the concrete step list for one run (file protocols render argument
// placeholders here); otherwise the spec's static steps are used.
type Protocol struct {
	Spec       domain.ProtocolSpec
	BuildSteps func(args map[string]any, userText string) []domain.Step
}

// Catalog holds the loaded protocol set. It is immutable after construction.
type Catalog struct {
	protocols []Protocol
}

// NewCatalog builds a catalog from built-ins plus loaded file protocols.
// Specs are normalized once here.
func NewCatalog(protocols ...Protocol) *Catalog {
	normalized := make([]Protocol, 0, len(protocols))
	for _, p := range protocols {
		p.Spec = p.Spec.Normalize()
		if strings.TrimSpace(p.Spec.Name) == "" {
			continue
		}
		normalized = append(normalized, p)
	}
	return &Catalog{protocols: normalized}
}

// Specs returns every protocol spec in catalog order.
func (c *Catalog) Specs() []domain.ProtocolSpec {
	specs := make([]domain.ProtocolSpec, 0, len(c.protocols))
	for _, p := range c.protocols {
		specs = append(specs, p.Spec)
	}
	return specs
}

// Get finds a protocol by exact name or alias, case-insensitive.
func (c *Catalog) Get(name string) (Protocol, bool) {
	target := strings.ToLower(strings.TrimSpace(name))
	if target == "" {
		return Protocol{}, false
	}
	for _, p := range c.protocols {
		if strings.ToLower(strings.TrimSpace(p.Spec.Name)) == target {
			return p, true
		}
		for _, a := range p.Spec.Aliases {
			if strings.ToLower(strings.TrimSpace(a)) == target {
				return p, true
			}
		}
	}
	return Protocol{}, false
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// normalizePhrase lowercases, converts underscores to spaces, and collapses
// runs of whitespace so trigger matching is layout-insensitive.
func normalizePhrase(text string) string {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.ReplaceAll(t, "_", " ")
	return whitespaceRe.ReplaceAllString(t, " ")
}

// commandPrefixes are the generic "<verb> protocol <name>" forms users say.
var commandPrefixes = []string{
	"run protocol ",
	"execute protocol ",
	"launch protocol ",
	"start protocol ",
	"initiate protocol ",
	"activate protocol ",
	"trigger protocol ",
	"fire protocol ",
}

// Resolve finds the protocol for an explicit name, a command phrase, or
// free text scored by trigger matches. A negative trigger present in the
// text excludes that protocol entirely. Longer matched phrases win; ties
// keep the earliest catalog entry.
func (c *Catalog) Resolve(name, userText string) (Protocol, bool) {
	if strings.TrimSpace(name) != "" {
		return c.Get(name)
	}
	text := strings.ToLower(strings.TrimSpace(userText))
	if text == "" {
		return Protocol{}, false
	}
	normText := normalizePhrase(text)

	for _, prefix := range commandPrefixes {
		if strings.HasPrefix(normText, prefix) {
			requested := strings.TrimSpace(normText[len(prefix):])
			if requested != "" {
				if p, ok := c.Get(requested); ok {
					return p, true
				}
			}
		}
	}

	var best Protocol
	bestScore := 0
	for _, p := range c.protocols {
		if matchesNegative(p.Spec.NegativeTriggers, text) {
			continue
		}
		score := 0
		phrases := []string{normalizePhrase(p.Spec.Name)}
		for _, a := range p.Spec.Aliases {
			phrases = append(phrases, normalizePhrase(a))
		}
		for _, t := range p.Spec.Triggers {
			phrases = append(phrases, normalizePhrase(t))
		}
		for _, phrase := range phrases {
			if phrase != "" && strings.Contains(normText, phrase) && len(phrase) > score {
				score = len(phrase)
			}
		}
		if score > bestScore {
			best = p
			bestScore = score
		}
	}
	return best, bestScore > 0
}

func matchesNegative(negatives []string, text string) bool {
	for _, n := range negatives {
		n = strings.ToLower(strings.TrimSpace(n))
		if n != "" && strings.Contains(text, n) {
			return true
		}
	}
	return false
}
