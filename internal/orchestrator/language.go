package orchestrator

import (
	"strings"

	"github.com/jivan-ai/nexus/pkg/domain"
)

var germanMarkers = []string{" und ", " bitte ", " danke", " nicht ", " ich ", " ist ", "wie "}

// detectLanguage picks the reply language: explicit hint first, then Cyrillic
// codepoints, then German function words, defaulting to English.
func detectLanguage(userText string, src domain.SourceContext) string {
	hinted := strings.ToLower(strings.TrimSpace(src.Language))
	switch {
	case strings.HasPrefix(hinted, "ru"):
		return "ru"
	case strings.HasPrefix(hinted, "de"):
		return "de"
	case strings.HasPrefix(hinted, "en"):
		return "en"
	}
	for _, ch := range userText {
		if ch >= 0x0400 && ch <= 0x04FF {
			return "ru"
		}
	}
	padded := " " + strings.ToLower(userText) + " "
	for _, marker := range germanMarkers {
		if strings.Contains(padded, marker) {
			return "de"
		}
	}
	return "en"
}

// jokeLanguage additionally recognizes Armenian so the joke capability can
// localize beyond the reply languages.
func jokeLanguage(userText string) string {
	for _, ch := range userText {
		if ch >= 0x0530 && ch <= 0x058F {
			return "hy"
		}
		if ch >= 0x0400 && ch <= 0x04FF {
			return "ru"
		}
	}
	return "en"
}

func languageInstruction(lang string) string {
	switch lang {
	case "ru":
		return "Output language policy: Always reply in Russian unless the user explicitly asks to switch language."
	case "de":
		return "Output language policy: Always reply in German unless the user explicitly asks to switch language."
	default:
		return "Output language policy: Always reply in English unless the user explicitly asks to switch language."
	}
}

// localized returns the variant for lang, falling back to English when the
// variant is empty.
func localized(lang, en, ru, de string) string {
	if lang == "ru" && ru != "" {
		return ru
	}
	if lang == "de" && de != "" {
		return de
	}
	return en
}
