package orchestrator

import (
	"strings"

	"github.com/jivan-ai/nexus/pkg/domain"
)

type errorText struct {
	en string
	ru string
	de string
}

// errorMessages maps error codes to user-facing sentences. Raw codes never
// reach the user.
var errorMessages = map[string]errorText{
	domain.CodeMissingAPIKey: {
		en: "Integration API key is missing.",
		ru: "Отсутствует API-ключ интеграции.",
		de: "Der API-Schlüssel der Integration fehlt.",
	},
	"connect_failed": {
		en: "Connection to service failed.",
		ru: "Не удалось подключиться к сервису.",
		de: "Verbindung zum Dienst fehlgeschlagen.",
	},
	domain.CodeToolNotAllowed: {
		en: "This tool is currently not allowed by policy.",
		ru: "Этот инструмент сейчас запрещен политикой.",
		de: "Dieses Tool ist derzeit durch die Richtlinie nicht erlaubt.",
	},
	domain.CodeMissingRequiredArgs: {
		en: "I need more details to run this action.",
		ru: "Мне нужно больше деталей, чтобы выполнить это действие.",
		de: "Ich brauche mehr Details, um diese Aktion auszuführen.",
	},
	domain.CodeExecutionFailed: {
		en: "The requested action failed while executing.",
		ru: "Запрошенное действие завершилось с ошибкой.",
		de: "Die angeforderte Aktion ist fehlgeschlagen.",
	},
	domain.CodeSourceAccessDenied: {
		en: "Request blocked by access policy.",
		ru: "Запрос заблокирован политикой доступа.",
		de: "Anfrage durch die Zugriffsrichtlinie blockiert.",
	},
	domain.CodeConfirmationRequired: {
		en: "This needs an explicit confirmation before I run it.",
		ru: "Для запуска нужно явное подтверждение.",
		de: "Dies braucht eine ausdrückliche Bestätigung, bevor ich es ausführe.",
	},
	domain.CodeCooldownActive: {
		en: "That was run very recently. Give it a moment and try again.",
		ru: "Это запускалось совсем недавно. Подождите немного и повторите.",
		de: "Das wurde gerade erst ausgeführt. Bitte kurz warten und erneut versuchen.",
	},
}

// humanize turns an error code into a localized sentence, appending details
// when present.
func humanize(lang, errorCode, details string) string {
	row, ok := errorMessages[strings.TrimSpace(errorCode)]
	if !ok {
		row = errorText{
			en: "An unexpected error occurred.",
			ru: "Произошла непредвиденная ошибка.",
			de: "Ein unerwarteter Fehler ist aufgetreten.",
		}
	}
	msg := localized(lang, row.en, row.ru, row.de)
	if details != "" {
		return msg + " (" + details + ")"
	}
	return msg
}

// smalltalkReply answers a tiny fixed greeting/thanks table directly,
// returning "" for anything else.
func smalltalkReply(userText, lang string) string {
	switch strings.ToLower(strings.TrimSpace(userText)) {
	case "hi", "hello", "hey", "good morning", "good evening":
		return localized(lang,
			"Hello. How can I help?",
			"Здравствуйте. Чем могу помочь?",
			"Hallo. Wie kann ich helfen?")
	case "thanks", "thank you", "спасибо", "danke":
		return localized(lang, "You're welcome.", "Пожалуйста.", "Gern geschehen.")
	}
	return ""
}

// fastToolReply produces an immediate canned reply for a small set of tool
// outcomes, skipping the formatting reasoning call. "" means no fast reply.
func fastToolReply(toolName string, res domain.ToolResult, lang string) string {
	switch toolName {
	case "mcp_execute":
		data, _ := res.Data.(map[string]any)
		executed, _ := data["tool_name"].(string)
		if !strings.HasPrefix(executed, "TELEGRAM_SEND_") {
			return ""
		}
		if res.OK {
			return localized(lang,
				"Done. Sent to your Telegram DM.",
				"Готово. Отправил в ваш Telegram DM.",
				"Fertig. An Ihre Telegram-DM gesendet.")
		}
		return localized(lang,
			"Telegram send failed. Please try again.",
			"Не удалось отправить в Telegram. Попробуйте снова.",
			"Telegram-Senden fehlgeschlagen. Bitte erneut versuchen.")
	case "imgflip_meme":
		if !res.OK {
			return ""
		}
		data, _ := res.Data.(map[string]any)
		url, _ := data["url"].(string)
		if url = strings.TrimSpace(url); url == "" {
			return ""
		}
		return localized(lang,
			"Meme created: "+url,
			"Мем создан: "+url,
			"Meme erstellt: "+url)
	}
	return ""
}
