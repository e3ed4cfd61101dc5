package gateway

import (
	"strings"

	"github.com/jivan-ai/nexus/pkg/domain"
)

// chatTargetTools need a chat_id and get the primary chat as default.
var chatTargetTools = map[string]bool{
	"TELEGRAM_SEND_MESSAGE":            true,
	"TELEGRAM_SEND_PHOTO":              true,
	"TELEGRAM_SEND_DOCUMENT":           true,
	"TELEGRAM_SEND_LOCATION":           true,
	"TELEGRAM_SEND_POLL":               true,
	"TELEGRAM_GET_CHAT":                true,
	"TELEGRAM_GET_CHAT_MEMBER":         true,
	"TELEGRAM_GET_CHAT_MEMBERS_COUNT":  true,
	"TELEGRAM_GET_CHAT_ADMINISTRATORS": true,
	"TELEGRAM_GET_CHAT_HISTORY":        true,
	"TELEGRAM_EDIT_MESSAGE":            true,
	"TELEGRAM_DELETE_MESSAGE":          true,
	"TELEGRAM_EXPORT_CHAT_INVITE_LINK": true,
	"TELEGRAM_FORWARD_MESSAGE":         true,
}

// sendResultTools update continuity state from a send-message shaped
// response.
var sendResultTools = map[string]bool{
	"TELEGRAM_SEND_MESSAGE":  true,
	"TELEGRAM_SEND_PHOTO":    true,
	"TELEGRAM_SEND_DOCUMENT": true,
	"TELEGRAM_SEND_LOCATION": true,
	"TELEGRAM_SEND_POLL":     true,
}

// prepareTelegramArgs enriches a telegram call before dispatch: a missing
// chat_id falls back to the primary chat, and the private "_reply_to_last"
// and "_use_last_message_id" markers are consumed and replaced with
// concrete ids from continuity state.
func (g *Gateway) prepareTelegramArgs(toolName string, args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	if g.state == nil {
		return out
	}

	upper := strings.ToUpper(toolName)
	if chatTargetTools[upper] && out["chat_id"] == nil {
		if chatID, ok := g.state.PrimaryChatID(); ok {
			out["chat_id"] = chatID
		}
	}

	if popBool(out, "_reply_to_last") && out["reply_to_message_id"] == nil {
		if msgID, ok := g.state.LastMessageID(out["chat_id"]); ok {
			out["reply_to_message_id"] = msgID
		}
	}
	if popBool(out, "_use_last_message_id") && out["message_id"] == nil {
		if msgID, ok := g.state.LastMessageID(out["chat_id"]); ok {
			out["message_id"] = msgID
		}
	}
	return out
}

func popBool(args map[string]any, key string) bool {
	v, ok := args[key]
	if !ok {
		return false
	}
	delete(args, key)
	b, _ := v.(bool)
	return b
}

// updateTelegramState records chat and message ids from a successful
// telegram response. Two payload shapes are recognized: the direct result
// object and the batched multi-result envelope
// ({successful, data:{results:[{response:{data}}]}}).
func (g *Gateway) updateTelegramState(toolName string, res domain.ToolResult) {
	if g.state == nil || !isTelegramTool(toolName) || !res.OK {
		return
	}
	data, ok := res.Data.(map[string]any)
	if !ok {
		return
	}

	payload := data
	if _, batched := data["successful"]; batched {
		if inner, ok := data["data"].(map[string]any); ok {
			if rows, ok := inner["results"].([]any); ok && len(rows) > 0 {
				if first, ok := rows[0].(map[string]any); ok {
					if response, ok := first["response"].(map[string]any); ok {
						if nested, ok := response["data"].(map[string]any); ok {
							payload = nested
						} else {
							payload = nil
						}
					}
				}
			}
		}
	}
	if payload == nil {
		return
	}

	upper := strings.ToUpper(toolName)
	switch {
	case upper == "TELEGRAM_GET_UPDATES":
		g.state.UpdateFromUpdatesResult(payload)
	case sendResultTools[upper]:
		g.state.UpdateFromSendResult(payload)
	}
}
