package domain

// Role identifies who produced a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn in history or in an outbound prompt.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SourceContext describes where an utterance came from. It is consulted by
// the access policy before any processing and by side-effecting tools.
type SourceContext struct {
	Source   string `json:"source,omitempty"` // "local", "telegram", "http", ...
	IP       string `json:"ip,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Role     string `json:"role,omitempty"` // "owner" unlocks critical tools
	Language string `json:"language,omitempty"`
}

// LocalSource is the default context for in-process callers.
func LocalSource() SourceContext {
	return SourceContext{Source: "local", IP: "127.0.0.1", Role: "owner"}
}
