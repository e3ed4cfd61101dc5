package domain

// ArgType is the primitive type tag for a declared tool argument.
type ArgType string

const (
	ArgString  ArgType = "string"
	ArgNumber  ArgType = "number"
	ArgBoolean ArgType = "boolean"
	ArgObject  ArgType = "object"
	ArgArray   ArgType = "array"
)

// ToolSpec describes an invokable capability. Specs are immutable after
// registry construction.
type ToolSpec struct {
	Name        string             `json:"name" yaml:"name" mapstructure:"name"`
	Description string             `json:"description" yaml:"description" mapstructure:"description"`
	Args        map[string]ArgType `json:"args" yaml:"args" mapstructure:"args"`
	Required    []string           `json:"required" yaml:"required" mapstructure:"required"`
	SideEffects bool               `json:"side_effects" yaml:"side_effects" mapstructure:"side_effects"`
}

// ToolCall is a request to run one tool. Arguments are unvalidated at entry;
// missing required arguments may be back-filled once, but Name is never
// altered during back-fill.
type ToolCall struct {
	Name string         `json:"tool_name"`
	Args map[string]any `json:"tool_args,omitempty"`
}

// ToolResult is the canonical result envelope for a tool invocation.
// It is immutable once produced; the gateway boundary is the only place
// inbound remote payloads are normalized into this shape.
type ToolResult struct {
	OK        bool     `json:"ok"`
	ToolName  string   `json:"tool_name,omitempty"`
	Data      any      `json:"data,omitempty"`
	ErrorCode string   `json:"error_code,omitempty"`
	Details   string   `json:"details,omitempty"`
	Missing   []string `json:"missing_args,omitempty"`
	// Action carries a terminal action name (e.g. "shutdown_app") for the
	// host to perform after the result is returned.
	Action  string `json:"action,omitempty"`
	Sandbox bool   `json:"sandbox,omitempty"`
}

// OKResult builds a successful result carrying data.
func OKResult(toolName string, data any) ToolResult {
	return ToolResult{OK: true, ToolName: toolName, Data: data}
}

// FailResult builds a failed result with an error code and optional details.
func FailResult(toolName, code, details string) ToolResult {
	return ToolResult{OK: false, ToolName: toolName, ErrorCode: code, Details: details}
}
