package domain

import "errors"

// Sentinel errors for infrastructure boundaries.
var (
	ErrToolNotFound     = errors.New("tool not found")
	ErrProtocolNotFound = errors.New("protocol not found")
	ErrStateNotFound    = errors.New("state not found")
)

// Error codes surfaced inside ToolResult / RunResult envelopes. They form a
// closed vocabulary; the orchestrator maps them to localized user-facing
// sentences and never leaks raw codes to the end user.
const (
	// Validation.
	CodeMissingRequiredArgs = "missing_required_args"
	CodeMissingToolName     = "missing_tool_name"
	CodeInvalidArgs         = "invalid_args"

	// Policy.
	CodeConfirmationRequired    = "confirmation_required"
	CodeCooldownActive          = "cooldown_active"
	CodeDuplicateIdempotencyKey = "duplicate_idempotency_key"
	CodeToolNotAllowed          = "tool_not_allowed"
	CodeSourceAccessDenied      = "source_access_denied"
	CodeOwnerRoleRequired       = "owner_role_required"
	CodeExplicitRequestRequired = "explicit_request_required"

	// Resolution.
	CodeUnknownProtocol     = "unknown_protocol"
	CodeUnknownTool         = "unknown_tool"
	CodeUnknownStepType     = "unknown_step_type"
	CodeInvalidToolStep     = "invalid_tool_step"
	CodeNestedProtocolFail  = "nested_protocol_failed"
	CodeToolStepFailed      = "tool_step_failed"
	CodeMissingCapability   = "missing_toolkit_name"
	CodeCapabilityToolUnfit = "toolkit_tool_not_found"
	CodeToolListUnavailable = "tool_list_unavailable"
	CodeResolutionFailed    = "tool_resolution_failed"

	// Configuration.
	CodeDisabled      = "disabled"
	CodeMissingAPIKey = "missing_api_key"
	CodeMissingUserID = "missing_external_user_id"
	CodeSDKUnavail    = "sdk_unavailable"

	// Remote.
	CodeExecutionFailed       = "execution_failed"
	CodeRouterRequestFailed   = "router_request_failed"
	CodeRouterError           = "router_error"
	CodeRouterInvalidResponse = "router_invalid_response"
	CodeInitFailed            = "init_failed"
	CodeSessionCreateFailed   = "session_create_failed"
	CodeSessionMissingURL     = "session_missing_url"
	CodeMissingRouterURL      = "missing_tool_router_url"
	CodeListToolsFailed       = "list_tools_failed"
	CodeNoToolsAvailable      = "no_tools_available"
	CodeToolException         = "tool_exception"
)
