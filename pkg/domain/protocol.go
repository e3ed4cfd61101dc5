package domain

// ConfirmationPolicy controls when a protocol run requires an explicit
// confirm flag before any step executes.
type ConfirmationPolicy string

const (
	ConfirmNever          ConfirmationPolicy = "never"
	ConfirmAlways         ConfirmationPolicy = "always"
	ConfirmIfSideEffects  ConfirmationPolicy = "if_side_effects"
	ConfirmExplicitPhrase ConfirmationPolicy = "explicit_phrase"
)

// StepType tags one protocol step variant.
type StepType string

const (
	StepSay      StepType = "say"
	StepAction   StepType = "action"
	StepTool     StepType = "tool"
	StepProtocol StepType = "protocol"
)

// Step is one entry in a protocol's ordered step list.
// Text is used by "say" steps, Name by "action"/"tool"/"protocol" steps,
// and Args by "tool"/"protocol" steps.
type Step struct {
	Type StepType       `json:"type" yaml:"type" mapstructure:"type"`
	Text string         `json:"text,omitempty" yaml:"text,omitempty" mapstructure:"text"`
	Name string         `json:"name,omitempty" yaml:"name,omitempty" mapstructure:"name"`
	Args map[string]any `json:"args,omitempty" yaml:"args,omitempty" mapstructure:"args"`
}

// ArgRule declares one protocol argument.
type ArgRule struct {
	Type     ArgType `json:"type,omitempty" yaml:"type,omitempty" mapstructure:"type"`
	Required bool    `json:"required,omitempty" yaml:"required,omitempty" mapstructure:"required"`
}

// ProtocolSpec is the read-only definition of a named multi-step automation.
// Specs are loaded once at startup and never mutated at runtime.
type ProtocolSpec struct {
	Name                 string             `json:"name" yaml:"name" mapstructure:"name"`
	Aliases              []string           `json:"aliases,omitempty" yaml:"aliases,omitempty" mapstructure:"aliases"`
	Description          string             `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	SideEffects          bool               `json:"side_effects" yaml:"side_effects" mapstructure:"side_effects"`
	RequiresConfirmation bool               `json:"requires_confirmation" yaml:"requires_confirmation" mapstructure:"requires_confirmation"`
	ConfirmationPolicy   ConfirmationPolicy `json:"confirmation_policy" yaml:"confirmation_policy" mapstructure:"confirmation_policy"`
	Triggers             []string           `json:"triggers,omitempty" yaml:"triggers,omitempty" mapstructure:"triggers"`
	NegativeTriggers     []string           `json:"negative_triggers,omitempty" yaml:"negative_triggers,omitempty" mapstructure:"negative_triggers"`
	ArgsSchema           map[string]ArgRule `json:"args_schema,omitempty" yaml:"args_schema,omitempty" mapstructure:"args_schema"`
	CooldownSeconds      int                `json:"cooldown_s" yaml:"cooldown_s" mapstructure:"cooldown_s"`
	Steps                []Step             `json:"steps" yaml:"steps" mapstructure:"steps"`
	// Source records where a file-loaded protocol came from; empty for
	// built-ins.
	Source string `json:"source,omitempty" yaml:"-" mapstructure:"-"`
}

// Normalize fills zero values so every spec carries the default policy.
func (s ProtocolSpec) Normalize() ProtocolSpec {
	if s.ConfirmationPolicy == "" {
		s.ConfirmationPolicy = ConfirmIfSideEffects
	}
	return s
}

// StepEvent records the outcome of one executed step.
type StepEvent struct {
	Type   StepType    `json:"type"`
	Text   string      `json:"text,omitempty"`
	Name   string      `json:"name,omitempty"`
	Tool   *ToolResult `json:"result,omitempty"`
	Nested *RunResult  `json:"nested,omitempty"`
}

// RunResult is the terminal outcome of one protocol invocation.
type RunResult struct {
	OK             bool        `json:"ok"`
	Protocol       string      `json:"protocol,omitempty"`
	RunID          string      `json:"run_id,omitempty"`
	ErrorCode      string      `json:"error_code,omitempty"`
	Details        string      `json:"details,omitempty"`
	RetryAfterS    int         `json:"retry_after_s,omitempty"`
	MissingArgs    []string    `json:"missing_args,omitempty"`
	StepIndex      int         `json:"step_index,omitempty"`
	DryRun         bool        `json:"dry_run,omitempty"`
	Steps          []Step      `json:"steps,omitempty"`
	Events         []StepEvent `json:"events,omitempty"`
	Nested         *RunResult  `json:"nested,omitempty"`
	Tool           *ToolResult `json:"tool_result,omitempty"`
	IdempotencyKey string      `json:"idempotency_key,omitempty"`
	// Action bubbles a recognized terminal action (e.g. "shutdown_app")
	// from any executed step up to the caller.
	Action string `json:"action,omitempty"`
}
