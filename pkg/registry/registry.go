// Package registry manages the catalog of invokable tools: their declared
// specs, their handlers, and the policy gates applied before any handler
// runs.
package registry

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/jivan-ai/nexus/internal/logging"
	"github.com/jivan-ai/nexus/pkg/domain"
	"github.com/jivan-ai/nexus/pkg/ports"
)

// Invocation carries everything a handler may need beyond its own arguments.
type Invocation struct {
	Args     map[string]any
	UserText string
	Source   domain.SourceContext
}

// Handler implements one tool. A non-nil error becomes a tool_exception
// result; returning a domain.ToolResult directly passes it through.
type Handler func(ctx context.Context, inv Invocation) (any, error)

// CanRunFunc is an optional explicit-request gate for side-effect tools.
// It receives the raw user text and the sanitized arguments.
type CanRunFunc func(userText string, args map[string]any) bool

// Tool pairs a spec with its implementation.
type Tool struct {
	Spec    domain.ToolSpec
	Handler Handler
	CanRun  CanRunFunc
}

// Registry is safe for concurrent use after construction.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	logger *slog.Logger

	sandbox       bool
	ownerCritical bool
	critical      map[string]bool
	access        ports.AccessPolicy
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithSandbox enables dry-run mode: side-effect tools return a sandbox
// envelope instead of executing.
func WithSandbox(enabled bool) Option {
	return func(r *Registry) { r.sandbox = enabled }
}

// WithOwnerOnlyCritical toggles the owner-role gate on critical tools.
// It is on by default.
func WithOwnerOnlyCritical(enabled bool) Option {
	return func(r *Registry) { r.ownerCritical = enabled }
}

// WithCriticalTools replaces the default critical-tool set.
func WithCriticalTools(names ...string) Option {
	return func(r *Registry) {
		r.critical = make(map[string]bool, len(names))
		for _, n := range names {
			r.critical[n] = true
		}
	}
}

// WithAccessPolicy sets the source-access check applied to side-effect
// tools. Nil means every source is allowed.
func WithAccessPolicy(p ports.AccessPolicy) Option {
	return func(r *Registry) { r.access = p }
}

// defaultCritical lists tools that are owner-only when the gate is on.
var defaultCritical = []string{
	"run_protocol",
	"hide_files",
	"take_screenshot",
	"launch_app",
	"open_website",
	"mcp_execute",
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		tools:         make(map[string]Tool),
		logger:        logging.NewNop(),
		ownerCritical: true,
	}
	r.critical = make(map[string]bool, len(defaultCritical))
	for _, n := range defaultCritical {
		r.critical[n] = true
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a tool. Re-registering a name overwrites the previous entry
// but keeps its original position in the catalog order.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Spec.Name]; !exists {
		r.order = append(r.order, t.Spec.Name)
	}
	r.tools[t.Spec.Name] = t
}

// Spec returns the spec for name, if registered.
func (r *Registry) Spec(name string) (domain.ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t.Spec, ok
}

// Specs returns all registered specs in registration order.
func (r *Registry) Specs() []domain.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]domain.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec)
	}
	return specs
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	sort.Strings(names)
	return names
}

// promptSpec is the compact shape embedded in reasoning prompts.
type promptSpec struct {
	Name        string                    `json:"name"`
	Description string                    `json:"description"`
	Args        map[string]domain.ArgType `json:"args"`
	Required    []string                  `json:"required"`
	SideEffects bool                      `json:"side_effects"`
}

// ForPrompt renders the catalog as compact single-line JSON for embedding
// in a reasoning prompt.
func (r *Registry) ForPrompt() string {
	specs := r.Specs()
	compact := make([]promptSpec, 0, len(specs))
	for _, s := range specs {
		args := s.Args
		if args == nil {
			args = map[string]domain.ArgType{}
		}
		required := s.Required
		if required == nil {
			required = []string{}
		}
		compact = append(compact, promptSpec{
			Name:        s.Name,
			Description: s.Description,
			Args:        args,
			Required:    required,
			SideEffects: s.SideEffects,
		})
	}
	b, err := json.Marshal(compact)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// Run dispatches one tool call through the policy gates. It implements
// ports.ToolRunner. The returned envelope always carries the tool name.
func (r *Registry) Run(ctx context.Context, call domain.ToolCall, userText string, src domain.SourceContext) domain.ToolResult {
	name := strings.TrimSpace(call.Name)
	if name == "" {
		return domain.FailResult("", domain.CodeMissingToolName, "")
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return domain.FailResult(name, domain.CodeUnknownTool, "")
	}

	role := strings.ToLower(strings.TrimSpace(src.Role))
	if role == "" {
		role = "owner"
	}
	if r.ownerCritical && r.critical[name] && role != "owner" {
		return domain.FailResult(name, domain.CodeOwnerRoleRequired, "")
	}

	args, missing := sanitizeArgs(tool.Spec, call.Args)
	if len(missing) > 0 {
		res := domain.FailResult(name, domain.CodeMissingRequiredArgs, "")
		res.Missing = missing
		return res
	}

	if tool.Spec.SideEffects {
		if tool.CanRun != nil && !tool.CanRun(userText, args) {
			return domain.FailResult(name, domain.CodeExplicitRequestRequired, "")
		}
		if r.access != nil {
			if allowed, reason := r.access.Allowed(src); !allowed {
				return domain.FailResult(name, domain.CodeSourceAccessDenied, reason)
			}
		}
		if r.sandbox {
			res := domain.OKResult(name, map[string]any{"dry_run": true, "tool_args": args})
			res.Sandbox = true
			return res
		}
	}

	raw, err := tool.Handler(ctx, Invocation{Args: args, UserText: userText, Source: src})
	if err != nil {
		r.logger.Warn("tool failed", "tool", name, "err", err)
		return domain.FailResult(name, domain.CodeToolException, err.Error())
	}
	return normalizeResult(name, raw)
}

// normalizeResult lifts a handler's raw return into the result envelope.
func normalizeResult(name string, raw any) domain.ToolResult {
	switch v := raw.(type) {
	case domain.ToolResult:
		if v.ToolName == "" {
			v.ToolName = name
		}
		return v
	case *domain.ToolResult:
		if v == nil {
			return domain.OKResult(name, nil)
		}
		res := *v
		if res.ToolName == "" {
			res.ToolName = name
		}
		return res
	case bool:
		return domain.ToolResult{OK: v, ToolName: name}
	default:
		return domain.OKResult(name, raw)
	}
}
