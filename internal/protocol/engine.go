package protocol

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jivan-ai/nexus/internal/logging"
	"github.com/jivan-ai/nexus/pkg/domain"
	"github.com/jivan-ai/nexus/pkg/ports"
)

// Engine runs protocols. Cooldown timestamps and consumed idempotency keys
// live in memory for the process lifetime; a restart clears both, which is
// the intended recovery behavior.
type Engine struct {
	catalog *Catalog
	runner  ports.ToolRunner
	logger  *slog.Logger
	audit   *AuditLog
	now     func() time.Time

	mu       sync.Mutex
	lastRuns map[string]time.Time
	seenKeys map[string]struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithAuditLog attaches an append-only run log.
func WithAuditLog(a *AuditLog) Option {
	return func(e *Engine) { e.audit = a }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine creates an engine over a catalog. runner handles "tool" steps
// and may be nil when no catalog protocol uses them.
func NewEngine(catalog *Catalog, runner ports.ToolRunner, opts ...Option) *Engine {
	e := &Engine{
		catalog:  catalog,
		runner:   runner,
		logger:   logging.NewNop(),
		now:      time.Now,
		lastRuns: make(map[string]time.Time),
		seenKeys: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Specs exposes the catalog's protocol definitions.
func (e *Engine) Specs() []domain.ProtocolSpec {
	return e.catalog.Specs()
}

// RunRequest carries one protocol invocation. Name and UserText are
// alternative resolution inputs; Confirm acknowledges a confirmation
// policy; DryRun returns the rendered steps without executing them.
type RunRequest struct {
	Name           string
	UserText       string
	Confirm        bool
	DryRun         bool
	Args           map[string]any
	IdempotencyKey string
	Source         domain.SourceContext
}

// Run executes one protocol invocation through the full check sequence.
// A failed check returns before any step runs and leaves cooldown and
// idempotency state untouched.
func (e *Engine) Run(ctx context.Context, req RunRequest) domain.RunResult {
	protocol, ok := e.catalog.Resolve(req.Name, req.UserText)
	if !ok {
		return domain.RunResult{OK: false, ErrorCode: domain.CodeUnknownProtocol, Details: "Unknown protocol."}
	}

	spec := protocol.Spec
	runID := uuid.NewString()
	args := req.Args
	if args == nil {
		args = map[string]any{}
	}

	if !confirmationSatisfied(spec, req.UserText, req.Confirm) {
		return domain.RunResult{
			OK:        false,
			Protocol:  spec.Name,
			RunID:     runID,
			ErrorCode: domain.CodeConfirmationRequired,
		}
	}

	if missing := missingRequiredArgs(spec, args); len(missing) > 0 {
		return domain.RunResult{
			OK:          false,
			Protocol:    spec.Name,
			RunID:       runID,
			ErrorCode:   domain.CodeMissingRequiredArgs,
			MissingArgs: missing,
		}
	}

	now := e.now()
	if spec.CooldownSeconds > 0 {
		e.mu.Lock()
		last, ran := e.lastRuns[spec.Name]
		e.mu.Unlock()
		if ran {
			elapsed := now.Sub(last)
			cooldown := time.Duration(spec.CooldownSeconds) * time.Second
			if elapsed < cooldown {
				retry := int((cooldown - elapsed).Seconds())
				if retry < 1 {
					retry = 1
				}
				return domain.RunResult{
					OK:          false,
					Protocol:    spec.Name,
					RunID:       runID,
					ErrorCode:   domain.CodeCooldownActive,
					RetryAfterS: retry,
				}
			}
		}
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = defaultIdempotencyKey(spec.Name, args, now)
	}
	e.mu.Lock()
	_, duplicate := e.seenKeys[key]
	e.mu.Unlock()
	if duplicate {
		return domain.RunResult{
			OK:        false,
			Protocol:  spec.Name,
			RunID:     runID,
			ErrorCode: domain.CodeDuplicateIdempotencyKey,
		}
	}

	steps := buildSteps(protocol, args, req.UserText)

	if req.DryRun {
		result := domain.RunResult{
			OK:       true,
			Protocol: spec.Name,
			RunID:    runID,
			DryRun:   true,
			Steps:    steps,
		}
		e.logRun(result)
		return result
	}

	result := e.executeSteps(ctx, steps, req)
	result.Protocol = spec.Name
	result.RunID = runID
	result.Steps = steps
	result.IdempotencyKey = key

	e.mu.Lock()
	e.seenKeys[key] = struct{}{}
	e.lastRuns[spec.Name] = now
	e.mu.Unlock()

	e.logRun(result)
	return result
}

// terminalActions are action names the engine bubbles up to the caller.
var terminalActions = map[string]bool{
	"shutdown_app": true,
	"shutdown_pc":  true,
}

func (e *Engine) executeSteps(ctx context.Context, steps []domain.Step, req RunRequest) domain.RunResult {
	var events []domain.StepEvent
	finalAction := ""

	for idx, step := range steps {
		switch step.Type {
		case domain.StepSay:
			events = append(events, domain.StepEvent{Type: domain.StepSay, Text: strings.TrimSpace(step.Text)})

		case domain.StepAction:
			name := strings.ToLower(strings.TrimSpace(step.Name))
			events = append(events, domain.StepEvent{Type: domain.StepAction, Name: name})
			if terminalActions[name] {
				finalAction = name
			}

		case domain.StepProtocol:
			nested := e.Run(ctx, RunRequest{
				Name:     strings.TrimSpace(step.Name),
				UserText: req.UserText,
				Confirm:  req.Confirm,
				DryRun:   req.DryRun,
				Args:     step.Args,
				Source:   req.Source,
			})
			events = append(events, domain.StepEvent{Type: domain.StepProtocol, Name: step.Name, Nested: &nested})
			if !nested.OK {
				return domain.RunResult{
					OK:        false,
					ErrorCode: domain.CodeNestedProtocolFail,
					StepIndex: idx,
					Nested:    &nested,
					Events:    events,
				}
			}
			if terminalActions[nested.Action] {
				finalAction = nested.Action
			}

		case domain.StepTool:
			toolName := strings.TrimSpace(step.Name)
			if toolName == "" {
				return domain.RunResult{OK: false, ErrorCode: domain.CodeInvalidToolStep, StepIndex: idx, Events: events}
			}
			if e.runner == nil {
				return domain.RunResult{OK: false, ErrorCode: domain.CodeInvalidToolStep, StepIndex: idx, Details: "no tool runner configured", Events: events}
			}
			toolResult := e.runner.Run(ctx, domain.ToolCall{Name: toolName, Args: step.Args}, req.UserText, req.Source)
			events = append(events, domain.StepEvent{Type: domain.StepTool, Name: toolName, Tool: &toolResult})
			if !toolResult.OK {
				return domain.RunResult{
					OK:        false,
					ErrorCode: domain.CodeToolStepFailed,
					StepIndex: idx,
					Tool:      &toolResult,
					Events:    events,
				}
			}
			if terminalActions[toolResult.Action] {
				finalAction = toolResult.Action
			}

		default:
			return domain.RunResult{OK: false, ErrorCode: domain.CodeUnknownStepType, StepIndex: idx, Events: events}
		}
	}

	return domain.RunResult{OK: true, Events: events, Action: finalAction}
}

func buildSteps(p Protocol, args map[string]any, userText string) []domain.Step {
	if p.BuildSteps != nil {
		if built := p.BuildSteps(args, userText); built != nil {
			return built
		}
	}
	steps := make([]domain.Step, len(p.Spec.Steps))
	copy(steps, p.Spec.Steps)
	return steps
}

func confirmationSatisfied(spec domain.ProtocolSpec, userText string, confirm bool) bool {
	switch spec.ConfirmationPolicy {
	case domain.ConfirmNever:
		return true
	case domain.ConfirmAlways:
		return confirm
	case domain.ConfirmExplicitPhrase:
		t := strings.ToLower(userText)
		explicit := strings.Contains(t, "run protocol") ||
			strings.Contains(t, "execute protocol") ||
			strings.Contains(t, "confirm")
		return confirm || explicit
	}
	// if_side_effects
	if spec.RequiresConfirmation || spec.SideEffects {
		return confirm
	}
	return true
}

func missingRequiredArgs(spec domain.ProtocolSpec, args map[string]any) []string {
	var missing []string
	for key, rule := range spec.ArgsSchema {
		if !rule.Required {
			continue
		}
		val, ok := args[key]
		if !ok || val == nil {
			missing = append(missing, key)
			continue
		}
		if s, isStr := val.(string); isStr && strings.TrimSpace(s) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}

// defaultIdempotencyKey derives a stable key from the protocol name, the
// calendar day, and the argument set, so identical same-day invocations
// collapse naturally.
func defaultIdempotencyKey(name string, args map[string]any, now time.Time) string {
	payload, err := json.Marshal(map[string]any{
		"protocol": name,
		"day":      now.Format("2006-01-02"),
		"args":     args,
	})
	if err != nil {
		payload = []byte(name + now.Format("2006-01-02"))
	}
	sum := sha1.Sum(payload)
	return hex.EncodeToString(sum[:])[:20]
}

func (e *Engine) logRun(result domain.RunResult) {
	e.logger.Info("protocol run",
		"protocol", result.Protocol,
		"run_id", result.RunID,
		"ok", result.OK,
		"error_code", result.ErrorCode,
		"dry_run", result.DryRun,
	)
	if e.audit != nil {
		if err := e.audit.Append(result); err != nil {
			e.logger.Warn("audit append failed", "err", err)
		}
	}
}
