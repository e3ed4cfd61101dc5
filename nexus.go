package nexus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jivan-ai/nexus/internal/buffer/redis"
	"github.com/jivan-ai/nexus/internal/continuity"
	"github.com/jivan-ai/nexus/internal/gateway"
	"github.com/jivan-ai/nexus/internal/logging"
	"github.com/jivan-ai/nexus/internal/memory"
	"github.com/jivan-ai/nexus/internal/metrics"
	"github.com/jivan-ai/nexus/internal/orchestrator"
	"github.com/jivan-ai/nexus/internal/outbox"
	"github.com/jivan-ai/nexus/internal/protocol"
	"github.com/jivan-ai/nexus/internal/security"
	"github.com/jivan-ai/nexus/pkg/domain"
	"github.com/jivan-ai/nexus/pkg/ports"
	"github.com/jivan-ai/nexus/pkg/registry"
)

// Assistant is the high-level entry point for the Nexus library.
// It wires the tool registry, protocol engine, remote gateway and turn
// orchestrator and exposes a one-call-per-turn API to the host.
type Assistant struct {
	cfg      Config
	registry *registry.Registry
	engine   *protocol.Engine
	gateway  *gateway.Gateway
	orch     *orchestrator.Orchestrator
	memory   *memory.Manager
	metrics  *metrics.Metrics
	logger   *slog.Logger

	reasoner  ports.Reasoner
	transport ports.ToolTransport
	buffer    ports.ConversationBuffer
	access    ports.AccessPolicy
	promReg   prometheus.Registerer
}

// Option defines a functional option for configuring the Assistant.
type Option func(*Assistant)

// WithReasoner injects the model client used for reasoning turns.
// Without one the assistant runs in deterministic-only mode.
func WithReasoner(r ports.Reasoner) Option {
	return func(a *Assistant) { a.reasoner = r }
}

// WithLogger sets a custom structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assistant) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithTransport injects a remote tool transport, bypassing the default
// transport selection from Config.Remote.
func WithTransport(t ports.ToolTransport) Option {
	return func(a *Assistant) { a.transport = t }
}

// WithBuffer injects a conversation buffer, bypassing Redis setup.
func WithBuffer(b ports.ConversationBuffer) Option {
	return func(a *Assistant) { a.buffer = b }
}

// WithAccessPolicy replaces the policy built from Config.Security.
func WithAccessPolicy(p ports.AccessPolicy) Option {
	return func(a *Assistant) { a.access = p }
}

// WithMetricsRegistry enables Prometheus instrumentation on reg.
func WithMetricsRegistry(reg prometheus.Registerer) Option {
	return func(a *Assistant) { a.promReg = reg }
}

// New initializes an Assistant from cfg.
func New(cfg Config, opts ...Option) (*Assistant, error) {
	cfg.Normalize()
	a := &Assistant{cfg: cfg}

	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logging.NewNop()
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	if a.access == nil {
		a.access = a.buildPolicy()
	}
	if a.promReg != nil {
		a.metrics = metrics.New(a.promReg)
	}

	a.registry = registry.New(
		registry.WithLogger(a.logger),
		registry.WithSandbox(cfg.Sandbox),
		registry.WithAccessPolicy(a.access),
	)

	protocols := protocol.Builtins()
	if cfg.ProtocolsDir != "" {
		protocols = append(protocols, protocol.LoadDir(cfg.ProtocolsDir, a.logger)...)
	}
	a.engine = protocol.NewEngine(
		protocol.NewCatalog(protocols...),
		a.registry,
		protocol.WithLogger(a.logger),
		protocol.WithAuditLog(protocol.NewAuditLog(filepath.Join(cfg.DataDir, "protocol_runs.jsonl"))),
	)

	a.gateway = a.buildGateway()
	a.memory = a.buildMemory()
	if a.buffer == nil && cfg.Redis.Address != "" {
		a.buffer = redis.New(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
	}

	a.registerBridgeTools()

	orchOpts := []orchestrator.Option{
		orchestrator.WithAccessPolicy(a.access),
		orchestrator.WithMemory(a.memory),
		orchestrator.WithLogger(a.logger),
		orchestrator.WithProtocols(a.engine.Specs()),
	}
	if a.reasoner != nil {
		orchOpts = append(orchOpts, orchestrator.WithReasoner(a.reasoner))
	}
	if a.buffer != nil {
		orchOpts = append(orchOpts, orchestrator.WithBuffer(a.buffer))
	}
	if a.metrics != nil {
		orchOpts = append(orchOpts, orchestrator.WithMetrics(a.metrics))
	}
	a.orch = orchestrator.New(a.registry, orchestrator.Config{
		MainModel:     cfg.Reasoner.MainModel,
		FastModel:     cfg.Reasoner.FastModel,
		MainTimeout:   cfg.Reasoner.MainTimeout.Std(),
		FillTimeout:   cfg.Reasoner.FillTimeout.Std(),
		FastTimeout:   cfg.Reasoner.FastTimeout.Std(),
		LowLatency:    cfg.Reasoner.LowLatency,
		Offline:       cfg.Reasoner.Offline,
		NoReasoner:    cfg.Reasoner.Disabled || a.reasoner == nil,
		PersonaPath:   cfg.PersonaPath,
		OwnerChatID:   cfg.Owner.ChatID,
		OwnerUsername: cfg.Owner.Username,
	}, orchOpts...)

	return a, nil
}

func (a *Assistant) buildPolicy() security.Policy {
	sec := a.cfg.Security
	return security.Policy{
		Enforce:                   *sec.Enforce,
		AllowedTelegramUserIDs:    sec.AllowedTelegramUserIDs,
		AllowedTelegramUsernames:  sec.AllowedTelegramUsernames,
		AllowedSourceIPs:          sec.AllowedSourceIPs,
		RequireTailscaleForRemote: *sec.RequireTailscaleForRemote,
		TailscaleCIDRs:            sec.TailscaleCIDRs,
	}
}

func (a *Assistant) buildGateway() *gateway.Gateway {
	rc := a.cfg.Remote
	transport := a.transport
	if transport == nil && rc.APIKey != "" {
		if rc.RouterMode {
			routerOpts := []gateway.RouterOption{}
			if rc.SessionURL != "" {
				routerOpts = append(routerOpts, gateway.WithSessionURL(rc.SessionURL))
			}
			if rc.EntityID != "" {
				routerOpts = append(routerOpts, gateway.WithEntityID(rc.EntityID))
			}
			transport = gateway.NewRouterTransport(rc.APIKey, rc.ExternalUserID, routerOpts...)
		} else {
			transport = gateway.NewSDKTransport(rc.MCPURL, rc.APIKey, rc.EntityID)
		}
	}

	storeOpts := []continuity.Option{}
	if a.cfg.Owner.ChatID != "" {
		storeOpts = append(storeOpts, continuity.WithFallbackChatIDs(a.cfg.Owner.ChatID))
	}
	state := continuity.NewStore(filepath.Join(a.cfg.DataDir, "continuity.json"), storeOpts...)

	gwOpts := []gateway.Option{
		gateway.WithLogger(a.logger),
		gateway.WithContinuityStore(state),
	}
	if *rc.OutboundQueue {
		gwOpts = append(gwOpts, gateway.WithOutbox(
			outbox.NewQueue(filepath.Join(a.cfg.DataDir, "outbox.jsonl")),
			outbox.NewReceiptLog(filepath.Join(a.cfg.DataDir, "receipts.jsonl")),
		))
	}
	return gateway.New(gateway.Config{
		Enabled:              transport != nil,
		APIKey:               rc.APIKey,
		EntityID:             rc.EntityID,
		ExternalUserID:       rc.ExternalUserID,
		Allowlist:            rc.Allowlist,
		NoauthToolkits:       rc.NoauthToolkits,
		TelegramAuthConfigID: rc.TelegramAuthConfigID,
		GmailAuthConfigID:    rc.GmailAuthConfigID,
		GiphyAuthConfigID:    rc.GiphyAuthConfigID,
		OutboundQueueEnabled: *rc.OutboundQueue,
		OutboundRetryMax:     rc.OutboundRetryMax,
		RetryDelay:           rc.RetryDelay.Std(),
	}, transport, gwOpts...)
}

func (a *Assistant) buildMemory() *memory.Manager {
	mc := a.cfg.Memory
	memOpts := []memory.Option{
		memory.WithLogger(a.logger),
		memory.WithAsyncWrites(),
		memory.WithRedaction(*mc.Redact),
	}
	if mc.MaxItems > 0 {
		memOpts = append(memOpts, memory.WithMaxItems(mc.MaxItems))
	}
	if mc.ReadBudget > 0 {
		memOpts = append(memOpts, memory.WithReadBudget(mc.ReadBudget.Std()))
	}
	return memory.New(filepath.Join(a.cfg.DataDir, "memory.jsonl"), mc.UserID, memOpts...)
}

// registerBridgeTools wires the protocol engine and the remote gateway
// into the registry so deterministic routes and the reasoner can reach
// them through ordinary tool calls.
func (a *Assistant) registerBridgeTools() {
	a.registry.Register(registry.Tool{
		Spec: domain.ToolSpec{
			Name:        "run_protocol",
			Description: "Run a named multi-step automation protocol.",
			Args: map[string]domain.ArgType{
				"name":            domain.ArgString,
				"confirm":         domain.ArgBoolean,
				"dry_run":         domain.ArgBoolean,
				"args":            domain.ArgObject,
				"idempotency_key": domain.ArgString,
			},
			Required:    []string{"name"},
			SideEffects: true,
		},
		Handler: a.runProtocolTool,
	})
	a.registry.Register(registry.Tool{
		Spec: domain.ToolSpec{
			Name:        "mcp_execute",
			Description: "Execute a remote integration tool through the gateway.",
			Args: map[string]domain.ArgType{
				"tool_name":  domain.ArgString,
				"tool_input": domain.ArgObject,
			},
			Required:    []string{"tool_name"},
			SideEffects: true,
		},
		Handler: a.mcpExecuteTool,
	})
}

func (a *Assistant) runProtocolTool(ctx context.Context, inv registry.Invocation) (any, error) {
	name, _ := inv.Args["name"].(string)
	stepArgs, _ := inv.Args["args"].(map[string]any)
	key, _ := inv.Args["idempotency_key"].(string)

	run := a.engine.Run(ctx, protocol.RunRequest{
		Name:           name,
		UserText:       inv.UserText,
		Confirm:        boolArg(inv.Args, "confirm"),
		DryRun:         boolArg(inv.Args, "dry_run"),
		Args:           stepArgs,
		IdempotencyKey: key,
		Source:         inv.Source,
	})

	outcome := "ok"
	if !run.OK {
		outcome = run.ErrorCode
	}
	a.metrics.ProtocolRun(outcome)

	res := domain.ToolResult{
		OK:       run.OK,
		ToolName: "run_protocol",
		Action:   run.Action,
		Sandbox:  run.DryRun,
		Data: map[string]any{
			"protocol": run.Protocol,
			"run":      run,
		},
	}
	if !run.OK {
		res.ErrorCode = run.ErrorCode
		res.Details = run.Details
		res.Missing = run.MissingArgs
	}
	return res, nil
}

func (a *Assistant) mcpExecuteTool(ctx context.Context, inv registry.Invocation) (any, error) {
	toolName, _ := inv.Args["tool_name"].(string)
	input, _ := inv.Args["tool_input"].(map[string]any)
	ctx = gateway.WithTurnID(ctx, uuid.NewString())
	return a.gateway.Execute(ctx, toolName, input), nil
}

// Registry exposes the tool registry so hosts can register leaf tools
// (weather, jokes, desktop actions) before the first turn.
func (a *Assistant) Registry() *registry.Registry {
	return a.registry
}

// Respond resolves one local-console utterance and returns the reply.
func (a *Assistant) Respond(ctx context.Context, userText string) string {
	return a.orch.Respond(ctx, userText, domain.LocalSource())
}

// RespondFrom resolves one utterance attributed to src.
func (a *Assistant) RespondFrom(ctx context.Context, userText string, src domain.SourceContext) string {
	return a.orch.Respond(ctx, userText, src)
}

// Protocols lists the catalog's protocol definitions.
func (a *Assistant) Protocols() []domain.ProtocolSpec {
	return a.engine.Specs()
}

// RunProtocol invokes a protocol directly, outside a conversational turn.
func (a *Assistant) RunProtocol(ctx context.Context, name string, args map[string]any, confirm, dryRun bool) domain.RunResult {
	return a.engine.Run(ctx, protocol.RunRequest{
		Name:    name,
		Confirm: confirm,
		DryRun:  dryRun,
		Args:    args,
		Source:  domain.LocalSource(),
	})
}

// RemoteHealth probes the gateway transport. force bypasses the memoized
// status.
func (a *Assistant) RemoteHealth(ctx context.Context, force bool) gateway.HealthStatus {
	return a.gateway.HealthCheck(ctx, force)
}

// Close flushes pending memory writes. The assistant must not be used
// after Close returns.
func (a *Assistant) Close() {
	a.memory.Close()
}

func boolArg(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "yes" || v == "1"
	default:
		return false
	}
}
