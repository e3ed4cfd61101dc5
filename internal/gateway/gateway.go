// Package gateway routes tool calls to a remote tool-execution service.
// It resolves symbolic tool names against the discoverable catalog, applies
// the allow-list, enriches continuity-sensitive calls, and journals
// outbound deliveries through the durable queue before attempting them.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jivan-ai/nexus/internal/continuity"
	"github.com/jivan-ai/nexus/internal/logging"
	"github.com/jivan-ai/nexus/internal/outbox"
	"github.com/jivan-ai/nexus/pkg/domain"
	"github.com/jivan-ai/nexus/pkg/ports"
)

// TransportError is a coded failure from a transport adapter. The gateway
// surfaces Code inside the result envelope instead of raising.
type TransportError struct {
	Code    string
	Details string
	Data    any
}

func (e *TransportError) Error() string {
	if e.Details == "" {
		return e.Code
	}
	return e.Code + ": " + e.Details
}

// Config carries the gateway's static settings.
type Config struct {
	Enabled        bool
	APIKey         string
	EntityID       string
	ExternalUserID string

	// Allowlist holds exact names and trailing-* prefix rules. Empty
	// means every tool is allowed.
	Allowlist []string
	// NoauthToolkits are capability names whose discovered tools are
	// implicitly allowed.
	NoauthToolkits []string

	TelegramAuthConfigID string
	GmailAuthConfigID    string
	GiphyAuthConfigID    string

	OutboundQueueEnabled bool
	OutboundRetryMax     int
	RetryDelay           time.Duration
}

// Gateway executes remote tool calls through one transport adapter chosen
// at construction.
type Gateway struct {
	cfg       Config
	transport ports.ToolTransport
	state     *continuity.Store
	queue     *outbox.Queue
	receipts  *outbox.ReceiptLog
	logger    *slog.Logger
	now       func() time.Time
	sleep     func(context.Context, time.Duration)

	initMu      sync.Mutex
	initialized bool

	healthMu sync.Mutex
	health   *HealthStatus
	healthTS time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithContinuityStore attaches the messaging continuity state store.
func WithContinuityStore(s *continuity.Store) Option {
	return func(g *Gateway) { g.state = s }
}

// WithOutbox attaches the durable outbound queue and its receipt log.
func WithOutbox(q *outbox.Queue, r *outbox.ReceiptLog) Option {
	return func(g *Gateway) {
		g.queue = q
		g.receipts = r
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// New creates a gateway over transport. A nil transport yields
// sdk_unavailable results for every call.
func New(cfg Config, transport ports.ToolTransport, opts ...Option) *Gateway {
	if cfg.OutboundRetryMax < 0 {
		cfg.OutboundRetryMax = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	g := &Gateway{
		cfg:       cfg,
		transport: transport,
		logger:    logging.NewNop(),
		now:       time.Now,
		sleep: func(ctx context.Context, d time.Duration) {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-t.C:
			}
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// ensureInitialized performs the transport handshake once per process.
// Only success is memoized; a failed handshake is retried on the next call.
func (g *Gateway) ensureInitialized(ctx context.Context) error {
	g.initMu.Lock()
	defer g.initMu.Unlock()
	if g.initialized {
		return nil
	}
	if err := g.transport.Initialize(ctx); err != nil {
		return err
	}
	g.initialized = true
	return nil
}

// ListResult is the catalog listing outcome.
type ListResult struct {
	OK        bool
	Tools     []string
	ErrorCode string
	Details   string
}

// ListTools returns the allowed remote tool names: the transport-discovered
// catalog filtered by the allow-list, merged with the explicit allow-list
// entries so configured names stay discoverable during partial listings.
func (g *Gateway) ListTools(ctx context.Context) ListResult {
	if !g.cfg.Enabled {
		return ListResult{ErrorCode: domain.CodeDisabled}
	}
	if g.cfg.APIKey == "" {
		return ListResult{ErrorCode: domain.CodeMissingAPIKey}
	}
	if g.transport == nil {
		return ListResult{ErrorCode: domain.CodeSDKUnavail}
	}

	var merged []string
	var firstErr *TransportError

	if err := g.ensureInitialized(ctx); err != nil {
		firstErr = asTransportError(err, domain.CodeInitFailed)
	} else {
		names, err := g.transport.ListTools(ctx)
		if err != nil {
			firstErr = asTransportError(err, domain.CodeListToolsFailed)
		} else {
			for _, name := range names {
				if g.isAllowed(name) {
					merged = append(merged, name)
				}
			}
		}
	}

	for _, rule := range g.cfg.Allowlist {
		rule = strings.TrimSpace(rule)
		if rule != "" && !strings.HasSuffix(rule, "*") {
			merged = append(merged, rule)
		}
	}

	deduped := dedupeSorted(merged)
	if len(deduped) > 0 {
		return ListResult{OK: true, Tools: deduped}
	}
	if firstErr != nil {
		return ListResult{ErrorCode: firstErr.Code, Details: firstErr.Details}
	}
	return ListResult{ErrorCode: domain.CodeNoToolsAvailable}
}

// Execute runs one remote tool call end to end: resolution, enrichment,
// policy, transport dispatch, and continuity update. It never returns an
// error; every failure is a coded envelope.
func (g *Gateway) Execute(ctx context.Context, toolName string, toolInput map[string]any) domain.ToolResult {
	requested := strings.TrimSpace(toolName)
	if requested == "" {
		return domain.FailResult("", domain.CodeMissingToolName, "")
	}
	if !g.cfg.Enabled {
		return domain.FailResult(requested, domain.CodeDisabled, "")
	}
	if g.cfg.APIKey == "" {
		return domain.FailResult(requested, domain.CodeMissingAPIKey, "")
	}
	if toolInput == nil {
		toolInput = map[string]any{}
	}

	resolved, rerr := g.resolveToolName(ctx, requested, toolInput)
	if rerr != nil {
		return domain.FailResult(requested, domain.CodeResolutionFailed, rerr.Code+": "+rerr.Details)
	}

	args := g.applyDefaultAuthConfig(requested, resolved, toolInput)
	if isTelegramTool(resolved) {
		args = g.prepareTelegramArgs(resolved, args)
	}
	args = stripMetaArgs(args)

	if !g.isAllowed(resolved) {
		return domain.FailResult(resolved, domain.CodeToolNotAllowed, "")
	}
	if g.transport == nil {
		return domain.FailResult(resolved, domain.CodeSDKUnavail, "")
	}

	res := g.executeWithOutbound(ctx, resolved, args)
	g.updateTelegramState(resolved, res)
	return res
}

// outbound action tools are journaled and retried; everything else gets a
// single attempt.
func isOutboundActionTool(name string) bool {
	up := strings.ToUpper(name)
	return strings.HasPrefix(up, "TELEGRAM_SEND_") || strings.HasPrefix(up, "GMAIL_SEND_")
}

func (g *Gateway) executeWithOutbound(ctx context.Context, toolName string, args map[string]any) domain.ToolResult {
	outbound := isOutboundActionTool(toolName)

	jobID := ""
	if outbound && g.cfg.OutboundQueueEnabled && g.queue != nil {
		id, _, err := g.queue.Enqueue("composio", toolName, args)
		if err != nil {
			g.logger.Warn("outbound enqueue failed", "tool", toolName, "err", err)
		} else {
			jobID = id
		}
	}

	attempts := 1
	if outbound {
		attempts = g.cfg.OutboundRetryMax + 1
	}

	last := domain.FailResult(toolName, domain.CodeExecutionFailed, "")
	for i := 0; i < attempts; i++ {
		last = g.callOnce(ctx, toolName, args)
		if last.OK {
			break
		}
		if jobID != "" && g.queue != nil {
			if err := g.queue.MarkAttempt(jobID); err != nil {
				g.logger.Warn("outbound attempt mark failed", "job", jobID, "err", err)
			}
		}
		if i < attempts-1 {
			g.sleep(ctx, g.cfg.RetryDelay)
		}
	}

	if jobID != "" && last.OK && g.queue != nil {
		if err := g.queue.Remove(jobID); err != nil {
			g.logger.Warn("outbound dequeue failed", "job", jobID, "err", err)
		}
	}
	if outbound && g.receipts != nil {
		g.receipts.Record(turnID(ctx), "composio", toolName, last.OK, map[string]any{
			"error_code": last.ErrorCode,
			"job_id":     jobID,
		})
	}
	return last
}

// callOnce performs one transport dispatch after the memoized handshake.
func (g *Gateway) callOnce(ctx context.Context, toolName string, args map[string]any) domain.ToolResult {
	if err := g.ensureInitialized(ctx); err != nil {
		te := asTransportError(err, domain.CodeInitFailed)
		return domain.FailResult(toolName, te.Code, te.Details)
	}
	data, err := g.transport.CallTool(ctx, toolName, args)
	if err != nil {
		te := asTransportError(err, domain.CodeExecutionFailed)
		res := domain.FailResult(toolName, te.Code, te.Details)
		res.Data = te.Data
		return res
	}
	return domain.OKResult(toolName, data)
}

// HealthStatus reports remote connectivity.
type HealthStatus struct {
	Enabled bool   `json:"enabled"`
	OK      bool   `json:"ok"`
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

// HealthCheck probes the remote catalog. Results are cached for 30 seconds
// unless force is set.
func (g *Gateway) HealthCheck(ctx context.Context, force bool) HealthStatus {
	g.healthMu.Lock()
	defer g.healthMu.Unlock()

	if !force && g.health != nil && g.now().Sub(g.healthTS) < 30*time.Second {
		return *g.health
	}

	var status HealthStatus
	switch {
	case !g.cfg.Enabled:
		status = HealthStatus{Status: "disabled"}
	case g.cfg.APIKey == "":
		status = HealthStatus{Enabled: true, Status: domain.CodeMissingAPIKey}
	case g.transport == nil:
		status = HealthStatus{Enabled: true, Status: domain.CodeSDKUnavail}
	default:
		probe := g.ListTools(ctx)
		if probe.OK {
			status = HealthStatus{Enabled: true, OK: true, Status: "connected"}
		} else {
			status = HealthStatus{Enabled: true, Status: probe.ErrorCode, Details: probe.Details}
		}
	}

	g.health = &status
	g.healthTS = g.now()
	return status
}

// stripMetaArgs drops private underscore-prefixed arguments before a call
// leaves the process.
func stripMetaArgs(args map[string]any) map[string]any {
	clean := make(map[string]any, len(args))
	for k, v := range args {
		if strings.HasPrefix(k, "_") {
			continue
		}
		clean[k] = v
	}
	return clean
}

func (g *Gateway) applyDefaultAuthConfig(requested, resolved string, args map[string]any) map[string]any {
	out := make(map[string]any, len(args)+1)
	for k, v := range args {
		out[k] = v
	}
	if v, ok := out["auth_config_id"]; ok && fmt.Sprintf("%v", v) != "" {
		return out
	}

	reqUp := strings.ToUpper(requested)
	resUp := strings.ToUpper(resolved)
	if strings.HasPrefix(resUp, "TELEGRAM_") && g.cfg.TelegramAuthConfigID != "" {
		out["auth_config_id"] = g.cfg.TelegramAuthConfigID
	}
	if strings.HasPrefix(resUp, "GMAIL_") && g.cfg.GmailAuthConfigID != "" {
		out["auth_config_id"] = g.cfg.GmailAuthConfigID
	}
	if (strings.HasPrefix(reqUp, symbolicPrefix+"GIPHY") || strings.HasPrefix(resUp, "GIPHY_")) && g.cfg.GiphyAuthConfigID != "" {
		out["auth_config_id"] = g.cfg.GiphyAuthConfigID
	}
	return out
}

func asTransportError(err error, defaultCode string) *TransportError {
	if te, ok := err.(*TransportError); ok {
		return te
	}
	return &TransportError{Code: defaultCode, Details: err.Error()}
}

func dedupeSorted(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, dup := seen[item]; dup {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

type turnIDKey struct{}

// WithTurnID tags ctx with the current turn id for receipt attribution.
func WithTurnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, turnIDKey{}, id)
}

func turnID(ctx context.Context) string {
	if id, ok := ctx.Value(turnIDKey{}).(string); ok {
		return id
	}
	return ""
}
