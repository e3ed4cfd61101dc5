package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jivan-ai/nexus/pkg/domain"
)

// routerProtocolVersion is the handshake version the routing service
// expects.
const routerProtocolVersion = "2024-11-05"

// RouterTransport talks JSON-RPC to the remote tool-routing service over
// HTTP. Responses may arrive as plain JSON or as SSE-framed event blocks;
// both are decoded. It implements ports.ToolTransport.
type RouterTransport struct {
	apiKey         string
	entityID       string
	externalUserID string
	client         *http.Client

	// sessionEndpoint creates a new routing session when no session URL
	// is configured.
	sessionEndpoint string
	autoCreate      bool

	mu         sync.Mutex
	sessionURL string
	sessionID  string

	rpcID atomic.Int64
}

// RouterOption configures a RouterTransport.
type RouterOption func(*RouterTransport)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) RouterOption {
	return func(t *RouterTransport) {
		if c != nil {
			t.client = c
		}
	}
}

// WithSessionURL pins an existing session URL, skipping auto-creation.
func WithSessionURL(url string) RouterOption {
	return func(t *RouterTransport) { t.sessionURL = strings.TrimSpace(url) }
}

// WithSessionEndpoint enables session auto-creation against endpoint.
func WithSessionEndpoint(endpoint string) RouterOption {
	return func(t *RouterTransport) {
		t.sessionEndpoint = strings.TrimSpace(endpoint)
		t.autoCreate = t.sessionEndpoint != ""
	}
}

// WithEntityID sets the entity header forwarded on every request.
func WithEntityID(id string) RouterOption {
	return func(t *RouterTransport) { t.entityID = id }
}

// NewRouterTransport creates a router transport. externalUserID identifies
// the session owner during auto-creation.
func NewRouterTransport(apiKey, externalUserID string, opts ...RouterOption) *RouterTransport {
	t := &RouterTransport{
		apiKey:         apiKey,
		externalUserID: externalUserID,
		client:         &http.Client{Timeout: 8 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SessionID returns the id parsed from the session URL, when known.
func (t *RouterTransport) SessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionID
}

// Initialize performs the JSON-RPC handshake on the session channel.
func (t *RouterTransport) Initialize(ctx context.Context) error {
	_, err := t.rpc(ctx, "initialize", map[string]any{
		"protocolVersion": routerProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo":      map[string]any{"name": "nexus", "version": "1.0"},
	})
	if err != nil {
		return asTransportError(err, domain.CodeInitFailed)
	}
	return nil
}

// ListTools fetches the catalog via tools/list.
func (t *RouterTransport) ListTools(ctx context.Context) ([]string, error) {
	result, err := t.rpc(ctx, "tools/list", map[string]any{})
	if err != nil {
		return nil, err
	}
	body, _ := result.(map[string]any)
	items, _ := body["tools"].([]any)
	return extractToolNames(items), nil
}

// CallTool invokes one tool. Router-native tools are called directly;
// everything else goes through the batched execute wrapper the router
// exposes for toolkit slugs.
func (t *RouterTransport) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	if routerNativeTools[strings.ToUpper(name)] {
		result, err := t.rpc(ctx, "tools/call", map[string]any{"name": name, "arguments": args})
		if err != nil {
			return nil, asTransportError(err, domain.CodeExecutionFailed)
		}
		return result, nil
	}

	wrapper := map[string]any{
		"tools":                      []any{map[string]any{"tool_slug": name, "arguments": args}},
		"sync_response_to_workbench": false,
		"thought":                    "Execute " + name,
	}
	result, err := t.rpc(ctx, "tools/call", map[string]any{
		"name":      "COMPOSIO_MULTI_EXECUTE_TOOL",
		"arguments": wrapper,
	})
	if err != nil {
		return nil, asTransportError(err, domain.CodeExecutionFailed)
	}

	parsed := parseBatchedContent(result)
	if parsed != nil {
		if successful, ok := parsed["successful"].(bool); ok && !successful {
			details := "multi_execute_failed"
			if msg, ok := parsed["error"].(string); ok && msg != "" {
				details = msg
			}
			return nil, &TransportError{Code: domain.CodeExecutionFailed, Details: details, Data: parsed}
		}
		return parsed, nil
	}
	if result == nil {
		return map[string]any{}, nil
	}
	return result, nil
}

// parseBatchedContent unwraps the text payload the batched execute wrapper
// returns: {content:[{text:"<json>"}]}.
func parseBatchedContent(result any) map[string]any {
	body, ok := result.(map[string]any)
	if !ok {
		return nil
	}
	content, ok := body["content"].([]any)
	if !ok || len(content) == 0 {
		return nil
	}
	var text string
	if first, ok := content[0].(map[string]any); ok {
		text, _ = first["text"].(string)
	} else {
		text = fmt.Sprintf("%v", content[0])
	}
	if text == "" {
		return nil
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil
	}
	return parsed
}

// rpc performs one JSON-RPC call on the session channel, creating the
// session first when needed.
func (t *RouterTransport) rpc(ctx context.Context, method string, params map[string]any) (any, error) {
	url, err := t.ensureSession(ctx)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      t.rpcID.Add(1),
		"method":  method,
	}
	if params != nil {
		payload["params"] = params
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &TransportError{Code: domain.CodeRouterRequestFailed, Details: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Code: domain.CodeRouterRequestFailed, Details: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", t.apiKey)
	// The router may answer JSON-RPC calls with SSE framing.
	req.Header.Set("Accept", "application/json, text/event-stream")
	if t.entityID != "" {
		req.Header.Set("x-composio-entity-id", t.entityID)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &TransportError{Code: domain.CodeRouterRequestFailed, Details: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Code: domain.CodeRouterRequestFailed, Details: err.Error()}
	}
	if resp.StatusCode >= 400 {
		return nil, &TransportError{
			Code:    domain.CodeRouterRequestFailed,
			Details: fmt.Sprintf("status %d", resp.StatusCode),
		}
	}

	data, err := decodeRouterResponse(raw)
	if err != nil {
		return nil, &TransportError{Code: domain.CodeRouterRequestFailed, Details: err.Error()}
	}
	obj, ok := data.(map[string]any)
	if !ok {
		return nil, &TransportError{Code: domain.CodeRouterInvalidResponse}
	}
	if rpcErr, present := obj["error"]; present && rpcErr != nil {
		msg := ""
		if errObj, ok := rpcErr.(map[string]any); ok {
			msg, _ = errObj["message"].(string)
		} else {
			msg = fmt.Sprintf("%v", rpcErr)
		}
		return nil, &TransportError{Code: domain.CodeRouterError, Details: msg}
	}
	return obj["result"], nil
}

var hexEscapeRe = regexp.MustCompile(`\\x([0-9a-fA-F]{2})`)

// decodeRouterResponse decodes a plain JSON body, or falls back to SSE
// framing: "data:" lines grouped into blank-line-delimited blocks, newest
// block first. Some providers emit raw \xNN escapes inside JSON strings;
// those are re-escaped and the parse retried.
func decodeRouterResponse(raw []byte) (any, error) {
	var direct any
	if err := json.Unmarshal(raw, &direct); err == nil {
		return direct, nil
	}

	text := string(raw)
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("empty response body")
	}

	var blocks []string
	var current []string
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "data:") {
			current = append(current, strings.TrimSpace(line[len("data:"):]))
			continue
		}
		if strings.TrimSpace(line) == "" && len(current) > 0 {
			blocks = append(blocks, strings.Join(current, "\n"))
			current = nil
		}
	}
	if len(current) > 0 {
		blocks = append(blocks, strings.Join(current, "\n"))
	}
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no parseable payload in response")
	}

	var lastErr error
	for i := len(blocks) - 1; i >= 0; i-- {
		var parsed any
		if err := json.Unmarshal([]byte(blocks[i]), &parsed); err == nil {
			return parsed, nil
		} else {
			lastErr = err
		}
		fixed := hexEscapeRe.ReplaceAllString(blocks[i], `\\x$1`)
		var reparsed any
		if err := json.Unmarshal([]byte(fixed), &reparsed); err == nil {
			return reparsed, nil
		}
	}
	return nil, lastErr
}

// ensureSession returns the session URL, creating one through the session
// endpoint on first use when auto-creation is configured.
func (t *RouterTransport) ensureSession(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sessionURL != "" {
		return t.sessionURL, nil
	}
	if !t.autoCreate {
		return "", &TransportError{Code: domain.CodeMissingRouterURL}
	}
	if t.apiKey == "" {
		return "", &TransportError{Code: domain.CodeMissingAPIKey}
	}
	if t.externalUserID == "" {
		return "", &TransportError{Code: domain.CodeMissingUserID}
	}

	body, err := json.Marshal(map[string]any{"user_id": t.externalUserID})
	if err != nil {
		return "", &TransportError{Code: domain.CodeSessionCreateFailed, Details: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.sessionEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", &TransportError{Code: domain.CodeSessionCreateFailed, Details: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", &TransportError{Code: domain.CodeSessionCreateFailed, Details: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransportError{Code: domain.CodeSessionCreateFailed, Details: err.Error()}
	}
	if resp.StatusCode >= 400 {
		return "", &TransportError{
			Code:    domain.CodeSessionCreateFailed,
			Details: fmt.Sprintf("status %d", resp.StatusCode),
		}
	}

	var session map[string]any
	if err := json.Unmarshal(raw, &session); err != nil {
		return "", &TransportError{Code: domain.CodeSessionCreateFailed, Details: err.Error()}
	}
	url := extractSessionURL(session)
	if url == "" {
		return "", &TransportError{Code: domain.CodeSessionMissingURL}
	}
	t.sessionURL = url
	if t.sessionID == "" {
		t.sessionID = sessionIDFromURL(url)
	}
	return t.sessionURL, nil
}

// extractSessionURL finds the session channel URL in a session-creation
// response, at the top level or nested under "mcp".
func extractSessionURL(session map[string]any) string {
	for _, key := range []string{"url", "endpoint", "mcp_url"} {
		if v, ok := session[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	if nested, ok := session["mcp"].(map[string]any); ok {
		return extractSessionURL(nested)
	}
	if s, ok := session["mcp"].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func sessionIDFromURL(url string) string {
	const marker = "/tool_router/"
	idx := strings.Index(url, marker)
	if idx < 0 {
		return ""
	}
	tail := url[idx+len(marker):]
	if cut := strings.Index(tail, "/mcp"); cut >= 0 {
		tail = tail[:cut]
	}
	return strings.TrimSpace(tail)
}
