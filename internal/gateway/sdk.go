package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jivan-ai/nexus/pkg/domain"
)

// SDKTransport is the direct-SDK adapter: it speaks the tool protocol
// through the upstream client library over a streamable HTTP channel,
// instead of hand-rolled JSON-RPC. It implements ports.ToolTransport.
type SDKTransport struct {
	url     string
	headers map[string]string

	mu     sync.Mutex
	client *mcpclient.Client
}

// NewSDKTransport creates a direct-SDK transport against url. apiKey and
// entityID are forwarded as request headers.
func NewSDKTransport(url, apiKey, entityID string) *SDKTransport {
	headers := map[string]string{}
	if apiKey != "" {
		headers["x-api-key"] = apiKey
	}
	if entityID != "" {
		headers["x-composio-entity-id"] = entityID
	}
	return &SDKTransport{url: url, headers: headers}
}

func (t *SDKTransport) ensureClient(ctx context.Context) (*mcpclient.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}
	c, err := mcpclient.NewStreamableHttpClient(t.url, transport.WithHTTPHeaders(t.headers))
	if err != nil {
		return nil, &TransportError{Code: domain.CodeSDKUnavail, Details: err.Error()}
	}
	if err := c.Start(ctx); err != nil {
		return nil, &TransportError{Code: domain.CodeSDKUnavail, Details: err.Error()}
	}
	t.client = c
	return c, nil
}

// Initialize performs the protocol handshake.
func (t *SDKTransport) Initialize(ctx context.Context) error {
	c, err := t.ensureClient(ctx)
	if err != nil {
		return err
	}
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.Capabilities = mcp.ClientCapabilities{}
	req.Params.ClientInfo = mcp.Implementation{Name: "nexus", Version: "1.0"}
	if _, err := c.Initialize(ctx, req); err != nil {
		return &TransportError{Code: domain.CodeInitFailed, Details: err.Error()}
	}
	return nil
}

// ListTools returns the remote catalog names.
func (t *SDKTransport) ListTools(ctx context.Context) ([]string, error) {
	c, err := t.ensureClient(ctx)
	if err != nil {
		return nil, err
	}
	res, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, &TransportError{Code: domain.CodeListToolsFailed, Details: err.Error()}
	}
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		if name := strings.TrimSpace(tool.Name); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// CallTool invokes one remote tool and returns its decoded payload.
func (t *SDKTransport) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	c, err := t.ensureClient(ctx)
	if err != nil {
		return nil, err
	}
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.CallTool(ctx, req)
	if err != nil {
		return nil, &TransportError{Code: domain.CodeExecutionFailed, Details: err.Error()}
	}

	text := contentText(res.Content)
	if res.IsError {
		return nil, &TransportError{Code: domain.CodeExecutionFailed, Details: text}
	}
	if text == "" {
		return map[string]any{}, nil
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(text), &parsed); err == nil {
		return parsed, nil
	}
	return text, nil
}

func contentText(content []mcp.Content) string {
	var parts []string
	for _, item := range content {
		if tc, ok := item.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
