package nexus_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jivan-ai/nexus"
	"github.com/jivan-ai/nexus/pkg/domain"
	"github.com/jivan-ai/nexus/pkg/registry"
)

func newTestAssistant(t *testing.T) *nexus.Assistant {
	t.Helper()
	a, err := nexus.New(nexus.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestRespond_Smalltalk(t *testing.T) {
	a := newTestAssistant(t)
	reply := a.Respond(context.Background(), "hello")
	assert.Equal(t, "Hello. How can I help?", reply)
}

func TestRespond_LeafToolRoute(t *testing.T) {
	a := newTestAssistant(t)
	a.Registry().Register(registry.Tool{
		Spec: domain.ToolSpec{
			Name:        "get_time",
			Description: "Current local time.",
		},
		Handler: func(ctx context.Context, inv registry.Invocation) (any, error) {
			return map[string]any{"time": "10:30"}, nil
		},
	})

	reply := a.Respond(context.Background(), "what time is it")
	assert.Contains(t, reply, "10:30")
}

func TestRunProtocolBridge(t *testing.T) {
	ctx := context.Background()
	a := newTestAssistant(t)

	t.Run("unconfirmed run is rejected", func(t *testing.T) {
		res := a.Registry().Run(ctx, domain.ToolCall{
			Name: "run_protocol",
			Args: map[string]any{"name": "monday"},
		}, "run protocol monday", domain.LocalSource())
		assert.False(t, res.OK)
		assert.Equal(t, domain.CodeConfirmationRequired, res.ErrorCode)
	})

	t.Run("dry run describes steps without executing", func(t *testing.T) {
		res := a.Registry().Run(ctx, domain.ToolCall{
			Name: "run_protocol",
			Args: map[string]any{"name": "monday", "confirm": true, "dry_run": true},
		}, "run protocol monday", domain.LocalSource())
		require.True(t, res.OK)
		assert.True(t, res.Sandbox)

		data, ok := res.Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "monday", data["protocol"])
	})

	t.Run("guest role cannot reach the bridge", func(t *testing.T) {
		guest := domain.LocalSource()
		guest.Role = "guest"
		res := a.Registry().Run(ctx, domain.ToolCall{
			Name: "run_protocol",
			Args: map[string]any{"name": "monday", "confirm": true},
		}, "run protocol monday", guest)
		assert.Equal(t, domain.CodeOwnerRoleRequired, res.ErrorCode)
	})
}

func TestMCPExecuteBridge_DisabledWithoutTransport(t *testing.T) {
	a := newTestAssistant(t)
	res := a.Registry().Run(context.Background(), domain.ToolCall{
		Name: "mcp_execute",
		Args: map[string]any{"tool_name": "AUTO:codeinterpreter"},
	}, "run some code", domain.LocalSource())
	assert.False(t, res.OK)
	assert.Equal(t, domain.CodeDisabled, res.ErrorCode)
}

func TestProtocolsCatalog(t *testing.T) {
	a := newTestAssistant(t)
	names := make([]string, 0)
	for _, spec := range a.Protocols() {
		names = append(names, spec.Name)
	}
	assert.Contains(t, names, "monday")
	assert.Contains(t, names, "monday_morning")
}

func TestRunProtocolDirect(t *testing.T) {
	a := newTestAssistant(t)
	result := a.RunProtocol(context.Background(), "no_such_protocol", nil, true, false)
	assert.False(t, result.OK)
	assert.Equal(t, domain.CodeUnknownProtocol, result.ErrorCode)
}
