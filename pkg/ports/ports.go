// Package ports defines the interfaces between the orchestration core and
// its collaborators. The core consumes these contracts; the host process (or
// an adapter under internal/) supplies implementations.
package ports

import (
	"context"
	"time"

	"github.com/jivan-ai/nexus/pkg/domain"
)

// CompletionRequest is one reasoning call. The core never inspects transport
// details; it only needs text in, text out, with a timeout.
type CompletionRequest struct {
	Model    string
	Messages []domain.Message
	Timeout  time.Duration
}

// Reasoner is the external reasoning function. An error return means the
// call failed in a way the orchestrator treats as "brain unavailable".
type Reasoner interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ReasonerFunc adapts a plain function to the Reasoner interface.
type ReasonerFunc func(ctx context.Context, req CompletionRequest) (string, error)

func (f ReasonerFunc) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return f(ctx, req)
}

// ToolRunner dispatches one tool call. Implemented by the registry (leaf
// tools) and consumed by the protocol engine and the orchestrator.
type ToolRunner interface {
	Run(ctx context.Context, call domain.ToolCall, userText string, src domain.SourceContext) domain.ToolResult
}

// AccessPolicy is checked once per turn before any processing. A denial
// returns a machine reason code, not a user-facing sentence.
type AccessPolicy interface {
	Allowed(src domain.SourceContext) (bool, string)
}

// AccessPolicyFunc adapts a function to AccessPolicy.
type AccessPolicyFunc func(src domain.SourceContext) (bool, string)

func (f AccessPolicyFunc) Allowed(src domain.SourceContext) (bool, string) { return f(src) }

// ConversationBuffer is an optional durable conversation history. All
// methods are best-effort: failures degrade to in-process history only.
type ConversationBuffer interface {
	Append(ctx context.Context, msg domain.Message) error
	Read(ctx context.Context, maxItems int) ([]domain.Message, error)
}

// Snippet is one retrieved long-term-memory fact.
type Snippet struct {
	Text     string   `json:"text"`
	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

// LongTermMemory is the optional learning collaborator. Both methods are
// best-effort and never fatal to a turn.
type LongTermMemory interface {
	RetrieveContext(ctx context.Context, query string) ([]Snippet, error)
	LearnTurn(ctx context.Context, userText, reply string, toolResult *domain.ToolResult) error
}

// ToolTransport is the narrow remote tool-routing contract. One concrete
// adapter exists per transport (JSON-RPC router, direct SDK); the gateway
// selects an adapter once at construction, never per call.
type ToolTransport interface {
	// Initialize performs the session handshake. It must be idempotent;
	// the gateway memoizes it per process.
	Initialize(ctx context.Context) error

	// ListTools returns the remote catalog's tool names.
	ListTools(ctx context.Context) ([]string, error)

	// CallTool invokes one remote tool and returns its raw result payload.
	CallTool(ctx context.Context, name string, args map[string]any) (any, error)
}
