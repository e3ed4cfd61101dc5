package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jivan-ai/nexus/pkg/domain"
)

func readRPC(r *http.Request) map[string]any {
	body, _ := io.ReadAll(r.Body)
	var req map[string]any
	_ = json.Unmarshal(body, &req)
	return req
}

func writeRPC(w http.ResponseWriter, req map[string]any, result any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      req["id"],
		"result":  result,
	})
}

func TestRouterTransportListTools(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := readRPC(r)
		methods = append(methods, req["method"].(string))

		switch req["method"] {
		case "initialize":
			writeRPC(w, req, map[string]any{"protocolVersion": routerProtocolVersion})
		case "tools/list":
			writeRPC(w, req, map[string]any{
				"tools": []any{
					"TELEGRAM_SEND_MESSAGE",
					map[string]any{"name": "GIPHY_SEARCH"},
					map[string]any{"function": map[string]any{"name": "YELP_QUERY"}},
					map[string]any{"irrelevant": true},
				},
			})
		}
	}))
	defer srv.Close()

	tr := NewRouterTransport("key", "user", WithSessionURL(srv.URL))
	require.NoError(t, tr.Initialize(context.Background()))

	names, err := tr.ListTools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"TELEGRAM_SEND_MESSAGE", "GIPHY_SEARCH", "YELP_QUERY"}, names)
	assert.Equal(t, []string{"initialize", "tools/list"}, methods)
}

func TestRouterTransportCallTool(t *testing.T) {
	t.Run("toolkit slug goes through the batched wrapper", func(t *testing.T) {
		var lastParams map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := readRPC(r)
			lastParams, _ = req["params"].(map[string]any)

			inner, _ := json.Marshal(map[string]any{
				"successful": true,
				"data":       map[string]any{"ok": true},
			})
			writeRPC(w, req, map[string]any{
				"content": []any{map[string]any{"type": "text", "text": string(inner)}},
			})
		}))
		defer srv.Close()

		tr := NewRouterTransport("key", "user", WithSessionURL(srv.URL))
		data, err := tr.CallTool(context.Background(), "TELEGRAM_SEND_MESSAGE", map[string]any{"text": "hi"})
		require.NoError(t, err)

		assert.Equal(t, "COMPOSIO_MULTI_EXECUTE_TOOL", lastParams["name"])
		wrapper := lastParams["arguments"].(map[string]any)
		tools := wrapper["tools"].([]any)
		first := tools[0].(map[string]any)
		assert.Equal(t, "TELEGRAM_SEND_MESSAGE", first["tool_slug"])
		assert.Equal(t, false, wrapper["sync_response_to_workbench"])

		parsed := data.(map[string]any)
		assert.Equal(t, true, parsed["successful"])
	})

	t.Run("native router tool is called directly", func(t *testing.T) {
		var lastParams map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := readRPC(r)
			lastParams, _ = req["params"].(map[string]any)
			writeRPC(w, req, map[string]any{"done": true})
		}))
		defer srv.Close()

		tr := NewRouterTransport("key", "user", WithSessionURL(srv.URL))
		data, err := tr.CallTool(context.Background(), "COMPOSIO_SEARCH_TOOLS", map[string]any{"query": "x"})
		require.NoError(t, err)
		assert.Equal(t, "COMPOSIO_SEARCH_TOOLS", lastParams["name"])
		assert.Equal(t, map[string]any{"done": true}, data)
	})

	t.Run("unsuccessful batched payload is a coded failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := readRPC(r)
			inner, _ := json.Marshal(map[string]any{"successful": false, "error": "chat not found"})
			writeRPC(w, req, map[string]any{
				"content": []any{map[string]any{"type": "text", "text": string(inner)}},
			})
		}))
		defer srv.Close()

		tr := NewRouterTransport("key", "user", WithSessionURL(srv.URL))
		_, err := tr.CallTool(context.Background(), "TELEGRAM_SEND_MESSAGE", nil)
		require.Error(t, err)
		te, ok := err.(*TransportError)
		require.True(t, ok)
		assert.Equal(t, domain.CodeExecutionFailed, te.Code)
		assert.Equal(t, "chat not found", te.Details)
	})

	t.Run("rpc error object maps to router_error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := readRPC(r)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      req["id"],
				"error":   map[string]any{"code": -32000, "message": "session expired"},
			})
		}))
		defer srv.Close()

		tr := NewRouterTransport("key", "user", WithSessionURL(srv.URL))
		err := tr.Initialize(context.Background())
		require.Error(t, err)
		te := err.(*TransportError)
		assert.Equal(t, domain.CodeRouterError, te.Code)
		assert.Equal(t, "session expired", te.Details)
	})

	t.Run("http failure maps to router_request_failed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		tr := NewRouterTransport("key", "user", WithSessionURL(srv.URL))
		_, err := tr.ListTools(context.Background())
		require.Error(t, err)
		te := err.(*TransportError)
		assert.Equal(t, domain.CodeRouterRequestFailed, te.Code)
	})
}

func TestRouterTransportSSEFallback(t *testing.T) {
	t.Run("last well-formed block wins", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Write([]byte("event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"tools\":[]}}\n\n" +
				"event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"tools\":[\"GIPHY_SEARCH\"]}}\n\n"))
		}))
		defer srv.Close()

		tr := NewRouterTransport("key", "user", WithSessionURL(srv.URL))
		names, err := tr.ListTools(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []string{"GIPHY_SEARCH"}, names)
	})

	t.Run("raw hex escapes are normalized and reparsed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Write([]byte("data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{\"tools\":[\"A\\xe9B\"]}}\n\n"))
		}))
		defer srv.Close()

		tr := NewRouterTransport("key", "user", WithSessionURL(srv.URL))
		names, err := tr.ListTools(context.Background())
		require.NoError(t, err)
		require.Len(t, names, 1)
	})
}

func TestRouterTransportSessionBootstrap(t *testing.T) {
	t.Run("auto-creates session and reuses it", func(t *testing.T) {
		var sessionCalls int
		var rpcCalls int

		mux := http.NewServeMux()
		srv := httptest.NewServer(mux)
		defer srv.Close()

		mux.HandleFunc("/sessions", func(w http.ResponseWriter, r *http.Request) {
			sessionCalls++
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "user-1", body["user_id"])
			assert.Equal(t, "key", r.Header.Get("x-api-key"))
			json.NewEncoder(w).Encode(map[string]any{
				"mcp": map[string]any{"url": srv.URL + "/tool_router/sess-9/mcp"},
			})
		})
		mux.HandleFunc("/tool_router/sess-9/mcp", func(w http.ResponseWriter, r *http.Request) {
			rpcCalls++
			writeRPC(w, readRPC(r), map[string]any{"tools": []any{}})
		})

		tr := NewRouterTransport("key", "user-1", WithSessionEndpoint(srv.URL+"/sessions"))
		_, err := tr.ListTools(context.Background())
		require.NoError(t, err)
		_, err = tr.ListTools(context.Background())
		require.NoError(t, err)

		assert.Equal(t, 1, sessionCalls, "session is created once and cached")
		assert.Equal(t, 2, rpcCalls)
		assert.Equal(t, "sess-9", tr.SessionID())
	})

	t.Run("no session and no auto-create", func(t *testing.T) {
		tr := NewRouterTransport("key", "user")
		_, err := tr.ListTools(context.Background())
		require.Error(t, err)
		assert.Equal(t, domain.CodeMissingRouterURL, err.(*TransportError).Code)
	})

	t.Run("session response without url", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"mcp": map[string]any{}})
		}))
		defer srv.Close()

		tr := NewRouterTransport("key", "user", WithSessionEndpoint(srv.URL))
		_, err := tr.ListTools(context.Background())
		require.Error(t, err)
		assert.Equal(t, domain.CodeSessionMissingURL, err.(*TransportError).Code)
	})

	t.Run("missing external user id", func(t *testing.T) {
		tr := NewRouterTransport("key", "", WithSessionEndpoint("http://localhost:1/sessions"))
		_, err := tr.ListTools(context.Background())
		require.Error(t, err)
		assert.Equal(t, domain.CodeMissingUserID, err.(*TransportError).Code)
	})
}

func TestDecodeRouterResponse(t *testing.T) {
	t.Run("plain json", func(t *testing.T) {
		data, err := decodeRouterResponse([]byte(`{"result": 1}`))
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"result": float64(1)}, data)
	})

	t.Run("unparseable", func(t *testing.T) {
		_, err := decodeRouterResponse([]byte("not json at all"))
		assert.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := decodeRouterResponse([]byte("  \n"))
		assert.Error(t, err)
	})
}
