package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer() *Server {
	return NewServer(ServerInfo{Name: "docbro", Version: "1.0.0"}, DefaultReadOnlyCapabilities(), nil)
}

func dispatch(t *testing.T, s *Server, raw string) *Response {
	t.Helper()
	return s.Dispatch(context.Background(), []byte(raw))
}

func initialize(t *testing.T, s *Server) *Response {
	t.Helper()
	resp := dispatch(t, s, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test","version":"0"}}}`)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)
	return resp
}

func TestInitializationGate(t *testing.T) {
	s := newTestServer()
	s.Register("tools/list", func(context.Context, json.RawMessage) (any, error) {
		return map[string]any{"tools": []string{}}, nil
	})

	t.Run("gated before handshake", func(t *testing.T) {
		resp := dispatch(t, s, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
		require.NotNil(t, resp)
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeServerNotInitialized, resp.Error.Code)
	})

	t.Run("unregistered method is also gated", func(t *testing.T) {
		resp := dispatch(t, s, `{"jsonrpc":"2.0","id":2,"method":"resources/read"}`)
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeServerNotInitialized, resp.Error.Code)
	})

	t.Run("ping works before handshake", func(t *testing.T) {
		resp := dispatch(t, s, `{"jsonrpc":"2.0","id":3,"method":"ping"}`)
		require.NotNil(t, resp)
		assert.Nil(t, resp.Error)
	})

	t.Run("handshake opens the gate", func(t *testing.T) {
		resp := initialize(t, s)

		raw, err := json.Marshal(resp.Result)
		require.NoError(t, err)
		var result InitializeResult
		require.NoError(t, json.Unmarshal(raw, &result))
		assert.Equal(t, ProtocolVersion, result.ProtocolVersion)
		assert.Equal(t, "docbro", result.ServerInfo.Name)
		require.NotNil(t, result.Capabilities.Tools)
		assert.True(t, result.Capabilities.Tools.ListChanged)

		after := dispatch(t, s, `{"jsonrpc":"2.0","id":5,"method":"tools/list"}`)
		require.NotNil(t, after)
		assert.Nil(t, after.Error)
	})
}

func TestErrorTaxonomy(t *testing.T) {
	s := newTestServer()
	initialize(t, s)

	s.Register("fail/internal", func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("boom")
	})
	s.Register("fail/params", func(context.Context, json.RawMessage) (any, error) {
		return nil, InvalidParams("bad depth")
	})
	s.Register("fail/timeout", func(context.Context, json.RawMessage) (any, error) {
		return nil, fmt.Errorf("fetch: %w", context.DeadlineExceeded)
	})

	cases := []struct {
		name string
		raw  string
		code int
	}{
		{"parse error", `{not json`, CodeParseError},
		{"invalid envelope version", `{"jsonrpc":"1.0","id":1,"method":"ping"}`, CodeInvalidRequest},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, CodeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"nope"}`, CodeMethodNotFound},
		{"invalid params", `{"jsonrpc":"2.0","id":1,"method":"fail/params"}`, CodeInvalidParams},
		{"handler error", `{"jsonrpc":"2.0","id":1,"method":"fail/internal"}`, CodeInternalError},
		{"timeout", `{"jsonrpc":"2.0","id":1,"method":"fail/timeout"}`, CodeRequestTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := dispatch(t, s, tc.raw)
			require.NotNil(t, resp)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tc.code, resp.Error.Code)
			assert.Nil(t, resp.Result)
		})
	}
}

func TestRequestTimeout(t *testing.T) {
	s := newTestServer()
	s.SetRequestTimeout(20 * time.Millisecond)
	initialize(t, s)

	s.Register("slow", func(context.Context, json.RawMessage) (any, error) {
		// Ignores its context on purpose; the server must still time out.
		time.Sleep(200 * time.Millisecond)
		return map[string]any{"ok": true}, nil
	})
	s.Register("fast", func(context.Context, json.RawMessage) (any, error) {
		return map[string]any{"ok": true}, nil
	})

	t.Run("slow handler times out", func(t *testing.T) {
		resp := dispatch(t, s, `{"jsonrpc":"2.0","id":1,"method":"slow"}`)
		require.NotNil(t, resp)
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeRequestTimeout, resp.Error.Code)
	})

	t.Run("fast handler unaffected", func(t *testing.T) {
		resp := dispatch(t, s, `{"jsonrpc":"2.0","id":2,"method":"fast"}`)
		require.NotNil(t, resp)
		assert.Nil(t, resp.Error)
	})
}

func TestPingReturnsEmptyObject(t *testing.T) {
	s := newTestServer()
	resp := dispatch(t, s, `{"jsonrpc":"2.0","id":7,"method":"ping"}`)
	require.NotNil(t, resp)
	require.Nil(t, resp.Error)

	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
}

func TestNotificationsProduceNoResponse(t *testing.T) {
	s := newTestServer()
	initialize(t, s)

	assert.Nil(t, dispatch(t, s, `{"jsonrpc":"2.0","method":"initialized"}`))
	// Errors in notifications are swallowed too.
	assert.Nil(t, dispatch(t, s, `{"jsonrpc":"2.0","method":"nope"}`))
}

func TestHandlerErrorPassthrough(t *testing.T) {
	s := newTestServer()
	initialize(t, s)
	s.Register("custom", func(context.Context, json.RawMessage) (any, error) {
		return nil, NewError(CodeUnknownError, "something odd")
	})

	resp := dispatch(t, s, `{"jsonrpc":"2.0","id":1,"method":"custom"}`)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeUnknownError, resp.Error.Code)
	assert.Equal(t, "something odd", resp.Error.Message)
}

func TestResponseEnvelope(t *testing.T) {
	s := newTestServer()
	resp := dispatch(t, s, `{"jsonrpc":"2.0","id":42,"method":"ping"}`)
	require.NotNil(t, resp)

	raw, err := json.Marshal(resp)
	require.NoError(t, err)
	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, `"2.0"`, string(decoded["jsonrpc"]))
	assert.Equal(t, `42`, string(decoded["id"]))
	_, hasResult := decoded["result"]
	_, hasError := decoded["error"]
	assert.True(t, hasResult != hasError)
}
