package rpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func postRPC(t *testing.T, srv *httptest.Server, body string) (*http.Response, *Response) {
	t.Helper()
	resp, err := http.Post(srv.URL+"/rpc", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	if resp.StatusCode == http.StatusAccepted {
		return resp, nil
	}
	var rpcResp Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	return resp, &rpcResp
}

func TestHTTPTransport(t *testing.T) {
	s := newTestServer()
	srv := httptest.NewServer(NewHTTPHandler(s))
	defer srv.Close()

	t.Run("handshake round trip", func(t *testing.T) {
		_, pre := postRPC(t, srv, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`)
		require.NotNil(t, pre.Error)
		assert.Equal(t, CodeServerNotInitialized, pre.Error.Code)

		_, init := postRPC(t, srv, `{"jsonrpc":"2.0","id":2,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`)
		require.Nil(t, init.Error)

		_, ping := postRPC(t, srv, `{"jsonrpc":"2.0","id":3,"method":"ping"}`)
		require.Nil(t, ping.Error)
	})

	t.Run("notification returns 202", func(t *testing.T) {
		httpResp, rpcResp := postRPC(t, srv, `{"jsonrpc":"2.0","method":"initialized"}`)
		assert.Equal(t, http.StatusAccepted, httpResp.StatusCode)
		assert.Nil(t, rpcResp)
	})

	t.Run("malformed body", func(t *testing.T) {
		_, resp := postRPC(t, srv, `{`)
		require.NotNil(t, resp.Error)
		assert.Equal(t, CodeParseError, resp.Error.Code)
	})

	t.Run("health endpoint", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/healthz")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var health map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
		assert.Equal(t, "ok", health["status"])
	})
}
