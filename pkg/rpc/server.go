package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docbro/docbro/internal/logger"
)

// ProtocolVersion is the protocol revision the server speaks.
const ProtocolVersion = "2024-11-05"

// Handler processes one method call. Returning *Error controls the wire
// code; any other error maps to -32603.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// ServerInfo identifies the server in the initialize response.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeParams is the client side of the handshake.
type InitializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ClientInfo      struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

// InitializeResult is the server side of the handshake.
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      ServerInfo         `json:"serverInfo"`
}

// Server routes JSON-RPC messages to registered handlers. All methods except
// initialize and ping are gated behind a successful initialize handshake.
type Server struct {
	info     ServerInfo
	caps     ServerCapabilities
	notifier Notifier

	mu      sync.RWMutex
	methods map[string]Handler

	// timeout bounds each dispatched request; zero disables the deadline.
	timeout time.Duration

	initialized atomic.Bool
}

// NewServer creates a server with the built-in methods registered.
func NewServer(info ServerInfo, caps ServerCapabilities, notifier Notifier) *Server {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	s := &Server{
		info:     info,
		caps:     caps,
		notifier: notifier,
		methods:  make(map[string]Handler),
	}
	s.Register("initialize", s.handleInitialize)
	s.Register("initialized", s.handleInitialized)
	s.Register("ping", s.handlePing)
	return s
}

// Register adds a method handler. Re-registering a name replaces the
// previous handler.
func (s *Server) Register(name string, h Handler) {
	s.mu.Lock()
	s.methods[name] = h
	s.mu.Unlock()
}

// SetRequestTimeout bounds every dispatched request. Exceeding it yields a
// REQUEST_TIMEOUT error even when the handler ignores its context. Configure
// before serving; zero disables the deadline.
func (s *Server) SetRequestTimeout(d time.Duration) {
	s.timeout = d
}

// Initialized reports whether the handshake completed.
func (s *Server) Initialized() bool { return s.initialized.Load() }

// Notifier returns the configured notifier.
func (s *Server) Notifier() Notifier { return s.notifier }

// ungated methods work before the initialize handshake.
var ungated = map[string]struct{}{
	"initialize": {},
	"ping":       {},
}

// Dispatch parses one raw message and routes it. Notifications return nil;
// everything else returns exactly one response.
func (s *Server) Dispatch(ctx context.Context, raw []byte) *Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return errorResponse(nil, NewError(CodeParseError, "parse error: %v", err))
	}
	return s.DispatchRequest(ctx, &req)
}

// DispatchRequest routes an already-parsed request.
func (s *Server) DispatchRequest(ctx context.Context, req *Request) *Response {
	if req.JSONRPC != Version || req.Method == "" {
		return s.respond(req, nil, NewError(CodeInvalidRequest, "invalid request"))
	}

	if _, open := ungated[req.Method]; !open && !s.initialized.Load() {
		return s.respond(req, nil, NewError(CodeServerNotInitialized, "server not initialized"))
	}

	s.mu.RLock()
	handler, ok := s.methods[req.Method]
	s.mu.RUnlock()
	if !ok {
		return s.respond(req, nil, NewError(CodeMethodNotFound, "method not found: %s", req.Method))
	}

	start := time.Now()
	result, err := s.invoke(ctx, handler, req.Params)
	logger.Debug("rpc dispatch",
		logger.KeyMethod, req.Method,
		logger.KeyDuration, time.Since(start).Milliseconds())

	if err != nil {
		return s.respond(req, nil, toRPCError(err))
	}
	return s.respond(req, result, nil)
}

// invoke runs the handler under the configured per-request deadline. The
// deadline is enforced here, not delegated to the handler: a handler that
// never checks its context still produces a timely REQUEST_TIMEOUT response.
func (s *Server) invoke(ctx context.Context, handler Handler, params json.RawMessage) (any, error) {
	if s.timeout <= 0 {
		return handler(ctx, params)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := handler(ctx, params)
		done <- outcome{result, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// respond builds the response, or nil for notifications.
func (s *Server) respond(req *Request, result any, rpcErr *Error) *Response {
	if req.IsNotification() {
		if rpcErr != nil {
			logger.Warn("notification failed",
				logger.KeyMethod, req.Method,
				logger.KeyError, rpcErr.Message)
		}
		return nil
	}
	if rpcErr != nil {
		return errorResponse(req.ID, rpcErr)
	}
	return successResponse(req.ID, result)
}

// toRPCError maps handler errors onto the wire taxonomy.
func toRPCError(err error) *Error {
	var rpcErr *Error
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.Is(err, context.DeadlineExceeded):
		return NewError(CodeRequestTimeout, "request timed out")
	default:
		return NewError(CodeInternalError, "%v", err)
	}
}

func (s *Server) handleInitialize(_ context.Context, params json.RawMessage) (any, error) {
	var p InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, InvalidParams("initialize: %v", err)
		}
	}

	s.initialized.Store(true)
	logger.Info("rpc session initialized",
		"client", p.ClientInfo.Name,
		"protocol_version", p.ProtocolVersion)

	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    s.caps,
		ServerInfo:      s.info,
	}, nil
}

func (s *Server) handleInitialized(context.Context, json.RawMessage) (any, error) {
	return nil, nil
}

func (s *Server) handlePing(context.Context, json.RawMessage) (any, error) {
	return struct{}{}, nil
}
