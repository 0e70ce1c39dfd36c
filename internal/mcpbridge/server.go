// Package mcpbridge implements a Model Context Protocol (MCP) server that
// exposes the Agntor trust core as MCP tools.
//
// Messages are JSON-RPC 2.0. Serve speaks newline-delimited JSON over stdio,
// the standard transport for local MCP hosts; Handle processes one message and
// is reused by the streamable HTTP transport.
package mcpbridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

const protocolVersion = "2024-11-05"

// Server identity reported by initialize.
const (
	ServerName    = "agntor-trust"
	ServerVersion = "0.3.0"
)

// rpcRequest is an inbound JSON-RPC 2.0 message.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"` // nil = notification
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is an outbound JSON-RPC 2.0 message.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Standard JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// Server is an MCP server. For stdio it reads newline-delimited JSON-RPC 2.0
// messages from the reader passed to Serve and writes responses to the writer
// passed to NewServer.
type Server struct {
	tools  *ToolRegistry
	out    *json.Encoder
	outMu  sync.Mutex
	logger *zap.Logger
}

// NewServer creates an MCP server that writes stdio responses to w. w may be
// nil when the server is only used through Handle.
// logger must not write to w; on stdio that would corrupt the protocol.
func NewServer(w io.Writer, tools *ToolRegistry, logger *zap.Logger) *Server {
	s := &Server{tools: tools, logger: logger}
	if w != nil {
		s.out = json.NewEncoder(w)
	}
	return s
}

// Serve reads JSON-RPC messages from r until EOF or ctx is cancelled.
// It blocks until the stream closes and in-flight tool calls have answered.
func (s *Server) Serve(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1<<20), 1<<20) // 1 MB max per message

	var inflight sync.WaitGroup
	defer inflight.Wait()

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		req, errResp := parseRequest(line)
		if errResp != nil {
			s.write(errResp)
			continue
		}

		// Notifications have no id; no response is sent.
		if len(req.ID) == 0 {
			continue
		}

		// Tool calls reach the trust backend over the network, so run them in
		// goroutines while keeping protocol-level methods synchronous.
		if req.Method == "tools/call" {
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				s.write(s.dispatch(ctx, req))
			}()
		} else {
			s.write(s.dispatch(ctx, req))
		}
	}
	return scanner.Err()
}

// Handle processes a single JSON-RPC message and returns the response, or nil
// for notifications.
func (s *Server) Handle(ctx context.Context, msg []byte) *Response {
	req, errResp := parseRequest(msg)
	if errResp != nil {
		return errResp
	}
	if len(req.ID) == 0 {
		return nil
	}
	return s.dispatch(ctx, req)
}

func parseRequest(msg []byte) (rpcRequest, *Response) {
	var req rpcRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		return req, errorResponse(json.RawMessage(`null`), codeParseError, "parse error")
	}
	if req.Method == "" {
		id := req.ID
		if len(id) == 0 {
			id = json.RawMessage(`null`)
		}
		return req, errorResponse(id, codeInvalidRequest, "invalid request: method is required")
	}
	return req, nil
}

func (s *Server) dispatch(ctx context.Context, req rpcRequest) *Response {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "ping":
		return &Response{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{}}
	case "tools/list":
		return &Response{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]any{"tools": s.tools.Definitions()},
		}
	case "tools/call":
		return s.handleToolsCall(ctx, req)
	default:
		return errorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (s *Server) handleInitialize(req rpcRequest) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": ServerName, "version": ServerVersion},
		},
	}
}

func (s *Server) handleToolsCall(ctx context.Context, req rpcRequest) *Response {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return errorResponse(req.ID, codeInvalidParams, "invalid params")
	}

	s.logger.Info("tool call", zap.String("tool", params.Name))
	result := s.tools.Call(ctx, params.Name, params.Arguments)
	if result.IsError {
		s.logger.Info("tool call failed",
			zap.String("tool", params.Name),
			zap.String("error", result.Content[0].Text),
		)
	}

	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *Server) write(resp *Response) {
	if s.out == nil {
		return
	}
	s.outMu.Lock()
	defer s.outMu.Unlock()
	if err := s.out.Encode(resp); err != nil {
		s.logger.Error("write error", zap.Error(err))
	}
}

func errorResponse(id json.RawMessage, code int, msg string) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &RPCError{Code: code, Message: msg},
	}
}
