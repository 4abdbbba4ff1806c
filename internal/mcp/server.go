// ABOUTME: HTTP server for the JSON-RPC tool endpoint.
// ABOUTME: Maps domain errors onto JSON-RPC error codes with retry metadata.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/quarrydev/quarry/internal/auth"
	"github.com/quarrydev/quarry/internal/observability"
	"github.com/quarrydev/quarry/internal/ratelimit"
	"github.com/quarrydev/quarry/internal/store"
	"github.com/quarrydev/quarry/internal/tools"
)

// protocolVersion is advertised in initialize responses.
const protocolVersion = "2025-03-26"

// MaxRequestBodySize is the maximum allowed size for request bodies (1MB).
const MaxRequestBodySize = 1 << 20

// JSON-RPC 2.0 types

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError represents a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Standard JSON-RPC error codes plus the server's domain codes.
const (
	JSONRPCParseError     = -32700
	JSONRPCInvalidRequest = -32600
	JSONRPCMethodNotFound = -32601
	JSONRPCInvalidParams  = -32602
	JSONRPCInternalError  = -32603

	CodeAuthFailed      = -32001
	CodeRateLimited     = -32003
	CodeNotFound        = -32004
	CodeValidationError = -32005
)

// MCPToolInfo represents a tool definition in tools/list output.
type MCPToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// MCPListToolsResult is the result for tools/list.
type MCPListToolsResult struct {
	Tools []MCPToolInfo `json:"tools"`
}

// MCPCallToolParams are the params for tools/call.
type MCPCallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// MCPCallToolResult is the result for tools/call.
type MCPCallToolResult struct {
	Content []MCPContent `json:"content"`
	IsError bool         `json:"isError,omitempty"`
}

// MCPContent represents content in a tool result.
type MCPContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Config holds configuration for the tool server.
type Config struct {
	Registry *tools.Registry
	Verifier auth.TokenVerifier
	Limiter  ratelimit.Limiter
	Logger   *slog.Logger
	Metrics  *observability.Metrics
	Tracer   observability.Tracer
}

// Server serves the JSON-RPC tool endpoint.
type Server struct {
	registry *tools.Registry
	verifier auth.TokenVerifier
	limiter  ratelimit.Limiter
	logger   *slog.Logger
	metrics  *observability.Metrics
	tracer   observability.Tracer
}

// NewServer creates a tool server with the given configuration.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Verifier == nil {
		return nil, errors.New("token verifier is required")
	}
	if cfg.Limiter == nil {
		return nil, errors.New("rate limiter is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = observability.NopTracer{}
	}

	return &Server{
		registry: cfg.Registry,
		verifier: cfg.Verifier,
		limiter:  cfg.Limiter,
		logger:   logger.With("component", "mcp"),
		metrics:  cfg.Metrics,
		tracer:   tracer,
	}, nil
}

// RegisterRoutes registers the JSON-RPC and health endpoints on the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/mcp", s.handleMCP)
	mux.HandleFunc("/health", s.handleHealth)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleMCP is the single JSON-RPC endpoint. Only POST is accepted.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, MaxRequestBodySize+1))
	if err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "failed to read request body", nil)
		return
	}
	if int64(len(body)) > MaxRequestBodySize {
		s.sendJSONRPCError(w, nil, JSONRPCInvalidRequest, "request body too large", nil)
		return
	}

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.sendJSONRPCError(w, nil, JSONRPCParseError, "invalid JSON", nil)
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidRequest, "invalid JSON-RPC version", nil)
		return
	}

	// Authentication happens before anything else so unauthenticated
	// traffic never reaches the limiter or handlers.
	authCtx, errMsg, err := auth.Authenticate(r, s.verifier)
	if err != nil {
		s.logger.Debug("authentication failed", "error", err, "method", req.Method)
		s.metrics.CountToolRequest(req.Method, "auth_failed")
		s.sendJSONRPCError(w, req.ID, CodeAuthFailed, errMsg, nil)
		return
	}

	ctx := auth.WithAuth(r.Context(), authCtx)

	allowed, err := s.limiter.Allow(ctx, authCtx.TenantID)
	if err != nil {
		s.logger.Error("rate limiter failure", "error", err, "tenant_id", authCtx.TenantID)
		s.metrics.CountToolRequest(req.Method, "error")
		s.sendJSONRPCError(w, req.ID, JSONRPCInternalError, "internal error", nil)
		return
	}
	if !allowed {
		s.logger.Info("rate limit exceeded", "tenant_id", authCtx.TenantID)
		s.metrics.CountRateLimited()
		s.metrics.CountToolRequest(req.Method, "rate_limited")
		s.sendJSONRPCError(w, req.ID, CodeRateLimited, "rate limit exceeded", map[string]any{
			"retry_after": s.limiter.RetryAfter().Seconds(),
		})
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(w, req)
	case "tools/list":
		s.handleToolsList(w, req)
	case "tools/call":
		s.handleToolsCall(ctx, w, req)
	default:
		s.metrics.CountToolRequest(req.Method, "method_not_found")
		s.sendJSONRPCError(w, req.ID, JSONRPCMethodNotFound, "method not found", nil)
	}
}

// handleInitialize answers the MCP handshake.
func (s *Server) handleInitialize(w http.ResponseWriter, req JSONRPCRequest) {
	result := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities": map[string]any{
			"tools": map[string]any{},
		},
		"serverInfo": map[string]any{
			"name":    "quarry-tools",
			"version": "1.0.0",
		},
	}
	s.metrics.CountToolRequest(req.Method, "ok")
	s.sendJSONRPCResult(w, req.ID, result)
}

// handleToolsList returns every registered tool's definition.
func (s *Server) handleToolsList(w http.ResponseWriter, req JSONRPCRequest) {
	defs := s.registry.Definitions()
	result := MCPListToolsResult{
		Tools: make([]MCPToolInfo, len(defs)),
	}
	for i, def := range defs {
		result.Tools[i] = MCPToolInfo{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		}
	}

	s.logger.Debug("tools/list", "count", len(defs))
	s.metrics.CountToolRequest(req.Method, "ok")
	s.sendJSONRPCResult(w, req.ID, result)
}

// handleToolsCall dispatches a tool invocation under the authenticated
// context.
func (s *Server) handleToolsCall(ctx context.Context, w http.ResponseWriter, req JSONRPCRequest) {
	var params MCPCallToolParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.metrics.CountToolRequest(req.Method, "invalid_params")
			s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "invalid params", nil)
			return
		}
	}
	if params.Name == "" {
		s.metrics.CountToolRequest(req.Method, "invalid_params")
		s.sendJSONRPCError(w, req.ID, JSONRPCInvalidParams, "tool name is required", nil)
		return
	}

	tool := s.registry.Get(params.Name)
	if tool == nil {
		s.metrics.CountToolRequest(req.Method, "tool_not_found")
		s.sendJSONRPCError(w, req.ID, CodeNotFound, "tool not found: "+params.Name, nil)
		return
	}

	ctx, span := s.tracer.StartSpan(ctx, "tools/call:"+params.Name)
	output, err := tool.Execute(ctx, params.Arguments)
	span.End(err)
	if err != nil {
		s.handleToolError(w, req, params.Name, err)
		return
	}

	text, err := json.Marshal(output)
	if err != nil {
		s.logger.Error("encoding tool output", "tool_name", params.Name, "error", err)
		s.metrics.CountToolRequest(req.Method, "error")
		s.sendJSONRPCError(w, req.ID, JSONRPCInternalError, "internal error", nil)
		return
	}

	s.logger.Debug("tools/call complete", "tool_name", params.Name)
	s.metrics.CountToolRequest(req.Method, "ok")
	s.sendJSONRPCResult(w, req.ID, MCPCallToolResult{
		Content: []MCPContent{{Type: "text", Text: string(text)}},
	})
}

// handleToolError maps execution errors onto JSON-RPC error codes.
func (s *Server) handleToolError(w http.ResponseWriter, req JSONRPCRequest, toolName string, err error) {
	var verr *tools.ValidationError

	switch {
	case errors.As(err, &verr):
		s.metrics.CountToolRequest(req.Method, "validation_error")
		s.sendJSONRPCError(w, req.ID, CodeValidationError, verr.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		s.metrics.CountToolRequest(req.Method, "not_found")
		s.sendJSONRPCError(w, req.ID, CodeNotFound, "not found", nil)
	case errors.Is(err, context.DeadlineExceeded):
		s.metrics.CountToolRequest(req.Method, "timeout")
		s.sendJSONRPCError(w, req.ID, JSONRPCInternalError, "tool execution timed out", nil)
	case errors.Is(err, context.Canceled):
		s.metrics.CountToolRequest(req.Method, "cancelled")
		s.sendJSONRPCError(w, req.ID, JSONRPCInternalError, "request cancelled", nil)
	default:
		s.logger.Warn("tool execution failed", "tool_name", toolName, "error", err)
		s.metrics.CountToolRequest(req.Method, "error")
		s.sendJSONRPCError(w, req.ID, JSONRPCInternalError, "tool execution failed", nil)
	}
}

// sendJSONRPCResult sends a successful JSON-RPC response.
func (s *Server) sendJSONRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Result:  result,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC response", "error", err)
	}
}

// sendJSONRPCError sends a JSON-RPC error response.
func (s *Server) sendJSONRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string, data any) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &JSONRPCError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to encode JSON-RPC error response", "error", err)
	}
}
