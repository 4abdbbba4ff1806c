// ABOUTME: JSON-RPC 2.0 tool server speaking the MCP method surface.
// ABOUTME: Every request flows auth, then rate limit, then dispatch.

// Package mcp implements the HTTP tool server. A single POST endpoint
// accepts JSON-RPC 2.0 requests for initialize, tools/list, and
// tools/call. Requests authenticate with a bearer JWT, pass a per-tenant
// rate limiter, and dispatch into the tools registry.
package mcp
