// ABOUTME: Tool registry and built-in search tools for the MCP server.
// ABOUTME: Handlers read tenant identity from the request context, never from arguments.

// Package tools defines the Tool interface, the registry the JSON-RPC
// server dispatches through, and the built-in document search tools.
//
// Every tool executes under an authenticated context: the tenant comes
// from auth.FromContext, so a caller can never name another tenant's
// data no matter what arguments it sends.
package tools
