// ABOUTME: REST and SSE surface of the asynchronous task server.
// ABOUTME: Exposes the agent card, task lifecycle endpoints, and event streams.

// Package a2a implements the agent-to-agent HTTP server. Clients
// discover capabilities through the agent card, submit tasks with POST
// /tasks, poll or stream their progress, and cancel with DELETE.
// Task submission returns as soon as the task is admitted against the
// caller's budget; execution is asynchronous.
package a2a
