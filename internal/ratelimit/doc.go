// ABOUTME: Per-tenant rate limiting for the tool server.
// ABOUTME: In-process token buckets, or Redis fixed windows for multi-replica runs.

// Package ratelimit enforces per-tenant request quotas. The default backend
// keeps a token bucket per tenant in process memory; deployments running
// several replicas point the limiter at Redis so every replica counts
// against the same window.
package ratelimit
