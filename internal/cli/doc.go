// ABOUTME: Shared startup plumbing for the quarry binaries.
// ABOUTME: Logger setup, listener creation, and graceful HTTP serving.

// Package cli holds the startup code the quarry binaries share: the
// colorized slog handler, plain-TCP or Tailscale listeners, and a
// graceful HTTP serve loop.
package cli
