// ABOUTME: Asynchronous task engine with budget admission and worker pool.
// ABOUTME: Tasks move pending to running to exactly one terminal state.

// Package task runs asynchronous capability executions for the A2A
// server. Admission reserves budget atomically; a worker pool claims
// pending tasks and drives them to a terminal state. State change
// events fan out to SSE subscribers through the broker, and a
// reconciler sweeps orphaned running tasks after a crash.
package task
