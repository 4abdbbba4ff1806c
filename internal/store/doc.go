// ABOUTME: Persistence layer for documents, tasks, and budgets.
// ABOUTME: SQLite-backed with guarded state transitions and atomic budget accounting.

// Package store persists quarry's shared mutable state: tenant-scoped
// documents, task records, and user budgets. Task state transitions are
// guarded UPDATEs whose rows-affected result resolves concurrent races
// (cancel vs complete) deterministically; budget check-and-reserve happens
// in the same transaction as task admission so concurrent creations can
// never jointly overshoot a budget.
package store
