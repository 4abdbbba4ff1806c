// ABOUTME: Store interface and data types for quarry persistence.
// ABOUTME: Defines Document, Task, Budget structs and sentinel errors.

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when creating an entity whose ID already exists.
var ErrDuplicate = errors.New("already exists")

// ErrConflict is returned when an operation is invalid for the entity's
// current state, e.g. cancelling a task that already reached a terminal state.
var ErrConflict = errors.New("conflict with current state")

// ErrBudgetExceeded is returned when a task's estimated cost does not fit
// the user's remaining budget at admission time.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Document is a tenant-scoped stored document. Score fields are query-time
// only and never persisted.
type Document struct {
	ID        string    `json:"doc_id"`
	TenantID  string    `json:"tenant_id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskState represents the lifecycle state of a task.
type TaskState string

const (
	TaskStatePending   TaskState = "pending"
	TaskStateRunning   TaskState = "running"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateCancelled TaskState = "cancelled"
)

// IsTerminal returns true for completed, failed, and cancelled.
func (s TaskState) IsTerminal() bool {
	return s == TaskStateCompleted || s == TaskStateFailed || s == TaskStateCancelled
}

// Rank orders states along the lifecycle partial order:
// pending < running < terminal. Observers use it to assert monotonicity.
func (s TaskState) Rank() int {
	switch s {
	case TaskStatePending:
		return 0
	case TaskStateRunning:
		return 1
	default:
		return 2
	}
}

// Task is a unit of asynchronous work owned by the task server. Clients only
// ever hold snapshots returned from reads.
type Task struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	AgentID       string         `json:"agent_id"`
	Capability    string         `json:"capability"`
	Input         map[string]any `json:"input,omitempty"`
	State         TaskState      `json:"state"`
	Result        map[string]any `json:"result,omitempty"`
	Error         string         `json:"error,omitempty"`
	EstimatedCost float64        `json:"estimated_cost"`
	Cost          float64        `json:"cost"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Budget tracks a user's monthly spending limit. Reserved holds the summed
// estimates of admitted but not yet settled tasks; Spent only ever grows.
type Budget struct {
	UserID        string  `json:"user_id"`
	Tier          string  `json:"tier"`
	MonthlyBudget float64 `json:"monthly_budget"`
	Spent         float64 `json:"spent_to_date"`
	Reserved      float64 `json:"reserved"`
}

// Remaining returns the budget still available for new admissions.
func (b *Budget) Remaining() float64 {
	remaining := b.MonthlyBudget - b.Spent - b.Reserved
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Budget tiers with their monthly limits in USD.
const (
	TierBasic      = "basic"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

// TierLimits maps tier names to monthly budgets in USD.
var TierLimits = map[string]float64{
	TierBasic:      10.0,
	TierPro:        50.0,
	TierEnterprise: 200.0,
}

// Store is the persistence interface shared by both servers.
type Store interface {
	// Documents
	SaveDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, tenantID, docID string) (*Document, error)
	ListDocuments(ctx context.Context, tenantID string, limit, offset int) ([]*Document, error)
	TenantDocuments(ctx context.Context, tenantID string) ([]*Document, error)

	// Tasks
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	ListTasks(ctx context.Context, agentID string, limit, offset int) ([]*Task, error)
	ClaimTask(ctx context.Context, id string) (bool, error)
	CompleteTask(ctx context.Context, id string, result map[string]any, cost float64) (bool, error)
	FailTask(ctx context.Context, id, errMsg string) (bool, error)
	CancelTask(ctx context.Context, id, reason string) (*Task, error)
	RunningTasksBefore(ctx context.Context, cutoff time.Time) ([]*Task, error)
	PendingTasks(ctx context.Context, limit int) ([]*Task, error)

	// Budgets
	SetBudget(ctx context.Context, userID, tier string, monthlyBudget float64) error
	GetBudget(ctx context.Context, userID string) (*Budget, error)

	Close() error
}
