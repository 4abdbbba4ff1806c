// ABOUTME: Tests for SQLite store covering documents, tasks, and budgets.
// ABOUTME: Includes the concurrent-admission property against a fixed budget.

package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestTask(userID string, estimate float64) *Task {
	return &Task{
		ID:            uuid.New().String(),
		UserID:        userID,
		AgentID:       "research-agent",
		Capability:    "search_papers",
		Input:         map[string]any{"query": "transformers"},
		EstimatedCost: estimate,
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	doc := &Document{
		ID:        "doc-1",
		TenantID:  "acme-corp",
		Title:     "Security Policy",
		Content:   "All access requires MFA.",
		Embedding: []float32{0.1, 0.2, 0.3},
	}
	require.NoError(t, s.SaveDocument(ctx, doc))

	got, err := s.GetDocument(ctx, "acme-corp", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, doc.Title, got.Title)
	assert.Equal(t, doc.Content, got.Content)
	assert.Equal(t, doc.Embedding, got.Embedding)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestDocumentTenantIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveDocument(ctx, &Document{ID: "doc-1", TenantID: "acme-corp", Title: "A", Content: "a"}))
	require.NoError(t, s.SaveDocument(ctx, &Document{ID: "doc-2", TenantID: "globex", Title: "B", Content: "b"}))

	// Another tenant's document is a not-found, not a leak.
	_, err := s.GetDocument(ctx, "acme-corp", "doc-2")
	assert.ErrorIs(t, err, ErrNotFound)

	docs, err := s.TenantDocuments(ctx, "acme-corp")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-1", docs[0].ID)

	listed, err := s.ListDocuments(ctx, "globex", 10, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "globex", listed[0].TenantID)
}

func TestCreateTaskReservesBudget(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetBudget(ctx, "user-pro", TierPro, TierLimits[TierPro]))

	task := newTestTask("user-pro", 0.01)
	require.NoError(t, s.CreateTask(ctx, task))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatePending, got.State)
	assert.Equal(t, "transformers", got.Input["query"])

	budget, err := s.GetBudget(ctx, "user-pro")
	require.NoError(t, err)
	assert.InDelta(t, 0.01, budget.Reserved, 1e-9)
	assert.Zero(t, budget.Spent)
}

func TestCreateTaskBudgetExceeded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetBudget(ctx, "user-basic", TierBasic, 10.0))

	task := newTestTask("user-basic", 60.0)
	err := s.CreateTask(ctx, task)
	assert.ErrorIs(t, err, ErrBudgetExceeded)

	// No pending record left behind.
	_, err = s.GetTask(ctx, task.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	budget, err := s.GetBudget(ctx, "user-basic")
	require.NoError(t, err)
	assert.Zero(t, budget.Reserved)
	assert.Zero(t, budget.Spent)
}

func TestCreateTaskNoBudgetConfigured(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateTask(context.Background(), newTestTask("stranger", 0.01))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteTaskSettlesBudget(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetBudget(ctx, "user-pro", TierPro, 50.0))
	task := newTestTask("user-pro", 0.01)
	require.NoError(t, s.CreateTask(ctx, task))

	claimed, err := s.ClaimTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	done, err := s.CompleteTask(ctx, task.ID, map[string]any{"status": "success"}, 0.01)
	require.NoError(t, err)
	assert.True(t, done)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStateCompleted, got.State)
	assert.Equal(t, "success", got.Result["status"])
	assert.InDelta(t, 0.01, got.Cost, 1e-9)

	budget, err := s.GetBudget(ctx, "user-pro")
	require.NoError(t, err)
	assert.InDelta(t, 0.01, budget.Spent, 1e-9)
	assert.Zero(t, budget.Reserved)
}

func TestClaimTaskOnlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetBudget(ctx, "user-pro", TierPro, 50.0))
	task := newTestTask("user-pro", 0.01)
	require.NoError(t, s.CreateTask(ctx, task))

	first, err := s.ClaimTask(ctx, task.ID)
	require.NoError(t, err)
	second, err := s.ClaimTask(ctx, task.ID)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)
}

func TestCancelReleasesReservationWithoutCharge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetBudget(ctx, "user-pro", TierPro, 50.0))
	task := newTestTask("user-pro", 0.01)
	require.NoError(t, s.CreateTask(ctx, task))

	cancelled, err := s.CancelTask(ctx, task.ID, "cancelled by user")
	require.NoError(t, err)
	assert.Equal(t, TaskStateCancelled, cancelled.State)
	assert.Equal(t, "cancelled by user", cancelled.Error)

	budget, err := s.GetBudget(ctx, "user-pro")
	require.NoError(t, err)
	assert.Zero(t, budget.Spent)
	assert.Zero(t, budget.Reserved)
}

func TestCancelTerminalTaskConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetBudget(ctx, "user-pro", TierPro, 50.0))
	task := newTestTask("user-pro", 0.01)
	require.NoError(t, s.CreateTask(ctx, task))
	_, err := s.ClaimTask(ctx, task.ID)
	require.NoError(t, err)
	_, err = s.CompleteTask(ctx, task.ID, map[string]any{"status": "success"}, 0.01)
	require.NoError(t, err)

	before, err := s.GetBudget(ctx, "user-pro")
	require.NoError(t, err)

	_, err = s.CancelTask(ctx, task.ID, "too late")
	assert.ErrorIs(t, err, ErrConflict)

	// Terminal state and spend are untouched by the rejected cancel.
	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStateCompleted, got.State)

	after, err := s.GetBudget(ctx, "user-pro")
	require.NoError(t, err)
	assert.Equal(t, before.Spent, after.Spent)
}

func TestCompletionLosesRaceToCancellation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetBudget(ctx, "user-pro", TierPro, 50.0))
	task := newTestTask("user-pro", 0.01)
	require.NoError(t, s.CreateTask(ctx, task))
	_, err := s.ClaimTask(ctx, task.ID)
	require.NoError(t, err)

	_, err = s.CancelTask(ctx, task.ID, "cancelled by user")
	require.NoError(t, err)

	// The in-flight completion must be discarded: no state change, no charge.
	done, err := s.CompleteTask(ctx, task.ID, map[string]any{"status": "success"}, 0.01)
	require.NoError(t, err)
	assert.False(t, done)

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStateCancelled, got.State)

	budget, err := s.GetBudget(ctx, "user-pro")
	require.NoError(t, err)
	assert.Zero(t, budget.Spent)
}

func TestConcurrentAdmissionNeverOvershoots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Budget fits exactly 5 tasks at $1 each; 20 concurrent creators race.
	require.NoError(t, s.SetBudget(ctx, "user-racy", TierBasic, 5.0))

	const attempts = 20
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.CreateTask(ctx, newTestTask("user-racy", 1.0))
		}(i)
	}
	wg.Wait()

	admitted := 0
	for _, err := range errs {
		if err == nil {
			admitted++
		} else {
			require.ErrorIs(t, err, ErrBudgetExceeded)
		}
	}
	assert.Equal(t, 5, admitted, "admissions must never overshoot the budget")

	budget, err := s.GetBudget(ctx, "user-racy")
	require.NoError(t, err)
	assert.InDelta(t, 5.0, budget.Reserved, 1e-9)
}

func TestConcurrentAdmissionWithinBudgetAllSucceed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Plenty of headroom: every creator must be admitted. Contending
	// writers have to queue on the write lock, not error out.
	require.NoError(t, s.SetBudget(ctx, "user-busy", TierPro, 50.0))

	const attempts = 20
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.CreateTask(ctx, newTestTask("user-busy", 0.01))
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "creator %d", i)
	}

	budget, err := s.GetBudget(ctx, "user-busy")
	require.NoError(t, err)
	assert.InDelta(t, float64(attempts)*0.01, budget.Reserved, 1e-9)
}

func TestListTasksFilterAndPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetBudget(ctx, "user-pro", TierPro, 50.0))
	for i := 0; i < 3; i++ {
		task := newTestTask("user-pro", 0.01)
		if i == 2 {
			task.AgentID = "other-agent"
		}
		require.NoError(t, s.CreateTask(ctx, task))
	}

	all, err := s.ListTasks(ctx, "", 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	filtered, err := s.ListTasks(ctx, "research-agent", 10, 0)
	require.NoError(t, err)
	assert.Len(t, filtered, 2)

	page, err := s.ListTasks(ctx, "", 2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestRunningTasksBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetBudget(ctx, "user-pro", TierPro, 50.0))
	task := newTestTask("user-pro", 0.01)
	require.NoError(t, s.CreateTask(ctx, task))
	_, err := s.ClaimTask(ctx, task.ID)
	require.NoError(t, err)

	orphans, err := s.RunningTasksBefore(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, task.ID, orphans[0].ID)

	none, err := s.RunningTasksBefore(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPendingTasksOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetBudget(ctx, "user-pro", TierPro, 50.0))
	var ids []string
	for i := 0; i < 3; i++ {
		task := newTestTask("user-pro", 0.01)
		task.CreatedAt = time.Now().Add(time.Duration(i) * time.Millisecond)
		require.NoError(t, s.CreateTask(ctx, task))
		ids = append(ids, task.ID)
	}

	pending, err := s.PendingTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, ids[0], pending[0].ID)
}

func TestSetBudgetUpdatePreservesSpend(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetBudget(ctx, "user-pro", TierPro, 50.0))
	task := newTestTask("user-pro", 0.02)
	require.NoError(t, s.CreateTask(ctx, task))
	_, err := s.ClaimTask(ctx, task.ID)
	require.NoError(t, err)
	_, err = s.CompleteTask(ctx, task.ID, nil, 0.02)
	require.NoError(t, err)

	require.NoError(t, s.SetBudget(ctx, "user-pro", TierEnterprise, 200.0))

	budget, err := s.GetBudget(ctx, "user-pro")
	require.NoError(t, err)
	assert.Equal(t, TierEnterprise, budget.Tier)
	assert.InDelta(t, 0.02, budget.Spent, 1e-9)
	assert.InDelta(t, 200.0, budget.MonthlyBudget, 1e-9)
}

func TestProTierScenario(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetBudget(ctx, "pro-user", TierPro, TierLimits[TierPro]))

	// Three $0.01 tasks all succeed.
	for i := 0; i < 3; i++ {
		task := newTestTask("pro-user", 0.01)
		require.NoError(t, s.CreateTask(ctx, task), "task %d", i)
		_, err := s.ClaimTask(ctx, task.ID)
		require.NoError(t, err)
		_, err = s.CompleteTask(ctx, task.ID, map[string]any{"status": "success"}, 0.01)
		require.NoError(t, err)
	}

	budget, err := s.GetBudget(ctx, "pro-user")
	require.NoError(t, err)
	assert.InDelta(t, 0.03, budget.Spent, 1e-9)

	// A $60 estimate does not fit the $50 budget.
	err = s.CreateTask(ctx, newTestTask("pro-user", 60.0))
	assert.ErrorIs(t, err, ErrBudgetExceeded)

	budget, err = s.GetBudget(ctx, "pro-user")
	require.NoError(t, err)
	assert.InDelta(t, 0.03, budget.Spent, 1e-9, "rejected task must not change spend")
}

func TestTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetTask(ctx, uuid.New().String())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.CancelTask(ctx, uuid.New().String(), "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStateRankMonotonicity(t *testing.T) {
	order := []TaskState{TaskStatePending, TaskStateRunning, TaskStateCompleted}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("%s should rank above %s", order[i], order[i-1])
		}
	}
	for _, s := range []TaskState{TaskStateCompleted, TaskStateFailed, TaskStateCancelled} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
		if s.Rank() != 2 {
			t.Errorf("%s rank = %d", s, s.Rank())
		}
	}
	if fmt.Sprintf("%s", TaskStatePending) != "pending" {
		t.Error("state string mismatch")
	}
}
