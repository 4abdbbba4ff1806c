// ABOUTME: Task engine: budget-checked admission, worker pool, cancellation.
// ABOUTME: Creation never blocks on execution; workers claim pending tasks.

package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quarrydev/quarry/internal/observability"
	"github.com/quarrydev/quarry/internal/store"
)

// ErrUnknownCapability is returned when a task names a capability the
// engine does not provide.
var ErrUnknownCapability = errors.New("unknown capability")

// pollInterval bounds how long a pending task waits for a worker when
// the wake channel signal was missed.
const pollInterval = 500 * time.Millisecond

// claimBatch is how many pending tasks one worker pass considers.
const claimBatch = 10

// Config holds configuration for the engine.
type Config struct {
	Store             store.Store
	Logger            *slog.Logger
	Metrics           *observability.Metrics
	Workers           int
	CapabilityTimeout time.Duration
}

// Engine admits, executes, and cancels tasks.
type Engine struct {
	store        store.Store
	logger       *slog.Logger
	metrics      *observability.Metrics
	broker       *Broker
	capabilities map[string]Capability
	workers      int
	timeout      time.Duration

	wake chan struct{}

	mu      sync.Mutex
	running map[string]context.CancelFunc

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewEngine creates an engine with the built-in capabilities registered.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	timeout := cfg.CapabilityTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	e := &Engine{
		store:        cfg.Store,
		logger:       logger.With("component", "task-engine"),
		metrics:      cfg.Metrics,
		broker:       NewBroker(),
		capabilities: make(map[string]Capability),
		workers:      workers,
		timeout:      timeout,
		wake:         make(chan struct{}, 1),
		running:      make(map[string]context.CancelFunc),
	}

	e.RegisterCapability(NewSearchPapersCapability(cfg.Store))
	e.RegisterCapability(NewAnalyzeCodeCapability())
	e.RegisterCapability(NewSummarizeDocumentCapability(cfg.Store))
	return e, nil
}

// RegisterCapability adds a capability, replacing any with the same name.
func (e *Engine) RegisterCapability(c Capability) {
	e.capabilities[c.Name()] = c
}

// Capabilities lists the registered capabilities.
func (e *Engine) Capabilities() []Capability {
	caps := make([]Capability, 0, len(e.capabilities))
	for _, c := range e.capabilities {
		caps = append(caps, c)
	}
	return caps
}

// Broker exposes the event broker for SSE subscriptions.
func (e *Engine) Broker() *Broker { return e.broker }

// Start launches the worker pool. Workers stop when ctx is cancelled or
// Stop is called.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.workerLoop(ctx, i)
	}
	e.logger.Info("task engine started", "workers", e.workers)
}

// Stop shuts the worker pool down and waits for in-flight tasks.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
	e.logger.Info("task engine stopped")
}

// Create validates input, reserves budget, and persists a pending task.
// It returns as soon as the task is admitted; execution happens on the
// worker pool. ErrUnknownCapability, InputError, store.ErrNotFound (no
// budget row), and store.ErrBudgetExceeded are caller errors.
func (e *Engine) Create(ctx context.Context, userID, agentID, capability string, input map[string]any) (*store.Task, error) {
	c, ok := e.capabilities[capability]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCapability, capability)
	}
	if userID == "" {
		return nil, Inputf("user_id is required")
	}
	if agentID == "" {
		return nil, Inputf("agent_id is required")
	}

	task := &store.Task{
		ID:            uuid.New().String(),
		UserID:        userID,
		AgentID:       agentID,
		Capability:    capability,
		Input:         input,
		State:         store.TaskStatePending,
		EstimatedCost: c.EstimateCost(input),
	}

	if err := e.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}

	e.logger.Info("task admitted",
		"task_id", task.ID,
		"capability", capability,
		"user_id", userID,
		"estimated_cost", task.EstimatedCost,
	)
	e.metrics.CountTransition(string(store.TaskStatePending))

	// Nudge a worker; the slot is buffered so a missed signal only
	// costs one poll interval.
	select {
	case e.wake <- struct{}{}:
	default:
	}

	return task, nil
}

// Cancel moves a pending or running task to cancelled and interrupts its
// execution if a worker holds it. Terminal tasks yield store.ErrConflict.
func (e *Engine) Cancel(ctx context.Context, taskID, reason string) (*store.Task, error) {
	task, err := e.store.CancelTask(ctx, taskID, reason)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if cancel, ok := e.running[taskID]; ok {
		cancel()
	}
	e.mu.Unlock()

	e.logger.Info("task cancelled", "task_id", taskID, "reason", reason)
	e.metrics.CountTransition(string(store.TaskStateCancelled))
	e.broker.CloseTask(task)
	return task, nil
}

func (e *Engine) workerLoop(ctx context.Context, id int) {
	defer e.wg.Done()
	logger := e.logger.With("worker", id)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		e.drainPending(ctx, logger)
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
		case <-ticker.C:
		}
	}
}

// drainPending claims and executes pending tasks until none remain.
func (e *Engine) drainPending(ctx context.Context, logger *slog.Logger) {
	for {
		if ctx.Err() != nil {
			return
		}
		pending, err := e.store.PendingTasks(ctx, claimBatch)
		if err != nil {
			logger.Error("listing pending tasks", "error", err)
			return
		}
		if len(pending) == 0 {
			return
		}

		var claimedAny bool
		for _, task := range pending {
			claimed, err := e.store.ClaimTask(ctx, task.ID)
			if err != nil {
				logger.Error("claiming task", "task_id", task.ID, "error", err)
				continue
			}
			if !claimed {
				// Another worker got there first, or it was cancelled
				// while still pending.
				continue
			}
			claimedAny = true
			e.execute(ctx, task)
		}
		if !claimedAny {
			return
		}
	}
}

// execute runs one claimed task to a terminal state.
func (e *Engine) execute(ctx context.Context, task *store.Task) {
	start := time.Now()

	task.State = store.TaskStateRunning
	e.metrics.CountTransition(string(store.TaskStateRunning))
	e.broker.Publish(task)

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	e.mu.Lock()
	e.running[task.ID] = cancel
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.running, task.ID)
		e.mu.Unlock()
		cancel()
	}()

	capability := e.capabilities[task.Capability]
	result, err := capability.Execute(runCtx, task.Input)

	if err != nil {
		e.finishFailed(task, err, start)
		return
	}

	// Actual cost equals the estimate for built-in capabilities; the
	// settle path still flows actuals so smarter capabilities can
	// report real usage.
	done, err := e.store.CompleteTask(context.Background(), task.ID, result, task.EstimatedCost)
	if err != nil {
		e.logger.Error("completing task", "task_id", task.ID, "error", err)
		return
	}
	if !done {
		// Lost the race to a cancellation. The cancel path already
		// published the terminal snapshot; discard our result.
		e.logger.Info("completion discarded, task already terminal", "task_id", task.ID)
		return
	}

	e.logger.Info("task completed",
		"task_id", task.ID,
		"capability", task.Capability,
		"duration", time.Since(start),
	)
	e.metrics.CountTransition(string(store.TaskStateCompleted))
	e.metrics.ObserveTaskDuration(time.Since(start).Seconds())

	if final, err := e.store.GetTask(context.Background(), task.ID); err == nil {
		e.broker.CloseTask(final)
	}
}

func (e *Engine) finishFailed(task *store.Task, execErr error, start time.Time) {
	done, err := e.store.FailTask(context.Background(), task.ID, execErr.Error())
	if err != nil {
		e.logger.Error("failing task", "task_id", task.ID, "error", err)
		return
	}
	if !done {
		// Cancelled out from under us; the cancel path owns the
		// terminal snapshot.
		return
	}

	e.logger.Warn("task failed",
		"task_id", task.ID,
		"capability", task.Capability,
		"error", execErr,
		"duration", time.Since(start),
	)
	e.metrics.CountTransition(string(store.TaskStateFailed))
	e.metrics.ObserveTaskDuration(time.Since(start).Seconds())

	if final, err := e.store.GetTask(context.Background(), task.ID); err == nil {
		e.broker.CloseTask(final)
	}
}
