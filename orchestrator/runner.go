// Package orchestrator owns the goal -> workflow -> task state machine:
// it decomposes a goal into a task DAG, drives ready tasks through the
// agent manager, and emits a strictly ordered lifecycle on the bus.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/autoforge/acp/bus"
	"github.com/autoforge/acp/core"
	"github.com/autoforge/acp/manager"
	"github.com/autoforge/acp/resilience"
)

// Status is the runner lifecycle state machine:
// CREATED -> STARTING -> RUNNING -> STOPPING -> STOPPED.
type Status string

const (
	StatusCreated  Status = "CREATED"
	StatusStarting Status = "STARTING"
	StatusRunning  Status = "RUNNING"
	StatusStopping Status = "STOPPING"
	StatusStopped  Status = "STOPPED"
)

// Decomposer turns a goal description into a workflow of tasks. The
// default decomposer produces the simplest path: a single generic task.
type Decomposer func(title, description string) *core.Workflow

// DefaultDecomposer is used when no Decomposer option is supplied.
func DefaultDecomposer(title, description string) *core.Workflow {
	wf := core.NewWorkflow(title, "")
	task := core.NewTask(core.TaskTypeGeneric, core.AgentTypeCoder, map[string]interface{}{
		"description": description,
	})
	wf.AddTask(task)
	return wf
}

// ExecuteGoalOptions is the enumerated option set for executeGoal.
type ExecuteGoalOptions struct {
	Priority          core.Priority
	WaitForCompletion bool
	Timeout           time.Duration
}

// DefaultExecuteGoalOptions returns the documented defaults: normal
// priority, waiting for completion, no explicit timeout.
func DefaultExecuteGoalOptions() ExecuteGoalOptions {
	return ExecuteGoalOptions{Priority: core.PriorityNormal, WaitForCompletion: true}
}

// Stats is the snapshot returned by GetStats.
type Stats struct {
	Status        Status
	GoalsExecuted int64
	TasksExecuted int64
	UptimeMs      int64
}

type goalJob struct {
	goal *core.Goal
	opts ExecuteGoalOptions
	done chan *core.GoalResult
}

// Runner drives goal execution. Construct with New, call Start before
// ExecuteGoal, and Destroy for graceful shutdown.
type Runner struct {
	b       *bus.Bus
	mgr     *manager.Manager
	logger  core.Logger
	cfg     core.OrchestratorConfig
	decompose Decomposer

	mu            sync.Mutex
	status        Status
	goalsExecuted int64
	tasksExecuted int64
	startedAt     time.Time

	queue  chan *goalJob
	stopCh chan struct{}
	wg     sync.WaitGroup

	currentCancel context.CancelFunc
}

// Option configures a Runner at construction time.
type Option func(*Runner)

// WithDecomposer overrides the default single-task decomposer.
func WithDecomposer(d Decomposer) Option {
	return func(r *Runner) { r.decompose = d }
}

// New constructs a Runner in the CREATED state.
func New(b *bus.Bus, mgr *manager.Manager, logger core.Logger, cfg core.OrchestratorConfig, opts ...Option) *Runner {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	r := &Runner{
		b: b, mgr: mgr, logger: logger, cfg: cfg,
		decompose: DefaultDecomposer,
		status:    StatusCreated,
		queue:     make(chan *goalJob, 64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start is idempotent: CREATED or STOPPED -> STARTING -> RUNNING, then
// emits the "started" lifecycle event.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.status == StatusRunning || r.status == StatusStarting {
		r.mu.Unlock()
		return nil
	}
	r.status = StatusStarting
	r.startedAt = time.Now()
	r.stopCh = make(chan struct{})
	r.mu.Unlock()

	r.wg.Add(1)
	go r.runLoop()

	r.mu.Lock()
	r.status = StatusRunning
	r.mu.Unlock()

	r.b.Publish(core.NewMessage(core.MessageSystemHealth, "orchestrator", "", map[string]interface{}{"event": "started"}))
	return nil
}

// runLoop is the single execution cursor: goals are pulled and processed
// to completion strictly in FIFO order.
func (r *Runner) runLoop() {
	defer r.wg.Done()
	for {
		select {
		case job := <-r.queue:
			result := r.processGoal(job)
			job.done <- result
		case <-r.stopCh:
			r.drainQueueCancelled()
			return
		}
	}
}

func (r *Runner) drainQueueCancelled() {
	for {
		select {
		case job := <-r.queue:
			job.done <- &core.GoalResult{GoalID: job.goal.ID, Status: core.GoalCancelled, Error: "orchestrator stopped"}
		default:
			return
		}
	}
}

// ExecuteGoal enters description into the goal queue. With
// WaitForCompletion (the default), it blocks until the goal reaches a
// terminal status; otherwise it returns a handle immediately and the
// caller observes completion via bus events.
func (r *Runner) ExecuteGoal(ctx context.Context, title, description string, opts ExecuteGoalOptions) (*core.GoalResult, error) {
	r.mu.Lock()
	running := r.status == StatusRunning
	r.mu.Unlock()
	if !running {
		return nil, core.NewFrameworkError("Runner.ExecuteGoal", core.ErrCodeInternal, core.ErrNotInitialized)
	}

	wf := r.decompose(title, description)
	goal := core.NewGoal(description, wf)
	job := &goalJob{goal: goal, opts: opts, done: make(chan *core.GoalResult, 1)}

	select {
	case r.queue <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if !opts.WaitForCompletion {
		return &core.GoalResult{GoalID: goal.ID, Status: core.GoalRunning}, nil
	}

	if opts.Timeout > 0 {
		select {
		case result := <-job.done:
			return result, nil
		case <-time.After(opts.Timeout):
			return nil, &core.TimeoutError{Op: "Runner.ExecuteGoal", DurationMs: opts.Timeout.Milliseconds()}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	select {
	case result := <-job.done:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// processGoal runs the full goal:started -> workflow:started ->
// (task execution) -> workflow:completed -> goal:completed sequence. A
// Destroy() call while this is in flight cancels ctx, which aborts
// outstanding task futures and marks the goal CANCELLED rather than
// FAILED.
func (r *Runner) processGoal(job *goalJob) *core.GoalResult {
	goal := job.goal
	wf := goal.Workflow
	now := time.Now()
	goal.StartedAt = &now
	goal.Status = core.GoalRunning

	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.currentCancel = cancel
	r.mu.Unlock()
	defer func() {
		cancel()
		r.mu.Lock()
		r.currentCancel = nil
		r.mu.Unlock()
	}()

	r.b.Publish(core.NewMessage(core.MessageSystemHealth, "orchestrator", "", map[string]interface{}{
		"event": "goal:started", "goalId": goal.ID,
	}))

	dag := NewWorkflowDAG(wf)
	if err := dag.Validate(); err != nil {
		return r.finishGoal(goal, dag, err, false)
	}

	taskIDs := make([]string, 0, len(wf.Tasks))
	for id := range wf.Tasks {
		taskIDs = append(taskIDs, id)
	}
	r.b.Publish(core.NewMessage(core.MessageSystemHealth, "orchestrator", "", map[string]interface{}{
		"event": "workflow:started", "goalId": goal.ID, "taskIds": taskIDs,
	}))

	var aggErr error
	for !dag.IsComplete() {
		if ctx.Err() != nil {
			break
		}
		ready := dag.ReadyTasks()
		if len(ready) == 0 {
			break // remaining tasks are blocked on a failed/cancelled dependency
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, task := range ready {
			_ = task.Transition(core.TaskInProgress)
			wg.Add(1)
			go func(t *core.Task) {
				defer wg.Done()
				result := r.runTask(ctx, t, wf.OnFailure)

				mu.Lock()
				defer mu.Unlock()
				r.tasksExecuted++
				if !result.Success {
					aggErr = multierr.Append(aggErr, fmt.Errorf("task %s: %s", t.ID, result.Error.Message))
					r.applyFailurePolicy(dag, wf, t)
				}
			}(task)
		}
		wg.Wait()
	}

	return r.finishGoal(goal, dag, aggErr, ctx.Err() != nil)
}

// runTask wraps agent dispatch in timeout + retry + circuit-breaker,
// routing through the manager and the bus request/response contract.
func (r *Runner) runTask(ctx context.Context, task *core.Task, onFailure core.OnFailurePolicy) *core.TaskResult {
	retryOpts := resilience.DefaultRetryOptions()
	if onFailure == core.OnFailureRetryTask {
		retryOpts.MaxAttempts *= 2
	}

	cb := resilience.GetCircuitBreaker("agent:"+string(task.AgentType), resilience.DefaultCircuitBreakerOptions())

	op := func(opCtx context.Context) (*core.TaskResult, error) {
		agentID, err := r.mgr.RouteTask(task)
		if err != nil {
			return nil, err
		}
		msg := core.NewMessage(core.MessageTaskSubmit, "orchestrator", agentID, task)
		reply, err := r.b.Request(opCtx, msg, r.requestTimeout())
		if err != nil {
			return nil, err
		}
		result, ok := reply.Payload.(*core.TaskResult)
		if !ok {
			return nil, core.NewFrameworkError("Runner.runTask", core.ErrCodeProtocol, core.ErrProtocol)
		}
		if !result.Success {
			return result, fmt.Errorf("%s", result.Error.Message)
		}
		return result, nil
	}

	specs := []resilience.StrategySpec[*core.TaskResult]{
		{Kind: resilience.StrategyTimeout, Timeout: r.requestTimeout()},
		{Kind: resilience.StrategyCircuitBreaker, Breaker: cb},
		{Kind: resilience.StrategyRetry, Retry: retryOpts},
	}

	envelope := resilience.WithRecovery(ctx, op, specs)
	if envelope.Success {
		_ = task.Transition(core.TaskCompleted)
		return envelope.Data
	}

	_ = task.Transition(core.TaskFailed)
	return core.NewFailureResult(task.ID, classifyRunnerErr(envelope.Error), envelope.Error.Error(), core.IsRetryable(envelope.Error), envelope.DurationMs)
}

func classifyRunnerErr(err error) core.ErrorCode {
	switch {
	case core.IsTimeout(err):
		return core.ErrCodeTimeout
	default:
		return core.ErrCodeInternal
	}
}

func (r *Runner) requestTimeout() time.Duration {
	if r.cfg.StopDrainTimeout > 0 {
		return r.cfg.StopDrainTimeout
	}
	return core.DefaultRequestTimeout
}

func (r *Runner) applyFailurePolicy(dag *WorkflowDAG, wf *core.Workflow, failed *core.Task) {
	switch wf.OnFailure {
	case core.OnFailureFailFast:
		for _, t := range wf.Tasks {
			if !t.Status.IsTerminal() {
				_ = t.Transition(core.TaskCancelled)
			}
		}
	default: // ContinueRemaining and RetryTask (after exhaustion) both only prune this task's subtree
		dag.SkipDependents(failed.ID)
	}
}

func (r *Runner) finishGoal(goal *core.Goal, dag *WorkflowDAG, aggErr error, cancelled bool) *core.GoalResult {
	stats := dag.Statistics()
	now := time.Now()
	goal.FinishedAt = &now

	taskResults := make(map[string]*core.TaskResult, stats.Total)
	for id, t := range goal.Workflow.Tasks {
		if cancelled && !t.Status.IsTerminal() {
			_ = t.Transition(core.TaskCancelled)
		}
		taskResults[id] = &core.TaskResult{TaskID: id, Status: t.Status, Success: t.Status == core.TaskCompleted}
	}

	switch {
	case cancelled:
		goal.Status = core.GoalCancelled
	case stats.Failed == 0 && stats.Cancelled == 0:
		goal.Status = core.GoalCompleted
	default:
		goal.Status = core.GoalFailed
	}

	result := &core.GoalResult{
		GoalID:         goal.ID,
		Status:         goal.Status,
		Success:        goal.Status == core.GoalCompleted,
		CompletedTasks: stats.Completed,
		FailedTasks:    stats.Failed,
		TaskResults:    taskResults,
	}
	if aggErr != nil {
		result.Error = aggErr.Error()
	}
	if goal.StartedAt != nil {
		result.TotalDuration = goal.FinishedAt.Sub(*goal.StartedAt).Milliseconds()
	}

	r.b.Publish(core.NewMessage(core.MessageSystemHealth, "orchestrator", "", map[string]interface{}{
		"event": "workflow:completed", "goalId": goal.ID, "success": goal.Status == core.GoalCompleted,
	}))
	r.b.Publish(core.NewMessage(core.MessageSystemHealth, "orchestrator", "", map[string]interface{}{
		"event": "goal:completed", "goalId": goal.ID, "success": goal.Status == core.GoalCompleted,
	}))

	r.mu.Lock()
	r.goalsExecuted++
	r.mu.Unlock()

	return result
}

// Destroy is idempotent: RUNNING -> STOPPING -> STOPPED. Pending goals are
// cancelled; the "stopped" event is emitted exactly once.
func (r *Runner) Destroy(ctx context.Context) error {
	r.mu.Lock()
	if r.status == StatusStopped || r.status == StatusStopping {
		r.mu.Unlock()
		return nil
	}
	if r.status != StatusRunning {
		r.status = StatusStopped
		r.mu.Unlock()
		return nil
	}
	r.status = StatusStopping
	stopCh := r.stopCh
	cancel := r.currentCancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	close(stopCh)
	r.wg.Wait()

	r.mu.Lock()
	r.status = StatusStopped
	r.mu.Unlock()

	r.b.Publish(core.NewMessage(core.MessageSystemHealth, "orchestrator", "", map[string]interface{}{"event": "stopped"}))
	return nil
}

// GetStats returns monotonic execution counters and the current status.
func (r *Runner) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	uptime := int64(0)
	if !r.startedAt.IsZero() {
		uptime = time.Since(r.startedAt).Milliseconds()
	}
	return Stats{
		Status:        r.status,
		GoalsExecuted: r.goalsExecuted,
		TasksExecuted: r.tasksExecuted,
		UptimeMs:      uptime,
	}
}
