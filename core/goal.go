package core

import "time"

// GoalStatus mirrors TaskStatus's lattice shape at the goal granularity.
type GoalStatus string

const (
	GoalCreated   GoalStatus = "CREATED"
	GoalRunning   GoalStatus = "RUNNING"
	GoalCompleted GoalStatus = "COMPLETED"
	GoalFailed    GoalStatus = "FAILED"
	GoalCancelled GoalStatus = "CANCELLED"
)

// IsTerminal reports whether s is a goal lattice sink state.
func (s GoalStatus) IsTerminal() bool {
	return s == GoalCompleted || s == GoalFailed || s == GoalCancelled
}

// OnFailurePolicy controls how a Workflow reacts when one of its tasks
// fails. FailFast is the conservative choice; ContinueRemaining
// maximizes forward progress; RetryTask reruns the failed node in place
// before falling back to ContinueRemaining semantics.
type OnFailurePolicy string

const (
	OnFailureFailFast          OnFailurePolicy = "fail-fast"
	OnFailureContinueRemaining OnFailurePolicy = "continue-remaining"
	OnFailureRetryTask         OnFailurePolicy = "retry-task"
)

// Goal is the top-level unit of work submitted to the orchestrator. A Goal
// owns exactly one Workflow, which in turn owns the Task DAG.
type Goal struct {
	ID          string
	Description string
	Status      GoalStatus
	Workflow    *Workflow
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

// NewGoal creates a CREATED goal wrapping workflow.
func NewGoal(description string, workflow *Workflow) *Goal {
	return &Goal{
		ID:          NewGoalID(),
		Description: description,
		Status:      GoalCreated,
		Workflow:    workflow,
		CreatedAt:   time.Now().UTC(),
	}
}

// Workflow is a named DAG of tasks plus the policy applied when a task
// within it fails. Edges are expressed per-task via
// Task.DependsOn; Workflow itself only tracks membership and policy.
type Workflow struct {
	ID        string
	Name      string
	Tasks     map[string]*Task
	OnFailure OnFailurePolicy
}

// NewWorkflow creates an empty workflow with the given failure policy.
// A zero-value policy defaults to ContinueRemaining, the recommended
// default that maximizes forward progress on independent branches.
func NewWorkflow(name string, onFailure OnFailurePolicy) *Workflow {
	if onFailure == "" {
		onFailure = OnFailureContinueRemaining
	}
	return &Workflow{
		ID:        "wf-" + shortID(),
		Name:      name,
		Tasks:     make(map[string]*Task),
		OnFailure: onFailure,
	}
}

// AddTask registers t under the workflow. It does not validate the DAG;
// call orchestrator.WorkflowDAG.Validate for cycle detection once all
// tasks are added.
func (w *Workflow) AddTask(t *Task) {
	w.Tasks[t.ID] = t
}

// GoalResult is the terminal outcome of a goal's execution, aggregating
// every task result produced along the way.
type GoalResult struct {
	GoalID         string
	Status         GoalStatus
	Success        bool
	CompletedTasks int
	FailedTasks    int
	TaskResults    map[string]*TaskResult
	Error          string
	TotalDuration  int64
}
