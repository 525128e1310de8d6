package core

import "time"

// TaskType is the closed set of task kinds the orchestrator can submit.
// Agents validate incoming tasks against this set plus their own
// type-specific payload schema.
type TaskType string

const (
	TaskTypePlan     TaskType = "plan"
	TaskTypeCode     TaskType = "code"
	TaskTypeReview   TaskType = "review"
	TaskTypeTest     TaskType = "test"
	TaskTypeRepo     TaskType = "repo"
	TaskTypeDoc      TaskType = "doc"
	TaskTypeExplore  TaskType = "explore"
	TaskTypeGeneric  TaskType = "generic"
)

var knownTaskTypes = map[TaskType]struct{}{
	TaskTypePlan: {}, TaskTypeCode: {}, TaskTypeReview: {}, TaskTypeTest: {},
	TaskTypeRepo: {}, TaskTypeDoc: {}, TaskTypeExplore: {}, TaskTypeGeneric: {},
}

// IsKnownTaskType reports whether t is in the closed task-type whitelist.
func IsKnownTaskType(t TaskType) bool {
	_, ok := knownTaskTypes[t]
	return ok
}

// AgentType is the closed set of agent specializations.
type AgentType string

const (
	AgentTypePlanner    AgentType = "planner"
	AgentTypeCoder      AgentType = "coder"
	AgentTypeReviewer   AgentType = "reviewer"
	AgentTypeTester     AgentType = "tester"
	AgentTypeArchitect  AgentType = "architect"
	AgentTypeRepoManager AgentType = "repo-manager"
	AgentTypeDocWriter  AgentType = "doc-writer"
	AgentTypeExplorer   AgentType = "explorer"
	AgentTypeLibrarian  AgentType = "librarian"
)

var knownAgentTypes = map[AgentType]struct{}{
	AgentTypePlanner: {}, AgentTypeCoder: {}, AgentTypeReviewer: {}, AgentTypeTester: {},
	AgentTypeArchitect: {}, AgentTypeRepoManager: {}, AgentTypeDocWriter: {},
	AgentTypeExplorer: {}, AgentTypeLibrarian: {},
}

// IsKnownAgentType reports whether t is in the closed agent-type whitelist.
func IsKnownAgentType(t AgentType) bool {
	_, ok := knownAgentTypes[t]
	return ok
}

// TaskStatus is a monotonic lattice: PENDING -> IN_PROGRESS -> one of the
// three terminal statuses. No backward transitions are permitted;
// Task.Transition enforces this.
type TaskStatus string

const (
	TaskPending    TaskStatus = "PENDING"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
	TaskCancelled  TaskStatus = "CANCELLED"
)

// IsTerminal reports whether s is one of the lattice's sink states.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// validTaskTransitions enumerates the only legal status transitions.
var validTaskTransitions = map[TaskStatus]map[TaskStatus]bool{
	TaskPending:    {TaskInProgress: true, TaskCancelled: true},
	TaskInProgress: {TaskCompleted: true, TaskFailed: true, TaskCancelled: true},
}

// TaskMetadata carries bookkeeping fields that ride along with a Task but
// are not part of its payload contract.
type TaskMetadata struct {
	CreatedAt     time.Time
	CorrelationID string
	RetryCount    int
}

// Task is created by the orchestrator, validated on submission, and
// driven through the status lattice by the owning agent.
type Task struct {
	ID        string
	Type      TaskType
	AgentType AgentType
	Priority  Priority
	Status    TaskStatus
	Payload   map[string]interface{}
	Metadata  TaskMetadata

	// DependsOn lists task IDs within the same workflow that must reach a
	// terminal status before this task becomes ready.
	DependsOn []string
}

// NewTask builds a PENDING task with a generated ID and CreatedAt.
func NewTask(taskType TaskType, agentType AgentType, payload map[string]interface{}) *Task {
	return &Task{
		ID:        NewTaskID(),
		Type:      taskType,
		AgentType: agentType,
		Priority:  PriorityNormal,
		Status:    TaskPending,
		Payload:   payload,
		Metadata:  TaskMetadata{CreatedAt: time.Now().UTC()},
	}
}

// Validate checks the required-field and type-whitelist rules a task must
// satisfy before it can be submitted.
func (t *Task) Validate() error {
	if t.ID == "" {
		return &ValidationError{Field: "id", Message: "task id is required"}
	}
	if !IsKnownTaskType(t.Type) {
		return &ValidationError{Field: "type", Message: "unknown task type " + string(t.Type)}
	}
	if !IsKnownAgentType(t.AgentType) {
		return &ValidationError{Field: "agentType", Message: "unknown agent type " + string(t.AgentType)}
	}
	return nil
}

// Transition moves the task to `to`, returning an error if the move is
// not permitted by the status lattice. Terminal statuses are final.
func (t *Task) Transition(to TaskStatus) error {
	if t.Status.IsTerminal() {
		return &FrameworkError{Op: "Task.Transition", Code: ErrCodeInternal,
			Message: "task " + t.ID + " is already terminal at " + string(t.Status)}
	}
	allowed := validTaskTransitions[t.Status]
	if !allowed[to] {
		return &FrameworkError{Op: "Task.Transition", Code: ErrCodeInternal,
			Message: "illegal transition " + string(t.Status) + " -> " + string(to) + " for task " + t.ID}
	}
	t.Status = to
	return nil
}

// TaskError is the classified error attached to a failed TaskResult.
type TaskError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
}

// TaskResult is the terminal outcome of processing a Task.
type TaskResult struct {
	TaskID     string
	Status     TaskStatus
	Success    bool
	Data       interface{}
	Error      *TaskError
	DurationMs int64
}

// NewSuccessResult builds a successful, COMPLETED TaskResult.
func NewSuccessResult(taskID string, data interface{}, durationMs int64) *TaskResult {
	return &TaskResult{TaskID: taskID, Status: TaskCompleted, Success: true, Data: data, DurationMs: durationMs}
}

// NewFailureResult builds a failed TaskResult with a classified error.
func NewFailureResult(taskID string, code ErrorCode, message string, retryable bool, durationMs int64) *TaskResult {
	return &TaskResult{
		TaskID: taskID, Status: TaskFailed, Success: false,
		Error:      &TaskError{Code: code, Message: message, Retryable: retryable},
		DurationMs: durationMs,
	}
}
