package orchestrator

import (
	"github.com/autoforge/acp/core"
)

// WorkflowDAG tracks the dependency graph of a Workflow's tasks, adapted
// from the dependents-index/cycle-detection style of a classic job-DAG
// executor: the reverse edges are built once up front (SkipDependents walks
// them), and ReadyTasks computes readiness by checking each pending task's
// dependencies' statuses on every call.
type WorkflowDAG struct {
	workflow   *core.Workflow
	dependents map[string][]string // taskID -> task IDs that depend on it
}

// NewWorkflowDAG builds dependent indices for wf. Call Validate before
// executing to reject cycles.
func NewWorkflowDAG(wf *core.Workflow) *WorkflowDAG {
	d := &WorkflowDAG{workflow: wf, dependents: make(map[string][]string)}
	d.rebuildDependents()
	return d
}

func (d *WorkflowDAG) rebuildDependents() {
	d.dependents = make(map[string][]string)
	for _, t := range d.workflow.Tasks {
		for _, dep := range t.DependsOn {
			d.dependents[dep] = append(d.dependents[dep], t.ID)
		}
	}
}

// Validate rejects a workflow whose dependency edges contain a cycle or
// reference a task ID outside the workflow.
func (d *WorkflowDAG) Validate() error {
	for _, t := range d.workflow.Tasks {
		for _, dep := range t.DependsOn {
			if _, ok := d.workflow.Tasks[dep]; !ok {
				return &core.ValidationError{Field: "dependsOn", Message: "task " + t.ID + " depends on unknown task " + dep}
			}
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(d.workflow.Tasks))
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, dep := range d.workflow.Tasks[id].DependsOn {
			switch color[dep] {
			case gray:
				return true // back edge: cycle
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}
	for id := range d.workflow.Tasks {
		if color[id] == white {
			if visit(id) {
				return &core.ValidationError{Field: "dependsOn", Message: "workflow " + d.workflow.ID + " contains a dependency cycle"}
			}
		}
	}
	return nil
}

// ReadyTasks returns every non-terminal task whose dependencies have all
// reached a terminal status.
func (d *WorkflowDAG) ReadyTasks() []*core.Task {
	var ready []*core.Task
	for _, t := range d.workflow.Tasks {
		if t.Status.IsTerminal() {
			continue
		}
		if t.Status != core.TaskPending {
			continue // already dispatched (IN_PROGRESS)
		}
		if d.allDependenciesTerminal(t) {
			ready = append(ready, t)
		}
	}
	return ready
}

func (d *WorkflowDAG) allDependenciesTerminal(t *core.Task) bool {
	for _, dep := range t.DependsOn {
		depTask, ok := d.workflow.Tasks[dep]
		if !ok || !depTask.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// SkipDependents transitions every transitive, still-pending dependent of
// failedTaskID to CANCELLED — used by the continue-remaining and
// retry-task onFailure policies (fail-fast cancels every non-terminal task
// instead).
func (d *WorkflowDAG) SkipDependents(failedTaskID string) []*core.Task {
	var skipped []*core.Task
	var walk func(id string)
	seen := make(map[string]bool)
	walk = func(id string) {
		for _, depID := range d.dependents[id] {
			if seen[depID] {
				continue
			}
			seen[depID] = true
			t := d.workflow.Tasks[depID]
			if t != nil && !t.Status.IsTerminal() {
				_ = t.Transition(core.TaskCancelled)
				skipped = append(skipped, t)
			}
			walk(depID)
		}
	}
	walk(failedTaskID)
	return skipped
}

// IsComplete reports whether every task in the workflow has reached a
// terminal status.
func (d *WorkflowDAG) IsComplete() bool {
	for _, t := range d.workflow.Tasks {
		if !t.Status.IsTerminal() {
			return false
		}
	}
	return true
}

// WorkflowStats summarizes the current terminal/non-terminal counts.
type WorkflowStats struct {
	Total     int
	Completed int
	Failed    int
	Cancelled int
	Pending   int
}

// Statistics computes a WorkflowStats snapshot over the workflow's current
// task statuses.
func (d *WorkflowDAG) Statistics() WorkflowStats {
	s := WorkflowStats{Total: len(d.workflow.Tasks)}
	for _, t := range d.workflow.Tasks {
		switch t.Status {
		case core.TaskCompleted:
			s.Completed++
		case core.TaskFailed:
			s.Failed++
		case core.TaskCancelled:
			s.Cancelled++
		default:
			s.Pending++
		}
	}
	return s
}
