package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoforge/acp/agent"
	"github.com/autoforge/acp/bus"
	"github.com/autoforge/acp/core"
	"github.com/autoforge/acp/manager"
)

func newTestRunner(t *testing.T, handler agent.Handler) (*Runner, *bus.Bus, *manager.Manager) {
	b := bus.New(nil, time.Second)
	mgr := manager.New(nil)

	a := agent.New("agent-1", core.AgentTypeCoder, b, nil, time.Second)
	require.NoError(t, a.Initialize(context.Background()))
	a.RegisterHandler(core.TaskTypeGeneric, handler)
	require.NoError(t, mgr.Register(a))

	cfg := core.OrchestratorConfig{StopDrainTimeout: 2 * time.Second}
	r := New(b, mgr, nil, cfg)
	require.NoError(t, r.Start(context.Background()))
	return r, b, mgr
}

func TestExecuteGoalDefaultDecomposerRunsSingleTaskSuccessfully(t *testing.T) {
	r, _, _ := newTestRunner(t, func(ctx context.Context, task *core.Task) (interface{}, error) {
		return "done", nil
	})

	result, err := r.ExecuteGoal(context.Background(), "goal-1", "ship the feature", DefaultExecuteGoalOptions())
	require.NoError(t, err)
	assert.Equal(t, core.GoalCompleted, result.Status)
	assert.True(t, result.Success)
	assert.GreaterOrEqual(t, result.CompletedTasks, 1)
	assert.Equal(t, 0, result.FailedTasks)
	assert.Len(t, result.TaskResults, 1)
}

func TestExecuteGoalEmitsLifecycleEventsInOrder(t *testing.T) {
	r, b, _ := newTestRunner(t, func(ctx context.Context, task *core.Task) (interface{}, error) {
		return "done", nil
	})

	var mu sync.Mutex
	var events []string
	b.On(core.MessageSystemHealth, func(m *core.Message) {
		payload := m.Payload.(map[string]interface{})
		mu.Lock()
		events = append(events, payload["event"].(string))
		mu.Unlock()
	})

	_, err := r.ExecuteGoal(context.Background(), "goal-1", "ship the feature", DefaultExecuteGoalOptions())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Contains(t, events, "goal:started")
	require.Contains(t, events, "workflow:started")
	require.Contains(t, events, "workflow:completed")
	require.Contains(t, events, "goal:completed")

	idx := func(name string) int {
		for i, e := range events {
			if e == name {
				return i
			}
		}
		return -1
	}
	assert.Less(t, idx("goal:started"), idx("workflow:started"))
	assert.Less(t, idx("workflow:started"), idx("workflow:completed"))
	assert.Less(t, idx("workflow:completed"), idx("goal:completed"))
}

func TestExecuteGoalFailFastCancelsDependents(t *testing.T) {
	r, _, _ := newTestRunner(t, func(ctx context.Context, task *core.Task) (interface{}, error) {
		return nil, errors.New("boom")
	})
	r.decompose = func(title, description string) *core.Workflow {
		wf := core.NewWorkflow(title, core.OnFailureFailFast)
		root := core.NewTask(core.TaskTypeGeneric, core.AgentTypeCoder, nil)
		dependent := core.NewTask(core.TaskTypeGeneric, core.AgentTypeCoder, nil)
		dependent.DependsOn = []string{root.ID}
		wf.AddTask(root)
		wf.AddTask(dependent)
		return wf
	}

	result, err := r.ExecuteGoal(context.Background(), "goal-1", "ship the feature", DefaultExecuteGoalOptions())
	require.NoError(t, err)
	assert.Equal(t, core.GoalFailed, result.Status)
	assert.False(t, result.Success)
	assert.GreaterOrEqual(t, result.FailedTasks, 1)

	var sawCancelled bool
	for _, tr := range result.TaskResults {
		if tr.Status == core.TaskCancelled {
			sawCancelled = true
		}
	}
	assert.True(t, sawCancelled)
}

func TestExecuteGoalWithoutWaitReturnsRunningImmediately(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	r, _, _ := newTestRunner(t, func(ctx context.Context, task *core.Task) (interface{}, error) {
		close(started)
		<-release
		return "done", nil
	})

	opts := DefaultExecuteGoalOptions()
	opts.WaitForCompletion = false
	result, err := r.ExecuteGoal(context.Background(), "goal-1", "ship the feature", opts)
	require.NoError(t, err)
	assert.Equal(t, core.GoalRunning, result.Status)

	<-started
	close(release)
}

func TestDestroyIsIdempotentAndStopsTheCursor(t *testing.T) {
	r, _, _ := newTestRunner(t, func(ctx context.Context, task *core.Task) (interface{}, error) {
		return "done", nil
	})

	require.NoError(t, r.Destroy(context.Background()))
	require.NoError(t, r.Destroy(context.Background()))
	assert.Equal(t, StatusStopped, r.GetStats().Status)
}

func TestGetStatsCountsExecutedGoalsAndTasks(t *testing.T) {
	r, _, _ := newTestRunner(t, func(ctx context.Context, task *core.Task) (interface{}, error) {
		return "done", nil
	})

	_, err := r.ExecuteGoal(context.Background(), "goal-1", "ship the feature", DefaultExecuteGoalOptions())
	require.NoError(t, err)

	stats := r.GetStats()
	assert.Equal(t, int64(1), stats.GoalsExecuted)
	assert.Equal(t, int64(1), stats.TasksExecuted)
	assert.Equal(t, StatusRunning, stats.Status)
}
