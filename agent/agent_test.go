package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoforge/acp/bus"
	"github.com/autoforge/acp/core"
)

func newTestAgent(t *testing.T) (*Agent, *bus.Bus) {
	b := bus.New(nil, time.Second)
	a := New("agent-1", core.AgentTypeCoder, b, nil, 100*time.Millisecond)
	require.NoError(t, a.Initialize(context.Background()))
	return a, b
}

func TestProcessTaskSuccessTransitionsAndEmits(t *testing.T) {
	a, b := newTestAgent(t)
	a.RegisterHandler(core.TaskTypeCode, func(ctx context.Context, task *core.Task) (interface{}, error) {
		return "patch applied", nil
	})

	var statuses []string
	b.On(core.MessageTaskStatus, func(m *core.Message) {
		payload := m.Payload.(map[string]interface{})
		statuses = append(statuses, payload["status"].(string))
	})

	task := core.NewTask(core.TaskTypeCode, core.AgentTypeCoder, nil)
	result, err := a.ProcessTask(context.Background(), task)

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, core.TaskCompleted, result.Status)
	assert.Contains(t, statuses, string(core.TaskInProgress))
	assert.Equal(t, StateIdle, a.CurrentState())
}

func TestProcessTaskValidationFailureNeverRunsHandler(t *testing.T) {
	a, _ := newTestAgent(t)
	called := false
	a.RegisterHandler(core.TaskTypeCode, func(ctx context.Context, task *core.Task) (interface{}, error) {
		called = true
		return nil, nil
	})

	badTask := &core.Task{ID: "", Type: core.TaskTypeCode, AgentType: core.AgentTypeCoder, Status: core.TaskPending}
	result, err := a.ProcessTask(context.Background(), badTask)

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, core.ErrCodeValidation, result.Error.Code)
	assert.False(t, result.Error.Retryable)
	assert.False(t, called)
}

func TestProcessTaskMissingHandlerFailsValidation(t *testing.T) {
	a, _ := newTestAgent(t)
	task := core.NewTask(core.TaskTypeReview, core.AgentTypeCoder, nil)
	result, err := a.ProcessTask(context.Background(), task)

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, core.ErrCodeValidation, result.Error.Code)
}

func TestGetHealthReflectsFailureRate(t *testing.T) {
	a, _ := newTestAgent(t)
	a.RegisterHandler(core.TaskTypeCode, func(ctx context.Context, task *core.Task) (interface{}, error) {
		return nil, assertError{}
	})

	for i := 0; i < 5; i++ {
		task := core.NewTask(core.TaskTypeCode, core.AgentTypeCoder, nil)
		_, _ = a.ProcessTask(context.Background(), task)
	}

	health := a.GetHealth()
	assert.Equal(t, 1.0, health.FailureRate)
	assert.False(t, health.Healthy)
}

type assertError struct{}

func (assertError) Error() string { return "handler failure" }

func TestStopDrainsInFlightTask(t *testing.T) {
	a, _ := newTestAgent(t)
	started := make(chan struct{})
	release := make(chan struct{})
	a.RegisterHandler(core.TaskTypeCode, func(ctx context.Context, task *core.Task) (interface{}, error) {
		close(started)
		<-release
		return "done", nil
	})

	task := core.NewTask(core.TaskTypeCode, core.AgentTypeCoder, nil)
	go a.ProcessTask(context.Background(), task)
	<-started

	stopDone := make(chan struct{})
	go func() {
		a.Stop(context.Background())
		close(stopDone)
	}()

	close(release)
	<-stopDone
	assert.Equal(t, StateStopped, a.CurrentState())
}
