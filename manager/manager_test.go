package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoforge/acp/agent"
	"github.com/autoforge/acp/bus"
	"github.com/autoforge/acp/core"
)

func newIdleAgent(t *testing.T, b *bus.Bus, id string) *agent.Agent {
	a := agent.New(id, core.AgentTypeCoder, b, nil, time.Second)
	require.NoError(t, a.Initialize(context.Background()))
	return a
}

func TestRegisterRejectsDuplicateID(t *testing.T) {
	b := bus.New(nil, time.Second)
	m := New(nil)
	a := newIdleAgent(t, b, "agent-1")

	require.NoError(t, m.Register(a))
	err := m.Register(a)
	require.Error(t, err)
	assert.True(t, core.IsStateError(err))
}

func TestRouteTaskRoundRobinsAmongIdlePeers(t *testing.T) {
	b := bus.New(nil, time.Second)
	m := New(nil)

	a1 := newIdleAgent(t, b, "agent-1")
	a2 := newIdleAgent(t, b, "agent-2")
	require.NoError(t, m.Register(a1))
	require.NoError(t, m.Register(a2))

	task := core.NewTask(core.TaskTypeCode, core.AgentTypeCoder, nil)

	first, err := m.RouteTask(task)
	require.NoError(t, err)
	second, err := m.RouteTask(task)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestRouteTaskFailsWithNoAvailableAgent(t *testing.T) {
	m := New(nil)
	task := core.NewTask(core.TaskTypeCode, core.AgentTypeCoder, nil)

	_, err := m.RouteTask(task)
	require.Error(t, err)
	var notAvailable *core.NoAvailableAgentError
	require.ErrorAs(t, err, &notAvailable)
}

func TestUnregisterRemovesFromBothIndices(t *testing.T) {
	b := bus.New(nil, time.Second)
	m := New(nil)
	a := newIdleAgent(t, b, "agent-1")
	require.NoError(t, m.Register(a))

	require.NoError(t, m.Unregister(context.Background(), "agent-1"))

	task := core.NewTask(core.TaskTypeCode, core.AgentTypeCoder, nil)
	_, err := m.RouteTask(task)
	require.Error(t, err)

	_, err = m.GetAgentHealth("agent-1")
	require.Error(t, err)
}

func TestCleanupStopsEveryRegisteredAgent(t *testing.T) {
	b := bus.New(nil, time.Second)
	m := New(nil)
	a1 := newIdleAgent(t, b, "agent-1")
	a2 := newIdleAgent(t, b, "agent-2")
	require.NoError(t, m.Register(a1))
	require.NoError(t, m.Register(a2))

	assert.NotPanics(t, func() { m.Cleanup(context.Background()) })
	assert.Equal(t, agent.StateStopped, a1.CurrentState())
	assert.Equal(t, agent.StateStopped, a2.CurrentState())
}
