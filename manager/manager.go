// Package manager implements the agent registry and round-robin task
// router.
package manager

import (
	"context"
	"sync"

	"github.com/autoforge/acp/agent"
	"github.com/autoforge/acp/core"
)

// Manager owns two indices over registered agents: by id (unique) and by
// type (set), and routes tasks to an IDLE agent of the right type.
type Manager struct {
	logger core.Logger

	mu       sync.Mutex
	byID     map[string]*agent.Agent
	byType   map[core.AgentType][]*agent.Agent
	cursor   map[core.AgentType]int // round-robin position per type
}

// New constructs an empty Manager. A nil logger defaults to
// core.NoOpLogger.
func New(logger core.Logger) *Manager {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Manager{
		logger: logger,
		byID:   make(map[string]*agent.Agent),
		byType: make(map[core.AgentType][]*agent.Agent),
		cursor: make(map[core.AgentType]int),
	}
}

// Register adds agent a to both indices. Fails if a.ID is already present.
func (m *Manager) Register(a *agent.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byID[a.ID]; exists {
		return core.NewFrameworkError("Manager.Register", core.ErrCodeInternal, core.ErrAlreadyRegistered)
	}
	m.byID[a.ID] = a
	m.byType[a.Type] = append(m.byType[a.Type], a)
	m.logger.Info("agent registered", map[string]interface{}{"agentId": a.ID, "agentType": string(a.Type)})
	return nil
}

// Unregister stops agent id (best-effort) then removes it from both
// indices.
func (m *Manager) Unregister(ctx context.Context, id string) error {
	m.mu.Lock()
	a, exists := m.byID[id]
	if !exists {
		m.mu.Unlock()
		return core.NewFrameworkError("Manager.Unregister", core.ErrCodeInternal, core.ErrNotFound)
	}
	delete(m.byID, id)
	peers := m.byType[a.Type]
	for i, p := range peers {
		if p.ID == id {
			m.byType[a.Type] = append(peers[:i], peers[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if err := a.Stop(ctx); err != nil {
		m.logger.Warn("agent stop failed during unregister", map[string]interface{}{"agentId": id, "error": err.Error()})
	}
	return nil
}

// Start delegates to the agent's lifecycle Start.
func (m *Manager) Start(ctx context.Context, id string) error {
	a, err := m.lookup(id)
	if err != nil {
		return err
	}
	return a.Start(ctx)
}

// Stop delegates to the agent's lifecycle Stop.
func (m *Manager) Stop(ctx context.Context, id string) error {
	a, err := m.lookup(id)
	if err != nil {
		return err
	}
	return a.Stop(ctx)
}

func (m *Manager) lookup(id string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, core.NewFrameworkError("Manager.lookup", core.ErrCodeInternal, core.ErrNotFound)
	}
	return a, nil
}

// RouteTask selects an IDLE agent of task.AgentType using round-robin over
// the type's index, advancing the cursor on every successful route. If no
// peer of the type is IDLE, returns a *core.NoAvailableAgentError.
func (m *Manager) RouteTask(task *core.Task) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	peers := m.byType[task.AgentType]
	if len(peers) == 0 {
		return "", &core.NoAvailableAgentError{AgentType: string(task.AgentType)}
	}

	start := m.cursor[task.AgentType]
	for i := 0; i < len(peers); i++ {
		idx := (start + i) % len(peers)
		candidate := peers[idx]
		if candidate.CurrentState() == agent.StateIdle {
			m.cursor[task.AgentType] = (idx + 1) % len(peers)
			return candidate.ID, nil
		}
	}

	return "", &core.NoAvailableAgentError{AgentType: string(task.AgentType)}
}

// GetAgentHealth snapshots a single agent's health.
func (m *Manager) GetAgentHealth(id string) (agent.Health, error) {
	a, err := m.lookup(id)
	if err != nil {
		return agent.Health{}, err
	}
	return a.GetHealth(), nil
}

// GetAllAgentStatus snapshots every registered agent's health, keyed by id.
func (m *Manager) GetAllAgentStatus() map[string]agent.Health {
	m.mu.Lock()
	ids := make([]*agent.Agent, 0, len(m.byID))
	for _, a := range m.byID {
		ids = append(ids, a)
	}
	m.mu.Unlock()

	out := make(map[string]agent.Health, len(ids))
	for _, a := range ids {
		out[a.ID] = a.GetHealth()
	}
	return out
}

// Cleanup stops every registered agent, swallowing individual failures so
// one bad agent cannot block teardown.
func (m *Manager) Cleanup(ctx context.Context) {
	m.mu.Lock()
	agents := make([]*agent.Agent, 0, len(m.byID))
	for _, a := range m.byID {
		agents = append(agents, a)
	}
	m.mu.Unlock()

	for _, a := range agents {
		if err := a.Stop(ctx); err != nil {
			m.logger.Warn("cleanup: agent stop failed", map[string]interface{}{"agentId": a.ID, "error": err.Error()})
		}
	}
}
