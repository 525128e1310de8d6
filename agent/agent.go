// Package agent implements the stateful worker runtime that executes
// tasks routed to it by the agent manager.
package agent

import (
	"context"
	"sync"
	"time"

	"github.com/autoforge/acp/bus"
	"github.com/autoforge/acp/core"
)

// State is the agent lifecycle state machine:
// INITIALIZING -> IDLE -> BUSY -> (IDLE | STOPPED). StateError is part of
// the state set, but this runtime never enters it: a task whose handler
// fails returns the agent to IDLE.
type State string

const (
	StateInitializing State = "INITIALIZING"
	StateIdle          State = "IDLE"
	StateBusy          State = "BUSY"
	StateError         State = "ERROR"
	StateStopped       State = "STOPPED"
)

// Handler runs one task of the agent's type and returns its result
// payload, or an error classified by the agent into a TaskResult.
type Handler func(ctx context.Context, task *core.Task) (interface{}, error)

// Health is the derived snapshot returned by GetHealth.
type Health struct {
	Healthy     bool
	State       State
	LastTaskAt  time.Time
	FailureRate float64
}

// failureWindowSize bounds the recent-outcomes ring used to derive
// FailureRate; matches the support package's usage-tracker ring sizing
// philosophy (small, fixed, FIFO).
const failureWindowSize = 20

// failureRateThreshold is the ceiling past which Health.Healthy flips
// false even though the agent is technically IDLE/BUSY.
const failureRateThreshold = 0.5

// Agent is a worker identified by {id, type}. Construct with New, wire
// task-type handlers with RegisterHandler, then Initialize and Start it.
type Agent struct {
	ID   string
	Type core.AgentType

	bus    *bus.Bus
	logger core.Logger

	stopTimeout time.Duration

	mu          sync.Mutex
	state       State
	handlers    map[core.TaskType]Handler
	subs        []*bus.Subscription
	lastTaskAt  time.Time
	outcomes    []bool // true = success, ring buffer
	outcomeHead int
	current     *core.Task
	currentDone chan struct{}
}

// New constructs an agent in the INITIALIZING state. A nil logger
// defaults to core.NoOpLogger.
func New(id string, agentType core.AgentType, b *bus.Bus, logger core.Logger, stopTimeout time.Duration) *Agent {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if stopTimeout <= 0 {
		stopTimeout = core.DefaultStopDrainTimeout
	}
	return &Agent{
		ID:          id,
		Type:        agentType,
		bus:         b,
		logger:      logger,
		stopTimeout: stopTimeout,
		state:       StateInitializing,
		handlers:    make(map[core.TaskType]Handler),
	}
}

// RegisterHandler wires the function that processes tasks of taskType.
// Must be called before Initialize.
func (a *Agent) RegisterHandler(taskType core.TaskType, h Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.handlers[taskType] = h
}

// Initialize subscribes to tasks addressed to this agent's id and
// transitions INITIALIZING -> IDLE.
func (a *Agent) Initialize(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateInitializing {
		return core.NewFrameworkError("Agent.Initialize", core.ErrCodeInternal, core.ErrAlreadyStarted)
	}

	sub := a.bus.Subscribe(
		func(m *core.Message) bool { return m.Type == core.MessageTaskSubmit && m.Target == a.ID },
		func(m *core.Message) {
			task, ok := m.Payload.(*core.Task)
			if !ok {
				return
			}
			go func() {
				result, err := a.ProcessTask(context.Background(), task)
				if err != nil {
					a.logger.Error("processTask failed", map[string]interface{}{"agentId": a.ID, "taskId": task.ID, "error": err.Error()})
					return
				}
				reply := core.NewMessage(core.MessageTaskResult, a.ID, m.Source, result)
				reply.WithCorrelationID(m.ID)
				a.bus.Publish(reply)
			}()
		},
	)
	a.subs = append(a.subs, sub)
	a.state = StateIdle
	a.logger.Info("agent initialized", map[string]interface{}{"agentId": a.ID, "agentType": string(a.Type)})
	return nil
}

// Start is idempotent; a STOPPED agent may not be restarted (construct a
// new Agent instead), matching the manager's register/unregister lifecycle.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateIdle || a.state == StateBusy {
		return nil
	}
	if a.state == StateStopped {
		return core.NewFrameworkError("Agent.Start", core.ErrCodeInternal, core.ErrAlreadyStarted)
	}
	return core.NewFrameworkError("Agent.Start", core.ErrCodeInternal, core.ErrNotInitialized)
}

// Stop is idempotent. It waits up to stopTimeout for any task currently
// in flight to finish, then releases every subscription and transitions
// to STOPPED.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.state == StateStopped {
		a.mu.Unlock()
		return nil
	}
	done := a.currentDone
	a.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(a.stopTimeout):
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.subs {
		s.Unsubscribe()
	}
	a.subs = nil
	a.state = StateStopped
	a.logger.Info("agent stopped", map[string]interface{}{"agentId": a.ID})
	return nil
}

// ProcessTask validates task, runs the registered handler for its type,
// and emits task:status(IN_PROGRESS) followed by exactly one terminal
// task:result.
func (a *Agent) ProcessTask(ctx context.Context, task *core.Task) (*core.TaskResult, error) {
	if err := task.Validate(); err != nil {
		result := core.NewFailureResult(task.ID, core.ErrCodeValidation, err.Error(), false, 0)
		a.emitStatus(task, core.TaskInProgress)
		a.emitResult(task, result)
		return result, nil
	}

	a.mu.Lock()
	if a.state != StateIdle {
		a.mu.Unlock()
		return nil, core.NewFrameworkError("Agent.ProcessTask", core.ErrCodeInternal, core.ErrNotInitialized)
	}
	handler, ok := a.handlers[task.Type]
	if !ok {
		a.mu.Unlock()
		result := core.NewFailureResult(task.ID, core.ErrCodeValidation, "no handler registered for task type "+string(task.Type), false, 0)
		a.emitStatus(task, core.TaskInProgress)
		a.emitResult(task, result)
		return result, nil
	}
	a.state = StateBusy
	a.current = task
	a.currentDone = make(chan struct{})
	a.mu.Unlock()

	_ = task.Transition(core.TaskInProgress)
	a.emitStatus(task, core.TaskInProgress)

	start := time.Now()
	data, err := handler(ctx, task)
	duration := time.Since(start).Milliseconds()

	var result *core.TaskResult
	if err != nil {
		result = core.NewFailureResult(task.ID, classify(err), err.Error(), core.IsRetryable(err), duration)
	} else {
		result = core.NewSuccessResult(task.ID, data, duration)
	}
	_ = task.Transition(result.Status)
	a.emitResult(task, result)

	a.mu.Lock()
	a.lastTaskAt = time.Now()
	a.recordOutcome(err == nil)
	if err != nil {
		a.state = StateIdle // recoverable faults return to IDLE; unrecoverable corruption is out of scope here
	} else {
		a.state = StateIdle
	}
	a.current = nil
	close(a.currentDone)
	a.currentDone = nil
	a.mu.Unlock()

	return result, nil
}

func classify(err error) core.ErrorCode {
	switch {
	case core.IsTimeout(err):
		return core.ErrCodeTimeout
	case core.IsValidation(err):
		return core.ErrCodeValidation
	default:
		return core.ErrCodeInternal
	}
}

func (a *Agent) emitStatus(task *core.Task, status core.TaskStatus) {
	msg := core.NewMessage(core.MessageTaskStatus, a.ID, "", map[string]interface{}{
		"taskId": task.ID, "status": string(status),
	})
	a.bus.Publish(msg)
}

func (a *Agent) emitResult(task *core.Task, result *core.TaskResult) {
	msg := core.NewMessage(core.MessageTaskResult, a.ID, "", result)
	a.bus.Publish(msg)
}

// recordOutcome pushes a success/failure bit into the FIFO ring used to
// derive FailureRate. Caller must hold a.mu.
func (a *Agent) recordOutcome(success bool) {
	if len(a.outcomes) < failureWindowSize {
		a.outcomes = append(a.outcomes, success)
		return
	}
	a.outcomes[a.outcomeHead] = success
	a.outcomeHead = (a.outcomeHead + 1) % failureWindowSize
}

func (a *Agent) failureRate() float64 {
	if len(a.outcomes) == 0 {
		return 0
	}
	failures := 0
	for _, ok := range a.outcomes {
		if !ok {
			failures++
		}
	}
	return float64(failures) / float64(len(a.outcomes))
}

// GetHealth derives a snapshot from current state and recent outcomes.
func (a *Agent) GetHealth() Health {
	a.mu.Lock()
	defer a.mu.Unlock()

	rate := a.failureRate()
	state := a.state
	healthy := (state == StateIdle || state == StateBusy) && rate <= failureRateThreshold

	return Health{Healthy: healthy, State: state, LastTaskAt: a.lastTaskAt, FailureRate: rate}
}

// CurrentState returns the agent's lifecycle state.
func (a *Agent) CurrentState() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}
