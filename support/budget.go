// Package support implements the ambient primitives orchestrator and
// agents lean on but that aren't part of the core coordination loop:
// token budgets, usage accounting, rate-limited notification, and a
// cron-driven sweep for expired work.
package support

import (
	"sync"

	"github.com/autoforge/acp/bus"
	"github.com/autoforge/acp/core"
)

// BudgetEvent is emitted on the bus when a budget crosses its warning
// threshold or overflows.
type BudgetEvent struct {
	BudgetID string
	Used     int
	Max      int
	Kind     string // "warning" | "exceeded"
}

type budgetState struct {
	used      int
	max       int
	threshold float64 // fraction of max at which "warning" fires
	warned    bool
}

// BudgetManager tracks per-id token consumption and gates operations
// once a budget overflows.
type BudgetManager struct {
	b  *bus.Bus
	mu sync.Mutex
	st map[string]*budgetState
}

const defaultWarningThreshold = 0.8

// NewBudgetManager constructs an empty manager. A nil bus disables
// warning/exceeded event emission (still enforces limits).
func NewBudgetManager(b *bus.Bus) *BudgetManager {
	return &BudgetManager{b: b, st: make(map[string]*budgetState)}
}

// Register creates or replaces the budget for id. warningThreshold <= 0
// defaults to 80% of max.
func (m *BudgetManager) Register(id string, maxTokens int, warningThreshold float64) {
	if warningThreshold <= 0 {
		warningThreshold = defaultWarningThreshold
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st[id] = &budgetState{max: maxTokens, threshold: warningThreshold}
}

// Record adds inputTokens+outputTokens to id's usage, emitting a
// warning event the first time usage crosses the threshold and an
// exceeded event once usage passes max.
func (m *BudgetManager) Record(id string, inputTokens, outputTokens int) {
	m.mu.Lock()
	st, ok := m.st[id]
	if !ok {
		st = &budgetState{max: 0, threshold: defaultWarningThreshold}
		m.st[id] = st
	}
	st.used += inputTokens + outputTokens
	used, max := st.used, st.max
	crossedWarning := !st.warned && max > 0 && float64(used) >= float64(max)*st.threshold
	if crossedWarning {
		st.warned = true
	}
	exceeded := max > 0 && used > max
	m.mu.Unlock()

	if crossedWarning {
		m.emit(id, used, max, "warning")
	}
	if exceeded {
		m.emit(id, used, max, "exceeded")
	}
}

func (m *BudgetManager) emit(id string, used, max int, kind string) {
	if m.b == nil {
		return
	}
	m.b.Publish(core.NewMessage(core.MessageSystemHealth, "support.budget", "", map[string]interface{}{
		"event": "budget:" + kind, "budgetId": id, "used": used, "max": max,
	}))
}

// CanAfford is a pure predicate: would recording n additional tokens
// against id stay within its budget? Unregistered ids are unbounded.
func (m *BudgetManager) CanAfford(id string, n int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.st[id]
	if !ok || st.max <= 0 {
		return true
	}
	return st.used+n <= st.max
}

// Usage returns the current {used, max} snapshot for id.
func (m *BudgetManager) Usage(id string) (used, max int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.st[id]
	if !ok {
		return 0, 0
	}
	return st.used, st.max
}

// WithBudget runs op only if id has not already overflowed, returning
// a *core.BudgetExceededError otherwise.
func WithBudget[T any](m *BudgetManager, id string, op func() (T, error)) (T, error) {
	var zero T
	m.mu.Lock()
	st, ok := m.st[id]
	overflowed := ok && st.max > 0 && st.used > st.max
	var used, max int
	if ok {
		used, max = st.used, st.max
	}
	m.mu.Unlock()

	if overflowed {
		return zero, &core.BudgetExceededError{BudgetID: id, Used: used, Max: max}
	}
	return op()
}
