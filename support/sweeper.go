package support

import (
	"context"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/autoforge/acp/bus"
	"github.com/autoforge/acp/core"
)

// Sweepable is anything the sweeper can check for staleness: an
// in-flight task/goal deadline, or an agent's last-seen heartbeat.
type Sweepable interface {
	// ID identifies the swept entity for the expiry event payload.
	ID() string
	// ExpiresAt is the instant after which the entity is considered
	// stale. A zero value never expires.
	ExpiresAt() time.Time
}

// Source supplies the current set of entities a sweep pass should
// check. Implementations should return a fresh snapshot each call.
type Source func() []Sweepable

// ScheduledSweeper runs a periodic pass (via robfig/cron) that checks
// every Sweepable yielded by its registered Sources and emits an
// expiry event for each one past its deadline.
type ScheduledSweeper struct {
	b   *bus.Bus
	cr  *cronlib.Cron
	mu  sync.Mutex
	src []Source

	entryID cronlib.EntryID
	running bool
}

// NewScheduledSweeper constructs a sweeper. Call AddSource to register
// what it checks and Start with a cron expression to begin sweeping.
func NewScheduledSweeper(b *bus.Bus) *ScheduledSweeper {
	return &ScheduledSweeper{b: b, cr: cronlib.New()}
}

// AddSource registers a Source consulted on every sweep pass.
func (s *ScheduledSweeper) AddSource(src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src = append(s.src, src)
}

// Start schedules sweeps on expr (standard five-field cron syntax) and
// begins the cron scheduler's background goroutine. Idempotent.
func (s *ScheduledSweeper) Start(expr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	id, err := s.cr.AddFunc(expr, func() { s.sweepOnce() })
	if err != nil {
		return core.NewFrameworkError("ScheduledSweeper.Start", core.ErrCodeValidation, err)
	}
	s.entryID = id
	s.cr.Start()
	s.running = true
	return nil
}

// Stop halts the cron scheduler and waits for any in-flight sweep to
// finish. Idempotent.
func (s *ScheduledSweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	stopCtx := s.cr.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

// SweepNow runs one sweep pass synchronously, independent of the cron
// schedule — useful for tests and for an operator-triggered sweep.
func (s *ScheduledSweeper) SweepNow() int {
	return s.sweepOnce()
}

func (s *ScheduledSweeper) sweepOnce() int {
	s.mu.Lock()
	sources := append([]Source(nil), s.src...)
	s.mu.Unlock()

	now := time.Now()
	expired := 0
	for _, src := range sources {
		for _, item := range src() {
			deadline := item.ExpiresAt()
			if deadline.IsZero() || deadline.After(now) {
				continue
			}
			expired++
			if s.b != nil {
				s.b.Publish(core.NewMessage(core.MessageSystemHealth, "support.sweeper", "", map[string]interface{}{
					"event": "expiry:swept", "id": item.ID(), "expiresAt": deadline,
				}))
			}
		}
	}
	return expired
}
