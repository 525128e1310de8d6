// Package bus implements the in-process publish/subscribe broker that
// every other component in the coordination substrate talks through.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/autoforge/acp/core"
)

// Subscription is a handle returned by Subscribe and On. Unsubscribe is
// idempotent and safe to call from within a handler.
type Subscription struct {
	id  string
	bus *Bus
}

// ID returns the subscription's unique identifier.
func (s *Subscription) ID() string { return s.id }

// Unsubscribe removes the subscription. Calling it more than once, or
// from within the matched handler itself, is a no-op after the first call.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

// entry is one registered subscription, tracked in registration order.
type entry struct {
	id        string
	predicate core.MessagePredicate
	handler   core.MessageHandler
	active    bool
}

// Bus is a single-threaded-cooperative in-process message broker. All
// mutation of the subscription table happens under mu; handlers run
// sequentially per Publish call and may themselves call Publish, Subscribe,
// or Unsubscribe re-entrantly.
type Bus struct {
	mu            sync.Mutex
	entries       []*entry
	logger        core.Logger
	handlerTimeout time.Duration
}

// New creates a Bus. A nil logger defaults to core.NoOpLogger.
func New(logger core.Logger, handlerTimeout time.Duration) *Bus {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if handlerTimeout <= 0 {
		handlerTimeout = core.DefaultRequestTimeout
	}
	return &Bus{logger: logger, handlerTimeout: handlerTimeout}
}

// Subscribe registers a predicate-matched handler and returns a handle to
// remove it later. Order of registration determines delivery order for any
// single publisher.
func (b *Bus) Subscribe(predicate core.MessagePredicate, handler core.MessageHandler) *Subscription {
	b.mu.Lock()
	e := &entry{id: core.NewSubscriptionID(), predicate: predicate, handler: handler, active: true}
	b.entries = append(b.entries, e)
	b.mu.Unlock()
	return &Subscription{id: e.id, bus: b}
}

// On is a convenience wrapper around Subscribe that matches messages of a
// single type.
func (b *Bus) On(msgType core.MessageType, handler core.MessageHandler) *Subscription {
	return b.Subscribe(func(m *core.Message) bool { return m.Type == msgType }, handler)
}

// Clear drops every subscription. Intended for test teardown and runner
// shutdown.
func (b *Bus) Clear() {
	b.mu.Lock()
	b.entries = nil
	b.mu.Unlock()
}

// unsubscribe marks the entry inactive and removes it from the table at
// once. The three-index slice makes append build a fresh backing array, and
// an in-progress Publish loop ranges over its own snapshot copy.
func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, e := range b.entries {
		if e.id == id {
			e.active = false
			b.entries = append(b.entries[:i:i], b.entries[i+1:]...)
			return
		}
	}
}

// snapshot returns the currently active entries in registration order,
// safe to range over without holding mu (new subscriptions made during
// delivery do not retroactively receive the in-flight message).
func (b *Bus) snapshot() []*entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*entry, 0, len(b.entries))
	for _, e := range b.entries {
		if e.active {
			out = append(out, e)
		}
	}
	return out
}

// Publish delivers msg to every subscription whose predicate matches, in
// registration order, invoking handlers sequentially. A handler panic or
// the absence of one is never surfaced to the caller — publish itself
// never fails.
func (b *Bus) Publish(msg *core.Message) {
	for _, e := range b.snapshot() {
		if !e.predicate(msg) {
			continue
		}
		b.invoke(e, msg)
	}
}

// invoke runs a single handler, recovering from panics and logging
// failures instead of letting them escape Publish.
func (b *Bus) invoke(e *entry, msg *core.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus handler panicked", map[string]interface{}{
				"subscription": e.id, "messageId": msg.ID, "messageType": string(msg.Type), "panic": fmt.Sprintf("%v", r),
			})
		}
	}()
	e.handler(msg)
}

// Request publishes msg and waits for the first message whose
// CorrelationID matches msg.ID, up to timeout. On timeout the ephemeral
// subscription is removed and a *core.TimeoutError is returned.
func (b *Bus) Request(ctx context.Context, msg *core.Message, timeout time.Duration) (*core.Message, error) {
	if timeout <= 0 {
		timeout = b.handlerTimeout
	}
	replies := make(chan *core.Message, 1)
	var once sync.Once

	sub := b.Subscribe(
		func(m *core.Message) bool { return m.CorrelationID == msg.ID },
		func(m *core.Message) {
			once.Do(func() { replies <- m })
		},
	)
	defer sub.Unsubscribe()

	b.Publish(msg)

	start := time.Now()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case reply := <-replies:
		return reply, nil
	case <-timer.C:
		return nil, &core.TimeoutError{Op: "bus.Request", DurationMs: time.Since(start).Milliseconds()}
	case <-ctx.Done():
		return nil, &core.TimeoutError{Op: "bus.Request", DurationMs: time.Since(start).Milliseconds()}
	}
}

// SubscriptionCount reports the number of live subscriptions, for tests
// and health snapshots.
func (b *Bus) SubscriptionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.entries {
		if e.active {
			n++
		}
	}
	return n
}
