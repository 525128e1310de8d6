package support

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Level is the minimum severity a notification must carry to be
// delivered, ordered low to high.
type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
	LevelCritical
)

// Notification is one message handed to Notify.
type Notification struct {
	Event   string
	Level   Level
	Title   string
	Body    string
	Fields  map[string]interface{}
}

// DeliveryResult is one adapter's outcome for a single Notification. It
// never carries a panic or an unrecovered error: failures are reported
// inline so Notify never throws.
type DeliveryResult struct {
	Channel string
	Success bool
	Error   string
}

// Adapter delivers a notification to one channel (Slack, Discord,
// email, ...). Implementations should be quick; Notify does not impose
// its own per-adapter timeout beyond ctx.
type Adapter interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// Notifier fans a Notification out to every registered Adapter, subject
// to a rolling messages-per-hour rate limit and an optional level/event
// filter.
type Notifier struct {
	mu       sync.Mutex
	adapters []Adapter
	limiter  *rate.Limiter
	minLevel Level
	events   map[string]bool // nil = no whitelist, deliver everything
}

// NewNotifier constructs a Notifier allowing ratePerHour messages across
// all adapters combined, rolling. ratePerHour <= 0 disables the limit.
func NewNotifier(ratePerHour int, minLevel Level) *Notifier {
	var limiter *rate.Limiter
	if ratePerHour > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Hour/time.Duration(ratePerHour)), ratePerHour)
	}
	return &Notifier{limiter: limiter, minLevel: minLevel}
}

// Register adds adapter to the fan-out set.
func (n *Notifier) Register(a Adapter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.adapters = append(n.adapters, a)
}

// WhitelistEvents restricts delivery to the named events. Passing no
// arguments clears the whitelist (deliver everything level-eligible).
func (n *Notifier) WhitelistEvents(events ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(events) == 0 {
		n.events = nil
		return
	}
	n.events = make(map[string]bool, len(events))
	for _, e := range events {
		n.events[e] = true
	}
}

// Notify delivers n to every registered adapter unless it is filtered
// by level, event whitelist, or the rolling rate limit — in which case
// it returns an empty result slice rather than erroring.
func (n *Notifier) Notify(ctx context.Context, note Notification) []DeliveryResult {
	n.mu.Lock()
	adapters := append([]Adapter(nil), n.adapters...)
	limiter := n.limiter
	belowLevel := note.Level < n.minLevel
	filteredOut := n.events != nil && !n.events[note.Event]
	n.mu.Unlock()

	if belowLevel || filteredOut {
		return nil
	}
	if limiter != nil && !limiter.Allow() {
		return nil
	}

	results := make([]DeliveryResult, 0, len(adapters))
	for _, a := range adapters {
		results = append(results, deliver(ctx, a, note))
	}
	return results
}

func deliver(ctx context.Context, a Adapter, note Notification) (result DeliveryResult) {
	result.Channel = a.Name()
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Error = "adapter panic"
		}
	}()
	if err := a.Deliver(ctx, note); err != nil {
		result.Success = false
		result.Error = err.Error()
		return result
	}
	result.Success = true
	return result
}
