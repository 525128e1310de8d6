package core

import "time"

// MessageType is the closed set of event types carried on the bus.
// Unknown types are still routable — they only fail to match type-indexed
// subscriptions (bus.Bus.On), never filter subscriptions (bus.Bus.Subscribe).
type MessageType string

const (
	MessageTaskSubmit   MessageType = "task:submit"
	MessageTaskStatus   MessageType = "task:status"
	MessageTaskResult   MessageType = "task:result"
	MessageTaskCancel   MessageType = "task:cancel"
	MessageAgentStatus  MessageType = "agent:status"
	MessageAgentEvent   MessageType = "agent:event"
	MessageSystemHealth MessageType = "system:health"
	MessageSystemConfig MessageType = "system:config"
)

// knownMessageTypes backs IsKnownMessageType; kept in lockstep with the
// const block above.
var knownMessageTypes = map[MessageType]struct{}{
	MessageTaskSubmit:   {},
	MessageTaskStatus:   {},
	MessageTaskResult:   {},
	MessageTaskCancel:   {},
	MessageAgentStatus:  {},
	MessageAgentEvent:   {},
	MessageSystemHealth: {},
	MessageSystemConfig: {},
}

// IsKnownMessageType reports whether t belongs to the closed MessageType
// enum. Messages with unknown types remain routable on the bus; this is
// purely informational, and bus.On matches by plain type equality without
// consulting it.
func IsKnownMessageType(t MessageType) bool {
	_, ok := knownMessageTypes[t]
	return ok
}

// Priority orders messages and tasks for presentation and (optionally)
// scheduling. The coordination substrate itself does not reorder delivery
// by priority.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Message is the immutable envelope published on the bus.
// Construct one with NewMessage; do not mutate a Message after Publish.
type Message struct {
	ID            string
	Type          MessageType
	Source        string
	Target        string
	Payload       interface{}
	Priority      Priority
	Timestamp     time.Time
	CorrelationID string
	ExpiresAt     *time.Time
}

// NewMessage builds a Message with generated ID, current timestamp, and
// Priority set to "normal". The type, source, target and payload arguments
// are stored as given.
func NewMessage(msgType MessageType, source, target string, payload interface{}) *Message {
	return &Message{
		ID:        NewMessageID(),
		Type:      msgType,
		Source:    source,
		Target:    target,
		Payload:   payload,
		Priority:  PriorityNormal,
		Timestamp: time.Now().UTC(),
	}
}

// WithPriority returns m with Priority set; m is mutated in place since a
// Message is only considered immutable once handed to Bus.Publish.
func (m *Message) WithPriority(p Priority) *Message {
	m.Priority = p
	return m
}

// WithCorrelationID returns m with CorrelationID set, used to pair a
// request message with its eventual response.
func (m *Message) WithCorrelationID(id string) *Message {
	m.CorrelationID = id
	return m
}

// WithExpiry returns m with an absolute expiry timestamp set.
func (m *Message) WithExpiry(at time.Time) *Message {
	m.ExpiresAt = &at
	return m
}

// Expired reports whether m has an ExpiresAt in the past relative to now.
func (m *Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && now.After(*m.ExpiresAt)
}

// MessagePredicate matches messages for filter-based subscriptions.
type MessagePredicate func(*Message) bool

// MessageHandler processes a matched message. Handlers run sequentially
// per publisher; a handler that itself publishes/subscribes re-entrantly
// is supported.
type MessageHandler func(*Message)
