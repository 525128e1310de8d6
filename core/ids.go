package core

import (
	"math/big"

	"github.com/google/uuid"
)

// NewMessageID returns a unique identifier in the "acp-<base36-random>"
// form. It is cheap to call and safe for concurrent use.
func NewMessageID() string {
	return MessageIDPrefix + shortID()
}

// NewTaskID returns a unique task identifier.
func NewTaskID() string {
	return TaskIDPrefix + shortID()
}

// NewGoalID returns a unique goal identifier.
func NewGoalID() string {
	return GoalIDPrefix + shortID()
}

// NewSubscriptionID returns a unique subscription handle identifier.
func NewSubscriptionID() string {
	return SubIDPrefix + shortID()
}

// shortID renders a fresh UUIDv4 as base36 to produce a compact, still
// effectively-unique token.
func shortID() string {
	id := uuid.New()
	return new(big.Int).SetBytes(id[:]).Text(36)
}
