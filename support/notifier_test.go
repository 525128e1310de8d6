package support

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	name string
	err  error
}

func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) Deliver(ctx context.Context, n Notification) error { return f.err }

type panicAdapter struct{}

func (panicAdapter) Name() string { return "panics" }
func (panicAdapter) Deliver(ctx context.Context, n Notification) error { panic("boom") }

func TestNotifyFansOutToEveryAdapter(t *testing.T) {
	n := NewNotifier(0, LevelInfo)
	n.Register(&fakeAdapter{name: "slack"})
	n.Register(&fakeAdapter{name: "discord"})

	results := n.Notify(context.Background(), Notification{Event: "goal:completed", Level: LevelInfo})
	require.Len(t, results, 2)
	for _, r := range results {
		assert.True(t, r.Success)
	}
}

func TestNotifyReportsAdapterFailureWithoutThrowing(t *testing.T) {
	n := NewNotifier(0, LevelInfo)
	n.Register(&fakeAdapter{name: "slack", err: errors.New("webhook down")})

	results := n.Notify(context.Background(), Notification{Event: "goal:completed", Level: LevelInfo})
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, "webhook down", results[0].Error)
}

func TestNotifyRecoversAdapterPanic(t *testing.T) {
	n := NewNotifier(0, LevelInfo)
	n.Register(panicAdapter{})

	assert.NotPanics(t, func() {
		results := n.Notify(context.Background(), Notification{Event: "goal:completed", Level: LevelInfo})
		require.Len(t, results, 1)
		assert.False(t, results[0].Success)
	})
}

func TestNotifyFiltersBelowMinLevel(t *testing.T) {
	n := NewNotifier(0, LevelError)
	n.Register(&fakeAdapter{name: "slack"})

	results := n.Notify(context.Background(), Notification{Event: "goal:completed", Level: LevelWarning})
	assert.Empty(t, results)
}

func TestNotifyFiltersByEventWhitelist(t *testing.T) {
	n := NewNotifier(0, LevelInfo)
	n.Register(&fakeAdapter{name: "slack"})
	n.WhitelistEvents("goal:failed")

	assert.Empty(t, n.Notify(context.Background(), Notification{Event: "goal:completed", Level: LevelInfo}))
	assert.NotEmpty(t, n.Notify(context.Background(), Notification{Event: "goal:failed", Level: LevelInfo}))
}

func TestNotifyEnforcesRollingRateLimit(t *testing.T) {
	n := NewNotifier(1, LevelInfo) // 1/hour burst of 1
	n.Register(&fakeAdapter{name: "slack"})

	first := n.Notify(context.Background(), Notification{Event: "e", Level: LevelInfo})
	assert.NotEmpty(t, first)

	second := n.Notify(context.Background(), Notification{Event: "e", Level: LevelInfo})
	assert.Empty(t, second)
}
