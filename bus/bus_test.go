package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autoforge/acp/core"
)

func TestOnDeliversMatchingType(t *testing.T) {
	b := New(nil, time.Second)

	var got []*core.Message
	var mu sync.Mutex
	b.On(core.MessageTaskStatus, func(m *core.Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	})

	b.Publish(core.NewMessage(core.MessageTaskStatus, "agent-1", "", "payload-a"))
	b.Publish(core.NewMessage(core.MessageTaskResult, "agent-1", "", "payload-b"))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "payload-a", got[0].Payload)
}

func TestPublishOrderPerPublisher(t *testing.T) {
	b := New(nil, time.Second)

	var order []int
	var mu sync.Mutex
	b.Subscribe(func(m *core.Message) bool { return true }, func(m *core.Message) {
		mu.Lock()
		order = append(order, m.Payload.(int))
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		b.Publish(core.NewMessage(core.MessageAgentEvent, "agent-1", "", i))
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 5)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestUnsubscribeIsIdempotentAndReentrant(t *testing.T) {
	b := New(nil, time.Second)
	called := 0

	var sub *Subscription
	sub = b.Subscribe(func(m *core.Message) bool { return true }, func(m *core.Message) {
		called++
		sub.Unsubscribe()
		sub.Unsubscribe() // idempotent, from within the handler itself
	})

	b.Publish(core.NewMessage(core.MessageAgentEvent, "x", "", nil))
	b.Publish(core.NewMessage(core.MessageAgentEvent, "x", "", nil))

	assert.Equal(t, 1, called)
	assert.Equal(t, 0, b.SubscriptionCount())
}

func TestHandlerPanicDoesNotAbortDelivery(t *testing.T) {
	b := New(nil, time.Second)

	secondCalled := false
	b.Subscribe(func(m *core.Message) bool { return true }, func(m *core.Message) {
		panic("boom")
	})
	b.Subscribe(func(m *core.Message) bool { return true }, func(m *core.Message) {
		secondCalled = true
	})

	assert.NotPanics(t, func() {
		b.Publish(core.NewMessage(core.MessageAgentEvent, "x", "", nil))
	})
	assert.True(t, secondCalled)
}

func TestRequestResolvesOnCorrelatedReply(t *testing.T) {
	b := New(nil, time.Second)

	b.On(core.MessageTaskSubmit, func(m *core.Message) {
		reply := core.NewMessage(core.MessageTaskResult, "agent-1", m.Source, "done")
		reply.WithCorrelationID(m.ID)
		b.Publish(reply)
	})

	req := core.NewMessage(core.MessageTaskSubmit, "orchestrator", "agent-1", "do-thing")
	resp, err := b.Request(context.Background(), req, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Payload)
	assert.Equal(t, req.ID, resp.CorrelationID)
}

func TestRequestTimesOutAndCleansUpSubscription(t *testing.T) {
	b := New(nil, 20*time.Millisecond)

	req := core.NewMessage(core.MessageTaskSubmit, "orchestrator", "agent-1", "do-thing")
	_, err := b.Request(context.Background(), req, 20*time.Millisecond)

	require.Error(t, err)
	assert.True(t, core.IsTimeout(err))
	assert.Equal(t, 0, b.SubscriptionCount())
}

func TestClearDropsAllSubscriptions(t *testing.T) {
	b := New(nil, time.Second)
	b.On(core.MessageTaskStatus, func(m *core.Message) {})
	b.On(core.MessageTaskResult, func(m *core.Message) {})
	require.Equal(t, 2, b.SubscriptionCount())

	b.Clear()
	assert.Equal(t, 0, b.SubscriptionCount())
}
