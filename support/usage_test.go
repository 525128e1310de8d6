package support

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUsageTrackerEvictsOldestWhenFull(t *testing.T) {
	tr := NewUsageTracker(2)
	tr.Record(UsageRecord{AgentID: "a1", Model: "m1", Provider: "p1", InputTokens: 10, At: time.Now()})
	tr.Record(UsageRecord{AgentID: "a2", Model: "m1", Provider: "p1", InputTokens: 20, At: time.Now()})
	tr.Record(UsageRecord{AgentID: "a3", Model: "m1", Provider: "p1", InputTokens: 30, At: time.Now()})

	assert.Equal(t, 2, tr.Len())
	byAgent := tr.SummarizeByAgent()
	_, evicted := byAgent["a1"]
	assert.False(t, evicted)
	assert.Contains(t, byAgent, "a2")
	assert.Contains(t, byAgent, "a3")
}

func TestSummarizeByModelAggregatesTokens(t *testing.T) {
	tr := NewUsageTracker(10)
	tr.Record(UsageRecord{AgentID: "a1", Model: "gpt", Provider: "openai", InputTokens: 10, OutputTokens: 5})
	tr.Record(UsageRecord{AgentID: "a2", Model: "gpt", Provider: "openai", InputTokens: 7, OutputTokens: 3})

	byModel := tr.SummarizeByModel()
	s := byModel["gpt"]
	assert.Equal(t, 2, s.Calls)
	assert.Equal(t, 17, s.InputTokens)
	assert.Equal(t, 8, s.OutputTokens)
}
