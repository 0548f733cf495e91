package services

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestCostTrackerRecordsPerModel(t *testing.T) {
	tracker := NewCostTracker(quietLogger())

	// 1M input + 1M output at gpt-4o-mini pricing = 0.15 + 0.60
	cost := tracker.RecordUsage("gpt-4o-mini", 1_000_000, 1_000_000)
	assert.InDelta(t, 0.75, cost, 1e-9)

	cost = tracker.RecordUsage("gpt-4o", 500_000, 100_000)
	assert.InDelta(t, 2.25, cost, 1e-9)

	tracker.RecordUsage("gpt-4o", 100_000, 0)

	summary := tracker.Summary()
	assert.Equal(t, 3, summary.TotalCalls)
	require.Len(t, summary.Models, 2)

	mini := summary.Models["gpt-4o-mini"]
	assert.Equal(t, 1, mini.Calls)
	assert.Equal(t, 1_000_000, mini.InputTokens)

	full := summary.Models["gpt-4o"]
	assert.Equal(t, 2, full.Calls)
	assert.Equal(t, 600_000, full.InputTokens)
	assert.Equal(t, 100_000, full.OutputTokens)

	assert.InDelta(t, summary.TotalCost, tracker.TotalCost(), 1e-9)
}

func TestCostTrackerUnknownModel(t *testing.T) {
	tracker := NewCostTracker(quietLogger())

	cost := tracker.RecordUsage("some-future-model", 10_000, 2_000)
	assert.Zero(t, cost)

	summary := tracker.Summary()
	assert.Zero(t, summary.TotalCost)

	u := summary.Models["some-future-model"]
	assert.Equal(t, 10_000, u.InputTokens)
	assert.Equal(t, 2_000, u.OutputTokens)
	assert.Equal(t, 1, u.Calls)
}
