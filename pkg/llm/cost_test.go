package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCostTracker_BudgetEnforcement(t *testing.T) {
	tracker := NewCostTracker(1.0)

	assert.True(t, tracker.CanSpend(0.01))
	tracker.Record(0.40, "anthropic/claude-sonnet-4-5")
	tracker.Record(0.55, "anthropic/claude-sonnet-4-5")

	assert.InDelta(t, 0.95, tracker.TotalToday(), 1e-9)
	assert.InDelta(t, 0.05, tracker.RemainingToday(), 1e-9)
	assert.True(t, tracker.CanSpend(0.05))
	assert.False(t, tracker.CanSpend(0.06))

	tracker.Record(0.10, "anthropic/claude-sonnet-4-5")
	assert.Equal(t, 0.0, tracker.RemainingToday(), "remaining never goes negative")
	assert.False(t, tracker.CanSpend(0.01))
}

func TestCostTracker_DefaultBudget(t *testing.T) {
	tracker := NewCostTracker(0)
	summary := tracker.GetDailySummary()
	assert.Equal(t, DefaultDailyBudgetUSD, summary.BudgetUSD)
}

func TestCostTracker_DailySummary(t *testing.T) {
	tracker := NewCostTracker(5.0)
	tracker.Record(0.001234567, "gemini/gemini-2.0-flash")
	tracker.Record(0.002, "gemini/gemini-2.0-flash")

	summary := tracker.GetDailySummary()
	assert.Equal(t, 2, summary.Calls)
	assert.Equal(t, 0.003235, summary.TotalUSD) // rounded to 6 decimals
	assert.Equal(t, 5.0, summary.BudgetUSD)
	assert.InDelta(t, 4.996765, summary.RemainingUSD, 1e-9)
	assert.Equal(t, summary.TotalUSD, summary.AllTimeUSD)
	assert.NotEmpty(t, summary.Date)
}

func TestEstimateCost(t *testing.T) {
	usage := agentUsage(1_000_000, 1_000_000)

	assert.InDelta(t, 18.0, estimateCost("anthropic/claude-sonnet-4-5", usage), 1e-9)
	assert.InDelta(t, 0.5, estimateCost("gemini/gemini-2.0-flash", usage), 1e-9)
	assert.Equal(t, 0.0, estimateCost("anthropic/claude-unknown-model", usage))
	assert.Equal(t, 0.0, estimateCost("not-a-provider-model", usage))
}
