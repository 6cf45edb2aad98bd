package llm

import (
	"math"
	"sync"
	"time"
)

// DefaultDailyBudgetUSD is the spend ceiling applied when config leaves the
// budget unset.
const DefaultDailyBudgetUSD = 5.0

// CostEntry is one recorded LLM call cost.
type CostEntry struct {
	AmountUSD float64
	Timestamp time.Time
	Model     string
}

// CostTracker enforces a daily spend budget across LLM calls. CanSpend is
// checked before every call; exceeding the budget yields a synthetic
// analysis instead of a provider call.
type CostTracker struct {
	mu         sync.Mutex
	dailyLimit float64
	entries    []CostEntry
}

// NewCostTracker creates a tracker. dailyLimit <= 0 selects the default.
func NewCostTracker(dailyLimit float64) *CostTracker {
	if dailyLimit <= 0 {
		dailyLimit = DefaultDailyBudgetUSD
	}
	return &CostTracker{dailyLimit: dailyLimit}
}

// TotalToday returns today's recorded spend.
func (t *CostTracker) TotalToday() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totalTodayLocked()
}

func (t *CostTracker) totalTodayLocked() float64 {
	today := time.Now().Format(time.DateOnly)
	total := 0.0
	for _, e := range t.entries {
		if e.Timestamp.Format(time.DateOnly) == today {
			total += e.AmountUSD
		}
	}
	return total
}

// RemainingToday returns today's unspent budget (never negative).
func (t *CostTracker) RemainingToday() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return math.Max(0, t.dailyLimit-t.totalTodayLocked())
}

// TotalAllTime returns the total recorded spend.
func (t *CostTracker) TotalAllTime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0.0
	for _, e := range t.entries {
		total += e.AmountUSD
	}
	return total
}

// CanSpend reports whether amount fits in today's remaining budget.
func (t *CostTracker) CanSpend(amount float64) bool {
	return t.RemainingToday() >= amount
}

// Record appends a cost entry.
func (t *CostTracker) Record(amount float64, model string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, CostEntry{AmountUSD: amount, Timestamp: time.Now(), Model: model})
}

// DailySummary is the cost endpoint's payload.
type DailySummary struct {
	Date         string  `json:"date"`
	TotalUSD     float64 `json:"total_usd"`
	Calls        int     `json:"calls"`
	BudgetUSD    float64 `json:"budget_usd"`
	RemainingUSD float64 `json:"remaining_usd"`
	AllTimeUSD   float64 `json:"all_time_usd"`
}

// GetDailySummary snapshots today's totals and remaining budget.
func (t *CostTracker) GetDailySummary() DailySummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	today := time.Now().Format(time.DateOnly)
	totalToday, calls, allTime := 0.0, 0, 0.0
	for _, e := range t.entries {
		allTime += e.AmountUSD
		if e.Timestamp.Format(time.DateOnly) == today {
			totalToday += e.AmountUSD
			calls++
		}
	}
	return DailySummary{
		Date:         today,
		TotalUSD:     round6(totalToday),
		Calls:        calls,
		BudgetUSD:    t.dailyLimit,
		RemainingUSD: round6(math.Max(0, t.dailyLimit-totalToday)),
		AllTimeUSD:   round6(allTime),
	}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
