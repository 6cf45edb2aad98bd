package agent

import (
	"github.com/mykim19/debug-dashboard-core/pkg/checker"
)

// Typed event payloads. Each EventType has one payload struct; consumers
// switch on Event.Type and assert the matching payload.

// FileChangedData is the payload of a batched file_changed event.
type FileChangedData struct {
	Files            []FileChange `json:"files"`
	AffectedCheckers []string     `json:"affected_checkers"`
	FileCount        int          `json:"file_count"`
}

// ScanRequestedData is the payload of a scan_requested event. An empty
// Checkers slice requests the full workspace set. RateLimited marks a request
// that was rejected at the API boundary; the reasoner turns it into a
// rate-limited insight instead of a scan.
type ScanRequestedData struct {
	Checkers    []string `json:"checkers,omitempty"`
	RateLimited bool     `json:"rate_limited,omitempty"`
	RetryAfter  float64  `json:"retry_after,omitempty"`
}

// ScanCompletedData is the payload of a scan_completed event.
//
// Invariant: Overall is CRITICAL iff TotalFail>0, DEGRADED iff TotalFail=0
// and TotalWarn>0, HEALTHY otherwise.
type ScanCompletedData struct {
	ScanID          string                          `json:"scan_id,omitempty"`
	ScanTimestamp   string                          `json:"scan_timestamp,omitempty"`
	Reports         map[string]*checker.PhaseReport `json:"reports,omitempty"`
	Overall         string                          `json:"overall,omitempty"`
	TotalPass       int                             `json:"total_pass"`
	TotalWarn       int                             `json:"total_warn"`
	TotalFail       int                             `json:"total_fail"`
	HealthPct       float64                         `json:"health_pct"`
	HasCritical     bool                            `json:"has_critical"`
	FailingCheckers []string                        `json:"failing_checkers,omitempty"`
	CheckerNames    []string                        `json:"checker_names,omitempty"`
	DurationMS      int64                           `json:"duration_ms"`

	// Set when a concurrent scan held the lock and this request was skipped.
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Overall scan statuses.
const (
	OverallHealthy  = "HEALTHY"
	OverallDegraded = "DEGRADED"
	OverallCritical = "CRITICAL"
)

// AnalysisRequestedData is the payload of an llm_analysis_requested event.
type AnalysisRequestedData struct {
	Checker string `json:"checker"`
}

// TokenUsage is prompt/completion token counts for one LLM call.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
}

// AnalysisCompletedData is the payload of an llm_analysis_completed event.
// Error is set (and the analysis fields empty) when the provider was missing
// or both primary and fallback models failed.
type AnalysisCompletedData struct {
	Checker        string          `json:"checker"`
	Analysis       string          `json:"analysis,omitempty"`
	RootCauses     []string        `json:"root_causes,omitempty"`
	FixSuggestions []FixSuggestion `json:"fix_suggestions,omitempty"`
	Model          string          `json:"model,omitempty"`
	CostUSD        float64         `json:"cost_usd"`
	Tokens         TokenUsage      `json:"tokens"`
	Evidence       map[string]any  `json:"evidence,omitempty"`

	// Snapshot tuple: lets consumers detect a stale analysis after the
	// underlying checker state changes.
	ReportHash        string `json:"report_hash,omitempty"`
	AnalysisTimestamp string `json:"analysis_timestamp,omitempty"`
	ReportWasFresh    bool   `json:"report_was_fresh,omitempty"`

	Error string `json:"error,omitempty"`
}

// FixSuggestion is one actionable step from an LLM analysis.
type FixSuggestion struct {
	Action string `json:"action"`
}

// StateChangedData is the payload of an agent_state_changed event.
type StateChangedData struct {
	Old   State  `json:"old,omitempty"`
	New   State  `json:"new,omitempty"`
	Error string `json:"error,omitempty"`
}

// Insight is one cross-checker finding from the reasoner.
type Insight struct {
	Type     string         `json:"type"` // "regression", "improvement", "correlation"
	Checker  string         `json:"checker,omitempty"`
	Checkers []string       `json:"checkers,omitempty"`
	Message  string         `json:"message"`
	Severity string         `json:"severity"` // "info", "high", "critical"
	Details  map[string]any `json:"details,omitempty"`
}

// InsightGeneratedData is the payload of an insight_generated event. It
// carries cross-checker insights, a rate-limit notice, or purge results —
// whichever fields apply.
type InsightGeneratedData struct {
	Insights []Insight `json:"insights,omitempty"`

	RateLimited bool    `json:"rate_limited,omitempty"`
	RetryAfter  float64 `json:"retry_after,omitempty"`

	Purge           bool `json:"purge,omitempty"`
	TotalDeleted    int  `json:"total_deleted,omitempty"`
	EventsDeleted   int  `json:"events_deleted,omitempty"`
	AnalysesDeleted int  `json:"analyses_deleted,omitempty"`
	InsightsDeleted int  `json:"insights_deleted,omitempty"`
}
