package agent

import "github.com/mykim19/debug-dashboard-core/pkg/checker"

// State is the agent state machine's current state.
//
// The loop, once started, sits in StateObserving between events. On event
// dequeue: observing → reasoning → {executing | waiting_llm} → observing.
// An uncaught loop error transitions to StateError, emits a diagnostic
// event, pauses briefly, then returns to StateObserving.
type State string

// Agent states.
const (
	StateIdle       State = "idle"
	StateObserving  State = "observing"
	StateReasoning  State = "reasoning"
	StateExecuting  State = "executing"
	StateWaitingLLM State = "waiting_llm"
	StateError      State = "error"
)

// ActionType discriminates the actions the reasoner can schedule.
type ActionType string

// Action types.
const (
	ActionRunCheckers  ActionType = "run_checkers"
	ActionLLMAnalyze   ActionType = "llm_analyze"
	ActionEmitInsights ActionType = "emit_insights"
)

// Action is one unit of work the executor should perform.
type Action struct {
	Type         ActionType
	CheckerNames []string

	// For ActionLLMAnalyze. Report is the report to analyze; nil means the
	// executor re-runs the checker first and marks the analysis fresh.
	Checker string
	Report  *checker.PhaseReport

	// For ActionEmitInsights.
	Insights InsightGeneratedData
}
