package agent

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mykim19/debug-dashboard-core/pkg/checker"
	"github.com/mykim19/debug-dashboard-core/pkg/config"
)

// maxAutoEscalations bounds how many failing checkers a single scan may
// escalate to LLM analysis.
const maxAutoEscalations = 3

// Reasoner is the rule-based reasoning engine. Two stages: fast mapping
// (event type → relevant checkers, precomputed by the observer) and
// heuristic refinement (cooldown, rate limit, dedup, full-scan threshold,
// cross-checker diffs against memory).
type Reasoner struct {
	checkerNames      map[string]bool
	cooldown          time.Duration
	manualMinInterval time.Duration
	fullScanThreshold float64
	autoScan          bool
	autoLLMOnCritical bool

	mu             sync.Mutex
	lastManualScan time.Time
}

// NewReasoner creates a reasoner for a workspace's checker set.
func NewReasoner(cfg *config.AgentConfig, checkerNames []string) *Reasoner {
	names := make(map[string]bool, len(checkerNames))
	for _, n := range checkerNames {
		names[n] = true
	}
	return &Reasoner{
		checkerNames:      names,
		cooldown:          cfg.ScanCooldown(),
		manualMinInterval: cfg.ManualMinInterval(),
		fullScanThreshold: cfg.FullScanThreshold,
		autoScan:          cfg.IsAutoScanOnChange(),
		autoLLMOnCritical: cfg.IsAutoLLMOnCritical(),
	}
}

// AdmitManualScan is the manual-scan rate limiter. It is called eagerly at
// the API boundary, before the scan_requested event is enqueued, so repeated
// API calls cannot race past the minimum interval while the worker drains the
// queue. When admitted, the timestamp is set; a rate-limited request does not
// mutate it further.
func (r *Reasoner) AdmitManualScan() (ok bool, retryAfter float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.lastManualScan.IsZero() {
		elapsed := time.Since(r.lastManualScan)
		if elapsed < r.manualMinInterval {
			remaining := (r.manualMinInterval - elapsed).Seconds()
			return false, float64(int(remaining*10+0.5)) / 10
		}
	}
	r.lastManualScan = time.Now()
	return true, 0
}

// Evaluate applies the rules to one event and returns the actions to take.
// It never schedules a checker that is not in the workspace's checker set.
func (r *Reasoner) Evaluate(event Event, memory *Memory) []Action {
	switch event.Type {
	case EventFileChanged:
		return r.handleFileChange(event, memory)
	case EventScanRequested:
		return r.handleScanRequest(event)
	case EventAnalysisRequested:
		if data, ok := event.Data.(AnalysisRequestedData); ok && data.Checker != "" {
			return []Action{{Type: ActionLLMAnalyze, Checker: data.Checker}}
		}
		return nil
	case EventScanCompleted:
		return r.handleScanCompleted(event, memory)
	}
	return nil
}

func (r *Reasoner) handleFileChange(event Event, memory *Memory) []Action {
	if !r.autoScan {
		return nil
	}

	// Cooldown: skip auto-scans too soon after the last recorded scan.
	if last := memory.LastScanTime(); !last.IsZero() {
		if elapsed := time.Since(last); elapsed < r.cooldown {
			slog.Debug("Auto-scan cooldown active",
				"elapsed", elapsed.Truncate(time.Second), "cooldown", r.cooldown)
			return nil
		}
	}

	data, ok := event.Data.(FileChangedData)
	if !ok {
		return nil
	}
	valid := r.intersectWorkspace(data.AffectedCheckers)
	if len(valid) == 0 {
		return nil
	}

	// When most checkers are affected, run the full set: partial scans over
	// a broad change confuse the snapshot diff.
	if float64(len(valid)) >= float64(len(r.checkerNames))*r.fullScanThreshold {
		slog.Info("Many checkers affected, running full scan", "affected", len(valid))
		return []Action{{Type: ActionRunCheckers, CheckerNames: r.allCheckers()}}
	}

	slog.Info("File change → running checkers", "checkers", valid)
	return []Action{{Type: ActionRunCheckers, CheckerNames: valid}}
}

func (r *Reasoner) handleScanRequest(event Event) []Action {
	data, _ := event.Data.(ScanRequestedData)

	// Rejected at the API boundary by AdmitManualScan; surface the insight.
	if data.RateLimited {
		return []Action{{
			Type: ActionEmitInsights,
			Insights: InsightGeneratedData{
				RateLimited: true,
				RetryAfter:  data.RetryAfter,
			},
		}}
	}

	if len(data.Checkers) > 0 {
		valid := r.intersectWorkspace(data.Checkers)
		if len(valid) == 0 {
			return nil
		}
		return []Action{{Type: ActionRunCheckers, CheckerNames: valid}}
	}
	return []Action{{Type: ActionRunCheckers, CheckerNames: r.allCheckers()}}
}

func (r *Reasoner) handleScanCompleted(event Event, memory *Memory) []Action {
	data, ok := event.Data.(ScanCompletedData)
	if !ok || data.Skipped {
		return nil
	}

	var actions []Action
	if insights := r.crossCheckerInsights(memory); len(insights) > 0 {
		actions = append(actions, Action{
			Type:     ActionEmitInsights,
			Insights: InsightGeneratedData{Insights: insights},
		})
	}

	// Auto-escalate the first failing checkers to LLM analysis.
	if r.autoLLMOnCritical && data.HasCritical {
		for i, name := range data.FailingCheckers {
			if i >= maxAutoEscalations {
				break
			}
			actions = append(actions, Action{Type: ActionLLMAnalyze, Checker: name})
		}
	}
	return actions
}

// crossCheckerInsights compares the two most recent snapshots: regressions
// (new FAILs), correlated failures (≥3 checkers failing), and improvements
// (prev FAILs now PASS).
func (r *Reasoner) crossCheckerInsights(memory *Memory) []Insight {
	recent := memory.RecentSnapshots(2)
	if len(recent) < 2 {
		return nil
	}
	current, previous := recent[0], recent[1]

	var insights []Insight

	// 1. Regression: checks failing now that were not failing before.
	for _, name := range sortedKeys(current) {
		curReport := current[name]
		prevReport, ok := previous[name]
		if !ok {
			continue
		}
		newFails := setMinus(statusSet(curReport, checker.StatusFail), statusSet(prevReport, checker.StatusFail))
		if len(newFails) > 0 {
			insights = append(insights, Insight{
				Type:     "regression",
				Checker:  name,
				Message:  "New failures: " + strings.Join(newFails, ", "),
				Severity: "high",
				Details:  map[string]any{"new_fails": newFails},
			})
		}
	}

	// 2. Correlated failures: several checkers failing in the same scan.
	var failing []string
	for _, name := range sortedKeys(current) {
		if current[name].FailCount() > 0 {
			failing = append(failing, name)
		}
	}
	if len(failing) >= 3 {
		insights = append(insights, Insight{
			Type:     "correlation",
			Checkers: failing,
			Message:  "Multiple systems failing: " + strings.Join(failing, ", "),
			Severity: "critical",
		})
	}

	// 3. Improvement: previous failures that now pass.
	for _, name := range sortedKeys(current) {
		curReport := current[name]
		prevReport, ok := previous[name]
		if !ok {
			continue
		}
		fixed := setIntersect(statusSet(prevReport, checker.StatusFail), statusSet(curReport, checker.StatusPass))
		if len(fixed) > 0 {
			insights = append(insights, Insight{
				Type:     "improvement",
				Checker:  name,
				Message:  "Fixed: " + strings.Join(fixed, ", "),
				Severity: "info",
			})
		}
	}

	return insights
}

// statusSet returns the names of checks with the given status.
func statusSet(r *checker.PhaseReport, s checker.Status) map[string]bool {
	out := make(map[string]bool)
	for _, c := range r.Checks {
		if c.Status == s {
			out[c.Name] = true
		}
	}
	return out
}

// setMinus returns the keys of a not in b, sorted.
func setMinus(a, b map[string]bool) []string {
	var out []string
	for k := range a {
		if !b[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// setIntersect returns the keys present in both a and b, sorted.
func setIntersect(a, b map[string]bool) []string {
	var out []string
	for k := range a {
		if b[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Reasoner) intersectWorkspace(names []string) []string {
	var valid []string
	for _, n := range names {
		if r.checkerNames[n] {
			valid = append(valid, n)
		}
	}
	return valid
}

func (r *Reasoner) allCheckers() []string {
	out := make([]string, 0, len(r.checkerNames))
	for n := range r.checkerNames {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
