package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mykim19/debug-dashboard-core/pkg/checker"
	"github.com/mykim19/debug-dashboard-core/pkg/config"
)

// LLMAnalysis is the result of one Tier 2 deep analysis.
type LLMAnalysis struct {
	RequestID        string
	CheckerName      string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	ModelUsed        string
	AnalysisText     string
	RootCauses       []string
	FixSuggestions   []FixSuggestion
	EvidenceSummary  map[string]any
	Timestamp        time.Time
}

// LLMProvider is the Tier 2 analysis contract the executor consumes. A nil
// provider means Tier 2 is disabled; Tier 1 keeps working.
type LLMProvider interface {
	// AnalyzeReport runs a deep analysis of a checker report with the given
	// evidence context. Implementations fall back to their secondary model
	// once on error; the returned error is the second failure.
	AnalyzeReport(ctx context.Context, checkerName string, report *checker.PhaseReport, cfg *config.Config, evidence *LLMContext) (*LLMAnalysis, error)
	// GenerateReport produces a natural-language overview of a full scan.
	GenerateReport(ctx context.Context, scanSummary map[string]any) (string, error)
	// IsAvailable reports whether a model is configured and reachable.
	IsAvailable() bool
	// ModelName returns the primary model identifier ("provider/model").
	ModelName() string
}

// Executor runs the actions decided by the reasoner: checker scans in
// dependency order under the scan lock, LLM analyses outside it, and insight
// pass-through.
//
// Lock policy: ONE scan at a time per workspace. A concurrent scan request
// returns scan_completed{skipped:true} immediately instead of queueing. LLM
// analysis may overlap with a subsequent scan.
type Executor struct {
	checkers    map[string]checker.Checker
	projectRoot string
	cfg         *config.Config
	graph       *DependencyGraph
	llm         LLMProvider
	memory      *Memory
	workspaceID string

	scanMu    sync.Mutex
	executing atomic.Bool
}

// NewExecutor creates an executor. llm may be nil (Tier 2 disabled).
func NewExecutor(
	checkers map[string]checker.Checker,
	projectRoot string,
	cfg *config.Config,
	graph *DependencyGraph,
	llm LLMProvider,
	memory *Memory,
	workspaceID string,
) *Executor {
	return &Executor{
		checkers:    checkers,
		projectRoot: projectRoot,
		cfg:         cfg,
		graph:       graph,
		llm:         llm,
		memory:      memory,
		workspaceID: workspaceID,
	}
}

// IsExecuting reports whether a scan is currently running.
func (e *Executor) IsExecuting() bool { return e.executing.Load() }

// LLMAvailable reports whether a Tier 2 provider is configured.
func (e *Executor) LLMAvailable() bool { return e.llm != nil && e.llm.IsAvailable() }

// Execute runs a single action and returns its result event. It never
// panics and never returns an error: failures become structured events.
func (e *Executor) Execute(ctx context.Context, action Action) Event {
	switch action.Type {
	case ActionRunCheckers:
		return e.runCheckers(ctx, action.CheckerNames)
	case ActionLLMAnalyze:
		return e.runLLMAnalysis(ctx, action.Checker, action.Report)
	case ActionEmitInsights:
		return NewEvent(EventInsightGenerated, "executor", e.workspaceID, action.Insights)
	default:
		slog.Warn("Unknown action type", "type", action.Type)
		return NewEvent(EventStateChanged, "executor", e.workspaceID, StateChangedData{
			Error: fmt.Sprintf("unknown action: %s", action.Type),
		})
	}
}

// runCheckers executes the requested checkers sequentially in dependency
// order under the scan lock.
func (e *Executor) runCheckers(ctx context.Context, names []string) Event {
	if !e.scanMu.TryLock() {
		slog.Info("Scan already in progress, skipping", "workspace_id", e.workspaceID)
		return NewEvent(EventScanCompleted, "executor", e.workspaceID, ScanCompletedData{
			Skipped: true,
			Reason:  "scan_in_progress",
		})
	}
	defer e.scanMu.Unlock()
	e.executing.Store(true)
	defer e.executing.Store(false)

	// Filter to available checkers, resolve order, filter again: the graph
	// may pull in dependencies that are not registered in this workspace.
	available := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := e.checkers[n]; ok {
			available = append(available, n)
		}
	}
	ordered := make([]string, 0, len(available))
	for _, n := range e.graph.ResolveOrder(available) {
		if _, ok := e.checkers[n]; ok {
			ordered = append(ordered, n)
		}
	}

	scanStart := time.Now()
	scanID := fmt.Sprintf("scan_%d", scanStart.UnixMilli())

	reports := make(map[string]*checker.PhaseReport, len(ordered))
	totalPass, totalWarn, totalFail := 0, 0, 0
	var failing []string

	for _, name := range ordered {
		c := e.checkers[name]
		t0 := time.Now()
		report := e.runOneChecker(ctx, name, c)
		report.DurationMS = time.Since(t0).Milliseconds()
		reports[name] = report

		totalPass += report.PassCount()
		totalWarn += report.WarnCount()
		totalFail += report.FailCount()
		if report.FailCount() > 0 {
			failing = append(failing, name)
		}
	}

	totalActive := totalPass + totalWarn + totalFail
	healthPct := 100.0
	if totalActive > 0 {
		healthPct = float64(totalPass) / float64(totalActive) * 100
	}
	overall := OverallHealthy
	switch {
	case totalFail > 0:
		overall = OverallCritical
	case totalWarn > 0:
		overall = OverallDegraded
	}

	return NewEvent(EventScanCompleted, "executor", e.workspaceID, ScanCompletedData{
		ScanID:          scanID,
		ScanTimestamp:   scanStart.Format(time.RFC3339Nano),
		Reports:         reports,
		Overall:         overall,
		TotalPass:       totalPass,
		TotalWarn:       totalWarn,
		TotalFail:       totalFail,
		HealthPct:       math.Round(healthPct*10) / 10,
		HasCritical:     totalFail > 0,
		FailingCheckers: failing,
		CheckerNames:    ordered,
		DurationMS:      time.Since(scanStart).Milliseconds(),
	})
}

// runOneChecker isolates a single checker run: an error or panic becomes a
// single FAIL result in that checker's report and never brings down the loop.
func (e *Executor) runOneChecker(ctx context.Context, name string, c checker.Checker) *checker.PhaseReport {
	report, err := runCheckerSafe(ctx, c, e.projectRoot, e.cfg)
	if err != nil {
		slog.Error("Checker error", "checker", name, "error", err)
		return failedReport(name, err.Error())
	}
	return report
}

// runCheckerSafe invokes a checker, converting panics and nil reports into
// errors.
func runCheckerSafe(ctx context.Context, c checker.Checker, projectRoot string, cfg *config.Config) (report *checker.PhaseReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			report, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	report, err = c.Run(ctx, projectRoot, cfg)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, fmt.Errorf("checker returned no report")
	}
	return report, nil
}

func failedReport(name, message string) *checker.PhaseReport {
	r := checker.NewPhaseReport(name)
	r.Add(checker.CheckResult{Name: "error", Status: checker.StatusFail, Message: message})
	return r
}

// runLLMAnalysis is the Tier 2 path. Runs outside the scan lock so it may
// overlap with a subsequent scan. When no report is supplied, the named
// checker is re-run first and the analysis is marked fresh.
func (e *Executor) runLLMAnalysis(ctx context.Context, checkerName string, report *checker.PhaseReport) Event {
	fail := func(msg string) Event {
		return NewEvent(EventAnalysisCompleted, "executor", e.workspaceID, AnalysisCompletedData{
			Checker: checkerName,
			Error:   msg,
		})
	}

	if e.llm == nil {
		slog.Warn("LLM analysis requested but no provider configured", "checker", checkerName)
		return fail("No LLM provider configured")
	}

	reportWasFresh := false
	if report == nil && checkerName != "" {
		if c, ok := e.checkers[checkerName]; ok {
			fresh, err := runCheckerSafe(ctx, c, e.projectRoot, e.cfg)
			if err != nil {
				return fail("Checker run failed: " + err.Error())
			}
			report = fresh
			reportWasFresh = true
		}
	}
	if report == nil {
		return fail("No report data")
	}

	hash, err := ReportHash(report)
	if err != nil {
		slog.Warn("Report hash failed", "checker", checkerName, "error", err)
	}
	analysisTS := time.Now().Format(time.RFC3339Nano)

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.LLM.Timeout())
	defer cancel()

	evidence := e.memory.ContextForLLM(checkerName)
	analysis, err := e.llm.AnalyzeReport(callCtx, checkerName, report, e.cfg, &evidence)
	if err != nil {
		slog.Error("LLM analysis failed", "checker", checkerName, "error", err)
		return fail(err.Error())
	}

	return NewEvent(EventAnalysisCompleted, "executor", e.workspaceID, AnalysisCompletedData{
		Checker:        checkerName,
		Analysis:       analysis.AnalysisText,
		RootCauses:     analysis.RootCauses,
		FixSuggestions: analysis.FixSuggestions,
		Model:          analysis.ModelUsed,
		CostUSD:        analysis.CostUSD,
		Tokens: TokenUsage{
			Prompt:     analysis.PromptTokens,
			Completion: analysis.CompletionTokens,
		},
		Evidence:          analysis.EvidenceSummary,
		ReportHash:        hash,
		AnalysisTimestamp: analysisTS,
		ReportWasFresh:    reportWasFresh,
	})
}
