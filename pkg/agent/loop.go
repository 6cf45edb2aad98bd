package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mykim19/debug-dashboard-core/pkg/config"
	"github.com/mykim19/debug-dashboard-core/pkg/storage"
)

const (
	// eventQueueCapacity bounds the loop's event queue; enqueues past it are
	// dropped with a warning rather than blocking callers.
	eventQueueCapacity = 256

	// dequeueTimeout is the blocking dequeue bound; timeouts drive periodic
	// maintenance (retention purge).
	dequeueTimeout = 1 * time.Second

	// errorRecoveryPause is how long the loop pauses after a fatal error
	// before returning to observing.
	errorRecoveryPause = 2 * time.Second

	// stopJoinTimeout bounds how long Stop waits for the worker to exit.
	stopJoinTimeout = 5 * time.Second
)

// EventSink is where the loop publishes every event. The implementation (see
// pkg/events) multiplexes to memory, the durable store, and SSE clients, in
// that order.
type EventSink interface {
	Emit(Event)
	ClientCount() int
}

// ScanRequestOutcome is the structured result of a RequestScan call.
type ScanRequestOutcome struct {
	Queued      bool    `json:"queued"`
	RateLimited bool    `json:"rate_limited,omitempty"`
	RetryAfter  float64 `json:"retry_after,omitempty"`
}

// Loop drives the Observe-Reason-Act cycle for one workspace on a single
// worker goroutine. Events arrive from the observer, the HTTP API, and the
// loop itself; the reasoner maps each to actions and the executor runs them.
type Loop struct {
	cfg         *config.Config
	workspaceID string
	memory      *Memory
	reasoner    *Reasoner
	executor    *Executor
	observer    *Observer
	sink        EventSink
	store       *storage.Store
	lock        *SingletonLock

	queue chan Event

	mu        sync.Mutex
	state     State
	running   bool
	stopCh    chan struct{}
	done      chan struct{}
	cancel    context.CancelFunc
	lastPurge time.Time
}

// NewLoop wires a loop from its collaborators. The observer's output is
// connected to the loop's event queue.
func NewLoop(
	cfg *config.Config,
	workspaceID string,
	memory *Memory,
	reasoner *Reasoner,
	executor *Executor,
	observer *Observer,
	sink EventSink,
	store *storage.Store,
	lock *SingletonLock,
) *Loop {
	l := &Loop{
		cfg:         cfg,
		workspaceID: workspaceID,
		memory:      memory,
		reasoner:    reasoner,
		executor:    executor,
		observer:    observer,
		sink:        sink,
		store:       store,
		lock:        lock,
		queue:       make(chan Event, eventQueueCapacity),
		state:       StateIdle,
	}
	observer.SetEventSink(l.queue)
	return l
}

// State returns the state machine's current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start begins the loop. Idempotent: starting a running loop is a no-op that
// returns true. Returns false when the per-workspace singleton lock is held
// by another live agent.
func (l *Loop) Start() bool {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		slog.Info("Agent loop already running", "workspace_id", l.workspaceID)
		return true
	}
	l.mu.Unlock()

	if !l.lock.Acquire() {
		slog.Warn("Another agent instance is running for this workspace",
			"workspace_id", l.workspaceID)
		return false
	}

	// Startup purge: enforce retention before accumulating new rows.
	if _, err := l.store.Purge(context.Background(), l.cfg.Agent.Retention); err != nil {
		slog.Warn("Retention purge failed", "workspace_id", l.workspaceID, "error", err)
	}

	if err := l.observer.Start(); err != nil {
		slog.Error("Failed to start file observer", "workspace_id", l.workspaceID, "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	l.mu.Lock()
	l.running = true
	l.stopCh = make(chan struct{})
	l.done = make(chan struct{})
	l.cancel = cancel
	l.lastPurge = time.Now()
	l.mu.Unlock()

	go l.run(ctx)
	slog.Info("Agent loop started", "workspace_id", l.workspaceID)
	return true
}

// Stop shuts the loop down gracefully: signals shutdown, stops the observer,
// joins the worker with a bounded timeout, and releases the singleton lock.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stopCh)
	done := l.done
	cancel := l.cancel
	l.mu.Unlock()

	l.observer.Stop()
	cancel()

	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		slog.Warn("Agent worker did not stop in time", "workspace_id", l.workspaceID)
	}

	l.lock.Release()
	l.setState(StateIdle)
	slog.Info("Agent loop stopped", "workspace_id", l.workspaceID)
}

// RequestScan enqueues a manual scan (non-blocking). The manual rate limit is
// applied eagerly here, at the API boundary, so rapid calls cannot race past
// the minimum interval while the worker drains the queue. A rate-limited
// request still enqueues its event so the reasoner surfaces the insight.
func (l *Loop) RequestScan(checkerNames []string) ScanRequestOutcome {
	ok, retryAfter := l.reasoner.AdmitManualScan()
	data := ScanRequestedData{Checkers: checkerNames}
	if !ok {
		data.RateLimited = true
		data.RetryAfter = retryAfter
	}
	queued := l.enqueue(NewEvent(EventScanRequested, "user", l.workspaceID, data))
	return ScanRequestOutcome{Queued: queued && ok, RateLimited: !ok, RetryAfter: retryAfter}
}

// RequestAnalysis enqueues a manual LLM deep analysis (non-blocking).
func (l *Loop) RequestAnalysis(checkerName string) bool {
	return l.enqueue(NewEvent(EventAnalysisRequested, "user", l.workspaceID, AnalysisRequestedData{
		Checker: checkerName,
	}))
}

func (l *Loop) enqueue(ev Event) bool {
	select {
	case l.queue <- ev:
		return true
	default:
		slog.Warn("Agent event queue full, dropping event",
			"type", ev.Type, "workspace_id", l.workspaceID)
		return false
	}
}

// Status is the agent status surface for the API.
type Status struct {
	Enabled         bool   `json:"enabled"`
	State           State  `json:"state"`
	WorkspaceID     string `json:"workspace_id"`
	ObserverRunning bool   `json:"observer_running"`
	ExecutorBusy    bool   `json:"executor_busy"`
	LLMAvailable    bool   `json:"llm_available"`
	EventQueueSize  int    `json:"event_queue_size"`
	SSEClients      int    `json:"sse_clients"`
}

// GetStatus snapshots the loop for the status endpoint.
func (l *Loop) GetStatus() Status {
	return Status{
		Enabled:         l.cfg.Agent.IsEnabled(),
		State:           l.State(),
		WorkspaceID:     l.workspaceID,
		ObserverRunning: l.observer.IsRunning(),
		ExecutorBusy:    l.executor.IsExecuting(),
		LLMAvailable:    l.executor.LLMAvailable(),
		EventQueueSize:  len(l.queue),
		SSEClients:      l.sink.ClientCount(),
	}
}

// setState transitions the state machine, emitting agent_state_changed on
// every change.
func (l *Loop) setState(next State) {
	l.mu.Lock()
	old := l.state
	l.state = next
	l.mu.Unlock()
	if old != next {
		l.sink.Emit(NewEvent(EventStateChanged, "loop", l.workspaceID, StateChangedData{
			Old: old,
			New: next,
		}))
	}
}

// run is the worker: dequeue one event, emit it, reason, act, persist.
func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	l.setState(StateObserving)

	timer := time.NewTimer(dequeueTimeout)
	defer timer.Stop()

	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(dequeueTimeout)

		select {
		case <-l.stopCh:
			return
		case <-timer.C:
			l.maybeRuntimePurge()
		case event := <-l.queue:
			l.processEvent(ctx, event)
		}
	}
}

// processEvent runs one ORA cycle. A panic anywhere inside transitions the
// state machine to error, emits a diagnostic event, pauses briefly, and
// resumes observing — the loop never dies.
func (l *Loop) processEvent(ctx context.Context, event Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Agent loop error", "workspace_id", l.workspaceID, "panic", r)
			l.setState(StateError)
			l.sink.Emit(NewEvent(EventStateChanged, "loop", l.workspaceID, StateChangedData{
				Error: fmt.Sprintf("%v", r),
			}))
			select {
			case <-time.After(errorRecoveryPause):
			case <-l.stopCh:
			}
			l.setState(StateObserving)
		}
	}()

	// OBSERVE: the event enters the pipeline.
	l.setState(StateObserving)
	l.sink.Emit(event)

	// REASON: decide what to do.
	l.setState(StateReasoning)
	actions := l.reasoner.Evaluate(event, l.memory)

	// ACT: execute each action; each outcome is its own event.
	if len(actions) > 0 {
		l.setState(StateExecuting)
		for _, action := range actions {
			l.runAction(ctx, action, true)
		}
	}

	l.setState(StateObserving)
}

// runAction executes one action, emits its result, persists artifacts, and —
// for a completed scan — evaluates the result event's follow-up actions
// (cross-checker insights, auto-LLM escalation). Follow-ups run one level
// deep: their own results never produce further actions.
func (l *Loop) runAction(ctx context.Context, action Action, followUp bool) {
	if action.Type == ActionLLMAnalyze {
		l.setState(StateWaitingLLM)
	}
	resultEvent := l.executor.Execute(ctx, action)
	l.sink.Emit(resultEvent)
	l.persistArtifacts(ctx, resultEvent)

	if followUp && resultEvent.Type == EventScanCompleted {
		for _, next := range l.reasoner.Evaluate(resultEvent, l.memory) {
			l.runAction(ctx, next, false)
		}
	}
}

// persistArtifacts writes post-hoc rows (scan history, analyses, insights)
// for result events. Store failures are logged and ignored.
func (l *Loop) persistArtifacts(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventScanCompleted:
		data, ok := ev.Data.(ScanCompletedData)
		if !ok || data.Skipped || len(data.Reports) == 0 {
			return
		}
		l.memory.RecordScanReports(data.Reports)
		if err := l.store.SaveScan(ctx, storage.ScanRow{
			ProjectName:   l.scanProjectName(),
			OverallStatus: data.Overall,
			TotalPass:     data.TotalPass,
			TotalWarn:     data.TotalWarn,
			TotalFail:     data.TotalFail,
			HealthPct:     data.HealthPct,
			PhasesJSON:    marshalOrEmpty(data.Reports),
			DurationMS:    data.DurationMS,
		}); err != nil {
			slog.Warn("Failed to save scan", "workspace_id", l.workspaceID, "error", err)
		}

	case EventAnalysisCompleted:
		data, ok := ev.Data.(AnalysisCompletedData)
		if !ok || data.Error != "" {
			return
		}
		if err := l.store.SaveAnalysis(ctx, storage.AnalysisRow{
			CheckerName:        data.Checker,
			ModelUsed:          data.Model,
			PromptTokens:       data.Tokens.Prompt,
			CompletionTokens:   data.Tokens.Completion,
			CostUSD:            data.CostUSD,
			AnalysisText:       data.Analysis,
			RootCausesJSON:     marshalOrEmpty(data.RootCauses),
			FixSuggestionsJSON: marshalOrEmpty(data.FixSuggestions),
			EvidenceJSON:       marshalOrEmpty(data.Evidence),
			WorkspaceID:        l.workspaceID,
		}); err != nil {
			slog.Warn("Failed to save analysis", "workspace_id", l.workspaceID, "error", err)
		}

	case EventInsightGenerated:
		data, ok := ev.Data.(InsightGeneratedData)
		if !ok {
			return
		}
		for _, insight := range data.Insights {
			checkers := insight.Checkers
			if len(checkers) == 0 && insight.Checker != "" {
				checkers = []string{insight.Checker}
			}
			if err := l.store.SaveInsight(ctx, storage.InsightRow{
				InsightType:  insight.Type,
				Severity:     insight.Severity,
				Message:      insight.Message,
				CheckersJSON: marshalOrEmpty(checkers),
				WorkspaceID:  l.workspaceID,
			}); err != nil {
				slog.Warn("Failed to save insight", "workspace_id", l.workspaceID, "error", err)
			}
		}
	}
}

// maybeRuntimePurge enforces retention during long-running sessions. A purge
// that actually deleted rows is surfaced as an insight_generated event so
// UIs can show a notification.
func (l *Loop) maybeRuntimePurge() {
	l.mu.Lock()
	if time.Since(l.lastPurge) < l.cfg.Agent.PurgeInterval() {
		l.mu.Unlock()
		return
	}
	l.lastPurge = time.Now()
	l.mu.Unlock()

	result, err := l.store.Purge(context.Background(), l.cfg.Agent.Retention)
	if err != nil {
		slog.Warn("Runtime purge failed", "workspace_id", l.workspaceID, "error", err)
		return
	}
	if result.TotalDeleted == 0 {
		slog.Debug("Runtime purge: nothing to clean", "workspace_id", l.workspaceID)
		return
	}
	slog.Info("Runtime purge", "workspace_id", l.workspaceID,
		"total", result.TotalDeleted, "events", result.EventsDeleted,
		"analyses", result.AnalysesDeleted, "insights", result.InsightsDeleted)
	l.sink.Emit(NewEvent(EventInsightGenerated, "loop", l.workspaceID, InsightGeneratedData{
		Purge:           true,
		TotalDeleted:    result.TotalDeleted,
		EventsDeleted:   result.EventsDeleted,
		AnalysesDeleted: result.AnalysesDeleted,
		InsightsDeleted: result.InsightsDeleted,
	}))
}

// scanProjectName is the workspace-scoped key scan history rows are filtered
// by.
func (l *Loop) scanProjectName() string {
	return fmt.Sprintf("%s [%s]", l.cfg.Project.Name, l.workspaceID)
}

func marshalOrEmpty(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
