package agent

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mykim19/debug-dashboard-core/pkg/checker"
	"github.com/mykim19/debug-dashboard-core/pkg/config"
	"github.com/mykim19/debug-dashboard-core/pkg/storage"
)

// captureSink records emitted events in memory for assertions.
type captureSink struct {
	memory *Memory

	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Emit(ev Event) {
	s.memory.RecordEvent(ev)
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *captureSink) ClientCount() int { return 0 }

func (s *captureSink) byType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type loopFixture struct {
	loop  *Loop
	sink  *captureSink
	store *storage.Store
	cfg   *config.Config
}

func newLoopFixture(t *testing.T) *loopFixture {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Project.Name = "demo"
	cfg.Project.Root = dir
	// Keep manual scans unthrottled across sequential test requests.
	cfg.Agent.ManualScanMinInterval = 0

	store, err := storage.Open(context.Background(), filepath.Join(dir, "state", "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	memory := NewMemory("ws1", 0)
	sink := &captureSink{memory: memory}

	checkers := map[string]checker.Checker{
		"environment": &fakeChecker{name: "environment", results: []checker.CheckResult{
			{Name: "ok", Status: checker.StatusPass},
		}},
	}
	executor := NewExecutor(checkers, dir, cfg, NewDependencyGraph(nil), nil, memory, "ws1")
	reasoner := NewReasoner(&cfg.Agent, []string{"environment"})
	observer := NewObserver(dir, "ws1", &cfg.Agent)
	lock := NewSingletonLock("ws1", filepath.Join(dir, "state", "locks"), 0)

	loop := NewLoop(cfg, "ws1", memory, reasoner, executor, observer, sink, store, lock)
	t.Cleanup(loop.Stop)
	return &loopFixture{loop: loop, sink: sink, store: store, cfg: cfg}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 10*time.Millisecond)
}

func TestLoop_StartIsIdempotent(t *testing.T) {
	f := newLoopFixture(t)

	require.True(t, f.loop.Start())
	waitFor(t, func() bool { return f.loop.State() == StateObserving })

	// Starting again is a no-op that returns success and changes nothing.
	stateBefore := f.loop.State()
	require.True(t, f.loop.Start())
	assert.Equal(t, stateBefore, f.loop.State())
}

func TestLoop_StartRejectedWhenSingletonHeld(t *testing.T) {
	dir := t.TempDir()
	lockDir := filepath.Join(dir, "locks")

	other := NewSingletonLock("ws-shared", lockDir, 0)
	require.True(t, other.Acquire())

	f := newLoopFixture(t)
	f.loop.lock = NewSingletonLock("ws-shared", lockDir, 0)

	assert.False(t, f.loop.Start())
}

func TestLoop_ManualScanEndToEnd(t *testing.T) {
	f := newLoopFixture(t)
	require.True(t, f.loop.Start())

	outcome := f.loop.RequestScan(nil)
	require.True(t, outcome.Queued)
	assert.False(t, outcome.RateLimited)

	waitFor(t, func() bool { return len(f.sink.byType(EventScanCompleted)) == 1 })

	completed := f.sink.byType(EventScanCompleted)[0]
	data := completed.Data.(ScanCompletedData)
	assert.Equal(t, OverallHealthy, data.Overall)
	assert.Equal(t, 1, data.TotalPass)
	assert.Equal(t, "ws1", completed.WorkspaceID)

	// The snapshot was recorded and the scan row persisted under the
	// workspace-scoped project name.
	waitFor(t, func() bool {
		row, err := f.store.GetLatestScan(context.Background(), "demo [ws1]")
		return err == nil && row != nil
	})
	row, err := f.store.GetLatestScan(context.Background(), "demo [ws1]")
	require.NoError(t, err)
	assert.Equal(t, "HEALTHY", row.OverallStatus)

	// The scan_requested event itself was also emitted.
	assert.Len(t, f.sink.byType(EventScanRequested), 1)
}

func TestLoop_StateTransitionsEmitted(t *testing.T) {
	f := newLoopFixture(t)
	require.True(t, f.loop.Start())

	f.loop.RequestScan(nil)
	waitFor(t, func() bool { return len(f.sink.byType(EventScanCompleted)) == 1 })

	var transitions []StateChangedData
	for _, ev := range f.sink.byType(EventStateChanged) {
		transitions = append(transitions, ev.Data.(StateChangedData))
	}
	require.NotEmpty(t, transitions)

	// The cycle reached reasoning and executing, then returned to observing.
	seen := map[State]bool{}
	for _, tr := range transitions {
		seen[tr.New] = true
	}
	assert.True(t, seen[StateObserving])
	assert.True(t, seen[StateReasoning])
	assert.True(t, seen[StateExecuting])
}

func TestLoop_RateLimitedScan(t *testing.T) {
	f := newLoopFixture(t)
	f.cfg.Agent.ManualScanMinInterval = 60
	// Rebuild the reasoner with the throttled interval.
	f.loop.reasoner = NewReasoner(&f.cfg.Agent, []string{"environment"})
	require.True(t, f.loop.Start())

	first := f.loop.RequestScan(nil)
	require.True(t, first.Queued)

	second := f.loop.RequestScan(nil)
	assert.False(t, second.Queued)
	assert.True(t, second.RateLimited)
	assert.Greater(t, second.RetryAfter, 0.0)

	// The rejected request surfaces as a rate-limited insight event, and no
	// second scan runs.
	waitFor(t, func() bool {
		for _, ev := range f.sink.byType(EventInsightGenerated) {
			if data, ok := ev.Data.(InsightGeneratedData); ok && data.RateLimited {
				return true
			}
		}
		return false
	})
	waitFor(t, func() bool { return len(f.sink.byType(EventScanCompleted)) == 1 })
	assert.Len(t, f.sink.byType(EventScanCompleted), 1)
}

func TestLoop_RegressionInsightAfterSecondScan(t *testing.T) {
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Project.Name = "demo"
	cfg.Project.Root = dir
	cfg.Agent.ManualScanMinInterval = 0

	store, err := storage.Open(context.Background(), filepath.Join(dir, "state", "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	memory := NewMemory("ws1", 0)
	sink := &captureSink{memory: memory}

	// First scan passes, second fails the same check: a regression.
	flaky := &fakeChecker{name: "environment", resultsFn: func(call int) []checker.CheckResult {
		status := checker.StatusPass
		if call > 0 {
			status = checker.StatusFail
		}
		return []checker.CheckResult{{Name: "env_file", Status: status}}
	}}

	executor := NewExecutor(map[string]checker.Checker{"environment": flaky}, dir, cfg,
		NewDependencyGraph(nil), nil, memory, "ws1")
	reasoner := NewReasoner(&cfg.Agent, []string{"environment"})
	observer := NewObserver(dir, "ws1", &cfg.Agent)
	lock := NewSingletonLock("ws1", filepath.Join(dir, "state", "locks"), 0)
	loop := NewLoop(cfg, "ws1", memory, reasoner, executor, observer, sink, store, lock)
	t.Cleanup(loop.Stop)

	require.True(t, loop.Start())
	loop.RequestScan(nil)
	waitFor(t, func() bool { return len(sink.byType(EventScanCompleted)) == 1 })
	loop.RequestScan(nil)
	waitFor(t, func() bool { return len(sink.byType(EventScanCompleted)) == 2 })

	// The completed scan fed back through the reasoner and produced a
	// regression insight, which was also persisted.
	waitFor(t, func() bool {
		for _, ev := range sink.byType(EventInsightGenerated) {
			if data, ok := ev.Data.(InsightGeneratedData); ok {
				for _, in := range data.Insights {
					if in.Type == "regression" && in.Checker == "environment" {
						return true
					}
				}
			}
		}
		return false
	})

	var count int
	require.NoError(t, store.DB().QueryRow(
		`SELECT COUNT(*) FROM agent_insights WHERE workspace_id = 'ws1' AND insight_type = 'regression'`,
	).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestLoop_AnalysisWithoutProvider(t *testing.T) {
	f := newLoopFixture(t)
	require.True(t, f.loop.Start())

	require.True(t, f.loop.RequestAnalysis("environment"))

	waitFor(t, func() bool { return len(f.sink.byType(EventAnalysisCompleted)) == 1 })
	data := f.sink.byType(EventAnalysisCompleted)[0].Data.(AnalysisCompletedData)
	assert.Equal(t, "No LLM provider configured", data.Error)
}

func TestLoop_StopReleasesLockAndIdles(t *testing.T) {
	f := newLoopFixture(t)
	require.True(t, f.loop.Start())
	waitFor(t, func() bool { return f.loop.State() == StateObserving })

	f.loop.Stop()
	assert.Equal(t, StateIdle, f.loop.State())

	// The singleton lock was released: a fresh start succeeds.
	require.True(t, f.loop.Start())
}

func TestLoop_StatusSnapshot(t *testing.T) {
	f := newLoopFixture(t)
	require.True(t, f.loop.Start())
	waitFor(t, func() bool { return f.loop.State() == StateObserving })

	status := f.loop.GetStatus()
	assert.True(t, status.Enabled)
	assert.Equal(t, "ws1", status.WorkspaceID)
	assert.True(t, status.ObserverRunning)
	assert.False(t, status.ExecutorBusy)
	assert.False(t, status.LLMAvailable)
	assert.Equal(t, 0, status.SSEClients)
}
