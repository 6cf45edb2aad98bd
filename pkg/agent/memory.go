package agent

import (
	"sync"
	"time"

	"github.com/mykim19/debug-dashboard-core/pkg/checker"
)

// Default memory bounds.
const (
	DefaultMaxMemoryEvents = 500
	snapshotWindow         = 10
)

// Memory is the agent's in-memory layer: a bounded ring of recent events and
// a fixed window of recent scan snapshots. The worker goroutine is the single
// writer; readers get copies.
//
// Durable persistence lives in pkg/storage; Memory only serves the reasoner's
// fast path (cooldown, regression diffs) and LLM evidence context.
type Memory struct {
	mu           sync.RWMutex
	workspaceID  string
	maxEvents    int
	recentEvents []Event
	snapshots    []map[string]*checker.PhaseReport // index 0 = most recent
	lastScanTime time.Time
}

// NewMemory creates a memory for one workspace. maxEvents <= 0 selects the
// default bound.
func NewMemory(workspaceID string, maxEvents int) *Memory {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxMemoryEvents
	}
	return &Memory{workspaceID: workspaceID, maxEvents: maxEvents}
}

// RecordEvent appends an event to the ring, evicting the oldest past the
// bound.
func (m *Memory) RecordEvent(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recentEvents = append(m.recentEvents, ev)
	if len(m.recentEvents) > m.maxEvents {
		m.recentEvents = m.recentEvents[len(m.recentEvents)-m.maxEvents:]
	}
}

// RecordScanReports pushes a scan snapshot and stamps the last scan time.
func (m *Memory) RecordScanReports(reports map[string]*checker.PhaseReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append([]map[string]*checker.PhaseReport{reports}, m.snapshots...)
	if len(m.snapshots) > snapshotWindow {
		m.snapshots = m.snapshots[:snapshotWindow]
	}
	m.lastScanTime = time.Now()
}

// LastScanTime returns when the most recent scan snapshot was recorded; the
// zero time if none.
func (m *Memory) LastScanTime() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastScanTime
}

// RecentSnapshots returns up to limit snapshots, most recent first.
func (m *Memory) RecentSnapshots(limit int) []map[string]*checker.PhaseReport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit > len(m.snapshots) {
		limit = len(m.snapshots)
	}
	out := make([]map[string]*checker.PhaseReport, limit)
	copy(out, m.snapshots[:limit])
	return out
}

// RecentEvents returns up to limit of the newest events, oldest first.
func (m *Memory) RecentEvents(limit int) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.recentEvents)
	if limit > n {
		limit = n
	}
	out := make([]Event, limit)
	copy(out, m.recentEvents[n-limit:])
	return out
}

// RecentFileChanges returns up to limit file_changed events, newest first.
func (m *Memory) RecentFileChanges(limit int) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for i := len(m.recentEvents) - 1; i >= 0 && len(out) < limit; i-- {
		if m.recentEvents[i].Type == EventFileChanged {
			out = append(out, m.recentEvents[i])
		}
	}
	return out
}

// RegressionDiff is one PASS → FAIL/WARN transition between the two most
// recent snapshots of a checker.
type RegressionDiff struct {
	Check   string `json:"check"`
	Was     string `json:"was"`
	Now     string `json:"now"`
	Message string `json:"message,omitempty"`
}

// LLMContext is the evidence bundle handed to the LLM prompt builder.
type LLMContext struct {
	Checker             string                 `json:"checker"`
	WorkspaceID         string                 `json:"workspace_id"`
	RecentReports       []*checker.PhaseReport `json:"recent_reports,omitempty"`
	Regressions         []RegressionDiff       `json:"regressions,omitempty"`
	RecentFileChanges   [][]FileChange         `json:"recent_file_changes,omitempty"`
	TotalEventsInMemory int                    `json:"total_events_in_memory"`
}

// ContextForLLM builds rich evidence context for a checker's LLM analysis:
// up to 3 recent reports, the PASS→FAIL/WARN regression diff between the two
// newest snapshots, recent file-change batches, and aggregate event counts.
func (m *Memory) ContextForLLM(checkerName string) LLMContext {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ctx := LLMContext{
		Checker:             checkerName,
		WorkspaceID:         m.workspaceID,
		TotalEventsInMemory: len(m.recentEvents),
	}

	for i := 0; i < len(m.snapshots) && i < 3; i++ {
		if report, ok := m.snapshots[i][checkerName]; ok {
			ctx.RecentReports = append(ctx.RecentReports, report)
		}
	}

	if len(m.snapshots) >= 2 {
		cur, prev := m.snapshots[0][checkerName], m.snapshots[1][checkerName]
		if cur != nil && prev != nil {
			prevByName := make(map[string]checker.CheckResult, len(prev.Checks))
			for _, c := range prev.Checks {
				prevByName[c.Name] = c
			}
			for _, c := range cur.Checks {
				p, ok := prevByName[c.Name]
				if !ok {
					continue
				}
				if p.Status == checker.StatusPass &&
					(c.Status == checker.StatusFail || c.Status == checker.StatusWarn) {
					ctx.Regressions = append(ctx.Regressions, RegressionDiff{
						Check:   c.Name,
						Was:     string(p.Status),
						Now:     string(c.Status),
						Message: c.Message,
					})
				}
			}
		}
	}

	count := 0
	for i := len(m.recentEvents) - 1; i >= 0 && count < 3; i-- {
		ev := m.recentEvents[i]
		if ev.Type != EventFileChanged {
			continue
		}
		if data, ok := ev.Data.(FileChangedData); ok {
			files := data.Files
			if len(files) > 5 {
				files = files[:5]
			}
			ctx.RecentFileChanges = append(ctx.RecentFileChanges, files)
			count++
		}
	}

	return ctx
}
