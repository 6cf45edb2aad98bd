package agent

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mykim19/debug-dashboard-core/pkg/checker"
)

func reportWith(name string, checks ...checker.CheckResult) *checker.PhaseReport {
	r := checker.NewPhaseReport(name)
	for _, c := range checks {
		r.Add(c)
	}
	return r
}

func TestMemory_EventRingBounded(t *testing.T) {
	m := NewMemory("ws1", 5)
	for i := 0; i < 8; i++ {
		m.RecordEvent(NewEvent(EventFileChanged, "watcher", "ws1", FileChangedData{FileCount: i}))
	}

	recent := m.RecentEvents(100)
	require.Len(t, recent, 5)
	// Oldest evicted: the first retained batch has FileCount 3.
	first, ok := recent[0].Data.(FileChangedData)
	require.True(t, ok)
	assert.Equal(t, 3, first.FileCount)
}

func TestMemory_SnapshotWindowBounded(t *testing.T) {
	m := NewMemory("ws1", 0)
	for i := 0; i < 12; i++ {
		m.RecordScanReports(map[string]*checker.PhaseReport{
			"environment": reportWith("environment", checker.CheckResult{
				Name: fmt.Sprintf("check_%d", i), Status: checker.StatusPass,
			}),
		})
	}

	snaps := m.RecentSnapshots(100)
	require.Len(t, snaps, 10)
	// Position 0 is the most recent.
	assert.Equal(t, "check_11", snaps[0]["environment"].Checks[0].Name)
	assert.False(t, m.LastScanTime().IsZero())
}

func TestMemory_ContextForLLM(t *testing.T) {
	m := NewMemory("ws1", 0)

	m.RecordScanReports(map[string]*checker.PhaseReport{
		"security": reportWith("security",
			checker.CheckResult{Name: "sql_injection", Status: checker.StatusPass},
			checker.CheckResult{Name: "xss", Status: checker.StatusPass},
		),
	})
	m.RecordScanReports(map[string]*checker.PhaseReport{
		"security": reportWith("security",
			checker.CheckResult{Name: "sql_injection", Status: checker.StatusFail, Message: "found"},
			checker.CheckResult{Name: "xss", Status: checker.StatusWarn},
		),
	})
	m.RecordEvent(NewEvent(EventFileChanged, "watcher", "ws1", FileChangedData{
		Files: []FileChange{{RelativePath: "src/app.py", ChangeType: "modified"}},
	}))

	ctx := m.ContextForLLM("security")
	assert.Equal(t, "security", ctx.Checker)
	assert.Equal(t, "ws1", ctx.WorkspaceID)
	assert.Len(t, ctx.RecentReports, 2)

	// Both PASS→FAIL and PASS→WARN are regressions.
	require.Len(t, ctx.Regressions, 2)
	assert.Equal(t, "sql_injection", ctx.Regressions[0].Check)
	assert.Equal(t, "PASS", ctx.Regressions[0].Was)
	assert.Equal(t, "FAIL", ctx.Regressions[0].Now)

	require.Len(t, ctx.RecentFileChanges, 1)
	assert.Equal(t, "src/app.py", ctx.RecentFileChanges[0][0].RelativePath)
	assert.Equal(t, 1, ctx.TotalEventsInMemory)
}

func TestMemory_ContextForLLM_NoHistory(t *testing.T) {
	m := NewMemory("ws1", 0)
	ctx := m.ContextForLLM("security")
	assert.Empty(t, ctx.RecentReports)
	assert.Empty(t, ctx.Regressions)
}
