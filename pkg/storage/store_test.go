package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mykim19/debug-dashboard-core/pkg/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestOpen_MigratesAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.db")
	ctx := context.Background()

	store, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = store.SaveEvent(ctx, "scan_requested", "user", "{}", "ws1")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopen: migrations are a no-op, data survives.
	store, err = Open(ctx, path)
	require.NoError(t, err)
	defer store.Close()
	events, err := store.GetEvents(ctx, "ws1", 0, 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestSaveEvent_MonotonicIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		id, err := store.SaveEvent(ctx, "file_changed", "watcher", "{}", "ws1")
		require.NoError(t, err)
		assert.Greater(t, id, last)
		last = id
	}
}

func TestGetEvents_WorkspaceIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.SaveEvent(ctx, "file_changed", "watcher", "{}", "ws-a")
		require.NoError(t, err)
	}
	_, err := store.SaveEvent(ctx, "file_changed", "watcher", "{}", "ws-b")
	require.NoError(t, err)

	events, err := store.GetEvents(ctx, "ws-a", 0, 100)
	require.NoError(t, err)
	assert.Len(t, events, 3)
	for _, e := range events {
		assert.Equal(t, "ws-a", e.WorkspaceID)
	}
}

func TestGetEvents_SinceIDNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ids := make([]int64, 0, 5)
	for i := 0; i < 5; i++ {
		id, err := store.SaveEvent(ctx, "scan_completed", "executor",
			fmt.Sprintf(`{"n":%d}`, i), "ws1")
		require.NoError(t, err)
		ids = append(ids, id)
	}

	events, err := store.GetEvents(ctx, "ws1", ids[1], 100)
	require.NoError(t, err)
	require.Len(t, events, 3)
	// Newest first, all strictly above since_id.
	assert.Equal(t, ids[4], events[0].ID)
	assert.Equal(t, ids[2], events[2].ID)
}

func TestScanHistory_LatestAndPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, store.SaveScan(ctx, ScanRow{
			ProjectName:   "demo [ws1]",
			OverallStatus: "HEALTHY",
			TotalPass:     i,
			HealthPct:     100,
			PhasesJSON:    "[]",
		}))
	}
	require.NoError(t, store.SaveScan(ctx, ScanRow{
		ProjectName:   "other [ws2]",
		OverallStatus: "CRITICAL",
		TotalFail:     1,
		PhasesJSON:    "[]",
	}))

	latest, err := store.GetLatestScan(ctx, "demo [ws1]")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 3, latest.TotalPass)

	page, err := store.GetHistory(ctx, "demo [ws1]", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, 1, page[0].TotalPass)
	assert.Equal(t, 0, page[1].TotalPass)

	missing, err := store.GetLatestScan(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAnalyses_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveAnalysis(ctx, AnalysisRow{
		CheckerName:        "security",
		ModelUsed:          "anthropic/claude-sonnet-4-5",
		PromptTokens:       120,
		CompletionTokens:   80,
		CostUSD:            0.0042,
		AnalysisText:       "root cause: hardcoded key",
		RootCausesJSON:     `["hardcoded key"]`,
		FixSuggestionsJSON: `[{"action":"move to env"}]`,
		EvidenceJSON:       "{}",
		WorkspaceID:        "ws1",
	}))

	rows, err := store.GetAnalyses(ctx, "ws1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "security", rows[0].CheckerName)
	assert.Equal(t, 0.0042, rows[0].CostUSD)

	other, err := store.GetAnalyses(ctx, "ws2", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestPurge_RowCapAndAge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := store.SaveEvent(ctx, "file_changed", "watcher", "{}", "ws1")
		require.NoError(t, err)
	}
	// Back-date two events beyond the age bound.
	old := time.Now().UTC().AddDate(0, 0, -10).Format(time.RFC3339Nano)
	_, err := store.db.Exec(
		`UPDATE agent_events SET timestamp = ? WHERE id IN (SELECT id FROM agent_events ORDER BY id ASC LIMIT 2)`, old)
	require.NoError(t, err)

	// Old analysis and insight.
	require.NoError(t, store.SaveAnalysis(ctx, AnalysisRow{CheckerName: "security", ModelUsed: "m", WorkspaceID: "ws1"}))
	_, err = store.db.Exec(`UPDATE llm_analyses SET timestamp = ?`,
		time.Now().UTC().AddDate(0, 0, -100).Format(time.RFC3339Nano))
	require.NoError(t, err)
	require.NoError(t, store.SaveInsight(ctx, InsightRow{InsightType: "regression", Severity: "high", Message: "x", WorkspaceID: "ws1"}))
	_, err = store.db.Exec(`UPDATE agent_insights SET timestamp = ?`, old)
	require.NoError(t, err)

	ret := config.RetentionConfig{EventMaxRows: 5, EventMaxDays: 7, AnalysisMaxDays: 90}
	result, err := store.Purge(ctx, ret)
	require.NoError(t, err)

	// 5 events beyond the row cap (incl. the 2 old ones), 1 analysis, 1 insight.
	assert.Equal(t, 5, result.EventsDeleted)
	assert.Equal(t, 1, result.AnalysesDeleted)
	assert.Equal(t, 1, result.InsightsDeleted)
	assert.Equal(t, 7, result.TotalDeleted)

	events, err := store.GetEvents(ctx, "ws1", 0, 100)
	require.NoError(t, err)
	assert.Len(t, events, 5)

	// Idempotent: a second purge with the same inputs deletes nothing.
	again, err := store.Purge(ctx, ret)
	require.NoError(t, err)
	assert.Equal(t, 0, again.TotalDeleted)
}

func TestHealth(t *testing.T) {
	store := newTestStore(t)
	h, err := store.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
}
