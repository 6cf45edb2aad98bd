package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/mykim19/debug-dashboard-core/pkg/config"
)

// ScanRow is one scan_history record.
type ScanRow struct {
	ID            int64   `db:"id" json:"id"`
	Timestamp     string  `db:"timestamp" json:"timestamp"`
	ProjectName   string  `db:"project_name" json:"project_name"`
	OverallStatus string  `db:"overall_status" json:"overall_status"`
	TotalPass     int     `db:"total_pass" json:"total_pass"`
	TotalWarn     int     `db:"total_warn" json:"total_warn"`
	TotalFail     int     `db:"total_fail" json:"total_fail"`
	HealthPct     float64 `db:"health_pct" json:"health_pct"`
	PhasesJSON    string  `db:"phases_json" json:"phases_json"`
	DurationMS    int64   `db:"duration_ms" json:"duration_ms"`
}

// EventRow is one agent_events record.
type EventRow struct {
	ID          int64  `db:"id" json:"id"`
	Timestamp   string `db:"timestamp" json:"timestamp"`
	EventType   string `db:"event_type" json:"event_type"`
	Source      string `db:"source" json:"source"`
	DataJSON    string `db:"data_json" json:"data_json"`
	WorkspaceID string `db:"workspace_id" json:"workspace_id"`
}

// AnalysisRow is one llm_analyses record.
type AnalysisRow struct {
	ID                 int64   `db:"id" json:"id"`
	Timestamp          string  `db:"timestamp" json:"timestamp"`
	CheckerName        string  `db:"checker_name" json:"checker_name"`
	ModelUsed          string  `db:"model_used" json:"model_used"`
	PromptTokens       int     `db:"prompt_tokens" json:"prompt_tokens"`
	CompletionTokens   int     `db:"completion_tokens" json:"completion_tokens"`
	CostUSD            float64 `db:"cost_usd" json:"cost_usd"`
	AnalysisText       string  `db:"analysis_text" json:"analysis_text"`
	RootCausesJSON     string  `db:"root_causes_json" json:"root_causes_json"`
	FixSuggestionsJSON string  `db:"fix_suggestions_json" json:"fix_suggestions_json"`
	EvidenceJSON       string  `db:"evidence_json" json:"evidence_json"`
	WorkspaceID        string  `db:"workspace_id" json:"workspace_id"`
}

// InsightRow is one agent_insights record.
type InsightRow struct {
	ID           int64  `db:"id" json:"id"`
	Timestamp    string `db:"timestamp" json:"timestamp"`
	InsightType  string `db:"insight_type" json:"insight_type"`
	Severity     string `db:"severity" json:"severity"`
	Message      string `db:"message" json:"message"`
	CheckersJSON string `db:"checkers_json" json:"checkers_json"`
	WorkspaceID  string `db:"workspace_id" json:"workspace_id"`
}

// SaveScan records a completed scan.
func (s *Store) SaveScan(ctx context.Context, row ScanRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_history
		(timestamp, project_name, overall_status, total_pass, total_warn, total_fail, health_pct, phases_json, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		now(), row.ProjectName, row.OverallStatus,
		row.TotalPass, row.TotalWarn, row.TotalFail,
		row.HealthPct, row.PhasesJSON, row.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("saving scan: %w", err)
	}
	return nil
}

// GetHistory returns scan history for a project, newest first.
func (s *Store) GetHistory(ctx context.Context, projectName string, limit, offset int) ([]ScanRow, error) {
	if limit <= 0 {
		limit = 30
	}
	var rows []ScanRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM scan_history WHERE project_name = ?
		ORDER BY id DESC LIMIT ? OFFSET ?`,
		projectName, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying scan history: %w", err)
	}
	return rows, nil
}

// GetLatestScan returns the most recent scan for a project, or nil.
func (s *Store) GetLatestScan(ctx context.Context, projectName string) (*ScanRow, error) {
	rows, err := s.GetHistory(ctx, projectName, 1, 0)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// SaveEvent appends an event to the log and returns its row id.
func (s *Store) SaveEvent(ctx context.Context, eventType, source, dataJSON, workspaceID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_events (timestamp, event_type, source, data_json, workspace_id)
		VALUES (?, ?, ?, ?, ?)`,
		now(), eventType, source, dataJSON, workspaceID)
	if err != nil {
		return 0, fmt.Errorf("saving event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading event id: %w", err)
	}
	return id, nil
}

// GetEvents returns a workspace's events, newest first, optionally only
// those with id > sinceID. Queries never cross workspace boundaries.
func (s *Store) GetEvents(ctx context.Context, workspaceID string, sinceID int64, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []EventRow
	var err error
	if sinceID > 0 {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT * FROM agent_events WHERE workspace_id = ? AND id > ?
			ORDER BY id DESC LIMIT ?`,
			workspaceID, sinceID, limit)
	} else {
		err = s.db.SelectContext(ctx, &rows, `
			SELECT * FROM agent_events WHERE workspace_id = ?
			ORDER BY id DESC LIMIT ?`,
			workspaceID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	return rows, nil
}

// SaveAnalysis records an LLM analysis result.
func (s *Store) SaveAnalysis(ctx context.Context, row AnalysisRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO llm_analyses
		(timestamp, checker_name, model_used, prompt_tokens, completion_tokens,
		 cost_usd, analysis_text, root_causes_json, fix_suggestions_json,
		 evidence_json, workspace_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		now(), row.CheckerName, row.ModelUsed,
		row.PromptTokens, row.CompletionTokens, row.CostUSD,
		row.AnalysisText, row.RootCausesJSON, row.FixSuggestionsJSON,
		row.EvidenceJSON, row.WorkspaceID)
	if err != nil {
		return fmt.Errorf("saving analysis: %w", err)
	}
	return nil
}

// GetAnalyses returns a workspace's LLM analyses, newest first.
func (s *Store) GetAnalyses(ctx context.Context, workspaceID string, limit int) ([]AnalysisRow, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []AnalysisRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM llm_analyses WHERE workspace_id = ?
		ORDER BY id DESC LIMIT ?`,
		workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying analyses: %w", err)
	}
	return rows, nil
}

// SaveInsight records a cross-checker insight.
func (s *Store) SaveInsight(ctx context.Context, row InsightRow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_insights (timestamp, insight_type, severity, message, checkers_json, workspace_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		now(), row.InsightType, row.Severity, row.Message, row.CheckersJSON, row.WorkspaceID)
	if err != nil {
		return fmt.Errorf("saving insight: %w", err)
	}
	return nil
}

// PurgeResult reports what a retention purge deleted.
type PurgeResult struct {
	TotalDeleted    int `json:"total_deleted"`
	EventsDeleted   int `json:"events_deleted"`
	AnalysesDeleted int `json:"analyses_deleted"`
	InsightsDeleted int `json:"insights_deleted"`
}

// Purge enforces the retention policy: agent_events beyond the row cap or
// older than the event bound, llm_analyses older than the analysis bound,
// agent_insights older than the event bound. Idempotent given the same
// inputs and clock.
func (s *Store) Purge(ctx context.Context, ret config.RetentionConfig) (PurgeResult, error) {
	var result PurgeResult

	eventCutoff := cutoff(ret.EventMaxDays)
	analysisCutoff := cutoff(ret.AnalysisMaxDays)

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM agent_events WHERE id NOT IN (
			SELECT id FROM agent_events ORDER BY id DESC LIMIT ?
		)`, ret.EventMaxRows)
	if err != nil {
		return result, fmt.Errorf("purging events by rows: %w", err)
	}
	result.EventsDeleted += affected(res)

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM agent_events WHERE timestamp < ?`, eventCutoff)
	if err != nil {
		return result, fmt.Errorf("purging events by age: %w", err)
	}
	result.EventsDeleted += affected(res)

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM llm_analyses WHERE timestamp < ?`, analysisCutoff)
	if err != nil {
		return result, fmt.Errorf("purging analyses: %w", err)
	}
	result.AnalysesDeleted = affected(res)

	res, err = s.db.ExecContext(ctx,
		`DELETE FROM agent_insights WHERE timestamp < ?`, eventCutoff)
	if err != nil {
		return result, fmt.Errorf("purging insights: %w", err)
	}
	result.InsightsDeleted = affected(res)

	result.TotalDeleted = result.EventsDeleted + result.AnalysesDeleted + result.InsightsDeleted
	return result, nil
}

func cutoff(days int) string {
	return time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339Nano)
}

func affected(res interface{ RowsAffected() (int64, error) }) int {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}
