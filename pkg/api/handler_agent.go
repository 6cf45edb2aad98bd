package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/mykim19/debug-dashboard-core/pkg/storage"
)

// scanRequest is the body of POST /api/agent/scan.
type scanRequest struct {
	Checkers []string `json:"checkers"`
}

// analyzeRequest is the body of POST /api/agent/analyze.
type analyzeRequest struct {
	Checker string `json:"checker"`
}

// wireEvent is a persisted event decoded for API responses.
type wireEvent struct {
	ID          int64          `json:"id"`
	Timestamp   string         `json:"timestamp"`
	EventType   string         `json:"event_type"`
	Source      string         `json:"source"`
	Data        map[string]any `json:"data"`
	WorkspaceID string         `json:"workspace_id"`
}

func decodeEventRow(row storage.EventRow) wireEvent {
	data := map[string]any{}
	_ = json.Unmarshal([]byte(row.DataJSON), &data)
	return wireEvent{
		ID:          row.ID,
		Timestamp:   row.Timestamp,
		EventType:   row.EventType,
		Source:      row.Source,
		Data:        data,
		WorkspaceID: row.WorkspaceID,
	}
}

// agentStatusHandler handles GET /api/agent/status.
func (s *Server) agentStatusHandler(c *echo.Context) error {
	h, _ := s.resolveAgent(c)
	if h == nil {
		return c.JSON(http.StatusOK, map[string]any{
			"success":      true,
			"enabled":      false,
			"state":        "disabled",
			"workspace_id": "",
		})
	}
	status := h.Loop.GetStatus()
	return c.JSON(http.StatusOK, map[string]any{
		"success":          true,
		"enabled":          status.Enabled,
		"state":            status.State,
		"workspace_id":     status.WorkspaceID,
		"observer_running": status.ObserverRunning,
		"executor_busy":    status.ExecutorBusy,
		"llm_available":    status.LLMAvailable,
		"event_queue_size": status.EventQueueSize,
		"sse_clients":      status.SSEClients,
	})
}

// agentStartHandler handles POST /api/agent/start. Idempotent.
func (s *Server) agentStartHandler(c *echo.Context) error {
	h, _ := s.resolveAgent(c)
	if h == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "agent not configured")
	}
	ok := h.Loop.Start()
	message := "Started"
	if !ok {
		message = "Already running or lock conflict"
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": ok,
		"state":   h.Loop.State(),
		"message": message,
	})
}

// agentStopHandler handles POST /api/agent/stop.
func (s *Server) agentStopHandler(c *echo.Context) error {
	h, _ := s.resolveAgent(c)
	if h == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "agent not configured")
	}
	h.Loop.Stop()
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"state":   h.Loop.State(),
	})
}

// agentScanHandler handles POST /api/agent/scan. A rate-limited request is
// not an error: the response carries retry_after so the UI can show a clear
// message.
func (s *Server) agentScanHandler(c *echo.Context) error {
	h, _ := s.resolveAgent(c)
	if h == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "agent not configured")
	}

	var req scanRequest
	_ = c.Bind(&req) // empty body means full scan

	outcome := h.Loop.RequestScan(req.Checkers)
	if outcome.RateLimited {
		return c.JSON(http.StatusOK, map[string]any{
			"success":      true,
			"rate_limited": true,
			"retry_after":  outcome.RetryAfter,
			"message":      fmt.Sprintf("Rate limited — retry in %.1fs", outcome.RetryAfter),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Scan queued",
	})
}

// agentAnalyzeHandler handles POST /api/agent/analyze.
func (s *Server) agentAnalyzeHandler(c *echo.Context) error {
	h, _ := s.resolveAgent(c)
	if h == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "agent not configured")
	}

	var req analyzeRequest
	if err := c.Bind(&req); err != nil || req.Checker == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "checker is required")
	}

	h.Loop.RequestAnalysis(req.Checker)
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"message": "Analysis queued for " + req.Checker,
	})
}

// agentHistoryHandler handles GET /api/agent/history?limit=&since_id=.
// The workspace is always resolved; responses never contain another
// workspace's rows.
func (s *Server) agentHistoryHandler(c *echo.Context) error {
	_, wsID := s.resolveAgent(c)
	if explicit := c.QueryParam("workspace_id"); explicit != "" {
		wsID = explicit
	}

	limit := intParam(c, "limit", 100)
	sinceID := int64(intParam(c, "since_id", 0))

	rows, err := s.store.GetEvents(c.Request().Context(), wsID, sinceID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]wireEvent, 0, len(rows))
	for _, row := range rows {
		out = append(out, decodeEventRow(row))
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":      true,
		"data":         out,
		"workspace_id": wsID,
	})
}

// agentAnalysesHandler handles GET /api/agent/analyses?limit=.
func (s *Server) agentAnalysesHandler(c *echo.Context) error {
	_, wsID := s.resolveAgent(c)
	if explicit := c.QueryParam("workspace_id"); explicit != "" {
		wsID = explicit
	}

	rows, err := s.store.GetAnalyses(c.Request().Context(), wsID, intParam(c, "limit", 20))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":      true,
		"data":         rows,
		"workspace_id": wsID,
	})
}

// agentCostHandler handles GET /api/agent/cost: the daily summary plus
// budget status for the UI's budget-exceeded display.
func (s *Server) agentCostHandler(c *echo.Context) error {
	h, _ := s.resolveAgent(c)
	if h == nil || h.LLM == nil {
		return c.JSON(http.StatusOK, map[string]any{
			"success": true,
			"data":    map[string]any{"enabled": false},
		})
	}

	tracker := h.LLM.CostTracker()
	summary := tracker.GetDailySummary()
	usagePct := 0.0
	if summary.BudgetUSD > 0 {
		usagePct = summary.TotalUSD / summary.BudgetUSD * 100
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"enabled":       true,
			"date":          summary.Date,
			"total_usd":     summary.TotalUSD,
			"calls":         summary.Calls,
			"budget_usd":    summary.BudgetUSD,
			"remaining_usd": summary.RemainingUSD,
			"all_time_usd":  summary.AllTimeUSD,
			"budget": map[string]any{
				"limit":     summary.BudgetUSD,
				"spent":     summary.TotalUSD,
				"usage_pct": float64(int(usagePct*10+0.5)) / 10,
				"exceeded":  summary.BudgetUSD > 0 && summary.TotalUSD >= summary.BudgetUSD,
				"blocked":   summary.BudgetUSD > 0 && !tracker.CanSpend(0.001),
			},
		},
	})
}

// scanLatestHandler handles GET /api/scan/latest for the resolved workspace.
func (s *Server) scanLatestHandler(c *echo.Context) error {
	h, _ := s.resolveAgent(c)
	if h == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "agent not configured")
	}
	row, err := s.store.GetLatestScan(c.Request().Context(), scanProjectName(h))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "data": row})
}

// scanHistoryHandler handles GET /api/scan/history?limit=&page=.
func (s *Server) scanHistoryHandler(c *echo.Context) error {
	h, _ := s.resolveAgent(c)
	if h == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "agent not configured")
	}
	limit := intParam(c, "limit", 30)
	page := intParam(c, "page", 1)
	if page < 1 {
		page = 1
	}
	rows, err := s.store.GetHistory(c.Request().Context(), scanProjectName(h), limit, (page-1)*limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"data":    rows,
		"page":    page,
	})
}

// scanProjectName mirrors the loop's workspace-scoped scan history key.
func scanProjectName(h *AgentHandle) string {
	return fmt.Sprintf("%s [%s]", h.Config.Project.Name, h.Workspace.ID)
}

func intParam(c *echo.Context, name string, def int) int {
	v := c.QueryParam(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
