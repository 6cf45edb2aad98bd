package api

import (
	"net/http"
	"os"

	echo "github.com/labstack/echo/v5"

	"github.com/mykim19/debug-dashboard-core/pkg/workspace"
)

// llmKeyEnv maps provider names accepted by POST /api/llm/key to the
// environment variable the provider SDK reads. Keys are held in process
// memory only; they are never persisted to disk.
var llmKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
	"deepseek":  "DEEPSEEK_API_KEY",
}

// addWorkspaceRequest is the body of POST /api/workspaces.
type addWorkspaceRequest struct {
	ConfigPath string `json:"config_path"`
}

// llmKeyRequest is the body of POST /api/llm/key.
type llmKeyRequest struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
}

// listWorkspacesHandler handles GET /api/workspaces.
func (s *Server) listWorkspacesHandler(c *echo.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]map[string]any, 0)
	for _, ws := range s.workspaces.All() {
		entry := map[string]any{
			"id":          ws.ID,
			"name":        ws.Name,
			"root":        ws.Root,
			"checkers":    ws.CheckerNames,
			"load_errors": ws.LoadErrors(),
		}
		if h, ok := s.agents[ws.ID]; ok {
			entry["agent_state"] = h.Loop.State()
		}
		out = append(out, entry)
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "data": out})
}

// addWorkspaceHandler handles POST /api/workspaces: loads the workspace,
// builds its agent, and records it in the persisted registry so it survives
// restart. Auto-starts the agent when configured to.
func (s *Server) addWorkspaceHandler(c *echo.Context) error {
	var req addWorkspaceRequest
	if err := c.Bind(&req); err != nil || req.ConfigPath == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "config_path is required")
	}

	ws, err := workspace.Load(req.ConfigPath)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if _, exists := s.workspaces.Get(ws.ID); exists {
		return echo.NewHTTPError(http.StatusConflict, "workspace already registered")
	}

	handle, err := s.buildAgent(ws)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := s.workspaces.Add(ws, true); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	s.RegisterAgent(ws.ID, handle)

	started := false
	if ws.Config.Agent.IsEnabled() && ws.Config.Agent.IsAutoStart() {
		started = handle.Loop.Start()
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":      true,
		"workspace_id": ws.ID,
		"name":         ws.Name,
		"checkers":     ws.CheckerNames,
		"load_errors":  ws.LoadErrors(),
		"started":      started,
	})
}

// setLLMKeyHandler handles POST /api/llm/key. The key is exported to the
// process environment for the provider SDK and never written to disk.
func (s *Server) setLLMKeyHandler(c *echo.Context) error {
	var req llmKeyRequest
	if err := c.Bind(&req); err != nil || req.Provider == "" || req.APIKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "provider and api_key are required")
	}
	envKey, ok := llmKeyEnv[req.Provider]
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown provider: "+req.Provider)
	}
	if err := os.Setenv(envKey, req.APIKey); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"success": true, "provider": req.Provider})
}
