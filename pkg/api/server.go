// Package api provides the HTTP/JSON API and SSE stream for the diagnostic
// agent.
package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mykim19/debug-dashboard-core/pkg/agent"
	"github.com/mykim19/debug-dashboard-core/pkg/config"
	"github.com/mykim19/debug-dashboard-core/pkg/events"
	"github.com/mykim19/debug-dashboard-core/pkg/llm"
	"github.com/mykim19/debug-dashboard-core/pkg/storage"
	"github.com/mykim19/debug-dashboard-core/pkg/version"
	"github.com/mykim19/debug-dashboard-core/pkg/workspace"
)

// workspaceCookie is the cookie the dashboard sets to pin the current
// workspace. Requests may instead pass an explicit workspace_id query param.
const workspaceCookie = "dd_workspace"

// AgentHandle bundles one workspace's agent components for request routing.
// LLM is nil when Tier 2 is disabled.
type AgentHandle struct {
	Workspace *workspace.Workspace
	Config    *config.Config
	Loop      *agent.Loop
	Emitter   *events.Emitter
	LLM       *llm.Router
}

// AgentBuilder constructs the agent components for a workspace added at
// runtime. Provided by the composition root (cmd).
type AgentBuilder func(ws *workspace.Workspace) (*AgentHandle, error)

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server
	store      *storage.Store
	workspaces *workspace.Registry
	buildAgent AgentBuilder

	mu     sync.RWMutex
	agents map[string]*AgentHandle
}

// NewServer creates the API server with all routes registered.
func NewServer(store *storage.Store, workspaces *workspace.Registry, buildAgent AgentBuilder) *Server {
	s := &Server{
		echo:       echo.New(),
		store:      store,
		workspaces: workspaces,
		buildAgent: buildAgent,
		agents:     make(map[string]*AgentHandle),
	}
	s.setupRoutes()
	return s
}

// RegisterAgent makes a workspace's agent reachable through the API.
func (s *Server) RegisterAgent(workspaceID string, h *AgentHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[workspaceID] = h
}

// Agents returns a snapshot of registered agent handles.
func (s *Server) Agents() []*AgentHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AgentHandle, 0, len(s.agents))
	for _, h := range s.agents {
		out = append(out, h)
	}
	return out
}

func (s *Server) setupRoutes() {
	// Request bodies are tiny (checker lists, config paths); reject anything
	// bulky at the HTTP read level.
	s.echo.Use(middleware.BodyLimit(1 * 1024 * 1024))
	s.echo.Use(securityHeaders())

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")

	ag := api.Group("/agent")
	ag.GET("/status", s.agentStatusHandler)
	ag.POST("/start", s.agentStartHandler)
	ag.POST("/stop", s.agentStopHandler)
	ag.POST("/scan", s.agentScanHandler)
	ag.POST("/analyze", s.agentAnalyzeHandler)
	ag.GET("/events", s.agentEventsHandler)
	ag.GET("/history", s.agentHistoryHandler)
	ag.GET("/analyses", s.agentAnalysesHandler)
	ag.GET("/cost", s.agentCostHandler)

	api.GET("/scan/latest", s.scanLatestHandler)
	api.GET("/scan/history", s.scanHistoryHandler)

	api.GET("/workspaces", s.listWorkspacesHandler)
	api.POST("/workspaces", s.addWorkspaceHandler)

	api.POST("/llm/key", s.setLLMKeyHandler)
}

// resolveAgent finds the agent for the request's workspace: explicit
// workspace_id query param, then the dashboard cookie, then the first
// registered agent. Returns nil when no agent exists at all.
func (s *Server) resolveAgent(c *echo.Context) (*AgentHandle, string) {
	wsID := c.QueryParam("workspace_id")
	if wsID == "" {
		if cookie, err := c.Cookie(workspaceCookie); err == nil {
			wsID = cookie.Value
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if wsID != "" {
		if h, ok := s.agents[wsID]; ok {
			return h, wsID
		}
	}
	for _, ws := range s.workspaces.All() {
		if h, ok := s.agents[ws.ID]; ok {
			return h, ws.ID
		}
	}
	return nil, ""
}

// Start serves on addr, blocking until shutdown.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on a pre-created listener. Used by tests to bind
// a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler reports process, store, and per-agent health.
func (s *Server) healthHandler(c *echo.Context) error {
	reqCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := s.store.Health(reqCtx)
	status := http.StatusOK
	overall := "healthy"
	if err != nil {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}

	return c.JSON(status, map[string]any{
		"status":     overall,
		"version":    version.Full(),
		"database":   dbHealth,
		"workspaces": len(s.workspaces.All()),
	})
}

// securityHeaders sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			return next(c)
		}
	}
}
