// debugdash runs the per-workspace autonomous diagnostic agent and its
// HTTP/SSE API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mykim19/debug-dashboard-core/pkg/agent"
	"github.com/mykim19/debug-dashboard-core/pkg/api"
	"github.com/mykim19/debug-dashboard-core/pkg/events"
	"github.com/mykim19/debug-dashboard-core/pkg/llm"
	"github.com/mykim19/debug-dashboard-core/pkg/storage"
	"github.com/mykim19/debug-dashboard-core/pkg/version"
	"github.com/mykim19/debug-dashboard-core/pkg/workspace"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".debug_dashboard"
	}
	return filepath.Join(home, ".debug_dashboard")
}

func main() {
	configPath := flag.String("config", getEnv("DD_CONFIG", "./debugdash.yaml"), "Path to the primary workspace config")
	addr := flag.String("addr", getEnv("DD_ADDR", ":8350"), "HTTP listen address")
	stateDir := flag.String("state-dir", getEnv("DD_STATE_DIR", defaultStateDir()), "Host-local state directory (store, locks, registry)")
	logLevel := flag.String("log-level", getEnv("DD_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	flag.Parse()

	setupLogging(*logLevel)

	// Load .env next to the primary config; missing files are fine.
	envPath := filepath.Join(filepath.Dir(*configPath), ".env")
	if err := godotenv.Load(envPath); err == nil {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting debugdash", "version", version.Full(), "addr", *addr, "state_dir", *stateDir)

	ctx := context.Background()

	store, err := storage.Open(ctx, filepath.Join(*stateDir, "debug_dashboard.db"))
	if err != nil {
		slog.Error("Failed to open durable store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Error closing store", "error", err)
		}
	}()

	registry := workspace.NewRegistry(*stateDir)

	// Primary workspace. A config error is rejected with a readable message;
	// startup continues so persisted workspaces still come up.
	if ws, err := workspace.Load(*configPath); err != nil {
		slog.Error("Primary workspace rejected", "config", *configPath, "error", err)
	} else if err := registry.Add(ws, false); err != nil {
		slog.Error("Failed to register primary workspace", "error", err)
	}
	registry.LoadPersisted()

	buildAgent := func(ws *workspace.Workspace) (*api.AgentHandle, error) {
		return buildWorkspaceAgent(ws, store, *stateDir)
	}

	server := api.NewServer(store, registry, buildAgent)

	for _, ws := range registry.All() {
		handle, err := buildAgent(ws)
		if err != nil {
			slog.Error("Failed to build agent", "workspace_id", ws.ID, "error", err)
			continue
		}
		server.RegisterAgent(ws.ID, handle)
		slog.Info("Workspace ready",
			"workspace_id", ws.ID, "name", ws.Name, "checkers", len(ws.CheckerNames),
			"load_errors", len(ws.LoadErrors()))

		if ws.Config.Agent.IsEnabled() && ws.Config.Agent.IsAutoStart() {
			if handle.Loop.Start() {
				slog.Info("Agent auto-started", "workspace_id", ws.ID)
			}
		}
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(*addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Shutting down", "signal", sig.String())
	case err := <-errCh:
		slog.Error("HTTP server failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown error", "error", err)
	}

	// Stop agents (releases singleton locks) and terminate checker plugins.
	for _, handle := range server.Agents() {
		handle.Loop.Stop()
		handle.Workspace.Close()
	}
	slog.Info("debugdash stopped")
}

// buildWorkspaceAgent wires one workspace's agent pipeline: memory, emitter,
// dependency graph, reasoner, executor (with the LLM router when a model is
// configured), observer, singleton lock, and the loop itself.
func buildWorkspaceAgent(ws *workspace.Workspace, store *storage.Store, stateDir string) (*api.AgentHandle, error) {
	cfg := ws.Config

	memory := agent.NewMemory(ws.ID, 0)
	emitter := events.NewEmitter(ws.ID, memory, store)

	graph := agent.NewDependencyGraph(nil)
	for name, c := range ws.EnabledCheckers() {
		graph.AddFromChecker(name, c.DependsOn())
	}

	var router *llm.Router
	var provider agent.LLMProvider
	if cfg.LLM.Model != "" {
		router = llm.NewRouter(cfg.LLM)
		provider = router
	}

	executor := agent.NewExecutor(ws.EnabledCheckers(), ws.Root, cfg, graph, provider, memory, ws.ID)
	reasoner := agent.NewReasoner(&cfg.Agent, ws.CheckerNames)
	observer := agent.NewObserver(ws.Root, ws.ID, &cfg.Agent)
	lock := agent.NewSingletonLock(ws.ID, filepath.Join(stateDir, "locks"), cfg.Agent.SingletonMaxAge())

	loop := agent.NewLoop(cfg, ws.ID, memory, reasoner, executor, observer, emitter, store, lock)

	return &api.AgentHandle{
		Workspace: ws,
		Config:    cfg,
		Loop:      loop,
		Emitter:   emitter,
		LLM:       router,
	}, nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
