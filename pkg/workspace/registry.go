package workspace

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// registryFileName holds the persisted extra-workspace list inside the state
// directory. The primary workspace is given at process start and is not
// recorded here.
const registryFileName = "workspaces.json"

// persistedRegistry is the on-disk shape of the extras registry.
type persistedRegistry struct {
	Workspaces []persistedWorkspace `json:"workspaces"`
}

type persistedWorkspace struct {
	ConfigPath string `json:"config_path"`
}

// Registry tracks active workspaces by id. Extra workspaces added at runtime
// are persisted so they survive restart.
type Registry struct {
	stateDir string

	mu         sync.RWMutex
	order      []string
	workspaces map[string]*Workspace
}

// NewRegistry creates a registry persisting extras under stateDir.
func NewRegistry(stateDir string) *Registry {
	return &Registry{
		stateDir:   stateDir,
		workspaces: make(map[string]*Workspace),
	}
}

// Add registers a workspace. When persist is true the workspace's config
// path is recorded in the extras registry file.
func (r *Registry) Add(ws *Workspace, persist bool) error {
	r.mu.Lock()
	if _, exists := r.workspaces[ws.ID]; !exists {
		r.order = append(r.order, ws.ID)
	}
	r.workspaces[ws.ID] = ws
	r.mu.Unlock()

	if persist {
		return r.persistExtras()
	}
	return nil
}

// Get returns the workspace with the given id.
func (r *Registry) Get(id string) (*Workspace, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ws, ok := r.workspaces[id]
	return ws, ok
}

// First returns the first registered workspace, or nil when empty. Used as
// the fallback when a request names no workspace.
func (r *Registry) First() *Workspace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.order) == 0 {
		return nil
	}
	return r.workspaces[r.order[0]]
}

// All returns the workspaces in registration order.
func (r *Registry) All() []*Workspace {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Workspace, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.workspaces[id])
	}
	return out
}

// LoadPersisted loads the extras registry and re-adds each recorded
// workspace. Load failures are logged per workspace; startup continues for
// the rest.
func (r *Registry) LoadPersisted() {
	data, err := os.ReadFile(r.registryPath())
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("Failed to read workspace registry", "error", err)
		}
		return
	}
	var persisted persistedRegistry
	if err := json.Unmarshal(data, &persisted); err != nil {
		slog.Warn("Malformed workspace registry, ignoring", "error", err)
		return
	}
	for _, p := range persisted.Workspaces {
		ws, err := Load(p.ConfigPath)
		if err != nil {
			slog.Warn("Failed to load persisted workspace",
				"config_path", p.ConfigPath, "error", err)
			continue
		}
		if err := r.Add(ws, false); err != nil {
			slog.Warn("Failed to register persisted workspace",
				"workspace_id", ws.ID, "error", err)
		}
	}
}

// persistExtras writes every workspace except the first (the primary, which
// is supplied at process start) to the registry file.
func (r *Registry) persistExtras() error {
	r.mu.RLock()
	persisted := persistedRegistry{Workspaces: []persistedWorkspace{}}
	for i, id := range r.order {
		if i == 0 {
			continue
		}
		persisted.Workspaces = append(persisted.Workspaces, persistedWorkspace{
			ConfigPath: r.workspaces[id].ConfigPath,
		})
	}
	r.mu.RUnlock()

	if err := os.MkdirAll(r.stateDir, 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	data, err := json.MarshalIndent(persisted, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding workspace registry: %w", err)
	}
	if err := os.WriteFile(r.registryPath(), data, 0o644); err != nil {
		return fmt.Errorf("writing workspace registry: %w", err)
	}
	return nil
}

func (r *Registry) registryPath() string {
	return filepath.Join(r.stateDir, registryFileName)
}
