// Package workspace models configured projects: identity (a stable
// fingerprint of the config path), per-workspace checker discovery, and the
// registry of active workspaces.
package workspace

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path/filepath"

	"github.com/mykim19/debug-dashboard-core/pkg/checker"
	"github.com/mykim19/debug-dashboard-core/pkg/checker/builtin"
	"github.com/mykim19/debug-dashboard-core/pkg/config"
)

// Fingerprint derives the stable 10-hex workspace id from the canonical
// config path. The id survives restarts and renames of the project itself —
// it changes only when the config file moves.
func Fingerprint(configPath string) string {
	abs, err := filepath.Abs(configPath)
	if err != nil {
		abs = configPath
	}
	sum := sha1.Sum([]byte(abs))
	return hex.EncodeToString(sum[:])[:10]
}

// Workspace is one configured project: its identity, resolved config, and
// the ordered set of enabled checkers.
type Workspace struct {
	ID         string
	Name       string
	Root       string
	ConfigPath string
	Config     *config.Config

	Checkers     *checker.Registry
	CheckerNames []string // enabled, in registration order
}

// Load builds a workspace from its config file: loads and validates the
// config, discovers checkers (builtin set plus plugin directories), and
// filters to the enabled set. Plugin load failures are recorded on the
// checker registry and never abort the load; a config error does.
func Load(configPath string) (*Workspace, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("workspace %s: %w", configPath, err)
	}

	registry := checker.NewRegistry(builtin.All()...)
	if len(cfg.PluginDirs) > 0 {
		dirs := make([]string, 0, len(cfg.PluginDirs))
		configDir := filepath.Dir(configPath)
		for _, d := range cfg.PluginDirs {
			if !filepath.IsAbs(d) {
				d = filepath.Join(configDir, d)
			}
			dirs = append(dirs, d)
		}
		registry.LoadPluginDirs(dirs)
	}

	var enabled []string
	for _, name := range registry.Names() {
		c, _ := registry.Get(name)
		if c.IsApplicable(cfg) {
			enabled = append(enabled, name)
		}
	}

	return &Workspace{
		ID:           Fingerprint(configPath),
		Name:         cfg.Project.Name,
		Root:         cfg.Project.Root,
		ConfigPath:   configPath,
		Config:       cfg,
		Checkers:     registry,
		CheckerNames: enabled,
	}, nil
}

// EnabledCheckers returns the name→checker map for the enabled set.
func (w *Workspace) EnabledCheckers() map[string]checker.Checker {
	out := make(map[string]checker.Checker, len(w.CheckerNames))
	for _, name := range w.CheckerNames {
		if c, ok := w.Checkers.Get(name); ok {
			out[name] = c
		}
	}
	return out
}

// LoadErrors surfaces checker plugin load failures for the UI.
func (w *Workspace) LoadErrors() []checker.LoadError {
	return w.Checkers.LoadErrors()
}

// Close terminates the workspace's checker plugins.
func (w *Workspace) Close() {
	w.Checkers.Close()
}
