package checker

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// LoadError records a plugin that failed to load. Surfaced to the UI; load
// failures never abort startup.
type LoadError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

// Registry holds the checkers available to one workspace: the builtin set
// plus any checkers discovered from plugin directories.
type Registry struct {
	mu         sync.RWMutex
	checkers   map[string]Checker
	order      []string
	loadErrors []LoadError
	closers    []func()
}

// NewRegistry creates a registry pre-populated with the given builtin
// checkers. A later registration under an existing name replaces it.
func NewRegistry(builtins ...Checker) *Registry {
	r := &Registry{checkers: make(map[string]Checker)}
	for _, c := range builtins {
		r.Register(c)
	}
	return r
}

// Register adds a checker to the registry.
func (r *Registry) Register(c Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := c.Name()
	if name == "" {
		return
	}
	if _, exists := r.checkers[name]; !exists {
		r.order = append(r.order, name)
	}
	r.checkers[name] = c
}

// Get returns the checker registered under name.
func (r *Registry) Get(name string) (Checker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.checkers[name]
	return c, ok
}

// Names returns checker names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns a copy of the name→checker map.
func (r *Registry) All() map[string]Checker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Checker, len(r.checkers))
	for k, v := range r.checkers {
		out[k] = v
	}
	return out
}

// LoadErrors returns plugin load failures recorded by LoadPluginDirs.
func (r *Registry) LoadErrors() []LoadError {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LoadError, len(r.loadErrors))
	copy(out, r.loadErrors)
	return out
}

// LoadPluginDirs scans each directory for checker plugin executables and
// registers every checker they serve. Failures are recorded per file and
// logged; they never abort startup.
func (r *Registry) LoadPluginDirs(dirs []string) {
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			r.recordLoadError(dir, fmt.Errorf("reading plugin dir: %w", err))
			continue
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		sort.Strings(names)
		for _, name := range names {
			path := filepath.Join(dir, name)
			info, err := os.Stat(path)
			if err != nil || info.IsDir() || info.Mode()&0o111 == 0 {
				continue
			}
			c, closer, err := openPluginChecker(path)
			if err != nil {
				r.recordLoadError(path, err)
				continue
			}
			r.Register(c)
			r.mu.Lock()
			r.closers = append(r.closers, closer)
			r.mu.Unlock()
			slog.Info("Loaded checker plugin", "file", path, "checker", c.Name())
		}
	}
}

// Close terminates all plugin subprocesses.
func (r *Registry) Close() {
	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()
	for _, c := range closers {
		c()
	}
}

func (r *Registry) recordLoadError(file string, err error) {
	slog.Warn("Checker plugin load failed", "file", file, "error", err)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadErrors = append(r.loadErrors, LoadError{File: file, Error: err.Error()})
}
