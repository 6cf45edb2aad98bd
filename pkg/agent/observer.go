package agent

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mykim19/debug-dashboard-core/pkg/config"
)

// Stage 1: extension → checkers.
var extensionCheckerMap = map[string][]string{
	".py":     {"code_quality", "security", "performance", "api_health", "dependency"},
	".sql":    {"database", "schema_migration"},
	".db":     {"database", "schema_migration"},
	".sqlite": {"database", "schema_migration"},
	".yaml":   {"config_drift", "environment"},
	".yml":    {"config_drift"},
	".env":    {"environment", "security"},
	".txt":    {"dependency"}, // requirements.txt
	".toml":   {"dependency"}, // pyproject.toml
	".cfg":    {"dependency"}, // setup.cfg
	".md":     {"skill_template"},
	".json":   {"config_drift"},
	".html":   {"code_quality"},
	".js":     {"code_quality"},
	".css":    {"code_quality"},
}

// Stage 2: path keyword → checker refinement. Matched as substrings of the
// lowercased relative path.
var pathKeywordMap = map[string][]string{
	"test":       {"test_coverage"},
	"tests":      {"test_coverage"},
	"migration":  {"schema_migration"},
	"migrations": {"schema_migration"},
	"alembic":    {"schema_migration"},
	"skills":     {"skill_template"},
	"rag":        {"rag_pipeline"},
	"agent":      {"agent_budget"},
	"whisper":    {"whisper_health"},
	"ytdlp":      {"ytdlp_pipeline"},
	"yt_dlp":     {"ytdlp_pipeline"},
	"ontology":   {"ontology_sync"},
	"knowledge":  {"knowledge_graph"},
	"golden":     {"golden_quality"},
	"citation":   {"citation_integrity"},
	"search":     {"search_index"},
	"url":        {"url_pattern"},
}

// builtinIgnoreDirs are directory names that never produce events. Includes
// the agent's own output directories to prevent self-trigger loops.
var builtinIgnoreDirs = map[string]bool{
	".git": true, "__pycache__": true, ".venv": true, "venv": true, "env": true,
	"node_modules": true, ".tox": true, "dist": true, "build": true, ".eggs": true,
	".mypy_cache": true, ".ruff_cache": true, ".pytest_cache": true,
	".ipynb_checkpoints": true, "chroma_db": true,
	".debug_dashboard": true, "debug_dashboard": true, ".debugdash": true,
}

// builtinIgnoreFiles are file names that never produce events.
var builtinIgnoreFiles = map[string]bool{
	".DS_Store": true, "Thumbs.db": true, ".gitkeep": true,
}

// selfTriggerExtensions are extensions the agent itself writes (store, lock,
// logs) plus editor noise. Changes to these must never re-enter the observer.
var selfTriggerExtensions = map[string]bool{
	".db": true, ".sqlite": true, ".sqlite3": true,
	".lock": true, ".pid": true,
	".log": true,
	".pyc": true, ".pyo": true,
	".swp": true, ".swo": true,
}

// hiddenFileAllowlist are hidden files that are still observed.
var hiddenFileAllowlist = map[string]bool{
	".env": true, ".gitignore": true, ".flake8": true,
}

// Observer watches configured subtrees of the workspace root and coalesces
// bursts of raw file events into a single batched file_changed event carrying
// the union of affected checkers.
//
// User ignore config is merged ADD-only: patterns and extensions from config
// are unioned with the builtin sets; removing a builtin is intentionally
// unsupported so the self-trigger safeguards cannot be configured away.
type Observer struct {
	projectRoot string
	workspaceID string
	debounce    time.Duration
	watchDirs   []string
	ignoreDirs  map[string]bool
	ignoreExts  map[string]bool

	sink chan<- Event

	mu      sync.Mutex
	pending map[string]FileChange
	timer   *time.Timer

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	done    chan struct{}
	running bool
}

// NewObserver creates an observer for a workspace.
func NewObserver(projectRoot, workspaceID string, cfg *config.AgentConfig) *Observer {
	o := &Observer{
		projectRoot: projectRoot,
		workspaceID: workspaceID,
		debounce:    cfg.Debounce(),
		watchDirs:   cfg.WatchDirs,
		ignoreDirs:  make(map[string]bool, len(builtinIgnoreDirs)),
		ignoreExts:  make(map[string]bool, len(selfTriggerExtensions)),
		pending:     make(map[string]FileChange),
	}
	for d := range builtinIgnoreDirs {
		o.ignoreDirs[d] = true
	}
	for e := range selfTriggerExtensions {
		o.ignoreExts[e] = true
	}
	// ADD-only merge of user config.
	for _, pat := range cfg.IgnorePatterns {
		clean := strings.Trim(strings.TrimSpace(pat), "*.")
		if clean != "" {
			o.ignoreDirs[clean] = true
		}
	}
	for _, ext := range cfg.IgnoreExtensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		o.ignoreExts[ext] = true
	}
	return o
}

// SetEventSink wires the observer's output into the agent loop's event queue.
// Must be called before Start.
func (o *Observer) SetEventSink(sink chan<- Event) { o.sink = sink }

// IsRunning reports whether the watcher is active.
func (o *Observer) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Start begins watching. Idempotent; returns nil when already running.
func (o *Observer) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	scheduled := 0
	for _, d := range o.watchDirs {
		target := filepath.Join(o.projectRoot, d)
		info, err := os.Stat(target)
		if err != nil || !info.IsDir() {
			continue
		}
		o.addRecursive(watcher, target)
		scheduled++
		slog.Info("Watching", "dir", target, "workspace_id", o.workspaceID)
	}
	if scheduled == 0 {
		_ = watcher.Close()
		slog.Warn("No valid watch directories found", "workspace_id", o.workspaceID)
		return nil
	}

	o.watcher = watcher
	o.stopCh = make(chan struct{})
	o.done = make(chan struct{})
	o.running = true
	go o.watchLoop(watcher, o.stopCh, o.done)
	slog.Info("File observer started", "dirs", scheduled, "workspace_id", o.workspaceID)
	return nil
}

// Stop shuts the watcher down, waiting up to ~3 s for the watch goroutine.
func (o *Observer) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	close(o.stopCh)
	_ = o.watcher.Close()
	if o.timer != nil {
		o.timer.Stop()
	}
	done := o.done
	o.mu.Unlock()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		slog.Warn("File observer did not stop in time", "workspace_id", o.workspaceID)
	}
	slog.Info("File observer stopped", "workspace_id", o.workspaceID)
}

// addRecursive registers root and all non-ignored subdirectories.
func (o *Observer) addRecursive(watcher *fsnotify.Watcher, root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if o.ignoreDirs[d.Name()] && path != root {
			return filepath.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			slog.Warn("Failed to watch directory", "dir", path, "error", err)
		}
		return nil
	})
}

func (o *Observer) watchLoop(watcher *fsnotify.Watcher, stopCh chan struct{}, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stopCh:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			o.handleRawEvent(watcher, ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("File watcher error", "workspace_id", o.workspaceID, "error", err)
		}
	}
}

func (o *Observer) handleRawEvent(watcher *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Op&fsnotify.Chmod != 0 {
		return
	}

	// New directories are added to the watch set but never emit events.
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !o.ignoreDirs[filepath.Base(ev.Name)] {
				o.addRecursive(watcher, ev.Name)
			}
			return
		}
	}

	if o.shouldIgnore(ev.Name) {
		return
	}

	changeType := "modified"
	switch {
	case ev.Op&fsnotify.Create != 0:
		changeType = "created"
	case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
		changeType = "deleted"
	}

	rel, err := filepath.Rel(o.projectRoot, ev.Name)
	if err != nil {
		rel = ev.Name
	}

	fc := FileChange{
		Path:         ev.Name,
		ChangeType:   changeType,
		Extension:    filepath.Ext(ev.Name),
		RelativePath: rel,
	}

	o.mu.Lock()
	o.pending[ev.Name] = fc
	if o.timer != nil {
		o.timer.Stop()
	}
	o.timer = time.AfterFunc(o.debounce, o.flush)
	o.mu.Unlock()
}

// shouldIgnore applies the union ignore policy.
func (o *Observer) shouldIgnore(path string) bool {
	name := filepath.Base(path)
	if builtinIgnoreFiles[name] {
		return true
	}
	// Hidden files are ignored except a short allowlist.
	if strings.HasPrefix(name, ".") && !hiddenFileAllowlist[name] {
		return true
	}
	rel, err := filepath.Rel(o.projectRoot, path)
	if err != nil {
		rel = path
	}
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if o.ignoreDirs[part] {
			return true
		}
	}
	ext := filepath.Ext(path)
	if o.ignoreExts[ext] {
		return true
	}
	// Unknown extensions are dropped; extensionless files may be relevant.
	if ext != "" {
		if _, mapped := extensionCheckerMap[ext]; !mapped {
			return true
		}
	}
	return false
}

// flush drains the pending map, applies the two-stage mapping, and emits one
// batched file_changed event.
func (o *Observer) flush() {
	o.mu.Lock()
	if len(o.pending) == 0 || o.sink == nil {
		o.mu.Unlock()
		return
	}
	batch := make([]FileChange, 0, len(o.pending))
	for _, fc := range o.pending {
		batch = append(batch, fc)
	}
	o.pending = make(map[string]FileChange)
	stopCh := o.stopCh
	o.mu.Unlock()

	sort.Slice(batch, func(i, j int) bool { return batch[i].RelativePath < batch[j].RelativePath })

	affected := make(map[string]bool)
	// Stage 1: extension-based.
	for _, fc := range batch {
		for _, c := range extensionCheckerMap[fc.Extension] {
			affected[c] = true
		}
	}
	// Stage 2: path-keyword refinement.
	for _, fc := range batch {
		pathLower := strings.ToLower(fc.RelativePath)
		for keyword, checkers := range pathKeywordMap {
			if strings.Contains(pathLower, keyword) {
				for _, c := range checkers {
					affected[c] = true
				}
			}
		}
	}

	names := make([]string, 0, len(affected))
	for c := range affected {
		names = append(names, c)
	}
	sort.Strings(names)

	event := NewEvent(EventFileChanged, "watcher", o.workspaceID, FileChangedData{
		Files:            batch,
		AffectedCheckers: names,
		FileCount:        len(batch),
	})

	select {
	case o.sink <- event:
		slog.Info("File change batch",
			"files", len(batch), "checkers", names, "workspace_id", o.workspaceID)
	case <-stopCh:
	}
}
