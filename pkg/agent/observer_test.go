package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mykim19/debug-dashboard-core/pkg/config"
)

// startObserver runs an observer over a temp project with a short debounce
// and returns its root and event sink.
func startObserver(t *testing.T, mutate func(cfg *config.AgentConfig)) (string, chan Event) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "tests"), 0o755))

	cfg := config.DefaultConfig().Agent
	cfg.DebounceSeconds = 0.2
	if mutate != nil {
		mutate(&cfg)
	}

	o := NewObserver(root, "ws1", &cfg)
	sink := make(chan Event, 16)
	o.SetEventSink(sink)
	require.NoError(t, o.Start())
	require.True(t, o.IsRunning())
	t.Cleanup(o.Stop)

	// Let the watcher settle before producing events.
	time.Sleep(50 * time.Millisecond)
	return root, sink
}

func waitForEvent(t *testing.T, sink chan Event, timeout time.Duration) (Event, bool) {
	t.Helper()
	select {
	case ev := <-sink:
		return ev, true
	case <-time.After(timeout):
		return Event{}, false
	}
}

func write(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte("content\n"), 0o644))
}

func TestObserver_DebounceBatchAndMap(t *testing.T) {
	root, sink := startObserver(t, nil)

	// Three files touched within the debounce window → exactly one batched
	// event with the union of affected checkers.
	write(t, filepath.Join(root, "src", "app.py"))
	write(t, filepath.Join(root, "tests", "test_x.py"))
	write(t, filepath.Join(root, "requirements.txt"))

	ev, ok := waitForEvent(t, sink, 3*time.Second)
	require.True(t, ok, "expected one batched file_changed event")
	require.Equal(t, EventFileChanged, ev.Type)
	assert.Equal(t, "watcher", ev.Source)
	assert.Equal(t, "ws1", ev.WorkspaceID)

	data, ok := ev.Data.(FileChangedData)
	require.True(t, ok)
	assert.Equal(t, 3, data.FileCount)
	for _, expected := range []string{"code_quality", "security", "performance", "api_health", "dependency", "test_coverage"} {
		assert.Contains(t, data.AffectedCheckers, expected)
	}

	// No second event for the same batch.
	_, more := waitForEvent(t, sink, 400*time.Millisecond)
	assert.False(t, more, "burst must coalesce into a single event")
}

func TestObserver_SelfTriggerSuppression(t *testing.T) {
	root, sink := startObserver(t, nil)

	// Files the agent itself writes must never re-enter the observer.
	write(t, filepath.Join(root, "agent.db"))
	write(t, filepath.Join(root, "workspace.lock"))
	write(t, filepath.Join(root, "debug.log"))

	_, got := waitForEvent(t, sink, 700*time.Millisecond)
	assert.False(t, got, "self-trigger extensions must be ignored")
}

func TestObserver_IgnorePolicy(t *testing.T) {
	root, sink := startObserver(t, nil)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "pkg"), 0o755))
	time.Sleep(50 * time.Millisecond)
	write(t, filepath.Join(root, "node_modules", "pkg", "index.js")) // ignored dir
	write(t, filepath.Join(root, ".DS_Store"))                      // ignored file
	write(t, filepath.Join(root, ".hidden.py"))                     // hidden, not allowlisted
	write(t, filepath.Join(root, "binary.exe"))                     // unmapped extension

	_, got := waitForEvent(t, sink, 700*time.Millisecond)
	assert.False(t, got)

	// The .env allowlist still observes hidden files that matter.
	write(t, filepath.Join(root, ".env"))
	ev, ok := waitForEvent(t, sink, 3*time.Second)
	require.True(t, ok)
	data := ev.Data.(FileChangedData)
	assert.Contains(t, data.AffectedCheckers, "environment")
	assert.Contains(t, data.AffectedCheckers, "security")
}

func TestObserver_ConfigIgnoreMergeIsAddOnly(t *testing.T) {
	root, sink := startObserver(t, func(cfg *config.AgentConfig) {
		cfg.IgnorePatterns = []string{"generated"}
		cfg.IgnoreExtensions = []string{"tmp"} // accepted with or without the dot
	})

	require.NoError(t, os.MkdirAll(filepath.Join(root, "generated"), 0o755))
	time.Sleep(50 * time.Millisecond)
	write(t, filepath.Join(root, "generated", "out.py"))
	write(t, filepath.Join(root, "scratch.tmp"))

	_, got := waitForEvent(t, sink, 700*time.Millisecond)
	assert.False(t, got, "user-added patterns extend the builtin sets")

	// Builtins still apply: the merge added, it did not replace.
	write(t, filepath.Join(root, "store.sqlite"))
	_, got = waitForEvent(t, sink, 700*time.Millisecond)
	assert.False(t, got)
}

func TestObserver_PathKeywordRefinement(t *testing.T) {
	root, sink := startObserver(t, nil)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "migrations"), 0o755))
	time.Sleep(50 * time.Millisecond)
	write(t, filepath.Join(root, "migrations", "0002_add_users.sql"))

	ev, ok := waitForEvent(t, sink, 3*time.Second)
	require.True(t, ok)
	data := ev.Data.(FileChangedData)
	// .sql maps to database+schema_migration; the path keyword confirms it.
	assert.Contains(t, data.AffectedCheckers, "database")
	assert.Contains(t, data.AffectedCheckers, "schema_migration")
}

func TestObserver_StartStopIdempotent(t *testing.T) {
	root := t.TempDir()
	cfg := config.DefaultConfig().Agent
	o := NewObserver(root, "ws1", &cfg)
	o.SetEventSink(make(chan Event, 1))

	require.NoError(t, o.Start())
	require.NoError(t, o.Start()) // already running: no-op
	o.Stop()
	o.Stop() // already stopped: no-op
	assert.False(t, o.IsRunning())
}
