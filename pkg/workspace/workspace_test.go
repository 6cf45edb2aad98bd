package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeWorkspaceConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "debugdash.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("/srv/demo/debugdash.yaml")
	assert.Len(t, fp, 10)
	// Stable across calls, distinct across paths.
	assert.Equal(t, fp, Fingerprint("/srv/demo/debugdash.yaml"))
	assert.NotEqual(t, fp, Fingerprint("/srv/other/debugdash.yaml"))
}

func TestLoad_BuiltinCheckersEnabled(t *testing.T) {
	path := writeWorkspaceConfig(t, t.TempDir(), "project:\n  name: demo\n")

	ws, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, Fingerprint(path), ws.ID)
	assert.Equal(t, "demo", ws.Name)
	assert.Equal(t, []string{"environment", "dependency", "config_drift"}, ws.CheckerNames)
	assert.Len(t, ws.EnabledCheckers(), 3)
	assert.Empty(t, ws.LoadErrors())
}

func TestLoad_DisabledCheckerExcluded(t *testing.T) {
	path := writeWorkspaceConfig(t, t.TempDir(), `
project:
  name: demo
checks:
  dependency:
    enabled: false
`)

	ws, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"environment", "config_drift"}, ws.CheckerNames)
	_, ok := ws.EnabledCheckers()["dependency"]
	assert.False(t, ok)
}

func TestLoad_BadConfigRejected(t *testing.T) {
	path := writeWorkspaceConfig(t, t.TempDir(), "project:\n  root: /not/here\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)
}

func TestLoad_PluginDirFailureDoesNotAbort(t *testing.T) {
	path := writeWorkspaceConfig(t, t.TempDir(), `
project:
  name: demo
plugin_dirs:
  - ./does-not-exist
`)

	ws, err := Load(path)
	require.NoError(t, err)
	require.Len(t, ws.LoadErrors(), 1)
	assert.NotEmpty(t, ws.LoadErrors()[0].Error)
	// Builtins remain available.
	assert.Len(t, ws.CheckerNames, 3)
}

func TestRegistry_AddGetFirst(t *testing.T) {
	reg := NewRegistry(t.TempDir())

	wsA, err := Load(writeWorkspaceConfig(t, t.TempDir(), "project:\n  name: a\n"))
	require.NoError(t, err)
	wsB, err := Load(writeWorkspaceConfig(t, t.TempDir(), "project:\n  name: b\n"))
	require.NoError(t, err)

	require.NoError(t, reg.Add(wsA, false))
	require.NoError(t, reg.Add(wsB, false))

	got, ok := reg.Get(wsB.ID)
	require.True(t, ok)
	assert.Equal(t, "b", got.Name)
	assert.Equal(t, wsA.ID, reg.First().ID)
	assert.Len(t, reg.All(), 2)
}

func TestRegistry_PersistedExtrasSurviveRestart(t *testing.T) {
	stateDir := t.TempDir()

	primary, err := Load(writeWorkspaceConfig(t, t.TempDir(), "project:\n  name: primary\n"))
	require.NoError(t, err)
	extraPath := writeWorkspaceConfig(t, t.TempDir(), "project:\n  name: extra\n")
	extra, err := Load(extraPath)
	require.NoError(t, err)

	reg := NewRegistry(stateDir)
	require.NoError(t, reg.Add(primary, false))
	require.NoError(t, reg.Add(extra, true))

	// Simulated restart: a fresh registry with the same primary reloads the
	// persisted extra.
	reg2 := NewRegistry(stateDir)
	require.NoError(t, reg2.Add(primary, false))
	reg2.LoadPersisted()

	restored, ok := reg2.Get(extra.ID)
	require.True(t, ok)
	assert.Equal(t, "extra", restored.Name)
	assert.Equal(t, extraPath, restored.ConfigPath)
}

func TestRegistry_LoadPersistedSkipsBrokenWorkspace(t *testing.T) {
	stateDir := t.TempDir()

	extraDir := t.TempDir()
	extraPath := writeWorkspaceConfig(t, extraDir, "project:\n  name: extra\n")
	extra, err := Load(extraPath)
	require.NoError(t, err)

	reg := NewRegistry(stateDir)
	primary, err := Load(writeWorkspaceConfig(t, t.TempDir(), "project:\n  name: primary\n"))
	require.NoError(t, err)
	require.NoError(t, reg.Add(primary, false))
	require.NoError(t, reg.Add(extra, true))

	// Break the persisted workspace's config, then restart.
	require.NoError(t, os.WriteFile(extraPath, []byte("project:\n  root: /gone\n"), 0o644))

	reg2 := NewRegistry(stateDir)
	require.NoError(t, reg2.Add(primary, false))
	reg2.LoadPersisted()

	// Startup continued without the broken workspace.
	_, ok := reg2.Get(extra.ID)
	assert.False(t, ok)
	assert.Len(t, reg2.All(), 1)
}
