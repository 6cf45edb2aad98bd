package builtin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mykim19/debug-dashboard-core/pkg/checker"
	"github.com/mykim19/debug-dashboard-core/pkg/config"
)

func findCheck(t *testing.T, report *checker.PhaseReport, name string) checker.CheckResult {
	t.Helper()
	for _, c := range report.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("check %q not in report %v", name, report.Checks)
	return checker.CheckResult{}
}

func TestAll_NamesAndDependencies(t *testing.T) {
	checkers := All()
	require.Len(t, checkers, 3)

	names := make([]string, 0, len(checkers))
	for _, c := range checkers {
		names = append(names, c.Name())
		assert.Equal(t, c.Name(), c.Meta().Name)
	}
	assert.Equal(t, []string{"environment", "dependency", "config_drift"}, names)
}

func TestEnvironment_EnvFileAndKeys(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{Checks: map[string]config.CheckConfig{
		"environment": {Options: map[string]any{
			"required_keys": []any{"DD_TEST_PRESENT", "DD_TEST_MISSING"},
		}},
	}}
	t.Setenv("DD_TEST_PRESENT", "yes")
	os.Unsetenv("DD_TEST_MISSING")

	c := &EnvironmentChecker{}
	report, err := c.Run(context.Background(), root, cfg)
	require.NoError(t, err)

	assert.Equal(t, checker.StatusPass, findCheck(t, report, "env_DD_TEST_PRESENT").Status)
	assert.Equal(t, checker.StatusFail, findCheck(t, report, "env_DD_TEST_MISSING").Status)

	envFile := findCheck(t, report, "env_file")
	assert.Equal(t, checker.StatusWarn, envFile.Status)
	assert.True(t, envFile.Fixable)

	// The safe fix creates a placeholder .env; running again passes.
	fix := c.Fix(context.Background(), "env_file", root, cfg)
	assert.True(t, fix.Success)
	report, err = c.Run(context.Background(), root, cfg)
	require.NoError(t, err)
	assert.Equal(t, checker.StatusPass, findCheck(t, report, "env_file").Status)
}

func TestDependency_NoManifestFails(t *testing.T) {
	c := &DependencyChecker{}
	report, err := c.Run(context.Background(), t.TempDir(), nil)
	require.NoError(t, err)

	manifest := findCheck(t, report, "manifest_present")
	assert.Equal(t, checker.StatusFail, manifest.Status)
	assert.Equal(t, 1, report.FailCount())
}

func TestDependency_DuplicateAndUnpinnedRequirements(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "requirements.txt"),
		[]byte("flask==3.0.0\nrequests\nflask==2.0.0\n"), 0o644))

	c := &DependencyChecker{}
	report, err := c.Run(context.Background(), root, nil)
	require.NoError(t, err)

	assert.Equal(t, checker.StatusPass, findCheck(t, report, "manifest_present").Status)
	parse := findCheck(t, report, "requirements_parse")
	assert.Equal(t, checker.StatusWarn, parse.Status)
	assert.Contains(t, parse.Message, "flask")
}

func TestDependency_StaleLockfile(t *testing.T) {
	root := t.TempDir()
	lock := filepath.Join(root, "go.sum")
	manifest := filepath.Join(root, "go.mod")
	require.NoError(t, os.WriteFile(lock, []byte(""), 0o644))
	require.NoError(t, os.WriteFile(manifest, []byte("module demo\n"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(lock, old, old))

	c := &DependencyChecker{}
	report, err := c.Run(context.Background(), root, nil)
	require.NoError(t, err)

	stale := findCheck(t, report, "lockfile_fresh")
	assert.Equal(t, checker.StatusWarn, stale.Status)
	assert.Contains(t, stale.Message, "go.sum")
}

func TestConfigDrift_EnvKeySync(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"),
		[]byte("USED_KEY=1\nUNUSED_KEY=2\n# comment\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.go"),
		[]byte("package main\nvar _ = os.Getenv(\"USED_KEY\")\nvar _ = os.Getenv(\"MISSING_KEY\")\n"), 0o644))

	c := &ConfigDriftChecker{}
	report, err := c.Run(context.Background(), root, nil)
	require.NoError(t, err)

	sync := findCheck(t, report, "env_key_sync")
	assert.Equal(t, checker.StatusWarn, sync.Status)
	assert.Equal(t, []string{"MISSING_KEY"}, sync.Details["keys"])

	unused := findCheck(t, report, "unused_env_keys")
	assert.Equal(t, checker.StatusWarn, unused.Status)
	assert.Equal(t, []string{"UNUSED_KEY"}, unused.Details["keys"])
}

func TestConfigDrift_BrokenYAMLFails(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "settings.yaml"),
		[]byte("key: [unclosed\n"), 0o644))

	c := &ConfigDriftChecker{}
	report, err := c.Run(context.Background(), root, nil)
	require.NoError(t, err)

	yamlCheck := findCheck(t, report, "yaml_valid")
	assert.Equal(t, checker.StatusFail, yamlCheck.Status)
	assert.Equal(t, "settings.yaml", yamlCheck.Details["file"])
}
