package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mykim19/debug-dashboard-core/pkg/checker"
	"github.com/mykim19/debug-dashboard-core/pkg/config"
)

// envRefPattern matches environment-variable lookups in source code across
// the ecosystems the observer watches (os.Getenv, os.environ, process.env).
var envRefPattern = regexp.MustCompile(
	`(?:os\.Getenv\(\s*"([A-Z_][A-Z0-9_]*)"` +
		`|os\.environ(?:\.get)?\s*[\[(]\s*["']([A-Z_][A-Z0-9_]*)["']` +
		`|os\.getenv\s*\(\s*["']([A-Z_][A-Z0-9_]*)["']` +
		`|process\.env\.([A-Z_][A-Z0-9_]*))`,
)

var driftSkipDirs = map[string]bool{
	"__pycache__": true, "venv": true, ".venv": true, "node_modules": true,
	".git": true, "downloads": true, "chroma_db": true, "backups": true,
	"logs": true, "dist": true, "build": true,
}

// ConfigDriftChecker compares .env keys against environment references in
// code and validates YAML config files.
type ConfigDriftChecker struct{}

func (c *ConfigDriftChecker) Name() string { return "config_drift" }

func (c *ConfigDriftChecker) Meta() checker.Meta {
	return checker.Meta{
		Name:          "config_drift",
		DisplayName:   "CONFIG SYNC",
		Description:   ".env key synchronization with code, YAML validity, and unused config detection.",
		Icon:          "⚙️",
		TooltipWhy:    "Missing env keys are a leading cause of runtime errors; unused keys are a security and maintenance burden.",
		TooltipWhat:   "Compares .env keys against env lookups in code and parses every YAML config file.",
		TooltipResult: "PASS: config in sync · WARN: unused or missing keys · FAIL: broken YAML",
	}
}

func (c *ConfigDriftChecker) DependsOn() []string { return []string{"environment"} }

func (c *ConfigDriftChecker) IsApplicable(cfg *config.Config) bool {
	return checker.Applicable("config_drift", cfg)
}

func (c *ConfigDriftChecker) Run(ctx context.Context, projectRoot string, cfg *config.Config) (*checker.PhaseReport, error) {
	report := checker.NewPhaseReport("config_drift")

	envKeys := parseEnvFile(filepath.Join(projectRoot, ".env"))
	codeRefs, err := c.scanCodeRefs(ctx, projectRoot)
	if err != nil {
		return nil, err
	}

	missing := diffSorted(codeRefs, envKeys)
	if len(missing) > 0 {
		report.Add(checker.CheckResult{
			Name:    "env_key_sync",
			Status:  checker.StatusWarn,
			Message: fmt.Sprintf("%d env keys referenced in code but missing from .env", len(missing)),
			Details: map[string]any{"rule_id": "missing_env_key", "keys": missing},
		})
	} else {
		report.Add(checker.CheckResult{Name: "env_key_sync", Status: checker.StatusPass, Message: "All referenced env keys present"})
	}

	unused := diffSorted(envKeys, codeRefs)
	if len(unused) > 0 {
		report.Add(checker.CheckResult{
			Name:    "unused_env_keys",
			Status:  checker.StatusWarn,
			Message: fmt.Sprintf("%d .env keys not referenced in code", len(unused)),
			Details: map[string]any{"rule_id": "unused_env_key", "keys": unused},
		})
	} else {
		report.Add(checker.CheckResult{Name: "unused_env_keys", Status: checker.StatusPass, Message: "No unused .env keys"})
	}

	report.Add(c.yamlValidCheck(projectRoot))
	return report, nil
}

func (c *ConfigDriftChecker) scanCodeRefs(ctx context.Context, projectRoot string) (map[string]bool, error) {
	refs := make(map[string]bool)
	err := filepath.WalkDir(projectRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if driftSkipDirs[name] || (strings.HasPrefix(name, ".") && path != projectRoot) {
				return filepath.SkipDir
			}
			return nil
		}
		switch filepath.Ext(name) {
		case ".py", ".go", ".js", ".ts":
		default:
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		for _, m := range envRefPattern.FindAllStringSubmatch(string(data), -1) {
			for _, group := range m[1:] {
				if group != "" {
					refs[group] = true
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

func (c *ConfigDriftChecker) yamlValidCheck(projectRoot string) checker.CheckResult {
	matches, _ := filepath.Glob(filepath.Join(projectRoot, "*.yaml"))
	ymls, _ := filepath.Glob(filepath.Join(projectRoot, "*.yml"))
	matches = append(matches, ymls...)
	sort.Strings(matches)

	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return checker.CheckResult{
				Name:    "yaml_valid",
				Status:  checker.StatusFail,
				Message: fmt.Sprintf("%s does not parse", filepath.Base(path)),
				Details: map[string]any{"rule_id": "broken_yaml", "file": filepath.Base(path), "snippet": err.Error()},
			}
		}
	}
	return checker.CheckResult{
		Name:    "yaml_valid",
		Status:  checker.StatusPass,
		Message: fmt.Sprintf("%d YAML files parse", len(matches)),
	}
}

func (c *ConfigDriftChecker) Fix(_ context.Context, _, _ string, _ *config.Config) checker.FixResult {
	return checker.FixResult{Message: "No auto-fix available for this check"}
}

// parseEnvFile returns the key set of a dotenv file; a missing file yields an
// empty set.
func parseEnvFile(path string) map[string]bool {
	keys := make(map[string]bool)
	data, err := os.ReadFile(path)
	if err != nil {
		return keys
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, _, ok := strings.Cut(line, "=")
		if ok && strings.TrimSpace(key) != "" {
			keys[strings.TrimSpace(key)] = true
		}
	}
	return keys
}

// diffSorted returns the keys of a not present in b, sorted.
func diffSorted(a, b map[string]bool) []string {
	var out []string
	for k := range a {
		if !b[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
