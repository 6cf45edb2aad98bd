package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mykim19/debug-dashboard-core/pkg/checker"
	"github.com/mykim19/debug-dashboard-core/pkg/config"
)

// manifestFiles are the dependency manifests recognized across ecosystems.
var manifestFiles = []string{"requirements.txt", "pyproject.toml", "go.mod", "package.json"}

// DependencyChecker verifies that dependency manifests exist and are sane:
// at least one manifest present, no empty/duplicate requirement lines, and
// lockfiles not older than their manifest.
type DependencyChecker struct{}

func (c *DependencyChecker) Name() string { return "dependency" }

func (c *DependencyChecker) Meta() checker.Meta {
	return checker.Meta{
		Name:          "dependency",
		DisplayName:   "DEPENDENCY",
		Description:   "Dependency manifest presence, duplicate requirement detection, and lockfile freshness.",
		Icon:          "📦",
		TooltipWhy:    "Broken or drifted manifests cause irreproducible builds and runtime import errors.",
		TooltipWhat:   "Parses requirements.txt / pyproject.toml / go.mod / package.json and compares lockfile timestamps.",
		TooltipResult: "PASS: manifests consistent · WARN: drift or duplicates · FAIL: no manifest found",
	}
}

func (c *DependencyChecker) DependsOn() []string { return []string{"environment"} }

func (c *DependencyChecker) IsApplicable(cfg *config.Config) bool {
	return checker.Applicable("dependency", cfg)
}

func (c *DependencyChecker) Run(_ context.Context, projectRoot string, _ *config.Config) (*checker.PhaseReport, error) {
	report := checker.NewPhaseReport("dependency")

	found := []string{}
	for _, m := range manifestFiles {
		if _, err := os.Stat(filepath.Join(projectRoot, m)); err == nil {
			found = append(found, m)
		}
	}
	if len(found) == 0 {
		report.Add(checker.CheckResult{
			Name:    "manifest_present",
			Status:  checker.StatusFail,
			Message: "No dependency manifest found",
			Details: map[string]any{"rule_id": "no_manifest", "looked_for": manifestFiles},
		})
		return report, nil
	}
	report.Add(checker.CheckResult{
		Name:    "manifest_present",
		Status:  checker.StatusPass,
		Message: strings.Join(found, ", "),
	})

	if slices.Contains(found, "requirements.txt") {
		report.Add(c.requirementsCheck(projectRoot))
	}

	report.Add(c.lockfileCheck(projectRoot, found))
	return report, nil
}

// requirementsCheck flags duplicate and unpinned entries in requirements.txt.
func (c *DependencyChecker) requirementsCheck(projectRoot string) checker.CheckResult {
	path := filepath.Join(projectRoot, "requirements.txt")
	data, err := os.ReadFile(path)
	if err != nil {
		return checker.CheckResult{Name: "requirements_parse", Status: checker.StatusWarn, Message: err.Error()}
	}

	seen := map[string]int{}
	unpinned := []string{}
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "-") {
			continue
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return strings.ContainsRune("=<>!~[; ", r)
		})
		if len(fields) == 0 {
			continue
		}
		name := strings.ToLower(fields[0])
		if prev, dup := seen[name]; dup {
			return checker.CheckResult{
				Name:    "requirements_parse",
				Status:  checker.StatusWarn,
				Message: fmt.Sprintf("Duplicate requirement %q", name),
				Details: map[string]any{
					"rule_id":    "duplicate_requirement",
					"file":       "requirements.txt",
					"line_start": prev + 1,
					"line_end":   i + 1,
				},
			}
		}
		seen[name] = i
		if !strings.ContainsAny(line, "=<>~") {
			unpinned = append(unpinned, name)
		}
	}

	if len(unpinned) > 0 {
		return checker.CheckResult{
			Name:    "requirements_parse",
			Status:  checker.StatusWarn,
			Message: fmt.Sprintf("%d unpinned requirements", len(unpinned)),
			Details: map[string]any{"rule_id": "unpinned_requirement", "packages": unpinned},
		}
	}
	return checker.CheckResult{
		Name:    "requirements_parse",
		Status:  checker.StatusPass,
		Message: fmt.Sprintf("%d requirements, all pinned", len(seen)),
	}
}

// lockfileCheck warns when a lockfile is older than its manifest.
func (c *DependencyChecker) lockfileCheck(projectRoot string, found []string) checker.CheckResult {
	pairs := []struct{ manifest, lock string }{
		{"go.mod", "go.sum"},
		{"package.json", "package-lock.json"},
		{"pyproject.toml", "poetry.lock"},
	}
	for _, p := range pairs {
		manifest, lock := p.manifest, p.lock
		if !slices.Contains(found, manifest) {
			continue
		}
		mInfo, err := os.Stat(filepath.Join(projectRoot, manifest))
		if err != nil {
			continue
		}
		lInfo, err := os.Stat(filepath.Join(projectRoot, lock))
		if err != nil {
			continue
		}
		if lInfo.ModTime().Before(mInfo.ModTime()) {
			return checker.CheckResult{
				Name:    "lockfile_fresh",
				Status:  checker.StatusWarn,
				Message: fmt.Sprintf("%s is older than %s", lock, manifest),
				Details: map[string]any{"rule_id": "stale_lockfile", "file": lock},
			}
		}
	}
	return checker.CheckResult{Name: "lockfile_fresh", Status: checker.StatusPass, Message: "Lockfiles up to date"}
}

func (c *DependencyChecker) Fix(_ context.Context, _, _ string, _ *config.Config) checker.FixResult {
	return checker.FixResult{Message: "No auto-fix available for this check"}
}

