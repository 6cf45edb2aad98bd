package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/mykim19/debug-dashboard-core/pkg/checker"
	"github.com/mykim19/debug-dashboard-core/pkg/config"
)

const defaultEnvTemplate = "# Auto-generated .env template\n# Fill in your actual values\n\nAPP_SECRET_KEY=change-me-to-random-string\n"

// EnvironmentChecker verifies that the runtime environment is usable:
// required environment variables are set, the .env file exists, and the
// project volume has free disk space.
type EnvironmentChecker struct{}

func (c *EnvironmentChecker) Name() string { return "environment" }

func (c *EnvironmentChecker) Meta() checker.Meta {
	return checker.Meta{
		Name:          "environment",
		DisplayName:   "ENVIRONMENT",
		Description:   "Runtime, required env keys, disk space, .env file — checks that the environment is correctly configured.",
		Icon:          "🖥",
		TooltipWhy:    "Services fail at startup or silently misbehave when env keys or disk space are missing.",
		TooltipWhat:   "Verifies required environment variables, .env presence, and free disk space on the project volume.",
		TooltipResult: "PASS means the service can start safely; WARN means specific features may not work.",
	}
}

func (c *EnvironmentChecker) DependsOn() []string { return nil }

func (c *EnvironmentChecker) IsApplicable(cfg *config.Config) bool {
	return checker.Applicable("environment", cfg)
}

func (c *EnvironmentChecker) Run(_ context.Context, projectRoot string, cfg *config.Config) (*checker.PhaseReport, error) {
	report := checker.NewPhaseReport("environment")
	opts := checkerOptions(cfg, "environment")

	report.Add(checker.CheckResult{
		Name:    "runtime",
		Status:  checker.StatusPass,
		Message: fmt.Sprintf("go %s (%s/%s)", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	})

	for _, key := range stringSlice(opts, "required_keys") {
		if os.Getenv(key) == "" {
			report.Add(checker.CheckResult{
				Name:    "env_" + key,
				Status:  checker.StatusFail,
				Message: key + " is not set",
				Details: map[string]any{"rule_id": "missing_env_key", "key": key},
			})
		} else {
			report.Add(checker.CheckResult{
				Name:    "env_" + key,
				Status:  checker.StatusPass,
				Message: key + " is set",
			})
		}
	}

	envPath := filepath.Join(projectRoot, ".env")
	if _, err := os.Stat(envPath); err == nil {
		report.Add(checker.CheckResult{Name: "env_file", Status: checker.StatusPass, Message: ".env file exists"})
	} else {
		report.Add(checker.CheckResult{
			Name:    "env_file",
			Status:  checker.StatusWarn,
			Message: ".env file not found",
			Fixable: true,
			FixDesc: "Create a .env template with placeholder values",
		})
	}

	report.Add(c.diskSpaceCheck(projectRoot, opts))
	return report, nil
}

func (c *EnvironmentChecker) diskSpaceCheck(projectRoot string, opts map[string]any) checker.CheckResult {
	var st unix.Statfs_t
	if err := unix.Statfs(projectRoot, &st); err != nil {
		return checker.CheckResult{Name: "disk_space", Status: checker.StatusWarn, Message: err.Error()}
	}
	freeGB := float64(st.Bavail) * float64(st.Bsize) / (1 << 30)
	status := checker.StatusPass
	switch {
	case freeGB <= 2:
		status = checker.StatusFail
	case freeGB <= 10:
		status = checker.StatusWarn
	}
	result := checker.CheckResult{
		Name:    "disk_space",
		Status:  status,
		Message: fmt.Sprintf("Free: %.1fGB", freeGB),
	}
	if status != checker.StatusPass {
		result.Fixable = true
		cleanupDir := stringOpt(opts, "cleanup_dir", "downloads")
		result.FixDesc = fmt.Sprintf("Remove temp files (*.part, *.tmp) from %s/", cleanupDir)
	}
	return result
}

// Fix handles the safe fixes this checker owns: creating a placeholder .env
// and sweeping temp files from the cleanup directory.
func (c *EnvironmentChecker) Fix(_ context.Context, checkName, projectRoot string, cfg *config.Config) checker.FixResult {
	opts := checkerOptions(cfg, "environment")

	switch checkName {
	case "env_file":
		envPath := filepath.Join(projectRoot, ".env")
		if _, err := os.Stat(envPath); err == nil {
			return checker.FixResult{Success: true, Message: ".env already exists"}
		}
		template := stringOpt(opts, "env_template", defaultEnvTemplate)
		if err := os.WriteFile(envPath, []byte(template), 0o600); err != nil {
			return checker.FixResult{Message: err.Error()}
		}
		return checker.FixResult{Success: true, Message: "Created .env template — edit values before use"}

	case "disk_space":
		cleanupDir := filepath.Join(projectRoot, stringOpt(opts, "cleanup_dir", "downloads"))
		if _, err := os.Stat(cleanupDir); err != nil {
			return checker.FixResult{Success: true, Message: "No cleanup directory to clean"}
		}
		removed := 0
		for _, pattern := range []string{"*.part", "*.tmp", "*.temp"} {
			matches, _ := filepath.Glob(filepath.Join(cleanupDir, pattern))
			for _, m := range matches {
				if os.Remove(m) == nil {
					removed++
				}
			}
		}
		if removed > 0 {
			return checker.FixResult{Success: true, Message: fmt.Sprintf("Removed %d temp files", removed)}
		}
		return checker.FixResult{Success: true, Message: "No temp files to clean — consider manual cleanup"}
	}

	return checker.FixResult{Message: "No auto-fix available for this check"}
}
