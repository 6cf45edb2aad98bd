package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mykim19/debug-dashboard-core/pkg/agent"
	"github.com/mykim19/debug-dashboard-core/pkg/checker"
	"github.com/mykim19/debug-dashboard-core/pkg/config"
)

func TestBuildAnalysisPrompt_IncludesEvidence(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Project.Name = "demo"
	cfg.Project.Root = "/srv/demo"

	report := checker.NewPhaseReport("security")
	report.Add(checker.CheckResult{
		Name:    "sql_injection",
		Status:  checker.StatusFail,
		Message: "string-built query",
		Details: map[string]any{"file": "src/db.py", "line_start": 42, "rule_id": "sql_injection"},
		FixDesc: "parameterize the query",
	})
	report.Add(checker.CheckResult{Name: "xss", Status: checker.StatusPass})

	evidence := &agent.LLMContext{
		Regressions: []agent.RegressionDiff{
			{Check: "sql_injection", Was: "PASS", Now: "FAIL", Message: "string-built query"},
		},
		RecentFileChanges: [][]agent.FileChange{
			{{RelativePath: "src/db.py", ChangeType: "modified"}},
		},
	}

	prompt := BuildAnalysisPrompt("security", report, cfg, evidence)

	assert.Contains(t, prompt, `"security"`)
	assert.Contains(t, prompt, `"demo"`)
	assert.Contains(t, prompt, "sql_injection [FAIL]")
	assert.Contains(t, prompt, "src/db.py")
	assert.Contains(t, prompt, "PASS → FAIL")
	assert.Contains(t, prompt, "parameterize the query")
	assert.Contains(t, prompt, "/srv/demo")
	// The pinned response-format headers the parser depends on.
	assert.Contains(t, prompt, "### Root Causes")
	assert.Contains(t, prompt, "### Fix Plan")
	assert.Contains(t, prompt, "### Risks")
	assert.Contains(t, prompt, "### Summary")
}

func TestBuildAnalysisPrompt_Deterministic(t *testing.T) {
	cfg := config.DefaultConfig()
	report := checker.NewPhaseReport("security")
	report.Add(checker.CheckResult{Name: "a", Status: checker.StatusFail, Message: "m"})

	first := BuildAnalysisPrompt("security", report, cfg, nil)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, BuildAnalysisPrompt("security", report, cfg, nil))
	}
}

func TestParseAnalysisResponse(t *testing.T) {
	text := `Some preamble.

### Root Causes
- Missing connection pool bounds — see src/db.py:42
- Stale schema cache

### Fix Plan
1. Add pool_size to the engine config
2. Invalidate the schema cache on migration
- Also pin the driver version

### Risks
- Pool bounds may queue requests under load

### Summary
The database layer is unbounded and stale.`

	parsed := ParseAnalysisResponse(text)

	assert.Equal(t, text, parsed.Analysis, "full text preserved")
	require.Len(t, parsed.RootCauses, 2)
	assert.Equal(t, "Missing connection pool bounds — see src/db.py:42", parsed.RootCauses[0])

	require.Len(t, parsed.FixSuggestions, 3)
	assert.Equal(t, "Add pool_size to the engine config", parsed.FixSuggestions[0].Action)
	assert.Equal(t, "Also pin the driver version", parsed.FixSuggestions[2].Action)
}

func TestParseAnalysisResponse_Unstructured(t *testing.T) {
	text := "The model ignored the format and wrote prose."
	parsed := ParseAnalysisResponse(text)
	assert.Equal(t, text, parsed.Analysis)
	assert.Empty(t, parsed.RootCauses)
	assert.Empty(t, parsed.FixSuggestions)
}

func TestBuildReportPrompt(t *testing.T) {
	prompt := BuildReportPrompt(map[string]any{
		"project": "demo",
		"totals":  map[string]any{"pass": 10, "warn": 2, "fail": 1},
	})
	assert.Contains(t, prompt, `"demo"`)
	assert.Contains(t, prompt, "### Root Causes")
	assert.Contains(t, prompt, "### Summary")
}
