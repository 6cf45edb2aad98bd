package llm

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"unicode"

	"github.com/mykim19/debug-dashboard-core/pkg/agent"
	"github.com/mykim19/debug-dashboard-core/pkg/checker"
	"github.com/mykim19/debug-dashboard-core/pkg/config"
)

// maxDetailsChars bounds the per-check evidence block embedded in a prompt.
const maxDetailsChars = 1500

// BuildAnalysisPrompt constructs the deterministic root-cause-analysis
// prompt: report summary, failing checks with evidence, recent file changes,
// regression diff, and an environment snapshot. The response-format section
// pins the headers ParseAnalysisResponse relies on.
func BuildAnalysisPrompt(checkerName string, report *checker.PhaseReport, cfg *config.Config, evidence *agent.LLMContext) string {
	var failing, passing []checker.CheckResult
	for _, c := range report.Checks {
		switch c.Status {
		case checker.StatusFail, checker.StatusWarn:
			failing = append(failing, c)
		case checker.StatusPass:
			passing = append(passing, c)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a software diagnostics expert. Analyze the %q checker results for project %q.\n\n",
		checkerName, cfg.Project.Name)

	fmt.Fprintf(&b, "## Checker report summary\n")
	fmt.Fprintf(&b, "- Total checks: %d\n", len(report.Checks))
	fmt.Fprintf(&b, "- Passing: %d\n", len(passing))
	fmt.Fprintf(&b, "- Failing/warning: %d\n", len(failing))
	fmt.Fprintf(&b, "- Health: %.1f%%\n", report.HealthPct())

	b.WriteString("\n## Failing/warning details\n")
	for _, c := range failing {
		fmt.Fprintf(&b, "\n### %s [%s]\n", c.Name, c.Status)
		fmt.Fprintf(&b, "Message: %s\n", c.Message)
		if len(c.Details) > 0 {
			details, err := json.MarshalIndent(c.Details, "", "  ")
			if err == nil {
				s := string(details)
				if len(s) > maxDetailsChars {
					s = s[:maxDetailsChars] + "\n... (truncated)"
				}
				fmt.Fprintf(&b, "Evidence:\n```json\n%s\n```\n", s)
			}
		}
		if c.FixDesc != "" {
			fmt.Fprintf(&b, "Auto-fixable: %s\n", c.FixDesc)
		}
	}

	if evidence != nil {
		if len(evidence.RecentFileChanges) > 0 {
			b.WriteString("\n## Recent file changes (possibly related)\n")
			for i, batch := range evidence.RecentFileChanges {
				if i >= 3 {
					break
				}
				for j, f := range batch {
					if j >= 5 {
						break
					}
					fmt.Fprintf(&b, "- %s (%s)\n", f.RelativePath, f.ChangeType)
				}
			}
		}
		if len(evidence.Regressions) > 0 {
			b.WriteString("\n## Regressions (was PASS, now FAIL/WARN)\n")
			for i, r := range evidence.Regressions {
				if i >= 5 {
					break
				}
				fmt.Fprintf(&b, "- %s: %s → %s — %s\n", r.Check, r.Was, r.Now, r.Message)
			}
		}
	}

	fmt.Fprintf(&b, "\n## Environment\n")
	fmt.Fprintf(&b, "- Runtime: %s\n", runtime.Version())
	fmt.Fprintf(&b, "- OS: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&b, "- Project root: %s\n", cfg.Project.Root)

	b.WriteString(`
## Analysis requirements
1. Identify the ROOT CAUSE, not the symptom
2. Judge whether the failures are correlated
3. Propose fixes in order of impact
4. Call out risks of each fix
5. Reference the specific files/lines from the evidence

## Response format (follow exactly)
### Root Causes
- [cause 1 — with evidence references]
- [cause 2]

### Fix Plan
1. [highest priority fix — concrete action]
2. [next fix]

### Risks
- [risk 1]

### Summary
[one-paragraph summary]
`)
	return b.String()
}

// BuildReportPrompt constructs the full-scan overview prompt from a scan
// summary (totals, per-phase issue lists, healthy phases).
func BuildReportPrompt(scanSummary map[string]any) string {
	var b strings.Builder
	project, _ := scanSummary["project"].(string)
	if project == "" {
		project = "Unknown"
	}
	fmt.Fprintf(&b, "You are a software diagnostics expert. Write a comprehensive health report for project %q from this full scan result.\n\n", project)

	summary, err := json.MarshalIndent(scanSummary, "", "  ")
	if err == nil {
		fmt.Fprintf(&b, "## Scan data\n```json\n%s\n```\n", summary)
	}

	b.WriteString(`
## Report requirements (be thorough on each)
1. Overall health assessment — classify severity as CRITICAL/WARNING/ACCEPTABLE
2. Per-phase deep dive for every phase with issues: what is wrong, why, and its impact
3. Cross-phase correlation — are the issues related?
4. Prioritized action plan with concrete commands or file edits
5. Which items are auto-fixable, and the caveats of auto-fixing them

## Response format (follow exactly)
### Root Causes
- [cause 1 — name the affected phases]
- [cause 2]

### Fix Plan
1. [highest priority: concrete command / file edit]
2. [next]

### Risks
- [risk 1]

### Summary
[3-5 sentences: current state, most severe problem, recommended first action]
`)
	return b.String()
}

// ParsedAnalysis is the structured form of an LLM response.
type ParsedAnalysis struct {
	Analysis       string
	RootCauses     []string
	FixSuggestions []agent.FixSuggestion
}

// ParseAnalysisResponse splits an LLM response into sections by the pinned
// headers (Root Causes, Fix Plan, Risks, Summary) and extracts list items.
// The full text is always preserved as Analysis.
func ParseAnalysisResponse(text string) ParsedAnalysis {
	result := ParsedAnalysis{Analysis: text}

	section := ""
	for _, line := range strings.Split(text, "\n") {
		stripped := strings.TrimSpace(line)
		lower := strings.ToLower(stripped)

		if strings.HasPrefix(stripped, "#") {
			switch {
			case strings.Contains(lower, "root cause"):
				section = "root_causes"
			case strings.Contains(lower, "fix plan"):
				section = "fix_suggestions"
			case strings.Contains(lower, "risk"):
				section = "risks"
			case strings.Contains(lower, "summary"):
				section = "summary"
			}
			continue
		}

		switch section {
		case "root_causes":
			if strings.HasPrefix(stripped, "-") {
				if item := strings.TrimSpace(strings.TrimLeft(stripped, "- ")); item != "" {
					result.RootCauses = append(result.RootCauses, item)
				}
			}
		case "fix_suggestions":
			if strings.HasPrefix(stripped, "-") || startsWithDigit(stripped) {
				item := strings.TrimSpace(strings.TrimLeft(stripped, "-0123456789. "))
				if item != "" {
					result.FixSuggestions = append(result.FixSuggestions, agent.FixSuggestion{Action: item})
				}
			}
		}
	}
	return result
}

func startsWithDigit(s string) bool {
	return s != "" && unicode.IsDigit(rune(s[0]))
}
