// Package checker defines the checker (inspector) plugin contract and the
// per-workspace registry that discovers implementations.
//
// Checkers are READ-only diagnosers: Run inspects the project and returns a
// PhaseReport; Fix is limited to safe edits (TODO markers, placeholder env
// keys, cache sweeps) and is owned by the checker, never the core.
package checker

import (
	"context"
	"encoding/json"

	"github.com/mykim19/debug-dashboard-core/pkg/config"
)

// Status is the outcome of a single check.
type Status string

// Check statuses.
const (
	StatusPass Status = "PASS"
	StatusWarn Status = "WARN"
	StatusFail Status = "FAIL"
	StatusSkip Status = "SKIP"
)

// CheckResult is the outcome of one check within a checker run.
//
// Details is an open-schema evidence bag. Recommended keys: "file",
// "line_start", "line_end", "snippet", "rule_id".
type CheckResult struct {
	Name    string         `json:"name"`
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Fixable bool           `json:"fixable,omitempty"`
	FixDesc string         `json:"fix_desc,omitempty"`
}

// PhaseReport is the result of one checker run: an ordered list of
// CheckResults plus timing. DurationMS is measured by the executor, not the
// checker.
type PhaseReport struct {
	Name       string        `json:"name"`
	Checks     []CheckResult `json:"checks"`
	DurationMS int64         `json:"duration_ms"`
}

// NewPhaseReport creates an empty report for the named checker.
func NewPhaseReport(name string) *PhaseReport {
	return &PhaseReport{Name: name}
}

// Add appends a result to the report.
func (p *PhaseReport) Add(r CheckResult) {
	p.Checks = append(p.Checks, r)
}

func (p *PhaseReport) countStatus(s Status) int {
	n := 0
	for _, c := range p.Checks {
		if c.Status == s {
			n++
		}
	}
	return n
}

// PassCount returns the number of PASS results.
func (p *PhaseReport) PassCount() int { return p.countStatus(StatusPass) }

// FailCount returns the number of FAIL results.
func (p *PhaseReport) FailCount() int { return p.countStatus(StatusFail) }

// WarnCount returns the number of WARN results.
func (p *PhaseReport) WarnCount() int { return p.countStatus(StatusWarn) }

// SkipCount returns the number of SKIP results.
func (p *PhaseReport) SkipCount() int { return p.countStatus(StatusSkip) }

// TotalActive returns the number of non-SKIP results.
func (p *PhaseReport) TotalActive() int { return len(p.Checks) - p.SkipCount() }

// HealthPct returns the pass ratio over active checks as a percentage.
// An empty report is 100% healthy.
func (p *PhaseReport) HealthPct() float64 {
	total := p.TotalActive()
	if total == 0 {
		return 100.0
	}
	return float64(p.PassCount()) / float64(total) * 100
}

// phaseReportJSON is the wire shape of a report: the derived counts are
// serialized alongside the checks so consumers (dashboard, snapshots, LLM
// prompts) never recompute them.
type phaseReportJSON struct {
	Name        string        `json:"name"`
	PassCount   int           `json:"pass_count"`
	FailCount   int           `json:"fail_count"`
	WarnCount   int           `json:"warn_count"`
	SkipCount   int           `json:"skip_count"`
	TotalActive int           `json:"total_active"`
	HealthPct   float64       `json:"health_pct"`
	DurationMS  int64         `json:"duration_ms"`
	Checks      []CheckResult `json:"checks"`
}

// MarshalJSON serializes the report with its derived counts.
func (p *PhaseReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(phaseReportJSON{
		Name:        p.Name,
		PassCount:   p.PassCount(),
		FailCount:   p.FailCount(),
		WarnCount:   p.WarnCount(),
		SkipCount:   p.SkipCount(),
		TotalActive: p.TotalActive(),
		HealthPct:   p.HealthPct(),
		DurationMS:  p.DurationMS,
		Checks:      p.Checks,
	})
}

// UnmarshalJSON restores a report from its wire shape, discarding the derived
// counts (they are invariants over the check list).
func (p *PhaseReport) UnmarshalJSON(data []byte) error {
	var w phaseReportJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.Name = w.Name
	p.Checks = w.Checks
	p.DurationMS = w.DurationMS
	return nil
}

// Meta is checker metadata shown in the dashboard.
type Meta struct {
	Name          string `json:"name"`
	DisplayName   string `json:"display_name"`
	Description   string `json:"description"`
	Icon          string `json:"icon"`
	TooltipWhy    string `json:"tooltip_why,omitempty"`
	TooltipWhat   string `json:"tooltip_what,omitempty"`
	TooltipResult string `json:"tooltip_result,omitempty"`
}

// FixResult is the outcome of a Fix invocation.
type FixResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Checker is the inspector contract consumed by the agent core.
//
// Name is the unique identity; DependsOn declares additional dependency-graph
// edges. Run must be READ-only. Implementations must not panic; the executor
// converts a returned error into a single FAIL result.
type Checker interface {
	Name() string
	Meta() Meta
	DependsOn() []string
	IsApplicable(cfg *config.Config) bool
	Run(ctx context.Context, projectRoot string, cfg *config.Config) (*PhaseReport, error)
	Fix(ctx context.Context, checkName, projectRoot string, cfg *config.Config) FixResult
}

// Applicable is the default IsApplicable policy: the checker is enabled
// unless checks.<name>.enabled is explicitly false.
func Applicable(name string, cfg *config.Config) bool {
	if cfg == nil {
		return true
	}
	return cfg.Checks[name].IsEnabled()
}
