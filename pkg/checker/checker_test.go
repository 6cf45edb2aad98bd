package checker

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mykim19/debug-dashboard-core/pkg/config"
)

func TestPhaseReport_Counts(t *testing.T) {
	r := NewPhaseReport("demo")
	r.Add(CheckResult{Name: "a", Status: StatusPass})
	r.Add(CheckResult{Name: "b", Status: StatusPass})
	r.Add(CheckResult{Name: "c", Status: StatusWarn})
	r.Add(CheckResult{Name: "d", Status: StatusFail})
	r.Add(CheckResult{Name: "e", Status: StatusSkip})

	assert.Equal(t, 2, r.PassCount())
	assert.Equal(t, 1, r.WarnCount())
	assert.Equal(t, 1, r.FailCount())
	assert.Equal(t, 1, r.SkipCount())
	assert.Equal(t, 4, r.TotalActive())
	assert.Equal(t, 50.0, r.HealthPct())
}

func TestPhaseReport_EmptyIsFullyHealthy(t *testing.T) {
	r := NewPhaseReport("empty")
	assert.Equal(t, 100.0, r.HealthPct())
	assert.Equal(t, 0, r.TotalActive())
}

func TestPhaseReport_JSONRoundTrip(t *testing.T) {
	r := NewPhaseReport("demo")
	r.Add(CheckResult{
		Name:    "sql_check",
		Status:  StatusFail,
		Message: "boom",
		Details: map[string]any{"file": "app.py", "line_start": float64(42), "rule_id": "sql_injection"},
		Fixable: true,
		FixDesc: "add a TODO marker",
	})
	r.DurationMS = 37

	data, err := json.Marshal(r)
	require.NoError(t, err)

	// Derived counts appear on the wire.
	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, float64(1), wire["fail_count"])
	assert.Equal(t, float64(0), wire["pass_count"])
	assert.Equal(t, float64(1), wire["total_active"])
	assert.Equal(t, float64(37), wire["duration_ms"])

	restored := &PhaseReport{}
	require.NoError(t, json.Unmarshal(data, restored))
	assert.Equal(t, r.Name, restored.Name)
	assert.Equal(t, r.Checks, restored.Checks)
	assert.Equal(t, r.DurationMS, restored.DurationMS)
}

func TestApplicable(t *testing.T) {
	assert.True(t, Applicable("anything", nil))

	off := false
	cfg := &config.Config{Checks: map[string]config.CheckConfig{
		"database": {Enabled: &off},
	}}
	assert.False(t, Applicable("database", cfg))
	assert.True(t, Applicable("environment", cfg))
}
