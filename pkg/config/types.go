// Package config loads and validates per-workspace configuration.
package config

import "time"

// Config is the root of a workspace configuration file.
type Config struct {
	Project    ProjectConfig          `yaml:"project"`
	Agent      AgentConfig            `yaml:"agent"`
	LLM        LLMConfig              `yaml:"llm"`
	Checks     map[string]CheckConfig `yaml:"checks"`
	PluginDirs []string               `yaml:"plugin_dirs"`
}

// ProjectConfig identifies the project a workspace observes.
type ProjectConfig struct {
	Name string `yaml:"name"`
	Root string `yaml:"root"`
}

// CheckConfig is per-checker configuration. Enabled defaults to true.
type CheckConfig struct {
	Enabled *bool          `yaml:"enabled"`
	Options map[string]any `yaml:"options,omitempty"`
}

// IsEnabled reports whether the checker is enabled (default true).
func (c CheckConfig) IsEnabled() bool {
	return boolOr(c.Enabled, true)
}

// AgentConfig controls the autonomous agent loop, observer and retention.
//
// Boolean fields use pointers so an explicit `false` in YAML survives the
// defaults merge; read them through the accessor methods.
type AgentConfig struct {
	Enabled           *bool `yaml:"enabled"`
	AutoStart         *bool `yaml:"auto_start"`
	AutoScanOnChange  *bool `yaml:"auto_scan_on_change"`
	AutoLLMOnCritical *bool `yaml:"auto_llm_on_critical"`

	DebounceSeconds        float64 `yaml:"debounce_seconds"`
	ScanCooldownSeconds    int     `yaml:"scan_cooldown_seconds"`
	ManualScanMinInterval  int     `yaml:"manual_scan_min_interval"`
	FullScanThreshold      float64 `yaml:"full_scan_threshold"`
	PurgeIntervalSeconds   int     `yaml:"purge_interval_seconds"`
	SingletonMaxAgeSeconds int     `yaml:"singleton_max_age_seconds"`
	SSEReplayLimit         int     `yaml:"sse_replay_limit"`

	Retention RetentionConfig `yaml:"retention"`

	WatchDirs []string `yaml:"watch_dirs"`

	// ADD-only: merged into the builtin ignore sets, never replacing them.
	IgnorePatterns   []string `yaml:"ignore_patterns"`
	IgnoreExtensions []string `yaml:"ignore_extensions"`
}

// IsEnabled reports whether agent mode is enabled (default true).
func (a *AgentConfig) IsEnabled() bool { return boolOr(a.Enabled, true) }

// IsAutoStart reports whether the agent starts with the process (default false).
func (a *AgentConfig) IsAutoStart() bool { return boolOr(a.AutoStart, false) }

// IsAutoScanOnChange reports whether file changes trigger scans (default true).
func (a *AgentConfig) IsAutoScanOnChange() bool { return boolOr(a.AutoScanOnChange, true) }

// IsAutoLLMOnCritical reports whether failing scans escalate to LLM analysis
// automatically (default false).
func (a *AgentConfig) IsAutoLLMOnCritical() bool { return boolOr(a.AutoLLMOnCritical, false) }

// Debounce returns the observer debounce window as a duration.
func (a *AgentConfig) Debounce() time.Duration {
	return time.Duration(a.DebounceSeconds * float64(time.Second))
}

// ScanCooldown returns the auto-scan cooldown as a duration.
func (a *AgentConfig) ScanCooldown() time.Duration {
	return time.Duration(a.ScanCooldownSeconds) * time.Second
}

// ManualMinInterval returns the minimum interval between manual scans.
func (a *AgentConfig) ManualMinInterval() time.Duration {
	return time.Duration(a.ManualScanMinInterval) * time.Second
}

// PurgeInterval returns how often the loop runs retention purge.
func (a *AgentConfig) PurgeInterval() time.Duration {
	return time.Duration(a.PurgeIntervalSeconds) * time.Second
}

// SingletonMaxAge returns the lock age beyond which an apparently-live PID is
// treated as recycled.
func (a *AgentConfig) SingletonMaxAge() time.Duration {
	return time.Duration(a.SingletonMaxAgeSeconds) * time.Second
}

// RetentionConfig controls durable-store retention bounds.
type RetentionConfig struct {
	// EventMaxRows caps agent_events by row count.
	EventMaxRows int `yaml:"event_max_rows"`
	// EventMaxDays is the maximum age of agent_events and agent_insights rows.
	EventMaxDays int `yaml:"event_max_days"`
	// AnalysisMaxDays is the maximum age of llm_analyses rows.
	AnalysisMaxDays int `yaml:"analysis_max_days"`
}

// LLMConfig configures the Tier 2 deep-analysis path.
//
// Model names are "provider/model" strings, e.g. "anthropic/claude-sonnet-4-5"
// or "gemini/gemini-2.0-flash". API keys come from environment variables by
// provider convention (ANTHROPIC_API_KEY, OPENAI_API_KEY, GEMINI_API_KEY,
// DEEPSEEK_API_KEY); they are never read from config files.
type LLMConfig struct {
	Model          string  `yaml:"model"`
	FallbackModel  string  `yaml:"fallback_model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	DailyBudgetUSD float64 `yaml:"daily_budget_usd"`
}

// Timeout returns the per-call LLM timeout as a duration.
func (l *LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
