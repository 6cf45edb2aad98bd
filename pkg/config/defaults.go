package config

// DefaultConfig returns the built-in defaults for a workspace.
// Loaded configuration is merged over these; absent keys keep the defaults.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			DebounceSeconds:        2.0,
			ScanCooldownSeconds:    30,
			ManualScanMinInterval:  2,
			FullScanThreshold:      0.6,
			PurgeIntervalSeconds:   3600,
			SingletonMaxAgeSeconds: 86400,
			SSEReplayLimit:         50,
			Retention: RetentionConfig{
				EventMaxRows:    10000,
				EventMaxDays:    7,
				AnalysisMaxDays: 90,
			},
			WatchDirs: []string{"."},
		},
		LLM: LLMConfig{
			Temperature:    0.3,
			MaxTokens:      2000,
			TimeoutSeconds: 30,
			DailyBudgetUSD: 5.0,
		},
	}
}
