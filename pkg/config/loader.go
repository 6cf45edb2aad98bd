package config

import (
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads a workspace config file, expands environment variables, merges
// built-in defaults over absent keys, and validates the result.
//
// The project root, if relative, is resolved against the config file's
// directory; an empty root defaults to that directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(ExpandEnv(data), cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalid, path, err)
	}

	if err := mergo.Merge(cfg, DefaultConfig()); err != nil {
		return nil, fmt.Errorf("merging defaults: %w", err)
	}

	configDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}
	if cfg.Project.Root == "" {
		cfg.Project.Root = configDir
	} else if !filepath.IsAbs(cfg.Project.Root) {
		cfg.Project.Root = filepath.Join(configDir, cfg.Project.Root)
	}
	if cfg.Project.Name == "" {
		cfg.Project.Name = filepath.Base(cfg.Project.Root)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks semantic constraints that the YAML schema cannot express.
// Returned errors wrap ErrInvalid and are human-readable: workspace load
// rejects the config with the message, and startup continues for other
// workspaces.
func (c *Config) Validate() error {
	if info, err := os.Stat(c.Project.Root); err != nil || !info.IsDir() {
		return fmt.Errorf("%w: project root %q is not a directory", ErrInvalid, c.Project.Root)
	}
	if c.Agent.DebounceSeconds <= 0 {
		return fmt.Errorf("%w: agent.debounce_seconds must be positive", ErrInvalid)
	}
	if c.Agent.FullScanThreshold <= 0 || c.Agent.FullScanThreshold > 1 {
		return fmt.Errorf("%w: agent.full_scan_threshold must be in (0, 1]", ErrInvalid)
	}
	if c.Agent.Retention.EventMaxRows <= 0 || c.Agent.Retention.EventMaxDays <= 0 || c.Agent.Retention.AnalysisMaxDays <= 0 {
		return fmt.Errorf("%w: agent.retention bounds must be positive", ErrInvalid)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("%w: llm.temperature must be in [0, 2]", ErrInvalid)
	}
	if c.LLM.DailyBudgetUSD < 0 {
		return fmt.Errorf("%w: llm.daily_budget_usd must not be negative", ErrInvalid)
	}
	return nil
}
