package builtin

import "github.com/mykim19/debug-dashboard-core/pkg/config"

// checkerOptions returns the free-form options block for a checker, or an
// empty map when absent.
func checkerOptions(cfg *config.Config, name string) map[string]any {
	if cfg == nil {
		return map[string]any{}
	}
	opts := cfg.Checks[name].Options
	if opts == nil {
		return map[string]any{}
	}
	return opts
}

func stringOpt(opts map[string]any, key, def string) string {
	if v, ok := opts[key].(string); ok && v != "" {
		return v
	}
	return def
}

func stringSlice(opts map[string]any, key string) []string {
	raw, ok := opts[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
