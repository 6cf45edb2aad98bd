package llm

import (
	"strings"

	"github.com/mykim19/debug-dashboard-core/pkg/agent"
)

// modelPricing is USD per 1M tokens (input, output) by model-name prefix.
// Matched longest-prefix-first against the model part of "provider/model".
// Unknown models cost 0 — the budget still bounds call COUNT via the 0.01
// pre-check even when a price is missing.
var modelPricing = []struct {
	prefix        string
	inputPerMTok  float64
	outputPerMTok float64
}{
	{"claude-opus", 15.0, 75.0},
	{"claude-sonnet", 3.0, 15.0},
	{"claude-haiku", 0.80, 4.0},
	{"claude-3-5-haiku", 0.80, 4.0},
	{"gpt-4o-mini", 0.15, 0.60},
	{"gpt-4o", 2.50, 10.0},
	{"gpt-4.1-mini", 0.40, 1.60},
	{"gpt-4.1", 2.0, 8.0},
	{"gemini-2.0-flash", 0.10, 0.40},
	{"gemini-1.5-pro", 1.25, 5.0},
	{"gemini-1.5-flash", 0.075, 0.30},
	{"deepseek-chat", 0.27, 1.10},
	{"deepseek-reasoner", 0.55, 2.19},
}

// estimateCost converts token usage into USD for the given model. modelID is
// the full "provider/model" identifier.
func estimateCost(modelID string, usage agent.TokenUsage) float64 {
	_, model, ok := splitModel(modelID)
	if !ok {
		model = modelID
	}
	for _, p := range modelPricing {
		if strings.HasPrefix(model, p.prefix) {
			return float64(usage.Prompt)/1e6*p.inputPerMTok +
				float64(usage.Completion)/1e6*p.outputPerMTok
		}
	}
	return 0
}
