// Package llm is the Tier 2 deep-analysis path: a provider router over a
// catalog of "provider/model" identifiers with fallback, cost tracking, and
// daily budget enforcement.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/mykim19/debug-dashboard-core/pkg/agent"
	"github.com/mykim19/debug-dashboard-core/pkg/checker"
	"github.com/mykim19/debug-dashboard-core/pkg/config"
)

// ErrNoModel indicates no primary model is configured.
var ErrNoModel = errors.New("no LLM model configured")

// providerKeyEnv maps provider prefixes to the conventional API key
// environment variable. Keys supplied via the API are exported into the
// process environment; they are never persisted.
var providerKeyEnv = map[string]string{
	"anthropic": "ANTHROPIC_API_KEY",
	"openai":    "OPENAI_API_KEY",
	"gemini":    "GEMINI_API_KEY",
	"deepseek":  "DEEPSEEK_API_KEY",
}

// completion is what a backend returns for one call.
type completion struct {
	Text  string
	Usage agent.TokenUsage
}

// Router implements agent.LLMProvider over the provider catalog. Model
// identifiers are "provider/model" strings, e.g.
// "anthropic/claude-sonnet-4-5" or "gemini/gemini-2.0-flash".
//
// Fallback: on any error from the primary model the configured fallback is
// tried once; if both fail, the second error is surfaced.
type Router struct {
	cfg     config.LLMConfig
	tracker *CostTracker
}

// NewRouter creates a provider router from the workspace LLM config.
func NewRouter(cfg config.LLMConfig) *Router {
	return &Router{
		cfg:     cfg,
		tracker: NewCostTracker(cfg.DailyBudgetUSD),
	}
}

// CostTracker exposes the router's budget state for the cost endpoint.
func (r *Router) CostTracker() *CostTracker { return r.tracker }

// ModelName returns the primary model identifier.
func (r *Router) ModelName() string { return r.cfg.Model }

// IsAvailable reports whether a model is configured and its provider's API
// key is present in the environment.
func (r *Router) IsAvailable() bool {
	provider, _, ok := splitModel(r.cfg.Model)
	if !ok {
		return false
	}
	envKey, known := providerKeyEnv[provider]
	return known && os.Getenv(envKey) != ""
}

// AnalyzeReport runs a Tier 2 deep analysis of a checker report.
func (r *Router) AnalyzeReport(ctx context.Context, checkerName string, report *checker.PhaseReport, cfg *config.Config, evidence *agent.LLMContext) (*agent.LLMAnalysis, error) {
	if !r.tracker.CanSpend(0.01) {
		return &agent.LLMAnalysis{
			RequestID:       "budget_exceeded",
			CheckerName:     checkerName,
			ModelUsed:       r.cfg.Model,
			AnalysisText:    "Daily budget exceeded. Analysis skipped.",
			EvidenceSummary: map[string]any{"budget_exceeded": true},
		}, nil
	}

	prompt := BuildAnalysisPrompt(checkerName, report, cfg, evidence)

	result, model, err := r.completeWithFallback(ctx, prompt, r.cfg.Temperature, r.cfg.MaxTokens)
	if err != nil {
		return nil, err
	}

	cost := estimateCost(model, result.Usage)
	r.tracker.Record(cost, model)

	parsed := ParseAnalysisResponse(result.Text)
	regressions := 0
	if evidence != nil {
		regressions = len(evidence.Regressions)
	}

	return &agent.LLMAnalysis{
		RequestID:        uuid.NewString(),
		CheckerName:      checkerName,
		PromptTokens:     result.Usage.Prompt,
		CompletionTokens: result.Usage.Completion,
		CostUSD:          cost,
		ModelUsed:        model,
		AnalysisText:     parsed.Analysis,
		RootCauses:       parsed.RootCauses,
		FixSuggestions:   parsed.FixSuggestions,
		EvidenceSummary: map[string]any{
			"prompt_length":        len(prompt),
			"has_evidence_context": evidence != nil,
			"regressions_count":    regressions,
		},
	}, nil
}

// GenerateReport produces a natural-language overview of a full scan. Uses a
// larger completion budget than per-checker analysis.
func (r *Router) GenerateReport(ctx context.Context, scanSummary map[string]any) (string, error) {
	if !r.tracker.CanSpend(0.01) {
		return "", fmt.Errorf("daily budget exceeded")
	}
	prompt := BuildReportPrompt(scanSummary)
	maxTokens := r.cfg.MaxTokens
	if maxTokens < 4000 {
		maxTokens = 4000
	}
	result, model, err := r.completeWithFallback(ctx, prompt, 0.4, maxTokens)
	if err != nil {
		return "", err
	}
	r.tracker.Record(estimateCost(model, result.Usage), model)
	return result.Text, nil
}

// completeWithFallback calls the primary model, retrying once with the
// fallback model on any error. The returned model is the one that answered.
func (r *Router) completeWithFallback(ctx context.Context, prompt string, temperature float64, maxTokens int) (*completion, string, error) {
	if r.cfg.Model == "" {
		return nil, "", ErrNoModel
	}

	result, err := r.complete(ctx, r.cfg.Model, prompt, temperature, maxTokens)
	if err == nil {
		return result, r.cfg.Model, nil
	}
	slog.Warn("Primary model failed", "model", r.cfg.Model, "error", err)

	if r.cfg.FallbackModel == "" {
		return nil, "", err
	}
	slog.Info("Trying fallback model", "model", r.cfg.FallbackModel)
	result, err2 := r.complete(ctx, r.cfg.FallbackModel, prompt, temperature, maxTokens)
	if err2 != nil {
		return nil, "", fmt.Errorf("both primary (%s) and fallback (%s) failed: %w",
			r.cfg.Model, r.cfg.FallbackModel, err2)
	}
	return result, r.cfg.FallbackModel, nil
}

// complete dispatches one call to the backend for the model's provider.
func (r *Router) complete(ctx context.Context, modelID, prompt string, temperature float64, maxTokens int) (*completion, error) {
	provider, model, ok := splitModel(modelID)
	if !ok {
		return nil, fmt.Errorf("model %q is not a provider/model identifier", modelID)
	}
	envKey, known := providerKeyEnv[provider]
	if !known {
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
	key := os.Getenv(envKey)
	if key == "" {
		return nil, fmt.Errorf("%s is not set", envKey)
	}

	switch provider {
	case "anthropic":
		return completeAnthropic(ctx, key, model, prompt, temperature, maxTokens)
	case "gemini":
		return completeGemini(ctx, key, model, prompt, temperature, maxTokens)
	case "openai":
		return completeOpenAI(ctx, key, "", model, prompt, temperature, maxTokens)
	case "deepseek":
		// DeepSeek speaks the OpenAI wire protocol.
		return completeOpenAI(ctx, key, "https://api.deepseek.com/v1", model, prompt, temperature, maxTokens)
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

func splitModel(modelID string) (provider, model string, ok bool) {
	provider, model, found := strings.Cut(modelID, "/")
	if !found || provider == "" || model == "" {
		return "", "", false
	}
	return provider, model, true
}
