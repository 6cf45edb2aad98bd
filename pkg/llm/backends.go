package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/tmc/langchaingo/llms"
	lcopenai "github.com/tmc/langchaingo/llms/openai"
	"google.golang.org/genai"

	"github.com/mykim19/debug-dashboard-core/pkg/agent"
)

// completeAnthropic calls the Anthropic Messages API.
func completeAnthropic(ctx context.Context, apiKey, model, prompt string, temperature float64, maxTokens int) (*completion, error) {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))

	msg, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic completion: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &completion{
		Text: text.String(),
		Usage: agent.TokenUsage{
			Prompt:     int(msg.Usage.InputTokens),
			Completion: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// completeGemini calls the Gemini API via the google genai SDK.
func completeGemini(ctx context.Context, apiKey, model, prompt string, temperature float64, maxTokens int) (*completion, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}

	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(temperature)),
		MaxOutputTokens: int32(maxTokens),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini completion: %w", err)
	}

	result := &completion{Text: resp.Text()}
	if resp.UsageMetadata != nil {
		result.Usage = agent.TokenUsage{
			Prompt:     int(resp.UsageMetadata.PromptTokenCount),
			Completion: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return result, nil
}

// completeOpenAI calls an OpenAI-compatible chat completion endpoint via
// langchaingo. baseURL is empty for api.openai.com; DeepSeek routes through
// here with its own base URL.
func completeOpenAI(ctx context.Context, apiKey, baseURL, model, prompt string, temperature float64, maxTokens int) (*completion, error) {
	opts := []lcopenai.Option{
		lcopenai.WithToken(apiKey),
		lcopenai.WithModel(model),
	}
	if baseURL != "" {
		opts = append(opts, lcopenai.WithBaseURL(baseURL))
	}
	client, err := lcopenai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("openai client: %w", err)
	}

	resp, err := client.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
		llms.WithTemperature(temperature),
		llms.WithMaxTokens(maxTokens),
	)
	if err != nil {
		return nil, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai completion: empty response")
	}

	choice := resp.Choices[0]
	return &completion{
		Text: choice.Content,
		Usage: agent.TokenUsage{
			Prompt:     intFromGenerationInfo(choice.GenerationInfo, "PromptTokens"),
			Completion: intFromGenerationInfo(choice.GenerationInfo, "CompletionTokens"),
		},
	}, nil
}

func intFromGenerationInfo(info map[string]any, key string) int {
	if info == nil {
		return 0
	}
	switch v := info[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
