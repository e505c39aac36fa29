package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"groundwork-mcp-server/internal/config"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// OpenAICompleter talks to any OpenAI-compatible chat completion endpoint.
type OpenAICompleter struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAICompleter builds a client. baseURL may point at a compatible host
// such as Groq; empty keeps the OpenAI default.
func NewOpenAICompleter(apiKey, baseURL, model string, maxTokens int, temperature float32) *OpenAICompleter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAICompleter{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
	}
}

func (c *OpenAICompleter) Name() string { return "openai:" + c.model }

// Complete sends one chat completion in JSON mode.
func (c *OpenAICompleter) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("empty response from openai")
	}
	return resp.Choices[0].Message.Content, nil
}

// AnthropicCompleter talks to the Anthropic Messages API.
type AnthropicCompleter struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

// NewAnthropicCompleter builds a client. baseURL is optional.
func NewAnthropicCompleter(apiKey, baseURL, model string, maxTokens int, temperature float32) *AnthropicCompleter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = string(anthropic.ModelClaude3_5HaikuLatest)
	}
	return &AnthropicCompleter{
		client:      anthropic.NewClient(opts...),
		model:       model,
		maxTokens:   int64(maxTokens),
		temperature: float64(temperature),
	}
}

func (c *AnthropicCompleter) Name() string { return "anthropic:" + c.model }

// Complete sends one message and returns the first text block.
func (c *AnthropicCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(c.temperature),
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}
	for _, block := range resp.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			return block.Text, nil
		}
	}
	return "", errors.New("empty response from anthropic")
}

// FromConfig builds the configured planner. A missing API key yields a
// planner whose Plan calls fail with a TransportFailure, so the server can
// still serve grounding tools without a model.
func FromConfig(cfg config.PlannerConfig, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	key := cfg.APIKey()
	if key == "" {
		logger.Warn("planner disabled: API key not set", zap.String("env", cfg.APIKeyEnv))
		return New(nil, cfg.GetSnapshotCharBudget(), cfg.GetTimeout(), logger)
	}

	var c Completer
	switch cfg.Provider {
	case "anthropic":
		c = NewAnthropicCompleter(key, cfg.BaseURL, cfg.Model, cfg.GetMaxTokens(), cfg.Temperature)
	default:
		c = NewOpenAICompleter(key, cfg.BaseURL, cfg.Model, cfg.GetMaxTokens(), cfg.Temperature)
	}
	return New(c, cfg.GetSnapshotCharBudget(), cfg.GetTimeout(), logger)
}
