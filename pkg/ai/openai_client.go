// pkg/ai/openai_client.go
//
// OpenAI/Azure OpenAI client used as the classification capability for policy
// inference. The client only transports prompts and replies; parsing and
// validation of the reply belong to the permission package.
//
// CONFIGURATION:
//   classifier:
//     provider: "openai"  # or "azure"
//     api_key: "sk-..."   # or OPENAI_API_KEY
//     model: "gpt-4o-mini"
//     max_tokens: 4000
//     temperature: 0
//
// For Azure OpenAI:
//   classifier:
//     provider: "azure"
//     azure_endpoint: "https://your-resource.openai.azure.com/"
//     azure_api_key: "..."
//     azure_deployment: "gpt-4"
//     azure_api_version: "2024-02-15-preview"

package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
)

// ErrNotEnabled is returned when no API key is configured.
var ErrNotEnabled = errors.New("AI client not enabled - configure API keys")

// Logger is the subset of the structured logger the client needs.
type Logger interface {
	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

// Client wraps a chat completion client.
type Client struct {
	client  *openai.Client
	logger  Logger
	config  Config
	enabled bool
}

// Config contains OpenAI/Azure OpenAI configuration
type Config struct {
	// Provider: "openai" or "azure"
	Provider string

	// For OpenAI
	APIKey  string
	Model   string
	BaseURL string // optional, for OpenAI-compatible gateways

	// For Azure OpenAI
	AzureEndpoint   string
	AzureAPIKey     string
	AzureDeployment string
	AzureAPIVersion string

	// Generation settings
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration

	// Cost controls
	MaxCostPerCall     float64
	EnableCostTracking bool
}

// NewClient creates a new AI client. Without any key the client is returned
// disabled rather than failing, so commands that never classify still start.
func NewClient(cfg Config, logger Logger) (*Client, error) {
	if cfg.APIKey == "" && cfg.AzureAPIKey == "" {
		return &Client{
			enabled: false,
			logger:  logger,
			config:  cfg,
		}, nil
	}

	var client *openai.Client

	switch cfg.Provider {
	case "azure":
		if cfg.AzureEndpoint == "" || cfg.AzureAPIKey == "" {
			return nil, fmt.Errorf("azure endpoint and API key required for Azure OpenAI")
		}

		config := openai.DefaultAzureConfig(cfg.AzureAPIKey, cfg.AzureEndpoint)
		config.AzureModelMapperFunc = func(model string) string {
			return cfg.AzureDeployment
		}
		if cfg.AzureAPIVersion != "" {
			config.APIVersion = cfg.AzureAPIVersion
		}
		client = openai.NewClientWithConfig(config)

	case "openai", "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("API key required for OpenAI")
		}
		config := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			config.BaseURL = cfg.BaseURL
		}
		client = openai.NewClientWithConfig(config)

	default:
		return nil, fmt.Errorf("unknown AI provider %q", cfg.Provider)
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4000
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	logger.Infow("AI client initialized",
		"provider", cfg.Provider,
		"model", cfg.Model,
		"max_tokens", cfg.MaxTokens,
	)

	return &Client{
		client:  client,
		logger:  logger,
		config:  cfg,
		enabled: true,
	}, nil
}

// IsEnabled returns whether the AI client is enabled
func (c *Client) IsEnabled() bool {
	return c.enabled
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.config.Model
}

// GenerateJSON sends a system and user prompt and returns the raw content of
// the first choice. The model is constrained to emit a single JSON object.
func (c *Client) GenerateJSON(ctx context.Context, system, prompt string) (string, error) {
	if !c.enabled {
		return "", ErrNotEnabled
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	c.logger.Debugw("Generating AI completion",
		"model", c.config.Model,
		"max_tokens", c.config.MaxTokens,
		"prompt_length", len(prompt),
	)

	start := time.Now()

	req := openai.ChatCompletionRequest{
		Model:       c.config.Model,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: system,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: prompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		c.logger.Errorw("AI completion failed",
			"error", err,
			"model", c.config.Model,
		)
		return "", fmt.Errorf("AI completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no completion choices returned")
	}

	content := resp.Choices[0].Message.Content

	c.logger.Infow("AI completion generated",
		"model", c.config.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"total_tokens", resp.Usage.TotalTokens,
		"duration_seconds", time.Since(start).Seconds(),
		"response_length", len(content),
	)

	estimatedCost := c.estimateCost(resp.Usage)
	if c.config.EnableCostTracking && estimatedCost > c.config.MaxCostPerCall {
		c.logger.Warnw("Classification exceeded cost limit",
			"estimated_cost_usd", estimatedCost,
			"max_cost_usd", c.config.MaxCostPerCall,
		)
	}

	return content, nil
}

// estimateCost estimates the cost of a completion
// Note: These are approximate rates and may change
func (c *Client) estimateCost(usage openai.Usage) float64 {
	var inputCostPer1K, outputCostPer1K float64

	switch c.config.Model {
	case "gpt-4o-mini":
		inputCostPer1K = 0.00015
		outputCostPer1K = 0.0006
	case "gpt-4o":
		inputCostPer1K = 0.0025
		outputCostPer1K = 0.01
	case "gpt-4-turbo", "gpt-4-turbo-preview":
		inputCostPer1K = 0.01
		outputCostPer1K = 0.03
	case "gpt-3.5-turbo":
		inputCostPer1K = 0.0005
		outputCostPer1K = 0.0015
	default:
		inputCostPer1K = 0.01
		outputCostPer1K = 0.03
	}

	inputCost := (float64(usage.PromptTokens) / 1000.0) * inputCostPer1K
	outputCost := (float64(usage.CompletionTokens) / 1000.0) * outputCostPer1K

	return inputCost + outputCost
}

// Close closes the AI client
func (c *Client) Close() error {
	c.enabled = false
	return nil
}
