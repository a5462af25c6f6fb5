package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"governance_council/internal/domain"
)

// Default chat-completions base URLs for the OpenAI-compatible providers.
var defaultChatBaseURLs = map[domain.Provider]string{
	domain.ProviderMistral:  "https://api.mistral.ai/v1",
	domain.ProviderDeepSeek: "https://api.deepseek.com/v1",
}

type ChatConfig struct {
	Provider  domain.Provider
	BaseURL   string
	Model     string
	APIKey    string
	MaxTokens int
	Client    *http.Client
}

// ChatClient speaks the OpenAI chat-completions protocol to any compatible
// endpoint.
type ChatClient struct {
	provider  domain.Provider
	client    *openai.Client
	model     string
	maxTokens int
}

func NewChatClient(cfg ChatConfig) (*ChatClient, error) {
	baseURL := firstNonEmpty(cfg.BaseURL, defaultChatBaseURLs[cfg.Provider])
	if baseURL == "" {
		return nil, fmt.Errorf("no base url for chat provider %q", cfg.Provider)
	}
	clientCfg := openai.DefaultConfig(strings.TrimSpace(cfg.APIKey))
	clientCfg.BaseURL = strings.TrimRight(baseURL, "/")
	if cfg.Client != nil {
		clientCfg.HTTPClient = cfg.Client
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens
	}
	return &ChatClient{
		provider:  cfg.Provider,
		client:    openai.NewClientWithConfig(clientCfg),
		model:     strings.TrimSpace(cfg.Model),
		maxTokens: maxTokens,
	}, nil
}

func (c *ChatClient) Complete(ctx context.Context, agent domain.AgentIdentity, prompt Prompt) (string, error) {
	model := firstNonEmpty(agent.Model, c.model)
	if model == "" {
		return "", apiHTTPError{provider: c.provider, statusCode: http.StatusBadRequest, body: "no model configured"}
	}
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.System},
			{Role: openai.ChatMessageRoleUser, Content: prompt.User},
		},
		MaxTokens:   c.maxTokens,
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", c.provider, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s chat completion returned no choices", c.provider)
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%s chat completion returned empty text", c.provider)
	}
	return text, nil
}
