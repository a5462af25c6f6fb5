package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"governance_council/internal/domain"
)

const (
	defaultAnthropicEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicVersion         = "2023-06-01"
)

type AnthropicConfig struct {
	Endpoint  string
	Model     string
	APIKey    string
	MaxTokens int
	Client    *http.Client
}

// AnthropicClient calls the Messages API without streaming; ballots are short.
type AnthropicClient struct {
	endpoint  string
	model     string
	apiKey    string
	maxTokens int
	client    *http.Client
}

func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultAnthropicEndpoint
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid anthropic endpoint %q: %w", endpoint, err)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &AnthropicClient{
		endpoint:  endpoint,
		model:     strings.TrimSpace(cfg.Model),
		apiKey:    strings.TrimSpace(cfg.APIKey),
		maxTokens: maxTokens,
		client:    client,
	}, nil
}

func (c *AnthropicClient) Complete(ctx context.Context, agent domain.AgentIdentity, prompt Prompt) (string, error) {
	model := firstNonEmpty(agent.Model, c.model)
	if model == "" {
		return "", apiHTTPError{provider: domain.ProviderAnthropic, statusCode: http.StatusBadRequest, body: "no model configured"}
	}
	header := http.Header{}
	header.Set("anthropic-version", anthropicVersion)
	if c.apiKey != "" {
		header.Set("x-api-key", c.apiKey)
	}
	resp, err := postJSON(ctx, c.client, domain.ProviderAnthropic, c.endpoint, header, anthropicRequest{
		Model:       model,
		MaxTokens:   c.maxTokens,
		System:      prompt.System,
		Temperature: 0,
		Messages:    []anthropicMessage{{Role: "user", Content: prompt.User}},
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out anthropicResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, defaultMaxOutputBytes)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode anthropic response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("anthropic error type=%s: %s", out.Error.Type, out.Error.Message)
	}
	var text strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", fmt.Errorf("anthropic returned empty text stop_reason=%s", out.StopReason)
	}
	return text.String(), nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
