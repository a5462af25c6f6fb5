package provider

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"governance_council/internal/domain"
)

type GeminiConfig struct {
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
}

// GeminiClient calls the Gemini API through the genai SDK.
type GeminiClient struct {
	client    *genai.Client
	model     string
	maxTokens int32
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      strings.TrimSpace(cfg.APIKey),
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: strings.TrimSpace(cfg.BaseURL)},
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens
	}
	return &GeminiClient{
		client:    client,
		model:     strings.TrimSpace(cfg.Model),
		maxTokens: int32(maxTokens),
	}, nil
}

func (g *GeminiClient) Complete(ctx context.Context, agent domain.AgentIdentity, prompt Prompt) (string, error) {
	model := firstNonEmpty(agent.Model, g.model)
	if model == "" {
		return "", apiHTTPError{provider: domain.ProviderGemini, statusCode: 400, body: "no model configured"}
	}

	temp := float32(0)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(prompt.System, genai.RoleUser),
		Temperature:       &temp,
		MaxOutputTokens:   g.maxTokens,
		ResponseMIMEType:  "application/json",
	}
	contents := []*genai.Content{genai.NewContentFromText(prompt.User, genai.RoleUser)}

	res, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	text := res.Text()
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("gemini returned empty text")
	}
	return text, nil
}
