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
	defaultResponsesEndpoint = "https://api.openai.com/v1/responses"
	defaultReasoningEffort   = "low"
	defaultMaxOutputBytes    = 256 * 1024
	defaultMaxOutputTokens   = 800
)

type ResponsesConfig struct {
	Endpoint        string
	Model           string
	ReasoningEffort string
	APIKey          string
	MaxOutputBytes  int
	MaxOutputTokens int
	Client          *http.Client
}

// ResponsesClient asks the OpenAI Responses API for a JSON ballot and reads
// the streamed answer.
type ResponsesClient struct {
	endpoint string
	model    string
	effort   string
	header   http.Header
	maxBytes int
	maxToks  int
	client   *http.Client
}

func NewResponsesClient(cfg ResponsesConfig) (*ResponsesClient, error) {
	endpoint := firstNonEmpty(cfg.Endpoint, defaultResponsesEndpoint)
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid responses endpoint %q: %w", endpoint, err)
	}
	c := &ResponsesClient{
		endpoint: endpoint,
		model:    strings.TrimSpace(cfg.Model),
		effort:   normalizeReasoningEffort(cfg.ReasoningEffort),
		header:   http.Header{},
		maxBytes: cfg.MaxOutputBytes,
		maxToks:  cfg.MaxOutputTokens,
		client:   cfg.Client,
	}
	if c.maxBytes <= 0 {
		c.maxBytes = defaultMaxOutputBytes
	}
	if c.maxToks <= 0 {
		c.maxToks = defaultMaxOutputTokens
	}
	if c.client == nil {
		c.client = &http.Client{}
	}
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		c.header.Set("Authorization", "Bearer "+key)
	}
	c.header.Set("Accept", "text/event-stream")
	return c, nil
}

func (c *ResponsesClient) Complete(ctx context.Context, agent domain.AgentIdentity, prompt Prompt) (string, error) {
	model := firstNonEmpty(agent.Model, c.model)
	if model == "" {
		return "", apiHTTPError{provider: domain.ProviderOpenAI, statusCode: http.StatusBadRequest, body: "no model configured"}
	}
	resp, err := postJSON(ctx, c.client, domain.ProviderOpenAI, c.endpoint, c.header, ballotRequest{
		Model:        model,
		Instructions: prompt.System,
		Input: []ballotInput{{
			Role:    "user",
			Content: []ballotInputText{{Type: "input_text", Text: prompt.User}},
		}},
		Stream:          true,
		Reasoning:       &ballotReasoning{Effort: c.effort},
		Text:            &ballotTextFormat{Format: ballotFormat{Type: "json_object"}},
		MaxOutputTokens: c.maxToks,
		Metadata:        map[string]string{"agent_id": agent.ID, "group": string(agent.Group)},
	})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := readResponsesStream(resp.Body, c.maxBytes)
	if err != nil {
		return "", fmt.Errorf("read responses stream: %w", err)
	}
	return raw, nil
}

func normalizeReasoningEffort(value string) string {
	switch effort := strings.ToLower(strings.TrimSpace(value)); effort {
	case "none", "low", "medium", "high":
		return effort
	default:
		return defaultReasoningEffort
	}
}

// readResponsesStream concatenates output_text deltas. When the stream only
// carries a final response.completed event its message text is used instead.
func readResponsesStream(body io.Reader, maxBytes int) (string, error) {
	var out strings.Builder
	grow := func(s string) error {
		if out.Len()+len(s) > maxBytes {
			return fmt.Errorf("responses output exceeds %d bytes", maxBytes)
		}
		out.WriteString(s)
		return nil
	}

	err := eachSSEData(body, maxBytes+64*1024, func(data string) error {
		var ev streamEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("unmarshal stream event: %w", err)
		}
		if ev.Error != nil {
			return fmt.Errorf("responses stream error: %s", ev.Error.Message)
		}
		if ev.Response != nil && ev.Response.Error != nil {
			return fmt.Errorf("responses completion error: %s", ev.Response.Error.Message)
		}
		switch ev.Type {
		case "response.output_text.delta":
			return grow(ev.Delta)
		case "response.completed":
			if out.Len() == 0 && ev.Response != nil {
				return grow(ev.Response.text())
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", fmt.Errorf("empty output stream")
	}
	return text, nil
}

type ballotRequest struct {
	Model           string            `json:"model"`
	Instructions    string            `json:"instructions"`
	Input           []ballotInput     `json:"input"`
	Stream          bool              `json:"stream"`
	Reasoning       *ballotReasoning  `json:"reasoning,omitempty"`
	Text            *ballotTextFormat `json:"text,omitempty"`
	MaxOutputTokens int               `json:"max_output_tokens,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

type ballotInput struct {
	Role    string            `json:"role"`
	Content []ballotInputText `json:"content"`
}

type ballotInputText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ballotReasoning struct {
	Effort string `json:"effort"`
}

type ballotTextFormat struct {
	Format ballotFormat `json:"format"`
}

type ballotFormat struct {
	Type string `json:"type"`
}

type streamEvent struct {
	Type     string          `json:"type"`
	Delta    string          `json:"delta,omitempty"`
	Response *streamResponse `json:"response,omitempty"`
	Error    *streamError    `json:"error,omitempty"`
}

type streamResponse struct {
	Error  *streamError `json:"error,omitempty"`
	Output []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content,omitempty"`
	} `json:"output,omitempty"`
}

func (r *streamResponse) text() string {
	var b strings.Builder
	for _, item := range r.Output {
		for _, part := range item.Content {
			if part.Type == "output_text" || part.Type == "text" {
				b.WriteString(part.Text)
			}
		}
	}
	return b.String()
}

type streamError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
