package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"governance_council/internal/domain"
)

func TestChatClientComplete(t *testing.T) {
	var gotPath, gotAuth string
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"VOTE: approve\nREASONING: fine"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	client, err := NewChatClient(ChatConfig{
		Provider: domain.ProviderMistral,
		BaseURL:  srv.URL + "/v1",
		Model:    "mistral-small-latest",
		APIKey:   "mk-test",
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	agent := domain.AgentIdentity{ID: "clarity-scribe", Provider: domain.ProviderMistral, Group: domain.GroupScribe}
	raw, err := client.Complete(context.Background(), agent, BuildPrompt(agent, domain.Subject{Type: "policy", Title: "x"}))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if vote, _, err := ParseVote(raw); err != nil || vote != domain.VoteApprove {
		t.Fatalf("vote=%q err=%v raw=%q", vote, err, raw)
	}
	if gotPath != "/v1/chat/completions" {
		t.Fatalf("path=%q", gotPath)
	}
	if gotAuth != "Bearer mk-test" {
		t.Fatalf("authorization=%q", gotAuth)
	}
	if gotModel != "mistral-small-latest" {
		t.Fatalf("model=%q", gotModel)
	}
}

func TestChatClientBadRequestIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"unknown model","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	client, err := NewChatClient(ChatConfig{Provider: domain.ProviderDeepSeek, BaseURL: srv.URL, Model: "nope"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Complete(context.Background(), domain.AgentIdentity{ID: "a"}, Prompt{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if got := classify(err); got != domain.ErrorKindProviderRejected {
		t.Fatalf("classify=%s want=provider_rejected err=%v", got, err)
	}
}

func TestNewChatClientDefaultBaseURL(t *testing.T) {
	if _, err := NewChatClient(ChatConfig{Provider: domain.ProviderDeepSeek}); err != nil {
		t.Fatalf("deepseek should have a default base url: %v", err)
	}
	if _, err := NewChatClient(ChatConfig{Provider: domain.ProviderOpenAI}); err == nil {
		t.Fatalf("expected error for provider without chat base url")
	}
}
