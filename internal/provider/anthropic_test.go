package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"governance_council/internal/domain"
)

func TestAnthropicClientComplete(t *testing.T) {
	var got anthropicRequest
	var gotKey, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"vote\":\"reject\",\"reasoning\":\"too broad\"}"}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	client, err := NewAnthropicClient(AnthropicConfig{Endpoint: srv.URL, APIKey: "ak-test", Model: "claude-test"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	agent := domain.AgentIdentity{ID: "fairness-arbiter", Provider: domain.ProviderAnthropic, Group: domain.GroupArbiter, Label: "Fairness Arbiter"}
	raw, err := client.Complete(context.Background(), agent, BuildPrompt(agent, domain.Subject{Type: "policy", Title: "Open data"}))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	vote, reasoning, err := ParseVote(raw)
	if err != nil || vote != domain.VoteReject || reasoning != "too broad" {
		t.Fatalf("vote=%q reasoning=%q err=%v", vote, reasoning, err)
	}
	if gotKey != "ak-test" || gotVersion != anthropicVersion {
		t.Fatalf("headers key=%q version=%q", gotKey, gotVersion)
	}
	if got.Model != "claude-test" || got.System == "" || len(got.Messages) != 1 {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestAnthropicClientOverloadedIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	}))
	defer srv.Close()

	client, err := NewAnthropicClient(AnthropicConfig{Endpoint: srv.URL, Model: "claude-test"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Complete(context.Background(), domain.AgentIdentity{ID: "a"}, Prompt{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !isRetryableAPIError(err) {
		t.Fatalf("529 should be retryable")
	}
	if got := classify(err); got != domain.ErrorKindTransport {
		t.Fatalf("classify=%s want=transport", got)
	}
}
