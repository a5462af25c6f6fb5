package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"governance_council/internal/domain"
)

func TestNormalizeReasoningEffort(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty defaults to low", in: "", want: "low"},
		{name: "trim and lower", in: "  MEDIUM ", want: "medium"},
		{name: "unsupported defaults to low", in: "ultra", want: "low"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := normalizeReasoningEffort(tc.in)
			if got != tc.want {
				t.Fatalf("normalizeReasoningEffort(%q)=%q want=%q", tc.in, got, tc.want)
			}
		})
	}
}

func TestReadResponsesStreamDelta(t *testing.T) {
	stream := strings.Join([]string{
		"event: response.created",
		`data: {"type":"response.created","response":{"id":"resp_1"}}`,
		"",
		"event: response.output_text.delta",
		`data: {"type":"response.output_text.delta","delta":"{\"vote\":\"approve\",","sequence_number":1}`,
		"",
		"event: response.output_text.delta",
		`data: {"type":"response.output_text.delta","delta":"\"reasoning\":\"ok\"}","sequence_number":2}`,
		"",
		"event: response.completed",
		`data: {"type":"response.completed","response":{"id":"resp_1","status":"completed"}}`,
		"",
		"data: [DONE]",
		"",
	}, "\n")

	got, err := readResponsesStream(strings.NewReader(stream), 1024*1024)
	if err != nil {
		t.Fatalf("readResponsesStream returned error: %v", err)
	}
	want := `{"vote":"approve","reasoning":"ok"}`
	if got != want {
		t.Fatalf("readResponsesStream returned %q want %q", got, want)
	}
}

func TestReadResponsesStreamCompletedFallback(t *testing.T) {
	stream := strings.Join([]string{
		`data: {"type":"response.created","response":{"id":"resp_2"}}`,
		"",
		`data: {"type":"response.completed","response":{"output":[{"type":"message","content":[{"type":"output_text","text":"{\"vote\":\"reject\"}"}]}]}}`,
		"",
	}, "\n")

	got, err := readResponsesStream(strings.NewReader(stream), 1024*1024)
	if err != nil {
		t.Fatalf("readResponsesStream returned error: %v", err)
	}
	if got != `{"vote":"reject"}` {
		t.Fatalf("readResponsesStream returned %q", got)
	}
}

func TestReadResponsesStreamTooLarge(t *testing.T) {
	delta := strings.Repeat("x", 20)
	stream := fmt.Sprintf("data: {\"type\":\"response.output_text.delta\",\"delta\":%q}\n\n", delta)
	if _, err := readResponsesStream(strings.NewReader(stream), 10); err == nil {
		t.Fatalf("expected size error")
	}
}

func TestReadResponsesStreamError(t *testing.T) {
	stream := "data: {\"type\":\"error\",\"error\":{\"message\":\"overloaded\"}}\n\n"
	if _, err := readResponsesStream(strings.NewReader(stream), 1024); err == nil || !strings.Contains(err.Error(), "overloaded") {
		t.Fatalf("expected stream error, got %v", err)
	}
}

func TestResponsesClientComplete(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"response.output_text.delta\",\"delta\":\"{\\\"vote\\\":\\\"escalate\\\"}\"}\n\n")
	}))
	defer srv.Close()

	client, err := NewResponsesClient(ResponsesConfig{Endpoint: srv.URL, APIKey: "sk-test", Model: "gpt-test"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	agent := domain.AgentIdentity{ID: "safety-guardian", Provider: domain.ProviderOpenAI, Group: domain.GroupGuardian, Label: "Safety Guardian"}
	raw, err := client.Complete(context.Background(), agent, BuildPrompt(agent, domain.Subject{Type: "policy", Title: "t"}))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if raw != `{"vote":"escalate"}` {
		t.Fatalf("raw=%q", raw)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("authorization=%q", gotAuth)
	}
	if !strings.Contains(gotBody, `"model":"gpt-test"`) || !strings.Contains(gotBody, `"stream":true`) || !strings.Contains(gotBody, `"json_object"`) {
		t.Fatalf("unexpected request body: %s", gotBody)
	}
}

func TestResponsesClientHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := NewResponsesClient(ResponsesConfig{Endpoint: srv.URL, Model: "gpt-test"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Complete(context.Background(), domain.AgentIdentity{ID: "a"}, Prompt{})
	var httpErr apiHTTPError
	if !errors.As(err, &httpErr) || httpErr.statusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 apiHTTPError, got %v", err)
	}
	if got := classify(err); got != domain.ErrorKindProviderRejected {
		t.Fatalf("classify=%s want=provider_rejected", got)
	}
}

func TestNewResponsesClientRejectsBadEndpoint(t *testing.T) {
	if _, err := NewResponsesClient(ResponsesConfig{Endpoint: "not a url"}); err == nil {
		t.Fatalf("expected invalid endpoint error")
	}
}
