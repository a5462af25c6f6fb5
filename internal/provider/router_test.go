package provider

import (
	"context"
	"errors"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"governance_council/internal/domain"
)

type completerFunc func(ctx context.Context, agent domain.AgentIdentity, prompt Prompt) (string, error)

func (f completerFunc) Complete(ctx context.Context, agent domain.AgentIdentity, prompt Prompt) (string, error) {
	return f(ctx, agent, prompt)
}

func newTestRouter() *Router {
	return NewRouter(RouterConfig{
		Timeout:      time.Second,
		Retries:      2,
		RetryBackoff: time.Millisecond,
		Logger:       log.New(io.Discard, "", 0),
	})
}

var testAgent = domain.AgentIdentity{ID: "safety-guardian", Provider: domain.ProviderOpenAI, Group: domain.GroupGuardian, Label: "Safety Guardian"}

func TestRouterCastVote(t *testing.T) {
	r := newTestRouter()
	r.Register(domain.ProviderOpenAI, completerFunc(func(ctx context.Context, agent domain.AgentIdentity, prompt Prompt) (string, error) {
		if _, ok := ctx.Deadline(); !ok {
			t.Errorf("expected router to apply a deadline")
		}
		return `{"vote":"approve","reasoning":"ok"}`, nil
	}), Options{})

	res := r.CastVote(context.Background(), testAgent, domain.Subject{Type: "policy", Title: "x"})
	if !res.OK() || res.Vote != domain.VoteApprove || res.Reasoning != "ok" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRouterFailureKinds(t *testing.T) {
	tests := []struct {
		name string
		fn   completerFunc
		want domain.ErrorKind
	}{
		{
			name: "unparseable",
			fn: func(context.Context, domain.AgentIdentity, Prompt) (string, error) {
				return "I cannot decide", nil
			},
			want: domain.ErrorKindParse,
		},
		{
			name: "rejected",
			fn: func(context.Context, domain.AgentIdentity, Prompt) (string, error) {
				return "", apiHTTPError{provider: domain.ProviderOpenAI, statusCode: 403}
			},
			want: domain.ErrorKindProviderRejected,
		},
		{
			name: "server error",
			fn: func(context.Context, domain.AgentIdentity, Prompt) (string, error) {
				return "", apiHTTPError{provider: domain.ProviderOpenAI, statusCode: 503}
			},
			want: domain.ErrorKindTransport,
		},
		{
			name: "deadline",
			fn: func(ctx context.Context, _ domain.AgentIdentity, _ Prompt) (string, error) {
				<-ctx.Done()
				return "", ctx.Err()
			},
			want: domain.ErrorKindTimeout,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter()
			r.Register(domain.ProviderOpenAI, tc.fn, Options{Timeout: 20 * time.Millisecond})
			res := r.CastVote(context.Background(), testAgent, domain.Subject{})
			if res.OK() {
				t.Fatalf("expected failure, got %+v", res)
			}
			if res.ErrorKind != tc.want {
				t.Fatalf("kind=%s want=%s err=%v", res.ErrorKind, tc.want, res.Err)
			}
		})
	}
}

func TestRouterRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	r := newTestRouter()
	r.Register(domain.ProviderOpenAI, completerFunc(func(context.Context, domain.AgentIdentity, Prompt) (string, error) {
		if calls.Add(1) < 3 {
			return "", apiHTTPError{provider: domain.ProviderOpenAI, statusCode: 429}
		}
		return `{"vote":"reject"}`, nil
	}), Options{})

	res := r.CastVote(context.Background(), testAgent, domain.Subject{})
	if !res.OK() || res.Vote != domain.VoteReject {
		t.Fatalf("unexpected result: %+v", res)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls=%d want=3", calls.Load())
	}
}

func TestRouterDoesNotRetryRejection(t *testing.T) {
	var calls atomic.Int32
	r := newTestRouter()
	r.Register(domain.ProviderOpenAI, completerFunc(func(context.Context, domain.AgentIdentity, Prompt) (string, error) {
		calls.Add(1)
		return "", apiHTTPError{provider: domain.ProviderOpenAI, statusCode: 400}
	}), Options{})

	r.CastVote(context.Background(), testAgent, domain.Subject{})
	if calls.Load() != 1 {
		t.Fatalf("calls=%d want=1", calls.Load())
	}
}

func TestRouterUnregisteredProvider(t *testing.T) {
	r := newTestRouter()
	res := r.CastVote(context.Background(), testAgent, domain.Subject{})
	if res.ErrorKind != domain.ErrorKindProviderRejected || !errors.Is(res.Err, errNoAdapter) {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestMockClientIsDeterministic(t *testing.T) {
	r := newTestRouter()
	r.Register(domain.ProviderOpenAI, MockClient{}, Options{})
	subject := domain.Subject{Type: "policy", Title: "Weekend deploys"}
	first := r.CastVote(context.Background(), testAgent, subject)
	second := r.CastVote(context.Background(), testAgent, subject)
	if !first.OK() || first.Vote != second.Vote {
		t.Fatalf("mock not deterministic: %+v vs %+v", first, second)
	}
}

func TestRouterZeroRetriesDisablesRetry(t *testing.T) {
	var calls atomic.Int32
	r := newTestRouter()
	zero := 0
	r.Register(domain.ProviderOpenAI, completerFunc(func(context.Context, domain.AgentIdentity, Prompt) (string, error) {
		calls.Add(1)
		return "", apiHTTPError{provider: domain.ProviderOpenAI, statusCode: 503}
	}), Options{Retries: &zero})

	res := r.CastVote(context.Background(), testAgent, domain.Subject{})
	if res.ErrorKind != domain.ErrorKindTransport {
		t.Fatalf("kind=%s want=%s", res.ErrorKind, domain.ErrorKindTransport)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls=%d want=1", calls.Load())
	}
}

func TestRouterProviderTimeoutUnderLongerDeadline(t *testing.T) {
	r := newTestRouter()
	r.Register(domain.ProviderOpenAI, completerFunc(func(ctx context.Context, _ domain.AgentIdentity, _ Prompt) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), Options{Timeout: 30 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	started := time.Now()
	res := r.CastVote(ctx, testAgent, domain.Subject{})
	if res.ErrorKind != domain.ErrorKindTimeout {
		t.Fatalf("kind=%s want=%s", res.ErrorKind, domain.ErrorKindTimeout)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("provider timeout not applied, call took %s", elapsed)
	}
}

func TestRouterKeepsEarlierCallerDeadline(t *testing.T) {
	r := newTestRouter()
	want := time.Now().Add(50 * time.Millisecond)
	r.Register(domain.ProviderOpenAI, completerFunc(func(ctx context.Context, _ domain.AgentIdentity, _ Prompt) (string, error) {
		got, ok := ctx.Deadline()
		if !ok || got.After(want) {
			t.Errorf("deadline=%v want no later than %v", got, want)
		}
		return `{"vote":"approve"}`, nil
	}), Options{Timeout: 10 * time.Second})

	ctx, cancel := context.WithDeadline(context.Background(), want)
	defer cancel()
	if res := r.CastVote(ctx, testAgent, domain.Subject{}); !res.OK() {
		t.Fatalf("unexpected result: %+v", res)
	}
}
