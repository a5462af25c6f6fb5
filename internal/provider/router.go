// Package provider turns an agent identity and a subject into one ballot by
// calling the agent's model provider.
package provider

import (
	"context"
	"fmt"
	"log"
	"time"

	"governance_council/internal/domain"
)

const (
	defaultTimeout      = 25 * time.Second
	defaultRetries      = 1
	defaultRetryBackoff = 500 * time.Millisecond
)

// Adapter casts one agent's vote. It never returns a Go error: every failure
// is folded into the VoteResult.
type Adapter interface {
	CastVote(ctx context.Context, agent domain.AgentIdentity, subject domain.Subject) domain.VoteResult
}

// Completer is a single provider transport: prompt in, raw model text out.
type Completer interface {
	Complete(ctx context.Context, agent domain.AgentIdentity, prompt Prompt) (string, error)
}

type RouterConfig struct {
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
	Logger       *log.Logger
}

// Router dispatches each agent to the completer registered for its provider
// and owns prompt rendering, retries, parsing and failure classification.
type Router struct {
	completers   map[domain.Provider]Completer
	options      map[domain.Provider]Options
	timeout      time.Duration
	retries      int
	retryBackoff time.Duration
	logger       *log.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	return &Router{
		completers:   make(map[domain.Provider]Completer),
		options:      make(map[domain.Provider]Options),
		timeout:      cfg.Timeout,
		retries:      cfg.Retries,
		retryBackoff: cfg.RetryBackoff,
		logger:       cfg.Logger,
	}
}

// Options override router defaults for one provider. A zero Timeout keeps
// the router default; the effective deadline is the earlier of the caller's
// and now+Timeout. A nil Retries keeps the router default and a pointer to 0
// disables retries.
type Options struct {
	Timeout time.Duration
	Retries *int
}

func (r *Router) Register(p domain.Provider, c Completer, opts Options) {
	r.completers[p] = c
	r.options[p] = opts
}

func (r *Router) Registered(p domain.Provider) bool {
	_, ok := r.completers[p]
	return ok
}

func (r *Router) CastVote(ctx context.Context, agent domain.AgentIdentity, subject domain.Subject) domain.VoteResult {
	started := time.Now()
	completer, ok := r.completers[agent.Provider]
	if !ok {
		err := fmt.Errorf("%w: %s", errNoAdapter, agent.Provider)
		return domain.FailureResult(domain.ErrorKindProviderRejected, err, 0)
	}

	timeout := r.timeout
	if t := r.options[agent.Provider].Timeout; t > 0 {
		timeout = t
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := r.complete(ctx, completer, agent, BuildPrompt(agent, subject))
	if err != nil {
		return domain.FailureResult(classify(err), err, time.Since(started))
	}
	vote, reasoning, err := ParseVote(raw)
	if err != nil {
		r.logger.Printf("vote parse failed agent=%s provider=%s err=%v output=%q", agent.ID, agent.Provider, err, trim(raw, 200))
		return domain.FailureResult(domain.ErrorKindParse, err, time.Since(started))
	}
	return domain.CastResult(vote, reasoning, time.Since(started))
}

func (r *Router) complete(ctx context.Context, c Completer, agent domain.AgentIdentity, prompt Prompt) (string, error) {
	retries := r.retries
	if n := r.options[agent.Provider].Retries; n != nil {
		retries = max(*n, 0)
	}
	var lastErr error
	for attempt := 1; attempt <= retries+1; attempt++ {
		raw, err := c.Complete(ctx, agent, prompt)
		if err == nil {
			return raw, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", ctx.Err(), err)
		}
		if !isRetryableAPIError(err) || attempt == retries+1 {
			break
		}
		wait := time.Duration(attempt) * r.retryBackoff
		r.logger.Printf("provider retry agent=%s provider=%s attempt=%d wait=%s reason=%v", agent.ID, agent.Provider, attempt, wait, err)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return "", lastErr
}

func trim(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
