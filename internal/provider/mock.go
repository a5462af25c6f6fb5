package provider

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"time"

	"governance_council/internal/domain"
)

// MockClient answers locally without network access. The ballot is a pure
// function of agent id and subject title, so demo runs are reproducible.
type MockClient struct {
	MaxDelay time.Duration
}

func (m MockClient) Complete(ctx context.Context, agent domain.AgentIdentity, prompt Prompt) (string, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(agent.ID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(prompt.User))
	sum := h.Sum64()

	if m.MaxDelay > 0 {
		delay := time.Duration(sum % uint64(m.MaxDelay))
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	// Skewed toward approve so a typical demo panel can reach supermajority.
	vote := domain.VoteApprove
	switch bucket := sum % 10; {
	case bucket == 7 || bucket == 8:
		vote = domain.VoteReject
	case bucket == 9:
		vote = domain.VoteEscalate
	}
	out, err := json.Marshal(map[string]string{
		"vote":      string(vote),
		"reasoning": "mock review by " + agent.Label,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
