package orchestrator

import (
	"sync"

	"governance_council/internal/domain"
)

// ballot tracks which agents of one session have been resolved. The first
// claim for an agent wins; the winner is the only writer of that agent's
// vote and must call written once the write returns.
type ballot struct {
	mu      sync.Mutex
	agents  []domain.AgentIdentity
	claimed map[string]bool
	writes  sync.WaitGroup
	err     error
}

func newBallot(agents []domain.AgentIdentity) *ballot {
	return &ballot{
		agents:  agents,
		claimed: make(map[string]bool, len(agents)),
	}
}

func (b *ballot) claim(agentID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.claimed[agentID] {
		return false
	}
	b.claimed[agentID] = true
	b.writes.Add(1)
	return true
}

func (b *ballot) written() {
	b.writes.Done()
}

// claimRemaining claims every agent nobody has resolved yet and returns them.
func (b *ballot) claimRemaining() []domain.AgentIdentity {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.AgentIdentity
	for _, a := range b.agents {
		if b.claimed[a.ID] {
			continue
		}
		b.claimed[a.ID] = true
		b.writes.Add(1)
		out = append(out, a)
	}
	return out
}

// wait blocks until every claimed write has returned. It must only be called
// after claimRemaining, when no further claim can succeed.
func (b *ballot) wait() {
	b.writes.Wait()
}

func (b *ballot) fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.err = err
	}
}

func (b *ballot) failure() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}
