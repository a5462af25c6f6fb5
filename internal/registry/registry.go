// Package registry holds the fixed voting panel.
//
// The roster is configuration, not computation: it is decoded from YAML once
// at startup and never mutated afterwards, so a *Registry may be shared by any
// number of goroutines without locking.
package registry

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"governance_council/internal/domain"
)

// PanelSize is the production panel size. The supermajority threshold is
// defined relative to it.
const PanelSize = 33

//go:embed roster.yaml
var defaultRoster []byte

type rosterFile struct {
	Agents []domain.AgentIdentity `yaml:"agents"`
}

// Registry is an ordered, immutable set of agent identities.
type Registry struct {
	agents []domain.AgentIdentity
	byID   map[string]int
}

// Load reads a roster file and enforces the production panel size. An empty
// path selects the embedded default roster.
func Load(path string) (*Registry, error) {
	raw := defaultRoster
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read roster file %s: %w", path, err)
		}
		raw = b
	}
	agents, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if len(agents) != PanelSize {
		return nil, fmt.Errorf("%w: roster has %d agents, want %d", domain.ErrPanelSize, len(agents), PanelSize)
	}
	return New(agents)
}

// Parse decodes a roster document without validating it.
func Parse(raw []byte) ([]domain.AgentIdentity, error) {
	var doc rosterFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode roster: %w", err)
	}
	return doc.Agents, nil
}

// New builds a registry of any non-zero size. Tests use it to run small
// panels; production goes through Load.
func New(agents []domain.AgentIdentity) (*Registry, error) {
	if len(agents) == 0 {
		return nil, fmt.Errorf("%w: roster is empty", domain.ErrPanelSize)
	}
	r := &Registry{
		agents: make([]domain.AgentIdentity, 0, len(agents)),
		byID:   make(map[string]int, len(agents)),
	}
	for i, a := range agents {
		a.ID = strings.TrimSpace(a.ID)
		if a.ID == "" {
			return nil, fmt.Errorf("roster entry %d has empty id", i)
		}
		if _, dup := r.byID[a.ID]; dup {
			return nil, fmt.Errorf("roster has duplicate agent id %q", a.ID)
		}
		if !a.Provider.Valid() {
			return nil, fmt.Errorf("agent %s has unknown provider %q", a.ID, a.Provider)
		}
		if !a.Group.Valid() {
			return nil, fmt.Errorf("agent %s has unknown group %q", a.ID, a.Group)
		}
		if a.Label == "" {
			a.Label = a.ID
		}
		r.byID[a.ID] = len(r.agents)
		r.agents = append(r.agents, a)
	}
	return r, nil
}

// List returns the panel in roster order. The slice is a copy.
func (r *Registry) List() []domain.AgentIdentity {
	out := make([]domain.AgentIdentity, len(r.agents))
	copy(out, r.agents)
	return out
}

func (r *Registry) Get(agentID string) (domain.AgentIdentity, bool) {
	i, ok := r.byID[agentID]
	if !ok {
		return domain.AgentIdentity{}, false
	}
	return r.agents[i], true
}

func (r *Registry) Size() int {
	return len(r.agents)
}
