package provider

import (
	"fmt"
	"strings"

	"governance_council/internal/domain"
)

type Prompt struct {
	System string
	User   string
}

var groupFocus = map[domain.Group]string{
	domain.GroupGuardian: "safety, security and irreversible harm",
	domain.GroupArbiter:  "fairness and consistency with existing policy",
	domain.GroupScribe:   "clarity, completeness and whether the record supports a decision",
}

// BuildPrompt renders the ballot instructions for one agent.
func BuildPrompt(agent domain.AgentIdentity, subject domain.Subject) Prompt {
	focus := groupFocus[agent.Group]
	if focus == "" {
		focus = "the overall merit of the proposal"
	}
	system := fmt.Sprintf(ballotInstructions, agent.Label, agent.Group, focus)

	var user strings.Builder
	fmt.Fprintf(&user, "Subject type: %s\n", subject.Type)
	fmt.Fprintf(&user, "Title: %s\n", subject.Title)
	if d := strings.TrimSpace(subject.Description); d != "" {
		fmt.Fprintf(&user, "Description:\n%s\n", d)
	}
	return Prompt{System: system, User: user.String()}
}

const ballotInstructions = `You are %s, a %s on a governance council that votes on proposals.
Your review focuses on %s.
Cast exactly one vote: "approve", "reject", or "escalate" (escalate when a human must decide).
Return only valid JSON. Do not wrap output in markdown fences.
Required shape:
{"vote": "approve|reject|escalate", "reasoning": "one or two sentences"}`
