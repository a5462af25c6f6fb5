// Package consensus turns a vote tally into a council decision.
//
// A single outcome is accepted only with a two-thirds supermajority of the
// full panel (22 of 33). Anything short of that goes to human review: either
// as escalated, when enough agents answered that the split is real, or as
// inconclusive, when so few answered that no outcome could have reached the
// threshold at all.
package consensus

import (
	"fmt"

	"governance_council/internal/domain"
)

// Threshold returns ceil(2*panel/3).
func Threshold(panel int) int {
	if panel <= 0 {
		return 0
	}
	return (2*panel + 2) / 3
}

// Decide is pure: identical inputs always give the same decision.
func Decide(t domain.Tally, panel int) domain.Decision {
	threshold := Threshold(panel)
	switch {
	case threshold > 0 && t.Approve >= threshold:
		return domain.DecisionApproved
	case threshold > 0 && t.Reject >= threshold:
		return domain.DecisionRejected
	case threshold > 0 && t.Escalate >= threshold:
		return domain.DecisionEscalated
	case t.Responded() < threshold || threshold == 0:
		return domain.DecisionInconclusive
	default:
		return domain.DecisionEscalated
	}
}

// Validate checks that every panel member is accounted for exactly once.
func Validate(t domain.Tally, panel int) error {
	if t.Approve < 0 || t.Reject < 0 || t.Escalate < 0 || t.NoResponse < 0 {
		return fmt.Errorf("%w: negative count in %+v", domain.ErrTallyMismatch, t)
	}
	if t.Total() != panel {
		return fmt.Errorf("%w: total=%d panel=%d", domain.ErrTallyMismatch, t.Total(), panel)
	}
	return nil
}
