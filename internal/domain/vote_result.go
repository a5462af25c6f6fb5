package domain

import "time"

type VoteResultKind string

const (
	VoteResultVote    VoteResultKind = "vote"
	VoteResultFailure VoteResultKind = "failure"
)

// VoteResult is what a provider adapter hands back for one agent. Exactly one
// of the two shapes is populated: a ballot (Vote, Reasoning) or a failure
// (ErrorKind, Err).
type VoteResult struct {
	Kind      VoteResultKind
	Vote      VoteValue
	Reasoning string
	Latency   time.Duration
	ErrorKind ErrorKind
	Err       error
}

func CastResult(vote VoteValue, reasoning string, latency time.Duration) VoteResult {
	return VoteResult{Kind: VoteResultVote, Vote: vote, Reasoning: reasoning, Latency: latency}
}

func FailureResult(kind ErrorKind, err error, latency time.Duration) VoteResult {
	return VoteResult{Kind: VoteResultFailure, ErrorKind: kind, Err: err, Latency: latency}
}

func (r VoteResult) OK() bool {
	return r.Kind == VoteResultVote && r.Vote.Cast()
}

// ToVote converts the result into the persisted record for agent in session.
// Timeouts are recorded as no_response, every other failure as error.
func (r VoteResult) ToVote(sessionID string, agent AgentIdentity, at time.Time) AgentVote {
	v := AgentVote{
		SessionID: sessionID,
		AgentID:   agent.ID,
		Provider:  agent.Provider,
		CreatedAt: at,
	}
	if r.OK() {
		latency := r.Latency.Milliseconds()
		responded := at
		v.Value = r.Vote
		v.Reasoning = r.Reasoning
		v.RespondedAt = &responded
		v.LatencyMS = &latency
		return v
	}
	v.ErrorKind = r.ErrorKind
	if v.ErrorKind == ErrorKindNone {
		v.ErrorKind = ErrorKindParse
	}
	if v.ErrorKind == ErrorKindTimeout {
		v.Value = VoteNoResponse
	} else {
		v.Value = VoteError
		latency := r.Latency.Milliseconds()
		v.LatencyMS = &latency
	}
	if r.Err != nil {
		v.Reasoning = r.Err.Error()
	}
	return v
}

// NoResponseVote is written for an agent that had not resolved at the deadline.
func NoResponseVote(sessionID string, agent AgentIdentity, at time.Time) AgentVote {
	return AgentVote{
		SessionID: sessionID,
		AgentID:   agent.ID,
		Provider:  agent.Provider,
		Value:     VoteNoResponse,
		ErrorKind: ErrorKindTimeout,
		CreatedAt: at,
	}
}
