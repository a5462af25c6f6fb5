package domain

import (
	"encoding/json"
	"time"
)

type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderMistral   Provider = "mistral"
	ProviderDeepSeek  Provider = "deepseek"
)

var Providers = []Provider{
	ProviderOpenAI,
	ProviderAnthropic,
	ProviderGemini,
	ProviderMistral,
	ProviderDeepSeek,
}

func (p Provider) Valid() bool {
	for _, item := range Providers {
		if item == p {
			return true
		}
	}
	return false
}

type Group string

const (
	GroupGuardian Group = "guardian"
	GroupArbiter  Group = "arbiter"
	GroupScribe   Group = "scribe"
)

func (g Group) Valid() bool {
	return g == GroupGuardian || g == GroupArbiter || g == GroupScribe
}

type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusCollecting SessionStatus = "collecting"
	SessionStatusTallying   SessionStatus = "tallying"
	SessionStatusCompleted  SessionStatus = "completed"
)

type Decision string

const (
	DecisionApproved     Decision = "approved"
	DecisionRejected     Decision = "rejected"
	DecisionEscalated    Decision = "escalated"
	DecisionInconclusive Decision = "inconclusive"
)

// RoutesToHuman reports whether the decision needs human review.
func (d Decision) RoutesToHuman() bool {
	return d == DecisionEscalated || d == DecisionInconclusive
}

type VoteValue string

const (
	VoteApprove    VoteValue = "approve"
	VoteReject     VoteValue = "reject"
	VoteEscalate   VoteValue = "escalate"
	VoteNoResponse VoteValue = "no_response"
	VoteError      VoteValue = "error"
)

// Cast reports whether the value is one of the three ballot choices.
func (v VoteValue) Cast() bool {
	return v == VoteApprove || v == VoteReject || v == VoteEscalate
}

type ErrorKind string

const (
	ErrorKindNone             ErrorKind = ""
	ErrorKindTimeout          ErrorKind = "timeout"
	ErrorKindTransport        ErrorKind = "transport"
	ErrorKindParse            ErrorKind = "parse"
	ErrorKindProviderRejected ErrorKind = "provider_rejected"
)

type AgentIdentity struct {
	ID       string   `json:"agent_id" yaml:"id"`
	Provider Provider `json:"provider" yaml:"provider"`
	Group    Group    `json:"group" yaml:"group"`
	Label    string   `json:"display_label" yaml:"label"`
	Model    string   `json:"model,omitempty" yaml:"model,omitempty"`
}

type Subject struct {
	Type        string `json:"subject_type"`
	Title       string `json:"subject_title"`
	Description string `json:"subject_description"`
}

type CouncilSession struct {
	ID             string        `json:"session_id"`
	SubjectType    string        `json:"subject_type"`
	SubjectTitle   string        `json:"subject_title"`
	SubjectDesc    string        `json:"subject_description"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	Status         SessionStatus `json:"status"`
	PanelSize      int           `json:"panel_size"`
	ApproveVotes   int           `json:"approve_votes"`
	RejectVotes    int           `json:"reject_votes"`
	EscalateVotes  int           `json:"escalate_votes"`
	NoResponse     int           `json:"no_response_count"`
	TotalVotes     int           `json:"total_votes"`
	FinalDecision  *Decision     `json:"final_decision"`
	LastError      string        `json:"last_error,omitempty"`
	DeadlineAt     *time.Time    `json:"deadline_at,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	CompletedAt    *time.Time    `json:"completed_at"`
}

func (s CouncilSession) Subject() Subject {
	return Subject{Type: s.SubjectType, Title: s.SubjectTitle, Description: s.SubjectDesc}
}

func (s CouncilSession) Tally() Tally {
	return Tally{
		Approve:    s.ApproveVotes,
		Reject:     s.RejectVotes,
		Escalate:   s.EscalateVotes,
		NoResponse: s.NoResponse,
	}
}

func (s CouncilSession) Completed() bool {
	return s.Status == SessionStatusCompleted
}

type AgentVote struct {
	ID          int64      `json:"id"`
	SessionID   string     `json:"session_id"`
	AgentID     string     `json:"agent_id"`
	Provider    Provider   `json:"provider"`
	Value       VoteValue  `json:"vote_value"`
	Reasoning   string     `json:"reasoning"`
	RespondedAt *time.Time `json:"responded_at"`
	LatencyMS   *int64     `json:"latency_ms"`
	ErrorKind   ErrorKind  `json:"error_kind,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Tally counts resolved ballots. Error votes are folded into NoResponse.
type Tally struct {
	Approve    int `json:"approve"`
	Reject     int `json:"reject"`
	Escalate   int `json:"escalate"`
	NoResponse int `json:"no_response"`
}

func (t Tally) Total() int {
	return t.Approve + t.Reject + t.Escalate + t.NoResponse
}

func (t Tally) Responded() int {
	return t.Approve + t.Reject + t.Escalate
}

func (t *Tally) Add(v VoteValue) {
	switch v {
	case VoteApprove:
		t.Approve++
	case VoteReject:
		t.Reject++
	case VoteEscalate:
		t.Escalate++
	default:
		t.NoResponse++
	}
}

func TallyVotes(votes []AgentVote) Tally {
	var t Tally
	for _, v := range votes {
		t.Add(v.Value)
	}
	return t
}

type Stats struct {
	TotalSessions    int `json:"total_sessions"`
	ConsensusReached int `json:"consensus_reached"`
	EscalatedToHuman int `json:"escalated_to_human"`
	PendingReview    int `json:"pending_review"`
}

type SessionFilter struct {
	Status      SessionStatus
	Decision    Decision
	SubjectType string
	Since       *time.Time
	Until       *time.Time
	Limit       int
	Offset      int
}

type AuditEntry struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	Actor     string          `json:"actor"`
	Action    string          `json:"action"`
	Reason    string          `json:"reason"`
	Payload   json.RawMessage `json:"payload"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
	CreatedAt time.Time       `json:"created_at"`
}

type SessionEventKind string

const (
	SessionEventStatusChanged SessionEventKind = "status_changed"
	SessionEventVoteRecorded  SessionEventKind = "vote_recorded"
	SessionEventCompleted     SessionEventKind = "session_completed"
)

type SessionEvent struct {
	Kind      SessionEventKind `json:"kind"`
	SessionID string           `json:"session_id"`
	Status    SessionStatus    `json:"status,omitempty"`
	Vote      *AgentVote       `json:"vote,omitempty"`
	Decision  *Decision        `json:"decision,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// SessionExport is the flat audit bundle for one session.
type SessionExport struct {
	Session CouncilSession `json:"session"`
	Votes   []AgentVote    `json:"votes"`
	Audit   []AuditEntry   `json:"audit"`
}
