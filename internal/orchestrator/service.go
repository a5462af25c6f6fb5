package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"governance_council/internal/consensus"
	"governance_council/internal/domain"
)

const orchestratorActor = "orchestrator"

type Store interface {
	CreateSession(ctx context.Context, session domain.CouncilSession) (domain.CouncilSession, bool, error)
	TransitionSession(ctx context.Context, sessionID string, from, to domain.SessionStatus) (bool, error)
	AppendVote(ctx context.Context, vote domain.AgentVote) (domain.AgentVote, error)
	FinalizeSession(ctx context.Context, sessionID string, tally domain.Tally, decision domain.Decision, completedAt time.Time) (domain.CouncilSession, error)
	FailSession(ctx context.Context, sessionID string, lastError string) error

	GetSession(ctx context.Context, sessionID string) (domain.CouncilSession, error)
	ListSessions(ctx context.Context, filter domain.SessionFilter) ([]domain.CouncilSession, error)
	ListUnfinishedSessions(ctx context.Context, createdBefore time.Time) ([]domain.CouncilSession, error)
	GetStats(ctx context.Context) (domain.Stats, error)
	ListSessionVotes(ctx context.Context, sessionID string) ([]domain.AgentVote, error)
	ExportSession(ctx context.Context, sessionID string) (domain.SessionExport, error)

	LogAudit(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error)
	ListSessionAudit(ctx context.Context, sessionID string, limit int) ([]domain.AuditEntry, error)
	VerifyAuditChain(ctx context.Context) (int, error)
}

type Registry interface {
	List() []domain.AgentIdentity
	Get(agentID string) (domain.AgentIdentity, bool)
	Size() int
}

type Adapter interface {
	CastVote(ctx context.Context, agent domain.AgentIdentity, subject domain.Subject) domain.VoteResult
}

type Policy interface {
	CanSubmit(ctx context.Context, subject domain.Subject) (bool, string, error)
}

type Bus interface {
	Subscribe(sessionID string) (<-chan domain.SessionEvent, func())
	Publish(event domain.SessionEvent) error
}

type Config struct {
	SessionTimeout   time.Duration
	MaxWait          time.Duration
	MaxOutbound      int
	RecoveryInterval time.Duration
	RecoveryGrace    time.Duration
	StrictInvariants bool
}

func (c Config) withDefaults() Config {
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 30 * time.Second
	}
	if c.MaxWait <= 0 {
		c.MaxWait = 45 * time.Second
	}
	if c.MaxOutbound <= 0 {
		c.MaxOutbound = 64
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = 10 * time.Second
	}
	if c.RecoveryGrace <= 0 {
		c.RecoveryGrace = 15 * time.Second
	}
	return c
}

type Service struct {
	store    Store
	registry Registry
	adapter  Adapter
	policy   Policy
	bus      Bus
	cfg      Config
	logger   *log.Logger

	outbound *semaphore.Weighted
	wg       sync.WaitGroup

	runMu   sync.Mutex
	running map[string]*run
}

// run is one in-process execution of a session. done is closed once session
// and err are final.
type run struct {
	done    chan struct{}
	session domain.CouncilSession
	err     error
}

func New(store Store, registry Registry, adapter Adapter, policy Policy, bus Bus, cfg Config, logger *log.Logger) *Service {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		store:    store,
		registry: registry,
		adapter:  adapter,
		policy:   policy,
		bus:      bus,
		cfg:      cfg,
		logger:   logger,
		outbound: semaphore.NewWeighted(int64(cfg.MaxOutbound)),
		running:  make(map[string]*run),
	}
}

func (s *Service) Config() Config {
	return s.cfg
}

// Start runs the recovery loop until ctx is done.
func (s *Service) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.recoveryLoop(ctx)
	}()
}

// Wait joins the recovery loop and every session still running.
func (s *Service) Wait() {
	s.wg.Wait()
}

type TriggerInput struct {
	Subject        domain.Subject
	IdempotencyKey string
}

type TriggerResult struct {
	Session domain.CouncilSession
	// Created is false when the idempotency key matched an earlier session.
	Created bool
}

// TriggerVoting creates a session and runs it to completion. The session is
// detached from ctx: the caller stops waiting after MaxWait or when ctx ends,
// and then receives the latest persisted snapshot while the session carries
// on in the background.
func (s *Service) TriggerVoting(ctx context.Context, in TriggerInput) (TriggerResult, error) {
	subject := domain.Subject{
		Type:        strings.TrimSpace(in.Subject.Type),
		Title:       strings.TrimSpace(in.Subject.Title),
		Description: strings.TrimSpace(in.Subject.Description),
	}
	allowed, reason, err := s.policy.CanSubmit(ctx, subject)
	if err != nil {
		return TriggerResult{}, fmt.Errorf("policy check: %w", err)
	}
	if !allowed {
		return TriggerResult{}, fmt.Errorf("%w: %s", domain.ErrSubjectRejected, reason)
	}

	now := time.Now().UTC()
	deadline := now.Add(s.cfg.SessionTimeout)
	session, created, err := s.store.CreateSession(ctx, domain.CouncilSession{
		ID:             uuid.NewString(),
		SubjectType:    subject.Type,
		SubjectTitle:   subject.Title,
		SubjectDesc:    subject.Description,
		IdempotencyKey: strings.TrimSpace(in.IdempotencyKey),
		Status:         domain.SessionStatusPending,
		PanelSize:      s.registry.Size(),
		DeadlineAt:     &deadline,
		CreatedAt:      now,
	})
	if err != nil {
		return TriggerResult{}, err
	}

	var r *run
	if created {
		s.logger.Printf("session created session=%s subject_type=%s panel=%d", session.ID, session.SubjectType, session.PanelSize)
		r = s.launch(ctx, session)
	} else {
		s.logger.Printf("session replayed session=%s key=%s status=%s", session.ID, session.IdempotencyKey, session.Status)
		r = s.lookupRun(session.ID)
		if r == nil {
			return TriggerResult{Session: session}, nil
		}
	}

	final, err := s.await(ctx, r, session.ID)
	return TriggerResult{Session: final, Created: created}, err
}

func (s *Service) launch(ctx context.Context, session domain.CouncilSession) *run {
	r := &run{done: make(chan struct{})}
	s.runMu.Lock()
	s.running[session.ID] = r
	s.runMu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		final, err := s.runSession(runCtx, session)
		s.finish(session.ID, r, final, err)
	}()
	return r
}

// claimRun registers a recovery run unless the session is already running.
func (s *Service) claimRun(sessionID string) (*run, bool) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if _, busy := s.running[sessionID]; busy {
		return nil, false
	}
	r := &run{done: make(chan struct{})}
	s.running[sessionID] = r
	return r, true
}

func (s *Service) finish(sessionID string, r *run, final domain.CouncilSession, err error) {
	s.runMu.Lock()
	delete(s.running, sessionID)
	s.runMu.Unlock()
	r.session = final
	r.err = err
	close(r.done)
}

func (s *Service) lookupRun(sessionID string) *run {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running[sessionID]
}

func (s *Service) await(ctx context.Context, r *run, sessionID string) (domain.CouncilSession, error) {
	timer := time.NewTimer(s.cfg.MaxWait)
	defer timer.Stop()

	select {
	case <-r.done:
		return r.session, r.err
	case <-timer.C:
		s.logger.Printf("caller wait elapsed session=%s max_wait=%s", sessionID, s.cfg.MaxWait)
	case <-ctx.Done():
	}

	snapshot, err := s.store.GetSession(context.WithoutCancel(ctx), sessionID)
	if err != nil {
		return domain.CouncilSession{}, err
	}
	return snapshot, ctx.Err()
}

func (s *Service) runSession(ctx context.Context, session domain.CouncilSession) (domain.CouncilSession, error) {
	ok, err := s.store.TransitionSession(ctx, session.ID, domain.SessionStatusPending, domain.SessionStatusCollecting)
	if err != nil {
		return s.failSession(ctx, session, err)
	}
	if !ok {
		return s.failSession(ctx, session, fmt.Errorf("%w: session %s left pending concurrently", domain.ErrInvalidTransition, session.ID))
	}
	s.publish(domain.SessionEvent{Kind: domain.SessionEventStatusChanged, SessionID: session.ID, Status: domain.SessionStatusCollecting})

	if err := s.collect(ctx, session); err != nil {
		return s.failSession(ctx, session, err)
	}
	final, err := s.tallyAndFinalize(ctx, session)
	if err != nil {
		return s.failSession(ctx, session, err)
	}
	return final, nil
}

// collect fans the subject out to every agent and returns once each agent has
// exactly one persisted vote, or a store write failed.
func (s *Service) collect(ctx context.Context, session domain.CouncilSession) error {
	agents := s.registry.List()
	subject := session.Subject()
	deadline := time.Now().Add(s.cfg.SessionTimeout)
	if session.DeadlineAt != nil && session.DeadlineAt.Before(deadline) {
		deadline = *session.DeadlineAt
	}
	s.audit(ctx, session.ID, "dispatch_started", "subject sent to panel", map[string]any{
		"agents":      len(agents),
		"deadline_at": deadline.UTC(),
	})

	sessionCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	group, groupCtx := errgroup.WithContext(sessionCtx)
	b := newBallot(agents)

	for _, agent := range agents {
		group.Go(func() error {
			if err := s.outbound.Acquire(groupCtx, 1); err != nil {
				return nil
			}
			result := s.adapter.CastVote(groupCtx, agent, subject)
			s.outbound.Release(1)

			if sessionCtx.Err() != nil {
				if result.OK() {
					s.lateVote(ctx, session.ID, agent, result)
				}
				return nil
			}
			if groupCtx.Err() != nil {
				return nil
			}
			if !b.claim(agent.ID) {
				return nil
			}
			defer b.written()
			if err := s.recordVote(ctx, result.ToVote(session.ID, agent, time.Now().UTC())); err != nil {
				b.fail(err)
				return err
			}
			return nil
		})
	}

	groupDone := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(groupDone)
	}()
	select {
	case <-groupDone:
	case <-sessionCtx.Done():
	}
	cancel()

	timedOut := 0
	for _, agent := range b.claimRemaining() {
		if b.failure() == nil {
			if err := s.recordVote(ctx, domain.NoResponseVote(session.ID, agent, time.Now().UTC())); err != nil {
				b.fail(err)
			}
			timedOut++
		}
		b.written()
	}
	b.wait()
	// Late adapters still hold outbound slots and may audit a late vote.
	<-groupDone

	if err := b.failure(); err != nil {
		return err
	}
	s.audit(ctx, session.ID, "dispatch_closed", "every agent resolved", map[string]any{
		"agents":    len(agents),
		"timed_out": timedOut,
	})
	return nil
}

func (s *Service) recordVote(ctx context.Context, vote domain.AgentVote) error {
	saved, err := s.store.AppendVote(ctx, vote)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateVote) {
			return s.violation(ctx, vote.SessionID, "duplicate vote", map[string]any{"agent_id": vote.AgentID})
		}
		return fmt.Errorf("record vote agent=%s: %w", vote.AgentID, err)
	}
	s.publish(domain.SessionEvent{Kind: domain.SessionEventVoteRecorded, SessionID: saved.SessionID, Vote: &saved})
	return nil
}

func (s *Service) lateVote(ctx context.Context, sessionID string, agent domain.AgentIdentity, result domain.VoteResult) {
	s.logger.Printf("late vote ignored session=%s agent=%s vote=%s latency=%s", sessionID, agent.ID, result.Vote, result.Latency)
	s.audit(ctx, sessionID, "late_vote_ignored", "response arrived after the session deadline", map[string]any{
		"agent_id":   agent.ID,
		"provider":   agent.Provider,
		"vote":       result.Vote,
		"latency_ms": result.Latency.Milliseconds(),
	})
}

// tallyAndFinalize moves a fully voted session through tallying to completed.
func (s *Service) tallyAndFinalize(ctx context.Context, session domain.CouncilSession) (domain.CouncilSession, error) {
	votes, err := s.store.ListSessionVotes(ctx, session.ID)
	if err != nil {
		return domain.CouncilSession{}, err
	}
	tally := domain.TallyVotes(votes)
	if err := consensus.Validate(tally, session.PanelSize); err != nil {
		return domain.CouncilSession{}, s.violation(ctx, session.ID, err.Error(), map[string]any{
			"tally": tally,
			"panel": session.PanelSize,
		})
	}

	current, err := s.store.GetSession(ctx, session.ID)
	if err != nil {
		return domain.CouncilSession{}, err
	}
	if current.Status == domain.SessionStatusCollecting {
		ok, err := s.store.TransitionSession(ctx, session.ID, domain.SessionStatusCollecting, domain.SessionStatusTallying)
		if err != nil {
			return domain.CouncilSession{}, err
		}
		if !ok {
			return domain.CouncilSession{}, fmt.Errorf("%w: session %s left collecting concurrently", domain.ErrInvalidTransition, session.ID)
		}
	} else if current.Status != domain.SessionStatusTallying {
		return domain.CouncilSession{}, fmt.Errorf("%w: cannot tally from %s", domain.ErrInvalidTransition, current.Status)
	}
	s.publish(domain.SessionEvent{Kind: domain.SessionEventStatusChanged, SessionID: session.ID, Status: domain.SessionStatusTallying})

	decision := consensus.Decide(tally, session.PanelSize)
	final, err := s.store.FinalizeSession(ctx, session.ID, tally, decision, time.Now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrTallyMismatch) {
			return domain.CouncilSession{}, s.violation(ctx, session.ID, err.Error(), map[string]any{"tally": tally})
		}
		return domain.CouncilSession{}, err
	}
	s.logger.Printf(
		"session completed session=%s decision=%s approve=%d reject=%d escalate=%d no_response=%d",
		final.ID, decision, tally.Approve, tally.Reject, tally.Escalate, tally.NoResponse,
	)
	s.publish(domain.SessionEvent{
		Kind:      domain.SessionEventCompleted,
		SessionID: final.ID,
		Status:    final.Status,
		Decision:  final.FinalDecision,
	})
	return final, nil
}

// failSession leaves the session in collecting with the error attached; the
// recovery loop finalizes it later.
func (s *Service) failSession(ctx context.Context, session domain.CouncilSession, cause error) (domain.CouncilSession, error) {
	s.logger.Printf("session failed session=%s err=%v", session.ID, cause)
	if err := s.store.FailSession(ctx, session.ID, trimText(cause.Error(), 500)); err != nil {
		s.logger.Printf("session fail write error session=%s err=%v", session.ID, err)
	}
	s.audit(ctx, session.ID, "session_failed", trimText(cause.Error(), 500), nil)
	snapshot, err := s.store.GetSession(ctx, session.ID)
	if err != nil {
		return session, cause
	}
	return snapshot, cause
}

// violation handles a broken integrity rule: panic in strict mode, otherwise
// audit it and return it as an error so the write is rejected.
func (s *Service) violation(ctx context.Context, sessionID string, reason string, payload map[string]any) error {
	err := fmt.Errorf("invariant violation session=%s: %s", sessionID, reason)
	s.logger.Printf("invariant violation session=%s reason=%s", sessionID, reason)
	s.audit(ctx, sessionID, "invariant_violation", reason, payload)
	if s.cfg.StrictInvariants {
		panic(err)
	}
	return err
}

func (s *Service) publish(event domain.SessionEvent) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if err := s.bus.Publish(event); err != nil {
		s.logger.Printf("event publish dropped session=%s kind=%s err=%v", event.SessionID, event.Kind, err)
	}
}

func (s *Service) audit(ctx context.Context, sessionID, action, reason string, payload any) {
	raw := []byte("{}")
	if payload != nil {
		raw = mustJSON(payload)
	}
	if _, err := s.store.LogAudit(ctx, domain.AuditEntry{
		SessionID: sessionID,
		Actor:     orchestratorActor,
		Action:    action,
		Reason:    reason,
		Payload:   raw,
	}); err != nil {
		s.logger.Printf("audit write failed session=%s action=%s err=%v", sessionID, action, err)
	}
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (domain.CouncilSession, error) {
	return s.store.GetSession(ctx, sessionID)
}

func (s *Service) ListSessions(ctx context.Context, filter domain.SessionFilter) ([]domain.CouncilSession, error) {
	return s.store.ListSessions(ctx, filter)
}

func (s *Service) GetStats(ctx context.Context) (domain.Stats, error) {
	return s.store.GetStats(ctx)
}

func (s *Service) ListSessionVotes(ctx context.Context, sessionID string) ([]domain.AgentVote, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListSessionVotes(ctx, sessionID)
}

func (s *Service) ListSessionAudit(ctx context.Context, sessionID string, limit int) ([]domain.AuditEntry, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.ListSessionAudit(ctx, sessionID, limit)
}

func (s *Service) ExportSession(ctx context.Context, sessionID string) (domain.SessionExport, error) {
	return s.store.ExportSession(ctx, sessionID)
}

func (s *Service) VerifyAudit(ctx context.Context) (int, error) {
	return s.store.VerifyAuditChain(ctx)
}

func (s *Service) Agents() []domain.AgentIdentity {
	return s.registry.List()
}

func (s *Service) Subscribe(sessionID string) (<-chan domain.SessionEvent, func()) {
	return s.bus.Subscribe(sessionID)
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

func trimText(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
