package orchestrator

import (
	"context"
	"errors"
	"time"

	"governance_council/internal/domain"
)

func (s *Service) recoveryLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RecoverOnce(ctx)
		}
	}
}

// RecoverOnce finalizes sessions that outlived their deadline plus the grace
// period without completing, typically after a crash or a fatal store error.
// Agents without a vote are recorded as no_response. It returns how many
// sessions it completed.
func (s *Service) RecoverOnce(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-(s.cfg.SessionTimeout + s.cfg.RecoveryGrace))
	sessions, err := s.store.ListUnfinishedSessions(ctx, cutoff)
	if err != nil {
		s.logger.Printf("recovery list unfinished sessions error: %v", err)
		return 0
	}
	recovered := 0
	for _, session := range sessions {
		r, ok := s.claimRun(session.ID)
		if !ok {
			continue
		}
		final, err := s.recoverSession(ctx, session)
		s.finish(session.ID, r, final, err)
		if err != nil {
			s.logger.Printf("recovery failed session=%s err=%v", session.ID, err)
			continue
		}
		recovered++
	}
	return recovered
}

func (s *Service) recoverSession(ctx context.Context, session domain.CouncilSession) (domain.CouncilSession, error) {
	if session.Status == domain.SessionStatusPending {
		if _, err := s.store.TransitionSession(ctx, session.ID, domain.SessionStatusPending, domain.SessionStatusCollecting); err != nil {
			return session, err
		}
	}

	votes, err := s.store.ListSessionVotes(ctx, session.ID)
	if err != nil {
		return session, err
	}
	voted := make(map[string]bool, len(votes))
	for _, v := range votes {
		if _, ok := s.registry.Get(v.AgentID); !ok {
			return session, s.violation(ctx, session.ID, "vote from agent outside the roster", map[string]any{
				"agent_id": v.AgentID,
			})
		}
		voted[v.AgentID] = true
	}
	filled := 0
	for _, agent := range s.registry.List() {
		if voted[agent.ID] {
			continue
		}
		_, err := s.store.AppendVote(ctx, domain.NoResponseVote(session.ID, agent, time.Now().UTC()))
		if err != nil && !errors.Is(err, domain.ErrDuplicateVote) {
			return session, err
		}
		filled++
	}

	final, err := s.tallyAndFinalize(ctx, session)
	if err != nil {
		return session, err
	}
	s.logger.Printf("session recovered session=%s filled=%d decision=%s", session.ID, filled, *final.FinalDecision)
	s.audit(ctx, session.ID, "session_recovered", "finalized by recovery", map[string]any{
		"previous_status": session.Status,
		"previous_error":  session.LastError,
		"filled":          filled,
	})
	return final, nil
}
