package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"governance_council/internal/domain"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS council_sessions (
	id TEXT PRIMARY KEY,
	subject_type TEXT NOT NULL,
	subject_title TEXT NOT NULL,
	subject_description TEXT NOT NULL DEFAULT '',
	idempotency_key TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	panel_size INTEGER NOT NULL,
	approve_votes INTEGER NOT NULL DEFAULT 0,
	reject_votes INTEGER NOT NULL DEFAULT 0,
	escalate_votes INTEGER NOT NULL DEFAULT 0,
	no_response_count INTEGER NOT NULL DEFAULT 0,
	total_votes INTEGER NOT NULL DEFAULT 0,
	final_decision TEXT NULL,
	last_error TEXT NOT NULL DEFAULT '',
	deadline_at INTEGER NULL,
	created_at INTEGER NOT NULL,
	completed_at INTEGER NULL
);
CREATE INDEX IF NOT EXISTS idx_council_sessions_created ON council_sessions(created_at);
CREATE INDEX IF NOT EXISTS idx_council_sessions_status ON council_sessions(status, created_at);

CREATE TABLE IF NOT EXISTS agent_votes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	vote_value TEXT NOT NULL,
	reasoning TEXT NOT NULL DEFAULT '',
	responded_at INTEGER NULL,
	latency_ms INTEGER NULL,
	error_kind TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	UNIQUE(session_id, agent_id),
	FOREIGN KEY(session_id) REFERENCES council_sessions(id)
);

CREATE TABLE IF NOT EXISTS idempotency_keys (
	key TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	reason TEXT NOT NULL,
	payload TEXT NOT NULL,
	prev_hash TEXT NOT NULL,
	hash TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_log_session ON audit_log(session_id, id);

CREATE TRIGGER IF NOT EXISTS agent_votes_no_update BEFORE UPDATE ON agent_votes
BEGIN SELECT RAISE(ABORT, 'agent_votes is append-only'); END;
CREATE TRIGGER IF NOT EXISTS agent_votes_no_delete BEFORE DELETE ON agent_votes
BEGIN SELECT RAISE(ABORT, 'agent_votes is append-only'); END;
CREATE TRIGGER IF NOT EXISTS audit_log_no_update BEFORE UPDATE ON audit_log
BEGIN SELECT RAISE(ABORT, 'audit_log is append-only'); END;
CREATE TRIGGER IF NOT EXISTS audit_log_no_delete BEFORE DELETE ON audit_log
BEGIN SELECT RAISE(ABORT, 'audit_log is append-only'); END;
CREATE TRIGGER IF NOT EXISTS council_sessions_no_delete BEFORE DELETE ON council_sessions
BEGIN SELECT RAISE(ABORT, 'council sessions are never deleted'); END;
`

const sessionColumns = `id, subject_type, subject_title, subject_description, idempotency_key, status,
	panel_size, approve_votes, reject_votes, escalate_votes, no_response_count, total_votes,
	final_decision, last_error, deadline_at, created_at, completed_at`

const voteColumns = `id, session_id, agent_id, provider, vote_value, reasoning, responded_at,
	latency_ms, error_kind, created_at`

// Store is the single writer for council records. The pool is pinned to one
// connection, so every statement and transaction is serialized; code running
// inside a transaction must only use that transaction.
type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// CreateSession inserts a new session. When the session carries an
// idempotency key that was already used, the earlier session is returned and
// created is false.
func (s *Store) CreateSession(ctx context.Context, session domain.CouncilSession) (domain.CouncilSession, bool, error) {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	if session.Status == "" {
		session.Status = domain.SessionStatusPending
	}

	var existingID string
	err := retryOnBusy(ctx, 5, func() error {
		existingID = ""
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx create session: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		if session.IdempotencyKey != "" {
			res, err := tx.ExecContext(
				ctx,
				`INSERT OR IGNORE INTO idempotency_keys(key, session_id, created_at) VALUES(?, ?, ?)`,
				session.IdempotencyKey, session.ID, session.CreatedAt.UnixMilli(),
			)
			if err != nil {
				return fmt.Errorf("insert idempotency key: %w", err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("idempotency rows affected: %w", err)
			}
			if affected == 0 {
				if err := tx.QueryRowContext(
					ctx,
					`SELECT session_id FROM idempotency_keys WHERE key = ?`,
					session.IdempotencyKey,
				).Scan(&existingID); err != nil {
					return fmt.Errorf("read idempotency key: %w", err)
				}
				return nil
			}
		}

		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO council_sessions(
				id, subject_type, subject_title, subject_description, idempotency_key, status,
				panel_size, deadline_at, created_at
			) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID, session.SubjectType, session.SubjectTitle, session.SubjectDesc,
			session.IdempotencyKey, string(session.Status), session.PanelSize,
			nullableMilli(session.DeadlineAt), session.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert session: %w", err)
		}
		if _, err := appendAuditTx(ctx, tx, domain.AuditEntry{
			SessionID: session.ID,
			Actor:     "store",
			Action:    "session_created",
			Reason:    "council session created",
			Payload:   mustJSON(session.Subject()),
		}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit create session: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.CouncilSession{}, false, err
	}
	if existingID != "" {
		existing, err := s.GetSession(ctx, existingID)
		if err != nil {
			return domain.CouncilSession{}, false, err
		}
		return existing, false, nil
	}
	created, err := s.GetSession(ctx, session.ID)
	if err != nil {
		return domain.CouncilSession{}, false, err
	}
	return created, true, nil
}

// TransitionSession moves a session from one status to another only if it is
// currently in from. It reports false when another writer got there first.
func (s *Store) TransitionSession(ctx context.Context, sessionID string, from, to domain.SessionStatus) (bool, error) {
	var affected int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE council_sessions SET status = ? WHERE id = ? AND status = ?`,
			string(to), sessionID, string(from),
		)
		if err != nil {
			return fmt.Errorf("transition session: %w", err)
		}
		affected, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("transition rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if affected == 0 {
		if _, err := s.GetSession(ctx, sessionID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// AppendVote records one agent's vote. A second vote for the same
// (session, agent) pair returns ErrDuplicateVote and leaves the first intact.
func (s *Store) AppendVote(ctx context.Context, vote domain.AgentVote) (domain.AgentVote, error) {
	if vote.CreatedAt.IsZero() {
		vote.CreatedAt = time.Now().UTC()
	}
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx append vote: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		var status string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM council_sessions WHERE id = ?`, vote.SessionID).Scan(&status); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrSessionNotFound
			}
			return fmt.Errorf("read session status: %w", err)
		}
		if domain.SessionStatus(status) == domain.SessionStatusCompleted {
			return fmt.Errorf("%w: session %s is completed", domain.ErrInvalidTransition, vote.SessionID)
		}

		res, err := tx.ExecContext(
			ctx,
			`INSERT OR IGNORE INTO agent_votes(
				session_id, agent_id, provider, vote_value, reasoning, responded_at,
				latency_ms, error_kind, created_at
			) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			vote.SessionID, vote.AgentID, string(vote.Provider), string(vote.Value), vote.Reasoning,
			nullableMilli(vote.RespondedAt), nullableInt64(vote.LatencyMS), string(vote.ErrorKind),
			vote.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("insert vote: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("vote rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("%w: session=%s agent=%s", domain.ErrDuplicateVote, vote.SessionID, vote.AgentID)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("vote last insert id: %w", err)
		}
		vote.ID = id
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit append vote: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.AgentVote{}, err
	}
	return vote, nil
}

// FinalizeSession completes a tallying session. The persisted votes are
// recounted inside the same transaction and must agree with the tally and the
// panel size, otherwise nothing is written.
func (s *Store) FinalizeSession(
	ctx context.Context,
	sessionID string,
	tally domain.Tally,
	decision domain.Decision,
	completedAt time.Time,
) (domain.CouncilSession, error) {
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx finalize session: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		var panel int
		var status string
		if err := tx.QueryRowContext(
			ctx,
			`SELECT panel_size, status FROM council_sessions WHERE id = ?`,
			sessionID,
		).Scan(&panel, &status); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrSessionNotFound
			}
			return fmt.Errorf("read session for finalize: %w", err)
		}
		if domain.SessionStatus(status) != domain.SessionStatusTallying {
			return fmt.Errorf("%w: finalize from %s", domain.ErrInvalidTransition, status)
		}

		recount, err := countVotesTx(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if recount != tally {
			return fmt.Errorf("%w: tally=%+v recorded=%+v", domain.ErrTallyMismatch, tally, recount)
		}
		if recount.Total() != panel {
			return fmt.Errorf("%w: recorded=%d panel=%d", domain.ErrTallyMismatch, recount.Total(), panel)
		}

		if _, err := tx.ExecContext(
			ctx,
			`UPDATE council_sessions
			SET status = ?, approve_votes = ?, reject_votes = ?, escalate_votes = ?,
				no_response_count = ?, total_votes = ?, final_decision = ?, last_error = '',
				completed_at = ?
			WHERE id = ? AND status = ?`,
			string(domain.SessionStatusCompleted), tally.Approve, tally.Reject, tally.Escalate,
			tally.NoResponse, tally.Total(), string(decision), completedAt.UTC().UnixMilli(),
			sessionID, string(domain.SessionStatusTallying),
		); err != nil {
			return fmt.Errorf("finalize session: %w", err)
		}
		if _, err := appendAuditTx(ctx, tx, domain.AuditEntry{
			SessionID: sessionID,
			Actor:     "store",
			Action:    "session_finalized",
			Reason:    "tally persisted",
			Payload: mustJSON(map[string]any{
				"tally":    tally,
				"decision": decision,
			}),
		}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit finalize session: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.CouncilSession{}, err
	}
	return s.GetSession(ctx, sessionID)
}

// FailSession parks a session in collecting with the fatal error attached so
// recovery can pick it up later.
func (s *Store) FailSession(ctx context.Context, sessionID string, lastError string) error {
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(
			ctx,
			`UPDATE council_sessions SET status = ?, last_error = ? WHERE id = ? AND status != ?`,
			string(domain.SessionStatusCollecting), lastError, sessionID, string(domain.SessionStatusCompleted),
		)
		if err != nil {
			return fmt.Errorf("fail session: %w", err)
		}
		return nil
	})
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (domain.CouncilSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM council_sessions WHERE id = ?`, sessionID)
	session, err := scanSession(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CouncilSession{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, sessionID)
		}
		return domain.CouncilSession{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (s *Store) ListSessions(ctx context.Context, filter domain.SessionFilter) ([]domain.CouncilSession, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Decision != "" {
		where = append(where, "final_decision = ?")
		args = append(args, string(filter.Decision))
	}
	if filter.SubjectType != "" {
		where = append(where, "subject_type = ?")
		args = append(args, filter.SubjectType)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, filter.Since.UTC().UnixMilli())
	}
	if filter.Until != nil {
		where = append(where, "created_at < ?")
		args = append(args, filter.Until.UTC().UnixMilli())
	}
	query := `SELECT ` + sessionColumns + ` FROM council_sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.CouncilSession, 0)
	for rows.Next() {
		session, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		result = append(result, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return result, nil
}

// ListUnfinishedSessions returns sessions that never reached completed and
// were created before the cutoff.
func (s *Store) ListUnfinishedSessions(ctx context.Context, createdBefore time.Time) ([]domain.CouncilSession, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+sessionColumns+` FROM council_sessions
		WHERE status != ? AND created_at < ?
		ORDER BY created_at ASC`,
		string(domain.SessionStatusCompleted), createdBefore.UTC().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("list unfinished sessions: %w", err)
	}
	defer rows.Close()

	var sessions []domain.CouncilSession
	for rows.Next() {
		session, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan unfinished session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unfinished sessions: %w", err)
	}
	return sessions, nil
}

// GetStats counts from the sessions table directly, so a completed session is
// visible the moment its finalize transaction commits.
func (s *Store) GetStats(ctx context.Context) (domain.Stats, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = ? AND final_decision IN (?, ?) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = ? AND final_decision IN (?, ?) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status != ? THEN 1 ELSE 0 END), 0)
		FROM council_sessions`,
		string(domain.SessionStatusCompleted), string(domain.DecisionApproved), string(domain.DecisionRejected),
		string(domain.SessionStatusCompleted), string(domain.DecisionEscalated), string(domain.DecisionInconclusive),
		string(domain.SessionStatusCompleted),
	)
	var stats domain.Stats
	if err := row.Scan(&stats.TotalSessions, &stats.ConsensusReached, &stats.EscalatedToHuman, &stats.PendingReview); err != nil {
		return domain.Stats{}, fmt.Errorf("get stats: %w", err)
	}
	return stats, nil
}

func (s *Store) ListSessionVotes(ctx context.Context, sessionID string) ([]domain.AgentVote, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+voteColumns+` FROM agent_votes WHERE session_id = ? ORDER BY id ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list session votes: %w", err)
	}
	defer rows.Close()

	result := make([]domain.AgentVote, 0)
	for rows.Next() {
		vote, err := scanVote(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		result = append(result, vote)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate votes: %w", err)
	}
	return result, nil
}

func (s *Store) ExportSession(ctx context.Context, sessionID string) (domain.SessionExport, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return domain.SessionExport{}, err
	}
	votes, err := s.ListSessionVotes(ctx, sessionID)
	if err != nil {
		return domain.SessionExport{}, err
	}
	audit, err := s.ListSessionAudit(ctx, sessionID, 0)
	if err != nil {
		return domain.SessionExport{}, err
	}
	return domain.SessionExport{Session: session, Votes: votes, Audit: audit}, nil
}

func countVotesTx(ctx context.Context, tx *sql.Tx, sessionID string) (domain.Tally, error) {
	rows, err := tx.QueryContext(
		ctx,
		`SELECT vote_value, COUNT(*) FROM agent_votes WHERE session_id = ? GROUP BY vote_value`,
		sessionID,
	)
	if err != nil {
		return domain.Tally{}, fmt.Errorf("count votes: %w", err)
	}
	defer rows.Close()

	var tally domain.Tally
	for rows.Next() {
		var value string
		var count int
		if err := rows.Scan(&value, &count); err != nil {
			return domain.Tally{}, fmt.Errorf("scan vote count: %w", err)
		}
		for i := 0; i < count; i++ {
			tally.Add(domain.VoteValue(value))
		}
	}
	if err := rows.Err(); err != nil {
		return domain.Tally{}, fmt.Errorf("iterate vote counts: %w", err)
	}
	return tally, nil
}

func scanSession(scanFn func(dest ...any) error) (domain.CouncilSession, error) {
	var s domain.CouncilSession
	var status string
	var decision sql.NullString
	var deadline, completed sql.NullInt64
	var created int64
	if err := scanFn(
		&s.ID, &s.SubjectType, &s.SubjectTitle, &s.SubjectDesc, &s.IdempotencyKey, &status,
		&s.PanelSize, &s.ApproveVotes, &s.RejectVotes, &s.EscalateVotes, &s.NoResponse, &s.TotalVotes,
		&decision, &s.LastError, &deadline, &created, &completed,
	); err != nil {
		return domain.CouncilSession{}, err
	}
	s.Status = domain.SessionStatus(status)
	if decision.Valid && decision.String != "" {
		d := domain.Decision(decision.String)
		s.FinalDecision = &d
	}
	s.DeadlineAt = milliToTimePtr(deadline)
	s.CreatedAt = milliToTime(created)
	s.CompletedAt = milliToTimePtr(completed)
	return s, nil
}

func scanVote(scanFn func(dest ...any) error) (domain.AgentVote, error) {
	var v domain.AgentVote
	var provider, value, errorKind string
	var responded, latency sql.NullInt64
	var created int64
	if err := scanFn(
		&v.ID, &v.SessionID, &v.AgentID, &provider, &value, &v.Reasoning, &responded,
		&latency, &errorKind, &created,
	); err != nil {
		return domain.AgentVote{}, err
	}
	v.Provider = domain.Provider(provider)
	v.Value = domain.VoteValue(value)
	v.ErrorKind = domain.ErrorKind(errorKind)
	v.RespondedAt = milliToTimePtr(responded)
	if latency.Valid {
		ms := latency.Int64
		v.LatencyMS = &ms
	}
	v.CreatedAt = milliToTime(created)
	return v, nil
}

func retryOnBusy(ctx context.Context, maxRetries int, f func() error) error {
	const baseDelay = 25 * time.Millisecond
	const maxDelay = 400 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = f()
		if err == nil || !isSQLiteBusy(err) || attempt == maxRetries {
			return err
		}
		delay := baseDelay << uint(attempt)
		if delay > maxDelay {
			delay = maxDelay
		}
		delay = delay - delay/4 + time.Duration(rand.IntN(int(delay/2)))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}

func milliToTimePtr(v sql.NullInt64) *time.Time {
	if !v.Valid || v.Int64 <= 0 {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func milliToTime(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func nullableMilli(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
