package sqlite

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"governance_council/internal/domain"
)

// ErrAuditChainBroken is returned by VerifyAuditChain when a row's hash or
// back-link does not match its predecessor.
var ErrAuditChainBroken = errors.New("audit chain broken")

// LogAudit appends one entry to the hash-chained audit log.
func (s *Store) LogAudit(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	var out domain.AuditEntry
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx audit: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()
		out, err = appendAuditTx(ctx, tx, entry)
		if err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit audit: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.AuditEntry{}, err
	}
	return out, nil
}

func appendAuditTx(ctx context.Context, tx *sql.Tx, entry domain.AuditEntry) (domain.AuditEntry, error) {
	if len(entry.Payload) == 0 {
		entry.Payload = json.RawMessage("{}")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var prev string
	err := tx.QueryRowContext(ctx, `SELECT hash FROM audit_log ORDER BY id DESC LIMIT 1`).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return domain.AuditEntry{}, fmt.Errorf("read audit head: %w", err)
	}
	entry.PrevHash = prev
	entry.Hash = auditHash(entry)

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO audit_log(session_id, actor, action, reason, payload, prev_hash, hash, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.SessionID, entry.Actor, entry.Action, entry.Reason, string(entry.Payload),
		entry.PrevHash, entry.Hash, entry.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("log audit: %w", err)
	}
	entry.ID, err = res.LastInsertId()
	if err != nil {
		return domain.AuditEntry{}, fmt.Errorf("audit last insert id: %w", err)
	}
	return entry, nil
}

// ListSessionAudit returns a session's audit entries oldest first. A
// non-positive limit returns all of them.
func (s *Store) ListSessionAudit(ctx context.Context, sessionID string, limit int) ([]domain.AuditEntry, error) {
	query := `SELECT id, session_id, actor, action, reason, payload, prev_hash, hash, created_at
		FROM audit_log
		WHERE session_id = ?
		ORDER BY id ASC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list session audit: %w", err)
	}
	defer rows.Close()

	result := make([]domain.AuditEntry, 0)
	for rows.Next() {
		item, err := scanAudit(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit: %w", err)
	}
	return result, nil
}

// VerifyAuditChain walks the whole log in insertion order and recomputes every
// hash. It returns the number of entries checked.
func (s *Store) VerifyAuditChain(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, session_id, actor, action, reason, payload, prev_hash, hash, created_at
		FROM audit_log
		ORDER BY id ASC`,
	)
	if err != nil {
		return 0, fmt.Errorf("read audit chain: %w", err)
	}
	defer rows.Close()

	prev := ""
	checked := 0
	for rows.Next() {
		item, err := scanAudit(rows.Scan)
		if err != nil {
			return checked, fmt.Errorf("scan audit: %w", err)
		}
		if item.PrevHash != prev {
			return checked, fmt.Errorf("%w: entry %d links to %q, previous hash is %q", ErrAuditChainBroken, item.ID, item.PrevHash, prev)
		}
		if want := auditHash(item); item.Hash != want {
			return checked, fmt.Errorf("%w: entry %d hash mismatch", ErrAuditChainBroken, item.ID)
		}
		prev = item.Hash
		checked++
	}
	if err := rows.Err(); err != nil {
		return checked, fmt.Errorf("iterate audit chain: %w", err)
	}
	return checked, nil
}

func auditHash(entry domain.AuditEntry) string {
	h := sha256.New()
	for _, part := range []string{
		entry.PrevHash,
		entry.SessionID,
		entry.Actor,
		entry.Action,
		entry.Reason,
		string(entry.Payload),
		strconv.FormatInt(entry.CreatedAt.UTC().UnixMilli(), 10),
	} {
		h.Write([]byte(strconv.Itoa(len(part))))
		h.Write([]byte{':'})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func scanAudit(scanFn func(dest ...any) error) (domain.AuditEntry, error) {
	var item domain.AuditEntry
	var payload string
	var createdAt int64
	if err := scanFn(
		&item.ID, &item.SessionID, &item.Actor, &item.Action, &item.Reason, &payload,
		&item.PrevHash, &item.Hash, &createdAt,
	); err != nil {
		return domain.AuditEntry{}, err
	}
	item.Payload = json.RawMessage(payload)
	item.CreatedAt = milliToTime(createdAt)
	return item, nil
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
