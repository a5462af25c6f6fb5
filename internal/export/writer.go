package export

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"governance_council/internal/domain"
)

type AuditLogger interface {
	LogAudit(ctx context.Context, entry domain.AuditEntry) (domain.AuditEntry, error)
}

// Record is one line of an export file.
type Record struct {
	Kind    string                 `json:"kind"`
	Session *domain.CouncilSession `json:"session,omitempty"`
	Vote    *domain.AgentVote      `json:"vote,omitempty"`
	Audit   *domain.AuditEntry     `json:"audit,omitempty"`
}

// Writer stores session bundles as JSON lines under a fixed root directory.
type Writer struct {
	root   string
	logger AuditLogger
}

func NewWriter(root string, logger AuditLogger) (*Writer, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve export root: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create export root: %w", err)
	}
	return &Writer{root: absRoot, logger: logger}, nil
}

func (w *Writer) Root() string {
	return w.root
}

// WriteSession writes the bundle to relPath, or to <session id>.jsonl when
// relPath is empty, and returns the path relative to the root.
func (w *Writer) WriteSession(ctx context.Context, bundle domain.SessionExport, relPath string) (string, error) {
	if strings.TrimSpace(relPath) == "" {
		relPath = bundle.Session.ID + ".jsonl"
	}
	absPath, normalized, err := w.resolve(relPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}

	tmp := absPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	if err := writeRecords(f, bundle); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("close export file: %w", err)
	}
	if err := os.Rename(tmp, absPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("publish export file: %w", err)
	}

	if w.logger != nil {
		if _, err := w.logger.LogAudit(ctx, domain.AuditEntry{
			SessionID: bundle.Session.ID,
			Actor:     "exporter",
			Action:    "session_exported",
			Reason:    "bundle written",
			Payload: mustJSON(map[string]any{
				"path":  normalized,
				"votes": len(bundle.Votes),
				"audit": len(bundle.Audit),
			}),
		}); err != nil {
			return normalized, fmt.Errorf("log export: %w", err)
		}
	}
	return normalized, nil
}

// ReadSession loads a bundle previously written by WriteSession.
func (w *Writer) ReadSession(relPath string) (domain.SessionExport, error) {
	absPath, _, err := w.resolve(relPath)
	if err != nil {
		return domain.SessionExport{}, err
	}
	f, err := os.Open(absPath)
	if err != nil {
		return domain.SessionExport{}, fmt.Errorf("open export file: %w", err)
	}
	defer f.Close()

	var bundle domain.SessionExport
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return domain.SessionExport{}, fmt.Errorf("decode export line: %w", err)
		}
		switch {
		case rec.Session != nil:
			bundle.Session = *rec.Session
		case rec.Vote != nil:
			bundle.Votes = append(bundle.Votes, *rec.Vote)
		case rec.Audit != nil:
			bundle.Audit = append(bundle.Audit, *rec.Audit)
		}
	}
	if err := scanner.Err(); err != nil {
		return domain.SessionExport{}, fmt.Errorf("read export file: %w", err)
	}
	return bundle, nil
}

func writeRecords(f *os.File, bundle domain.SessionExport) error {
	if err := Encode(f, bundle); err != nil {
		return err
	}
	return f.Sync()
}

// Encode writes the bundle as JSON lines: the session first, then its votes,
// then its audit entries.
func Encode(out io.Writer, bundle domain.SessionExport) error {
	buf := bufio.NewWriter(out)
	enc := json.NewEncoder(buf)
	if err := enc.Encode(Record{Kind: "session", Session: &bundle.Session}); err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	for i := range bundle.Votes {
		if err := enc.Encode(Record{Kind: "vote", Vote: &bundle.Votes[i]}); err != nil {
			return fmt.Errorf("encode vote: %w", err)
		}
	}
	for i := range bundle.Audit {
		if err := enc.Encode(Record{Kind: "audit", Audit: &bundle.Audit[i]}); err != nil {
			return fmt.Errorf("encode audit: %w", err)
		}
	}
	if err := buf.Flush(); err != nil {
		return fmt.Errorf("flush export: %w", err)
	}
	return nil
}

func (w *Writer) resolve(relPath string) (absolute string, normalized string, err error) {
	normalized = strings.ReplaceAll(strings.TrimSpace(relPath), "\\", "/")
	normalized = strings.TrimPrefix(normalized, "./")
	normalized = strings.TrimPrefix(normalized, "/")
	if normalized == "" || normalized == "." {
		return "", "", fmt.Errorf("invalid relative path %q", relPath)
	}

	absClean := filepath.Clean(filepath.Join(w.root, filepath.FromSlash(normalized)))
	rel, err := filepath.Rel(filepath.Clean(w.root), absClean)
	if err != nil {
		return "", "", fmt.Errorf("resolve relative path: %w", err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("path escapes export root: %q", relPath)
	}
	return absClean, filepath.ToSlash(rel), nil
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
