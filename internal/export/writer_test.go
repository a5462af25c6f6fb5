package export

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"governance_council/internal/domain"
)

type testLogger struct {
	entries []domain.AuditEntry
}

func (l *testLogger) LogAudit(_ context.Context, entry domain.AuditEntry) (domain.AuditEntry, error) {
	entry.CreatedAt = time.Now().UTC()
	l.entries = append(l.entries, entry)
	return entry, nil
}

func sampleBundle() domain.SessionExport {
	decision := domain.DecisionApproved
	return domain.SessionExport{
		Session: domain.CouncilSession{
			ID:            "s-1",
			SubjectType:   "policy",
			SubjectTitle:  "Weekend deploys",
			Status:        domain.SessionStatusCompleted,
			PanelSize:     2,
			ApproveVotes:  2,
			TotalVotes:    2,
			FinalDecision: &decision,
		},
		Votes: []domain.AgentVote{
			{ID: 1, SessionID: "s-1", AgentID: "a", Provider: domain.ProviderOpenAI, Value: domain.VoteApprove},
			{ID: 2, SessionID: "s-1", AgentID: "b", Provider: domain.ProviderGemini, Value: domain.VoteApprove},
		},
		Audit: []domain.AuditEntry{
			{ID: 1, SessionID: "s-1", Actor: "store", Action: "session_created", Payload: json.RawMessage(`{}`)},
		},
	}
}

func TestWriteSessionRoundTrip(t *testing.T) {
	logger := &testLogger{}
	w, err := NewWriter(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}

	rel, err := w.WriteSession(context.Background(), sampleBundle(), "")
	if err != nil {
		t.Fatalf("write session: %v", err)
	}
	if rel != "s-1.jsonl" {
		t.Fatalf("rel=%q", rel)
	}
	raw, err := os.ReadFile(filepath.Join(w.Root(), rel))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if lines := strings.Count(string(raw), "\n"); lines != 4 {
		t.Fatalf("lines=%d want=4", lines)
	}

	got, err := w.ReadSession(rel)
	if err != nil {
		t.Fatalf("read session: %v", err)
	}
	if got.Session.ID != "s-1" || len(got.Votes) != 2 || len(got.Audit) != 1 {
		t.Fatalf("unexpected bundle: %+v", got)
	}
	if len(logger.entries) != 1 || logger.entries[0].Action != "session_exported" {
		t.Fatalf("expected export to be audited, got %+v", logger.entries)
	}
}

func TestWriteSessionRejectsEscape(t *testing.T) {
	logger := &testLogger{}
	w, err := NewWriter(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	for _, p := range []string{"../outside.jsonl", "a/../../outside.jsonl", "."} {
		if _, err := w.WriteSession(context.Background(), sampleBundle(), p); err == nil {
			t.Fatalf("expected %q to be rejected", p)
		}
	}
	if len(logger.entries) != 0 {
		t.Fatalf("rejected writes must not be audited")
	}
}

func TestWriteSessionNestedPath(t *testing.T) {
	w, err := NewWriter(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	rel, err := w.WriteSession(context.Background(), sampleBundle(), "2026/10/s-1.jsonl")
	if err != nil {
		t.Fatalf("write nested: %v", err)
	}
	if rel != "2026/10/s-1.jsonl" {
		t.Fatalf("rel=%q", rel)
	}
}
