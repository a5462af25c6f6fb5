package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"governance_council/internal/domain"
)

func renderSessionsTable(table *tview.Table, sessions []domain.CouncilSession, selectedID string) {
	table.Clear()
	headers := []string{"Session", "Status", "Decision", "A/R/E/N", "Created", "Subject"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, s := range sessions {
		row := i + 1
		table.SetCell(row, 0, tview.NewTableCell(shortID(s.ID)))
		table.SetCell(row, 1, tview.NewTableCell(string(s.Status)))
		table.SetCell(row, 2, tview.NewTableCell(decisionLabel(s.FinalDecision)).SetTextColor(decisionColor(s.FinalDecision)))
		table.SetCell(row, 3, tview.NewTableCell(fmt.Sprintf("%d/%d/%d/%d", s.ApproveVotes, s.RejectVotes, s.EscalateVotes, s.NoResponse)))
		table.SetCell(row, 4, tview.NewTableCell(s.CreatedAt.Local().Format("15:04:05")))
		table.SetCell(row, 5, tview.NewTableCell(trimLine(s.SubjectType+": "+s.SubjectTitle, 64)))
		if s.ID == selectedID {
			table.Select(row, 0)
		}
	}
}

func decisionLabel(d *domain.Decision) string {
	if d == nil {
		return "-"
	}
	return string(*d)
}

func decisionColor(d *domain.Decision) tcell.Color {
	if d == nil {
		return tcell.ColorGray
	}
	switch *d {
	case domain.DecisionApproved:
		return tcell.ColorGreen
	case domain.DecisionRejected:
		return tcell.ColorRed
	default:
		return tcell.ColorYellow
	}
}

func renderVotes(items []domain.AgentVote) string {
	if len(items) == 0 {
		return "No votes"
	}
	var b strings.Builder
	for _, v := range items {
		latency := "-"
		if v.LatencyMS != nil {
			latency = fmt.Sprintf("%dms", *v.LatencyMS)
		}
		b.WriteString(fmt.Sprintf(
			"%-16s %-9s [%s]%-11s[-] %6s",
			trimLine(v.AgentID, 16),
			v.Provider,
			voteTag(v.Value),
			v.Value,
			latency,
		))
		if v.ErrorKind != domain.ErrorKindNone {
			b.WriteString(" err=" + string(v.ErrorKind))
		}
		b.WriteString("\n")
		if strings.TrimSpace(v.Reasoning) != "" {
			b.WriteString("  " + tview.Escape(trimLine(oneLine(v.Reasoning), 110)) + "\n")
		}
	}
	return b.String()
}

func voteTag(v domain.VoteValue) string {
	switch v {
	case domain.VoteApprove:
		return "green"
	case domain.VoteReject:
		return "red"
	case domain.VoteEscalate:
		return "yellow"
	default:
		return "gray"
	}
}

// renderPanel summarises how each provider voted in the selected session and
// lists the agents that have not voted yet.
func renderPanel(session *domain.CouncilSession, agents []domain.AgentIdentity, votes []domain.AgentVote) string {
	if session == nil {
		return "No session selected"
	}
	byProvider := map[domain.Provider]*domain.Tally{}
	voted := make(map[string]bool, len(votes))
	for _, v := range votes {
		voted[v.AgentID] = true
		t, ok := byProvider[v.Provider]
		if !ok {
			t = &domain.Tally{}
			byProvider[v.Provider] = t
		}
		t.Add(v.Value)
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf(
		"Session %s  status=%s  decision=%s  votes=%d/%d\n",
		shortID(session.ID),
		session.Status,
		decisionLabel(session.FinalDecision),
		len(votes),
		session.PanelSize,
	))
	for _, p := range domain.Providers {
		t := byProvider[p]
		if t == nil {
			t = &domain.Tally{}
		}
		b.WriteString(fmt.Sprintf("%-10s approve=%-2d reject=%-2d escalate=%-2d none=%d\n", p, t.Approve, t.Reject, t.Escalate, t.NoResponse))
	}
	var waiting []string
	for _, a := range agents {
		if !voted[a.ID] {
			waiting = append(waiting, a.ID)
		}
	}
	if len(waiting) > 0 && !session.Completed() {
		sort.Strings(waiting)
		b.WriteString("waiting: " + trimLine(strings.Join(waiting, ", "), 200) + "\n")
	}
	if session.LastError != "" {
		b.WriteString("last error: " + tview.Escape(trimLine(session.LastError, 160)) + "\n")
	}
	return b.String()
}

func renderAudit(items []domain.AuditEntry) string {
	if len(items) == 0 {
		return "No audit entries"
	}
	var b strings.Builder
	for _, e := range items {
		b.WriteString(fmt.Sprintf(
			"[%s] %s %s  #%s\n  reason: %s\n",
			e.CreatedAt.Local().Format("15:04:05"),
			e.Actor,
			e.Action,
			shortID(e.Hash),
			tview.Escape(trimLine(e.Reason, 100)),
		))
		if detail := payloadSummary(e.Payload); detail != "" {
			b.WriteString("  payload: " + tview.Escape(trimLine(detail, 160)) + "\n")
		}
	}
	return b.String()
}

func renderStats(s domain.Stats) string {
	return fmt.Sprintf(
		"sessions=%d  consensus=%d  escalated_to_human=%d  pending=%d",
		s.TotalSessions,
		s.ConsensusReached,
		s.EscalatedToHuman,
		s.PendingReview,
	)
}

func payloadSummary(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	trimmed := strings.TrimSpace(string(payload))
	if trimmed == "" || trimmed == "{}" || trimmed == "null" {
		return ""
	}

	var kv map[string]any
	if err := json.Unmarshal(payload, &kv); err == nil {
		keys := make([]string, 0, len(kv))
		for k := range kv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, kv[k]))
		}
		return strings.Join(parts, ", ")
	}
	return trimmed
}

// parseSubject reads a prompt line of the form "type: title | description".
// Without a known type prefix the whole line is the title of a policy subject.
func parseSubject(line string, types []string) (domain.Subject, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return domain.Subject{}, false
	}
	subject := domain.Subject{Type: "policy"}
	if head, rest, ok := strings.Cut(line, ":"); ok {
		head = strings.TrimSpace(head)
		for _, t := range types {
			if strings.EqualFold(head, t) {
				subject.Type = t
				line = strings.TrimSpace(rest)
				break
			}
		}
	}
	title, desc, _ := strings.Cut(line, "|")
	subject.Title = strings.TrimSpace(title)
	subject.Description = strings.TrimSpace(desc)
	if subject.Title == "" {
		return domain.Subject{}, false
	}
	return subject, true
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func trimLine(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func shortID(v string) string {
	if len(v) <= 8 {
		return v
	}
	return v[:8]
}
