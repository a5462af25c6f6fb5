// Package api serves the council session API over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"governance_council/internal/config"
	"governance_council/internal/domain"
	"governance_council/internal/export"
	"governance_council/internal/orchestrator"
)

type Council interface {
	Config() orchestrator.Config
	TriggerVoting(ctx context.Context, in orchestrator.TriggerInput) (orchestrator.TriggerResult, error)
	GetSession(ctx context.Context, sessionID string) (domain.CouncilSession, error)
	ListSessions(ctx context.Context, filter domain.SessionFilter) ([]domain.CouncilSession, error)
	GetStats(ctx context.Context) (domain.Stats, error)
	ListSessionVotes(ctx context.Context, sessionID string) ([]domain.AgentVote, error)
	ListSessionAudit(ctx context.Context, sessionID string, limit int) ([]domain.AuditEntry, error)
	ExportSession(ctx context.Context, sessionID string) (domain.SessionExport, error)
	VerifyAudit(ctx context.Context) (int, error)
	Agents() []domain.AgentIdentity
	Subscribe(sessionID string) (<-chan domain.SessionEvent, func())
}

type Exporter interface {
	WriteSession(ctx context.Context, bundle domain.SessionExport, relPath string) (string, error)
}

type Server struct {
	council  Council
	exporter Exporter
	cfg      config.Config
	logger   *log.Logger
}

// New builds the API. exporter may be nil, in which case ?save=1 on the
// export endpoint is refused.
func New(council Council, exporter Exporter, cfg config.Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{council: council, exporter: exporter, cfg: cfg, logger: logger}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/config", s.handleConfig)
	mux.HandleFunc("/agents", s.handleAgents)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/audit/verify", s.handleVerify)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/sessions/", s.handleSessionByID)
	return s.loggingMiddleware(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	orch := s.council.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"path": s.cfg.Path,
		"raw":  s.cfg.Raw,
		"effective": map[string]any{
			"session_timeout_ms":   orch.SessionTimeout.Milliseconds(),
			"max_wait_ms":          orch.MaxWait.Milliseconds(),
			"max_outbound":         orch.MaxOutbound,
			"recovery_interval_ms": orch.RecoveryInterval.Milliseconds(),
			"recovery_grace_ms":    orch.RecoveryGrace.Milliseconds(),
			"strict_invariants":    orch.StrictInvariants,
		},
	})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.council.Agents())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.council.GetStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	checked, err := s.council.VerifyAudit(r.Context())
	if err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{
			"ok":      false,
			"checked": checked,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "checked": checked})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter, err := sessionFilter(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sessions, err := s.council.ListSessions(r.Context(), filter)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, sessions)
	case http.MethodPost:
		var req struct {
			SubjectType        string `json:"subject_type"`
			SubjectTitle       string `json:"subject_title"`
			SubjectDescription string `json:"subject_description"`
			IdempotencyKey     string `json:"idempotency_key"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
			return
		}
		if strings.TrimSpace(req.SubjectType) == "" || strings.TrimSpace(req.SubjectTitle) == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("subject_type and subject_title are required"))
			return
		}

		res, err := s.council.TriggerVoting(r.Context(), orchestrator.TriggerInput{
			Subject: domain.Subject{
				Type:        req.SubjectType,
				Title:       req.SubjectTitle,
				Description: req.SubjectDescription,
			},
			IdempotencyKey: firstNonEmpty(r.Header.Get("Idempotency-Key"), req.IdempotencyKey),
		})
		switch {
		case errors.Is(err, domain.ErrSubjectRejected):
			writeError(w, http.StatusBadRequest, err)
			return
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// The client went away or its deadline passed; the session keeps running.
			if res.Session.ID == "" {
				writeError(w, http.StatusServiceUnavailable, err)
				return
			}
			writeJSON(w, http.StatusAccepted, res.Session)
			return
		case err != nil:
			if res.Session.ID != "" {
				s.logger.Printf("session failed session=%s err=%v", res.Session.ID, err)
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		code := http.StatusCreated
		switch {
		case !res.Session.Completed():
			code = http.StatusAccepted
		case !res.Created:
			code = http.StatusOK
		}
		writeJSON(w, code, res.Session)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.TrimPrefix(r.URL.Path, "/sessions/")
	parts := strings.Split(trimmed, "/")
	sessionID := parts[0]
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("session id is required"))
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if len(parts) == 1 {
		session, err := s.council.GetSession(r.Context(), sessionID)
		if err != nil {
			writeLookupError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
		return
	}

	action := parts[1]
	switch action {
	case "votes":
		items, err := s.council.ListSessionVotes(r.Context(), sessionID)
		if err != nil {
			writeLookupError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	case "audit":
		limit := queryInt(r, "limit", 0)
		items, err := s.council.ListSessionAudit(r.Context(), sessionID, limit)
		if err != nil {
			writeLookupError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	case "events":
		s.streamEvents(w, r, sessionID)
	case "export":
		s.exportSession(w, r, sessionID)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action: %s", action))
	}
}

func (s *Server) exportSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	bundle, err := s.council.ExportSession(r.Context(), sessionID)
	if err != nil {
		writeLookupError(w, err)
		return
	}

	if queryBool(r, "save") {
		if s.exporter == nil {
			writeError(w, http.StatusNotImplemented, fmt.Errorf("export directory is not configured"))
			return
		}
		path, err := s.exporter.WriteSession(r.Context(), bundle, r.URL.Query().Get("path"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"session_id": sessionID, "path": path})
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sessionID+".jsonl"))
	w.WriteHeader(http.StatusOK)
	if err := export.Encode(w, bundle); err != nil {
		s.logger.Printf("export stream failed session=%s err=%v", sessionID, err)
	}
}

// streamEvents relays bus events for one session as Server-Sent Events and
// ends after the completion event. A session that is already completed gets
// a single completion event.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, sessionID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	events, cancel := s.council.Subscribe(sessionID)
	defer cancel()

	session, err := s.council.GetSession(r.Context(), sessionID)
	if err != nil {
		writeLookupError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if session.Completed() {
		writeEvent(w, domain.SessionEvent{
			Kind:      domain.SessionEventCompleted,
			SessionID: session.ID,
			Status:    session.Status,
			Decision:  session.FinalDecision,
			CreatedAt: time.Now().UTC(),
		})
		flusher.Flush()
		return
	}
	writeEvent(w, domain.SessionEvent{
		Kind:      domain.SessionEventStatusChanged,
		SessionID: session.ID,
		Status:    session.Status,
		CreatedAt: time.Now().UTC(),
	})
	flusher.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			_, _ = io.WriteString(w, ": keepalive\n\n")
			flusher.Flush()
		case event, ok := <-events:
			if !ok {
				return
			}
			writeEvent(w, event)
			flusher.Flush()
			if event.Kind == domain.SessionEventCompleted {
				return
			}
		}
	}
}

func writeEvent(w io.Writer, event domain.SessionEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind, data)
}

func sessionFilter(r *http.Request) (domain.SessionFilter, error) {
	q := r.URL.Query()
	filter := domain.SessionFilter{
		Status:      domain.SessionStatus(strings.TrimSpace(q.Get("status"))),
		Decision:    domain.Decision(strings.TrimSpace(q.Get("decision"))),
		SubjectType: strings.TrimSpace(q.Get("subject_type")),
		Limit:       queryInt(r, "limit", 0),
		Offset:      queryInt(r, "offset", 0),
	}
	for key, dst := range map[string]**time.Time{"since": &filter.Since, "until": &filter.Until} {
		raw := strings.TrimSpace(q.Get(key))
		if raw == "" {
			continue
		}
		v, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.SessionFilter{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		v = v.UTC()
		*dst = &v
	}
	return filter, nil
}

func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func queryBool(r *http.Request, key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(key)))
	return err == nil && v
}
