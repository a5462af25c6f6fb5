package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"governance_council/internal/config"
	"governance_council/internal/domain"
	"governance_council/internal/export"
	"governance_council/internal/messaging/inproc"
	"governance_council/internal/orchestrator"
	"governance_council/internal/policy"
	"governance_council/internal/registry"
	sqlitestore "governance_council/internal/store/sqlite"
)

type adapterFunc func(ctx context.Context, agent domain.AgentIdentity, subject domain.Subject) domain.VoteResult

func (f adapterFunc) CastVote(ctx context.Context, agent domain.AgentIdentity, subject domain.Subject) domain.VoteResult {
	return f(ctx, agent, subject)
}

func approveAll(context.Context, domain.AgentIdentity, domain.Subject) domain.VoteResult {
	return domain.CastResult(domain.VoteApprove, "fine", time.Millisecond)
}

type harness struct {
	srv     *httptest.Server
	store   *sqlitestore.Store
	writer  *export.Writer
	service *orchestrator.Service
}

func newHarness(t *testing.T, adapter adapterFunc, cfg orchestrator.Config) *harness {
	t.Helper()
	dir := t.TempDir()
	store, err := sqlitestore.Open(filepath.Join(dir, "council.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	reg, err := registry.Load("")
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	if cfg.RecoveryInterval == 0 {
		cfg.RecoveryInterval = time.Hour
	}
	logger := log.New(io.Discard, "", 0)
	svc := orchestrator.New(store, reg, adapter, policy.New(policy.Config{}), inproc.New(256), cfg, logger)
	t.Cleanup(svc.Wait)

	writer, err := export.NewWriter(filepath.Join(dir, "exports"), store)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	srv := httptest.NewServer(New(svc, writer, config.Config{Path: "test.toml", Raw: map[string]any{}}, logger).Handler())
	t.Cleanup(srv.Close)
	return &harness{srv: srv, store: store, writer: writer, service: svc}
}

func (h *harness) post(t *testing.T, body string, key string) (*http.Response, domain.CouncilSession) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/sessions", strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("post sessions: %v", err)
	}
	defer resp.Body.Close()
	var session domain.CouncilSession
	if resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
			t.Fatalf("decode session: %v", err)
		}
	}
	return resp, session
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

const subjectBody = `{"subject_type":"policy","subject_title":"Allow weekend deploys","subject_description":"Lift the freeze."}`

func TestPostSessionCreatesAndReplays(t *testing.T) {
	h := newHarness(t, approveAll, orchestrator.Config{SessionTimeout: 2 * time.Second})

	resp, first := h.post(t, subjectBody, "key-1")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status=%d want=201", resp.StatusCode)
	}
	if !first.Completed() || first.FinalDecision == nil || *first.FinalDecision != domain.DecisionApproved {
		t.Fatalf("unexpected session: %+v", first)
	}
	if first.ApproveVotes != 33 || first.TotalVotes != 33 {
		t.Fatalf("unexpected tally: %+v", first)
	}

	resp, replay := h.post(t, subjectBody, "key-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("replay status=%d want=200", resp.StatusCode)
	}
	if replay.ID != first.ID {
		t.Fatalf("replay returned %s want %s", replay.ID, first.ID)
	}

	// The body field is honoured when no header is sent.
	resp, bodyKey := h.post(t, `{"subject_type":"policy","subject_title":"t","idempotency_key":"key-1"}`, "")
	if resp.StatusCode != http.StatusOK || bodyKey.ID != first.ID {
		t.Fatalf("body key status=%d id=%s", resp.StatusCode, bodyKey.ID)
	}
}

func TestPostSessionBadRequests(t *testing.T) {
	h := newHarness(t, approveAll, orchestrator.Config{SessionTimeout: time.Second})

	tests := []struct {
		name string
		body string
	}{
		{name: "invalid json", body: `{"subject_type":`},
		{name: "missing title", body: `{"subject_type":"policy"}`},
		{name: "unknown subject type", body: `{"subject_type":"lunch","subject_title":"Pizza"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := h.post(t, tt.body, "")
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status=%d want=400", resp.StatusCode)
			}
		})
	}

	var sessions []domain.CouncilSession
	if code := getJSON(t, h.srv.URL+"/sessions", &sessions); code != http.StatusOK {
		t.Fatalf("list status=%d", code)
	}
	if len(sessions) != 0 {
		t.Fatalf("rejected subjects must not create sessions, got %d", len(sessions))
	}
}

func TestPostSessionAcceptedWhenWaitElapses(t *testing.T) {
	release := make(chan struct{})
	slow := func(ctx context.Context, _ domain.AgentIdentity, _ domain.Subject) domain.VoteResult {
		select {
		case <-release:
			return domain.CastResult(domain.VoteReject, "no", time.Millisecond)
		case <-ctx.Done():
			return domain.FailureResult(domain.ErrorKindTimeout, ctx.Err(), 0)
		}
	}
	h := newHarness(t, slow, orchestrator.Config{SessionTimeout: 5 * time.Second, MaxWait: 50 * time.Millisecond})

	resp, session := h.post(t, subjectBody, "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status=%d want=202", resp.StatusCode)
	}
	if session.Completed() {
		t.Fatalf("session should still be running: %+v", session)
	}
	close(release)

	deadline := time.Now().Add(5 * time.Second)
	for {
		var got domain.CouncilSession
		if code := getJSON(t, h.srv.URL+"/sessions/"+session.ID, &got); code != http.StatusOK {
			t.Fatalf("get status=%d", code)
		}
		if got.Completed() {
			if got.FinalDecision == nil || *got.FinalDecision != domain.DecisionRejected {
				t.Fatalf("unexpected decision: %+v", got)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("session did not complete")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSessionReadEndpoints(t *testing.T) {
	h := newHarness(t, approveAll, orchestrator.Config{SessionTimeout: 2 * time.Second})
	_, session := h.post(t, subjectBody, "")

	var votes []domain.AgentVote
	if code := getJSON(t, h.srv.URL+"/sessions/"+session.ID+"/votes", &votes); code != http.StatusOK {
		t.Fatalf("votes status=%d", code)
	}
	if len(votes) != 33 {
		t.Fatalf("votes=%d want=33", len(votes))
	}

	var audit []domain.AuditEntry
	if code := getJSON(t, h.srv.URL+"/sessions/"+session.ID+"/audit", &audit); code != http.StatusOK {
		t.Fatalf("audit status=%d", code)
	}
	if len(audit) == 0 || audit[0].Action != "session_created" {
		t.Fatalf("unexpected audit trail: %+v", audit)
	}

	var stats domain.Stats
	if code := getJSON(t, h.srv.URL+"/stats", &stats); code != http.StatusOK {
		t.Fatalf("stats status=%d", code)
	}
	if stats.TotalSessions != 1 || stats.ConsensusReached != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	var agents []domain.AgentIdentity
	if code := getJSON(t, h.srv.URL+"/agents", &agents); code != http.StatusOK || len(agents) != 33 {
		t.Fatalf("agents status=%d len=%d", code, len(agents))
	}

	var verify map[string]any
	if code := getJSON(t, h.srv.URL+"/audit/verify", &verify); code != http.StatusOK {
		t.Fatalf("verify status=%d", code)
	}
	if verify["ok"] != true {
		t.Fatalf("unexpected verify result: %+v", verify)
	}

	var filtered []domain.CouncilSession
	getJSON(t, h.srv.URL+"/sessions?decision=rejected", &filtered)
	if len(filtered) != 0 {
		t.Fatalf("decision filter returned %d sessions", len(filtered))
	}
	getJSON(t, h.srv.URL+"/sessions?decision=approved&subject_type=policy", &filtered)
	if len(filtered) != 1 || filtered[0].ID != session.ID {
		t.Fatalf("unexpected filtered sessions: %+v", filtered)
	}
}

func TestUnknownSessionIsNotFound(t *testing.T) {
	h := newHarness(t, approveAll, orchestrator.Config{})
	for _, suffix := range []string{"", "/votes", "/audit", "/export", "/events"} {
		if code := getJSON(t, h.srv.URL+"/sessions/missing"+suffix, nil); code != http.StatusNotFound {
			t.Fatalf("%q status=%d want=404", suffix, code)
		}
	}
	if code := getJSON(t, h.srv.URL+"/sessions/missing/bogus", nil); code != http.StatusNotFound {
		t.Fatalf("unknown action status=%d want=404", code)
	}
}

func TestExportStreamsAndSaves(t *testing.T) {
	h := newHarness(t, approveAll, orchestrator.Config{SessionTimeout: 2 * time.Second})
	_, session := h.post(t, subjectBody, "")

	resp, err := http.Get(h.srv.URL + "/sessions/" + session.ID + "/export")
	if err != nil {
		t.Fatalf("get export: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content-type=%q", ct)
	}
	kinds := map[string]int{}
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var rec export.Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		kinds[rec.Kind]++
	}
	if kinds["session"] != 1 || kinds["vote"] != 33 || kinds["audit"] == 0 {
		t.Fatalf("unexpected export contents: %+v", kinds)
	}

	var saved map[string]any
	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/sessions/"+session.ID+"/export?save=1", nil)
	saveResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("save export: %v", err)
	}
	defer saveResp.Body.Close()
	if saveResp.StatusCode != http.StatusCreated {
		t.Fatalf("save status=%d", saveResp.StatusCode)
	}
	if err := json.NewDecoder(saveResp.Body).Decode(&saved); err != nil {
		t.Fatalf("decode save: %v", err)
	}
	bundle, err := h.writer.ReadSession(fmt.Sprint(saved["path"]))
	if err != nil {
		t.Fatalf("read saved export: %v", err)
	}
	if bundle.Session.ID != session.ID || len(bundle.Votes) != 33 {
		t.Fatalf("unexpected saved bundle: %+v", bundle.Session)
	}
}

func TestEventsStreamEndsOnCompletion(t *testing.T) {
	release := make(chan struct{})
	gated := func(ctx context.Context, _ domain.AgentIdentity, _ domain.Subject) domain.VoteResult {
		select {
		case <-release:
			return domain.CastResult(domain.VoteEscalate, "needs a human", time.Millisecond)
		case <-ctx.Done():
			return domain.FailureResult(domain.ErrorKindTimeout, ctx.Err(), 0)
		}
	}
	h := newHarness(t, gated, orchestrator.Config{SessionTimeout: 5 * time.Second, MaxWait: 10 * time.Millisecond})
	_, session := h.post(t, subjectBody, "")

	resp, err := http.Get(h.srv.URL + "/sessions/" + session.ID + "/events")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%q", ct)
	}
	close(release)

	var (
		names    []string
		decision domain.Decision
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			names = append(names, name)
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			var event domain.SessionEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			if event.Decision != nil {
				decision = *event.Decision
			}
		}
	}
	if len(names) == 0 || names[len(names)-1] != string(domain.SessionEventCompleted) {
		t.Fatalf("stream did not end with completion: %v", names)
	}
	if decision != domain.DecisionEscalated {
		t.Fatalf("decision=%q want=escalated", decision)
	}

	// A finished session yields just the completion event.
	again, err := http.Get(h.srv.URL + "/sessions/" + session.ID + "/events")
	if err != nil {
		t.Fatalf("get events again: %v", err)
	}
	defer again.Body.Close()
	raw, _ := io.ReadAll(again.Body)
	if strings.Count(string(raw), "event: ") != 1 {
		t.Fatalf("unexpected replay stream: %s", raw)
	}
}

func TestConfigRedactsAndReportsEffectiveValues(t *testing.T) {
	h := newHarness(t, approveAll, orchestrator.Config{SessionTimeout: 1500 * time.Millisecond})
	var got struct {
		Path      string         `json:"path"`
		Effective map[string]any `json:"effective"`
	}
	if code := getJSON(t, h.srv.URL+"/config", &got); code != http.StatusOK {
		t.Fatalf("status=%d", code)
	}
	if got.Path != "test.toml" {
		t.Fatalf("path=%q", got.Path)
	}
	if got.Effective["session_timeout_ms"] != float64(1500) {
		t.Fatalf("unexpected effective config: %+v", got.Effective)
	}
}
