package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"governance_council/internal/domain"
)

type client struct {
	baseURL string
	http    *http.Client
}

func waitHealth(c *client, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		req, err := http.NewRequest(http.MethodGet, c.baseURL+"/healthz", nil)
		if err == nil {
			resp, err := c.http.Do(req)
			if err == nil {
				_ = resp.Body.Close()
				if resp.StatusCode < 300 {
					return nil
				}
			}
		}
		time.Sleep(400 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for /healthz")
}

// triggerVote posts a subject and returns the session as the server left it,
// which is still collecting when the server's wait elapsed first.
func (c *client) triggerVote(subject domain.Subject) (domain.CouncilSession, error) {
	req := map[string]any{
		"subject_type":        subject.Type,
		"subject_title":       subject.Title,
		"subject_description": subject.Description,
	}
	var session domain.CouncilSession
	if err := c.postJSON("/sessions", req, &session); err != nil {
		return domain.CouncilSession{}, err
	}
	return session, nil
}

func (c *client) listSessions(limit int) ([]domain.CouncilSession, error) {
	var out []domain.CouncilSession
	if err := c.getJSON(fmt.Sprintf("/sessions?limit=%d", limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) listVotes(sessionID string) ([]domain.AgentVote, error) {
	var out []domain.AgentVote
	if err := c.getJSON("/sessions/"+url.PathEscape(sessionID)+"/votes", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) listAudit(sessionID string, limit int) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	if err := c.getJSON(fmt.Sprintf("/sessions/%s/audit?limit=%d", url.PathEscape(sessionID), limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) stats() (domain.Stats, error) {
	var out domain.Stats
	if err := c.getJSON("/stats", &out); err != nil {
		return domain.Stats{}, err
	}
	return out, nil
}

func (c *client) agents() ([]domain.AgentIdentity, error) {
	var out []domain.AgentIdentity
	if err := c.getJSON("/agents", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) getJSON(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.Unmarshal(body, out)
}

func (c *client) postJSON(path string, in any, out any) error {
	var payload io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}
