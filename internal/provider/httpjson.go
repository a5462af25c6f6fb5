package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"governance_council/internal/domain"
)

// postJSON sends payload and returns the response when the status is 2xx.
// Any other status is drained into an apiHTTPError. The caller closes the body.
func postJSON(ctx context.Context, client *http.Client, p domain.Provider, endpoint string, header http.Header, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", p, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", p, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s api request failed: %w", p, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxHTTPErrorBodyReadSize))
	if readErr != nil {
		return nil, fmt.Errorf("%s api status=%d and read body failed: %w", p, resp.StatusCode, readErr)
	}
	return nil, apiHTTPError{provider: p, statusCode: resp.StatusCode, body: strings.TrimSpace(string(raw))}
}

// eachSSEData calls fn with the joined data lines of every event frame in r.
// Frames without data, and the terminal [DONE] marker, are skipped.
func eachSSEData(r io.Reader, maxFrame int, fn func(data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxFrame)

	var frame []string
	flush := func() error {
		data := strings.TrimSpace(strings.Join(frame, "\n"))
		frame = frame[:0]
		if data == "" || data == "[DONE]" {
			return nil
		}
		return fn(data)
	}
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if rest, ok := strings.CutPrefix(line, "data:"); ok {
			frame = append(frame, strings.TrimSpace(rest))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
