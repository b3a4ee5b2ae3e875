package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout     = 5 * time.Minute
	maxErrorBodyLength = 512
)

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// postJSON sends body to url and decodes a 200 response into out. Rate
// limiting, server errors and transport failures come back as
// *TransientError; other non-200 statuses are returned through decodeErr.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any, decodeErr func([]byte) string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransientError{Err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return transient("failed to read response: %v", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return transient("rate limited (429)")
	case resp.StatusCode >= 500:
		return transient("server error (%d): %s", resp.StatusCode, clip(raw))
	case resp.StatusCode != http.StatusOK:
		msg := ""
		if decodeErr != nil {
			msg = decodeErr(raw)
		}
		if msg == "" {
			msg = clip(raw)
		}
		return fmt.Errorf("API error (%d): %s", resp.StatusCode, msg)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func clip(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > maxErrorBodyLength {
		s = s[:maxErrorBodyLength] + "..."
	}
	return s
}

// errorMessage extracts {"error":{"message":...}}, the shape both HTTP
// providers use.
func errorMessage(raw []byte) string {
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return ""
	}
	return env.Error.Message
}
