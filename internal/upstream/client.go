package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/seolaris/poolgate/internal/util"
	"github.com/seolaris/poolgate/internal/version"
)

// DefaultBaseURLs lists the backend endpoints in fallback order.
var DefaultBaseURLs = []string{
	"https://api.assist.seolaris.dev/v1",
	"https://api-backup.assist.seolaris.dev/v1",
}

// Error is a non-2xx backend outcome. Callers classify it (rate limited,
// auth failure, transient) to decide how to record the identity's health.
type Error struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration // only set for 429s that carried a hint
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// IsRateLimited reports whether err is a backend 429.
func IsRateLimited(err error) bool {
	be, ok := err.(*Error)
	return ok && be.StatusCode == http.StatusTooManyRequests
}

// IsAuthFailure reports whether err means the identity's credential was
// rejected outright (as opposed to a transient failure).
func IsAuthFailure(err error) bool {
	be, ok := err.(*Error)
	return ok && (be.StatusCode == http.StatusUnauthorized || be.StatusCode == http.StatusForbidden)
}

// Client handles communication with the assist backend.
type Client struct {
	httpClient *http.Client
	baseURLs   []string
}

// NewClient creates a backend client over the given endpoints (fallback
// order). Empty baseURLs falls back to DefaultBaseURLs.
func NewClient(baseURLs []string, timeout time.Duration) *Client {
	if len(baseURLs) == 0 {
		baseURLs = DefaultBaseURLs
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute // long timeout for streaming
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURLs:   baseURLs,
	}
}

// Generate performs one non-streaming generation.
func (c *Client) Generate(ctx context.Context, req *Request, accessToken string) (*Response, error) {
	req.Stream = false
	resp, err := c.doWithFallback(ctx, req, accessToken, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode backend response: %w", err)
	}
	return &out, nil
}

// Stream performs a streaming generation and returns a channel of parsed
// events. The channel is closed at end of stream; cancelling ctx stops the
// feed and releases the connection.
func (c *Client) Stream(ctx context.Context, req *Request, accessToken string) (<-chan Event, error) {
	req.Stream = true
	resp, err := c.doWithFallback(ctx, req, accessToken, true)
	if err != nil {
		return nil, err
	}

	events := make(chan Event, 16)
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		resp.Body.Close()
	}()
	go func() {
		defer close(done)
		defer close(events)
		readEvents(ctx, resp.Body, events)
	}()

	return events, nil
}

// doWithFallback tries each endpoint in order, moving on after transport
// errors, 429s and 5xx. Other statuses are final. A nil error means the
// returned response is 200 and its body is the caller's to close.
func (c *Client) doWithFallback(ctx context.Context, req *Request, accessToken string, stream bool) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal backend request: %w", err)
	}
	if util.IsVerbose() {
		log.Printf("🔄 [VERBOSE] Backend request payload:\n%s", util.TruncateBytes(body))
	}

	var lastErr error
	for i, baseURL := range c.baseURLs {
		resp, err := c.do(ctx, baseURL+"/generate", accessToken, body, stream)
		if err != nil {
			lastErr = err
			log.Printf("⚠️ Backend endpoint %d (%s) failed: %v", i+1, baseURL, err)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}

		if resp.StatusCode == http.StatusOK {
			if i > 0 {
				log.Printf("✅ Fallback to backend endpoint %d succeeded", i+1)
			}
			return resp, nil
		}

		berr := newError(resp)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			log.Printf("⚠️ Backend endpoint %d returned %d, trying next...", i+1, resp.StatusCode)
			lastErr = berr
			continue
		}

		// Non-retriable status: final for all endpoints.
		return nil, berr
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no backend endpoints configured")
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, url, accessToken string, body []byte, stream bool) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "poolgate/"+version.Version)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// newError drains a non-200 response into an Error and closes the body.
func newError(resp *http.Response) *Error {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	msg := ""
	var parsed struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	} else {
		msg = util.TruncateLog(string(raw), 200)
	}

	e := &Error{StatusCode: resp.StatusCode, Message: msg}
	if resp.StatusCode == http.StatusTooManyRequests {
		e.RetryAfter = ParseRetryDelay(resp.Header, raw)
	}
	return e
}
