package upstream

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// rateLimitBody is the structured error the backend attaches to 429s.
type rateLimitBody struct {
	Error struct {
		Type       string `json:"type"`
		Message    string `json:"message"`
		RetryDelay string `json:"retry_delay"` // e.g. "3.5s"
	} `json:"error"`
}

// ParseRetryDelay extracts a retry duration from a 429 response.
// It checks the standard Retry-After header first (seconds, then HTTP date),
// then the backend's structured error body. Returns 0 if no retry
// information is found.
func ParseRetryDelay(header http.Header, body []byte) time.Duration {
	if retryAfter := header.Get("Retry-After"); retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			return time.Duration(seconds) * time.Second
		}
		if t, err := http.ParseTime(retryAfter); err == nil {
			return time.Until(t)
		}
	}

	var parsed rateLimitBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0
	}
	if parsed.Error.RetryDelay != "" {
		if d, err := time.ParseDuration(parsed.Error.RetryDelay); err == nil {
			return d
		}
	}
	return 0
}
