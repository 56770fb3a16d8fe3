// Package middleware carries the gatekeeper: every public request passes
// API-key validation (and rate-limit accounting) before it may reach a
// handler and consume backend capacity.
package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/seolaris/poolgate/internal/apikey"
	"github.com/seolaris/poolgate/internal/db/models"
	"github.com/seolaris/poolgate/internal/logging"
	"github.com/seolaris/poolgate/internal/relay"
)

type contextKey string

const apiKeyContextKey contextKey = "poolgate.apikey"

// KeyFromContext returns the validated key record stashed by APIKeyAuth.
func KeyFromContext(ctx context.Context) (*models.APIKey, bool) {
	key, ok := ctx.Value(apiKeyContextKey).(*models.APIKey)
	return key, ok
}

// maxPeekBody bounds how much request body the middleware will read to
// learn the target model.
const maxPeekBody = 10 * 1024 * 1024

// APIKeyAuth validates the client's API key against the request (target
// model, client IP) and, on success, consumes one rate-limit slot and
// stashes the record in the context. Denials are written in the dialect of
// the surface being called.
func APIKeyAuth(validator *apikey.Validator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			secret := extractSecret(r)
			model := peekModel(r)

			key, denial := validator.Validate(secret, model, ClientIP(r))
			if denial != nil {
				writeDenial(w, r, denial)
				return
			}

			// The slot is consumed here: a request rejected downstream
			// still counts against the key's windows.
			validator.Consume(key)

			ctx := context.WithValue(r.Context(), apiKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestID tags each request with an id for log correlation.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = logging.GenerateRequestID()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

// extractSecret pulls the key secret from the Authorization Bearer header
// or the x-api-key header (Anthropic SDK convention).
func extractSecret(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.Header.Get("x-api-key")
}

// ClientIP resolves the caller's address: first X-Forwarded-For hop when
// present, otherwise the connection's remote address.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// peekedBody replays the peeked prefix before the unread remainder, so a
// body larger than the peek window reaches the handler intact.
type peekedBody struct {
	io.Reader
	io.Closer
}

// peekModel reads the model field out of the request body without consuming
// it; the body is restored for the handler.
func peekModel(r *http.Request) string {
	if r.Body == nil {
		return ""
	}
	rest := r.Body
	body, err := io.ReadAll(io.LimitReader(rest, maxPeekBody))
	r.Body = peekedBody{io.MultiReader(bytes.NewReader(body), rest), rest}
	if err != nil {
		return ""
	}

	var probe struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	return probe.Model
}

func writeDenial(w http.ResponseWriter, r *http.Request, denial *apikey.Denial) {
	gerr := relay.NewError(denial.Status, denial.Kind, denial.Message)

	w.Header().Set("Content-Type", "application/json")
	if denial.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(denial.RetryAfter))
	}
	w.WriteHeader(denial.Status)

	if strings.HasPrefix(r.URL.Path, "/anthropic") {
		w.Write(gerr.AnthropicBody())
		return
	}
	w.Write(gerr.OpenAIBody())
}
