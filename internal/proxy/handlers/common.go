// Package handlers wires the public chat surfaces and the admin surface:
// parse the client dialect, canonicalize, dispatch through the identity
// pool, translate the result back.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/seolaris/poolgate/internal/db/models"
	"github.com/seolaris/poolgate/internal/pool"
	"github.com/seolaris/poolgate/internal/proxy/middleware"
	"github.com/seolaris/poolgate/internal/proxy/monitor"
	"github.com/seolaris/poolgate/internal/relay"
	"github.com/seolaris/poolgate/internal/upstream"
)

// Deps bundles what every chat handler needs.
type Deps struct {
	Pool        *pool.Pool
	Client      *upstream.Client
	Monitor     *monitor.ProxyMonitor
	Aliases     map[string]string
	MaxAttempts int
}

func (d *Deps) attempts() int {
	if d.MaxAttempts > 0 {
		return d.MaxAttempts
	}
	return 3
}

// SetSSEHeaders sets standard headers for Server-Sent Events streaming.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeOpenAIError / writeAnthropicError render a gateway error in the
// calling surface's envelope.
func writeOpenAIError(w http.ResponseWriter, gerr *relay.Error) {
	writeErrorBody(w, gerr, gerr.OpenAIBody())
}

func writeAnthropicError(w http.ResponseWriter, gerr *relay.Error) {
	writeErrorBody(w, gerr, gerr.AnthropicBody())
}

func writeErrorBody(w http.ResponseWriter, gerr *relay.Error, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	if gerr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(gerr.RetryAfter))
	}
	w.WriteHeader(gerr.Status)
	w.Write(body)
}

// dispatch runs the select → credential → invoke → classify loop until a
// backend accepts the request or the attempt budget is spent. Identity
// failures are local; only pool exhaustion or the last backend error reach
// the client.
func (d *Deps) dispatch(ctx context.Context, req *relay.Request) (*relay.Response, *pool.Identity, *relay.Error) {
	var lastErr error

	for attempt := 0; attempt < d.attempts(); attempt++ {
		identity, err := d.Pool.Select()
		if err != nil {
			if errors.Is(err, pool.ErrNoAccounts) {
				return nil, nil, capacityError()
			}
			return nil, nil, relay.NewError(500, relay.ErrAPI, "account selection failed")
		}

		token, err := d.Pool.AccessToken(ctx, identity)
		if err != nil {
			log.Printf("⚠️ Credential for %s unusable: %v", identity.Email, err)
			// A failed refresh costs health too, so the next selection is
			// steered away from an identity that cannot produce a token.
			d.Pool.RecordOutcome(identity, pool.OutcomeFailure, 0)
			lastErr = err
			continue
		}

		resp, err := d.Client.Generate(ctx, relay.CanonicalToBackend(req), token)
		if err == nil {
			d.Pool.RecordOutcome(identity, pool.OutcomeSuccess, 0)
			return relay.BackendToCanonical(resp), identity, nil
		}

		d.recordFailure(identity, err)
		lastErr = err
		if ctx.Err() != nil {
			return nil, nil, relay.NewError(499, relay.ErrAPI, "request cancelled")
		}
	}

	return nil, nil, backendError(lastErr)
}

// dispatchStream is dispatch for the streaming path; retries only apply
// before the first event arrives.
func (d *Deps) dispatchStream(ctx context.Context, req *relay.Request) (<-chan upstream.Event, *pool.Identity, *relay.Error) {
	var lastErr error

	for attempt := 0; attempt < d.attempts(); attempt++ {
		identity, err := d.Pool.Select()
		if err != nil {
			if errors.Is(err, pool.ErrNoAccounts) {
				return nil, nil, capacityError()
			}
			return nil, nil, relay.NewError(500, relay.ErrAPI, "account selection failed")
		}

		token, err := d.Pool.AccessToken(ctx, identity)
		if err != nil {
			log.Printf("⚠️ Credential for %s unusable: %v", identity.Email, err)
			// A failed refresh costs health too, so the next selection is
			// steered away from an identity that cannot produce a token.
			d.Pool.RecordOutcome(identity, pool.OutcomeFailure, 0)
			lastErr = err
			continue
		}

		events, err := d.Client.Stream(ctx, relay.CanonicalToBackend(req), token)
		if err == nil {
			return events, identity, nil
		}

		d.recordFailure(identity, err)
		lastErr = err
		if ctx.Err() != nil {
			return nil, nil, relay.NewError(499, relay.ErrAPI, "request cancelled")
		}
	}

	return nil, nil, backendError(lastErr)
}

func (d *Deps) recordFailure(identity *pool.Identity, err error) {
	switch {
	case upstream.IsRateLimited(err):
		retryAfter := time.Duration(0)
		if be, ok := err.(*upstream.Error); ok {
			retryAfter = be.RetryAfter
		}
		d.Pool.RecordOutcome(identity, pool.OutcomeRateLimited, retryAfter)
	case upstream.IsAuthFailure(err):
		d.Pool.MarkInvalid(identity, "backend rejected credential")
		d.Pool.RecordOutcome(identity, pool.OutcomeFailure, 0)
	default:
		d.Pool.RecordOutcome(identity, pool.OutcomeFailure, 0)
	}
}

func capacityError() *relay.Error {
	gerr := relay.NewError(503, relay.ErrOverloaded, "No backend capacity available, please retry later")
	gerr.RetryAfter = 30
	return gerr
}

func backendError(lastErr error) *relay.Error {
	if be, ok := lastErr.(*upstream.Error); ok && be.StatusCode == http.StatusTooManyRequests {
		gerr := relay.NewError(429, relay.ErrRateLimit, "All backend identities are rate limited")
		if be.RetryAfter > 0 {
			gerr.RetryAfter = int(be.RetryAfter.Seconds())
		}
		return gerr
	}
	return relay.NewError(502, relay.ErrAPI, "Backend request failed")
}

// logRequest records one finished request with the monitor.
func (d *Deps) logRequest(r *http.Request, status int, started time.Time, model, mapped, accountEmail, errMsg string, usage relay.Usage) {
	if d.Monitor == nil {
		return
	}
	entry := models.RequestLog{
		Method:       r.Method,
		URL:          r.URL.Path,
		Status:       status,
		Duration:     time.Since(started).Milliseconds(),
		Model:        model,
		MappedModel:  mapped,
		AccountEmail: accountEmail,
		Error:        errMsg,
		InputTokens:  usage.Input + usage.CacheRead,
		OutputTokens: usage.Output,
	}
	if key, ok := middleware.KeyFromContext(r.Context()); ok {
		entry.APIKeyID = key.ID
	}
	d.Monitor.LogRequest(entry)
}
