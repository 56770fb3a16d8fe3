package apikey

import (
	"fmt"
	"time"

	"github.com/seolaris/poolgate/internal/db/models"
	"github.com/seolaris/poolgate/internal/ratelimit"
)

// Denial kinds, mirrored into the wire error bodies by the handlers.
const (
	DenialAuthentication = "authentication_error"
	DenialAuthorization  = "permission_error"
	DenialRateLimit      = "rate_limit_error"
)

// Denial describes why a request was rejected before reaching the pool.
// Messages are deliberately minimal: an expired key learns nothing about
// model eligibility.
type Denial struct {
	Kind       string
	Status     int
	Message    string
	RetryAfter int // seconds; only set for rate-limit denials
}

// Validator enforces the fixed gatekeeper check order:
// presence -> lookup -> enabled -> expiry -> IP -> model -> rate limit.
type Validator struct {
	store   Store
	limiter *ratelimit.Limiter

	// now is injectable for tests.
	now func() time.Time
}

// NewValidator builds a validator over the given store and limiter.
func NewValidator(store Store, limiter *ratelimit.Limiter) *Validator {
	return &Validator{store: store, limiter: limiter, now: time.Now}
}

// Validate checks the secret against the stored keys and the request context
// (target model, client IP). It returns the matched record on success, or a
// Denial describing the first failed check. Validation never consumes a
// rate-limit slot; call Consume once the request is admitted.
func (v *Validator) Validate(secret, model, clientIP string) (*models.APIKey, *Denial) {
	if secret == "" {
		return nil, &Denial{Kind: DenialAuthentication, Status: 401, Message: "Missing API key"}
	}

	key, err := v.store.FindByHash(HashSecret(secret))
	if err != nil {
		return nil, &Denial{Kind: DenialAuthentication, Status: 401, Message: "Invalid API key"}
	}
	if key == nil {
		return nil, &Denial{Kind: DenialAuthentication, Status: 401, Message: "Invalid API key"}
	}

	if !key.Enabled {
		return nil, &Denial{Kind: DenialAuthentication, Status: 403, Message: "API key is disabled"}
	}

	if key.ExpiresAt != nil && v.now().After(*key.ExpiresAt) {
		return nil, &Denial{Kind: DenialAuthentication, Status: 403, Message: "API key has expired"}
	}

	if clientIP != "" {
		if !MatchAny(key.IPPatterns(), NormalizeIP(clientIP)) {
			return nil, &Denial{
				Kind:    DenialAuthorization,
				Status:  403,
				Message: fmt.Sprintf("IP address %s is not allowed for this key", NormalizeIP(clientIP)),
			}
		}
	}

	if model != "" {
		if !MatchAny(key.ModelPatterns(), model) {
			return nil, &Denial{
				Kind:    DenialAuthorization,
				Status:  403,
				Message: fmt.Sprintf("Model %s is not allowed for this key", model),
			}
		}
	}

	allowed, retryAfter := v.limiter.Check(key.ID, key.RateLimitRPM, key.RateLimitRPH)
	if !allowed {
		return nil, &Denial{
			Kind:       DenialRateLimit,
			Status:     429,
			Message:    "Rate limit exceeded",
			RetryAfter: retryAfter,
		}
	}

	return key, nil
}

// Consume records one admitted request: it takes the rate-limit slot and
// bumps the persisted usage counters. Called exactly once per request that
// passed Validate, before dispatch; a request rejected downstream still
// holds its slot.
func (v *Validator) Consume(key *models.APIKey) {
	v.limiter.Record(key.ID)
	v.store.RecordUsage(key.ID)
}
