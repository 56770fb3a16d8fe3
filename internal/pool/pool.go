// Package pool manages the backend identity pool: selection, health
// bookkeeping, cooldowns and credential refresh. All state is in-memory;
// the account table is an eventually-consistent mirror written back
// asynchronously.
package pool

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/seolaris/poolgate/internal/db/models"
	"github.com/seolaris/poolgate/internal/util"
)

// ErrNoAccounts means no identity is currently eligible. Non-retryable
// locally; surfaced to clients as a capacity error.
var ErrNoAccounts = errors.New("no accounts available")

// Outcome classifies one backend call against the identity that served it.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRateLimited
	OutcomeFailure
)

// Identity is the in-memory state of one pooled account. Field access is
// serialized by its own mutex; the pool mutex only guards the roster.
type Identity struct {
	mu sync.Mutex

	ID           string
	Email        string
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
	Tier         string

	Health        float64
	Tokens        float64
	LastRefillAt  time.Time
	CooldownUntil time.Time
	Enabled       bool
	Invalid       bool
	LastUsedAt    time.Time
}

// Options tunes selection and health accounting.
type Options struct {
	Strategy       string // "round_robin" (default) or "hybrid"
	Cooldown       time.Duration
	SuccessDelta   float64
	RateLimitDelta float64
	FailureDelta   float64
	RecoveryPerMin float64
	MinHealth      float64
	BucketSize     float64
	RefillPerMin   float64
}

// Pool owns the identity roster. Construct one per process (or per test);
// there is no package-level instance.
type Pool struct {
	mu     sync.Mutex
	ids    []*Identity
	byID   map[string]*Identity
	picker strategy

	opts      Options
	store     Store
	refresher Refresher

	saves chan *Identity
	done  chan struct{}

	// now is injectable for tests.
	now func() time.Time
}

// New loads the identity snapshot from the store and starts the write-back
// worker. refresher may be nil to disable credential refresh.
func New(store Store, refresher Refresher, opts Options) (*Pool, error) {
	p := &Pool{
		byID:      make(map[string]*Identity),
		opts:      opts,
		store:     store,
		refresher: refresher,
		saves:     make(chan *Identity, 64),
		done:      make(chan struct{}),
		now:       time.Now,
	}

	switch opts.Strategy {
	case "hybrid":
		p.picker = &hybrid{opts: opts}
	default:
		p.picker = &roundRobin{}
	}

	accounts, err := store.LoadAll()
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		p.addLocked(identityFromAccount(&accounts[i], opts))
	}
	log.Printf("📦 Loaded %d accounts into pool (strategy: %s)", len(p.ids), p.picker.name())

	go p.saveWorker()
	return p, nil
}

// Close stops the write-back worker after draining pending saves.
func (p *Pool) Close() {
	close(p.saves)
	<-p.done
}

func identityFromAccount(acc *models.Account, opts Options) *Identity {
	id := &Identity{
		ID:           acc.ID,
		Email:        acc.Email,
		AccessToken:  acc.AccessToken,
		RefreshToken: acc.RefreshToken,
		TokenExpiry:  acc.TokenExpiry,
		Tier:         acc.Tier,
		Health:       acc.Health,
		Tokens:       acc.Tokens,
		LastRefillAt: acc.LastRefillAt,
		Enabled:      acc.Enabled,
		Invalid:      acc.Invalid,
		LastUsedAt:   acc.LastUsedAt,
	}
	if acc.CooldownUntil != nil {
		id.CooldownUntil = *acc.CooldownUntil
	}
	if id.LastRefillAt.IsZero() {
		id.LastRefillAt = time.Now()
		id.Tokens = opts.BucketSize
	}
	return id
}

func (p *Pool) addLocked(id *Identity) {
	p.ids = append(p.ids, id)
	p.byID[id.ID] = id
}

// Add registers a freshly persisted account with the live pool.
func (p *Pool) Add(acc *models.Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.byID[acc.ID]; exists {
		return
	}
	p.addLocked(identityFromAccount(acc, p.opts))
}

// Select picks the next eligible identity, or ErrNoAccounts if none is
// available. Passive recovery and token refill are computed here from
// elapsed time; the pool runs no background timers.
func (p *Pool) Select() (*Identity, error) {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := make([]*Identity, 0, len(p.ids))
	for _, id := range p.ids {
		id.mu.Lock()
		id.recover(now, p.opts)
		eligible := id.Enabled && !id.Invalid && !id.CooldownUntil.After(now)
		id.mu.Unlock()
		if eligible {
			candidates = append(candidates, id)
		}
	}
	if len(candidates) == 0 {
		return nil, ErrNoAccounts
	}

	picked := p.picker.pick(candidates, now)
	if picked == nil {
		return nil, ErrNoAccounts
	}

	picked.mu.Lock()
	picked.LastUsedAt = now
	picked.mu.Unlock()
	p.enqueueSave(picked)
	return picked, nil
}

// recover applies lazy passive recovery: token refill and health regain
// proportional to the time since the last refill. Caller holds id.mu.
func (id *Identity) recover(now time.Time, opts Options) {
	elapsed := now.Sub(id.LastRefillAt)
	if elapsed <= 0 {
		return
	}
	minutes := elapsed.Minutes()
	id.Tokens = clamp(id.Tokens+minutes*opts.RefillPerMin, 0, opts.BucketSize)
	id.Health = clamp(id.Health+minutes*opts.RecoveryPerMin, 0, 100)
	id.LastRefillAt = now
}

// RecordOutcome folds one backend result into the identity's health.
// retryAfter extends the standard cooldown when the backend hinted at a
// longer wait; pass zero otherwise.
func (p *Pool) RecordOutcome(id *Identity, outcome Outcome, retryAfter time.Duration) {
	now := p.now()

	id.mu.Lock()
	switch outcome {
	case OutcomeSuccess:
		id.Health = clamp(id.Health+p.opts.SuccessDelta, 0, 100)
	case OutcomeRateLimited:
		id.Health = clamp(id.Health-p.opts.RateLimitDelta, 0, 100)
		cooldown := p.opts.Cooldown
		if retryAfter > cooldown {
			cooldown = retryAfter
		}
		id.CooldownUntil = now.Add(cooldown)
		log.Printf("🧊 Account %s cooling down for %s (health %.0f)", id.Email, cooldown, id.Health)
	case OutcomeFailure:
		id.Health = clamp(id.Health-p.opts.FailureDelta, 0, 100)
	}
	id.mu.Unlock()

	p.enqueueSave(id)
}

// MarkInvalid permanently excludes an identity until an operator re-enables
// it (typically after re-auth).
func (p *Pool) MarkInvalid(id *Identity, reason string) {
	id.mu.Lock()
	id.Invalid = true
	id.mu.Unlock()
	log.Printf("🔒 Account %s marked invalid: %s", id.Email, reason)
	p.enqueueSave(id)
}

// SetEnabled flips the operator switch on an identity. Enabling also clears
// the invalid flag so a re-authed account comes straight back.
func (p *Pool) SetEnabled(accountID string, enabled bool) error {
	p.mu.Lock()
	id, ok := p.byID[accountID]
	p.mu.Unlock()
	if !ok {
		return errors.New("account not found: " + accountID)
	}

	id.mu.Lock()
	id.Enabled = enabled
	if enabled {
		id.Invalid = false
	}
	id.mu.Unlock()
	p.enqueueSave(id)
	return nil
}

// AccessToken returns a usable credential for the identity, refreshing it
// when it expires within a minute. Permanent refresh failures mark the
// identity invalid.
func (p *Pool) AccessToken(ctx context.Context, id *Identity) (string, error) {
	id.mu.Lock()
	if p.refresher == nil || time.Until(id.TokenExpiry) > time.Minute {
		token := id.AccessToken
		id.mu.Unlock()
		return token, nil
	}
	refreshToken := id.RefreshToken
	email := id.Email
	id.mu.Unlock()

	log.Printf("⚠️ Token for %s is expired/expiring, refreshing...", email)
	fresh, err := p.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		if IsPermanentAuthError(err) {
			p.MarkInvalid(id, "refresh rejected, re-login required")
		}
		return "", err
	}

	id.mu.Lock()
	id.AccessToken = fresh.AccessToken
	id.TokenExpiry = fresh.Expiry
	if fresh.RefreshToken != "" && fresh.RefreshToken != id.RefreshToken {
		log.Printf("🔄 Rotating refresh token for: %s", email)
		id.RefreshToken = fresh.RefreshToken
	}
	token := id.AccessToken
	id.mu.Unlock()

	p.enqueueSave(id)
	log.Printf("✅ Refreshed token for: %s (%s)", email, util.MaskSecret(token))
	return token, nil
}

// IdentityInfo is a copy of an identity's state safe to hand to the admin
// surface. No credential material.
type IdentityInfo struct {
	ID            string     `json:"id"`
	Email         string     `json:"email"`
	Tier          string     `json:"tier"`
	Health        float64    `json:"health"`
	Tokens        float64    `json:"tokens"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	Enabled       bool       `json:"enabled"`
	Invalid       bool       `json:"invalid"`
	LastUsedAt    time.Time  `json:"last_used_at"`
	TokenExpiry   time.Time  `json:"token_expiry"`
}

// Snapshot lists the pool state for the admin surface.
func (p *Pool) Snapshot() []IdentityInfo {
	p.mu.Lock()
	ids := append([]*Identity(nil), p.ids...)
	p.mu.Unlock()

	out := make([]IdentityInfo, 0, len(ids))
	for _, id := range ids {
		id.mu.Lock()
		info := IdentityInfo{
			ID:          id.ID,
			Email:       id.Email,
			Tier:        id.Tier,
			Health:      id.Health,
			Tokens:      id.Tokens,
			Enabled:     id.Enabled,
			Invalid:     id.Invalid,
			LastUsedAt:  id.LastUsedAt,
			TokenExpiry: id.TokenExpiry,
		}
		if !id.CooldownUntil.IsZero() {
			cd := id.CooldownUntil
			info.CooldownUntil = &cd
		}
		id.mu.Unlock()
		out = append(out, info)
	}
	return out
}

func (p *Pool) enqueueSave(id *Identity) {
	select {
	case p.saves <- id:
	default:
		// Write-back is best-effort; the next mutation will enqueue again.
		log.Printf("⚠️ Account save queue full, dropping write-back for %s", id.Email)
	}
}

func (p *Pool) saveWorker() {
	defer close(p.done)
	for id := range p.saves {
		acc := id.toAccount()
		if err := p.store.Save(acc); err != nil {
			log.Printf("⚠️ Failed to persist account %s: %v", acc.Email, err)
		}
	}
}

func (id *Identity) toAccount() *models.Account {
	id.mu.Lock()
	defer id.mu.Unlock()

	acc := &models.Account{
		ID:           id.ID,
		Email:        id.Email,
		AccessToken:  id.AccessToken,
		RefreshToken: id.RefreshToken,
		TokenExpiry:  id.TokenExpiry,
		Tier:         id.Tier,
		Health:       id.Health,
		Tokens:       id.Tokens,
		LastRefillAt: id.LastRefillAt,
		Enabled:      id.Enabled,
		Invalid:      id.Invalid,
		LastUsedAt:   id.LastUsedAt,
	}
	if !id.CooldownUntil.IsZero() {
		cd := id.CooldownUntil
		acc.CooldownUntil = &cd
	}
	return acc
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
