package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/seolaris/poolgate/internal/db/models"
)

type memStore struct {
	mu       sync.Mutex
	accounts []models.Account
	saved    map[string]models.Account
}

func newMemStore(accounts ...models.Account) *memStore {
	return &memStore{accounts: accounts, saved: make(map[string]models.Account)}
}

func (s *memStore) LoadAll() ([]models.Account, error) {
	return s.accounts, nil
}

func (s *memStore) Save(acc *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[acc.ID] = *acc
	return nil
}

func (s *memStore) savedAccount(id string) (models.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.saved[id]
	return acc, ok
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testOptions(strategy string) Options {
	return Options{
		Strategy:       strategy,
		Cooldown:       60 * time.Second,
		SuccessDelta:   1,
		RateLimitDelta: 20,
		FailureDelta:   10,
		RecoveryPerMin: 2,
		MinHealth:      30,
		BucketSize:     60,
		RefillPerMin:   6,
	}
}

func account(id, email string) models.Account {
	return models.Account{
		ID:           id,
		Email:        email,
		Health:       100,
		Tokens:       60,
		LastRefillAt: time.Now(),
		Enabled:      true,
	}
}

func newTestPool(t *testing.T, strategy string, clock *fakeClock, accounts ...models.Account) (*Pool, *memStore) {
	t.Helper()
	store := newMemStore(accounts...)
	p, err := New(store, nil, testOptions(strategy))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if clock != nil {
		p.now = clock.Now
	}
	t.Cleanup(p.Close)
	return p, store
}

func TestRoundRobinCycle(t *testing.T) {
	p, _ := newTestPool(t, "round_robin", nil,
		account("a", "a@example.com"),
		account("b", "b@example.com"),
		account("c", "c@example.com"),
	)

	want := []string{"a", "b", "c", "a", "b"}
	for i, expected := range want {
		id, err := p.Select()
		if err != nil {
			t.Fatalf("selection %d failed: %v", i, err)
		}
		if id.ID != expected {
			t.Errorf("selection %d = %s, want %s", i, id.ID, expected)
		}
	}
}

func TestSelectExcludesIneligible(t *testing.T) {
	disabled := account("a", "a@example.com")
	disabled.Enabled = false
	invalid := account("b", "b@example.com")
	invalid.Invalid = true
	cooling := account("c", "c@example.com")
	until := time.Now().Add(time.Hour)
	cooling.CooldownUntil = &until
	healthy := account("d", "d@example.com")

	p, _ := newTestPool(t, "round_robin", nil, disabled, invalid, cooling, healthy)

	for i := 0; i < 3; i++ {
		id, err := p.Select()
		if err != nil {
			t.Fatalf("selection failed: %v", err)
		}
		if id.ID != "d" {
			t.Errorf("selected %s, want d", id.ID)
		}
	}
}

func TestSelectEmptyPool(t *testing.T) {
	p, _ := newTestPool(t, "round_robin", nil)
	if _, err := p.Select(); !errors.Is(err, ErrNoAccounts) {
		t.Fatalf("err = %v, want ErrNoAccounts", err)
	}
}

func TestCooldownExcludesUntilElapsed(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	a := account("a", "a@example.com")
	b := account("b", "b@example.com")
	b.Health = 50 // worse score than a
	p, _ := newTestPool(t, "hybrid", clock, a, b)

	first, err := p.Select()
	if err != nil || first.ID != "a" {
		t.Fatalf("hybrid should pick the healthiest first, got %v (%v)", first, err)
	}

	p.RecordOutcome(first, OutcomeRateLimited, 0)

	// Best score or not, a sits out the cooldown.
	for i := 0; i < 3; i++ {
		id, err := p.Select()
		if err != nil {
			t.Fatalf("selection failed: %v", err)
		}
		if id.ID != "b" {
			t.Errorf("selected %s during cooldown, want b", id.ID)
		}
	}

	clock.Advance(61 * time.Second)
	// After the cooldown the recovered account competes again; its health
	// took the rate-limit delta so b (50) still beats it (80+recovery).
	id, err := p.Select()
	if err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	if id.ID != "a" {
		t.Errorf("selected %s after cooldown, want a (health 80 beats 50)", id.ID)
	}
}

func TestRecordOutcomeDeltas(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	p, _ := newTestPool(t, "round_robin", clock, account("a", "a@example.com"))
	id, _ := p.Select()

	p.RecordOutcome(id, OutcomeSuccess, 0)
	if id.Health != 100 {
		t.Errorf("success must clamp at 100, got %f", id.Health)
	}

	p.RecordOutcome(id, OutcomeFailure, 0)
	if id.Health != 90 {
		t.Errorf("failure delta: health = %f, want 90", id.Health)
	}
	if !id.CooldownUntil.IsZero() {
		t.Error("failure must not force a cooldown")
	}

	p.RecordOutcome(id, OutcomeSuccess, 0)
	if id.Health != 91 {
		t.Errorf("success delta: health = %f, want 91", id.Health)
	}

	for i := 0; i < 20; i++ {
		p.RecordOutcome(id, OutcomeRateLimited, 0)
	}
	if id.Health != 0 {
		t.Errorf("health must clamp at 0, got %f", id.Health)
	}
}

func TestRetryAfterExtendsCooldown(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	p, _ := newTestPool(t, "round_robin", clock, account("a", "a@example.com"))
	id, _ := p.Select()

	p.RecordOutcome(id, OutcomeRateLimited, 5*time.Minute)
	want := clock.Now().Add(5 * time.Minute)
	if !id.CooldownUntil.Equal(want) {
		t.Errorf("CooldownUntil = %v, want %v (hint longer than default wins)", id.CooldownUntil, want)
	}

	p.RecordOutcome(id, OutcomeRateLimited, 10*time.Second)
	want = clock.Now().Add(60 * time.Second)
	if !id.CooldownUntil.Equal(want) {
		t.Errorf("CooldownUntil = %v, want %v (default wins over shorter hint)", id.CooldownUntil, want)
	}
}

func TestHybridTieGoesToLeastRecentlyUsed(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	older := account("old", "old@example.com")
	older.LastUsedAt = clock.t.Add(-2 * time.Hour)
	newer := account("new", "new@example.com")
	newer.LastUsedAt = clock.t.Add(-time.Minute)

	p, _ := newTestPool(t, "hybrid", clock, newer, older)

	id, err := p.Select()
	if err != nil {
		t.Fatalf("selection failed: %v", err)
	}
	if id.ID != "old" {
		t.Errorf("equal health should pick the least recently used, got %s", id.ID)
	}
}

func TestHybridConsumesAndRefillsTokens(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	acc := account("a", "a@example.com")
	acc.Tokens = 2
	acc.LastRefillAt = clock.t
	p, _ := newTestPool(t, "hybrid", clock, acc)
	p.byID["a"].LastRefillAt = clock.t // pin the refill epoch to the fake clock

	if _, err := p.Select(); err != nil {
		t.Fatalf("first selection failed: %v", err)
	}
	if _, err := p.Select(); err != nil {
		t.Fatalf("second selection failed: %v", err)
	}
	if _, err := p.Select(); !errors.Is(err, ErrNoAccounts) {
		t.Fatalf("bucket empty: err = %v, want ErrNoAccounts", err)
	}

	// 6 tokens/min: 30s buys 3 more selections.
	clock.Advance(30 * time.Second)
	if _, err := p.Select(); err != nil {
		t.Fatalf("selection after refill failed: %v", err)
	}
}

func TestHybridHealthFloor(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
	weak := account("weak", "weak@example.com")
	weak.Health = 10
	p, _ := newTestPool(t, "hybrid", clock, weak)
	p.byID["weak"].LastRefillAt = clock.t

	if _, err := p.Select(); !errors.Is(err, ErrNoAccounts) {
		t.Fatalf("health below floor: err = %v, want ErrNoAccounts", err)
	}

	// Passive recovery at 2/min: 10 minutes lifts health to 30.
	clock.Advance(10 * time.Minute)
	if _, err := p.Select(); err != nil {
		t.Fatalf("recovered account should be selectable: %v", err)
	}
}

func TestWriteBackReachesStore(t *testing.T) {
	store := newMemStore(account("a", "a@example.com"))
	p, err := New(store, nil, testOptions("round_robin"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	id, _ := p.Select()
	p.RecordOutcome(id, OutcomeFailure, 0)
	p.Close() // drains the save queue

	saved, ok := store.savedAccount("a")
	if !ok {
		t.Fatal("mutation never reached the store")
	}
	if saved.Health != 90 {
		t.Errorf("persisted health = %f, want 90", saved.Health)
	}
	if saved.Email != "a@example.com" {
		t.Errorf("saved record = %+v", saved)
	}
}

type fakeRefresher struct {
	token *oauth2.Token
	err   error
	calls int
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.token, nil
}

func TestAccessTokenRefresh(t *testing.T) {
	acc := account("a", "a@example.com")
	acc.AccessToken = "stale"
	acc.RefreshToken = "refresh-1"
	acc.TokenExpiry = time.Now().Add(-time.Minute)

	store := newMemStore(acc)
	refresher := &fakeRefresher{token: &oauth2.Token{
		AccessToken:  "fresh",
		RefreshToken: "refresh-2",
		Expiry:       time.Now().Add(time.Hour),
	}}
	p, err := New(store, refresher, testOptions("round_robin"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	id, _ := p.Select()
	token, err := p.AccessToken(context.Background(), id)
	if err != nil {
		t.Fatalf("AccessToken failed: %v", err)
	}
	if token != "fresh" {
		t.Errorf("token = %q, want fresh", token)
	}
	if id.RefreshToken != "refresh-2" {
		t.Error("rotated refresh token not persisted in memory")
	}

	// A valid token skips the refresher entirely.
	if _, err := p.AccessToken(context.Background(), id); err != nil {
		t.Fatalf("second AccessToken failed: %v", err)
	}
	if refresher.calls != 1 {
		t.Errorf("refresher called %d times, want 1", refresher.calls)
	}
}

func TestAccessTokenPermanentFailureMarksInvalid(t *testing.T) {
	acc := account("a", "a@example.com")
	acc.TokenExpiry = time.Now().Add(-time.Minute)

	store := newMemStore(acc)
	refresher := &fakeRefresher{err: errors.New(`oauth2: "invalid_grant" token expired`)}
	p, err := New(store, refresher, testOptions("round_robin"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer p.Close()

	id, _ := p.Select()
	if _, err := p.AccessToken(context.Background(), id); err == nil {
		t.Fatal("expected refresh error")
	}
	if !id.Invalid {
		t.Error("permanent refresh failure must mark the identity invalid")
	}
	if _, err := p.Select(); !errors.Is(err, ErrNoAccounts) {
		t.Errorf("invalid identity still selectable: %v", err)
	}
}

func TestIsPermanentAuthError(t *testing.T) {
	if !IsPermanentAuthError(errors.New("oauth2: invalid_grant")) {
		t.Error("invalid_grant is permanent")
	}
	if IsPermanentAuthError(errors.New("dial tcp: connection refused")) {
		t.Error("network errors are transient")
	}
	if IsPermanentAuthError(nil) {
		t.Error("nil is not an error")
	}
}

func TestSnapshotCarriesNoSecrets(t *testing.T) {
	acc := account("a", "a@example.com")
	acc.AccessToken = "super-secret-token"
	p, _ := newTestPool(t, "round_robin", nil, acc)

	infos := p.Snapshot()
	if len(infos) != 1 || infos[0].Email != "a@example.com" {
		t.Fatalf("Snapshot = %+v", infos)
	}
}
