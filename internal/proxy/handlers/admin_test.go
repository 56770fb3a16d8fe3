package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seolaris/poolgate/internal/db/models"
	"github.com/seolaris/poolgate/internal/pool"
)

type memKeyStore struct {
	keys map[string]*models.APIKey
}

func newMemKeyStore() *memKeyStore {
	return &memKeyStore{keys: make(map[string]*models.APIKey)}
}

func (s *memKeyStore) FindByHash(hash string) (*models.APIKey, error) {
	for _, k := range s.keys {
		if k.Hash == hash {
			return k, nil
		}
	}
	return nil, nil
}
func (s *memKeyStore) RecordUsage(id string) {}
func (s *memKeyStore) Create(key *models.APIKey) error {
	s.keys[key.ID] = key
	return nil
}
func (s *memKeyStore) List() ([]models.APIKey, error) {
	out := make([]models.APIKey, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, *k)
	}
	return out, nil
}
func (s *memKeyStore) Get(id string) (*models.APIKey, error) { return s.keys[id], nil }
func (s *memKeyStore) Update(key *models.APIKey) error {
	s.keys[key.ID] = key
	return nil
}
func (s *memKeyStore) Delete(id string) error {
	delete(s.keys, id)
	return nil
}

func adminRouter(d *AdminDeps) http.Handler {
	r := chi.NewRouter()
	r.Post("/api/keys", CreateKeyHandler(d))
	r.Get("/api/keys", ListKeysHandler(d))
	r.Put("/api/keys/{id}", UpdateKeyHandler(d))
	r.Delete("/api/keys/{id}", DeleteKeyHandler(d))
	r.Get("/api/accounts", AccountsHandler(d))
	r.Post("/api/accounts/{id}/enable", SetAccountEnabledHandler(d, true))
	r.Post("/api/accounts/{id}/disable", SetAccountEnabledHandler(d, false))
	return r
}

func TestCreateKeyReturnsSecretOnce(t *testing.T) {
	store := newMemKeyStore()
	router := adminRouter(&AdminDeps{Keys: store})

	body := `{"name":"ci","allowed_models":["gpt-*"],"rate_limit_rpm":10}`
	req := httptest.NewRequest("POST", "/api/keys", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var out struct {
		Key    string `json:"key"`
		Record struct {
			ID            string   `json:"id"`
			Name          string   `json:"name"`
			Prefix        string   `json:"prefix"`
			AllowedModels []string `json:"allowed_models"`
		} `json:"record"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !strings.HasPrefix(out.Key, "pg-") || len(out.Key) != 51 {
		t.Errorf("secret = %q", out.Key)
	}
	if !strings.HasPrefix(out.Key, out.Record.Prefix) {
		t.Errorf("prefix %q does not match secret", out.Record.Prefix)
	}
	if len(out.Record.AllowedModels) != 1 || out.Record.AllowedModels[0] != "gpt-*" {
		t.Errorf("allowed_models = %v", out.Record.AllowedModels)
	}

	// The stored record holds only the hash, and listings never leak it.
	stored := store.keys[out.Record.ID]
	if stored == nil {
		t.Fatal("key not persisted")
	}
	if stored.Hash == out.Key {
		t.Error("plaintext secret was stored")
	}

	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, httptest.NewRequest("GET", "/api/keys", nil))
	if strings.Contains(listRec.Body.String(), out.Key) || strings.Contains(listRec.Body.String(), stored.Hash) {
		t.Error("key listing leaks secret material")
	}
}

func TestUpdateKeyPatchesFields(t *testing.T) {
	store := newMemKeyStore()
	store.keys["k1"] = &models.APIKey{ID: "k1", Name: "old", Enabled: true, RateLimitRPM: 5}
	router := adminRouter(&AdminDeps{Keys: store})

	body := `{"name":"new","enabled":false,"allowed_models":["claude-*"]}`
	req := httptest.NewRequest("PUT", "/api/keys/k1", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	got := store.keys["k1"]
	if got.Name != "new" || got.Enabled || got.RateLimitRPM != 5 {
		t.Errorf("patched key = %+v", got)
	}
	if patterns := got.ModelPatterns(); len(patterns) != 1 || patterns[0] != "claude-*" {
		t.Errorf("model patterns = %v", patterns)
	}
}

func TestUpdateKeyNotFound(t *testing.T) {
	router := adminRouter(&AdminDeps{Keys: newMemKeyStore()})

	req := httptest.NewRequest("PUT", "/api/keys/missing", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAccountEnableDisable(t *testing.T) {
	acc := testAccount("a@x.io")
	p, err := pool.New(&memAccountStore{accounts: []models.Account{acc}}, nil, pool.Options{
		Cooldown:   time.Minute,
		BucketSize: 60,
	})
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	defer p.Close()

	router := adminRouter(&AdminDeps{Keys: newMemKeyStore(), Pool: p})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/accounts/"+acc.ID+"/disable", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("disable status = %d", rec.Code)
	}
	if _, err := p.Select(); err == nil {
		t.Error("disabled account should not be selectable")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/accounts/"+acc.ID+"/enable", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("enable status = %d", rec.Code)
	}
	if _, err := p.Select(); err != nil {
		t.Errorf("re-enabled account should be selectable: %v", err)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("POST", "/api/accounts/nope/enable", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown account status = %d, want 404", rec.Code)
	}
}

func TestAccountsSnapshotOmitsCredentials(t *testing.T) {
	acc := testAccount("a@x.io")
	acc.RefreshToken = "rt-secret-value"
	p, err := pool.New(&memAccountStore{accounts: []models.Account{acc}}, nil, pool.Options{BucketSize: 60})
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	defer p.Close()

	router := adminRouter(&AdminDeps{Keys: newMemKeyStore(), Pool: p})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/accounts", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "a@x.io") {
		t.Errorf("roster missing account: %s", body)
	}
	for _, secret := range []string{acc.AccessToken, acc.RefreshToken} {
		if strings.Contains(body, secret) {
			t.Errorf("roster leaks credential material: %s", body)
		}
	}
}

func TestOptionalAdminAuth(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	open := OptionalAdminAuth("")(inner)
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest("GET", "/api/keys", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("empty password should leave the surface open, got %d", rec.Code)
	}

	locked := OptionalAdminAuth("hunter2")(inner)
	rec = httptest.NewRecorder()
	locked.ServeHTTP(rec, httptest.NewRequest("GET", "/api/keys", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing credentials should be rejected, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/keys", nil)
	req.SetBasicAuth("admin", "hunter2")
	locked.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("correct password should pass, got %d", rec.Code)
	}
}
