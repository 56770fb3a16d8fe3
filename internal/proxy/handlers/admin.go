package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/seolaris/poolgate/internal/apikey"
	"github.com/seolaris/poolgate/internal/db/models"
	"github.com/seolaris/poolgate/internal/pool"
	"github.com/seolaris/poolgate/internal/proxy/monitor"
	"github.com/seolaris/poolgate/internal/util"
)

// AdminDeps bundles the stores the admin surface manages.
type AdminDeps struct {
	Keys     apikey.Store
	Pool     *pool.Pool
	Accounts pool.Store
	Monitor  *monitor.ProxyMonitor
}

// OptionalAdminAuth protects the admin surface with HTTP basic auth when a
// password is configured; an empty password leaves it open for first-run
// setup on localhost.
func OptionalAdminAuth(password string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if password == "" {
				next.ServeHTTP(w, r)
				return
			}
			_, pass, ok := r.BasicAuth()
			if !ok || pass != password {
				w.Header().Set("WWW-Authenticate", `Basic realm="Poolgate Admin"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type keyRequest struct {
	Name          string   `json:"name"`
	AllowedModels []string `json:"allowed_models"`
	IPWhitelist   []string `json:"ip_whitelist"`
	RateLimitRPM  int      `json:"rate_limit_rpm"`
	RateLimitRPH  int      `json:"rate_limit_rph"`
	ExpiresAt     *string  `json:"expires_at"` // RFC 3339
	Enabled       *bool    `json:"enabled"`
}

func (kr *keyRequest) expiry(w http.ResponseWriter) (*time.Time, bool) {
	if kr.ExpiresAt == nil || *kr.ExpiresAt == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, *kr.ExpiresAt)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "expires_at must be RFC 3339"})
		return nil, false
	}
	return &t, true
}

// keyView mirrors the stored record plus the decoded restriction lists. The
// secret itself is never part of it.
type keyView struct {
	models.APIKey
	AllowedModels []string `json:"allowed_models"`
	IPWhitelist   []string `json:"ip_whitelist"`
}

func viewOf(key *models.APIKey) keyView {
	return keyView{
		APIKey:        *key,
		AllowedModels: key.ModelPatterns(),
		IPWhitelist:   key.IPPatterns(),
	}
}

// CreateKeyHandler mints a new API key. The response carries the plaintext
// secret exactly once; only its hash is stored.
func CreateKeyHandler(d *AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req keyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		expiresAt, ok := req.expiry(w)
		if !ok {
			return
		}

		secret := apikey.GenerateSecret()
		key := &models.APIKey{
			ID:           uuid.New().String(),
			Name:         req.Name,
			Hash:         apikey.HashSecret(secret),
			Prefix:       apikey.DisplayPrefix(secret),
			RateLimitRPM: req.RateLimitRPM,
			RateLimitRPH: req.RateLimitRPH,
			ExpiresAt:    expiresAt,
			Enabled:      true,
		}
		key.SetModelPatterns(req.AllowedModels)
		key.SetIPPatterns(req.IPWhitelist)

		if err := d.Keys.Create(key); err != nil {
			log.Printf("⚠️ Failed to create API key: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create key"})
			return
		}

		log.Printf("🎫 Created API key %s (%s)", key.Name, key.Prefix)
		writeJSON(w, http.StatusCreated, map[string]interface{}{
			"key":    secret,
			"record": viewOf(key),
		})
	}
}

// ListKeysHandler lists all keys (hashes and secrets excluded).
func ListKeysHandler(d *AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := d.Keys.List()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list keys"})
			return
		}
		views := make([]keyView, 0, len(keys))
		for i := range keys {
			views = append(views, viewOf(&keys[i]))
		}
		writeJSON(w, http.StatusOK, views)
	}
}

// UpdateKeyHandler patches a key's name, restrictions, limits or enablement.
// The secret cannot be changed; mint a new key instead.
func UpdateKeyHandler(d *AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key, err := d.Keys.Get(chi.URLParam(r, "id"))
		if err != nil || key == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "key not found"})
			return
		}

		var req keyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		expiresAt, ok := req.expiry(w)
		if !ok {
			return
		}

		if req.Name != "" {
			key.Name = req.Name
		}
		if req.AllowedModels != nil {
			key.SetModelPatterns(req.AllowedModels)
		}
		if req.IPWhitelist != nil {
			key.SetIPPatterns(req.IPWhitelist)
		}
		if req.RateLimitRPM != 0 {
			key.RateLimitRPM = req.RateLimitRPM
		}
		if req.RateLimitRPH != 0 {
			key.RateLimitRPH = req.RateLimitRPH
		}
		if req.ExpiresAt != nil {
			key.ExpiresAt = expiresAt
		}
		if req.Enabled != nil {
			key.Enabled = *req.Enabled
		}

		if err := d.Keys.Update(key); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to update key"})
			return
		}
		writeJSON(w, http.StatusOK, viewOf(key))
	}
}

// DeleteKeyHandler revokes a key permanently.
func DeleteKeyHandler(d *AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Keys.Delete(chi.URLParam(r, "id")); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to delete key"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// AccountsHandler lists the pool roster without credential material.
func AccountsHandler(d *AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Pool.Snapshot())
	}
}

type accountRequest struct {
	Email        string `json:"email"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenExpiry  string `json:"token_expiry"` // RFC 3339
	Tier         string `json:"tier"`
}

// CreateAccountHandler registers a backend identity: persisted first, then
// added to the live pool.
func CreateAccountHandler(d *AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req accountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		if req.Email == "" || req.RefreshToken == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "email and refresh_token are required"})
			return
		}

		acc := &models.Account{
			ID:           uuid.New().String(),
			Email:        req.Email,
			AccessToken:  req.AccessToken,
			RefreshToken: req.RefreshToken,
			Tier:         req.Tier,
			Health:       100,
			Enabled:      true,
			LastRefillAt: time.Now(),
		}
		if acc.Tier == "" {
			acc.Tier = "free"
		}
		if req.TokenExpiry != "" {
			t, err := time.Parse(time.RFC3339, req.TokenExpiry)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "token_expiry must be RFC 3339"})
				return
			}
			acc.TokenExpiry = t
		}

		if err := d.Accounts.Save(acc); err != nil {
			log.Printf("⚠️ Failed to save account %s: %v", acc.Email, err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to save account"})
			return
		}
		d.Pool.Add(acc)

		log.Printf("✅ Registered account %s (token %s)", acc.Email, util.MaskSecret(acc.RefreshToken))
		writeJSON(w, http.StatusCreated, map[string]string{"id": acc.ID, "email": acc.Email})
	}
}

// SetAccountEnabledHandler flips the operator switch on a pooled identity.
func SetAccountEnabledHandler(d *AdminDeps, enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := d.Pool.SetEnabled(id, enabled); err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "enabled": enabled})
	}
}

// MonitorLogsHandler returns recent request logs.
func MonitorLogsHandler(d *AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		since, _ := strconv.Atoi(r.URL.Query().Get("since_minutes"))
		writeJSON(w, http.StatusOK, d.Monitor.GetLogs(limit, since))
	}
}

// MonitorStatsHandler returns aggregate request counters.
func MonitorStatsHandler(d *AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, d.Monitor.GetStats())
	}
}

// MonitorClearHandler wipes stored request logs.
func MonitorClearHandler(d *AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Monitor.Clear(); err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to clear logs"})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// MonitorToggleHandler enables or disables request logging.
func MonitorToggleHandler(d *AdminDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
			return
		}
		d.Monitor.SetEnabled(req.Enabled)
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
	}
}
