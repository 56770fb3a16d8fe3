package models

import (
	"encoding/json"
	"time"
)

// APIKey stores one client credential. Only the SHA-256 hash of the secret is
// retained; the display prefix exists so the dashboard can tell keys apart.
type APIKey struct {
	ID     string `gorm:"primaryKey" json:"id"` // UUID
	Name   string `json:"name"`
	Hash   string `gorm:"uniqueIndex" json:"-"`
	Prefix string `json:"prefix"`

	// AllowedModels and IPWhitelist are JSON-encoded glob lists.
	// Empty means unrestricted.
	AllowedModels string `json:"-"`
	IPWhitelist   string `json:"-"`

	RateLimitRPM int `json:"rate_limit_rpm"` // 0 = unlimited
	RateLimitRPH int `json:"rate_limit_rph"` // 0 = unlimited

	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	Enabled      bool       `gorm:"default:true" json:"enabled"`
	RequestCount int64      `json:"request_count"`
	LastUsedAt   time.Time  `json:"last_used_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ModelPatterns decodes the allowed-model glob list. Nil means allow all.
func (k *APIKey) ModelPatterns() []string {
	return decodePatterns(k.AllowedModels)
}

// IPPatterns decodes the IP whitelist glob list. Nil means allow all.
func (k *APIKey) IPPatterns() []string {
	return decodePatterns(k.IPWhitelist)
}

// SetModelPatterns encodes the allowed-model glob list.
func (k *APIKey) SetModelPatterns(patterns []string) {
	k.AllowedModels = encodePatterns(patterns)
}

// SetIPPatterns encodes the IP whitelist glob list.
func (k *APIKey) SetIPPatterns(patterns []string) {
	k.IPWhitelist = encodePatterns(patterns)
}

func decodePatterns(s string) []string {
	if s == "" {
		return nil
	}
	var patterns []string
	if err := json.Unmarshal([]byte(s), &patterns); err != nil {
		return nil
	}
	return patterns
}

func encodePatterns(patterns []string) string {
	if len(patterns) == 0 {
		return ""
	}
	data, _ := json.Marshal(patterns)
	return string(data)
}
