package models

import "time"

// Account stores one pooled backend identity: its OAuth credential bundle
// plus the health bookkeeping the pool mutates on every selection.
type Account struct {
	ID           string `gorm:"primaryKey"` // UUID
	Email        string `gorm:"uniqueIndex"`
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time
	Tier         string `gorm:"default:'free'"` // free, pro, ultra

	// Selection bookkeeping, mirrored asynchronously from the in-memory pool.
	Health        float64 `gorm:"default:100"`
	Tokens        float64
	LastRefillAt  time.Time
	CooldownUntil *time.Time
	Enabled       bool `gorm:"default:true"`
	Invalid       bool `gorm:"default:false"`
	LastUsedAt    time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
