package pool

import (
	"github.com/seolaris/poolgate/internal/db/models"
	"gorm.io/gorm"
)

// Store is the persistence surface the pool needs: load the roster once at
// construction, write mutated identities back as they change.
type Store interface {
	LoadAll() ([]models.Account, error)
	Save(acc *models.Account) error
}

// GormStore implements Store on the SQLite mirror.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps a gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) LoadAll() ([]models.Account, error) {
	var accounts []models.Account
	err := s.db.Order("created_at ASC").Find(&accounts).Error
	return accounts, err
}

func (s *GormStore) Save(acc *models.Account) error {
	return s.db.Save(acc).Error
}
