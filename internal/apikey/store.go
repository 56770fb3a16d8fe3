package apikey

import (
	"errors"
	"log"
	"time"

	"github.com/seolaris/poolgate/internal/db/models"
	"gorm.io/gorm"
)

// Store is the key persistence surface the validator and admin handlers
// consume. FindByHash returning (nil, nil) means "no such key".
type Store interface {
	FindByHash(hash string) (*models.APIKey, error)
	// RecordUsage bumps request_count/last_used_at. Fire-and-forget: usage
	// accounting must never block or fail a request.
	RecordUsage(id string)

	Create(key *models.APIKey) error
	List() ([]models.APIKey, error)
	Get(id string) (*models.APIKey, error)
	Update(key *models.APIKey) error
	Delete(id string) error
}

// GormStore implements Store on the SQLite mirror.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps a gorm handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) FindByHash(hash string) (*models.APIKey, error) {
	var key models.APIKey
	err := s.db.Where("hash = ?", hash).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *GormStore) RecordUsage(id string) {
	go func() {
		err := s.db.Model(&models.APIKey{}).Where("id = ?", id).Updates(map[string]interface{}{
			"request_count": gorm.Expr("request_count + 1"),
			"last_used_at":  time.Now(),
		}).Error
		if err != nil {
			log.Printf("⚠️ Failed to record key usage for %s: %v", id, err)
		}
	}()
}

func (s *GormStore) Create(key *models.APIKey) error {
	return s.db.Create(key).Error
}

func (s *GormStore) List() ([]models.APIKey, error) {
	var keys []models.APIKey
	err := s.db.Order("created_at DESC").Find(&keys).Error
	return keys, err
}

func (s *GormStore) Get(id string) (*models.APIKey, error) {
	var key models.APIKey
	err := s.db.Where("id = ?", id).First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *GormStore) Update(key *models.APIKey) error {
	return s.db.Save(key).Error
}

func (s *GormStore) Delete(id string) error {
	return s.db.Delete(&models.APIKey{}, "id = ?", id).Error
}
