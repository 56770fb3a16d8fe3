// Package db owns the SQLite mirror of gateway state. The in-memory pool and
// validator are the source of truth at runtime; the database exists so keys
// and account health survive restarts.
package db

import (
	"github.com/glebarez/sqlite"
	"github.com/seolaris/poolgate/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Init opens the SQLite database and runs migrations.
func Init(dbPath string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := gdb.AutoMigrate(
		&models.Account{},
		&models.APIKey{},
		&models.RequestLog{},
	); err != nil {
		return nil, err
	}

	return gdb, nil
}
