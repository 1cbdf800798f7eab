package database

import (
	"github.com/papertrade/papertrade/internal/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDatabase initializes a GORM connection for the given sqlite path and
// migrates the ledger schema.
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// NewMemoryDatabase opens an in-memory ledger, used by the simulation
// driver and tests.
func NewMemoryDatabase() (*gorm.DB, error) {
	return NewDatabase("file::memory:?cache=shared")
}

// Migrate creates the ledger schema.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Account{},
		&types.Position{},
		&types.Order{},
		&types.Trade{},
		&types.AssetSnapshot{},
	)
}
