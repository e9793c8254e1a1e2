package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ksred/scalp-api/internal/assets"
	"github.com/ksred/scalp-api/internal/database/migrations"
	"github.com/ksred/scalp-api/internal/engine"
	"github.com/ksred/scalp-api/internal/orders"
	"github.com/ksred/scalp-api/internal/pool"
	"github.com/ksred/scalp-api/internal/positions"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&assets.Balance{},
		&pool.Pool{},
		&pool.ShareBalance{},
		&positions.Position{},
		&engine.ScalpConfig{},
		&orders.OpenOrder{},
		&orders.CloseOrder{},
		&orders.ScalpEngine{},
	)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := migrations.SeedPools(db); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}
