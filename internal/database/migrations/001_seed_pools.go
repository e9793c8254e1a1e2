package migrations

import (
	"gorm.io/gorm"

	"github.com/ksred/scalp-api/internal/pool"
)

// SeedPools creates the base and quote liquidity pool rows when they do
// not already exist. Safe to run on every startup.
func SeedPools(db *gorm.DB) error {
	return pool.EnsurePools(db)
}
