package engine

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("invalid scalp config")

// ScalpConfig is the owner-mutable market configuration. Updates insert a
// whole new row rather than patching fields, so every transaction reads
// one consistent version and in-flight positions are never affected.
type ScalpConfig struct {
	ID                      uint            `gorm:"primarykey" json:"version"`
	MaxSize                 decimal.Decimal `gorm:"type:text" json:"max_size"`
	MaxOpenInterest         decimal.Decimal `gorm:"type:text" json:"max_open_interest"`
	MinimumMargin           decimal.Decimal `gorm:"type:text" json:"minimum_margin"`
	FeeBps                  decimal.Decimal `gorm:"type:text" json:"fee_bps"`                  // open fee, 1e10 divisor
	MinimumPremiumThreshold decimal.Decimal `gorm:"type:text" json:"minimum_premium_threshold"` // maintenance per size, 1e8 divisor
	CoolingPeriodSeconds    int64           `json:"cooling_period_seconds"`
	InsuranceFund           string          `json:"insurance_fund"`
	CreatedAt               time.Time       `json:"created_at"`
}

// CoolingPeriod returns the withdrawal cooling-off window as a duration.
func (c *ScalpConfig) CoolingPeriod() time.Duration {
	return time.Duration(c.CoolingPeriodSeconds) * time.Second
}

// Validate rejects configs that could never admit a position.
func (c *ScalpConfig) Validate() error {
	switch {
	case !c.MaxSize.IsPositive(),
		!c.MaxOpenInterest.IsPositive(),
		!c.MinimumMargin.IsPositive(),
		c.FeeBps.IsNegative(),
		c.MinimumPremiumThreshold.IsNegative(),
		c.CoolingPeriodSeconds < 0,
		c.InsuranceFund == "":
		return ErrInvalidConfig
	}
	return nil
}

// LoadConfig returns the current configuration: the highest version.
func LoadConfig(db *gorm.DB) (*ScalpConfig, error) {
	var cfg ScalpConfig
	if err := db.Order("id DESC").First(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

// EnsureGenesisConfig installs the given config as version 1 if no
// version exists yet.
func EnsureGenesisConfig(db *gorm.DB, genesis ScalpConfig) error {
	if err := genesis.Validate(); err != nil {
		return err
	}
	var count int64
	if err := db.Model(&ScalpConfig{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	genesis.ID = 0
	return db.Create(&genesis).Error
}
