// Package assets keeps the fungible-token balances every other component
// settles against: trader wallets, the engine escrow, and the insurance
// fund are all accounts here.
package assets

import (
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be positive")
)

// Balance is one account's holding of one asset.
type Balance struct {
	gorm.Model `json:"-"`
	Account    string          `gorm:"uniqueIndex:idx_account_asset" json:"account"`
	Asset      string          `gorm:"uniqueIndex:idx_account_asset" json:"asset"`
	Amount     decimal.Decimal `gorm:"type:text" json:"amount"`
}

// Ledger wraps the balance table. All mutating methods expect to run
// inside the caller's transaction.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// WithTx returns a view of the ledger bound to an open transaction.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx}
}

// BalanceOf returns the account's holding of the asset, zero if the
// account has never held it.
func (l *Ledger) BalanceOf(account, asset string) (decimal.Decimal, error) {
	var balance Balance
	err := l.db.Where("account = ? AND asset = ?", account, asset).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return balance.Amount, nil
}

// Credit adds amount to the account's holding of the asset.
func (l *Ledger) Credit(account, asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	var balance Balance
	err := l.db.Where("account = ? AND asset = ?", account, asset).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		balance = Balance{Account: account, Asset: asset, Amount: amount}
		return l.db.Create(&balance).Error
	}
	if err != nil {
		return err
	}
	balance.Amount = balance.Amount.Add(amount)
	return l.db.Save(&balance).Error
}

// Debit removes amount from the account's holding, failing with
// ErrInsufficientBalance if the holding cannot cover it.
func (l *Ledger) Debit(account, asset string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	var balance Balance
	err := l.db.Where("account = ? AND asset = ?", account, asset).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if amount.IsZero() {
			return nil
		}
		return ErrInsufficientBalance
	}
	if err != nil {
		return err
	}
	if balance.Amount.LessThan(amount) {
		return ErrInsufficientBalance
	}
	balance.Amount = balance.Amount.Sub(amount)
	return l.db.Save(&balance).Error
}

// Transfer moves amount of asset between two accounts.
func (l *Ledger) Transfer(from, to, asset string, amount decimal.Decimal) error {
	if err := l.Debit(from, asset, amount); err != nil {
		return err
	}
	return l.Credit(to, asset, amount)
}
