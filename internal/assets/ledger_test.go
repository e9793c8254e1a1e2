package assets

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Balance{}))
	return NewLedger(db)
}

func TestCreditAndBalance(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Credit("alice", "USDC", decimal.NewFromInt(1000)))
	require.NoError(t, l.Credit("alice", "USDC", decimal.NewFromInt(500)))

	balance, err := l.BalanceOf("alice", "USDC")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1500).Equal(balance))

	// Unknown holdings read as zero.
	balance, err = l.BalanceOf("alice", "WETH")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestDebitInsufficient(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Credit("bob", "USDC", decimal.NewFromInt(100)))

	assert.ErrorIs(t, l.Debit("bob", "USDC", decimal.NewFromInt(101)), ErrInsufficientBalance)
	assert.ErrorIs(t, l.Debit("bob", "WETH", decimal.NewFromInt(1)), ErrInsufficientBalance)

	// Balance untouched by the failed debits.
	balance, err := l.BalanceOf("bob", "USDC")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(100).Equal(balance))
}

func TestTransfer(t *testing.T) {
	l := newTestLedger(t)

	require.NoError(t, l.Credit("alice", "USDC", decimal.NewFromInt(1000)))
	require.NoError(t, l.Transfer("alice", "bob", "USDC", decimal.NewFromInt(400)))

	aliceBalance, err := l.BalanceOf("alice", "USDC")
	require.NoError(t, err)
	bobBalance, err := l.BalanceOf("bob", "USDC")
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(600).Equal(aliceBalance))
	assert.True(t, decimal.NewFromInt(400).Equal(bobBalance))
}

func TestNegativeAmountRejected(t *testing.T) {
	l := newTestLedger(t)

	assert.ErrorIs(t, l.Credit("alice", "USDC", decimal.NewFromInt(-1)), ErrInvalidAmount)
	assert.ErrorIs(t, l.Debit("alice", "USDC", decimal.NewFromInt(-1)), ErrInvalidAmount)
}
