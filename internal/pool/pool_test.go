package pool

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ksred/scalp-api/internal/types"
)

func newTestPools(t *testing.T) *Database {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Pool{}, &ShareBalance{}))
	require.NoError(t, EnsurePools(db))
	return NewDatabase(db)
}

func d(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func TestMintFirstDepositOneToOne(t *testing.T) {
	pools := newTestPools(t)

	shares, err := pools.Mint("lp1", types.SideQuote, d(10_000_000_000), time.Now())
	require.NoError(t, err)
	assert.True(t, d(10_000_000_000).Equal(shares))

	p, err := pools.Get(types.SideQuote)
	require.NoError(t, err)
	assert.True(t, d(10_000_000_000).Equal(p.TotalDeposits))
	assert.True(t, d(10_000_000_000).Equal(p.TotalShares))
}

func TestMintProRataAfterPoolGain(t *testing.T) {
	pools := newTestPools(t)
	now := time.Now()

	_, err := pools.Mint("lp1", types.SideQuote, d(1000), now)
	require.NoError(t, err)

	// Pool realizes a trader loss: share price doubles.
	require.NoError(t, pools.CreditDeposits(types.SideQuote, d(1000)))

	shares, err := pools.Mint("lp2", types.SideQuote, d(1000), now)
	require.NoError(t, err)
	assert.True(t, d(500).Equal(shares))

	// lp1's claim grew with the pool, lp2's matches its deposit.
	p, err := pools.Get(types.SideQuote)
	require.NoError(t, err)
	assert.True(t, d(3000).Equal(p.TotalDeposits))
	assert.True(t, d(1500).Equal(p.TotalShares))
}

func TestBurnPaysShareOfPool(t *testing.T) {
	pools := newTestPools(t)
	now := time.Now()

	_, err := pools.Mint("lp1", types.SideQuote, d(1000), now)
	require.NoError(t, err)
	require.NoError(t, pools.CreditDeposits(types.SideQuote, d(500)))

	out, err := pools.Burn("lp1", types.SideQuote, d(400), 0, now)
	require.NoError(t, err)
	assert.True(t, d(600).Equal(out))

	sb, err := pools.SharesOf("lp1", types.SideQuote)
	require.NoError(t, err)
	assert.True(t, d(600).Equal(sb.Shares))
}

func TestBurnRespectsLockedLiquidity(t *testing.T) {
	pools := newTestPools(t)
	now := time.Now()

	_, err := pools.Mint("lp1", types.SideBase, d(1000), now)
	require.NoError(t, err)
	require.NoError(t, pools.Lock(types.SideBase, d(700)))

	// 400 of payout would dip into the 700 locked.
	_, err = pools.Burn("lp1", types.SideBase, d(400), 0, now)
	assert.ErrorIs(t, err, ErrInsufficientLiquidity)

	// 300 is exactly the available slack.
	out, err := pools.Burn("lp1", types.SideBase, d(300), 0, now)
	require.NoError(t, err)
	assert.True(t, d(300).Equal(out))
}

func TestBurnCoolingPeriod(t *testing.T) {
	pools := newTestPools(t)
	now := time.Now()

	_, err := pools.Mint("lp1", types.SideQuote, d(1000), now)
	require.NoError(t, err)

	_, err = pools.Burn("lp1", types.SideQuote, d(1000), time.Hour, now.Add(time.Minute))
	assert.ErrorIs(t, err, ErrCoolingPeriod)

	out, err := pools.Burn("lp1", types.SideQuote, d(1000), time.Hour, now.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, d(1000).Equal(out))
}

func TestBurnMoreSharesThanHeld(t *testing.T) {
	pools := newTestPools(t)
	now := time.Now()

	_, err := pools.Mint("lp1", types.SideQuote, d(100), now)
	require.NoError(t, err)

	_, err = pools.Burn("lp1", types.SideQuote, d(101), 0, now)
	assert.ErrorIs(t, err, ErrInsufficientShares)
}

func TestLockBeyondDeposits(t *testing.T) {
	pools := newTestPools(t)

	_, err := pools.Mint("lp1", types.SideBase, d(100), time.Now())
	require.NoError(t, err)

	assert.ErrorIs(t, pools.Lock(types.SideBase, d(101)), ErrInsufficientLiquidity)
	require.NoError(t, pools.Lock(types.SideBase, d(100)))

	// Solvency invariant: deposits never fall below locked.
	assert.ErrorIs(t, pools.DebitDeposits(types.SideBase, d(1)), ErrInsufficientLiquidity)

	require.NoError(t, pools.Unlock(types.SideBase, d(100)))
	require.NoError(t, pools.DebitDeposits(types.SideBase, d(1)))
}

func TestUnlockMoreThanLocked(t *testing.T) {
	pools := newTestPools(t)

	_, err := pools.Mint("lp1", types.SideBase, d(100), time.Now())
	require.NoError(t, err)
	require.NoError(t, pools.Lock(types.SideBase, d(50)))

	assert.ErrorIs(t, pools.Unlock(types.SideBase, d(51)), ErrInsufficientLiquidity)
}
