package assets

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/papertrade/papertrade/internal/database"
	"github.com/papertrade/papertrade/internal/oracle"
	"github.com/papertrade/papertrade/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestCalculator(t *testing.T) (*Calculator, *oracle.StaticOracle, *gorm.DB) {
	t.Helper()

	db, err := database.NewDatabase("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)

	priceOracle := oracle.NewStaticOracle()
	return NewCalculator(db, priceOracle), priceOracle, db
}

func TestPositionEquitySpot(t *testing.T) {
	pos := &types.Position{Quantity: 100, AvgCost: 10, Leverage: 1}
	equity := PositionEquity(pos, decimal.NewFromInt(12))
	assert.Equal(t, "1200", equity.String())
}

func TestPositionEquityLeveragedLong(t *testing.T) {
	// 1 BTC at 10x from 50000, now 52000: margin 5200 + pnl 2000.
	pos := &types.Position{Quantity: 1, AvgCost: 50000, Leverage: 10, Side: types.SideLong}
	equity := PositionEquity(pos, decimal.NewFromInt(52000))
	assert.Equal(t, "7200", equity.String())
}

func TestPositionEquityLeveragedShort(t *testing.T) {
	// SHORT gains as price falls: margin 4800 + pnl 2000.
	pos := &types.Position{Quantity: 1, AvgCost: 50000, Leverage: 10, Side: types.SideShort}
	equity := PositionEquity(pos, decimal.NewFromInt(48000))
	assert.Equal(t, "6800", equity.String())
}

func TestPositionNotional(t *testing.T) {
	pos := &types.Position{Quantity: 2, AvgCost: 50000, Leverage: 10}
	notional := PositionNotional(pos, decimal.NewFromInt(50000))
	assert.Equal(t, "1000000", notional.String())
}

func TestTotalAssetsMixedPortfolio(t *testing.T) {
	calc, priceOracle, db := newTestCalculator(t)

	account := &types.Account{
		AccountID:      uuid.NewString(),
		Name:           "test",
		Currency:       "USD",
		InitialCapital: 100000,
		CurrentCash:    40000,
		MarginUsed:     5000,
	}
	require.NoError(t, db.Create(account).Error)

	require.NoError(t, db.Create(&types.Position{
		AccountID: account.AccountID,
		Symbol:    "600000",
		Market:    types.MarketCN,
		Quantity:  1000, AvailableQuantity: 1000,
		AvgCost: 10, Leverage: 1,
	}).Error)
	require.NoError(t, db.Create(&types.Position{
		AccountID: account.AccountID,
		Symbol:    "BTC/USDT",
		Market:    types.MarketCrypto,
		Quantity:  1, AvailableQuantity: 1,
		AvgCost: 50000, Leverage: 10, Side: types.SideLong,
	}).Error)

	priceOracle.SetPrice("600000", types.MarketCN, 12)
	priceOracle.SetPrice("BTC/USDT", types.MarketCrypto, 52000)

	summary, err := calc.TotalAssets(context.Background(), account)
	require.NoError(t, err)

	// Spot 12000 + leveraged (5200 margin + 2000 pnl) = 19200.
	assert.InDelta(t, 19200, summary.PositionsEquity, 1e-9)
	assert.InDelta(t, 59200, summary.TotalAssets, 1e-9)
	assert.Equal(t, 40000.0, summary.Cash)
	assert.Equal(t, 5000.0, summary.MarginUsed)
}

func TestTotalAssetsSkipsUnquotablePosition(t *testing.T) {
	calc, priceOracle, db := newTestCalculator(t)

	account := &types.Account{
		AccountID:   uuid.NewString(),
		Name:        "test",
		CurrentCash: 1000,
	}
	require.NoError(t, db.Create(account).Error)

	require.NoError(t, db.Create(&types.Position{
		AccountID: account.AccountID,
		Symbol:    "600000",
		Market:    types.MarketCN,
		Quantity:  100, AvailableQuantity: 100,
		AvgCost: 10, Leverage: 1,
	}).Error)
	require.NoError(t, db.Create(&types.Position{
		AccountID: account.AccountID,
		Symbol:    "DELISTED",
		Market:    types.MarketCN,
		Quantity:  100, AvailableQuantity: 100,
		AvgCost: 5, Leverage: 1,
	}).Error)

	priceOracle.SetPrice("600000", types.MarketCN, 11)

	summary, err := calc.TotalAssets(context.Background(), account)
	require.NoError(t, err)

	// Only the quotable position counts.
	assert.InDelta(t, 1100, summary.PositionsEquity, 1e-9)
	assert.InDelta(t, 2100, summary.TotalAssets, 1e-9)
}

func TestSnapshotAndCurve(t *testing.T) {
	calc, priceOracle, db := newTestCalculator(t)

	account := &types.Account{
		AccountID:   uuid.NewString(),
		Name:        "test",
		CurrentCash: 1000,
	}
	require.NoError(t, db.Create(account).Error)
	require.NoError(t, db.Create(&types.Position{
		AccountID: account.AccountID,
		Symbol:    "600000",
		Market:    types.MarketCN,
		Quantity:  100, AvailableQuantity: 100,
		AvgCost: 10, Leverage: 1,
	}).Error)

	ctx := context.Background()
	priceOracle.SetPrice("600000", types.MarketCN, 10)
	require.NoError(t, calc.Snapshot(ctx, account.AccountID))

	priceOracle.SetPrice("600000", types.MarketCN, 12)
	require.NoError(t, calc.Snapshot(ctx, account.AccountID))

	curve, err := calc.Curve(account.AccountID, 0)
	require.NoError(t, err)
	require.Len(t, curve, 2)
	assert.InDelta(t, 2000, curve[0].TotalAssets, 1e-9)
	assert.InDelta(t, 2200, curve[1].TotalAssets, 1e-9)
}

func TestSnapshotUnknownAccountIsNoOp(t *testing.T) {
	calc, _, db := newTestCalculator(t)

	require.NoError(t, calc.Snapshot(context.Background(), uuid.NewString()))

	var n int64
	require.NoError(t, db.Model(&types.AssetSnapshot{}).Count(&n).Error)
	assert.Zero(t, n)
}
