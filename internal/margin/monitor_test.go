package margin

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/papertrade/papertrade/internal/database"
	"github.com/papertrade/papertrade/internal/engine"
	"github.com/papertrade/papertrade/internal/oracle"
	"github.com/papertrade/papertrade/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestMonitor(t *testing.T) (*Monitor, *oracle.StaticOracle, *engine.Service, *gorm.DB) {
	t.Helper()

	db, err := database.NewDatabase("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)

	priceOracle := oracle.NewStaticOracle()
	eng := engine.NewService(db, priceOracle, nil)
	return NewMonitor(db, priceOracle, eng, time.Second), priceOracle, eng, db
}

func createAccount(t *testing.T, db *gorm.DB, cash float64) *types.Account {
	t.Helper()

	account := &types.Account{
		AccountID:              uuid.NewString(),
		Name:                   "test",
		Currency:               "USD",
		InitialCapital:         cash,
		CurrentCash:            cash,
		MaintenanceMarginRatio: 0.5,
	}
	require.NoError(t, db.Create(account).Error)
	return account
}

func openLong(t *testing.T, eng *engine.Service, accountID string, price float64, qty float64, leverage int) {
	t.Helper()

	_, err := eng.Execute(context.Background(), engine.ExecuteRequest{
		AccountID: accountID,
		Symbol:    "BTC/USDT",
		Market:    types.MarketCrypto,
		Side:      types.SideLong,
		OrderType: types.OrderTypeLimit,
		Price:     price,
		Quantity:  qty,
		Leverage:  leverage,
	})
	require.NoError(t, err)
}

func TestSweepLiquidatesUnderwaterAccount(t *testing.T) {
	monitor, priceOracle, eng, db := newTestMonitor(t)
	account := createAccount(t, db, 1000)

	// LONG 1 BTC at 5000 with 10x: margin 500, fee 2.5, cash 497.50.
	openLong(t, eng, account.AccountID, 5000, 1, 10)

	// Price drop to 4700: equity 497.5 - 300 = 197.5, level 0.395 < 0.5.
	priceOracle.SetPrice("BTC/USDT", types.MarketCrypto, 4700)
	require.NoError(t, monitor.Sweep(context.Background()))

	var pos types.Position
	require.NoError(t, db.Where("account_id = ?", account.AccountID).First(&pos).Error)
	assert.Zero(t, pos.Quantity)
	assert.Empty(t, pos.Side)

	// pnl -300, margin 500 released, close fee 4700*0.0005 = 2.35.
	var got types.Account
	require.NoError(t, db.Where("account_id = ?", account.AccountID).First(&got).Error)
	assert.InDelta(t, 497.5-300+500-2.35, got.CurrentCash, 0.05)
	assert.Zero(t, got.MarginUsed)

	var order types.Order
	require.NoError(t, db.Where("account_id = ? AND side = ?", account.AccountID, types.SideSell).First(&order).Error)
	assert.True(t, order.Liquidation)
	assert.Equal(t, types.OrderTypeMarket, order.OrderType)
	assert.Equal(t, types.OrderStatusFilled, order.Status)
	assert.Equal(t, 10, order.Leverage)
	assert.NotEmpty(t, order.Reason)
}

func TestSweepLeavesHealthyAccountAlone(t *testing.T) {
	monitor, priceOracle, eng, db := newTestMonitor(t)
	account := createAccount(t, db, 1000)

	openLong(t, eng, account.AccountID, 5000, 1, 10)

	// Mild dip: equity 497.5 - 100 = 397.5, level 0.795 >= 0.5.
	priceOracle.SetPrice("BTC/USDT", types.MarketCrypto, 4900)
	require.NoError(t, monitor.Sweep(context.Background()))

	var pos types.Position
	require.NoError(t, db.Where("account_id = ?", account.AccountID).First(&pos).Error)
	assert.Equal(t, 1.0, pos.Quantity)
	assert.Equal(t, types.SideLong, pos.Side)

	var liquidations int64
	require.NoError(t, db.Model(&types.Order{}).
		Where("account_id = ? AND liquidation = ?", account.AccountID, true).
		Count(&liquidations).Error)
	assert.Zero(t, liquidations)
}

func TestSweepSkipsPositionWithoutQuote(t *testing.T) {
	monitor, priceOracle, eng, db := newTestMonitor(t)
	account := createAccount(t, db, 1000)

	openLong(t, eng, account.AccountID, 5000, 1, 10)
	priceOracle.RemovePrice("BTC/USDT", types.MarketCrypto)

	// Equity is cash alone (497.5), level 0.995 >= 0.5: the unquotable
	// position contributes no PnL rather than forcing a liquidation, and
	// a market close could not price anyway.
	require.NoError(t, monitor.Sweep(context.Background()))

	var pos types.Position
	require.NoError(t, db.Where("account_id = ?", account.AccountID).First(&pos).Error)
	assert.Equal(t, 1.0, pos.Quantity)
}

func TestSweepIgnoresSpotOnlyAccounts(t *testing.T) {
	monitor, priceOracle, eng, db := newTestMonitor(t)
	account := createAccount(t, db, 100000)

	_, err := eng.Execute(context.Background(), engine.ExecuteRequest{
		AccountID: account.AccountID,
		Symbol:    "600000",
		Market:    types.MarketCN,
		Side:      types.SideBuy,
		OrderType: types.OrderTypeLimit,
		Price:     10,
		Quantity:  100,
	})
	require.NoError(t, err)

	// Even a total collapse of a spot holding never triggers a margin call.
	priceOracle.SetPrice("600000", types.MarketCN, 0.01)
	require.NoError(t, monitor.Sweep(context.Background()))

	var pos types.Position
	require.NoError(t, db.Where("account_id = ?", account.AccountID).First(&pos).Error)
	assert.Equal(t, 100.0, pos.Quantity)
}

// zeroQuoteOracle reports a zero price with a nil error for one symbol and
// delegates the rest, the shape of a feed that responds but has no trade yet.
type zeroQuoteOracle struct {
	inner  *oracle.StaticOracle
	symbol string
}

func (o *zeroQuoteOracle) LastPrice(ctx context.Context, symbol, market string) (float64, error) {
	if symbol == o.symbol {
		return 0, nil
	}
	return o.inner.LastPrice(ctx, symbol, market)
}

func (o *zeroQuoteOracle) Kline(ctx context.Context, symbol, market, period string, count int) ([]oracle.Candle, error) {
	return o.inner.Kline(ctx, symbol, market, period, count)
}

func TestSweepTreatsZeroQuoteAsUnavailable(t *testing.T) {
	db, err := database.NewDatabase("file:" + uuid.NewString() + "?mode=memory&cache=shared")
	require.NoError(t, err)

	static := oracle.NewStaticOracle()
	eng := engine.NewService(db, static, nil)
	monitor := NewMonitor(db, &zeroQuoteOracle{inner: static, symbol: "BTC/USDT"}, eng, time.Second)

	account := createAccount(t, db, 2000)

	// Two 10x longs: margin 500 + fee 2.5 each, cash 995, margin used 1000.
	openLong(t, eng, account.AccountID, 5000, 1, 10)
	_, err = eng.Execute(context.Background(), engine.ExecuteRequest{
		AccountID: account.AccountID,
		Symbol:    "ETH/USDT",
		Market:    types.MarketCrypto,
		Side:      types.SideLong,
		OrderType: types.OrderTypeLimit,
		Price:     5000,
		Quantity:  1,
		Leverage:  10,
	})
	require.NoError(t, err)

	// At real prices the account is healthy: equity 995 + 100, level ~1.1.
	// A zero BTC quote must be skipped, not booked as a 5000 loss that
	// would sink the level and liquidate the healthy ETH position too.
	static.SetPrice("ETH/USDT", types.MarketCrypto, 5100)
	require.NoError(t, monitor.Sweep(context.Background()))

	var pos types.Position
	require.NoError(t, db.Where("account_id = ? AND symbol = ?", account.AccountID, "ETH/USDT").First(&pos).Error)
	assert.Equal(t, 1.0, pos.Quantity)
	assert.Equal(t, types.SideLong, pos.Side)

	var liquidations int64
	require.NoError(t, db.Model(&types.Order{}).
		Where("account_id = ? AND liquidation = ?", account.AccountID, true).
		Count(&liquidations).Error)
	assert.Zero(t, liquidations)
}

func TestSweepLiquidatesShortOnRally(t *testing.T) {
	monitor, priceOracle, eng, db := newTestMonitor(t)
	account := createAccount(t, db, 1000)

	_, err := eng.Execute(context.Background(), engine.ExecuteRequest{
		AccountID: account.AccountID,
		Symbol:    "ETH/USDT",
		Market:    types.MarketCrypto,
		Side:      types.SideShort,
		OrderType: types.OrderTypeLimit,
		Price:     5000,
		Quantity:  1,
		Leverage:  10,
	})
	require.NoError(t, err)

	// SHORT loses as price climbs: equity 497.5 - 350 = 147.5, level 0.295.
	priceOracle.SetPrice("ETH/USDT", types.MarketCrypto, 5350)
	require.NoError(t, monitor.Sweep(context.Background()))

	var pos types.Position
	require.NoError(t, db.Where("account_id = ?", account.AccountID).First(&pos).Error)
	assert.Zero(t, pos.Quantity)

	// A SHORT is closed by a BUY order.
	var order types.Order
	require.NoError(t, db.Where("account_id = ? AND liquidation = ?", account.AccountID, true).First(&order).Error)
	assert.Equal(t, types.SideBuy, order.Side)
}
