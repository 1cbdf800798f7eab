package margin

import (
	"context"
	"fmt"
	"time"

	"github.com/papertrade/papertrade/internal/engine"
	"github.com/papertrade/papertrade/internal/oracle"
	"github.com/papertrade/papertrade/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Monitor periodically sweeps every account holding leveraged positions,
// computes its margin level from live prices and force-liquidates through
// the execution engine when the level falls below the account's maintenance
// ratio. Failures are isolated per account and per position; a sweep is
// never fatal to the process.
type Monitor struct {
	db           *Database
	oracle       oracle.PriceOracle
	engine       *engine.Service
	interval     time.Duration
	priceTimeout time.Duration
}

// NewMonitor creates a margin monitor sweeping at the given interval.
func NewMonitor(gormDB *gorm.DB, priceOracle oracle.PriceOracle, eng *engine.Service, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		db:           NewDatabase(gormDB),
		oracle:       priceOracle,
		engine:       eng,
		interval:     interval,
		priceTimeout: 3 * time.Second,
	}
}

// Start runs the sweep loop until the context is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	logger := log.With().Str("component", "margin_monitor").Logger()
	logger.Info().Dur("interval", m.interval).Msg("starting margin monitor")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down margin monitor")
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				logger.Error().Err(err).Msg("margin sweep failed")
			}
		}
	}
}

// Sweep runs one pass over all accounts with leveraged exposure. Per-account
// errors are logged and skipped so one bad account never blocks the rest.
func (m *Monitor) Sweep(ctx context.Context) error {
	logger := log.With().Str("component", "margin_monitor").Logger()

	accounts, err := m.db.AccountsWithLeveragedPositions()
	if err != nil {
		return err
	}

	for i := range accounts {
		account := &accounts[i]
		if err := m.checkAccount(ctx, account); err != nil {
			logger.Error().
				Err(err).
				Str("account_id", account.AccountID).
				Msg("margin check failed for account")
		}
	}

	return nil
}

// checkAccount computes equity = cash + unrealized PnL over the account's
// leveraged positions and liquidates when equity/margin_used drops below
// the maintenance ratio. Positions without a usable quote are skipped.
func (m *Monitor) checkAccount(ctx context.Context, account *types.Account) error {
	logger := log.With().
		Str("component", "margin_monitor").
		Str("account_id", account.AccountID).
		Logger()

	positions, err := m.db.LeveragedPositions(account.AccountID)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		return nil
	}

	marginUsed := decimal.NewFromFloat(account.MarginUsed)
	if !marginUsed.IsPositive() {
		return nil
	}

	totalPnL := decimal.Zero
	for i := range positions {
		pos := &positions[i]
		price, err := m.fetchPrice(ctx, pos.Symbol, pos.Market)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("symbol", pos.Symbol).
				Str("market", pos.Market).
				Msg("no usable quote, skipping position in margin check")
			continue
		}
		totalPnL = totalPnL.Add(unrealizedPnL(pos, price))
	}

	equity := decimal.NewFromFloat(account.CurrentCash).Add(totalPnL)
	marginLevel := equity.Div(marginUsed)
	maintenance := decimal.NewFromFloat(account.MaintenanceMarginRatio)

	logger.Debug().
		Str("equity", equity.StringFixed(2)).
		Str("margin_used", marginUsed.StringFixed(2)).
		Str("margin_level", marginLevel.StringFixed(4)).
		Str("maintenance_ratio", maintenance.StringFixed(4)).
		Msg("margin level computed")

	if marginLevel.GreaterThanOrEqual(maintenance) {
		return nil
	}

	logger.Warn().
		Str("margin_level", marginLevel.StringFixed(4)).
		Str("maintenance_ratio", maintenance.StringFixed(4)).
		Msg("margin call, liquidating leveraged positions")

	m.liquidate(ctx, account, positions)
	return nil
}

// liquidate force-closes every leveraged position at market for its full
// quantity through the execution engine, which serializes with any
// concurrent user order on the same account. Individual failures are
// logged; the loop continues.
func (m *Monitor) liquidate(ctx context.Context, account *types.Account, positions []types.Position) {
	logger := log.With().
		Str("component", "margin_monitor").
		Str("account_id", account.AccountID).
		Logger()

	for i := range positions {
		pos := &positions[i]
		if pos.Quantity <= 0 {
			continue
		}

		// SELL closes LONG, BUY closes SHORT.
		closeSide := types.SideSell
		if pos.Side == types.SideShort {
			closeSide = types.SideBuy
		}

		order, err := m.engine.Execute(ctx, engine.ExecuteRequest{
			AccountID:   account.AccountID,
			Symbol:      pos.Symbol,
			Name:        pos.Name,
			Market:      pos.Market,
			Side:        closeSide,
			OrderType:   types.OrderTypeMarket,
			Quantity:    pos.Quantity,
			Liquidation: true,
			Reason:      "margin call: equity below maintenance level",
		})
		if err != nil {
			logger.Error().
				Err(err).
				Str("symbol", pos.Symbol).
				Float64("quantity", pos.Quantity).
				Msg("liquidation order failed")
			continue
		}

		logger.Warn().
			Str("order_no", order.OrderNo).
			Str("symbol", pos.Symbol).
			Str("side", closeSide).
			Float64("quantity", pos.Quantity).
			Msg("position liquidated")
	}
}

func (m *Monitor) fetchPrice(ctx context.Context, symbol, market string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, m.priceTimeout)
	defer cancel()

	price, err := m.oracle.LastPrice(ctx, symbol, market)
	if err != nil {
		return decimal.Zero, err
	}
	// A zero or negative quote is no quote: feeding it into the PnL would
	// book the full entry cost as a loss and trigger a bogus margin call.
	if price <= 0 {
		return decimal.Zero, fmt.Errorf("oracle returned %v for %s/%s", price, symbol, market)
	}
	return decimal.NewFromFloat(price), nil
}

// unrealizedPnL is qty*(price-cost) for LONG and qty*(cost-price) for
// SHORT. Positions without a side default to LONG.
func unrealizedPnL(pos *types.Position, price decimal.Decimal) decimal.Decimal {
	quantity := decimal.NewFromFloat(pos.Quantity)
	cost := decimal.NewFromFloat(pos.AvgCost)

	if pos.Side == types.SideShort {
		return quantity.Mul(cost.Sub(price))
	}
	return quantity.Mul(price.Sub(cost))
}
