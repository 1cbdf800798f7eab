package assets

import (
	"context"
	"errors"
	"time"

	"github.com/papertrade/papertrade/internal/oracle"
	"github.com/papertrade/papertrade/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PositionEquity values one position at the given price. For leveraged
// positions equity is margin plus unrealized PnL, never the full notional:
// counting notional as equity double-counts borrowed exposure.
//
//	leverage > 1:  qty*price/leverage + qty*(price - avg_cost)
//	leverage == 1: qty*price
func PositionEquity(pos *types.Position, price decimal.Decimal) decimal.Decimal {
	quantity := decimal.NewFromFloat(pos.Quantity)
	marketValue := quantity.Mul(price)

	if pos.Leverage <= 1 {
		return marketValue
	}

	margin := marketValue.Div(decimal.NewFromInt(int64(pos.Leverage)))
	cost := decimal.NewFromFloat(pos.AvgCost)

	var pnl decimal.Decimal
	if pos.Side == types.SideShort {
		pnl = quantity.Mul(cost.Sub(price))
	} else {
		pnl = quantity.Mul(price.Sub(cost))
	}
	return margin.Add(pnl)
}

// PositionNotional is qty*price*leverage, the exposure of the position.
// Only for exposure reporting, never an input to total-assets math.
func PositionNotional(pos *types.Position, price decimal.Decimal) decimal.Decimal {
	return decimal.NewFromFloat(pos.Quantity).
		Mul(price).
		Mul(decimal.NewFromInt(int64(pos.Leverage)))
}

// Summary is a snapshot of an account's valuation.
type Summary struct {
	AccountID       string  `json:"account_id"`
	Cash            float64 `json:"cash"`
	PositionsEquity float64 `json:"positions_equity"`
	TotalAssets     float64 `json:"total_assets"`
	MarginUsed      float64 `json:"margin_used"`
}

// Calculator values accounts from ledger positions and live prices.
type Calculator struct {
	db     *gorm.DB
	oracle oracle.PriceOracle
}

func NewCalculator(db *gorm.DB, priceOracle oracle.PriceOracle) *Calculator {
	return &Calculator{db: db, oracle: priceOracle}
}

// TotalAssets returns cash plus the summed equity of every open position.
// Positions without a usable quote are skipped and logged, matching the
// margin monitor's skip-on-failure semantics.
func (c *Calculator) TotalAssets(ctx context.Context, account *types.Account) (Summary, error) {
	logger := log.With().
		Str("component", "assets").
		Str("account_id", account.AccountID).
		Logger()

	var positions []types.Position
	if err := c.db.Where("account_id = ? AND quantity > 0", account.AccountID).Find(&positions).Error; err != nil {
		return Summary{}, err
	}

	equity := decimal.Zero
	for i := range positions {
		pos := &positions[i]
		price, err := c.oracle.LastPrice(ctx, pos.Symbol, pos.Market)
		if err != nil || price <= 0 {
			logger.Warn().
				Str("symbol", pos.Symbol).
				Str("market", pos.Market).
				Msg("no usable quote, position excluded from valuation")
			continue
		}
		equity = equity.Add(PositionEquity(pos, decimal.NewFromFloat(price)))
	}

	cash := decimal.NewFromFloat(account.CurrentCash)
	return Summary{
		AccountID:       account.AccountID,
		Cash:            account.CurrentCash,
		PositionsEquity: equity.InexactFloat64(),
		TotalAssets:     cash.Add(equity).InexactFloat64(),
		MarginUsed:      account.MarginUsed,
	}, nil
}

// Snapshot computes and persists an AssetSnapshot row for the account.
func (c *Calculator) Snapshot(ctx context.Context, accountID string) error {
	var account types.Account
	if err := c.db.Where("account_id = ?", accountID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	summary, err := c.TotalAssets(ctx, &account)
	if err != nil {
		return err
	}

	return c.db.Create(&types.AssetSnapshot{
		AccountID:       accountID,
		TotalAssets:     summary.TotalAssets,
		Cash:            summary.Cash,
		PositionsEquity: summary.PositionsEquity,
		MarginUsed:      summary.MarginUsed,
		Timestamp:       time.Now().UTC(),
	}).Error
}

// Curve returns the stored snapshots for an account, oldest first.
func (c *Calculator) Curve(accountID string, limit int) ([]types.AssetSnapshot, error) {
	var snapshots []types.AssetSnapshot
	q := c.db.Where("account_id = ?", accountID).Order("timestamp ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&snapshots).Error
	return snapshots, err
}
