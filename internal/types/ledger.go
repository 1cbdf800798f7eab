package types

import (
	"time"

	"gorm.io/gorm"
)

// Markets supported by the paper-trading ledger.
const (
	MarketCN     = "CN"     // A-shares, CNY
	MarketHK     = "HK"     // HK equities, HKD
	MarketUS     = "US"     // US equities, USD
	MarketCrypto = "CRYPTO" // leveraged crypto pairs, USDT
)

// Order sides. BUY/SELL are the spot sides; LONG/SHORT open a leveraged
// position on the crypto market, and BUY/SELL close it (BUY closes SHORT,
// SELL closes LONG).
const (
	SideBuy   = "BUY"
	SideSell  = "SELL"
	SideLong  = "LONG"
	SideShort = "SHORT"
)

// Order types. MARKET orders are priced from the oracle at execution time,
// LIMIT orders fill immediately at the supplied price.
const (
	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
)

// Order statuses.
const (
	OrderStatusPending   = "PENDING"
	OrderStatusFilled    = "FILLED"
	OrderStatusRejected  = "REJECTED"
	OrderStatusCancelled = "CANCELLED"
)

// Account is the unit of isolation: positions, orders and trades belong to
// exactly one account. CurrentCash never goes negative through a successful
// execution; MarginUsed tracks initial margin held against open leveraged
// positions.
type Account struct {
	gorm.Model             `json:"-"`
	AccountID              string  `gorm:"uniqueIndex" json:"account_id"`
	Name                   string  `json:"name"`
	Currency               string  `json:"currency"`
	InitialCapital         float64 `json:"initial_capital"`
	CurrentCash            float64 `json:"current_cash"`
	FrozenCash             float64 `json:"frozen_cash"`
	MarginUsed             float64 `json:"margin_used"`
	MaintenanceMarginRatio float64 `json:"maintenance_margin_ratio"`
}

// Position holds the open quantity for one (account, symbol, market). A
// symbol is never simultaneously LONG and SHORT in the same account. When
// Quantity reaches zero the row is zeroed, not deleted: Side clears,
// Leverage resets to 1 and LastInterestTime becomes nil.
type Position struct {
	gorm.Model          `json:"-"`
	AccountID           string     `gorm:"index:idx_position,unique" json:"account_id"`
	Symbol              string     `gorm:"index:idx_position,unique" json:"symbol"`
	Market              string     `gorm:"index:idx_position,unique" json:"market"`
	Name                string     `json:"name"`
	Quantity            float64    `json:"quantity"`
	AvailableQuantity   float64    `json:"available_quantity"`
	AvgCost             float64    `json:"avg_cost"`
	Leverage            int        `json:"leverage"`
	Side                string     `json:"side,omitempty"` // LONG, SHORT or "" for spot/flat
	AccumulatedInterest float64    `json:"accumulated_interest"`
	LastInterestTime    *time.Time `json:"last_interest_time,omitempty"`
}

// Open reports whether the position currently holds any quantity.
func (p *Position) Open() bool {
	return p.Quantity > 0
}

// Leveraged reports whether the position carries borrowed exposure.
func (p *Position) Leveraged() bool {
	return p.Leverage > 1
}

// Order is an immutable intent with a mutable status. Orders are created
// PENDING and transition synchronously to FILLED or REJECTED within the
// execution call; partial fills are not modeled.
type Order struct {
	gorm.Model     `json:"-"`
	OrderNo        string  `gorm:"uniqueIndex" json:"order_no"`
	AccountID      string  `gorm:"index" json:"account_id"`
	Symbol         string  `json:"symbol"`
	Name           string  `json:"name"`
	Market         string  `json:"market"`
	Side           string  `json:"side"`
	OrderType      string  `json:"order_type"`
	Price          float64 `json:"price"` // zero for market orders until filled
	Quantity       float64 `json:"quantity"`
	Leverage       int     `json:"leverage"`
	FilledQuantity float64 `json:"filled_quantity"`
	Status         string  `json:"status"`
	Liquidation    bool    `json:"liquidation"` // set when the margin monitor originated the order
	Reason         string  `json:"reason,omitempty"`
}

// Trade is the append-only execution record linked to an order. Never
// mutated after creation.
type Trade struct {
	gorm.Model      `json:"-"`
	TradeID         string  `gorm:"uniqueIndex" json:"trade_id"`
	OrderNo         string  `gorm:"index" json:"order_no"`
	AccountID       string  `gorm:"index" json:"account_id"`
	Symbol          string  `json:"symbol"`
	Name            string  `json:"name"`
	Market          string  `json:"market"`
	Side            string  `json:"side"`
	Price           float64 `json:"price"`
	Quantity        float64 `json:"quantity"`
	Commission      float64 `json:"commission"`
	TakerFee        float64 `json:"taker_fee"` // stamp tax / platform fee / crypto taker fee bucket
	InterestCharged float64 `json:"interest_charged"`
}

// AssetSnapshot is a point-in-time record of an account's total assets,
// written by the periodic snapshot job to build the asset curve.
type AssetSnapshot struct {
	gorm.Model      `json:"-"`
	AccountID       string    `gorm:"index" json:"account_id"`
	TotalAssets     float64   `json:"total_assets"`
	Cash            float64   `json:"cash"`
	PositionsEquity float64   `json:"positions_equity"`
	MarginUsed      float64   `json:"margin_used"`
	Timestamp       time.Time `gorm:"index" json:"timestamp"`
}
