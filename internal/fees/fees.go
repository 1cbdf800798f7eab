package fees

import (
	"fmt"
	"math"
	"time"

	"github.com/papertrade/papertrade/internal/types"
	"github.com/shopspring/decimal"
)

// Per-market trading constants. Commission minimums are in the market's own
// currency (CNY, HKD, USD, USDT).
var (
	cnCommissionRate = decimal.NewFromFloat(0.0003)  // 0.03%
	cnMinCommission  = decimal.NewFromInt(5)         // CNY 5
	cnStampTaxRate   = decimal.NewFromFloat(0.001)   // 0.1%, sell only
	cnTransferRate   = decimal.NewFromFloat(0.00002) // 0.002%

	hkCommissionRate = decimal.NewFromFloat(0.0003) // 0.03%
	hkMinCommission  = decimal.NewFromInt(3)        // HKD 3
	hkPlatformFee    = decimal.NewFromInt(15)       // HKD 15 flat
	hkStampDutyRate  = decimal.NewFromFloat(0.001)  // 0.1%, both sides

	usCommissionPerShare = decimal.NewFromFloat(0.005) // USD 0.005/share
	usMinCommission      = decimal.NewFromInt(1)       // USD 1

	cryptoTakerFeeRate     = decimal.NewFromFloat(0.0005) // 0.05% taker
	cryptoHourlyInterest   = decimal.NewFromFloat(0.0001) // 0.01%/hour on borrowed notional
	cryptoMinOrderQuantity = 0.0001
)

const (
	cnLotSize       = 100
	hkLotSize       = 100
	usLotSize       = 1
	cryptoMaxLever  = 50
	spotMaxLeverage = 1
)

// Breakdown itemizes the fees charged on a single execution. StampTax doubles
// as the crypto taker fee so the Trade record keeps one non-commission bucket
// per market.
type Breakdown struct {
	Commission  decimal.Decimal
	StampTax    decimal.Decimal
	PlatformFee decimal.Decimal
	TransferFee decimal.Decimal
}

// Total returns the sum of all fee components.
func (b Breakdown) Total() decimal.Decimal {
	return b.Commission.Add(b.StampTax).Add(b.PlatformFee).Add(b.TransferFee)
}

// Other returns everything except commission, the value recorded in the
// Trade's taker_fee column.
func (b Breakdown) Other() decimal.Decimal {
	return b.StampTax.Add(b.PlatformFee).Add(b.TransferFee)
}

// Rules is the per-market capability the execution engine is parameterized
// over: fee computation, lot validation and leverage support. Implementations
// are pure and stateless.
type Rules interface {
	Market() string
	// ValidateQuantity checks the lot-size multiple and minimum order size.
	ValidateQuantity(quantity float64) error
	// Fees computes the fee breakdown for a trade of the given notional,
	// quantity and side.
	Fees(notional decimal.Decimal, quantity float64, side string) Breakdown
	// MaxLeverage is 1 for spot-only markets.
	MaxLeverage() int
}

// ForMarket returns the fee/lot rules for a market code.
func ForMarket(market string) (Rules, error) {
	switch market {
	case types.MarketCN:
		return cnRules{}, nil
	case types.MarketHK:
		return hkRules{}, nil
	case types.MarketUS:
		return usRules{}, nil
	case types.MarketCrypto:
		return cryptoRules{}, nil
	default:
		return nil, fmt.Errorf("unknown market: %s", market)
	}
}

type cnRules struct{}

func (cnRules) Market() string   { return types.MarketCN }
func (cnRules) MaxLeverage() int { return spotMaxLeverage }

func (cnRules) ValidateQuantity(quantity float64) error {
	return validateLot(quantity, cnLotSize)
}

func (cnRules) Fees(notional decimal.Decimal, _ float64, side string) Breakdown {
	b := Breakdown{
		Commission:  decimal.Max(notional.Mul(cnCommissionRate), cnMinCommission),
		TransferFee: notional.Mul(cnTransferRate),
	}
	if side == types.SideSell {
		b.StampTax = notional.Mul(cnStampTaxRate)
	}
	return b
}

type hkRules struct{}

func (hkRules) Market() string   { return types.MarketHK }
func (hkRules) MaxLeverage() int { return spotMaxLeverage }

func (hkRules) ValidateQuantity(quantity float64) error {
	return validateLot(quantity, hkLotSize)
}

func (hkRules) Fees(notional decimal.Decimal, _ float64, _ string) Breakdown {
	// Stamp duty applies to both sides in HK.
	return Breakdown{
		Commission:  decimal.Max(notional.Mul(hkCommissionRate), hkMinCommission),
		PlatformFee: hkPlatformFee,
		StampTax:    notional.Mul(hkStampDutyRate),
	}
}

type usRules struct{}

func (usRules) Market() string   { return types.MarketUS }
func (usRules) MaxLeverage() int { return spotMaxLeverage }

func (usRules) ValidateQuantity(quantity float64) error {
	return validateLot(quantity, usLotSize)
}

func (usRules) Fees(_ decimal.Decimal, quantity float64, _ string) Breakdown {
	return Breakdown{
		Commission: decimal.Max(decimal.NewFromFloat(quantity).Mul(usCommissionPerShare), usMinCommission),
	}
}

type cryptoRules struct{}

func (cryptoRules) Market() string   { return types.MarketCrypto }
func (cryptoRules) MaxLeverage() int { return cryptoMaxLever }

func (cryptoRules) ValidateQuantity(quantity float64) error {
	if quantity < cryptoMinOrderQuantity {
		return fmt.Errorf("quantity must be >= %v", cryptoMinOrderQuantity)
	}
	return nil
}

func (cryptoRules) Fees(notional decimal.Decimal, _ float64, _ string) Breakdown {
	// Taker fee is charged on full notional, independent of leverage.
	return Breakdown{
		StampTax: notional.Mul(cryptoTakerFeeRate),
	}
}

// Interest returns the borrow interest accrued on a leveraged position since
// its last interest timestamp. Interest applies only to the borrowed part of
// the notional: notional * (leverage-1)/leverage. Returns zero for spot
// positions and positions without a timestamp.
func Interest(pos *types.Position, now time.Time) decimal.Decimal {
	if pos.LastInterestTime == nil || pos.Leverage <= 1 {
		return decimal.Zero
	}

	hours := now.Sub(*pos.LastInterestTime).Hours()
	if hours <= 0 {
		return decimal.Zero
	}

	notional := decimal.NewFromFloat(pos.Quantity).Mul(decimal.NewFromFloat(pos.AvgCost))
	lev := decimal.NewFromInt(int64(pos.Leverage))
	borrowed := notional.Mul(lev.Sub(decimal.NewFromInt(1))).Div(lev)

	return borrowed.Mul(cryptoHourlyInterest).Mul(decimal.NewFromFloat(hours))
}

func validateLot(quantity float64, lot int) error {
	if quantity < float64(lot) {
		return fmt.Errorf("quantity must be >= %d", lot)
	}
	if math.Mod(quantity, float64(lot)) != 0 {
		return fmt.Errorf("quantity must be a multiple of %d (1 lot)", lot)
	}
	return nil
}
