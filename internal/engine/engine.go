package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/papertrade/papertrade/internal/fees"
	"github.com/papertrade/papertrade/internal/mirror"
	"github.com/papertrade/papertrade/internal/oracle"
	"github.com/papertrade/papertrade/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ExecuteRequest carries a single order intent into the engine.
type ExecuteRequest struct {
	AccountID   string  `json:"account_id" binding:"required"`
	Symbol      string  `json:"symbol" binding:"required"`
	Name        string  `json:"name"`
	Market      string  `json:"market" binding:"required"`
	Side        string  `json:"side" binding:"required"`
	OrderType   string  `json:"order_type" binding:"required"`
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity" binding:"required"`
	Leverage    int     `json:"leverage"`
	Mirror      bool    `json:"mirror"`
	Liquidation bool    `json:"-"`
	Reason      string  `json:"-"`
}

// Service validates, prices and atomically applies orders against the
// ledger. One engine serves every market; per-market fee and lot rules come
// from the fees package.
type Service struct {
	db           *Database
	oracle       oracle.PriceOracle
	mirrors      *mirror.Registry
	locks        *accountLocks
	priceTimeout time.Duration
}

// NewService creates an execution engine over the given database, price
// oracle and platform mirror registry. The mirror registry may be nil when
// no external terminals are configured.
func NewService(gormDB *gorm.DB, priceOracle oracle.PriceOracle, mirrors *mirror.Registry) *Service {
	return &Service{
		db:           NewDatabase(gormDB),
		oracle:       priceOracle,
		mirrors:      mirrors,
		locks:        newAccountLocks(),
		priceTimeout: 5 * time.Second,
	}
}

// GetOrder retrieves an order by its order number.
func (s *Service) GetOrder(orderNo string) (*types.Order, error) {
	return s.db.GetOrder(orderNo)
}

// Execute runs the full execution pipeline: validate, price, flush a
// PENDING order row, mutate cash/margin/position, append the trade, then
// optionally mirror to the market's broker terminal. The accounting
// mutation is atomic; a rejection leaves the order row REJECTED and the
// balances untouched. Executions against the same account are serialized.
func (s *Service) Execute(ctx context.Context, req ExecuteRequest) (*types.Order, error) {
	logger := log.With().
		Str("service", "engine").
		Str("account_id", req.AccountID).
		Str("symbol", req.Symbol).
		Str("market", req.Market).
		Str("side", req.Side).
		Logger()

	rules, err := fees.ForMarket(req.Market)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, req.Market)
	}

	if err := normalizeRequest(&req, rules); err != nil {
		return nil, err
	}

	if err := rules.ValidateQuantity(req.Quantity); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuantity, err)
	}

	// Serialize with every other execution against this account, including
	// monitor-originated liquidations.
	lock := s.locks.get(req.AccountID)
	lock.Lock()

	order, err := s.executeLocked(ctx, req, rules, logger)
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	// Best-effort side channel, outside the account lock: a hung terminal
	// must not stall other orders, and a failure never rolls back local
	// accounting.
	if req.Mirror && s.mirrors != nil {
		s.mirrors.Place(ctx, mirror.MirrorOrder{
			OrderNo:   order.OrderNo,
			Symbol:    order.Symbol,
			Market:    order.Market,
			Side:      order.Side,
			OrderType: order.OrderType,
			Price:     order.Price,
			Quantity:  order.Quantity,
		})
	}

	return order, nil
}

func (s *Service) executeLocked(ctx context.Context, req ExecuteRequest, rules fees.Rules, logger zerolog.Logger) (*types.Order, error) {
	account, err := s.db.GetAccount(req.AccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}

	execPrice, err := s.resolvePrice(ctx, req)
	if err != nil {
		return nil, err
	}

	quantity := decimal.NewFromFloat(req.Quantity)
	notional := execPrice.Mul(quantity)
	breakdown := rules.Fees(notional, req.Quantity, req.Side)

	// Flush the order before touching balances so the audit trail keeps the
	// attempt even when a later step rejects.
	order := &types.Order{
		OrderNo:     uuid.New().String(),
		AccountID:   req.AccountID,
		Symbol:      req.Symbol,
		Name:        req.Name,
		Market:      req.Market,
		Side:        req.Side,
		OrderType:   req.OrderType,
		Price:       execPrice.InexactFloat64(),
		Quantity:    req.Quantity,
		Leverage:    req.Leverage,
		Status:      types.OrderStatusPending,
		Liquidation: req.Liquidation,
		Reason:      req.Reason,
	}
	if err := s.db.CreateOrder(order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	var interest decimal.Decimal
	txErr := s.db.Transaction(func(tx *gorm.DB) error {
		pos, err := getPositionTx(tx, req.AccountID, req.Symbol, req.Market)
		if err != nil {
			return err
		}

		if isOpen(req.Market, req.Side) {
			interest, err = s.applyOpen(tx, account, pos, req, execPrice, notional, breakdown)
		} else {
			// The audit trail records the leverage actually unwound, not
			// the request default. Captured before the close zeroes it.
			if pos != nil {
				order.Leverage = pos.Leverage
			}
			interest, err = s.applyClose(tx, account, pos, req, notional, breakdown)
		}
		if err != nil {
			return err
		}

		trade := &types.Trade{
			TradeID:         uuid.New().String(),
			OrderNo:         order.OrderNo,
			AccountID:       req.AccountID,
			Symbol:          req.Symbol,
			Name:            req.Name,
			Market:          req.Market,
			Side:            req.Side,
			Price:           execPrice.InexactFloat64(),
			Quantity:        req.Quantity,
			Commission:      breakdown.Commission.InexactFloat64(),
			TakerFee:        breakdown.Other().InexactFloat64(),
			InterestCharged: interest.InexactFloat64(),
		}
		if err := tx.Create(trade).Error; err != nil {
			return err
		}

		order.FilledQuantity = req.Quantity
		order.Status = types.OrderStatusFilled
		if err := tx.Save(order).Error; err != nil {
			return err
		}

		return tx.Save(account).Error
	})
	if txErr != nil {
		if markErr := s.db.MarkOrderRejected(order, txErr.Error()); markErr != nil {
			logger.Error().Err(markErr).Str("order_no", order.OrderNo).Msg("failed to mark order rejected")
		}
		logger.Info().Err(txErr).Str("order_no", order.OrderNo).Msg("order rejected")
		return nil, txErr
	}

	logger.Info().
		Str("order_no", order.OrderNo).
		Float64("price", order.Price).
		Float64("quantity", order.Quantity).
		Int("leverage", order.Leverage).
		Float64("fees", breakdown.Total().InexactFloat64()).
		Float64("interest_charged", interest.InexactFloat64()).
		Bool("liquidation", order.Liquidation).
		Msg("order filled")

	return order, nil
}

// applyOpen handles BUY on spot markets and LONG/SHORT on the leveraged
// market. Returns the interest charged when topping up an existing
// leveraged position.
func (s *Service) applyOpen(tx *gorm.DB, account *types.Account, pos *types.Position, req ExecuteRequest, execPrice, notional decimal.Decimal, breakdown fees.Breakdown) (decimal.Decimal, error) {
	leverage := decimal.NewFromInt(int64(req.Leverage))
	initialMargin := notional.Div(leverage)
	required := initialMargin.Add(breakdown.Total())

	cash := decimal.NewFromFloat(account.CurrentCash)
	if cash.LessThan(required) {
		return decimal.Zero, fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, required.StringFixed(2), cash.StringFixed(2))
	}
	cash = cash.Sub(required)

	// Margin is only tracked for borrowed exposure.
	if req.Leverage > 1 {
		account.MarginUsed = decimal.NewFromFloat(account.MarginUsed).Add(initialMargin).InexactFloat64()
	}

	now := time.Now().UTC()
	interest := decimal.Zero

	if pos != nil && pos.Open() {
		if pos.Side != req.Side && req.Market == types.MarketCrypto {
			return decimal.Zero, fmt.Errorf("%w: cannot open %s while holding %s, close it first", ErrConflictingPosition, req.Side, pos.Side)
		}

		// Touching a leveraged position settles its outstanding interest
		// first; interest is never partially charged.
		if pos.Leveraged() {
			interest = fees.Interest(pos, now)
			if interest.IsPositive() {
				if cash.LessThan(interest) {
					return decimal.Zero, fmt.Errorf("%w: cannot cover accrued interest %s", ErrInsufficientFunds, interest.StringFixed(2))
				}
				cash = cash.Sub(interest)
				pos.AccumulatedInterest = decimal.NewFromFloat(pos.AccumulatedInterest).Add(interest).InexactFloat64()
			}
		}

		oldQty := decimal.NewFromFloat(pos.Quantity)
		oldNotional := oldQty.Mul(decimal.NewFromFloat(pos.AvgCost))
		newQty := oldQty.Add(decimal.NewFromFloat(req.Quantity))
		combined := oldNotional.Add(notional)

		pos.AvgCost = combined.Div(newQty).InexactFloat64()
		pos.Quantity = newQty.InexactFloat64()
		pos.AvailableQuantity = decimal.NewFromFloat(pos.AvailableQuantity).Add(decimal.NewFromFloat(req.Quantity)).InexactFloat64()

		if req.Market == types.MarketCrypto {
			// Notional-weighted average leverage, truncated like the margin
			// requirement it backs.
			weighted := oldNotional.Mul(decimal.NewFromInt(int64(pos.Leverage))).
				Add(notional.Mul(leverage)).
				Div(combined)
			pos.Leverage = int(weighted.IntPart())
		}
	} else {
		if pos == nil {
			pos = &types.Position{
				AccountID: req.AccountID,
				Symbol:    req.Symbol,
				Market:    req.Market,
				Name:      req.Name,
				Leverage:  1,
			}
			if err := tx.Create(pos).Error; err != nil {
				return decimal.Zero, err
			}
		}

		pos.Quantity = req.Quantity
		pos.AvailableQuantity = req.Quantity
		pos.AvgCost = execPrice.InexactFloat64()
		pos.Leverage = req.Leverage
		if req.Market == types.MarketCrypto {
			pos.Side = req.Side
		}
	}

	if pos.Leveraged() {
		pos.LastInterestTime = &now
	} else {
		pos.LastInterestTime = nil
	}

	account.CurrentCash = cash.InexactFloat64()
	return interest, tx.Save(pos).Error
}

// applyClose handles SELL on spot markets and BUY/SELL closing a position
// on the leveraged market.
func (s *Service) applyClose(tx *gorm.DB, account *types.Account, pos *types.Position, req ExecuteRequest, notional decimal.Decimal, breakdown fees.Breakdown) (decimal.Decimal, error) {
	if pos == nil || !pos.Open() {
		return decimal.Zero, fmt.Errorf("%w: nothing to close for %s/%s", ErrNoPosition, req.Symbol, req.Market)
	}

	now := time.Now().UTC()
	cash := decimal.NewFromFloat(account.CurrentCash)
	quantity := decimal.NewFromFloat(req.Quantity)
	totalFee := breakdown.Total()

	// Outstanding interest settles before the close itself.
	interest := fees.Interest(pos, now)
	if interest.IsPositive() {
		if cash.LessThan(interest) {
			return decimal.Zero, fmt.Errorf("%w: cannot cover accrued interest %s", ErrInsufficientFunds, interest.StringFixed(2))
		}
		cash = cash.Sub(interest)
		pos.AccumulatedInterest = decimal.NewFromFloat(pos.AccumulatedInterest).Add(interest).InexactFloat64()
	}

	if pos.Leveraged() {
		if (req.Side == types.SideSell && pos.Side != types.SideLong) ||
			(req.Side == types.SideBuy && pos.Side != types.SideShort) {
			return decimal.Zero, fmt.Errorf("%w: cannot %s to close a %s position", ErrSideMismatch, req.Side, pos.Side)
		}
		if quantity.GreaterThan(decimal.NewFromFloat(pos.Quantity)) {
			return decimal.Zero, fmt.Errorf("%w: position %v, closing %v", ErrNoPosition, pos.Quantity, req.Quantity)
		}

		entryNotional := decimal.NewFromFloat(pos.AvgCost).Mul(quantity)
		var pnl decimal.Decimal
		if pos.Side == types.SideLong {
			pnl = notional.Sub(entryNotional)
		} else {
			pnl = entryNotional.Sub(notional)
		}

		released := entryNotional.Div(decimal.NewFromInt(int64(pos.Leverage)))
		cash = cash.Add(pnl).Add(released).Sub(totalFee)

		marginUsed := decimal.NewFromFloat(account.MarginUsed).Sub(released)
		if marginUsed.IsNegative() {
			marginUsed = decimal.Zero
		}
		account.MarginUsed = marginUsed.InexactFloat64()
	} else {
		// Spot positions only close via SELL.
		if req.Side != types.SideSell {
			return decimal.Zero, fmt.Errorf("%w: can only SELL a spot position", ErrSideMismatch)
		}
		if quantity.GreaterThan(decimal.NewFromFloat(pos.AvailableQuantity)) {
			return decimal.Zero, fmt.Errorf("%w: available %v, selling %v", ErrNoPosition, pos.AvailableQuantity, req.Quantity)
		}

		cash = cash.Add(notional).Sub(totalFee)
	}

	newQty := decimal.NewFromFloat(pos.Quantity).Sub(quantity)
	pos.Quantity = newQty.InexactFloat64()
	pos.AvailableQuantity = decimal.NewFromFloat(pos.AvailableQuantity).Sub(quantity).InexactFloat64()

	if newQty.IsZero() {
		pos.Side = ""
		pos.Leverage = 1
		pos.LastInterestTime = nil
	} else if pos.Leveraged() {
		pos.LastInterestTime = &now
	}

	account.CurrentCash = cash.InexactFloat64()
	return interest, tx.Save(pos).Error
}

// resolvePrice returns the execution price: market orders ask the oracle,
// limit orders use the supplied price. A missing or non-positive price is a
// PriceUnavailable rejection.
func (s *Service) resolvePrice(ctx context.Context, req ExecuteRequest) (decimal.Decimal, error) {
	if req.OrderType == types.OrderTypeLimit && req.Price > 0 {
		return decimal.NewFromFloat(req.Price), nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.priceTimeout)
	defer cancel()

	price, err := s.oracle.LastPrice(ctx, req.Symbol, req.Market)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	if price <= 0 {
		return decimal.Zero, fmt.Errorf("%w: oracle returned %v for %s/%s", ErrPriceUnavailable, price, req.Symbol, req.Market)
	}
	return decimal.NewFromFloat(price), nil
}

// normalizeRequest uppercases side/type, forces leverage to 1 on spot-only
// markets and validates side and leverage against the market's rules.
func normalizeRequest(req *ExecuteRequest, rules fees.Rules) error {
	req.Side = strings.ToUpper(req.Side)
	req.OrderType = strings.ToUpper(req.OrderType)

	if req.OrderType != types.OrderTypeMarket && req.OrderType != types.OrderTypeLimit {
		return fmt.Errorf("%w: %s", ErrInvalidOrderType, req.OrderType)
	}

	if req.Market == types.MarketCrypto {
		switch req.Side {
		case types.SideLong, types.SideShort, types.SideBuy, types.SideSell:
		default:
			return fmt.Errorf("%w: %s (must be LONG/SHORT to open or BUY/SELL to close)", ErrInvalidSide, req.Side)
		}
		if req.Leverage == 0 {
			req.Leverage = 1
		}
		if req.Leverage < 1 || req.Leverage > rules.MaxLeverage() {
			return fmt.Errorf("%w: leverage must be between 1 and %d", ErrInvalidLeverage, rules.MaxLeverage())
		}
	} else {
		switch req.Side {
		case types.SideBuy, types.SideSell:
		default:
			return fmt.Errorf("%w: %s (must be BUY or SELL)", ErrInvalidSide, req.Side)
		}
		// Spot-only markets always trade unleveraged.
		req.Leverage = 1
	}

	if req.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidQuantity)
	}
	return nil
}

// isOpen reports whether the side opens exposure on the given market: BUY
// on spot markets, LONG/SHORT on the leveraged market. SELL, and BUY on the
// leveraged market, close.
func isOpen(market, side string) bool {
	if market == types.MarketCrypto {
		return side == types.SideLong || side == types.SideShort
	}
	return side == types.SideBuy
}
