package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNoPrice is returned when no quote exists for a (symbol, market) pair.
// The execution engine treats it, and any other oracle failure, as "price
// unavailable".
var ErrNoPrice = errors.New("no price available")

// Candle is a single OHLCV point returned by Kline.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// PriceOracle supplies last-price and k-line data per (symbol, market).
// Implementations may block on network I/O; callers bound every call with a
// context deadline.
type PriceOracle interface {
	LastPrice(ctx context.Context, symbol, market string) (float64, error)
	Kline(ctx context.Context, symbol, market, period string, count int) ([]Candle, error)
}

// StaticOracle is an in-memory PriceOracle whose quotes are set by the
// caller. It backs the simulation driver and tests; a production deployment
// swaps in a client for the real market-data feed.
type StaticOracle struct {
	mu      sync.RWMutex
	prices  map[string]float64
	candles map[string][]Candle
}

// NewStaticOracle returns an empty oracle.
func NewStaticOracle() *StaticOracle {
	return &StaticOracle{
		prices:  make(map[string]float64),
		candles: make(map[string][]Candle),
	}
}

// SetPrice publishes the last price for a symbol.
func (o *StaticOracle) SetPrice(symbol, market string, price float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[key(symbol, market)] = price
}

// SetKline publishes the candle history for a symbol.
func (o *StaticOracle) SetKline(symbol, market string, candles []Candle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.candles[key(symbol, market)] = candles
}

// RemovePrice drops the quote for a symbol, simulating feed loss.
func (o *StaticOracle) RemovePrice(symbol, market string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.prices, key(symbol, market))
}

func (o *StaticOracle) LastPrice(ctx context.Context, symbol, market string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	price, ok := o.prices[key(symbol, market)]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("%w for %s/%s", ErrNoPrice, symbol, market)
	}
	return price, nil
}

func (o *StaticOracle) Kline(ctx context.Context, symbol, market, _ string, count int) ([]Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.mu.RLock()
	defer o.mu.RUnlock()

	candles, ok := o.candles[key(symbol, market)]
	if !ok {
		return nil, fmt.Errorf("%w for %s/%s", ErrNoPrice, symbol, market)
	}
	if count > 0 && len(candles) > count {
		candles = candles[len(candles)-count:]
	}

	out := make([]Candle, len(candles))
	copy(out, candles)
	return out, nil
}

func key(symbol, market string) string {
	return market + ":" + symbol
}
