package mirror

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/papertrade/papertrade/internal/types"
	"github.com/rs/zerolog/log"
)

// MirrorOrder is the subset of an order forwarded to an external broker
// terminal.
type MirrorOrder struct {
	OrderNo   string
	Symbol    string
	Market    string
	Side      string
	OrderType string
	Price     float64
	Quantity  float64
}

// Platform is one external broker terminal (THS, MT5, IBKR, Futu or a crypto
// exchange). Placement is best-effort: the caller logs and swallows failures,
// local accounting stays authoritative.
type Platform interface {
	Name() string
	PlaceOrder(ctx context.Context, order MirrorOrder) error
}

// SimulatedPlatform mimics a broker terminal with configurable latency and
// success rate, the way deployments without live terminal sessions run.
type SimulatedPlatform struct {
	PlatformName string
	MinLatency   time.Duration
	MaxLatency   time.Duration
	SuccessRate  float64 // 0-1, probability of accepted placement
}

func (p *SimulatedPlatform) Name() string {
	return p.PlatformName
}

func (p *SimulatedPlatform) PlaceOrder(ctx context.Context, order MirrorOrder) error {
	latency := p.MinLatency
	if p.MaxLatency > p.MinLatency {
		latency += time.Duration(rand.Int63n(int64(p.MaxLatency - p.MinLatency)))
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(latency):
	}

	if rand.Float64() > p.SuccessRate {
		return fmt.Errorf("platform %s rejected order %s", p.PlatformName, order.OrderNo)
	}
	return nil
}

// Registry maps markets to their external terminal. Markets without an entry
// are simulation-only.
type Registry struct {
	platforms map[string]Platform
	timeout   time.Duration
}

// NewRegistry returns a registry with no platforms attached.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Registry{
		platforms: make(map[string]Platform),
		timeout:   timeout,
	}
}

// DefaultRegistry wires a simulated terminal per market, mirroring the
// broker fan-out of a full deployment. A non-positive timeout falls back to
// the registry default.
func DefaultRegistry(timeout time.Duration) *Registry {
	r := NewRegistry(timeout)
	r.Register(types.MarketCN, &SimulatedPlatform{PlatformName: "THS", MinLatency: 20 * time.Millisecond, MaxLatency: 80 * time.Millisecond, SuccessRate: 0.95})
	r.Register(types.MarketHK, &SimulatedPlatform{PlatformName: "Futu", MinLatency: 30 * time.Millisecond, MaxLatency: 120 * time.Millisecond, SuccessRate: 0.95})
	r.Register(types.MarketUS, &SimulatedPlatform{PlatformName: "IBKR", MinLatency: 40 * time.Millisecond, MaxLatency: 150 * time.Millisecond, SuccessRate: 0.90})
	r.Register(types.MarketCrypto, &SimulatedPlatform{PlatformName: "MT5", MinLatency: 10 * time.Millisecond, MaxLatency: 60 * time.Millisecond, SuccessRate: 0.97})
	return r
}

// Register attaches a platform for a market, replacing any existing one.
func (r *Registry) Register(market string, platform Platform) {
	r.platforms[market] = platform
}

// Place forwards the order to the market's terminal if one is registered.
// Failures are logged and swallowed; the call is time-boxed so a hung
// terminal cannot stall the caller.
func (r *Registry) Place(ctx context.Context, order MirrorOrder) {
	platform, ok := r.platforms[order.Market]
	if !ok {
		return
	}

	logger := log.With().
		Str("component", "mirror").
		Str("platform", platform.Name()).
		Str("order_no", order.OrderNo).
		Str("symbol", order.Symbol).
		Logger()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := platform.PlaceOrder(ctx, order); err != nil {
		logger.Warn().Err(err).Msg("platform mirror failed, local execution unaffected")
		return
	}

	logger.Info().
		Str("side", order.Side).
		Float64("quantity", order.Quantity).
		Msg("order mirrored to platform")
}
