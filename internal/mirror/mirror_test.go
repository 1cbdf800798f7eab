package mirror

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/papertrade/papertrade/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPlatform struct {
	name   string
	err    error
	placed atomic.Int64
	last   atomic.Value
}

func (p *recordingPlatform) Name() string { return p.name }

func (p *recordingPlatform) PlaceOrder(ctx context.Context, order MirrorOrder) error {
	p.placed.Add(1)
	p.last.Store(order)
	return p.err
}

type hangingPlatform struct{}

func (hangingPlatform) Name() string { return "hung" }

func (hangingPlatform) PlaceOrder(ctx context.Context, order MirrorOrder) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestPlaceRoutesByMarket(t *testing.T) {
	r := NewRegistry(time.Second)
	cn := &recordingPlatform{name: "THS"}
	us := &recordingPlatform{name: "IBKR"}
	r.Register(types.MarketCN, cn)
	r.Register(types.MarketUS, us)

	order := MirrorOrder{OrderNo: "ord-1", Symbol: "600000", Market: types.MarketCN, Side: types.SideBuy, Quantity: 100}
	r.Place(context.Background(), order)

	assert.Equal(t, int64(1), cn.placed.Load())
	assert.Zero(t, us.placed.Load())

	got, ok := cn.last.Load().(MirrorOrder)
	require.True(t, ok)
	assert.Equal(t, "ord-1", got.OrderNo)
}

func TestPlaceUnregisteredMarketIsNoOp(t *testing.T) {
	r := NewRegistry(time.Second)

	// Must not panic or block.
	r.Place(context.Background(), MirrorOrder{Market: types.MarketHK})
}

func TestPlaceSwallowsPlatformError(t *testing.T) {
	r := NewRegistry(time.Second)
	p := &recordingPlatform{name: "flaky", err: errors.New("session expired")}
	r.Register(types.MarketCrypto, p)

	r.Place(context.Background(), MirrorOrder{OrderNo: "ord-2", Market: types.MarketCrypto})
	assert.Equal(t, int64(1), p.placed.Load())
}

func TestPlaceTimesOutHungPlatform(t *testing.T) {
	r := NewRegistry(50 * time.Millisecond)
	r.Register(types.MarketUS, hangingPlatform{})

	start := time.Now()
	r.Place(context.Background(), MirrorOrder{Market: types.MarketUS})
	assert.Less(t, time.Since(start), time.Second)
}

func TestSimulatedPlatformRespectsContext(t *testing.T) {
	p := &SimulatedPlatform{PlatformName: "slow", MinLatency: time.Hour, SuccessRate: 1}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := p.PlaceOrder(ctx, MirrorOrder{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSimulatedPlatformAlwaysSucceedsAtFullRate(t *testing.T) {
	p := &SimulatedPlatform{PlatformName: "sure", SuccessRate: 1}

	for i := 0; i < 20; i++ {
		require.NoError(t, p.PlaceOrder(context.Background(), MirrorOrder{}))
	}
}

func TestDefaultRegistryCoversAllMarkets(t *testing.T) {
	r := DefaultRegistry(time.Second)
	for _, market := range []string{types.MarketCN, types.MarketHK, types.MarketUS, types.MarketCrypto} {
		assert.Contains(t, r.platforms, market)
	}
}
