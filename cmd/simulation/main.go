package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/papertrade/papertrade/internal/accounts"
	"github.com/papertrade/papertrade/internal/assets"
	"github.com/papertrade/papertrade/internal/database"
	"github.com/papertrade/papertrade/internal/engine"
	"github.com/papertrade/papertrade/internal/margin"
	"github.com/papertrade/papertrade/internal/mirror"
	"github.com/papertrade/papertrade/internal/oracle"
	"github.com/papertrade/papertrade/internal/types"
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// main runs a self-contained end-to-end scenario against an in-memory
// ledger: spot trading on the A-share market, a leveraged crypto long, a
// price crash and the resulting forced liquidation, then the asset curve.
func main() {
	db, err := database.NewMemoryDatabase()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open in-memory ledger")
	}

	priceOracle := oracle.NewStaticOracle()
	priceOracle.SetPrice("600000", types.MarketCN, 10.00)
	priceOracle.SetPrice("BTC/USDT", types.MarketCrypto, 50000)

	eng := engine.NewService(db, priceOracle, mirror.DefaultRegistry(3*time.Second))
	calculator := assets.NewCalculator(db, priceOracle)
	monitor := margin.NewMonitor(db, priceOracle, eng, time.Second)

	accountService := accounts.NewService(db, calculator, nil)
	account, err := accountService.Create(accounts.CreateRequest{
		Name:           "sim-" + uuid.New().String()[:8],
		Currency:       "USD",
		InitialCapital: 100000,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create account")
	}

	ctx := context.Background()

	// Spot round trip on the A-share market.
	mustExecute(ctx, eng, engine.ExecuteRequest{
		AccountID: account.AccountID,
		Symbol:    "600000",
		Name:      "SPDB",
		Market:    types.MarketCN,
		Side:      types.SideBuy,
		OrderType: types.OrderTypeLimit,
		Price:     10.00,
		Quantity:  100,
		Mirror:    true,
	})
	snapshot(ctx, calculator, account.AccountID)

	mustExecute(ctx, eng, engine.ExecuteRequest{
		AccountID: account.AccountID,
		Symbol:    "600000",
		Name:      "SPDB",
		Market:    types.MarketCN,
		Side:      types.SideSell,
		OrderType: types.OrderTypeMarket,
		Quantity:  100,
		Mirror:    true,
	})

	// Leveraged long: 1 BTC at 50k with 10x leverage, 5k margin.
	mustExecute(ctx, eng, engine.ExecuteRequest{
		AccountID: account.AccountID,
		Symbol:    "BTC/USDT",
		Name:      "Bitcoin",
		Market:    types.MarketCrypto,
		Side:      types.SideLong,
		OrderType: types.OrderTypeMarket,
		Quantity:  1,
		Leverage:  10,
	})
	snapshot(ctx, calculator, account.AccountID)

	// Crash the price until equity falls under the maintenance level, then
	// let the monitor liquidate.
	log.Info().Msg("crashing BTC price to trigger a margin call")
	priceOracle.SetPrice("BTC/USDT", types.MarketCrypto, 2000)

	if err := monitor.Sweep(ctx); err != nil {
		log.Fatal().Err(err).Msg("margin sweep failed")
	}
	snapshot(ctx, calculator, account.AccountID)

	refreshed, err := accountService.Get(account.AccountID)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to reload account")
	}

	log.Info().
		Float64("initial_capital", refreshed.InitialCapital).
		Float64("final_cash", refreshed.CurrentCash).
		Float64("margin_used", refreshed.MarginUsed).
		Msg("simulation complete")

	curve, err := calculator.Curve(account.AccountID, 0)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load asset curve")
	}
	for _, point := range curve {
		log.Info().
			Time("at", point.Timestamp).
			Float64("total_assets", point.TotalAssets).
			Float64("cash", point.Cash).
			Float64("positions_equity", point.PositionsEquity).
			Msg("asset curve point")
	}
}

func mustExecute(ctx context.Context, eng *engine.Service, req engine.ExecuteRequest) {
	order, err := eng.Execute(ctx, req)
	if err != nil {
		log.Fatal().Err(err).
			Str("symbol", req.Symbol).
			Str("side", req.Side).
			Msg("order rejected")
	}

	log.Info().
		Str("order_no", order.OrderNo).
		Str("symbol", order.Symbol).
		Str("side", order.Side).
		Float64("price", order.Price).
		Float64("quantity", order.FilledQuantity).
		Msg("order filled")
}

func snapshot(ctx context.Context, calculator *assets.Calculator, accountID string) {
	if err := calculator.Snapshot(ctx, accountID); err != nil {
		log.Error().Err(err).Msg("snapshot failed")
	}
}
