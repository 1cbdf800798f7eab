package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/gin-gonic/gin"
	"github.com/papertrade/papertrade/internal/accounts"
	"github.com/papertrade/papertrade/internal/assets"
	"github.com/papertrade/papertrade/internal/config"
	"github.com/papertrade/papertrade/internal/database"
	"github.com/papertrade/papertrade/internal/engine"
	"github.com/papertrade/papertrade/internal/margin"
	"github.com/papertrade/papertrade/internal/mirror"
	"github.com/papertrade/papertrade/internal/oracle"
	"github.com/papertrade/papertrade/internal/scheduler"
	"github.com/papertrade/papertrade/pkg/middleware"
	"github.com/papertrade/papertrade/pkg/response"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the paper-trading server: ledger database,
// execution engine, margin monitor and snapshot scheduler, with graceful
// shutdown.
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Quote store fed through the internal price endpoint; a live
	// deployment replaces this with a market-data client per platform.
	priceOracle := oracle.NewStaticOracle()

	var mirrors *mirror.Registry
	if cfg.Mirror.Enabled {
		mirrors = mirror.DefaultRegistry(cfg.Mirror.Timeout)
	}

	engineService := engine.NewService(db, priceOracle, mirrors)
	engineHandlers := engine.NewGinHandlers(engineService)

	calculator := assets.NewCalculator(db, priceOracle)
	jobs := scheduler.New()
	defer jobs.Stop()

	accountService := accounts.NewService(db, calculator, jobs)
	accountHandlers := accounts.NewGinHandlers(accountService, cfg.Monitor.SnapshotInterval)

	// Margin monitor runs for the whole process lifetime.
	monitor := margin.NewMonitor(db, priceOracle, engineService, cfg.Monitor.MarginInterval)
	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	defer monitorCancel()
	go monitor.Start(monitorCtx)

	router := gin.Default()
	router.Use(middleware.RateLimit())
	setupRoutes(router, engineHandlers, accountHandlers, monitor, priceOracle)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers:
// - Account routes: onboarding, ledger queries, monitoring sessions
// - Order routes: synchronous order execution
// - Internal routes: price feed ingestion and manual margin sweeps
func setupRoutes(
	router *gin.Engine,
	engineHandlers *engine.GinHandlers,
	accountHandlers *accounts.GinHandlers,
	monitor *margin.Monitor,
	priceOracle *oracle.StaticOracle,
) {
	v1 := router.Group("/api/v1")
	{
		accts := v1.Group("/accounts")
		{
			accts.POST("", accountHandlers.CreateAccountHandler())
			accts.GET("/:account_id", accountHandlers.GetAccountHandler())
			accts.GET("/:account_id/positions", accountHandlers.ListPositionsHandler())
			accts.GET("/:account_id/orders", accountHandlers.ListOrdersHandler())
			accts.GET("/:account_id/trades", accountHandlers.ListTradesHandler())
			accts.GET("/:account_id/assets", accountHandlers.GetAssetsHandler())
			accts.POST("/:account_id/monitoring", accountHandlers.StartMonitoringHandler())
			accts.DELETE("/:account_id/monitoring", accountHandlers.StopMonitoringHandler())
		}

		orders := v1.Group("/orders")
		{
			orders.POST("", engineHandlers.PlaceOrderHandler())
			orders.GET("/:order_no", engineHandlers.GetOrderHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		{
			internal.POST("/prices", publishPriceHandler(priceOracle))
			internal.POST("/margin/sweep", sweepHandler(monitor))
		}
	}
}

// publishPriceHandler feeds quotes into the oracle.
func publishPriceHandler(priceOracle *oracle.StaticOracle) gin.HandlerFunc {
	type priceUpdate struct {
		Symbol string  `json:"symbol" binding:"required"`
		Market string  `json:"market" binding:"required"`
		Price  float64 `json:"price" binding:"required"`
	}

	return func(c *gin.Context) {
		var update priceUpdate
		if err := c.ShouldBindJSON(&update); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		priceOracle.SetPrice(update.Symbol, update.Market, update.Price)
		response.Success(c, update)
	}
}

// sweepHandler triggers one margin sweep outside the periodic tick.
func sweepHandler(monitor *margin.Monitor) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := monitor.Sweep(c.Request.Context()); err != nil {
			response.InternalError(c, err.Error())
			return
		}
		response.Success(c, gin.H{"swept": true})
	}
}
