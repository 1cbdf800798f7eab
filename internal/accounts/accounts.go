package accounts

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/papertrade/papertrade/internal/assets"
	"github.com/papertrade/papertrade/internal/scheduler"
	"github.com/papertrade/papertrade/internal/types"
	"github.com/papertrade/papertrade/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// DefaultMaintenanceMarginRatio applies to new accounts that don't specify
// one: liquidation fires when equity falls below half of margin used.
const DefaultMaintenanceMarginRatio = 0.5

// Service handles account onboarding, ledger queries and per-account
// monitoring sessions (periodic asset snapshots).
type Service struct {
	db         *Database
	calculator *assets.Calculator
	scheduler  *scheduler.Scheduler
}

// NewService creates an account service. Scheduler and calculator may be
// nil when snapshot sessions aren't used (tests, simulation).
func NewService(gormDB *gorm.DB, calculator *assets.Calculator, sched *scheduler.Scheduler) *Service {
	return &Service{
		db:         NewDatabase(gormDB),
		calculator: calculator,
		scheduler:  sched,
	}
}

// CreateRequest is the onboarding payload.
type CreateRequest struct {
	Name                   string  `json:"name" binding:"required"`
	Currency               string  `json:"currency"`
	InitialCapital         float64 `json:"initial_capital" binding:"required"`
	MaintenanceMarginRatio float64 `json:"maintenance_margin_ratio"`
}

// Create onboards a new account with its initial capital as cash.
func (s *Service) Create(req CreateRequest) (*types.Account, error) {
	if req.InitialCapital <= 0 {
		return nil, fmt.Errorf("initial capital must be positive")
	}
	if req.MaintenanceMarginRatio <= 0 {
		req.MaintenanceMarginRatio = DefaultMaintenanceMarginRatio
	}
	if req.Currency == "" {
		req.Currency = "USD"
	}

	account := &types.Account{
		AccountID:              uuid.New().String(),
		Name:                   req.Name,
		Currency:               req.Currency,
		InitialCapital:         req.InitialCapital,
		CurrentCash:            req.InitialCapital,
		MaintenanceMarginRatio: req.MaintenanceMarginRatio,
	}
	if err := s.db.CreateAccount(account); err != nil {
		return nil, err
	}

	log.Info().
		Str("account_id", account.AccountID).
		Str("name", account.Name).
		Float64("initial_capital", account.InitialCapital).
		Msg("account created")

	return account, nil
}

// Get retrieves an account by id.
func (s *Service) Get(accountID string) (*types.Account, error) {
	return s.db.GetAccount(accountID)
}

// StartMonitoring schedules the periodic asset snapshot job for an account.
// Idempotent: starting an already-monitored account is a no-op.
func (s *Service) StartMonitoring(ctx context.Context, accountID string, interval time.Duration) {
	if s.scheduler == nil || s.calculator == nil {
		return
	}
	s.scheduler.Add(ctx, snapshotJobID(accountID), interval, func(ctx context.Context) error {
		return s.calculator.Snapshot(ctx, accountID)
	})
}

// StopMonitoring removes the account's snapshot job when its monitoring
// session ends.
func (s *Service) StopMonitoring(accountID string) {
	if s.scheduler == nil {
		return
	}
	s.scheduler.Remove(snapshotJobID(accountID))
}

func snapshotJobID(accountID string) string {
	return "snapshot_account_" + accountID
}

// GinHandlers contains HTTP handlers for account endpoints.
type GinHandlers struct {
	service          *Service
	snapshotInterval time.Duration
}

func NewGinHandlers(service *Service, snapshotInterval time.Duration) *GinHandlers {
	if snapshotInterval <= 0 {
		snapshotInterval = 10 * time.Second
	}
	return &GinHandlers{
		service:          service,
		snapshotInterval: snapshotInterval,
	}
}

// CreateAccountHandler handles POST requests to onboard accounts.
func (h *GinHandlers) CreateAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		account, err := h.service.Create(req)
		response.Handle(c, account, err)
	}
}

// GetAccountHandler handles GET requests for a single account.
func (h *GinHandlers) GetAccountHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := h.service.Get(c.Param("account_id"))
		if err == nil && account == nil {
			response.NotFound(c, "Account not found")
			return
		}
		response.Handle(c, account, err)
	}
}

// ListPositionsHandler returns the account's open positions.
func (h *GinHandlers) ListPositionsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		positions, err := h.service.db.ListPositions(c.Param("account_id"))
		response.Handle(c, positions, err)
	}
}

// ListOrdersHandler returns the account's recent orders.
func (h *GinHandlers) ListOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orders, err := h.service.db.ListOrders(c.Param("account_id"), 200)
		response.Handle(c, orders, err)
	}
}

// ListTradesHandler returns the account's recent trades.
func (h *GinHandlers) ListTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		trades, err := h.service.db.ListTrades(c.Param("account_id"), 200)
		response.Handle(c, trades, err)
	}
}

// GetAssetsHandler returns the account's current valuation.
func (h *GinHandlers) GetAssetsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		account, err := h.service.Get(c.Param("account_id"))
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if account == nil {
			response.NotFound(c, "Account not found")
			return
		}

		summary, err := h.service.calculator.TotalAssets(c.Request.Context(), account)
		response.Handle(c, summary, err)
	}
}

// StartMonitoringHandler begins the account's snapshot session.
func (h *GinHandlers) StartMonitoringHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID := c.Param("account_id")

		account, err := h.service.Get(accountID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		if account == nil {
			response.NotFound(c, "Account not found")
			return
		}

		h.service.StartMonitoring(context.WithoutCancel(c.Request.Context()), accountID, h.snapshotInterval)
		response.Success(c, gin.H{"monitoring": true})
	}
}

// StopMonitoringHandler ends the account's snapshot session.
func (h *GinHandlers) StopMonitoringHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		h.service.StopMonitoring(c.Param("account_id"))
		response.Success(c, gin.H{"monitoring": false})
	}
}
