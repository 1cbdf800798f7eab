package engine

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/papertrade/papertrade/pkg/response"
)

// GinHandlers contains HTTP handlers for order execution endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for the engine
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// PlaceOrderHandler handles POST requests to execute orders. Orders fill or
// reject synchronously; the response carries the terminal order.
func (h *GinHandlers) PlaceOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ExecuteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.Execute(c.Request.Context(), req)
		if err != nil {
			respondExecuteError(c, err)
			return
		}
		response.Success(c, order)
	}
}

// respondExecuteError maps the engine's typed rejections to HTTP statuses:
// client-caused rejections are 400, position conflicts 409, unknown
// accounts 404, everything else 500.
func respondExecuteError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrAccountNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrConflictingPosition):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrUnknownMarket),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidSide),
		errors.Is(err, ErrInvalidOrderType),
		errors.Is(err, ErrInvalidLeverage),
		errors.Is(err, ErrPriceUnavailable),
		errors.Is(err, ErrInsufficientFunds),
		errors.Is(err, ErrNoPosition),
		errors.Is(err, ErrSideMismatch):
		response.Rejected(c, err.Error())
	default:
		response.InternalError(c, "An unexpected error occurred")
	}
}

// GetOrderHandler handles GET requests to retrieve an order by order number.
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		order, err := h.service.GetOrder(c.Param("order_no"))
		if err == nil && order == nil {
			response.NotFound(c, "Order not found")
			return
		}
		response.Handle(c, order, err)
	}
}
