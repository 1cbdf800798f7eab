package engine

import "errors"

// Typed rejection reasons surfaced to callers. Every rejection also marks
// the flushed order row REJECTED so the audit trail keeps failed attempts.
var (
	ErrUnknownMarket       = errors.New("unknown market")
	ErrInvalidQuantity     = errors.New("invalid quantity")
	ErrInvalidSide         = errors.New("invalid side")
	ErrInvalidOrderType    = errors.New("invalid order type")
	ErrInvalidLeverage     = errors.New("invalid leverage")
	ErrPriceUnavailable    = errors.New("price unavailable")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrNoPosition          = errors.New("no position")
	ErrConflictingPosition = errors.New("conflicting position")
	ErrSideMismatch        = errors.New("side mismatch")
	ErrAccountNotFound     = errors.New("account not found")
)
