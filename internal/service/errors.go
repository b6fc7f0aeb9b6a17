package service

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Rejection reasons for webhook notifications and order queries. These are
// business results, not faults: they are returned inside typed results so the
// HTTP layer can map them deterministically to status codes.
var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrNotOrderOwner    = errors.New("order does not belong to caller")
	ErrMerchantMismatch = errors.New("merchant id mismatch")
	ErrBadSignature     = errors.New("invalid signature")
	ErrAmountMismatch   = errors.New("notification amount does not match order")

	// ErrBalanceConflict surfaces an exhausted optimistic-retry loop.
	// Transient: the caller may retry.
	ErrBalanceConflict = errors.New("balance update conflict, retry")
)

// MissingFieldError reports a required webhook field that was absent.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// InsufficientBalanceError is the normal-branch business result of a consume
// that cannot be covered. Required is the paid portion that could not be
// satisfied, Available the paid balance at the time of the check.
type InsufficientBalanceError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: required %s, available %s",
		e.Required.String(), e.Available.String())
}
