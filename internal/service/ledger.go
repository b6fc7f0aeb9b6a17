package service

import (
	"context"
	"fmt"

	"tokenpay/internal/models"
	"tokenpay/internal/store"
	"tokenpay/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// balanceCASAttempts bounds the optimistic-retry loop before surfacing a
// transient conflict to the caller.
const balanceCASAttempts = 5

// TokenLedger tracks the per-user free-allowance-used / paid-balance pair.
// Consumption draws from the free allowance first, then the paid balance;
// the free-first ordering is product policy, not an accident. Credit and
// consume on the same user serialize through the balance-version CAS.
type TokenLedger struct {
	balances  store.BalanceStore
	freeLimit decimal.Decimal
	logger    *zap.Logger
}

// NewTokenLedger creates a ledger with the configured free allowance.
func NewTokenLedger(balances store.BalanceStore, freeLimit decimal.Decimal) *TokenLedger {
	return &TokenLedger{
		balances:  balances,
		freeLimit: freeLimit,
		logger:    util.GetLogger(),
	}
}

// FreeLimit returns the configured free allowance.
func (l *TokenLedger) FreeLimit() decimal.Decimal {
	return l.freeLimit
}

// Balance returns the user's current balance row, creating it lazily.
func (l *TokenLedger) Balance(ctx context.Context, userID string) (*models.UserBalance, error) {
	return l.balances.GetOrCreateBalance(ctx, userID)
}

// Credit adds purchased units to the paid balance. No upper bound.
func (l *TokenLedger) Credit(ctx context.Context, userID string, units decimal.Decimal) (*models.UserBalance, error) {
	ctx, span := util.StartSpan(ctx, "TokenLedger.Credit")
	defer span.End()

	if !units.IsPositive() {
		return nil, fmt.Errorf("credit units must be positive, got %s", units.String())
	}

	for attempt := 0; attempt < balanceCASAttempts; attempt++ {
		balance, err := l.balances.GetOrCreateBalance(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load balance: %w", err)
		}

		newPaid := balance.PaidBalance.Add(units)
		ok, err := l.balances.CompareAndSwapBalance(ctx, userID, balance.Version, balance.FreeUsed, newPaid)
		if err != nil {
			return nil, fmt.Errorf("failed to update balance: %w", err)
		}
		if ok {
			util.CreditsAppliedTotal.Inc()
			l.logger.Info("Balance credited",
				zap.String("user_id", userID),
				zap.String("units", units.String()),
				zap.String("paid_balance", newPaid.String()))

			balance.PaidBalance = newPaid
			balance.Version++
			return balance, nil
		}

		util.BalanceCASConflictsTotal.Inc()
	}

	return nil, ErrBalanceConflict
}

// ConsumeResult reports how a committed consumption was split across the
// free allowance and the paid balance, plus the resulting state.
type ConsumeResult struct {
	UsedFromFree decimal.Decimal `json:"used_from_free"`
	UsedFromPaid decimal.Decimal `json:"used_from_paid"`
	FreeUsed     decimal.Decimal `json:"free_used"`
	PaidBalance  decimal.Decimal `json:"paid_balance"`
}

// Consume reserves units against the two-tier balance: free allowance first,
// then paid. The operation is atomic: on insufficient paid balance nothing is
// committed, including the free portion. Returns *InsufficientBalanceError as
// a normal business branch when the paid remainder cannot be covered.
func (l *TokenLedger) Consume(ctx context.Context, userID string, units decimal.Decimal) (*ConsumeResult, error) {
	ctx, span := util.StartSpan(ctx, "TokenLedger.Consume")
	defer span.End()

	if !units.IsPositive() {
		return nil, fmt.Errorf("consume units must be positive, got %s", units.String())
	}

	for attempt := 0; attempt < balanceCASAttempts; attempt++ {
		balance, err := l.balances.GetOrCreateBalance(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to load balance: %w", err)
		}

		freeRemaining := l.freeLimit.Sub(balance.FreeUsed)
		if freeRemaining.IsNegative() {
			freeRemaining = decimal.Zero
		}

		usedFromFree := decimal.Min(units, freeRemaining)
		remaining := units.Sub(usedFromFree)

		if remaining.IsPositive() && balance.PaidBalance.LessThan(remaining) {
			util.InsufficientBalanceTotal.Inc()
			return nil, &InsufficientBalanceError{
				Required:  remaining,
				Available: balance.PaidBalance,
			}
		}

		newFreeUsed := balance.FreeUsed.Add(usedFromFree)
		newPaid := balance.PaidBalance.Sub(remaining)

		ok, err := l.balances.CompareAndSwapBalance(ctx, userID, balance.Version, newFreeUsed, newPaid)
		if err != nil {
			return nil, fmt.Errorf("failed to update balance: %w", err)
		}
		if ok {
			util.UsageConsumedTotal.Inc()
			return &ConsumeResult{
				UsedFromFree: usedFromFree,
				UsedFromPaid: remaining,
				FreeUsed:     newFreeUsed,
				PaidBalance:  newPaid,
			}, nil
		}

		util.BalanceCASConflictsTotal.Inc()
		l.logger.Debug("Balance CAS conflict, retrying",
			zap.String("user_id", userID),
			zap.Int("attempt", attempt+1))
	}

	return nil, ErrBalanceConflict
}
