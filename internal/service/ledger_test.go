package service

import (
	"context"
	"sync"
	"testing"

	"tokenpay/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(freeLimit string) (*TokenLedger, *store.MemoryStore) {
	s := store.NewMemoryStore()
	return NewTokenLedger(s, decimal.RequireFromString(freeLimit)), s
}

func seedBalance(t *testing.T, s *store.MemoryStore, userID, freeUsed, paid string) {
	t.Helper()
	ctx := context.Background()
	balance, err := s.GetOrCreateBalance(ctx, userID)
	require.NoError(t, err)
	ok, err := s.CompareAndSwapBalance(ctx, userID, balance.Version,
		decimal.RequireFromString(freeUsed), decimal.RequireFromString(paid))
	require.NoError(t, err)
	require.True(t, ok)
}

func TestConsumeFreeThenPaidSplit(t *testing.T) {
	ledger, s := newTestLedger("100")
	seedBalance(t, s, "u-1", "90", "50")

	result, err := ledger.Consume(context.Background(), "u-1", decimal.NewFromInt(30))
	require.NoError(t, err)

	assert.True(t, result.UsedFromFree.Equal(decimal.NewFromInt(10)), "used from free: %s", result.UsedFromFree)
	assert.True(t, result.UsedFromPaid.Equal(decimal.NewFromInt(20)), "used from paid: %s", result.UsedFromPaid)
	assert.True(t, result.FreeUsed.Equal(decimal.NewFromInt(100)))
	assert.True(t, result.PaidBalance.Equal(decimal.NewFromInt(30)))
}

func TestConsumeFullyFromFree(t *testing.T) {
	ledger, _ := newTestLedger("100")

	result, err := ledger.Consume(context.Background(), "u-1", decimal.NewFromInt(40))
	require.NoError(t, err)

	assert.True(t, result.UsedFromFree.Equal(decimal.NewFromInt(40)))
	assert.True(t, result.UsedFromPaid.IsZero())
}

func TestConsumeExactBoundarySucceeds(t *testing.T) {
	ledger, s := newTestLedger("100")
	seedBalance(t, s, "u-1", "90", "50")

	// freeRemaining(10) + paid(50) exactly.
	result, err := ledger.Consume(context.Background(), "u-1", decimal.NewFromInt(60))
	require.NoError(t, err)
	assert.True(t, result.PaidBalance.IsZero())
	assert.True(t, result.FreeUsed.Equal(decimal.NewFromInt(100)))
}

func TestConsumeInsufficientByOneCent(t *testing.T) {
	ledger, s := newTestLedger("100")
	seedBalance(t, s, "u-1", "100", "0")

	_, err := ledger.Consume(context.Background(), "u-1", decimal.RequireFromString("0.01"))
	require.Error(t, err)

	var insufficient *InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Required.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, insufficient.Available.IsZero())
}

func TestConsumeInsufficientLeavesNoPartialMutation(t *testing.T) {
	ledger, s := newTestLedger("100")
	seedBalance(t, s, "u-1", "90", "5")

	_, err := ledger.Consume(context.Background(), "u-1", decimal.NewFromInt(30))
	var insufficient *InsufficientBalanceError
	require.ErrorAs(t, err, &insufficient)
	assert.True(t, insufficient.Required.Equal(decimal.NewFromInt(20)))
	assert.True(t, insufficient.Available.Equal(decimal.NewFromInt(5)))

	// The free portion must not have been committed.
	balance, err := s.GetOrCreateBalance(context.Background(), "u-1")
	require.NoError(t, err)
	assert.True(t, balance.FreeUsed.Equal(decimal.NewFromInt(90)))
	assert.True(t, balance.PaidBalance.Equal(decimal.NewFromInt(5)))
}

func TestConsumeRejectsNonPositiveAmount(t *testing.T) {
	ledger, _ := newTestLedger("100")

	_, err := ledger.Consume(context.Background(), "u-1", decimal.Zero)
	assert.Error(t, err)
	_, err = ledger.Consume(context.Background(), "u-1", decimal.NewFromInt(-5))
	assert.Error(t, err)
}

func TestCreditAddsToPaidBalance(t *testing.T) {
	ledger, s := newTestLedger("100")

	balance, err := ledger.Credit(context.Background(), "u-1", decimal.RequireFromString("99.5"))
	require.NoError(t, err)
	assert.True(t, balance.PaidBalance.Equal(decimal.RequireFromString("99.5")))

	balance, err = ledger.Credit(context.Background(), "u-1", decimal.RequireFromString("0.5"))
	require.NoError(t, err)
	assert.True(t, balance.PaidBalance.Equal(decimal.NewFromInt(100)))

	stored, err := s.GetOrCreateBalance(context.Background(), "u-1")
	require.NoError(t, err)
	assert.True(t, stored.FreeUsed.IsZero(), "credit must not touch free usage")
}

func TestConcurrentConsumeNeverOverdraws(t *testing.T) {
	ledger, s := newTestLedger("0")
	seedBalance(t, s, "u-1", "0", "100")

	// 20 workers each try to consume 10; only 10 can succeed.
	const workers = 20
	var wg sync.WaitGroup
	successes := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Consume(context.Background(), "u-1", decimal.NewFromInt(10))
			if err == nil {
				successes <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(successes)

	committed := 0
	for range successes {
		committed++
	}

	balance, err := s.GetOrCreateBalance(context.Background(), "u-1")
	require.NoError(t, err)
	assert.False(t, balance.PaidBalance.IsNegative(), "balance overdrawn: %s", balance.PaidBalance)
	assert.True(t, balance.PaidBalance.Equal(decimal.NewFromInt(int64(100-committed*10))))
}

func TestConcurrentCreditAndConsume(t *testing.T) {
	ledger, s := newTestLedger("0")
	seedBalance(t, s, "u-1", "0", "50")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = ledger.Credit(context.Background(), "u-1", decimal.NewFromInt(5))
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = ledger.Consume(context.Background(), "u-1", decimal.NewFromInt(5))
		}()
	}
	wg.Wait()

	balance, err := s.GetOrCreateBalance(context.Background(), "u-1")
	require.NoError(t, err)
	assert.False(t, balance.PaidBalance.IsNegative())
}
