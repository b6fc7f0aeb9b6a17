package service

import (
	"context"
	"testing"
	"time"

	"tokenpay/internal/catalog"
	"tokenpay/internal/models"
	"tokenpay/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func successfulSubOrder(t *testing.T, s *store.MemoryStore, id string, end time.Time) {
	t.Helper()
	e := end
	require.NoError(t, s.CreateOrder(context.Background(), &models.Order{
		OrderID:         id,
		UserID:          "u-1",
		ProductID:       "sub_monthly",
		Amount:          decimal.RequireFromString("19.9"),
		Status:          models.OrderStatusSuccess,
		SubscriptionEnd: &e,
	}))
}

func TestComputeWindowNoActiveSubscription(t *testing.T) {
	s := store.NewMemoryStore()
	calc := NewSubscriptionCalculator(s)
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	start, end, err := calc.ComputeWindow(context.Background(), "u-1", "sub_monthly", catalog.PeriodMonthly, now)
	require.NoError(t, err)
	assert.Equal(t, now, start)
	assert.Equal(t, now.AddDate(0, 1, 0), end)
}

func TestComputeWindowChainsFromLatestActiveExpiry(t *testing.T) {
	s := store.NewMemoryStore()
	calc := NewSubscriptionCalculator(s)

	now := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	activeEnd := time.Date(2024, 3, 30, 0, 0, 0, 0, time.UTC)
	successfulSubOrder(t, s, "o-active", activeEnd)

	// Buying 25 days early extends from the active expiry, not from now.
	start, end, err := calc.ComputeWindow(context.Background(), "u-1", "sub_monthly", catalog.PeriodMonthly, now)
	require.NoError(t, err)
	assert.Equal(t, activeEnd, start)
	assert.Equal(t, activeEnd.AddDate(0, 1, 0), end)
}

func TestComputeWindowPicksMaxAcrossWindows(t *testing.T) {
	s := store.NewMemoryStore()
	calc := NewSubscriptionCalculator(s)

	now := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	successfulSubOrder(t, s, "o-1", now.AddDate(0, 0, 10))
	successfulSubOrder(t, s, "o-2", now.AddDate(0, 0, 40))
	successfulSubOrder(t, s, "o-expired", now.AddDate(0, 0, -1))

	start, _, err := calc.ComputeWindow(context.Background(), "u-1", "sub_monthly", catalog.PeriodMonthly, now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(0, 0, 40), start)
}

func TestComputeWindowIgnoresExpiredAndPendingOrders(t *testing.T) {
	s := store.NewMemoryStore()
	calc := NewSubscriptionCalculator(s)

	now := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	successfulSubOrder(t, s, "o-expired", now.AddDate(0, -1, 0))

	pendEnd := now.AddDate(0, 0, 20)
	require.NoError(t, s.CreateOrder(context.Background(), &models.Order{
		OrderID:         "o-pending",
		UserID:          "u-1",
		ProductID:       "sub_monthly",
		Amount:          decimal.RequireFromString("19.9"),
		Status:          models.OrderStatusPending,
		SubscriptionEnd: &pendEnd,
	}))

	start, _, err := calc.ComputeWindow(context.Background(), "u-1", "sub_monthly", catalog.PeriodMonthly, now)
	require.NoError(t, err)
	assert.Equal(t, now, start)
}

func TestComputeWindowYearlyUsesCalendarAddition(t *testing.T) {
	s := store.NewMemoryStore()
	calc := NewSubscriptionCalculator(s)

	// Leap-year aware: a year from 2024-02-29 lands on 2025-03-01 via
	// AddDate, not a fixed 365-day delta.
	now := time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)
	_, end, err := calc.ComputeWindow(context.Background(), "u-1", "sub_yearly", catalog.PeriodYearly, now)
	require.NoError(t, err)
	assert.Equal(t, now.AddDate(1, 0, 0), end)
}

func TestComputeWindowUnknownPeriod(t *testing.T) {
	s := store.NewMemoryStore()
	calc := NewSubscriptionCalculator(s)

	_, _, err := calc.ComputeWindow(context.Background(), "u-1", "sub_monthly", catalog.Period("weekly"), time.Now())
	assert.Error(t, err)
}
