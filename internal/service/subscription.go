package service

import (
	"context"
	"fmt"
	"time"

	"tokenpay/internal/catalog"
	"tokenpay/internal/store"
)

// SubscriptionCalculator computes the validity window for a new subscription
// purchase. Windows chain: a purchase made while a subscription is still
// active starts at the latest currently-active expiry, never at now, so
// buying early never wastes remaining paid time.
type SubscriptionCalculator struct {
	orders store.OrderStore
}

// NewSubscriptionCalculator creates a calculator over the given order store.
func NewSubscriptionCalculator(orders store.OrderStore) *SubscriptionCalculator {
	return &SubscriptionCalculator{orders: orders}
}

// ComputeWindow returns the [start, end) interval for a new purchase of the
// given subscription product. It always derives the chain point from the
// currently-successful order set, never from a cached window, so it is safe
// to re-run per success event even when webhooks arrive out of order.
func (c *SubscriptionCalculator) ComputeWindow(ctx context.Context, userID, productID string, period catalog.Period, now time.Time) (time.Time, time.Time, error) {
	active, err := c.orders.ActiveSubscriptionOrders(ctx, userID, productID, now)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("failed to query active subscriptions: %w", err)
	}

	start := now
	for _, order := range active {
		if order.SubscriptionEnd != nil && order.SubscriptionEnd.After(start) {
			start = *order.SubscriptionEnd
		}
	}

	var end time.Time
	switch period {
	case catalog.PeriodMonthly:
		end = start.AddDate(0, 1, 0)
	case catalog.PeriodYearly:
		end = start.AddDate(1, 0, 0)
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown subscription period: %s", period)
	}

	return start, end, nil
}
