package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tokenpay/internal/models"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory OrderStore and BalanceStore with the same CAS
// semantics as the Postgres store. Used by tests and database-less local runs.
type MemoryStore struct {
	mu       sync.Mutex
	orders   map[string]*models.Order
	balances map[string]*models.UserBalance
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]*models.Order),
		balances: make(map[string]*models.UserBalance),
	}
}

// CreateOrder persists a new order, rejecting duplicate ids.
func (m *MemoryStore) CreateOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.orders[order.OrderID]; exists {
		return fmt.Errorf("duplicate order id: %s", order.OrderID)
	}

	now := time.Now()
	order.CreatedAt = now
	order.UpdatedAt = now

	stored := *order
	m.orders[order.OrderID] = &stored
	return nil
}

// GetOrderByID returns a copy of the order, or (nil, nil) when absent.
func (m *MemoryStore) GetOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return nil, nil
	}
	copied := *order
	return &copied, nil
}

// CompareAndSwapStatus transitions the order if its status matches expected,
// incrementing notify_count as part of the swap.
func (m *MemoryStore) CompareAndSwapStatus(ctx context.Context, orderID, expectedStatus string, update models.StatusUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok || order.Status != expectedStatus {
		return false, nil
	}

	order.Status = update.Status
	if update.ProviderTradeID != "" {
		order.ProviderTradeID = update.ProviderTradeID
	}
	if update.SubscriptionStart != nil {
		order.SubscriptionStart = update.SubscriptionStart
	}
	if update.SubscriptionEnd != nil {
		order.SubscriptionEnd = update.SubscriptionEnd
	}
	order.NotifyCount++
	order.UpdatedAt = time.Now()
	return true, nil
}

// IncrementNotifyCount bumps the delivery counter without touching status.
func (m *MemoryStore) IncrementNotifyCount(ctx context.Context, orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order not found: %s", orderID)
	}
	order.NotifyCount++
	order.UpdatedAt = time.Now()
	return nil
}

// ActiveSubscriptionOrders returns successful subscription orders for the
// (user, product) pair still active at now, ordered by window end.
func (m *MemoryStore) ActiveSubscriptionOrders(ctx context.Context, userID, productID string, now time.Time) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.Order
	for _, order := range m.orders {
		if order.UserID != userID || order.ProductID != productID {
			continue
		}
		if order.Status != models.OrderStatusSuccess {
			continue
		}
		if order.SubscriptionEnd == nil || !order.SubscriptionEnd.After(now) {
			continue
		}
		result = append(result, *order)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].SubscriptionEnd.Before(*result[j].SubscriptionEnd)
	})
	return result, nil
}

// OrdersByUserID returns the user's orders, newest first.
func (m *MemoryStore) OrdersByUserID(ctx context.Context, userID string) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []models.Order
	for _, order := range m.orders {
		if order.UserID == userID {
			result = append(result, *order)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// GetOrCreateBalance returns a copy of the balance row, creating an empty
// one on first access.
func (m *MemoryStore) GetOrCreateBalance(ctx context.Context, userID string) (*models.UserBalance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	balance, ok := m.balances[userID]
	if !ok {
		now := time.Now()
		balance = &models.UserBalance{
			UserID:      userID,
			FreeUsed:    decimal.Zero,
			PaidBalance: decimal.Zero,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		m.balances[userID] = balance
	}
	copied := *balance
	return &copied, nil
}

// CompareAndSwapBalance writes the new pair only if the version matches.
func (m *MemoryStore) CompareAndSwapBalance(ctx context.Context, userID string, version int64, freeUsed, paidBalance decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	balance, ok := m.balances[userID]
	if !ok || balance.Version != version {
		return false, nil
	}

	balance.FreeUsed = freeUsed
	balance.PaidBalance = paidBalance
	balance.Version++
	balance.UpdatedAt = time.Now()
	return true, nil
}
