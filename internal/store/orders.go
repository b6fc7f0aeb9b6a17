package store

import (
	"context"
	"database/sql"
	"time"

	"tokenpay/internal/models"
)

// CreateOrder persists a new pending order
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (order_id, user_id, product_id, amount, status,
			provider_trade_id, notify_count, subscription_start, subscription_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		order.OrderID, order.UserID, order.ProductID, order.Amount, order.Status,
		order.ProviderTradeID, order.NotifyCount, order.SubscriptionStart, order.SubscriptionEnd)

	return row.Scan(&order.CreatedAt, &order.UpdatedAt)
}

// GetOrderByID retrieves an order by its merchant-generated id.
// Returns (nil, nil) when no such order exists.
func (s *Store) GetOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE order_id = $1", orderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CompareAndSwapStatus transitions the order status only if the stored status
// matches expectedStatus, incrementing notify_count in the same statement.
// An empty ProviderTradeID and nil window pointers leave stored values intact.
func (s *Store) CompareAndSwapStatus(ctx context.Context, orderID, expectedStatus string, update models.StatusUpdate) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    provider_trade_id = COALESCE(NULLIF($2, ''), provider_trade_id),
		    subscription_start = COALESCE($3, subscription_start),
		    subscription_end = COALESCE($4, subscription_end),
		    notify_count = notify_count + 1,
		    updated_at = NOW()
		WHERE order_id = $5 AND status = $6`,
		update.Status, update.ProviderTradeID,
		update.SubscriptionStart, update.SubscriptionEnd,
		orderID, expectedStatus)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// IncrementNotifyCount records a processed webhook delivery that did not
// change business state (replays, unknown provider statuses).
func (s *Store) IncrementNotifyCount(ctx context.Context, orderID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET notify_count = notify_count + 1, updated_at = NOW() WHERE order_id = $1",
		orderID)
	return err
}

// ActiveSubscriptionOrders returns successful subscription orders for the
// (user, product) pair whose window has not yet expired at now.
func (s *Store) ActiveSubscriptionOrders(ctx context.Context, userID, productID string, now time.Time) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, `
		SELECT * FROM orders
		WHERE user_id = $1 AND product_id = $2 AND status = $3 AND subscription_end > $4
		ORDER BY subscription_end`,
		userID, productID, models.OrderStatusSuccess, now)
	return orders, err
}

// OrdersByUserID retrieves a user's orders, newest first.
func (s *Store) OrdersByUserID(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}
