package store

import (
	"context"
	"fmt"
	"time"

	"tokenpay/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// OrderStore is the persistence contract for orders. GetOrderByID returns
// (nil, nil) when the order does not exist. CompareAndSwapStatus is the
// concurrency primitive behind webhook idempotency: it transitions the order
// only if its current status matches expected, incrementing notify_count as
// part of the same write, and reports whether the swap won.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, orderID string) (*models.Order, error)
	CompareAndSwapStatus(ctx context.Context, orderID, expectedStatus string, update models.StatusUpdate) (bool, error)
	IncrementNotifyCount(ctx context.Context, orderID string) error
	ActiveSubscriptionOrders(ctx context.Context, userID, productID string, now time.Time) ([]models.Order, error)
	OrdersByUserID(ctx context.Context, userID string) ([]models.Order, error)
}

// BalanceStore is the persistence contract for user balances. Balances are
// created lazily; CompareAndSwapBalance writes only if the stored version
// matches, backing the ledger's optimistic-retry loop.
type BalanceStore interface {
	GetOrCreateBalance(ctx context.Context, userID string) (*models.UserBalance, error)
	CompareAndSwapBalance(ctx context.Context, userID string, version int64, freeUsed, paidBalance decimal.Decimal) (bool, error)
}

// Store is the Postgres-backed implementation of OrderStore and BalanceStore.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}
