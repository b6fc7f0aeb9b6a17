package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order represents a single purchase attempt against the payment gateway.
// The order id is merchant-generated and correlates the outgoing payment
// request with the incoming webhook notification.
type Order struct {
	OrderID           string          `db:"order_id" json:"order_id"`
	UserID            string          `db:"user_id" json:"user_id"`
	ProductID         string          `db:"product_id" json:"product_id"`
	Amount            decimal.Decimal `db:"amount" json:"amount"`
	Status            string          `db:"status" json:"status"`
	ProviderTradeID   string          `db:"provider_trade_id" json:"provider_trade_id,omitempty"`
	NotifyCount       int             `db:"notify_count" json:"notify_count"`
	SubscriptionStart *time.Time      `db:"subscription_start" json:"subscription_start,omitempty"`
	SubscriptionEnd   *time.Time      `db:"subscription_end" json:"subscription_end,omitempty"`
	CreatedAt         time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time       `db:"updated_at" json:"updated_at"`
}

// Order statuses. An order starts PENDING and is moved at most once into a
// terminal state by the webhook handler.
const (
	OrderStatusPending = "PENDING"
	OrderStatusSuccess = "SUCCESS"
	OrderStatusFailed  = "FAILED"
)

// IsTerminal reports whether the order has reached a final state.
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusSuccess || o.Status == OrderStatusFailed
}

// UserBalance is the per-user token ledger row: cumulative consumption
// against the free allowance plus the purchased, unconsumed balance.
// Version backs the optimistic-concurrency update loop.
type UserBalance struct {
	UserID      string          `db:"user_id" json:"user_id"`
	FreeUsed    decimal.Decimal `db:"free_used" json:"free_used"`
	PaidBalance decimal.Decimal `db:"paid_balance" json:"paid_balance"`
	Version     int64           `db:"version" json:"-"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// StatusUpdate carries the fields written together with a status CAS.
// Nil pointers leave the stored value untouched.
type StatusUpdate struct {
	Status            string
	ProviderTradeID   string
	SubscriptionStart *time.Time
	SubscriptionEnd   *time.Time
}

// OrderView is the read model returned by the status endpoint.
type OrderView struct {
	OrderID   string          `json:"order_id"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	ProductID string          `json:"product_id"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}
