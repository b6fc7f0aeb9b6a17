package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated    = "ORDER_CREATED"
	EventTypeOrderPaid       = "ORDER_PAID"
	EventTypeOrderFailed     = "ORDER_FAILED"
	EventTypeBalanceCredited = "BALANCE_CREDITED"
	EventTypeUsageConsumed   = "USAGE_CONSUMED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when a pending order is created
type OrderCreatedEvent struct {
	BaseEvent
	OrderID   string          `json:"order_id"`
	UserID    string          `json:"user_id"`
	ProductID string          `json:"product_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// OrderPaidEvent published when a webhook moves an order to SUCCESS
type OrderPaidEvent struct {
	BaseEvent
	OrderID         string          `json:"order_id"`
	UserID          string          `json:"user_id"`
	ProductID       string          `json:"product_id"`
	Amount          decimal.Decimal `json:"amount"`
	ProviderTradeID string          `json:"provider_trade_id"`
}

// OrderFailedEvent published when the provider reports a failed payment
type OrderFailedEvent struct {
	BaseEvent
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Reason  string `json:"reason"`
}

// BalanceCreditedEvent published after a successful ledger credit
type BalanceCreditedEvent struct {
	BaseEvent
	UserID      string          `json:"user_id"`
	OrderID     string          `json:"order_id"`
	Units       decimal.Decimal `json:"units"`
	PaidBalance decimal.Decimal `json:"paid_balance"`
}

// UsageConsumedEvent published after a committed consumption
type UsageConsumedEvent struct {
	BaseEvent
	UserID       string          `json:"user_id"`
	UsedFromFree decimal.Decimal `json:"used_from_free"`
	UsedFromPaid decimal.Decimal `json:"used_from_paid"`
}
