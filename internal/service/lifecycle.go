package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tokenpay/internal/catalog"
	"tokenpay/internal/models"
	"tokenpay/internal/signature"
	"tokenpay/internal/store"
	"tokenpay/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Provider trade statuses in the epay-style notification protocol.
const (
	TradeStatusSuccess = "TRADE_SUCCESS"
	TradeStatusClosed  = "TRADE_CLOSED"
	TradeStatusFailed  = "TRADE_FAILED"
)

// NotifyCode classifies the outcome of a processed webhook delivery.
type NotifyCode string

const (
	// NotifyAccepted: this delivery won the CAS and moved the order to
	// SUCCESS. The unique trigger for a ledger credit.
	NotifyAccepted NotifyCode = "accepted"
	// NotifyReplayed: the order was already terminal; idempotent replay.
	NotifyReplayed NotifyCode = "replayed"
	// NotifyFailed: the provider reported a failed/closed payment.
	NotifyFailed NotifyCode = "failed"
	// NotifyIgnored: unknown provider status; acked so the provider does not
	// busy-retry, but business state is untouched.
	NotifyIgnored NotifyCode = "ignored"
	// NotifyRejected: validation failed; Reject carries the reason.
	NotifyRejected NotifyCode = "rejected"
)

// NotifyResult is the typed outcome of ApplyNotification. Reject is set only
// for NotifyRejected and is one of the sentinel rejection errors (or a
// *MissingFieldError).
type NotifyResult struct {
	Code   NotifyCode
	Order  *models.Order
	Reject error
}

// Ack reports whether the provider should be answered with the success token
// and stop retrying.
func (r *NotifyResult) Ack() bool {
	return r.Code != NotifyRejected
}

// paramAliases maps canonical notification field names to the variants seen
// across provider integrations. The first present alias wins. Collapsing the
// variants here is what keeps a single notification pipeline instead of
// per-provider handler forks.
var paramAliases = map[string][]string{
	"pid":          {"pid", "merchant_id"},
	"out_trade_no": {"out_trade_no", "order_no"},
	"trade_no":     {"trade_no", "transaction_id"},
	"trade_status": {"trade_status", "status"},
	"money":        {"money", "amount"},
}

func notifyParam(params map[string]string, name string) string {
	for _, alias := range paramAliases[name] {
		if v := params[alias]; v != "" {
			return v
		}
	}
	return params[name]
}

// LifecycleConfig carries the validation knobs of the notification pipeline.
type LifecycleConfig struct {
	MerchantID string
	// StrictSignature hard-rejects bad signatures. Must be true in
	// production; false only logs and continues, for gateway sandboxes that
	// sign inconsistently.
	StrictSignature bool
	// AmountEpsilon bounds the tolerated difference between the stored order
	// amount and the notified amount.
	AmountEpsilon decimal.Decimal
}

// OrderLifecycle owns the pending -> success | failed state machine: it
// creates pending orders and applies provider notifications exactly once
// despite at-least-once delivery, using the order-status CAS.
type OrderLifecycle struct {
	orders  store.OrderStore
	catalog *catalog.Catalog
	codec   *signature.Codec
	calc    *SubscriptionCalculator
	cfg     LifecycleConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewOrderLifecycle wires the state machine over its collaborators.
func NewOrderLifecycle(orders store.OrderStore, cat *catalog.Catalog, codec *signature.Codec, calc *SubscriptionCalculator, cfg LifecycleConfig) *OrderLifecycle {
	return &OrderLifecycle{
		orders:  orders,
		catalog: cat,
		codec:   codec,
		calc:    calc,
		cfg:     cfg,
		logger:  util.GetLogger(),
		now:     time.Now,
	}
}

// newOrderID generates a collision-resistant merchant order id. The random
// suffix matters: a timestamp alone collides under burst traffic.
func newOrderID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:10]
	return now.Format("20060102150405") + suffix
}

// CreateOrder persists a new pending order for the product. For subscription
// products a provisional window is computed for display; the authoritative
// window is recomputed at success time because a concurrent purchase can
// change the chain point between creation and notification.
func (lc *OrderLifecycle) CreateOrder(ctx context.Context, userID, productID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderLifecycle.CreateOrder")
	defer span.End()

	product, err := lc.catalog.Get(productID)
	if err != nil {
		return nil, err
	}

	now := lc.now()
	order := &models.Order{
		OrderID:   newOrderID(now),
		UserID:    userID,
		ProductID: productID,
		Amount:    product.Price,
		Status:    models.OrderStatusPending,
	}

	if product.Subscription {
		start, end, err := lc.calc.ComputeWindow(ctx, userID, productID, product.Period, now)
		if err != nil {
			return nil, err
		}
		order.SubscriptionStart = &start
		order.SubscriptionEnd = &end
	}

	if err := lc.orders.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	lc.logger.Info("Order created",
		zap.String("order_id", order.OrderID),
		zap.String("user_id", userID),
		zap.String("product_id", productID),
		zap.String("amount", order.Amount.String()))

	return order, nil
}

// ApplyNotification validates and applies one webhook delivery. Validation
// failures are returned as NotifyRejected results, never as errors; the error
// return is reserved for infrastructure faults. Safe to invoke any number of
// times for the same order.
func (lc *OrderLifecycle) ApplyNotification(ctx context.Context, params map[string]string) (*NotifyResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderLifecycle.ApplyNotification")
	defer span.End()

	// 1. Required fields.
	for _, field := range []string{"pid", "out_trade_no", "trade_status", signature.SignKey} {
		if notifyParam(params, field) == "" {
			return reject(&MissingFieldError{Field: field}), nil
		}
	}

	orderID := notifyParam(params, "out_trade_no")

	// 2. Merchant id.
	if notifyParam(params, "pid") != lc.cfg.MerchantID {
		lc.logger.Warn("Notification for foreign merchant id",
			zap.String("order_id", orderID),
			zap.String("pid", notifyParam(params, "pid")))
		return reject(ErrMerchantMismatch), nil
	}

	// 3. Signature.
	if !lc.codec.Verify(params) {
		if lc.cfg.StrictSignature {
			lc.logger.Warn("Notification signature rejected", zap.String("order_id", orderID))
			return reject(ErrBadSignature), nil
		}
		lc.logger.Warn("Notification signature invalid, continuing (strict mode off)",
			zap.String("order_id", orderID))
	}

	// 4. Load order.
	order, err := lc.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if order == nil {
		return reject(ErrOrderNotFound), nil
	}

	// 5. Idempotent replay.
	if order.Status == models.OrderStatusSuccess {
		if err := lc.orders.IncrementNotifyCount(ctx, orderID); err != nil {
			return nil, fmt.Errorf("failed to count replayed delivery: %w", err)
		}
		lc.logger.Info("Duplicate success notification", zap.String("order_id", orderID))
		return &NotifyResult{Code: NotifyReplayed, Order: order}, nil
	}

	// 6. Amount integrity. Compared as decimals, never as strings or floats.
	notified, err := decimal.NewFromString(signature.NormalizeAmount(notifyParam(params, "money")))
	if err != nil || notified.Sub(order.Amount).Abs().GreaterThan(lc.cfg.AmountEpsilon) {
		lc.logger.Error("Notification amount mismatch",
			zap.String("order_id", orderID),
			zap.String("expected", order.Amount.String()),
			zap.String("notified", notifyParam(params, "money")))
		return reject(ErrAmountMismatch), nil
	}

	tradeStatus := notifyParam(params, "trade_status")
	switch tradeStatus {
	case TradeStatusSuccess:
		return lc.applySuccess(ctx, order, notifyParam(params, "trade_no"))

	case TradeStatusClosed, TradeStatusFailed:
		return lc.applyFailure(ctx, order, tradeStatus)

	default:
		// 9. Unknown status: ack so the provider stops retrying, count the
		// delivery, leave business state alone.
		if err := lc.orders.IncrementNotifyCount(ctx, orderID); err != nil {
			return nil, fmt.Errorf("failed to count ignored delivery: %w", err)
		}
		lc.logger.Info("Ignoring notification with unknown trade status",
			zap.String("order_id", orderID),
			zap.String("trade_status", tradeStatus))
		return &NotifyResult{Code: NotifyIgnored, Order: order}, nil
	}
}

func (lc *OrderLifecycle) applySuccess(ctx context.Context, order *models.Order, tradeNo string) (*NotifyResult, error) {
	update := models.StatusUpdate{
		Status:          models.OrderStatusSuccess,
		ProviderTradeID: tradeNo,
	}

	// Recompute the window authoritatively against the live order set; the
	// provisional value from creation time may chain from the wrong point if
	// another purchase completed in between.
	product, err := lc.catalog.Get(order.ProductID)
	if err == nil && product.Subscription {
		start, end, err := lc.calc.ComputeWindow(ctx, order.UserID, order.ProductID, product.Period, lc.now())
		if err != nil {
			return nil, err
		}
		update.SubscriptionStart = &start
		update.SubscriptionEnd = &end
	}

	won, err := lc.orders.CompareAndSwapStatus(ctx, order.OrderID, models.OrderStatusPending, update)
	if err != nil {
		return nil, fmt.Errorf("failed to apply success transition: %w", err)
	}
	if !won {
		// Lost the race to a concurrent duplicate: already processed.
		if err := lc.orders.IncrementNotifyCount(ctx, order.OrderID); err != nil {
			return nil, fmt.Errorf("failed to count replayed delivery: %w", err)
		}
		lc.logger.Info("Success notification lost CAS race", zap.String("order_id", order.OrderID))
		return &NotifyResult{Code: NotifyReplayed, Order: order}, nil
	}

	order.Status = models.OrderStatusSuccess
	order.ProviderTradeID = tradeNo
	order.SubscriptionStart = update.SubscriptionStart
	order.SubscriptionEnd = update.SubscriptionEnd

	util.OrdersPaidTotal.Inc()
	lc.logger.Info("Order paid",
		zap.String("order_id", order.OrderID),
		zap.String("provider_trade_id", tradeNo),
		zap.String("amount", order.Amount.String()))

	return &NotifyResult{Code: NotifyAccepted, Order: order}, nil
}

func (lc *OrderLifecycle) applyFailure(ctx context.Context, order *models.Order, tradeStatus string) (*NotifyResult, error) {
	won, err := lc.orders.CompareAndSwapStatus(ctx, order.OrderID, models.OrderStatusPending, models.StatusUpdate{
		Status: models.OrderStatusFailed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply failure transition: %w", err)
	}
	if !won {
		if err := lc.orders.IncrementNotifyCount(ctx, order.OrderID); err != nil {
			return nil, fmt.Errorf("failed to count replayed delivery: %w", err)
		}
		return &NotifyResult{Code: NotifyReplayed, Order: order}, nil
	}

	order.Status = models.OrderStatusFailed

	util.OrdersFailedTotal.WithLabelValues(strings.ToLower(tradeStatus)).Inc()
	lc.logger.Info("Order failed",
		zap.String("order_id", order.OrderID),
		zap.String("trade_status", tradeStatus))

	return &NotifyResult{Code: NotifyFailed, Order: order}, nil
}

func reject(reason error) *NotifyResult {
	return &NotifyResult{Code: NotifyRejected, Reject: reason}
}
