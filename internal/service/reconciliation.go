package service

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"tokenpay/internal/broker"
	"tokenpay/internal/catalog"
	"tokenpay/internal/models"
	"tokenpay/internal/redisclient"
	"tokenpay/internal/signature"
	"tokenpay/internal/store"
	"tokenpay/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Acknowledgement tokens the provider keys its retry policy off. The body
// content matters, not only the HTTP status.
const (
	ProviderAckSuccess = "success"
	ProviderAckFailure = "fail"
)

// ReconciliationConfig carries the outgoing-payment parameters.
type ReconciliationConfig struct {
	MerchantID  string
	GatewayURL  string
	NotifyURL   string
	ReturnURL   string
	PaymentType string
}

// ReconciliationService is the externally-facing facade: create-order,
// handle-webhook, order status, balance and usage consumption. It is the
// unique place where a successful payment becomes a ledger credit.
type ReconciliationService struct {
	lifecycle *OrderLifecycle
	ledger    *TokenLedger
	orders    store.OrderStore
	catalog   *catalog.Catalog
	codec     *signature.Codec
	events    *broker.EventPublisher
	locks     *redisclient.Client
	cfg       ReconciliationConfig
	logger    *zap.Logger
}

// NewReconciliationService wires the facade. events and locks may be nil:
// event publishing is best-effort and the redis lock is only a fast path,
// correctness is owed to the store CAS.
func NewReconciliationService(
	lifecycle *OrderLifecycle,
	ledger *TokenLedger,
	orders store.OrderStore,
	cat *catalog.Catalog,
	codec *signature.Codec,
	events *broker.EventPublisher,
	locks *redisclient.Client,
	cfg ReconciliationConfig,
) *ReconciliationService {
	return &ReconciliationService{
		lifecycle: lifecycle,
		ledger:    ledger,
		orders:    orders,
		catalog:   cat,
		codec:     codec,
		events:    events,
		locks:     locks,
		cfg:       cfg,
		logger:    util.GetLogger(),
	}
}

// CreateOrderResponse carries the new order id and the signed redirect URL.
type CreateOrderResponse struct {
	OrderID    string `json:"order_id"`
	PaymentURL string `json:"payment_url"`
}

// CreateOrder resolves the product, persists a pending order and builds the
// signed provider redirect URL.
func (s *ReconciliationService) CreateOrder(ctx context.Context, userID, productID string) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "ReconciliationService.CreateOrder")
	defer span.End()

	order, err := s.lifecycle.CreateOrder(ctx, userID, productID)
	if err != nil {
		return nil, err
	}

	product, err := s.catalog.Get(productID)
	if err != nil {
		return nil, err
	}

	params := map[string]string{
		"pid":          s.cfg.MerchantID,
		"type":         s.cfg.PaymentType,
		"out_trade_no": order.OrderID,
		"notify_url":   s.cfg.NotifyURL,
		"return_url":   s.cfg.ReturnURL,
		"name":         product.Name,
		"money":        order.Amount.String(),
	}
	params[signature.SignKey] = s.codec.Sign(params)
	params[signature.SignTypeKey] = "MD5"

	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}

	s.publishOrderCreated(ctx, order)

	return &CreateOrderResponse{
		OrderID:    order.OrderID,
		PaymentURL: s.cfg.GatewayURL + "?" + values.Encode(),
	}, nil
}

// HandleWebhook applies one provider notification and, when this delivery
// moved the order to SUCCESS, credits the granted units to the user's paid
// balance. Returns the literal acknowledgement body for the provider.
func (s *ReconciliationService) HandleWebhook(ctx context.Context, params map[string]string) (string, *NotifyResult, error) {
	ctx, span := util.StartSpan(ctx, "ReconciliationService.HandleWebhook")
	defer span.End()

	start := time.Now()
	defer func() {
		util.WebhookProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	orderID := notifyParam(params, "out_trade_no")
	if s.locks != nil && orderID != "" {
		if seen, err := s.locks.WasNotificationProcessed(ctx, orderID); err == nil && seen {
			util.WebhookDuplicatesTotal.Inc()
		}

		acquired, err := s.locks.AcquireOrderLock(ctx, orderID, 10*time.Second)
		if err != nil {
			s.logger.Warn("Webhook lock unavailable, relying on store CAS", zap.Error(err))
		} else if acquired {
			defer func() {
				if err := s.locks.ReleaseOrderLock(ctx, orderID); err != nil {
					s.logger.Warn("Failed to release webhook lock", zap.Error(err))
				}
			}()
		}
	}

	result, err := s.lifecycle.ApplyNotification(ctx, params)
	if err != nil {
		return ProviderAckFailure, nil, err
	}

	util.WebhookNotificationsTotal.WithLabelValues(string(result.Code)).Inc()

	switch result.Code {
	case NotifyAccepted:
		if err := s.creditForOrder(ctx, result.Order); err != nil {
			// The order is already SUCCESS; surface the fault so it is
			// retried by the operator, not silently dropped.
			return ProviderAckFailure, result, err
		}
		if s.locks != nil && orderID != "" {
			if err := s.locks.MarkNotificationProcessed(ctx, orderID, 24*time.Hour); err != nil {
				s.logger.Warn("Failed to mark notification processed", zap.Error(err))
			}
		}
		s.publishOrderPaid(ctx, result.Order)

	case NotifyFailed:
		s.publishOrderFailed(ctx, result.Order)
	}

	if !result.Ack() {
		return ProviderAckFailure, result, nil
	}
	return ProviderAckSuccess, result, nil
}

func (s *ReconciliationService) creditForOrder(ctx context.Context, order *models.Order) error {
	product, err := s.catalog.Get(order.ProductID)
	if err != nil {
		return fmt.Errorf("paid order references unknown product %s: %w", order.ProductID, err)
	}
	if !product.GrantedUnits.IsPositive() {
		return nil
	}

	balance, err := s.ledger.Credit(ctx, order.UserID, product.GrantedUnits)
	if err != nil {
		return fmt.Errorf("failed to credit paid order %s: %w", order.OrderID, err)
	}

	s.publishBalanceCredited(ctx, order, product, balance)
	return nil
}

// GetOrderStatus returns the order view after verifying ownership.
func (s *ReconciliationService) GetOrderStatus(ctx context.Context, orderID, userID string) (*models.OrderView, error) {
	ctx, span := util.StartSpan(ctx, "ReconciliationService.GetOrderStatus")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.UserID != userID {
		return nil, ErrNotOrderOwner
	}

	return &models.OrderView{
		OrderID:   order.OrderID,
		Status:    order.Status,
		Amount:    order.Amount,
		ProductID: order.ProductID,
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.UpdatedAt,
	}, nil
}

// ListOrders returns the caller's order history, newest first.
func (s *ReconciliationService) ListOrders(ctx context.Context, userID string) ([]models.OrderView, error) {
	orders, err := s.orders.OrdersByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	views := make([]models.OrderView, 0, len(orders))
	for _, order := range orders {
		views = append(views, models.OrderView{
			OrderID:   order.OrderID,
			Status:    order.Status,
			Amount:    order.Amount,
			ProductID: order.ProductID,
			CreatedAt: order.CreatedAt,
			UpdatedAt: order.UpdatedAt,
		})
	}
	return views, nil
}

// ConsumeForUsage is the gate the chat component calls before a chargeable
// action. Returns *InsufficientBalanceError as a normal business branch.
func (s *ReconciliationService) ConsumeForUsage(ctx context.Context, userID string, estimated decimal.Decimal) (*ConsumeResult, error) {
	ctx, span := util.StartSpan(ctx, "ReconciliationService.ConsumeForUsage")
	defer span.End()

	result, err := s.ledger.Consume(ctx, userID, estimated)
	if err != nil {
		return nil, err
	}

	s.publishUsageConsumed(ctx, userID, result)
	return result, nil
}

// BalanceView is the read model of the balance endpoint.
type BalanceView struct {
	UserID        string          `json:"user_id"`
	FreeLimit     decimal.Decimal `json:"free_limit"`
	FreeUsed      decimal.Decimal `json:"free_used"`
	FreeRemaining decimal.Decimal `json:"free_remaining"`
	PaidBalance   decimal.Decimal `json:"paid_balance"`
}

// GetBalance returns the user's current two-tier balance state.
func (s *ReconciliationService) GetBalance(ctx context.Context, userID string) (*BalanceView, error) {
	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load balance: %w", err)
	}

	freeRemaining := s.ledger.FreeLimit().Sub(balance.FreeUsed)
	if freeRemaining.IsNegative() {
		freeRemaining = decimal.Zero
	}

	return &BalanceView{
		UserID:        userID,
		FreeLimit:     s.ledger.FreeLimit(),
		FreeUsed:      balance.FreeUsed,
		FreeRemaining: freeRemaining,
		PaidBalance:   balance.PaidBalance,
	}, nil
}

func (s *ReconciliationService) publishOrderCreated(ctx context.Context, order *models.Order) {
	if s.events == nil {
		return
	}
	event := &models.OrderCreatedEvent{
		BaseEvent: baseEvent(models.EventTypeOrderCreated),
		OrderID:   order.OrderID,
		UserID:    order.UserID,
		ProductID: order.ProductID,
		Amount:    order.Amount,
	}
	if err := s.events.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

func (s *ReconciliationService) publishOrderPaid(ctx context.Context, order *models.Order) {
	if s.events == nil {
		return
	}
	event := &models.OrderPaidEvent{
		BaseEvent:       baseEvent(models.EventTypeOrderPaid),
		OrderID:         order.OrderID,
		UserID:          order.UserID,
		ProductID:       order.ProductID,
		Amount:          order.Amount,
		ProviderTradeID: order.ProviderTradeID,
	}
	if err := s.events.PublishOrderPaid(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPaid event", zap.Error(err))
	}
}

func (s *ReconciliationService) publishOrderFailed(ctx context.Context, order *models.Order) {
	if s.events == nil {
		return
	}
	event := &models.OrderFailedEvent{
		BaseEvent: baseEvent(models.EventTypeOrderFailed),
		OrderID:   order.OrderID,
		UserID:    order.UserID,
		Reason:    "provider_declined",
	}
	if err := s.events.PublishOrderFailed(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderFailed event", zap.Error(err))
	}
}

func (s *ReconciliationService) publishBalanceCredited(ctx context.Context, order *models.Order, product catalog.Product, balance *models.UserBalance) {
	if s.events == nil {
		return
	}
	event := &models.BalanceCreditedEvent{
		BaseEvent:   baseEvent(models.EventTypeBalanceCredited),
		UserID:      order.UserID,
		OrderID:     order.OrderID,
		Units:       product.GrantedUnits,
		PaidBalance: balance.PaidBalance,
	}
	if err := s.events.PublishBalanceCredited(ctx, event); err != nil {
		s.logger.Error("Failed to publish BalanceCredited event", zap.Error(err))
	}
}

func (s *ReconciliationService) publishUsageConsumed(ctx context.Context, userID string, result *ConsumeResult) {
	if s.events == nil {
		return
	}
	event := &models.UsageConsumedEvent{
		BaseEvent:    baseEvent(models.EventTypeUsageConsumed),
		UserID:       userID,
		UsedFromFree: result.UsedFromFree,
		UsedFromPaid: result.UsedFromPaid,
	}
	if err := s.events.PublishUsageConsumed(ctx, event); err != nil {
		s.logger.Error("Failed to publish UsageConsumed event", zap.Error(err))
	}
}

func baseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
