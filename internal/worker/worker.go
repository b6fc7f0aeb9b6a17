package worker

import (
	"context"
	"log"

	"tokenpay/internal/broker"
	"tokenpay/internal/models"
	"tokenpay/internal/util"

	"go.uber.org/zap"
)

// AuditWorker consumes the billing event stream and writes the audit log.
// It is a pure observer: reconciliation correctness never depends on it.
type AuditWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewAuditWorker creates a new audit worker
func NewAuditWorker(consumer *broker.Consumer) *AuditWorker {
	logger := util.GetLogger()
	eventHandler := broker.NewEventHandler()

	eventHandler.OnOrderCreated(func(ctx context.Context, event *models.OrderCreatedEvent) error {
		logger.Info("audit: order created",
			zap.String("order_id", event.OrderID),
			zap.String("user_id", event.UserID),
			zap.String("product_id", event.ProductID),
			zap.String("amount", event.Amount.String()))
		return nil
	})

	eventHandler.OnOrderPaid(func(ctx context.Context, event *models.OrderPaidEvent) error {
		logger.Info("audit: order paid",
			zap.String("order_id", event.OrderID),
			zap.String("user_id", event.UserID),
			zap.String("amount", event.Amount.String()),
			zap.String("provider_trade_id", event.ProviderTradeID))
		return nil
	})

	eventHandler.OnOrderFailed(func(ctx context.Context, event *models.OrderFailedEvent) error {
		logger.Info("audit: order failed",
			zap.String("order_id", event.OrderID),
			zap.String("user_id", event.UserID),
			zap.String("reason", event.Reason))
		return nil
	})

	eventHandler.OnBalanceCredited(func(ctx context.Context, event *models.BalanceCreditedEvent) error {
		logger.Info("audit: balance credited",
			zap.String("user_id", event.UserID),
			zap.String("order_id", event.OrderID),
			zap.String("units", event.Units.String()),
			zap.String("paid_balance", event.PaidBalance.String()))
		return nil
	})

	eventHandler.OnUsageConsumed(func(ctx context.Context, event *models.UsageConsumedEvent) error {
		logger.Info("audit: usage consumed",
			zap.String("user_id", event.UserID),
			zap.String("used_from_free", event.UsedFromFree.String()),
			zap.String("used_from_paid", event.UsedFromPaid.String()))
		return nil
	})

	return &AuditWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		logger:       logger,
	}
}

// Start starts the worker
func (w *AuditWorker) Start(ctx context.Context) error {
	log.Println("Starting audit worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *AuditWorker) Stop() error {
	log.Println("Stopping audit worker...")
	return w.consumer.Close()
}
