package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"tokenpay/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing billing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, "order-"+event.OrderID, event)
}

// PublishOrderPaid publishes OrderPaid event
func (ep *EventPublisher) PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	return ep.producer.PublishEvent(ctx, "order-"+event.OrderID, event)
}

// PublishOrderFailed publishes OrderFailed event
func (ep *EventPublisher) PublishOrderFailed(ctx context.Context, event *models.OrderFailedEvent) error {
	return ep.producer.PublishEvent(ctx, "order-"+event.OrderID, event)
}

// PublishBalanceCredited publishes BalanceCredited event
func (ep *EventPublisher) PublishBalanceCredited(ctx context.Context, event *models.BalanceCreditedEvent) error {
	return ep.producer.PublishEvent(ctx, "user-"+event.UserID, event)
}

// PublishUsageConsumed publishes UsageConsumed event
func (ep *EventPublisher) PublishUsageConsumed(ctx context.Context, event *models.UsageConsumedEvent) error {
	return ep.producer.PublishEvent(ctx, "user-"+event.UserID, event)
}

// EventHandler routes incoming billing events to registered callbacks
type EventHandler struct {
	onOrderCreated    func(context.Context, *models.OrderCreatedEvent) error
	onOrderPaid       func(context.Context, *models.OrderPaidEvent) error
	onOrderFailed     func(context.Context, *models.OrderFailedEvent) error
	onBalanceCredited func(context.Context, *models.BalanceCreditedEvent) error
	onUsageConsumed   func(context.Context, *models.UsageConsumedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnOrderCreated registers a handler for OrderCreated events
func (eh *EventHandler) OnOrderCreated(handler func(context.Context, *models.OrderCreatedEvent) error) {
	eh.onOrderCreated = handler
}

// OnOrderPaid registers a handler for OrderPaid events
func (eh *EventHandler) OnOrderPaid(handler func(context.Context, *models.OrderPaidEvent) error) {
	eh.onOrderPaid = handler
}

// OnOrderFailed registers a handler for OrderFailed events
func (eh *EventHandler) OnOrderFailed(handler func(context.Context, *models.OrderFailedEvent) error) {
	eh.onOrderFailed = handler
}

// OnBalanceCredited registers a handler for BalanceCredited events
func (eh *EventHandler) OnBalanceCredited(handler func(context.Context, *models.BalanceCreditedEvent) error) {
	eh.onBalanceCredited = handler
}

// OnUsageConsumed registers a handler for UsageConsumed events
func (eh *EventHandler) OnUsageConsumed(handler func(context.Context, *models.UsageConsumedEvent) error) {
	eh.onUsageConsumed = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeOrderCreated:
		if eh.onOrderCreated != nil {
			var event models.OrderCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderCreated event: %w", err)
			}
			return eh.onOrderCreated(ctx, &event)
		}

	case models.EventTypeOrderPaid:
		if eh.onOrderPaid != nil {
			var event models.OrderPaidEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderPaid event: %w", err)
			}
			return eh.onOrderPaid(ctx, &event)
		}

	case models.EventTypeOrderFailed:
		if eh.onOrderFailed != nil {
			var event models.OrderFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderFailed event: %w", err)
			}
			return eh.onOrderFailed(ctx, &event)
		}

	case models.EventTypeBalanceCredited:
		if eh.onBalanceCredited != nil {
			var event models.BalanceCreditedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal BalanceCredited event: %w", err)
			}
			return eh.onBalanceCredited(ctx, &event)
		}

	case models.EventTypeUsageConsumed:
		if eh.onUsageConsumed != nil {
			var event models.UsageConsumedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal UsageConsumed event: %w", err)
			}
			return eh.onUsageConsumed(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
