package service

import (
	"context"
	"strings"

	"checkout-service/internal/clock"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// effects fires the fire-and-forget side effects of order transitions. Failures are
// logged and never undo the transition.
type effects struct {
	publisher EventPublisher
	carts     CartStore
	clock     clock.Clock
	logger    *zap.Logger
}

func (e *effects) base(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: e.clock.Now(),
	}
}

// orderPaid runs once per pending -> paid transition.
func (e *effects) orderPaid(ctx context.Context, order *models.Order, items []models.OrderItem, source string) {
	util.OrdersPaidTotal.WithLabelValues(source).Inc()

	if order.PaymentMethod == models.PaymentMethodBankTransfer && e.carts != nil {
		if err := e.carts.DeleteCart(ctx, order.UserID); err != nil {
			e.logger.Warn("Failed to clear cart after payment",
				zap.String("order_id", order.ID),
				zap.String("user_id", order.UserID),
				zap.Error(err))
		}
	}

	if e.publisher == nil {
		return
	}
	var reference string
	if order.PaymentReference != nil {
		reference = *order.PaymentReference
	}
	event := &models.OrderPaidEvent{
		BaseEvent:     e.base(models.EventTypeOrderPaid),
		OrderID:       order.ID,
		UserID:        order.UserID,
		CustomerEmail: order.CustomerEmail,
		Amount:        order.TotalAmount,
		Currency:      order.Currency,
		Reference:     reference,
		Status:        order.Status,
		Source:        source,
		Items:         models.ItemData(items),
	}
	if err := e.publisher.PublishOrderPaid(ctx, event); err != nil {
		e.logger.Error("Failed to publish OrderPaid event", zap.String("order_id", order.ID), zap.Error(err))
	}
}

func (e *effects) statusChanged(ctx context.Context, order *models.Order, actor string) {
	util.OrderStatusChangesTotal.WithLabelValues(string(order.Status), actorKind(actor)).Inc()

	if e.publisher == nil {
		return
	}
	event := &models.OrderStatusChangedEvent{
		BaseEvent:     e.base(models.EventTypeOrderStatusChanged),
		OrderID:       order.ID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		Actor:         actor,
	}
	if err := e.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		e.logger.Error("Failed to publish OrderStatusChanged event", zap.String("order_id", order.ID), zap.Error(err))
	}
}

func actorKind(actor string) string {
	kind, _, _ := strings.Cut(actor, ":")
	return kind
}
