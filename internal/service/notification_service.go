package service

import (
	"context"
	"fmt"

	"checkout-service/internal/invoice"
	"checkout-service/internal/models"
	"checkout-service/internal/notify"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// NotificationService turns order events into customer emails with PDF attachments.
type NotificationService struct {
	events EventLog
	sender notify.Sender
	seller invoice.Seller
	logger *zap.Logger
}

func NewNotificationService(events EventLog, sender notify.Sender, seller invoice.Seller) *NotificationService {
	return &NotificationService{
		events: events,
		sender: sender,
		seller: seller,
		logger: util.GetLogger(),
	}
}

// HandleOrderPaid sends the receipt.
func (ns *NotificationService) HandleOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationService.HandleOrderPaid")
	defer span.End()

	return ns.once(ctx, event.BaseEvent, func() error {
		if event.CustomerEmail == "" {
			ns.logger.Info("No customer email, receipt skipped", zap.String("order_id", event.OrderID))
			return nil
		}

		pdf, err := invoice.Receipt(invoice.Document{
			Seller:      ns.seller,
			Number:      event.OrderID,
			IssuedAt:    event.Timestamp,
			CustomerTo:  event.CustomerEmail,
			Currency:    event.Currency,
			Items:       event.Items,
			Amount:      event.Amount,
			PaymentNote: paymentNote(event),
		})
		if err != nil {
			return err
		}
		html, err := notify.Render("receipt.html", map[string]any{
			"OrderID":  event.OrderID,
			"Amount":   models.FormatAmount(event.Amount),
			"Currency": event.Currency,
			"Items":    event.Items,
		})
		if err != nil {
			return err
		}

		return ns.send(ctx, "receipt", notify.Message{
			To:      event.CustomerEmail,
			Subject: fmt.Sprintf("Payment received for order %s", event.OrderID),
			HTML:    html,
			Attachments: []notify.Attachment{
				{Filename: "receipt-" + event.OrderID + ".pdf", ContentType: "application/pdf", Data: pdf},
			},
		})
	})
}

// HandlePaymentReferenceIssued sends the proforma with the payment instructions.
func (ns *NotificationService) HandlePaymentReferenceIssued(ctx context.Context, event *models.PaymentReferenceIssuedEvent) error {
	ctx, span := util.StartSpan(ctx, "NotificationService.HandlePaymentReferenceIssued")
	defer span.End()

	return ns.once(ctx, event.BaseEvent, func() error {
		if event.CustomerEmail == "" {
			ns.logger.Info("No customer email, proforma skipped", zap.String("order_id", event.OrderID))
			return nil
		}

		pdf, err := invoice.Proforma(invoice.Document{
			Seller:     ns.seller,
			Number:     event.OrderID,
			IssuedAt:   event.Timestamp,
			CustomerTo: event.CustomerEmail,
			Currency:   event.Currency,
			Items:      event.Items,
			Amount:     event.Amount,
			Entity:     event.Entity,
			Reference:  event.Reference,
			ExpiresAt:  event.ExpiresAt,
		})
		if err != nil {
			return err
		}
		html, err := notify.Render("payment_instructions.html", map[string]any{
			"OrderID":   event.OrderID,
			"Entity":    event.Entity,
			"Reference": event.Reference,
			"Amount":    models.FormatAmount(event.Amount),
			"Currency":  event.Currency,
			"ExpiresAt": event.ExpiresAt.Format("2006-01-02"),
		})
		if err != nil {
			return err
		}

		return ns.send(ctx, "proforma", notify.Message{
			To:      event.CustomerEmail,
			Subject: fmt.Sprintf("Payment instructions for order %s", event.OrderID),
			HTML:    html,
			Attachments: []notify.Attachment{
				{Filename: "proforma-" + event.OrderID + ".pdf", ContentType: "application/pdf", Data: pdf},
			},
		})
	})
}

// once runs fn unless the event was already handled, and records it after fn succeeds.
func (ns *NotificationService) once(ctx context.Context, base models.BaseEvent, fn func() error) error {
	processed, err := ns.events.IsEventProcessed(ctx, base.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		ns.logger.Info("Event already processed", zap.String("event_id", base.EventID))
		return nil
	}

	if err := fn(); err != nil {
		return err
	}

	if err := ns.events.MarkEventProcessed(ctx, base.EventID, base.EventType); err != nil {
		ns.logger.Error("Failed to mark event processed", zap.String("event_id", base.EventID), zap.Error(err))
	}
	return nil
}

func (ns *NotificationService) send(ctx context.Context, kind string, msg notify.Message) error {
	if err := ns.sender.Send(ctx, msg); err != nil {
		util.NotificationsSentTotal.WithLabelValues(kind, "error").Inc()
		return err
	}
	util.NotificationsSentTotal.WithLabelValues(kind, "sent").Inc()
	ns.logger.Info("Notification sent", zap.String("kind", kind), zap.String("to", msg.To))
	return nil
}

func paymentNote(event *models.OrderPaidEvent) string {
	if event.Reference == "" {
		return ""
	}
	return fmt.Sprintf("Payment reference %s", event.Reference)
}
