package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/clock"
	"checkout-service/internal/gateway"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// PaymentInstructions is what the client needs to let the customer pay.
type PaymentInstructions struct {
	OrderID       string               `json:"order_id"`
	AttemptID     string               `json:"attempt_id"`
	Method        models.PaymentMethod `json:"method"`
	Provider      string               `json:"provider"`
	Reference     string               `json:"reference"`
	SessionHandle string               `json:"session_handle,omitempty"`
	Entity        string               `json:"entity,omitempty"`
	Amount        int64                `json:"amount"`
	Currency      string               `json:"currency"`
	ExpiresAt     *time.Time           `json:"expires_at,omitempty"`
	Reused        bool                 `json:"reused"`
}

// PaymentService is the payment initiator. It records a PaymentAttempt before every
// gateway call so a crash mid-call leaves a pending attempt that the next try supersedes.
type PaymentService struct {
	orders     OrderRepository
	attempts   AttemptRepository
	settings   *SettingsService
	sessions   map[string]gateway.SessionProvider
	references gateway.ReferenceProvider
	locker     Locker
	publisher  EventPublisher
	clock      clock.Clock
	logger     *zap.Logger
}

func NewPaymentService(
	orders OrderRepository,
	attempts AttemptRepository,
	settings *SettingsService,
	sessions []gateway.SessionProvider,
	references gateway.ReferenceProvider,
	locker Locker,
	publisher EventPublisher,
	clk clock.Clock,
) *PaymentService {
	byName := make(map[string]gateway.SessionProvider, len(sessions))
	for _, p := range sessions {
		byName[p.Name()] = p
	}
	return &PaymentService{
		orders:     orders,
		attempts:   attempts,
		settings:   settings,
		sessions:   byName,
		references: references,
		locker:     locker,
		publisher:  publisher,
		clock:      clk,
		logger:     util.GetLogger(),
	}
}

func initLockKey(orderID string) string {
	return fmt.Sprintf("payment-init:%s", orderID)
}

// InitiatePayment obtains a payment handle for the order, branching on its payment method.
func (s *PaymentService) InitiatePayment(ctx context.Context, who Identity, orderID string) (*PaymentInstructions, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.InitiatePayment")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !who.owns(order) {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	if err := payable(order); err != nil {
		return nil, err
	}

	settings, err := s.settings.Effective(ctx)
	if err != nil {
		return nil, err
	}
	if !settings.Active {
		return nil, apperr.GatewayUnavailable("payments are disabled", nil)
	}

	if s.locker != nil {
		key := initLockKey(order.ID)
		acquired, err := s.locker.AcquireLock(ctx, key, settings.GatewayTimeout+5*time.Second)
		if err != nil {
			return nil, apperr.Persistence("acquire payment lock", err)
		}
		if !acquired {
			return nil, apperr.InvalidTransition("a payment is already being initiated for this order")
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), key); err != nil {
				s.logger.Warn("Failed to release payment lock", zap.String("order_id", order.ID), zap.Error(err))
			}
		}()
	}

	var inst *PaymentInstructions
	switch order.PaymentMethod {
	case models.PaymentMethodBankTransfer:
		inst, err = s.issueReference(ctx, order, settings)
	default:
		inst, err = s.openSession(ctx, order, settings)
	}
	if err != nil {
		util.SpanError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("payment.provider", inst.Provider),
		attribute.Bool("payment.reused", inst.Reused),
	)
	return inst, nil
}

func payable(order *models.Order) error {
	if order.PaymentStatus == models.PaymentStatusPaid {
		return apperr.InvalidTransition("order %s is already paid", order.ID)
	}
	if order.Status.IsTerminal() {
		return apperr.InvalidTransition("order %s is %s", order.ID, order.Status)
	}
	return nil
}

// openSession handles the interactive gateway. A still-fresh session for the same amount
// is handed back instead of opening a second one.
func (s *PaymentService) openSession(ctx context.Context, order *models.Order, settings models.PaymentSettings) (*PaymentInstructions, error) {
	provider, ok := s.sessions[settings.Provider]
	if !ok {
		return nil, apperr.GatewayProtocol(fmt.Sprintf("provider %q is not available", settings.Provider), nil)
	}

	active, err := s.attempts.GetActiveAttempt(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if active != nil && s.reusable(active, order, provider.Name(), settings) {
		util.PaymentSessionsReused.Inc()
		s.logger.Info("Reusing payment session",
			zap.String("order_id", order.ID),
			zap.String("attempt_id", active.ID))
		return instructions(order, active, true), nil
	}

	reference, err := gateway.NewReference(order.ID, settings.MaxReferenceLength)
	if err != nil {
		return nil, err
	}
	attempt, err := s.startAttempt(ctx, order, provider.Name(), reference)
	if err != nil {
		return nil, err
	}

	start := s.clock.Now()
	session, err := provider.CreateSession(ctx, gateway.SessionRequest{
		OrderID:     order.ID,
		Reference:   reference,
		Amount:      order.TotalAmount,
		Currency:    order.Currency,
		Description: fmt.Sprintf("Order %s", order.ID),
		Email:       order.CustomerEmail,
	}, settings)
	util.GatewayLatency.WithLabelValues(provider.Name()).Observe(s.clock.Now().Sub(start).Seconds())
	if err != nil {
		return nil, s.gatewayFailed(order, attempt, provider.Name(), err)
	}

	if err := s.attempts.UpdateAttempt(ctx, attempt.ID, models.AttemptUpdate{
		SessionID: &session.Handle,
		Raw:       session.Raw,
	}); err != nil {
		return nil, err
	}
	attempt.SessionID = &session.Handle

	util.PaymentAttemptsTotal.WithLabelValues(provider.Name(), "ok").Inc()
	s.logger.Info("Payment session opened",
		zap.String("order_id", order.ID),
		zap.String("attempt_id", attempt.ID),
		zap.String("reference", reference))
	return instructions(order, attempt, false), nil
}

func (s *PaymentService) reusable(a *models.PaymentAttempt, order *models.Order, provider string, settings models.PaymentSettings) bool {
	return a.Method == models.PaymentMethodGateway &&
		a.Provider == provider &&
		a.Amount == order.TotalAmount &&
		a.SessionID != nil &&
		s.clock.Now().Sub(a.CreatedAt) < settings.SessionTTL
}

// issueReference handles bank transfer. An unexpired reference for the same amount is
// returned again; the customer may already have written it down.
func (s *PaymentService) issueReference(ctx context.Context, order *models.Order, settings models.PaymentSettings) (*PaymentInstructions, error) {
	if s.references == nil {
		return nil, apperr.GatewayProtocol("reference service is not available", nil)
	}

	active, err := s.attempts.GetActiveAttempt(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if active != nil && active.Method == models.PaymentMethodBankTransfer && active.Entity != nil &&
		active.Amount == order.TotalAmount && !active.ExpiredAt(s.clock.Now()) {
		return instructions(order, active, true), nil
	}

	provisional, err := gateway.NewReference(order.ID, settings.MaxReferenceLength)
	if err != nil {
		return nil, err
	}
	attempt, err := s.startAttempt(ctx, order, models.ProviderReference, provisional)
	if err != nil {
		return nil, err
	}

	start := s.clock.Now()
	issued, err := s.references.IssueReference(ctx, gateway.ReferenceRequest{
		OrderID:     order.ID,
		Amount:      order.TotalAmount,
		Description: fmt.Sprintf("Order %s", order.ID),
	}, settings)
	util.GatewayLatency.WithLabelValues(models.ProviderReference).Observe(s.clock.Now().Sub(start).Seconds())
	if err != nil {
		return nil, s.gatewayFailed(order, attempt, models.ProviderReference, err)
	}

	if err := s.attempts.UpdateAttempt(ctx, attempt.ID, models.AttemptUpdate{
		Reference: &issued.Reference,
		Entity:    &issued.Entity,
		ExpiresAt: &issued.ExpiresAt,
		Raw:       issued.Raw,
	}); err != nil {
		return nil, err
	}
	attempt.Reference = issued.Reference
	attempt.Entity = &issued.Entity
	attempt.ExpiresAt = &issued.ExpiresAt

	if err := s.attachReference(ctx, order.ID, issued.Reference); err != nil {
		return nil, err
	}
	util.PaymentAttemptsTotal.WithLabelValues(models.ProviderReference, "ok").Inc()
	s.logger.Info("Payment reference issued",
		zap.String("order_id", order.ID),
		zap.String("entity", issued.Entity),
		zap.String("reference", issued.Reference),
		zap.Time("expires_at", issued.ExpiresAt))

	if s.publisher != nil {
		event := &models.PaymentReferenceIssuedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypePaymentReferenceIssued,
				Timestamp: s.clock.Now(),
			},
			OrderID:       order.ID,
			CustomerEmail: order.CustomerEmail,
			Entity:        issued.Entity,
			Reference:     issued.Reference,
			Amount:        order.TotalAmount,
			Currency:      order.Currency,
			ExpiresAt:     issued.ExpiresAt,
			Items:         models.ItemData(order.Items),
		}
		if err := s.publisher.PublishPaymentReferenceIssued(ctx, event); err != nil {
			s.logger.Error("Failed to publish PaymentReferenceIssued event",
				zap.String("order_id", order.ID), zap.Error(err))
		}
	}

	return instructions(order, attempt, false), nil
}

// startAttempt persists the attempt, superseding any active one, and points the
// order at the new reference.
func (s *PaymentService) startAttempt(ctx context.Context, order *models.Order, provider, reference string) (*models.PaymentAttempt, error) {
	attempt := &models.PaymentAttempt{
		ID:        uuid.New().String(),
		OrderID:   order.ID,
		Method:    order.PaymentMethod,
		Provider:  provider,
		Amount:    order.TotalAmount,
		Reference: reference,
		Status:    models.AttemptStatusPending,
	}
	if err := s.attempts.CreateAttempt(ctx, attempt); err != nil {
		return nil, err
	}
	if err := s.attachReference(ctx, order.ID, reference); err != nil {
		return nil, err
	}
	return attempt, nil
}

func (s *PaymentService) attachReference(ctx context.Context, orderID, reference string) error {
	_, _, err := s.orders.MutateOrder(ctx, orderID, func(o *models.Order) (bool, error) {
		if err := payable(o); err != nil {
			return false, err
		}
		if o.PaymentReference != nil && *o.PaymentReference == reference {
			return false, nil
		}
		o.PaymentReference = &reference
		return true, nil
	})
	return err
}

// gatewayFailed logs the gateway detail and leaves the attempt pending for the next try
// to supersede.
func (s *PaymentService) gatewayFailed(order *models.Order, attempt *models.PaymentAttempt, provider string, err error) error {
	result := "protocol_error"
	if apperr.Retryable(err) {
		result = "unavailable"
	}
	util.PaymentAttemptsTotal.WithLabelValues(provider, result).Inc()
	s.logger.Error("Payment gateway call failed",
		zap.String("order_id", order.ID),
		zap.String("attempt_id", attempt.ID),
		zap.String("provider", provider),
		zap.Error(err))

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.GatewayProtocol("gateway call failed", err)
}

// ListAttempts returns the order's payment attempts, newest first.
func (s *PaymentService) ListAttempts(ctx context.Context, who Identity, orderID string) ([]models.PaymentAttempt, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !who.owns(order) {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	attempts, err := s.attempts.ListAttempts(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if attempts == nil {
		attempts = []models.PaymentAttempt{}
	}
	return attempts, nil
}

func instructions(order *models.Order, a *models.PaymentAttempt, reused bool) *PaymentInstructions {
	out := &PaymentInstructions{
		OrderID:   order.ID,
		AttemptID: a.ID,
		Method:    a.Method,
		Provider:  a.Provider,
		Reference: a.Reference,
		Amount:    a.Amount,
		Currency:  order.Currency,
		ExpiresAt: a.ExpiresAt,
		Reused:    reused,
	}
	if a.SessionID != nil {
		out.SessionHandle = *a.SessionID
	}
	if a.Entity != nil {
		out.Entity = *a.Entity
	}
	return out
}
