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

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// FulfillmentDigital completes paid orders immediately; any other mode leaves them processing.
const FulfillmentDigital = "digital"

// CallbackResult tells the HTTP layer what was recorded and how to answer the gateway.
type CallbackResult struct {
	CallbackID string
	Outcome    string
	Processed  bool
	OrderID    string
	Ack        gateway.Ack
}

// Reconciler receives gateway callbacks and applies them to orders exactly once.
//
// Every callback is written verbatim to the audit log before anything else. After that
// nothing is returned as an error: unknown references, wrong amounts and malformed
// payloads are recorded and acknowledged so the gateway does not retry them forever.
type Reconciler struct {
	callbacks   CallbackRepository
	orders      OrderRepository
	attempts    AttemptRepository
	settings    *SettingsService
	parsers     *gateway.Registry
	effects     *effects
	fulfillment string
	clock       clock.Clock
	logger      *zap.Logger
}

func NewReconciler(
	callbacks CallbackRepository,
	orders OrderRepository,
	attempts AttemptRepository,
	settings *SettingsService,
	parsers *gateway.Registry,
	carts CartStore,
	publisher EventPublisher,
	clk clock.Clock,
	fulfillment string,
) *Reconciler {
	logger := util.GetLogger()
	return &Reconciler{
		callbacks:   callbacks,
		orders:      orders,
		attempts:    attempts,
		settings:    settings,
		parsers:     parsers,
		effects:     &effects{publisher: publisher, carts: carts, clock: clk, logger: logger},
		fulfillment: fulfillment,
		clock:       clk,
		logger:      logger,
	}
}

// HandleCallback records and reconciles one inbound notification. The only error it
// returns is a failure to write the audit record.
func (r *Reconciler) HandleCallback(ctx context.Context, gatewayName string, in *gateway.Inbound) (*CallbackResult, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandleCallback")
	defer span.End()

	start := r.clock.Now()
	defer func() {
		util.CallbackProcessingLatency.Observe(r.clock.Now().Sub(start).Seconds())
	}()

	cb := &models.Callback{
		ID:         ulid.MustNew(ulid.Timestamp(start), ulid.DefaultEntropy()).String(),
		Gateway:    gatewayName,
		RawPayload: in.RawPayload(),
		SourceIP:   in.SourceIP,
		ReceivedAt: start,
	}
	if err := r.callbacks.InsertCallback(ctx, cb); err != nil {
		r.logger.Error("Failed to record callback",
			zap.String("gateway", gatewayName),
			zap.String("source_ip", in.SourceIP),
			zap.Error(err))
		util.SpanError(span, err)
		return nil, err
	}

	parser, ok := r.parsers.Get(gatewayName)
	ack := gateway.DefaultAck()
	if ok {
		ack = parser.Ack()
	}

	var order *models.Order
	outcome, orderChanged := r.reconcile(ctx, cb, parser, in, &order)

	cb.Outcome = &outcome
	cb.ProcessedSuccessfully = successful(outcome)
	if err := r.callbacks.FinalizeCallback(ctx, cb); err != nil {
		r.logger.Error("Failed to finalize callback record", zap.String("callback_id", cb.ID), zap.Error(err))
	}

	util.CallbacksReceivedTotal.WithLabelValues(gatewayName, outcome).Inc()
	span.SetAttributes(
		attribute.String("callback.gateway", gatewayName),
		attribute.String("callback.outcome", outcome),
	)
	logFn := r.logger.Info
	if !cb.ProcessedSuccessfully {
		logFn = r.logger.Warn
	}
	logFn("Callback handled",
		zap.String("callback_id", cb.ID),
		zap.String("gateway", gatewayName),
		zap.String("outcome", outcome),
		zap.Stringp("reference", cb.PaymentReference),
		zap.Stringp("order_id", cb.OrderID))

	if orderChanged && order != nil {
		r.afterTransition(ctx, order, outcome, gatewayName)
	}

	result := &CallbackResult{CallbackID: cb.ID, Outcome: outcome, Processed: cb.ProcessedSuccessfully, Ack: ack}
	if cb.OrderID != nil {
		result.OrderID = *cb.OrderID
	}
	return result, nil
}

func successful(outcome string) bool {
	switch outcome {
	case models.OutcomeApplied, models.OutcomeDuplicate, models.OutcomePaymentFailed, models.OutcomeIgnored:
		return true
	}
	return false
}

// reconcile fills in the parsed fields of cb and returns the outcome, and whether the
// order changed.
func (r *Reconciler) reconcile(ctx context.Context, cb *models.Callback, parser gateway.CallbackParser,
	in *gateway.Inbound, orderOut **models.Order) (string, bool) {
	switch {
	case in.Truncated:
		return models.OutcomeTooLarge, false
	case in.ReadErr != nil:
		r.logger.Warn("Callback body could not be read", zap.String("callback_id", cb.ID), zap.Error(in.ReadErr))
		return models.OutcomeUnreadable, false
	case parser == nil:
		return models.OutcomeUnknownGateway, false
	}

	settings, err := r.settings.Effective(ctx)
	if err != nil {
		r.logger.Error("Failed to load payment settings for callback", zap.String("callback_id", cb.ID), zap.Error(err))
		return models.OutcomeSettingsError, false
	}

	parsed, err := parser.Parse(in, settings)
	if parsed != nil && parsed.Reference != "" {
		cb.PaymentReference = &parsed.Reference
	}
	if parsed != nil && parsed.HasAmount {
		cb.Amount = &parsed.Amount
	}
	switch {
	case errors.Is(err, gateway.ErrInvalidSignature):
		return models.OutcomeBadSignature, false
	case errors.Is(err, gateway.ErrEventIgnored):
		return models.OutcomeIgnored, false
	case err != nil:
		r.logger.Warn("Malformed callback payload", zap.String("callback_id", cb.ID), zap.Error(err))
		return models.OutcomeMalformed, false
	}

	attempt, orderID, outcome := r.locate(ctx, parsed.Reference)
	if outcome != "" {
		return outcome, false
	}
	cb.OrderID = &orderID

	attemptID := ""
	if attempt != nil {
		attemptID = attempt.ID
	}

	outcome = models.OutcomeApplied
	order, changed, err := r.orders.SettleOrder(ctx, orderID, attemptID, func(o *models.Order) (models.AttemptStatus, bool, error) {
		outcome = r.decide(o, attempt, parsed, cb.ReceivedAt)
		switch outcome {
		case models.OutcomeApplied:
			target := models.OrderStatus("")
			if o.Status == models.OrderStatusPending {
				target = r.fulfilledStatus()
			}
			changed, err := o.Apply(target, models.PaymentStatusPaid)
			return models.AttemptStatusCompleted, changed, err
		case models.OutcomePaymentFailed:
			changed, err := o.Apply("", models.PaymentStatusFailed)
			return models.AttemptStatusFailed, changed, err
		default:
			return "", false, nil
		}
	})
	if err != nil {
		r.logger.Error("Failed to apply callback to order",
			zap.String("callback_id", cb.ID),
			zap.String("order_id", orderID),
			zap.Error(err))
		if errors.Is(err, apperr.ErrInvalidTransition) {
			return models.OutcomeRejected, false
		}
		if errors.Is(err, apperr.ErrNotFound) {
			return models.OutcomeUnknownReference, false
		}
		return models.OutcomeStoreError, false
	}

	*orderOut = order
	return outcome, changed
}

// locate finds the attempt, or failing that the order, a reference belongs to.
// A superseded attempt still resolves: the customer may have paid its session.
func (r *Reconciler) locate(ctx context.Context, reference string) (*models.PaymentAttempt, string, string) {
	attempt, err := r.attempts.GetAttemptByReference(ctx, reference)
	if err == nil {
		return attempt, attempt.OrderID, ""
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		r.logger.Error("Failed to look up attempt", zap.String("reference", reference), zap.Error(err))
		return nil, "", models.OutcomeStoreError
	}

	order, err := r.orders.GetOrderByPaymentReference(ctx, reference)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, "", models.OutcomeUnknownReference
		}
		r.logger.Error("Failed to look up order", zap.String("reference", reference), zap.Error(err))
		return nil, "", models.OutcomeStoreError
	}
	return nil, order.ID, ""
}

// decide runs against the locked order row. Checks are ordered so a replay after
// payment is always a duplicate, whatever it carries.
func (r *Reconciler) decide(o *models.Order, attempt *models.PaymentAttempt, parsed *gateway.ParsedCallback, receivedAt time.Time) string {
	switch {
	case o.PaymentStatus == models.PaymentStatusPaid:
		return models.OutcomeDuplicate
	case o.Status == models.OrderStatusCancelled:
		return models.OutcomeOrderCancelled
	case parsed.Status == gateway.CallbackFailed:
		return models.OutcomePaymentFailed
	case !parsed.HasAmount || parsed.Amount != o.TotalAmount:
		return models.OutcomeAmountMismatch
	case attempt != nil && attempt.ExpiredAt(receivedAt):
		return models.OutcomeExpired
	default:
		return models.OutcomeApplied
	}
}

func (r *Reconciler) fulfilledStatus() models.OrderStatus {
	if r.fulfillment == FulfillmentDigital {
		return models.OrderStatusCompleted
	}
	return models.OrderStatusProcessing
}

func (r *Reconciler) afterTransition(ctx context.Context, order *models.Order, outcome, gatewayName string) {
	full, err := r.orders.GetOrderByID(ctx, order.ID)
	if err != nil {
		r.logger.Error("Failed to reload order for notifications", zap.String("order_id", order.ID), zap.Error(err))
		full = order
	}

	actor := fmt.Sprintf("gateway:%s", gatewayName)
	switch outcome {
	case models.OutcomeApplied:
		r.effects.statusChanged(ctx, full, actor)
		r.effects.orderPaid(ctx, full, full.Items, gatewayName)
	case models.OutcomePaymentFailed:
		r.effects.statusChanged(ctx, full, actor)
	}
}

// Replay feeds a stored raw payload through the pipeline again as a new callback.
// Signed payloads whose signature lives in a header cannot be verified on replay.
func (r *Reconciler) Replay(ctx context.Context, who Identity, callbackID string) (*CallbackResult, error) {
	stored, err := r.callbacks.GetCallback(ctx, callbackID)
	if err != nil {
		return nil, err
	}

	r.logger.Info("Replaying callback",
		zap.String("callback_id", callbackID),
		zap.String("actor", who.UserID))
	return r.HandleCallback(ctx, stored.Gateway, &gateway.Inbound{
		Method:   "REPLAY",
		Body:     []byte(stored.RawPayload),
		SourceIP: fmt.Sprintf("replay:%s", callbackID),
	})
}

// ListCallbacks is the admin audit log.
func (r *Reconciler) ListCallbacks(ctx context.Context, f models.CallbackFilter) ([]models.Callback, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	out, err := r.callbacks.ListCallbacks(ctx, f)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Callback{}
	}
	return out, nil
}
