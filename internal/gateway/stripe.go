package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/webhook"
)

const stripeReferenceKey = "reference"

// StripeGateway opens PaymentIntents; the client secret is the session handle the
// browser hands to Stripe Elements.
type StripeGateway struct {
	backend stripe.Backend
}

// NewStripeGateway uses Stripe's API, or baseURL when set.
func NewStripeGateway(baseURL string, client *http.Client) *StripeGateway {
	cfg := &stripe.BackendConfig{
		HTTPClient:        client,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if baseURL != "" {
		cfg.URL = stripe.String(baseURL)
	}
	return &StripeGateway{backend: stripe.GetBackendWithConfig(stripe.APIBackend, cfg)}
}

func (g *StripeGateway) Name() string { return models.ProviderStripe }

func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest, settings models.PaymentSettings) (*Session, error) {
	if settings.StripeSecretKey == "" {
		return nil, apperr.GatewayProtocol("stripe is not configured", nil)
	}

	ctx, cancel := withTimeout(ctx, settings)
	defer cancel()

	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Description: stripe.String(req.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Email != "" {
		params.ReceiptEmail = stripe.String(req.Email)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.Reference)
	params.AddMetadata(stripeReferenceKey, req.Reference)
	params.AddMetadata("order_id", req.OrderID)

	client := paymentintent.Client{B: g.backend, Key: settings.StripeSecretKey}
	intent, err := client.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			return nil, apperr.GatewayProtocol("stripe rejected payment intent", err)
		}
		return nil, apperr.GatewayUnavailable("stripe request failed", err)
	}
	if intent.ClientSecret == "" {
		return nil, apperr.GatewayProtocol("payment intent without client secret", nil)
	}

	var raw []byte
	if intent.LastResponse != nil {
		raw = intent.LastResponse.RawJSON
	}
	return &Session{Handle: intent.ClientSecret, Reference: req.Reference, Raw: raw}, nil
}

// StripeCallbackParser verifies Stripe-Signature and maps PaymentIntent events.
type StripeCallbackParser struct{}

func (StripeCallbackParser) Name() string { return models.ProviderStripe }

func (StripeCallbackParser) Ack() Ack { return jsonAck }

func (StripeCallbackParser) Parse(in *Inbound, settings models.PaymentSettings) (*ParsedCallback, error) {
	if settings.StripeWebhookKey == "" {
		return nil, ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(in.Body, in.Header.Get("Stripe-Signature"),
		settings.StripeWebhookKey, webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrNoValidSignature) ||
			errors.Is(err, webhook.ErrInvalidHeader) || errors.Is(err, webhook.ErrTooOld) {
			return nil, ErrInvalidSignature
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var status CallbackStatus
	switch event.Type {
	case "payment_intent.succeeded":
		status = CallbackPaid
	case "payment_intent.payment_failed":
		status = CallbackFailed
	default:
		return nil, ErrEventIgnored
	}

	if event.Data == nil {
		return nil, fmt.Errorf("%w: event without data", ErrMalformedPayload)
	}
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	parsed := &ParsedCallback{
		Reference:     strings.TrimSpace(intent.Metadata[stripeReferenceKey]),
		Status:        status,
		TransactionID: intent.ID,
	}
	if parsed.Reference == "" {
		return nil, fmt.Errorf("%w: payment intent %s has no reference", ErrMalformedPayload, intent.ID)
	}

	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}
	parsed.Amount, parsed.HasAmount = amount, true
	return parsed, nil
}
