package gateway

import (
	"crypto/subtle"
	"fmt"
	"net/url"
	"strings"

	"checkout-service/internal/models"
)

// ReferenceCallbackParser reads static-reference payment notifications sent as a
// form body or query string: key, entity, reference, amount. The key is the
// anti-phishing secret agreed with the reference service.
type ReferenceCallbackParser struct{}

func (ReferenceCallbackParser) Name() string { return models.ProviderReference }

func (ReferenceCallbackParser) Ack() Ack {
	return Ack{ContentType: "text/plain; charset=utf-8", Body: []byte("OK")}
}

func (ReferenceCallbackParser) Parse(in *Inbound, settings models.PaymentSettings) (*ParsedCallback, error) {
	values := url.Values{}
	for k, v := range in.Query {
		values[k] = v
	}
	if len(in.Body) > 0 {
		form, err := url.ParseQuery(string(in.Body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
		for k, v := range form {
			values[k] = v
		}
	}

	if settings.ReferenceCallback == "" ||
		subtle.ConstantTimeCompare([]byte(values.Get("key")), []byte(settings.ReferenceCallback)) != 1 {
		return nil, ErrInvalidSignature
	}

	parsed := &ParsedCallback{
		Reference: strings.TrimSpace(values.Get("reference")),
		Status:    CallbackPaid,
	}
	if parsed.Reference == "" {
		return nil, fmt.Errorf("%w: missing reference", ErrMalformedPayload)
	}

	amount, err := models.ParseAmount(values.Get("amount"))
	if err != nil {
		return parsed, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	parsed.Amount, parsed.HasAmount = amount, true
	return parsed, nil
}
