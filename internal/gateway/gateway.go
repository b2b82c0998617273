// Package gateway talks to payment providers: it opens interactive payment sessions,
// issues static bank-transfer references and translates inbound callbacks into a
// provider-independent shape.
package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
)

const maxResponseBytes = 1 << 20

// SessionRequest asks an interactive provider for a short-lived payment session.
type SessionRequest struct {
	OrderID     string
	Reference   string
	Amount      int64
	Currency    string
	Description string
	Email       string
}

// Session is what the browser needs to render the payment frame.
type Session struct {
	Handle    string
	Reference string
	Raw       []byte
}

// SessionProvider is an interactive gateway.
type SessionProvider interface {
	Name() string
	CreateSession(ctx context.Context, req SessionRequest, settings models.PaymentSettings) (*Session, error)
}

// ReferenceRequest asks the reference-issuing service for an entity/reference pair.
type ReferenceRequest struct {
	OrderID     string
	Amount      int64
	Description string
}

// IssuedReference is a static reference for manual settlement.
type IssuedReference struct {
	Entity    string
	Reference string
	ExpiresAt time.Time
	Raw       []byte
}

type ReferenceProvider interface {
	IssueReference(ctx context.Context, req ReferenceRequest, settings models.PaymentSettings) (*IssuedReference, error)
}

func withTimeout(ctx context.Context, settings models.PaymentSettings) (context.Context, context.CancelFunc) {
	timeout := settings.GatewayTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// do sends req and returns the body of a 2xx response. Transport failures and
// timeouts are GatewayUnavailable; anything the gateway answered wrongly is GatewayProtocol.
func do(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, apperr.GatewayUnavailable("gateway request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperr.GatewayUnavailable("read gateway response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, apperr.GatewayProtocol("gateway returned "+resp.Status, errors.New(truncate(body, 256)))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n])
	}
	return string(b)
}
