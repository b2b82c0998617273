package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/clock"
	"checkout-service/internal/models"
)

// ReferenceIssuer obtains entity/reference pairs for ATM and bank-app payment.
type ReferenceIssuer struct {
	http  *http.Client
	clock clock.Clock
}

func NewReferenceIssuer(client *http.Client, clk clock.Clock) *ReferenceIssuer {
	if client == nil {
		client = &http.Client{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &ReferenceIssuer{http: client, clock: clk}
}

type referenceRequest struct {
	Key         string `json:"key"`
	OrderID     string `json:"order_id"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
	ValidDays   int    `json:"valid_days"`
}

type referenceResponse struct {
	Entity    string `json:"entity"`
	Reference string `json:"reference"`
}

func (r *ReferenceIssuer) IssueReference(ctx context.Context, req ReferenceRequest, settings models.PaymentSettings) (*IssuedReference, error) {
	if settings.ReferenceURL == "" {
		return nil, apperr.GatewayProtocol("reference service is not configured", nil)
	}

	validity := settings.ReferenceValidity
	if validity <= 0 {
		validity = 3 * 24 * time.Hour
	}

	payload, err := json.Marshal(referenceRequest{
		Key:         settings.ReferenceKey,
		OrderID:     req.OrderID,
		Amount:      models.FormatAmount(req.Amount),
		Description: req.Description,
		ValidDays:   int(validity / (24 * time.Hour)),
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, settings)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, settings.ReferenceURL, bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.GatewayProtocol("build reference request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	issuedAt := r.clock.Now()
	body, err := do(r.http, httpReq)
	if err != nil {
		return nil, err
	}

	var resp referenceResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.GatewayProtocol("malformed reference response", err)
	}
	resp.Entity = strings.TrimSpace(resp.Entity)
	resp.Reference = strings.TrimSpace(resp.Reference)
	if resp.Entity == "" || resp.Reference == "" {
		return nil, apperr.GatewayProtocol("reference response without entity or reference", nil)
	}

	return &IssuedReference{
		Entity:    resp.Entity,
		Reference: resp.Reference,
		ExpiresAt: issuedAt.Add(validity),
		Raw:       body,
	}, nil
}
