package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
)

// FrameClient opens sessions on the embedded payment frame gateway.
type FrameClient struct {
	http *http.Client
}

func NewFrameClient(client *http.Client) *FrameClient {
	if client == nil {
		client = &http.Client{}
	}
	return &FrameClient{http: client}
}

func (c *FrameClient) Name() string { return models.ProviderFrame }

type frameSessionRequest struct {
	Reference     string `json:"reference"`
	Amount        string `json:"amount"`
	Token         string `json:"token"`
	CallbackURL   string `json:"callbackUrl"`
	SuccessURL    string `json:"successUrl,omitempty"`
	ErrorURL      string `json:"errorUrl,omitempty"`
	StylesheetURL string `json:"stylesheetUrl,omitempty"`
	Description   string `json:"description,omitempty"`
}

type frameSessionResponse struct {
	ID string `json:"id"`
}

func (c *FrameClient) CreateSession(ctx context.Context, req SessionRequest, settings models.PaymentSettings) (*Session, error) {
	if settings.GatewayURL == "" || settings.GatewayToken == "" {
		return nil, apperr.GatewayProtocol("frame gateway is not configured", nil)
	}

	payload, err := json.Marshal(frameSessionRequest{
		Reference:     req.Reference,
		Amount:        models.FormatAmount(req.Amount),
		Token:         settings.GatewayToken,
		CallbackURL:   settings.CallbackURL,
		SuccessURL:    settings.SuccessURL,
		ErrorURL:      settings.ErrorURL,
		StylesheetURL: settings.StylesheetURL,
		Description:   req.Description,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, settings)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, settings.GatewayURL, bytes.NewReader(payload))
	if err != nil {
		return nil, apperr.GatewayProtocol("build gateway request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	body, err := do(c.http, httpReq)
	if err != nil {
		return nil, err
	}

	var resp frameSessionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.GatewayProtocol("malformed session response", err)
	}
	if strings.TrimSpace(resp.ID) == "" {
		return nil, apperr.GatewayProtocol("session response without id", nil)
	}

	return &Session{Handle: resp.ID, Reference: req.Reference, Raw: body}, nil
}
