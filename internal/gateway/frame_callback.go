package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"checkout-service/internal/models"
)

// FrameCallbackParser reads the frame gateway's JSON notification:
// {"reference","amount","status","transaction_id","signature"} with amount as decimal
// string or number. The signature is a base64 HMAC-SHA256 over the other four fields,
// keyed with the hex-encoded frame callback key.
type FrameCallbackParser struct{}

func (FrameCallbackParser) Name() string { return models.ProviderFrame }

func (FrameCallbackParser) Ack() Ack { return jsonAck }

type frameCallback struct {
	Reference     string          `json:"reference"`
	Amount        json.RawMessage `json:"amount"`
	Status        string          `json:"status"`
	TransactionID string          `json:"transaction_id"`
	Signature     string          `json:"signature"`
}

func (FrameCallbackParser) Parse(in *Inbound, settings models.PaymentSettings) (*ParsedCallback, error) {
	var cb frameCallback
	if err := json.Unmarshal(in.Body, &cb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	parsed := &ParsedCallback{
		Reference:     strings.TrimSpace(cb.Reference),
		TransactionID: cb.TransactionID,
	}
	amountText := strings.Trim(string(cb.Amount), `"`)

	expected, err := SignFrameCallback(settings.FrameCallbackKey, cb.Reference, amountText, cb.Status, cb.TransactionID)
	if err != nil {
		return parsed, err
	}
	given, err := base64.StdEncoding.DecodeString(cb.Signature)
	if err != nil || cb.Signature == "" {
		return parsed, fmt.Errorf("%w: missing or unreadable frame signature", ErrInvalidSignature)
	}
	want, _ := base64.StdEncoding.DecodeString(expected)
	if !hmac.Equal(given, want) {
		return parsed, fmt.Errorf("%w: frame signature mismatch", ErrInvalidSignature)
	}

	if parsed.Reference == "" {
		return nil, fmt.Errorf("%w: missing reference", ErrMalformedPayload)
	}

	switch strings.ToLower(strings.TrimSpace(cb.Status)) {
	case "success", "paid", "completed", "ok":
		parsed.Status = CallbackPaid
	case "failed", "error", "declined", "cancelled":
		parsed.Status = CallbackFailed
	default:
		return parsed, fmt.Errorf("%w: unknown status %q", ErrMalformedPayload, cb.Status)
	}

	amount, err := models.ParseAmount(amountText)
	if err != nil {
		return parsed, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	parsed.Amount, parsed.HasAmount = amount, true
	return parsed, nil
}

// SignFrameCallback computes the signature the frame gateway attaches to a notification.
// Fields are joined with ':' after escaping '\' and ':'. An empty or non-hex key never
// verifies anything.
func SignFrameCallback(hexKey, reference, amount, status, transactionID string) (string, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return "", fmt.Errorf("%w: frame callback key not configured", ErrInvalidSignature)
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return "", fmt.Errorf("%w: frame callback key is not hex", ErrInvalidSignature)
	}

	parts := []string{reference, amount, status, transactionID}
	for i, part := range parts {
		part = strings.ReplaceAll(part, `\`, `\\`)
		parts[i] = strings.ReplaceAll(part, ":", `\:`)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(strings.Join(parts, ":")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
