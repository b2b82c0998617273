package models

import "time"

// Interactive gateway providers
const (
	ProviderFrame     = "frame"
	ProviderStripe    = "stripe"
	ProviderReference = "reference"
)

// PaymentSettings is the effective gateway configuration used by one initiation or callback.
type PaymentSettings struct {
	Active             bool          `json:"active"`
	Provider           string        `json:"provider"`
	Currency           string        `json:"currency"`
	GatewayURL         string        `json:"gateway_url"`
	GatewayToken       string        `json:"-"`
	CallbackURL        string        `json:"callback_url"`
	FrameCallbackKey   string        `json:"-"`
	SuccessURL         string        `json:"success_url"`
	ErrorURL           string        `json:"error_url"`
	StylesheetURL      string        `json:"stylesheet_url,omitempty"`
	CommissionRate     float64       `json:"commission_rate"`
	StripeSecretKey    string        `json:"-"`
	StripeWebhookKey   string        `json:"-"`
	ReferenceURL       string        `json:"reference_url"`
	ReferenceKey       string        `json:"-"`
	ReferenceCallback  string        `json:"-"`
	ReferenceValidity  time.Duration `json:"reference_validity"`
	SessionTTL         time.Duration `json:"session_ttl"`
	GatewayTimeout     time.Duration `json:"gateway_timeout"`
	MaxReferenceLength int           `json:"max_reference_length"`
}

// PaymentSettingsOverride is the admin-editable persisted record. Nil fields fall back to defaults.
type PaymentSettingsOverride struct {
	Active            *bool      `db:"active" json:"active,omitempty"`
	Provider          *string    `db:"provider" json:"provider,omitempty"`
	GatewayURL        *string    `db:"gateway_url" json:"gateway_url,omitempty"`
	GatewayToken      *string    `db:"gateway_token" json:"gateway_token,omitempty"`
	CallbackURL       *string    `db:"callback_url" json:"callback_url,omitempty"`
	FrameCallbackKey  *string    `db:"frame_callback_key" json:"frame_callback_key,omitempty"`
	SuccessURL        *string    `db:"success_url" json:"success_url,omitempty"`
	ErrorURL          *string    `db:"error_url" json:"error_url,omitempty"`
	StylesheetURL     *string    `db:"stylesheet_url" json:"stylesheet_url,omitempty"`
	CommissionRate    *float64   `db:"commission_rate" json:"commission_rate,omitempty"`
	StripeSecretKey   *string    `db:"stripe_secret_key" json:"stripe_secret_key,omitempty"`
	StripeWebhookKey  *string    `db:"stripe_webhook_key" json:"stripe_webhook_key,omitempty"`
	ReferenceURL      *string    `db:"reference_url" json:"reference_url,omitempty"`
	ReferenceKey      *string    `db:"reference_key" json:"reference_key,omitempty"`
	ReferenceCallback *string    `db:"reference_callback_key" json:"reference_callback_key,omitempty"`
	ValidityDays      *int       `db:"reference_validity_days" json:"reference_validity_days,omitempty"`
	UpdatedAt         *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// MergePaymentSettings overlays o on defaults without touching either input.
func MergePaymentSettings(defaults PaymentSettings, o *PaymentSettingsOverride) PaymentSettings {
	out := defaults
	if o == nil {
		return out
	}
	setBool(&out.Active, o.Active)
	setString(&out.Provider, o.Provider)
	setString(&out.GatewayURL, o.GatewayURL)
	setString(&out.GatewayToken, o.GatewayToken)
	setString(&out.CallbackURL, o.CallbackURL)
	setString(&out.FrameCallbackKey, o.FrameCallbackKey)
	setString(&out.SuccessURL, o.SuccessURL)
	setString(&out.ErrorURL, o.ErrorURL)
	setString(&out.StylesheetURL, o.StylesheetURL)
	setString(&out.StripeSecretKey, o.StripeSecretKey)
	setString(&out.StripeWebhookKey, o.StripeWebhookKey)
	setString(&out.ReferenceURL, o.ReferenceURL)
	setString(&out.ReferenceKey, o.ReferenceKey)
	setString(&out.ReferenceCallback, o.ReferenceCallback)
	if o.CommissionRate != nil {
		out.CommissionRate = *o.CommissionRate
	}
	if o.ValidityDays != nil && *o.ValidityDays > 0 {
		out.ReferenceValidity = time.Duration(*o.ValidityDays) * 24 * time.Hour
	}
	return out
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
