package store

import (
	"context"
	"database/sql"
	"errors"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
)

// GetPaymentSettings returns nil, nil when no override row exists yet
func (s *Store) GetPaymentSettings(ctx context.Context) (*models.PaymentSettingsOverride, error) {
	var o models.PaymentSettingsOverride
	err := s.db.GetContext(ctx, &o, `
		SELECT active, provider, gateway_url, gateway_token, callback_url, frame_callback_key, success_url, error_url,
			stylesheet_url, commission_rate, stripe_secret_key, stripe_webhook_key, reference_url,
			reference_key, reference_callback_key, reference_validity_days, updated_at
		FROM payment_settings WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Persistence("load payment settings", err)
	}
	return &o, nil
}

// SavePaymentSettings replaces the override row
func (s *Store) SavePaymentSettings(ctx context.Context, o *models.PaymentSettingsOverride) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO payment_settings (id, active, provider, gateway_url, gateway_token, callback_url,
			frame_callback_key, success_url, error_url, stylesheet_url, commission_rate, stripe_secret_key, stripe_webhook_key,
			reference_url, reference_key, reference_callback_key, reference_validity_days, updated_at)
		VALUES (1, :active, :provider, :gateway_url, :gateway_token, :callback_url, :frame_callback_key, :success_url,
			:error_url, :stylesheet_url, :commission_rate, :stripe_secret_key, :stripe_webhook_key,
			:reference_url, :reference_key, :reference_callback_key, :reference_validity_days, NOW())
		ON CONFLICT (id) DO UPDATE SET active = EXCLUDED.active, provider = EXCLUDED.provider,
			gateway_url = EXCLUDED.gateway_url, gateway_token = EXCLUDED.gateway_token,
			callback_url = EXCLUDED.callback_url, frame_callback_key = EXCLUDED.frame_callback_key,
			success_url = EXCLUDED.success_url,
			error_url = EXCLUDED.error_url, stylesheet_url = EXCLUDED.stylesheet_url,
			commission_rate = EXCLUDED.commission_rate, stripe_secret_key = EXCLUDED.stripe_secret_key,
			stripe_webhook_key = EXCLUDED.stripe_webhook_key, reference_url = EXCLUDED.reference_url,
			reference_key = EXCLUDED.reference_key, reference_callback_key = EXCLUDED.reference_callback_key,
			reference_validity_days = EXCLUDED.reference_validity_days, updated_at = NOW()`, o)
	if err != nil {
		return apperr.Persistence("save payment settings", err)
	}
	return nil
}
