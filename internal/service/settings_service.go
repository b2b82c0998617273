package service

import (
	"context"
	"encoding/hex"
	"net/url"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
)

// SettingsService resolves the effective payment settings. The persisted override is
// read on every call so credential rotation needs no restart.
type SettingsService struct {
	repo     SettingsRepository
	defaults models.PaymentSettings
}

func NewSettingsService(repo SettingsRepository, defaults models.PaymentSettings) *SettingsService {
	return &SettingsService{repo: repo, defaults: defaults}
}

// Effective merges the persisted override over the configured defaults.
func (s *SettingsService) Effective(ctx context.Context) (models.PaymentSettings, error) {
	override, err := s.repo.GetPaymentSettings(ctx)
	if err != nil {
		return models.PaymentSettings{}, err
	}
	return models.MergePaymentSettings(s.defaults, override), nil
}

// Override returns the persisted record, empty when none was saved.
func (s *SettingsService) Override(ctx context.Context) (*models.PaymentSettingsOverride, error) {
	o, err := s.repo.GetPaymentSettings(ctx)
	if err != nil {
		return nil, err
	}
	if o == nil {
		o = &models.PaymentSettingsOverride{}
	}
	return o, nil
}

func (s *SettingsService) Save(ctx context.Context, o *models.PaymentSettingsOverride) (models.PaymentSettings, error) {
	if err := validateOverride(o); err != nil {
		return models.PaymentSettings{}, err
	}
	if err := s.repo.SavePaymentSettings(ctx, o); err != nil {
		return models.PaymentSettings{}, err
	}
	return models.MergePaymentSettings(s.defaults, o), nil
}

func validateOverride(o *models.PaymentSettingsOverride) error {
	if o.Provider != nil {
		switch *o.Provider {
		case models.ProviderFrame, models.ProviderStripe:
		default:
			return apperr.Validation("unknown provider %q", *o.Provider)
		}
	}
	if o.CommissionRate != nil && (*o.CommissionRate < 0 || *o.CommissionRate > 1) {
		return apperr.Validation("commission_rate must be between 0 and 1")
	}
	if o.ValidityDays != nil && *o.ValidityDays < 1 {
		return apperr.Validation("reference_validity_days must be at least 1")
	}
	if o.FrameCallbackKey != nil && *o.FrameCallbackKey != "" {
		if _, err := hex.DecodeString(*o.FrameCallbackKey); err != nil {
			return apperr.Validation("frame_callback_key must be hex encoded")
		}
	}

	urls := map[string]*string{
		"gateway_url":    o.GatewayURL,
		"callback_url":   o.CallbackURL,
		"success_url":    o.SuccessURL,
		"error_url":      o.ErrorURL,
		"stylesheet_url": o.StylesheetURL,
		"reference_url":  o.ReferenceURL,
	}
	for field, v := range urls {
		if v == nil || *v == "" {
			continue
		}
		u, err := url.ParseRequestURI(*v)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return apperr.Validation("%s is not a valid URL", field)
		}
	}
	return nil
}
