package api

import (
	"net/http"

	"checkout-service/internal/models"

	"github.com/gin-gonic/gin"
)

const secretMask = "********"

// maskSecrets returns a copy of o with credentials replaced by a placeholder.
func maskSecrets(o *models.PaymentSettingsOverride) *models.PaymentSettingsOverride {
	out := *o
	for _, field := range []**string{
		&out.GatewayToken, &out.FrameCallbackKey, &out.StripeSecretKey, &out.StripeWebhookKey, &out.ReferenceKey, &out.ReferenceCallback,
	} {
		if *field != nil && **field != "" {
			masked := secretMask
			*field = &masked
		}
	}
	return &out
}

func (h *Handler) getPaymentSettings(c *gin.Context) {
	ctx := c.Request.Context()
	override, err := h.svc.Settings.Override(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	effective, err := h.svc.Settings.Effective(ctx)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"override":  maskSecrets(override),
		"effective": effective,
	})
}

func (h *Handler) savePaymentSettings(c *gin.Context) {
	var req models.PaymentSettingsOverride
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	effective, err := h.svc.Settings.Save(c.Request.Context(), &req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"override":  maskSecrets(&req),
		"effective": effective,
	})
}

func (h *Handler) upsertProduct(c *gin.Context) {
	var p models.Product
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.svc.Catalog.UpsertProduct(c.Request.Context(), &p); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) upsertCoupon(c *gin.Context) {
	var coupon models.Coupon
	if err := c.ShouldBindJSON(&coupon); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.svc.Catalog.UpsertCoupon(c.Request.Context(), &coupon); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, coupon)
}
