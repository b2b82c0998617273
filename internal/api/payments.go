package api

import (
	"errors"
	"io"
	"net/http"

	"checkout-service/internal/gateway"
	"checkout-service/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxCallbackBody = 1 << 20

func (h *Handler) initiatePayment(c *gin.Context) {
	inst, err := h.svc.Payments.InitiatePayment(c.Request.Context(), h.identity(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

func (h *Handler) listPayments(c *gin.Context) {
	attempts, err := h.svc.Payments.ListAttempts(c.Request.Context(), h.identity(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, attempts)
}

// receiveCallback is the gateway-facing endpoint. It answers 200 with the gateway's
// expected acknowledgment for every recorded callback, oversized or unreadable bodies
// included; only a failure to record the callback is reported as an error so the
// gateway retries.
func (h *Handler) receiveCallback(c *gin.Context) {
	in := &gateway.Inbound{
		Method:      c.Request.Method,
		ContentType: c.ContentType(),
		Header:      c.Request.Header,
		Query:       c.Request.URL.Query(),
		SourceIP:    c.ClientIP(),
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxCallbackBody))
	in.Body = body
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			in.Truncated = true
		} else {
			in.ReadErr = err
		}
		h.logger.Warn("Failed to read callback body",
			zap.String("gateway", c.Param("gateway")),
			zap.String("source_ip", c.ClientIP()),
			zap.Int("bytes_read", len(body)),
			zap.Error(err))
	}

	result, err := h.svc.Reconciler.HandleCallback(c.Request.Context(), c.Param("gateway"), in)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}

	c.Data(http.StatusOK, result.Ack.ContentType, result.Ack.Body)
}

func (h *Handler) listCallbacks(c *gin.Context) {
	callbacks, err := h.svc.Reconciler.ListCallbacks(c.Request.Context(), models.CallbackFilter{
		OnlyFailed: c.Query("failed") == "true",
		Limit:      queryInt(c, "limit", 100),
		Offset:     queryInt(c, "offset", 0),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, callbacks)
}

func (h *Handler) replayCallback(c *gin.Context) {
	result, err := h.svc.Reconciler.Replay(c.Request.Context(), h.identity(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"callback_id": result.CallbackID,
		"outcome":     result.Outcome,
		"processed":   result.Processed,
		"order_id":    result.OrderID,
	})
}
