package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/auth"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Services groups the application services the handlers call.
type Services struct {
	Orders     *service.OrderService
	Payments   *service.PaymentService
	Reconciler *service.Reconciler
	Carts      *service.CartService
	Catalog    *service.CatalogService
	Settings   *service.SettingsService
}

// Pinger is a dependency the readiness endpoint checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	svc    Services
	authn  *auth.Authenticator
	authz  *auth.Authorizer
	checks map[string]Pinger
	logger *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc Services, authn *auth.Authenticator, authz *auth.Authorizer, checks map[string]Pinger) *Handler {
	return &Handler{
		svc:    svc,
		authn:  authn,
		authz:  authz,
		checks: checks,
		logger: util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)

		v1.POST("/callbacks/:gateway", h.receiveCallback)
		v1.GET("/callbacks/:gateway", h.receiveCallback)
	}

	authed := v1.Group("")
	authed.Use(h.authn.Middleware(), h.authz.Middleware())
	{
		authed.POST("/orders", h.createOrder)
		authed.GET("/orders", h.listOrders)
		authed.GET("/orders/admin/all", h.listAllOrders)
		authed.GET("/orders/:id", h.getOrder)
		authed.PUT("/orders/:id/status", h.setOrderStatus)
		authed.PUT("/orders/:id/payment-reference", h.attachPaymentReference)
		authed.POST("/orders/:id/payments", h.initiatePayment)
		authed.GET("/orders/:id/payments", h.listPayments)

		authed.GET("/cart", h.getCart)
		authed.DELETE("/cart", h.clearCart)
		authed.PUT("/cart/items", h.setCartItem)
		authed.DELETE("/cart/items/:product_id", h.removeCartItem)
		authed.PUT("/cart/coupon", h.applyCoupon)
		authed.POST("/cart/sync", h.syncCart)

		admin := authed.Group("/admin")
		admin.GET("/orders", h.listAllOrders)
		admin.GET("/callbacks", h.listCallbacks)
		admin.POST("/callbacks/:id/replay", h.replayCallback)
		admin.GET("/settings/payment", h.getPaymentSettings)
		admin.PUT("/settings/payment", h.savePaymentSettings)
		admin.PUT("/products", h.upsertProduct)
		admin.PUT("/coupons", h.upsertCoupon)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings the store and the other configured dependencies
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, dep := range h.checks {
		if err := dep.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			failed[name] = "unavailable"
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) identity(c *gin.Context) service.Identity {
	id, _ := auth.IdentityFrom(c)
	return id
}

// respondError maps service errors to a status and a message safe to show.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": apperr.PublicMessage(err)})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}

func queryInt(c *gin.Context, key string, def int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return v
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
