package api

import (
	"net/http"
	"strconv"

	"checkout-service/internal/models"

	"github.com/gin-gonic/gin"
)

func (h *Handler) respondCart(c *gin.Context, cart *models.Cart, err error) {
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart.View())
}

func (h *Handler) getCart(c *gin.Context) {
	cart, err := h.svc.Carts.GetCart(c.Request.Context(), h.identity(c).UserID)
	h.respondCart(c, cart, err)
}

type cartItemRequest struct {
	ProductID int64 `json:"product_id" binding:"required"`
	Quantity  int   `json:"quantity"`
}

func (h *Handler) setCartItem(c *gin.Context) {
	var req cartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cart, err := h.svc.Carts.SetItem(c.Request.Context(), h.identity(c).UserID, req.ProductID, req.Quantity)
	h.respondCart(c, cart, err)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	productID, err := strconv.ParseInt(c.Param("product_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid product ID"})
		return
	}
	cart, err := h.svc.Carts.RemoveItem(c.Request.Context(), h.identity(c).UserID, productID)
	h.respondCart(c, cart, err)
}

type couponRequest struct {
	Code string `json:"code"`
}

func (h *Handler) applyCoupon(c *gin.Context) {
	var req couponRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	cart, err := h.svc.Carts.ApplyCoupon(c.Request.Context(), h.identity(c).UserID, req.Code)
	h.respondCart(c, cart, err)
}

func (h *Handler) clearCart(c *gin.Context) {
	if err := h.svc.Carts.Clear(c.Request.Context(), h.identity(c).UserID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// syncCart runs at login with the cart the browser kept locally.
func (h *Handler) syncCart(c *gin.Context) {
	var client models.Cart
	if err := c.ShouldBindJSON(&client); err != nil {
		badRequest(c, err)
		return
	}
	cart, err := h.svc.Carts.Sync(c.Request.Context(), h.identity(c).UserID, &client)
	h.respondCart(c, cart, err)
}
