package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"checkout-service/internal/apperr"
	"checkout-service/internal/clock"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MaxLineQuantity bounds a single order line.
const MaxLineQuantity = 10000

// OrderConfig carries the order rules that come from configuration.
type OrderConfig struct {
	Currency string
	// PriceDriftBPS is how far, in basis points, a submitted line price may drift from
	// the current catalog price before the order is rejected.
	PriceDriftBPS int64
}

// OrderService handles order business logic
type OrderService struct {
	orders  OrderRepository
	catalog CatalogRepository
	effects *effects
	cfg     OrderConfig
	clock   clock.Clock
	logger  *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	orders OrderRepository,
	catalog CatalogRepository,
	carts CartStore,
	publisher EventPublisher,
	clk clock.Clock,
	cfg OrderConfig,
) *OrderService {
	logger := util.GetLogger()
	return &OrderService{
		orders:  orders,
		catalog: catalog,
		effects: &effects{publisher: publisher, carts: carts, clock: clk, logger: logger},
		cfg:     cfg,
		clock:   clk,
		logger:  logger,
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	Items         []OrderItemRequest `json:"items" binding:"required"`
	Total         *int64             `json:"total,omitempty"`
	PaymentMethod string             `json:"payment_method" binding:"required"`
	CouponCode    string             `json:"coupon_code,omitempty"`
}

// OrderItemRequest is one cart line as the customer saw it
type OrderItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
	Price     int64 `json:"price"`
}

// CreateOrder validates the lines against the catalog and persists the order with its
// items atomically. A repeated idempotency key returns the existing order and created=false.
func (s *OrderService) CreateOrder(ctx context.Context, who Identity, req *CreateOrderRequest, idempotencyKey string) (*models.Order, bool, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	method := models.PaymentMethod(req.PaymentMethod)
	if !method.Valid() {
		return nil, false, apperr.Validation("unknown payment method %q", req.PaymentMethod)
	}
	if len(req.Items) == 0 {
		return nil, false, apperr.Validation("order must contain at least one item")
	}
	for _, item := range req.Items {
		if item.Quantity < 1 || item.Quantity > MaxLineQuantity {
			return nil, false, apperr.Validation("quantity for product %d must be between 1 and %d",
				item.ProductID, MaxLineQuantity)
		}
		if item.Price < 0 {
			return nil, false, apperr.Validation("price for product %d must not be negative", item.ProductID)
		}
	}

	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey != "" {
		existing, err := s.orders.GetOrderByIdempotencyKey(ctx, who.UserID, idempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", idempotencyKey),
				zap.String("order_id", existing.ID))
			return existing, false, nil
		}
	}

	items, subtotal, err := s.priceItems(ctx, req.Items)
	if err != nil {
		return nil, false, err
	}

	order := &models.Order{
		ID:            uuid.New().String(),
		UserID:        who.UserID,
		CustomerEmail: who.Email,
		Subtotal:      subtotal,
		TotalAmount:   subtotal,
		Currency:      s.cfg.Currency,
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusPending,
		PaymentMethod: method,
	}
	if idempotencyKey != "" {
		order.IdempotencyKey = &idempotencyKey
	}

	if code := strings.TrimSpace(req.CouponCode); code != "" {
		coupon, err := usableCoupon(ctx, s.catalog, code, s.clock.Now())
		if err != nil {
			return nil, false, err
		}
		order.CouponCode = &coupon.Code
		order.Discount = subtotal * int64(coupon.DiscountPercent) / 100
		order.TotalAmount = subtotal - order.Discount
	}

	if req.Total != nil && *req.Total != order.TotalAmount {
		return nil, false, apperr.Validation("order total %s does not match %s",
			models.FormatAmount(*req.Total), models.FormatAmount(order.TotalAmount))
	}

	if err := s.orders.CreateOrderWithItems(ctx, order, items); err != nil {
		if errors.Is(err, models.ErrDuplicateIdempotencyKey) {
			existing, lookupErr := s.orders.GetOrderByIdempotencyKey(ctx, who.UserID, idempotencyKey)
			if lookupErr != nil {
				return nil, false, lookupErr
			}
			if existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	util.OrdersCreatedTotal.WithLabelValues(string(method)).Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.Int64("total", order.TotalAmount))

	if s.effects.publisher != nil {
		event := &models.OrderCreatedEvent{
			BaseEvent:     s.effects.base(models.EventTypeOrderCreated),
			OrderID:       order.ID,
			UserID:        order.UserID,
			TotalAmount:   order.TotalAmount,
			PaymentMethod: order.PaymentMethod,
			Items:         models.ItemData(order.Items),
		}
		if err := s.effects.publisher.PublishOrderCreated(ctx, event); err != nil {
			s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
		}
	}

	return order, true, nil
}

// priceItems checks each line against the current catalog and snapshots it.
func (s *OrderService) priceItems(ctx context.Context, lines []OrderItemRequest) ([]models.OrderItem, int64, error) {
	productIDs := make([]int64, len(lines))
	for i, line := range lines {
		productIDs[i] = line.ProductID
	}

	products, err := s.catalog.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return nil, 0, err
	}
	productMap := make(map[int64]*models.Product, len(products))
	for i := range products {
		productMap[products[i].ID] = &products[i]
	}

	items := make([]models.OrderItem, 0, len(lines))
	var subtotal int64
	for _, line := range lines {
		product, ok := productMap[line.ProductID]
		if !ok || !product.Active {
			return nil, 0, apperr.Validation("product %d is not available", line.ProductID)
		}
		if !withinDrift(line.Price, product.EffectivePrice(), s.cfg.PriceDriftBPS) {
			return nil, 0, apperr.Validation("price of %s changed to %s, please review your cart",
				product.Name, models.FormatAmount(product.EffectivePrice()))
		}

		quantity := int64(line.Quantity)
		if line.Price > math.MaxInt64/quantity {
			return nil, 0, apperr.Validation("line total for %s is too large", product.Name)
		}
		lineTotal := line.Price * quantity
		if subtotal > math.MaxInt64-lineTotal {
			return nil, 0, apperr.Validation("order total is too large")
		}

		items = append(items, models.OrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    line.Quantity,
			UnitPrice:   line.Price,
		})
		subtotal += lineTotal
	}
	return items, subtotal, nil
}

// withinDrift compares |submitted-current|*10000 against current*bps without int64 overflow.
func withinDrift(submitted, current, bps int64) bool {
	diff := decimal.NewFromInt(submitted).Sub(decimal.NewFromInt(current)).Abs()
	return diff.Mul(decimal.NewFromInt(10000)).
		LessThanOrEqual(decimal.NewFromInt(current).Mul(decimal.NewFromInt(bps)))
}

// GetOrder returns the order if who may see it. Other users' orders look absent.
func (s *OrderService) GetOrder(ctx context.Context, who Identity, orderID string) (*models.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !who.owns(order) {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	return order, nil
}

// ListOrders returns the caller's own orders, newest first
func (s *OrderService) ListOrders(ctx context.Context, who Identity) ([]models.Order, error) {
	orders, err := s.orders.ListOrdersByUser(ctx, who.UserID)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}

// ListAllOrders is the admin view across users
func (s *OrderService) ListAllOrders(ctx context.Context, limit, offset int) ([]models.Order, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	orders, err := s.orders.ListOrders(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}

// SetStatus is the administrator override. It goes through the same transition rules
// as callbacks, so paid stays paid and terminal states stay terminal.
func (s *OrderService) SetStatus(ctx context.Context, who Identity, orderID string,
	status models.OrderStatus, payment models.PaymentStatus) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.SetStatus")
	defer span.End()

	if status == "" && payment == "" {
		return nil, apperr.Validation("status or payment_status is required")
	}

	var wasPaid bool
	order, changed, err := s.orders.MutateOrder(ctx, orderID, func(o *models.Order) (bool, error) {
		wasPaid = o.PaymentStatus == models.PaymentStatusPaid
		return o.Apply(status, payment)
	})
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidTransition) {
			util.OrderTransitionsRejected.WithLabelValues("admin").Inc()
		}
		return nil, err
	}
	if !changed {
		return s.orders.GetOrderByID(ctx, orderID)
	}

	actor := fmt.Sprintf("admin:%s", who.UserID)
	s.logger.Info("Order status overridden",
		zap.String("order_id", orderID),
		zap.String("status", string(order.Status)),
		zap.String("payment_status", string(order.PaymentStatus)),
		zap.String("actor", actor))

	full, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.effects.statusChanged(ctx, full, actor)
	if !wasPaid && full.PaymentStatus == models.PaymentStatusPaid {
		s.effects.orderPaid(ctx, full, full.Items, "admin")
	}
	return full, nil
}

// AttachPaymentReference records the correlation id future callbacks are matched by.
func (s *OrderService) AttachPaymentReference(ctx context.Context, who Identity, orderID, reference string) (*models.Order, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, apperr.Validation("payment_reference is required")
	}

	// the store enforces uniqueness too; this check gives the common case a clean error
	holder, err := s.orders.GetOrderByPaymentReference(ctx, reference)
	switch {
	case err == nil && holder.ID != orderID:
		return nil, apperr.InvalidTransition("payment reference is already used by another order")
	case err != nil && !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}

	_, _, err = s.orders.MutateOrder(ctx, orderID, func(o *models.Order) (bool, error) {
		if !who.owns(o) {
			return false, apperr.NotFound("order %s not found", orderID)
		}
		if o.PaymentReference != nil && *o.PaymentReference == reference {
			return false, nil
		}
		if o.PaymentStatus == models.PaymentStatusPaid || o.Status == models.OrderStatusCancelled {
			return false, apperr.InvalidTransition("order is %s/%s and cannot take a new payment reference",
				o.Status, o.PaymentStatus)
		}
		o.PaymentReference = &reference
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return s.orders.GetOrderByID(ctx, orderID)
}
