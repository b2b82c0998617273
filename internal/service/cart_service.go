package service

import (
	"context"
	"errors"
	"strings"

	"checkout-service/internal/apperr"
	"checkout-service/internal/clock"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

// CartService keeps the server-side cart mirror. Line prices are snapshotted from the
// catalog when a line is added or changed, never at checkout.
type CartService struct {
	carts   CartStore
	catalog CatalogRepository
	clock   clock.Clock
	logger  *zap.Logger
}

func NewCartService(carts CartStore, catalog CatalogRepository, clk clock.Clock) *CartService {
	return &CartService{carts: carts, catalog: catalog, clock: clk, logger: util.GetLogger()}
}

func (s *CartService) GetCart(ctx context.Context, userID string) (*models.Cart, error) {
	return s.carts.GetCart(ctx, userID)
}

// SetItem adds, updates or, with quantity 0, removes a line.
func (s *CartService) SetItem(ctx context.Context, userID string, productID int64, quantity int) (*models.Cart, error) {
	if quantity < 0 {
		return nil, apperr.Validation("quantity must not be negative")
	}

	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	line := models.CartLine{ProductID: productID, Quantity: quantity}
	if quantity > 0 {
		product, err := s.catalog.GetProductByID(ctx, productID)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				return nil, apperr.Validation("product %d does not exist", productID)
			}
			return nil, err
		}
		if !product.Active {
			return nil, apperr.Validation("product %d is not available", productID)
		}
		line.Name = product.Name
		line.UnitPrice = product.Price
		line.DiscountPercent = product.DiscountPercent
	}

	cart.SetLine(line)
	return s.save(ctx, cart)
}

func (s *CartService) RemoveItem(ctx context.Context, userID string, productID int64) (*models.Cart, error) {
	return s.SetItem(ctx, userID, productID, 0)
}

// ApplyCoupon sets the cart coupon; an empty code removes it.
func (s *CartService) ApplyCoupon(ctx context.Context, userID, code string) (*models.Cart, error) {
	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	code = strings.TrimSpace(code)
	if code == "" {
		cart.CouponCode, cart.CouponDiscountPercent = "", 0
		return s.save(ctx, cart)
	}

	coupon, err := usableCoupon(ctx, s.catalog, code, s.clock.Now())
	if err != nil {
		return nil, err
	}
	cart.CouponCode, cart.CouponDiscountPercent = coupon.Code, coupon.DiscountPercent
	return s.save(ctx, cart)
}

func (s *CartService) Clear(ctx context.Context, userID string) error {
	return s.carts.DeleteCart(ctx, userID)
}

// Sync runs on login. A non-empty client cart replaces the server copy without merging,
// which drops lines added from another device; an empty client cart receives the server copy.
func (s *CartService) Sync(ctx context.Context, userID string, client *models.Cart) (*models.Cart, error) {
	if client == nil {
		client = &models.Cart{}
	}
	client.UserID = userID

	lines := client.Lines[:0]
	for _, l := range client.Lines {
		if l.Quantity > 0 {
			lines = append(lines, l)
		}
	}
	client.Lines = lines
	if !client.Empty() {
		client.UpdatedAt = s.clock.Now()
	}

	cart, err := s.carts.SyncCart(ctx, client)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Cart synced", zap.String("user_id", userID), zap.Int("lines", len(cart.Lines)))
	return cart, nil
}

func (s *CartService) save(ctx context.Context, cart *models.Cart) (*models.Cart, error) {
	cart.UpdatedAt = s.clock.Now()
	if err := s.carts.SaveCart(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}
