package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"go.uber.org/zap"
)

type CatalogService struct {
	repo   CatalogRepository
	logger *zap.Logger
}

func NewCatalogService(repo CatalogRepository) *CatalogService {
	return &CatalogService{repo: repo, logger: util.GetLogger()}
}

func (s *CatalogService) ListProducts(ctx context.Context, activeOnly bool) ([]models.Product, error) {
	return s.repo.GetProducts(ctx, activeOnly)
}

func (s *CatalogService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return s.repo.GetProductByID(ctx, id)
}

// UpsertProduct creates or updates a product by SKU
func (s *CatalogService) UpsertProduct(ctx context.Context, p *models.Product) error {
	p.SKU = strings.TrimSpace(p.SKU)
	p.Name = strings.TrimSpace(p.Name)
	switch {
	case p.SKU == "":
		return apperr.Validation("sku is required")
	case p.Name == "":
		return apperr.Validation("name is required")
	case p.Price < 0:
		return apperr.Validation("price must not be negative")
	case p.DiscountPercent < 0 || p.DiscountPercent > 100:
		return apperr.Validation("discount_percent must be between 0 and 100")
	}

	if err := s.repo.UpsertProduct(ctx, p); err != nil {
		return err
	}
	s.logger.Info("Product saved", zap.Int64("product_id", p.ID), zap.String("sku", p.SKU))
	return nil
}

func (s *CatalogService) UpsertCoupon(ctx context.Context, c *models.Coupon) error {
	c.Code = strings.ToUpper(strings.TrimSpace(c.Code))
	if c.Code == "" {
		return apperr.Validation("code is required")
	}
	if c.DiscountPercent < 1 || c.DiscountPercent > 100 {
		return apperr.Validation("discount_percent must be between 1 and 100")
	}
	return s.repo.UpsertCoupon(ctx, c)
}

// usableCoupon loads code and checks that it applies at now.
func usableCoupon(ctx context.Context, repo CatalogRepository, code string, now time.Time) (*models.Coupon, error) {
	c, err := repo.GetCoupon(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Validation("coupon %s is not valid", code)
		}
		return nil, err
	}
	if !c.UsableAt(now) {
		return nil, apperr.Validation("coupon %s is not valid", code)
	}
	return c, nil
}
