package memstore

import (
	"context"
	"sort"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
)

func (s *Store) GetProducts(ctx context.Context, activeOnly bool) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Product, 0, len(s.products))
	for _, p := range s.products {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, apperr.NotFound("product %d not found", id)
	}
	return &p, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// UpsertProduct inserts p, or updates the product with the same SKU.
func (s *Store) UpsertProduct(ctx context.Context, p *models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for id, existing := range s.products {
		if existing.SKU == p.SKU {
			p.ID = id
			p.CreatedAt = existing.CreatedAt
			p.UpdatedAt = now
			s.products[id] = *p
			return nil
		}
	}
	s.nextProductID++
	p.ID = s.nextProductID
	p.CreatedAt, p.UpdatedAt = now, now
	s.products[p.ID] = *p
	return nil
}

func (s *Store) GetCoupon(ctx context.Context, code string) (*models.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.coupons[code]
	if !ok {
		return nil, apperr.NotFound("coupon %s not found", code)
	}
	return &c, nil
}

func (s *Store) UpsertCoupon(ctx context.Context, c *models.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[c.Code] = *c
	return nil
}

// Settings

func (s *Store) GetPaymentSettings(ctx context.Context) (*models.PaymentSettingsOverride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settings == nil {
		return nil, nil
	}
	o := *s.settings
	return &o, nil
}

func (s *Store) SavePaymentSettings(ctx context.Context, o *models.PaymentSettingsOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	stored := *o
	stored.UpdatedAt = &now
	s.settings = &stored
	return nil
}
