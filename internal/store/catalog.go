package store

import (
	"context"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const productColumns = "id, sku, name, price, discount_percent, stock, active, created_at, updated_at"

// GetProducts retrieves products ordered by id
func (s *Store) GetProducts(ctx context.Context, activeOnly bool) ([]models.Product, error) {
	query := "SELECT " + productColumns + " FROM products"
	if activeOnly {
		query += " WHERE active = TRUE"
	}
	var products []models.Product
	if err := s.db.SelectContext(ctx, &products, query+" ORDER BY id"); err != nil {
		return nil, apperr.Persistence("list products", err)
	}
	return products, nil
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if err != nil {
		return nil, notFoundOr(err, "product %d not found", id)
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT "+productColumns+" FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	if err := s.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, apperr.Persistence("load products", err)
	}
	return products, nil
}

// UpsertProduct inserts p, or updates it by SKU
func (s *Store) UpsertProduct(ctx context.Context, p *models.Product) error {
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO products (sku, name, price, discount_percent, stock, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sku) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price,
			discount_percent = EXCLUDED.discount_percent, stock = EXCLUDED.stock,
			active = EXCLUDED.active, updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		p.SKU, p.Name, p.Price, p.DiscountPercent, p.Stock, p.Active,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return apperr.Persistence("upsert product", err)
	}
	return nil
}

// GetCoupon retrieves a coupon by code
func (s *Store) GetCoupon(ctx context.Context, code string) (*models.Coupon, error) {
	var c models.Coupon
	err := s.db.GetContext(ctx, &c,
		"SELECT code, discount_percent, active, expires_at FROM coupons WHERE code = $1", code)
	if err != nil {
		return nil, notFoundOr(err, "coupon %s not found", code)
	}
	return &c, nil
}

// UpsertCoupon inserts or replaces a coupon by code
func (s *Store) UpsertCoupon(ctx context.Context, c *models.Coupon) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO coupons (code, discount_percent, active, expires_at)
		VALUES (:code, :discount_percent, :active, :expires_at)
		ON CONFLICT (code) DO UPDATE SET discount_percent = EXCLUDED.discount_percent,
			active = EXCLUDED.active, expires_at = EXCLUDED.expires_at`, c)
	if err != nil {
		return apperr.Persistence("upsert coupon", err)
	}
	return nil
}
