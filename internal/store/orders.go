package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
)

const orderColumns = `id, user_id, customer_email, subtotal, discount, total_amount, currency, status,
	payment_status, payment_method, payment_reference, coupon_code, idempotency_key, created_at, updated_at`

// CreateOrderWithItems inserts the order and all of its lines in one transaction.
// Either everything is visible afterwards or nothing is.
func (s *Store) CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Persistence("begin order transaction", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (id, user_id, customer_email, subtotal, discount, total_amount, currency,
			status, payment_status, payment_method, coupon_code, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		order.ID, order.UserID, order.CustomerEmail, order.Subtotal, order.Discount, order.TotalAmount,
		order.Currency, order.Status, order.PaymentStatus, order.PaymentMethod, order.CouponCode,
		order.IdempotencyKey,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrDuplicateIdempotencyKey
		}
		return apperr.Persistence("insert order", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		err := tx.GetContext(ctx, &items[i].ID, `
			INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			items[i].OrderID, items[i].ProductID, items[i].ProductName, items[i].Quantity, items[i].UnitPrice)
		if err != nil {
			return apperr.Persistence("insert order item", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.Persistence("commit order", err)
	}
	order.Items = items
	return nil
}

// GetOrderByID retrieves an order with its items
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if err != nil {
		return nil, notFoundOr(err, "order %s not found", id)
	}
	if order.Items, err = s.GetOrderItems(ctx, id); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey returns nil, nil when no order carries the key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, userID, key string) (*models.Order, error) {
	var id string
	err := s.db.GetContext(ctx, &id,
		"SELECT id FROM orders WHERE user_id = $1 AND idempotency_key = $2", userID, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Persistence("lookup idempotency key", err)
	}
	return s.GetOrderByID(ctx, id)
}

// GetOrderByPaymentReference finds the order whose current reference matches.
// References are unique across orders.
func (s *Store) GetOrderByPaymentReference(ctx context.Context, reference string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE payment_reference = $1", reference)
	if err != nil {
		return nil, notFoundOr(err, "no order for reference %s", reference)
	}
	return &order, nil
}

// GetOrderItems retrieves all items for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT id, order_id, product_id, product_name, quantity, unit_price FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, apperr.Persistence("load order items", err)
	}
	return items, nil
}

// ListOrdersByUser returns the user's orders with items, newest first
func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, apperr.Persistence("list orders", err)
	}
	return orders, s.attachItems(ctx, orders)
}

// ListOrders returns every order, newest first
func (s *Store) ListOrders(ctx context.Context, limit, offset int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders ORDER BY created_at DESC LIMIT $1 OFFSET $2", limit, offset)
	if err != nil {
		return nil, apperr.Persistence("list orders", err)
	}
	return orders, s.attachItems(ctx, orders)
}

func (s *Store) attachItems(ctx context.Context, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
	}

	query, args, err := sqlx.In(
		"SELECT id, order_id, product_id, product_name, quantity, unit_price FROM order_items WHERE order_id IN (?) ORDER BY id", ids)
	if err != nil {
		return err
	}
	var items []models.OrderItem
	if err := s.db.SelectContext(ctx, &items, s.db.Rebind(query), args...); err != nil {
		return apperr.Persistence("load order items", err)
	}

	byOrder := make(map[string][]models.OrderItem, len(orders))
	for _, it := range items {
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}
	for i := range orders {
		orders[i].Items = byOrder[orders[i].ID]
	}
	return nil
}

// MutateOrder runs fn against the row locked FOR UPDATE and persists the status,
// payment status and payment reference if fn reports a change.
func (s *Store) MutateOrder(ctx context.Context, id string, fn func(*models.Order) (bool, error)) (*models.Order, bool, error) {
	return s.mutateOrder(ctx, id, "", func(o *models.Order) (models.AttemptStatus, bool, error) {
		changed, err := fn(o)
		return "", changed, err
	})
}

// SettleOrder is MutateOrder plus moving the pending attempt to the status fn returns,
// in the same transaction. The attempt is finalized even when the order is unchanged,
// so a repeated failure still closes the attempt it names. An empty status leaves it.
func (s *Store) SettleOrder(ctx context.Context, orderID, attemptID string,
	fn func(*models.Order) (models.AttemptStatus, bool, error)) (*models.Order, bool, error) {
	return s.mutateOrder(ctx, orderID, attemptID, fn)
}

func (s *Store) mutateOrder(ctx context.Context, id, attemptID string,
	fn func(*models.Order) (models.AttemptStatus, bool, error)) (*models.Order, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, apperr.Persistence("begin order update", err)
	}
	defer tx.Rollback()

	var order models.Order
	err = tx.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
	if err != nil {
		return nil, false, notFoundOr(err, "order %s not found", id)
	}

	attemptStatus, changed, err := fn(&order)
	if err != nil {
		return nil, false, err
	}
	if !changed && (attemptID == "" || attemptStatus == "") {
		return &order, false, nil
	}

	if changed {
		err = tx.GetContext(ctx, &order.UpdatedAt, `
			UPDATE orders SET status = $1, payment_status = $2, payment_reference = $3, updated_at = NOW()
			WHERE id = $4
			RETURNING updated_at`,
			order.Status, order.PaymentStatus, order.PaymentReference, id)
		if isUniqueViolation(err) {
			return nil, false, apperr.InvalidTransition("payment reference is already used by another order")
		}
		if err != nil {
			return nil, false, apperr.Persistence("update order", err)
		}
	}

	if attemptID != "" && attemptStatus != "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE payment_attempts SET status = $1, completed_at = NOW()
			WHERE id = $2 AND status = 'pending'`,
			attemptStatus, attemptID)
		if err != nil {
			return nil, false, apperr.Persistence(fmt.Sprintf("update attempt %s", attemptID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, apperr.Persistence("commit order update", err)
	}
	return &order, changed, nil
}
