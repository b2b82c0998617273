// Package memstore keeps orders, attempts, callbacks, catalog and settings in memory.
// It gives the same atomicity guarantees as the Postgres store: every mutation runs
// under one mutex, so read-modify-write on an order cannot interleave.
package memstore

import (
	"context"
	"sort"
	"sync"

	"checkout-service/internal/apperr"
	"checkout-service/internal/clock"
	"checkout-service/internal/models"
)

type Store struct {
	mu    sync.Mutex
	clock clock.Clock

	orders     map[string]models.Order
	items      map[string][]models.OrderItem
	nextItemID int64

	attempts     map[string]models.PaymentAttempt
	attemptOrder []string

	callbacks     map[string]models.Callback
	callbackOrder []string

	products      map[int64]models.Product
	nextProductID int64
	coupons       map[string]models.Coupon

	settings  *models.PaymentSettingsOverride
	processed map[string]string
}

func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{
		clock:     clk,
		orders:    make(map[string]models.Order),
		items:     make(map[string][]models.OrderItem),
		attempts:  make(map[string]models.PaymentAttempt),
		callbacks: make(map[string]models.Callback),
		products:  make(map[int64]models.Product),
		coupons:   make(map[string]models.Coupon),
		processed: make(map[string]string),
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// Orders

func (s *Store) CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.ID]; ok {
		return apperr.Persistence("insert order", errDuplicateID)
	}
	if order.IdempotencyKey != nil {
		for _, o := range s.orders {
			if o.UserID == order.UserID && o.IdempotencyKey != nil && *o.IdempotencyKey == *order.IdempotencyKey {
				return models.ErrDuplicateIdempotencyKey
			}
		}
	}
	for _, it := range items {
		if it.Quantity < 1 || it.UnitPrice < 0 {
			return apperr.Persistence("insert order item", errCheckViolation)
		}
	}

	now := s.clock.Now()
	order.CreatedAt, order.UpdatedAt = now, now

	stored := make([]models.OrderItem, len(items))
	for i := range items {
		s.nextItemID++
		items[i].ID = s.nextItemID
		items[i].OrderID = order.ID
		stored[i] = items[i]
	}
	order.Items = items

	row := *order
	row.Items = nil
	s.orders[order.ID] = row
	s.items[order.ID] = stored
	return nil
}

func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, apperr.NotFound("order %s not found", id)
	}
	return s.withItems(o), nil
}

func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, userID, key string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if o.UserID == userID && o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			return s.withItems(o), nil
		}
	}
	return nil, nil
}

func (s *Store) GetOrderByPaymentReference(ctx context.Context, reference string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if o.PaymentReference != nil && *o.PaymentReference == reference {
			return &o, nil
		}
	}
	return nil, apperr.NotFound("no order for reference %s", reference)
}

func (s *Store) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OrderItem(nil), s.items[orderID]...), nil
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, *s.withItems(o))
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *Store) ListOrders(ctx context.Context, limit, offset int) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Order, 0, len(s.orders))
	for _, o := range s.orders {
		out = append(out, *s.withItems(o))
	}
	sortNewestFirst(out)
	return page(out, limit, offset), nil
}

func (s *Store) MutateOrder(ctx context.Context, id string, fn func(*models.Order) (bool, error)) (*models.Order, bool, error) {
	return s.mutate(id, "", func(o *models.Order) (models.AttemptStatus, bool, error) {
		changed, err := fn(o)
		return "", changed, err
	})
}

func (s *Store) SettleOrder(ctx context.Context, orderID, attemptID string,
	fn func(*models.Order) (models.AttemptStatus, bool, error)) (*models.Order, bool, error) {
	return s.mutate(orderID, attemptID, fn)
}

func (s *Store) mutate(id, attemptID string, fn func(*models.Order) (models.AttemptStatus, bool, error)) (*models.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.orders[id]
	if !ok {
		return nil, false, apperr.NotFound("order %s not found", id)
	}

	working := row
	attemptStatus, changed, err := fn(&working)
	if err != nil {
		return nil, false, err
	}
	if changed && working.PaymentReference != nil && !sameReference(row.PaymentReference, working.PaymentReference) {
		for otherID, other := range s.orders {
			if otherID != id && sameReference(other.PaymentReference, working.PaymentReference) {
				return nil, false, apperr.InvalidTransition("payment reference is already used by another order")
			}
		}
	}

	now := s.clock.Now()
	if changed {
		row.Status = working.Status
		row.PaymentStatus = working.PaymentStatus
		row.PaymentReference = working.PaymentReference
		row.UpdatedAt = now
		s.orders[id] = row
	}

	if a, ok := s.attempts[attemptID]; ok && attemptStatus != "" && a.Status == models.AttemptStatusPending {
		a.Status = attemptStatus
		a.CompletedAt = &now
		s.attempts[attemptID] = a
	}

	out := row
	return &out, changed, nil
}

func sameReference(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

func (s *Store) withItems(o models.Order) *models.Order {
	o.Items = append([]models.OrderItem(nil), s.items[o.ID]...)
	return &o
}

func sortNewestFirst(orders []models.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}

func page[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return []T{}
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

// Events

func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[eventID]
	return ok, nil
}

func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processed[eventID]; !ok {
		s.processed[eventID] = eventType
	}
	return nil
}
