package memstore

import (
	"context"
	"errors"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
)

var (
	errDuplicateID    = errors.New("duplicate primary key")
	errCheckViolation = errors.New("check constraint violated")
)

func (s *Store) CreateAttempt(ctx context.Context, a *models.PaymentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[a.OrderID]; !ok {
		return apperr.Persistence("insert attempt", errors.New("order does not exist"))
	}
	if _, ok := s.attempts[a.ID]; ok {
		return apperr.Persistence("insert attempt", errDuplicateID)
	}

	for _, id := range s.attemptOrder {
		prev := s.attempts[id]
		if prev.OrderID == a.OrderID && prev.Active() {
			supersededBy := a.ID
			prev.SupersededBy = &supersededBy
			s.attempts[id] = prev
		}
	}

	a.CreatedAt = s.clock.Now()
	s.attempts[a.ID] = *a
	s.attemptOrder = append(s.attemptOrder, a.ID)
	return nil
}

func (s *Store) UpdateAttempt(ctx context.Context, id string, upd models.AttemptUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attempts[id]
	if !ok {
		return nil
	}
	if upd.Reference != nil {
		a.Reference = *upd.Reference
	}
	if upd.SessionID != nil {
		a.SessionID = upd.SessionID
	}
	if upd.Entity != nil {
		a.Entity = upd.Entity
	}
	if upd.ExpiresAt != nil {
		a.ExpiresAt = upd.ExpiresAt
	}
	a.RawResponse = upd.Raw
	s.attempts[id] = a
	return nil
}

func (s *Store) GetActiveAttempt(ctx context.Context, orderID string) (*models.PaymentAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.attemptOrder {
		a := s.attempts[id]
		if a.OrderID == orderID && a.Active() {
			return &a, nil
		}
	}
	return nil, nil
}

func (s *Store) GetAttemptByReference(ctx context.Context, reference string) (*models.PaymentAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.attemptOrder) - 1; i >= 0; i-- {
		a := s.attempts[s.attemptOrder[i]]
		if a.Reference == reference {
			return &a, nil
		}
	}
	return nil, apperr.NotFound("no attempt for reference %s", reference)
}

func (s *Store) ListAttempts(ctx context.Context, orderID string) ([]models.PaymentAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.PaymentAttempt
	for i := len(s.attemptOrder) - 1; i >= 0; i-- {
		a := s.attempts[s.attemptOrder[i]]
		if a.OrderID == orderID {
			out = append(out, a)
		}
	}
	return out, nil
}

// Callbacks

func (s *Store) InsertCallback(ctx context.Context, cb *models.Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.callbacks[cb.ID]; ok {
		return apperr.Persistence("insert callback audit record", errDuplicateID)
	}
	s.callbacks[cb.ID] = models.Callback{
		ID:         cb.ID,
		Gateway:    cb.Gateway,
		RawPayload: cb.RawPayload,
		SourceIP:   cb.SourceIP,
		ReceivedAt: cb.ReceivedAt,
	}
	s.callbackOrder = append(s.callbackOrder, cb.ID)
	return nil
}

func (s *Store) FinalizeCallback(ctx context.Context, cb *models.Callback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.callbacks[cb.ID]
	if !ok || stored.Outcome != nil {
		return nil
	}
	stored.PaymentReference = cb.PaymentReference
	stored.Amount = cb.Amount
	stored.OrderID = cb.OrderID
	stored.ProcessedSuccessfully = cb.ProcessedSuccessfully
	stored.Outcome = cb.Outcome
	s.callbacks[cb.ID] = stored
	return nil
}

func (s *Store) GetCallback(ctx context.Context, id string) (*models.Callback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cb, ok := s.callbacks[id]
	if !ok {
		return nil, apperr.NotFound("callback %s not found", id)
	}
	return &cb, nil
}

func (s *Store) ListCallbacks(ctx context.Context, f models.CallbackFilter) ([]models.Callback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Callback
	for i := len(s.callbackOrder) - 1; i >= 0; i-- {
		cb := s.callbacks[s.callbackOrder[i]]
		if f.OnlyFailed && cb.ProcessedSuccessfully {
			continue
		}
		out = append(out, cb)
	}
	return page(out, f.Limit, f.Offset), nil
}
