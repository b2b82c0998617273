package store

import (
	"context"
	"database/sql"
	"errors"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
)

const attemptColumns = `id, order_id, method, provider, amount, reference, entity, session_id, status,
	raw_response, superseded_by, expires_at, created_at, completed_at`

// CreateAttempt supersedes the order's active attempt, if any, and inserts a in one transaction.
func (s *Store) CreateAttempt(ctx context.Context, a *models.PaymentAttempt) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.Persistence("begin attempt transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE payment_attempts SET superseded_by = $1
		WHERE order_id = $2 AND status = 'pending' AND superseded_by IS NULL`,
		a.ID, a.OrderID)
	if err != nil {
		return apperr.Persistence("supersede attempts", err)
	}

	err = tx.GetContext(ctx, &a.CreatedAt, `
		INSERT INTO payment_attempts (id, order_id, method, provider, amount, reference, entity, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		a.ID, a.OrderID, a.Method, a.Provider, a.Amount, a.Reference, a.Entity, a.Status, a.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.InvalidTransition("a payment is already being initiated for order %s", a.OrderID)
		}
		return apperr.Persistence("insert attempt", err)
	}

	if err := tx.Commit(); err != nil {
		return apperr.Persistence("commit attempt", err)
	}
	return nil
}

// UpdateAttempt records the gateway's answer for an attempt
func (s *Store) UpdateAttempt(ctx context.Context, id string, upd models.AttemptUpdate) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE payment_attempts SET
			reference = COALESCE($2, reference),
			session_id = COALESCE($3, session_id),
			entity = COALESCE($4, entity),
			expires_at = COALESCE($5, expires_at),
			raw_response = $6
		WHERE id = $1`,
		id, upd.Reference, upd.SessionID, upd.Entity, upd.ExpiresAt, upd.Raw)
	if err != nil {
		return apperr.Persistence("update attempt", err)
	}
	return nil
}

// GetActiveAttempt returns nil, nil when the order has no active attempt
func (s *Store) GetActiveAttempt(ctx context.Context, orderID string) (*models.PaymentAttempt, error) {
	var a models.PaymentAttempt
	err := s.db.GetContext(ctx, &a, "SELECT "+attemptColumns+` FROM payment_attempts
		WHERE order_id = $1 AND status = 'pending' AND superseded_by IS NULL`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Persistence("load active attempt", err)
	}
	return &a, nil
}

// GetAttemptByReference returns the most recent attempt issued with reference
func (s *Store) GetAttemptByReference(ctx context.Context, reference string) (*models.PaymentAttempt, error) {
	var a models.PaymentAttempt
	err := s.db.GetContext(ctx, &a, "SELECT "+attemptColumns+` FROM payment_attempts
		WHERE reference = $1 ORDER BY created_at DESC LIMIT 1`, reference)
	if err != nil {
		return nil, notFoundOr(err, "no attempt for reference %s", reference)
	}
	return &a, nil
}

// ListAttempts returns the order's attempts, newest first
func (s *Store) ListAttempts(ctx context.Context, orderID string) ([]models.PaymentAttempt, error) {
	var attempts []models.PaymentAttempt
	err := s.db.SelectContext(ctx, &attempts, "SELECT "+attemptColumns+` FROM payment_attempts
		WHERE order_id = $1 ORDER BY created_at DESC`, orderID)
	if err != nil {
		return nil, apperr.Persistence("list attempts", err)
	}
	return attempts, nil
}
