package store

import (
	"context"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
)

const callbackColumns = `id, gateway, raw_payload, source_ip, payment_reference, amount, order_id,
	processed_successfully, outcome, received_at`

// InsertCallback writes the verbatim inbound payload before anything is parsed.
// raw_payload is BYTEA so NUL bytes and invalid UTF-8 are stored as received.
func (s *Store) InsertCallback(ctx context.Context, cb *models.Callback) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO callbacks (id, gateway, raw_payload, source_ip, received_at)
		VALUES ($1, $2, $3, $4, $5)`,
		cb.ID, cb.Gateway, []byte(cb.RawPayload), cb.SourceIP, cb.ReceivedAt)
	if err != nil {
		return apperr.Persistence("insert callback audit record", err)
	}
	return nil
}

// FinalizeCallback records the parsed fields and outcome. It only applies once per entry.
func (s *Store) FinalizeCallback(ctx context.Context, cb *models.Callback) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE callbacks SET payment_reference = $2, amount = $3, order_id = $4,
			processed_successfully = $5, outcome = $6
		WHERE id = $1 AND outcome IS NULL`,
		cb.ID, cb.PaymentReference, cb.Amount, cb.OrderID, cb.ProcessedSuccessfully, cb.Outcome)
	if err != nil {
		return apperr.Persistence("finalize callback", err)
	}
	return nil
}

func (s *Store) GetCallback(ctx context.Context, id string) (*models.Callback, error) {
	var cb models.Callback
	err := s.db.GetContext(ctx, &cb, "SELECT "+callbackColumns+" FROM callbacks WHERE id = $1", id)
	if err != nil {
		return nil, notFoundOr(err, "callback %s not found", id)
	}
	return &cb, nil
}

// ListCallbacks returns audit entries, newest first
func (s *Store) ListCallbacks(ctx context.Context, f models.CallbackFilter) ([]models.Callback, error) {
	query := "SELECT " + callbackColumns + " FROM callbacks"
	if f.OnlyFailed {
		query += " WHERE processed_successfully = FALSE"
	}
	query += " ORDER BY received_at DESC LIMIT $1 OFFSET $2"

	var out []models.Callback
	if err := s.db.SelectContext(ctx, &out, query, f.Limit, f.Offset); err != nil {
		return nil, apperr.Persistence("list callbacks", err)
	}
	return out, nil
}
