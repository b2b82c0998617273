package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore connects to TEST_DATABASE_URL and applies migrations.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("Integration test - requires TEST_DATABASE_URL")
	}

	store, err := NewStore(url)
	require.NoError(t, err)
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })
	return store
}

func newOrder(userID string, total int64) *models.Order {
	return &models.Order{
		ID:            uuid.New().String(),
		UserID:        userID,
		Subtotal:      total,
		TotalAmount:   total,
		Currency:      "EUR",
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusPending,
		PaymentMethod: models.PaymentMethodGateway,
	}
}

func testItems() []models.OrderItem {
	return []models.OrderItem{
		{ProductID: 1, ProductName: "License A", Quantity: 1, UnitPrice: 10000},
		{ProductID: 2, ProductName: "License B", Quantity: 2, UnitPrice: 2500},
	}
}

func TestCreateOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	order := newOrder("user-"+uuid.NewString(), 15000)
	require.NoError(t, store.CreateOrderWithItems(ctx, order, testItems()))
	assert.False(t, order.CreatedAt.IsZero())

	retrieved, err := store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.UserID, retrieved.UserID)
	assert.Equal(t, int64(15000), retrieved.TotalAmount)
	assert.Len(t, retrieved.Items, 2)
}

func TestCreateOrderRollsBackOnItemFailure(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	order := newOrder("user-"+uuid.NewString(), 10000)
	items := []models.OrderItem{
		{ProductID: 1, ProductName: "ok", Quantity: 1, UnitPrice: 10000},
		{ProductID: 2, ProductName: "bad", Quantity: 0, UnitPrice: 100},
	}
	err := store.CreateOrderWithItems(ctx, order, items)
	require.Error(t, err)

	_, err = store.GetOrderByID(ctx, order.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestIdempotency(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	user := "user-" + uuid.NewString()
	key := "idempotent-key-456"

	order := newOrder(user, 15000)
	order.IdempotencyKey = &key
	require.NoError(t, store.CreateOrderWithItems(ctx, order, testItems()))

	// Second creation with same key should fail (unique constraint)
	order2 := newOrder(user, 20000)
	order2.IdempotencyKey = &key
	err := store.CreateOrderWithItems(ctx, order2, testItems())
	assert.ErrorIs(t, err, models.ErrDuplicateIdempotencyKey)

	found, err := store.GetOrderByIdempotencyKey(ctx, user, key)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, order.ID, found.ID)
}

func TestConcurrentStatusChangesSerialize(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	order := newOrder("user-"+uuid.NewString(), 15000)
	require.NoError(t, store.CreateOrderWithItems(ctx, order, testItems()))

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, target := range []models.OrderStatus{models.OrderStatusCancelled, models.OrderStatusCompleted} {
		wg.Add(1)
		go func(i int, target models.OrderStatus) {
			defer wg.Done()
			_, _, results[i] = store.MutateOrder(ctx, order.ID, func(o *models.Order) (bool, error) {
				return o.Apply(target, "")
			})
		}(i, target)
	}
	wg.Wait()

	failures := 0
	for _, err := range results {
		if err != nil {
			assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
			failures++
		}
	}
	assert.Equal(t, 1, failures)
}

func TestAttemptSupersede(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	order := newOrder("user-"+uuid.NewString(), 15000)
	require.NoError(t, store.CreateOrderWithItems(ctx, order, testItems()))

	first := &models.PaymentAttempt{ID: uuid.NewString(), OrderID: order.ID, Method: order.PaymentMethod,
		Provider: models.ProviderFrame, Amount: 15000, Reference: "ref-1", Status: models.AttemptStatusPending}
	require.NoError(t, store.CreateAttempt(ctx, first))

	second := &models.PaymentAttempt{ID: uuid.NewString(), OrderID: order.ID, Method: order.PaymentMethod,
		Provider: models.ProviderFrame, Amount: 15000, Reference: "ref-2", Status: models.AttemptStatusPending}
	require.NoError(t, store.CreateAttempt(ctx, second))

	active, err := store.GetActiveAttempt(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)

	old, err := store.GetAttemptByReference(ctx, "ref-1")
	require.NoError(t, err)
	require.NotNil(t, old.SupersededBy)
	assert.Equal(t, second.ID, *old.SupersededBy)
}

func TestCallbackFinalizeOnce(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	cb := &models.Callback{ID: uuid.NewString(), Gateway: "frame", RawPayload: `{"x":1}`,
		SourceIP: "10.0.0.1", ReceivedAt: time.Now()}
	require.NoError(t, store.InsertCallback(ctx, cb))

	outcome := models.OutcomeApplied
	cb.Outcome = &outcome
	cb.ProcessedSuccessfully = true
	require.NoError(t, store.FinalizeCallback(ctx, cb))

	other := models.OutcomeMalformed
	cb.Outcome = &other
	cb.ProcessedSuccessfully = false
	require.NoError(t, store.FinalizeCallback(ctx, cb))

	stored, err := store.GetCallback(ctx, cb.ID)
	require.NoError(t, err)
	assert.True(t, stored.ProcessedSuccessfully)
	assert.Equal(t, models.OutcomeApplied, *stored.Outcome)
	assert.Equal(t, `{"x":1}`, stored.RawPayload)
}

func TestCallbackKeepsBinaryPayload(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	raw := "\x00\xff\xfe{\"reference\":\"r\x00\"}"
	cb := &models.Callback{ID: uuid.NewString(), Gateway: "frame", RawPayload: raw,
		SourceIP: "10.0.0.1", ReceivedAt: time.Now()}
	require.NoError(t, store.InsertCallback(ctx, cb))

	stored, err := store.GetCallback(ctx, cb.ID)
	require.NoError(t, err)
	assert.Equal(t, raw, stored.RawPayload)
}

func TestPaymentReferenceIsUniqueAcrossOrders(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	ref := "ref-" + uuid.NewString()

	first := newOrder("user-"+uuid.NewString(), 15000)
	require.NoError(t, store.CreateOrderWithItems(ctx, first, testItems()))
	second := newOrder("user-"+uuid.NewString(), 15000)
	require.NoError(t, store.CreateOrderWithItems(ctx, second, testItems()))

	attach := func(o *models.Order) (bool, error) {
		o.PaymentReference = &ref
		return true, nil
	}
	_, _, err := store.MutateOrder(ctx, first.ID, attach)
	require.NoError(t, err)
	_, _, err = store.MutateOrder(ctx, second.ID, attach)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	found, err := store.GetOrderByPaymentReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, first.ID, found.ID)
}

func TestSettleOrderClosesAttemptWhenOrderUnchanged(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	order := newOrder("user-"+uuid.NewString(), 15000)
	order.PaymentStatus = models.PaymentStatusFailed
	require.NoError(t, store.CreateOrderWithItems(ctx, order, testItems()))
	attempt := &models.PaymentAttempt{ID: uuid.NewString(), OrderID: order.ID, Method: order.PaymentMethod,
		Provider: models.ProviderFrame, Amount: 15000, Reference: "ref-" + uuid.NewString(), Status: models.AttemptStatusPending}
	require.NoError(t, store.CreateAttempt(ctx, attempt))

	_, changed, err := store.SettleOrder(ctx, order.ID, attempt.ID, func(o *models.Order) (models.AttemptStatus, bool, error) {
		changed, err := o.Apply("", models.PaymentStatusFailed)
		return models.AttemptStatusFailed, changed, err
	})
	require.NoError(t, err)
	assert.False(t, changed)

	stored, err := store.GetAttemptByReference(ctx, attempt.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStatusFailed, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
}
