package service

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/gateway"
	"checkout-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// scenarioOrder creates the two-line 150.00 order and opens a frame session for it.
func scenarioOrder(t *testing.T, h *harness) (*models.Order, *PaymentInstructions) {
	t.Helper()
	order, _, err := h.orders.CreateOrder(context.Background(), customer, &CreateOrderRequest{
		Items:         scenarioItems(),
		PaymentMethod: "gateway",
	}, "")
	require.NoError(t, err)
	require.Equal(t, int64(15000), order.TotalAmount)

	inst, err := h.payments.InitiatePayment(context.Background(), customer, order.ID)
	require.NoError(t, err)
	return order, inst
}

func (h *harness) callbacks(onlyFailed bool) []models.Callback {
	h.t.Helper()
	out, err := h.reconciler.ListCallbacks(context.Background(), models.CallbackFilter{OnlyFailed: onlyFailed})
	require.NoError(h.t, err)
	return out
}

func TestCallbackMarksOrderPaid(t *testing.T) {
	h := newHarness(t)
	order, inst := scenarioOrder(t, h)

	res := h.callback("frame", frameCallback(inst.Reference, "150.00", "success"))
	assert.Equal(t, models.OutcomeApplied, res.Outcome)
	assert.True(t, res.Processed)
	assert.Equal(t, order.ID, res.OrderID)
	assert.Equal(t, `{"received":true}`, string(res.Ack.Body))

	paid := h.order(order.ID)
	assert.Equal(t, models.PaymentStatusPaid, paid.PaymentStatus)
	assert.Equal(t, models.OrderStatusProcessing, paid.Status)

	attempts, err := h.store.ListAttempts(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStatusCompleted, attempts[0].Status)
	assert.NotNil(t, attempts[0].CompletedAt)

	events := h.publisher.paidEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "frame", events[0].Source)
	assert.Equal(t, inst.Reference, events[0].Reference)
	assert.Len(t, events[0].Items, 2)
	h.publisher.AssertCalled(t, "PublishOrderStatusChanged", mock.Anything,
		mock.MatchedBy(func(e *models.OrderStatusChangedEvent) bool { return e.Actor == "gateway:frame" }))
}

func TestCallbackDigitalFulfillmentCompletes(t *testing.T) {
	h := newHarness(t)
	h.reconciler.fulfillment = FulfillmentDigital
	order, inst := scenarioOrder(t, h)

	h.callback("frame", frameCallback(inst.Reference, "150.00", "success"))
	assert.Equal(t, models.OrderStatusCompleted, h.order(order.ID).Status)
}

func TestCallbackAmountMismatch(t *testing.T) {
	h := newHarness(t)
	order, inst := scenarioOrder(t, h)

	res := h.callback("frame", frameCallback(inst.Reference, "140.00", "success"))
	assert.Equal(t, models.OutcomeAmountMismatch, res.Outcome)
	assert.False(t, res.Processed)

	assert.Equal(t, models.PaymentStatusPending, h.order(order.ID).PaymentStatus)
	failed := h.callbacks(true)
	require.Len(t, failed, 1)
	require.NotNil(t, failed[0].Amount)
	assert.Equal(t, int64(14000), *failed[0].Amount)
	h.publisher.AssertNotCalled(t, "PublishOrderPaid", mock.Anything, mock.Anything)

	// one minor unit off is still a mismatch
	res = h.callback("frame", frameCallback(inst.Reference, "149.99", "success"))
	assert.Equal(t, models.OutcomeAmountMismatch, res.Outcome)
}

func TestCallbackIsIdempotent(t *testing.T) {
	h := newHarness(t)
	order, inst := scenarioOrder(t, h)
	payload := frameCallback(inst.Reference, "150.00", "success")

	first := h.callback("frame", payload)
	require.Equal(t, models.OutcomeApplied, first.Outcome)
	paidAt := h.order(order.ID).UpdatedAt

	for i := 0; i < 3; i++ {
		h.clock.Advance(time.Minute)
		res := h.callback("frame", payload)
		assert.Equal(t, models.OutcomeDuplicate, res.Outcome)
		assert.True(t, res.Processed)
	}

	assert.Equal(t, paidAt, h.order(order.ID).UpdatedAt)
	assert.Len(t, h.publisher.paidEvents(), 1)
	assert.Len(t, h.callbacks(false), 4)
}

func TestConcurrentDuplicateCallbacks(t *testing.T) {
	h := newHarness(t)
	order, inst := scenarioOrder(t, h)
	pub := &syncPublisher{}
	rec := NewReconciler(h.store, h.store, h.store, h.settings,
		gateway.NewRegistry(gateway.FrameCallbackParser{}), h.redis, pub, h.clock, "")

	var wg sync.WaitGroup
	outcomes := make([]string, 10)
	for i := range outcomes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := rec.HandleCallback(context.Background(), "frame", frameCallback(inst.Reference, "150.00", "success"))
			if assert.NoError(t, err) {
				outcomes[i] = res.Outcome
			}
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, o := range outcomes {
		if o == models.OutcomeApplied {
			applied++
		} else {
			assert.Equal(t, models.OutcomeDuplicate, o)
		}
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, pub.paid)
	assert.Equal(t, models.PaymentStatusPaid, h.order(order.ID).PaymentStatus)
}

func TestCallbackUnknownReference(t *testing.T) {
	h := newHarness(t)

	res := h.callback("frame", frameCallback("nope-123456", "150.00", "success"))
	assert.Equal(t, models.OutcomeUnknownReference, res.Outcome)
	assert.False(t, res.Processed)
	assert.Empty(t, res.OrderID)

	records := h.callbacks(true)
	require.Len(t, records, 1)
	assert.Nil(t, records[0].OrderID)
	require.NotNil(t, records[0].PaymentReference)
	assert.Equal(t, "nope-123456", *records[0].PaymentReference)
}

func TestCallbackRecordsRawPayloadVerbatim(t *testing.T) {
	h := newHarness(t)
	inputs := []struct {
		gateway string
		in      *gateway.Inbound
		outcome string
	}{
		{"frame", &gateway.Inbound{Body: []byte(`{not json`)}, models.OutcomeMalformed},
		{"frame", frameCallback("x", "1.00", "weird"), models.OutcomeMalformed},
		{"frame", &gateway.Inbound{Body: []byte("\x00\xff{\"reference\":")}, models.OutcomeMalformed},
		{"paypal", &gateway.Inbound{Body: []byte(`anything`)}, models.OutcomeUnknownGateway},
		{"reference", &gateway.Inbound{Body: []byte("key=wrong&reference=1&amount=1.00")}, models.OutcomeBadSignature},
	}

	for _, in := range inputs {
		res := h.callback(in.gateway, in.in)
		assert.Equal(t, in.outcome, res.Outcome)
		assert.False(t, res.Processed)

		stored, err := h.store.GetCallback(context.Background(), res.CallbackID)
		require.NoError(t, err)
		assert.Equal(t, string(in.in.Body), stored.RawPayload)
		assert.Equal(t, in.gateway, stored.Gateway)
	}
	assert.Len(t, h.callbacks(false), len(inputs))
}

type failingCallbacks struct {
	CallbackRepository
}

func (failingCallbacks) InsertCallback(context.Context, *models.Callback) error {
	return apperr.Persistence("insert callback audit record", assert.AnError)
}

func TestCallbackAuditWriteFailureIsReturned(t *testing.T) {
	h := newHarness(t)
	_, inst := scenarioOrder(t, h)
	rec := NewReconciler(failingCallbacks{h.store}, h.store, h.store, h.settings,
		gateway.NewRegistry(gateway.FrameCallbackParser{}), h.redis, h.publisher, h.clock, "")

	_, err := rec.HandleCallback(context.Background(), "frame", frameCallback(inst.Reference, "150.00", "success"))
	require.Error(t, err)
	assert.Equal(t, 500, apperr.HTTPStatus(err))
}

func TestCallbackGatewayReportsFailure(t *testing.T) {
	h := newHarness(t)
	order, inst := scenarioOrder(t, h)

	res := h.callback("frame", frameCallback(inst.Reference, "150.00", "failed"))
	assert.Equal(t, models.OutcomePaymentFailed, res.Outcome)
	assert.True(t, res.Processed)

	failed := h.order(order.ID)
	assert.Equal(t, models.PaymentStatusFailed, failed.PaymentStatus)
	assert.Equal(t, models.OrderStatusPending, failed.Status)
	attempts, err := h.store.ListAttempts(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStatusFailed, attempts[0].Status)

	// the customer retries and pays
	retry, err := h.payments.InitiatePayment(context.Background(), customer, order.ID)
	require.NoError(t, err)
	res = h.callback("frame", frameCallback(retry.Reference, "150.00", "success"))
	assert.Equal(t, models.OutcomeApplied, res.Outcome)
	assert.Equal(t, models.PaymentStatusPaid, h.order(order.ID).PaymentStatus)
}

func TestCallbackForSupersededAttemptStillPays(t *testing.T) {
	h := newHarness(t)
	order, first := scenarioOrder(t, h)

	h.clock.Advance(30 * time.Minute)
	second, err := h.payments.InitiatePayment(context.Background(), customer, order.ID)
	require.NoError(t, err)
	require.NotEqual(t, first.Reference, second.Reference)

	res := h.callback("frame", frameCallback(first.Reference, "150.00", "success"))
	assert.Equal(t, models.OutcomeApplied, res.Outcome)
	assert.Equal(t, models.PaymentStatusPaid, h.order(order.ID).PaymentStatus)

	res = h.callback("frame", frameCallback(second.Reference, "150.00", "success"))
	assert.Equal(t, models.OutcomeDuplicate, res.Outcome)
}

func TestCallbackOnCancelledOrder(t *testing.T) {
	h := newHarness(t)
	order, inst := scenarioOrder(t, h)
	_, err := h.orders.SetStatus(context.Background(), admin, order.ID, models.OrderStatusCancelled, "")
	require.NoError(t, err)

	res := h.callback("frame", frameCallback(inst.Reference, "150.00", "success"))
	assert.Equal(t, models.OutcomeOrderCancelled, res.Outcome)
	assert.False(t, res.Processed)
	assert.Equal(t, models.PaymentStatusPending, h.order(order.ID).PaymentStatus)
}

func referenceCallback(reference, amount string) *gateway.Inbound {
	form := url.Values{
		"key":       {antiPhishingKey},
		"entity":    {"12345"},
		"reference": {reference},
		"amount":    {amount},
	}
	return &gateway.Inbound{
		Method:      http.MethodPost,
		ContentType: "application/x-www-form-urlencoded",
		Body:        []byte(form.Encode()),
		SourceIP:    "198.51.100.1",
	}
}

func TestBankTransferCallbackClearsCart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.carts.SetItem(ctx, customer.UserID, productA, 1)
	require.NoError(t, err)

	order := h.createOrder(customer, models.PaymentMethodBankTransfer)
	inst, err := h.payments.InitiatePayment(ctx, customer, order.ID)
	require.NoError(t, err)

	res := h.callback("reference", referenceCallback(inst.Reference, "105.00"))
	assert.Equal(t, models.OutcomeApplied, res.Outcome)
	assert.Equal(t, "OK", string(res.Ack.Body))
	assert.Equal(t, models.PaymentStatusPaid, h.order(order.ID).PaymentStatus)

	cart, err := h.carts.GetCart(ctx, customer.UserID)
	require.NoError(t, err)
	assert.True(t, cart.Empty())
}

func TestExpiredReferenceIsRejected(t *testing.T) {
	h := newHarness(t)
	order := h.createOrder(customer, models.PaymentMethodBankTransfer)
	inst, err := h.payments.InitiatePayment(context.Background(), customer, order.ID)
	require.NoError(t, err)

	h.clock.Advance(72*time.Hour + time.Second)
	res := h.callback("reference", referenceCallback(inst.Reference, "105.00"))
	assert.Equal(t, models.OutcomeExpired, res.Outcome)
	assert.False(t, res.Processed)
	assert.Equal(t, models.PaymentStatusPending, h.order(order.ID).PaymentStatus)

	// resolved by an administrator
	updated, err := h.orders.SetStatus(context.Background(), admin, order.ID, models.OrderStatusProcessing, models.PaymentStatusPaid)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, updated.PaymentStatus)
}

func TestReplayCallback(t *testing.T) {
	h := newHarness(t)
	order, _ := scenarioOrder(t, h)

	// first delivery arrives before the session reference is known to the order
	original := h.callback("frame", frameCallback("unknown-ref", "150.00", "success"))
	require.Equal(t, models.OutcomeUnknownReference, original.Outcome)

	stored, err := h.store.GetCallback(context.Background(), original.CallbackID)
	require.NoError(t, err)

	_, err = h.orders.AttachPaymentReference(context.Background(), customer, order.ID, "unknown-ref")
	require.NoError(t, err)

	replayed, err := h.reconciler.Replay(context.Background(), admin, stored.ID)
	require.NoError(t, err)
	assert.NotEqual(t, original.CallbackID, replayed.CallbackID)
	assert.Equal(t, models.OutcomeApplied, replayed.Outcome)

	again, err := h.store.GetCallback(context.Background(), replayed.CallbackID)
	require.NoError(t, err)
	assert.Equal(t, stored.RawPayload, again.RawPayload)
	assert.Equal(t, "replay:"+original.CallbackID, again.SourceIP)

	_, err = h.reconciler.Replay(context.Background(), admin, "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListCallbacksPaging(t *testing.T) {
	h := newHarness(t)
	for i := 0; i < 5; i++ {
		h.callback("frame", frameCallback("nope", "1.00", "success"))
	}

	page, err := h.reconciler.ListCallbacks(context.Background(), models.CallbackFilter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, page, 1)
}

func TestUnsignedFrameCallbackNeverPays(t *testing.T) {
	h := newHarness(t)
	order, inst := scenarioOrder(t, h)

	forged, err := gateway.SignFrameCallback("ffeeddccbbaa99887766554433221100", inst.Reference, "150.00", "success", "tx-1")
	require.NoError(t, err)
	cheaper, err := gateway.SignFrameCallback(frameCallbackKey, inst.Reference, "1.00", "success", "tx-1")
	require.NoError(t, err)

	for name, in := range map[string]*gateway.Inbound{
		"unsigned":        frameCallbackSigned(inst.Reference, "150.00", "success", ""),
		"wrong key":       frameCallbackSigned(inst.Reference, "150.00", "success", forged),
		"tampered amount": frameCallbackSigned(inst.Reference, "150.00", "success", cheaper),
		"not base64":      frameCallbackSigned(inst.Reference, "150.00", "success", "%%%"),
	} {
		t.Run(name, func(t *testing.T) {
			res := h.callback("frame", in)
			assert.Equal(t, models.OutcomeBadSignature, res.Outcome)
			assert.False(t, res.Processed)
		})
	}

	unchanged := h.order(order.ID)
	assert.Equal(t, models.PaymentStatusPending, unchanged.PaymentStatus)
	assert.Equal(t, models.OrderStatusPending, unchanged.Status)
	assert.Empty(t, h.publisher.paidEvents())
}

func TestFrameCallbackWithoutConfiguredKeyIsRejected(t *testing.T) {
	h := newHarness(t)
	order, inst := scenarioOrder(t, h)

	empty := ""
	require.NoError(t, h.store.SavePaymentSettings(context.Background(),
		&models.PaymentSettingsOverride{FrameCallbackKey: &empty}))

	res := h.callback("frame", frameCallback(inst.Reference, "150.00", "success"))
	assert.Equal(t, models.OutcomeBadSignature, res.Outcome)
	assert.Equal(t, models.PaymentStatusPending, h.order(order.ID).PaymentStatus)
}

func TestRepeatedFailureClosesEachAttempt(t *testing.T) {
	h := newHarness(t)
	order, first := scenarioOrder(t, h)

	res := h.callback("frame", frameCallback(first.Reference, "150.00", "failed"))
	require.Equal(t, models.OutcomePaymentFailed, res.Outcome)

	retry, err := h.payments.InitiatePayment(context.Background(), customer, order.ID)
	require.NoError(t, err)

	// the order is already failed, so only the attempt moves
	res = h.callback("frame", frameCallback(retry.Reference, "150.00", "failed"))
	assert.Equal(t, models.OutcomePaymentFailed, res.Outcome)
	assert.True(t, res.Processed)

	attempt, err := h.store.GetAttemptByReference(context.Background(), retry.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStatusFailed, attempt.Status)
	assert.NotNil(t, attempt.CompletedAt)
	assert.Equal(t, models.PaymentStatusFailed, h.order(order.ID).PaymentStatus)
}

func TestDuplicateCallbackLeavesOtherAttemptPending(t *testing.T) {
	h := newHarness(t)
	order, first := scenarioOrder(t, h)

	h.clock.Advance(30 * time.Minute)
	second, err := h.payments.InitiatePayment(context.Background(), customer, order.ID)
	require.NoError(t, err)

	require.Equal(t, models.OutcomeApplied, h.callback("frame", frameCallback(first.Reference, "150.00", "success")).Outcome)
	require.Equal(t, models.OutcomeDuplicate, h.callback("frame", frameCallback(second.Reference, "150.00", "success")).Outcome)

	attempt, err := h.store.GetAttemptByReference(context.Background(), second.Reference)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptStatusPending, attempt.Status)
}

func TestUnreadableBodyIsRecorded(t *testing.T) {
	h := newHarness(t)
	order, inst := scenarioOrder(t, h)

	full := frameCallback(inst.Reference, "150.00", "success")
	oversized := &gateway.Inbound{Body: full.Body[:10], Truncated: true, SourceIP: "203.0.113.7"}
	res := h.callback("frame", oversized)
	assert.Equal(t, models.OutcomeTooLarge, res.Outcome)
	assert.False(t, res.Processed)
	assert.Equal(t, `{"received":true}`, string(res.Ack.Body))

	stored, err := h.store.GetCallback(context.Background(), res.CallbackID)
	require.NoError(t, err)
	assert.Equal(t, string(full.Body[:10])+"\n[truncated after 10 bytes]", stored.RawPayload)

	cut := &gateway.Inbound{Body: full.Body, ReadErr: assert.AnError}
	res = h.callback("frame", cut)
	assert.Equal(t, models.OutcomeUnreadable, res.Outcome)
	assert.False(t, res.Processed)

	assert.Equal(t, models.PaymentStatusPending, h.order(order.ID).PaymentStatus)
}
