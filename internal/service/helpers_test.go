package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"checkout-service/internal/clock"
	"checkout-service/internal/gateway"
	"checkout-service/internal/models"
	"checkout-service/internal/redisclient"
	"checkout-service/internal/store/memstore"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	customer = Identity{UserID: "user-1", Email: "buyer@example.com"}
	stranger = Identity{UserID: "user-2", Email: "other@example.com"}
	admin    = Identity{UserID: "admin-1", Admin: true}
)

const (
	antiPhishingKey  = "s3cret-key"
	frameCallbackKey = "00112233445566778899aabbccddeeff"
)

type mockPublisher struct {
	mock.Mock
}

func newMockPublisher() *mockPublisher {
	p := &mockPublisher{}
	p.On("PublishOrderCreated", mock.Anything, mock.Anything).Return(nil).Maybe()
	p.On("PublishOrderPaid", mock.Anything, mock.Anything).Return(nil).Maybe()
	p.On("PublishOrderStatusChanged", mock.Anything, mock.Anything).Return(nil).Maybe()
	p.On("PublishPaymentReferenceIssued", mock.Anything, mock.Anything).Return(nil).Maybe()
	return p
}

func (p *mockPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return p.Called(ctx, event).Error(0)
}

func (p *mockPublisher) PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error {
	return p.Called(ctx, event).Error(0)
}

func (p *mockPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return p.Called(ctx, event).Error(0)
}

func (p *mockPublisher) PublishPaymentReferenceIssued(ctx context.Context, event *models.PaymentReferenceIssuedEvent) error {
	return p.Called(ctx, event).Error(0)
}

func (p *mockPublisher) paidEvents() []*models.OrderPaidEvent {
	var out []*models.OrderPaidEvent
	for _, c := range p.Calls {
		if c.Method == "PublishOrderPaid" {
			out = append(out, c.Arguments.Get(1).(*models.OrderPaidEvent))
		}
	}
	return out
}

// fakeFrame is the interactive gateway: it hands out session ids and counts calls.
type fakeFrame struct {
	server *httptest.Server
	calls  atomic.Int32
	fail   atomic.Bool
}

func newFakeFrame(t *testing.T) *fakeFrame {
	f := &fakeFrame{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := f.calls.Add(1)
		if f.fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": fmt.Sprintf("sess-%d", n)})
	}))
	t.Cleanup(f.server.Close)
	return f
}

// fakeReferenceService issues a fixed entity/reference pair.
type fakeReferenceService struct {
	server *httptest.Server
	calls  atomic.Int32
}

func newFakeReferenceService(t *testing.T) *fakeReferenceService {
	f := &fakeReferenceService{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]string{"entity": "12345", "reference": "987654321"})
	}))
	t.Cleanup(f.server.Close)
	return f
}

type harness struct {
	t          *testing.T
	clock      *clock.Fake
	store      *memstore.Store
	redis      *redisclient.Client
	publisher  *mockPublisher
	frame      *fakeFrame
	refs       *fakeReferenceService
	settings   *SettingsService
	orders     *OrderService
	payments   *PaymentService
	reconciler *Reconciler
	carts      *CartService
	catalog    *CatalogService
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	clk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	st := memstore.New(clk)
	mr := miniredis.RunT(t)
	rc, err := redisclient.NewClient(mr.Addr(), "", 0, 24*time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rc.Close() })

	h := &harness{
		t:         t,
		clock:     clk,
		store:     st,
		redis:     rc,
		publisher: newMockPublisher(),
		frame:     newFakeFrame(t),
		refs:      newFakeReferenceService(t),
	}

	h.settings = NewSettingsService(st, models.PaymentSettings{
		Active:             true,
		Provider:           models.ProviderFrame,
		Currency:           "EUR",
		GatewayURL:         h.frame.server.URL,
		GatewayToken:       "frame-token",
		CallbackURL:        "https://shop.example/api/v1/callbacks/frame",
		FrameCallbackKey:   frameCallbackKey,
		SuccessURL:         "https://shop.example/ok",
		ErrorURL:           "https://shop.example/error",
		ReferenceURL:       h.refs.server.URL,
		ReferenceKey:       "ref-key",
		ReferenceCallback:  antiPhishingKey,
		ReferenceValidity:  3 * 24 * time.Hour,
		SessionTTL:         15 * time.Minute,
		GatewayTimeout:     2 * time.Second,
		MaxReferenceLength: 25,
	})
	h.orders = NewOrderService(st, st, rc, h.publisher, clk, OrderConfig{Currency: "EUR"})
	h.payments = NewPaymentService(st, st, h.settings,
		[]gateway.SessionProvider{gateway.NewFrameClient(nil)},
		gateway.NewReferenceIssuer(nil, clk), rc, h.publisher, clk)
	h.reconciler = NewReconciler(st, st, st, h.settings,
		gateway.NewRegistry(gateway.FrameCallbackParser{}, gateway.ReferenceCallbackParser{}),
		rc, h.publisher, clk, "")
	h.carts = NewCartService(rc, st, clk)
	h.catalog = NewCatalogService(st)

	ctx := context.Background()
	require.NoError(t, st.UpsertProduct(ctx, &models.Product{SKU: "LIC-A", Name: "License A", Price: 10500, Active: true}))
	require.NoError(t, st.UpsertProduct(ctx, &models.Product{SKU: "LIC-B", Name: "License B", Price: 5000, DiscountPercent: 10, Active: true}))
	require.NoError(t, st.UpsertProduct(ctx, &models.Product{SKU: "OLD", Name: "Retired", Price: 1000, Active: false}))
	return h
}

// product ids follow insertion order in the memory store.
const (
	productA       int64 = 1
	productB       int64 = 2
	productRetired int64 = 3
)

func (h *harness) createOrder(who Identity, method models.PaymentMethod, items ...OrderItemRequest) *models.Order {
	h.t.Helper()
	if len(items) == 0 {
		items = []OrderItemRequest{{ProductID: productA, Quantity: 1, Price: 10500}}
	}
	order, created, err := h.orders.CreateOrder(context.Background(), who, &CreateOrderRequest{
		Items:         items,
		PaymentMethod: string(method),
	}, "")
	require.NoError(h.t, err)
	require.True(h.t, created)
	return order
}

// frameCallback builds a notification signed with the harness key.
func frameCallback(reference, amount, status string) *gateway.Inbound {
	signature, _ := gateway.SignFrameCallback(frameCallbackKey, reference, amount, status, "tx-1")
	return frameCallbackSigned(reference, amount, status, signature)
}

func frameCallbackSigned(reference, amount, status, signature string) *gateway.Inbound {
	body, _ := json.Marshal(map[string]string{
		"reference":      reference,
		"amount":         amount,
		"status":         status,
		"transaction_id": "tx-1",
		"signature":      signature,
	})
	return &gateway.Inbound{Method: http.MethodPost, ContentType: "application/json", Body: body, SourceIP: "203.0.113.7"}
}

func (h *harness) callback(gatewayName string, in *gateway.Inbound) *CallbackResult {
	h.t.Helper()
	res, err := h.reconciler.HandleCallback(context.Background(), gatewayName, in)
	require.NoError(h.t, err)
	return res
}

func (h *harness) order(id string) *models.Order {
	h.t.Helper()
	o, err := h.store.GetOrderByID(context.Background(), id)
	require.NoError(h.t, err)
	return o
}

// syncPublisher is a minimal concurrency-safe publisher for the race tests,
// where mock call bookkeeping would dominate.
type syncPublisher struct {
	mu   sync.Mutex
	paid int
}

func (p *syncPublisher) PublishOrderCreated(context.Context, *models.OrderCreatedEvent) error {
	return nil
}

func (p *syncPublisher) PublishOrderPaid(context.Context, *models.OrderPaidEvent) error {
	p.mu.Lock()
	p.paid++
	p.mu.Unlock()
	return nil
}

func (p *syncPublisher) PublishOrderStatusChanged(context.Context, *models.OrderStatusChangedEvent) error {
	return nil
}

func (p *syncPublisher) PublishPaymentReferenceIssued(context.Context, *models.PaymentReferenceIssuedEvent) error {
	return nil
}
