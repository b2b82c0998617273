package service

import (
	"context"
	"time"

	"checkout-service/internal/models"
)

// OrderRepository is the order system of record. MutateOrder and SettleOrder run fn
// against the locked row; the order is only written when fn reports a change. SettleOrder
// also moves a pending attempt to the status fn returns, changed or not.
type OrderRepository interface {
	CreateOrderWithItems(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, userID, key string) (*models.Order, error)
	GetOrderByPaymentReference(ctx context.Context, reference string) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error)
	ListOrders(ctx context.Context, limit, offset int) ([]models.Order, error)
	MutateOrder(ctx context.Context, id string, fn func(*models.Order) (bool, error)) (*models.Order, bool, error)
	SettleOrder(ctx context.Context, orderID, attemptID string,
		fn func(*models.Order) (models.AttemptStatus, bool, error)) (*models.Order, bool, error)
}

type AttemptRepository interface {
	CreateAttempt(ctx context.Context, a *models.PaymentAttempt) error
	UpdateAttempt(ctx context.Context, id string, upd models.AttemptUpdate) error
	GetActiveAttempt(ctx context.Context, orderID string) (*models.PaymentAttempt, error)
	GetAttemptByReference(ctx context.Context, reference string) (*models.PaymentAttempt, error)
	ListAttempts(ctx context.Context, orderID string) ([]models.PaymentAttempt, error)
}

type CallbackRepository interface {
	InsertCallback(ctx context.Context, cb *models.Callback) error
	FinalizeCallback(ctx context.Context, cb *models.Callback) error
	GetCallback(ctx context.Context, id string) (*models.Callback, error)
	ListCallbacks(ctx context.Context, f models.CallbackFilter) ([]models.Callback, error)
}

type CatalogRepository interface {
	GetProducts(ctx context.Context, activeOnly bool) ([]models.Product, error)
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
	UpsertProduct(ctx context.Context, p *models.Product) error
	GetCoupon(ctx context.Context, code string) (*models.Coupon, error)
	UpsertCoupon(ctx context.Context, c *models.Coupon) error
}

type SettingsRepository interface {
	GetPaymentSettings(ctx context.Context) (*models.PaymentSettingsOverride, error)
	SavePaymentSettings(ctx context.Context, o *models.PaymentSettingsOverride) error
}

type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Repository is everything the services need from storage.
type Repository interface {
	OrderRepository
	AttemptRepository
	CallbackRepository
	CatalogRepository
	SettingsRepository
	EventLog
}

// CartStore is the server-side cart mirror.
type CartStore interface {
	GetCart(ctx context.Context, userID string) (*models.Cart, error)
	SaveCart(ctx context.Context, cart *models.Cart) error
	DeleteCart(ctx context.Context, userID string) error
	SyncCart(ctx context.Context, client *models.Cart) (*models.Cart, error)
}

// Locker serialises work on one key across processes.
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

// EventPublisher is implemented by broker.EventPublisher.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishPaymentReferenceIssued(ctx context.Context, event *models.PaymentReferenceIssuedEvent) error
}

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Email  string
	Admin  bool
}

func (id Identity) owns(o *models.Order) bool {
	return id.Admin || o.UserID == id.UserID
}
