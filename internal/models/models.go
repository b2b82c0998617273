package models

import (
	"errors"
	"time"
)

// ErrDuplicateIdempotencyKey is returned by stores when an order with the same
// user and idempotency key already exists.
var ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

// Product represents a product in the catalog
type Product struct {
	ID              int64     `db:"id" json:"id"`
	SKU             string    `db:"sku" json:"sku"`
	Name            string    `db:"name" json:"name"`
	Price           int64     `db:"price" json:"price"`
	DiscountPercent int       `db:"discount_percent" json:"discount_percent"`
	Stock           int       `db:"stock" json:"stock"`
	Active          bool      `db:"active" json:"active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// EffectivePrice is the unit price after the product discount, in minor units.
func (p Product) EffectivePrice() int64 {
	return p.Price - p.Price*int64(p.DiscountPercent)/100
}

// Coupon is an order-level percentage discount
type Coupon struct {
	Code            string     `db:"code" json:"code"`
	DiscountPercent int        `db:"discount_percent" json:"discount_percent"`
	Active          bool       `db:"active" json:"active"`
	ExpiresAt       *time.Time `db:"expires_at" json:"expires_at,omitempty"`
}

func (c Coupon) UsableAt(t time.Time) bool {
	if !c.Active {
		return false
	}
	return c.ExpiresAt == nil || t.Before(*c.ExpiresAt)
}

// Order represents a customer order
type Order struct {
	ID               string        `db:"id" json:"id"`
	UserID           string        `db:"user_id" json:"user_id"`
	CustomerEmail    string        `db:"customer_email" json:"customer_email,omitempty"`
	Subtotal         int64         `db:"subtotal" json:"subtotal"`
	Discount         int64         `db:"discount" json:"discount"`
	TotalAmount      int64         `db:"total_amount" json:"total"`
	Currency         string        `db:"currency" json:"currency"`
	Status           OrderStatus   `db:"status" json:"status"`
	PaymentStatus    PaymentStatus `db:"payment_status" json:"payment_status"`
	PaymentMethod    PaymentMethod `db:"payment_method" json:"payment_method"`
	PaymentReference *string       `db:"payment_reference" json:"payment_reference,omitempty"`
	CouponCode       *string       `db:"coupon_code" json:"coupon_code,omitempty"`
	IdempotencyKey   *string       `db:"idempotency_key" json:"-"`
	CreatedAt        time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
	Items            []OrderItem   `db:"-" json:"items,omitempty"`
}

// OrderItem represents items in an order. Immutable once written.
type OrderItem struct {
	ID          int64  `db:"id" json:"id"`
	OrderID     string `db:"order_id" json:"order_id"`
	ProductID   int64  `db:"product_id" json:"product_id"`
	ProductName string `db:"product_name" json:"product_name"`
	Quantity    int    `db:"quantity" json:"quantity"`
	UnitPrice   int64  `db:"unit_price" json:"unit_price"`
}

func (i OrderItem) Extension() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// PaymentAttempt is one request to a payment gateway for an order.
type PaymentAttempt struct {
	ID           string        `db:"id" json:"id"`
	OrderID      string        `db:"order_id" json:"order_id"`
	Method       PaymentMethod `db:"method" json:"method"`
	Provider     string        `db:"provider" json:"provider"`
	Amount       int64         `db:"amount" json:"amount"`
	Reference    string        `db:"reference" json:"reference"`
	Entity       *string       `db:"entity" json:"entity,omitempty"`
	SessionID    *string       `db:"session_id" json:"session_id,omitempty"`
	Status       AttemptStatus `db:"status" json:"status"`
	RawResponse  []byte        `db:"raw_response" json:"-"`
	SupersededBy *string       `db:"superseded_by" json:"superseded_by,omitempty"`
	ExpiresAt    *time.Time    `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	CompletedAt  *time.Time    `db:"completed_at" json:"completed_at,omitempty"`
}

// Active reports whether the attempt is the one a new initiation must reuse or supersede.
func (a PaymentAttempt) Active() bool {
	return a.Status == AttemptStatusPending && a.SupersededBy == nil
}

func (a PaymentAttempt) ExpiredAt(t time.Time) bool {
	return a.ExpiresAt != nil && t.After(*a.ExpiresAt)
}

// Callback is the append-only audit record of one inbound gateway notification.
// RawPayload holds the received bytes unchanged, valid UTF-8 or not.
type Callback struct {
	ID                    string    `db:"id" json:"id"`
	Gateway               string    `db:"gateway" json:"gateway"`
	RawPayload            string    `db:"raw_payload" json:"raw_payload"`
	SourceIP              string    `db:"source_ip" json:"source_ip"`
	PaymentReference      *string   `db:"payment_reference" json:"payment_reference,omitempty"`
	Amount                *int64    `db:"amount" json:"amount,omitempty"`
	OrderID               *string   `db:"order_id" json:"order_id,omitempty"`
	ProcessedSuccessfully bool      `db:"processed_successfully" json:"processed_successfully"`
	Outcome               *string   `db:"outcome" json:"outcome,omitempty"`
	ReceivedAt            time.Time `db:"received_at" json:"received_at"`
}

// AttemptUpdate carries what the gateway returned for an attempt. Nil fields are left unchanged.
type AttemptUpdate struct {
	Reference *string
	SessionID *string
	Entity    *string
	ExpiresAt *time.Time
	Raw       []byte
}

// CallbackFilter selects audit entries for the admin log.
type CallbackFilter struct {
	OnlyFailed bool
	Limit      int
	Offset     int
}

// Order statuses
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// Payment statuses (order axis)
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

type PaymentMethod string

const (
	PaymentMethodGateway      PaymentMethod = "gateway"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodGateway || m == PaymentMethodBankTransfer
}

type AttemptStatus string

const (
	AttemptStatusPending   AttemptStatus = "pending"
	AttemptStatusCompleted AttemptStatus = "completed"
	AttemptStatusFailed    AttemptStatus = "failed"
)

// Callback outcomes recorded on the audit entry
const (
	OutcomeApplied          = "applied"
	OutcomeDuplicate        = "duplicate"
	OutcomePaymentFailed    = "payment_failed"
	OutcomeMalformed        = "malformed_payload"
	OutcomeTooLarge         = "payload_too_large"
	OutcomeUnreadable       = "unreadable_payload"
	OutcomeBadSignature     = "invalid_signature"
	OutcomeIgnored          = "ignored_event"
	OutcomeUnknownGateway   = "unknown_gateway"
	OutcomeUnknownReference = "unknown_reference"
	OutcomeAmountMismatch   = "amount_mismatch"
	OutcomeExpired          = "reference_expired"
	OutcomeOrderCancelled   = "order_cancelled"
	OutcomeRejected         = "transition_rejected"
	OutcomeSettingsError    = "settings_unavailable"
	OutcomeStoreError       = "store_error"
)

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
