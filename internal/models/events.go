package models

import "time"

// Event types
const (
	EventTypeOrderCreated           = "ORDER_CREATED"
	EventTypeOrderPaid              = "ORDER_PAID"
	EventTypeOrderStatusChanged     = "ORDER_STATUS_CHANGED"
	EventTypePaymentReferenceIssued = "PAYMENT_REFERENCE_ISSUED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when order is created
type OrderCreatedEvent struct {
	BaseEvent
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	TotalAmount   int64           `json:"total_amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Items         []OrderItemData `json:"items"`
}

// OrderPaidEvent published exactly once, on the pending -> paid transition
type OrderPaidEvent struct {
	BaseEvent
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	CustomerEmail string          `json:"customer_email"`
	Amount        int64           `json:"amount"`
	Currency      string          `json:"currency"`
	Reference     string          `json:"reference"`
	Status        OrderStatus     `json:"status"`
	Source        string          `json:"source"`
	Items         []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published on admin overrides and gateway-reported failures.
// Actor is "admin:<user>" or "gateway:<name>".
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID       string        `json:"order_id"`
	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	Actor         string        `json:"actor"`
}

// PaymentReferenceIssuedEvent drives proforma rendering and payment instructions email
type PaymentReferenceIssuedEvent struct {
	BaseEvent
	OrderID       string          `json:"order_id"`
	CustomerEmail string          `json:"customer_email"`
	Entity        string          `json:"entity"`
	Reference     string          `json:"reference"`
	Amount        int64           `json:"amount"`
	Currency      string          `json:"currency"`
	ExpiresAt     time.Time       `json:"expires_at"`
	Items         []OrderItemData `json:"items"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
}

func ItemData(items []OrderItem) []OrderItemData {
	out := make([]OrderItemData, 0, len(items))
	for _, it := range items {
		out = append(out, OrderItemData{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
		})
	}
	return out
}
