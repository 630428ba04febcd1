package domain

import "time"

// OrderStatus enumerates the order lifecycle states.
type OrderStatus string

const (
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusReturned   OrderStatus = "returned"
)

// PaymentMethod enumerates accepted payment methods.
type PaymentMethod string

const (
	PaymentMethodCard   PaymentMethod = "card"
	PaymentMethodPayPal PaymentMethod = "paypal"
	PaymentMethodStripe PaymentMethod = "stripe"
)

// PaymentStatus enumerates the payment reconciliation states.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// Address is a structured postal address captured on an order.
type Address struct {
	FirstName string  `firestore:"firstName" json:"firstName"`
	LastName  string  `firestore:"lastName" json:"lastName"`
	Street    string  `firestore:"street" json:"street"`
	City      string  `firestore:"city" json:"city"`
	State     string  `firestore:"state" json:"state"`
	ZipCode   string  `firestore:"zipCode" json:"zipCode"`
	Country   string  `firestore:"country" json:"country"`
	Phone     *string `firestore:"phone,omitempty" json:"phone,omitempty"`
}

// OrderLineItem is an immutable snapshot of a product at order time.
// Name, price, and image are captured once and never re-derived from the
// live catalog.
type OrderLineItem struct {
	ProductRef string `firestore:"productRef" json:"productRef"`
	Name       string `firestore:"name" json:"name"`
	UnitPrice  int64  `firestore:"unitPrice" json:"unitPrice"`
	Quantity   int    `firestore:"quantity" json:"quantity"`
	Image      string `firestore:"image,omitempty" json:"image,omitempty"`
	Total      int64  `firestore:"total" json:"total"`
}

// PaymentInfo tracks the gateway-facing payment state of an order.
type PaymentInfo struct {
	Method        PaymentMethod `firestore:"method" json:"method"`
	TransactionID string        `firestore:"transactionId,omitempty" json:"transactionId,omitempty"`
	Status        PaymentStatus `firestore:"status" json:"status"`
	PaidAt        *time.Time    `firestore:"paidAt,omitempty" json:"paidAt,omitempty"`
}

// OrderTotals holds the persisted pricing breakdown in minor units.
type OrderTotals struct {
	Items    int64 `firestore:"items" json:"items"`
	Tax      int64 `firestore:"tax" json:"tax"`
	Shipping int64 `firestore:"shipping" json:"shipping"`
	Discount int64 `firestore:"discount" json:"discount"`
	Total    int64 `firestore:"total" json:"total"`
}

// StatusChange is one append-only entry in an order's status history.
type StatusChange struct {
	Status OrderStatus `firestore:"status" json:"status"`
	At     time.Time   `firestore:"at" json:"at"`
	Note   string      `firestore:"note,omitempty" json:"note,omitempty"`
}

// Order is the central entity of the order ledger.
type Order struct {
	ID              string          `firestore:"-" json:"id"`
	OrderNumber     string          `firestore:"orderNumber" json:"orderNumber"`
	UserID          string          `firestore:"userId" json:"userId"`
	Status          OrderStatus     `firestore:"status" json:"status"`
	Items           []OrderLineItem `firestore:"items" json:"items"`
	ShippingAddress Address         `firestore:"shippingAddress" json:"shippingAddress"`
	BillingAddress  Address         `firestore:"billingAddress" json:"billingAddress"`
	Payment         PaymentInfo     `firestore:"payment" json:"payment"`
	Totals          OrderTotals     `firestore:"totals" json:"totals"`
	CouponCode      string          `firestore:"couponCode,omitempty" json:"couponCode,omitempty"`

	TrackingNumber    string     `firestore:"trackingNumber,omitempty" json:"trackingNumber,omitempty"`
	Carrier           string     `firestore:"carrier,omitempty" json:"carrier,omitempty"`
	EstimatedDelivery *time.Time `firestore:"estimatedDelivery,omitempty" json:"estimatedDelivery,omitempty"`
	Notes             string     `firestore:"notes,omitempty" json:"notes,omitempty"`

	StatusHistory []StatusChange `firestore:"statusHistory" json:"statusHistory"`

	CreatedAt   time.Time  `firestore:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time  `firestore:"updatedAt" json:"updatedAt"`
	DeliveredAt *time.Time `firestore:"deliveredAt,omitempty" json:"deliveredAt,omitempty"`
	CancelledAt *time.Time `firestore:"cancelledAt,omitempty" json:"cancelledAt,omitempty"`
	ReturnedAt  *time.Time `firestore:"returnedAt,omitempty" json:"returnedAt,omitempty"`

	// Revision is the backend's last update timestamp at read time, used
	// as an optimistic concurrency precondition on subsequent writes.
	Revision time.Time `firestore:"-" json:"-"`
}

// Product is the catalog record the order subsystem reads and whose stock
// it mutates.
type Product struct {
	ID       string   `firestore:"-" json:"id"`
	Name     string   `firestore:"name" json:"name"`
	Price    int64    `firestore:"price" json:"price"`
	Stock    int      `firestore:"stock" json:"stock"`
	Images   []string `firestore:"images,omitempty" json:"images,omitempty"`
	Category string   `firestore:"category,omitempty" json:"category,omitempty"`
}

// User is the minimal profile view needed for notifications.
type User struct {
	ID    string `firestore:"-" json:"id"`
	Email string `firestore:"email" json:"email"`
	Name  string `firestore:"name,omitempty" json:"name,omitempty"`
}

// CartLine is one requested product/quantity pair at order creation.
type CartLine struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// CursorPage represents a single page of results with an opaque
// continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// RangeQuery captures optional inclusive bounds for range filters.
type RangeQuery[T any] struct {
	From *T
	To   *T
}
