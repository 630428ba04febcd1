package services

import (
	"context"
	"time"

	domain "github.com/shopfront/api/internal/domain"
	"github.com/shopfront/api/internal/payments"
	"github.com/shopfront/api/internal/repositories"
)

// CreateOrderCommand carries everything needed to place a new order.
type CreateOrderCommand struct {
	UserID          string
	Lines           []domain.CartLine
	ShippingAddress domain.Address
	// BillingAddress defaults to the shipping address when nil.
	BillingAddress *domain.Address
	PaymentMethod  domain.PaymentMethod
	CouponCode     string
}

// CancelOrderCommand cancels an order on behalf of its owner.
type CancelOrderCommand struct {
	OrderID     string
	RequesterID string
	Reason      string
}

// ReturnOrderCommand requests a return for a delivered order.
type ReturnOrderCommand struct {
	OrderID     string
	RequesterID string
	Reason      string
}

// AdminOrderUpdateCommand applies administrative updates; only non-nil
// fields are written.
type AdminOrderUpdateCommand struct {
	OrderID           string
	ActorID           string
	Status            *domain.OrderStatus
	TrackingNumber    *string
	Carrier           *string
	EstimatedDelivery *time.Time
	Notes             *string
}

// OrderService orchestrates the order lifecycle.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error)
	RequestReturn(ctx context.Context, cmd ReturnOrderCommand) (domain.Order, error)
	UpdateStatus(ctx context.Context, cmd AdminOrderUpdateCommand) (domain.Order, error)
}

// CreatePaymentIntentCommand opens a gateway payment intent for an order.
type CreatePaymentIntentCommand struct {
	OrderID     string
	RequesterID string
}

// ConfirmPaymentCommand reconciles a gateway intent with the order.
type ConfirmPaymentCommand struct {
	OrderID     string
	RequesterID string
	IntentID    string
}

// RefundPaymentCommand refunds an order's payment. Amount nil refunds in full.
type RefundPaymentCommand struct {
	OrderID string
	ActorID string
	Amount  *int64
	Reason  string
}

// PaymentService bridges the external gateway and the order ledger.
type PaymentService interface {
	CreateIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (payments.Intent, error)
	ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (domain.Order, error)
	Refund(ctx context.Context, cmd RefundPaymentCommand) (domain.Order, error)
	// HandleWebhook verifies, deduplicates, and applies one inbound gateway
	// event. Redelivery of an already-applied event is a no-op.
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// AdminStats is the aggregate dashboard view over the order ledger.
type AdminStats struct {
	StatusCounts  []repositories.StatusCount
	Revenue       int64
	RecentOrders  int64
	TopCategories []repositories.CategoryRevenue
}

// StatsQuery bounds the revenue and category aggregates.
type StatsQuery struct {
	Window domain.RangeQuery[time.Time]
}

// ReportingService serves read-only admin projections.
type ReportingService interface {
	Stats(ctx context.Context, query StatsQuery) (AdminStats, error)
	LowStock(ctx context.Context, limit int) ([]domain.Product, error)
}
