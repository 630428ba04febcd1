package repositories

import (
	"context"
	"time"

	domain "github.com/shopfront/api/internal/domain"
)

// RepositoryError lets services classify persistence failures without
// depending on backend-specific error types.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderListFilter narrows order listings by owner, status, and creation window.
type OrderListFilter struct {
	UserID    string
	Status    []string
	DateRange domain.RangeQuery[time.Time]
	Pagination
}

// Pagination carries cursor paging parameters for list queries.
type Pagination struct {
	PageSize  int
	PageToken string
}

// OrderPlacement describes an all-or-nothing order creation. The repository
// reads every referenced product inside one transaction, invokes Build with
// the current catalog state, then decrements stock and creates the order
// document atomically.
type OrderPlacement struct {
	Lines []domain.CartLine
	Build func(products map[string]domain.Product) (domain.Order, error)
}

// OrderRepository persists orders in the order ledger.
type OrderRepository interface {
	// PlaceOrder reserves stock for every line and creates the order as a
	// single transaction. Stock is never left partially decremented.
	PlaceOrder(ctx context.Context, placement OrderPlacement) (domain.Order, error)
	// Update overwrites the order document, guarded by the order's Revision.
	Update(ctx context.Context, order domain.Order) (domain.Order, error)
	// CancelAndRestock writes the cancelled order and restores stock for
	// each line item in one transaction.
	CancelAndRestock(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// ProductRepository reads catalog records backing order lines.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	ListLowStock(ctx context.Context, threshold int, limit int) ([]domain.Product, error)
}

// CounterRepository allocates monotonically increasing sequence values.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// WebhookEventRepository deduplicates inbound gateway events by event ID.
type WebhookEventRepository interface {
	// Record stores the event marker; a conflict means the event was
	// already applied.
	Record(ctx context.Context, eventID string, eventType string, receivedAt time.Time) error
	// Delete removes the marker so a failed application can be retried.
	Delete(ctx context.Context, eventID string) error
}

// CartRepository exposes the single cart mutation the order flow needs.
type CartRepository interface {
	Clear(ctx context.Context, userID string) error
}

// UserRepository resolves user profiles for notifications.
type UserRepository interface {
	FindByID(ctx context.Context, userID string) (domain.User, error)
}

// StatusCount pairs an order status with the number of orders holding it.
type StatusCount struct {
	Status domain.OrderStatus
	Count  int64
}

// CategoryRevenue aggregates realised revenue per product category.
type CategoryRevenue struct {
	Category string
	Units    int64
	Revenue  int64
}

// ReportingRepository runs read-only aggregates over the order ledger.
type ReportingRepository interface {
	StatusCounts(ctx context.Context) ([]StatusCount, error)
	// Revenue sums totals of delivered and shipped orders created inside
	// the window.
	Revenue(ctx context.Context, window domain.RangeQuery[time.Time]) (int64, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
	TopCategories(ctx context.Context, window domain.RangeQuery[time.Time], limit int) ([]CategoryRevenue, error)
}
