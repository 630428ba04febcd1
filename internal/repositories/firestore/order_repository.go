package firestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/shopfront/api/internal/domain"
	pfirestore "github.com/shopfront/api/internal/platform/firestore"
	"github.com/shopfront/api/internal/repositories"
)

const (
	ordersCollection   = "orders"
	productsCollection = "products"

	defaultListPageSize = 20
	maxListPageSize     = 100
	maxStatusFilters    = 10
)

// ErrInvalidPageToken is returned when a list cursor cannot be decoded.
var ErrInvalidPageToken = errors.New("orders: invalid page token")

type listCursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

// OrderRepository implements repositories.OrderRepository backed by Firestore.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[domain.Order]
	products *pfirestore.Collection[domain.Product]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[domain.Order](provider, ordersCollection),
		products: pfirestore.NewCollection[domain.Product](provider, productsCollection),
	}, nil
}

// PlaceOrder reserves stock for every requested line and creates the order
// document inside a single transaction. Either the whole reservation
// succeeds or no stock is touched.
func (r *OrderRepository) PlaceOrder(ctx context.Context, placement repositories.OrderPlacement) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	if len(placement.Lines) == 0 {
		return domain.Order{}, repositories.NewCatalogError(repositories.CatalogErrorInvalidInput, "placement requires at least one line", nil)
	}
	if placement.Build == nil {
		return domain.Order{}, repositories.NewCatalogError(repositories.CatalogErrorInvalidInput, "placement build function is required", nil)
	}

	// Aggregate quantities so the same product requested on multiple lines
	// is reserved once against its real availability.
	quantities := make(map[string]int, len(placement.Lines))
	for _, line := range placement.Lines {
		id := strings.TrimSpace(line.ProductID)
		if id == "" {
			return domain.Order{}, repositories.NewCatalogError(repositories.CatalogErrorInvalidInput, "line product id is required", nil)
		}
		if line.Quantity < 1 {
			return domain.Order{}, repositories.NewCatalogError(repositories.CatalogErrorInvalidInput, fmt.Sprintf("line quantity for %s must be at least 1", id), nil)
		}
		quantities[id] += line.Quantity
	}

	var created domain.Order

	err := r.provider.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		products := make(map[string]domain.Product, len(quantities))
		refs := make(map[string]*firestore.DocumentRef, len(quantities))

		for productID := range quantities {
			ref, err := r.products.Doc(txCtx, productID)
			if err != nil {
				return err
			}
			refs[productID] = ref

			snap, err := tx.Get(ref)
			if status.Code(err) == codes.NotFound {
				return repositories.NewCatalogError(repositories.CatalogErrorProductNotFound, fmt.Sprintf("product %s not found", productID), err)
			}
			if err != nil {
				return err
			}

			doc, err := r.products.Decode(snap)
			if err != nil {
				return err
			}
			product := doc.Data
			product.ID = productID
			products[productID] = product
		}

		for productID, requested := range quantities {
			if available := products[productID].Stock; available < requested {
				return repositories.NewCatalogError(
					repositories.CatalogErrorInsufficientStock,
					fmt.Sprintf("product %s has %d in stock, %d requested", productID, available, requested),
					nil,
				)
			}
		}

		order, err := placement.Build(products)
		if err != nil {
			return err
		}
		if strings.TrimSpace(order.ID) == "" {
			return repositories.NewCatalogError(repositories.CatalogErrorInvalidInput, "built order is missing an id", nil)
		}

		orderRef, err := r.orders.Doc(txCtx, order.ID)
		if err != nil {
			return err
		}
		if err := tx.Create(orderRef, order); err != nil {
			return err
		}

		for productID, requested := range quantities {
			if err := tx.Update(refs[productID], []firestore.Update{
				{Path: "stock", Value: products[productID].Stock - requested},
			}); err != nil {
				return err
			}
		}

		created = order
		return nil
	})
	if err != nil {
		var catalogErr *repositories.CatalogError
		if errors.As(err, &catalogErr) {
			return domain.Order{}, catalogErr
		}
		return domain.Order{}, pfirestore.WrapError("orders.place", err)
	}
	return created, nil
}

// Update overwrites the order document, failing with a conflict when the
// stored revision no longer matches the one the caller read.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}

	err := r.provider.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.Doc(txCtx, order.ID)
		if err != nil {
			return err
		}
		if err := r.guardRevision(tx, ref, order); err != nil {
			return err
		}
		return tx.Set(ref, order)
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.update", err)
	}
	return order, nil
}

// CancelAndRestock writes the cancelled order and restores stock for every
// line item in one transaction.
func (r *OrderRepository) CancelAndRestock(ctx context.Context, order domain.Order) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}

	restock := make(map[string]int, len(order.Items))
	for _, item := range order.Items {
		restock[item.ProductRef] += item.Quantity
	}

	err := r.provider.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		orderRef, err := r.orders.Doc(txCtx, order.ID)
		if err != nil {
			return err
		}
		if err := r.guardRevision(tx, orderRef, order); err != nil {
			return err
		}

		type restockWrite struct {
			ref   *firestore.DocumentRef
			stock int
		}
		writes := make([]restockWrite, 0, len(restock))

		for productID, quantity := range restock {
			ref, err := r.products.Doc(txCtx, productID)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if status.Code(err) == codes.NotFound {
				// Product removed from the catalog after the order was
				// placed; nothing to restock for this line.
				continue
			}
			if err != nil {
				return err
			}
			doc, err := r.products.Decode(snap)
			if err != nil {
				return err
			}
			writes = append(writes, restockWrite{ref: ref, stock: doc.Data.Stock + quantity})
		}

		if err := tx.Set(orderRef, order); err != nil {
			return err
		}
		for _, write := range writes {
			if err := tx.Update(write.ref, []firestore.Update{
				{Path: "stock", Value: write.stock},
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.cancel", err)
	}
	return order, nil
}

// FindByID fetches an order and records its revision for later guarded writes.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order := doc.Data
	order.ID = doc.ID
	order.Revision = doc.UpdateTime
	return order, nil
}

// List returns a page of orders sorted by creation time descending.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	pageSize := filter.PageSize
	switch {
	case pageSize <= 0:
		pageSize = defaultListPageSize
	case pageSize > maxListPageSize:
		pageSize = maxListPageSize
	}

	statuses := make([]string, 0, len(filter.Status))
	for _, s := range filter.Status {
		if trimmed := strings.TrimSpace(s); trimmed != "" {
			statuses = append(statuses, trimmed)
		}
	}
	if len(statuses) > maxStatusFilters {
		statuses = statuses[:maxStatusFilters]
	}

	var cursor listCursor
	if token := strings.TrimSpace(filter.PageToken); token != "" {
		decoded, err := base64.RawURLEncoding.DecodeString(token)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
		}
		if err := json.Unmarshal(decoded, &cursor); err != nil {
			return domain.CursorPage[domain.Order]{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
		}
	}

	docs, err := r.orders.Query(ctx, func(query firestore.Query) firestore.Query {
		if userID := strings.TrimSpace(filter.UserID); userID != "" {
			query = query.Where("userId", "==", userID)
		}
		if len(statuses) == 1 {
			query = query.Where("status", "==", statuses[0])
		} else if len(statuses) > 1 {
			query = query.Where("status", "in", statuses)
		}
		if filter.DateRange.From != nil {
			query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
		}
		if filter.DateRange.To != nil {
			query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
		}
		query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if cursor.ID != "" {
			query = query.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return query.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{
		Items: make([]domain.Order, 0, min(len(docs), pageSize)),
	}
	for i, doc := range docs {
		if i == pageSize {
			last := page.Items[len(page.Items)-1]
			token, err := encodeListCursor(listCursor{CreatedAt: last.CreatedAt, ID: last.ID})
			if err != nil {
				return domain.CursorPage[domain.Order]{}, err
			}
			page.NextPageToken = token
			break
		}
		order := doc.Data
		order.ID = doc.ID
		order.Revision = doc.UpdateTime
		page.Items = append(page.Items, order)
	}
	return page, nil
}

func (r *OrderRepository) guardRevision(tx *firestore.Transaction, ref *firestore.DocumentRef, order domain.Order) error {
	snap, err := tx.Get(ref)
	if err != nil {
		return err
	}
	if !order.Revision.IsZero() && !snap.UpdateTime.Equal(order.Revision) {
		return pfirestore.NewError("orders.revision", pfirestore.KindConflict,
			fmt.Errorf("order %s was modified concurrently", order.ID))
	}
	return nil
}

func encodeListCursor(cursor listCursor) (string, error) {
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("orders: encode page token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}
