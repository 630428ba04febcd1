package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	domain "github.com/shopfront/api/internal/domain"
	pfirestore "github.com/shopfront/api/internal/platform/firestore"
)

const defaultLowStockLimit = 50

// ProductRepository implements repositories.ProductRepository backed by Firestore.
type ProductRepository struct {
	products *pfirestore.Collection[domain.Product]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		products: pfirestore.NewCollection[domain.Product](provider, productsCollection),
	}, nil
}

// FindByID fetches a single catalog record.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	product := doc.Data
	product.ID = doc.ID
	return product, nil
}

// ListLowStock returns products whose stock has fallen below the threshold,
// lowest stock first.
func (r *ProductRepository) ListLowStock(ctx context.Context, threshold int, limit int) ([]domain.Product, error) {
	if r == nil || r.products == nil {
		return nil, errors.New("product repository not initialised")
	}
	if limit <= 0 {
		limit = defaultLowStockLimit
	}

	docs, err := r.products.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("stock", "<", threshold).
			OrderBy("stock", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}

	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		product := doc.Data
		product.ID = doc.ID
		products = append(products, product)
	}
	return products, nil
}
