package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"

	domain "github.com/shopfront/api/internal/domain"
	pfirestore "github.com/shopfront/api/internal/platform/firestore"
	"github.com/shopfront/api/internal/repositories"
)

// Statuses whose order totals count as realised revenue.
var revenueStatuses = []string{
	string(domain.OrderStatusDelivered),
	string(domain.OrderStatusShipped),
}

var reportedStatuses = []domain.OrderStatus{
	domain.OrderStatusProcessing,
	domain.OrderStatusConfirmed,
	domain.OrderStatusShipped,
	domain.OrderStatusDelivered,
	domain.OrderStatusCancelled,
	domain.OrderStatusReturned,
}

// ReportingRepository runs read-only aggregates over the order ledger.
type ReportingRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[domain.Order]
	products *pfirestore.Collection[domain.Product]
}

// NewReportingRepository constructs a Firestore-backed reporting repository.
func NewReportingRepository(provider *pfirestore.Provider) (*ReportingRepository, error) {
	if provider == nil {
		return nil, errors.New("reporting repository requires firestore provider")
	}
	return &ReportingRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[domain.Order](provider, ordersCollection),
		products: pfirestore.NewCollection[domain.Product](provider, productsCollection),
	}, nil
}

// StatusCounts returns the number of orders per lifecycle status.
func (r *ReportingRepository) StatusCounts(ctx context.Context) ([]repositories.StatusCount, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("reporting repository not initialised")
	}
	ref, err := r.orders.Ref(ctx)
	if err != nil {
		return nil, err
	}

	counts := make([]repositories.StatusCount, 0, len(reportedStatuses))
	for _, status := range reportedStatuses {
		query := ref.Where("status", "==", string(status))
		count, err := aggregateInt(ctx, query.NewAggregationQuery().WithCount("count"), "count")
		if err != nil {
			return nil, pfirestore.WrapError("reports.statusCounts", err)
		}
		counts = append(counts, repositories.StatusCount{Status: status, Count: count})
	}
	return counts, nil
}

// Revenue sums the totals of delivered and shipped orders created inside the window.
func (r *ReportingRepository) Revenue(ctx context.Context, window domain.RangeQuery[time.Time]) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("reporting repository not initialised")
	}
	ref, err := r.orders.Ref(ctx)
	if err != nil {
		return 0, err
	}

	query := ref.Where("status", "in", revenueStatuses)
	if window.From != nil {
		query = query.Where("createdAt", ">=", window.From.UTC())
	}
	if window.To != nil {
		query = query.Where("createdAt", "<=", window.To.UTC())
	}

	revenue, err := aggregateInt(ctx, query.NewAggregationQuery().WithSum("totals.total", "revenue"), "revenue")
	if err != nil {
		return 0, pfirestore.WrapError("reports.revenue", err)
	}
	return revenue, nil
}

// CountSince counts orders created at or after the given instant.
func (r *ReportingRepository) CountSince(ctx context.Context, since time.Time) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("reporting repository not initialised")
	}
	ref, err := r.orders.Ref(ctx)
	if err != nil {
		return 0, err
	}

	query := ref.Where("createdAt", ">=", since.UTC())
	count, err := aggregateInt(ctx, query.NewAggregationQuery().WithCount("count"), "count")
	if err != nil {
		return 0, pfirestore.WrapError("reports.countSince", err)
	}
	return count, nil
}

// TopCategories ranks product categories by revenue across delivered and
// shipped orders in the window. Line items snapshot price but not category,
// so categories are joined from the live catalog.
func (r *ReportingRepository) TopCategories(ctx context.Context, window domain.RangeQuery[time.Time], limit int) ([]repositories.CategoryRevenue, error) {
	if r == nil || r.provider == nil {
		return nil, errors.New("reporting repository not initialised")
	}
	if limit <= 0 {
		limit = 5
	}

	categories := make(map[string]string)
	productDocs, err := r.products.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Select("category")
	})
	if err != nil {
		return nil, err
	}
	for _, doc := range productDocs {
		categories[doc.ID] = doc.Data.Category
	}

	orderDocs, err := r.orders.Query(ctx, func(query firestore.Query) firestore.Query {
		query = query.Where("status", "in", revenueStatuses)
		if window.From != nil {
			query = query.Where("createdAt", ">=", window.From.UTC())
		}
		if window.To != nil {
			query = query.Where("createdAt", "<=", window.To.UTC())
		}
		return query.Select("items")
	})
	if err != nil {
		return nil, err
	}

	totals := make(map[string]*repositories.CategoryRevenue)
	for _, doc := range orderDocs {
		for _, item := range doc.Data.Items {
			category := categories[item.ProductRef]
			if category == "" {
				category = "uncategorized"
			}
			entry, ok := totals[category]
			if !ok {
				entry = &repositories.CategoryRevenue{Category: category}
				totals[category] = entry
			}
			entry.Units += int64(item.Quantity)
			entry.Revenue += item.Total
		}
	}

	ranked := make([]repositories.CategoryRevenue, 0, len(totals))
	for _, entry := range totals {
		ranked = append(ranked, *entry)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Revenue != ranked[j].Revenue {
			return ranked[i].Revenue > ranked[j].Revenue
		}
		return ranked[i].Category < ranked[j].Category
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

func aggregateInt(ctx context.Context, query *firestore.AggregationQuery, alias string) (int64, error) {
	results, err := query.Get(ctx)
	if err != nil {
		return 0, err
	}
	raw, ok := results[alias]
	if !ok {
		return 0, fmt.Errorf("aggregation result %q missing", alias)
	}
	value, ok := raw.(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("aggregation result %q has unexpected type %T", alias, raw)
	}
	switch v := value.ValueType.(type) {
	case *firestorepb.Value_IntegerValue:
		return v.IntegerValue, nil
	case *firestorepb.Value_DoubleValue:
		return int64(v.DoubleValue), nil
	case *firestorepb.Value_NullValue:
		return 0, nil
	default:
		return 0, fmt.Errorf("aggregation result %q has unexpected value type %T", alias, value.ValueType)
	}
}
