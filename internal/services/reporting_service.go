package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/shopfront/api/internal/domain"
	"github.com/shopfront/api/internal/repositories"
)

const (
	defaultLowStockThreshold = 10
	recentOrdersLookback     = 30 * 24 * time.Hour
	topCategoryLimit         = 5
)

// ReportingServiceDeps bundles collaborators for the admin reporting service.
type ReportingServiceDeps struct {
	Reports           repositories.ReportingRepository
	Products          repositories.ProductRepository
	LowStockThreshold int
	Clock             func() time.Time
}

type reportingService struct {
	reports           repositories.ReportingRepository
	products          repositories.ProductRepository
	lowStockThreshold int
	clock             func() time.Time
}

// NewReportingService wires dependencies into a concrete ReportingService.
func NewReportingService(deps ReportingServiceDeps) (ReportingService, error) {
	if deps.Reports == nil {
		return nil, errors.New("reporting service: reporting repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("reporting service: product repository is required")
	}

	threshold := deps.LowStockThreshold
	if threshold <= 0 {
		threshold = defaultLowStockThreshold
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &reportingService{
		reports:           deps.Reports,
		products:          deps.Products,
		lowStockThreshold: threshold,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *reportingService) Stats(ctx context.Context, query StatsQuery) (AdminStats, error) {
	counts, err := s.reports.StatusCounts(ctx)
	if err != nil {
		return AdminStats{}, fmt.Errorf("reporting: status counts: %w", err)
	}

	revenue, err := s.reports.Revenue(ctx, query.Window)
	if err != nil {
		return AdminStats{}, fmt.Errorf("reporting: revenue: %w", err)
	}

	since := s.clock().Add(-recentOrdersLookback)
	recent, err := s.reports.CountSince(ctx, since)
	if err != nil {
		return AdminStats{}, fmt.Errorf("reporting: recent orders: %w", err)
	}

	categories, err := s.reports.TopCategories(ctx, query.Window, topCategoryLimit)
	if err != nil {
		return AdminStats{}, fmt.Errorf("reporting: top categories: %w", err)
	}

	return AdminStats{
		StatusCounts:  counts,
		Revenue:       revenue,
		RecentOrders:  recent,
		TopCategories: categories,
	}, nil
}

func (s *reportingService) LowStock(ctx context.Context, limit int) ([]domain.Product, error) {
	products, err := s.products.ListLowStock(ctx, s.lowStockThreshold, limit)
	if err != nil {
		return nil, fmt.Errorf("reporting: low stock: %w", err)
	}
	return products, nil
}
