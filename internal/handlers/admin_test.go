package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/shopfront/api/internal/domain"
	"github.com/shopfront/api/internal/repositories"
	"github.com/shopfront/api/internal/services"
)

type stubReportingService struct {
	statsFn    func(context.Context, services.StatsQuery) (services.AdminStats, error)
	lowStockFn func(context.Context, int) ([]domain.Product, error)
}

func (s *stubReportingService) Stats(ctx context.Context, query services.StatsQuery) (services.AdminStats, error) {
	if s.statsFn != nil {
		return s.statsFn(ctx, query)
	}
	return services.AdminStats{}, errors.New("not implemented")
}

func (s *stubReportingService) LowStock(ctx context.Context, limit int) ([]domain.Product, error) {
	if s.lowStockFn != nil {
		return s.lowStockFn(ctx, limit)
	}
	return nil, errors.New("not implemented")
}

func newAdminRouter(orders services.OrderService, reporting services.ReportingService) chi.Router {
	handler := NewAdminHandlers(nil, orders, reporting)
	router := chi.NewRouter()
	router.Route("/admin", handler.Routes)
	return router
}

func TestAdminHandlersListOrdersAllUsers(t *testing.T) {
	var captured repositories.OrderListFilter
	orders := &stubOrderService{
		listFn: func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			captured = filter
			return domain.CursorPage[domain.Order]{}, nil
		},
	}
	router := newAdminRouter(orders, &stubReportingService{})

	req := authedRequest(httptest.NewRequest(http.MethodGet, "/admin/orders?status=processing", nil), "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.UserID != "" {
		t.Fatalf("admin listing must not be scoped to a user by default, got %q", captured.UserID)
	}
	if len(captured.Status) != 1 || captured.Status[0] != "processing" {
		t.Fatalf("unexpected status filter: %v", captured.Status)
	}
}

func TestAdminHandlersUpdateOrderStatus(t *testing.T) {
	var captured services.AdminOrderUpdateCommand
	orders := &stubOrderService{
		updateFn: func(_ context.Context, cmd services.AdminOrderUpdateCommand) (domain.Order, error) {
			captured = cmd
			return domain.Order{ID: cmd.OrderID, Status: *cmd.Status}, nil
		},
	}
	router := newAdminRouter(orders, &stubReportingService{})

	body := `{"status":"shipped","tracking_number":"1Z999AA10123456784","carrier":"UPS","estimated_delivery":"2026-03-20T00:00:00Z"}`
	req := authedRequest(httptest.NewRequest(http.MethodPatch, "/admin/orders/ord_1/status", bytes.NewBufferString(body)), "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.ActorID != "admin-1" {
		t.Fatalf("unexpected command: %+v", captured)
	}
	if captured.Status == nil || *captured.Status != domain.OrderStatusShipped {
		t.Fatalf("status not forwarded: %+v", captured.Status)
	}
	if captured.TrackingNumber == nil || *captured.TrackingNumber != "1Z999AA10123456784" {
		t.Fatalf("tracking number not forwarded")
	}
	want := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	if captured.EstimatedDelivery == nil || !captured.EstimatedDelivery.Equal(want) {
		t.Fatalf("estimated delivery not forwarded: %v", captured.EstimatedDelivery)
	}
}

func TestAdminHandlersUpdateOrderStatusUnknownStatus(t *testing.T) {
	router := newAdminRouter(&stubOrderService{}, &stubReportingService{})

	req := authedRequest(httptest.NewRequest(http.MethodPatch, "/admin/orders/ord_1/status", bytes.NewBufferString(`{"status":"teleported"}`)), "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestAdminHandlersUpdateOrderStatusIllegalTransition(t *testing.T) {
	orders := &stubOrderService{
		updateFn: func(context.Context, services.AdminOrderUpdateCommand) (domain.Order, error) {
			return domain.Order{}, services.ErrOrderInvalidState
		},
	}
	router := newAdminRouter(orders, &stubReportingService{})

	req := authedRequest(httptest.NewRequest(http.MethodPatch, "/admin/orders/ord_1/status", bytes.NewBufferString(`{"status":"confirmed"}`)), "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestAdminHandlersStats(t *testing.T) {
	reporting := &stubReportingService{
		statsFn: func(_ context.Context, query services.StatsQuery) (services.AdminStats, error) {
			if query.Window.From == nil {
				t.Fatalf("expected default stats window")
			}
			return services.AdminStats{
				StatusCounts: []repositories.StatusCount{
					{Status: domain.OrderStatusProcessing, Count: 3},
				},
				Revenue:      158000,
				RecentOrders: 27,
				TopCategories: []repositories.CategoryRevenue{
					{Category: "stationery", Units: 40, Revenue: 90000},
				},
			}, nil
		},
	}
	router := newAdminRouter(&stubOrderService{}, reporting)

	req := authedRequest(httptest.NewRequest(http.MethodGet, "/admin/stats", nil), "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp statsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Revenue != 158000 || resp.RecentOrders != 27 {
		t.Fatalf("unexpected stats: %+v", resp)
	}
	if len(resp.StatusCounts) != 1 || resp.StatusCounts[0].Status != "processing" {
		t.Fatalf("unexpected status counts: %+v", resp.StatusCounts)
	}
	if len(resp.TopCategories) != 1 || resp.TopCategories[0].Category != "stationery" {
		t.Fatalf("unexpected categories: %+v", resp.TopCategories)
	}
}

func TestAdminHandlersLowStock(t *testing.T) {
	reporting := &stubReportingService{
		lowStockFn: func(_ context.Context, limit int) ([]domain.Product, error) {
			if limit != 25 {
				t.Fatalf("unexpected limit: %d", limit)
			}
			return []domain.Product{{ID: "prod_1", Name: "Fountain Pen", Price: 4500, Stock: 2}}, nil
		},
	}
	router := newAdminRouter(&stubOrderService{}, reporting)

	req := authedRequest(httptest.NewRequest(http.MethodGet, "/admin/inventory/low-stock?limit=25", nil), "admin-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp lowStockResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].Stock != 2 {
		t.Fatalf("unexpected items: %+v", resp.Items)
	}
}
