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
	"github.com/shopfront/api/internal/platform/auth"
	"github.com/shopfront/api/internal/repositories"
	"github.com/shopfront/api/internal/services"
)

type stubOrderService struct {
	createFn func(context.Context, services.CreateOrderCommand) (domain.Order, error)
	getFn    func(context.Context, string) (domain.Order, error)
	listFn   func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	cancelFn func(context.Context, services.CancelOrderCommand) (domain.Order, error)
	returnFn func(context.Context, services.ReturnOrderCommand) (domain.Order, error)
	updateFn func(context.Context, services.AdminOrderUpdateCommand) (domain.Order, error)
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	if s.getFn != nil {
		return s.getFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, cmd)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) RequestReturn(ctx context.Context, cmd services.ReturnOrderCommand) (domain.Order, error) {
	if s.returnFn != nil {
		return s.returnFn(ctx, cmd)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.AdminOrderUpdateCommand) (domain.Order, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return domain.Order{}, errors.New("not implemented")
}

func newOrderRouter(service services.OrderService) chi.Router {
	handler := NewOrderHandlers(nil, service)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func authedRequest(req *http.Request, uid string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid}))
}

func TestOrderHandlersCreateOrder(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	var captured services.CreateOrderCommand
	service := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
			captured = cmd
			return domain.Order{
				ID:          "ord_1",
				OrderNumber: "ORD260314-000001",
				UserID:      cmd.UserID,
				Status:      domain.OrderStatusProcessing,
				Items: []domain.OrderLineItem{
					{ProductRef: "prod_1", Name: "Field Notebook", UnitPrice: 1500, Quantity: 2, Total: 3000},
				},
				Totals:    domain.OrderTotals{Items: 3000, Tax: 240, Shipping: 999, Total: 4239},
				CreatedAt: now,
			}, nil
		},
	}
	router := newOrderRouter(service)

	body := `{
		"items": [{"product_id": "prod_1", "quantity": 2}],
		"shipping_address": {
			"first_name": "Ada", "last_name": "Lovelace", "street": "12 Analytical Way",
			"city": "London", "state": "LDN", "zip_code": "EC1A", "country": "GB"
		},
		"payment_method": "card",
		"coupon_code": "SAVE10"
	}`
	req := authedRequest(httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" {
		t.Fatalf("expected command user user-1, got %s", captured.UserID)
	}
	if len(captured.Lines) != 1 || captured.Lines[0].ProductID != "prod_1" || captured.Lines[0].Quantity != 2 {
		t.Fatalf("unexpected lines: %+v", captured.Lines)
	}
	if captured.PaymentMethod != domain.PaymentMethodCard {
		t.Fatalf("unexpected payment method: %s", captured.PaymentMethod)
	}
	if captured.CouponCode != "SAVE10" {
		t.Fatalf("unexpected coupon: %s", captured.CouponCode)
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.ID != "ord_1" || resp.Order.OrderNumber != "ORD260314-000001" {
		t.Fatalf("unexpected order payload: %#v", resp.Order)
	}
	if resp.Order.Totals.Total != 4239 {
		t.Fatalf("unexpected total: %d", resp.Order.Totals.Total)
	}
}

func TestOrderHandlersCreateOrderInvalidInput(t *testing.T) {
	service := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (domain.Order, error) {
			return domain.Order{}, services.ErrOrderInvalidInput
		},
	}
	router := newOrderRouter(service)

	req := authedRequest(httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(`{"items": []}`)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersCreateOrderInsufficientStock(t *testing.T) {
	service := &stubOrderService{
		createFn: func(context.Context, services.CreateOrderCommand) (domain.Order, error) {
			return domain.Order{}, services.ErrInsufficientStock
		},
	}
	router := newOrderRouter(service)

	req := authedRequest(httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(`{"items":[{"product_id":"prod_1","quantity":99}]}`)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestOrderHandlersCreateOrderUnauthenticated(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestOrderHandlersListOrders(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	fromExpected := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	var captured repositories.OrderListFilter
	service := &stubOrderService{
		listFn: func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			captured = filter
			return domain.CursorPage[domain.Order]{
				Items: []domain.Order{
					{
						ID:          "ord_1",
						OrderNumber: "ORD260314-000001",
						UserID:      "user-1",
						Status:      domain.OrderStatusShipped,
						Items:       []domain.OrderLineItem{{ProductRef: "prod_1", Quantity: 3}},
						Totals:      domain.OrderTotals{Total: 6480},
						CreatedAt:   now,
					},
				},
				NextPageToken: "tok-next",
			}, nil
		},
	}
	router := newOrderRouter(service)

	req := authedRequest(httptest.NewRequest(http.MethodGet, "/orders?status=shipped,delivered&page_size=10&page_token=tok123&created_after=2026-03-01T00:00:00Z", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.UserID != "user-1" {
		t.Fatalf("expected filter scoped to user-1, got %s", captured.UserID)
	}
	if len(captured.Status) != 2 {
		t.Fatalf("expected 2 status filters, got %v", captured.Status)
	}
	if captured.Pagination.PageSize != 10 || captured.Pagination.PageToken != "tok123" {
		t.Fatalf("unexpected pagination: %+v", captured.Pagination)
	}
	if captured.DateRange.From == nil || !captured.DateRange.From.Equal(fromExpected) {
		t.Fatalf("unexpected date range: %#v", captured.DateRange.From)
	}

	var resp orderListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Items) != 1 || resp.Items[0].ID != "ord_1" {
		t.Fatalf("unexpected items: %#v", resp.Items)
	}
	if resp.Items[0].ItemCount != 3 {
		t.Fatalf("unexpected item count: %d", resp.Items[0].ItemCount)
	}
	if resp.NextPageToken != "tok-next" {
		t.Fatalf("unexpected page token: %s", resp.NextPageToken)
	}
}

func TestOrderHandlersListOrdersInvalidPageSize(t *testing.T) {
	router := newOrderRouter(&stubOrderService{})

	req := authedRequest(httptest.NewRequest(http.MethodGet, "/orders?page_size=abc", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersGetOrderOwnership(t *testing.T) {
	service := &stubOrderService{
		getFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", UserID: "someone-else"}, nil
		},
	}
	router := newOrderRouter(service)

	req := authedRequest(httptest.NewRequest(http.MethodGet, "/orders/ord_1", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("cross-user reads must 404, got %d", rr.Code)
	}
}

func TestOrderHandlersGetTracking(t *testing.T) {
	estimated := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	service := &stubOrderService{
		getFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{
				ID:                "ord_1",
				OrderNumber:       "ORD260314-000001",
				UserID:            "user-1",
				Status:            domain.OrderStatusShipped,
				TrackingNumber:    "1Z999AA10123456784",
				Carrier:           "UPS",
				EstimatedDelivery: &estimated,
				StatusHistory: []domain.StatusChange{
					{Status: domain.OrderStatusConfirmed, At: estimated.AddDate(0, 0, -5)},
					{Status: domain.OrderStatusShipped, At: estimated.AddDate(0, 0, -3)},
				},
			}, nil
		},
	}
	router := newOrderRouter(service)

	req := authedRequest(httptest.NewRequest(http.MethodGet, "/orders/ord_1/tracking", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp trackingPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.TrackingNumber != "1Z999AA10123456784" || resp.Carrier != "UPS" {
		t.Fatalf("unexpected tracking payload: %#v", resp)
	}
	if len(resp.StatusHistory) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(resp.StatusHistory))
	}
}

func TestOrderHandlersCancelOrder(t *testing.T) {
	var captured services.CancelOrderCommand
	service := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
			captured = cmd
			return domain.Order{ID: cmd.OrderID, UserID: cmd.RequesterID, Status: domain.OrderStatusCancelled}, nil
		},
	}
	router := newOrderRouter(service)

	req := authedRequest(httptest.NewRequest(http.MethodPost, "/orders/ord_1:cancel", bytes.NewBufferString(`{"reason":"Ordered twice"}`)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.RequesterID != "user-1" || captured.Reason != "Ordered twice" {
		t.Fatalf("unexpected command: %+v", captured)
	}
}

func TestOrderHandlersCancelOrderNoBody(t *testing.T) {
	service := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (domain.Order, error) {
			if cmd.Reason != "" {
				t.Fatalf("expected empty reason, got %q", cmd.Reason)
			}
			return domain.Order{ID: cmd.OrderID, Status: domain.OrderStatusCancelled}, nil
		},
	}
	router := newOrderRouter(service)

	req := authedRequest(httptest.NewRequest(http.MethodPost, "/orders/ord_1:cancel", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestOrderHandlersCancelOrderInvalidState(t *testing.T) {
	service := &stubOrderService{
		cancelFn: func(context.Context, services.CancelOrderCommand) (domain.Order, error) {
			return domain.Order{}, services.ErrOrderInvalidState
		},
	}
	router := newOrderRouter(service)

	req := authedRequest(httptest.NewRequest(http.MethodPost, "/orders/ord_1:cancel", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestOrderHandlersReturnOrder(t *testing.T) {
	var captured services.ReturnOrderCommand
	service := &stubOrderService{
		returnFn: func(_ context.Context, cmd services.ReturnOrderCommand) (domain.Order, error) {
			captured = cmd
			return domain.Order{ID: cmd.OrderID, Status: domain.OrderStatusReturned}, nil
		},
	}
	router := newOrderRouter(service)

	req := authedRequest(httptest.NewRequest(http.MethodPost, "/orders/ord_1:return", bytes.NewBufferString(`{"reason":"Wrong size"}`)), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.Reason != "Wrong size" {
		t.Fatalf("unexpected command: %+v", captured)
	}
}

func TestOrderHandlersReturnOrderWindowExpired(t *testing.T) {
	service := &stubOrderService{
		returnFn: func(context.Context, services.ReturnOrderCommand) (domain.Order, error) {
			return domain.Order{}, services.ErrReturnWindowExpired
		},
	}
	router := newOrderRouter(service)

	req := authedRequest(httptest.NewRequest(http.MethodPost, "/orders/ord_1:return", nil), "user-1")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
}
