package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/shopfront/api/internal/domain"
	"github.com/shopfront/api/internal/platform/auth"
	"github.com/shopfront/api/internal/platform/httpx"
	"github.com/shopfront/api/internal/services"
)

const (
	maxAdminBodySize       = 16 * 1024
	defaultLowStockLimit   = 50
	maxLowStockLimit       = 200
	defaultStatsWindowDays = 30
)

var adminAssignableStatuses = map[domain.OrderStatus]struct{}{
	domain.OrderStatusConfirmed: {},
	domain.OrderStatusShipped:   {},
	domain.OrderStatusDelivered: {},
	domain.OrderStatusCancelled: {},
	domain.OrderStatusReturned:  {},
}

type adminOrderUpdateRequest struct {
	Status            *string `json:"status"`
	TrackingNumber    *string `json:"tracking_number"`
	Carrier           *string `json:"carrier"`
	EstimatedDelivery *string `json:"estimated_delivery"`
	Notes             *string `json:"notes"`
}

// AdminHandlers exposes the back-office order, reporting, and inventory endpoints.
type AdminHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	reporting services.ReportingService
}

// NewAdminHandlers constructs a new AdminHandlers instance.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, reporting services.ReportingService) *AdminHandlers {
	return &AdminHandlers{
		authn:     authn,
		orders:    orders,
		reporting: reporting,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth(auth.RoleAdmin))
	}
	r.Get("/orders", h.listOrders)
	r.Patch("/orders/{orderID}/status", h.updateOrder)
	r.Get("/stats", h.stats)
	r.Get("/inventory/low-stock", h.lowStock)
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	filter, ok := parseOrderListQuery(ctx, w, r)
	if !ok {
		return
	}
	// Admins may scope to one customer; by default all orders are listed.
	filter.UserID = strings.TrimSpace(r.URL.Query().Get("user_id"))

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, buildOrderListResponse(page))
}

func (h *AdminHandlers) updateOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req adminOrderUpdateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return
	}

	cmd := services.AdminOrderUpdateCommand{
		OrderID:        orderID,
		ActorID:        strings.TrimSpace(identity.UID),
		TrackingNumber: req.TrackingNumber,
		Carrier:        req.Carrier,
		Notes:          req.Notes,
	}

	if req.Status != nil {
		status := domain.OrderStatus(strings.ToLower(strings.TrimSpace(*req.Status)))
		if _, ok := adminAssignableStatuses[status]; !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
			return
		}
		cmd.Status = &status
	}

	if req.EstimatedDelivery != nil {
		raw := strings.TrimSpace(*req.EstimatedDelivery)
		if raw != "" {
			ts, err := parseTimeParam(raw)
			if err != nil {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "estimated_delivery must be a valid RFC3339 timestamp", http.StatusBadRequest))
				return
			}
			cmd.EstimatedDelivery = &ts
		}
	}

	order, err := h.orders.UpdateStatus(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reporting == nil {
		httpx.WriteError(ctx, w, httpx.NewError("reporting_service_unavailable", "reporting service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	var window domain.RangeQuery[time.Time]
	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "from must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		window.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("to")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "to must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		window.To = &ts
	}
	if window.From == nil && window.To == nil {
		from := time.Now().UTC().AddDate(0, 0, -defaultStatsWindowDays)
		window.From = &from
	}

	stats, err := h.reporting.Stats(ctx, services.StatsQuery{Window: window})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("reporting_error", "failed to compute stats", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, buildStatsPayload(stats))
}

func (h *AdminHandlers) lowStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reporting == nil {
		httpx.WriteError(ctx, w, httpx.NewError("reporting_service_unavailable", "reporting service unavailable", http.StatusServiceUnavailable))
		return
	}

	limit := defaultLowStockLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be an integer", http.StatusBadRequest))
			return
		}
		switch {
		case parsed <= 0:
			limit = defaultLowStockLimit
		case parsed > maxLowStockLimit:
			limit = maxLowStockLimit
		default:
			limit = parsed
		}
	}

	products, err := h.reporting.LowStock(ctx, limit)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("reporting_error", "failed to list low stock products", http.StatusInternalServerError))
		return
	}

	items := make([]lowStockPayload, 0, len(products))
	for _, product := range products {
		items = append(items, lowStockPayload{
			ID:       product.ID,
			Name:     product.Name,
			Category: product.Category,
			Price:    product.Price,
			Stock:    product.Stock,
		})
	}
	writeJSONResponse(w, http.StatusOK, lowStockResponse{Items: items})
}

type statsResponse struct {
	StatusCounts  []statusCountPayload     `json:"status_counts"`
	Revenue       int64                    `json:"revenue"`
	RecentOrders  int64                    `json:"recent_orders"`
	TopCategories []categoryRevenuePayload `json:"top_categories"`
}

type statusCountPayload struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

type categoryRevenuePayload struct {
	Category string `json:"category"`
	Units    int64  `json:"units"`
	Revenue  int64  `json:"revenue"`
}

type lowStockResponse struct {
	Items []lowStockPayload `json:"items"`
}

type lowStockPayload struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Price    int64  `json:"price"`
	Stock    int    `json:"stock"`
}

func buildStatsPayload(stats services.AdminStats) statsResponse {
	counts := make([]statusCountPayload, 0, len(stats.StatusCounts))
	for _, count := range stats.StatusCounts {
		counts = append(counts, statusCountPayload{
			Status: string(count.Status),
			Count:  count.Count,
		})
	}
	categories := make([]categoryRevenuePayload, 0, len(stats.TopCategories))
	for _, category := range stats.TopCategories {
		categories = append(categories, categoryRevenuePayload{
			Category: category.Category,
			Units:    category.Units,
			Revenue:  category.Revenue,
		})
	}
	return statsResponse{
		StatusCounts:  counts,
		Revenue:       stats.Revenue,
		RecentOrders:  stats.RecentOrders,
		TopCategories: categories,
	}
}
