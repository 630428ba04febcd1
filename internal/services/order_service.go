package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/shopfront/api/internal/domain"
	"github.com/shopfront/api/internal/notifications"
	"github.com/shopfront/api/internal/repositories"
)

const (
	orderIDPrefix       = "ord_"
	orderNumberCounter  = "orders"
	defaultCancelNote   = "Cancelled by customer"
	defaultReturnWindow = 30 * 24 * time.Hour
	notificationTimeout = 5 * time.Second
	maxLinesPerOrder    = 50
	maxQuantityPerLine  = 1000
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrProductNotFound indicates a referenced product does not exist.
	ErrProductNotFound = errors.New("order: product not found")
	// ErrOrderForbidden indicates the requester does not own the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidState indicates an illegal lifecycle transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrInsufficientStock indicates requested quantity exceeds availability.
	ErrInsufficientStock = errors.New("order: insufficient stock")
	// ErrReturnWindowExpired indicates the return window has closed.
	ErrReturnWindowExpired = errors.New("order: return window expired")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
)

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusProcessing: {domain.OrderStatusConfirmed, domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:  {domain.OrderStatusReturned},
}

var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusProcessing,
	domain.OrderStatusConfirmed,
}

var validPaymentMethods = []domain.PaymentMethod{
	domain.PaymentMethodCard,
	domain.PaymentMethodPayPal,
	domain.PaymentMethodStripe,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders       repositories.OrderRepository
	Counters     repositories.CounterRepository
	Carts        repositories.CartRepository
	Users        repositories.UserRepository
	Pricing      *PricingEngine
	Notifier     notifications.Notifier
	ReturnWindow time.Duration
	Clock        func() time.Time
	IDGenerator  func() string
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders       repositories.OrderRepository
	counters     repositories.CounterRepository
	carts        repositories.CartRepository
	users        repositories.UserRepository
	pricing      *PricingEngine
	notifier     notifications.Notifier
	returnWindow time.Duration
	clock        func() time.Time
	newID        func() string
	logger       func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}

	pricing := deps.Pricing
	if pricing == nil {
		pricing = NewPricingEngine()
	}

	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NopNotifier{}
	}

	returnWindow := deps.ReturnWindow
	if returnWindow <= 0 {
		returnWindow = defaultReturnWindow
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:       deps.Orders,
		counters:     deps.Counters,
		carts:        deps.Carts,
		users:        deps.Users,
		pricing:      pricing,
		notifier:     notifier,
		returnWindow: returnWindow,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return domain.Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Lines) == 0 {
		return domain.Order{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	if len(cmd.Lines) > maxLinesPerOrder {
		return domain.Order{}, fmt.Errorf("%w: order exceeds %d lines", ErrOrderInvalidInput, maxLinesPerOrder)
	}
	for _, line := range cmd.Lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return domain.Order{}, fmt.Errorf("%w: line product id is required", ErrOrderInvalidInput)
		}
		if line.Quantity < 1 {
			return domain.Order{}, fmt.Errorf("%w: line quantity must be at least 1", ErrOrderInvalidInput)
		}
		if line.Quantity > maxQuantityPerLine {
			return domain.Order{}, fmt.Errorf("%w: line quantity exceeds %d", ErrOrderInvalidInput, maxQuantityPerLine)
		}
	}
	if err := validateAddress("shipping address", cmd.ShippingAddress); err != nil {
		return domain.Order{}, err
	}
	billing := cmd.ShippingAddress
	if cmd.BillingAddress != nil {
		if err := validateAddress("billing address", *cmd.BillingAddress); err != nil {
			return domain.Order{}, err
		}
		billing = *cmd.BillingAddress
	}
	if !slices.Contains(validPaymentMethods, cmd.PaymentMethod) {
		return domain.Order{}, fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}

	now := s.now()

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return domain.Order{}, err
	}

	coupon := strings.ToUpper(strings.TrimSpace(cmd.CouponCode))
	orderID := orderIDPrefix + s.newID()

	placement := repositories.OrderPlacement{
		Lines: cmd.Lines,
		Build: func(products map[string]domain.Product) (domain.Order, error) {
			items := make([]domain.OrderLineItem, 0, len(cmd.Lines))
			priceLines := make([]PriceLine, 0, len(cmd.Lines))
			for _, line := range cmd.Lines {
				product, ok := products[strings.TrimSpace(line.ProductID)]
				if !ok {
					return domain.Order{}, fmt.Errorf("%w: %s", ErrProductNotFound, line.ProductID)
				}
				item := domain.OrderLineItem{
					ProductRef: product.ID,
					Name:       product.Name,
					UnitPrice:  product.Price,
					Quantity:   line.Quantity,
					Total:      product.Price * int64(line.Quantity),
				}
				if len(product.Images) > 0 {
					item.Image = product.Images[0]
				}
				items = append(items, item)
				priceLines = append(priceLines, PriceLine{UnitPrice: product.Price, Quantity: line.Quantity})
			}

			return domain.Order{
				ID:              orderID,
				OrderNumber:     number,
				UserID:          userID,
				Status:          domain.OrderStatusProcessing,
				Items:           items,
				ShippingAddress: cmd.ShippingAddress,
				BillingAddress:  billing,
				Payment: domain.PaymentInfo{
					Method: cmd.PaymentMethod,
					Status: domain.PaymentStatusPending,
				},
				Totals:        s.pricing.Compute(priceLines, coupon),
				CouponCode:    coupon,
				StatusHistory: []domain.StatusChange{},
				CreatedAt:     now,
				UpdatedAt:     now,
			}, nil
		},
	}

	order, err := s.orders.PlaceOrder(ctx, placement)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	if s.carts != nil {
		if err := s.carts.Clear(ctx, userID); err != nil {
			s.logger(ctx, "order.cart.clear.failed", map[string]any{
				"order": order.ID,
				"user":  userID,
				"error": err.Error(),
			})
		}
	}

	s.notify(ctx, order, "", true)

	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	if requester := strings.TrimSpace(cmd.RequesterID); requester != "" && requester != order.UserID {
		return domain.Order{}, fmt.Errorf("%w: order belongs to another user", ErrOrderForbidden)
	}
	if !slices.Contains(cancellableStatuses, order.Status) {
		return domain.Order{}, fmt.Errorf("%w: order status %q cannot be cancelled", ErrOrderInvalidState, order.Status)
	}

	now := s.now()
	note := strings.TrimSpace(cmd.Reason)
	if note == "" {
		note = defaultCancelNote
	}
	order.Notes = note

	if err := applyStatusTransition(&order, domain.OrderStatusCancelled, note, now); err != nil {
		return domain.Order{}, err
	}

	cancelled, err := s.orders.CancelAndRestock(ctx, order)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	s.notify(ctx, cancelled, note, false)

	return cancelled, nil
}

func (s *orderService) RequestReturn(ctx context.Context, cmd ReturnOrderCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	if requester := strings.TrimSpace(cmd.RequesterID); requester != "" && requester != order.UserID {
		return domain.Order{}, fmt.Errorf("%w: order belongs to another user", ErrOrderForbidden)
	}
	if order.Status != domain.OrderStatusDelivered {
		return domain.Order{}, fmt.Errorf("%w: only delivered orders can be returned, current status %q", ErrOrderInvalidState, order.Status)
	}

	now := s.now()
	if order.DeliveredAt == nil || now.Sub(*order.DeliveredAt) > s.returnWindow {
		return domain.Order{}, fmt.Errorf("%w: orders must be returned within %d days of delivery", ErrReturnWindowExpired, int(s.returnWindow.Hours()/24))
	}

	note := strings.TrimSpace(cmd.Reason)
	if err := applyStatusTransition(&order, domain.OrderStatusReturned, note, now); err != nil {
		return domain.Order{}, err
	}

	// Returned goods are not restocked; they have not been re-shelved.
	returned, err := s.orders.Update(ctx, order)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	s.notify(ctx, returned, note, false)

	return returned, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd AdminOrderUpdateCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	now := s.now()
	if cmd.TrackingNumber != nil {
		order.TrackingNumber = strings.TrimSpace(*cmd.TrackingNumber)
	}
	if cmd.Carrier != nil {
		order.Carrier = strings.TrimSpace(*cmd.Carrier)
	}
	if cmd.EstimatedDelivery != nil {
		estimated := cmd.EstimatedDelivery.UTC()
		order.EstimatedDelivery = &estimated
	}
	note := ""
	if cmd.Notes != nil {
		note = strings.TrimSpace(*cmd.Notes)
		order.Notes = note
	}

	statusChanged := false
	if cmd.Status != nil && *cmd.Status != order.Status {
		if err := applyStatusTransition(&order, *cmd.Status, note, now); err != nil {
			return domain.Order{}, err
		}
		statusChanged = true
	} else {
		order.UpdatedAt = now
	}

	var updated domain.Order
	if statusChanged && order.Status == domain.OrderStatusCancelled {
		updated, err = s.orders.CancelAndRestock(ctx, order)
	} else {
		updated, err = s.orders.Update(ctx, order)
	}
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	if statusChanged {
		s.notify(ctx, updated, note, false)
	}

	return updated, nil
}

// notify fires the customer notification without blocking the caller's
// deadline; failures are logged and swallowed.
func (s *orderService) notify(ctx context.Context, order domain.Order, note string, created bool) {
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notificationTimeout)
	defer cancel()

	var user domain.User
	if s.users != nil {
		found, err := s.users.FindByID(notifyCtx, order.UserID)
		if err != nil {
			s.logger(ctx, "order.notify.user.lookup.failed", map[string]any{
				"order": order.ID,
				"user":  order.UserID,
				"error": err.Error(),
			})
		} else {
			user = found
		}
	}

	var err error
	if created {
		err = s.notifier.NotifyOrderCreated(notifyCtx, user, order)
	} else {
		err = s.notifier.NotifyStatusChanged(notifyCtx, user, order, note)
	}
	if err != nil {
		s.logger(ctx, "order.notify.failed", map[string]any{
			"order":  order.ID,
			"status": string(order.Status),
			"error":  err.Error(),
		})
	}
}

func (s *orderService) mapRepositoryError(err error) error {
	return mapOrderRepositoryError(err)
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounter, 1)
	if err != nil {
		return "", fmt.Errorf("order: allocate order number: %w", err)
	}
	return fmt.Sprintf("ORD%s-%06d", now.Format("060102"), seq), nil
}

func (s *orderService) now() time.Time {
	return s.clock()
}

// applyStatusTransition validates and performs a lifecycle transition,
// appending the history entry and maintaining derived timestamps. The
// initial status is never recorded in history; only subsequent transitions
// are.
func applyStatusTransition(order *domain.Order, target domain.OrderStatus, note string, now time.Time) error {
	if order.Status == target {
		order.UpdatedAt = now
		return nil
	}
	if !canTransition(order.Status, target) {
		return fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, order.Status, target)
	}

	order.Status = target
	order.UpdatedAt = now
	order.StatusHistory = append(order.StatusHistory, domain.StatusChange{
		Status: target,
		At:     now,
		Note:   note,
	})

	switch target {
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		if order.CancelledAt == nil {
			order.CancelledAt = &now
		}
	case domain.OrderStatusReturned:
		order.ReturnedAt = &now
	}
	return nil
}

func canTransition(current, target domain.OrderStatus) bool {
	if current == target {
		return true
	}
	return slices.Contains(orderStateTransitions[current], target)
}

func validateAddress(label string, addr domain.Address) error {
	missing := make([]string, 0, 7)
	check := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, field)
		}
	}
	check("firstName", addr.FirstName)
	check("lastName", addr.LastName)
	check("street", addr.Street)
	check("city", addr.City)
	check("state", addr.State)
	check("zipCode", addr.ZipCode)
	check("country", addr.Country)
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s is missing %s", ErrOrderInvalidInput, label, strings.Join(missing, ", "))
	}
	return nil
}

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var catalogErr *repositories.CatalogError
	if errors.As(err, &catalogErr) {
		switch catalogErr.Code {
		case repositories.CatalogErrorProductNotFound:
			return fmt.Errorf("%w: %v", ErrProductNotFound, err)
		case repositories.CatalogErrorInsufficientStock:
			return fmt.Errorf("%w: %v", ErrInsufficientStock, err)
		case repositories.CatalogErrorInvalidInput:
			return fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
		}
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}
