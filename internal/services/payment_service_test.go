package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/shopfront/api/internal/domain"
	"github.com/shopfront/api/internal/payments"
	"github.com/shopfront/api/internal/repositories"
)

type stubGateway struct {
	createIntentFn func(ctx context.Context, req payments.IntentRequest) (payments.Intent, error)
	retrieveFn     func(ctx context.Context, intentID string) (payments.Intent, error)
	refundFn       func(ctx context.Context, req payments.RefundRequest) (payments.Intent, error)
	parseFn        func(payload []byte, signature string) (payments.WebhookEvent, error)
}

func (g *stubGateway) CreateIntent(ctx context.Context, req payments.IntentRequest) (payments.Intent, error) {
	if g.createIntentFn == nil {
		return payments.Intent{}, errors.New("unexpected CreateIntent call")
	}
	return g.createIntentFn(ctx, req)
}

func (g *stubGateway) RetrieveIntent(ctx context.Context, intentID string) (payments.Intent, error) {
	if g.retrieveFn == nil {
		return payments.Intent{}, errors.New("unexpected RetrieveIntent call")
	}
	return g.retrieveFn(ctx, intentID)
}

func (g *stubGateway) CreateRefund(ctx context.Context, req payments.RefundRequest) (payments.Intent, error) {
	if g.refundFn == nil {
		return payments.Intent{}, errors.New("unexpected CreateRefund call")
	}
	return g.refundFn(ctx, req)
}

func (g *stubGateway) ParseWebhook(payload []byte, signature string) (payments.WebhookEvent, error) {
	if g.parseFn == nil {
		return payments.WebhookEvent{}, errors.New("unexpected ParseWebhook call")
	}
	return g.parseFn(payload, signature)
}

type stubWebhookEventRepo struct {
	recordFn func(ctx context.Context, eventID, eventType string, receivedAt time.Time) error
	deleteFn func(ctx context.Context, eventID string) error
	recorded []string
	deleted  []string
}

func (s *stubWebhookEventRepo) Record(ctx context.Context, eventID, eventType string, receivedAt time.Time) error {
	s.recorded = append(s.recorded, eventID)
	if s.recordFn == nil {
		return nil
	}
	return s.recordFn(ctx, eventID, eventType, receivedAt)
}

func (s *stubWebhookEventRepo) Delete(ctx context.Context, eventID string) error {
	s.deleted = append(s.deleted, eventID)
	if s.deleteFn == nil {
		return nil
	}
	return s.deleteFn(ctx, eventID)
}

func newTestPaymentService(t *testing.T, deps PaymentServiceDeps) PaymentService {
	t.Helper()
	if deps.Clock == nil {
		deps.Clock = testClock
	}
	if deps.WebhookEvents == nil {
		deps.WebhookEvents = &stubWebhookEventRepo{}
	}
	svc, err := NewPaymentService(deps)
	if err != nil {
		t.Fatalf("NewPaymentService returned error: %v", err)
	}
	return svc
}

func TestPaymentServiceCreateIntent(t *testing.T) {
	order := domain.Order{
		ID:     "ord_1",
		UserID: "user_1",
		Status: domain.OrderStatusProcessing,
		Totals: domain.OrderTotals{Total: 6480},
		Payment: domain.PaymentInfo{
			Method: domain.PaymentMethodStripe,
			Status: domain.PaymentStatusPending,
		},
	}
	var updated domain.Order
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return order, nil
		},
		updateFn: func(_ context.Context, o domain.Order) (domain.Order, error) {
			updated = o
			return o, nil
		},
	}
	gateway := &stubGateway{
		createIntentFn: func(_ context.Context, req payments.IntentRequest) (payments.Intent, error) {
			if req.Amount != 6480 || req.Currency != "usd" || req.OrderID != "ord_1" {
				t.Fatalf("unexpected intent request: %+v", req)
			}
			return payments.Intent{ID: "pi_1", ClientSecret: "pi_1_secret", Amount: req.Amount, Currency: req.Currency, Status: payments.StatusPending}, nil
		},
	}
	svc := newTestPaymentService(t, PaymentServiceDeps{Orders: repo, Gateway: gateway})

	intent, err := svc.CreateIntent(context.Background(), CreatePaymentIntentCommand{OrderID: "ord_1", RequesterID: "user_1"})
	if err != nil {
		t.Fatalf("CreateIntent returned error: %v", err)
	}
	if intent.ID != "pi_1" || intent.ClientSecret != "pi_1_secret" {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if updated.Payment.TransactionID != "pi_1" {
		t.Fatalf("transaction id not stored: %+v", updated.Payment)
	}
}

func TestPaymentServiceCreateIntentAlreadyPaid(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{
				ID:      "ord_1",
				UserID:  "user_1",
				Payment: domain.PaymentInfo{Status: domain.PaymentStatusCompleted},
			}, nil
		},
	}
	svc := newTestPaymentService(t, PaymentServiceDeps{Orders: repo, Gateway: &stubGateway{}})

	_, err := svc.CreateIntent(context.Background(), CreatePaymentIntentCommand{OrderID: "ord_1", RequesterID: "user_1"})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
}

func TestPaymentServiceCreateIntentGatewayError(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{
				ID:      "ord_1",
				UserID:  "user_1",
				Payment: domain.PaymentInfo{Status: domain.PaymentStatusPending},
			}, nil
		},
	}
	gateway := &stubGateway{
		createIntentFn: func(context.Context, payments.IntentRequest) (payments.Intent, error) {
			return payments.Intent{}, errors.New("stripe 503")
		},
	}
	svc := newTestPaymentService(t, PaymentServiceDeps{Orders: repo, Gateway: gateway})

	_, err := svc.CreateIntent(context.Background(), CreatePaymentIntentCommand{OrderID: "ord_1", RequesterID: "user_1"})
	if !errors.Is(err, ErrPaymentGateway) {
		t.Fatalf("expected ErrPaymentGateway, got %v", err)
	}
}

func TestPaymentServiceConfirmPayment(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{
				ID:      "ord_1",
				UserID:  "user_1",
				Status:  domain.OrderStatusProcessing,
				Payment: domain.PaymentInfo{Status: domain.PaymentStatusPending},
			}, nil
		},
		updateFn: func(_ context.Context, order domain.Order) (domain.Order, error) {
			return order, nil
		},
	}
	gateway := &stubGateway{
		retrieveFn: func(_ context.Context, intentID string) (payments.Intent, error) {
			return payments.Intent{ID: intentID, Status: payments.StatusSucceeded}, nil
		},
	}
	notifier := &captureNotifier{}
	svc := newTestPaymentService(t, PaymentServiceDeps{Orders: repo, Gateway: gateway, Notifier: notifier})

	order, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{OrderID: "ord_1", RequesterID: "user_1", IntentID: "pi_1"})
	if err != nil {
		t.Fatalf("ConfirmPayment returned error: %v", err)
	}
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected status: %s", order.Status)
	}
	if order.Payment.Status != domain.PaymentStatusCompleted {
		t.Fatalf("unexpected payment status: %s", order.Payment.Status)
	}
	if order.Payment.PaidAt == nil || !order.Payment.PaidAt.Equal(testClock()) {
		t.Fatalf("paidAt not set: %v", order.Payment.PaidAt)
	}
	if order.Payment.TransactionID != "pi_1" {
		t.Fatalf("transaction id not stored: %+v", order.Payment)
	}
	if len(order.StatusHistory) != 1 || order.StatusHistory[0].Status != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected history: %+v", order.StatusHistory)
	}
	if len(notifier.events) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.events))
	}
}

func TestPaymentServiceConfirmPaymentIncomplete(t *testing.T) {
	updateCalled := false
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", UserID: "user_1", Status: domain.OrderStatusProcessing}, nil
		},
		updateFn: func(_ context.Context, order domain.Order) (domain.Order, error) {
			updateCalled = true
			return order, nil
		},
	}
	gateway := &stubGateway{
		retrieveFn: func(_ context.Context, intentID string) (payments.Intent, error) {
			return payments.Intent{ID: intentID, Status: payments.StatusPending}, nil
		},
	}
	svc := newTestPaymentService(t, PaymentServiceDeps{Orders: repo, Gateway: gateway})

	_, err := svc.ConfirmPayment(context.Background(), ConfirmPaymentCommand{OrderID: "ord_1", RequesterID: "user_1", IntentID: "pi_1"})
	if !errors.Is(err, ErrPaymentIncomplete) {
		t.Fatalf("expected ErrPaymentIncomplete, got %v", err)
	}
	if updateCalled {
		t.Fatalf("incomplete payments must not mutate the order")
	}
}

func TestPaymentServiceRefund(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{
				ID:     "ord_1",
				UserID: "user_1",
				Status: domain.OrderStatusDelivered,
				Payment: domain.PaymentInfo{
					Status:        domain.PaymentStatusCompleted,
					TransactionID: "pi_1",
				},
			}, nil
		},
		updateFn: func(_ context.Context, order domain.Order) (domain.Order, error) {
			return order, nil
		},
	}
	gateway := &stubGateway{
		refundFn: func(_ context.Context, req payments.RefundRequest) (payments.Intent, error) {
			if req.IntentID != "pi_1" {
				t.Fatalf("unexpected refund request: %+v", req)
			}
			return payments.Intent{ID: "pi_1", Status: payments.StatusRefunded}, nil
		},
	}
	svc := newTestPaymentService(t, PaymentServiceDeps{Orders: repo, Gateway: gateway})

	order, err := svc.Refund(context.Background(), RefundPaymentCommand{OrderID: "ord_1", ActorID: "admin_1", Reason: "requested_by_customer"})
	if err != nil {
		t.Fatalf("Refund returned error: %v", err)
	}
	if order.Payment.Status != domain.PaymentStatusRefunded {
		t.Fatalf("unexpected payment status: %s", order.Payment.Status)
	}
}

func TestPaymentServiceRefundWithoutPayment(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{ID: "ord_1", UserID: "user_1"}, nil
		},
	}
	svc := newTestPaymentService(t, PaymentServiceDeps{Orders: repo, Gateway: &stubGateway{}})

	_, err := svc.Refund(context.Background(), RefundPaymentCommand{OrderID: "ord_1"})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState, got %v", err)
	}
}

func TestPaymentServiceHandleWebhookSucceeded(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{
				ID:      "ord_1",
				UserID:  "user_1",
				Status:  domain.OrderStatusProcessing,
				Payment: domain.PaymentInfo{Status: domain.PaymentStatusPending},
			}, nil
		},
		updateFn: func(_ context.Context, order domain.Order) (domain.Order, error) {
			if order.Status != domain.OrderStatusConfirmed {
				t.Fatalf("expected confirmed order, got %s", order.Status)
			}
			if order.Payment.Status != domain.PaymentStatusCompleted {
				t.Fatalf("expected completed payment, got %s", order.Payment.Status)
			}
			return order, nil
		},
	}
	events := &stubWebhookEventRepo{}
	gateway := &stubGateway{
		parseFn: func([]byte, string) (payments.WebhookEvent, error) {
			return payments.WebhookEvent{
				ID:       "evt_1",
				Type:     payments.WebhookIntentSucceeded,
				IntentID: "pi_1",
				OrderID:  "ord_1",
				Status:   payments.StatusSucceeded,
			}, nil
		},
	}
	svc := newTestPaymentService(t, PaymentServiceDeps{Orders: repo, Gateway: gateway, WebhookEvents: events})

	if err := svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("HandleWebhook returned error: %v", err)
	}
	if len(events.recorded) != 1 || events.recorded[0] != "evt_1" {
		t.Fatalf("event marker not recorded: %v", events.recorded)
	}
}

func TestPaymentServiceHandleWebhookDuplicate(t *testing.T) {
	findCalled := false
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			findCalled = true
			return domain.Order{}, nil
		},
	}
	events := &stubWebhookEventRepo{
		recordFn: func(context.Context, string, string, time.Time) error {
			return conflictRepoError{}
		},
	}
	gateway := &stubGateway{
		parseFn: func([]byte, string) (payments.WebhookEvent, error) {
			return payments.WebhookEvent{ID: "evt_1", Type: payments.WebhookIntentSucceeded, OrderID: "ord_1"}, nil
		},
	}
	svc := newTestPaymentService(t, PaymentServiceDeps{Orders: repo, Gateway: gateway, WebhookEvents: events})

	if err := svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("duplicate delivery must be a no-op: %v", err)
	}
	if findCalled {
		t.Fatalf("duplicate delivery must not touch the order")
	}
}

func TestPaymentServiceHandleWebhookInvalidSignature(t *testing.T) {
	gateway := &stubGateway{
		parseFn: func([]byte, string) (payments.WebhookEvent, error) {
			return payments.WebhookEvent{}, payments.ErrInvalidSignature
		},
	}
	events := &stubWebhookEventRepo{}
	svc := newTestPaymentService(t, PaymentServiceDeps{Orders: &stubOrderRepo{}, Gateway: gateway, WebhookEvents: events})

	err := svc.HandleWebhook(context.Background(), []byte(`{}`), "bad")
	if !errors.Is(err, payments.ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if len(events.recorded) != 0 {
		t.Fatalf("rejected payloads must not be recorded: %v", events.recorded)
	}
}

func TestPaymentServiceHandleWebhookFailureCancelsAndRestocks(t *testing.T) {
	cancelCalled := false
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{
				ID:      "ord_1",
				UserID:  "user_1",
				Status:  domain.OrderStatusProcessing,
				Items:   []domain.OrderLineItem{{ProductRef: "prod_1", Quantity: 2}},
				Payment: domain.PaymentInfo{Status: domain.PaymentStatusPending},
			}, nil
		},
		cancelFn: func(_ context.Context, order domain.Order) (domain.Order, error) {
			cancelCalled = true
			if order.Status != domain.OrderStatusCancelled {
				t.Fatalf("expected cancelled order, got %s", order.Status)
			}
			if order.Payment.Status != domain.PaymentStatusFailed {
				t.Fatalf("expected failed payment, got %s", order.Payment.Status)
			}
			return order, nil
		},
	}
	gateway := &stubGateway{
		parseFn: func([]byte, string) (payments.WebhookEvent, error) {
			return payments.WebhookEvent{
				ID:      "evt_2",
				Type:    payments.WebhookIntentFailed,
				OrderID: "ord_1",
				Status:  payments.StatusFailed,
			}, nil
		},
	}
	svc := newTestPaymentService(t, PaymentServiceDeps{Orders: repo, Gateway: gateway, WebhookEvents: &stubWebhookEventRepo{}})

	if err := svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("HandleWebhook returned error: %v", err)
	}
	if !cancelCalled {
		t.Fatalf("payment failure must cancel with restock")
	}
}

func TestPaymentServiceHandleWebhookUnknownType(t *testing.T) {
	events := &stubWebhookEventRepo{}
	gateway := &stubGateway{
		parseFn: func([]byte, string) (payments.WebhookEvent, error) {
			return payments.WebhookEvent{ID: "evt_3", Type: "charge.captured", OrderID: "ord_1"}, nil
		},
	}
	svc := newTestPaymentService(t, PaymentServiceDeps{Orders: &stubOrderRepo{}, Gateway: gateway, WebhookEvents: events})

	if err := svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"); err != nil {
		t.Fatalf("unknown event types must be ignored: %v", err)
	}
	if len(events.recorded) != 0 {
		t.Fatalf("ignored events must not be recorded: %v", events.recorded)
	}
}

func TestPaymentServiceHandleWebhookApplyFailureReleasesMarker(t *testing.T) {
	repo := &stubOrderRepo{
		findFn: func(context.Context, string) (domain.Order, error) {
			return domain.Order{}, errors.New("firestore unavailable")
		},
	}
	events := &stubWebhookEventRepo{}
	gateway := &stubGateway{
		parseFn: func([]byte, string) (payments.WebhookEvent, error) {
			return payments.WebhookEvent{ID: "evt_4", Type: payments.WebhookIntentSucceeded, OrderID: "ord_1"}, nil
		},
	}
	svc := newTestPaymentService(t, PaymentServiceDeps{Orders: repo, Gateway: gateway, WebhookEvents: events})

	if err := svc.HandleWebhook(context.Background(), []byte(`{}`), "sig"); err == nil {
		t.Fatalf("expected apply error")
	}
	if len(events.deleted) != 1 || events.deleted[0] != "evt_4" {
		t.Fatalf("failed application must release the dedupe marker: %v", events.deleted)
	}
}

var _ repositories.WebhookEventRepository = (*stubWebhookEventRepo)(nil)
