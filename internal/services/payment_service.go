package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/shopfront/api/internal/domain"
	"github.com/shopfront/api/internal/notifications"
	"github.com/shopfront/api/internal/payments"
	"github.com/shopfront/api/internal/repositories"
)

const defaultCurrency = "usd"

var (
	// ErrPaymentGateway signals the upstream payment provider failed.
	ErrPaymentGateway = errors.New("payment: gateway failure")
	// ErrPaymentIncomplete indicates the intent has not succeeded yet.
	ErrPaymentIncomplete = errors.New("payment: not completed")
)

// PaymentServiceDeps bundles collaborators for the payment bridge.
type PaymentServiceDeps struct {
	Orders        repositories.OrderRepository
	Users         repositories.UserRepository
	WebhookEvents repositories.WebhookEventRepository
	Gateway       payments.Gateway
	Notifier      notifications.Notifier
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	orders        repositories.OrderRepository
	users         repositories.UserRepository
	webhookEvents repositories.WebhookEventRepository
	gateway       payments.Gateway
	notifier      notifications.Notifier
	clock         func() time.Time
	logger        func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("payment service: gateway is required")
	}
	if deps.WebhookEvents == nil {
		return nil, errors.New("payment service: webhook event repository is required")
	}

	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NopNotifier{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		orders:        deps.Orders,
		users:         deps.Users,
		webhookEvents: deps.WebhookEvents,
		gateway:       deps.Gateway,
		notifier:      notifier,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *paymentService) CreateIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (payments.Intent, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return payments.Intent{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return payments.Intent{}, mapOrderRepositoryError(err)
	}
	if requester := strings.TrimSpace(cmd.RequesterID); requester != "" && requester != order.UserID {
		return payments.Intent{}, fmt.Errorf("%w: order belongs to another user", ErrOrderForbidden)
	}
	if order.Payment.Status != domain.PaymentStatusPending {
		return payments.Intent{}, fmt.Errorf("%w: payment already %s", ErrOrderInvalidState, order.Payment.Status)
	}

	intent, err := s.gateway.CreateIntent(ctx, payments.IntentRequest{
		OrderID:        order.ID,
		Amount:         order.Totals.Total,
		Currency:       defaultCurrency,
		IdempotencyKey: "intent-" + order.ID,
	})
	if err != nil {
		return payments.Intent{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}

	order.Payment.TransactionID = intent.ID
	order.UpdatedAt = s.clock()
	if _, err := s.orders.Update(ctx, order); err != nil {
		return payments.Intent{}, mapOrderRepositoryError(err)
	}

	s.logger(ctx, "payment.intent.created", map[string]any{
		"order":  order.ID,
		"intent": intent.ID,
		"amount": intent.Amount,
	})

	return intent, nil
}

func (s *paymentService) ConfirmPayment(ctx context.Context, cmd ConfirmPaymentCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	intentID := strings.TrimSpace(cmd.IntentID)
	if intentID == "" {
		return domain.Order{}, fmt.Errorf("%w: intent id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, mapOrderRepositoryError(err)
	}
	if requester := strings.TrimSpace(cmd.RequesterID); requester != "" && requester != order.UserID {
		return domain.Order{}, fmt.Errorf("%w: order belongs to another user", ErrOrderForbidden)
	}

	intent, err := s.gateway.RetrieveIntent(ctx, intentID)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}
	if intent.Status != payments.StatusSucceeded {
		return domain.Order{}, fmt.Errorf("%w: intent status %s", ErrPaymentIncomplete, intent.Status)
	}

	now := s.clock()
	updated, err := s.markPaid(ctx, order, intent.ID, now)
	if err != nil {
		return domain.Order{}, err
	}

	s.notifyStatus(ctx, updated, "Payment received")

	return updated, nil
}

func (s *paymentService) Refund(ctx context.Context, cmd RefundPaymentCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, mapOrderRepositoryError(err)
	}
	if strings.TrimSpace(order.Payment.TransactionID) == "" {
		return domain.Order{}, fmt.Errorf("%w: order has no payment to refund", ErrOrderInvalidState)
	}
	if order.Payment.Status != domain.PaymentStatusCompleted {
		return domain.Order{}, fmt.Errorf("%w: payment status %s is not refundable", ErrOrderInvalidState, order.Payment.Status)
	}

	intent, err := s.gateway.CreateRefund(ctx, payments.RefundRequest{
		IntentID:       order.Payment.TransactionID,
		Amount:         cmd.Amount,
		Reason:         cmd.Reason,
		IdempotencyKey: "refund-" + order.ID,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrPaymentGateway, err)
	}

	order.Payment.Status = domain.PaymentStatusRefunded
	order.UpdatedAt = s.clock()
	updated, err := s.orders.Update(ctx, order)
	if err != nil {
		return domain.Order{}, mapOrderRepositoryError(err)
	}

	s.logger(ctx, "payment.refunded", map[string]any{
		"order":  order.ID,
		"intent": intent.ID,
		"actor":  cmd.ActorID,
	})

	return updated, nil
}

func (s *paymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		return err
	}

	switch event.Type {
	case payments.WebhookIntentSucceeded, payments.WebhookIntentFailed:
	default:
		s.logger(ctx, "payment.webhook.ignored", map[string]any{
			"event": event.ID,
			"type":  event.Type,
		})
		return nil
	}

	if strings.TrimSpace(event.OrderID) == "" {
		s.logger(ctx, "payment.webhook.unlinked", map[string]any{
			"event": event.ID,
			"type":  event.Type,
		})
		return nil
	}

	now := s.clock()
	if err := s.webhookEvents.Record(ctx, event.ID, event.Type, now); err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsConflict() {
			s.logger(ctx, "payment.webhook.duplicate", map[string]any{
				"event": event.ID,
			})
			return nil
		}
		return fmt.Errorf("payment: record webhook event: %w", err)
	}

	if err := s.applyWebhookEvent(ctx, event, now); err != nil {
		// Release the dedupe marker so the gateway's retry can reapply.
		if delErr := s.webhookEvents.Delete(ctx, event.ID); delErr != nil {
			s.logger(ctx, "payment.webhook.release.failed", map[string]any{
				"event": event.ID,
				"error": delErr.Error(),
			})
		}
		return err
	}
	return nil
}

func (s *paymentService) applyWebhookEvent(ctx context.Context, event payments.WebhookEvent, now time.Time) error {
	order, err := s.orders.FindByID(ctx, event.OrderID)
	if err != nil {
		return mapOrderRepositoryError(err)
	}

	switch event.Type {
	case payments.WebhookIntentSucceeded:
		updated, err := s.markPaid(ctx, order, event.IntentID, now)
		if err != nil {
			return err
		}
		s.notifyStatus(ctx, updated, "Payment received")
		return nil

	case payments.WebhookIntentFailed:
		order.Payment.Status = domain.PaymentStatusFailed
		if event.IntentID != "" {
			order.Payment.TransactionID = event.IntentID
		}

		if canTransition(order.Status, domain.OrderStatusCancelled) && order.Status != domain.OrderStatusCancelled {
			note := "Payment failed"
			order.Notes = note
			if err := applyStatusTransition(&order, domain.OrderStatusCancelled, note, now); err != nil {
				return err
			}
			updated, err := s.orders.CancelAndRestock(ctx, order)
			if err != nil {
				return mapOrderRepositoryError(err)
			}
			s.notifyStatus(ctx, updated, note)
			return nil
		}

		order.UpdatedAt = now
		if _, err := s.orders.Update(ctx, order); err != nil {
			return mapOrderRepositoryError(err)
		}
		return nil
	}
	return nil
}

// markPaid flips the payment to completed and confirms the order. Orders
// already past processing keep their status; the payment fields still update.
func (s *paymentService) markPaid(ctx context.Context, order domain.Order, intentID string, now time.Time) (domain.Order, error) {
	order.Payment.Status = domain.PaymentStatusCompleted
	order.Payment.PaidAt = &now
	if intentID != "" {
		order.Payment.TransactionID = intentID
	}

	if order.Status == domain.OrderStatusProcessing {
		if err := applyStatusTransition(&order, domain.OrderStatusConfirmed, "Payment received", now); err != nil {
			return domain.Order{}, err
		}
	} else {
		order.UpdatedAt = now
	}

	updated, err := s.orders.Update(ctx, order)
	if err != nil {
		return domain.Order{}, mapOrderRepositoryError(err)
	}
	return updated, nil
}

func (s *paymentService) notifyStatus(ctx context.Context, order domain.Order, note string) {
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notificationTimeout)
	defer cancel()

	var user domain.User
	if s.users != nil {
		found, err := s.users.FindByID(notifyCtx, order.UserID)
		if err != nil {
			s.logger(ctx, "payment.notify.user.lookup.failed", map[string]any{
				"order": order.ID,
				"user":  order.UserID,
				"error": err.Error(),
			})
		} else {
			user = found
		}
	}

	if err := s.notifier.NotifyStatusChanged(notifyCtx, user, order, note); err != nil {
		s.logger(ctx, "payment.notify.failed", map[string]any{
			"order":  order.ID,
			"status": string(order.Status),
			"error":  err.Error(),
		})
	}
}
