package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	domain "github.com/shopfront/api/internal/domain"
)

// Notification event types consumed by the downstream email worker.
const (
	EventOrderCreated  = "order.created"
	EventStatusChanged = "order.status.changed"
)

// Message is the envelope published for every customer notification.
type Message struct {
	Type        string    `json:"type"`
	OrderID     string    `json:"orderId"`
	OrderNumber string    `json:"orderNumber"`
	UserID      string    `json:"userId"`
	Email       string    `json:"email,omitempty"`
	Status      string    `json:"status"`
	Note        string    `json:"note,omitempty"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// Notifier triggers customer-facing notifications. Implementations are
// best-effort; callers log failures and never roll back order mutations.
type Notifier interface {
	NotifyOrderCreated(ctx context.Context, user domain.User, order domain.Order) error
	NotifyStatusChanged(ctx context.Context, user domain.User, order domain.Order, note string) error
}

// PubSubNotifier publishes notification messages to a Pub/Sub topic.
type PubSubNotifier struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
	clock   func() time.Time
}

// NewPubSubNotifier constructs a Pub/Sub backed notifier.
func NewPubSubNotifier(topic *pubsub.Topic) (*PubSubNotifier, error) {
	if topic == nil {
		return nil, errors.New("pubsub notifier: topic is required")
	}
	return &PubSubNotifier{
		topic:   topic,
		marshal: json.Marshal,
		clock:   time.Now,
	}, nil
}

// NotifyOrderCreated publishes an order.created message.
func (n *PubSubNotifier) NotifyOrderCreated(ctx context.Context, user domain.User, order domain.Order) error {
	return n.publish(ctx, Message{
		Type:        EventOrderCreated,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Email:       user.Email,
		Status:      string(order.Status),
		OccurredAt:  n.clock().UTC(),
	})
}

// NotifyStatusChanged publishes an order.status.changed message.
func (n *PubSubNotifier) NotifyStatusChanged(ctx context.Context, user domain.User, order domain.Order, note string) error {
	return n.publish(ctx, Message{
		Type:        EventStatusChanged,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Email:       user.Email,
		Status:      string(order.Status),
		Note:        note,
		OccurredAt:  n.clock().UTC(),
	})
}

func (n *PubSubNotifier) publish(ctx context.Context, message Message) error {
	if n == nil || n.topic == nil {
		return errors.New("pubsub notifier: not initialised")
	}

	data, err := n.marshal(message)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", message.Type)
	setAttr(attrs, "orderId", message.OrderID)
	setAttr(attrs, "userId", message.UserID)
	setAttr(attrs, "status", message.Status)

	result := n.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

// NopNotifier drops every notification. Used when no topic is configured.
type NopNotifier struct{}

// NotifyOrderCreated implements Notifier.
func (NopNotifier) NotifyOrderCreated(context.Context, domain.User, domain.Order) error {
	return nil
}

// NotifyStatusChanged implements Notifier.
func (NopNotifier) NotifyStatusChanged(context.Context, domain.User, domain.Order, string) error {
	return nil
}
