package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	pfirestore "github.com/shopfront/api/internal/platform/firestore"
)

const webhookEventsCollection = "webhookEvents"

type webhookEventDocument struct {
	Type       string    `firestore:"type"`
	ReceivedAt time.Time `firestore:"receivedAt"`
}

// WebhookEventRepository records processed gateway events so redelivered
// webhooks are applied at most once.
type WebhookEventRepository struct {
	provider *pfirestore.Provider
	events   *pfirestore.Collection[webhookEventDocument]
}

// NewWebhookEventRepository constructs a Firestore-backed webhook event store.
func NewWebhookEventRepository(provider *pfirestore.Provider) (*WebhookEventRepository, error) {
	if provider == nil {
		return nil, errors.New("webhook event repository requires firestore provider")
	}
	return &WebhookEventRepository{
		provider: provider,
		events:   pfirestore.NewCollection[webhookEventDocument](provider, webhookEventsCollection),
	}, nil
}

// Record stores the event marker keyed by gateway event ID. A conflict error
// means the event was already recorded.
func (r *WebhookEventRepository) Record(ctx context.Context, eventID string, eventType string, receivedAt time.Time) error {
	if r == nil || r.events == nil {
		return errors.New("webhook event repository not initialised")
	}
	id := strings.TrimSpace(eventID)
	if id == "" {
		return errors.New("webhook event id is required")
	}

	ref, err := r.events.Doc(ctx, id)
	if err != nil {
		return err
	}
	_, err = ref.Create(ctx, webhookEventDocument{
		Type:       strings.TrimSpace(eventType),
		ReceivedAt: receivedAt.UTC(),
	})
	return pfirestore.WrapError("webhookEvents.record", err)
}

// Delete removes the marker so a failed application can be retried on the
// gateway's next delivery attempt.
func (r *WebhookEventRepository) Delete(ctx context.Context, eventID string) error {
	if r == nil || r.events == nil {
		return errors.New("webhook event repository not initialised")
	}
	ref, err := r.events.Doc(ctx, strings.TrimSpace(eventID))
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError("webhookEvents.delete", err)
	}
	return nil
}
