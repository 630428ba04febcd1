package payments

import (
	"context"
	"errors"
	"time"
)

// Status is the gateway-agnostic payment intent state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// ErrInvalidSignature indicates a webhook payload failed signature verification.
var ErrInvalidSignature = errors.New("payments: invalid webhook signature")

// Intent is the normalised view of a gateway payment intent.
type Intent struct {
	ID           string
	ClientSecret string
	Amount       int64
	Currency     string
	Status       Status
	CreatedAt    time.Time
}

// IntentRequest creates a payment intent bound to an order via metadata.
type IntentRequest struct {
	OrderID        string
	Amount         int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundRequest creates a refund against a payment intent.
type RefundRequest struct {
	IntentID       string
	Amount         *int64
	Reason         string
	IdempotencyKey string
}

// WebhookEvent is a verified, normalised inbound gateway event.
type WebhookEvent struct {
	ID       string
	Type     string
	IntentID string
	OrderID  string
	Status   Status
}

// Recognised normalised webhook event types.
const (
	WebhookIntentSucceeded = "payment_intent.succeeded"
	WebhookIntentFailed    = "payment_intent.payment_failed"
)

// Gateway abstracts the external payment provider.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	RetrieveIntent(ctx context.Context, intentID string) (Intent, error)
	CreateRefund(ctx context.Context, req RefundRequest) (Intent, error)
	// ParseWebhook verifies the payload signature and normalises the event.
	// Verification failure returns ErrInvalidSignature before any state is
	// touched.
	ParseWebhook(payload []byte, signature string) (WebhookEvent, error)
}
