package domain

import (
	"context"
	"time"
)

// RenderRepository defines persistence for render records.
type RenderRepository interface {
	Create(ctx context.Context, render *Render) error
	// Update persists the render's mutable fields (status, attempts, failure
	// reason, result references, metadata) in a single write.
	Update(ctx context.Context, render *Render) error
	GetByID(ctx context.Context, id string) (*Render, error)
}

// WebhookOutcome is the recorded processing result for a payment event.
type WebhookOutcome string

const (
	WebhookOutcomeApplied  WebhookOutcome = "applied"
	WebhookOutcomeRejected WebhookOutcome = "rejected"
)

// WebhookEvent is the append-only dedup record for one external payment
// event id.
type WebhookEvent struct {
	EventID   string
	EventType string
	Outcome   WebhookOutcome
	CreatedAt time.Time
}

// WebhookEventRepository stores webhook dedup records. InsertIfAbsent must be
// atomic under concurrent redelivery of the same event id.
type WebhookEventRepository interface {
	// InsertIfAbsent records the event and returns true, or returns false
	// when the event id was recorded before.
	InsertIfAbsent(ctx context.Context, event WebhookEvent) (bool, error)
}

// UserRepository resolves account details the billing layer needs.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*User, error)
	StripeCustomerID(ctx context.Context, userID string) (string, error)
	SetStripeCustomerID(ctx context.Context, userID, customerID string) error
}

// User is a gallery account. OAuth sign-in is handled upstream; the pipeline
// only needs identity and the payment customer mapping.
type User struct {
	ID               string
	GoogleSub        string
	Email            string
	StripeCustomerID string
	CreatedAt        time.Time
}
