// Package billing handles the payment provider boundary: checkout session
// creation and reconciliation of asynchronous payment webhooks, which may be
// redelivered arbitrarily many times and arrive in any order.
package billing

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"gallery/internal/domain"
	"gallery/internal/infra"
)

// Outcome is the reconciler's verdict for one delivery.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
)

// Granter applies payment-driven balance changes. Grants and revocations are
// commutative deltas keyed by event id.
type Granter interface {
	ApplyGrant(ctx context.Context, userID string, amount int64, eventID string)
}

// Reconciler consumes payment webhooks exactly once per event id. The event
// record store performs an atomic insert-if-absent, which is the sole
// idempotency mechanism: once an id is recorded, redeliveries are duplicates.
type Reconciler struct {
	secret string
	events domain.WebhookEventRepository
	ledger Granter
	logger infra.Logger
	now    func() time.Time
}

func NewReconciler(webhookSecret string, events domain.WebhookEventRepository, ledger Granter, logger infra.Logger) *Reconciler {
	return &Reconciler{
		secret: webhookSecret,
		events: events,
		ledger: ledger,
		logger: logger,
		now:    time.Now,
	}
}

type checkoutSessionObject struct {
	ID       string `json:"id"`
	Metadata struct {
		UserID  string `json:"user_id"`
		Credits string `json:"credits"`
	} `json:"metadata"`
}

type chargeRefundedObject struct {
	ID       string `json:"id"`
	Metadata struct {
		UserID  string `json:"user_id"`
		Credits string `json:"credits"`
	} `json:"metadata"`
}

// Handle verifies, deduplicates and applies one webhook delivery. Signature
// verification and timestamp tolerance are delegated to the Stripe SDK; an
// invalid signature is rejected without being recorded, so a later authentic
// delivery of the same event still applies. Duplicate is a success path: the
// payment provider must receive an acknowledgement so it stops redelivering.
func (rc *Reconciler) Handle(ctx context.Context, payload []byte, signatureHeader string) (Outcome, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, rc.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		rc.logger.Warn().Err(err).Msg("webhook: delivery failed verification")
		return OutcomeRejected, nil
	}
	if event.ID == "" {
		rc.logger.Warn().Msg("webhook: event id missing")
		return OutcomeRejected, nil
	}

	userID, delta, supported := rc.interpret(event)

	outcome := domain.WebhookOutcomeApplied
	if !supported {
		// Unknown or incomplete events carry no ledger effect but are still
		// recorded so redeliveries stop being reprocessed.
		outcome = domain.WebhookOutcomeRejected
	}
	inserted, err := rc.events.InsertIfAbsent(ctx, domain.WebhookEvent{
		EventID:   event.ID,
		EventType: string(event.Type),
		Outcome:   outcome,
		CreatedAt: rc.now(),
	})
	if err != nil {
		return OutcomeRejected, err
	}
	if !inserted {
		rc.logger.Debug().Str("event_id", event.ID).Msg("webhook: duplicate delivery")
		return OutcomeDuplicate, nil
	}
	if !supported {
		rc.logger.Info().Str("event_id", event.ID).Str("event_type", string(event.Type)).Msg("webhook: event recorded without ledger effect")
		return OutcomeRejected, nil
	}

	rc.ledger.ApplyGrant(ctx, userID, delta, event.ID)
	rc.logger.Info().Str("event_id", event.ID).Str("user_id", userID).Int64("credits", delta).Msg("webhook: grant applied")
	return OutcomeApplied, nil
}

// interpret maps a verified event to a ledger delta. Returns supported=false
// for event types or payloads the reconciler does not act on.
func (rc *Reconciler) interpret(event stripe.Event) (userID string, delta int64, supported bool) {
	var raw json.RawMessage
	if event.Data != nil {
		raw = event.Data.Raw
	}
	switch event.Type {
	case "checkout.session.completed":
		var obj checkoutSessionObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", 0, false
		}
		credits, err := strconv.ParseInt(obj.Metadata.Credits, 10, 64)
		if err != nil || credits <= 0 || obj.Metadata.UserID == "" {
			return "", 0, false
		}
		return obj.Metadata.UserID, credits, true
	case "charge.refunded":
		var obj chargeRefundedObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", 0, false
		}
		credits, err := strconv.ParseInt(obj.Metadata.Credits, 10, 64)
		if err != nil || credits <= 0 || obj.Metadata.UserID == "" {
			return "", 0, false
		}
		// Purchase refunded: revoke the granted credits.
		return obj.Metadata.UserID, -credits, true
	default:
		return "", 0, false
	}
}
