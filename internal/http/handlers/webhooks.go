package handlers

import (
	"io"
	"net/http"

	"gallery/internal/billing"
)

const maxWebhookBody = 1 << 20

// StripeWebhook receives payment events. Replayed deliveries are
// acknowledged without reapplying their credit effect.
func (a *App) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable payload")
		return
	}
	outcome, err := a.Reconciler.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		a.Logger.Error().Err(err).Msg("webhook: processing failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to process event")
		return
	}
	switch outcome {
	case billing.OutcomeApplied, billing.OutcomeDuplicate:
		a.json(w, http.StatusOK, map[string]string{"status": string(outcome)})
	default:
		a.error(w, http.StatusBadRequest, "rejected", "event was rejected")
	}
}
