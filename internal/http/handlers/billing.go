package handlers

import (
	"encoding/json"
	"net/http"

	"gallery/internal/billing"
)

type checkoutRequest struct {
	Pack string `json:"pack"`
}

func (a *App) BillingCheckout(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if _, ok := billing.CreditPacks[req.Pack]; !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "unknown credit pack")
		return
	}

	user, err := a.Users.GetByID(r.Context(), userID)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	customerID, err := a.Checkout.EnsureCustomer(r.Context(), user.ID, user.Email, user.StripeCustomerID)
	if err != nil {
		a.error(w, http.StatusBadGateway, "payment_provider", "failed to prepare customer")
		return
	}
	if user.StripeCustomerID == "" {
		if err := a.Users.SetStripeCustomerID(r.Context(), user.ID, customerID); err != nil {
			a.error(w, http.StatusInternalServerError, "internal", "failed to store billing account")
			return
		}
	}
	url, err := a.Checkout.CreateCheckoutSession(r.Context(), user.ID, customerID, req.Pack)
	if err != nil {
		a.error(w, http.StatusBadGateway, "payment_provider", "failed to create checkout session")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"checkout_url": url})
}

func (a *App) BillingPortal(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	customerID, err := a.Users.StripeCustomerID(r.Context(), userID)
	if err != nil || customerID == "" {
		a.error(w, http.StatusNotFound, "not_found", "no billing account for user")
		return
	}
	url, err := a.Checkout.CreatePortalSession(r.Context(), customerID, a.Config.CheckoutSuccessURL)
	if err != nil {
		a.error(w, http.StatusBadGateway, "payment_provider", "failed to create portal session")
		return
	}
	a.json(w, http.StatusOK, map[string]string{"portal_url": url})
}

// Me returns the caller's identity, credit balance and the available packs.
func (a *App) Me(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	user, err := a.Users.GetByID(r.Context(), userID)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "user not found")
		return
	}
	balance, err := a.Ledger.Balance(r.Context(), userID)
	if err != nil {
		a.error(w, http.StatusServiceUnavailable, "balance_unavailable", "credit balance could not be verified")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"id":      user.ID,
		"email":   user.Email,
		"credits": balance,
		"packs":   billing.CreditPacks,
	})
}
