package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"

	"gallery/internal/infra"
)

// CreditPack is a purchasable bundle of credits.
type CreditPack struct {
	Name       string
	Credits    int64
	UnitAmount int64 // USD cents
}

// CreditPacks lists the packs offered at checkout.
var CreditPacks = map[string]CreditPack{
	"credits_100": {Name: "100 Credits", Credits: 100, UnitAmount: 2500},
	"credits_500": {Name: "500 Credits", Credits: 500, UnitAmount: 10000},
}

// CheckoutClient creates Stripe checkout and billing-portal sessions. The
// session metadata carries the user id and credit count the webhook
// reconciler later reads back.
type CheckoutClient struct {
	successURL string
	cancelURL  string
	logger     infra.Logger
}

func NewCheckoutClient(secretKey, successURL, cancelURL string, logger infra.Logger) *CheckoutClient {
	stripe.Key = secretKey
	return &CheckoutClient{successURL: successURL, cancelURL: cancelURL, logger: logger}
}

// EnsureCustomer returns the user's Stripe customer id, creating the
// customer on first use.
func (c *CheckoutClient) EnsureCustomer(ctx context.Context, userID, email, existingCustomerID string) (string, error) {
	if existingCustomerID != "" {
		return existingCustomerID, nil
	}
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	params.AddMetadata("user_id", userID)
	params.AddMetadata("credits", "0")
	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	c.logger.Info().Str("user_id", userID).Str("customer_id", cust.ID).Msg("billing: stripe customer created")
	return cust.ID, nil
}

// CreateCheckoutSession builds a payment session for a credit pack and
// returns its URL.
func (c *CheckoutClient) CreateCheckoutSession(ctx context.Context, userID, customerID, packKey string) (string, error) {
	pack, ok := CreditPacks[packKey]
	if !ok {
		return "", fmt.Errorf("unknown credit pack %q", packKey)
	}
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(customerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(string(stripe.CurrencyUSD)),
				UnitAmount: stripe.Int64(pack.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(pack.Name),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(c.successURL),
		CancelURL:  stripe.String(c.cancelURL),
	}
	params.Context = ctx
	params.AddMetadata("user_id", userID)
	params.AddMetadata("credits", fmt.Sprintf("%d", pack.Credits))
	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// CreatePortalSession returns a billing-portal URL for the customer.
func (c *CheckoutClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx
	sess, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}
