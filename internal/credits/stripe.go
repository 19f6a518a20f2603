package credits

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"

	"gallery/internal/domain"
	"gallery/internal/infra"
)

const creditsMetadataKey = "credits"

// CustomerResolver maps a gallery user to their Stripe customer id.
type CustomerResolver interface {
	StripeCustomerID(ctx context.Context, userID string) (string, error)
}

// StripeBalanceClient stores each user's credit count in Stripe customer
// metadata, the same place money changes hands. Stripe is therefore the
// authoritative balance.
type StripeBalanceClient struct {
	customers CustomerResolver
	logger    infra.Logger
}

func NewStripeBalanceClient(secretKey string, customers CustomerResolver, logger infra.Logger) *StripeBalanceClient {
	stripe.Key = secretKey
	return &StripeBalanceClient{customers: customers, logger: logger}
}

func (c *StripeBalanceClient) FetchBalance(ctx context.Context, userID string) (int64, error) {
	customerID, err := c.customers.StripeCustomerID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("resolve stripe customer: %w", err)
	}
	if customerID == "" {
		// No payment profile yet means no purchased credits.
		return 0, nil
	}
	params := &stripe.CustomerParams{}
	params.Context = ctx
	cust, err := customer.Get(customerID, params)
	if err != nil {
		return 0, fmt.Errorf("retrieve stripe customer %s: %w", customerID, err)
	}
	return parseCredits(cust.Metadata), nil
}

func (c *StripeBalanceClient) AdjustBalance(ctx context.Context, userID string, delta int64, idempotencyKey string) error {
	customerID, err := c.customers.StripeCustomerID(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve stripe customer: %w", err)
	}
	if customerID == "" {
		return fmt.Errorf("user %s: no stripe customer: %w", userID, domain.ErrNotFound)
	}
	getParams := &stripe.CustomerParams{}
	getParams.Context = ctx
	cust, err := customer.Get(customerID, getParams)
	if err != nil {
		return fmt.Errorf("retrieve stripe customer %s: %w", customerID, err)
	}
	next := parseCredits(cust.Metadata) + delta
	if next < 0 {
		next = 0
	}
	updateParams := &stripe.CustomerParams{}
	updateParams.Context = ctx
	updateParams.IdempotencyKey = stripe.String(idempotencyKey)
	updateParams.AddMetadata(creditsMetadataKey, strconv.FormatInt(next, 10))
	if _, err := customer.Update(customerID, updateParams); err != nil {
		return fmt.Errorf("update stripe customer %s: %w", customerID, err)
	}
	c.logger.Debug().Str("user_id", userID).Int64("delta", delta).Int64("credits", next).Msg("ledger: stripe balance updated")
	return nil
}

func parseCredits(metadata map[string]string) int64 {
	raw, ok := metadata[creditsMetadataKey]
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

var _ BalanceClient = (*StripeBalanceClient)(nil)
