package subscriptions

import (
	"context"

	"github.com/stripe/stripe-go/v84"

	pkgstripe "github.com/podgenhq/podgen-backend/pkg/stripe"
)

// StripeBillingClient exposes the subset of Stripe operations required by the
// subscription service and webhook processing.
type StripeBillingClient interface {
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error)
	CreatePortalSession(ctx context.Context, params *stripe.BillingPortalSessionCreateParams) (*stripe.BillingPortalSession, error)
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	CancelSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	GetProduct(ctx context.Context, id string) (*stripe.Product, error)
}

type stripeClientWrapper struct {
	api *stripe.Client
}

// NewStripeClient narrows the configured Stripe client to the operations the
// subscription service needs, so tests can swap in a fake.
func NewStripeClient(client *pkgstripe.Client) StripeBillingClient {
	api := client.API()
	if api == nil {
		return nil
	}
	return &stripeClientWrapper{api: api}
}

func (w *stripeClientWrapper) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	return w.api.V1CheckoutSessions.Create(ctx, params)
}

func (w *stripeClientWrapper) CreatePortalSession(ctx context.Context, params *stripe.BillingPortalSessionCreateParams) (*stripe.BillingPortalSession, error) {
	return w.api.V1BillingPortalSessions.Create(ctx, params)
}

func (w *stripeClientWrapper) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return w.api.V1Subscriptions.Retrieve(ctx, id, nil)
}

func (w *stripeClientWrapper) CancelSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return w.api.V1Subscriptions.Cancel(ctx, id, nil)
}

func (w *stripeClientWrapper) GetProduct(ctx context.Context, id string) (*stripe.Product, error) {
	return w.api.V1Products.Retrieve(ctx, id, nil)
}
