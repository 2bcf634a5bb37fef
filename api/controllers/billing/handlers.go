package billing

import (
	"context"
	"net/http"

	"github.com/podgenhq/podgen-backend/api/middleware"
	"github.com/podgenhq/podgen-backend/api/responses"
	"github.com/podgenhq/podgen-backend/api/validators"
	"github.com/podgenhq/podgen-backend/internal/subscriptions"
	"github.com/podgenhq/podgen-backend/pkg/auth"
	"github.com/podgenhq/podgen-backend/pkg/enums"
	pkgerrors "github.com/podgenhq/podgen-backend/pkg/errors"
	"github.com/podgenhq/podgen-backend/pkg/logger"
)

type SubscriptionService interface {
	StartCheckout(ctx context.Context, identity *auth.Identity, input subscriptions.CheckoutInput) (*subscriptions.CheckoutResult, error)
	Cancel(ctx context.Context, identity *auth.Identity) error
	BillingPortal(ctx context.Context, identity *auth.Identity) (*subscriptions.PortalResult, error)
}

type checkoutRequest struct {
	Plan     string `json:"plan" validate:"required,oneof=pro enterprise"`
	Interval string `json:"interval" validate:"omitempty,oneof=monthly annual"`
}

// StartCheckout opens a hosted checkout session for the requested plan.
func StartCheckout(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var body checkoutRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		plan, err := enums.ParsePlan(body.Plan)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid plan"))
			return
		}

		interval := subscriptions.BillingInterval(body.Interval)
		if interval == "" {
			interval = subscriptions.IntervalMonthly
		}

		result, err := svc.StartCheckout(ctx, middleware.IdentityFromContext(ctx), subscriptions.CheckoutInput{
			Plan:     plan,
			Interval: interval,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}

// CancelSubscription cancels the caller's active subscription at the billing
// provider. Plan state changes land later through webhook processing.
func CancelSubscription(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if err := svc.Cancel(ctx, middleware.IdentityFromContext(ctx)); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "canceled"})
	}
}

// OpenBillingPortal opens a hosted billing portal session for the caller.
func OpenBillingPortal(svc SubscriptionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		result, err := svc.BillingPortal(ctx, middleware.IdentityFromContext(ctx))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, result)
	}
}
