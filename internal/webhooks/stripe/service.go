package stripewebhook

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/stripe/stripe-go/v84"

	"github.com/podgenhq/podgen-backend/internal/payments"
	"github.com/podgenhq/podgen-backend/internal/subscriptions"
	"github.com/podgenhq/podgen-backend/internal/users"
	"github.com/podgenhq/podgen-backend/pkg/enums"
	pkgerrors "github.com/podgenhq/podgen-backend/pkg/errors"
	"github.com/podgenhq/podgen-backend/pkg/logger"
)

type userStore interface {
	UpdateSubscriptionBySubject(ctx context.Context, subjectID string, dto users.SubscriptionUpdateDTO) (int64, error)
	UpdateSubscriptionBySubID(ctx context.Context, subscriptionID string, dto users.SubscriptionUpdateDTO) (int64, error)
	ClearSubscriptionBySubID(ctx context.Context, subscriptionID string) (int64, error)
}

type paymentLedger interface {
	Fulfill(ctx context.Context, externalID string, customerID *string) error
	MarkFailed(ctx context.Context, externalID string) error
}

type ServiceParams struct {
	Users        userStore
	Ledger       paymentLedger
	StripeClient subscriptions.StripeBillingClient
	Logger       *logger.Logger
}

// Service applies billing events to account state. Every handler is
// idempotent: a replayed delivery settles into the same final state, so the
// provider can redeliver freely.
type Service struct {
	users  userStore
	ledger paymentLedger
	stripe subscriptions.StripeBillingClient
	logger *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Users == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "user store required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment ledger required")
	}
	if params.StripeClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	return &Service{
		users:  params.Users,
		ledger: params.Ledger,
		stripe: params.StripeClient,
		logger: params.Logger,
	}, nil
}

// HandleEvent routes a verified event to its handler. Unrecognized event
// types acknowledge successfully so the provider stops redelivering them.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session event")
		}
		return s.handleCheckoutCompleted(ctx, &session)

	case stripe.EventTypeCheckoutSessionExpired, stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session event")
		}
		return s.ledger.MarkFailed(ctx, session.ID)

	case stripe.EventTypeInvoicePaid, stripe.EventTypeInvoicePaymentSucceeded:
		subscriptionID := event.GetObjectValue("subscription")
		if subscriptionID == "" {
			// Invoices without a subscription (one-off charges) have nothing
			// to refresh.
			return nil
		}
		sub, err := s.stripe.GetSubscription(ctx, subscriptionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch subscription")
		}
		return s.refreshBySubscription(ctx, sub)

	case stripe.EventTypeCustomerSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
		}
		// A pending cancellation (cancel_at_period_end) still refreshes plan
		// state here; the demotion only lands on subscription.deleted.
		return s.refreshBySubscription(ctx, &sub)

	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
		}
		return s.handleSubscriptionDeleted(ctx, &sub)

	default:
		return nil
	}
}

// handleCheckoutCompleted promotes the purchasing account and settles the
// ledger entry bound to the session. The two writes are each idempotent, so a
// redelivery after a partial failure converges on the same state.
func (s *Service) handleCheckoutCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	subject := session.Metadata[subscriptions.MetadataUserID]
	if subject == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout session missing account metadata")
	}
	if session.Subscription == nil || session.Subscription.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout session missing subscription")
	}

	sub, err := s.stripe.GetSubscription(ctx, session.Subscription.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch subscription")
	}
	plan, err := s.resolvePlan(ctx, sub)
	if err != nil {
		return err
	}

	var customerID *string
	if session.Customer != nil && session.Customer.ID != "" {
		customerID = &session.Customer.ID
	}

	subscriptionID := sub.ID
	rows, err := s.users.UpdateSubscriptionBySubject(ctx, subject, users.SubscriptionUpdateDTO{
		Plan:           plan,
		SubscriptionID: &subscriptionID,
		CustomerID:     customerID,
		PlanEndsAt:     subscriptions.PeriodEnd(sub),
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "promote account")
	}
	if rows == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "account for checkout session not found")
	}

	if err := s.ledger.Fulfill(ctx, session.ID, customerID); err != nil {
		if errors.Is(err, payments.ErrAlreadyFulfilled) {
			if s.logger != nil {
				s.logger.Info(ctx, "checkout fulfillment replayed")
			}
			return nil
		}
		return err
	}
	return nil
}

// refreshBySubscription re-syncs plan tier and period end for the account
// holding the subscription. Accounts the billing provider knows about but we
// do not are acknowledged without effect.
func (s *Service) refreshBySubscription(ctx context.Context, sub *stripe.Subscription) error {
	if sub == nil || sub.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription is required")
	}

	plan, err := s.resolvePlan(ctx, sub)
	if err != nil {
		return err
	}

	rows, err := s.users.UpdateSubscriptionBySubID(ctx, sub.ID, users.SubscriptionUpdateDTO{
		Plan:       plan,
		PlanEndsAt: subscriptions.PeriodEnd(sub),
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "refresh subscription state")
	}
	if rows == 0 && s.logger != nil {
		s.logger.Warn(ctx, "subscription event for unknown account")
	}
	return nil
}

// handleSubscriptionDeleted demotes the account to the free tier. Zero rows
// means the account was already demoted or never tracked; both are fine.
func (s *Service) handleSubscriptionDeleted(ctx context.Context, sub *stripe.Subscription) error {
	if sub == nil || sub.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription is required")
	}
	if _, err := s.users.ClearSubscriptionBySubID(ctx, sub.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "demote account")
	}
	return nil
}

func (s *Service) resolvePlan(ctx context.Context, sub *stripe.Subscription) (enums.Plan, error) {
	productID := subscriptions.ProductIDFromSubscription(sub)
	if productID == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "subscription missing product")
	}
	product, err := s.stripe.GetProduct(ctx, productID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch product")
	}
	return subscriptions.PlanFromProductName(product.Name)
}
