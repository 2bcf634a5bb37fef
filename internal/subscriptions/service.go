package subscriptions

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/podgenhq/podgen-backend/internal/users"
	"github.com/podgenhq/podgen-backend/pkg/auth"
	"github.com/podgenhq/podgen-backend/pkg/config"
	"github.com/podgenhq/podgen-backend/pkg/db/models"
	"github.com/podgenhq/podgen-backend/pkg/enums"
	pkgerrors "github.com/podgenhq/podgen-backend/pkg/errors"
	"github.com/podgenhq/podgen-backend/pkg/logger"
)

// Metadata keys stamped onto the checkout session so webhook processing can
// route the fulfillment back to the account and ledger entry.
const (
	MetadataUserID    = "userId"
	MetadataPaymentID = "paymentId"
)

type userRepository interface {
	GetOrCreateBySubject(ctx context.Context, dto users.CreateUserDTO) (*models.User, error)
}

type paymentLedger interface {
	Create(ctx context.Context, userID uuid.UUID) (*models.PaymentRecord, error)
	MarkPending(ctx context.Context, id uuid.UUID, externalID string) error
}

// CheckoutInput captures the purchase request.
type CheckoutInput struct {
	Plan     enums.Plan
	Interval BillingInterval
}

// CheckoutResult carries the hosted checkout session back to the client.
type CheckoutResult struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// PortalResult carries the hosted billing portal session back to the client.
type PortalResult struct {
	URL string `json:"url"`
}

// Service drives the subscription purchase and cancellation lifecycle. Plan
// state itself only changes through webhook processing.
type Service struct {
	users    userRepository
	ledger   paymentLedger
	billing  StripeBillingClient
	stripe   config.StripeConfig
	checkout config.CheckoutConfig
	quota    config.QuotaConfig
	logger   *logger.Logger
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Users    userRepository
	Ledger   paymentLedger
	Billing  StripeBillingClient
	Stripe   config.StripeConfig
	Checkout config.CheckoutConfig
	Quota    config.QuotaConfig
	Logger   *logger.Logger
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (*Service, error) {
	if params.Users == nil {
		return nil, fmt.Errorf("user repo required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("payment ledger required")
	}
	if params.Billing == nil {
		return nil, fmt.Errorf("billing client required")
	}
	return &Service{
		users:    params.Users,
		ledger:   params.Ledger,
		billing:  params.Billing,
		stripe:   params.Stripe,
		checkout: params.Checkout,
		quota:    params.Quota,
		logger:   params.Logger,
	}, nil
}

// StartCheckout opens a pending ledger entry and a hosted checkout session
// for the requested plan. The ledger entry is created before the session so a
// crash in between leaves an orphaned pending row instead of an untracked
// payment.
func (s *Service) StartCheckout(ctx context.Context, identity *auth.Identity, input CheckoutInput) (*CheckoutResult, error) {
	if identity == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "identity required")
	}
	if !identity.EmailVerified {
		return nil, pkgerrors.New(pkgerrors.CodeEmailUnverified, "checkout requires a verified email")
	}

	interval := input.Interval
	if interval == "" {
		interval = IntervalMonthly
	}
	priceID, err := PriceIDForPlan(s.stripe, input.Plan, interval)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetOrCreateBySubject(ctx, users.CreateUserDTO{
		SubjectID:      identity.Subject,
		Email:          identity.Email,
		EmailVerified:  identity.EmailVerified,
		FreeThumbnails: s.quota.FreeThumbnails,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}

	record, err := s.ledger.Create(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionCreateParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionCreateLineItemParams{{
			Price:    stripe.String(priceID),
			Quantity: stripe.Int64(1),
		}},
		SuccessURL:    stripe.String(s.checkout.SuccessURL()),
		CancelURL:     stripe.String(s.checkout.CancelURL()),
		CustomerEmail: stripe.String(identity.Email),
		SubscriptionData: &stripe.CheckoutSessionCreateSubscriptionDataParams{
			Metadata: map[string]string{
				MetadataUserID:    identity.Subject,
				MetadataPaymentID: record.ID.String(),
			},
		},
	}
	params.AddMetadata(MetadataUserID, identity.Subject)
	params.AddMetadata(MetadataPaymentID, record.ID.String())
	if user.CustomerID != nil && *user.CustomerID != "" {
		params.Customer = stripe.String(*user.CustomerID)
		params.CustomerEmail = nil
	}

	session, err := s.billing.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}

	if err := s.ledger.MarkPending(ctx, record.ID, session.ID); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info(s.logger.WithSubject(ctx, identity.Subject), "checkout session opened")
	}
	return &CheckoutResult{SessionID: session.ID, URL: session.URL}, nil
}

// Cancel terminates the caller's subscription immediately. The plan demotion
// itself lands later via the subscription.deleted webhook.
func (s *Service) Cancel(ctx context.Context, identity *auth.Identity) error {
	user, err := s.requireUser(ctx, identity)
	if err != nil {
		return err
	}
	if user.SubscriptionID == nil || *user.SubscriptionID == "" {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no active subscription")
	}

	sub, err := s.billing.GetSubscription(ctx, *user.SubscriptionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub.Status == stripe.SubscriptionStatusCanceled {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription already canceled")
	}

	if _, err := s.billing.CancelSubscription(ctx, *user.SubscriptionID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel subscription")
	}

	if s.logger != nil {
		s.logger.Info(s.logger.WithSubject(ctx, identity.Subject), "subscription cancel requested")
	}
	return nil
}

// BillingPortal opens a hosted billing portal session for the caller.
func (s *Service) BillingPortal(ctx context.Context, identity *auth.Identity) (*PortalResult, error) {
	user, err := s.requireUser(ctx, identity)
	if err != nil {
		return nil, err
	}
	if user.CustomerID == nil || *user.CustomerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no billing profile on file")
	}

	session, err := s.billing.CreatePortalSession(ctx, &stripe.BillingPortalSessionCreateParams{
		Customer:  stripe.String(*user.CustomerID),
		ReturnURL: stripe.String(s.checkout.PortalReturnURL()),
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create portal session")
	}
	return &PortalResult{URL: session.URL}, nil
}

func (s *Service) requireUser(ctx context.Context, identity *auth.Identity) (*models.User, error) {
	if identity == nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "identity required")
	}
	user, err := s.users.GetOrCreateBySubject(ctx, users.CreateUserDTO{
		SubjectID:      identity.Subject,
		Email:          identity.Email,
		EmailVerified:  identity.EmailVerified,
		FreeThumbnails: s.quota.FreeThumbnails,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load account")
	}
	return user, nil
}
