package stripewebhook

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/podgenhq/podgen-backend/internal/payments"
	"github.com/podgenhq/podgen-backend/internal/users"
	"github.com/podgenhq/podgen-backend/pkg/enums"
	pkgerrors "github.com/podgenhq/podgen-backend/pkg/errors"
)

type accountState struct {
	plan           enums.Plan
	subscriptionID *string
	customerID     *string
	planEndsAt     *time.Time
}

type fakeUserStore struct {
	bySubject map[string]*accountState
	bySubID   map[string]string // subscription id -> subject
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		bySubject: make(map[string]*accountState),
		bySubID:   make(map[string]string),
	}
}

func (f *fakeUserStore) seed(subject string, state accountState) {
	f.bySubject[subject] = &state
	if state.subscriptionID != nil {
		f.bySubID[*state.subscriptionID] = subject
	}
}

func (f *fakeUserStore) UpdateSubscriptionBySubject(ctx context.Context, subjectID string, dto users.SubscriptionUpdateDTO) (int64, error) {
	state, ok := f.bySubject[subjectID]
	if !ok {
		return 0, nil
	}
	if state.subscriptionID != nil {
		delete(f.bySubID, *state.subscriptionID)
	}
	state.plan = dto.Plan
	state.subscriptionID = dto.SubscriptionID
	if dto.CustomerID != nil {
		state.customerID = dto.CustomerID
	}
	state.planEndsAt = dto.PlanEndsAt
	if dto.SubscriptionID != nil {
		f.bySubID[*dto.SubscriptionID] = subjectID
	}
	return 1, nil
}

func (f *fakeUserStore) UpdateSubscriptionBySubID(ctx context.Context, subscriptionID string, dto users.SubscriptionUpdateDTO) (int64, error) {
	subject, ok := f.bySubID[subscriptionID]
	if !ok {
		return 0, nil
	}
	state := f.bySubject[subject]
	state.plan = dto.Plan
	state.planEndsAt = dto.PlanEndsAt
	return 1, nil
}

func (f *fakeUserStore) ClearSubscriptionBySubID(ctx context.Context, subscriptionID string) (int64, error) {
	subject, ok := f.bySubID[subscriptionID]
	if !ok {
		return 0, nil
	}
	state := f.bySubject[subject]
	state.plan = enums.PlanFree
	state.subscriptionID = nil
	state.planEndsAt = nil
	delete(f.bySubID, subscriptionID)
	return 1, nil
}

type fakeLedger struct {
	fulfilled map[string]int
	failed    map[string]int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{fulfilled: make(map[string]int), failed: make(map[string]int)}
}

func (f *fakeLedger) Fulfill(ctx context.Context, externalID string, customerID *string) error {
	f.fulfilled[externalID]++
	if f.fulfilled[externalID] > 1 {
		return payments.ErrAlreadyFulfilled
	}
	return nil
}

func (f *fakeLedger) MarkFailed(ctx context.Context, externalID string) error {
	f.failed[externalID]++
	return nil
}

type fakeStripeClient struct {
	subscriptions map[string]*stripe.Subscription
	products      map[string]*stripe.Product
}

func (f *fakeStripeClient) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionCreateParams) (*stripe.CheckoutSession, error) {
	return nil, nil
}

func (f *fakeStripeClient) CreatePortalSession(ctx context.Context, params *stripe.BillingPortalSessionCreateParams) (*stripe.BillingPortalSession, error) {
	return nil, nil
}

func (f *fakeStripeClient) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	sub, ok := f.subscriptions[id]
	if !ok {
		return nil, &stripe.Error{Code: stripe.ErrorCodeResourceMissing}
	}
	return sub, nil
}

func (f *fakeStripeClient) CancelSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return nil, nil
}

func (f *fakeStripeClient) GetProduct(ctx context.Context, id string) (*stripe.Product, error) {
	product, ok := f.products[id]
	if !ok {
		return nil, &stripe.Error{Code: stripe.ErrorCodeResourceMissing}
	}
	return product, nil
}

func testSubscription(id, productID string, periodEnd time.Time) *stripe.Subscription {
	return &stripe.Subscription{
		ID:     id,
		Status: stripe.SubscriptionStatusActive,
		Items: &stripe.SubscriptionItemList{
			Data: []*stripe.SubscriptionItem{{
				CurrentPeriodEnd: periodEnd.Unix(),
				Price:            &stripe.Price{Product: &stripe.Product{ID: productID}},
			}},
		},
	}
}

func newWebhookService(t *testing.T, store *fakeUserStore, ledger *fakeLedger, client *fakeStripeClient) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{Users: store, Ledger: ledger, StripeClient: client})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func checkoutCompletedEvent(t *testing.T, sessionID, subject, subID, customerID string) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"id":           sessionID,
		"subscription": map[string]any{"id": subID},
		"customer":     map[string]any{"id": customerID},
		"metadata":     map[string]string{"userId": subject},
	})
	if err != nil {
		t.Fatalf("marshal session: %v", err)
	}
	return &stripe.Event{
		ID:   "evt_1",
		Type: stripe.EventTypeCheckoutSessionCompleted,
		Data: &stripe.EventData{Raw: raw},
	}
}

func subscriptionEvent(t *testing.T, eventType stripe.EventType, sub map[string]any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(sub)
	if err != nil {
		t.Fatalf("marshal subscription: %v", err)
	}
	return &stripe.Event{
		ID:   "evt_2",
		Type: eventType,
		Data: &stripe.EventData{Raw: raw},
	}
}

func TestHandleCheckoutCompletedPromotesAndFulfills(t *testing.T) {
	periodEnd := time.Date(2026, 9, 28, 0, 0, 0, 0, time.UTC)
	store := newFakeUserStore()
	store.seed("user_123", accountState{plan: enums.PlanFree})
	ledger := newFakeLedger()
	client := &fakeStripeClient{
		subscriptions: map[string]*stripe.Subscription{"sub_1": testSubscription("sub_1", "prod_pro", periodEnd)},
		products:      map[string]*stripe.Product{"prod_pro": {ID: "prod_pro", Name: "Pro"}},
	}
	svc := newWebhookService(t, store, ledger, client)

	event := checkoutCompletedEvent(t, "cs_1", "user_123", "sub_1", "cus_1")
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	state := store.bySubject["user_123"]
	if state.plan != enums.PlanPro {
		t.Fatalf("expected promotion to pro, got %s", state.plan)
	}
	if state.subscriptionID == nil || *state.subscriptionID != "sub_1" {
		t.Fatalf("subscription id not recorded")
	}
	if state.customerID == nil || *state.customerID != "cus_1" {
		t.Fatalf("customer id not recorded")
	}
	if state.planEndsAt == nil || !state.planEndsAt.Equal(periodEnd) {
		t.Fatalf("period end not recorded, got %v", state.planEndsAt)
	}
	if ledger.fulfilled["cs_1"] != 1 {
		t.Fatalf("expected one fulfillment, got %d", ledger.fulfilled["cs_1"])
	}
}

func TestHandleCheckoutCompletedReplayIsNoOp(t *testing.T) {
	periodEnd := time.Now().Add(30 * 24 * time.Hour)
	store := newFakeUserStore()
	store.seed("user_123", accountState{plan: enums.PlanFree})
	ledger := newFakeLedger()
	client := &fakeStripeClient{
		subscriptions: map[string]*stripe.Subscription{"sub_1": testSubscription("sub_1", "prod_pro", periodEnd)},
		products:      map[string]*stripe.Product{"prod_pro": {ID: "prod_pro", Name: "Pro"}},
	}
	svc := newWebhookService(t, store, ledger, client)
	event := checkoutCompletedEvent(t, "cs_1", "user_123", "sub_1", "cus_1")

	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("replayed delivery should succeed: %v", err)
	}
	if store.bySubject["user_123"].plan != enums.PlanPro {
		t.Fatalf("replay must not change final state")
	}
}

func TestHandleCheckoutCompletedMissingMetadata(t *testing.T) {
	svc := newWebhookService(t, newFakeUserStore(), newFakeLedger(), &fakeStripeClient{})

	event := checkoutCompletedEvent(t, "cs_1", "", "sub_1", "cus_1")
	err := svc.HandleEvent(context.Background(), event)
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestHandleSubscriptionUpdatedRefreshesPlan(t *testing.T) {
	periodEnd := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	subID := "sub_1"
	store := newFakeUserStore()
	store.seed("user_123", accountState{plan: enums.PlanPro, subscriptionID: &subID})
	client := &fakeStripeClient{
		products: map[string]*stripe.Product{"prod_ent": {ID: "prod_ent", Name: "Enterprise"}},
	}
	svc := newWebhookService(t, store, newFakeLedger(), client)

	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, map[string]any{
		"id":                   subID,
		"cancel_at_period_end": true,
		"items": map[string]any{
			"data": []map[string]any{{
				"current_period_end": periodEnd.Unix(),
				"price":              map[string]any{"product": map[string]any{"id": "prod_ent"}},
			}},
		},
	})
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	state := store.bySubject["user_123"]
	if state.plan != enums.PlanEnterprise {
		t.Fatalf("expected refresh to enterprise, got %s", state.plan)
	}
	if state.subscriptionID == nil {
		t.Fatalf("pending cancellation must not demote the account")
	}
	if state.planEndsAt == nil || !state.planEndsAt.Equal(periodEnd) {
		t.Fatalf("period end not refreshed, got %v", state.planEndsAt)
	}
}

func TestHandleInvoicePaidRefreshesViaLookup(t *testing.T) {
	periodEnd := time.Date(2026, 10, 28, 0, 0, 0, 0, time.UTC)
	subID := "sub_1"
	store := newFakeUserStore()
	store.seed("user_123", accountState{plan: enums.PlanPro, subscriptionID: &subID})
	client := &fakeStripeClient{
		subscriptions: map[string]*stripe.Subscription{subID: testSubscription(subID, "prod_pro", periodEnd)},
		products:      map[string]*stripe.Product{"prod_pro": {ID: "prod_pro", Name: "Pro"}},
	}
	svc := newWebhookService(t, store, newFakeLedger(), client)

	invoice := map[string]any{"id": "in_1", "subscription": subID}
	raw, _ := json.Marshal(invoice)
	event := &stripe.Event{
		ID:   "evt_3",
		Type: stripe.EventTypeInvoicePaymentSucceeded,
		// Data.Object mirrors Raw the way stripe-go's event decoding fills it.
		Data: &stripe.EventData{Raw: raw, Object: invoice},
	}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	state := store.bySubject["user_123"]
	if state.planEndsAt == nil || !state.planEndsAt.Equal(periodEnd) {
		t.Fatalf("renewal should extend the period end, got %v", state.planEndsAt)
	}
}

func TestHandleSubscriptionDeletedDemotes(t *testing.T) {
	subID := "sub_1"
	customer := "cus_1"
	store := newFakeUserStore()
	store.seed("user_123", accountState{plan: enums.PlanPro, subscriptionID: &subID, customerID: &customer})
	svc := newWebhookService(t, store, newFakeLedger(), &fakeStripeClient{})

	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionDeleted, map[string]any{"id": subID})
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	state := store.bySubject["user_123"]
	if state.plan != enums.PlanFree {
		t.Fatalf("expected demotion to free, got %s", state.plan)
	}
	if state.subscriptionID != nil {
		t.Fatalf("subscription id should be cleared")
	}
	if state.customerID == nil || *state.customerID != customer {
		t.Fatalf("billing profile should survive demotion")
	}
}

func TestHandleSubscriptionDeletedUnknownAccountIsNoOp(t *testing.T) {
	svc := newWebhookService(t, newFakeUserStore(), newFakeLedger(), &fakeStripeClient{})

	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionDeleted, map[string]any{"id": "sub_ghost"})
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unknown subscription should be acknowledged: %v", err)
	}
}

func TestHandleCheckoutExpiredMarksFailed(t *testing.T) {
	ledger := newFakeLedger()
	svc := newWebhookService(t, newFakeUserStore(), ledger, &fakeStripeClient{})

	raw, _ := json.Marshal(map[string]any{"id": "cs_1"})
	event := &stripe.Event{
		ID:   "evt_4",
		Type: stripe.EventTypeCheckoutSessionExpired,
		Data: &stripe.EventData{Raw: raw},
	}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if ledger.failed["cs_1"] != 1 {
		t.Fatalf("expected the session to be marked failed")
	}
}

func TestHandleUnknownEventTypeIsNoOp(t *testing.T) {
	store := newFakeUserStore()
	store.seed("user_123", accountState{plan: enums.PlanPro})
	svc := newWebhookService(t, store, newFakeLedger(), &fakeStripeClient{})

	event := &stripe.Event{
		ID:   "evt_5",
		Type: stripe.EventType("customer.created"),
		Data: &stripe.EventData{Raw: json.RawMessage(`{}`)},
	}
	if err := svc.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("unrecognized event types acknowledge successfully: %v", err)
	}
	if store.bySubject["user_123"].plan != enums.PlanPro {
		t.Fatalf("unrecognized events must not touch account state")
	}
}
