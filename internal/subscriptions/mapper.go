package subscriptions

import (
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/podgenhq/podgen-backend/pkg/config"
	"github.com/podgenhq/podgen-backend/pkg/enums"
	pkgerrors "github.com/podgenhq/podgen-backend/pkg/errors"
)

// BillingInterval selects monthly or annual pricing for a plan.
type BillingInterval string

const (
	IntervalMonthly BillingInterval = "monthly"
	IntervalAnnual  BillingInterval = "annual"
)

// PriceIDForPlan resolves the Stripe price for the plan/interval pair. Annual
// prices bill yearly but grant the same plan tier.
func PriceIDForPlan(cfg config.StripeConfig, plan enums.Plan, interval BillingInterval) (string, error) {
	var priceID string
	switch plan {
	case enums.PlanPro:
		priceID = cfg.PriceIDPro
		if interval == IntervalAnnual {
			priceID = cfg.PriceIDProAnnual
		}
	case enums.PlanEnterprise:
		priceID = cfg.PriceIDEnterprise
		if interval == IntervalAnnual {
			priceID = cfg.PriceIDEnterpriseAnnual
		}
	default:
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("plan %q is not purchasable", plan))
	}
	if strings.TrimSpace(priceID) == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("no price configured for plan %s (%s)", plan, interval))
	}
	return priceID, nil
}

// PlanFromProductName maps the Stripe product name back to a plan tier. Annual
// products share the tier name with an interval suffix.
func PlanFromProductName(name string) (enums.Plan, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for _, suffix := range []string{" annual", "-annual", " (annual)"} {
		normalized = strings.TrimSuffix(normalized, suffix)
	}
	plan, err := enums.ParsePlan(normalized)
	if err != nil {
		return "", pkgerrors.New(pkgerrors.CodeDependency,
			fmt.Sprintf("product name %q does not map to a plan", name))
	}
	return plan, nil
}

// PeriodEnd extracts the current billing period end. Stripe reports the
// period on the subscription items, not the subscription itself.
func PeriodEnd(sub *stripe.Subscription) *time.Time {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}
	end := sub.Items.Data[0].CurrentPeriodEnd
	if end <= 0 {
		return nil
	}
	t := time.Unix(end, 0).UTC()
	return &t
}

// ProductIDFromSubscription returns the product backing the first item.
func ProductIDFromSubscription(sub *stripe.Subscription) string {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	item := sub.Items.Data[0]
	if item.Price == nil || item.Price.Product == nil {
		return ""
	}
	return item.Price.Product.ID
}
