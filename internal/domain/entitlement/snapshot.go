package entitlement

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// UnlimitedLimit marks a feature without a usage ceiling.
const UnlimitedLimit int64 = -1

// Billing period values for a plan.
const (
	BillingPeriodMonthly = "monthly"
	BillingPeriodYearly  = "yearly"
	BillingPeriodHourly  = "hourly"
	BillingPeriodMinute  = "minute"
)

// PlanSnapshot is a read-only view of a subscriber's active plan, loaded
// once per request and never mutated. Plan or subscription changes take
// effect on the next request because the snapshot is re-fetched every time
// rather than cached across requests.
type PlanSnapshot struct {
	SubscriptionID uuid.UUID
	PlanID         uuid.UUID
	PlanName       string
	Price          decimal.Decimal
	BillingPeriod  string
	// OverageUnitPrice is the price charged per unit past a feature limit.
	// Zero disables overage billing and limits become hard ceilings.
	OverageUnitPrice decimal.Decimal
	// RateLimitMaxCalls caps calls per RateLimitWindowSeconds. Zero disables
	// rate limiting for the plan.
	RateLimitMaxCalls      int
	RateLimitWindowSeconds int
	// Features maps feature code to its included limit (UnlimitedLimit = no cap).
	Features map[string]int64
	// CurrentPeriodStart and CurrentPeriodEnd bound the billing period that
	// usage counters accumulate within. A renewal advances them and resets
	// the counters.
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
}

// FeatureLimit returns the limit for a feature code and whether the plan
// includes the feature at all.
func (s *PlanSnapshot) FeatureLimit(code string) (int64, bool) {
	limit, ok := s.Features[code]
	return limit, ok
}

// OverageEnabled reports whether usage past a limit is billed instead of blocked.
func (s *PlanSnapshot) OverageEnabled() bool {
	return s.OverageUnitPrice.IsPositive()
}

// RateLimitEnabled reports whether the plan throttles call rates.
func (s *PlanSnapshot) RateLimitEnabled() bool {
	return s.RateLimitMaxCalls > 0
}

// FeatureCodes returns the codes of every feature included in the plan.
func (s *PlanSnapshot) FeatureCodes() []string {
	codes := make([]string, 0, len(s.Features))
	for code := range s.Features {
		codes = append(codes, code)
	}
	return codes
}

// SnapshotLoader resolves a subscriber's active subscription into a plan
// snapshot. Implementations query the external plan/subscription store.
type SnapshotLoader interface {
	// FindActiveSubscription returns the snapshot for the subscriber's
	// active subscription, or shared.ErrNoSubscription when none exists.
	FindActiveSubscription(ctx context.Context, subscriberID uuid.UUID) (*PlanSnapshot, error)
}
