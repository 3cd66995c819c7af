// Package subscription holds the plan catalog and subscriber
// subscriptions that the entitlement gate reads its snapshots from.
package subscription

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/entitled/backend/internal/domain/entitlement"
)

// Feature is one meterable capability of the product.
type Feature struct {
	ID          uuid.UUID
	Code        string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PlanFeature grants a feature to a plan with an included limit per
// billing period. entitlement.UnlimitedLimit means no cap.
type PlanFeature struct {
	PlanID      uuid.UUID
	FeatureID   uuid.UUID
	FeatureCode string
	Limit       int64
}

// Plan is a subscription tier: a price, a billing period, a call rate cap
// and the set of features it includes.
type Plan struct {
	ID            uuid.UUID
	Code          string
	Name          string
	Price         decimal.Decimal
	BillingPeriod string
	// OverageUnitPrice above zero turns feature limits into soft caps
	// billed per extra unit.
	OverageUnitPrice       decimal.Decimal
	RateLimitMaxCalls      int
	RateLimitWindowSeconds int
	Features               []PlanFeature
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// FeatureCodes returns the codes of every feature the plan includes.
func (p *Plan) FeatureCodes() []string {
	codes := make([]string, 0, len(p.Features))
	for _, f := range p.Features {
		codes = append(codes, f.FeatureCode)
	}
	return codes
}

// FeatureLimits returns the plan's features as a code to limit map.
func (p *Plan) FeatureLimits() map[string]int64 {
	limits := make(map[string]int64, len(p.Features))
	for _, f := range p.Features {
		limits[f.FeatureCode] = f.Limit
	}
	return limits
}

// NextPeriodEnd computes when a period starting at start ends under the
// plan's billing period. The short periods exist for load and integration
// testing; production plans are monthly or yearly.
func (p *Plan) NextPeriodEnd(start time.Time) time.Time {
	switch p.BillingPeriod {
	case entitlement.BillingPeriodYearly:
		return start.AddDate(1, 0, 0)
	case entitlement.BillingPeriodHourly:
		return start.Add(time.Hour)
	case entitlement.BillingPeriodMinute:
		return start.Add(time.Minute)
	default:
		return start.AddDate(0, 1, 0)
	}
}
