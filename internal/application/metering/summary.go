package metering

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/entitled/backend/internal/domain/entitlement"
)

// FeatureUsage is one feature's line in a usage summary.
type FeatureUsage struct {
	FeatureCode  string `json:"feature_code"`
	Usage        int64  `json:"usage"`
	Limit        int64  `json:"limit"`
	Remaining    int64  `json:"remaining"`
	OverageUnits int64  `json:"overage_units"`
}

// UsageSummary reports a subscriber's consumption across every feature of
// their plan, plus the projected overage cost for the period.
type UsageSummary struct {
	SubscriberID uuid.UUID       `json:"subscriber_id"`
	PlanName     string          `json:"plan_name"`
	PeriodStart  time.Time       `json:"period_start"`
	PeriodEnd    time.Time       `json:"period_end"`
	Features     []FeatureUsage  `json:"features"`
	OverageCost  decimal.Decimal `json:"overage_cost"`
}

// SummaryService builds usage summaries from the live counters.
type SummaryService struct {
	snapshots  entitlement.SnapshotLoader
	accountant *Accountant
	logger     *zap.Logger
}

// NewSummaryService creates a summary service.
func NewSummaryService(snapshots entitlement.SnapshotLoader, accountant *Accountant, logger *zap.Logger) *SummaryService {
	return &SummaryService{
		snapshots:  snapshots,
		accountant: accountant,
		logger:     logger,
	}
}

// Summarize returns the subscriber's usage across all plan features,
// sorted by feature code. Counter reads are fail-safe: an unreachable
// store reports zero usage rather than an error.
func (s *SummaryService) Summarize(ctx context.Context, subscriberID uuid.UUID) (*UsageSummary, error) {
	snap, err := s.snapshots.FindActiveSubscription(ctx, subscriberID)
	if err != nil {
		return nil, err
	}

	codes := snap.FeatureCodes()
	sort.Strings(codes)

	summary := &UsageSummary{
		SubscriberID: subscriberID,
		PlanName:     snap.PlanName,
		PeriodStart:  snap.CurrentPeriodStart,
		PeriodEnd:    snap.CurrentPeriodEnd,
		Features:     make([]FeatureUsage, 0, len(codes)),
		OverageCost:  decimal.Zero,
	}

	for _, code := range codes {
		limit, _ := snap.FeatureLimit(code)
		usage := s.accountant.GetUsage(ctx, subscriberID, code)

		fu := FeatureUsage{
			FeatureCode: code,
			Usage:       usage,
			Limit:       limit,
			Remaining:   entitlement.UnlimitedLimit,
		}
		if limit != entitlement.UnlimitedLimit {
			fu.Remaining = max64(0, limit-usage)
			if snap.OverageEnabled() {
				fu.OverageUnits = max64(0, usage-limit)
			}
		}
		if fu.OverageUnits > 0 {
			cost := snap.OverageUnitPrice.Mul(decimal.NewFromInt(fu.OverageUnits))
			summary.OverageCost = summary.OverageCost.Add(cost)
		}
		summary.Features = append(summary.Features, fu)
	}
	return summary, nil
}
