package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/entitled/backend/internal/domain/entitlement"
	"github.com/entitled/backend/internal/domain/shared"
	"github.com/entitled/backend/internal/domain/subscription"
)

// GormSnapshotLoader builds plan snapshots straight from the database.
// Every gate check re-reads the subscription and its plan, so plan
// changes are picked up on the next request without any cache to
// invalidate.
type GormSnapshotLoader struct {
	db *gorm.DB
}

// NewGormSnapshotLoader creates a snapshot loader
func NewGormSnapshotLoader(db *gorm.DB) *GormSnapshotLoader {
	return &GormSnapshotLoader{db: db}
}

// FindActiveSubscription implements entitlement.SnapshotLoader
func (l *GormSnapshotLoader) FindActiveSubscription(ctx context.Context, subscriberID uuid.UUID) (*entitlement.PlanSnapshot, error) {
	var model SubscriptionModel
	err := l.db.WithContext(ctx).
		Preload("Plan.Features.Feature").
		Where("subscriber_id = ? AND status = ? AND current_period_end > ?",
			subscriberID, subscription.StatusActive, time.Now().UTC()).
		Order("created_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNoSubscription
		}
		return nil, err
	}

	features := make(map[string]int64, len(model.Plan.Features))
	for _, f := range model.Plan.Features {
		features[f.Feature.Code] = f.UsageLimit
	}

	return &entitlement.PlanSnapshot{
		SubscriptionID:         model.ID,
		PlanID:                 model.PlanID,
		PlanName:               model.Plan.Name,
		Price:                  model.Plan.Price,
		BillingPeriod:          model.Plan.BillingPeriod,
		OverageUnitPrice:       model.Plan.OverageUnitPrice,
		RateLimitMaxCalls:      model.Plan.RateLimitMaxCalls,
		RateLimitWindowSeconds: model.Plan.RateLimitWindowSeconds,
		Features:               features,
		CurrentPeriodStart:     model.CurrentPeriodStart,
		CurrentPeriodEnd:       model.CurrentPeriodEnd,
	}, nil
}

var _ entitlement.SnapshotLoader = (*GormSnapshotLoader)(nil)
