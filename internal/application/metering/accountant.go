package metering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/entitled/backend/internal/domain/entitlement"
	"github.com/entitled/backend/internal/domain/shared"
	"github.com/entitled/backend/internal/infrastructure/counter"
)

const (
	// DefaultUsageTTL keeps a usage counter alive well past any billing
	// period so an idle counter expires instead of lingering forever.
	// Renewals reset counters explicitly; the TTL is garbage collection.
	DefaultUsageTTL = 90 * 24 * time.Hour

	// conflictRetries bounds how often a conditional increment that lost
	// an optimistic race is retried before the request fails.
	conflictRetries = 3
)

// Accountant owns the per-feature usage counters. Unlike the guard and
// the limiter it fails closed: when the store cannot answer, admitting a
// request could breach a paid-for limit, so the error propagates.
type Accountant struct {
	store  counter.Store
	ttl    time.Duration
	logger *zap.Logger
}

// NewAccountant creates a usage accountant. A non-positive ttl falls back
// to DefaultUsageTTL.
func NewAccountant(store counter.Store, ttl time.Duration, logger *zap.Logger) *Accountant {
	if ttl <= 0 {
		ttl = DefaultUsageTTL
	}
	return &Accountant{
		store:  store,
		ttl:    ttl,
		logger: logger,
	}
}

func usageKey(subscriberID uuid.UUID, featureCode string) string {
	return fmt.Sprintf("usage:%s:%s", subscriberID, featureCode)
}

// GetUsage returns the current usage for a feature. Read-only callers get
// zero on store failure so dashboards keep rendering; the error is logged,
// never surfaced.
func (a *Accountant) GetUsage(ctx context.Context, subscriberID uuid.UUID, featureCode string) int64 {
	val, err := a.store.Get(ctx, usageKey(subscriberID, featureCode))
	if err != nil {
		a.logger.Warn("failed to read usage counter",
			zap.String("subscriber_id", subscriberID.String()),
			zap.String("feature_code", featureCode),
			zap.Error(err))
		return 0
	}
	return val
}

// IncrementUsage unconditionally adds quantity to a feature's counter and
// returns the new value. Used for unlimited features and overage plans
// where usage past the limit is billed rather than blocked.
func (a *Accountant) IncrementUsage(ctx context.Context, subscriberID uuid.UUID, featureCode string, quantity int64) (int64, error) {
	val, err := a.store.Increment(ctx, usageKey(subscriberID, featureCode), quantity, a.ttl)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", shared.ErrStoreUnavailable, err)
	}
	return val, nil
}

// IncrementIfBelowLimit adds quantity only when the result stays within
// limit, reporting whether it was applied and the counter value after the
// call. An unlimited limit degenerates to a plain increment. Conditional
// increments that keep losing an optimistic race give up after a bounded
// number of retries.
func (a *Accountant) IncrementIfBelowLimit(ctx context.Context, subscriberID uuid.UUID, featureCode string, quantity, limit int64) (bool, int64, error) {
	if limit == entitlement.UnlimitedLimit {
		val, err := a.IncrementUsage(ctx, subscriberID, featureCode, quantity)
		return err == nil, val, err
	}

	key := usageKey(subscriberID, featureCode)
	for attempt := 0; attempt < conflictRetries; attempt++ {
		applied, val, err := a.store.IncrementIfBelow(ctx, key, quantity, limit, a.ttl)
		if err == nil {
			return applied, val, nil
		}
		if !errors.Is(err, counter.ErrConflict) {
			return false, 0, fmt.Errorf("%w: %v", shared.ErrStoreUnavailable, err)
		}
	}
	return false, 0, shared.ErrConflictRetryExhausted
}

// ResetUsage deletes a feature's counter so the next increment starts
// from zero. Called on renewals and by the rebuild job.
func (a *Accountant) ResetUsage(ctx context.Context, subscriberID uuid.UUID, featureCode string) error {
	if err := a.store.Delete(ctx, usageKey(subscriberID, featureCode)); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrStoreUnavailable, err)
	}
	return nil
}
