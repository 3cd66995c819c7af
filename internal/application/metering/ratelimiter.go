package metering

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/entitled/backend/internal/infrastructure/counter"
)

// rateKeyTTLSlack keeps the window key alive slightly past the window so
// a marker never outlives its key.
const rateKeyTTLSlack = 10 * time.Second

// Admission is the outcome of one rate limit check.
type Admission struct {
	Allowed bool

	// Count is the number of calls inside the window after the check.
	Count int64

	// Member identifies the window marker registered for an allowed call.
	// The gate revokes it when a later check denies the request, so denied
	// requests never consume rate budget. Empty when the check was denied
	// or rate limiting is disabled.
	Member string

	// RetryAfter is how long a denied caller should back off.
	RetryAfter time.Duration
}

// Limiter enforces the plan's sliding-window call cap. Like the
// idempotency guard it fails open on store errors: throttling is
// protective, not billable, so availability wins.
type Limiter struct {
	store  counter.Store
	logger *zap.Logger
}

// NewLimiter creates a rate limiter on top of the counter store.
func NewLimiter(store counter.Store, logger *zap.Logger) *Limiter {
	return &Limiter{store: store, logger: logger}
}

func rateKey(subscriberID uuid.UUID, featureCode string) string {
	return fmt.Sprintf("rate:%s:%s", subscriberID, featureCode)
}

// Allow checks and consumes one slot in the subscriber's call window.
// maxCalls <= 0 disables rate limiting and always admits.
func (l *Limiter) Allow(ctx context.Context, subscriberID uuid.UUID, featureCode string, maxCalls, windowSeconds int) (Admission, error) {
	if maxCalls <= 0 {
		return Admission{Allowed: true}, nil
	}

	window := time.Duration(windowSeconds) * time.Second
	res, err := l.store.WindowAdmit(ctx, rateKey(subscriberID, featureCode), int64(maxCalls), window, window+rateKeyTTLSlack)
	if err != nil {
		l.logger.Warn("rate limit check failed, allowing call",
			zap.String("subscriber_id", subscriberID.String()),
			zap.String("feature_code", featureCode),
			zap.Error(err))
		return Admission{Allowed: true}, nil
	}

	if !res.Allowed {
		return Admission{
			Allowed:    false,
			Count:      res.Count,
			RetryAfter: window,
		}, nil
	}
	return Admission{
		Allowed: true,
		Count:   res.Count,
		Member:  res.Member,
	}, nil
}

// Revoke removes a previously registered window marker. Best effort: a
// failed revoke costs one phantom slot for at most one window and is only
// logged.
func (l *Limiter) Revoke(ctx context.Context, subscriberID uuid.UUID, featureCode, member string) {
	if member == "" {
		return
	}
	if err := l.store.WindowRevoke(ctx, rateKey(subscriberID, featureCode), member); err != nil {
		l.logger.Warn("failed to revoke rate limit marker",
			zap.String("subscriber_id", subscriberID.String()),
			zap.String("feature_code", featureCode),
			zap.Error(err))
	}
}
