package metering

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/entitled/backend/internal/infrastructure/counter"
)

const (
	idempotencyKeyPrefix = "event:"

	// DefaultIdempotencyTTL bounds how long an event id is remembered.
	// Retries past this horizon are treated as new events.
	DefaultIdempotencyTTL = 24 * time.Hour
)

// Guard deduplicates usage events by event id with a test-and-set record
// in the counter store. It fails open: when the store is unreachable the
// event is treated as first-seen, trading possible double counting for
// availability of the metering path.
type Guard struct {
	store  counter.Store
	ttl    time.Duration
	logger *zap.Logger
}

// NewGuard creates an idempotency guard. A non-positive ttl falls back to
// DefaultIdempotencyTTL.
func NewGuard(store counter.Store, ttl time.Duration, logger *zap.Logger) *Guard {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &Guard{
		store:  store,
		ttl:    ttl,
		logger: logger,
	}
}

// CheckAndRecord atomically records the event id and reports whether this
// is the first time it was seen. Exactly one of two concurrent calls with
// the same id observes true.
func (g *Guard) CheckAndRecord(ctx context.Context, eventID string) (bool, error) {
	firstSeen, err := g.store.SetIfAbsent(ctx, idempotencyKeyPrefix+eventID, "1", g.ttl)
	if err != nil {
		g.logger.Warn("idempotency check failed, processing event anyway",
			zap.String("event_id", eventID),
			zap.Error(err))
		return true, nil
	}
	return firstSeen, nil
}
