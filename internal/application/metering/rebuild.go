package metering

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/entitled/backend/internal/domain/entitlement"
	"github.com/entitled/backend/internal/domain/metering"
)

// Rebuilder reconstructs a subscriber's usage counters from the durable
// event log after a counter store loss. Safe to run against a live store:
// increments commute, so events admitted while the rebuild runs are not
// lost, and at worst a counter is briefly low between the reset and the
// replay.
type Rebuilder struct {
	snapshots  entitlement.SnapshotLoader
	events     metering.EventRepository
	accountant *Accountant
	logger     *zap.Logger
}

// NewRebuilder creates a counter rebuilder.
func NewRebuilder(snapshots entitlement.SnapshotLoader, events metering.EventRepository, accountant *Accountant, logger *zap.Logger) *Rebuilder {
	return &Rebuilder{
		snapshots:  snapshots,
		events:     events,
		accountant: accountant,
		logger:     logger,
	}
}

// Rebuild resets every feature counter of the subscriber's plan and
// replays the events of the current billing period. Returns the number of
// events replayed.
func (r *Rebuilder) Rebuild(ctx context.Context, subscriberID uuid.UUID) (int, error) {
	snap, err := r.snapshots.FindActiveSubscription(ctx, subscriberID)
	if err != nil {
		return 0, err
	}

	for _, code := range snap.FeatureCodes() {
		if err := r.accountant.ResetUsage(ctx, subscriberID, code); err != nil {
			return 0, err
		}
	}

	events, err := r.events.ListSince(ctx, subscriberID, snap.CurrentPeriodStart)
	if err != nil {
		return 0, err
	}

	replayed := 0
	for _, event := range events {
		// Features removed from the plan since the event was recorded are
		// skipped; their counters no longer exist.
		if _, ok := snap.FeatureLimit(event.FeatureCode); !ok {
			continue
		}
		if _, err := r.accountant.IncrementUsage(ctx, subscriberID, event.FeatureCode, event.Quantity); err != nil {
			return replayed, err
		}
		replayed++
	}

	r.logger.Info("rebuilt usage counters",
		zap.String("subscriber_id", subscriberID.String()),
		zap.Int("events_replayed", replayed))
	return replayed, nil
}
