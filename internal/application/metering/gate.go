// Package metering implements the entitlement gate and the services
// around it: event deduplication, rate limiting, usage accounting, usage
// summaries and counter rebuilds.
package metering

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/entitled/backend/internal/domain/entitlement"
	"github.com/entitled/backend/internal/domain/metering"
	"github.com/entitled/backend/internal/domain/shared"
)

// MeterRequest is one usage event submitted for admission.
type MeterRequest struct {
	// EventID is the caller-chosen idempotency key for this event.
	EventID      string
	SubscriberID uuid.UUID
	FeatureCode  string
	// Quantity is the number of units this event consumes, at least 1.
	Quantity   int64
	RecordedAt time.Time
}

// Gate runs the admission pipeline for usage events. Checks run cheapest
// first: deduplication, then subscription lookup, then the rate window,
// then entitlement and the usage counter. A denial from a check after the
// rate window revokes the window marker so denied requests never consume
// rate budget.
type Gate struct {
	snapshots  entitlement.SnapshotLoader
	guard      *Guard
	limiter    *Limiter
	accountant *Accountant
	events     metering.EventRepository
	notifier   entitlement.Notifier
	logger     *zap.Logger
}

// NewGate wires the admission pipeline. A nil notifier is replaced with a
// no-op one.
func NewGate(
	snapshots entitlement.SnapshotLoader,
	guard *Guard,
	limiter *Limiter,
	accountant *Accountant,
	events metering.EventRepository,
	notifier entitlement.Notifier,
	logger *zap.Logger,
) *Gate {
	if notifier == nil {
		notifier = entitlement.NopNotifier{}
	}
	return &Gate{
		snapshots:  snapshots,
		guard:      guard,
		limiter:    limiter,
		accountant: accountant,
		events:     events,
		notifier:   notifier,
		logger:     logger,
	}
}

// Meter admits or denies one usage event. It returns the decision for
// every terminal state except duplicates and store failures:
//   - shared.ErrDuplicateEvent when the event id was already processed
//   - shared.ErrInvalidInput when the request is malformed
//   - a store error when the usage counter could not be updated
//
// A returned decision with Allowed=false carries the deny reason; the
// caller maps it to a response status via Decision.HTTPStatus.
func (g *Gate) Meter(ctx context.Context, req MeterRequest) (*entitlement.Decision, error) {
	if req.EventID == "" || req.FeatureCode == "" || req.SubscriberID == uuid.Nil {
		return nil, shared.ErrInvalidInput
	}
	if req.Quantity <= 0 {
		req.Quantity = 1
	}
	if req.RecordedAt.IsZero() {
		req.RecordedAt = time.Now().UTC()
	}

	firstSeen, err := g.guard.CheckAndRecord(ctx, req.EventID)
	if err != nil {
		return nil, err
	}
	if !firstSeen {
		return nil, shared.ErrDuplicateEvent
	}

	snap, err := g.snapshots.FindActiveSubscription(ctx, req.SubscriberID)
	if err != nil {
		if errors.Is(err, shared.ErrNoSubscription) || errors.Is(err, shared.ErrNotFound) {
			return &entitlement.Decision{
				Allowed: false,
				Reason:  entitlement.ReasonNoSubscription,
			}, nil
		}
		return nil, err
	}

	adm, err := g.limiter.Allow(ctx, req.SubscriberID, req.FeatureCode, snap.RateLimitMaxCalls, snap.RateLimitWindowSeconds)
	if err != nil {
		return nil, err
	}
	if !adm.Allowed {
		return &entitlement.Decision{
			Allowed:    false,
			Reason:     entitlement.ReasonRateLimited,
			RetryAfter: adm.RetryAfter,
		}, nil
	}

	limit, entitled := snap.FeatureLimit(req.FeatureCode)
	if !entitled {
		g.limiter.Revoke(ctx, req.SubscriberID, req.FeatureCode, adm.Member)
		return &entitlement.Decision{
			Allowed: false,
			Reason:  entitlement.ReasonFeatureNotEntitled,
		}, nil
	}

	decision, err := g.applyUsage(ctx, req, snap, limit)
	if err != nil {
		g.limiter.Revoke(ctx, req.SubscriberID, req.FeatureCode, adm.Member)
		return nil, err
	}
	if !decision.Allowed {
		g.limiter.Revoke(ctx, req.SubscriberID, req.FeatureCode, adm.Member)
		g.notifyLimit(req, snap, decision.Usage, limit)
		return decision, nil
	}

	g.appendEvent(ctx, req, decision)
	if limit != entitlement.UnlimitedLimit && decision.Usage >= limit {
		g.notifyLimit(req, snap, decision.Usage, limit)
	}
	return decision, nil
}

// applyUsage updates the usage counter according to the plan's overage
// policy and builds the corresponding decision.
func (g *Gate) applyUsage(ctx context.Context, req MeterRequest, snap *entitlement.PlanSnapshot, limit int64) (*entitlement.Decision, error) {
	// Overage plans and unlimited features never block on the counter.
	if limit == entitlement.UnlimitedLimit || snap.OverageEnabled() {
		usage, err := g.accountant.IncrementUsage(ctx, req.SubscriberID, req.FeatureCode, req.Quantity)
		if err != nil {
			return nil, err
		}
		d := &entitlement.Decision{
			Allowed:   true,
			Usage:     usage,
			Limit:     limit,
			Remaining: entitlement.UnlimitedLimit,
		}
		if limit != entitlement.UnlimitedLimit {
			d.Remaining = max64(0, limit-usage)
			d.OverageUnits = max64(0, usage-limit)
		}
		return d, nil
	}

	applied, usage, err := g.accountant.IncrementIfBelowLimit(ctx, req.SubscriberID, req.FeatureCode, req.Quantity, limit)
	if err != nil {
		return nil, err
	}
	if !applied {
		return &entitlement.Decision{
			Allowed:   false,
			Reason:    entitlement.ReasonLimitExceeded,
			Usage:     usage,
			Limit:     limit,
			Remaining: max64(0, limit-usage),
		}, nil
	}
	return &entitlement.Decision{
		Allowed:   true,
		Usage:     usage,
		Limit:     limit,
		Remaining: limit - usage,
	}, nil
}

// appendEvent writes the accepted event to the durable log. The counters
// already hold the truth for this request, so a failed append is logged
// and the admission stands; the event is only missing from future
// rebuilds.
func (g *Gate) appendEvent(ctx context.Context, req MeterRequest, d *entitlement.Decision) {
	event := &metering.Event{
		ID:           uuid.New(),
		EventID:      req.EventID,
		SubscriberID: req.SubscriberID,
		FeatureCode:  req.FeatureCode,
		Quantity:     req.Quantity,
		UsageAfter:   d.Usage,
		OverageUnits: d.OverageUnits,
		RecordedAt:   req.RecordedAt,
	}
	if err := g.events.Append(ctx, event); err != nil {
		g.logger.Error("failed to append meter event",
			zap.String("event_id", req.EventID),
			zap.String("subscriber_id", req.SubscriberID.String()),
			zap.Error(err))
	}
}

// notifyLimit delivers a limit notification without blocking the request.
func (g *Gate) notifyLimit(req MeterRequest, snap *entitlement.PlanSnapshot, usage, limit int64) {
	n := entitlement.LimitNotification{
		SubscriberID: req.SubscriberID,
		FeatureCode:  req.FeatureCode,
		PlanName:     snap.PlanName,
		Limit:        limit,
		Usage:        usage,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := g.notifier.NotifyLimitReached(ctx, n); err != nil {
			g.logger.Warn("limit notification failed",
				zap.String("subscriber_id", n.SubscriberID.String()),
				zap.String("feature_code", n.FeatureCode),
				zap.Error(err))
		}
	}()
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
