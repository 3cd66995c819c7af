// Package subscriptions manages the plan catalog and subscription
// lifecycle: subscribing, renewing and the counter resets both imply.
package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/entitled/backend/internal/domain/shared"
	"github.com/entitled/backend/internal/domain/subscription"
)

// UsageResetter clears a feature's usage counter. Satisfied by the
// metering accountant.
type UsageResetter interface {
	ResetUsage(ctx context.Context, subscriberID uuid.UUID, featureCode string) error
}

// Service implements plan listing and the subscription lifecycle.
type Service struct {
	plans  subscription.PlanRepository
	subs   subscription.Repository
	usage  UsageResetter
	now    func() time.Time
	logger *zap.Logger
}

// NewService creates a subscription service.
func NewService(plans subscription.PlanRepository, subs subscription.Repository, usage UsageResetter, logger *zap.Logger) *Service {
	return &Service{
		plans:  plans,
		subs:   subs,
		usage:  usage,
		now:    time.Now,
		logger: logger,
	}
}

// ListPlans returns the plan catalog.
func (s *Service) ListPlans(ctx context.Context) ([]*subscription.Plan, error) {
	return s.plans.List(ctx)
}

// Subscribe puts the subscriber on a plan. An existing active
// subscription is canceled first; the new plan starts a fresh billing
// period with zeroed counters, so switching plans never carries usage
// over.
func (s *Service) Subscribe(ctx context.Context, subscriberID, planID uuid.UUID) (*subscription.Subscription, error) {
	plan, err := s.plans.FindByID(ctx, planID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()

	existing, err := s.subs.FindActiveBySubscriber(ctx, subscriberID)
	switch {
	case err == nil:
		existing.Cancel(now)
		if err := s.subs.Update(ctx, existing); err != nil {
			return nil, err
		}
		if err := s.resetCounters(ctx, subscriberID, plan); err != nil {
			return nil, err
		}
	case errors.Is(err, shared.ErrNoSubscription):
		// first subscription, nothing to cancel
	default:
		return nil, err
	}

	sub := subscription.NewSubscription(subscriberID, plan, now)
	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("subscriber moved to plan",
		zap.String("subscriber_id", subscriberID.String()),
		zap.String("plan", plan.Code),
		zap.Time("period_end", sub.CurrentPeriodEnd))
	return sub, nil
}

// Renew advances the subscriber's active subscription into a new billing
// period and resets every feature counter of the plan.
func (s *Service) Renew(ctx context.Context, subscriberID uuid.UUID) (*subscription.Subscription, error) {
	sub, err := s.subs.FindActiveBySubscriber(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	plan, err := s.plans.FindByID(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	sub.Renew(plan, s.now().UTC())
	if err := s.subs.Update(ctx, sub); err != nil {
		return nil, err
	}
	if err := s.resetCounters(ctx, subscriberID, plan); err != nil {
		return nil, err
	}

	s.logger.Info("subscription renewed",
		zap.String("subscriber_id", subscriberID.String()),
		zap.String("plan", plan.Code),
		zap.Time("period_end", sub.CurrentPeriodEnd))
	return sub, nil
}

func (s *Service) resetCounters(ctx context.Context, subscriberID uuid.UUID, plan *subscription.Plan) error {
	for _, code := range plan.FeatureCodes() {
		if err := s.usage.ResetUsage(ctx, subscriberID, code); err != nil {
			return err
		}
	}
	return nil
}
