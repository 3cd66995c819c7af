package subscription

import (
	"time"

	"github.com/google/uuid"
)

// Subscription status values.
const (
	StatusActive   = "active"
	StatusCanceled = "canceled"
	StatusExpired  = "expired"
)

// Subscription binds a subscriber to a plan for consecutive billing
// periods. A subscriber has at most one active subscription.
type Subscription struct {
	ID                 uuid.UUID
	SubscriberID       uuid.UUID
	PlanID             uuid.UUID
	Status             string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewSubscription starts a subscription on plan at now.
func NewSubscription(subscriberID uuid.UUID, plan *Plan, now time.Time) *Subscription {
	return &Subscription{
		ID:                 uuid.New(),
		SubscriberID:       subscriberID,
		PlanID:             plan.ID,
		Status:             StatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   plan.NextPeriodEnd(now),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// IsActive reports whether the subscription is usable at now.
func (s *Subscription) IsActive(now time.Time) bool {
	return s.Status == StatusActive && now.Before(s.CurrentPeriodEnd)
}

// Renew advances the subscription into a fresh billing period starting at
// now. The caller resets the usage counters alongside.
func (s *Subscription) Renew(plan *Plan, now time.Time) {
	s.Status = StatusActive
	s.CurrentPeriodStart = now
	s.CurrentPeriodEnd = plan.NextPeriodEnd(now)
	s.UpdatedAt = now
}

// Cancel marks the subscription canceled. Usage stops being admitted on
// the next gate check.
func (s *Subscription) Cancel(now time.Time) {
	s.Status = StatusCanceled
	s.UpdatedAt = now
}
