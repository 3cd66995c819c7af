package subscription

import (
	"context"

	"github.com/google/uuid"
)

// PlanRepository reads the plan catalog.
type PlanRepository interface {
	// List returns all plans with their features.
	List(ctx context.Context) ([]*Plan, error)

	// FindByID returns a plan with its features, or shared.ErrNotFound.
	FindByID(ctx context.Context, id uuid.UUID) (*Plan, error)

	// FindByCode returns a plan by its stable code, or shared.ErrNotFound.
	FindByCode(ctx context.Context, code string) (*Plan, error)
}

// Repository stores subscriptions.
type Repository interface {
	Create(ctx context.Context, sub *Subscription) error
	Update(ctx context.Context, sub *Subscription) error

	// FindActiveBySubscriber returns the subscriber's active subscription,
	// or shared.ErrNoSubscription when there is none.
	FindActiveBySubscriber(ctx context.Context, subscriberID uuid.UUID) (*Subscription, error)
}
