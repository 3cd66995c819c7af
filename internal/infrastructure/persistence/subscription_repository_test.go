package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entitled/backend/internal/domain/entitlement"
	"github.com/entitled/backend/internal/domain/shared"
	"github.com/entitled/backend/internal/domain/subscription"
)

func newActiveSubscription(subscriberID, planID uuid.UUID) *subscription.Subscription {
	now := time.Now().UTC()
	return &subscription.Subscription{
		ID:                 uuid.New(),
		SubscriberID:       subscriberID,
		PlanID:             planID,
		Status:             subscription.StatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestGormSubscriptionRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewGormSubscriptionRepository(db)
	ctx := context.Background()

	plan := seedPlan(t, db, "starter", 1000)
	subscriberID := uuid.New()

	t.Run("create and find active", func(t *testing.T) {
		sub := newActiveSubscription(subscriberID, plan.ID)
		require.NoError(t, repo.Create(ctx, sub))

		got, err := repo.FindActiveBySubscriber(ctx, subscriberID)
		require.NoError(t, err)
		assert.Equal(t, sub.ID, got.ID)
		assert.Equal(t, plan.ID, got.PlanID)
	})

	t.Run("update changes status and period", func(t *testing.T) {
		sub, err := repo.FindActiveBySubscriber(ctx, subscriberID)
		require.NoError(t, err)

		sub.Cancel(time.Now().UTC())
		require.NoError(t, repo.Update(ctx, sub))

		_, err = repo.FindActiveBySubscriber(ctx, subscriberID)
		assert.ErrorIs(t, err, shared.ErrNoSubscription)
	})

	t.Run("update of unknown subscription", func(t *testing.T) {
		sub := newActiveSubscription(uuid.New(), plan.ID)
		assert.ErrorIs(t, repo.Update(ctx, sub), shared.ErrNotFound)
	})

	t.Run("expired subscription is not active", func(t *testing.T) {
		expired := newActiveSubscription(uuid.New(), plan.ID)
		expired.CurrentPeriodStart = time.Now().UTC().AddDate(0, -2, 0)
		expired.CurrentPeriodEnd = time.Now().UTC().AddDate(0, -1, 0)
		require.NoError(t, repo.Create(ctx, expired))

		_, err := repo.FindActiveBySubscriber(ctx, expired.SubscriberID)
		assert.ErrorIs(t, err, shared.ErrNoSubscription)
	})
}

func TestGormSnapshotLoader(t *testing.T) {
	db := setupTestDB(t)
	subs := NewGormSubscriptionRepository(db)
	loader := NewGormSnapshotLoader(db)
	ctx := context.Background()

	plan := seedPlan(t, db, "pro", 50000)
	subscriberID := uuid.New()

	t.Run("no subscription", func(t *testing.T) {
		_, err := loader.FindActiveSubscription(ctx, subscriberID)
		assert.ErrorIs(t, err, shared.ErrNoSubscription)
	})

	t.Run("builds the snapshot from plan and subscription", func(t *testing.T) {
		sub := newActiveSubscription(subscriberID, plan.ID)
		require.NoError(t, subs.Create(ctx, sub))

		snap, err := loader.FindActiveSubscription(ctx, subscriberID)
		require.NoError(t, err)

		assert.Equal(t, sub.ID, snap.SubscriptionID)
		assert.Equal(t, plan.ID, snap.PlanID)
		assert.Equal(t, "pro", snap.PlanName)
		assert.Equal(t, 100, snap.RateLimitMaxCalls)
		assert.Equal(t, 60, snap.RateLimitWindowSeconds)

		limit, ok := snap.FeatureLimit("api_calls")
		require.True(t, ok)
		assert.Equal(t, int64(50000), limit)

		limit, ok = snap.FeatureLimit("exports")
		require.True(t, ok)
		assert.Equal(t, entitlement.UnlimitedLimit, limit)

		_, ok = snap.FeatureLimit("not_granted")
		assert.False(t, ok)
	})
}
