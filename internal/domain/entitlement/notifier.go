package entitlement

import (
	"context"

	"github.com/google/uuid"
)

// LimitNotification is sent to the external notifier when a subscriber
// reaches or exceeds a feature limit.
type LimitNotification struct {
	SubscriberID uuid.UUID `json:"subscriber_id"`
	FeatureCode  string    `json:"feature_code"`
	PlanName     string    `json:"plan_name"`
	Limit        int64     `json:"limit"`
	Usage        int64     `json:"usage"`
}

// Notifier delivers limit notifications to an external channel (webhooks
// in the default deployment). Delivery failures must never block or fail
// the gate decision.
type Notifier interface {
	NotifyLimitReached(ctx context.Context, n LimitNotification) error
}

// NopNotifier discards notifications. Used when no notifier is configured.
type NopNotifier struct{}

// NotifyLimitReached implements Notifier.
func (NopNotifier) NotifyLimitReached(context.Context, LimitNotification) error { return nil }
