// Package webhook delivers limit notifications to an external HTTP
// endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/entitled/backend/internal/domain/entitlement"
)

// EventLimitReached is the event type sent when a subscriber reaches or
// exceeds a feature limit.
const EventLimitReached = "limit.reached"

// payload is the request body posted to the webhook endpoint.
type payload struct {
	Event      string                        `json:"event"`
	OccurredAt time.Time                     `json:"occurred_at"`
	Data       entitlement.LimitNotification `json:"data"`
}

// Notifier posts limit notifications to a configured URL. Deliveries are
// fire-and-forget from the gate's point of view; a failed POST is the
// receiver's loss, never the request's.
type Notifier struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewNotifier creates a webhook notifier. A non-positive timeout defaults
// to five seconds.
func NewNotifier(url string, timeout time.Duration, logger *zap.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// NotifyLimitReached implements entitlement.Notifier
func (n *Notifier) NotifyLimitReached(ctx context.Context, notification entitlement.LimitNotification) error {
	body, err := json.Marshal(payload{
		Event:      EventLimitReached,
		OccurredAt: time.Now().UTC(),
		Data:       notification,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("webhook endpoint answered %d", resp.StatusCode)
	}

	n.logger.Debug("limit notification delivered",
		zap.String("subscriber_id", notification.SubscriberID.String()),
		zap.String("feature_code", notification.FeatureCode))
	return nil
}

var _ entitlement.Notifier = (*Notifier)(nil)
