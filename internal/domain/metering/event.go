// Package metering holds the durable usage event log. Counters in the
// counter store are the hot path; events are the source of truth that
// counters can be rebuilt from after a cache loss.
package metering

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is one accepted usage event. Events for denied or duplicate
// requests are never persisted.
type Event struct {
	ID           uuid.UUID
	EventID      string
	SubscriberID uuid.UUID
	FeatureCode  string
	Quantity     int64
	// UsageAfter is the counter value right after this event was applied.
	UsageAfter int64
	// OverageUnits is how many of this event's units fell past the plan
	// limit and are billed at the overage unit price.
	OverageUnits int64
	RecordedAt   time.Time
}

// EventRepository appends and replays the usage event log.
type EventRepository interface {
	// Append stores an accepted event. EventID has a uniqueness constraint
	// as a second line of defense behind the idempotency guard.
	Append(ctx context.Context, event *Event) error

	// ListSince returns a subscriber's events recorded at or after since,
	// ordered by recording time. Replay order does not matter for counter
	// rebuilds because increments commute, but a stable order keeps the
	// log readable.
	ListSince(ctx context.Context, subscriberID uuid.UUID, since time.Time) ([]*Event, error)
}
