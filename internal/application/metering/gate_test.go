package metering

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/entitled/backend/internal/domain/entitlement"
	"github.com/entitled/backend/internal/domain/metering"
	"github.com/entitled/backend/internal/domain/shared"
	"github.com/entitled/backend/internal/infrastructure/counter"
)

type stubSnapshots struct {
	snap *entitlement.PlanSnapshot
	err  error
}

func (s *stubSnapshots) FindActiveSubscription(context.Context, uuid.UUID) (*entitlement.PlanSnapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.snap, nil
}

type memoryEvents struct {
	mu     sync.Mutex
	events []*metering.Event
}

func (m *memoryEvents) Append(_ context.Context, event *metering.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *memoryEvents) ListSince(_ context.Context, subscriberID uuid.UUID, since time.Time) ([]*metering.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*metering.Event
	for _, e := range m.events {
		if e.SubscriberID == subscriberID && !e.RecordedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryEvents) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type captureNotifier struct {
	ch chan entitlement.LimitNotification
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{ch: make(chan entitlement.LimitNotification, 16)}
}

func (c *captureNotifier) NotifyLimitReached(_ context.Context, n entitlement.LimitNotification) error {
	c.ch <- n
	return nil
}

func (c *captureNotifier) wait(t *testing.T) entitlement.LimitNotification {
	t.Helper()
	select {
	case n := <-c.ch:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for limit notification")
		return entitlement.LimitNotification{}
	}
}

func testSnapshot(subscriberID uuid.UUID) *entitlement.PlanSnapshot {
	now := time.Now().UTC()
	return &entitlement.PlanSnapshot{
		SubscriptionID:         uuid.New(),
		PlanID:                 uuid.New(),
		PlanName:               "starter",
		Price:                  decimal.NewFromInt(29),
		BillingPeriod:          entitlement.BillingPeriodMonthly,
		OverageUnitPrice:       decimal.Zero,
		RateLimitMaxCalls:      100,
		RateLimitWindowSeconds: 60,
		Features: map[string]int64{
			"api_calls": 10,
			"exports":   entitlement.UnlimitedLimit,
		},
		CurrentPeriodStart: now.AddDate(0, 0, -10),
		CurrentPeriodEnd:   now.AddDate(0, 0, 20),
	}
}

type gateFixture struct {
	gate     *Gate
	store    *counter.MemoryStore
	events   *memoryEvents
	notifier *captureNotifier
}

func newGateFixture(t *testing.T, snap *entitlement.PlanSnapshot) *gateFixture {
	t.Helper()
	store := counter.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	logger := zap.NewNop()
	events := &memoryEvents{}
	notifier := newCaptureNotifier()
	gate := NewGate(
		&stubSnapshots{snap: snap},
		NewGuard(store, time.Hour, logger),
		NewLimiter(store, logger),
		NewAccountant(store, time.Hour, logger),
		events,
		notifier,
		logger,
	)
	return &gateFixture{gate: gate, store: store, events: events, notifier: notifier}
}

func meterReq(subscriberID uuid.UUID, featureCode string) MeterRequest {
	return MeterRequest{
		EventID:      uuid.NewString(),
		SubscriberID: subscriberID,
		FeatureCode:  featureCode,
		Quantity:     1,
	}
}

func TestGate_Meter_Admission(t *testing.T) {
	ctx := context.Background()
	subscriberID := uuid.New()

	t.Run("admits within limit and records the event", func(t *testing.T) {
		f := newGateFixture(t, testSnapshot(subscriberID))

		d, err := f.gate.Meter(ctx, meterReq(subscriberID, "api_calls"))
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(1), d.Usage)
		assert.Equal(t, int64(10), d.Limit)
		assert.Equal(t, int64(9), d.Remaining)
		assert.Equal(t, 1, f.events.count())
	})

	t.Run("unlimited feature never blocks", func(t *testing.T) {
		f := newGateFixture(t, testSnapshot(subscriberID))

		for i := 0; i < 25; i++ {
			d, err := f.gate.Meter(ctx, meterReq(subscriberID, "exports"))
			require.NoError(t, err)
			require.True(t, d.Allowed)
			assert.True(t, d.Unlimited())
			assert.Equal(t, entitlement.UnlimitedLimit, d.Remaining)
		}
	})

	t.Run("quantity defaults to one", func(t *testing.T) {
		f := newGateFixture(t, testSnapshot(subscriberID))

		req := meterReq(subscriberID, "api_calls")
		req.Quantity = 0
		d, err := f.gate.Meter(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, int64(1), d.Usage)
	})
}

func TestGate_Meter_Duplicate(t *testing.T) {
	ctx := context.Background()
	subscriberID := uuid.New()
	f := newGateFixture(t, testSnapshot(subscriberID))

	req := meterReq(subscriberID, "api_calls")
	_, err := f.gate.Meter(ctx, req)
	require.NoError(t, err)

	_, err = f.gate.Meter(ctx, req)
	assert.ErrorIs(t, err, shared.ErrDuplicateEvent)

	// The duplicate neither counted usage nor appended an event.
	d, err := f.gate.Meter(ctx, meterReq(subscriberID, "api_calls"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), d.Usage)
	assert.Equal(t, 2, f.events.count())
}

func TestGate_Meter_Denials(t *testing.T) {
	ctx := context.Background()
	subscriberID := uuid.New()

	t.Run("no active subscription", func(t *testing.T) {
		f := newGateFixture(t, nil)
		f.gate.snapshots = &stubSnapshots{err: shared.ErrNoSubscription}

		d, err := f.gate.Meter(ctx, meterReq(subscriberID, "api_calls"))
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, entitlement.ReasonNoSubscription, d.Reason)
		assert.Equal(t, 403, d.HTTPStatus())
	})

	t.Run("feature not in plan", func(t *testing.T) {
		f := newGateFixture(t, testSnapshot(subscriberID))

		d, err := f.gate.Meter(ctx, meterReq(subscriberID, "video_transcoding"))
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, entitlement.ReasonFeatureNotEntitled, d.Reason)
		assert.Equal(t, 0, f.events.count())
	})

	t.Run("rate limited with retry hint", func(t *testing.T) {
		snap := testSnapshot(subscriberID)
		snap.RateLimitMaxCalls = 3
		f := newGateFixture(t, snap)

		for i := 0; i < 3; i++ {
			d, err := f.gate.Meter(ctx, meterReq(subscriberID, "api_calls"))
			require.NoError(t, err)
			require.True(t, d.Allowed)
		}

		d, err := f.gate.Meter(ctx, meterReq(subscriberID, "api_calls"))
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, entitlement.ReasonRateLimited, d.Reason)
		assert.Equal(t, 429, d.HTTPStatus())
		assert.Equal(t, time.Minute, d.RetryAfter)
	})

	t.Run("limit exceeded on a hard limit plan", func(t *testing.T) {
		snap := testSnapshot(subscriberID)
		snap.Features["api_calls"] = 2
		f := newGateFixture(t, snap)

		for i := 0; i < 2; i++ {
			d, err := f.gate.Meter(ctx, meterReq(subscriberID, "api_calls"))
			require.NoError(t, err)
			require.True(t, d.Allowed)
		}

		d, err := f.gate.Meter(ctx, meterReq(subscriberID, "api_calls"))
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, entitlement.ReasonLimitExceeded, d.Reason)
		assert.Equal(t, int64(2), d.Usage)
		assert.Equal(t, int64(0), d.Remaining)
		assert.Equal(t, 2, f.events.count(), "denied attempts are not logged")
	})

	t.Run("denied attempts do not consume rate budget", func(t *testing.T) {
		snap := testSnapshot(subscriberID)
		snap.RateLimitMaxCalls = 5
		f := newGateFixture(t, snap)

		// Burn attempts on a feature outside the plan; each marker is
		// revoked on the entitlement denial.
		for i := 0; i < 5; i++ {
			d, err := f.gate.Meter(ctx, meterReq(subscriberID, "video_transcoding"))
			require.NoError(t, err)
			require.Equal(t, entitlement.ReasonFeatureNotEntitled, d.Reason)
		}

		d, err := f.gate.Meter(ctx, meterReq(subscriberID, "api_calls"))
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})
}

func TestGate_Meter_Overage(t *testing.T) {
	ctx := context.Background()
	subscriberID := uuid.New()

	snap := testSnapshot(subscriberID)
	snap.Features["api_calls"] = 3
	snap.OverageUnitPrice = decimal.RequireFromString("0.05")
	f := newGateFixture(t, snap)

	for i := 0; i < 3; i++ {
		d, err := f.gate.Meter(ctx, meterReq(subscriberID, "api_calls"))
		require.NoError(t, err)
		require.True(t, d.Allowed)
		assert.Equal(t, int64(0), d.OverageUnits)
	}

	// Past the limit the plan bills instead of blocking.
	d, err := f.gate.Meter(ctx, meterReq(subscriberID, "api_calls"))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(4), d.Usage)
	assert.Equal(t, int64(1), d.OverageUnits)
	assert.Equal(t, int64(0), d.Remaining)
}

func TestGate_Meter_LimitNotifications(t *testing.T) {
	ctx := context.Background()
	subscriberID := uuid.New()

	snap := testSnapshot(subscriberID)
	snap.Features["api_calls"] = 1
	f := newGateFixture(t, snap)

	d, err := f.gate.Meter(ctx, meterReq(subscriberID, "api_calls"))
	require.NoError(t, err)
	require.True(t, d.Allowed)

	n := f.notifier.wait(t)
	assert.Equal(t, subscriberID, n.SubscriberID)
	assert.Equal(t, "api_calls", n.FeatureCode)
	assert.Equal(t, "starter", n.PlanName)
	assert.Equal(t, int64(1), n.Usage)
	assert.Equal(t, int64(1), n.Limit)
}

func TestGate_Meter_ConcurrentNeverExceedsLimit(t *testing.T) {
	ctx := context.Background()
	subscriberID := uuid.New()

	snap := testSnapshot(subscriberID)
	snap.Features["api_calls"] = 20
	snap.RateLimitMaxCalls = 0
	f := newGateFixture(t, snap)

	const attempts = 80
	results := make(chan bool, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := meterReq(subscriberID, "api_calls")
			req.EventID = fmt.Sprintf("evt-%d", i)
			d, err := f.gate.Meter(ctx, req)
			if err != nil {
				results <- false
				return
			}
			results <- d.Allowed
		}(i)
	}
	wg.Wait()
	close(results)

	var admitted int
	for ok := range results {
		if ok {
			admitted++
		}
	}
	assert.Equal(t, 20, admitted)

	usage, err := f.store.Get(ctx, fmt.Sprintf("usage:%s:%s", subscriberID, "api_calls"))
	require.NoError(t, err)
	assert.Equal(t, int64(20), usage)
}

func TestGate_Meter_InvalidInput(t *testing.T) {
	ctx := context.Background()
	f := newGateFixture(t, testSnapshot(uuid.New()))

	_, err := f.gate.Meter(ctx, MeterRequest{SubscriberID: uuid.New(), FeatureCode: "api_calls"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = f.gate.Meter(ctx, MeterRequest{EventID: "e1", FeatureCode: "api_calls"})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = f.gate.Meter(ctx, MeterRequest{EventID: "e1", SubscriberID: uuid.New()})
	assert.ErrorIs(t, err, shared.ErrInvalidInput)
}
