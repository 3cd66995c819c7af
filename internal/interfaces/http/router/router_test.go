package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appmetering "github.com/entitled/backend/internal/application/metering"
	"github.com/entitled/backend/internal/application/subscriptions"
	"github.com/entitled/backend/internal/domain/entitlement"
	"github.com/entitled/backend/internal/domain/metering"
	"github.com/entitled/backend/internal/domain/shared"
	"github.com/entitled/backend/internal/domain/subscription"
	"github.com/entitled/backend/internal/infrastructure/config"
	"github.com/entitled/backend/internal/infrastructure/counter"
	"github.com/entitled/backend/internal/interfaces/http/handler"
)

// In-memory repositories backing the end to end tests.

type planStore struct {
	mu    sync.Mutex
	plans map[uuid.UUID]*subscription.Plan
}

func (s *planStore) List(context.Context) ([]*subscription.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*subscription.Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p)
	}
	return out, nil
}

func (s *planStore) FindByID(_ context.Context, id uuid.UUID) (*subscription.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.plans[id]; ok {
		return p, nil
	}
	return nil, shared.ErrNotFound
}

func (s *planStore) FindByCode(_ context.Context, code string) (*subscription.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.plans {
		if p.Code == code {
			return p, nil
		}
	}
	return nil, shared.ErrNotFound
}

type subStore struct {
	mu   sync.Mutex
	subs map[uuid.UUID]*subscription.Subscription
}

func (s *subStore) Create(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

func (s *subStore) Update(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

func (s *subStore) FindActiveBySubscriber(_ context.Context, subscriberID uuid.UUID) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.SubscriberID == subscriberID && sub.IsActive(time.Now().UTC()) {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, shared.ErrNoSubscription
}

// repoSnapshotLoader builds snapshots from the in-memory repositories the
// same way the gorm loader does from the database.
type repoSnapshotLoader struct {
	plans *planStore
	subs  *subStore
}

func (l *repoSnapshotLoader) FindActiveSubscription(ctx context.Context, subscriberID uuid.UUID) (*entitlement.PlanSnapshot, error) {
	sub, err := l.subs.FindActiveBySubscriber(ctx, subscriberID)
	if err != nil {
		return nil, err
	}
	plan, err := l.plans.FindByID(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	return &entitlement.PlanSnapshot{
		SubscriptionID:         sub.ID,
		PlanID:                 plan.ID,
		PlanName:               plan.Name,
		Price:                  plan.Price,
		BillingPeriod:          plan.BillingPeriod,
		OverageUnitPrice:       plan.OverageUnitPrice,
		RateLimitMaxCalls:      plan.RateLimitMaxCalls,
		RateLimitWindowSeconds: plan.RateLimitWindowSeconds,
		Features:               plan.FeatureLimits(),
		CurrentPeriodStart:     sub.CurrentPeriodStart,
		CurrentPeriodEnd:       sub.CurrentPeriodEnd,
	}, nil
}

type eventStore struct {
	mu     sync.Mutex
	events []*metering.Event
}

func (s *eventStore) Append(_ context.Context, event *metering.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *eventStore) ListSince(_ context.Context, subscriberID uuid.UUID, since time.Time) ([]*metering.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*metering.Event
	for _, e := range s.events {
		if e.SubscriberID == subscriberID && !e.RecordedAt.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}

type fixture struct {
	engine *gin.Engine
	planID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := counter.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	log := zap.NewNop()

	planID := uuid.New()
	plans := &planStore{plans: map[uuid.UUID]*subscription.Plan{
		planID: {
			ID:                     planID,
			Code:                   "starter",
			Name:                   "Starter",
			Price:                  decimal.NewFromInt(29),
			BillingPeriod:          entitlement.BillingPeriodMonthly,
			RateLimitMaxCalls:      5,
			RateLimitWindowSeconds: 60,
			Features: []subscription.PlanFeature{
				{PlanID: planID, FeatureID: uuid.New(), FeatureCode: "api_calls", Limit: 3},
				{PlanID: planID, FeatureID: uuid.New(), FeatureCode: "exports", Limit: entitlement.UnlimitedLimit},
			},
		},
	}}
	subs := &subStore{subs: map[uuid.UUID]*subscription.Subscription{}}
	loader := &repoSnapshotLoader{plans: plans, subs: subs}
	events := &eventStore{}

	accountant := appmetering.NewAccountant(store, time.Hour, log)
	gate := appmetering.NewGate(
		loader,
		appmetering.NewGuard(store, time.Hour, log),
		appmetering.NewLimiter(store, log),
		accountant,
		events,
		nil,
		log,
	)
	summaries := appmetering.NewSummaryService(loader, accountant, log)
	rebuilder := appmetering.NewRebuilder(loader, events, accountant, log)
	subSvc := subscriptions.NewService(plans, subs, accountant, log)

	cfg := &config.Config{}
	cfg.App.Env = "test"

	engine := New(cfg, log, Handlers{
		Metering:     handler.NewMeteringHandler(gate, summaries, rebuilder, log),
		Subscription: handler.NewSubscriptionHandler(subSvc, log),
		System:       handler.NewSystemHandler(nopPinger{}, store),
		Gate:         gate,
	})
	return &fixture{engine: engine, planID: planID}
}

type nopPinger struct{}

func (nopPinger) Ping() error { return nil }

func (f *fixture) do(t *testing.T, method, path string, subscriberID uuid.UUID, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if subscriberID != uuid.Nil {
		req.Header.Set("X-Subscriber-ID", subscriberID.String())
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func (f *fixture) subscribe(t *testing.T, subscriberID uuid.UUID) {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/subscriptions/subscribe", subscriberID,
		map[string]any{"plan_id": f.planID}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func eventBody(feature string) map[string]any {
	return map[string]any{
		"event_id":     uuid.NewString(),
		"feature_code": feature,
		"quantity":     1,
	}
}

func TestRouter_Health(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", uuid.Nil, nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_RequiresSubscriberIdentity(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/metering/summary", uuid.Nil, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/metering/summary", nil)
	req.Header.Set("X-Subscriber-ID", "not-a-uuid")
	w = httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_MeterEventLifecycle(t *testing.T) {
	f := newFixture(t)
	subscriberID := uuid.New()

	t.Run("without subscription events are denied", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/metering/events", subscriberID, eventBody("api_calls"), nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "ERR_NO_SUBSCRIPTION")
	})

	f.subscribe(t, subscriberID)

	t.Run("admitted events answer 201 with the decision", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/metering/events", subscriberID, eventBody("api_calls"), nil)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var resp struct {
			Success bool                 `json:"success"`
			Data    entitlement.Decision `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Success)
		assert.True(t, resp.Data.Allowed)
		assert.Equal(t, int64(1), resp.Data.Usage)
		assert.Equal(t, int64(2), resp.Data.Remaining)
	})

	t.Run("replayed event id answers 409", func(t *testing.T) {
		body := eventBody("api_calls")
		w := f.do(t, http.MethodPost, "/api/v1/metering/events", subscriberID, body, nil)
		require.Equal(t, http.StatusCreated, w.Code)

		w = f.do(t, http.MethodPost, "/api/v1/metering/events", subscriberID, body, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "ERR_DUPLICATE_EVENT")
	})

	t.Run("exhausted limit answers 403", func(t *testing.T) {
		// Two of three units are consumed; one more fits, the next is denied.
		w := f.do(t, http.MethodPost, "/api/v1/metering/events", subscriberID, eventBody("api_calls"), nil)
		require.Equal(t, http.StatusCreated, w.Code)

		w = f.do(t, http.MethodPost, "/api/v1/metering/events", subscriberID, eventBody("api_calls"), nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "ERR_LIMIT_EXCEEDED")
	})

	t.Run("rate cap answers 429 with Retry-After", func(t *testing.T) {
		// The plan allows 5 calls per window; the checks above consumed
		// slots only for admitted events, so exports still has headroom
		// until the window cap trips.
		var last *httptest.ResponseRecorder
		for i := 0; i < 6; i++ {
			last = f.do(t, http.MethodPost, "/api/v1/metering/events", subscriberID, eventBody("exports"), nil)
			if last.Code == http.StatusTooManyRequests {
				break
			}
		}
		require.Equal(t, http.StatusTooManyRequests, last.Code)
		assert.Equal(t, "60", last.Header().Get("Retry-After"))
		assert.Contains(t, last.Body.String(), "ERR_RATE_LIMITED")
	})
}

func TestRouter_Summary(t *testing.T) {
	f := newFixture(t)
	subscriberID := uuid.New()
	f.subscribe(t, subscriberID)

	w := f.do(t, http.MethodPost, "/api/v1/metering/events", subscriberID, eventBody("api_calls"), nil)
	require.Equal(t, http.StatusCreated, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/metering/summary", subscriberID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data appmetering.UsageSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Starter", resp.Data.PlanName)
	require.Len(t, resp.Data.Features, 2)
	assert.Equal(t, "api_calls", resp.Data.Features[0].FeatureCode)
	assert.Equal(t, int64(1), resp.Data.Features[0].Usage)
}

func TestRouter_Rebuild(t *testing.T) {
	f := newFixture(t)
	subscriberID := uuid.New()
	f.subscribe(t, subscriberID)

	for i := 0; i < 2; i++ {
		w := f.do(t, http.MethodPost, "/api/v1/metering/events", subscriberID, eventBody("api_calls"), nil)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := f.do(t, http.MethodPost, "/api/v1/metering/rebuild", subscriberID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"events_replayed":2`)
}

func TestRouter_SubscriptionEndpoints(t *testing.T) {
	f := newFixture(t)
	subscriberID := uuid.New()

	t.Run("list plans", func(t *testing.T) {
		w := f.do(t, http.MethodGet, "/api/v1/subscriptions/plans", subscriberID, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "starter")
	})

	t.Run("renew without subscription", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/subscriptions/renew", subscriberID, nil, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("subscribe then renew", func(t *testing.T) {
		f.subscribe(t, subscriberID)
		w := f.do(t, http.MethodPost, "/api/v1/subscriptions/renew", subscriberID, nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("subscribe to unknown plan", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/subscriptions/subscribe", subscriberID,
			map[string]any{"plan_id": uuid.New()}, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRouter_EntitlementCheck(t *testing.T) {
	f := newFixture(t)
	subscriberID := uuid.New()
	f.subscribe(t, subscriberID)

	t.Run("missing feature header", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/api/v1/entitlements/check", subscriberID, nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("entitled feature is admitted and counted", func(t *testing.T) {
		headers := map[string]string{"X-Feature-Code": "api_calls"}
		for i := 1; i <= 3; i++ {
			w := f.do(t, http.MethodPost, "/api/v1/entitlements/check", subscriberID, nil, headers)
			require.Equal(t, http.StatusOK, w.Code, "call %d: %s", i, w.Body.String())
		}
		w := f.do(t, http.MethodPost, "/api/v1/entitlements/check", subscriberID, nil, headers)
		assert.Equal(t, http.StatusForbidden, w.Code, "the fourth unit is past the limit")
	})

	t.Run("feature outside the plan", func(t *testing.T) {
		headers := map[string]string{"X-Feature-Code": "video_transcoding"}
		w := f.do(t, http.MethodPost, "/api/v1/entitlements/check", subscriberID, nil, headers)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "ERR_FEATURE_NOT_ENTITLED")
	})
}
