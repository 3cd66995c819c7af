package handler

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/entitled/backend/internal/application/subscriptions"
	"github.com/entitled/backend/internal/domain/shared"
	"github.com/entitled/backend/internal/domain/subscription"
	"github.com/entitled/backend/internal/interfaces/http/dto"
	"github.com/entitled/backend/internal/interfaces/http/middleware"
)

// SubscribeRequest is the body for subscribing to a plan
type SubscribeRequest struct {
	PlanID uuid.UUID `json:"plan_id" binding:"required"`
}

// PlanResponse is the API shape of a plan
type PlanResponse struct {
	ID                     uuid.UUID        `json:"id"`
	Code                   string           `json:"code"`
	Name                   string           `json:"name"`
	Price                  decimal.Decimal  `json:"price"`
	BillingPeriod          string           `json:"billing_period"`
	OverageUnitPrice       decimal.Decimal  `json:"overage_unit_price"`
	RateLimitMaxCalls      int              `json:"rate_limit_max_calls"`
	RateLimitWindowSeconds int              `json:"rate_limit_window_seconds"`
	Features               map[string]int64 `json:"features"`
}

// SubscriptionResponse is the API shape of a subscription
type SubscriptionResponse struct {
	ID                 uuid.UUID `json:"id"`
	PlanID             uuid.UUID `json:"plan_id"`
	Status             string    `json:"status"`
	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end"`
}

func planResponse(p *subscription.Plan) PlanResponse {
	return PlanResponse{
		ID:                     p.ID,
		Code:                   p.Code,
		Name:                   p.Name,
		Price:                  p.Price,
		BillingPeriod:          p.BillingPeriod,
		OverageUnitPrice:       p.OverageUnitPrice,
		RateLimitMaxCalls:      p.RateLimitMaxCalls,
		RateLimitWindowSeconds: p.RateLimitWindowSeconds,
		Features:               p.FeatureLimits(),
	}
}

func subscriptionResponse(s *subscription.Subscription) SubscriptionResponse {
	return SubscriptionResponse{
		ID:                 s.ID,
		PlanID:             s.PlanID,
		Status:             s.Status,
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
	}
}

// SubscriptionHandler serves the subscription API
type SubscriptionHandler struct {
	BaseHandler
	service *subscriptions.Service
	logger  *zap.Logger
}

// NewSubscriptionHandler creates a subscription handler
func NewSubscriptionHandler(service *subscriptions.Service, logger *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{service: service, logger: logger}
}

// ListPlans handles GET /api/v1/subscriptions/plans
func (h *SubscriptionHandler) ListPlans(c *gin.Context) {
	plans, err := h.service.ListPlans(c.Request.Context())
	if err != nil {
		h.logger.Error("plan listing failed", zap.Error(err))
		h.Internal(c, "failed to list plans")
		return
	}

	out := make([]PlanResponse, 0, len(plans))
	for _, p := range plans {
		out = append(out, planResponse(p))
	}
	h.Success(c, out)
}

// Subscribe handles POST /api/v1/subscriptions/subscribe
func (h *SubscriptionHandler) Subscribe(c *gin.Context) {
	var req SubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, dto.ErrCodeInvalidJSON, err.Error())
		return
	}
	subscriberID, ok := middleware.GetSubscriberID(c)
	if !ok {
		h.Error(c, dto.ErrCodeUnauthorized, "subscriber identity is required")
		return
	}

	sub, err := h.service.Subscribe(c.Request.Context(), subscriberID, req.PlanID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			h.NotFound(c, "plan not found")
			return
		}
		h.logger.Error("subscribe failed",
			zap.String("subscriber_id", subscriberID.String()),
			zap.Error(err))
		h.Internal(c, "failed to subscribe")
		return
	}
	h.Created(c, subscriptionResponse(sub))
}

// Renew handles POST /api/v1/subscriptions/renew
func (h *SubscriptionHandler) Renew(c *gin.Context) {
	subscriberID, ok := middleware.GetSubscriberID(c)
	if !ok {
		h.Error(c, dto.ErrCodeUnauthorized, "subscriber identity is required")
		return
	}

	sub, err := h.service.Renew(c.Request.Context(), subscriberID)
	if err != nil {
		if errors.Is(err, shared.ErrNoSubscription) {
			h.Error(c, dto.ErrCodeNoSubscription, "no active subscription to renew")
			return
		}
		h.logger.Error("renew failed",
			zap.String("subscriber_id", subscriberID.String()),
			zap.Error(err))
		h.Internal(c, "failed to renew subscription")
		return
	}
	h.Success(c, subscriptionResponse(sub))
}
