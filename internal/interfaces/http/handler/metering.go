package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	appmetering "github.com/entitled/backend/internal/application/metering"
	"github.com/entitled/backend/internal/domain/entitlement"
	"github.com/entitled/backend/internal/domain/shared"
	"github.com/entitled/backend/internal/interfaces/http/dto"
	"github.com/entitled/backend/internal/interfaces/http/middleware"
)

// CreateMeterEventRequest is the body of an explicit usage event submission
type CreateMeterEventRequest struct {
	EventID     string    `json:"event_id" binding:"required"`
	FeatureCode string    `json:"feature_code" binding:"required"`
	Quantity    int64     `json:"quantity" binding:"omitempty,min=1"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// MeteringHandler serves the usage metering API
type MeteringHandler struct {
	BaseHandler
	gate      *appmetering.Gate
	summaries *appmetering.SummaryService
	rebuilder *appmetering.Rebuilder
	logger    *zap.Logger
}

// NewMeteringHandler creates a metering handler
func NewMeteringHandler(gate *appmetering.Gate, summaries *appmetering.SummaryService, rebuilder *appmetering.Rebuilder, logger *zap.Logger) *MeteringHandler {
	return &MeteringHandler{
		gate:      gate,
		summaries: summaries,
		rebuilder: rebuilder,
		logger:    logger,
	}
}

// CreateEvent handles POST /api/v1/metering/events
func (h *MeteringHandler) CreateEvent(c *gin.Context) {
	var req CreateMeterEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Error(c, dto.ErrCodeInvalidJSON, err.Error())
		return
	}
	subscriberID, ok := middleware.GetSubscriberID(c)
	if !ok {
		h.Error(c, dto.ErrCodeUnauthorized, "subscriber identity is required")
		return
	}

	decision, err := h.gate.Meter(c.Request.Context(), appmetering.MeterRequest{
		EventID:      req.EventID,
		SubscriberID: subscriberID,
		FeatureCode:  req.FeatureCode,
		Quantity:     req.Quantity,
		RecordedAt:   req.RecordedAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrDuplicateEvent):
			h.Error(c, dto.ErrCodeDuplicateEvent, "event has already been processed")
		case errors.Is(err, shared.ErrInvalidInput):
			h.BadRequest(c, "event_id, subscriber and feature_code are required")
		case errors.Is(err, shared.ErrConflictRetryExhausted):
			h.Error(c, dto.ErrCodeStoreUnavailable, "usage counter is contended, retry the event")
		default:
			h.logger.Error("metering event failed", zap.String("event_id", req.EventID), zap.Error(err))
			h.Error(c, dto.ErrCodeStoreUnavailable, "usage could not be metered")
		}
		return
	}

	if !decision.Allowed {
		if decision.Reason == entitlement.ReasonRateLimited && decision.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
		}
		code := dto.DenyReasonCode(decision.Reason)
		c.JSON(decision.HTTPStatus(), dto.NewDenialResponse(code, "event denied: "+string(decision.Reason), decision))
		return
	}

	h.Created(c, decision)
}

// GetSummary handles GET /api/v1/metering/summary
func (h *MeteringHandler) GetSummary(c *gin.Context) {
	subscriberID, ok := middleware.GetSubscriberID(c)
	if !ok {
		h.Error(c, dto.ErrCodeUnauthorized, "subscriber identity is required")
		return
	}

	summary, err := h.summaries.Summarize(c.Request.Context(), subscriberID)
	if err != nil {
		if errors.Is(err, shared.ErrNoSubscription) {
			h.Error(c, dto.ErrCodeNoSubscription, "no active subscription")
			return
		}
		h.logger.Error("usage summary failed", zap.Error(err))
		h.Internal(c, "failed to build usage summary")
		return
	}
	h.Success(c, summary)
}

// RebuildCounters handles POST /api/v1/metering/rebuild
func (h *MeteringHandler) RebuildCounters(c *gin.Context) {
	subscriberID, ok := middleware.GetSubscriberID(c)
	if !ok {
		h.Error(c, dto.ErrCodeUnauthorized, "subscriber identity is required")
		return
	}

	replayed, err := h.rebuilder.Rebuild(c.Request.Context(), subscriberID)
	if err != nil {
		if errors.Is(err, shared.ErrNoSubscription) {
			h.Error(c, dto.ErrCodeNoSubscription, "no active subscription")
			return
		}
		h.logger.Error("counter rebuild failed", zap.Error(err))
		h.Internal(c, "failed to rebuild counters")
		return
	}
	h.Success(c, gin.H{"events_replayed": replayed})
}
