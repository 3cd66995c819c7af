package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/entitled/backend/internal/interfaces/http/dto"
)

const (
	// SubscriberIDHeader carries the authenticated subscriber's id.
	// Authentication itself happens upstream (API gateway); this service
	// trusts the header it is handed.
	SubscriberIDHeader = "X-Subscriber-ID"

	subscriberIDKey = "subscriber_id"
)

// SubscriberIdentity extracts and validates the subscriber id header.
// Requests without a parseable id are rejected before any handler runs.
func SubscriberIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader(SubscriberIDHeader)
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				dto.NewErrorResponse(dto.ErrCodeUnauthorized, "missing "+SubscriberIDHeader+" header"))
			return
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				dto.NewErrorResponse(dto.ErrCodeUnauthorized, SubscriberIDHeader+" is not a valid UUID"))
			return
		}
		c.Set(subscriberIDKey, id)
		c.Next()
	}
}

// GetSubscriberID returns the subscriber id set by SubscriberIdentity.
func GetSubscriberID(c *gin.Context) (uuid.UUID, bool) {
	v, exists := c.Get(subscriberIDKey)
	if !exists {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}
