// Package middleware holds the gin middlewares that identify the caller
// and meter protected endpoints through the entitlement gate.
package middleware

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	appmetering "github.com/entitled/backend/internal/application/metering"
	"github.com/entitled/backend/internal/domain/entitlement"
	"github.com/entitled/backend/internal/interfaces/http/dto"
)

// FeatureCodeHeader names the feature a protected request consumes.
const FeatureCodeHeader = "X-Feature-Code"

// Entitlement meters every request through the gate, consuming one unit
// of the feature named in the X-Feature-Code header. Denied requests are
// answered with the decision; admitted ones proceed to the handler.
//
// Each request generates its own event id, so retried HTTP requests are
// metered as separate calls here. Clients that need exactly-once
// accounting submit events explicitly via the metering API.
func Entitlement(gate *appmetering.Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		featureCode := c.GetHeader(FeatureCodeHeader)
		if featureCode == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest,
				dto.NewErrorResponse(dto.ErrCodeBadRequest, "missing "+FeatureCodeHeader+" header"))
			return
		}

		subscriberID, ok := GetSubscriberID(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				dto.NewErrorResponse(dto.ErrCodeUnauthorized, "subscriber identity is required"))
			return
		}

		decision, err := gate.Meter(c.Request.Context(), appmetering.MeterRequest{
			EventID:      uuid.NewString(),
			SubscriberID: subscriberID,
			FeatureCode:  featureCode,
			Quantity:     1,
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				dto.NewErrorResponse(dto.ErrCodeStoreUnavailable, "usage could not be metered"))
			return
		}

		if !decision.Allowed {
			if decision.Reason == entitlement.ReasonRateLimited && decision.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
			}
			code := dto.DenyReasonCode(decision.Reason)
			c.AbortWithStatusJSON(decision.HTTPStatus(),
				dto.NewDenialResponse(code, "request denied: "+string(decision.Reason), decision))
			return
		}

		c.Next()
	}
}
