package dto

import (
	"net/http"

	"github.com/entitled/backend/internal/domain/entitlement"
)

// Error code constants
// Format: ERR_<CATEGORY>_<DESCRIPTION>
const (
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeInvalidJSON is used when JSON parsing fails
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
	// ErrCodeUnauthorized is used when the caller's identity is missing or invalid
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "ERR_NOT_FOUND"

	// ErrCodeDuplicateEvent is used when an event id was already processed
	ErrCodeDuplicateEvent = "ERR_DUPLICATE_EVENT"
	// ErrCodeNoSubscription is used when the subscriber has no active subscription
	ErrCodeNoSubscription = "ERR_NO_SUBSCRIPTION"
	// ErrCodeFeatureNotEntitled is used when the feature is not part of the plan
	ErrCodeFeatureNotEntitled = "ERR_FEATURE_NOT_ENTITLED"
	// ErrCodeLimitExceeded is used when the feature's included usage is consumed
	ErrCodeLimitExceeded = "ERR_LIMIT_EXCEEDED"
	// ErrCodeRateLimited is used when the call rate cap is hit
	ErrCodeRateLimited = "ERR_RATE_LIMITED"
	// ErrCodeStoreUnavailable is used when the counter store cannot answer
	ErrCodeStoreUnavailable = "ERR_STORE_UNAVAILABLE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeInvalidJSON:        http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeDuplicateEvent:     http.StatusConflict,
	ErrCodeNoSubscription:     http.StatusForbidden,
	ErrCodeFeatureNotEntitled: http.StatusForbidden,
	ErrCodeLimitExceeded:      http.StatusForbidden,
	ErrCodeRateLimited:        http.StatusTooManyRequests,
	ErrCodeStoreUnavailable:   http.StatusServiceUnavailable,
}

// GetHTTPStatus returns the HTTP status for an error code, defaulting to 500
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DenyReasonCode maps a gate deny reason to its API error code
func DenyReasonCode(reason entitlement.DenyReason) string {
	switch reason {
	case entitlement.ReasonNoSubscription:
		return ErrCodeNoSubscription
	case entitlement.ReasonRateLimited:
		return ErrCodeRateLimited
	case entitlement.ReasonFeatureNotEntitled:
		return ErrCodeFeatureNotEntitled
	case entitlement.ReasonLimitExceeded:
		return ErrCodeLimitExceeded
	default:
		return ErrCodeInternal
	}
}
