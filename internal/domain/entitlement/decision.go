package entitlement

import (
	"net/http"
	"time"
)

// DenyReason is the machine-readable reason a request attempt was denied.
type DenyReason string

const (
	// ReasonNoSubscription means the subscriber has no active subscription.
	ReasonNoSubscription DenyReason = "no_subscription"

	// ReasonRateLimited means the plan's call rate cap was hit.
	ReasonRateLimited DenyReason = "rate_limited"

	// ReasonFeatureNotEntitled means the feature is not part of the plan.
	ReasonFeatureNotEntitled DenyReason = "feature_not_entitled"

	// ReasonLimitExceeded means the feature's included usage is consumed
	// and the plan does not bill overage.
	ReasonLimitExceeded DenyReason = "limit_exceeded"
)

// HTTPStatus maps a deny reason to the status code the web layer surfaces.
func (r DenyReason) HTTPStatus() int {
	if r == ReasonRateLimited {
		return http.StatusTooManyRequests
	}
	return http.StatusForbidden
}

// Decision is the outcome of one entitlement gate check for one request
// attempt. Exactly one terminal state is reached per attempt.
type Decision struct {
	Allowed bool       `json:"allowed"`
	Reason  DenyReason `json:"reason,omitempty"`

	// Usage is the post-increment counter value on admission, or the
	// current value on a limit_exceeded denial.
	Usage int64 `json:"usage"`

	// Limit is the feature's included limit, UnlimitedLimit for no cap.
	Limit int64 `json:"limit"`

	// Remaining is the quota left after this attempt. UnlimitedLimit for
	// unlimited features; zero when usage is at or past the limit.
	Remaining int64 `json:"remaining"`

	// OverageUnits counts units consumed past the limit on overage plans.
	OverageUnits int64 `json:"overage_units"`

	// RetryAfter is the client backoff hint on a rate_limited denial.
	RetryAfter time.Duration `json:"-"`
}

// Unlimited reports whether the decided feature has no usage ceiling.
func (d *Decision) Unlimited() bool {
	return d.Limit == UnlimitedLimit
}

// HTTPStatus returns the status code for this decision.
func (d *Decision) HTTPStatus() int {
	if d.Allowed {
		return http.StatusOK
	}
	return d.Reason.HTTPStatus()
}
