package shared

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound               = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists          = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput           = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrNoSubscription         = NewDomainError("NO_SUBSCRIPTION", "No active subscription")
	ErrDuplicateEvent         = NewDomainError("DUPLICATE_EVENT", "Event has already been processed")
	ErrStoreUnavailable       = NewDomainError("STORE_UNAVAILABLE", "Counter store is unavailable")
	ErrConflictRetryExhausted = NewDomainError("CONFLICT_RETRY_EXHAUSTED", "Conditional increment could not converge")
)
