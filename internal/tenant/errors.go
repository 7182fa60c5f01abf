package tenant

import "errors"

var (
	ErrInvalidCode = errors.New("invalid tenant code")
	// ErrTenantNotFound means no usable configuration exists for the code.
	// It is final for the request and never retried.
	ErrTenantNotFound = errors.New("tenant not found")
	// ErrTenantUnavailable means the tenant is configured but its partition
	// could not be reached in time. Callers may retry.
	ErrTenantUnavailable = errors.New("tenant unavailable")
)
