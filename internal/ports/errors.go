package ports

import "errors"

// Standard application-level errors.
// Adapters and core components wrap underlying errors with these sentinels so
// callers can branch with errors.Is without knowing vendor specifics.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Ingestion Errors (recoverable, per-tick)
	ErrInvalidTick = errors.New("malformed or incomplete tick payload")
	ErrStaleTick   = errors.New("tick belongs to an already-closed period")

	// Feed Specific Errors
	ErrFeedUnavailable      = errors.New("upstream feed is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the upstream feed")
	ErrRateLimited          = errors.New("upstream rate limit exceeded")
	ErrAuthenticationFailed = errors.New("feed authentication failed (check credentials)")
	ErrSubscriptionFailed   = errors.New("upstream subscription request failed")

	// Publication Errors
	ErrSubscriberClosed = errors.New("subscription is closed")

	// Store Specific Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
)
