package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Authentication Errors
	ErrFormTokenMissing = errors.New("login form token not found")
	ErrAuthRejected     = errors.New("upstream rejected the login")
	ErrCodeAborted      = errors.New("two-factor code entry aborted")
	// ErrTokenExtractionExhausted is reported, never returned to callers:
	// the session proceeds with an absent token.
	ErrTokenExtractionExhausted = errors.New("no session token found by any extraction strategy")

	// Upstream Errors
	ErrConnectionFailed  = errors.New("failed to connect to the upstream")
	ErrRateLimited       = errors.New("upstream rate limit exceeded")
	ErrUpstreamProtocol  = errors.New("unexpected upstream message")
	ErrSessionTokenEmpty = errors.New("session has no token")

	// Session Store Errors
	ErrSessionStore = errors.New("session store failure")
)
