package router

import "errors"

// Router-specific error types
var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrNotMember         = errors.New("user is not a member of this session")
	ErrNotInSession      = errors.New("user is not live in this session")
	ErrUnsupportedEvent  = errors.New("unsupported event type")
)
