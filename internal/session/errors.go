package session

import "errors"

// Session management error types
var (
	ErrInvalidClassroom = errors.New("classroom must have an id and positive max users")
	ErrInvalidUserID    = errors.New("invalid user ID format")
	ErrSessionEnded     = errors.New("session has ended")
)
