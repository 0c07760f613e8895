package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Handler-related errors
var (
	ErrUnauthorized   = errors.New("invalid or missing token")
	ErrInvalidMessage = errors.New("invalid message")
)
