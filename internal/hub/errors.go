package hub

import "errors"

// Hub-specific error types
var (
	ErrHubAlreadyRunning     = errors.New("hub is already running")
	ErrHubNotRunning         = errors.New("hub is not running")
	ErrRecipientNotConnected = errors.New("recipient not connected")
	ErrBroadcastChannelFull  = errors.New("broadcast channel is full")
	ErrMissingSession        = errors.New("broadcast event has no session")
)
