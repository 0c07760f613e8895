package types

import (
	"math"
	"regexp"
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for better performance in high-frequency validation scenarios
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_:-]+$`)

// IsValidID checks if an identifier (user, session, section, booking) meets format requirements.
func IsValidID(id string) bool {
	if len(id) < 1 || len(id) > 128 {
		return false
	}
	return idRegex.MatchString(id)
}

// IsValidUserID checks if a user ID meets format requirements
func IsValidUserID(userID string) bool {
	return IsValidID(userID)
}

// IsInboundEvent reports whether eventType may be sent by a client.
func IsInboundEvent(eventType string) bool {
	switch eventType {
	case EventJoinSession, EventLeaveSession, EventUpdateScore:
		return true
	default:
		return false
	}
}

// Validate checks an inbound client event.
// ARCHITECTURAL DISCOVERY: Validation at type level ensures consistency
// across the HTTP and WebSocket entry points
func (e *Event) Validate() error {
	if !IsInboundEvent(e.Type) {
		return ErrInvalidEvent
	}
	if !IsValidID(e.SessionID) {
		return ErrInvalidID
	}
	if e.Type != EventUpdateScore {
		return nil
	}
	if e.SectionID == "" {
		return ErrMissingSection
	}
	if !IsValidID(e.SectionID) {
		return ErrInvalidID
	}
	if e.Score == nil || math.IsNaN(*e.Score) || math.IsInf(*e.Score, 0) {
		return ErrInvalidScore
	}
	return nil
}
