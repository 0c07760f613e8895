package types

import (
	"time"
)

// Visibility controls whether walk-in users may be placed into a classroom or session.
type Visibility string

const (
	VisibilityOpen       Visibility = "open"
	VisibilityRestricted Visibility = "restricted"
)

// Session status values. A session moves active -> ended exactly once.
const (
	SessionStatusActive = "active"
	SessionStatusEnded  = "ended"
)

// Real-time event types carried over the WebSocket transport.
// ARCHITECTURAL DISCOVERY: Inbound and outbound names share one namespace
// so clients can route on the "type" field alone.
const (
	EventJoinSession  = "join-session"
	EventLeaveSession = "leave-session"
	EventUpdateScore  = "update-score"

	EventUserJoined   = "user-joined"
	EventUserLeft     = "user-left"
	EventScoreUpdated = "score-updated"
	EventSessionEnded = "session-ended"
	EventError        = "error"
)

// Storage collection names.
const (
	CollectionClassrooms     = "classrooms"
	CollectionSections       = "sections"
	CollectionSessions       = "sessions"
	CollectionBookings       = "bookings"
	CollectionUserScores     = "userScores"
	CollectionSessionArchive = "sessions_archive"
	CollectionScoreArchive   = "userScores_archive"
)

// Section is a timed sub-activity of a classroom. Duration is the number of
// minutes after the classroom start at which the section ends.
type Section struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Duration int    `json:"duration"`
}

// Classroom is a scheduled activity definition. Read-only to the coordination core.
type Classroom struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	StartTime  time.Time  `json:"startTime"`
	Duration   int        `json:"duration"` // minutes
	Status     string     `json:"status,omitempty"`
	SectionIDs []string   `json:"sections"`
	Sections   []Section  `json:"-"`
	Visibility Visibility `json:"visibility"`
	MaxUsers   int        `json:"maxUsers"`
}

// EndTime returns the end of the classroom's joinable window.
func (c *Classroom) EndTime() time.Time {
	return c.StartTime.Add(time.Duration(c.Duration) * time.Minute)
}

// SessionUser is a membership record. Slice order is join order.
type SessionUser struct {
	ID string `json:"id"`
}

// Session is one live instance of a classroom with bounded membership.
type Session struct {
	ID          string        `json:"id"`
	Status      string        `json:"status"`
	Visibility  Visibility    `json:"visibility"`
	MaxUsers    int           `json:"maxUsers"`
	Users       []SessionUser `json:"users"`
	ClassroomID string        `json:"classroomId"`
	CreatedAt   time.Time     `json:"createdAt"`
	EndedAt     *time.Time    `json:"endedAt,omitempty"`
}

// HasUser reports whether userID is a member of the session.
func (s *Session) HasUser(userID string) bool {
	for _, u := range s.Users {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// UserIDs returns member ids in join order.
func (s *Session) UserIDs() []string {
	ids := make([]string, len(s.Users))
	for i, u := range s.Users {
		ids[i] = u.ID
	}
	return ids
}

// IsActive reports whether the session has not ended.
func (s *Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

// BookingRequest is the stored definition of a pre-booked group.
type BookingRequest struct {
	ID          string `json:"id"`
	ClassroomID string `json:"classroomId"`
	UserCount   int    `json:"userCount"`
}

// Booking is a point-in-time view of a booking ledger record.
type Booking struct {
	ID        string   `json:"id"`
	SessionID string   `json:"sessionId"`
	OpenSlots int      `json:"openSlots"`
	Reserved  int      `json:"reserved"`
	Users     []string `json:"users"`
}

// UserScore is a persisted per-user score for one section of one session.
type UserScore struct {
	ID        string  `json:"id"`
	SessionID string  `json:"sessionId"`
	SectionID string  `json:"sectionId"`
	UserID    string  `json:"userId"`
	Score     float64 `json:"score"`
}

// SessionScores maps sectionID -> userID -> score.
type SessionScores map[string]map[string]float64

// Event is a real-time message exchanged with clients.
// FUNCTIONAL DISCOVERY: One flat shape for inbound and outbound events keeps the
// wire format identical in both directions.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	Username  string    `json:"username,omitempty"`
	SectionID string    `json:"sectionId,omitempty"`
	Score     *float64  `json:"score,omitempty"`
	Self      bool      `json:"self,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Claims are the identity fields carried by a validated token.
type Claims struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
}

// DisplayName returns "First Last", falling back to the email.
func (c *Claims) DisplayName() string {
	name := c.FirstName
	if c.LastName != "" {
		if name != "" {
			name += " "
		}
		name += c.LastName
	}
	if name == "" {
		return c.Email
	}
	return name
}
