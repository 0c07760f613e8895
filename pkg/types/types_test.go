package types

import (
	"fmt"
	"math"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func score(v float64) *float64 { return &v }

func TestClassroom_EndTime(t *testing.T) {
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	c := Classroom{StartTime: start, Duration: 90}
	assert.Equal(t, start.Add(90*time.Minute), c.EndTime())
}

func TestSession_Membership(t *testing.T) {
	s := Session{Status: SessionStatusActive, Users: []SessionUser{{ID: "b"}, {ID: "a"}}}

	assert.True(t, s.HasUser("a"))
	assert.False(t, s.HasUser("c"))
	assert.Equal(t, []string{"b", "a"}, s.UserIDs())
	assert.True(t, s.IsActive())

	s.Status = SessionStatusEnded
	assert.False(t, s.IsActive())
	assert.Empty(t, (&Session{}).UserIDs())
}

func TestClaims_DisplayName(t *testing.T) {
	tests := []struct {
		claims Claims
		want   string
	}{
		{Claims{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com"}, "Ada Lovelace"},
		{Claims{FirstName: "Ada", Email: "ada@example.com"}, "Ada"},
		{Claims{LastName: "Lovelace"}, "Lovelace"},
		{Claims{Email: "ada@example.com"}, "ada@example.com"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, tc.claims.DisplayName())
	}
}

func TestIsValidID(t *testing.T) {
	assert.True(t, IsValidID("session_1"))
	assert.True(t, IsValidID("end-section:s1:quiz"))
	assert.True(t, IsValidUserID(strings.Repeat("a", 128)))

	assert.False(t, IsValidID(""))
	assert.False(t, IsValidID(strings.Repeat("a", 129)))
	assert.False(t, IsValidID("has space"))
	assert.False(t, IsValidID("semi;colon"))
}

func TestEvent_Validate(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  error
	}{
		{"join", Event{Type: EventJoinSession, SessionID: "s1"}, nil},
		{"leave", Event{Type: EventLeaveSession, SessionID: "s1"}, nil},
		{"score", Event{Type: EventUpdateScore, SessionID: "s1", SectionID: "quiz", Score: score(0)}, nil},
		{"outbound type", Event{Type: EventUserJoined, SessionID: "s1"}, ErrInvalidEvent},
		{"unknown type", Event{Type: "shout", SessionID: "s1"}, ErrInvalidEvent},
		{"missing session", Event{Type: EventJoinSession}, ErrInvalidID},
		{"missing section", Event{Type: EventUpdateScore, SessionID: "s1", Score: score(1)}, ErrMissingSection},
		{"bad section", Event{Type: EventUpdateScore, SessionID: "s1", SectionID: "a b", Score: score(1)}, ErrInvalidID},
		{"missing score", Event{Type: EventUpdateScore, SessionID: "s1", SectionID: "quiz"}, ErrInvalidScore},
		{"nan score", Event{Type: EventUpdateScore, SessionID: "s1", SectionID: "quiz", Score: score(math.NaN())}, ErrInvalidScore},
		{"inf score", Event{Type: EventUpdateScore, SessionID: "s1", SectionID: "quiz", Score: score(math.Inf(1))}, ErrInvalidScore},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.event.Validate()
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestErrors_ReasonAndStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
		reason string
	}{
		{nil, http.StatusOK, ""},
		{fmt.Errorf("%w: classroom c1", ErrNotFound), http.StatusNotFound, "not found: classroom c1"},
		{ErrNotStarted, http.StatusBadRequest, ErrNotStarted.Error()},
		{ErrAlreadyEnded, http.StatusBadRequest, ErrAlreadyEnded.Error()},
		{ErrRestricted, http.StatusForbidden, ErrRestricted.Error()},
		{ErrInvalidBookingState, http.StatusBadRequest, ErrInvalidBookingState.Error()},
		{ErrSlotExhausted, http.StatusConflict, ErrSlotExhausted.Error()},
		{ErrSessionFull, http.StatusConflict, ErrSessionFull.Error()},
		{fmt.Errorf("%w: write sessions: disk full", ErrInternal), http.StatusInternalServerError, "internal error"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.status, HTTPStatus(tc.err), "%v", tc.err)
		assert.Equal(t, tc.reason, Reason(tc.err), "%v", tc.err)
	}
}

func TestRecord_RoundTripsTypedValues(t *testing.T) {
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	in := Session{ID: "s1", Status: SessionStatusActive, MaxUsers: 3, Users: []SessionUser{{ID: "a"}}, ClassroomID: "c1", CreatedAt: created}

	rec, err := ToRecord(in)
	require.NoError(t, err)
	assert.Equal(t, "c1", rec["classroomId"])
	assert.Equal(t, float64(3), rec["maxUsers"])
	assert.NotContains(t, rec, "endedAt")

	var out Session
	require.NoError(t, FromRecord(rec, &out))
	assert.Equal(t, in, out)
}

func TestNormalizeValue(t *testing.T) {
	assert.Equal(t, float64(3), NormalizeValue(3))
	assert.Equal(t, "active", NormalizeValue(SessionStatusActive))
	assert.Equal(t, "open", NormalizeValue(VisibilityOpen))
	assert.Equal(t, Eq("status", "active"), Predicate{Field: "status", Value: "active"})
}
