package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroomhub/internal/lifecycle"
	"classroomhub/pkg/types"
)

func TestSQLite_WalkInsFillThenOverflow(t *testing.T) {
	s := newStack(t)
	s.classroom(t, "C", 2)

	a := s.join(t, "C", "A", "")
	b := s.join(t, "C", "B", "")
	d := s.join(t, "C", "D", "")

	assert.Equal(t, a.Session.ID, b.Session.ID)
	assert.NotEqual(t, a.Session.ID, d.Session.ID)

	active, err := s.sessions.ListActive(context.Background(), "C")
	require.NoError(t, err)
	require.Len(t, active, 2)

	stored, err := s.sessions.Get(context.Background(), a.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, stored.UserIDs())

	// Every joined session has its end timer.
	assert.True(t, s.scheduler.Exists(lifecycle.EndSessionID(a.Session.ID)))
	assert.True(t, s.scheduler.Exists(lifecycle.EndSessionID(d.Session.ID)))
}

func TestSQLite_FullBookingRestrictsSession(t *testing.T) {
	s := newStack(t)
	s.classroom(t, "C", 3)
	require.NoError(t, s.classrooms.CreateBooking(context.Background(), &types.BookingRequest{
		ID: "Bk", ClassroomID: "C", UserCount: 3,
	}))

	first := s.join(t, "C", "b1", "Bk")
	stored, err := s.sessions.Get(context.Background(), first.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.VisibilityRestricted, stored.Visibility)

	second := s.join(t, "C", "b2", "Bk")
	assert.Equal(t, first.Session.ID, second.Session.ID)

	walkIn := s.join(t, "C", "w1", "")
	assert.NotEqual(t, first.Session.ID, walkIn.Session.ID)
}

func TestSQLite_SectionChangeFlushesResidentScores(t *testing.T) {
	s := newStack(t)
	s.classroom(t, "C", 5)
	sessionID := s.join(t, "C", "A", "").Session.ID
	ctx := context.Background()

	_, err := s.scores.Submit(ctx, sessionID, "sec1", "A", 10)
	require.NoError(t, err)
	assert.Empty(t, s.persistedScores(t, types.CollectionUserScores, sessionID))

	res, err := s.scores.Submit(ctx, sessionID, "sec2", "A", 5)
	require.NoError(t, err)
	require.NoError(t, res.FlushErr)
	assert.Equal(t, []string{"sec1"}, res.Flushed)

	persisted := s.persistedScores(t, types.CollectionUserScores, sessionID)
	require.Len(t, persisted, 1)
	assert.Equal(t, "sec1", persisted[0].SectionID)
	assert.Equal(t, 10.0, persisted[0].Score)

	// The new section is resident only; reads merge both.
	merged, err := s.scores.ScoresForSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, merged["sec1"]["A"])
	assert.Equal(t, 5.0, merged["sec2"]["A"])
}

func TestSQLite_EndThenArchiveSession(t *testing.T) {
	s := newStack(t)
	s.classroom(t, "C", 5)
	ctx := context.Background()

	ended := s.join(t, "C", "A", "").Session.ID
	_, err := s.scores.Submit(ctx, ended, "sec1", "A", 7)
	require.NoError(t, err)

	require.NoError(t, s.lifecycle.EndSession(ctx, ended))

	stored, err := s.sessions.Get(ctx, ended)
	require.NoError(t, err)
	assert.Equal(t, types.SessionStatusEnded, stored.Status)
	require.Len(t, s.persistedScores(t, types.CollectionUserScores, ended), 1)

	// A new join lands in a fresh session rather than the ended one.
	fresh := s.join(t, "C", "B", "").Session.ID
	assert.NotEqual(t, ended, fresh)

	n, err := s.lifecycle.Archive(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.sessions.Get(ctx, ended)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.Empty(t, s.persistedScores(t, types.CollectionUserScores, ended))
	assert.Len(t, s.persistedScores(t, types.CollectionScoreArchive, ended), 1)

	archived, ok, err := s.db.Get(ctx, types.CollectionSessionArchive, ended)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ended, archived["id"])

	still, err := s.sessions.GetActive(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, still.IsActive())
}
