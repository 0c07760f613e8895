// Package integration exercises the coordination core end to end against the
// SQLite document store.
package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"classroomhub/internal/assignment"
	"classroomhub/internal/booking"
	"classroomhub/internal/classroom"
	"classroomhub/internal/database"
	"classroomhub/internal/hub"
	"classroomhub/internal/keylock"
	"classroomhub/internal/lifecycle"
	"classroomhub/internal/scores"
	"classroomhub/internal/session"
	"classroomhub/internal/websocket"
	dbconfig "classroomhub/pkg/database"
	"classroomhub/pkg/types"
)

var classStart = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type stack struct {
	db         *database.Manager
	classrooms *classroom.Repository
	sessions   *session.Manager
	bookings   *booking.Ledger
	scores     *scores.Service
	registry   *websocket.Registry
	scheduler  *lifecycle.Scheduler
	lifecycle  *lifecycle.Service
	engine     *assignment.Engine
}

// newStack wires the core components over a freshly migrated database in a
// temporary directory. The scheduler is never started, so nothing fires on
// its own.
func newStack(t *testing.T) *stack {
	t.Helper()

	cfg := dbconfig.DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "integration.db")
	db, err := database.NewManager(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, dbconfig.NewMigrationManager(db.DB(), nil).ApplyMigrations())
	require.NoError(t, dbconfig.NewSchemaValidator(db.DB()).Validate())

	s := &stack{
		db:         db,
		classrooms: classroom.NewRepository(db, nil),
		sessions:   session.NewManager(db, nil, nil),
		bookings:   booking.NewLedger(),
		scores:     scores.NewService(db, scores.NewLedger(), nil, nil),
		scheduler:  lifecycle.NewScheduler(time.UTC, nil),
	}
	s.registry = websocket.NewRegistry(nil, nil, s.scores.Ledger())

	locks := keylock.New(0)
	now := func() time.Time { return classStart.Add(10 * time.Minute) }
	s.sessions.SetClock(now)

	s.lifecycle = lifecycle.NewService(lifecycle.Dependencies{
		Scheduler:   s.scheduler,
		Runner:      lifecycle.NewRunner(lifecycle.RetryPolicy{Attempts: 1}, nil, nil),
		Classrooms:  s.classrooms,
		Sessions:    s.sessions,
		Scores:      s.scores,
		Bookings:    s.bookings,
		Registry:    s.registry,
		Broadcaster: hub.NewHub(s.registry, nil),
		Locks:       locks,
	}, lifecycle.DefaultConfig(), nil)
	s.lifecycle.SetClock(now)

	s.engine = assignment.NewEngine(s.classrooms, s.sessions, s.bookings, s.scores, locks, nil, nil)
	s.engine.SetRegistrar(s.lifecycle)
	s.engine.SetClock(now)
	return s
}

func (s *stack) classroom(t *testing.T, id string, maxUsers int) *types.Classroom {
	t.Helper()
	c := &types.Classroom{
		ID:        id,
		Name:      "Classroom " + id,
		StartTime: classStart,
		Duration:  60,
		MaxUsers:  maxUsers,
		Sections: []types.Section{
			{ID: "sec1", Name: "Warm-up", Type: "game", Duration: 20},
			{ID: "sec2", Name: "Main", Type: "video", Duration: 60},
		},
	}
	require.NoError(t, s.classrooms.Create(context.Background(), c))
	return c
}

func (s *stack) join(t *testing.T, classroomID, userID, bookingID string) *assignment.JoinResult {
	t.Helper()
	res, err := s.engine.Join(context.Background(), assignment.JoinRequest{
		ClassroomID: classroomID,
		UserID:      userID,
		BookingID:   bookingID,
	})
	require.NoError(t, err)
	return res
}

func (s *stack) persistedScores(t *testing.T, collection, sessionID string) []types.UserScore {
	t.Helper()
	recs, err := s.db.Query(context.Background(), collection, types.Eq("sessionId", sessionID))
	require.NoError(t, err)
	out := make([]types.UserScore, len(recs))
	for i, rec := range recs {
		require.NoError(t, types.FromRecord(rec, &out[i]))
	}
	return out
}
