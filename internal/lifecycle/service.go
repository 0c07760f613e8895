package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"classroomhub/internal/booking"
	"classroomhub/internal/classroom"
	"classroomhub/internal/keylock"
	"classroomhub/internal/logging"
	"classroomhub/internal/scores"
	"classroomhub/internal/session"
	"classroomhub/internal/websocket"
	"classroomhub/pkg/interfaces"
	"classroomhub/pkg/types"
)

// Broadcaster delivers an event to a session room synchronously.
type Broadcaster interface {
	Deliver(event types.Event, except string)
}

// Config holds lifecycle timing.
type Config struct {
	// SessionEndGrace is added to the classroom window before a session ends.
	SessionEndGrace  time.Duration
	ArchiveSchedule  string
	ArchiveBatchSize int
	Location         *time.Location
}

// DefaultConfig returns the lifecycle defaults.
func DefaultConfig() Config {
	return Config{
		SessionEndGrace:  5 * time.Minute,
		ArchiveSchedule:  DefaultArchiveSchedule,
		ArchiveBatchSize: scores.DefaultBatchSize,
		Location:         time.UTC,
	}
}

// Dependencies are the components lifecycle callbacks act on.
type Dependencies struct {
	Scheduler   interfaces.Scheduler
	Runner      *Runner
	Classrooms  *classroom.Repository
	Sessions    *session.Manager
	Scores      *scores.Service
	Bookings    *booking.Ledger
	Registry    *websocket.Registry
	Broadcaster Broadcaster
	// Locks is the classroom key space shared with the assignment engine.
	Locks *keylock.Locker
}

// Service registers lifecycle tasks and carries them out.
// ARCHITECTURAL DISCOVERY: Callbacks resolve everything from the Task
// descriptor at fire time, so a task registered before a restart and one
// rebuilt by Restore behave identically
type Service struct {
	deps   Dependencies
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a lifecycle service.
func NewService(deps Dependencies, config Config, logger *slog.Logger) *Service {
	if config.Location == nil {
		config.Location = time.UTC
	}
	if config.ArchiveSchedule == "" {
		config.ArchiveSchedule = DefaultArchiveSchedule
	}
	if config.ArchiveBatchSize <= 0 {
		config.ArchiveBatchSize = scores.DefaultBatchSize
	}
	return &Service{
		deps:   deps,
		config: config,
		logger: logging.OrDiscard(logger),
		now:    time.Now,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Start schedules the nightly archive sweep and rebuilds timers for every
// active session.
func (s *Service) Start(ctx context.Context) error {
	s.schedule(Task{
		ID:      NightlyArchiveID,
		Kind:    KindArchive,
		Trigger: interfaces.Trigger{Daily: s.config.ArchiveSchedule},
	})
	_, err := s.Restore(ctx)
	return err
}

// Register schedules the end-session, end-section and archive tasks for a
// joined session. Tasks already scheduled are left as they are.
func (s *Service) Register(_ context.Context, c *types.Classroom, sessionID string) error {
	if c == nil || sessionID == "" {
		return fmt.Errorf("register lifecycle: classroom and session are required")
	}
	added := 0
	for _, task := range Plan(c, sessionID, s.config.SessionEndGrace, s.config.Location) {
		if s.schedule(task) {
			added++
		}
	}
	if added > 0 {
		s.logger.Debug("lifecycle tasks registered", "classroom_id", c.ID, "session_id", sessionID, "tasks", added)
	}
	return nil
}

// Restore rebuilds lifecycle tasks from stored active sessions and returns
// how many sessions were registered. Tasks whose instant already passed fire
// immediately.
func (s *Service) Restore(ctx context.Context) (int, error) {
	active, err := s.deps.Sessions.ListAllActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore lifecycle: %w", err)
	}

	classrooms := make(map[string]*types.Classroom)
	restored := 0
	for _, sess := range active {
		c, ok := classrooms[sess.ClassroomID]
		if !ok {
			c, err = s.deps.Classrooms.Get(ctx, sess.ClassroomID)
			if errors.Is(err, types.ErrNotFound) {
				s.logger.Warn("active session without classroom, not restored",
					"session_id", sess.ID,
					"classroom_id", sess.ClassroomID)
				continue
			}
			if err != nil {
				return restored, err
			}
			classrooms[sess.ClassroomID] = c
		}
		if err := s.Register(ctx, c, sess.ID); err != nil {
			return restored, err
		}
		restored++
	}

	s.logger.Info("lifecycle restored", "sessions", restored)
	return restored, nil
}

func (s *Service) schedule(task Task) bool {
	return s.deps.Scheduler.Schedule(task.ID, task.Trigger, func() {
		s.run(context.Background(), task)
	})
}

func (s *Service) run(ctx context.Context, task Task) error {
	return s.deps.Runner.Run(ctx, task, func(ctx context.Context) error {
		return s.Execute(ctx, task)
	})
}

// Execute carries out task once.
func (s *Service) Execute(ctx context.Context, task Task) error {
	switch task.Kind {
	case KindEndSession:
		return s.EndSession(ctx, task.SessionID)
	case KindEndSection:
		return s.EndSection(ctx, task.SessionID, task.SectionID)
	case KindArchive:
		_, err := s.Archive(ctx, task.ClassroomID)
		return err
	default:
		return fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

// RetryFailed runs every task the runner gave up on again and returns how
// many now succeeded.
func (s *Service) RetryFailed(ctx context.Context) int {
	succeeded := 0
	for _, f := range s.deps.Runner.TakeFailed() {
		if err := s.run(ctx, f.Task); err == nil {
			succeeded++
		}
	}
	return succeeded
}

// Failed returns the tasks that exhausted their attempts and await a retry.
func (s *Service) Failed() []Failure {
	return s.deps.Runner.Failed()
}

// EndSession ends sessionID: resident scores are persisted, users known to
// the registry are persisted as members, the session is marked ended, its
// room is told and torn down, and its bookings are dropped. A failure before
// the session is marked ended leaves it active so a retry redoes every step.
func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	sess, err := s.deps.Sessions.Get(ctx, sessionID)
	if errors.Is(err, types.ErrNotFound) {
		s.logger.Warn("end of unknown session", "session_id", sessionID)
		s.teardown(sessionID)
		return nil
	}
	if err != nil {
		return err
	}

	unlock, err := s.deps.Locks.Lock(ctx, sess.ClassroomID)
	if err != nil {
		return err
	}
	defer unlock()

	if sess.IsActive() {
		if err := s.deps.Scores.FlushSession(ctx, sessionID); err != nil {
			return err
		}
		if err := s.persistKnownUsers(ctx, sessionID); err != nil {
			return err
		}
		if _, err := s.deps.Sessions.End(ctx, sessionID); err != nil {
			return err
		}
	}

	s.deps.Broadcaster.Deliver(types.Event{
		Type:      types.EventSessionEnded,
		SessionID: sessionID,
		Timestamp: s.now().UTC(),
	}, "")
	s.teardown(sessionID)
	return nil
}

// persistKnownUsers adds every user ever present in the room to the
// session's membership. Only storage failures abort the end.
func (s *Service) persistKnownUsers(ctx context.Context, sessionID string) error {
	known := s.deps.Registry.KnownUsers(sessionID)
	if len(known) == 0 {
		return nil
	}
	_, err := s.deps.Sessions.AddUsers(ctx, sessionID, known...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, types.ErrInternal):
		return err
	default:
		s.logger.Warn("known users not persisted at session end",
			"session_id", sessionID,
			"users", len(known),
			"error", err)
		return nil
	}
}

// teardown drops all in-memory state held for sessionID.
func (s *Service) teardown(sessionID string) {
	removed := s.deps.Registry.ClearSession(sessionID)
	dropped := s.deps.Bookings.DropSession(sessionID)
	s.deps.Scheduler.Remove(EndSessionID(sessionID))
	s.logger.Info("session torn down",
		"session_id", sessionID,
		"connections_closed", len(removed),
		"bookings_dropped", len(dropped))
}

// EndSection persists the resident scores of sectionID. Sections of an
// ended session have nothing left to persist.
func (s *Service) EndSection(ctx context.Context, sessionID, sectionID string) error {
	sess, err := s.deps.Sessions.GetActive(ctx, sessionID)
	if errors.Is(err, types.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	unlock, err := s.deps.Locks.Lock(ctx, sess.ClassroomID)
	if err != nil {
		return err
	}
	defer unlock()

	return s.deps.Scores.FlushSection(ctx, sessionID, sectionID)
}

// Archive moves ended sessions of classroomID, and their scores, into the
// archive collections. An empty classroomID sweeps every classroom. Active
// sessions are never archived. Scores move first so a retry after a partial
// failure still finds the sessions they belong to.
func (s *Service) Archive(ctx context.Context, classroomID string) (int, error) {
	ended, err := s.deps.Sessions.ListEnded(ctx, classroomID)
	if err != nil {
		return 0, err
	}
	if len(ended) == 0 {
		return 0, nil
	}

	ids := make([]string, len(ended))
	for i, sess := range ended {
		ids[i] = sess.ID
	}
	if _, err := s.deps.Scores.Archive(ctx, ids, s.config.ArchiveBatchSize); err != nil {
		return 0, err
	}
	archived, err := s.deps.Sessions.Archive(ctx, classroomID, s.config.ArchiveBatchSize)
	if err != nil {
		return len(archived), err
	}
	return len(archived), nil
}
