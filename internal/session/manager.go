package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"classroomhub/internal/logging"
	"classroomhub/internal/metrics"
	"classroomhub/pkg/interfaces"
	"classroomhub/pkg/types"
)

// Manager reads and mutates session documents. It keeps no cache: every
// capacity decision re-reads storage. Callers serialize mutations of one
// classroom's sessions.
type Manager struct {
	store   interfaces.Store
	logger  *slog.Logger
	metrics metrics.Collector
	now     func() time.Time
}

// NewManager creates a new session manager
func NewManager(store interfaces.Store, logger *slog.Logger, collector metrics.Collector) *Manager {
	return &Manager{
		store:   store,
		logger:  logging.OrDiscard(logger),
		metrics: metrics.OrNop(collector),
		now:     time.Now,
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Create starts a new open session for classroom with userID as its only member.
func (m *Manager) Create(ctx context.Context, classroom *types.Classroom, userID string) (*types.Session, error) {
	if classroom == nil || classroom.ID == "" || classroom.MaxUsers <= 0 {
		return nil, ErrInvalidClassroom
	}
	if !types.IsValidUserID(userID) {
		return nil, ErrInvalidUserID
	}

	session := &types.Session{
		ID:          uuid.New().String(),
		Status:      types.SessionStatusActive,
		Visibility:  types.VisibilityOpen,
		MaxUsers:    classroom.MaxUsers,
		Users:       []types.SessionUser{{ID: userID}},
		ClassroomID: classroom.ID,
		CreatedAt:   m.now().UTC(),
	}
	if err := m.save(ctx, session, true); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.metrics.SessionCreated()
	m.logger.Info("session created",
		"session_id", session.ID,
		"classroom_id", classroom.ID,
		"user_id", userID,
		"max_users", session.MaxUsers)
	return session, nil
}

// Get retrieves a session by ID
func (m *Manager) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	rec, ok, err := m.store.Get(ctx, types.CollectionSessions, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: session %s", types.ErrNotFound, sessionID)
	}
	return decode(rec)
}

// GetActive retrieves a session that has not ended. Ended sessions are not found.
func (m *Manager) GetActive(ctx context.Context, sessionID string) (*types.Session, error) {
	session, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return nil, fmt.Errorf("%w: session %s has ended", types.ErrNotFound, sessionID)
	}
	return session, nil
}

// ListActive returns the classroom's active sessions of any visibility, oldest first.
func (m *Manager) ListActive(ctx context.Context, classroomID string) ([]*types.Session, error) {
	return m.list(ctx,
		types.Eq("classroomId", classroomID),
		types.Eq("status", types.SessionStatusActive))
}

// ListAvailable returns the classroom's active, open sessions, oldest first.
func (m *Manager) ListAvailable(ctx context.Context, classroomID string) ([]*types.Session, error) {
	return m.list(ctx,
		types.Eq("classroomId", classroomID),
		types.Eq("status", types.SessionStatusActive),
		types.Eq("visibility", string(types.VisibilityOpen)))
}

// ListAllActive returns every active session across classrooms.
func (m *Manager) ListAllActive(ctx context.Context) ([]*types.Session, error) {
	return m.list(ctx, types.Eq("status", types.SessionStatusActive))
}

// ListEnded returns ended sessions still held in the sessions collection.
// An empty classroomID lists every classroom.
func (m *Manager) ListEnded(ctx context.Context, classroomID string) ([]*types.Session, error) {
	predicates := []types.Predicate{types.Eq("status", types.SessionStatusEnded)}
	if classroomID != "" {
		predicates = append(predicates, types.Eq("classroomId", classroomID))
	}
	return m.list(ctx, predicates...)
}

func (m *Manager) list(ctx context.Context, predicates ...types.Predicate) ([]*types.Session, error) {
	records, err := m.store.Query(ctx, types.CollectionSessions, predicates...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}

	sessions := make([]*types.Session, 0, len(records))
	for _, rec := range records {
		s, err := decode(rec)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}

	// FUNCTIONAL DISCOVERY: Creation order makes "first eligible session"
	// stable regardless of how ids sort
	sort.SliceStable(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
		}
		return sessions[i].ID < sessions[j].ID
	})
	return sessions, nil
}

// AddUsers appends users that are not yet members. Existing members are
// ignored, so re-joins never count twice. Fails with ErrSessionFull when the
// new members would exceed MaxUsers.
func (m *Manager) AddUsers(ctx context.Context, sessionID string, userIDs ...string) (*types.Session, error) {
	session, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return nil, fmt.Errorf("%w: %s", ErrSessionEnded, sessionID)
	}

	var added []types.SessionUser
	seen := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		if !types.IsValidUserID(id) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidUserID, id)
		}
		if seen[id] || session.HasUser(id) {
			continue
		}
		seen[id] = true
		added = append(added, types.SessionUser{ID: id})
	}
	if len(added) == 0 {
		return session, nil
	}
	if len(session.Users)+len(added) > session.MaxUsers {
		return nil, fmt.Errorf("%w: session %s has %d of %d seats taken",
			types.ErrSessionFull, sessionID, len(session.Users), session.MaxUsers)
	}

	session.Users = append(session.Users, added...)
	if err := m.save(ctx, session, false); err != nil {
		return nil, fmt.Errorf("failed to add users to session %s: %w", sessionID, err)
	}
	return session, nil
}

// SetVisibility persists the session's visibility.
func (m *Manager) SetVisibility(ctx context.Context, sessionID string, visibility types.Visibility) (*types.Session, error) {
	session, err := m.GetActive(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Visibility == visibility {
		return session, nil
	}

	session.Visibility = visibility
	if err := m.save(ctx, session, false); err != nil {
		return nil, fmt.Errorf("failed to set visibility of session %s: %w", sessionID, err)
	}
	m.logger.Info("session visibility changed", "session_id", sessionID, "visibility", visibility)
	return session, nil
}

// End moves the session from active to ended. It reports false when the
// session had already ended; an ended session is never reactivated.
func (m *Manager) End(ctx context.Context, sessionID string) (bool, error) {
	session, err := m.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !session.IsActive() {
		return false, nil
	}

	endedAt := m.now().UTC()
	session.Status = types.SessionStatusEnded
	session.EndedAt = &endedAt
	if err := m.save(ctx, session, false); err != nil {
		return false, fmt.Errorf("failed to end session %s: %w", sessionID, err)
	}

	m.metrics.SessionEnded()
	m.logger.Info("session ended", "session_id", sessionID, "classroom_id", session.ClassroomID, "users", len(session.Users))
	return true, nil
}

// Archive moves ended sessions into the archive collection in batches of
// batchSize and returns the archived ids. An empty classroomID archives every
// ended session.
func (m *Manager) Archive(ctx context.Context, classroomID string, batchSize int) ([]string, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	ended, err := m.ListEnded(ctx, classroomID)
	if err != nil {
		return nil, err
	}

	var archived []string
	for start := 0; start < len(ended); start += batchSize {
		end := min(start+batchSize, len(ended))
		ops := make([]types.WriteOp, 0, 2*(end-start))
		for _, s := range ended[start:end] {
			rec, err := types.ToRecord(s)
			if err != nil {
				return archived, err
			}
			ops = append(ops,
				types.WriteOp{Kind: types.WriteSet, Collection: types.CollectionSessionArchive, ID: s.ID, Record: rec},
				types.WriteOp{Kind: types.WriteDelete, Collection: types.CollectionSessions, ID: s.ID},
			)
		}
		if err := m.store.BatchWrite(ctx, ops); err != nil {
			return archived, fmt.Errorf("failed to archive sessions: %w", err)
		}
		for _, s := range ended[start:end] {
			archived = append(archived, s.ID)
		}
	}

	if len(archived) > 0 {
		m.logger.Info("sessions archived", "classroom_id", classroomID, "count", len(archived))
	}
	return archived, nil
}

func (m *Manager) save(ctx context.Context, session *types.Session, create bool) error {
	rec, err := types.ToRecord(session)
	if err != nil {
		return err
	}
	if create {
		_, err = m.store.Create(ctx, types.CollectionSessions, rec)
		return err
	}
	return m.store.Set(ctx, types.CollectionSessions, session.ID, rec)
}

func decode(rec types.Record) (*types.Session, error) {
	var session types.Session
	if err := types.FromRecord(rec, &session); err != nil {
		return nil, fmt.Errorf("%w: decode session: %w", types.ErrInternal, err)
	}
	return &session, nil
}
