package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"classroomhub/internal/assignment"
	"classroomhub/internal/logging"
	"classroomhub/internal/metrics"
	"classroomhub/internal/scores"
	"classroomhub/internal/websocket"
	"classroomhub/pkg/interfaces"
	"classroomhub/pkg/types"
)

// Sessions looks up sessions that have not ended.
type Sessions interface {
	GetActive(ctx context.Context, sessionID string) (*types.Session, error)
}

// Leaver releases whatever capacity a user holds in a session.
type Leaver interface {
	Leave(ctx context.Context, sessionID, userID string) (assignment.LeaveResult, error)
}

// Scorer records live scores.
type Scorer interface {
	Submit(ctx context.Context, sessionID, sectionID, userID string, score float64) (scores.SubmitResult, error)
}

// Broadcaster fans events out to session rooms.
type Broadcaster interface {
	Broadcast(event types.Event, except string) error
	SendTo(userID string, event types.Event) error
}

// Router applies inbound real-time events and announces their effects.
// ARCHITECTURAL DISCOVERY: Every outbound event is emitted only after the
// state mutation it describes has been applied, so a client never sees an
// announcement for a change that failed
type Router struct {
	registry    *websocket.Registry
	sessions    Sessions
	leaver      Leaver
	scorer      Scorer
	broadcaster Broadcaster
	rateLimiter *RateLimiter
	logger      *slog.Logger
	metrics     metrics.Collector
	now         func() time.Time
}

// NewRouter creates an event router.
// FUNCTIONAL DISCOVERY: Dependency injection enables testing with fake collaborators
func NewRouter(
	registry *websocket.Registry,
	sessions Sessions,
	leaver Leaver,
	scorer Scorer,
	broadcaster Broadcaster,
	limiter *RateLimiter,
	logger *slog.Logger,
	collector metrics.Collector,
) *Router {
	if limiter == nil {
		limiter = NewRateLimiter(DefaultEventsPerMinute, time.Minute)
	}
	return &Router{
		registry:    registry,
		sessions:    sessions,
		leaver:      leaver,
		scorer:      scorer,
		broadcaster: broadcaster,
		rateLimiter: limiter,
		logger:      logging.OrDiscard(logger),
		metrics:     metrics.OrNop(collector),
		now:         time.Now,
	}
}

// SetClock replaces the time source used for event timestamps.
func (r *Router) SetClock(now func() time.Time) {
	r.now = now
}

// RateLimiter returns the router's limiter so its idle entries can be swept.
func (r *Router) RateLimiter() *RateLimiter {
	return r.rateLimiter
}

// HandleEvent implements websocket.EventHandler.
func (r *Router) HandleEvent(ctx context.Context, conn *websocket.Connection, event *types.Event) error {
	return r.Route(ctx, conn.Claims(), event)
}

// Disconnect implements websocket.EventHandler. A connection that has already
// been replaced by a newer one for the same user leaves nothing.
func (r *Router) Disconnect(ctx context.Context, conn *websocket.Connection) {
	r.disconnect(ctx, conn.UserID(), conn)
}

func (r *Router) disconnect(ctx context.Context, userID string, conn interfaces.Connection) {
	current, ok := r.registry.Connection(userID)
	if !ok || current != conn {
		return
	}
	sessionID, ok := r.registry.ActiveSession(userID)
	if !ok {
		return
	}
	if err := r.leave(ctx, sessionID, userID); err != nil {
		r.logger.Warn("leave on disconnect failed",
			"session_id", sessionID,
			"user_id", userID,
			"error", err)
	}
}

// Route applies event on behalf of the user identified by claims.
func (r *Router) Route(ctx context.Context, claims types.Claims, event *types.Event) error {
	event.UserID = claims.ID

	// TECHNICAL DISCOVERY: Rate limiting applied per user before any state is touched
	if !r.rateLimiter.Allow(claims.ID) {
		r.metrics.EventRejected("rate_limited")
		return ErrRateLimitExceeded
	}

	var err error
	switch event.Type {
	case types.EventJoinSession:
		err = r.join(ctx, claims, event.SessionID)
	case types.EventLeaveSession:
		err = r.leave(ctx, event.SessionID, claims.ID)
	case types.EventUpdateScore:
		if event.Score == nil {
			err = types.ErrInvalidScore
			break
		}
		err = r.updateScore(ctx, event.SessionID, event.SectionID, claims.ID, *event.Score)
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedEvent, event.Type)
	}

	if err != nil {
		r.metrics.EventRejected(event.Type)
		r.logger.Debug("event rejected",
			"event_type", event.Type,
			"session_id", event.SessionID,
			"user_id", claims.ID,
			"error", err)
	}
	return err
}

// join marks a member live in the session room. Capacity was decided when
// the user joined over HTTP, so only membership is checked here.
func (r *Router) join(ctx context.Context, claims types.Claims, sessionID string) error {
	s, err := r.sessions.GetActive(ctx, sessionID)
	if err != nil {
		return err
	}
	if !s.HasUser(claims.ID) {
		return ErrNotMember
	}

	if previous, ok := r.registry.ActiveSession(claims.ID); ok && previous != sessionID {
		if err := r.leave(ctx, previous, claims.ID); err != nil {
			r.logger.Warn("leaving previous session failed",
				"session_id", previous,
				"user_id", claims.ID,
				"error", err)
		}
	}

	r.registry.SetPresence(sessionID, claims.ID, true)

	event := types.Event{
		Type:      types.EventUserJoined,
		SessionID: sessionID,
		UserID:    claims.ID,
		Username:  claims.DisplayName(),
		Timestamp: r.now().UTC(),
	}
	r.broadcast(event, claims.ID)

	event.Self = true
	if err := r.broadcaster.SendTo(claims.ID, event); err != nil {
		r.logger.Warn("join acknowledgement not delivered", "session_id", sessionID, "user_id", claims.ID, "error", err)
	}

	r.logger.Info("user live in session", "session_id", sessionID, "user_id", claims.ID)
	return nil
}

// leave releases the user's booking slot, takes them offline and tells the room.
// Only a user live in the session can leave it.
func (r *Router) leave(ctx context.Context, sessionID, userID string) error {
	if !r.registry.IsLive(sessionID, userID) {
		return ErrNotInSession
	}

	res, err := r.leaver.Leave(ctx, sessionID, userID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return err
	}

	r.registry.SetPresence(sessionID, userID, false)
	r.broadcast(types.Event{
		Type:      types.EventUserLeft,
		SessionID: sessionID,
		UserID:    userID,
		Timestamp: r.now().UTC(),
	}, userID)

	r.logger.Info("user left session",
		"session_id", sessionID,
		"user_id", userID,
		"booking_id", res.BookingID,
		"reopened", res.Reopened)
	return nil
}

func (r *Router) updateScore(ctx context.Context, sessionID, sectionID, userID string, score float64) error {
	if !r.registry.IsLive(sessionID, userID) {
		return ErrNotInSession
	}

	res, err := r.scorer.Submit(ctx, sessionID, sectionID, userID, score)
	if err != nil {
		return err
	}
	if res.FlushErr != nil {
		r.logger.Warn("previous sections kept resident after failed flush",
			"session_id", sessionID,
			"section_id", sectionID,
			"error", res.FlushErr)
	}

	r.broadcast(types.Event{
		Type:      types.EventScoreUpdated,
		SessionID: sessionID,
		UserID:    userID,
		SectionID: sectionID,
		Score:     &score,
		Timestamp: r.now().UTC(),
	}, userID)
	return nil
}

func (r *Router) broadcast(event types.Event, except string) {
	if err := r.broadcaster.Broadcast(event, except); err != nil {
		r.logger.Warn("broadcast failed",
			"event_type", event.Type,
			"session_id", event.SessionID,
			"error", err)
	}
}
