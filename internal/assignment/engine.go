// Package assignment decides which session a joining user lands in.
//
// Every join for a classroom runs under that classroom's key lock, so the
// capacity check, membership append and booking bookkeeping of one join are
// never interleaved with another join for the same classroom.
package assignment

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
	"classroomhub/internal/metrics"
	"classroomhub/internal/scores"
	"classroomhub/internal/session"
	"classroomhub/pkg/types"
)

// DefaultSafetyOffset is the extra headroom kept free when a new booking
// reservation is placed into an existing session.
const DefaultSafetyOffset = 1

// Registrar registers lifecycle timers for a joined session. Registration
// must be idempotent.
type Registrar interface {
	Register(ctx context.Context, classroom *types.Classroom, sessionID string) error
}

// JoinRequest identifies who joins which classroom, optionally under a booking.
type JoinRequest struct {
	ClassroomID string
	UserID      string
	BookingID   string
}

// JoinResult is the resolved session and what the client needs to render it.
type JoinResult struct {
	Session   *types.Session
	Scores    types.SessionScores
	Sections  []types.Section
	StartTime time.Time
	// Created is true when this join created the session.
	Created bool
	// Rejoined is true when the user was already a member.
	Rejoined bool
}

// LeaveResult describes the booking effect of a leave.
type LeaveResult struct {
	BookingID string
	Released  bool
	Reopened  bool
}

// Engine implements session assignment.
type Engine struct {
	classrooms   *classroom.Repository
	sessions     *session.Manager
	bookings     *booking.Ledger
	scores       *scores.Service
	locks        *keylock.Locker
	registrar    Registrar
	logger       *slog.Logger
	metrics      metrics.Collector
	safetyOffset int
	now          func() time.Time
}

// NewEngine creates an assignment engine. locks is the classroom key space and
// must be shared with every other component that mutates a classroom's
// sessions.
func NewEngine(
	classrooms *classroom.Repository,
	sessions *session.Manager,
	bookings *booking.Ledger,
	scoreService *scores.Service,
	locks *keylock.Locker,
	logger *slog.Logger,
	collector metrics.Collector,
) *Engine {
	return &Engine{
		classrooms:   classrooms,
		sessions:     sessions,
		bookings:     bookings,
		scores:       scoreService,
		locks:        locks,
		logger:       logging.OrDiscard(logger),
		metrics:      metrics.OrNop(collector),
		safetyOffset: DefaultSafetyOffset,
		now:          time.Now,
	}
}

// SetRegistrar sets the lifecycle registrar invoked after every successful join.
func (e *Engine) SetRegistrar(r Registrar) {
	e.registrar = r
}

// SetSafetyOffset overrides DefaultSafetyOffset.
func (e *Engine) SetSafetyOffset(n int) {
	if n < 0 {
		n = 0
	}
	e.safetyOffset = n
}

// SetClock replaces the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Join resolves the session for req, creating one when no existing session can
// take the user.
func (e *Engine) Join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	result, err := e.join(ctx, req)
	if err != nil {
		e.metrics.JoinCompleted(metrics.JoinRejected)
		attrs := []any{"classroom_id", req.ClassroomID, "user_id", req.UserID, "booking_id", req.BookingID, "error", err}
		if errors.Is(err, types.ErrInternal) {
			e.logger.Error("join failed", attrs...)
		} else {
			e.logger.Info("join rejected", attrs...)
		}
		return nil, err
	}

	switch {
	case result.Created:
		e.metrics.JoinCompleted(metrics.JoinCreated)
	case result.Rejoined:
		e.metrics.JoinCompleted(metrics.JoinRejoined)
	default:
		e.metrics.JoinCompleted(metrics.JoinJoined)
	}
	e.logger.Info("user joined session",
		"classroom_id", req.ClassroomID,
		"session_id", result.Session.ID,
		"user_id", req.UserID,
		"booking_id", req.BookingID,
		"created", result.Created,
		"members", len(result.Session.Users))
	return result, nil
}

func (e *Engine) join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	if !types.IsValidUserID(req.UserID) {
		return nil, types.ErrInvalidUserID
	}
	if !types.IsValidID(req.ClassroomID) {
		return nil, fmt.Errorf("%w: classroom %q", types.ErrNotFound, req.ClassroomID)
	}
	if req.BookingID != "" && !types.IsValidID(req.BookingID) {
		return nil, fmt.Errorf("%w: booking %q", types.ErrNotFound, req.BookingID)
	}

	unlock, err := e.locks.Lock(ctx, req.ClassroomID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Rules 1 and 2 read storage under the lock so the capacity decision below
	// sees the same classroom definition.
	c, err := e.classrooms.Get(ctx, req.ClassroomID)
	if err != nil {
		return nil, err
	}
	if err := classroom.CheckJoinable(c, e.now()); err != nil {
		return nil, err
	}

	var (
		target   *types.Session
		pending  *types.BookingRequest
		created  bool
		rejoined bool
	)

	// FUNCTIONAL DISCOVERY: A booking already bound to a live session sends
	// every member of the group to that session, bypassing the general search
	if req.BookingID != "" {
		target, err = e.boundSession(ctx, req.BookingID)
		if err != nil {
			return nil, err
		}
		if target == nil {
			if pending, err = e.classrooms.GetBooking(ctx, req.BookingID); err != nil {
				return nil, err
			}
			if pending.ClassroomID != "" && pending.ClassroomID != c.ID {
				return nil, fmt.Errorf("%w: booking %s belongs to classroom %s",
					types.ErrInvalidBookingState, req.BookingID, pending.ClassroomID)
			}
		}
	}

	if target == nil {
		target, rejoined, err = e.findSession(ctx, c, req.UserID, pending)
		if err != nil {
			return nil, err
		}
	} else {
		rejoined = target.HasUser(req.UserID)
	}

	if target == nil {
		if target, err = e.sessions.Create(ctx, c, req.UserID); err != nil {
			return nil, err
		}
		created = true
	} else if !rejoined {
		if target, err = e.sessions.AddUsers(ctx, target.ID, req.UserID); err != nil {
			return nil, err
		}
	}

	if req.BookingID != "" {
		if target, err = e.consumeBooking(ctx, c, target, req, pending); err != nil {
			return nil, err
		}
	}

	if e.registrar != nil {
		if err := e.registrar.Register(ctx, c, target.ID); err != nil {
			e.logger.Error("failed to register lifecycle timers",
				"classroom_id", c.ID,
				"session_id", target.ID,
				"error", err)
		}
	}

	sessionScores, err := e.scores.ScoresForSession(ctx, target.ID)
	if err != nil {
		return nil, err
	}

	return &JoinResult{
		Session:   target,
		Scores:    sessionScores,
		Sections:  c.Sections,
		StartTime: c.StartTime,
		Created:   created,
		Rejoined:  rejoined,
	}, nil
}

// boundSession returns the active session bookingID is bound to. A booking
// bound to a session that has since ended is dropped and nil is returned so
// the join falls through to the general search.
func (e *Engine) boundSession(ctx context.Context, bookingID string) (*types.Session, error) {
	b, ok := e.bookings.FindByBooking(bookingID)
	if !ok {
		return nil, nil
	}

	s, err := e.sessions.GetActive(ctx, b.SessionID)
	if errors.Is(err, types.ErrNotFound) {
		e.bookings.Drop(bookingID)
		e.logger.Warn("dropped stale booking bound to an ended session",
			"booking_id", bookingID,
			"session_id", b.SessionID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// findSession picks the session for a user outside a bound booking. A session
// the user already belongs to wins; otherwise the first open session with
// room beyond the seats held for bookings. The bool reports membership.
func (e *Engine) findSession(ctx context.Context, c *types.Classroom, userID string, pending *types.BookingRequest) (*types.Session, bool, error) {
	active, err := e.sessions.ListActive(ctx, c.ID)
	if err != nil {
		return nil, false, err
	}

	for _, s := range active {
		if s.HasUser(userID) {
			return s, true, nil
		}
	}

	for _, s := range active {
		if s.Visibility != types.VisibilityOpen {
			continue
		}
		if len(s.Users) < e.walkInLimit(s, pending) {
			return s, false, nil
		}
	}
	return nil, false, nil
}

// walkInLimit is the membership below which s can still take a user.
// TECHNICAL DISCOVERY: Seats reserved for booked users who have not arrived
// yet are subtracted, and a new reservation needs its whole block plus the
// safety offset to fit
func (e *Engine) walkInLimit(s *types.Session, pending *types.BookingRequest) int {
	limit := s.MaxUsers - e.bookings.Unconsumed(s.ID)
	if pending != nil {
		limit -= pending.UserCount + e.safetyOffset
	}
	return limit
}

// consumeBooking reserves the booking on first use and charges the user a
// slot. Slot exhaustion restricts the session.
func (e *Engine) consumeBooking(ctx context.Context, c *types.Classroom, target *types.Session, req JoinRequest, pending *types.BookingRequest) (*types.Session, error) {
	reservedFull := false
	if pending != nil {
		openSlots := max(0, c.MaxUsers-pending.UserCount)
		if _, err := e.bookings.Reserve(req.BookingID, target.ID, openSlots, pending.UserCount); err != nil {
			return nil, err
		}
		e.logger.Info("booking reserved",
			"booking_id", req.BookingID,
			"session_id", target.ID,
			"open_slots", openSlots,
			"reserved", pending.UserCount)
		reservedFull = openSlots == 0
	}

	res, err := e.bookings.Consume(req.BookingID, req.UserID)
	if err != nil {
		return nil, err
	}
	if reservedFull || res.Exhausted {
		return e.restrict(ctx, target, req.BookingID)
	}
	return target, nil
}

func (e *Engine) restrict(ctx context.Context, target *types.Session, bookingID string) (*types.Session, error) {
	e.metrics.BookingSlotsExhausted()
	updated, err := e.sessions.SetVisibility(ctx, target.ID, types.VisibilityRestricted)
	if err != nil {
		return nil, err
	}
	e.logger.Info("booking slots exhausted, session restricted",
		"booking_id", bookingID,
		"session_id", target.ID)
	return updated, nil
}

// Leave releases the slot a booked user holds in sessionID. A release that
// brings the booking from zero open slots back to one reopens the session.
// Leaving without a booking has no capacity effect: membership records who
// ever joined.
func (e *Engine) Leave(ctx context.Context, sessionID, userID string) (LeaveResult, error) {
	b, ok := e.bookings.FindUser(sessionID, userID)
	if !ok {
		return LeaveResult{}, nil
	}

	s, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return LeaveResult{}, err
	}

	unlock, err := e.locks.Lock(ctx, s.ClassroomID)
	if err != nil {
		return LeaveResult{}, err
	}
	defer unlock()

	res, err := e.bookings.Release(b.ID, userID)
	if errors.Is(err, types.ErrInvalidBookingState) {
		// Dropped while we waited for the lock: the session ended.
		return LeaveResult{BookingID: b.ID}, nil
	}
	if err != nil {
		return LeaveResult{}, err
	}

	result := LeaveResult{BookingID: b.ID, Released: res.Removed, Reopened: res.Reopened}
	if res.Reopened {
		if _, err := e.sessions.SetVisibility(ctx, sessionID, types.VisibilityOpen); err != nil && !errors.Is(err, types.ErrNotFound) {
			return result, err
		}
		e.logger.Info("booking slot released, session reopened",
			"booking_id", b.ID,
			"session_id", sessionID,
			"user_id", userID)
	}
	return result, nil
}
