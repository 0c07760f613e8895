// Package booking tracks reserved capacity for pre-booked groups.
//
// A booking is reserved once against a session, then consumed and released
// by individual users. The ledger lives for the life of the process.
package booking

import (
	"fmt"
	"sync"

	"classroomhub/pkg/types"
)

type record struct {
	mu        sync.Mutex
	id        string
	sessionID string
	openSlots int
	reserved  int
	users     []string            // consumption order
	consumed  map[string]struct{} // users holding a slot
	charged   map[string]struct{} // users whose consumption decremented the counter
	arrived   map[string]struct{} // every user ever consumed; members keep their seat after leaving
	dropped   bool
}

func (r *record) snapshot() types.Booking {
	users := make([]string, len(r.users))
	copy(users, r.users)
	return types.Booking{
		ID:        r.id,
		SessionID: r.sessionID,
		OpenSlots: r.openSlots,
		Reserved:  r.reserved,
		Users:     users,
	}
}

// ConsumeResult describes the effect of Consume.
type ConsumeResult struct {
	Added     bool // user was not yet in the consumed set
	OpenSlots int
	// Exhausted is true when this call moved the counter to zero.
	Exhausted bool
}

// ReleaseResult describes the effect of Release.
type ReleaseResult struct {
	Removed   bool
	OpenSlots int
	// Reopened is true when this call moved the counter from zero to one.
	Reopened bool
}

// Ledger holds booking records keyed by booking id.
// ARCHITECTURAL DISCOVERY: The map lock only guards membership of the map;
// every read-then-write on a booking runs under that booking's own mutex.
type Ledger struct {
	mu       sync.RWMutex
	bookings map[string]*record
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{bookings: make(map[string]*record)}
}

func (l *Ledger) lookup(bookingID string) (*record, error) {
	l.mu.RLock()
	r, ok := l.bookings[bookingID]
	l.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: booking %s is not reserved", types.ErrInvalidBookingState, bookingID)
	}
	return r, nil
}

// locked returns the record with its mutex held, or an error if the booking
// is unknown or was dropped between lookup and lock.
func (l *Ledger) locked(bookingID string) (*record, error) {
	r, err := l.lookup(bookingID)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	if r.dropped {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: booking %s was dropped", types.ErrInvalidBookingState, bookingID)
	}
	return r, nil
}

// Reserve binds bookingID to sessionID with the given open-slot counter and
// reserved block. Reserving again for the same session is a no-op; reserving
// for a different session fails with ErrInvalidBookingState.
func (l *Ledger) Reserve(bookingID, sessionID string, openSlots, reserved int) (types.Booking, error) {
	if bookingID == "" || sessionID == "" {
		return types.Booking{}, fmt.Errorf("%w: booking and session ids are required", types.ErrInvalidBookingState)
	}
	if openSlots < 0 || reserved < 0 {
		return types.Booking{}, fmt.Errorf("%w: negative slot counts (%d open, %d reserved)",
			types.ErrInvalidBookingState, openSlots, reserved)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.bookings[bookingID]; ok {
		existing.mu.Lock()
		defer existing.mu.Unlock()
		if existing.sessionID != sessionID {
			return types.Booking{}, fmt.Errorf("%w: booking %s already bound to session %s",
				types.ErrInvalidBookingState, bookingID, existing.sessionID)
		}
		return existing.snapshot(), nil
	}

	r := &record{
		id:        bookingID,
		sessionID: sessionID,
		openSlots: openSlots,
		reserved:  reserved,
		consumed:  make(map[string]struct{}),
		charged:   make(map[string]struct{}),
		arrived:   make(map[string]struct{}),
	}
	l.bookings[bookingID] = r
	return r.snapshot(), nil
}

// AddUser marks userID as having consumed a slot. Adding twice is a no-op.
func (l *Ledger) AddUser(bookingID, userID string) (bool, error) {
	r, err := l.locked(bookingID)
	if err != nil {
		return false, err
	}
	defer r.mu.Unlock()
	return r.add(userID), nil
}

func (r *record) add(userID string) bool {
	if _, ok := r.consumed[userID]; ok {
		return false
	}
	r.consumed[userID] = struct{}{}
	r.arrived[userID] = struct{}{}
	r.users = append(r.users, userID)
	return true
}

func (r *record) remove(userID string) bool {
	if _, ok := r.consumed[userID]; !ok {
		return false
	}
	delete(r.consumed, userID)
	for i, u := range r.users {
		if u == userID {
			r.users = append(r.users[:i], r.users[i+1:]...)
			break
		}
	}
	return true
}

// DecrementSlot decrements the open-slot counter and returns the new count.
// It fails with ErrSlotExhausted when the counter is already zero.
func (l *Ledger) DecrementSlot(bookingID string) (int, error) {
	r, err := l.locked(bookingID)
	if err != nil {
		return 0, err
	}
	defer r.mu.Unlock()
	return r.decrement()
}

func (r *record) decrement() (int, error) {
	if r.openSlots <= 0 {
		return r.openSlots, fmt.Errorf("%w: booking %s", types.ErrSlotExhausted, r.id)
	}
	r.openSlots--
	return r.openSlots, nil
}

// IncrementSlot increments the open-slot counter and returns the new count.
// No upper bound is enforced.
func (l *Ledger) IncrementSlot(bookingID string) (int, error) {
	r, err := l.locked(bookingID)
	if err != nil {
		return 0, err
	}
	defer r.mu.Unlock()
	r.openSlots++
	return r.openSlots, nil
}

// Consume records userID against the booking and takes a slot when one is
// open. Consuming twice for the same user takes no further slot.
func (l *Ledger) Consume(bookingID, userID string) (ConsumeResult, error) {
	r, err := l.locked(bookingID)
	if err != nil {
		return ConsumeResult{}, err
	}
	defer r.mu.Unlock()

	res := ConsumeResult{Added: r.add(userID), OpenSlots: r.openSlots}
	if !res.Added || r.openSlots == 0 {
		return res, nil
	}

	remaining, err := r.decrement()
	if err != nil {
		return res, err
	}
	r.charged[userID] = struct{}{}
	res.OpenSlots = remaining
	res.Exhausted = remaining == 0
	return res, nil
}

// Release removes userID from the booking and returns the slot they took, if any.
func (l *Ledger) Release(bookingID, userID string) (ReleaseResult, error) {
	r, err := l.locked(bookingID)
	if err != nil {
		return ReleaseResult{}, err
	}
	defer r.mu.Unlock()

	res := ReleaseResult{Removed: r.remove(userID), OpenSlots: r.openSlots}
	if !res.Removed {
		return res, nil
	}
	if _, ok := r.charged[userID]; ok {
		delete(r.charged, userID)
		r.openSlots++
		res.OpenSlots = r.openSlots
		res.Reopened = r.openSlots == 1
	}
	return res, nil
}

// FindByBooking returns a snapshot of the booking.
func (l *Ledger) FindByBooking(bookingID string) (types.Booking, bool) {
	r, err := l.locked(bookingID)
	if err != nil {
		return types.Booking{}, false
	}
	defer r.mu.Unlock()
	return r.snapshot(), true
}

// FindBySession returns snapshots of every booking bound to sessionID.
// FUNCTIONAL DISCOVERY: Linear scan; bookings number per classroom, not per user.
func (l *Ledger) FindBySession(sessionID string) []types.Booking {
	var out []types.Booking
	for _, r := range l.all() {
		r.mu.Lock()
		if !r.dropped && r.sessionID == sessionID {
			out = append(out, r.snapshot())
		}
		r.mu.Unlock()
	}
	return out
}

// FindUser returns the booking bound to sessionID that userID consumed.
func (l *Ledger) FindUser(sessionID, userID string) (types.Booking, bool) {
	for _, b := range l.FindBySession(sessionID) {
		for _, u := range b.Users {
			if u == userID {
				return b, true
			}
		}
	}
	return types.Booking{}, false
}

// Unconsumed returns the reserved seats not yet taken by booked users across
// all bookings bound to sessionID. A booked user who left is still a session
// member and still holds their seat, so they are not counted again.
func (l *Ledger) Unconsumed(sessionID string) int {
	total := 0
	for _, r := range l.all() {
		r.mu.Lock()
		if !r.dropped && r.sessionID == sessionID {
			if n := r.reserved - len(r.arrived); n > 0 {
				total += n
			}
		}
		r.mu.Unlock()
	}
	return total
}

// Drop forgets a booking.
func (l *Ledger) Drop(bookingID string) {
	l.mu.Lock()
	r, ok := l.bookings[bookingID]
	delete(l.bookings, bookingID)
	l.mu.Unlock()
	if ok {
		r.mu.Lock()
		r.dropped = true
		r.mu.Unlock()
	}
}

// DropSession forgets every booking bound to sessionID and returns their ids.
func (l *Ledger) DropSession(sessionID string) []string {
	var ids []string
	for _, b := range l.FindBySession(sessionID) {
		l.Drop(b.ID)
		ids = append(ids, b.ID)
	}
	return ids
}

// Len returns the number of bookings held.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.bookings)
}

func (l *Ledger) all() []*record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*record, 0, len(l.bookings))
	for _, r := range l.bookings {
		out = append(out, r)
	}
	return out
}
