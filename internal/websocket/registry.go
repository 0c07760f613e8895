package websocket

import (
	"log/slog"
	"sync"

	"classroomhub/internal/logging"
	"classroomhub/internal/metrics"
	"classroomhub/pkg/interfaces"
)

// SessionLedger is per-session state that must be dropped when a session is cleared.
type SessionLedger interface {
	Clear(sessionID string)
}

type entry struct {
	conn          interfaces.Connection
	activeSession string
}

type presence struct {
	order []string        // first-seen order
	live  map[string]bool // userID -> currently live
}

// Registry tracks live connections by user and presence by session.
// ARCHITECTURAL DISCOVERY: Pure in-memory bookkeeping; operations never fail
// and never perform I/O while holding the lock. Transports are closed only
// after the lock is released.
type Registry struct {
	mu          sync.RWMutex // TECHNICAL DISCOVERY: RWMutex optimizes for read-heavy lookup patterns
	connections map[string]*entry
	sessions    map[string]*presence
	ledgers     []SessionLedger
	logger      *slog.Logger
	metrics     metrics.Collector
}

// NewRegistry creates a registry. ledgers are cleared together with a session.
func NewRegistry(logger *slog.Logger, collector metrics.Collector, ledgers ...SessionLedger) *Registry {
	return &Registry{
		connections: make(map[string]*entry),
		sessions:    make(map[string]*presence),
		ledgers:     ledgers,
		logger:      logging.OrDiscard(logger),
		metrics:     metrics.OrNop(collector),
	}
}

// AddConnection registers conn for userID, replacing any prior entry. The
// replaced handle is returned but not closed. A replacing connection inherits
// the active session, so the user stays live there until the new connection
// leaves or drops.
func (r *Registry) AddConnection(userID string, conn interfaces.Connection) interfaces.Connection {
	r.mu.Lock()
	prev, existed := r.connections[userID]
	next := &entry{conn: conn}
	if existed {
		next.activeSession = prev.activeSession
	}
	r.connections[userID] = next
	r.mu.Unlock()

	if !existed {
		r.metrics.ConnectionOpened()
		return nil
	}
	return prev.conn
}

// RemoveConnection deletes the user's entry. No-op if absent.
func (r *Registry) RemoveConnection(userID string) {
	r.mu.Lock()
	_, existed := r.connections[userID]
	delete(r.connections, userID)
	r.mu.Unlock()

	if existed {
		r.metrics.ConnectionClosed()
	}
}

// RemoveConnectionIf deletes the user's entry only while conn is still the
// registered handle.
// RACE CONDITION FIX: A stale disconnect must not remove the connection that replaced it.
func (r *Registry) RemoveConnectionIf(userID string, conn interfaces.Connection) bool {
	r.mu.Lock()
	e, ok := r.connections[userID]
	if !ok || e.conn != conn {
		r.mu.Unlock()
		return false
	}
	delete(r.connections, userID)
	r.mu.Unlock()

	r.metrics.ConnectionClosed()
	return true
}

// SetPresence marks userID live or not in sessionID. Going live also makes
// sessionID the connection's active session; going offline clears the active
// session only if it is sessionID.
func (r *Registry) SetPresence(sessionID, userID string, live bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.sessions[sessionID]
	if !ok {
		p = &presence{live: make(map[string]bool)}
		r.sessions[sessionID] = p
	}
	if _, seen := p.live[userID]; !seen {
		p.order = append(p.order, userID)
	}
	p.live[userID] = live

	e, ok := r.connections[userID]
	if !ok {
		return
	}
	if live {
		e.activeSession = sessionID
	} else if e.activeSession == sessionID {
		e.activeSession = ""
	}
}

// IsLive reports whether userID is live in sessionID.
func (r *Registry) IsLive(sessionID, userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.sessions[sessionID]
	return ok && p.live[userID]
}

// LiveUsers returns the users currently live in sessionID, in first-seen order.
func (r *Registry) LiveUsers(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.sessions[sessionID]
	if !ok {
		return []string{}
	}
	users := make([]string, 0, len(p.order))
	for _, id := range p.order {
		if p.live[id] {
			users = append(users, id)
		}
	}
	return users
}

// KnownUsers returns every user ever marked present in sessionID, live or not.
func (r *Registry) KnownUsers(sessionID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.sessions[sessionID]
	if !ok {
		return []string{}
	}
	users := make([]string, len(p.order))
	copy(users, p.order)
	return users
}

// Recipient pairs a live user with their transport.
type Recipient struct {
	UserID string
	Conn   interfaces.Connection
}

// LiveConnections returns the transports of users live in sessionID.
func (r *Registry) LiveConnections(sessionID string) []Recipient {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]Recipient, 0, len(p.order))
	for _, id := range p.order {
		if !p.live[id] {
			continue
		}
		if e, ok := r.connections[id]; ok {
			out = append(out, Recipient{UserID: id, Conn: e.conn})
		}
	}
	return out
}

// Connection returns the user's registered transport.
func (r *Registry) Connection(userID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.connections[userID]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

// ActiveSession returns the session the user is currently live in.
func (r *Registry) ActiveSession(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.connections[userID]
	if !ok || e.activeSession == "" {
		return "", false
	}
	return e.activeSession, true
}

// ClearSession tears down everything held for sessionID: every user with
// presence there loses their registry entry and has their transport closed,
// the presence map is dropped, and the session's ledger entries are cleared.
// It returns the users whose connections were removed.
func (r *Registry) ClearSession(sessionID string) []string {
	r.mu.Lock()
	p, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)

	var removed []string
	var toClose []interfaces.Connection
	if ok {
		for _, userID := range p.order {
			e, exists := r.connections[userID]
			if !exists {
				continue
			}
			delete(r.connections, userID)
			removed = append(removed, userID)
			toClose = append(toClose, e.conn)
		}
	}
	r.mu.Unlock()

	for _, l := range r.ledgers {
		l.Clear(sessionID)
	}

	for i, conn := range toClose {
		r.metrics.ConnectionClosed()
		if !conn.Connected() {
			continue
		}
		if err := conn.Close(); err != nil {
			r.logger.Warn("failed to close connection during session clear",
				"session_id", sessionID,
				"user_id", removed[i],
				"error", err)
		}
	}

	r.logger.Info("session cleared", "session_id", sessionID, "connections_closed", len(removed))
	return removed
}

// Stats returns registry statistics for monitoring and debugging
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	live := 0
	for _, p := range r.sessions {
		for _, isLive := range p.live {
			if isLive {
				live++
			}
		}
	}
	return map[string]int{
		"total_connections": len(r.connections),
		"active_sessions":   len(r.sessions),
		"live_users":        live,
	}
}
