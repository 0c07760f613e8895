// Package scores accumulates live per-user scores and persists them on
// section and session boundaries.
package scores

import (
	"sync"

	"classroomhub/pkg/types"
)

// Ledger holds scores that have not been persisted yet, keyed
// session -> section -> user.
type Ledger struct {
	mu       sync.RWMutex
	sessions map[string]types.SessionScores
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{sessions: make(map[string]types.SessionScores)}
}

// Record sets a user's score for a section, replacing any earlier value.
func (l *Ledger) Record(sessionID, sectionID, userID string, score float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	session, ok := l.sessions[sessionID]
	if !ok {
		session = make(types.SessionScores)
		l.sessions[sessionID] = session
	}
	section, ok := session[sectionID]
	if !ok {
		section = make(map[string]float64)
		session[sectionID] = section
	}
	section[userID] = score
}

// SessionScores returns a copy of every resident score for the session.
func (l *Ledger) SessionScores(sessionID string) types.SessionScores {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copyScores(l.sessions[sessionID])
}

// SectionScores returns a copy of the resident scores for one section.
func (l *Ledger) SectionScores(sessionID, sectionID string) map[string]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return copySection(l.sessions[sessionID][sectionID])
}

// HasResident reports whether any score is held for the session.
func (l *Ledger) HasResident(sessionID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sessions[sessionID]) > 0
}

// HasSection reports whether any score is held for the section.
func (l *Ledger) HasSection(sessionID, sectionID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sessions[sessionID][sectionID]) > 0
}

// Clear drops every resident score for the session.
func (l *Ledger) Clear(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.sessions, sessionID)
}

// Take removes and returns the named sections, or every section when none are named.
func (l *Ledger) Take(sessionID string, sectionIDs ...string) types.SessionScores {
	l.mu.Lock()
	defer l.mu.Unlock()

	session := l.sessions[sessionID]
	if len(session) == 0 {
		return types.SessionScores{}
	}

	if len(sectionIDs) == 0 {
		delete(l.sessions, sessionID)
		return session
	}

	out := make(types.SessionScores)
	for _, id := range sectionIDs {
		if section, ok := session[id]; ok {
			out[id] = section
			delete(session, id)
		}
	}
	if len(session) == 0 {
		delete(l.sessions, sessionID)
	}
	return out
}

// Restore puts taken scores back after a failed persist. Scores recorded
// since the Take are newer and are kept.
func (l *Ledger) Restore(sessionID string, scores types.SessionScores) {
	if len(scores) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	session, ok := l.sessions[sessionID]
	if !ok {
		session = make(types.SessionScores)
		l.sessions[sessionID] = session
	}
	for sectionID, users := range scores {
		section, ok := session[sectionID]
		if !ok {
			section = make(map[string]float64)
			session[sectionID] = section
		}
		for userID, score := range users {
			if _, newer := section[userID]; !newer {
				section[userID] = score
			}
		}
	}
}

// Sessions returns the number of sessions with resident scores.
func (l *Ledger) Sessions() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sessions)
}

func copyScores(in types.SessionScores) types.SessionScores {
	out := make(types.SessionScores, len(in))
	for sectionID, users := range in {
		out[sectionID] = copySection(users)
	}
	return out
}

func copySection(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
