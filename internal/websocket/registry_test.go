package websocket

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroomhub/pkg/types"
)

// fakeConn records everything sent to it.
type fakeConn struct {
	mu     sync.Mutex
	userID string
	sent   []types.Event
	closed bool
}

func newFakeConn(userID string) *fakeConn {
	return &fakeConn{userID: userID}
}

func (f *fakeConn) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrConnectionClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var ev types.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	f.sent = append(f.sent, ev)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.closed
}

func (f *fakeConn) UserID() string { return f.userID }

func (f *fakeConn) isClosed() bool {
	return !f.Connected()
}

type fakeLedger struct {
	mu      sync.Mutex
	cleared []string
}

func (l *fakeLedger) Clear(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleared = append(l.cleared, sessionID)
}

func TestRegistry_AddConnectionReturnsReplacedHandle(t *testing.T) {
	r := NewRegistry(nil, nil)

	first := newFakeConn("u1")
	assert.Nil(t, r.AddConnection("u1", first))

	second := newFakeConn("u1")
	replaced := r.AddConnection("u1", second)
	assert.Same(t, first, replaced)
	assert.False(t, first.isClosed(), "registry never closes a replaced handle")

	got, ok := r.Connection("u1")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, 1, r.Stats()["total_connections"])
}

func TestRegistry_ReconnectKeepsActiveSession(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.AddConnection("u1", newFakeConn("u1"))
	r.SetPresence("s1", "u1", true)

	r.AddConnection("u1", newFakeConn("u1"))

	active, ok := r.ActiveSession("u1")
	require.True(t, ok)
	assert.Equal(t, "s1", active)
	assert.True(t, r.IsLive("s1", "u1"))

	// A user who never went live reconnects without one.
	r.AddConnection("u2", newFakeConn("u2"))
	r.AddConnection("u2", newFakeConn("u2"))
	_, ok = r.ActiveSession("u2")
	assert.False(t, ok)
}

func TestRegistry_RemoveConnectionIfIgnoresStaleHandle(t *testing.T) {
	r := NewRegistry(nil, nil)
	stale := newFakeConn("u1")
	current := newFakeConn("u1")
	r.AddConnection("u1", stale)
	r.AddConnection("u1", current)

	assert.False(t, r.RemoveConnectionIf("u1", stale))
	_, ok := r.Connection("u1")
	assert.True(t, ok)

	assert.True(t, r.RemoveConnectionIf("u1", current))
	_, ok = r.Connection("u1")
	assert.False(t, ok)

	// Absent entries are a no-op.
	r.RemoveConnection("u1")
	assert.False(t, r.RemoveConnectionIf("u1", current))
}

func TestRegistry_PresenceKeepsFirstSeenOrder(t *testing.T) {
	r := NewRegistry(nil, nil)
	for _, id := range []string{"c", "a", "b"} {
		r.AddConnection(id, newFakeConn(id))
		r.SetPresence("s1", id, true)
	}

	r.SetPresence("s1", "a", false)
	assert.Equal(t, []string{"c", "b"}, r.LiveUsers("s1"))
	assert.Equal(t, []string{"c", "a", "b"}, r.KnownUsers("s1"))
	assert.False(t, r.IsLive("s1", "a"))

	// Coming back keeps the original position.
	r.SetPresence("s1", "a", true)
	assert.Equal(t, []string{"c", "a", "b"}, r.LiveUsers("s1"))

	assert.Empty(t, r.LiveUsers("unknown"))
	assert.Empty(t, r.KnownUsers("unknown"))
}

func TestRegistry_ActiveSessionFollowsPresence(t *testing.T) {
	r := NewRegistry(nil, nil)
	r.AddConnection("u1", newFakeConn("u1"))

	_, ok := r.ActiveSession("u1")
	assert.False(t, ok)

	r.SetPresence("s1", "u1", true)
	active, ok := r.ActiveSession("u1")
	require.True(t, ok)
	assert.Equal(t, "s1", active)

	// Going offline elsewhere leaves the active session alone.
	r.SetPresence("s2", "u1", false)
	active, _ = r.ActiveSession("u1")
	assert.Equal(t, "s1", active)

	r.SetPresence("s1", "u1", false)
	_, ok = r.ActiveSession("u1")
	assert.False(t, ok)
}

func TestRegistry_LiveConnectionsSkipsOfflineAndDisconnected(t *testing.T) {
	r := NewRegistry(nil, nil)
	a, b := newFakeConn("a"), newFakeConn("b")
	r.AddConnection("a", a)
	r.AddConnection("b", b)
	r.SetPresence("s1", "a", true)
	r.SetPresence("s1", "b", true)
	r.SetPresence("s1", "ghost", true)

	got := r.LiveConnections("s1")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].UserID)
	assert.Same(t, a, got[0].Conn)

	r.SetPresence("s1", "b", false)
	got = r.LiveConnections("s1")
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].UserID)
}

// After clearSession(S): zero presence entries, no ledger entries, no
// connections for S's users, and their transports closed.
func TestRegistry_ClearSessionRemovesEverything(t *testing.T) {
	ledger := &fakeLedger{}
	r := NewRegistry(nil, nil, ledger)

	a, b, other := newFakeConn("a"), newFakeConn("b"), newFakeConn("o")
	r.AddConnection("a", a)
	r.AddConnection("b", b)
	r.AddConnection("o", other)
	r.SetPresence("s1", "a", true)
	r.SetPresence("s1", "b", false)
	r.SetPresence("s2", "o", true)

	removed := r.ClearSession("s1")
	assert.ElementsMatch(t, []string{"a", "b"}, removed)

	assert.Empty(t, r.KnownUsers("s1"))
	assert.Empty(t, r.LiveConnections("s1"))
	_, ok := r.Connection("a")
	assert.False(t, ok)
	_, ok = r.Connection("b")
	assert.False(t, ok)
	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.Equal(t, []string{"s1"}, ledger.cleared)

	// Other sessions are untouched.
	assert.False(t, other.isClosed())
	assert.Equal(t, []string{"o"}, r.LiveUsers("s2"))

	// Clearing again is harmless.
	assert.Empty(t, r.ClearSession("s1"))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(nil, nil)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("user_%d", i)
			conn := newFakeConn(id)
			r.AddConnection(id, conn)
			r.SetPresence("s1", id, true)
			_ = r.LiveConnections("s1")
			_ = r.Stats()
			if i%2 == 0 {
				r.SetPresence("s1", id, false)
				r.RemoveConnectionIf(id, conn)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, r.LiveUsers("s1"), 25)
	assert.Equal(t, 25, r.Stats()["total_connections"])
}
