package booking

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroomhub/pkg/types"
)

func TestLedger_ReserveIsTwoPhase(t *testing.T) {
	l := NewLedger()

	b, err := l.Reserve("bk", "s1", 7, 3)
	require.NoError(t, err)
	assert.Equal(t, types.Booking{ID: "bk", SessionID: "s1", OpenSlots: 7, Reserved: 3, Users: []string{}}, b)

	// Retried join for the same session is a no-op.
	_, err = l.Consume("bk", "u1")
	require.NoError(t, err)
	again, err := l.Reserve("bk", "s1", 99, 99)
	require.NoError(t, err)
	assert.Equal(t, 6, again.OpenSlots)
	assert.Equal(t, []string{"u1"}, again.Users)

	_, err = l.Reserve("bk", "s2", 7, 3)
	assert.ErrorIs(t, err, types.ErrInvalidBookingState)

	_, err = l.Reserve("neg", "s1", -1, 3)
	assert.ErrorIs(t, err, types.ErrInvalidBookingState)
}

func TestLedger_UnknownBookingFails(t *testing.T) {
	l := NewLedger()

	_, err := l.AddUser("nope", "u")
	assert.ErrorIs(t, err, types.ErrInvalidBookingState)
	_, err = l.DecrementSlot("nope")
	assert.ErrorIs(t, err, types.ErrInvalidBookingState)
	_, err = l.IncrementSlot("nope")
	assert.ErrorIs(t, err, types.ErrInvalidBookingState)
	_, err = l.Consume("nope", "u")
	assert.ErrorIs(t, err, types.ErrInvalidBookingState)
	_, err = l.Release("nope", "u")
	assert.ErrorIs(t, err, types.ErrInvalidBookingState)

	_, ok := l.FindByBooking("nope")
	assert.False(t, ok)
}

func TestLedger_DecrementNeverGoesNegative(t *testing.T) {
	l := NewLedger()
	_, err := l.Reserve("bk", "s1", 1, 1)
	require.NoError(t, err)

	n, err := l.DecrementSlot("bk")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for i := 0; i < 3; i++ {
		n, err = l.DecrementSlot("bk")
		assert.ErrorIs(t, err, types.ErrSlotExhausted)
		assert.Equal(t, 0, n)
	}

	n, err = l.IncrementSlot("bk")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLedger_AddUserIdempotent(t *testing.T) {
	l := NewLedger()
	_, err := l.Reserve("bk", "s1", 5, 2)
	require.NoError(t, err)

	added, err := l.AddUser("bk", "u1")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = l.AddUser("bk", "u1")
	require.NoError(t, err)
	assert.False(t, added)

	b, _ := l.FindByBooking("bk")
	assert.Equal(t, []string{"u1"}, b.Users)
}

// Booking with userCount=3 on a classroom of 10 opens at 7 and three booked
// joiners bring it to 4 without ever exhausting it.
func TestLedger_ConsumeScenarioSevenToFour(t *testing.T) {
	l := NewLedger()
	_, err := l.Reserve("bk", "s1", 10-3, 3)
	require.NoError(t, err)

	for i, want := range []int{6, 5, 4} {
		res, err := l.Consume("bk", fmt.Sprintf("u%d", i))
		require.NoError(t, err)
		assert.True(t, res.Added)
		assert.Equal(t, want, res.OpenSlots)
		assert.False(t, res.Exhausted)
	}

	// A repeat join does not take another slot.
	res, err := l.Consume("bk", "u0")
	require.NoError(t, err)
	assert.False(t, res.Added)
	assert.Equal(t, 4, res.OpenSlots)

	assert.Equal(t, 0, l.Unconsumed("s1"))
}

func TestLedger_ExhaustAndReopenOnlyAtBoundary(t *testing.T) {
	l := NewLedger()
	_, err := l.Reserve("bk", "s1", 2, 2)
	require.NoError(t, err)

	r1, err := l.Consume("bk", "a")
	require.NoError(t, err)
	assert.False(t, r1.Exhausted)

	r2, err := l.Consume("bk", "b")
	require.NoError(t, err)
	assert.True(t, r2.Exhausted)
	assert.Equal(t, 0, r2.OpenSlots)

	// Joining at zero records the user without decrementing.
	r3, err := l.Consume("bk", "c")
	require.NoError(t, err)
	assert.True(t, r3.Added)
	assert.False(t, r3.Exhausted)
	assert.Equal(t, 0, r3.OpenSlots)

	// c never took a slot, so leaving returns nothing.
	rel, err := l.Release("bk", "c")
	require.NoError(t, err)
	assert.True(t, rel.Removed)
	assert.False(t, rel.Reopened)
	assert.Equal(t, 0, rel.OpenSlots)

	rel, err = l.Release("bk", "b")
	require.NoError(t, err)
	assert.True(t, rel.Reopened)
	assert.Equal(t, 1, rel.OpenSlots)

	rel, err = l.Release("bk", "a")
	require.NoError(t, err)
	assert.False(t, rel.Reopened, "1 -> 2 is not a boundary crossing")
	assert.Equal(t, 2, rel.OpenSlots)

	rel, err = l.Release("bk", "a")
	require.NoError(t, err)
	assert.False(t, rel.Removed)
	assert.Equal(t, 2, rel.OpenSlots)
}

func TestLedger_FindBySessionAndUnconsumed(t *testing.T) {
	l := NewLedger()
	_, err := l.Reserve("bk1", "s1", 5, 3)
	require.NoError(t, err)
	_, err = l.Reserve("bk2", "s1", 4, 2)
	require.NoError(t, err)
	_, err = l.Reserve("bk3", "s2", 4, 2)
	require.NoError(t, err)

	_, err = l.Consume("bk1", "u1")
	require.NoError(t, err)

	assert.Len(t, l.FindBySession("s1"), 2)
	assert.Equal(t, 2+2, l.Unconsumed("s1"))
	assert.Equal(t, 2, l.Unconsumed("s2"))
	assert.Equal(t, 0, l.Unconsumed("s3"))

	b, ok := l.FindUser("s1", "u1")
	require.True(t, ok)
	assert.Equal(t, "bk1", b.ID)
	_, ok = l.FindUser("s2", "u1")
	assert.False(t, ok)
}

func TestLedger_UnconsumedKeepsDepartedUsersSeat(t *testing.T) {
	l := NewLedger()
	_, err := l.Reserve("bk", "s1", 4, 3)
	require.NoError(t, err)

	_, err = l.Consume("bk", "a")
	require.NoError(t, err)
	assert.Equal(t, 2, l.Unconsumed("s1"))

	_, err = l.Release("bk", "a")
	require.NoError(t, err)
	assert.Equal(t, 2, l.Unconsumed("s1"), "a is still a member and keeps the seat")

	// Coming back does not consume a second reserved seat.
	_, err = l.Consume("bk", "a")
	require.NoError(t, err)
	assert.Equal(t, 2, l.Unconsumed("s1"))
}

func TestLedger_DropSession(t *testing.T) {
	l := NewLedger()
	_, _ = l.Reserve("bk1", "s1", 5, 3)
	_, _ = l.Reserve("bk2", "s1", 4, 2)
	_, _ = l.Reserve("bk3", "s2", 4, 2)

	dropped := l.DropSession("s1")
	assert.ElementsMatch(t, []string{"bk1", "bk2"}, dropped)
	assert.Equal(t, 1, l.Len())
	assert.Empty(t, l.FindBySession("s1"))

	_, err := l.Consume("bk1", "u")
	assert.ErrorIs(t, err, types.ErrInvalidBookingState)

	// A dropped booking may be reserved afresh against a new session.
	_, err = l.Reserve("bk1", "s9", 5, 3)
	assert.NoError(t, err)
}

func TestLedger_ConcurrentConsumeNeverOversubscribes(t *testing.T) {
	l := NewLedger()
	_, err := l.Reserve("bk", "s1", 10, 50)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	exhausted := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := l.Consume("bk", fmt.Sprintf("u%d", i))
			assert.NoError(t, err)
			if res.Exhausted {
				mu.Lock()
				exhausted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	b, ok := l.FindByBooking("bk")
	require.True(t, ok)
	assert.Equal(t, 0, b.OpenSlots)
	assert.Len(t, b.Users, 50)
	assert.Equal(t, 1, exhausted, "exactly one consumer observes the 1 -> 0 crossing")
}
