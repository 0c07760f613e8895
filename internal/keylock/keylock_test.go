package keylock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocker_SerializesSameKey(t *testing.T) {
	l := New(16)
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Do(ctx, "classroom-1", func() error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(100 * time.Microsecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInside))
}

func TestLocker_ContextCancelWhileWaiting(t *testing.T) {
	l := New(1)
	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocker_TryLock(t *testing.T) {
	l := New(1)

	unlock, ok := l.TryLock("a")
	require.True(t, ok)

	_, ok = l.TryLock("a")
	assert.False(t, ok)

	unlock()
	unlock2, ok := l.TryLock("a")
	require.True(t, ok)
	unlock2()
}

func TestLocker_DistinctKeysProceedInParallel(t *testing.T) {
	l := New(DefaultStripes)

	// Find two keys on different stripes.
	a := "classroom-a"
	var b string
	for i := 0; ; i++ {
		b = fmt.Sprintf("classroom-%d", i)
		if l.stripe(a) != l.stripe(b) {
			break
		}
	}

	unlockA, err := l.Lock(context.Background(), a)
	require.NoError(t, err)
	defer unlockA()

	unlockB, ok := l.TryLock(b)
	require.True(t, ok)
	unlockB()
}

func TestLocker_DoPropagatesError(t *testing.T) {
	l := New(0)
	want := fmt.Errorf("boom")
	err := l.Do(context.Background(), "k", func() error { return want })
	assert.Equal(t, want, err)

	// The lock was released despite the error.
	unlock, ok := l.TryLock("k")
	require.True(t, ok)
	unlock()
}
