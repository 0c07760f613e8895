package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStorageDown = errors.New("storage down")

func TestRunner_RetriesUntilSuccess(t *testing.T) {
	r := NewRunner(RetryPolicy{Attempts: 3, Delay: time.Millisecond}, nil, nil)

	calls := 0
	err := r.Run(context.Background(), Task{ID: "t", Kind: KindEndSession}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errStorageDown
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Empty(t, r.Failed())
}

func TestRunner_ExhaustedTaskIsKept(t *testing.T) {
	r := NewRunner(RetryPolicy{Attempts: 2, Delay: time.Millisecond}, nil, nil)
	task := Task{ID: "end-section:s1:sec1", Kind: KindEndSection, SessionID: "s1", SectionID: "sec1"}

	calls := 0
	err := r.Run(context.Background(), task, func(context.Context) error {
		calls++
		return errStorageDown
	})
	assert.ErrorIs(t, err, errStorageDown)
	assert.Equal(t, 2, calls)

	failed := r.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, task, failed[0].Task)
	assert.Equal(t, 2, failed[0].Attempts)
	assert.ErrorIs(t, failed[0].Err, errStorageDown)

	taken := r.TakeFailed()
	assert.Len(t, taken, 1)
	assert.Empty(t, r.Failed())
}

func TestRunner_RecoversPanics(t *testing.T) {
	r := NewRunner(RetryPolicy{Attempts: 1}, nil, nil)

	err := r.Run(context.Background(), Task{ID: "t", Kind: KindArchive}, func(context.Context) error {
		panic("nil map")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil map")
	assert.Len(t, r.Failed(), 1)
}

func TestRunner_CancelledContextStopsRetrying(t *testing.T) {
	r := NewRunner(RetryPolicy{Attempts: 5, Delay: time.Hour}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, Task{ID: "t", Kind: KindArchive}, func(context.Context) error {
			calls++
			return errStorageDown
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, errStorageDown)
	case <-time.After(2 * time.Second):
		t.Fatal("runner kept waiting after cancel")
	}
	assert.Equal(t, 1, calls)
	assert.Len(t, r.Failed(), 1)
}

func TestRunner_NonPositiveAttemptsRunOnce(t *testing.T) {
	r := NewRunner(RetryPolicy{}, nil, nil)
	calls := 0
	_ = r.Run(context.Background(), Task{ID: "t"}, func(context.Context) error {
		calls++
		return errStorageDown
	})
	assert.Equal(t, 1, calls)
}
