// Package keylock provides striped, context-aware mutual exclusion keyed by string.
//
// Keys hash onto a fixed set of stripes, so two distinct keys may share a
// stripe. A Locker is therefore not reentrant across keys: a goroutine must
// never hold two keys of the same Locker at once. Use separate Lockers for
// separate key spaces (classrooms, sessions) that nest.
package keylock

import (
	"context"

	"github.com/zeebo/xxh3"
)

// DefaultStripes is used when New is given a non-positive stripe count.
const DefaultStripes = 256

// Locker serializes work per key.
type Locker struct {
	stripes []chan struct{}
}

// New creates a Locker with n stripes.
func New(n int) *Locker {
	if n <= 0 {
		n = DefaultStripes
	}
	stripes := make([]chan struct{}, n)
	for i := range stripes {
		stripes[i] = make(chan struct{}, 1)
	}
	return &Locker{stripes: stripes}
}

func (l *Locker) stripe(key string) chan struct{} {
	return l.stripes[xxh3.HashString(key)%uint64(len(l.stripes))]
}

// Lock acquires key, waiting until it is free or ctx is done. The returned
// function releases the lock and must be called exactly once.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	s := l.stripe(key)
	select {
	case s <- struct{}{}:
		return func() { <-s }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock acquires key only if it is free right now.
func (l *Locker) TryLock(key string) (func(), bool) {
	s := l.stripe(key)
	select {
	case s <- struct{}{}:
		return func() { <-s }, true
	default:
		return nil, false
	}
}

// Do runs fn while holding key.
func (l *Locker) Do(ctx context.Context, key string, fn func() error) error {
	unlock, err := l.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}
