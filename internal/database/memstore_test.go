package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroomhub/pkg/types"
)

func TestMemoryStore_FailureInjection(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	boom := errors.New("disk on fire")

	store.SetFailure(func(op, collection string) error {
		if op == OpBatch && collection == types.CollectionUserScores {
			return boom
		}
		return nil
	})

	err := store.BatchWrite(ctx, []types.WriteOp{
		{Kind: types.WriteSet, Collection: types.CollectionUserScores, ID: "a", Record: types.Record{"score": 1}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInternal)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, store.Count(types.CollectionUserScores))

	require.NoError(t, store.Set(ctx, types.CollectionSessions, "s1", types.Record{}))

	store.SetFailure(nil)
	require.NoError(t, store.BatchWrite(ctx, []types.WriteOp{
		{Kind: types.WriteSet, Collection: types.CollectionUserScores, ID: "a", Record: types.Record{"score": 1}},
	}))
	assert.Equal(t, 1, store.Count(types.CollectionUserScores))
	assert.Equal(t, 2, store.Calls(OpBatch))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := types.Record{"users": []any{"a"}}
	require.NoError(t, store.Set(ctx, types.CollectionSessions, "s1", rec))
	rec["users"] = []any{"mutated"}

	got, _, err := store.Get(ctx, types.CollectionSessions, "s1")
	require.NoError(t, err)
	got["users"] = []any{"also mutated"}

	again, _, err := store.Get(ctx, types.CollectionSessions, "s1")
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, again["users"])
}
