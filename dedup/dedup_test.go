package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmediator/wecom-bridge/infrastructure/memkv"
)

func Test_MarkProcessed_WinnerTakesAll(t *testing.T) {
	store := New(memkv.New(), time.Minute)
	ctx := context.Background()

	first, err := store.MarkProcessed(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, first, "first caller should win the race")

	second, err := store.MarkProcessed(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, second, "second caller must lose once the id is claimed")
}

func Test_MarkProcessed_DistinctMessagesDoNotCollide(t *testing.T) {
	store := New(memkv.New(), time.Minute)
	ctx := context.Background()

	a, err := store.MarkProcessed(ctx, "msg-a")
	require.NoError(t, err)
	b, err := store.MarkProcessed(ctx, "msg-b")
	require.NoError(t, err)

	assert.True(t, a)
	assert.True(t, b)
}

func Test_IsProcessed_ReflectsMarkProcessed(t *testing.T) {
	store := New(memkv.New(), time.Minute)
	ctx := context.Background()

	before, err := store.IsProcessed(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, before)

	_, err = store.MarkProcessed(ctx, "msg-1")
	require.NoError(t, err)

	after, err := store.IsProcessed(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, after)
}

func Test_New_AppliesDefaultTTL(t *testing.T) {
	store := New(memkv.New(), 0)
	assert.Equal(t, DefaultTTL, store.ttl)
}
