package valkeystore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatmediator/wecom-bridge/domain/kv"
	"github.com/chatmediator/wecom-bridge/infrastructure/valkey"
)

// newTestStore connects to a real Valkey instance, following the
// skip-if-unavailable idiom workspace/debug_valkey_test.go uses for its
// own real-backend tests — this package has no in-memory substitute,
// so it is the only way to exercise it honestly.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client, err := valkey.NewClient(valkey.Config{
		Address:        "localhost:6379",
		KeyPrefix:      "wecom-bridge-test",
		ConnectTimeout: 500 * time.Millisecond,
	})
	if err != nil {
		t.Skip("no valkey instance reachable at localhost:6379")
	}
	t.Cleanup(client.Close)
	return New(client)
}

func Test_Set_ThenGet_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, s.client.Key("roundtrip"), "v", 0))
	v, err := s.Get(ctx, s.client.Key("roundtrip"))
	require.NoError(t, err)
	assert.Equal(t, "v", v)
	require.NoError(t, s.Delete(ctx, s.client.Key("roundtrip")))
}

func Test_Get_ReturnsErrNotFoundForMissingKey(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), s.client.Key("does-not-exist"))
	assert.ErrorIs(t, err, kv.ErrNotFound)
}

func Test_SetIfAbsent_SecondCallerLoses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := s.client.Key("setifabsent")
	defer s.Delete(ctx, key)

	first, err := s.SetIfAbsent(ctx, key, "v1", 0)
	require.NoError(t, err)
	assert.True(t, first)

	second, err := s.SetIfAbsent(ctx, key, "v2", 0)
	require.NoError(t, err)
	assert.False(t, second)

	v, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "v1", v)
}

func Test_ListAppend_ListRange_ListLen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := s.client.Key("list")
	defer s.Delete(ctx, key)

	for _, v := range []string{"a", "b", "c"} {
		require.NoError(t, s.ListAppend(ctx, key, v))
	}

	n, err := s.ListLen(ctx, key)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	all, err := s.ListRange(ctx, key, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, all)
}

func Test_AtomicDrain_ReturnsAndClearsList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := s.client.Key("drain")
	defer s.Delete(ctx, key)

	require.NoError(t, s.ListAppend(ctx, key, "a"))
	require.NoError(t, s.ListAppend(ctx, key, "b"))

	drained, err := s.AtomicDrain(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, drained)

	n, err := s.ListLen(ctx, key)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func Test_Expire_RemovesKeyAfterTTL(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := s.client.Key("ttl")
	require.NoError(t, s.Set(ctx, key, "v", 0))
	require.NoError(t, s.Expire(ctx, key, 50*time.Millisecond))
	time.Sleep(200 * time.Millisecond)
	_, err := s.Get(ctx, key)
	assert.ErrorIs(t, err, kv.ErrNotFound)
}
