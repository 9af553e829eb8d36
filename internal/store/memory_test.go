package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GetSetDelete(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	// Miss returns nil, nil
	val, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, val)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 0))
	val, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), val)

	require.NoError(t, s.Delete(ctx, "k"))
	val, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(30 * time.Millisecond)

	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, val, "expired entry should read as a miss")
}

func TestMemoryStore_SetNX(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "lock", []byte("1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "first SetNX should win")

	ok, err = s.SetNX(ctx, "lock", []byte("1"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second SetNX should lose while key exists")

	require.NoError(t, s.Delete(ctx, "lock"))
	ok, err = s.SetNX(ctx, "lock", []byte("1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "SetNX should win again after delete")
}

func TestMemoryStore_SetNXAfterExpiry(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "lock", []byte("1"), 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	ok, err = s.SetNX(ctx, "lock", []byte("1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lock should be reacquirable")
}

func TestMemoryStore_GetDelSingleUse(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "state", []byte("pending"), time.Minute))

	val, err := s.GetDel(ctx, "state")
	require.NoError(t, err)
	assert.Equal(t, []byte("pending"), val)

	val, err = s.GetDel(ctx, "state")
	require.NoError(t, err)
	assert.Nil(t, val, "second consume must miss")
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "ticktick_tokens:u1", TokenKey("u1"))
	assert.Equal(t, "ticktick_refresh_lock:u1", RefreshLockKey("u1"))
	assert.Equal(t, "ticktick_pending_auth:abc", PendingAuthKey("abc"))
}
