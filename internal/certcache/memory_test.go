package certcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/interceptproxy/internal/certauthority"
)

func fakeCert(host string) *certauthority.Certificate {
	return &certauthority.Certificate{SubjectHost: host}
}

func TestMemoryStoreGetPutRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)

	_, ok := store.Get(ctx, "example.test")
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, "example.test", fakeCert("example.test"), time.Hour))

	got, ok := store.Get(ctx, "example.test")
	require.True(t, ok)
	assert.Equal(t, "example.test", got.SubjectHost)
}

func TestMemoryStoreExpiredEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)

	require.NoError(t, store.Put(ctx, "expired.test", fakeCert("expired.test"), -time.Second))

	_, ok := store.Get(ctx, "expired.test")
	assert.False(t, ok, "an entry past its expiry must never be served")
	assert.Equal(t, 0, store.Info().Size, "expired entries are cleaned up opportunistically on get")
}

func TestMemoryStoreEvictsOldestWhenOverCapacity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(2)

	require.NoError(t, store.Put(ctx, "a.test", fakeCert("a.test"), time.Hour))
	time.Sleep(time.Millisecond)
	require.NoError(t, store.Put(ctx, "b.test", fakeCert("b.test"), time.Hour))
	time.Sleep(time.Millisecond)
	require.NoError(t, store.Put(ctx, "c.test", fakeCert("c.test"), time.Hour))

	assert.Equal(t, 2, store.Info().Size)
	_, ok := store.Get(ctx, "a.test")
	assert.False(t, ok, "the oldest entry must be evicted once max_entries is exceeded")
	_, ok = store.Get(ctx, "c.test")
	assert.True(t, ok)
}

func TestMemoryStoreRemoveAndClear(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(10)
	require.NoError(t, store.Put(ctx, "a.test", fakeCert("a.test"), time.Hour))
	require.NoError(t, store.Put(ctx, "b.test", fakeCert("b.test"), time.Hour))

	require.NoError(t, store.Remove(ctx, "a.test"))
	_, ok := store.Get(ctx, "a.test")
	assert.False(t, ok)

	require.NoError(t, store.Clear(ctx))
	assert.Equal(t, 0, store.Info().Size)
}
