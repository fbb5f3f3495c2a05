package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/storefront/internal/sqliteutil"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func adapters(t *testing.T) map[string]Storage {
	t.Helper()

	db, err := sqliteutil.Open(sqliteutil.Memory)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sqlite := NewSQLite(db)
	require.NoError(t, sqlite.Init(context.Background()))

	_, client := setupTestRedis(t)

	return map[string]Storage{
		"memory": NewMemory(),
		"sqlite": sqlite,
		"redis":  NewRedis(client, WithPrefix("test:")),
	}
}

func TestStorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range adapters(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Load(ctx, CartKey)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Save(ctx, CartKey, []byte(`{"items":[]}`)))
			require.NoError(t, s.Save(ctx, CartKey, []byte(`{"items":[1]}`)))

			got, err := s.Load(ctx, CartKey)
			require.NoError(t, err)
			assert.Equal(t, `{"items":[1]}`, string(got))

			_, err = s.Load(ctx, WishlistKey)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Delete(ctx, CartKey))
			require.NoError(t, s.Delete(ctx, CartKey))
			_, err = s.Load(ctx, CartKey)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestMemoryCopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	buf := []byte("abc")
	require.NoError(t, m.Save(ctx, "k", buf))
	buf[0] = 'x'

	got, err := m.Load(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestRedisPrefixAndTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	r := NewRedis(client, WithPrefix("shop:"), WithTTL(time.Hour))

	require.NoError(t, r.Save(context.Background(), WishlistKey, []byte(`{"items":["a"]}`)))

	assert.True(t, mr.Exists("shop:"+WishlistKey))
	assert.Equal(t, time.Hour, mr.TTL("shop:"+WishlistKey))
}
