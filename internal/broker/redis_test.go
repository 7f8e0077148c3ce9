package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

// setupRedisBrokerTest spins up a fake Redis server and dials a real
// redisBroker against it, the way the teacher's agent hub tests wire
// miniredis into go-redis rather than hitting a live instance.
func setupRedisBrokerTest(t *testing.T) Broker {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	b, err := NewRedis(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestRedisBrokerPublishSubscribe(t *testing.T) {
	b := setupRedisBrokerTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub, err := b.Subscribe(ctx, "room/1:msg")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, b.Publish(ctx, "room/1:msg", []byte("hello")))

	select {
	case msg := <-sub.Messages():
		require.Equal(t, "room/1:msg", msg.Channel)
		require.Equal(t, []byte("hello"), msg.Payload)
	case <-ctx.Done():
		t.Fatal("timed out waiting for published message")
	}
}

func TestRedisBrokerPSubscribeMatchesWildcard(t *testing.T) {
	b := setupRedisBrokerTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub, err := b.PSubscribe(ctx, "event:*")
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, b.Publish(ctx, "event:d:client_deleted", []byte(`{}`)))

	select {
	case msg := <-sub.Messages():
		require.Equal(t, "event:d:client_deleted", msg.Channel)
	case <-ctx.Done():
		t.Fatal("timed out waiting for pattern-matched message")
	}
}

func TestRedisBrokerKeyValueRoundTrip(t *testing.T) {
	b := setupRedisBrokerTest(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "ws:acme", []byte(`{"name":"acme"}`)))

	got, err := b.Get(ctx, "ws:acme")
	require.NoError(t, err)
	require.Equal(t, `{"name":"acme"}`, string(got))

	require.NoError(t, b.Delete(ctx, "ws:acme"))

	_, err = b.Get(ctx, "ws:acme")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisBrokerKeysListsMatches(t *testing.T) {
	b := setupRedisBrokerTest(t)
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "client:acme:c1", []byte("1")))
	require.NoError(t, b.Set(ctx, "client:acme:c2", []byte("2")))
	require.NoError(t, b.Set(ctx, "client:other:c3", []byte("3")))

	keys, err := b.Keys(ctx, "client:acme:*")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"client:acme:c1", "client:acme:c2"}, keys)
}

func TestRedisBrokerGetMissingKeyIsNotFound(t *testing.T) {
	b := setupRedisBrokerTest(t)
	_, err := b.Get(context.Background(), "does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}
