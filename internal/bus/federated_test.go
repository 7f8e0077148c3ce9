package bus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyphahub/msghub/internal/broker"
)

func setupFederatedTest(t *testing.T) *Federated {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	kv, err := broker.NewRedis(broker.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f, err := NewFederated(ctx, kv)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func TestFederatedEmitDispatchesLocally(t *testing.T) {
	f := setupFederatedTest(t)
	got := make(chan any, 1)
	f.OnLocal("client_deleted", func(payload any) error {
		got <- payload
		return nil
	})

	require.NoError(t, f.Emit(context.Background(), "client_deleted", map[string]any{"client_id": "c1"}))

	select {
	case payload := <-got:
		m, ok := payload.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "c1", m["client_id"])
	case <-time.After(time.Second):
		t.Fatal("local handler never fired")
	}
}

func TestFederatedEmitRoundTripsThroughBroker(t *testing.T) {
	f := setupFederatedTest(t)
	got := make(chan any, 1)
	f.On("client_deleted", func(payload any) error {
		got <- payload
		return nil
	})

	require.NoError(t, f.Emit(context.Background(), "client_deleted", "c1"))

	select {
	case payload := <-got:
		assert.Equal(t, "c1", payload)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never observed the broker round trip")
	}
}

func TestFederatedEmitInfersBytesKind(t *testing.T) {
	f := setupFederatedTest(t)
	got := make(chan any, 1)
	f.On("raw", func(payload any) error {
		got <- payload
		return nil
	})

	require.NoError(t, f.Emit(context.Background(), "raw", []byte("binary")))

	select {
	case payload := <-got:
		assert.Equal(t, []byte("binary"), payload)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never observed the bytes round trip")
	}
}

func TestFederatedOnLocalDoesNotFireForRemoteOnlyPublish(t *testing.T) {
	f := setupFederatedTest(t)
	fired := make(chan struct{}, 1)
	f.OnLocal("server_event", func(payload any) error {
		fired <- struct{}{}
		return nil
	})

	require.NoError(t, f.kv.Publish(context.Background(), "event:s:server_event", []byte("x")))

	select {
	case <-fired:
		t.Fatal("OnLocal handler fired for a broker-only publish")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFederatedWaitForRacesBothBuses(t *testing.T) {
	f := setupFederatedTest(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		f.EmitLocal("ready", "go")
	}()

	payload, err := f.WaitFor(ctx, "ready", nil)
	require.NoError(t, err)
	assert.Equal(t, "go", payload)
}
