package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisBus(t *testing.T) *RedisBus {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisBus(client, "fastloop-test")
}

func TestRedisBusPublishWakesSubscriber(t *testing.T) {
	bus := newTestRedisBus(t)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "loop-1")
	require.NoError(t, err)
	defer sub.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = bus.Publish(ctx, "loop-1")
	}()

	assert.True(t, sub.Wait(ctx, time.Second))
}

func TestRedisBusWaitTimesOutWithoutPublish(t *testing.T) {
	bus := newTestRedisBus(t)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "loop-2")
	require.NoError(t, err)
	defer sub.Close()

	assert.False(t, sub.Wait(ctx, 30*time.Millisecond))
}

// startTestNATSServer starts an embedded NATS server on a random port and
// shuts it down when the test completes.
func startTestNATSServer(t *testing.T) string {
	t.Helper()

	srv, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	})
	require.NoError(t, err, "failed to create embedded NATS server")

	srv.Start()
	t.Cleanup(srv.Shutdown)

	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS server failed to become ready")
	}
	return srv.ClientURL()
}

func newTestNATSBus(t *testing.T) *NATSBus {
	t.Helper()
	url := startTestNATSServer(t)
	conn, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(conn.Close)
	return NewNATSBus(conn, "")
}

func TestNATSBusPublishWakesSubscriber(t *testing.T) {
	bus := newTestNATSBus(t)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "loop-1")
	require.NoError(t, err)
	defer sub.Close()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = bus.Publish(ctx, "loop-1")
	}()

	assert.True(t, sub.Wait(ctx, time.Second))
}

func TestNATSBusWaitTimesOutWithoutPublish(t *testing.T) {
	bus := newTestNATSBus(t)
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx, "loop-2")
	require.NoError(t, err)
	defer sub.Close()

	assert.False(t, sub.Wait(ctx, 30*time.Millisecond))
}

func TestNATSBusDefaultSubjectPrefix(t *testing.T) {
	bus := NewNATSBus(nil, "")
	assert.Equal(t, "fastloop.notify.loop-1", bus.subject("loop-1"))
}
