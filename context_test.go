package fastloop

import (
	"context"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastloop/fastloop/export"
	"github.com/fastloop/fastloop/metrics"
	"github.com/fastloop/fastloop/state"
)

func queueDepthValue(t *testing.T, loopName, eventType, sender string) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, metrics.QueueDepth.WithLabelValues(loopName, eventType, sender).Write(m))
	return m.GetGauge().GetValue()
}

func newTestContext(t *testing.T) (*LoopContext, state.Store) {
	t.Helper()
	store, err := state.NewMemoryStore()
	require.NoError(t, err)
	rec, _, err := store.GetOrCreateLoop(context.Background(), "pr-review", "", 30)
	require.NoError(t, err)
	return newLoopContext(context.Background(), store, export.Noop{}, "pr-review", rec.ID), store
}

func TestWaitForRejectsNonPositiveTimeout(t *testing.T) {
	lc, _ := newTestContext(t)
	_, err := lc.WaitFor("ChangesApproved", 0, false)
	assert.ErrorIs(t, err, ErrInvalidTimeout)
}

func TestWaitForTimesOutWithoutRaise(t *testing.T) {
	lc, _ := newTestContext(t)
	ev, err := lc.WaitFor("ChangesApproved", 50*time.Millisecond, false)
	assert.NoError(t, err)
	assert.Nil(t, ev)
}

func TestWaitForTimesOutWithRaise(t *testing.T) {
	lc, _ := newTestContext(t)
	_, err := lc.WaitFor("ChangesApproved", 50*time.Millisecond, true)
	assert.ErrorIs(t, err, ErrEventTimeout)
}

func TestWaitForConsumesPreQueuedEvent(t *testing.T) {
	lc, store := newTestContext(t)
	require.NoError(t, store.PushEvent(context.Background(), state.Event{
		LoopID: lc.LoopID(), Type: "ChangesApproved", Sender: state.KindClient,
		Payload: map[string]any{"reviewer": "alice"},
	}))

	ev, err := lc.WaitFor("ChangesApproved", time.Second, true)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, "alice", ev.Payload["reviewer"])
}

func TestWaitForWakesOnLateEvent(t *testing.T) {
	lc, store := newTestContext(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = store.PushEvent(context.Background(), state.Event{
			LoopID: lc.LoopID(), Type: "ChangesApproved", Sender: state.KindClient,
		})
	}()

	ev, err := lc.WaitFor("ChangesApproved", time.Second, true)
	require.NoError(t, err)
	require.NotNil(t, ev)
}

func TestEmitAssignsMonotonicNonces(t *testing.T) {
	lc, store := newTestContext(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, lc.Emit("Progress", map[string]any{"i": i}))
	}

	hist, err := store.GetEventHistory(context.Background(), lc.LoopID())
	require.NoError(t, err)
	require.Len(t, hist, 3)
	assert.Equal(t, int64(1), hist[0].Nonce)
	assert.Equal(t, int64(2), hist[1].Nonce)
	assert.Equal(t, int64(3), hist[2].Nonce)
}

func TestSetGetDeleteRoundTrip(t *testing.T) {
	lc, _ := newTestContext(t)
	require.NoError(t, lc.Set("repo_url", "https://example.com/r", false))

	v, ok, err := lc.Get("repo_url", false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/r", v)

	require.NoError(t, lc.Delete("repo_url", false))
	_, ok, err = lc.Get("repo_url", false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetReadsOwnWriteWithoutStoreRoundTrip(t *testing.T) {
	lc, store := newTestContext(t)
	require.NoError(t, lc.Set("sha1", "abc123", false))

	// Set writes through to the store; removing the durable copy leaves
	// the in-process cache as the only place Get can find the value
	// (spec §5 read-your-writes).
	_, ok, err := store.GetContextValue(context.Background(), lc.LoopID(), "sha1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, store.DeleteContextValue(context.Background(), lc.LoopID(), "sha1"))

	v, ok, err := lc.Get("sha1", false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc123", v)
}

func TestLocalSetNeverPersists(t *testing.T) {
	lc, store := newTestContext(t)
	require.NoError(t, lc.Set("scratch", "ephemeral", true))

	v, ok, err := lc.Get("scratch", false)
	require.NoError(t, err)
	assert.True(t, ok, "local Set should still be visible via the in-process cache")
	assert.Equal(t, "ephemeral", v)

	_, ok, err = store.GetContextValue(context.Background(), lc.LoopID(), "scratch")
	require.NoError(t, err)
	assert.False(t, ok, "local Set must never reach the durable store")
}

func TestLocalGetIgnoresPersistedValue(t *testing.T) {
	lc, store := newTestContext(t)
	require.NoError(t, lc.Set("persisted", "value", false))

	// A fresh LoopContext over the same loop/store, as a later invocation
	// resuming the same loop would be, never sees the persisted value
	// through a local Get.
	lc2 := newLoopContext(context.Background(), store, export.Noop{}, lc.loopName, lc.loopID)
	_, ok, err := lc2.Get("persisted", true)
	require.NoError(t, err)
	assert.False(t, ok, "local Get must not consult the durable store on a cache miss")
}

func TestLocalDeleteLeavesStoreValueIntact(t *testing.T) {
	lc, store := newTestContext(t)
	require.NoError(t, lc.Set("sticky", "kept", false))

	require.NoError(t, lc.Delete("sticky", true))

	_, ok, err := lc.Get("sticky", true)
	require.NoError(t, err)
	assert.False(t, ok, "local Delete clears the in-process cache")

	_, ok, err = store.GetContextValue(context.Background(), lc.LoopID(), "sticky")
	require.NoError(t, err)
	assert.True(t, ok, "local Delete must not touch the durable store")
}

func TestEmitIncrementsServerQueueDepth(t *testing.T) {
	lc, _ := newTestContext(t)
	before := queueDepthValue(t, lc.LoopName(), "Progress", "SERVER")
	require.NoError(t, lc.Emit("Progress", map[string]any{"i": 1}))
	assert.Equal(t, before+1, queueDepthValue(t, lc.LoopName(), "Progress", "SERVER"))
}

func TestWaitForPopDecrementsClientQueueDepth(t *testing.T) {
	lc, store := newTestContext(t)
	metrics.QueueDepth.WithLabelValues(lc.LoopName(), "ChangesApproved", "CLIENT").Inc()
	before := queueDepthValue(t, lc.LoopName(), "ChangesApproved", "CLIENT")

	require.NoError(t, store.PushEvent(context.Background(), state.Event{
		LoopID: lc.LoopID(), Type: "ChangesApproved", Sender: state.KindClient,
	}))
	_, err := lc.WaitFor("ChangesApproved", time.Second, true)
	require.NoError(t, err)

	assert.Equal(t, before-1, queueDepthValue(t, lc.LoopName(), "ChangesApproved", "CLIENT"))
}

func TestSleepIsNotImplemented(t *testing.T) {
	lc, _ := newTestContext(t)
	assert.ErrorIs(t, lc.Sleep(time.Second), ErrNotImplemented)
}

func TestRunOffloadedReturnsResult(t *testing.T) {
	lc, _ := newTestContext(t)
	v, err := lc.RunOffloaded(func() (any, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestStopAndPauseFlags(t *testing.T) {
	lc, _ := newTestContext(t)
	assert.False(t, lc.ShouldStop())
	assert.False(t, lc.ShouldPause())
	lc.Stop()
	assert.True(t, lc.ShouldStop())
	lc.Pause()
	assert.True(t, lc.ShouldPause())
}
