package fastloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEventDefaults(t *testing.T) {
	ev := NewEvent("pr_opened", map[string]any{"sha1": "abc"})
	assert.Equal(t, "pr_opened", ev.Type)
	assert.Equal(t, SenderClient, ev.Sender)
	assert.Equal(t, "abc", ev.Payload["sha1"])
	assert.False(t, ev.CreatedAt.IsZero())
}

func TestCloudEventRoundTrip(t *testing.T) {
	ev := Event{
		Type:      "ChangesApproved",
		LoopID:    "loop-1",
		Sender:    SenderServer,
		Nonce:     7,
		Payload:   map[string]any{"reviewer": "alice"},
		CreatedAt: time.Now().Truncate(time.Second),
	}

	ce := ev.ToCloudEvent("fastloop")
	back, err := EventFromCloudEvent(ce)
	require.NoError(t, err)

	assert.Equal(t, ev.Type, back.Type)
	assert.Equal(t, ev.LoopID, back.LoopID)
	assert.Equal(t, ev.Sender, back.Sender)
	assert.Equal(t, ev.Nonce, back.Nonce)
	assert.Equal(t, ev.Payload["reviewer"], back.Payload["reviewer"])
	assert.True(t, ev.CreatedAt.Equal(back.CreatedAt))
}

func TestCloudEventRoundTripNoNonce(t *testing.T) {
	ev := Event{
		Type:      "pr_opened",
		Sender:    SenderClient,
		CreatedAt: time.Now().Truncate(time.Second),
	}
	ce := ev.ToCloudEvent("fastloop")
	back, err := EventFromCloudEvent(ce)
	require.NoError(t, err)
	assert.Equal(t, int64(0), back.Nonce)
}

func TestEventJSONRoundTrip(t *testing.T) {
	ev := Event{
		Type:      "msg",
		LoopID:    "loop-1",
		Sender:    SenderClient,
		Payload:   map[string]any{"n": float64(3)},
		CreatedAt: time.Now().Truncate(time.Second),
	}
	data, err := ev.toJSON()
	require.NoError(t, err)
	back, err := eventFromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, ev.Type, back.Type)
	assert.Equal(t, ev.Payload["n"], back.Payload["n"])
}
