package fastloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTerminal(t *testing.T) {
	assert.True(t, Loop{Status: StatusStopped}.IsTerminal())
	assert.False(t, Loop{Status: StatusRunning}.IsTerminal())
	assert.False(t, Loop{Status: StatusIdle}.IsTerminal())
	assert.False(t, Loop{Status: StatusPaused}.IsTerminal())
}

func TestIdleSinceBoundary(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	lastEvent := now.Add(-30 * time.Second)
	loop := Loop{LastEventAt: lastEvent.Unix(), IdleTimeout: 30}

	assert.True(t, loop.IdleSince(now), "elapsed == idle_timeout must count as idle")
	assert.False(t, loop.IdleSince(lastEvent.Add(29*time.Second)))
	assert.True(t, loop.IdleSince(lastEvent.Add(31*time.Second)))
}

func TestIdleSinceFractionalTimeout(t *testing.T) {
	lastEvent := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	loop := Loop{LastEventAt: lastEvent.Unix(), IdleTimeout: 1.5}
	assert.False(t, loop.IdleSince(lastEvent.Add(time.Second)))
	assert.True(t, loop.IdleSince(lastEvent.Add(2*time.Second)))
}
