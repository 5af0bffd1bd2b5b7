package fastloop

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/fastloop/fastloop/metrics"
	"github.com/fastloop/fastloop/state"
)

// LoopMonitor periodically sweeps RUNNING loops and reclassifies any that
// have been quiescent for at least their idle_timeout as IDLE. It never
// transitions a loop to PAUSED — that transition is reachable only via an
// explicit handler-requested context.Pause() (spec §4.4 Open Question,
// resolved; see DESIGN.md).
type LoopMonitor struct {
	store    state.Store
	interval time.Duration
	logger   *slog.Logger
}

// NewLoopMonitor constructs a LoopMonitor that sweeps every interval.
func NewLoopMonitor(store state.Store, interval time.Duration, logger *slog.Logger) *LoopMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoopMonitor{store: store, interval: interval, logger: logger}
}

// Run sweeps on a ticker until ctx is cancelled.
func (m *LoopMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

func (m *LoopMonitor) sweep(ctx context.Context) {
	recs, err := m.store.GetAllLoops(ctx, string(StatusRunning))
	if err != nil {
		m.logger.Error("monitor: list running loops failed", "error", err)
		return
	}

	now := time.Now()
	for _, rec := range recs {
		loop := Loop{
			ID:          rec.ID,
			Name:        rec.Name,
			Status:      Status(rec.Status),
			IdleTimeout: rec.IdleTimeout,
			LastEventAt: rec.LastEventAt,
			CreatedAt:   rec.CreatedAt,
		}
		if !loop.IdleSince(now) {
			continue
		}
		m.markIdle(ctx, rec)
	}
}

func (m *LoopMonitor) markIdle(ctx context.Context, rec state.Record) {
	release, err := m.store.WithClaim(ctx, rec.ID)
	if err != nil {
		if errors.Is(err, state.ErrClaimTimeout) {
			// A handler invocation currently holds the claim; the loop is
			// left as it is and reconsidered on the next sweep. Skipping
			// here, rather than retrying, avoids the monitor competing
			// with live handler work for claim acquisition.
			return
		}
		m.logger.Error("monitor: claim acquisition failed", "loop_id", rec.ID, "error", err)
		return
	}
	defer release()

	// Re-fetch under the claim: the record may have changed between the
	// sweep's list and this loop's turn.
	fresh, err := m.store.GetLoop(ctx, rec.ID)
	if err != nil {
		m.logger.Error("monitor: get loop failed", "loop_id", rec.ID, "error", err)
		return
	}
	if fresh.Status != string(StatusRunning) {
		return
	}

	fresh.Status = string(StatusIdle)
	if err := m.store.UpdateLoop(ctx, fresh); err != nil {
		m.logger.Error("monitor: update loop failed", "loop_id", rec.ID, "error", err)
		return
	}
	metrics.LoopsIdleTotal.WithLabelValues(rec.Name).Inc()
	m.logger.Debug("loop reclassified idle", "loop_name", rec.Name, "loop_id", rec.ID)
}
