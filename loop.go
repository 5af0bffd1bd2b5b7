package fastloop

import "time"

// Status is the lifecycle state of a Loop.
type Status string

const (
	// StatusRunning means a handler invocation is either actively executing
	// or eligible to be started/resumed on the next matching event.
	StatusRunning Status = "RUNNING"

	// StatusIdle means the loop's handler returned naturally and is waiting
	// to be woken by the next event of its registered start type, or has
	// been reclassified as idle by the LoopMonitor after a period of
	// inactivity.
	StatusIdle Status = "IDLE"

	// StatusPaused means the handler explicitly requested a pause via
	// context.Pause(). Paused loops still accept events; a new invocation
	// of the handler resumes processing.
	StatusPaused Status = "PAUSED"

	// StatusStopped is terminal. Ingress for a stopped loop is rejected by
	// the dispatcher with a validation error.
	StatusStopped Status = "STOPPED"
)

// Loop is a durable session bound to a registered handler. Exactly one
// claim holder may execute a loop's handler at any moment; status writes
// only occur under that claim.
type Loop struct {
	ID           string  `json:"loop_id"`
	Name         string  `json:"loop_name"`
	Status       Status  `json:"status"`
	IdleTimeout  float64 `json:"idle_timeout"`
	LastEventAt  int64   `json:"last_event_at"`
	CreatedAt    int64   `json:"created_at,omitempty"`
}

// IsTerminal reports whether the loop can never resume processing again.
func (l Loop) IsTerminal() bool {
	return l.Status == StatusStopped
}

// IdleSince reports whether the loop has been quiescent for at least its
// idle timeout as of now. It is the single predicate the LoopMonitor uses
// to decide candidacy for an IDLE transition, and is exercised directly by
// its property tests (spec boundary case: fires iff now-last_event_at >=
// idle_timeout).
func (l Loop) IdleSince(now time.Time) bool {
	deadline := time.Unix(l.LastEventAt, 0).Add(time.Duration(l.IdleTimeout * float64(time.Second)))
	return !now.Before(deadline)
}
