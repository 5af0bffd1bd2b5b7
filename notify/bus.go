// Package notify defines the pluggable change-notification transport used
// by wait_for to cut polling latency: "something changed on loop L".
// Delivery is best-effort — callers always re-check their queues by
// polling regardless of whether a notification arrived — so a missed
// notification never causes a correctness loss.
//
// This mirrors the teacher's Subject/Observer pattern (a registry of
// interested parties notified of named events) narrowed to a single
// per-loop broadcast channel instead of a general pub/sub registry.
package notify

import (
	"context"
	"time"
)

// Subscription represents interest in notifications for a single loop_id.
type Subscription interface {
	// Wait blocks up to timeout for the next notification, returning true
	// if one arrived and false on timeout or context cancellation. False
	// wakeups are permitted.
	Wait(ctx context.Context, timeout time.Duration) bool

	// Close releases the subscription. Idempotent.
	Close() error
}

// Bus is the notification transport abstraction. Realizations: Redis
// pub/sub (the default, reusing the StateManager's connection) and NATS
// (for deployments that already run a NATS core for other services).
type Bus interface {
	// Subscribe registers interest in notifications for loopID.
	Subscribe(ctx context.Context, loopID string) (Subscription, error)

	// Publish announces a change on loopID to any current subscribers.
	Publish(ctx context.Context, loopID string) error

	// Close releases transport resources.
	Close() error
}
