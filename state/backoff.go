package state

import (
	"context"
	"time"
)

// retryBackoff bounds the number of attempts and the per-attempt delay
// used to ride out a transient backend failure (a dropped connection, a
// momentary DNS blip) without immediately reporting the backend
// unreachable. Mirrors the example pack's reverseproxy submodule's
// max_retries/retry_delay config shape, but as a fixed local policy since
// FastLoop's StateManager has no per-call retry configuration surface.
const (
	retryAttempts  = 3
	retryBaseDelay = 25 * time.Millisecond
)

// withBackoffRetry calls fn up to retryAttempts times, doubling the delay
// between attempts, and returns the last error if every attempt fails.
// Used only for idempotent, side-effect-free calls (Ping, claim
// acquisition) where retrying a failed attempt cannot duplicate work.
func withBackoffRetry(ctx context.Context, fn func() error) error {
	delay := retryBaseDelay
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == retryAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
