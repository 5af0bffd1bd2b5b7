package fastloop

import "errors"

// Error kinds surfaced by the runtime. Callers should use errors.Is/errors.As
// rather than comparing error strings; backend realizations wrap these with
// additional context via fmt.Errorf("...: %w", ...).
var (
	// ErrValidation covers malformed ingress events: unknown type, payload
	// that fails its registered schema, or a non-start type on a loop with
	// no prior identity. Never retried server-side.
	ErrValidation = errors.New("fastloop: validation error")

	// ErrLoopStopped is returned by the dispatcher when an event targets a
	// loop whose status is already STOPPED, and raised inside wait_for when
	// a handler's own stop flag becomes true mid-suspension.
	ErrLoopStopped = errors.New("fastloop: loop is stopped")

	// ErrLoopPaused is raised inside wait_for when the context's pause flag
	// becomes true while suspended.
	ErrLoopPaused = errors.New("fastloop: loop is paused")

	// ErrEventTimeout is raised by wait_for when raise_on_timeout is true
	// and no matching event arrived within the requested timeout.
	ErrEventTimeout = errors.New("fastloop: wait_for timed out")

	// ErrClaimUnavailable names the claim-timeout condition, but no runtime
	// code path returns it: LoopManager and LoopMonitor detect claim
	// timeouts through state.ErrClaimTimeout and skip the invocation or
	// the loop for that cycle.
	ErrClaimUnavailable = errors.New("fastloop: could not acquire loop claim")

	// ErrBackend covers StateManager unreachability or inconsistency.
	ErrBackend = errors.New("fastloop: backend error")

	// ErrLoopNotFound names the missing-loop condition, but no runtime code
	// path returns it: an ingress event carrying an unknown loop_id gets a
	// freshly created loop instead.
	ErrLoopNotFound = errors.New("fastloop: loop not found")

	// ErrNotImplemented marks interface members declared for forward
	// compatibility but without a specified contract yet.
	ErrNotImplemented = errors.New("fastloop: not implemented")

	// ErrInvalidTimeout is returned by wait_for when timeout <= 0.
	ErrInvalidTimeout = errors.New("fastloop: timeout must be positive")
)
