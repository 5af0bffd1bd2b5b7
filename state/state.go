// Package state defines the StateManager abstraction: the durable store for
// loops, event queues, event history, context key/value entries, claims,
// and change notifications. MemoryStore and RedisStore are the two shipped
// realizations; any backend that implements Store may be substituted.
package state

import (
	"context"
	"errors"
	"time"

	"github.com/fastloop/fastloop/codec"
)

// Sentinel errors. Backend realizations wrap these with %w so callers can
// errors.Is regardless of which Store implementation is in use.
var (
	ErrUnreachable  = errors.New("state: backend unreachable")
	ErrClaimTimeout = errors.New("state: claim acquisition timed out")
	ErrNotFound     = errors.New("state: not found")
)

// EventKind distinguishes which direction-specific queue an event belongs
// to: CLIENT events arrive from the dispatcher, SERVER events are emitted
// by a handler via LoopContext.Emit.
type EventKind string

const (
	KindClient EventKind = "CLIENT"
	KindServer EventKind = "SERVER"
)

// Record is the durable representation of a Loop. It intentionally mirrors
// the JSON shape described in the spec's persisted-state layout so the
// Redis realization can serialize it directly.
type Record struct {
	ID          string  `json:"loop_id"`
	Name        string  `json:"loop_name"`
	Status      string  `json:"status"`
	IdleTimeout float64 `json:"idle_timeout"`
	LastEventAt int64   `json:"last_event_at"`
	CreatedAt   int64   `json:"created_at,omitempty"`
}

// Event is the durable representation of a LoopEvent. Payload is a generic
// JSON-shaped map, so the Store never needs to know the shape of any
// registered event type; both realizations pass events through
// encoding/json, so numbers read back as float64.
type Event struct {
	Type      string          `json:"type"`
	LoopID    string          `json:"loop_id,omitempty"`
	Sender    EventKind       `json:"sender"`
	Nonce     int64           `json:"nonce,omitempty"`
	Payload   map[string]any  `json:"payload,omitempty"`
	CreatedAt int64           `json:"created_at"`
}

// Subscription represents interest in change notifications for a single
// loop_id, registered with SubscribeToEvents and polled with
// WaitForEventNotification. Delivery is best-effort: a missed notification
// never causes a correctness loss because callers re-check their queues by
// polling regardless.
type Subscription interface {
	// Close releases the subscription's resources. Idempotent.
	Close() error
}

// Release is returned by WithClaim's acquisition step; calling it releases
// the claim. It is always safe to call exactly once, and callers must do
// so on every exit path (defer release()).
type Release func()

// Store is the durable backend abstraction. All operations are safe for
// concurrent use by multiple goroutines and, for the Redis realization,
// multiple processes.
type Store interface {
	// GetOrCreateLoop returns the existing loop record for loopID if one
	// exists (created=false, idleTimeout/name ignored), otherwise
	// generates a fresh loop_id, persists a RUNNING record, and returns it
	// with created=true.
	GetOrCreateLoop(ctx context.Context, loopName string, loopID string, idleTimeout float64) (Record, bool, error)

	// UpdateLoop overwrites the full loop record. Must be called while
	// holding the loop's claim.
	UpdateLoop(ctx context.Context, rec Record) error

	// GetLoop fetches a single loop record.
	GetLoop(ctx context.Context, loopID string) (Record, error)

	// GetAllLoops enumerates known loops, optionally filtered by status
	// ("" means no filter). Stale index entries are lazily dropped.
	GetAllLoops(ctx context.Context, status string) ([]Record, error)

	// WithClaim acquires the per-loop exclusion token (60s TTL, 5s
	// acquisition timeout by default) and returns a Release func that must
	// be called on every exit path. Returns ErrClaimTimeout, wrapped, if
	// the claim could not be acquired within the acquisition timeout or
	// before ctx ended (ctx.Err() is wrapped as well in that case).
	WithClaim(ctx context.Context, loopID string) (Release, error)

	// PushEvent appends event to the direction-specific queue keyed by
	// (loop_id, type, sender), appends it to the history log, updates
	// last_event_at, and publishes a change notification — as one
	// atomic-from-a-reader's-perspective effect set.
	PushEvent(ctx context.Context, event Event) error

	// PopEvent removes and returns the oldest event of kind/sender for
	// loopID, or ErrNotFound if the queue is empty. FIFO within the
	// (loop_id, type, sender) tuple only.
	PopEvent(ctx context.Context, loopID, eventType string, sender EventKind) (Event, error)

	// GetEventHistory returns the full append-order history log for a loop.
	GetEventHistory(ctx context.Context, loopID string) ([]Event, error)

	// GetNextNonce returns a monotonically increasing per-loop counter,
	// used only for SERVER-emitted events.
	GetNextNonce(ctx context.Context, loopID string) (int64, error)

	// GetContextValue, SetContextValue, DeleteContextValue persist opaque
	// binary values keyed by (loop_id, key). Values round-trip through
	// package codec.
	GetContextValue(ctx context.Context, loopID, key string) ([]byte, bool, error)
	SetContextValue(ctx context.Context, loopID, key string, value []byte) error
	DeleteContextValue(ctx context.Context, loopID, key string) error

	// SubscribeToEvents registers interest in change notifications for a
	// single loop_id.
	SubscribeToEvents(ctx context.Context, loopID string) (Subscription, error)

	// WaitForEventNotification blocks up to timeout for the next
	// notification on sub, or returns false on timeout. False wakeups are
	// allowed; callers must re-check their queues regardless of the
	// return value.
	WaitForEventNotification(ctx context.Context, sub Subscription, timeout time.Duration) bool

	// SetLoopMapping / GetLoopMapping maintain a side index from an
	// external key (e.g. a chat thread id) to a loop_id, used by
	// out-of-core integrations.
	SetLoopMapping(ctx context.Context, externalKey, loopID string) error
	GetLoopMapping(ctx context.Context, externalKey string) (string, bool, error)

	// Ping verifies the backend is reachable, used by the /healthz route.
	Ping(ctx context.Context) error

	// Close releases backend resources (connections, goroutines).
	Close() error
}

// EncodeValue and DecodeValue expose package codec's wire format to Store
// implementations and to LoopContext, so every caller of Set/Get goes
// through the same opaque binary codec regardless of backend.
func EncodeValue(v any) ([]byte, error) { return codec.Marshal(v) }
func DecodeValue(b []byte) (any, error) { return codec.Unmarshal(b) }
