package fastloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fastloop/fastloop/codec"
	"github.com/fastloop/fastloop/export"
	"github.com/fastloop/fastloop/metrics"
	"github.com/fastloop/fastloop/state"
)

// pollFallback bounds how long wait_for ever blocks on a single
// notification wait before re-checking its deadline and queue, tolerating
// a lost notification without busy-looping (spec §9 coroutine note).
const pollFallback = time.Second

// LoopContext is the per-invocation handle a handler uses to suspend on
// events, emit events, persist keyed values, and request a lifecycle
// transition. One LoopContext is constructed per handler invocation by
// LoopManager and must not be retained past the handler's return.
type LoopContext struct {
	ctx      context.Context
	store    state.Store
	exporter export.Exporter
	loopName string
	loopID   string

	stopRequested  atomic.Bool
	pauseRequested atomic.Bool

	localMu  sync.Mutex
	localMap map[string]any
}

func newLoopContext(ctx context.Context, store state.Store, exporter export.Exporter, loopName, loopID string) *LoopContext {
	return &LoopContext{ctx: ctx, store: store, exporter: exporter, loopName: loopName, loopID: loopID, localMap: make(map[string]any)}
}

// LoopID returns the durable identity of the loop this context belongs to.
func (c *LoopContext) LoopID() string { return c.loopID }

// LoopName returns the registered loop name this context belongs to.
func (c *LoopContext) LoopName() string { return c.loopName }

// ShouldStop and ShouldPause report the current values of the stop/pause
// request flags, observed by LoopManager between handler iterations and
// by WaitFor between event pops (spec §4.2/§5 suspension contract).
func (c *LoopContext) ShouldStop() bool  { return c.stopRequested.Load() }
func (c *LoopContext) ShouldPause() bool { return c.pauseRequested.Load() }

// Stop requests that the loop transition to STOPPED once the handler
// reaches its next suspension point or returns.
func (c *LoopContext) Stop() { c.stopRequested.Store(true) }

// Pause requests that the loop transition to PAUSED once the handler
// reaches its next suspension point or returns.
func (c *LoopContext) Pause() { c.pauseRequested.Store(true) }

// WaitFor blocks for the next CLIENT event of eventType, waking either on
// a change notification or the pollFallback interval, re-checking the
// queue each time. If raiseOnTimeout is false, a nil Event and nil error
// are returned on timeout; if true, ErrEventTimeout is returned. A
// timeout of zero or negative is a validation error (spec §8 edge case).
func (c *LoopContext) WaitFor(eventType string, timeout time.Duration, raiseOnTimeout bool) (*Event, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: wait_for requires timeout > 0", ErrInvalidTimeout)
	}

	// An event may already be queued from before this invocation
	// suspended (spec §8 resume scenario); check before subscribing.
	if ev, ok, err := c.popClientEvent(eventType); err != nil {
		return nil, err
	} else if ok {
		return ev, nil
	}

	sub, err := c.store.SubscribeToEvents(c.ctx, c.loopID)
	if err != nil {
		return nil, fmt.Errorf("fastloop: wait_for subscribe: %w: %w", ErrBackend, err)
	}
	defer sub.Close()

	deadline := time.Now().Add(timeout)
	for {
		if c.stopRequested.Load() {
			return nil, ErrLoopStopped
		}
		if c.pauseRequested.Load() {
			return nil, ErrLoopPaused
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			if raiseOnTimeout {
				return nil, ErrEventTimeout
			}
			return nil, nil
		}
		wait := remaining
		if wait > pollFallback {
			wait = pollFallback
		}

		c.store.WaitForEventNotification(c.ctx, sub, wait)

		if ev, ok, err := c.popClientEvent(eventType); err != nil {
			return nil, err
		} else if ok {
			return ev, nil
		}
		if err := c.ctx.Err(); err != nil {
			return nil, err
		}
	}
}

func (c *LoopContext) popClientEvent(eventType string) (*Event, bool, error) {
	ev, err := c.store.PopEvent(c.ctx, c.loopID, eventType, state.KindClient)
	if errors.Is(err, state.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("fastloop: wait_for pop: %w: %w", ErrBackend, err)
	}
	metrics.QueueDepth.WithLabelValues(c.loopName, eventType, "CLIENT").Dec()
	out := fromStateEvent(ev)
	return &out, true, nil
}

// Emit tags payload with sender=SERVER, the current loop_id, and a
// freshly assigned nonce, then pushes it to the server-direction queue
// and history log. If an EventExporter is configured it is offered the
// event best-effort afterward; export failures never surface here.
func (c *LoopContext) Emit(eventType string, payload map[string]any) error {
	nonce, err := c.store.GetNextNonce(c.ctx, c.loopID)
	if err != nil {
		return fmt.Errorf("fastloop: emit nonce: %w: %w", ErrBackend, err)
	}

	ev := state.Event{
		Type:      eventType,
		LoopID:    c.loopID,
		Sender:    state.KindServer,
		Nonce:     nonce,
		Payload:   payload,
		CreatedAt: time.Now().Unix(),
	}
	if err := c.store.PushEvent(c.ctx, ev); err != nil {
		return fmt.Errorf("fastloop: emit push: %w: %w", ErrBackend, err)
	}
	metrics.EventsEmittedTotal.WithLabelValues(c.loopName, eventType, "SERVER").Inc()
	metrics.QueueDepth.WithLabelValues(c.loopName, eventType, "SERVER").Inc()

	if c.exporter != nil {
		exportCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if exportErr := c.exporter.Export(exportCtx, codec.Event{
			Type: eventType, LoopID: c.loopID, Sender: string(state.KindServer),
			Nonce: nonce, Payload: payload, CreatedAt: ev.CreatedAt,
		}); exportErr != nil {
			metrics.ExportFailuresTotal.WithLabelValues("configured").Inc()
		}
	}
	return nil
}

// Get reads key, consulting the in-process attribute cache first so a
// handler observes its own prior Set within the same invocation even
// when local is false and the durable write has not round-tripped
// (spec §5 read-your-writes). If local is true, the store is never
// consulted: a cache miss is reported as absent regardless of any
// durably persisted value. Values found in the store are cached before
// being returned, round-tripped through the codec so any value Set
// accepted decodes back to its original shape.
func (c *LoopContext) Get(key string, local bool) (any, bool, error) {
	c.localMu.Lock()
	if v, ok := c.localMap[key]; ok {
		c.localMu.Unlock()
		return v, true, nil
	}
	c.localMu.Unlock()

	if local {
		return nil, false, nil
	}

	raw, ok, err := c.store.GetContextValue(c.ctx, c.loopID, key)
	if err != nil {
		return nil, false, fmt.Errorf("fastloop: get %q: %w: %w", key, ErrBackend, err)
	}
	if !ok {
		return nil, false, nil
	}
	v, err := state.DecodeValue(raw)
	if err != nil {
		return nil, false, fmt.Errorf("fastloop: decode %q: %w", key, err)
	}

	c.localMu.Lock()
	c.localMap[key] = v
	c.localMu.Unlock()
	return v, true, nil
}

// Set assigns value to the in-process attribute cache and, unless local
// is true, also persists it to the context store, encoded with the
// opaque binary codec.
func (c *LoopContext) Set(key string, value any, local bool) error {
	c.localMu.Lock()
	c.localMap[key] = value
	c.localMu.Unlock()

	if local {
		return nil
	}

	raw, err := state.EncodeValue(value)
	if err != nil {
		return fmt.Errorf("fastloop: encode %q: %w", key, err)
	}
	if err := c.store.SetContextValue(c.ctx, c.loopID, key, raw); err != nil {
		return fmt.Errorf("fastloop: set %q: %w: %w", key, ErrBackend, err)
	}
	return nil
}

// Delete removes key from the in-process attribute cache and, unless
// local is true, from the context store as well. Deleting an absent key
// is not an error.
func (c *LoopContext) Delete(key string, local bool) error {
	c.localMu.Lock()
	delete(c.localMap, key)
	c.localMu.Unlock()

	if local {
		return nil
	}

	if err := c.store.DeleteContextValue(c.ctx, c.loopID, key); err != nil {
		return fmt.Errorf("fastloop: delete %q: %w: %w", key, ErrBackend, err)
	}
	return nil
}

// Sleep is declared for interface completeness but, like the original
// source it mirrors, is never implemented; see DESIGN.md.
func (c *LoopContext) Sleep(time.Duration) error {
	return ErrNotImplemented
}

// RunOffloaded executes fn on a new goroutine (one per call; there is no
// pool or concurrency bound) and blocks the handler's coroutine until it
// completes — a suspension point, not a fire-and-forget dispatch. If the
// invocation's context is cancelled first, RunOffloaded returns its error
// immediately and fn keeps running to completion in the background.
// Intended for CPU-bound steps (diffing, rendering).
func (c *LoopContext) RunOffloaded(fn func() (any, error)) (any, error) {
	type result struct {
		val any
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		v, err := fn()
		resultCh <- result{v, err}
	}()
	select {
	case r := <-resultCh:
		return r.val, r.err
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
}

func fromStateEvent(ev state.Event) Event {
	return Event{
		Type:      ev.Type,
		LoopID:    ev.LoopID,
		Sender:    Sender(ev.Sender),
		Nonce:     ev.Nonce,
		Payload:   ev.Payload,
		CreatedAt: time.Unix(ev.CreatedAt, 0),
	}
}

func toStateEvent(ev Event) state.Event {
	return state.Event{
		Type:      ev.Type,
		LoopID:    ev.LoopID,
		Sender:    state.EventKind(ev.Sender),
		Nonce:     ev.Nonce,
		Payload:   ev.Payload,
		CreatedAt: ev.CreatedAt.Unix(),
	}
}
